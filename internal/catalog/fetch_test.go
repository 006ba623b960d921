package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPFetcherFetch(t *testing.T) {
	body := `{
		"version": 1,
		"addons": [
			{
				"id": "sample-airport",
				"channels": {
					"stable": {
						"version": "1.2.0",
						"downloadUrl": "https://example.com/sample-airport-1.2.0.zip",
						"digestHex": "AABB",
						"expectedPackageFolders": ["sample-airport-scenery"]
					}
				}
			}
		]
	}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != userAgent {
			t.Errorf("unexpected User-Agent: %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(server.URL)
	cat, err := fetcher.Fetch(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}

	ch, err := cat.Resolve("sample-airport", ChannelStable)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if ch.Version != "1.2.0" {
		t.Errorf("version = %q, want 1.2.0", ch.Version)
	}
	if len(ch.ExpectedPackageFolders) != 1 || ch.ExpectedPackageFolders[0] != "sample-airport-scenery" {
		t.Errorf("unexpected expected folders: %v", ch.ExpectedPackageFolders)
	}
}

func TestHTTPFetcherNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(server.URL)
	if _, err := fetcher.Fetch(context.Background()); err == nil {
		t.Fatal("expected error on 404")
	}
}

func TestHTTPFetcherBadJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("{not json"))
	}))
	defer server.Close()

	fetcher := NewHTTPFetcher(server.URL)
	if _, err := fetcher.Fetch(context.Background()); err == nil {
		t.Fatal("expected error on malformed body")
	}
}
