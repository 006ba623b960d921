package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	// fetchTimeout bounds a single catalog fetch.
	fetchTimeout = 30 * time.Second
	// userAgent is sent with catalog requests.
	userAgent = "Hangar/1.0"
)

// Fetcher retrieves the current catalog. Implementations must return
// a catalog that the caller may retain indefinitely (no shared
// mutable state).
type Fetcher interface {
	Fetch(ctx context.Context) (*Catalog, error)
}

// HTTPFetcher fetches a JSON catalog over HTTP(S).
type HTTPFetcher struct {
	URL    string
	Client *http.Client
}

// NewHTTPFetcher creates a fetcher for the given catalog URL.
func NewHTTPFetcher(url string) *HTTPFetcher {
	return &HTTPFetcher{
		URL: url,
		Client: &http.Client{
			Timeout: fetchTimeout,
		},
	}
}

// Fetch downloads and decodes the catalog.
func (f *HTTPFetcher) Fetch(ctx context.Context) (*Catalog, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("create catalog request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch catalog: unexpected status code %d", resp.StatusCode)
	}

	var cat Catalog
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&cat); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	return &cat, nil
}
