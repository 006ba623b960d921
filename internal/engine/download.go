package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hangar-sim/hangar/internal/config"
)

const (
	// downloadTimeout bounds a single archive download.
	downloadTimeout = 15 * time.Minute
	// downloadUserAgent is sent with every request.
	downloadUserAgent = "Hangar/1.0"
	// copyBufSize is the streaming chunk size; each chunk triggers one
	// progress callback.
	copyBufSize = 128 * 1024
)

// Fetcher streams remote files to local disk with byte-level
// progress. It makes exactly one attempt per call.
type Fetcher struct {
	client *http.Client
	logger config.Logger
}

// NewFetcher creates a fetcher. A nil client gets a default with a
// redirect cap and an overall timeout.
func NewFetcher(client *http.Client, logger config.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{
			Timeout: downloadTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		}
	}
	if logger == nil {
		logger = config.NopLogger()
	}
	return &Fetcher{client: client, logger: logger}
}

// Download streams url to destPath. report (optional) receives
// cumulative transferred bytes and the total (-1 when the server
// omits Content-Length). The file lands via temp-write plus rename so
// destPath never holds a partial body.
func (f *Fetcher) Download(ctx context.Context, url, destPath string, report func(transferred, total int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &DownloadError{URL: url, Err: err}
	}
	req.Header.Set("User-Agent", downloadUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return &DownloadError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &DownloadError{URL: url, StatusCode: resp.StatusCode}
	}

	total := resp.ContentLength // -1 when unknown

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return &DownloadError{URL: url, Err: fmt.Errorf("create dest dir: %w", err)}
	}

	tmpPath := destPath + ".part"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return &DownloadError{URL: url, Err: fmt.Errorf("create temp file: %w", err)}
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	var transferred int64
	buf := make([]byte, copyBufSize)
	for {
		if err := ctx.Err(); err != nil {
			return &DownloadError{URL: url, Err: err}
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := tmpFile.Write(buf[:n]); writeErr != nil {
				return &DownloadError{URL: url, Err: fmt.Errorf("write body: %w", writeErr)}
			}
			transferred += int64(n)
			if report != nil {
				report(transferred, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return &DownloadError{URL: url, Err: fmt.Errorf("read body: %w", readErr)}
		}
	}

	if err := tmpFile.Close(); err != nil {
		return &DownloadError{URL: url, Err: fmt.Errorf("close temp file: %w", err)}
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return &DownloadError{URL: url, Err: fmt.Errorf("rename temp file: %w", err)}
	}
	cleanupNeeded = false

	f.logger.Debug("download complete", "url", url, "bytes", transferred)
	return nil
}
