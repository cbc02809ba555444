package fetcher

import (
	"context"
	"io"
)

// Fetcher downloads remote resources.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadBytes fetches the URL and returns the full body.
	DownloadBytes(ctx context.Context, url string) ([]byte, error)
}
