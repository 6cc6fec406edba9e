package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Reingester rebuilds the search index over the whole catalog.
type Reingester interface {
	Reingest(ctx context.Context) error
}

// HTTPReingester triggers re-ingestion with a POST to the ingestion endpoint.
type HTTPReingester struct {
	url    string
	client *http.Client
}

func NewHTTPReingester(url string) *HTTPReingester {
	return &HTTPReingester{url: url, client: &http.Client{Timeout: 30 * time.Second}}
}

func (r *HTTPReingester) Reingest(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("trigger re-ingestion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("trigger re-ingestion: unexpected status %d", resp.StatusCode)
	}
	return nil
}
