package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// FetchResult carries a fetched page and the response envelope needed for
// WARC generation.
type FetchResult struct {
	Response *http.Response
	Body     []byte
	FinalURL string
}

// Fetcher issues capture GETs with the configured User-Agent and timeout.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// NewFetcher builds a Fetcher from the crawler configuration.
func NewFetcher(cfg Config) *Fetcher {
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
	}
}

// Fetch GETs |url| and drains its body. Network-level failures are
// transient; any HTTP response, including an error status, is returned
// for the caller to classify.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*FetchResult, error) {
	var req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &CaptureError{Kind: KindTransient, Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &CaptureError{Kind: KindTransient, Err: fmt.Errorf("fetching %s: %w", url, err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CaptureError{Kind: KindTransient, Err: fmt.Errorf("reading %s: %w", url, err)}
	}

	return &FetchResult{
		Response: resp,
		Body:     body,
		FinalURL: resp.Request.URL.String(),
	}, nil
}
