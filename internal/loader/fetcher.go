package loader

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPFetcher downloads assets over HTTP. A successful response is enough;
// the body is discarded because the render surface only needs the SDK to
// be reachable.
type HTTPFetcher struct {
	client *resty.Client
}

// NewHTTPFetcher creates an HTTPFetcher with the given per-request timeout.
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.NewWithClient(&http.Client{Timeout: timeout})
	client.SetHeader("User-Agent", "mapkit/1.0")
	client.SetRetryCount(2)
	client.SetRetryWaitTime(200 * time.Millisecond)
	client.AddRetryCondition(func(r *resty.Response, err error) bool {
		if err != nil {
			return true
		}
		return r.StatusCode() >= http.StatusInternalServerError
	})
	return &HTTPFetcher{client: client}
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, a Asset) error {
	resp, err := f.client.R().SetContext(ctx).Get(a.URL)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	return nil
}
