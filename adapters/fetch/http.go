// Package fetch provides the built-in data fetchers: HTTP(S) URLs and local
// files.  Custom sources implement core.Fetcher.
package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"resty.dev/v3"

	"github.com/Skryldev/image-loader/core"
	apperrors "github.com/Skryldev/image-loader/errors"
)

// HTTPClient wraps one shared resty client; every URL fetch for a Loader goes
// through the same connection pool.
type HTTPClient struct {
	client   *resty.Client
	maxBytes int
}

// NewHTTPClient builds a client with the given request timeout.  maxBytes
// bounds the accepted response size; zero disables the bound.
func NewHTTPClient(timeout time.Duration, maxBytes int) *HTTPClient {
	c := resty.New()
	if timeout > 0 {
		c.SetTimeout(timeout)
	}
	return &HTTPClient{client: c, maxBytes: maxBytes}
}

// Close releases the underlying transport.
func (c *HTTPClient) Close() error { return c.client.Close() }

// Fetcher returns a single-use fetcher for url.
func (c *HTTPClient) Fetcher(url string) core.Fetcher {
	return &httpFetcher{client: c.client, url: url, maxBytes: c.maxBytes}
}

type httpFetcher struct {
	client   *resty.Client
	url      string
	maxBytes int

	mu     sync.Mutex
	cancel context.CancelFunc
	data   []byte
}

func (f *httpFetcher) ID() string { return f.url }

func (f *httpFetcher) LoadData(ctx context.Context, _ core.Priority) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()
	defer cancel()

	resp, err := f.client.R().SetContext(ctx).Get(f.url)
	if err != nil {
		return nil, apperrors.Transient("fetch.http", err)
	}
	if resp.IsError() {
		err := fmt.Errorf("GET %s: %s", f.url, resp.Status())
		if resp.StatusCode() >= 500 {
			return nil, apperrors.Transient("fetch.http", err)
		}
		return nil, apperrors.New(apperrors.CategoryFetch, "fetch.http", err)
	}

	body := resp.Bytes()
	if f.maxBytes > 0 && len(body) > f.maxBytes {
		return nil, apperrors.New(apperrors.CategoryFetch, "fetch.http",
			apperrors.ErrSourceTooLarge)
	}

	f.mu.Lock()
	f.data = body
	f.mu.Unlock()
	return body, nil
}

func (f *httpFetcher) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *httpFetcher) Cleanup() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = nil
}
