package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
	maxBodySize      = 10 << 20
)

// HTTPDriver fetches pages without executing scripts. It serves sources that
// render their result lists server-side and feed sources.
type HTTPDriver struct {
	client    *http.Client
	userAgent string
	log       *slog.Logger
}

// NewHTTPDriver creates an HTTPDriver with the given per-request timeout.
func NewHTTPDriver(timeout time.Duration, log *slog.Logger) *HTTPDriver {
	return &HTTPDriver{
		client:    &http.Client{Timeout: timeout},
		userAgent: defaultUserAgent,
		log:       log,
	}
}

// Open fetches url and returns its body.
func (d *HTTPDriver) Open(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept-Language", "ru,en;q=0.8")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	d.log.Debug("page fetched", "url", url, "bytes", len(body))
	return NewPage(url, body), nil
}

// HasNextPage reports whether p has an enabled next-page control.
func (d *HTTPDriver) HasNextPage(p *Page) bool {
	return hasNextPage(p)
}

// Close is a no-op.
func (d *HTTPDriver) Close() error {
	return nil
}
