package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Mux routes Open to a per-host driver and falls back to a default one.
type Mux struct {
	fallback Driver
	hosts    map[string]Driver
}

// NewMux creates a Mux that opens unrouted hosts with fallback.
func NewMux(fallback Driver) *Mux {
	return &Mux{fallback: fallback, hosts: make(map[string]Driver)}
}

// Route sends pages of host to d. A leading "www." is ignored.
func (m *Mux) Route(host string, d Driver) {
	m.hosts[normalizeHost(host)] = d
}

// Open opens url with the driver routed for its host.
func (m *Mux) Open(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if d, ok := m.hosts[normalizeHost(u.Hostname())]; ok {
		return d.Open(ctx, rawURL)
	}
	return m.fallback.Open(ctx, rawURL)
}

// HasNextPage reports whether p has an enabled next-page control.
func (m *Mux) HasNextPage(p *Page) bool {
	return hasNextPage(p)
}

// Close closes every distinct driver.
func (m *Mux) Close() error {
	closed := map[Driver]bool{}
	var errs []error
	for _, d := range append([]Driver{m.fallback}, mapValues(m.hosts)...) {
		if d == nil || closed[d] {
			continue
		}
		closed[d] = true
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func mapValues(m map[string]Driver) []Driver {
	out := make([]Driver, 0, len(m))
	for _, d := range m {
		out = append(out, d)
	}
	return out
}

func normalizeHost(h string) string {
	return strings.TrimPrefix(strings.ToLower(h), "www.")
}
