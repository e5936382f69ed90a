// Package source routes result pages and listing links to the extractor that
// understands the site they come from.
package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"listing_bot/internal/model"
	"listing_bot/internal/render"
)

// Extractor turns rendered pages of one listing site into listings.
type Extractor interface {
	// ListItems returns the items of a result page in page order. Items that
	// could not be fully parsed are returned with the missing fields empty.
	ListItems(p *render.Page) ([]model.Listing, error)
	// FetchDetail opens a listing and returns its details. It returns
	// model.ErrNotFound when the listing is gone.
	FetchDetail(ctx context.Context, d render.Driver, link string) (*model.Detail, error)
}

// Router dispatches to an Extractor by URL host.
type Router struct {
	routes   map[string]Extractor
	fallback Extractor
}

// NewRouter creates a Router that uses fallback for unknown hosts.
func NewRouter(fallback Extractor) *Router {
	return &Router{
		routes:   make(map[string]Extractor),
		fallback: fallback,
	}
}

// Handle registers e for host. A leading "www." is ignored on both sides.
func (r *Router) Handle(host string, e Extractor) {
	r.routes[normalizeHost(host)] = e
}

// For returns the Extractor serving rawURL.
func (r *Router) For(rawURL string) (Extractor, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if e, ok := r.routes[normalizeHost(u.Hostname())]; ok {
		return e, nil
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("no extractor for host %q", u.Hostname())
	}
	return r.fallback, nil
}

// ListItems extracts the items of p with the extractor of its host.
func (r *Router) ListItems(p *render.Page) ([]model.Listing, error) {
	e, err := r.For(p.URL)
	if err != nil {
		return nil, err
	}
	return e.ListItems(p)
}

// FetchDetail fetches link with the extractor of its host.
func (r *Router) FetchDetail(ctx context.Context, d render.Driver, link string) (*model.Detail, error) {
	e, err := r.For(link)
	if err != nil {
		return nil, err
	}
	return e.FetchDetail(ctx, d, link)
}

func normalizeHost(h string) string {
	return strings.TrimPrefix(strings.ToLower(h), "www.")
}
