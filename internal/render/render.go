// Package render opens listing result pages through a rendering driver and
// hands the resulting HTML to extractors.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// ErrFatal marks a driver failure that no retry can fix, such as a crashed
// browser. It aborts the whole scan cycle.
var ErrFatal = errors.New("rendering driver failed")

// NextPageSelector matches the pagination control of the result list.
const NextPageSelector = "a[aria-label='Next page']"

// Driver opens pages. A single Driver is shared by all users of one cycle.
type Driver interface {
	Open(ctx context.Context, url string) (*Page, error)
	HasNextPage(p *Page) bool
	Close() error
}

// Page is a rendered document.
type Page struct {
	URL  string
	Body []byte

	once sync.Once
	doc  *goquery.Document
	err  error
}

// NewPage wraps a rendered body.
func NewPage(url string, body []byte) *Page {
	return &Page{URL: url, Body: body}
}

// Document parses the body on first use.
func (p *Page) Document() (*goquery.Document, error) {
	p.once.Do(func() {
		p.doc, p.err = goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
		if p.err != nil {
			p.err = fmt.Errorf("parse %s: %w", p.URL, p.err)
		}
	})
	return p.doc, p.err
}

// hasNextPage reports whether the page carries an enabled next-page control.
func hasNextPage(p *Page) bool {
	doc, err := p.Document()
	if err != nil {
		return false
	}
	next := doc.Find(NextPageSelector).First()
	if next.Length() == 0 {
		return false
	}
	if next.HasClass("disabled") {
		return false
	}
	return next.AttrOr("aria-disabled", "false") != "true"
}

// Driver kinds accepted by NewDriver.
const (
	KindChrome = "chrome"
	KindHTTP   = "http"
)

// NewDriver creates the driver named by kind.
func NewDriver(kind string, opts ChromeOptions, log *slog.Logger) (Driver, error) {
	switch kind {
	case KindChrome:
		return NewChromeDriver(opts, log)
	case KindHTTP:
		return NewHTTPDriver(opts.PageTimeout, log), nil
	default:
		return nil, fmt.Errorf("%w: unknown renderer %q", ErrFatal, kind)
	}
}
