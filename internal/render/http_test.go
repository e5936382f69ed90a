package render

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestDriver() *HTTPDriver {
	return NewHTTPDriver(5*time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHTTPDriverOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("missing User-Agent header")
		}
		switch r.URL.Path {
		case "/ok":
			_, _ = io.WriteString(w, `<html><body><h1>hello</h1></body></html>`)
		default:
			http.Error(w, "nope", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	d := newTestDriver()
	defer func() { _ = d.Close() }()

	p, err := d.Open(context.Background(), srv.URL+"/ok")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	doc, err := p.Document()
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if got := doc.Find("h1").Text(); got != "hello" {
		t.Errorf("h1 = %q, want hello", got)
	}

	if _, err := d.Open(context.Background(), srv.URL+"/broken"); err == nil {
		t.Error("expected error for non-200 status")
	}
}

func TestHTTPDriverOpenCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := newTestDriver().Open(ctx, srv.URL); err == nil {
		t.Fatal("expected error when the context expires")
	}
}

func TestHasNextPage(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{
			name: "enabled",
			html: `<nav><a aria-label="Next page" href="?page=2">›</a></nav>`,
			want: true,
		},
		{
			name: "disabled class",
			html: `<nav><a aria-label="Next page" class="btn disabled">›</a></nav>`,
			want: false,
		},
		{
			name: "aria disabled",
			html: `<nav><a aria-label="Next page" aria-disabled="true">›</a></nav>`,
			want: false,
		},
		{
			name: "missing",
			html: `<nav><a aria-label="Previous page" href="?page=1">‹</a></nav>`,
			want: false,
		},
	}

	d := newTestDriver()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPage("https://example.com", []byte(tt.html))
			if got := d.HasNextPage(p); got != tt.want {
				t.Errorf("HasNextPage = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewDriverUnknownKind(t *testing.T) {
	_, err := NewDriver("lynx", DefaultChromeOptions, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error for unknown renderer")
	}
}
