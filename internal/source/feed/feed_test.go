package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mmcdole/gofeed"

	"listing_bot/internal/model"
	"listing_bot/internal/render"
)

const sampleRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Rentals</title>
  <item>
    <title>Older flat</title>
    <link>https://rent.example.com/l/1</link>
    <pubDate>Mon, 06 Oct 2025 08:00:00 +0000</pubDate>
  </item>
  <item>
    <title>Newer flat</title>
    <link>https://rent.example.com/l/2</link>
    <pubDate>Mon, 06 Oct 2025 09:30:00 +0000</pubDate>
  </item>
  <item>
    <title>Guid only</title>
    <guid>https://rent.example.com/l/3</guid>
  </item>
</channel>
</rss>`

const ogPage = `<html><head>
<title>fallback title</title>
<meta property="og:title" content="2BR in Saburtalo">
<meta property="product:price:amount" content="900">
<meta property="product:price:currency" content="USD">
<meta property="og:image" content="https://img.example.com/a.jpg">
<meta property="og:image" content="https://img.example.com/a.jpg">
<meta property="og:image" content="https://img.example.com/b.jpg">
<meta property="og:image" content="https://img.example.com/c.jpg">
</head><body></body></html>`

type pageDriver struct {
	pages map[string]string
}

func (d *pageDriver) Open(_ context.Context, url string) (*render.Page, error) {
	body, ok := d.pages[url]
	if !ok {
		return nil, errors.New("unreachable")
	}
	return render.NewPage(url, []byte(body)), nil
}

func (d *pageDriver) HasNextPage(*render.Page) bool { return false }
func (d *pageDriver) Close() error                  { return nil }

func newTestExtractor() *Extractor {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestListItems(t *testing.T) {
	got, err := newTestExtractor().ListItems(render.NewPage("https://rent.example.com/rss", []byte(sampleRSS)))
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	want := []model.Listing{
		{Link: "https://rent.example.com/l/2", Tier: model.TierNormal, PublishedAt: time.Date(2025, 10, 6, 9, 30, 0, 0, time.UTC)},
		{Link: "https://rent.example.com/l/1", Tier: model.TierNormal, PublishedAt: time.Date(2025, 10, 6, 8, 0, 0, 0, time.UTC)},
		{Link: "https://rent.example.com/l/3", Tier: model.TierNormal},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListItems mismatch (-want +got):\n%s", diff)
	}
}

func TestListItemsInvalidFeed(t *testing.T) {
	if _, err := newTestExtractor().ListItems(render.NewPage("https://x", []byte("not xml at all"))); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestItemLink(t *testing.T) {
	tests := []struct {
		name string
		item *gofeed.Item
		want string
	}{
		{name: "link", item: &gofeed.Item{Link: " https://a.example/1 ", GUID: "https://a.example/g"}, want: "https://a.example/1"},
		{name: "url guid", item: &gofeed.Item{GUID: "https://a.example/g"}, want: "https://a.example/g"},
		{name: "opaque guid", item: &gofeed.Item{GUID: "tag:a.example,2025:1"}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ItemLink(tt.item); got != tt.want {
				t.Errorf("ItemLink = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFetchDetail(t *testing.T) {
	d := &pageDriver{pages: map[string]string{
		"https://rent.example.com/l/2": ogPage,
		"https://rent.example.com/gone": `<html><body></body></html>`,
	}}
	e := newTestExtractor()

	got, err := e.FetchDetail(context.Background(), d, "https://rent.example.com/l/2")
	if err != nil {
		t.Fatalf("fetch detail: %v", err)
	}
	want := &model.Detail{
		Title:  "2BR in Saburtalo",
		Price:  "900 USD",
		Link:   "https://rent.example.com/l/2",
		Images: []string{"https://img.example.com/a.jpg", "https://img.example.com/b.jpg"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FetchDetail mismatch (-want +got):\n%s", diff)
	}

	if _, err := e.FetchDetail(context.Background(), d, "https://rent.example.com/gone"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("empty page error = %v, want ErrNotFound", err)
	}
}
