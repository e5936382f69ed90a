// Package feed extracts listings from RSS and Atom feeds. Feeds carry no
// promotion tiers, so every item is TierNormal; listing details come from the
// OpenGraph tags of the linked page.
package feed

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"listing_bot/internal/model"
	"listing_bot/internal/render"
)

const maxImages = 2

// Extractor implements source.Extractor for feeds.
type Extractor struct {
	log *slog.Logger
}

// New creates a feed Extractor.
func New(log *slog.Logger) *Extractor {
	return &Extractor{log: log}
}

// ListItems parses p as a feed and returns its items newest first.
func (e *Extractor) ListItems(p *render.Page) ([]model.Listing, error) {
	feed, err := gofeed.NewParser().ParseString(string(p.Body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	items := make([]model.Listing, 0, len(feed.Items))
	for _, it := range feed.Items {
		l := model.Listing{
			Link: ItemLink(it),
			Tier: model.TierNormal,
		}
		switch {
		case it.PublishedParsed != nil:
			l.PublishedAt = it.PublishedParsed.UTC()
		case it.UpdatedParsed != nil:
			l.PublishedAt = it.UpdatedParsed.UTC()
		}
		items = append(items, l)
	}

	// Feeds are not required to be ordered; the scanner relies on newest first.
	slices.SortStableFunc(items, func(a, b model.Listing) int {
		return cmp.Compare(b.PublishedAt.Unix(), a.PublishedAt.Unix())
	})
	e.log.Debug("feed parsed", "url", p.URL, "title", feed.Title, "items", len(items))
	return items, nil
}

// ItemLink returns the item link, falling back to a GUID that is a URL.
func ItemLink(item *gofeed.Item) string {
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	if u, err := url.Parse(item.GUID); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return item.GUID
	}
	return ""
}

// FetchDetail opens link and reads its OpenGraph tags.
func (e *Extractor) FetchDetail(ctx context.Context, d render.Driver, link string) (*model.Detail, error) {
	p, err := d.Open(ctx, link)
	if err != nil {
		return nil, err
	}
	doc, err := p.Document()
	if err != nil {
		return nil, err
	}

	title := meta(doc, "og:title")
	if title == "" {
		title = strings.TrimSpace(doc.Find("title").First().Text())
	}
	if title == "" {
		return nil, fmt.Errorf("listing %s: %w", link, model.ErrNotFound)
	}

	detail := &model.Detail{
		Title: title,
		Link:  link,
	}
	if amount := meta(doc, "product:price:amount", "og:price:amount"); amount != "" {
		detail.Price = strings.TrimSpace(amount + " " + meta(doc, "product:price:currency", "og:price:currency"))
	}

	doc.Find(`meta[property="og:image"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		src := strings.TrimSpace(s.AttrOr("content", ""))
		if src != "" && !slices.Contains(detail.Images, src) {
			detail.Images = append(detail.Images, src)
		}
		return len(detail.Images) < maxImages
	})
	return detail, nil
}

// meta returns the content of the first present property.
func meta(doc *goquery.Document, properties ...string) string {
	for _, prop := range properties {
		sel := doc.Find(fmt.Sprintf(`meta[property=%q]`, prop)).First()
		if v := strings.TrimSpace(sel.AttrOr("content", "")); v != "" {
			return v
		}
	}
	return ""
}
