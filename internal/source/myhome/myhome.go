// Package myhome extracts listings from myhome.ge result pages and listing pages.
package myhome

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"listing_bot/internal/model"
	"listing_bot/internal/render"
)

// Host is the site this package understands.
const Host = "www.myhome.ge"

// badgeTiers maps the promotion badge printed on a card to its tier.
var badgeTiers = map[string]model.Tier{
	"S-VIP": model.TierTop,
	"VIP+":  model.TierHigh,
	"VIP":   model.TierMid,
}

// Extractor implements source.Extractor for myhome.ge.
type Extractor struct {
	sel Selectors
	log *slog.Logger
	now func() time.Time
}

// New creates an Extractor using the given selectors.
func New(sel Selectors, log *slog.Logger) *Extractor {
	return &Extractor{
		sel: sel,
		log: log,
		now: time.Now,
	}
}

// ListItems returns the listing cards of a result page. Cards without a date
// are ads and are dropped; cards whose date does not parse are returned with
// a zero PublishedAt.
func (e *Extractor) ListItems(p *render.Page) ([]model.Listing, error) {
	doc, err := p.Document()
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(p.URL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}

	now := e.now()
	var items []model.Listing
	doc.Find(e.sel.List.Card).Each(func(i int, card *goquery.Selection) {
		link, ok := e.cardLink(base, card)
		if !ok {
			return
		}

		dateSel := card.Find(e.sel.List.Date).First()
		if dateSel.Length() == 0 {
			return
		}

		item := model.Listing{
			Link: link,
			Tier: e.cardTier(card),
		}
		published, err := ParseDate(strings.TrimSpace(dateSel.Text()), now)
		if err != nil {
			e.log.Warn("card date not parsed", "link", link, "error", err)
		} else {
			item.PublishedAt = published
		}
		items = append(items, item)
	})
	return items, nil
}

func (e *Extractor) cardLink(base *url.URL, card *goquery.Selection) (string, bool) {
	a := card
	if !card.Is("a") {
		a = card.Find("a").First()
	}
	href, ok := a.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		// Kept so the scanner reports it as malformed.
		return "", true
	}

	u, err := base.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", true
	}
	if slices.Contains(e.sel.List.ExcludedHosts, u.Hostname()) {
		e.log.Debug("auction card excluded", "link", u.String())
		return "", false
	}
	if e.sel.List.ListingPath != "" && !strings.Contains(u.Path, e.sel.List.ListingPath) {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

func (e *Extractor) cardTier(card *goquery.Selection) model.Tier {
	if e.sel.List.Badge == "" {
		return model.TierNormal
	}
	var tier model.Tier
	card.Find(e.sel.List.Badge).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if t, ok := badgeTiers[strings.TrimSpace(s.Text())]; ok {
			tier = t
			return false
		}
		return true
	})
	return tier
}

// FetchDetail opens a listing page and reads its fields. Missing fields are
// left empty.
func (e *Extractor) FetchDetail(ctx context.Context, d render.Driver, link string) (*model.Detail, error) {
	p, err := d.Open(ctx, link)
	if err != nil {
		return nil, err
	}
	doc, err := p.Document()
	if err != nil {
		return nil, err
	}

	ds := e.sel.Detail
	title := firstText(doc.Selection, ds.Title)
	if title == "" {
		return nil, fmt.Errorf("listing %s: %w", link, model.ErrNotFound)
	}

	detail := &model.Detail{
		Title: title,
		Price: firstText(doc.Selection, ds.Price),
		Area:  firstText(doc.Selection, ds.Area),
		Rooms: firstText(doc.Selection, ds.Rooms),
		Floor: firstText(doc.Selection, ds.Floor),
		Owner: firstText(doc.Selection, ds.Owner),
		Phone: firstText(doc.Selection, ds.Phone),
		Link:  link,
	}

	base, _ := url.Parse(link)
	doc.Find(ds.Image).EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src := img.AttrOr("src", "")
		if src == "" {
			src = img.AttrOr("data-src", "")
		}
		if src == "" {
			return true
		}
		if base != nil {
			if u, err := base.Parse(src); err == nil {
				src = u.String()
			}
		}
		if !slices.Contains(detail.Images, src) {
			detail.Images = append(detail.Images, src)
		}
		return len(detail.Images) < ds.MaxImages
	})

	e.log.Debug("listing parsed", "link", link, "images", len(detail.Images))
	return detail, nil
}

func firstText(s *goquery.Selection, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.Join(strings.Fields(s.Find(selector).First().Text()), " ")
}
