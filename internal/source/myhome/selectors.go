package myhome

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

//go:embed selectors.json
var embeddedSelectors embed.FS

// Selectors holds the CSS selectors of the result list and the listing page.
type Selectors struct {
	List   ListSelectors   `json:"list"`
	Detail DetailSelectors `json:"detail"`
}

// ListSelectors locate result cards and their fields.
type ListSelectors struct {
	Card  string `json:"card"`
	Badge string `json:"badge"`
	Date  string `json:"date"`
	// ListingPath must appear in a card link for the card to be a listing.
	ListingPath   string   `json:"listing_path"`
	ExcludedHosts []string `json:"excluded_hosts"`
}

// DetailSelectors locate the fields of a listing page.
type DetailSelectors struct {
	Title     string `json:"title"`
	Price     string `json:"price"`
	Area      string `json:"area"`
	Rooms     string `json:"rooms"`
	Floor     string `json:"floor"`
	Owner     string `json:"owner"`
	Phone     string `json:"phone"`
	Image     string `json:"image"`
	MaxImages int    `json:"max_images"`
}

// LoadSelectors returns the selectors from path when it is set and readable,
// then from the embedded selectors.json, then the built-in defaults.
func LoadSelectors(path string, log *slog.Logger) Selectors {
	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
		if err == nil {
			sel, err := ParseSelectors(data)
			if err == nil {
				log.Info("loaded selectors from file", "path", path)
				return sel
			}
			log.Warn("selectors file is invalid, trying embedded", "path", path, "error", err)
		} else {
			log.Warn("failed to read selectors file, trying embedded", "path", path, "error", err)
		}
	}

	data, err := embeddedSelectors.ReadFile("selectors.json")
	if err == nil {
		sel, err := ParseSelectors(data)
		if err == nil {
			return sel
		}
		log.Warn("embedded selectors are invalid, using defaults", "error", err)
	}
	return DefaultSelectors()
}

// ParseSelectors decodes a selectors document and checks the required fields.
func ParseSelectors(data []byte) (Selectors, error) {
	var sel Selectors
	if err := json.Unmarshal(data, &sel); err != nil {
		return Selectors{}, fmt.Errorf("parse selectors: %w", err)
	}
	if sel.List.Card == "" || sel.List.Date == "" || sel.Detail.Title == "" {
		return Selectors{}, fmt.Errorf("parse selectors: card, date and title selectors are required")
	}
	if sel.Detail.MaxImages <= 0 {
		sel.Detail.MaxImages = 2
	}
	return sel, nil
}

// DefaultSelectors mirrors the embedded selectors.json.
func DefaultSelectors() Selectors {
	return Selectors{
		List: ListSelectors{
			Card:          "a.group.relative.block.overflow-hidden.rounded-xl.shadow-devCard",
			Badge:         `div.ml-2.mt-2.flex.gap-1\.5 span`,
			Date:          "div.flex.items-center.h-full.gap-1.text-secondary-70.text-xs > span",
			ListingPath:   "/pr/",
			ExcludedHosts: []string{"auction.livo.ge"},
		},
		Detail: DetailSelectors{
			Title:     "h1",
			Price:     "div.price",
			Area:      `span:containsOwn("Area") + span`,
			Rooms:     `span:containsOwn("Rooms") + span`,
			Floor:     `span:containsOwn("Floor") + span`,
			Owner:     `div:containsOwn("Owner"), div:containsOwn("Agent")`,
			Phone:     `span:containsOwn("+995")`,
			Image:     "img.property-image",
			MaxImages: 2,
		},
	}
}
