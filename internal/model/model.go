// Package model defines the domain types used across the application.
package model

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a user record or a listing does not exist.
var ErrNotFound = errors.New("not found")

// Status is the monitoring state of a user.
type Status string

// Supported statuses.
const (
	StatusStopped Status = "stopped"
	StatusRunning Status = "running"
)

// User is a subscriber identified by their Telegram chat ID.
type User struct {
	ChatID          int64
	Status          Status
	SubscriptionEnd time.Time
	TrialUsed       bool
	FilterURL       string
	FilterSetAt     time.Time
	LastDeliveredAt time.Time
	ExpiresAt       time.Time
}

// SubscriptionActive reports whether the subscription is still paid up at now.
func (u User) SubscriptionActive(now time.Time) bool {
	return !u.SubscriptionEnd.IsZero() && u.SubscriptionEnd.After(now)
}

// EffectiveStatus re-derives the status at now. A stored running flag past the
// subscription end reads as stopped.
func (u User) EffectiveStatus(now time.Time) Status {
	if u.Status == StatusRunning && u.SubscriptionActive(now) {
		return StatusRunning
	}
	return StatusStopped
}

// HasFilter reports whether both the filter URL and its timestamp are set.
func (u User) HasFilter() bool {
	return u.FilterURL != "" && !u.FilterSetAt.IsZero()
}

// Threshold is the freshness watermark: listings published at or before it are
// treated as already delivered or pre-existing.
func (u User) Threshold() time.Time {
	if u.LastDeliveredAt.After(u.FilterSetAt) {
		return u.LastDeliveredAt
	}
	return u.FilterSetAt
}

// Tier is the priority class a listing source uses to pin items above the
// chronological order. Higher values are pinned higher.
type Tier int

// Tiers from lowest to highest. TierNormal is the chronological tier.
const (
	TierNormal Tier = iota
	TierMid
	TierHigh
	TierTop
)

// AllTiers lists every tier from highest to lowest.
var AllTiers = []Tier{TierTop, TierHigh, TierMid, TierNormal}

func (t Tier) String() string {
	switch t {
	case TierTop:
		return "top"
	case TierHigh:
		return "high"
	case TierMid:
		return "mid"
	case TierNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// Listing is a single result-page item as seen by the scan engine.
type Listing struct {
	Link        string    `validate:"required,url"`
	Tier        Tier      `validate:"gte=0,lte=3"`
	PublishedAt time.Time `validate:"required"`
}

// Detail holds the full information of a listing sent to a user.
type Detail struct {
	Title  string
	Price  string
	Area   string
	Rooms  string
	Floor  string
	Phone  string
	Owner  string
	Link   string
	Images []string
}
