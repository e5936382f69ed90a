package scanner

import (
	"time"

	"listing_bot/internal/model"
)

// session is the per-user, per-cycle scan state.
type session struct {
	threshold   time.Time
	seen        map[model.Tier]bool
	encountered map[model.Tier]bool
	pending     []Candidate
	links       map[string]bool
}

func newSession(threshold time.Time) *session {
	return &session{
		threshold:   threshold,
		seen:        make(map[model.Tier]bool),
		encountered: make(map[model.Tier]bool),
		links:       make(map[string]bool),
	}
}

// process applies one page of listings in page order. It reports whether a
// stale chronological listing ended the session.
func (s *session) process(items []model.Listing, valid func(model.Listing) bool) bool {
	for _, it := range items {
		if !valid(it) {
			continue
		}
		s.encountered[it.Tier] = true

		if !it.PublishedAt.After(s.threshold) {
			s.seen[it.Tier] = true
			if it.Tier == model.TierNormal {
				for _, t := range model.AllTiers {
					s.seen[t] = true
				}
				return true
			}
			continue
		}

		if s.links[it.Link] {
			continue
		}
		s.links[it.Link] = true
		s.pending = append(s.pending, Candidate{
			Link:        it.Link,
			Tier:        it.Tier,
			PublishedAt: it.PublishedAt,
		})
	}
	return false
}

// resolveAbsent marks tiers missing from the first page as seen: pinned tiers
// only occupy the front of the results.
func (s *session) resolveAbsent() {
	for _, t := range model.AllTiers {
		if !s.encountered[t] {
			s.seen[t] = true
		}
	}
}

// complete reports whether every encountered tier is seen.
func (s *session) complete() bool {
	for t := range s.encountered {
		if !s.seen[t] {
			return false
		}
	}
	return true
}
