// Package storage defines the subscriber store interface and its implementations.
//
// Every record carries an expire-at timestamp. Expired records are invisible to
// reads and are replaced by a fresh record on the next write, so expiry is lazy
// and needs no background job; PurgeExpired only reclaims space.
package storage

import (
	"context"
	"time"

	"listing_bot/internal/model"
)

// Storage is the interface for all subscriber persistence operations.
type Storage interface {
	// GetUser returns model.ErrNotFound when the record is absent or expired.
	GetUser(ctx context.Context, chatID int64) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)

	SetStatus(ctx context.Context, chatID int64, status model.Status, expiresAt time.Time) error
	// SetSubscription writes the status and the subscription end in one statement.
	SetSubscription(ctx context.Context, chatID int64, status model.Status, end, expiresAt time.Time) error
	SetFilter(ctx context.Context, chatID int64, url string, setAt, expiresAt time.Time) error
	// SetLastDelivered never moves the watermark backwards.
	SetLastDelivered(ctx context.Context, chatID int64, at time.Time) error

	MarkTrialUsed(ctx context.Context, chatID int64, expiresAt time.Time) error
	// ExtendTrialFlag pushes the expiry of an existing trial flag, never shortening it.
	ExtendTrialFlag(ctx context.Context, chatID int64, expiresAt time.Time) error
	IsTrialUsed(ctx context.Context, chatID int64) (bool, error)

	PurgeExpired(ctx context.Context) (int64, error)

	Close() error
}
