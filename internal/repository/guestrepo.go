package repository

import (
	"context"
	"time"

	"github.com/and161185/picpaygo/internal/model"
)

// Purge reports what a destructive guest operation removed.
// Assets are returned so callers can delete the stored objects.
type Purge struct {
	Sessions int64
	Jobs     int64
	Assets   []model.Asset
}

// GuestRepository stores anonymous sessions keyed by token hash.
type GuestRepository interface {
	// Resolve returns the session for tokenHash, creating it when unseen, and touches last_seen_at.
	Resolve(ctx context.Context, tokenHash string) (s *model.GuestSession, created bool, err error)

	// Rotate swaps the token hash of the session holding oldHash and deletes that
	// session's generations. Other sessions are untouched.
	Rotate(ctx context.Context, oldHash, newHash string) (*model.GuestSession, Purge, error)

	// DeleteStale removes sessions not seen since before, with their generations.
	DeleteStale(ctx context.Context, before time.Time) (Purge, error)
}
