package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/picpaygo/internal/crypto"
	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
	"github.com/and161185/picpaygo/internal/repository"
	"github.com/and161185/picpaygo/internal/storage"
)

// TokenVerifier turns an account access token into an account id.
type TokenVerifier interface {
	VerifyAccessToken(token string) (uuid.UUID, error)
}

// Evidence is what a transport knows about the caller.
type Evidence struct {
	AccessToken string
	GuestToken  string
	IP          string
}

// Resolution is the resolved caller plus a guest token to hand back when one was minted.
type Resolution struct {
	Identity      model.Identity
	NewGuestToken string
}

// IdentityResolver maps request evidence to exactly one owner.
// An account always wins over a guest token. Guest history is never
// moved to an account.
type IdentityResolver struct {
	tokens   TokenVerifier
	accounts repository.AccountRepository
	guests   repository.GuestRepository
	objects  storage.ObjectStore
	log      *zap.Logger
	now      func() time.Time
}

// NewIdentityResolver constructs a resolver. objects may be nil when stored
// files should not be removed with guest history.
func NewIdentityResolver(tokens TokenVerifier, accounts repository.AccountRepository, guests repository.GuestRepository, objects storage.ObjectStore, log *zap.Logger) *IdentityResolver {
	return &IdentityResolver{tokens: tokens, accounts: accounts, guests: guests, objects: objects, log: log, now: time.Now}
}

// Resolve returns the caller's identity. Without a guest token a new one is
// minted; an unseen token gets a fresh session. A rejected access token does
// not fail the call: the caller continues as a guest and a warning is logged.
func (r *IdentityResolver) Resolve(ctx context.Context, ev Evidence) (Resolution, error) {
	if ev.AccessToken != "" {
		owner, err := r.account(ctx, ev.AccessToken)
		if err == nil {
			return Resolution{Identity: model.Identity{Owner: owner, IP: ev.IP}}, nil
		}
		if !errors.Is(err, errs.ErrUnauthorized) {
			return Resolution{}, err
		}
		r.log.Warn("access token rejected, continuing as guest",
			zap.String("ip", ev.IP),
			zap.Error(err),
		)
	}

	var res Resolution
	token := ev.GuestToken
	if token == "" {
		var err error
		if token, err = pkgcrypto.NewGuestToken(); err != nil {
			return Resolution{}, err
		}
		res.NewGuestToken = token
	}
	s, created, err := r.guests.Resolve(ctx, pkgcrypto.HashToken(token))
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve guest: %w", err)
	}
	if created {
		r.log.Debug("guest session created", zap.String("guest_id", s.ID.String()))
	}
	owner, err := model.GuestOwner(s.ID)
	if err != nil {
		return Resolution{}, err
	}
	res.Identity = model.Identity{Owner: owner, IP: ev.IP}
	return res, nil
}

func (r *IdentityResolver) account(ctx context.Context, token string) (model.Owner, error) {
	id, err := r.tokens.VerifyAccessToken(token)
	if err != nil {
		return model.Owner{}, err
	}
	if _, err := r.accounts.GetByID(ctx, id); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return model.Owner{}, errs.ErrUnauthorized
		}
		return model.Owner{}, err
	}
	return model.AccountOwner(id)
}

// ClearGuestHistory rotates the guest token and deletes only that guest's jobs.
// It returns the replacement token and the number of jobs removed.
func (r *IdentityResolver) ClearGuestHistory(ctx context.Context, guestToken string) (string, int64, error) {
	if guestToken == "" {
		return "", 0, fmt.Errorf("guest token required: %w", errs.ErrUnauthorized)
	}
	next, err := pkgcrypto.NewGuestToken()
	if err != nil {
		return "", 0, err
	}
	s, purge, err := r.guests.Rotate(ctx, pkgcrypto.HashToken(guestToken), pkgcrypto.HashToken(next))
	if errors.Is(err, errs.ErrNotFound) {
		return "", 0, fmt.Errorf("unknown guest session: %w", errs.ErrUnauthorized)
	}
	if err != nil {
		return "", 0, fmt.Errorf("rotate guest: %w", err)
	}
	r.deleteObjects(ctx, purge.Assets)
	r.log.Info("guest history cleared",
		zap.String("guest_id", s.ID.String()),
		zap.Int64("jobs", purge.Jobs),
	)
	return next, purge.Jobs, nil
}

// CleanupStaleGuests removes guest sessions idle for longer than retention, with their jobs and files.
func (r *IdentityResolver) CleanupStaleGuests(ctx context.Context, retention time.Duration) (repository.Purge, error) {
	if retention <= 0 {
		return repository.Purge{}, fmt.Errorf("%w: retention must be positive", errs.ErrValidation)
	}
	purge, err := r.guests.DeleteStale(ctx, r.now().Add(-retention))
	if err != nil {
		return repository.Purge{}, fmt.Errorf("delete stale guests: %w", err)
	}
	r.deleteObjects(ctx, purge.Assets)
	if purge.Sessions > 0 {
		r.log.Info("stale guests removed",
			zap.Int64("sessions", purge.Sessions),
			zap.Int64("jobs", purge.Jobs),
			zap.Int("objects", len(purge.Assets)),
		)
	}
	return purge, nil
}

// deleteObjects is best effort: rows are already gone, a leftover object is only wasted space.
func (r *IdentityResolver) deleteObjects(ctx context.Context, assets []model.Asset) {
	if r.objects == nil {
		return
	}
	for _, a := range assets {
		loc := storage.Locator{Bucket: a.Bucket, Key: a.ObjectKey}
		if err := r.objects.Delete(ctx, loc); err != nil {
			r.log.Warn("delete object", zap.String("bucket", a.Bucket), zap.String("key", a.ObjectKey), zap.Error(err))
		}
	}
}
