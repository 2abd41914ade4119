// Package model defines domain entities used by services and repositories.
package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/picpaygo/internal/errs"
)

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}

// Account is a registered user. Purchased credits belong to accounts only.
type Account struct {
	ID        uuid.UUID // PK
	Email     string    // unique
	PwdHash   []byte    // Argon2id(password, SaltAuth)
	SaltAuth  []byte    // per-account salt
	CreatedAt time.Time
}

// GuestSession identifies an anonymous visitor by the hash of a rotating opaque token.
type GuestSession struct {
	ID         uuid.UUID
	TokenHash  string // sha256 hex of the cookie token, never the token itself
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// Identity is the resolved caller: the owner of jobs plus the network address
// that keys free credits.
type Identity struct {
	Owner Owner
	IP    string
}

// Credits is the combined balance visible to a caller.
type Credits struct {
	Free      int64
	Purchased int64
}

// Total returns free + purchased.
func (c Credits) Total() int64 { return c.Free + c.Purchased }

// Consumption reports the balance after a successful consume and where the credits came from.
type Consumption struct {
	Credits
	FreeUsed      int64
	PurchasedUsed int64
}

// Reason is the business reason of a ledger entry.
type Reason string

const (
	ReasonPurchase    Reason = "purchase"
	ReasonConsumption Reason = "consumption"
	ReasonRefund      Reason = "refund"
	ReasonBonus       Reason = "bonus"
	ReasonAdjustment  Reason = "adjustment"
)

// Valid reports whether r is a known reason.
func (r Reason) Valid() bool {
	switch r {
	case ReasonPurchase, ReasonConsumption, ReasonRefund, ReasonBonus, ReasonAdjustment:
		return true
	}
	return false
}

// LedgerEntry is an immutable signed change of an account's purchased balance.
type LedgerEntry struct {
	ID          int64
	AccountID   uuid.UUID
	Delta       int64
	Reason      Reason
	ExternalRef string    // payment session ref; unique when set
	JobID       uuid.UUID // related generation (refunds); uuid.Nil when unrelated
	CreatedAt   time.Time
}

// Validate checks the fields every ledger write needs.
func (e LedgerEntry) Validate() error {
	switch {
	case e.AccountID == uuid.Nil:
		return fmt.Errorf("ledger entry: %w", errs.ErrInvalidOwner)
	case e.Delta == 0:
		return fmt.Errorf("%w: zero delta", errs.ErrValidation)
	case !e.Reason.Valid():
		return fmt.Errorf("%w: unknown reason %q", errs.ErrValidation, e.Reason)
	case e.Reason == ReasonRefund && e.JobID == uuid.Nil:
		return fmt.Errorf("%w: refund without job", errs.ErrValidation)
	}
	return nil
}

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no transition leaves s.
func (s JobStatus) Terminal() bool { return s == JobCompleted || s == JobFailed }

// CanTransition reports whether s -> to is a forward step of Queued -> Processing -> {Completed, Failed}.
func (s JobStatus) CanTransition(to JobStatus) bool {
	switch s {
	case JobQueued:
		return to == JobProcessing
	case JobProcessing:
		return to == JobCompleted || to == JobFailed
	}
	return false
}

// Job is a single image-generation request.
type Job struct {
	ID           uuid.UUID
	Owner        Owner
	Category     string
	Status       JobStatus
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
}

// AssetKind distinguishes uploaded input from generated output.
type AssetKind string

const (
	AssetInput  AssetKind = "input"
	AssetOutput AssetKind = "output"
)

// Asset references bytes held by object storage.
type Asset struct {
	ID          uuid.UUID
	JobID       uuid.UUID
	Kind        AssetKind
	Bucket      string
	ObjectKey   string
	ContentType string
	ByteSize    int64
	SHA256      string // hex
	CreatedAt   time.Time
}

// PurchaseStatus is the lifecycle state of a purchase attempt.
type PurchaseStatus string

const (
	PurchaseCreated   PurchaseStatus = "created"
	PurchasePaid      PurchaseStatus = "paid"
	PurchaseFulfilled PurchaseStatus = "fulfilled"
	PurchaseCanceled  PurchaseStatus = "canceled"
	PurchaseFailed    PurchaseStatus = "failed"
)

// Terminal reports whether no transition leaves s.
func (s PurchaseStatus) Terminal() bool {
	return s == PurchaseFulfilled || s == PurchaseCanceled || s == PurchaseFailed
}

// CanTransition reports whether s -> to moves forward.
func (s PurchaseStatus) CanTransition(to PurchaseStatus) bool {
	switch s {
	case PurchaseCreated:
		return to == PurchasePaid || to == PurchaseFulfilled || to == PurchaseCanceled || to == PurchaseFailed
	case PurchasePaid:
		return to == PurchaseFulfilled || to == PurchaseCanceled || to == PurchaseFailed
	}
	return false
}

// PurchaseAttempt tracks one checkout session from creation to fulfillment.
type PurchaseAttempt struct {
	ID          uuid.UUID
	AccountID   uuid.UUID
	PackID      string
	Credits     int64
	ExternalRef string // provider session id, globally unique
	Status      PurchaseStatus
	AmountTotal int64 // minor units
	Currency    string
	CreatedAt   time.Time
	FulfilledAt *time.Time
}

// Pack is a purchasable bundle of credits.
type Pack struct {
	ID          string
	Credits     int64
	PriceID     string // provider price reference
	AmountTotal int64  // minor units, informational
	Currency    string
}
