// Package payment defines the payment-provider contract used for credit packs.
package payment

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/picpaygo/internal/model"
)

// Outcome is what an inbound provider event means for a purchase attempt.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeExpired       Outcome = "expired"
	OutcomePaymentFailed Outcome = "payment_failed"
	// OutcomeIgnored marks events that need no action (unrelated types, unpaid completions).
	OutcomeIgnored Outcome = "ignored"
)

// Event is a verified provider notification.
type Event struct {
	ID          string
	Type        string
	SessionRef  string
	Outcome     Outcome
	AmountTotal int64
	Currency    string
}

// CheckoutRequest asks the provider for a hosted checkout of one pack.
type CheckoutRequest struct {
	AccountID  uuid.UUID
	Email      string
	Pack       model.Pack
	SuccessURL string
	CancelURL  string
}

// Checkout is a provider-issued session the buyer is redirected to.
type Checkout struct {
	SessionRef  string
	RedirectURL string
	AmountTotal int64
	Currency    string
}

// Provider creates checkouts and authenticates their webhook events.
type Provider interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	// ParseEvent verifies signature over payload; failures wrap errs.ErrInvalidSignature.
	ParseEvent(payload []byte, signature string) (Event, error)
}
