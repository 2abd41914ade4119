package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/and161185/picpaygo/internal/errs"
)

// Stripe implements Provider with hosted Checkout sessions.
type Stripe struct {
	sessions      *session.Client
	webhookSecret string
}

// NewStripe builds a provider. secretKey may be empty when only webhooks are handled.
func NewStripe(secretKey, webhookSecret string) *Stripe {
	return &Stripe{
		sessions:      &session.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
		webhookSecret: webhookSecret,
	}
}

// CreateCheckout opens a one-off payment session for the pack's price.
func (s *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	if s.sessions.Key == "" {
		return Checkout{}, fmt.Errorf("stripe secret key not configured: %w", errs.ErrProviderUnavailable)
	}
	if req.Pack.PriceID == "" {
		return Checkout{}, fmt.Errorf("%w: pack %s has no price", errs.ErrValidation, req.Pack.ID)
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.Pack.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.AccountID.String()),
	}
	if req.Email != "" {
		params.CustomerEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.AddMetadata("user_id", req.AccountID.String())
	params.AddMetadata("pack_id", req.Pack.ID)
	params.AddMetadata("credits", strconv.FormatInt(req.Pack.Credits, 10))

	cs, err := s.sessions.New(params)
	if err != nil {
		return Checkout{}, fmt.Errorf("stripe checkout: %w: %w", errs.ErrProviderUnavailable, err)
	}
	return Checkout{
		SessionRef:  cs.ID,
		RedirectURL: cs.URL,
		AmountTotal: cs.AmountTotal,
		Currency:    string(cs.Currency),
	}, nil
}

// ParseEvent verifies the Stripe-Signature header and maps checkout events to outcomes.
func (s *Stripe) ParseEvent(payload []byte, signature string) (Event, error) {
	if s.webhookSecret == "" {
		return Event{}, errors.New("stripe webhook secret not configured")
	}
	if signature == "" {
		return Event{}, fmt.Errorf("missing signature: %w", errs.ErrInvalidSignature)
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Event{}, fmt.Errorf("%w: %w", errs.ErrInvalidSignature, err)
	}
	return eventFromStripe(ev)
}

func eventFromStripe(ev stripe.Event) (Event, error) {
	out := Event{ID: ev.ID, Type: string(ev.Type), Outcome: OutcomeIgnored}

	var cs stripe.CheckoutSession
	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired:
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return Event{}, fmt.Errorf("%w: checkout session payload: %w", errs.ErrValidation, err)
		}
	default:
		return out, nil
	}

	out.SessionRef = cs.ID
	out.AmountTotal = cs.AmountTotal
	out.Currency = string(cs.Currency)

	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			out.Outcome = OutcomeCompleted
		}
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		out.Outcome = OutcomeCompleted
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		out.Outcome = OutcomePaymentFailed
	case stripe.EventTypeCheckoutSessionExpired:
		out.Outcome = OutcomeExpired
	}
	if out.SessionRef == "" {
		out.Outcome = OutcomeIgnored
	}
	return out, nil
}
