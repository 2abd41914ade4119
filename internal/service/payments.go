package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
	"github.com/and161185/picpaygo/internal/observability"
	"github.com/and161185/picpaygo/internal/payment"
	"github.com/and161185/picpaygo/internal/repository"
)

// EventResult says what handling an event did.
type EventResult string

const (
	EventFulfilled EventResult = "fulfilled"
	EventDuplicate EventResult = "duplicate"
	EventCanceled  EventResult = "canceled"
	EventFailed    EventResult = "failed"
	EventIgnored   EventResult = "ignored"
)

// AttemptRequest records a checkout the provider has already issued.
type AttemptRequest struct {
	AccountID   uuid.UUID
	PackID      string
	Credits     int64
	ExternalRef string
	AmountTotal int64
	Currency    string
}

// Payments sells credit packs and fulfills provider events exactly once.
type Payments struct {
	provider    payment.Provider
	payments    repository.PaymentRepository
	accounts    repository.AccountRepository
	packs       []model.Pack
	frontendURL string
	log         *zap.Logger
}

// NewPayments constructs the payment service. provider may be nil when payments are disabled.
func NewPayments(provider payment.Provider, payments repository.PaymentRepository, accounts repository.AccountRepository, packs []model.Pack, frontendURL string, log *zap.Logger) *Payments {
	return &Payments{provider: provider, payments: payments, accounts: accounts, packs: packs, frontendURL: frontendURL, log: log}
}

// Packs lists the catalog.
func (p *Payments) Packs() []model.Pack { return append([]model.Pack(nil), p.packs...) }

// Pack looks up a pack by id.
func (p *Payments) Pack(id string) (model.Pack, bool) {
	for _, pk := range p.packs {
		if pk.ID == id {
			return pk, true
		}
	}
	return model.Pack{}, false
}

// Checkout opens a provider checkout for packID and records the attempt.
func (p *Payments) Checkout(ctx context.Context, accountID uuid.UUID, packID string) (payment.Checkout, error) {
	if p.provider == nil {
		return payment.Checkout{}, fmt.Errorf("payments disabled: %w", errs.ErrProviderUnavailable)
	}
	pack, ok := p.Pack(packID)
	if !ok {
		return payment.Checkout{}, fmt.Errorf("%w: unknown pack %q", errs.ErrValidation, packID)
	}
	acct, err := p.accounts.GetByID(ctx, accountID)
	if err != nil {
		return payment.Checkout{}, err
	}

	co, err := p.provider.CreateCheckout(ctx, payment.CheckoutRequest{
		AccountID:  acct.ID,
		Email:      acct.Email,
		Pack:       pack,
		SuccessURL: p.frontendURL + "/account?checkout=success&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  p.frontendURL + "/account?checkout=cancel",
	})
	if err != nil {
		return payment.Checkout{}, err
	}
	amount, currency := co.AmountTotal, co.Currency
	if amount == 0 {
		amount, currency = pack.AmountTotal, pack.Currency
	}
	if _, err := p.RecordAttempt(ctx, AttemptRequest{
		AccountID:   acct.ID,
		PackID:      pack.ID,
		Credits:     pack.Credits,
		ExternalRef: co.SessionRef,
		AmountTotal: amount,
		Currency:    currency,
	}); err != nil {
		return payment.Checkout{}, err
	}
	return co, nil
}

// RecordAttempt stores a purchase attempt in status created.
func (p *Payments) RecordAttempt(ctx context.Context, req AttemptRequest) (*model.PurchaseAttempt, error) {
	if req.AccountID == uuid.Nil {
		return nil, errs.ErrInvalidOwner
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	a := &model.PurchaseAttempt{
		ID:          id,
		AccountID:   req.AccountID,
		PackID:      req.PackID,
		Credits:     req.Credits,
		ExternalRef: req.ExternalRef,
		AmountTotal: req.AmountTotal,
		Currency:    req.Currency,
	}
	if err := p.payments.CreateAttempt(ctx, a); err != nil {
		return nil, fmt.Errorf("record purchase: %w", err)
	}
	p.log.Info("purchase attempt recorded",
		zap.String("account_id", a.AccountID.String()),
		zap.String("pack_id", a.PackID),
		zap.String("session", a.ExternalRef),
	)
	return a, nil
}

// HandleProviderEvent authenticates payload and applies it. Bad signatures
// return errs.ErrInvalidSignature and change nothing.
func (p *Payments) HandleProviderEvent(ctx context.Context, payload []byte, signature string) (EventResult, error) {
	if p.provider == nil {
		return "", fmt.Errorf("payments disabled: %w", errs.ErrProviderUnavailable)
	}
	ev, err := p.provider.ParseEvent(payload, signature)
	if err != nil {
		observability.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return "", err
	}
	return p.Apply(ctx, ev)
}

// Apply acts on a verified event. Redelivered completions are reported as
// EventDuplicate without side effects. An event for an unknown attempt is
// rejected with errs.ErrNotFound.
func (p *Payments) Apply(ctx context.Context, ev payment.Event) (res EventResult, err error) {
	ctx, span := observability.StartSpan(ctx, "payments.apply",
		attribute.String("event.type", ev.Type),
		attribute.String("payment.session", ev.SessionRef),
	)
	defer func() {
		result := string(res)
		if err != nil {
			result = "error"
		}
		observability.WebhookEvents.WithLabelValues(string(ev.Outcome), result).Inc()
		observability.EndSpan(span, err)
	}()

	log := p.log.With(zap.String("event_id", ev.ID), zap.String("session", ev.SessionRef))
	switch ev.Outcome {
	case payment.OutcomeCompleted:
		att, bal, err := p.payments.Fulfill(ctx, ev.SessionRef, ev.AmountTotal, ev.Currency)
		switch {
		case errors.Is(err, errs.ErrDuplicatePurchaseEvent):
			log.Info("duplicate fulfillment ignored")
			return EventDuplicate, nil
		case err != nil:
			return "", fmt.Errorf("fulfill %s: %w", ev.SessionRef, err)
		}
		log.Info("purchase fulfilled",
			zap.String("account_id", att.AccountID.String()),
			zap.Int64("credits", att.Credits),
			zap.Int64("balance", bal),
		)
		observability.CreditsGranted.WithLabelValues(string(model.ReasonPurchase)).Add(float64(att.Credits))
		return EventFulfilled, nil

	case payment.OutcomeExpired, payment.OutcomePaymentFailed:
		status, result := model.PurchaseCanceled, EventCanceled
		if ev.Outcome == payment.OutcomePaymentFailed {
			status, result = model.PurchaseFailed, EventFailed
		}
		err := p.payments.MarkStatus(ctx, ev.SessionRef, status)
		switch {
		case errors.Is(err, errs.ErrDuplicatePurchaseEvent):
			return EventDuplicate, nil
		case errors.Is(err, errs.ErrInvalidTransition):
			// a late expiry after fulfillment changes nothing
			log.Info("status event ignored", zap.Error(err))
			return EventIgnored, nil
		case err != nil:
			return "", fmt.Errorf("mark %s %s: %w", ev.SessionRef, status, err)
		}
		log.Info("purchase closed", zap.String("status", string(status)))
		return result, nil
	}
	return EventIgnored, nil
}
