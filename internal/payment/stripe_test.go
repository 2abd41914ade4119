package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/picpaygo/internal/errs"
	"github.com/and161185/picpaygo/internal/model"
)

const testSecret = "whsec_test"

func sign(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts, payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func eventJSON(typ, sessionID, paymentStatus string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": "evt_1",
  "object": "event",
  "type": %q,
  "data": {"object": {"id": %q, "object": "checkout.session", "payment_status": %q, "amount_total": 500, "currency": "usd"}}
}`, typ, sessionID, paymentStatus))
}

func TestStripe_ParseEvent_Outcomes(t *testing.T) {
	p := NewStripe("", testSecret)
	cases := []struct {
		typ, status string
		want        Outcome
	}{
		{"checkout.session.completed", "paid", OutcomeCompleted},
		{"checkout.session.completed", "unpaid", OutcomeIgnored},
		{"checkout.session.async_payment_succeeded", "paid", OutcomeCompleted},
		{"checkout.session.async_payment_failed", "unpaid", OutcomePaymentFailed},
		{"checkout.session.expired", "unpaid", OutcomeExpired},
		{"customer.created", "", OutcomeIgnored},
	}
	for _, tc := range cases {
		t.Run(tc.typ+"/"+tc.status, func(t *testing.T) {
			payload := eventJSON(tc.typ, "cs_123", tc.status)
			ev, err := p.ParseEvent(payload, sign(payload, testSecret))
			require.NoError(t, err)
			require.Equal(t, tc.want, ev.Outcome)
			if tc.want != OutcomeIgnored {
				require.Equal(t, "cs_123", ev.SessionRef)
				require.Equal(t, int64(500), ev.AmountTotal)
				require.Equal(t, "usd", ev.Currency)
			}
		})
	}
}

func TestStripe_ParseEvent_BadSignature(t *testing.T) {
	p := NewStripe("", testSecret)
	payload := eventJSON("checkout.session.completed", "cs_1", "paid")

	_, err := p.ParseEvent(payload, sign(payload, "whsec_other"))
	require.ErrorIs(t, err, errs.ErrInvalidSignature)

	_, err = p.ParseEvent(payload, "")
	require.ErrorIs(t, err, errs.ErrInvalidSignature)

	_, err = NewStripe("", "").ParseEvent(payload, sign(payload, testSecret))
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrInvalidSignature)
}

func TestStripe_CreateCheckout_RequiresKeyAndPrice(t *testing.T) {
	_, err := NewStripe("", testSecret).CreateCheckout(context.Background(), CheckoutRequest{})
	require.ErrorIs(t, err, errs.ErrProviderUnavailable)

	_, err = NewStripe("sk_test_x", testSecret).CreateCheckout(context.Background(),
		CheckoutRequest{Pack: model.Pack{ID: "pack_2_5", Credits: 5}})
	require.ErrorIs(t, err, errs.ErrValidation)
}
