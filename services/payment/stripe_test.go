package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"affiliate-finance/pkg/errutil"
	"affiliate-finance/services/directory"
	"affiliate-finance/services/finance"
)

func configureStripe(t *testing.T, s *stack, baseURL string) {
	t.Helper()
	_, err := s.service.ConfigureGateway(context.Background(),
		GatewayStripe, "pk_test", "sk_test", "whsec_test",
		map[string]any{"api_base_url": baseURL})
	require.NoError(t, err)
}

func TestStripeCreatePayment(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	seedOrder(t, s.db, "order-1", directory.OrderProcessing, decimal.NewFromInt(250))

	var gotForm map[string]string
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payment_intents", r.URL.Path)
		require.NoError(t, r.ParseForm())

		gotAuth = r.Header.Get("Authorization")
		gotForm = map[string]string{
			"amount":                 r.PostFormValue("amount"),
			"currency":               r.PostFormValue("currency"),
			"payment_method_types[]": r.PostFormValue("payment_method_types[]"),
			"metadata[order_id]":     r.PostFormValue("metadata[order_id]"),
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_123","client_secret":"cs_secret","status":"requires_payment_method"}`)
	}))
	defer server.Close()
	configureStripe(t, s, server.URL)

	result, err := s.service.ProcessPayment(ctx, GatewayStripe, "order-1", decimal.NewFromFloat(99.90), "credit_card", CustomerDetails{Email: "buyer@example.com"})
	require.NoError(t, err)
	require.Equal(t, "pi_123", result.ExternalID)
	require.Equal(t, StatusPending, result.Status)
	require.Equal(t, "cs_secret", result.ClientSecret)

	require.Equal(t, "Bearer sk_test", gotAuth)
	require.Equal(t, "9990", gotForm["amount"])
	require.Equal(t, "brl", gotForm["currency"])
	require.Equal(t, "card", gotForm["payment_method_types[]"])
	require.Equal(t, "order-1", gotForm["metadata[order_id]"])

	transaction, err := s.service.GetTransaction(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, transaction.Status)
	require.Equal(t, "pi_123", transaction.GatewayTransactionID)
	require.True(t, transaction.Amount.Equal(decimal.NewFromFloat(99.90)))

	var details map[string]any
	require.NoError(t, json.Unmarshal(transaction.PaymentDetails, &details))
	require.Equal(t, "cs_secret", details["client_secret"])
}

func TestStripeCreatePaymentProviderError(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	seedOrder(t, s.db, "order-1", directory.OrderProcessing, decimal.NewFromInt(250))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, `{"error":{"message":"Your card was declined."}}`)
	}))
	defer server.Close()
	configureStripe(t, s, server.URL)

	result, err := s.service.ProcessPayment(ctx, GatewayStripe, "order-1", decimal.NewFromInt(50), "credit_card", CustomerDetails{})
	require.Nil(t, result)
	require.Equal(t, errutil.StatusExternalProvider, errutil.StatusOf(err))
	require.ErrorContains(t, err, "declined")

	// No pending row is left behind for the failed attempt.
	var count int64
	require.NoError(t, s.db.Model(&Transaction{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestStripeCreatePaymentOrderNotFound(t *testing.T) {
	s := newTestStack(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("provider must not be called for an unknown order")
	}))
	defer server.Close()
	configureStripe(t, s, server.URL)

	_, err := s.service.ProcessPayment(context.Background(), GatewayStripe, "missing", decimal.NewFromInt(50), "pix", CustomerDetails{})
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestStripeConfigMissing(t *testing.T) {
	s := newTestStack(t)

	err := s.stripe.InitializeClient(context.Background())
	require.Equal(t, errutil.StatusGatewayConfig, errutil.StatusOf(err))
}

func stripeWebhook(eventType, intentID string, extra map[string]any) []byte {
	object := map[string]any{"id": intentID}
	for k, v := range extra {
		object[k] = v
	}
	payload, _ := json.Marshal(map[string]any{
		"type": eventType,
		"data": map[string]any{"object": object},
	})
	return payload
}

func stripeSignedAt(payload []byte, secret string, at time.Time) http.Header {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%s", timestamp, payload)

	header := http.Header{}
	header.Set("Stripe-Signature",
		fmt.Sprintf("t=%s,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil))))
	return header
}

func stripeSigned(payload []byte, secret string) http.Header {
	return stripeSignedAt(payload, secret, time.Now())
}

func TestStripeWebhookApprovedPostsCommission(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	seedOrder(t, s.db, "order-1", directory.OrderDelivered, decimal.NewFromInt(250))
	seedAffiliateSale(t, s.db, "aff-1", "sale-1", "order-1", decimal.NewFromInt(25))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_123","client_secret":"cs_secret","status":"requires_payment_method"}`)
	}))
	defer server.Close()
	configureStripe(t, s, server.URL)

	result, err := s.service.ProcessPayment(ctx, GatewayStripe, "order-1", decimal.NewFromInt(250), "pix", CustomerDetails{})
	require.NoError(t, err)

	payload := stripeWebhook("payment_intent.succeeded", "pi_123", nil)
	webhook, err := s.service.ProcessWebhook(ctx, GatewayStripe, payload, stripeSigned(payload, "whsec_test"))
	require.NoError(t, err)
	require.Equal(t, StatusApproved, webhook.Status)
	require.False(t, webhook.Skipped)

	transaction, err := s.service.GetTransaction(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, transaction.Status)

	balance, err := s.finance.GetBalance(ctx, "aff-1")
	require.NoError(t, err)
	require.True(t, balance.CurrentBalance.Equal(decimal.NewFromInt(25)))

	// At-least-once delivery: the replay is a no-op.
	replay, err := s.service.ProcessWebhook(ctx, GatewayStripe, payload, stripeSigned(payload, "whsec_test"))
	require.NoError(t, err)
	require.Equal(t, StatusApproved, replay.Status)

	balance, err = s.finance.GetBalance(ctx, "aff-1")
	require.NoError(t, err)
	require.True(t, balance.CurrentBalance.Equal(decimal.NewFromInt(25)))

	var commissions int64
	require.NoError(t, s.db.Model(&finance.Transaction{}).Count(&commissions).Error)
	require.EqualValues(t, 1, commissions)
}

func TestStripeWebhookPaymentFailed(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	seedOrder(t, s.db, "order-1", directory.OrderProcessing, decimal.NewFromInt(250))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"pi_123","client_secret":"cs_secret","status":"requires_payment_method"}`)
	}))
	defer server.Close()
	configureStripe(t, s, server.URL)

	result, err := s.service.ProcessPayment(ctx, GatewayStripe, "order-1", decimal.NewFromInt(250), "pix", CustomerDetails{})
	require.NoError(t, err)

	payload := stripeWebhook("payment_intent.payment_failed", "pi_123", map[string]any{
		"last_payment_error": map[string]any{"message": "insufficient funds"},
	})
	webhook, err := s.service.ProcessWebhook(ctx, GatewayStripe, payload, stripeSigned(payload, "whsec_test"))
	require.NoError(t, err)
	require.Equal(t, StatusRefused, webhook.Status)

	transaction, err := s.service.GetTransaction(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, StatusRefused, transaction.Status)

	// Webhook detail accumulates; the original client secret survives.
	var details map[string]any
	require.NoError(t, json.Unmarshal(transaction.PaymentDetails, &details))
	require.Equal(t, "insufficient funds", details["error_message"])
	require.Equal(t, "payment_intent.payment_failed", details["webhook_event"])
	require.Equal(t, "cs_secret", details["client_secret"])
}

func TestStripeWebhookIgnoredEvent(t *testing.T) {
	s := newTestStack(t)
	configureStripe(t, s, "http://127.0.0.1:0")

	payload := stripeWebhook("charge.updated", "ch_1", nil)
	webhook, err := s.service.ProcessWebhook(context.Background(), GatewayStripe,
		payload, stripeSigned(payload, "whsec_test"))
	require.NoError(t, err)
	require.True(t, webhook.Skipped)
}

func TestStripeWebhookUnknownIntent(t *testing.T) {
	s := newTestStack(t)
	configureStripe(t, s, "http://127.0.0.1:0")

	payload := stripeWebhook("payment_intent.succeeded", "pi_missing", nil)
	_, err := s.service.ProcessWebhook(context.Background(), GatewayStripe,
		payload, stripeSigned(payload, "whsec_test"))
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestStripeWebhookSignatureVerification(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	configureStripe(t, s, "http://127.0.0.1:0")

	payload := stripeWebhook("payment_intent.succeeded", "pi_123", nil)

	// No signature header at all.
	_, err := s.service.ProcessWebhook(ctx, GatewayStripe, payload, nil)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	// Signed with a different secret.
	_, err = s.service.ProcessWebhook(ctx, GatewayStripe, payload, stripeSigned(payload, "whsec_other"))
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	// Valid signature over a different payload.
	tampered := stripeWebhook("payment_intent.succeeded", "pi_evil", nil)
	_, err = s.service.ProcessWebhook(ctx, GatewayStripe, tampered, stripeSigned(payload, "whsec_test"))
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	// Correctly signed, but far outside the replay tolerance.
	stale := stripeSignedAt(payload, "whsec_test", time.Now().Add(-time.Hour))
	_, err = s.service.ProcessWebhook(ctx, GatewayStripe, payload, stale)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))

	// Garbage header.
	header := http.Header{}
	header.Set("Stripe-Signature", "not-a-signature")
	_, err = s.service.ProcessWebhook(ctx, GatewayStripe, payload, header)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
}

func TestStripeWebhookUnsignedWithoutSecret(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()

	// No webhook secret configured: deliveries are accepted unsigned.
	_, err := s.service.ConfigureGateway(ctx, GatewayStripe, "pk_test", "sk_test", "",
		map[string]any{"api_base_url": "http://127.0.0.1:0"})
	require.NoError(t, err)

	webhook, err := s.service.ProcessWebhook(ctx, GatewayStripe,
		stripeWebhook("charge.updated", "ch_1", nil), nil)
	require.NoError(t, err)
	require.True(t, webhook.Skipped)
}
