package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"affiliate-finance/pkg/errutil"
	"affiliate-finance/services/directory"
	"affiliate-finance/services/finance"
)

func configureMercadoPago(t *testing.T, s *stack, baseURL string) {
	t.Helper()
	_, err := s.service.ConfigureGateway(context.Background(),
		GatewayMercadoPago, "APP_USR-token", "", "",
		map[string]any{"api_base_url": baseURL})
	require.NoError(t, err)
}

func mpWebhook(topic, paymentID string) []byte {
	payload, _ := json.Marshal(map[string]any{
		"topic": topic,
		"data":  map[string]any{"id": paymentID},
	})
	return payload
}

func TestMercadoPagoCreatePayment(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	seedOrder(t, s.db, "order-1", directory.OrderProcessing, decimal.NewFromInt(180))

	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/payments", r.URL.Path)
		require.Equal(t, "Bearer APP_USR-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":987654,"status":"pending","status_detail":"pending_waiting_payment"}`)
	}))
	defer server.Close()
	configureMercadoPago(t, s, server.URL)

	result, err := s.service.ProcessPayment(ctx, GatewayMercadoPago, "order-1", decimal.NewFromFloat(179.99), "boleto", CustomerDetails{
		Email:          "buyer@example.com",
		FirstName:      "Maria",
		LastName:       "Silva",
		DocumentType:   "CPF",
		DocumentNumber: "12345678909",
	})
	require.NoError(t, err)
	require.Equal(t, "987654", result.ExternalID)
	require.Equal(t, StatusPending, result.Status)
	require.Equal(t, "pending_waiting_payment", result.StatusDetail)

	// boleto is bolbradesco in Mercado Pago's vocabulary.
	require.Equal(t, "bolbradesco", gotBody["payment_method_id"])
	require.Equal(t, "order-1", gotBody["external_reference"])
	payer := gotBody["payer"].(map[string]any)
	require.Equal(t, "buyer@example.com", payer["email"])
	require.Equal(t, "Maria", payer["first_name"])
	identification := payer["identification"].(map[string]any)
	require.Equal(t, "CPF", identification["type"])

	transaction, err := s.service.GetTransaction(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "987654", transaction.GatewayTransactionID)
	require.Equal(t, "boleto", transaction.PaymentMethod)
}

func TestMercadoPagoCreatePaymentProviderError(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	seedOrder(t, s.db, "order-1", directory.OrderProcessing, decimal.NewFromInt(180))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"invalid card token"}`)
	}))
	defer server.Close()
	configureMercadoPago(t, s, server.URL)

	_, err := s.service.ProcessPayment(ctx, GatewayMercadoPago, "order-1", decimal.NewFromInt(50), "credit_card", CustomerDetails{CardToken: "bad"})
	require.Equal(t, errutil.StatusExternalProvider, errutil.StatusOf(err))
	require.ErrorContains(t, err, "invalid card token")

	var count int64
	require.NoError(t, s.db.Model(&Transaction{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestMercadoPagoWebhookApproved(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	seedOrder(t, s.db, "order-1", directory.OrderDelivered, decimal.NewFromInt(180))
	seedAffiliateSale(t, s.db, "aff-1", "sale-1", "order-1", decimal.NewFromInt(18))

	paymentStatus := "pending"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payments":
			fmt.Fprint(w, `{"id":987654,"status":"pending","status_detail":"pending_waiting_payment"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/v1/payments/987654":
			fmt.Fprintf(w, `{"id":987654,"status":%q,"status_detail":"accredited","external_reference":"order-1","transaction_amount":180,"payment_method_id":"pix"}`, paymentStatus)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()
	configureMercadoPago(t, s, server.URL)

	result, err := s.service.ProcessPayment(ctx, GatewayMercadoPago, "order-1", decimal.NewFromInt(180), "pix", CustomerDetails{})
	require.NoError(t, err)

	paymentStatus = "approved"
	webhook, err := s.service.ProcessWebhook(ctx, GatewayMercadoPago, mpWebhook("payment", "987654"), nil)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, webhook.Status)
	require.Equal(t, result.TransactionID, webhook.TransactionID)

	transaction, err := s.service.GetTransaction(ctx, result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, transaction.Status)

	balance, err := s.finance.GetBalance(ctx, "aff-1")
	require.NoError(t, err)
	require.True(t, balance.CurrentBalance.Equal(decimal.NewFromInt(18)))

	// Replay changes nothing.
	_, err = s.service.ProcessWebhook(ctx, GatewayMercadoPago, mpWebhook("payment", "987654"), nil)
	require.NoError(t, err)

	var commissions int64
	require.NoError(t, s.db.Model(&finance.Transaction{}).Count(&commissions).Error)
	require.EqualValues(t, 1, commissions)
}

func TestMercadoPagoWebhookReconciliationFallback(t *testing.T) {
	s := newTestStack(t)
	ctx := context.Background()
	seedOrder(t, s.db, "order-1", directory.OrderDelivered, decimal.NewFromInt(300))
	seedAffiliateSale(t, s.db, "aff-1", "sale-1", "order-1", decimal.NewFromInt(30))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":555,"status":"approved","status_detail":"accredited","external_reference":"order-1","transaction_amount":300,"payment_method_id":"pix"}`)
	}))
	defer server.Close()
	configureMercadoPago(t, s, server.URL)

	// No local transaction exists for this payment; the adapter adopts it
	// from the order reference.
	webhook, err := s.service.ProcessWebhook(ctx, GatewayMercadoPago, mpWebhook("payment", "555"), nil)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, webhook.Status)

	transaction, err := s.service.GetTransaction(ctx, webhook.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "order-1", transaction.OrderID)
	require.Equal(t, "555", transaction.GatewayTransactionID)
	require.Equal(t, StatusApproved, transaction.Status)
	require.True(t, transaction.Amount.Equal(decimal.NewFromInt(300)))

	// The linked sale's commission is posted exactly once.
	balance, err := s.finance.GetBalance(ctx, "aff-1")
	require.NoError(t, err)
	require.True(t, balance.CurrentBalance.Equal(decimal.NewFromInt(30)))

	_, err = s.service.ProcessWebhook(ctx, GatewayMercadoPago, mpWebhook("payment", "555"), nil)
	require.NoError(t, err)

	var commissions int64
	require.NoError(t, s.db.Model(&finance.Transaction{}).Count(&commissions).Error)
	require.EqualValues(t, 1, commissions)
}

func TestMercadoPagoWebhookUnknownReference(t *testing.T) {
	s := newTestStack(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":555,"status":"approved","external_reference":"order-missing","transaction_amount":300}`)
	}))
	defer server.Close()
	configureMercadoPago(t, s, server.URL)

	_, err := s.service.ProcessWebhook(context.Background(), GatewayMercadoPago, mpWebhook("payment", "555"), nil)
	require.Equal(t, errutil.StatusNotFound, errutil.StatusOf(err))
}

func TestMercadoPagoWebhookIgnoredTopic(t *testing.T) {
	s := newTestStack(t)
	configureMercadoPago(t, s, "http://127.0.0.1:0")

	webhook, err := s.service.ProcessWebhook(context.Background(), GatewayMercadoPago, mpWebhook("merchant_order", "1"), nil)
	require.NoError(t, err)
	require.True(t, webhook.Skipped)

	_, err = s.service.ProcessWebhook(context.Background(), GatewayMercadoPago, []byte(`{}`), nil)
	require.Equal(t, errutil.StatusValidationFailed, errutil.StatusOf(err))
}
