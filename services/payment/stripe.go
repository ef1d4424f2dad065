package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"affiliate-finance/pkg/errutil"
)

const (
	stripeAPIBaseURL = "https://api.stripe.com/v1"

	// stripeSignatureTolerance bounds the age of a signed webhook delivery.
	stripeSignatureTolerance = 5 * time.Minute
)

// StripeGateway integrates the Stripe payment-intent API.
type StripeGateway struct {
	adapter

	client        *resty.Client
	webhookSecret string
}

func NewStripeGateway(p GatewayParams) *StripeGateway {
	return &StripeGateway{adapter: newAdapter(GatewayStripe, p)}
}

func (g *StripeGateway) InitializeClient(ctx context.Context) error {
	cfg, err := g.Config(ctx)
	if err != nil {
		return err
	}
	// Stripe authenticates with the secret key.
	if cfg.APISecret == "" {
		return errutil.GatewayConfig("stripe api secret is not configured", nil)
	}

	g.client = resty.New().
		SetBaseURL(g.baseURL(cfg, stripeAPIBaseURL)).
		SetAuthToken(cfg.APISecret).
		SetTimeout(g.timeout)
	g.webhookSecret = cfg.WebhookSecret
	return nil
}

type stripePaymentIntent struct {
	ID               string `json:"id"`
	ClientSecret     string `json:"client_secret"`
	Status           string `json:"status"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type stripeEvent struct {
	Type string `json:"type"`
	Data struct {
		Object stripePaymentIntent `json:"object"`
	} `json:"data"`
}

// verifyStripeSignature checks the Stripe-Signature header against the
// webhook signing secret: HMAC-SHA256 over "<t>.<payload>" must match one of
// the v1 signatures, and the timestamp must be within tolerance.
func verifyStripeSignature(payload []byte, header, secret string, now time.Time) error {
	if header == "" {
		return errutil.ValidationFailed("stripe webhook signature missing", nil)
	}

	var timestamp string
	var signatures [][]byte
	for _, pair := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			decoded, err := hex.DecodeString(value)
			if err != nil {
				continue
			}
			signatures = append(signatures, decoded)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return errutil.ValidationFailed("stripe webhook signature malformed", nil)
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errutil.ValidationFailed("stripe webhook signature malformed", err)
	}
	age := now.Sub(time.Unix(unix, 0))
	if age > stripeSignatureTolerance || age < -stripeSignatureTolerance {
		return errutil.ValidationFailed("stripe webhook signature timestamp outside tolerance", nil)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, signature := range signatures {
		if hmac.Equal(expected, signature) {
			return nil
		}
	}
	return errutil.ValidationFailed("stripe webhook signature mismatch", nil)
}

// stripeMethodTypes translates the generic payment method into Stripe's
// payment_method_types vocabulary.
func stripeMethodTypes(paymentMethod string) string {
	switch paymentMethod {
	case "pix":
		return "pix"
	case "boleto":
		return "boleto"
	default:
		// credit_card and debit_card are both "card" to Stripe.
		return "card"
	}
}

func (g *StripeGateway) CreatePayment(ctx context.Context, orderID string, amount decimal.Decimal, paymentMethod string, customer CustomerDetails) (*PaymentResult, error) {
	if g.client == nil {
		if err := g.InitializeClient(ctx); err != nil {
			return nil, err
		}
	}

	if _, err := g.directory.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}

	// Stripe amounts are in the currency's minor unit.
	amountCents := amount.Mul(decimal.NewFromInt(100)).IntPart()

	var intent stripePaymentIntent
	var apiErr stripeErrorResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"amount":                 strconv.FormatInt(amountCents, 10),
			"currency":               "brl",
			"payment_method_types[]": stripeMethodTypes(paymentMethod),
			"metadata[order_id]":     orderID,
			"description":            fmt.Sprintf("Order #%s", orderID),
			"receipt_email":          customer.Email,
		}).
		SetResult(&intent).
		SetError(&apiErr).
		Post("/payment_intents")
	if err != nil {
		return nil, errutil.ExternalProvider("stripe payment intent request failed", err)
	}
	if resp.IsError() {
		return nil, errutil.ExternalProvider(
			fmt.Sprintf("stripe rejected the payment intent: %s", apiErr.Error.Message), nil)
	}

	transaction := &Transaction{
		ID:                   g.node.GenerateID().String(),
		OrderID:              orderID,
		Gateway:              g.name,
		Amount:               amount,
		Currency:             "BRL",
		GatewayTransactionID: intent.ID,
		Status:               StatusPending,
		PaymentMethod:        paymentMethod,
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}
	if err := transaction.MergeDetails(map[string]any{
		"client_secret": intent.ClientSecret,
		"customer":      customer,
	}); err != nil {
		return nil, errutil.Internal("failed to encode payment details", err)
	}
	if err := g.transactions.Create(ctx, transaction); err != nil {
		return nil, errutil.Internal("failed to create payment transaction", err)
	}

	return &PaymentResult{
		TransactionID: transaction.ID,
		ExternalID:    intent.ID,
		Status:        StatusPending,
		ClientSecret:  intent.ClientSecret,
	}, nil
}

// ProcessWebhook applies a payment_intent.* event to the local transaction.
// Other event kinds are acknowledged without acting on them. The payload is
// only trusted after its signature checks out against the configured
// webhook secret.
func (g *StripeGateway) ProcessWebhook(ctx context.Context, payload []byte, header http.Header) (*WebhookResult, error) {
	if g.client == nil {
		if err := g.InitializeClient(ctx); err != nil {
			return nil, err
		}
	}

	if g.webhookSecret != "" {
		if err := verifyStripeSignature(payload, header.Get("Stripe-Signature"), g.webhookSecret, time.Now()); err != nil {
			return nil, err
		}
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, errutil.ValidationFailed("invalid stripe webhook payload", err)
	}
	if event.Type == "" {
		return nil, errutil.ValidationFailed("stripe webhook event type missing", nil)
	}
	if !strings.HasPrefix(event.Type, "payment_intent.") {
		return &WebhookResult{Skipped: true, Message: fmt.Sprintf("event %s ignored", event.Type)}, nil
	}

	intent := event.Data.Object
	if intent.ID == "" {
		return nil, errutil.ValidationFailed("stripe webhook payment intent id missing", nil)
	}

	transaction, err := g.findByExternalID(ctx, intent.ID)
	if err != nil {
		return nil, err
	}
	if transaction == nil {
		return nil, errutil.NotFound(
			fmt.Sprintf("transaction not found for payment intent %s", intent.ID), nil)
	}

	newStatus := StatusPending
	switch event.Type {
	case "payment_intent.succeeded":
		newStatus = StatusApproved
	case "payment_intent.payment_failed", "payment_intent.canceled":
		newStatus = StatusRefused
	case "payment_intent.refunded":
		newStatus = StatusRefunded
	}

	result := &WebhookResult{
		TransactionID: transaction.ID,
		ExternalID:    intent.ID,
		Status:        newStatus,
	}

	// Replayed delivery of an already-applied transition.
	if transaction.Status == newStatus {
		return result, nil
	}

	details := map[string]any{"webhook_event": event.Type}
	if newStatus == StatusRefused && intent.LastPaymentError != nil {
		details["error_message"] = intent.LastPaymentError.Message
	}
	if err := transaction.MergeDetails(details); err != nil {
		return nil, errutil.Internal("failed to encode payment details", err)
	}

	if err := g.transactions.Update(ctx, transaction.ID, map[string]any{
		"status":          newStatus,
		"payment_details": transaction.PaymentDetails,
		"updated_at":      time.Now(),
	}); err != nil {
		return nil, errutil.Internal("failed to update payment transaction", err)
	}

	if newStatus == StatusApproved {
		g.triggerCommission(ctx, transaction.OrderID)
	}

	zap.L().Info("stripe webhook processed",
		zap.String("event", event.Type),
		zap.String("external_id", intent.ID),
		zap.String("status", newStatus))

	return result, nil
}
