package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"affiliate-finance/pkg/errutil"
)

const mercadoPagoAPIBaseURL = "https://api.mercadopago.com"

// MercadoPagoGateway integrates the Mercado Pago payments API.
type MercadoPagoGateway struct {
	adapter

	client *resty.Client
}

func NewMercadoPagoGateway(p GatewayParams) *MercadoPagoGateway {
	return &MercadoPagoGateway{adapter: newAdapter(GatewayMercadoPago, p)}
}

func (g *MercadoPagoGateway) InitializeClient(ctx context.Context) error {
	cfg, err := g.Config(ctx)
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return errutil.GatewayConfig("mercado pago access token is not configured", nil)
	}

	g.client = resty.New().
		SetBaseURL(g.baseURL(cfg, mercadoPagoAPIBaseURL)).
		SetAuthToken(cfg.APIKey).
		SetTimeout(g.timeout)
	return nil
}

type mpPayment struct {
	ID                json.Number     `json:"id"`
	Status            string          `json:"status"`
	StatusDetail      string          `json:"status_detail"`
	ExternalReference string          `json:"external_reference"`
	TransactionAmount decimal.Decimal `json:"transaction_amount"`
	PaymentMethodID   string          `json:"payment_method_id"`
}

type mpErrorResponse struct {
	Message string `json:"message"`
}

type mpNotification struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  struct {
		ID string `json:"id"`
	} `json:"data"`
}

// mpMethod translates the generic payment method into Mercado Pago's
// payment_method_id vocabulary.
func mpMethod(paymentMethod string) string {
	if paymentMethod == "boleto" {
		return "bolbradesco"
	}
	return paymentMethod
}

func mpStatus(providerStatus string) string {
	switch providerStatus {
	case "approved":
		return StatusApproved
	case "rejected", "cancelled":
		return StatusRefused
	case "refunded":
		return StatusRefunded
	default:
		return StatusPending
	}
}

func (g *MercadoPagoGateway) CreatePayment(ctx context.Context, orderID string, amount decimal.Decimal, paymentMethod string, customer CustomerDetails) (*PaymentResult, error) {
	if g.client == nil {
		if err := g.InitializeClient(ctx); err != nil {
			return nil, err
		}
	}

	if _, err := g.directory.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}

	payer := map[string]any{"email": customer.Email}
	if customer.DocumentType != "" && customer.DocumentNumber != "" {
		payer["identification"] = map[string]string{
			"type":   customer.DocumentType,
			"number": customer.DocumentNumber,
		}
	}
	if customer.FirstName != "" {
		payer["first_name"] = customer.FirstName
	}
	if customer.LastName != "" {
		payer["last_name"] = customer.LastName
	}

	installments := customer.Installments
	if installments < 1 {
		installments = 1
	}

	body := map[string]any{
		"transaction_amount": amount,
		"description":        fmt.Sprintf("Order #%s", orderID),
		"payment_method_id":  mpMethod(paymentMethod),
		"payer":              payer,
		"external_reference": orderID,
		"installments":       installments,
	}
	if customer.NotificationURL != "" {
		body["notification_url"] = customer.NotificationURL
	}
	if paymentMethod == "credit_card" || paymentMethod == "debit_card" {
		body["token"] = customer.CardToken
	}

	var payment mpPayment
	var apiErr mpErrorResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&payment).
		SetError(&apiErr).
		Post("/v1/payments")
	if err != nil {
		return nil, errutil.ExternalProvider("mercado pago payment request failed", err)
	}
	if resp.IsError() {
		return nil, errutil.ExternalProvider(
			fmt.Sprintf("mercado pago rejected the payment: %s", apiErr.Message), nil)
	}

	transaction := &Transaction{
		ID:                   g.node.GenerateID().String(),
		OrderID:              orderID,
		Gateway:              g.name,
		Amount:               amount,
		Currency:             "BRL",
		GatewayTransactionID: payment.ID.String(),
		Status:               StatusPending,
		PaymentMethod:        paymentMethod,
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}
	if err := transaction.MergeDetails(map[string]any{
		"payment_id":    payment.ID,
		"status_detail": payment.StatusDetail,
		"customer":      customer,
	}); err != nil {
		return nil, errutil.Internal("failed to encode payment details", err)
	}
	if err := g.transactions.Create(ctx, transaction); err != nil {
		return nil, errutil.Internal("failed to create payment transaction", err)
	}

	return &PaymentResult{
		TransactionID: transaction.ID,
		ExternalID:    payment.ID.String(),
		Status:        StatusPending,
		StatusDetail:  payment.StatusDetail,
	}, nil
}

// ProcessWebhook handles a "payment" notification by querying the provider
// for the payment's current state and reconciling it locally. A payment with
// no local transaction but a resolvable order reference is adopted into a
// new transaction row. The notification body is never trusted directly:
// authenticity comes from the authenticated provider lookup, so the headers
// go unused here.
func (g *MercadoPagoGateway) ProcessWebhook(ctx context.Context, payload []byte, _ http.Header) (*WebhookResult, error) {
	if g.client == nil {
		if err := g.InitializeClient(ctx); err != nil {
			return nil, err
		}
	}

	var notification mpNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, errutil.ValidationFailed("invalid mercado pago webhook payload", err)
	}

	topic := notification.Topic
	if topic == "" {
		topic = notification.Type
	}
	if topic == "" {
		return nil, errutil.ValidationFailed("mercado pago notification topic missing", nil)
	}
	if topic != "payment" {
		return &WebhookResult{Skipped: true, Message: fmt.Sprintf("notification %s ignored", topic)}, nil
	}

	paymentID := notification.Data.ID
	if paymentID == "" {
		return nil, errutil.ValidationFailed("mercado pago payment id missing", nil)
	}

	var payment mpPayment
	var apiErr mpErrorResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetResult(&payment).
		SetError(&apiErr).
		Get("/v1/payments/" + paymentID)
	if err != nil {
		return nil, errutil.ExternalProvider("mercado pago payment lookup failed", err)
	}
	if resp.IsError() {
		return nil, errutil.ExternalProvider(
			fmt.Sprintf("mercado pago payment lookup failed: %s", apiErr.Message), nil)
	}

	newStatus := mpStatus(payment.Status)

	transaction, err := g.findByExternalID(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	created := false
	if transaction == nil {
		// The payment may have been created outside this system; adopt it
		// when its external reference resolves to a known order.
		if payment.ExternalReference == "" {
			return nil, errutil.NotFound(
				fmt.Sprintf("no transaction or external reference for payment %s", paymentID), nil)
		}
		order, err := g.directory.GetOrder(ctx, payment.ExternalReference)
		if err != nil {
			return nil, err
		}

		transaction = &Transaction{
			ID:                   g.node.GenerateID().String(),
			OrderID:              order.ID,
			Gateway:              g.name,
			Amount:               payment.TransactionAmount,
			Currency:             "BRL",
			GatewayTransactionID: paymentID,
			Status:               StatusPending,
			PaymentMethod:        payment.PaymentMethodID,
			CreatedAt:            time.Now(),
			UpdatedAt:            time.Now(),
		}
		created = true
	}

	result := &WebhookResult{
		TransactionID: transaction.ID,
		ExternalID:    paymentID,
		Status:        newStatus,
	}

	// Replayed delivery of an already-applied transition.
	if !created && transaction.Status == newStatus {
		return result, nil
	}

	if err := transaction.MergeDetails(map[string]any{
		"webhook_topic":         topic,
		"payment_status":        payment.Status,
		"payment_status_detail": payment.StatusDetail,
	}); err != nil {
		return nil, errutil.Internal("failed to encode payment details", err)
	}
	transaction.Status = newStatus
	transaction.UpdatedAt = time.Now()

	if created {
		if err := g.transactions.Create(ctx, transaction); err != nil {
			return nil, errutil.Internal("failed to create payment transaction", err)
		}
	} else {
		if err := g.transactions.Update(ctx, transaction.ID, map[string]any{
			"status":          newStatus,
			"payment_details": transaction.PaymentDetails,
			"updated_at":      transaction.UpdatedAt,
		}); err != nil {
			return nil, errutil.Internal("failed to update payment transaction", err)
		}
	}

	if newStatus == StatusApproved {
		g.triggerCommission(ctx, transaction.OrderID)
	}

	zap.L().Info("mercado pago webhook processed",
		zap.String("payment_id", paymentID),
		zap.String("status", newStatus))

	return result, nil
}
