package payment

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
)

// CustomerDetails carries the payer information adapters forward to the
// provider. Fields a provider does not use are ignored by its adapter.
type CustomerDetails struct {
	Email           string `json:"email"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	DocumentType    string `json:"document_type,omitempty"`
	DocumentNumber  string `json:"document_number,omitempty"`
	CardToken       string `json:"card_token,omitempty"`
	Installments    int    `json:"installments,omitempty"`
	NotificationURL string `json:"notification_url,omitempty"`
}

// PaymentResult is the normalized outcome of a payment creation.
type PaymentResult struct {
	TransactionID string `json:"transaction_id"`
	ExternalID    string `json:"external_id"`
	Status        string `json:"status"`
	ClientSecret  string `json:"client_secret,omitempty"`
	StatusDetail  string `json:"status_detail,omitempty"`
}

// WebhookResult is the normalized outcome of a webhook ingestion. Skipped
// marks event kinds the adapter acknowledges without acting on.
type WebhookResult struct {
	TransactionID string `json:"transaction_id,omitempty"`
	ExternalID    string `json:"external_id,omitempty"`
	Status        string `json:"status,omitempty"`
	Skipped       bool   `json:"skipped,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Gateway is the contract every provider integration satisfies. Expected
// failures come back as errutil errors; adapters never panic on provider or
// payload problems.
type Gateway interface {
	// Name returns the registry key, lowercase.
	Name() string

	// Config loads the active credential row for this gateway.
	Config(ctx context.Context) (*GatewayConfig, error)

	// InitializeClient builds the provider client from the active config.
	// Must be called before CreatePayment or ProcessWebhook.
	InitializeClient(ctx context.Context) error

	// CreatePayment submits a payment for an order and persists the pending
	// transaction keyed by the provider's external id.
	CreatePayment(ctx context.Context, orderID string, amount decimal.Decimal, paymentMethod string, customer CustomerDetails) (*PaymentResult, error)

	// ProcessWebhook reconciles an asynchronous provider notification into
	// the local transaction, idempotently under at-least-once delivery.
	// header carries the delivery's HTTP headers so adapters can
	// authenticate the payload before trusting it.
	ProcessWebhook(ctx context.Context, payload []byte, header http.Header) (*WebhookResult, error)
}
