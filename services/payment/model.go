package payment

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Built-in gateway names.
const (
	GatewayStripe      = "stripe"
	GatewayMercadoPago = "mercado_pago"
)

// Payment transaction statuses. pending is the initial state; webhooks drive
// the transitions.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRefused  = "refused"
	StatusRefunded = "refunded"
)

// GatewayConfig stores credentials for one gateway. At most one row per
// gateway_name is active; replacing a config deactivates the previous rows
// instead of mutating them.
type GatewayConfig struct {
	ID            string         `gorm:"column:id;primaryKey" json:"id"`
	GatewayName   string         `gorm:"column:gateway_name;index" json:"gateway_name"`
	IsActive      bool           `gorm:"column:is_active" json:"is_active"`
	APIKey        string         `gorm:"column:api_key" json:"-"`
	APISecret     string         `gorm:"column:api_secret" json:"-"`
	WebhookSecret string         `gorm:"column:webhook_secret" json:"-"`
	Configuration datatypes.JSON `gorm:"column:configuration" json:"configuration,omitempty"`
	CreatedAt     time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (GatewayConfig) TableName() string { return "payment_gateway_configs" }

// Extra returns the free-form configuration blob as a map.
func (c *GatewayConfig) Extra() map[string]any {
	extra := map[string]any{}
	if len(c.Configuration) > 0 {
		_ = json.Unmarshal(c.Configuration, &extra)
	}
	return extra
}

// Transaction records one external payment attempt. The gateway-assigned
// transaction id is unique and serves as the idempotency key for webhook
// replays.
type Transaction struct {
	ID                   string          `gorm:"column:id;primaryKey" json:"id"`
	OrderID              string          `gorm:"column:order_id;index" json:"order_id"`
	Gateway              string          `gorm:"column:gateway;index" json:"gateway"`
	Amount               decimal.Decimal `gorm:"column:amount;type:decimal(18,2)" json:"amount"`
	Currency             string          `gorm:"column:currency" json:"currency"`
	GatewayTransactionID string          `gorm:"column:gateway_transaction_id;uniqueIndex" json:"gateway_transaction_id"`
	Status               string          `gorm:"column:status;index" json:"status"`
	PaymentMethod        string          `gorm:"column:payment_method" json:"payment_method"`
	PaymentDetails       datatypes.JSON  `gorm:"column:payment_details" json:"payment_details,omitempty"`
	CreatedAt            time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt            time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (Transaction) TableName() string { return "payment_transactions" }

// MergeDetails folds extra keys into the payment details blob. Existing keys
// are only replaced when the new payload carries them; history accumulates
// rather than being overwritten.
func (t *Transaction) MergeDetails(extra map[string]any) error {
	details := map[string]any{}
	if len(t.PaymentDetails) > 0 {
		if err := json.Unmarshal(t.PaymentDetails, &details); err != nil {
			return err
		}
	}
	for k, v := range extra {
		details[k] = v
	}

	merged, err := json.Marshal(details)
	if err != nil {
		return err
	}
	t.PaymentDetails = merged
	return nil
}
