package directory

import (
	"time"

	"github.com/shopspring/decimal"
)

// Affiliate approval standings. Only approved affiliates earn commissions
// and request withdrawals.
const (
	AffiliatePending  = "pending"
	AffiliateApproved = "approved"
	AffiliateBlocked  = "blocked"
)

// Order fulfillment statuses that make the attached sale commission-eligible.
const (
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderDelivered  = "delivered"
	OrderCancelled  = "cancelled"
)

// Affiliate is a referrer entity earning commissions on attributed sales.
// Owned by the partner directory; this service only reads it.
type Affiliate struct {
	ID             string          `gorm:"column:id;primaryKey"`
	ReferralCode   string          `gorm:"column:referral_code"`
	CommissionRate decimal.Decimal `gorm:"column:commission_rate;type:decimal(6,4)"`
	RequestStatus  string          `gorm:"column:request_status"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (Affiliate) TableName() string { return "affiliates" }

// Sale attributes an order to an affiliate with a precomputed commission.
type Sale struct {
	ID               string          `gorm:"column:id;primaryKey"`
	AffiliateID      string          `gorm:"column:affiliate_id;index"`
	OrderID          string          `gorm:"column:order_id;index"`
	CommissionAmount decimal.Decimal `gorm:"column:commission_amount;type:decimal(18,2)"`
	CreatedAt        time.Time       `gorm:"column:created_at"`
}

func (Sale) TableName() string { return "sales" }

type Order struct {
	ID        string          `gorm:"column:id;primaryKey"`
	Status    string          `gorm:"column:status"`
	Total     decimal.Decimal `gorm:"column:total;type:decimal(18,2)"`
	CreatedAt time.Time       `gorm:"column:created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (Order) TableName() string { return "orders" }
