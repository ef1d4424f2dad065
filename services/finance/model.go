package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types. Commissions credit, withdrawals debit, adjustments are
// reserved for manual corrections and may carry either sign.
const (
	TypeCommission = "commission"
	TypeWithdrawal = "withdrawal"
	TypeAdjustment = "adjustment"
)

// Withdrawal request statuses. pending -> approved -> paid, or
// pending -> rejected. rejected and paid are terminal.
const (
	WithdrawalPending  = "pending"
	WithdrawalApproved = "approved"
	WithdrawalRejected = "rejected"
	WithdrawalPaid     = "paid"
)

// Balance is the cached projection of an affiliate's ledger: after every
// committed mutation CurrentBalance = TotalEarned - TotalWithdrawn and
// CurrentBalance >= 0. Created lazily on first access.
type Balance struct {
	ID             string          `gorm:"column:id;primaryKey" json:"id"`
	AffiliateID    string          `gorm:"column:affiliate_id;uniqueIndex" json:"affiliate_id"`
	CurrentBalance decimal.Decimal `gorm:"column:current_balance;type:decimal(18,2)" json:"current_balance"`
	TotalEarned    decimal.Decimal `gorm:"column:total_earned;type:decimal(18,2)" json:"total_earned"`
	TotalWithdrawn decimal.Decimal `gorm:"column:total_withdrawn;type:decimal(18,2)" json:"total_withdrawn"`
	LastUpdated    time.Time       `gorm:"column:last_updated" json:"last_updated"`
}

func (Balance) TableName() string { return "affiliate_balances" }

// Transaction is one immutable ledger entry. There is no update or delete
// path; the set of entries for a balance is the audit trail.
type Transaction struct {
	ID              string          `gorm:"column:id;primaryKey" json:"id"`
	BalanceID       string          `gorm:"column:balance_id;index" json:"balance_id"`
	Type            string          `gorm:"column:type" json:"type"`
	Amount          decimal.Decimal `gorm:"column:amount;type:decimal(18,2)" json:"amount"`
	Description     string          `gorm:"column:description" json:"description"`
	ReferenceID     string          `gorm:"column:reference_id;index" json:"reference_id"`
	TransactionDate time.Time       `gorm:"column:transaction_date;index" json:"transaction_date"`
}

func (Transaction) TableName() string { return "affiliate_transactions" }

// WithdrawalRequest tracks an affiliate payout from request through
// approval/rejection/payment. The ledger debit happens once, at approval.
type WithdrawalRequest struct {
	ID             string          `gorm:"column:id;primaryKey" json:"id"`
	AffiliateID    string          `gorm:"column:affiliate_id;index" json:"affiliate_id"`
	Amount         decimal.Decimal `gorm:"column:amount;type:decimal(18,2)" json:"amount"`
	Status         string          `gorm:"column:status;index" json:"status"`
	PaymentMethod  string          `gorm:"column:payment_method" json:"payment_method"`
	PaymentDetails string          `gorm:"column:payment_details" json:"payment_details"`
	RequestedAt    time.Time       `gorm:"column:requested_at" json:"requested_at"`
	ProcessedAt    *time.Time      `gorm:"column:processed_at" json:"processed_at,omitempty"`
	AdminNotes     string          `gorm:"column:admin_notes" json:"admin_notes"`
	TransactionID  string          `gorm:"column:transaction_id" json:"transaction_id"`
}

func (WithdrawalRequest) TableName() string { return "withdrawal_requests" }

func validWithdrawalStatus(status string) bool {
	switch status {
	case WithdrawalApproved, WithdrawalRejected, WithdrawalPaid:
		return true
	}
	return false
}
