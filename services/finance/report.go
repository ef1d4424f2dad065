package finance

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"affiliate-finance/pkg/db/option"
	"affiliate-finance/pkg/db/pagination"
	"affiliate-finance/pkg/errutil"
)

// TransactionFilter narrows an affiliate's ledger listing.
type TransactionFilter struct {
	Type      string
	StartDate *time.Time
	EndDate   *time.Time
	pagination.Pagination
}

// WithdrawalFilter narrows the withdrawal request listing.
type WithdrawalFilter struct {
	AffiliateID string
	Status      string
	pagination.Pagination
}

type ReportBucket struct {
	Count int64           `json:"count"`
	Total decimal.Decimal `json:"total"`
}

type WithdrawalReport struct {
	// Count and Total cover requests with funds movement (approved + paid).
	Count    int64           `json:"count"`
	Total    decimal.Decimal `json:"total"`
	Pending  ReportBucket    `json:"pending"`
	Approved ReportBucket    `json:"approved"`
	Paid     ReportBucket    `json:"paid"`
	Rejected ReportBucket    `json:"rejected"`
}

type AffiliateReport struct {
	ID             string          `json:"id"`
	ReferralCode   string          `json:"referral_code"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
}

type ReportPeriod struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Report aggregates commissions and withdrawal requests over a time window,
// system-wide or scoped to one affiliate.
type Report struct {
	Period      ReportPeriod     `json:"period"`
	Affiliate   *AffiliateReport `json:"affiliate,omitempty"`
	Commissions ReportBucket     `json:"commissions"`
	Withdrawals WithdrawalReport `json:"withdrawals"`
}

// ListTransactions returns an affiliate's ledger entries, newest first, with
// the matched total. An affiliate without a balance has an empty ledger.
func (s *Service) ListTransactions(ctx context.Context, affiliateID string, filter TransactionFilter) ([]*Transaction, int64, error) {
	balance, err := s.balances.FindOne(ctx, &Balance{AffiliateID: affiliateID})
	if err != nil {
		return nil, 0, errutil.Internal("failed to query balance", err)
	}
	if balance == nil {
		return []*Transaction{}, 0, nil
	}

	query := &Transaction{BalanceID: balance.ID, Type: filter.Type}

	conds := make([]option.Condition, 0, 2)
	if filter.StartDate != nil {
		conds = append(conds, option.Condition{Field: "transaction_date", Operator: option.GTE, Value: *filter.StartDate})
	}
	if filter.EndDate != nil {
		conds = append(conds, option.Condition{Field: "transaction_date", Operator: option.LTE, Value: *filter.EndDate})
	}

	total, err := s.transactions.Count(ctx, query, option.ApplyOperator(conds...))
	if err != nil {
		return nil, 0, errutil.Internal("failed to count ledger entries", err)
	}

	items, err := s.transactions.Find(ctx, query,
		option.ApplyOperator(conds...),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "transaction_date",
			OrderBy: "desc",
			Allow:   map[string]bool{"transaction_date": true},
		}),
		option.WithPagination(filter.Offset(), filter.Limit()),
	)
	if err != nil {
		return nil, 0, errutil.Internal("failed to query ledger entries", err)
	}

	return items, total, nil
}

// ListWithdrawalRequests returns requests matching the filter, newest first,
// with the matched total.
func (s *Service) ListWithdrawalRequests(ctx context.Context, filter WithdrawalFilter) ([]*WithdrawalRequest, int64, error) {
	query := &WithdrawalRequest{AffiliateID: filter.AffiliateID, Status: filter.Status}

	total, err := s.withdrawals.Count(ctx, query)
	if err != nil {
		return nil, 0, errutil.Internal("failed to count withdrawal requests", err)
	}

	items, err := s.withdrawals.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "requested_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"requested_at": true},
		}),
		option.WithPagination(filter.Offset(), filter.Limit()),
	)
	if err != nil {
		return nil, 0, errutil.Internal("failed to query withdrawal requests", err)
	}

	return items, total, nil
}

type aggregateRow struct {
	Count int64
	Total decimal.NullDecimal
}

func (r aggregateRow) bucket() ReportBucket {
	b := ReportBucket{Count: r.Count}
	if r.Total.Valid {
		b.Total = r.Total.Decimal
	}
	return b
}

// GenerateReport rolls up commission and withdrawal activity inside the
// window. A zero start defaults to 30 days back, a zero end to now.
func (s *Service) GenerateReport(ctx context.Context, affiliateID string, start, end time.Time) (*Report, error) {
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.AddDate(0, 0, -30)
	}

	report := &Report{Period: ReportPeriod{Start: start, End: end}}

	var balanceID string
	if affiliateID != "" {
		affiliate, err := s.directory.GetAffiliate(ctx, affiliateID)
		if err != nil {
			return nil, err
		}

		summary := &AffiliateReport{
			ID:             affiliate.ID,
			ReferralCode:   affiliate.ReferralCode,
			CommissionRate: affiliate.CommissionRate,
		}
		balance, err := s.balances.FindOne(ctx, &Balance{AffiliateID: affiliateID})
		if err != nil {
			return nil, errutil.Internal("failed to query balance", err)
		}
		if balance != nil {
			balanceID = balance.ID
			summary.CurrentBalance = balance.CurrentBalance
			summary.TotalEarned = balance.TotalEarned
			summary.TotalWithdrawn = balance.TotalWithdrawn
		}
		report.Affiliate = summary
	}

	// An affiliate without a balance has no ledger entries to aggregate.
	if affiliateID == "" || balanceID != "" {
		var row aggregateRow
		commissions := s.db.WithContext(ctx).Model(&Transaction{}).
			Select("COUNT(id) AS count, SUM(amount) AS total").
			Where("type = ?", TypeCommission).
			Where("transaction_date BETWEEN ? AND ?", start, end)
		if balanceID != "" {
			commissions = commissions.Where("balance_id = ?", balanceID)
		}
		if err := commissions.Scan(&row).Error; err != nil {
			return nil, errutil.Internal("failed to aggregate commissions", err)
		}
		report.Commissions = row.bucket()
	}

	buckets := map[string]*ReportBucket{
		WithdrawalPending:  &report.Withdrawals.Pending,
		WithdrawalApproved: &report.Withdrawals.Approved,
		WithdrawalPaid:     &report.Withdrawals.Paid,
		WithdrawalRejected: &report.Withdrawals.Rejected,
	}
	for status, bucket := range buckets {
		var row aggregateRow
		withdrawals := s.db.WithContext(ctx).Model(&WithdrawalRequest{}).
			Select("COUNT(id) AS count, SUM(amount) AS total").
			Where("status = ?", status).
			Where("requested_at BETWEEN ? AND ?", start, end)
		if affiliateID != "" {
			withdrawals = withdrawals.Where("affiliate_id = ?", affiliateID)
		}
		if err := withdrawals.Scan(&row).Error; err != nil {
			return nil, errutil.Internal("failed to aggregate withdrawal requests", err)
		}
		*bucket = row.bucket()

		// Only approved and paid requests moved funds.
		if status == WithdrawalApproved || status == WithdrawalPaid {
			report.Withdrawals.Count += bucket.Count
			report.Withdrawals.Total = report.Withdrawals.Total.Add(bucket.Total)
		}
	}

	return report, nil
}
