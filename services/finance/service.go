package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"affiliate-finance/pkg/db/option"
	"affiliate-finance/pkg/errutil"
	"affiliate-finance/pkg/gen"
	"affiliate-finance/pkg/repository"
	"affiliate-finance/services/directory"
)

// Directory is the read-side contract this service needs from the partner
// directory: affiliate standing plus the sale/order records commissions are
// attributed to.
type Directory interface {
	GetAffiliate(ctx context.Context, id string) (*directory.Affiliate, error)
	GetSale(ctx context.Context, id string) (*directory.Sale, error)
	GetSaleByOrder(ctx context.Context, orderID string) (*directory.Sale, error)
	GetOrder(ctx context.Context, id string) (*directory.Order, error)
}

type Service struct {
	db   *gorm.DB
	node *gen.SnowflakeNode

	directory Directory

	balances     repository.Repository[Balance]
	transactions repository.Repository[Transaction]
	withdrawals  repository.Repository[WithdrawalRequest]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *gen.SnowflakeNode
	Directory Directory
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		directory: p.Directory,

		balances:     repository.ProvideStore[Balance](p.DB),
		transactions: repository.ProvideStore[Transaction](p.DB),
		withdrawals:  repository.ProvideStore[WithdrawalRequest](p.DB),
	}
}

// GetOrCreateBalance returns the affiliate's balance, creating the zeroed row
// on first access. Safe under a concurrent first-access race: the unique
// affiliate_id constraint makes one insert win and the loser re-reads.
func (s *Service) GetOrCreateBalance(ctx context.Context, affiliateID string) (*Balance, error) {
	balance, err := s.balances.FindOne(ctx, &Balance{AffiliateID: affiliateID})
	if err != nil {
		zap.L().Error("failed to query balance", zap.Error(err), zap.String("affiliate_id", affiliateID))
		return nil, errutil.Internal("failed to query balance", err)
	}
	if balance != nil {
		return balance, nil
	}

	if _, err := s.directory.GetAffiliate(ctx, affiliateID); err != nil {
		return nil, err
	}

	balance = &Balance{
		ID:          s.node.GenerateID().String(),
		AffiliateID: affiliateID,
		LastUpdated: time.Now(),
	}
	if err := s.balances.Create(ctx, balance); err != nil {
		// Lost the creation race; the winner's row must exist now.
		existing, ferr := s.balances.FindOne(ctx, &Balance{AffiliateID: affiliateID})
		if ferr == nil && existing != nil {
			return existing, nil
		}
		zap.L().Error("failed to create balance", zap.Error(err), zap.String("affiliate_id", affiliateID))
		return nil, errutil.Internal("failed to create balance", err)
	}

	return balance, nil
}

// balanceForUpdate loads (or creates) the affiliate's balance row inside the
// given transaction, holding the row lock for the remainder of it.
func (s *Service) balanceForUpdate(ctx context.Context, tx *gorm.DB, affiliateID string) (*Balance, error) {
	balanceTx := s.balances.WithTrx(tx)

	balance, err := balanceTx.FindOne(ctx, &Balance{AffiliateID: affiliateID}, option.WithLockingUpdate())
	if err != nil {
		return nil, errutil.Internal("failed to query balance", err)
	}
	if balance != nil {
		return balance, nil
	}

	balance = &Balance{
		ID:          s.node.GenerateID().String(),
		AffiliateID: affiliateID,
		LastUpdated: time.Now(),
	}
	if err := balanceTx.Create(ctx, balance); err != nil {
		return nil, errutil.Internal("failed to create balance", err)
	}
	return balance, nil
}

// creditBalance inserts the ledger entry and moves current_balance and
// total_earned as one unit. Caller holds the balance row lock.
func (s *Service) creditBalance(ctx context.Context, tx *gorm.DB, balance *Balance, amount decimal.Decimal, description, referenceID string) (*Transaction, error) {
	entry := &Transaction{
		ID:              s.node.GenerateID().String(),
		BalanceID:       balance.ID,
		Type:            TypeCommission,
		Amount:          amount,
		Description:     description,
		ReferenceID:     referenceID,
		TransactionDate: time.Now(),
	}
	if err := s.transactions.WithTrx(tx).Create(ctx, entry); err != nil {
		return nil, errutil.Internal("failed to create ledger entry", err)
	}

	updates := map[string]any{
		"current_balance": balance.CurrentBalance.Add(amount),
		"total_earned":    balance.TotalEarned.Add(amount),
		"last_updated":    time.Now(),
	}
	if err := s.balances.WithTrx(tx).Update(ctx, balance.ID, updates); err != nil {
		return nil, errutil.Internal("failed to update balance", err)
	}

	return entry, nil
}

// debitBalance re-verifies sufficiency under the lock, then inserts the
// negative ledger entry and moves current_balance and total_withdrawn.
func (s *Service) debitBalance(ctx context.Context, tx *gorm.DB, balance *Balance, amount decimal.Decimal, description, referenceID string) (*Transaction, error) {
	if balance.CurrentBalance.LessThan(amount) {
		return nil, errutil.InsufficientBalance(
			fmt.Sprintf("insufficient balance: available R$ %s", balance.CurrentBalance.StringFixed(2)), nil)
	}

	entry := &Transaction{
		ID:              s.node.GenerateID().String(),
		BalanceID:       balance.ID,
		Type:            TypeWithdrawal,
		Amount:          amount.Neg(),
		Description:     description,
		ReferenceID:     referenceID,
		TransactionDate: time.Now(),
	}
	if err := s.transactions.WithTrx(tx).Create(ctx, entry); err != nil {
		return nil, errutil.Internal("failed to create ledger entry", err)
	}

	updates := map[string]any{
		"current_balance": balance.CurrentBalance.Sub(amount),
		"total_withdrawn": balance.TotalWithdrawn.Add(amount),
		"last_updated":    time.Now(),
	}
	if err := s.balances.WithTrx(tx).Update(ctx, balance.ID, updates); err != nil {
		return nil, errutil.Internal("failed to update balance", err)
	}

	return entry, nil
}

// RegisterCommission credits a sale's commission onto the affiliate's
// balance. Re-delivered sale events are caught by the (affiliate, sale)
// idempotency guard and rejected as a conflict.
func (s *Service) RegisterCommission(ctx context.Context, affiliateID, saleID string, amount decimal.Decimal, orderID string) (*Transaction, error) {
	if !amount.IsPositive() {
		return nil, errutil.ValidationFailed("commission amount must be positive", nil)
	}

	if _, err := s.directory.GetAffiliate(ctx, affiliateID); err != nil {
		return nil, err
	}
	if _, err := s.directory.GetSale(ctx, saleID); err != nil {
		return nil, err
	}

	description := fmt.Sprintf("Commission from sale #%s", saleID)
	if orderID != "" {
		description += fmt.Sprintf(" - Order #%s", orderID)
	}
	description += fmt.Sprintf(" - R$ %s", amount.StringFixed(2))

	var entry *Transaction
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		balance, err := s.balanceForUpdate(ctx, tx, affiliateID)
		if err != nil {
			return err
		}

		existing, err := s.transactions.WithTrx(tx).FindOne(ctx, &Transaction{
			BalanceID:   balance.ID,
			Type:        TypeCommission,
			ReferenceID: saleID,
		})
		if err != nil {
			return errutil.Internal("failed to query ledger entries", err)
		}
		if existing != nil {
			return errutil.Conflict("commission already registered for this sale", nil)
		}

		entry, err = s.creditBalance(ctx, tx, balance, amount, description, saleID)
		return err
	}); err != nil {
		zap.L().Warn("register commission failed",
			zap.Error(err),
			zap.String("affiliate_id", affiliateID),
			zap.String("sale_id", saleID))
		return nil, err
	}

	zap.L().Info("commission registered",
		zap.String("affiliate_id", affiliateID),
		zap.String("sale_id", saleID),
		zap.String("amount", amount.StringFixed(2)))

	return entry, nil
}

// UpdateBalanceFromSale is the entry point for sale lifecycle events: it
// checks the order reached a commission-eligible fulfillment status and
// delegates to RegisterCommission.
func (s *Service) UpdateBalanceFromSale(ctx context.Context, saleID string) (*Transaction, error) {
	sale, err := s.directory.GetSale(ctx, saleID)
	if err != nil {
		return nil, err
	}

	if sale.OrderID != "" {
		order, err := s.directory.GetOrder(ctx, sale.OrderID)
		if err != nil {
			return nil, err
		}
		if order.Status != directory.OrderShipped && order.Status != directory.OrderDelivered {
			return nil, errutil.NotEligible(
				fmt.Sprintf("order with status %q not eligible for commission", order.Status), nil)
		}
	}

	return s.RegisterCommission(ctx, sale.AffiliateID, sale.ID, sale.CommissionAmount, sale.OrderID)
}

// GetBalance is the read-side lookup; unlike GetOrCreateBalance it never
// writes.
func (s *Service) GetBalance(ctx context.Context, affiliateID string) (*Balance, error) {
	balance, err := s.balances.FindOne(ctx, &Balance{AffiliateID: affiliateID})
	if err != nil {
		return nil, errutil.Internal("failed to query balance", err)
	}
	if balance == nil {
		return nil, errutil.NotFound("balance not found", nil)
	}
	return balance, nil
}
