package finance

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"affiliate-finance/pkg/db/option"
	"affiliate-finance/pkg/errutil"
	"affiliate-finance/services/directory"
)

// CreateWithdrawalRequest opens a pending payout request. Funds are not
// moved here; the ledger debit happens at approval.
func (s *Service) CreateWithdrawalRequest(ctx context.Context, affiliateID string, amount decimal.Decimal, paymentMethod, paymentDetails string) (*WithdrawalRequest, error) {
	if !amount.IsPositive() {
		return nil, errutil.ValidationFailed("withdrawal amount must be greater than zero", nil)
	}
	if paymentMethod == "" {
		return nil, errutil.ValidationFailed("payment method is required", nil)
	}

	affiliate, err := s.directory.GetAffiliate(ctx, affiliateID)
	if err != nil {
		return nil, err
	}
	if affiliate.RequestStatus != directory.AffiliateApproved {
		return nil, errutil.NotEligible("affiliate not approved for withdrawals", nil)
	}

	var request *WithdrawalRequest
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)

		balance, err := s.balanceForUpdate(ctx, tx, affiliateID)
		if err != nil {
			return err
		}
		if balance.CurrentBalance.LessThan(amount) {
			return errutil.InsufficientBalance(
				fmt.Sprintf("insufficient balance: available R$ %s", balance.CurrentBalance.StringFixed(2)), nil)
		}

		// A row lookup, not an aggregate: the locking scope on tx renders
		// FOR UPDATE, which postgres rejects on aggregate queries.
		pending, err := s.withdrawals.WithTrx(tx).FindOne(ctx, &WithdrawalRequest{
			AffiliateID: affiliateID,
			Status:      WithdrawalPending,
		})
		if err != nil {
			return errutil.Internal("failed to query withdrawal requests", err)
		}
		if pending != nil {
			return errutil.Conflict("there is already a pending withdrawal request", nil)
		}

		request = &WithdrawalRequest{
			ID:             s.node.GenerateID().String(),
			AffiliateID:    affiliateID,
			Amount:         amount,
			Status:         WithdrawalPending,
			PaymentMethod:  paymentMethod,
			PaymentDetails: paymentDetails,
			RequestedAt:    time.Now(),
		}
		if err := s.withdrawals.WithTrx(tx).Create(ctx, request); err != nil {
			return errutil.Internal("failed to create withdrawal request", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	zap.L().Info("withdrawal request created",
		zap.String("request_id", request.ID),
		zap.String("affiliate_id", affiliateID),
		zap.String("amount", amount.StringFixed(2)))

	return request, nil
}

// ProcessWithdrawalRequest drives the request state machine:
// pending -> approved (balance debited), pending -> rejected, and
// approved -> paid. Everything else is rejected as a conflict or an
// invalid transition.
func (s *Service) ProcessWithdrawalRequest(ctx context.Context, requestID, status, adminNotes string) (*WithdrawalRequest, error) {
	if !validWithdrawalStatus(status) {
		return nil, errutil.ValidationFailed(
			fmt.Sprintf("invalid status %q: use approved, rejected or paid", status), nil)
	}

	var request *WithdrawalRequest
	if err := s.db.Transaction(func(tx *gorm.DB) error {
		tx = tx.Scopes(option.LockingUpdate)
		withdrawalTx := s.withdrawals.WithTrx(tx)

		var err error
		request, err = withdrawalTx.FindOne(ctx, &WithdrawalRequest{ID: requestID}, option.WithLockingUpdate())
		if err != nil {
			return errutil.Internal("failed to query withdrawal request", err)
		}
		if request == nil {
			return errutil.NotFound("withdrawal request not found", nil)
		}

		if request.Status != WithdrawalPending && status != WithdrawalPaid {
			return errutil.Conflict(fmt.Sprintf("request already %s", request.Status), nil)
		}
		if status == WithdrawalPaid && request.Status != WithdrawalApproved {
			return errutil.InvalidTransition("only approved requests can be marked as paid", nil)
		}

		now := time.Now()
		updates := map[string]any{
			"status":       status,
			"processed_at": now,
		}
		if adminNotes != "" || status != WithdrawalPaid {
			updates["admin_notes"] = adminNotes
		}

		if status == WithdrawalApproved {
			balance, err := s.balanceForUpdate(ctx, tx, request.AffiliateID)
			if err != nil {
				return err
			}

			description := fmt.Sprintf("Withdrawal approved #%s - %s", request.ID, request.PaymentMethod)
			entry, err := s.debitBalance(ctx, tx, balance, request.Amount, description, request.ID)
			if err != nil {
				return err
			}
			updates["transaction_id"] = entry.ID
		}

		if err := withdrawalTx.Update(ctx, request.ID, updates); err != nil {
			return errutil.Internal("failed to update withdrawal request", err)
		}

		request, err = withdrawalTx.FindOne(ctx, &WithdrawalRequest{ID: requestID})
		if err != nil {
			return errutil.Internal("failed to query withdrawal request", err)
		}
		return nil
	}); err != nil {
		zap.L().Warn("process withdrawal request failed",
			zap.Error(err),
			zap.String("request_id", requestID),
			zap.String("status", status))
		return nil, err
	}

	zap.L().Info("withdrawal request processed",
		zap.String("request_id", request.ID),
		zap.String("status", request.Status))

	return request, nil
}

// GetWithdrawalRequest returns a single request by id.
func (s *Service) GetWithdrawalRequest(ctx context.Context, requestID string) (*WithdrawalRequest, error) {
	request, err := s.withdrawals.FindOne(ctx, &WithdrawalRequest{ID: requestID})
	if err != nil {
		return nil, errutil.Internal("failed to query withdrawal request", err)
	}
	if request == nil {
		return nil, errutil.NotFound("withdrawal request not found", nil)
	}
	return request, nil
}
