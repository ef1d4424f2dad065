package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"affiliate-finance/pkg/db/option"
	"affiliate-finance/pkg/db/pagination"
	"affiliate-finance/pkg/errutil"
	"affiliate-finance/pkg/gen"
	"affiliate-finance/pkg/repository"
)

// Service is the gateway-facing facade: it resolves adapters, drives payment
// creation and webhook ingestion, and manages gateway credentials.
type Service struct {
	db       *gorm.DB
	node     *gen.SnowflakeNode
	registry *Registry

	configs      repository.Repository[GatewayConfig]
	transactions repository.Repository[Transaction]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *gen.SnowflakeNode
	Registry *Registry
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		node:     p.Node,
		registry: p.Registry,

		configs:      repository.ProvideStore[GatewayConfig](p.DB),
		transactions: repository.ProvideStore[Transaction](p.DB),
	}
}

// TransactionFilter narrows the payment transaction listing.
type TransactionFilter struct {
	Status    string
	Gateway   string
	StartDate *time.Time
	EndDate   *time.Time
	pagination.Pagination
}

func (s *Service) resolveInitialized(ctx context.Context, gatewayName string) (Gateway, error) {
	gw, err := s.registry.Resolve(gatewayName)
	if err != nil {
		return nil, err
	}
	if err := gw.InitializeClient(ctx); err != nil {
		return nil, err
	}
	return gw, nil
}

// ProcessPayment submits a payment for an order through the named gateway.
func (s *Service) ProcessPayment(ctx context.Context, gatewayName, orderID string, amount decimal.Decimal, paymentMethod string, customer CustomerDetails) (*PaymentResult, error) {
	if !amount.IsPositive() {
		return nil, errutil.ValidationFailed("payment amount must be positive", nil)
	}

	gw, err := s.resolveInitialized(ctx, gatewayName)
	if err != nil {
		return nil, err
	}

	result, err := gw.CreatePayment(ctx, orderID, amount, paymentMethod, customer)
	if err != nil {
		zap.L().Warn("payment creation failed",
			zap.Error(err),
			zap.String("gateway", gatewayName),
			zap.String("order_id", orderID))
		return nil, err
	}

	zap.L().Info("payment created",
		zap.String("gateway", gatewayName),
		zap.String("order_id", orderID),
		zap.String("external_id", result.ExternalID))

	return result, nil
}

// ProcessWebhook forwards an inbound provider notification, with the
// delivery's HTTP headers, to its adapter.
func (s *Service) ProcessWebhook(ctx context.Context, gatewayName string, payload []byte, header http.Header) (*WebhookResult, error) {
	gw, err := s.resolveInitialized(ctx, gatewayName)
	if err != nil {
		return nil, err
	}
	return gw.ProcessWebhook(ctx, payload, header)
}

// ConfigureGateway installs new credentials for a gateway. Prior rows for
// the name are deactivated in the same transaction, keeping a single active
// row per gateway.
func (s *Service) ConfigureGateway(ctx context.Context, gatewayName, apiKey, apiSecret, webhookSecret string, extra map[string]any) (*GatewayConfig, error) {
	if gatewayName == "" || apiKey == "" {
		return nil, errutil.ValidationFailed("gateway name and api key are required", nil)
	}
	gatewayName = strings.ToLower(gatewayName)
	if _, err := s.registry.Resolve(gatewayName); err != nil {
		return nil, err
	}

	var configuration []byte
	if len(extra) > 0 {
		encoded, err := json.Marshal(extra)
		if err != nil {
			return nil, errutil.ValidationFailed("failed to encode extra configuration", err)
		}
		configuration = encoded
	}

	config := &GatewayConfig{
		ID:            s.node.GenerateID().String(),
		GatewayName:   gatewayName,
		IsActive:      true,
		APIKey:        apiKey,
		APISecret:     apiSecret,
		WebhookSecret: webhookSecret,
		Configuration: configuration,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}

	if err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&GatewayConfig{}).
			Where("gateway_name = ? AND is_active = ?", gatewayName, true).
			Updates(map[string]any{"is_active": false, "updated_at": time.Now()}).Error; err != nil {
			return errutil.Internal("failed to deactivate gateway configs", err)
		}
		if err := s.configs.WithTrx(tx).Create(ctx, config); err != nil {
			return errutil.Internal("failed to create gateway config", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	zap.L().Info("gateway configured", zap.String("gateway", gatewayName))
	return config, nil
}

// Supported lists the gateway names the registry can resolve.
func (s *Service) Supported() []string {
	return s.registry.Supported()
}

func (s *Service) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	transaction, err := s.transactions.FindOne(ctx, &Transaction{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to query payment transaction", err)
	}
	if transaction == nil {
		return nil, errutil.NotFound("payment transaction not found", nil)
	}
	return transaction, nil
}

// GetTransactionsByOrder returns every payment attempt recorded for an order.
func (s *Service) GetTransactionsByOrder(ctx context.Context, orderID string) ([]*Transaction, error) {
	items, err := s.transactions.Find(ctx, &Transaction{OrderID: orderID})
	if err != nil {
		return nil, errutil.Internal("failed to query payment transactions", err)
	}
	return items, nil
}

// ListTransactions returns payment transactions matching the filter, newest
// first, with the matched total.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]*Transaction, int64, error) {
	query := &Transaction{Status: filter.Status, Gateway: filter.Gateway}

	conds := make([]option.Condition, 0, 2)
	if filter.StartDate != nil {
		conds = append(conds, option.Condition{Field: "created_at", Operator: option.GTE, Value: *filter.StartDate})
	}
	if filter.EndDate != nil {
		conds = append(conds, option.Condition{Field: "created_at", Operator: option.LTE, Value: *filter.EndDate})
	}

	total, err := s.transactions.Count(ctx, query, option.ApplyOperator(conds...))
	if err != nil {
		return nil, 0, errutil.Internal("failed to count payment transactions", err)
	}

	items, err := s.transactions.Find(ctx, query,
		option.ApplyOperator(conds...),
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithPagination(filter.Offset(), filter.Limit()),
	)
	if err != nil {
		return nil, 0, errutil.Internal("failed to query payment transactions", err)
	}

	return items, total, nil
}
