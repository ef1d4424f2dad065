package payment

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"affiliate-finance/pkg/config"
	"affiliate-finance/pkg/errutil"
	"affiliate-finance/pkg/gen"
	"affiliate-finance/pkg/repository"
	"affiliate-finance/services/finance"
)

// GatewayParams are the shared dependencies of every built-in adapter.
type GatewayParams struct {
	fx.In
	DB        *gorm.DB
	Node      *gen.SnowflakeNode
	Config    *config.Config
	Finance   *finance.Service
	Directory finance.Directory
}

// adapter carries the persistence and ledger plumbing common to all
// provider integrations.
type adapter struct {
	name    string
	db      *gorm.DB
	node    *gen.SnowflakeNode
	timeout time.Duration

	finance   *finance.Service
	directory finance.Directory

	configs      repository.Repository[GatewayConfig]
	transactions repository.Repository[Transaction]
}

func newAdapter(name string, p GatewayParams) adapter {
	return adapter{
		name:         name,
		db:           p.DB,
		node:         p.Node,
		timeout:      p.Config.Gateway.Timeout,
		finance:      p.Finance,
		directory:    p.Directory,
		configs:      repository.ProvideStore[GatewayConfig](p.DB),
		transactions: repository.ProvideStore[Transaction](p.DB),
	}
}

func (a *adapter) Name() string { return a.name }

// Config loads the single active credential row for this gateway.
func (a *adapter) Config(ctx context.Context) (*GatewayConfig, error) {
	cfg, err := a.configs.FindOne(ctx, &GatewayConfig{GatewayName: a.name, IsActive: true})
	if err != nil {
		return nil, errutil.Internal("failed to query gateway config", err)
	}
	if cfg == nil {
		return nil, errutil.GatewayConfig(fmt.Sprintf("%s configuration not found", a.name), nil)
	}
	return cfg, nil
}

// baseURL honors an api_base_url override from the config blob, used to
// point the adapter at sandbox or test endpoints.
func (a *adapter) baseURL(cfg *GatewayConfig, fallback string) string {
	if override, ok := cfg.Extra()["api_base_url"].(string); ok && override != "" {
		return override
	}
	return fallback
}

func (a *adapter) findByExternalID(ctx context.Context, externalID string) (*Transaction, error) {
	transaction, err := a.transactions.FindOne(ctx, &Transaction{GatewayTransactionID: externalID})
	if err != nil {
		return nil, errutil.Internal("failed to query payment transaction", err)
	}
	return transaction, nil
}

// triggerCommission posts the commission for the order's sale after an
// approved payment. Failures here never fail the webhook that caused them:
// the status update is already committed and re-posting is guarded by the
// ledger's idempotency check.
func (a *adapter) triggerCommission(ctx context.Context, orderID string) {
	sale, err := a.directory.GetSaleByOrder(ctx, orderID)
	if err != nil {
		zap.L().Warn("failed to look up sale for approved payment",
			zap.Error(err), zap.String("order_id", orderID))
		return
	}
	if sale == nil {
		return
	}

	if _, err := a.finance.UpdateBalanceFromSale(ctx, sale.ID); err != nil {
		if errutil.StatusOf(err) == errutil.StatusConflict {
			// Replayed webhook; the commission is already on the ledger.
			return
		}
		zap.L().Warn("failed to post commission for approved payment",
			zap.Error(err),
			zap.String("order_id", orderID),
			zap.String("sale_id", sale.ID))
	}
}
