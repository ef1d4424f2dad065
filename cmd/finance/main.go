package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"affiliate-finance/internal/httpapi"
	"affiliate-finance/internal/server"
	"affiliate-finance/pkg/config"
	"affiliate-finance/pkg/db"
	"affiliate-finance/pkg/gen"
	"affiliate-finance/pkg/health"
	"affiliate-finance/pkg/logger"
	"affiliate-finance/services/directory"
	"affiliate-finance/services/finance"
	"affiliate-finance/services/payment"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Provide(
			gen.NewSnowflakeNode,
			provideDirectory,
			server.ProvideHTTPServer,
		),
		directory.Module,
		finance.Module,
		payment.Module,
		health.Module,
		httpapi.Module,
		fx.Invoke(migrate, server.Run),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideDirectory(s *directory.Service) finance.Directory {
	return s
}

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&directory.Affiliate{},
		&directory.Order{},
		&directory.Sale{},
		&finance.Balance{},
		&finance.Transaction{},
		&finance.WithdrawalRequest{},
		&payment.GatewayConfig{},
		&payment.Transaction{},
	)
}
