package directory

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"affiliate-finance/pkg/errutil"
	"affiliate-finance/pkg/repository"
)

// Service is the read-side facade over affiliate, sale and order records.
// Identity and catalog management live elsewhere; the finance core only needs
// lookups.
type Service struct {
	affiliates repository.Repository[Affiliate]
	sales      repository.Repository[Sale]
	orders     repository.Repository[Order]
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{
		affiliates: repository.ProvideStore[Affiliate](p.DB),
		sales:      repository.ProvideStore[Sale](p.DB),
		orders:     repository.ProvideStore[Order](p.DB),
	}
}

func (s *Service) GetAffiliate(ctx context.Context, id string) (*Affiliate, error) {
	affiliate, err := s.affiliates.FindOne(ctx, &Affiliate{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to query affiliate", err)
	}
	if affiliate == nil {
		return nil, errutil.NotFound("affiliate not found", nil)
	}
	return affiliate, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (*Sale, error) {
	sale, err := s.sales.FindOne(ctx, &Sale{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to query sale", err)
	}
	if sale == nil {
		return nil, errutil.NotFound("sale not found", nil)
	}
	return sale, nil
}

// GetSaleByOrder returns the affiliate sale attributed to an order, or
// (nil, nil) when the order has none.
func (s *Service) GetSaleByOrder(ctx context.Context, orderID string) (*Sale, error) {
	sale, err := s.sales.FindOne(ctx, &Sale{OrderID: orderID})
	if err != nil {
		return nil, errutil.Internal("failed to query sale by order", err)
	}
	return sale, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*Order, error) {
	order, err := s.orders.FindOne(ctx, &Order{ID: id})
	if err != nil {
		return nil, errutil.Internal("failed to query order", err)
	}
	if order == nil {
		return nil, errutil.NotFound("order not found", nil)
	}
	return order, nil
}
