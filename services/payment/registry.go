package payment

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/fx"

	"affiliate-finance/pkg/errutil"
)

// Registry maps gateway names to adapters, case-insensitively. Register and
// Resolve are safe to call concurrently.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

type RegistryParams struct {
	fx.In
	Stripe      *StripeGateway
	MercadoPago *MercadoPagoGateway
}

// NewRegistry builds the registry pre-populated with the built-in adapters.
func NewRegistry(p RegistryParams) (*Registry, error) {
	r := &Registry{gateways: make(map[string]Gateway)}
	for _, gw := range []Gateway{p.Stripe, p.MercadoPago} {
		if err := r.Register(gw); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Resolve returns the adapter registered under name.
func (r *Registry) Resolve(name string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, ok := r.gateways[strings.ToLower(name)]
	if !ok {
		return nil, errutil.UnsupportedGateway("unsupported gateway: "+name, nil)
	}
	return gw, nil
}

// Register adds or replaces an adapter under its own name.
func (r *Registry) Register(gw Gateway) error {
	if gw == nil {
		return errutil.ValidationFailed("gateway adapter is nil", nil)
	}
	name := strings.ToLower(strings.TrimSpace(gw.Name()))
	if name == "" {
		return errutil.ValidationFailed("gateway adapter has no name", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.gateways[name] = gw
	return nil
}

// Supported returns a sorted snapshot of the registered names.
func (r *Registry) Supported() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
