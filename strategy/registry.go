package strategy

import (
	"errors"
	"sync"

	"stratvault/crypto"
	"stratvault/vault"
)

// ErrUnknownStrategy is returned when resolving an address with no registered
// implementation.
var ErrUnknownStrategy = errors.New("strategy: unknown strategy")

// Registry maps strategy addresses to their implementations. It satisfies the
// engine's resolver interface.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]vault.Strategy
}

// NewRegistry constructs an empty strategy registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]vault.Strategy)}
}

// Register binds an implementation to a strategy address.
func (r *Registry) Register(addr crypto.Address, impl vault.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[addr.String()] = impl
}

// Resolve implements vault.StrategyResolver.
func (r *Registry) Resolve(addr crypto.Address) (vault.Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.strategies[addr.String()]
	if !ok {
		return nil, ErrUnknownStrategy
	}
	return impl, nil
}
