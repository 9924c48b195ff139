package vault

import (
	"math/big"

	"stratvault/crypto"
)

// AddStrategy registers a strategy with zero debt and appends it to the
// default withdrawal queue when room remains.
func (e *Engine) AddStrategy(caller, strategy crypto.Address) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	if err := e.requireRole(caller, RoleStrategyManager); err != nil {
		return err
	}
	if strategy.IsZero() || strategy.Equal(e.address) {
		return errInvalidReceiver
	}
	existing, err := e.state.Strategy(strategy)
	if err != nil {
		return err
	}
	if existing != nil && existing.Activation != 0 {
		return errStrategyActive
	}
	now := e.now()
	params := &StrategyParams{
		Activation:  now,
		LastReport:  now,
		CurrentDebt: big.NewInt(0),
		MaxDebt:     big.NewInt(0),
	}
	if err := e.state.PutStrategy(strategy, params); err != nil {
		return err
	}
	queue, err := e.state.Queue()
	if err != nil {
		return err
	}
	if len(queue) < MaxQueue {
		queue = append(queue, strategy)
		if err := e.state.PutQueue(queue); err != nil {
			return err
		}
	}
	e.emit(newStrategyChangedEvent(strategy, "added"))
	return nil
}

// RevokeStrategy removes a strategy with no outstanding debt.
func (e *Engine) RevokeStrategy(caller, strategy crypto.Address) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	if err := e.requireRole(caller, RoleStrategyManager); err != nil {
		return err
	}
	return e.revokeStrategy(strategy, false)
}

// ForceRevokeStrategy removes a strategy and writes any remaining debt off as
// an immediate realized loss. Emergency use only: the loss hits the share
// price as soon as the revocation commits.
func (e *Engine) ForceRevokeStrategy(caller, strategy crypto.Address) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	if err := e.requireRole(caller, RoleEmergencyManager); err != nil {
		return err
	}
	return e.revokeStrategy(strategy, true)
}

func (e *Engine) revokeStrategy(strategy crypto.Address, force bool) error {
	params, err := e.state.Strategy(strategy)
	if err != nil {
		return err
	}
	if params == nil || params.Activation == 0 {
		return errInactiveStrategy
	}
	params.normalize()

	loss := big.NewInt(0)
	if params.CurrentDebt.Sign() != 0 {
		if !force {
			return errStrategyHasDebt
		}
		loss = cloneBigInt(params.CurrentDebt)
		st, err := e.loadState()
		if err != nil {
			return err
		}
		if st.TotalDebt.Cmp(loss) < 0 {
			return errAccountingUnderflow
		}
		st.TotalDebt = new(big.Int).Sub(st.TotalDebt, loss)
		if err := e.state.PutVaultState(st); err != nil {
			return err
		}
	}

	if err := e.state.DeleteStrategy(strategy); err != nil {
		return err
	}
	queue, err := e.state.Queue()
	if err != nil {
		return err
	}
	filtered := queue[:0]
	for _, addr := range queue {
		if !addr.Equal(strategy) {
			filtered = append(filtered, addr)
		}
	}
	if err := e.state.PutQueue(filtered); err != nil {
		return err
	}
	if loss.Sign() > 0 {
		e.emit(newStrategyReportedEvent(strategy, big.NewInt(0), loss, big.NewInt(0), big.NewInt(0)))
	}
	e.emit(newStrategyChangedEvent(strategy, "revoked"))
	return nil
}

// UpdateMaxDebtForStrategy changes the rebalancer ceiling for one strategy.
func (e *Engine) UpdateMaxDebtForStrategy(caller, strategy crypto.Address, maxDebt *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	if err := e.requireRole(caller, RoleMaxDebtManager); err != nil {
		return err
	}
	params, err := e.state.Strategy(strategy)
	if err != nil {
		return err
	}
	if params == nil || params.Activation == 0 {
		return errInactiveStrategy
	}
	params.normalize()
	params.MaxDebt = cloneBigInt(maxDebt)
	if err := e.state.PutStrategy(strategy, params); err != nil {
		return err
	}
	e.emit(newDebtLimitEvent(strategy, maxDebt))
	return nil
}

// SetDefaultQueue replaces the stored withdrawal queue. Every entry must be an
// active strategy and the bound holds.
func (e *Engine) SetDefaultQueue(caller crypto.Address, queue []crypto.Address) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	if err := e.requireRole(caller, RoleQueueManager); err != nil {
		return err
	}
	if len(queue) > MaxQueue {
		return errQueueTooLong
	}
	if err := validateQueueUnique(queue); err != nil {
		return err
	}
	for _, addr := range queue {
		params, err := e.state.Strategy(addr)
		if err != nil {
			return err
		}
		if params == nil || params.Activation == 0 {
			return errQueueInactive
		}
	}
	return e.state.PutQueue(append([]crypto.Address(nil), queue...))
}

// StrategyOf returns the accounting parameters for a strategy, or nil when the
// strategy was never registered.
func (e *Engine) StrategyOf(strategy crypto.Address) (*StrategyParams, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	params, err := e.state.Strategy(strategy)
	if err != nil {
		return nil, err
	}
	if params == nil {
		return nil, nil
	}
	params.normalize()
	return params.Clone(), nil
}

// DefaultQueue returns a copy of the stored withdrawal queue.
func (e *Engine) DefaultQueue() ([]crypto.Address, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	queue, err := e.state.Queue()
	if err != nil {
		return nil, err
	}
	return append([]crypto.Address(nil), queue...), nil
}
