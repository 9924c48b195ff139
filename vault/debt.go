package vault

import (
	"math/big"

	"stratvault/crypto"
)

// UpdateDebt moves assets between the idle reserve and a strategy until its
// debt matches targetDebt. The max sentinel targets "as much as idle allows,
// capped by max debt". maxLossBps bounds the realized shortfall tolerated when
// recalling debt; this path and ProcessReport are the only movers of
// CurrentDebt.
func (e *Engine) UpdateDebt(caller, strategy crypto.Address, targetDebt *big.Int, maxLossBps uint64) (*big.Int, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()
	if err := e.requireRole(caller, RoleDebtManager); err != nil {
		return nil, err
	}
	if targetDebt == nil || targetDebt.Sign() < 0 {
		return nil, errInvalidAmount
	}
	if maxLossBps > MaxBps {
		return nil, errMaxLossRange
	}

	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	params, impl, err := e.resolveStrategy(strategy)
	if err != nil {
		return nil, err
	}
	current := cloneBigInt(params.CurrentDebt)

	newDebt := cloneBigInt(targetDebt)
	if isMaxSentinel(targetDebt) {
		newDebt = cloneBigInt(params.MaxDebt)
	}
	if st.Shutdown {
		// A shut-down vault only recalls capital.
		newDebt = big.NewInt(0)
	}
	if newDebt.Cmp(current) == 0 {
		return nil, errDebtUnchanged
	}

	if newDebt.Cmp(current) < 0 {
		return e.decreaseDebt(st, strategy, params, impl, current, newDebt, maxLossBps)
	}
	return e.increaseDebt(st, strategy, params, impl, current, newDebt)
}

func (e *Engine) increaseDebt(st *State, strategy crypto.Address, params *StrategyParams, impl Strategy, current, newDebt *big.Int) (*big.Int, error) {
	if newDebt.Cmp(params.MaxDebt) > 0 {
		newDebt = cloneBigInt(params.MaxDebt)
		if newDebt.Cmp(current) <= 0 {
			return nil, errDebtAboveMax
		}
	}

	toDeploy := new(big.Int).Sub(newDebt, current)
	// Respect the idle floor when increasing an allocation.
	available := new(big.Int).Sub(st.TotalIdle, st.MinimumTotalIdle)
	if available.Sign() <= 0 {
		return nil, errNoFundsToDeploy
	}
	toDeploy = minBig(toDeploy, available)
	toDeploy = cloneBigInt(toDeploy)
	if toDeploy.Sign() == 0 {
		return nil, errNoFundsToDeploy
	}

	preBalance, err := e.asset.BalanceOf(e.address)
	if err != nil {
		return nil, err
	}
	if err := e.asset.Transfer(e.address, strategy, toDeploy); err != nil {
		return nil, err
	}
	if err := impl.Deposit(toDeploy); err != nil {
		return nil, err
	}
	postBalance, err := e.asset.BalanceOf(e.address)
	if err != nil {
		return nil, err
	}
	// Never trust the requested figure: account exactly what left the vault.
	deployed := new(big.Int).Sub(preBalance, postBalance)
	if deployed.Cmp(st.TotalIdle) > 0 {
		return nil, errAccountingUnderflow
	}

	st.TotalIdle = new(big.Int).Sub(st.TotalIdle, deployed)
	st.TotalDebt = new(big.Int).Add(st.TotalDebt, deployed)
	params.CurrentDebt = new(big.Int).Add(current, deployed)

	if err := e.state.PutStrategy(strategy, params); err != nil {
		return nil, err
	}
	if err := e.state.PutVaultState(st); err != nil {
		return nil, err
	}
	e.emit(newDebtUpdatedEvent(strategy, current, params.CurrentDebt))
	return cloneBigInt(params.CurrentDebt), nil
}

func (e *Engine) decreaseDebt(st *State, strategy crypto.Address, params *StrategyParams, impl Strategy, current, newDebt *big.Int, maxLossBps uint64) (*big.Int, error) {
	toWithdraw := new(big.Int).Sub(current, newDebt)

	withdrawable, err := impl.MaxWithdrawable(e.address)
	if err != nil {
		return nil, err
	}
	if withdrawable.Sign() == 0 {
		return nil, errNothingToWithdraw
	}
	toWithdraw = cloneBigInt(minBig(toWithdraw, withdrawable))

	preBalance, err := e.asset.BalanceOf(e.address)
	if err != nil {
		return nil, err
	}
	if _, err := impl.Withdraw(toWithdraw, e.address); err != nil {
		return nil, err
	}
	postBalance, err := e.asset.BalanceOf(e.address)
	if err != nil {
		return nil, err
	}
	received := new(big.Int).Sub(postBalance, preBalance)

	// A short withdrawal is a realized loss subject to the caller's tolerance,
	// not a revert.
	if received.Cmp(toWithdraw) < 0 {
		lossAmount := new(big.Int).Sub(toWithdraw, received)
		if lossAmount.Cmp(bpsShare(toWithdraw, maxLossBps)) > 0 {
			return nil, errTooMuchLoss
		}
	}

	reduced := minBig(received, current)
	reduced = cloneBigInt(reduced)
	if st.TotalDebt.Cmp(reduced) < 0 {
		return nil, errAccountingUnderflow
	}
	st.TotalIdle = new(big.Int).Add(st.TotalIdle, received)
	st.TotalDebt = new(big.Int).Sub(st.TotalDebt, reduced)
	params.CurrentDebt = new(big.Int).Sub(current, reduced)

	if err := e.state.PutStrategy(strategy, params); err != nil {
		return nil, err
	}
	if err := e.state.PutVaultState(st); err != nil {
		return nil, err
	}
	e.emit(newDebtUpdatedEvent(strategy, current, params.CurrentDebt))
	return cloneBigInt(params.CurrentDebt), nil
}
