package vault

import (
	"math/big"

	"stratvault/crypto"
)

// unlockedShares computes how many vault-held shares have unlocked since the
// last update, lazily from the current timestamp. Nothing ticks this; every
// query derives it on demand.
func (e *Engine) unlockedSharesAt(st *State, now int64) (*big.Int, error) {
	if st.FullUnlockDate > now {
		elapsed := big.NewInt(now - st.LastUnlockUpdate)
		// A clock behind the last update must not mint phantom unlocks.
		if elapsed.Sign() < 0 {
			return big.NewInt(0), nil
		}
		unlocked := new(big.Int).Mul(st.UnlockingRate, elapsed)
		return unlocked.Quo(unlocked, unlockPrecision), nil
	}
	if st.FullUnlockDate != 0 {
		// The schedule has fully elapsed: everything the vault holds is free.
		held, err := e.state.ShareBalance(e.address)
		if err != nil {
			return nil, err
		}
		return cloneBigInt(held), nil
	}
	return big.NewInt(0), nil
}

// circulatingSupply is raw supply minus shares unlocked since the last update.
// Every external conversion uses this figure, never raw TotalSupply.
func (e *Engine) circulatingSupply(st *State, now int64) (*big.Int, error) {
	unlocked, err := e.unlockedSharesAt(st, now)
	if err != nil {
		return nil, err
	}
	supply := new(big.Int).Sub(st.TotalSupply, unlocked)
	if supply.Sign() < 0 {
		return nil, errSupplyUnderflow
	}
	return supply, nil
}

// burnUnlockedShares realises any lazily-unlocked shares by burning them from
// the vault's own balance and stamping the update time.
func (e *Engine) burnUnlockedShares(st *State, now int64) error {
	unlocked, err := e.unlockedSharesAt(st, now)
	if err != nil {
		return err
	}
	if unlocked.Sign() == 0 {
		return nil
	}
	if st.FullUnlockDate > now {
		st.LastUnlockUpdate = now
	}
	return e.burnShares(st, e.address, unlocked)
}

// rescheduleUnlock folds newly-locked shares into the unlock schedule using a
// weighted average of the remaining lock time and the configured duration.
// previouslyLocked and newlyLocked are the vault-held share split after the
// report's mint/burn netting.
func (e *Engine) rescheduleUnlock(st *State, previouslyLocked, newlyLocked *big.Int, now int64) {
	totalLocked := new(big.Int).Add(previouslyLocked, newlyLocked)
	if totalLocked.Sign() == 0 || st.ProfitMaxUnlockTime == 0 {
		st.UnlockingRate = big.NewInt(0)
		st.FullUnlockDate = 0
		st.LastUnlockUpdate = now
		return
	}

	remaining := big.NewInt(0)
	if st.FullUnlockDate > now {
		remaining = big.NewInt(st.FullUnlockDate - now)
	}
	// Weighted-average unlock period in share-seconds over total locked shares.
	weighted := new(big.Int).Mul(previouslyLocked, remaining)
	fresh := new(big.Int).Mul(newlyLocked, new(big.Int).SetUint64(st.ProfitMaxUnlockTime))
	weighted.Add(weighted, fresh)
	period := weighted.Quo(weighted, totalLocked)
	if period.Sign() == 0 {
		period = big.NewInt(1)
	}

	rate := new(big.Int).Mul(totalLocked, unlockPrecision)
	st.UnlockingRate = rate.Quo(rate, period)
	st.FullUnlockDate = now + period.Int64()
	st.LastUnlockUpdate = now
}

// SetProfitMaxUnlockTime changes the profit lock duration. Setting zero is the
// governance escape hatch: all vault-held locked shares burn immediately and
// the schedule clears.
func (e *Engine) SetProfitMaxUnlockTime(caller crypto.Address, seconds uint64) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	if err := e.requireRole(caller, RoleProfitUnlockManager); err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if seconds == 0 {
		held, err := e.state.ShareBalance(e.address)
		if err != nil {
			return err
		}
		if held.Sign() > 0 {
			if err := e.burnShares(st, e.address, held); err != nil {
				return err
			}
		}
		st.UnlockingRate = big.NewInt(0)
		st.FullUnlockDate = 0
		st.LastUnlockUpdate = e.now()
	}
	st.ProfitMaxUnlockTime = seconds
	return e.state.PutVaultState(st)
}
