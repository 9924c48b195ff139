package vault

import (
	"math/big"

	"stratvault/crypto"
)

// InitiateRageQuit places the owner's shares under custody for the configured
// cooldown. One active custody per owner; transfers of custodied shares are
// blocked until the record clears.
func (e *Engine) InitiateRageQuit(owner crypto.Address, shares *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	if shares == nil || shares.Sign() <= 0 {
		return errInvalidAmount
	}
	existing, err := e.state.Custody(owner)
	if err != nil {
		return err
	}
	if existing != nil {
		return errCustodyActive
	}
	balance, err := e.state.ShareBalance(owner)
	if err != nil {
		return err
	}
	if balance.Cmp(shares) < 0 {
		return errInsufficientShares
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	unlockTime := e.now() + int64(st.RageQuitCooldown)
	custody := &Custody{LockedShares: cloneBigInt(shares), UnlockTime: unlockTime}
	if err := e.state.PutCustody(owner, custody); err != nil {
		return err
	}
	e.emit(newCustodyEvent(owner, shares, unlockTime, "initiated"))
	return nil
}

// CancelRageQuit clears the owner's custody record entirely, whatever phase
// the cooldown is in.
func (e *Engine) CancelRageQuit(owner crypto.Address) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	custody, err := e.state.Custody(owner)
	if err != nil {
		return err
	}
	if custody == nil {
		return errCustodyNotFound
	}
	if err := e.state.DeleteCustody(owner); err != nil {
		return err
	}
	e.emit(newCustodyEvent(owner, big.NewInt(0), 0, "cancelled"))
	return nil
}

// CustodyOf returns the owner's custody record, or nil when none exists.
func (e *Engine) CustodyOf(owner crypto.Address) (*Custody, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	custody, err := e.state.Custody(owner)
	if err != nil {
		return nil, err
	}
	return custody.Clone(), nil
}

// ProposeCooldownChange starts the two-phase rage-quit cooldown update. The
// change only takes effect after Finalize once the grace window elapses, so
// users already mid-cooldown keep the terms they entered under.
func (e *Engine) ProposeCooldownChange(caller crypto.Address, newCooldown uint64) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	if err := e.requireRole(caller, RoleCustodyManager); err != nil {
		return err
	}
	existing, err := e.state.CooldownChange()
	if err != nil {
		return err
	}
	if existing != nil {
		return errCooldownPending
	}
	change := &CooldownChange{NewCooldown: newCooldown, ProposedAt: e.now()}
	if err := e.state.PutCooldownChange(change); err != nil {
		return err
	}
	e.emit(newCooldownChangeEvent(newCooldown, change.ProposedAt, "proposed"))
	return nil
}

// FinalizeCooldownChange applies a pending cooldown change after the grace
// window.
func (e *Engine) FinalizeCooldownChange(caller crypto.Address) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	if err := e.requireRole(caller, RoleCustodyManager); err != nil {
		return err
	}
	change, err := e.state.CooldownChange()
	if err != nil {
		return err
	}
	if change == nil {
		return errCooldownNotFound
	}
	if e.now() < change.ProposedAt+cooldownChangeGrace {
		return errCooldownGrace
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	st.RageQuitCooldown = change.NewCooldown
	if err := e.state.PutVaultState(st); err != nil {
		return err
	}
	if err := e.state.DeleteCooldownChange(); err != nil {
		return err
	}
	e.emit(newCooldownChangeEvent(change.NewCooldown, change.ProposedAt, "finalized"))
	return nil
}

// CancelCooldownChange drops a pending cooldown change.
func (e *Engine) CancelCooldownChange(caller crypto.Address) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	if err := e.requireRole(caller, RoleCustodyManager); err != nil {
		return err
	}
	change, err := e.state.CooldownChange()
	if err != nil {
		return err
	}
	if change == nil {
		return errCooldownNotFound
	}
	if err := e.state.DeleteCooldownChange(); err != nil {
		return err
	}
	e.emit(newCooldownChangeEvent(change.NewCooldown, change.ProposedAt, "cancelled"))
	return nil
}
