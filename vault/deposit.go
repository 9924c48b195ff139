package vault

import (
	"math/big"

	"stratvault/crypto"
)

// MaxDeposit reports the assets the receiver may still deposit. A configured
// deposit limit module overrides the static limit; shutdown means zero.
func (e *Engine) MaxDeposit(receiver crypto.Address) (*big.Int, error) {
	st, err := e.viewState()
	if err != nil {
		return nil, err
	}
	return e.maxDeposit(st, receiver)
}

func (e *Engine) maxDeposit(st *State, receiver crypto.Address) (*big.Int, error) {
	if st.Shutdown {
		return big.NewInt(0), nil
	}
	if e.depositLimitModule != nil {
		limit, err := e.depositLimitModule.AvailableDepositLimit(receiver)
		if err != nil {
			return nil, err
		}
		return cloneBigInt(limit), nil
	}
	if isMaxSentinel(st.DepositLimit) {
		return cloneBigInt(MaxUint256), nil
	}
	total := st.TotalAssets()
	if total.Cmp(st.DepositLimit) >= 0 {
		return big.NewInt(0), nil
	}
	return new(big.Int).Sub(st.DepositLimit, total), nil
}

// MaxMint reports the shares the receiver may still mint.
func (e *Engine) MaxMint(receiver crypto.Address) (*big.Int, error) {
	st, err := e.viewState()
	if err != nil {
		return nil, err
	}
	assets, err := e.maxDeposit(st, receiver)
	if err != nil {
		return nil, err
	}
	return e.convertToShares(st, assets, RoundDown)
}

// Deposit pulls assets from the sender and mints shares to the receiver,
// rounding shares down.
func (e *Engine) Deposit(sender, receiver crypto.Address, assets *big.Int) (*big.Int, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	if assets == nil || assets.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	amount := assets
	if isMaxSentinel(assets) {
		balance, err := e.asset.BalanceOf(sender)
		if err != nil {
			return nil, err
		}
		amount = balance
	}
	shares, err := e.convertToShares(st, amount, RoundDown)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return nil, errZeroShares
	}
	if err := e.commitDeposit(st, sender, receiver, amount, shares); err != nil {
		return nil, err
	}
	return shares, nil
}

// Mint credits an exact share amount to the receiver and charges the asset
// equivalent, rounding assets up.
func (e *Engine) Mint(sender, receiver crypto.Address, shares *big.Int) (*big.Int, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	if shares == nil || shares.Sign() <= 0 {
		return nil, errZeroShares
	}
	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	assets, err := e.convertToAssets(st, shares, RoundUp)
	if err != nil {
		return nil, err
	}
	if assets.Sign() == 0 {
		return nil, errInvalidAmount
	}
	if err := e.commitDeposit(st, sender, receiver, assets, shares); err != nil {
		return nil, err
	}
	return assets, nil
}

func (e *Engine) commitDeposit(st *State, sender, receiver crypto.Address, assets, shares *big.Int) error {
	if st.Shutdown {
		return errVaultShutdown
	}
	if receiver.IsZero() || receiver.Equal(e.address) {
		return errInvalidReceiver
	}
	limit, err := e.maxDeposit(st, receiver)
	if err != nil {
		return err
	}
	if assets.Cmp(limit) > 0 {
		return errDepositLimit
	}
	if err := e.asset.TransferFrom(e.address, sender, e.address, assets); err != nil {
		return err
	}
	st.TotalIdle = new(big.Int).Add(st.TotalIdle, assets)
	if err := e.mintShares(st, receiver, shares); err != nil {
		return err
	}
	if err := e.state.PutVaultState(st); err != nil {
		return err
	}
	e.emit(newDepositEvent(sender, receiver, assets, shares))
	return nil
}
