package vault

import (
	"math/big"

	"stratvault/crypto"
)

// Strategy is the surface the vault consumes from an external yield strategy.
// Valuations are a trust assumption on the strategy: the vault clamps what it
// can (refunds, received amounts) but cannot make a manipulable valuation safe.
type Strategy interface {
	// TotalValueInAssets values the holder's entire position in asset units.
	TotalValueInAssets(holder crypto.Address) (*big.Int, error)
	// MaxWithdrawable reports the assets the holder could withdraw right now.
	MaxWithdrawable(holder crypto.Address) (*big.Int, error)
	// PreviewWithdraw quotes the strategy shares needed to withdraw assets.
	PreviewWithdraw(assets *big.Int) (*big.Int, error)
	// ShareBalance returns the holder's strategy share balance.
	ShareBalance(holder crypto.Address) (*big.Int, error)
	// Redeem burns the holder's strategy shares and sends assets to the
	// receiver, returning the assets actually released.
	Redeem(shares *big.Int, receiver crypto.Address) (*big.Int, error)
	// Withdraw releases an asset amount to the receiver, returning the assets
	// actually released.
	Withdraw(assets *big.Int, receiver crypto.Address) (*big.Int, error)
	// Deposit notifies the strategy that assets were transferred to it.
	Deposit(assets *big.Int) error
}

// StrategyResolver maps a registered strategy address to its implementation.
type StrategyResolver interface {
	Resolve(addr crypto.Address) (Strategy, error)
}

// FeeOracle computes fees and refunds for one reconciliation. The refund
// figure is never trusted at face value; it is clamped to what the oracle can
// actually pay.
type FeeOracle interface {
	Report(strategy crypto.Address, gain, loss *big.Int) (fees, refunds *big.Int, err error)
	// Address is the account fees accrue to and refunds are pulled from.
	Address() crypto.Address
}

// DepositLimitModule is an external deposit policy hook.
type DepositLimitModule interface {
	AvailableDepositLimit(receiver crypto.Address) (*big.Int, error)
}

// WithdrawLimitModule is an external withdraw policy hook.
type WithdrawLimitModule interface {
	AvailableWithdrawLimit(owner crypto.Address, maxLossBps uint64, queue []crypto.Address) (*big.Int, error)
}

// AssetLedger is the fungible underlying token consumed by the vault.
type AssetLedger interface {
	BalanceOf(addr crypto.Address) (*big.Int, error)
	// Transfer moves assets out of the from account. Used for balances the
	// vault itself controls.
	Transfer(from, to crypto.Address, amount *big.Int) error
	// TransferFrom moves assets using the spender's allowance.
	TransferFrom(spender, from, to crypto.Address, amount *big.Int) error
	Allowance(owner, spender crypto.Address) (*big.Int, error)
}
