package vault

import "errors"

var (
	errNilState            = errors.New("vault engine: state not configured")
	errNilAsset            = errors.New("vault engine: asset ledger not configured")
	errReentrantCall       = errors.New("vault engine: reentrant call rejected")
	errInvalidAmount       = errors.New("vault engine: amount must be positive")
	errZeroShares          = errors.New("vault engine: cannot mint zero shares")
	errZeroAssets          = errors.New("vault engine: cannot withdraw zero assets")
	errInvalidReceiver     = errors.New("vault engine: invalid receiver")
	errDepositLimit        = errors.New("vault engine: exceeds deposit limit")
	errVaultShutdown       = errors.New("vault engine: vault is shut down")
	errInsufficientShares  = errors.New("vault engine: insufficient shares")
	errInsufficientFunds   = errors.New("vault engine: insufficient funds")
	errInsufficientIdle    = errors.New("vault engine: insufficient assets in vault")
	errAllowanceExceeded   = errors.New("vault engine: allowance exceeded")
	errMaxLossRange        = errors.New("vault engine: max loss exceeds 100%")
	errTooMuchLoss         = errors.New("vault engine: loss exceeds caller tolerance")
	errWithdrawLimit       = errors.New("vault engine: exceeds withdraw limit")
	errInactiveStrategy    = errors.New("vault engine: strategy not active")
	errStrategyActive      = errors.New("vault engine: strategy already active")
	errStrategyHasDebt     = errors.New("vault engine: strategy has outstanding debt")
	errQueueTooLong        = errors.New("vault engine: withdrawal queue exceeds bound")
	errQueueDuplicate      = errors.New("vault engine: withdrawal queue has duplicate entries")
	errQueueInactive       = errors.New("vault engine: queue references inactive strategy")
	errDebtUnchanged       = errors.New("vault engine: target debt equals current debt")
	errDebtAboveMax        = errors.New("vault engine: target debt above strategy max debt")
	errNoFundsToDeploy     = errors.New("vault engine: no idle funds available to deploy")
	errNothingToWithdraw   = errors.New("vault engine: strategy has nothing to withdraw")
	errUnauthorized        = errors.New("vault engine: caller lacks required role")
	errCustodyActive       = errors.New("vault engine: custody already active")
	errCustodyNotFound     = errors.New("vault engine: no custody recorded")
	errCustodyLocked       = errors.New("vault engine: custody cooldown not elapsed")
	errTransferLocked      = errors.New("vault engine: transfer exceeds unlocked balance")
	errCooldownPending     = errors.New("vault engine: cooldown change already pending")
	errCooldownNotFound    = errors.New("vault engine: no cooldown change pending")
	errCooldownGrace       = errors.New("vault engine: cooldown change grace not elapsed")
	errPermitExpired       = errors.New("vault engine: permit deadline passed")
	errPermitSignature     = errors.New("vault engine: permit signature mismatch")
	errSupplyUnderflow     = errors.New("vault engine: share supply underflow")
	errAccountingUnderflow = errors.New("vault engine: idle/debt underflow")
)
