package vault

import (
	"math/big"
)

// MaxQueue bounds the length of the default withdrawal queue.
const MaxQueue = 10

// MaxBps is the basis-point denominator (100%).
const MaxBps uint64 = 10_000

// unlockPrecision scales the per-second profit unlocking rate so sub-share
// rates survive integer division.
var unlockPrecision = big.NewInt(1_000_000_000_000)

// MaxUint256 is the full-balance sentinel. Conversions pass it through
// unchanged instead of multiplying it.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// cooldownChangeGrace is the window between proposing a rage-quit cooldown
// change and the earliest moment it can be finalised.
const cooldownChangeGrace int64 = 14 * 24 * 60 * 60

// State is the singleton accounting record for one vault instance.
//
// TotalIdle and TotalDebt are tracked independently of the raw token balance so
// direct transfers to the vault cannot move the share price; the invariant
// TotalAssets == TotalIdle + TotalDebt holds after every mutation.
type State struct {
	// TotalSupply counts all minted shares, including vault-held locked shares.
	TotalSupply *big.Int
	// TotalIdle is the underlying held directly by the vault.
	TotalIdle *big.Int
	// TotalDebt is the sum of CurrentDebt across active strategies.
	TotalDebt *big.Int
	// MinimumTotalIdle is the soft idle floor the rebalancer preserves.
	MinimumTotalIdle *big.Int
	// DepositLimit caps TotalAssets when no deposit limit module is wired.
	DepositLimit *big.Int
	// UseDefaultQueue forces queue overrides supplied by withdrawers to be
	// ignored in favour of the stored default queue.
	UseDefaultQueue bool
	// Shutdown is a one-way latch; deposits stop, withdrawals continue.
	Shutdown bool

	// ProfitMaxUnlockTime is the target unlock duration for new profit, in
	// seconds. Zero disables locking entirely.
	ProfitMaxUnlockTime uint64
	// FullUnlockDate is the unix time at which all locked shares are free.
	// Zero means nothing is locked.
	FullUnlockDate int64
	// UnlockingRate is shares-per-second scaled by unlockPrecision.
	UnlockingRate *big.Int
	// LastUnlockUpdate is the unix time of the last unlock accounting.
	LastUnlockUpdate int64

	// ProtocolFeeBps carves this share of reported fees to the protocol
	// recipient.
	ProtocolFeeBps uint64
	// RageQuitCooldown is the custody cooldown in seconds.
	RageQuitCooldown uint64
}

// Clone returns a deep copy of the vault state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := *s
	clone.TotalSupply = cloneBigInt(s.TotalSupply)
	clone.TotalIdle = cloneBigInt(s.TotalIdle)
	clone.TotalDebt = cloneBigInt(s.TotalDebt)
	clone.MinimumTotalIdle = cloneBigInt(s.MinimumTotalIdle)
	clone.DepositLimit = cloneBigInt(s.DepositLimit)
	clone.UnlockingRate = cloneBigInt(s.UnlockingRate)
	return &clone
}

// TotalAssets is the vault-wide valuation in asset units.
func (s *State) TotalAssets() *big.Int {
	return new(big.Int).Add(s.TotalIdle, s.TotalDebt)
}

// normalize backfills nil big.Int fields so loaded state is safe to use.
func (s *State) normalize() {
	if s.TotalSupply == nil {
		s.TotalSupply = big.NewInt(0)
	}
	if s.TotalIdle == nil {
		s.TotalIdle = big.NewInt(0)
	}
	if s.TotalDebt == nil {
		s.TotalDebt = big.NewInt(0)
	}
	if s.MinimumTotalIdle == nil {
		s.MinimumTotalIdle = big.NewInt(0)
	}
	if s.DepositLimit == nil {
		s.DepositLimit = big.NewInt(0)
	}
	if s.UnlockingRate == nil {
		s.UnlockingRate = big.NewInt(0)
	}
}

// StrategyParams captures the vault's accounting view of one strategy.
type StrategyParams struct {
	// Activation is the unix time the strategy was registered. Zero means the
	// strategy is inactive.
	Activation int64
	// LastReport is the unix time of the last reconciliation.
	LastReport int64
	// CurrentDebt is the vault's belief of assets the strategy owes back.
	CurrentDebt *big.Int
	// MaxDebt is the ceiling the rebalancer will not exceed.
	MaxDebt *big.Int
}

// Clone returns a deep copy of the strategy parameters.
func (p *StrategyParams) Clone() *StrategyParams {
	if p == nil {
		return nil
	}
	clone := *p
	clone.CurrentDebt = cloneBigInt(p.CurrentDebt)
	clone.MaxDebt = cloneBigInt(p.MaxDebt)
	return &clone
}

func (p *StrategyParams) normalize() {
	if p.CurrentDebt == nil {
		p.CurrentDebt = big.NewInt(0)
	}
	if p.MaxDebt == nil {
		p.MaxDebt = big.NewInt(0)
	}
}

// Custody records a rage-quit lockup for one owner. At most one custody record
// exists per owner at a time.
type Custody struct {
	// LockedShares is the share amount held under custody.
	LockedShares *big.Int
	// UnlockTime is the unix time the cooldown elapses.
	UnlockTime int64
}

// Clone returns a deep copy of the custody record.
func (c *Custody) Clone() *Custody {
	if c == nil {
		return nil
	}
	clone := *c
	clone.LockedShares = cloneBigInt(c.LockedShares)
	return &clone
}

// CooldownChange is a pending two-phase rage-quit cooldown update. It is
// decoupled from individual custody records so users mid-cooldown are never
// retroactively affected.
type CooldownChange struct {
	// NewCooldown is the proposed cooldown in seconds.
	NewCooldown uint64
	// ProposedAt is the unix time of the proposal; finalisation is allowed
	// once the grace window has elapsed.
	ProposedAt int64
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func isMaxSentinel(v *big.Int) bool {
	return v != nil && v.Cmp(MaxUint256) == 0
}

func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || amount.Sign() == 0 || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, new(big.Int).SetUint64(MaxBps))
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
