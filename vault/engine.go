package vault

import (
	"math/big"
	"sync/atomic"
	"time"

	"stratvault/core/events"
	"stratvault/core/types"
	"stratvault/crypto"
)

// engineState is the persistence surface the engine operates over. All amounts
// are exchanged as deep copies; implementations must not alias stored values.
type engineState interface {
	VaultState() (*State, error)
	PutVaultState(*State) error

	Strategy(addr crypto.Address) (*StrategyParams, error)
	PutStrategy(addr crypto.Address, params *StrategyParams) error
	DeleteStrategy(addr crypto.Address) error
	Queue() ([]crypto.Address, error)
	PutQueue([]crypto.Address) error

	ShareBalance(addr crypto.Address) (*big.Int, error)
	PutShareBalance(addr crypto.Address, balance *big.Int) error
	Allowance(owner, spender crypto.Address) (*big.Int, error)
	PutAllowance(owner, spender crypto.Address, amount *big.Int) error
	ShareNonce(addr crypto.Address) (uint64, error)
	PutShareNonce(addr crypto.Address, nonce uint64) error

	Custody(owner crypto.Address) (*Custody, error)
	PutCustody(owner crypto.Address, custody *Custody) error
	DeleteCustody(owner crypto.Address) error
	CooldownChange() (*CooldownChange, error)
	PutCooldownChange(change *CooldownChange) error
	DeleteCooldownChange() error

	Roles(addr crypto.Address) (Role, error)
	PutRoles(addr crypto.Address, roles Role) error
}

// Engine orchestrates all state transitions for one vault instance. Every
// state-mutating entry point is serialized by a latch that is held across
// collaborator calls; reentering while the latch is held is rejected
// unconditionally rather than queued.
type Engine struct {
	state      engineState
	asset      AssetLedger
	strategies StrategyResolver
	accountant FeeOracle

	depositLimitModule  DepositLimitModule
	withdrawLimitModule WithdrawLimitModule

	address           crypto.Address
	feeRecipient      crypto.Address
	protocolRecipient crypto.Address

	emitter events.Emitter
	nowFn   func() int64
	busy    atomic.Bool
}

// NewEngine constructs a vault engine bound to its own vault address. State,
// asset ledger and collaborators are wired via the Set* methods.
func NewEngine(vaultAddr crypto.Address) *Engine {
	return &Engine{
		address: vaultAddr,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAsset wires the underlying asset ledger.
func (e *Engine) SetAsset(asset AssetLedger) { e.asset = asset }

// SetStrategyResolver wires the strategy implementation lookup.
func (e *Engine) SetStrategyResolver(resolver StrategyResolver) { e.strategies = resolver }

// SetAccountant configures the fee/refund oracle. Passing nil disables fees.
func (e *Engine) SetAccountant(oracle FeeOracle) { e.accountant = oracle }

// SetDepositLimitModule configures the external deposit policy hook.
func (e *Engine) SetDepositLimitModule(m DepositLimitModule) { e.depositLimitModule = m }

// SetWithdrawLimitModule configures the external withdraw policy hook.
func (e *Engine) SetWithdrawLimitModule(m WithdrawLimitModule) { e.withdrawLimitModule = m }

// SetFeeRecipients configures where fee shares and the protocol carve-out are
// minted.
func (e *Engine) SetFeeRecipients(fee, protocol crypto.Address) {
	e.feeRecipient = fee
	e.protocolRecipient = protocol
}

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the engine time source, primarily for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Address returns the vault's own account address. It doubles as the idle
// sentinel accepted by ProcessReport.
func (e *Engine) Address() crypto.Address { return e.address }

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(vaultEvent{evt: event})
}

// acquire takes the reentrancy latch. The canonical attack is a strategy
// calling back into deposit/withdraw during its own redemption hook; the latch
// turns that into an immediate error instead of a deadlock.
func (e *Engine) acquire() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.asset == nil {
		return errNilAsset
	}
	if !e.busy.CompareAndSwap(false, true) {
		return errReentrantCall
	}
	return nil
}

func (e *Engine) release() { e.busy.Store(false) }

func (e *Engine) loadState() (*State, error) {
	st, err := e.state.VaultState()
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = &State{}
	}
	st.normalize()
	return st, nil
}

func (e *Engine) requireRole(caller crypto.Address, want Role) error {
	roles, err := e.state.Roles(caller)
	if err != nil {
		return err
	}
	if !roles.Has(want) {
		return errUnauthorized
	}
	return nil
}

// resolveStrategy loads both the accounting params and the implementation for
// an active strategy.
func (e *Engine) resolveStrategy(addr crypto.Address) (*StrategyParams, Strategy, error) {
	params, err := e.state.Strategy(addr)
	if err != nil {
		return nil, nil, err
	}
	if params == nil || params.Activation == 0 {
		return nil, nil, errInactiveStrategy
	}
	params.normalize()
	if e.strategies == nil {
		return nil, nil, errInactiveStrategy
	}
	impl, err := e.strategies.Resolve(addr)
	if err != nil {
		return nil, nil, err
	}
	return params, impl, nil
}

// --- Role administration ---

// GrantRoles adds the provided role bits to the holder's set.
func (e *Engine) GrantRoles(holder crypto.Address, add Role) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	current, err := e.state.Roles(holder)
	if err != nil {
		return err
	}
	updated := current.Grant(add)
	if err := e.state.PutRoles(holder, updated); err != nil {
		return err
	}
	e.emit(newRoleEvent(holder, updated))
	return nil
}

// RevokeRoles removes the provided role bits from the holder's set.
func (e *Engine) RevokeRoles(holder crypto.Address, remove Role) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	current, err := e.state.Roles(holder)
	if err != nil {
		return err
	}
	updated := current.Revoke(remove)
	if err := e.state.PutRoles(holder, updated); err != nil {
		return err
	}
	e.emit(newRoleEvent(holder, updated))
	return nil
}

// SetRoles overwrites the holder's role set.
func (e *Engine) SetRoles(holder crypto.Address, roles Role) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.state.PutRoles(holder, roles); err != nil {
		return err
	}
	e.emit(newRoleEvent(holder, roles))
	return nil
}

// RolesOf returns the role set held by an address.
func (e *Engine) RolesOf(holder crypto.Address) (Role, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.Roles(holder)
}

// --- Governance setters ---

// SetDepositLimit updates the deposit cap used when no limit module is wired.
func (e *Engine) SetDepositLimit(caller crypto.Address, limit *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireRole(caller, RoleDepositLimitManager); err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	st.DepositLimit = cloneBigInt(limit)
	return e.state.PutVaultState(st)
}

// SetMinimumTotalIdle updates the idle floor the rebalancer preserves.
func (e *Engine) SetMinimumTotalIdle(caller crypto.Address, minimum *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireRole(caller, RoleMinimumIdleManager); err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	st.MinimumTotalIdle = cloneBigInt(minimum)
	return e.state.PutVaultState(st)
}

// SetUseDefaultQueue forces withdrawals onto the stored default queue.
func (e *Engine) SetUseDefaultQueue(caller crypto.Address, force bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireRole(caller, RoleQueueManager); err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	st.UseDefaultQueue = force
	return e.state.PutVaultState(st)
}

// SetProtocolFeeBps updates the protocol carve-out applied to reported fees.
func (e *Engine) SetProtocolFeeBps(caller crypto.Address, bps uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireRole(caller, RoleAccountantManager); err != nil {
		return err
	}
	if bps > MaxBps {
		return errMaxLossRange
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	st.ProtocolFeeBps = bps
	return e.state.PutVaultState(st)
}

// ShutdownVault flips the one-way shutdown latch. Deposits stop permanently;
// withdrawals keep working.
func (e *Engine) ShutdownVault(caller crypto.Address) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	if err := e.requireRole(caller, RoleEmergencyManager); err != nil {
		return err
	}
	st, err := e.loadState()
	if err != nil {
		return err
	}
	if st.Shutdown {
		return nil
	}
	st.Shutdown = true
	if err := e.state.PutVaultState(st); err != nil {
		return err
	}
	e.emit(newShutdownEvent(caller))
	return nil
}

// --- Views ---

// TotalAssets reports idle plus strategy debt.
func (e *Engine) TotalAssets() (*big.Int, error) {
	st, err := e.viewState()
	if err != nil {
		return nil, err
	}
	return st.TotalAssets(), nil
}

// TotalIdle reports assets held directly by the vault.
func (e *Engine) TotalIdle() (*big.Int, error) {
	st, err := e.viewState()
	if err != nil {
		return nil, err
	}
	return cloneBigInt(st.TotalIdle), nil
}

// TotalDebt reports the debt allocated across strategies.
func (e *Engine) TotalDebt() (*big.Int, error) {
	st, err := e.viewState()
	if err != nil {
		return nil, err
	}
	return cloneBigInt(st.TotalDebt), nil
}

// TotalSupply reports all minted shares, locked shares included.
func (e *Engine) TotalSupply() (*big.Int, error) {
	st, err := e.viewState()
	if err != nil {
		return nil, err
	}
	return cloneBigInt(st.TotalSupply), nil
}

// ConvertToShares quotes the share amount for an asset amount, rounding down.
func (e *Engine) ConvertToShares(assets *big.Int) (*big.Int, error) {
	st, err := e.viewState()
	if err != nil {
		return nil, err
	}
	return e.convertToShares(st, assets, RoundDown)
}

// ConvertToAssets quotes the asset amount for a share amount, rounding down.
func (e *Engine) ConvertToAssets(shares *big.Int) (*big.Int, error) {
	st, err := e.viewState()
	if err != nil {
		return nil, err
	}
	return e.convertToAssets(st, shares, RoundDown)
}

// PricePerShare quotes the asset value of one whole share at the given scale
// (10^decimals). Exposed for monitoring; on-path accounting never uses it.
func (e *Engine) PricePerShare(decimals uint8) (*big.Int, error) {
	st, err := e.viewState()
	if err != nil {
		return nil, err
	}
	one := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	return e.convertToAssets(st, one, RoundDown)
}

// Snapshot returns a copy of the raw vault accounting record.
func (e *Engine) Snapshot() (*State, error) {
	st, err := e.viewState()
	if err != nil {
		return nil, err
	}
	return st.Clone(), nil
}

// UnlockedShares reports the vault-held shares freed since the last unlock
// accounting.
func (e *Engine) UnlockedShares() (*big.Int, error) {
	st, err := e.viewState()
	if err != nil {
		return nil, err
	}
	return e.unlockedSharesAt(st, e.now())
}

func (e *Engine) viewState() (*State, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.loadState()
}

// convertToShares converts against the circulating supply: raw supply minus
// shares that have unlocked since the last update.
func (e *Engine) convertToShares(st *State, assets *big.Int, rounding Rounding) (*big.Int, error) {
	supply, err := e.circulatingSupply(st, e.now())
	if err != nil {
		return nil, err
	}
	return sharesForAssets(assets, supply, st.TotalAssets(), rounding), nil
}

func (e *Engine) convertToAssets(st *State, shares *big.Int, rounding Rounding) (*big.Int, error) {
	supply, err := e.circulatingSupply(st, e.now())
	if err != nil {
		return nil, err
	}
	return assetsForShares(shares, supply, st.TotalAssets(), rounding), nil
}
