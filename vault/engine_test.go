package vault

import (
	"fmt"
	"math/big"
	"testing"

	"stratvault/crypto"
)

func makeAddress(prefix crypto.AddressPrefix, suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = suffix
	return crypto.NewAddress(prefix, raw)
}

func addrKey(addr crypto.Address) string { return string(addr.Bytes()) }

func pairKey(a, b crypto.Address) string { return addrKey(a) + "|" + addrKey(b) }

type mockVaultState struct {
	vault      *State
	strategies map[string]*StrategyParams
	queue      []crypto.Address
	balances   map[string]*big.Int
	allowances map[string]*big.Int
	nonces     map[string]uint64
	custody    map[string]*Custody
	cooldown   *CooldownChange
	roles      map[string]Role
}

func newMockVaultState() *mockVaultState {
	return &mockVaultState{
		strategies: make(map[string]*StrategyParams),
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
		nonces:     make(map[string]uint64),
		custody:    make(map[string]*Custody),
		roles:      make(map[string]Role),
	}
}

func (m *mockVaultState) VaultState() (*State, error) { return m.vault.Clone(), nil }

func (m *mockVaultState) PutVaultState(st *State) error {
	m.vault = st.Clone()
	return nil
}

func (m *mockVaultState) Strategy(addr crypto.Address) (*StrategyParams, error) {
	return m.strategies[addrKey(addr)].Clone(), nil
}

func (m *mockVaultState) PutStrategy(addr crypto.Address, params *StrategyParams) error {
	m.strategies[addrKey(addr)] = params.Clone()
	return nil
}

func (m *mockVaultState) DeleteStrategy(addr crypto.Address) error {
	delete(m.strategies, addrKey(addr))
	return nil
}

func (m *mockVaultState) Queue() ([]crypto.Address, error) {
	return append([]crypto.Address(nil), m.queue...), nil
}

func (m *mockVaultState) PutQueue(queue []crypto.Address) error {
	m.queue = append([]crypto.Address(nil), queue...)
	return nil
}

func (m *mockVaultState) ShareBalance(addr crypto.Address) (*big.Int, error) {
	return cloneBigInt(m.balances[addrKey(addr)]), nil
}

func (m *mockVaultState) PutShareBalance(addr crypto.Address, balance *big.Int) error {
	m.balances[addrKey(addr)] = cloneBigInt(balance)
	return nil
}

func (m *mockVaultState) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	return cloneBigInt(m.allowances[pairKey(owner, spender)]), nil
}

func (m *mockVaultState) PutAllowance(owner, spender crypto.Address, amount *big.Int) error {
	m.allowances[pairKey(owner, spender)] = cloneBigInt(amount)
	return nil
}

func (m *mockVaultState) ShareNonce(addr crypto.Address) (uint64, error) {
	return m.nonces[addrKey(addr)], nil
}

func (m *mockVaultState) PutShareNonce(addr crypto.Address, nonce uint64) error {
	m.nonces[addrKey(addr)] = nonce
	return nil
}

func (m *mockVaultState) Custody(owner crypto.Address) (*Custody, error) {
	return m.custody[addrKey(owner)].Clone(), nil
}

func (m *mockVaultState) PutCustody(owner crypto.Address, custody *Custody) error {
	m.custody[addrKey(owner)] = custody.Clone()
	return nil
}

func (m *mockVaultState) DeleteCustody(owner crypto.Address) error {
	delete(m.custody, addrKey(owner))
	return nil
}

func (m *mockVaultState) CooldownChange() (*CooldownChange, error) {
	if m.cooldown == nil {
		return nil, nil
	}
	clone := *m.cooldown
	return &clone, nil
}

func (m *mockVaultState) PutCooldownChange(change *CooldownChange) error {
	clone := *change
	m.cooldown = &clone
	return nil
}

func (m *mockVaultState) DeleteCooldownChange() error {
	m.cooldown = nil
	return nil
}

func (m *mockVaultState) Roles(addr crypto.Address) (Role, error) {
	return m.roles[addrKey(addr)], nil
}

func (m *mockVaultState) PutRoles(addr crypto.Address, roles Role) error {
	m.roles[addrKey(addr)] = roles
	return nil
}

type mockAssetLedger struct {
	balances   map[string]*big.Int
	allowances map[string]*big.Int
}

func newMockAssetLedger() *mockAssetLedger {
	return &mockAssetLedger{
		balances:   make(map[string]*big.Int),
		allowances: make(map[string]*big.Int),
	}
}

func (m *mockAssetLedger) mint(addr crypto.Address, amount *big.Int) {
	current := cloneBigInt(m.balances[addrKey(addr)])
	m.balances[addrKey(addr)] = current.Add(current, amount)
}

func (m *mockAssetLedger) setAllowance(owner, spender crypto.Address, amount *big.Int) {
	m.allowances[pairKey(owner, spender)] = cloneBigInt(amount)
}

func (m *mockAssetLedger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	return cloneBigInt(m.balances[addrKey(addr)]), nil
}

func (m *mockAssetLedger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	balance := cloneBigInt(m.balances[addrKey(from)])
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("mock ledger: insufficient balance")
	}
	m.balances[addrKey(from)] = balance.Sub(balance, amount)
	toBalance := cloneBigInt(m.balances[addrKey(to)])
	m.balances[addrKey(to)] = toBalance.Add(toBalance, amount)
	return nil
}

func (m *mockAssetLedger) TransferFrom(spender, from, to crypto.Address, amount *big.Int) error {
	if !spender.Equal(from) {
		allowance := cloneBigInt(m.allowances[pairKey(from, spender)])
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("mock ledger: allowance exceeded")
		}
		m.allowances[pairKey(from, spender)] = allowance.Sub(allowance, amount)
	}
	return m.Transfer(from, to, amount)
}

func (m *mockAssetLedger) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	return cloneBigInt(m.allowances[pairKey(owner, spender)]), nil
}

// mockStrategy values itself 1:1 against its ledger balance unless valuation
// overrides it. maxOut caps liquidity; withhold short-delivers and overDeliver
// pays out extra, both capped by the strategy's ledger balance.
type mockStrategy struct {
	ledger      *mockAssetLedger
	addr        crypto.Address
	valuation   *big.Int
	maxOut      *big.Int
	withhold    *big.Int
	overDeliver *big.Int
}

func (m *mockStrategy) value() *big.Int {
	if m.valuation != nil {
		return cloneBigInt(m.valuation)
	}
	balance, _ := m.ledger.BalanceOf(m.addr)
	return balance
}

func (m *mockStrategy) TotalValueInAssets(crypto.Address) (*big.Int, error) {
	return m.value(), nil
}

func (m *mockStrategy) MaxWithdrawable(crypto.Address) (*big.Int, error) {
	if m.maxOut != nil {
		return cloneBigInt(m.maxOut), nil
	}
	return m.value(), nil
}

func (m *mockStrategy) PreviewWithdraw(assets *big.Int) (*big.Int, error) {
	return cloneBigInt(assets), nil
}

func (m *mockStrategy) ShareBalance(crypto.Address) (*big.Int, error) {
	return m.value(), nil
}

func (m *mockStrategy) Redeem(shares *big.Int, receiver crypto.Address) (*big.Int, error) {
	balance, _ := m.ledger.BalanceOf(m.addr)
	want := cloneBigInt(shares)
	if m.overDeliver != nil {
		want.Add(want, m.overDeliver)
	}
	out := cloneBigInt(minBig(want, balance))
	if m.withhold != nil {
		out.Sub(out, m.withhold)
		if out.Sign() < 0 {
			out = big.NewInt(0)
		}
	}
	if err := m.ledger.Transfer(m.addr, receiver, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *mockStrategy) Withdraw(assets *big.Int, receiver crypto.Address) (*big.Int, error) {
	balance, _ := m.ledger.BalanceOf(m.addr)
	out := cloneBigInt(minBig(assets, balance))
	if m.withhold != nil {
		out.Sub(out, m.withhold)
		if out.Sign() < 0 {
			out = big.NewInt(0)
		}
	}
	if err := m.ledger.Transfer(m.addr, receiver, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *mockStrategy) Deposit(*big.Int) error { return nil }

type mockResolver struct {
	impls map[string]Strategy
}

func (r *mockResolver) Resolve(addr crypto.Address) (Strategy, error) {
	impl, ok := r.impls[addrKey(addr)]
	if !ok {
		return nil, errInactiveStrategy
	}
	return impl, nil
}

type mockOracle struct {
	addr    crypto.Address
	fees    *big.Int
	refunds *big.Int
}

func (o *mockOracle) Report(crypto.Address, *big.Int, *big.Int) (*big.Int, *big.Int, error) {
	return cloneBigInt(o.fees), cloneBigInt(o.refunds), nil
}

func (o *mockOracle) Address() crypto.Address { return o.addr }

type engineFixture struct {
	t         *testing.T
	engine    *Engine
	state     *mockVaultState
	ledger    *mockAssetLedger
	resolver  *mockResolver
	vaultAddr crypto.Address
	clock     int64
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	fix := &engineFixture{t: t, clock: 1_700_000_000}
	fix.vaultAddr = makeAddress(crypto.AccountPrefix, 0xAA)
	fix.state = newMockVaultState()
	fix.ledger = newMockAssetLedger()
	fix.resolver = &mockResolver{impls: make(map[string]Strategy)}

	engine := NewEngine(fix.vaultAddr)
	engine.SetState(fix.state)
	engine.SetAsset(fix.ledger)
	engine.SetStrategyResolver(fix.resolver)
	engine.SetNowFunc(func() int64 { return fix.clock })
	fix.engine = engine

	fix.state.vault = &State{DepositLimit: big.NewInt(1_000_000)}
	fix.state.vault.normalize()
	return fix
}

// fund credits the account on the asset ledger and approves the vault to pull
// the full amount.
func (f *engineFixture) fund(addr crypto.Address, amount int64) {
	f.ledger.mint(addr, big.NewInt(amount))
	f.ledger.setAllowance(addr, f.vaultAddr, big.NewInt(amount))
}

func (f *engineFixture) grant(addr crypto.Address, roles Role) {
	f.state.roles[addrKey(addr)] = roles
}

func (f *engineFixture) deposit(owner crypto.Address, amount int64) *big.Int {
	f.t.Helper()
	shares, err := f.engine.Deposit(owner, owner, big.NewInt(amount))
	if err != nil {
		f.t.Fatalf("deposit %d: %v", amount, err)
	}
	return shares
}

func (f *engineFixture) addStrategy(suffix byte, maxDebt int64) (crypto.Address, *mockStrategy) {
	addr := makeAddress(crypto.StrategyPrefix, suffix)
	impl := &mockStrategy{ledger: f.ledger, addr: addr}
	f.state.strategies[addrKey(addr)] = &StrategyParams{
		Activation:  f.clock,
		LastReport:  f.clock,
		CurrentDebt: big.NewInt(0),
		MaxDebt:     big.NewInt(maxDebt),
	}
	f.state.queue = append(f.state.queue, addr)
	f.resolver.impls[addrKey(addr)] = impl
	return addr, impl
}

func (f *engineFixture) updateDebt(caller, strategy crypto.Address, target int64) {
	f.t.Helper()
	if _, err := f.engine.UpdateDebt(caller, strategy, big.NewInt(target), 0); err != nil {
		f.t.Fatalf("update debt to %d: %v", target, err)
	}
}

func requireAmount(t *testing.T, got *big.Int, want int64, label string) {
	t.Helper()
	if got == nil {
		t.Fatalf("%s: got nil, want %d", label, want)
	}
	if got.Cmp(big.NewInt(want)) != 0 {
		t.Fatalf("%s: got %s, want %d", label, got, want)
	}
}

func (f *engineFixture) requireShareBalance(addr crypto.Address, want int64, label string) {
	f.t.Helper()
	balance, err := f.engine.BalanceOf(addr)
	if err != nil {
		f.t.Fatalf("%s: balance: %v", label, err)
	}
	requireAmount(f.t, balance, want, label)
}

func (f *engineFixture) requireLedgerBalance(addr crypto.Address, want int64, label string) {
	f.t.Helper()
	balance, err := f.ledger.BalanceOf(addr)
	if err != nil {
		f.t.Fatalf("%s: ledger balance: %v", label, err)
	}
	requireAmount(f.t, balance, want, label)
}
