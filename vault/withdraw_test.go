package vault

import (
	"errors"
	"math/big"
	"testing"

	"stratvault/crypto"
)

func TestWithdrawFromIdle(t *testing.T) {
	fix := newEngineFixture(t)
	depositor := makeAddress(crypto.AccountPrefix, 0x01)
	receiver := makeAddress(crypto.AccountPrefix, 0x02)
	fix.fund(depositor, 1_000)
	fix.deposit(depositor, 1_000)

	shares, err := fix.engine.Withdraw(depositor, receiver, depositor, big.NewInt(400), 0, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	requireAmount(t, shares, 400, "shares burned")
	fix.requireShareBalance(depositor, 600, "remaining shares")
	fix.requireLedgerBalance(receiver, 400, "receiver assets")
	requireAmount(t, fix.state.vault.TotalIdle, 600, "idle after withdraw")
	requireAmount(t, fix.state.vault.TotalSupply, 600, "supply after burn")
}

func TestRedeemMaxSentinelBurnsFullBalance(t *testing.T) {
	fix := newEngineFixture(t)
	depositor := makeAddress(crypto.AccountPrefix, 0x01)
	fix.fund(depositor, 1_000)
	fix.deposit(depositor, 1_000)

	assets, err := fix.engine.Redeem(depositor, depositor, depositor, cloneBigInt(MaxUint256), 0, nil)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	requireAmount(t, assets, 1_000, "assets returned")
	fix.requireShareBalance(depositor, 0, "shares emptied")
	requireAmount(t, fix.state.vault.TotalSupply, 0, "supply emptied")
}

func TestWithdrawWalksQueue(t *testing.T) {
	fix, keeper, strategy, _ := debtFixture(t)
	fix.updateDebt(keeper, strategy, 900)
	depositor := makeAddress(crypto.AccountPrefix, 0x01)
	receiver := makeAddress(crypto.AccountPrefix, 0x03)

	// Idle covers only 100 of the 500: the rest unwinds strategy debt.
	shares, err := fix.engine.Withdraw(depositor, receiver, depositor, big.NewInt(500), 0, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	requireAmount(t, shares, 500, "shares burned")
	fix.requireLedgerBalance(receiver, 500, "receiver assets")
	requireAmount(t, fix.state.vault.TotalIdle, 0, "idle drained")
	requireAmount(t, fix.state.vault.TotalDebt, 500, "debt unwound")
	params, err := fix.engine.StrategyOf(strategy)
	if err != nil {
		t.Fatalf("strategy of: %v", err)
	}
	requireAmount(t, params.CurrentDebt, 500, "strategy debt")
}

func TestWithdrawChargesUnrealisedLossToWithdrawer(t *testing.T) {
	fix, keeper, strategy, _ := debtFixture(t)
	fix.updateDebt(keeper, strategy, 1_000)
	// The strategy lost 20%: worth 800 against 1000 recorded debt.
	if err := fix.ledger.Transfer(strategy, makeAddress(crypto.AccountPrefix, 0xEE), big.NewInt(200)); err != nil {
		t.Fatalf("simulate loss: %v", err)
	}
	depositor := makeAddress(crypto.AccountPrefix, 0x01)
	receiver := makeAddress(crypto.AccountPrefix, 0x03)

	shares, err := fix.engine.Withdraw(depositor, receiver, depositor, big.NewInt(500), 2_000, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// 500 shares burned, but 100 of the slice was this withdrawer's split of
	// the unrealized loss: only 400 pays out.
	requireAmount(t, shares, 500, "shares burned")
	fix.requireLedgerBalance(receiver, 400, "receiver assets")
	requireAmount(t, fix.state.vault.TotalIdle, 0, "idle after withdraw")
	requireAmount(t, fix.state.vault.TotalDebt, 500, "debt after loss slice")
	requireAmount(t, fix.state.vault.TotalSupply, 500, "supply after burn")
}

func TestWithdrawZeroLossToleranceRefusesLoss(t *testing.T) {
	fix, keeper, strategy, _ := debtFixture(t)
	fix.updateDebt(keeper, strategy, 1_000)
	if err := fix.ledger.Transfer(strategy, makeAddress(crypto.AccountPrefix, 0xEE), big.NewInt(200)); err != nil {
		t.Fatalf("simulate loss: %v", err)
	}
	depositor := makeAddress(crypto.AccountPrefix, 0x01)

	_, err := fix.engine.Withdraw(depositor, depositor, depositor, big.NewInt(500), 0, nil)
	if !errors.Is(err, errInsufficientIdle) {
		t.Fatalf("expected insufficient idle, got %v", err)
	}
	// Nothing committed: the depositor keeps every share.
	fix.requireShareBalance(depositor, 1_000, "shares untouched")
	requireAmount(t, fix.state.vault.TotalDebt, 1_000, "debt untouched")
}

func TestWithdrawRejectsExcessiveShares(t *testing.T) {
	fix := newEngineFixture(t)
	depositor := makeAddress(crypto.AccountPrefix, 0x01)
	fix.fund(depositor, 1_000)
	fix.deposit(depositor, 1_000)

	if _, err := fix.engine.Withdraw(depositor, depositor, depositor, big.NewInt(1_500), 0, nil); !errors.Is(err, errInsufficientShares) {
		t.Fatalf("expected insufficient shares, got %v", err)
	}
}

func TestWithdrawOnBehalfRequiresAllowance(t *testing.T) {
	fix := newEngineFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x01)
	operator := makeAddress(crypto.AccountPrefix, 0x02)
	fix.fund(owner, 1_000)
	fix.deposit(owner, 1_000)

	if _, err := fix.engine.Withdraw(operator, operator, owner, big.NewInt(300), 0, nil); !errors.Is(err, errAllowanceExceeded) {
		t.Fatalf("expected allowance error, got %v", err)
	}

	if err := fix.engine.Approve(owner, operator, big.NewInt(300)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := fix.engine.Withdraw(operator, operator, owner, big.NewInt(300), 0, nil); err != nil {
		t.Fatalf("withdraw on behalf: %v", err)
	}
	fix.requireLedgerBalance(operator, 300, "operator assets")
	allowance, err := fix.engine.Allowance(owner, operator)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	requireAmount(t, allowance, 0, "allowance spent")
}

func TestWithdrawRejectsMaxLossOverFull(t *testing.T) {
	fix := newEngineFixture(t)
	depositor := makeAddress(crypto.AccountPrefix, 0x01)
	fix.fund(depositor, 1_000)
	fix.deposit(depositor, 1_000)

	if _, err := fix.engine.Withdraw(depositor, depositor, depositor, big.NewInt(100), MaxBps+1, nil); !errors.Is(err, errMaxLossRange) {
		t.Fatalf("expected max loss range error, got %v", err)
	}
}

func TestWithdrawAfterShutdownStillWorks(t *testing.T) {
	fix := newEngineFixture(t)
	depositor := makeAddress(crypto.AccountPrefix, 0x01)
	fix.fund(depositor, 1_000)
	fix.deposit(depositor, 1_000)
	fix.state.vault.Shutdown = true

	if _, err := fix.engine.Withdraw(depositor, depositor, depositor, big.NewInt(400), 0, nil); err != nil {
		t.Fatalf("withdraw after shutdown: %v", err)
	}
	fix.requireLedgerBalance(depositor, 400, "assets returned")
}

func TestWithdrawRejectsDuplicateQueueEntries(t *testing.T) {
	fix, keeper, strategy, impl := debtFixture(t)
	fix.updateDebt(keeper, strategy, 1_000)
	impl.maxOut = big.NewInt(500)
	depositor := makeAddress(crypto.AccountPrefix, 0x01)

	// Listing the strategy twice would unwind its debt against a stale read
	// on the second pass: the queue is rejected before anything moves.
	queue := []crypto.Address{strategy, strategy}
	_, err := fix.engine.Withdraw(depositor, depositor, depositor, big.NewInt(1_000), MaxBps, queue)
	if !errors.Is(err, errQueueDuplicate) {
		t.Fatalf("expected duplicate queue error, got %v", err)
	}
	fix.requireShareBalance(depositor, 1_000, "shares untouched")
	requireAmount(t, fix.state.vault.TotalDebt, 1_000, "debt untouched")
	params, err := fix.engine.StrategyOf(strategy)
	if err != nil {
		t.Fatalf("strategy of: %v", err)
	}
	requireAmount(t, params.CurrentDebt, 1_000, "strategy debt untouched")
}

func TestWithdrawAbsorbsOverDelivery(t *testing.T) {
	fix, keeper, strategy, impl := debtFixture(t)
	fix.updateDebt(keeper, strategy, 600)
	impl.overDeliver = big.NewInt(50)
	depositor := makeAddress(crypto.AccountPrefix, 0x01)
	receiver := makeAddress(crypto.AccountPrefix, 0x03)

	// The strategy hands back 150 for a 100 slice: the extra 50 pays down
	// more recorded debt instead of leaking out of the accounting.
	shares, err := fix.engine.Withdraw(depositor, receiver, depositor, big.NewInt(500), 0, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	requireAmount(t, shares, 500, "shares burned")
	fix.requireLedgerBalance(receiver, 500, "receiver assets")
	requireAmount(t, fix.state.vault.TotalIdle, 50, "idle after absorption")
	requireAmount(t, fix.state.vault.TotalDebt, 450, "debt after absorption")
	params, err := fix.engine.StrategyOf(strategy)
	if err != nil {
		t.Fatalf("strategy of: %v", err)
	}
	requireAmount(t, params.CurrentDebt, 450, "strategy debt")
	fix.requireLedgerBalance(fix.vaultAddr, 50, "vault raw balance")
}

func TestWithdrawOverDeliveryCappedAtRecordedDebt(t *testing.T) {
	fix, keeper, strategy, impl := debtFixture(t)
	fix.updateDebt(keeper, strategy, 600)
	// The strategy holds 900 and pays out 750 for a 100 slice. Absorption
	// stops at the 600 recorded debt; the rest sits in the raw balance until
	// the next report sweeps it.
	fix.ledger.mint(strategy, big.NewInt(300))
	impl.overDeliver = big.NewInt(650)
	depositor := makeAddress(crypto.AccountPrefix, 0x01)
	receiver := makeAddress(crypto.AccountPrefix, 0x03)

	shares, err := fix.engine.Withdraw(depositor, receiver, depositor, big.NewInt(500), 0, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	requireAmount(t, shares, 500, "shares burned")
	fix.requireLedgerBalance(receiver, 500, "receiver assets")
	requireAmount(t, fix.state.vault.TotalIdle, 500, "accounted idle")
	requireAmount(t, fix.state.vault.TotalDebt, 0, "debt cleared")
	params, err := fix.engine.StrategyOf(strategy)
	if err != nil {
		t.Fatalf("strategy of: %v", err)
	}
	requireAmount(t, params.CurrentDebt, 0, "strategy debt cleared")
	fix.requireLedgerBalance(fix.vaultAddr, 650, "raw balance above accounted idle")
}

func TestWithdrawWalksPastHealthyIntoUnderwaterStrategy(t *testing.T) {
	fix := newEngineFixture(t)
	depositor := makeAddress(crypto.AccountPrefix, 0x01)
	keeper := makeAddress(crypto.AccountPrefix, 0x02)
	receiver := makeAddress(crypto.AccountPrefix, 0x03)
	fix.fund(depositor, 1_000)
	fix.grant(keeper, RoleDebtManager)
	fix.deposit(depositor, 1_000)
	first, _ := fix.addStrategy(0x10, 10_000)
	second, _ := fix.addStrategy(0x11, 10_000)
	fix.updateDebt(keeper, first, 500)
	fix.updateDebt(keeper, second, 500)
	// The second strategy lost 100: worth 400 against 500 recorded debt.
	if err := fix.ledger.Transfer(second, makeAddress(crypto.AccountPrefix, 0xEE), big.NewInt(100)); err != nil {
		t.Fatalf("simulate loss: %v", err)
	}

	shares, err := fix.engine.Withdraw(depositor, receiver, depositor, big.NewInt(1_000), 1_000, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// The healthy strategy supplies 500 loss-free; the underwater one charges
	// its full 100 shortfall to the withdrawer.
	requireAmount(t, shares, 1_000, "shares burned")
	fix.requireLedgerBalance(receiver, 900, "receiver assets")
	requireAmount(t, fix.state.vault.TotalIdle, 0, "idle drained")
	requireAmount(t, fix.state.vault.TotalDebt, 0, "debt cleared")
	requireAmount(t, fix.state.vault.TotalSupply, 0, "supply emptied")
	for _, strategy := range []crypto.Address{first, second} {
		params, err := fix.engine.StrategyOf(strategy)
		if err != nil {
			t.Fatalf("strategy of: %v", err)
		}
		requireAmount(t, params.CurrentDebt, 0, "strategy debt cleared")
	}
}

func TestWithdrawUnderThenOverDeliveryInOneCall(t *testing.T) {
	fix := newEngineFixture(t)
	depositor := makeAddress(crypto.AccountPrefix, 0x01)
	keeper := makeAddress(crypto.AccountPrefix, 0x02)
	receiver := makeAddress(crypto.AccountPrefix, 0x03)
	fix.fund(depositor, 1_000)
	fix.grant(keeper, RoleDebtManager)
	fix.deposit(depositor, 1_000)
	first, firstImpl := fix.addStrategy(0x10, 10_000)
	second, secondImpl := fix.addStrategy(0x11, 10_000)
	fix.updateDebt(keeper, first, 500)
	fix.updateDebt(keeper, second, 500)
	// First short-delivers by 50, second pays 30 extra.
	firstImpl.withhold = big.NewInt(50)
	fix.ledger.mint(second, big.NewInt(30))
	secondImpl.overDeliver = big.NewInt(30)

	shares, err := fix.engine.Withdraw(depositor, receiver, depositor, big.NewInt(1_000), 1_000, nil)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	// The shortfall is realized loss; the surplus pays down debt but never
	// compensates the withdrawer for the first strategy's miss.
	requireAmount(t, shares, 1_000, "shares burned")
	fix.requireLedgerBalance(receiver, 950, "receiver assets")
	requireAmount(t, fix.state.vault.TotalIdle, 0, "idle drained")
	requireAmount(t, fix.state.vault.TotalDebt, 0, "debt cleared")
	fix.requireLedgerBalance(first, 50, "withheld stays with first strategy")
	fix.requireLedgerBalance(fix.vaultAddr, 30, "surplus awaits next report")
}

func TestMaxWithdrawCappedByLiquidity(t *testing.T) {
	fix, keeper, strategy, impl := debtFixture(t)
	fix.updateDebt(keeper, strategy, 900)
	impl.maxOut = big.NewInt(250)
	depositor := makeAddress(crypto.AccountPrefix, 0x01)

	// 100 idle plus 250 the strategy will release.
	max, err := fix.engine.MaxWithdraw(depositor, 0, nil)
	if err != nil {
		t.Fatalf("max withdraw: %v", err)
	}
	requireAmount(t, max, 350, "liquid maximum")
}
