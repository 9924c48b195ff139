package vault

import (
	"errors"
	"math/big"
	"testing"

	"stratvault/crypto"
)

// reportFixture seeds a vault with one depositor holding 1000 shares against
// 1000 assets deployed into a single strategy, plus a keeper holding the
// reporting and debt roles.
func reportFixture(t *testing.T) (*engineFixture, crypto.Address, crypto.Address, *mockStrategy) {
	t.Helper()
	fix := newEngineFixture(t)
	depositor := makeAddress(crypto.AccountPrefix, 0x01)
	keeper := makeAddress(crypto.AccountPrefix, 0x02)
	fix.fund(depositor, 1_000)
	fix.grant(keeper, RoleReportingManager|RoleDebtManager)

	fix.deposit(depositor, 1_000)
	strategy, impl := fix.addStrategy(0x10, 1_000)
	fix.updateDebt(keeper, strategy, 1_000)
	return fix, keeper, strategy, impl
}

func TestProcessReportGainLocksShares(t *testing.T) {
	fix, keeper, strategy, _ := reportFixture(t)
	fix.state.vault.ProfitMaxUnlockTime = 3_600

	// The strategy earned 100 on its 1000 debt.
	fix.ledger.mint(strategy, big.NewInt(100))

	gain, loss, err := fix.engine.ProcessReport(keeper, strategy)
	if err != nil {
		t.Fatalf("process report: %v", err)
	}
	requireAmount(t, gain, 100, "reported gain")
	requireAmount(t, loss, 0, "reported loss")

	st := fix.state.vault
	requireAmount(t, st.TotalDebt, 1_100, "total debt")
	requireAmount(t, st.TotalSupply, 1_100, "total supply")
	fix.requireShareBalance(fix.vaultAddr, 100, "locked shares")
	if st.FullUnlockDate != fix.clock+3_600 {
		t.Fatalf("full unlock date: got %d, want %d", st.FullUnlockDate, fix.clock+3_600)
	}

	params, err := fix.engine.StrategyOf(strategy)
	if err != nil {
		t.Fatalf("strategy of: %v", err)
	}
	requireAmount(t, params.CurrentDebt, 1_100, "strategy debt")
	if params.LastReport != fix.clock {
		t.Fatalf("last report not stamped: %d", params.LastReport)
	}

	// The locked profit keeps the share price flat at report time and raises
	// it once the schedule elapses.
	fix.clock += 7_200
	assets, err := fix.engine.ConvertToAssets(big.NewInt(1_000))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	requireAmount(t, assets, 1_100, "depositor value after unlock")
}

func TestProcessReportGainWithoutLockingDevaluesImmediately(t *testing.T) {
	fix, keeper, strategy, _ := reportFixture(t)
	fix.ledger.mint(strategy, big.NewInt(100))

	if _, _, err := fix.engine.ProcessReport(keeper, strategy); err != nil {
		t.Fatalf("process report: %v", err)
	}
	st := fix.state.vault
	requireAmount(t, st.TotalSupply, 1_000, "supply unchanged")
	fix.requireShareBalance(fix.vaultAddr, 0, "no locked shares")

	assets, err := fix.engine.ConvertToAssets(big.NewInt(1_000))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	requireAmount(t, assets, 1_100, "instant profit recognition")
}

func TestProcessReportLossOffsetsLockedShares(t *testing.T) {
	fix, keeper, strategy, impl := reportFixture(t)
	fix.state.vault.ProfitMaxUnlockTime = 3_600
	fix.ledger.mint(strategy, big.NewInt(100))
	if _, _, err := fix.engine.ProcessReport(keeper, strategy); err != nil {
		t.Fatalf("gain report: %v", err)
	}

	// Valuation drops back to 1000 against 1100 recorded debt.
	impl.valuation = big.NewInt(1_000)
	gain, loss, err := fix.engine.ProcessReport(keeper, strategy)
	if err != nil {
		t.Fatalf("loss report: %v", err)
	}
	requireAmount(t, gain, 0, "reported gain")
	requireAmount(t, loss, 100, "reported loss")

	st := fix.state.vault
	requireAmount(t, st.TotalDebt, 1_000, "total debt")
	// The burn consumed the freshly locked pool: 1100 supply minus 100.
	requireAmount(t, st.TotalSupply, 1_000, "total supply")
	fix.requireShareBalance(fix.vaultAddr, 0, "locked pool emptied")
	if st.FullUnlockDate != 0 || st.UnlockingRate.Sign() != 0 {
		t.Fatalf("schedule not cleared: date=%d rate=%s", st.FullUnlockDate, st.UnlockingRate)
	}
}

func TestProcessReportLossWithoutLockedSharesDevalues(t *testing.T) {
	fix, keeper, strategy, impl := reportFixture(t)
	impl.valuation = big.NewInt(900)

	_, loss, err := fix.engine.ProcessReport(keeper, strategy)
	if err != nil {
		t.Fatalf("process report: %v", err)
	}
	requireAmount(t, loss, 100, "reported loss")

	st := fix.state.vault
	requireAmount(t, st.TotalDebt, 900, "total debt")
	requireAmount(t, st.TotalSupply, 1_000, "supply unchanged")

	assets, err := fix.engine.ConvertToAssets(big.NewInt(1_000))
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	requireAmount(t, assets, 900, "devalued shares")
}

func TestProcessReportFeesWithProtocolCarveOut(t *testing.T) {
	fix, keeper, strategy, _ := reportFixture(t)
	fix.state.vault.ProfitMaxUnlockTime = 3_600
	fix.state.vault.ProtocolFeeBps = 1_000

	feeRecipient := makeAddress(crypto.AccountPrefix, 0x05)
	protocolRecipient := makeAddress(crypto.AccountPrefix, 0x06)
	oracle := &mockOracle{addr: makeAddress(crypto.AccountPrefix, 0x07), fees: big.NewInt(50), refunds: big.NewInt(0)}
	fix.engine.SetAccountant(oracle)
	fix.engine.SetFeeRecipients(feeRecipient, protocolRecipient)

	fix.ledger.mint(strategy, big.NewInt(100))
	if _, _, err := fix.engine.ProcessReport(keeper, strategy); err != nil {
		t.Fatalf("process report: %v", err)
	}

	// 50 fee shares at the pre-report rate, 10% carved out for the protocol.
	fix.requireShareBalance(feeRecipient, 45, "fee recipient shares")
	fix.requireShareBalance(protocolRecipient, 5, "protocol shares")
	// Locked pool nets gain shares against fee burn: 100 - 50.
	fix.requireShareBalance(fix.vaultAddr, 50, "locked shares")
	requireAmount(t, fix.state.vault.TotalSupply, 1_100, "total supply")
}

func TestProcessReportClampsRefund(t *testing.T) {
	fix, keeper, strategy, _ := reportFixture(t)
	oracleAddr := makeAddress(crypto.AccountPrefix, 0x07)
	oracle := &mockOracle{addr: oracleAddr, fees: big.NewInt(0), refunds: big.NewInt(500)}
	fix.engine.SetAccountant(oracle)
	fix.ledger.mint(oracleAddr, big.NewInt(200))
	fix.ledger.setAllowance(oracleAddr, fix.vaultAddr, big.NewInt(300))

	// Flat valuation: the report carries only the refund.
	if _, _, err := fix.engine.ProcessReport(keeper, strategy); err != nil {
		t.Fatalf("process report: %v", err)
	}

	// Only the oracle's actual balance moved, not the promised 500.
	requireAmount(t, fix.state.vault.TotalIdle, 200, "idle after refund")
	fix.requireLedgerBalance(oracleAddr, 0, "oracle drained")
}

func TestProcessReportIdleSentinelSweepsRawBalance(t *testing.T) {
	fix := newEngineFixture(t)
	depositor := makeAddress(crypto.AccountPrefix, 0x01)
	keeper := makeAddress(crypto.AccountPrefix, 0x02)
	fix.fund(depositor, 1_000)
	fix.grant(keeper, RoleReportingManager)
	fix.deposit(depositor, 1_000)

	// Airdropped assets sit in the raw balance without being accounted.
	fix.ledger.mint(fix.vaultAddr, big.NewInt(200))
	requireAmount(t, fix.state.vault.TotalIdle, 1_000, "idle before sweep")

	gain, loss, err := fix.engine.ProcessReport(keeper, fix.vaultAddr)
	if err != nil {
		t.Fatalf("idle report: %v", err)
	}
	requireAmount(t, gain, 200, "swept gain")
	requireAmount(t, loss, 0, "swept loss")
	requireAmount(t, fix.state.vault.TotalIdle, 1_200, "idle after sweep")
}

func TestProcessReportRequiresRole(t *testing.T) {
	fix, _, strategy, _ := reportFixture(t)
	stranger := makeAddress(crypto.AccountPrefix, 0x0F)

	if _, _, err := fix.engine.ProcessReport(stranger, strategy); !errors.Is(err, errUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}
