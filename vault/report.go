package vault

import (
	"math/big"

	"stratvault/crypto"
)

// ProcessReport reconciles one strategy's valuation against its recorded debt,
// realising gain or loss into the vault accounting with time-locked profit
// recognition. Passing the vault's own address is the idle sentinel: it sweeps
// the raw token balance (airdrops included) into TotalIdle.
//
// All share figures are converted against the same pre-report snapshot so the
// order of mints and burns cannot skew the rates they were quoted at.
func (e *Engine) ProcessReport(caller, strategy crypto.Address) (*big.Int, *big.Int, error) {
	if err := e.acquire(); err != nil {
		return nil, nil, err
	}
	defer e.release()
	if err := e.requireRole(caller, RoleReportingManager); err != nil {
		return nil, nil, err
	}

	st, err := e.loadState()
	if err != nil {
		return nil, nil, err
	}
	now := e.now()
	isIdle := strategy.Equal(e.address)

	// Step 1: current valuation. A real strategy values the vault's entire
	// position itself; the valuation being manipulation-resistant is a trust
	// assumption on the strategy, not something this engine can enforce.
	var params *StrategyParams
	var recordedDebt, valuation *big.Int
	if isIdle {
		recordedDebt = cloneBigInt(st.TotalIdle)
		valuation, err = e.asset.BalanceOf(e.address)
		if err != nil {
			return nil, nil, err
		}
	} else {
		var impl Strategy
		params, impl, err = e.resolveStrategy(strategy)
		if err != nil {
			return nil, nil, err
		}
		recordedDebt = cloneBigInt(params.CurrentDebt)
		valuation, err = impl.TotalValueInAssets(e.address)
		if err != nil {
			return nil, nil, err
		}
	}

	// Step 2: gain/loss split.
	gain := big.NewInt(0)
	loss := big.NewInt(0)
	switch valuation.Cmp(recordedDebt) {
	case 1:
		gain = new(big.Int).Sub(valuation, recordedDebt)
	case -1:
		loss = new(big.Int).Sub(recordedDebt, valuation)
	}

	// Step 3: fee oracle, with the refund clamped to what the oracle can
	// actually pay. The oracle's own figure is never trusted.
	fees := big.NewInt(0)
	refunds := big.NewInt(0)
	if e.accountant != nil {
		fees, refunds, err = e.accountant.Report(strategy, gain, loss)
		if err != nil {
			return nil, nil, err
		}
		fees = cloneBigInt(fees)
		refunds = cloneBigInt(refunds)
		if refunds.Sign() > 0 {
			oracleAddr := e.accountant.Address()
			balance, err := e.asset.BalanceOf(oracleAddr)
			if err != nil {
				return nil, nil, err
			}
			allowance, err := e.asset.Allowance(oracleAddr, e.address)
			if err != nil {
				return nil, nil, err
			}
			refunds = minBig(refunds, minBig(balance, allowance))
			refunds = cloneBigInt(refunds)
		}
	}

	// Step 4: share figures at the pre-report rate. Burns round up (at least
	// enough), locks round down (conservatively).
	supply, err := e.circulatingSupply(st, now)
	if err != nil {
		return nil, nil, err
	}
	totalAssets := st.TotalAssets()

	sharesToBurn := big.NewInt(0)
	if toBurn := new(big.Int).Add(loss, fees); toBurn.Sign() > 0 {
		sharesToBurn = sharesForAssets(toBurn, supply, totalAssets, RoundUp)
	}
	sharesToLock := big.NewInt(0)
	if st.ProfitMaxUnlockTime != 0 {
		if toLock := new(big.Int).Add(gain, refunds); toLock.Sign() > 0 {
			sharesToLock = sharesForAssets(toLock, supply, totalAssets, RoundDown)
		}
	}
	feeShares := big.NewInt(0)
	protocolShares := big.NewInt(0)
	if fees.Sign() > 0 {
		totalFeeShares := sharesForAssets(fees, supply, totalAssets, RoundDown)
		if st.ProtocolFeeBps > 0 && !e.protocolRecipient.IsZero() {
			protocolShares = bpsShare(totalFeeShares, st.ProtocolFeeBps)
		}
		feeShares = new(big.Int).Sub(totalFeeShares, protocolShares)
	}

	// Step 5: net the locked pool against the vault's own balance, never
	// burning below what the vault actually holds.
	currentHeld, err := e.state.ShareBalance(e.address)
	if err != nil {
		return nil, nil, err
	}
	justUnlocked, err := e.unlockedSharesAt(st, now)
	if err != nil {
		return nil, nil, err
	}
	target := new(big.Int).Sub(currentHeld, justUnlocked)
	target.Add(target, sharesToLock)
	target.Sub(target, sharesToBurn)
	if target.Sign() < 0 {
		target = big.NewInt(0)
	}
	switch target.Cmp(currentHeld) {
	case 1:
		if err := e.mintShares(st, e.address, new(big.Int).Sub(target, currentHeld)); err != nil {
			return nil, nil, err
		}
	case -1:
		if err := e.burnShares(st, e.address, new(big.Int).Sub(currentHeld, target)); err != nil {
			return nil, nil, err
		}
	}

	// Step 6: a loss-heavy report locks nothing new.
	netLocked := new(big.Int).Sub(sharesToLock, sharesToBurn)
	if netLocked.Sign() < 0 {
		netLocked = big.NewInt(0)
	}

	// Step 7: pull the refund into idle.
	if refunds.Sign() > 0 {
		if err := e.asset.TransferFrom(e.address, e.accountant.Address(), e.address, refunds); err != nil {
			return nil, nil, err
		}
		st.TotalIdle = new(big.Int).Add(st.TotalIdle, refunds)
	}

	// Step 8: commit the debt delta. The idle sentinel folds its gain/loss
	// into TotalIdle through the same branch shape a real strategy uses for
	// debt; see the accounting notes in DESIGN.md before restructuring this.
	if isIdle {
		if gain.Sign() > 0 {
			st.TotalIdle = new(big.Int).Add(st.TotalIdle, gain)
		} else if loss.Sign() > 0 {
			if st.TotalIdle.Cmp(loss) < 0 {
				return nil, nil, errAccountingUnderflow
			}
			st.TotalIdle = new(big.Int).Sub(st.TotalIdle, loss)
		}
	} else {
		if gain.Sign() > 0 {
			params.CurrentDebt = new(big.Int).Add(params.CurrentDebt, gain)
			st.TotalDebt = new(big.Int).Add(st.TotalDebt, gain)
		} else if loss.Sign() > 0 {
			if params.CurrentDebt.Cmp(loss) < 0 || st.TotalDebt.Cmp(loss) < 0 {
				return nil, nil, errAccountingUnderflow
			}
			params.CurrentDebt = new(big.Int).Sub(params.CurrentDebt, loss)
			st.TotalDebt = new(big.Int).Sub(st.TotalDebt, loss)
		}
	}

	// Step 9: fee shares, with the protocol carve-out.
	if feeShares.Sign() > 0 {
		if err := e.mintShares(st, e.feeRecipient, feeShares); err != nil {
			return nil, nil, err
		}
	}
	if protocolShares.Sign() > 0 {
		if err := e.mintShares(st, e.protocolRecipient, protocolShares); err != nil {
			return nil, nil, err
		}
	}

	// Step 10: weighted-average reschedule over the netted lock pool.
	newHeld, err := e.state.ShareBalance(e.address)
	if err != nil {
		return nil, nil, err
	}
	previouslyLocked := new(big.Int).Sub(newHeld, netLocked)
	if previouslyLocked.Sign() < 0 {
		previouslyLocked = big.NewInt(0)
	}
	e.rescheduleUnlock(st, previouslyLocked, netLocked, now)

	// Step 11: stamp and commit.
	if !isIdle {
		params.LastReport = now
		if err := e.state.PutStrategy(strategy, params); err != nil {
			return nil, nil, err
		}
	}
	if err := e.state.PutVaultState(st); err != nil {
		return nil, nil, err
	}
	e.emit(newStrategyReportedEvent(strategy, gain, loss, fees, refunds))
	return gain, loss, nil
}
