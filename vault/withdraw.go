package vault

import (
	"math/big"

	"stratvault/crypto"
)

// assessUnrealisedLoss computes the caller's proportional share of a
// strategy's unrealized loss for a withdrawal slice. The recovered portion
// rounds down so the loss charged rounds up, in the vault's favour.
func assessUnrealisedLoss(assetsNeeded, strategyValue, recordedDebt *big.Int) *big.Int {
	if recordedDebt.Sign() == 0 || strategyValue.Cmp(recordedDebt) >= 0 {
		return big.NewInt(0)
	}
	recovered := mulDiv(assetsNeeded, strategyValue, recordedDebt, RoundDown)
	return new(big.Int).Sub(assetsNeeded, recovered)
}

// MaxWithdraw reports the assets the owner can withdraw right now, honouring
// the withdraw limit module when configured and vault liquidity otherwise.
func (e *Engine) MaxWithdraw(owner crypto.Address, maxLossBps uint64, queue []crypto.Address) (*big.Int, error) {
	st, err := e.viewState()
	if err != nil {
		return nil, err
	}
	balance, err := e.state.ShareBalance(owner)
	if err != nil {
		return nil, err
	}
	ownerAssets, err := e.convertToAssets(st, balance, RoundDown)
	if err != nil {
		return nil, err
	}
	if e.withdrawLimitModule != nil {
		limit, err := e.withdrawLimitModule.AvailableWithdrawLimit(owner, maxLossBps, queue)
		if err != nil {
			return nil, err
		}
		return cloneBigInt(minBig(ownerAssets, limit)), nil
	}
	liquid, err := e.availableLiquidity(st, queue)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(minBig(ownerAssets, liquid)), nil
}

// MaxRedeem reports the shares the owner can redeem right now.
func (e *Engine) MaxRedeem(owner crypto.Address, maxLossBps uint64, queue []crypto.Address) (*big.Int, error) {
	st, err := e.viewState()
	if err != nil {
		return nil, err
	}
	assets, err := e.MaxWithdraw(owner, maxLossBps, queue)
	if err != nil {
		return nil, err
	}
	return e.convertToShares(st, assets, RoundDown)
}

// availableLiquidity sums idle with what the queue's strategies report as
// withdrawable, capped per strategy at recorded debt.
func (e *Engine) availableLiquidity(st *State, queueOverride []crypto.Address) (*big.Int, error) {
	total := cloneBigInt(st.TotalIdle)
	queue, err := e.selectQueue(st, queueOverride)
	if err != nil {
		return nil, err
	}
	for _, addr := range queue {
		params, impl, err := e.resolveStrategy(addr)
		if err != nil {
			return nil, err
		}
		withdrawable, err := impl.MaxWithdrawable(e.address)
		if err != nil {
			return nil, err
		}
		total.Add(total, minBig(withdrawable, params.CurrentDebt))
	}
	return total, nil
}

// selectQueue picks the caller override or the stored default and validates
// it. A queue naming the same strategy twice would redeem against stale debt
// on the second pass, so duplicates are rejected outright.
func (e *Engine) selectQueue(st *State, override []crypto.Address) ([]crypto.Address, error) {
	queue := override
	if len(override) == 0 || st.UseDefaultQueue {
		stored, err := e.state.Queue()
		if err != nil {
			return nil, err
		}
		queue = stored
	} else if len(override) > MaxQueue {
		return nil, errQueueTooLong
	}
	if err := validateQueueUnique(queue); err != nil {
		return nil, err
	}
	return queue, nil
}

func validateQueueUnique(queue []crypto.Address) error {
	seen := make(map[string]struct{}, len(queue))
	for _, addr := range queue {
		key := string(addr.Bytes())
		if _, dup := seen[key]; dup {
			return errQueueDuplicate
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Withdraw releases an exact asset amount to the receiver, burning the owner's
// share equivalent rounded up.
func (e *Engine) Withdraw(sender, receiver, owner crypto.Address, assets *big.Int, maxLossBps uint64, queue []crypto.Address) (*big.Int, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, errZeroAssets
	}
	shares, err := e.convertToShares(st, assets, RoundUp)
	if err != nil {
		return nil, err
	}
	if err := e.redeemInner(st, sender, receiver, owner, cloneBigInt(assets), shares, maxLossBps, queue); err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns an exact share amount from the owner and releases the asset
// equivalent rounded down.
func (e *Engine) Redeem(sender, receiver, owner crypto.Address, shares *big.Int, maxLossBps uint64, queue []crypto.Address) (*big.Int, error) {
	if err := e.acquire(); err != nil {
		return nil, err
	}
	defer e.release()

	st, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, errZeroShares
	}
	burn := shares
	if isMaxSentinel(shares) {
		balance, err := e.state.ShareBalance(owner)
		if err != nil {
			return nil, err
		}
		burn = balance
	}
	assets, err := e.convertToAssets(st, burn, RoundDown)
	if err != nil {
		return nil, err
	}
	if err := e.redeemInner(st, sender, receiver, owner, assets, cloneBigInt(burn), maxLossBps, queue); err != nil {
		return nil, err
	}
	return assets, nil
}

// redeemInner is the shared withdrawal path: drain idle first, then walk the
// queue realising each strategy's proportional unrealized loss, preferring
// early loop termination over reverting, with a final aggregate loss gate.
// All strategy interactions settle before any share burn or asset transfer so
// a collaborator failure aborts the whole operation.
func (e *Engine) redeemInner(st *State, sender, receiver, owner crypto.Address, requested, shares *big.Int, maxLossBps uint64, queueOverride []crypto.Address) error {
	if shares.Sign() == 0 {
		return errZeroShares
	}
	if requested.Sign() == 0 {
		return errZeroAssets
	}
	if maxLossBps > MaxBps {
		return errMaxLossRange
	}
	if receiver.IsZero() {
		return errInvalidReceiver
	}
	balance, err := e.state.ShareBalance(owner)
	if err != nil {
		return err
	}
	if balance.Cmp(shares) < 0 {
		return errInsufficientShares
	}
	if !sender.Equal(owner) {
		if err := e.spendAllowance(owner, sender, shares); err != nil {
			return err
		}
	}
	if e.withdrawLimitModule != nil {
		limit, err := e.withdrawLimitModule.AvailableWithdrawLimit(owner, maxLossBps, queueOverride)
		if err != nil {
			return err
		}
		if requested.Cmp(limit) > 0 {
			return errWithdrawLimit
		}
	}

	originalRequested := cloneBigInt(requested)
	requested = cloneBigInt(requested)
	now := e.now()
	totalLoss := big.NewInt(0)

	// Accounting writes are buffered until every gate has passed; only the
	// strategy redemptions themselves act before the commit point, and the
	// assets they release sit in the vault's raw balance either way.
	type debtUpdate struct {
		addr   crypto.Address
		params *StrategyParams
	}
	var pendingDebts []debtUpdate

	if st.TotalIdle.Cmp(requested) < 0 {
		queue, err := e.selectQueue(st, queueOverride)
		if err != nil {
			return err
		}
		currIdle := cloneBigInt(st.TotalIdle)
		currDebt := cloneBigInt(st.TotalDebt)
		suppliedSoFar := big.NewInt(0)

		for _, addr := range queue {
			if currIdle.Cmp(requested) >= 0 {
				break
			}
			params, impl, err := e.resolveStrategy(addr)
			if err != nil {
				return err
			}
			strategyDebt := cloneBigInt(params.CurrentDebt)
			if strategyDebt.Sign() == 0 {
				continue
			}

			assetsNeeded := new(big.Int).Sub(requested, currIdle)
			toWithdraw := cloneBigInt(minBig(assetsNeeded, strategyDebt))

			strategyValue, err := impl.TotalValueInAssets(e.address)
			if err != nil {
				return err
			}
			unrealised := assessUnrealisedLoss(toWithdraw, strategyValue, strategyDebt)

			// Cap at what the strategy will actually release; a forced
			// smaller slice scales the unrealized loss down proportionally.
			maxAssets, err := impl.MaxWithdrawable(e.address)
			if err != nil {
				return err
			}
			wanted := new(big.Int).Sub(toWithdraw, unrealised)
			if maxAssets.Cmp(wanted) < 0 {
				if unrealised.Sign() > 0 && wanted.Sign() > 0 {
					unrealised = mulDiv(unrealised, maxAssets, wanted, RoundDown)
				}
				toWithdraw = new(big.Int).Add(maxAssets, unrealised)
			}
			if toWithdraw.Sign() == 0 {
				continue
			}

			// Best-effort policy: when this slice would push the running loss
			// over the caller's tolerance, stop walking instead of reverting.
			// The post-loop checks still decide whether the partial result is
			// acceptable.
			projectedLoss := new(big.Int).Add(totalLoss, unrealised)
			projectedSupplied := new(big.Int).Add(suppliedSoFar, toWithdraw)
			if projectedLoss.Cmp(bpsShare(projectedSupplied, maxLossBps)) > 0 {
				break
			}

			// Redeem via the strategy's own quote, rounded up, capped by the
			// vault's actual strategy-share balance.
			intended := new(big.Int).Sub(toWithdraw, unrealised)
			quoted, err := impl.PreviewWithdraw(intended)
			if err != nil {
				return err
			}
			held, err := impl.ShareBalance(e.address)
			if err != nil {
				return err
			}
			sharesToRedeem := minBig(quoted, held)
			if sharesToRedeem.Sign() == 0 {
				continue
			}
			preBalance, err := e.asset.BalanceOf(e.address)
			if err != nil {
				return err
			}
			if _, err := impl.Redeem(cloneBigInt(sharesToRedeem), e.address); err != nil {
				// A reverting strategy aborts the whole withdrawal.
				return err
			}
			postBalance, err := e.asset.BalanceOf(e.address)
			if err != nil {
				return err
			}
			withdrawn := new(big.Int).Sub(postBalance, preBalance)

			// Over-delivery is absorbed up to recorded debt; under-delivery
			// becomes realized loss for this slice.
			if withdrawn.Cmp(toWithdraw) > 0 {
				if withdrawn.Cmp(strategyDebt) > 0 {
					toWithdraw = cloneBigInt(strategyDebt)
				} else {
					toWithdraw = cloneBigInt(withdrawn)
				}
			} else if withdrawn.Cmp(intended) < 0 {
				unrealised = new(big.Int).Sub(toWithdraw, withdrawn)
			}

			currIdle.Add(currIdle, new(big.Int).Sub(toWithdraw, unrealised))
			requested.Sub(requested, unrealised)
			totalLoss.Add(totalLoss, unrealised)
			suppliedSoFar.Add(suppliedSoFar, new(big.Int).Sub(toWithdraw, unrealised))

			if currDebt.Cmp(toWithdraw) < 0 {
				return errAccountingUnderflow
			}
			currDebt.Sub(currDebt, toWithdraw)
			newStrategyDebt := new(big.Int).Sub(strategyDebt, toWithdraw)
			if newStrategyDebt.Sign() < 0 {
				return errAccountingUnderflow
			}
			params.CurrentDebt = newStrategyDebt
			pendingDebts = append(pendingDebts, debtUpdate{addr: addr, params: params})
		}

		if currIdle.Cmp(requested) < 0 {
			return errInsufficientIdle
		}
		st.TotalIdle = currIdle
		st.TotalDebt = currDebt
	}

	// Final gate: aggregate loss against the originally requested amount.
	if totalLoss.Cmp(bpsShare(originalRequested, maxLossBps)) > 0 {
		return errTooMuchLoss
	}

	for _, update := range pendingDebts {
		if err := e.state.PutStrategy(update.addr, update.params); err != nil {
			return err
		}
	}
	if err := e.burnOwnerShares(st, owner, shares, now); err != nil {
		return err
	}
	if st.TotalIdle.Cmp(requested) < 0 {
		return errAccountingUnderflow
	}
	st.TotalIdle = new(big.Int).Sub(st.TotalIdle, requested)
	if err := e.asset.Transfer(e.address, receiver, requested); err != nil {
		return err
	}
	if err := e.state.PutVaultState(st); err != nil {
		return err
	}
	e.emit(newWithdrawEvent(sender, receiver, owner, requested, shares, totalLoss))
	return nil
}

// burnOwnerShares burns from the owner's free balance first and only then from
// custody, which requires the cooldown to have elapsed. Custody auto-clears at
// zero locked shares.
func (e *Engine) burnOwnerShares(st *State, owner crypto.Address, shares *big.Int, now int64) error {
	custody, err := e.state.Custody(owner)
	if err != nil {
		return err
	}
	if custody != nil && custody.LockedShares != nil && custody.LockedShares.Sign() > 0 {
		balance, err := e.state.ShareBalance(owner)
		if err != nil {
			return err
		}
		free := new(big.Int).Sub(balance, custody.LockedShares)
		if free.Sign() < 0 {
			free = big.NewInt(0)
		}
		if shares.Cmp(free) > 0 {
			fromCustody := new(big.Int).Sub(shares, free)
			if now < custody.UnlockTime {
				return errCustodyLocked
			}
			remaining := new(big.Int).Sub(custody.LockedShares, fromCustody)
			if remaining.Sign() < 0 {
				return errInsufficientShares
			}
			if remaining.Sign() == 0 {
				if err := e.state.DeleteCustody(owner); err != nil {
					return err
				}
				e.emit(newCustodyEvent(owner, big.NewInt(0), 0, "cleared"))
			} else {
				custody.LockedShares = remaining
				if err := e.state.PutCustody(owner, custody); err != nil {
					return err
				}
				e.emit(newCustodyEvent(owner, remaining, custody.UnlockTime, "reduced"))
			}
		}
	}
	return e.burnShares(st, owner, shares)
}
