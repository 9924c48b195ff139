package vault

import (
	"math/big"
	"strconv"

	"stratvault/core/types"
	"stratvault/crypto"
)

const (
	EventTypeDeposit          = "vault.deposit"
	EventTypeWithdraw         = "vault.withdraw"
	EventTypeTransfer         = "vault.transfer"
	EventTypeApproval         = "vault.approval"
	EventTypeStrategyChanged  = "vault.strategy.changed"
	EventTypeStrategyReported = "vault.strategy.reported"
	EventTypeDebtUpdated      = "vault.debt.updated"
	EventTypeDebtLimit        = "vault.debt.limit"
	EventTypeRoleSet          = "vault.role.set"
	EventTypeShutdown         = "vault.shutdown"
	EventTypeCustody          = "vault.custody"
	EventTypeCooldownChange   = "vault.custody.cooldown_change"
)

type vaultEvent struct {
	evt *types.Event
}

func (v vaultEvent) EventType() string {
	if v.evt == nil {
		return ""
	}
	return v.evt.Type
}

func (v vaultEvent) Event() *types.Event { return v.evt }

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func intToString(v int64) string { return strconv.FormatInt(v, 10) }

func newDepositEvent(sender, receiver crypto.Address, assets, shares *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDeposit,
		Attributes: map[string]string{
			"sender":   sender.String(),
			"receiver": receiver.String(),
			"assets":   formatAmount(assets),
			"shares":   formatAmount(shares),
		},
	}
}

func newWithdrawEvent(sender, receiver, owner crypto.Address, assets, shares, loss *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeWithdraw,
		Attributes: map[string]string{
			"sender":   sender.String(),
			"receiver": receiver.String(),
			"owner":    owner.String(),
			"assets":   formatAmount(assets),
			"shares":   formatAmount(shares),
			"loss":     formatAmount(loss),
		},
	}
}

func newTransferEvent(from, to crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeTransfer,
		Attributes: map[string]string{
			"from":   from.String(),
			"to":     to.String(),
			"amount": formatAmount(amount),
		},
	}
}

func newApprovalEvent(owner, spender crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeApproval,
		Attributes: map[string]string{
			"owner":   owner.String(),
			"spender": spender.String(),
			"amount":  formatAmount(amount),
		},
	}
}

func newStrategyChangedEvent(strategy crypto.Address, change string) *types.Event {
	return &types.Event{
		Type: EventTypeStrategyChanged,
		Attributes: map[string]string{
			"strategy": strategy.String(),
			"change":   change,
		},
	}
}

func newStrategyReportedEvent(strategy crypto.Address, gain, loss, fees, refunds *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeStrategyReported,
		Attributes: map[string]string{
			"strategy": strategy.String(),
			"gain":     formatAmount(gain),
			"loss":     formatAmount(loss),
			"fees":     formatAmount(fees),
			"refunds":  formatAmount(refunds),
		},
	}
}

func newDebtUpdatedEvent(strategy crypto.Address, previous, current *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDebtUpdated,
		Attributes: map[string]string{
			"strategy":     strategy.String(),
			"previousDebt": formatAmount(previous),
			"currentDebt":  formatAmount(current),
		},
	}
}

func newDebtLimitEvent(strategy crypto.Address, maxDebt *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDebtLimit,
		Attributes: map[string]string{
			"strategy": strategy.String(),
			"maxDebt":  formatAmount(maxDebt),
		},
	}
}

func newRoleEvent(holder crypto.Address, roles Role) *types.Event {
	return &types.Event{
		Type: EventTypeRoleSet,
		Attributes: map[string]string{
			"holder": holder.String(),
			"roles":  strconv.FormatUint(uint64(roles), 10),
		},
	}
}

func newShutdownEvent(caller crypto.Address) *types.Event {
	return &types.Event{
		Type: EventTypeShutdown,
		Attributes: map[string]string{
			"caller": caller.String(),
		},
	}
}

func newCustodyEvent(owner crypto.Address, lockedShares *big.Int, unlockTime int64, change string) *types.Event {
	return &types.Event{
		Type: EventTypeCustody,
		Attributes: map[string]string{
			"owner":        owner.String(),
			"lockedShares": formatAmount(lockedShares),
			"unlockTime":   intToString(unlockTime),
			"change":       change,
		},
	}
}

func newCooldownChangeEvent(newCooldown uint64, proposedAt int64, change string) *types.Event {
	return &types.Event{
		Type: EventTypeCooldownChange,
		Attributes: map[string]string{
			"newCooldown": strconv.FormatUint(newCooldown, 10),
			"proposedAt":  intToString(proposedAt),
			"change":      change,
		},
	}
}
