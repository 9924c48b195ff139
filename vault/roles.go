package vault

import (
	"sort"
	"strings"
)

// Role is a bit-flag set of privileged capabilities held by an address.
type Role uint32

const (
	// RoleDepositLimitManager may change the deposit limit and module.
	RoleDepositLimitManager Role = 1 << iota
	// RoleWithdrawLimitManager may change the withdraw limit module.
	RoleWithdrawLimitManager
	// RoleQueueManager may reorder the default withdrawal queue.
	RoleQueueManager
	// RoleReportingManager may call ProcessReport.
	RoleReportingManager
	// RoleDebtManager may call UpdateDebt.
	RoleDebtManager
	// RoleMaxDebtManager may change per-strategy max debt.
	RoleMaxDebtManager
	// RoleStrategyManager may add and revoke strategies.
	RoleStrategyManager
	// RoleEmergencyManager may shut the vault down and force-revoke.
	RoleEmergencyManager
	// RoleAccountantManager may change the fee oracle and recipients.
	RoleAccountantManager
	// RoleProfitUnlockManager may change the profit unlock duration.
	RoleProfitUnlockManager
	// RoleMinimumIdleManager may change the minimum total idle floor.
	RoleMinimumIdleManager
	// RoleCustodyManager may propose and finalise cooldown changes.
	RoleCustodyManager
)

var roleNames = map[string]Role{
	"deposit_limit_manager":  RoleDepositLimitManager,
	"withdraw_limit_manager": RoleWithdrawLimitManager,
	"queue_manager":          RoleQueueManager,
	"reporting_manager":      RoleReportingManager,
	"debt_manager":           RoleDebtManager,
	"max_debt_manager":       RoleMaxDebtManager,
	"strategy_manager":       RoleStrategyManager,
	"emergency_manager":      RoleEmergencyManager,
	"accountant_manager":     RoleAccountantManager,
	"profit_unlock_manager":  RoleProfitUnlockManager,
	"minimum_idle_manager":   RoleMinimumIdleManager,
	"custody_manager":        RoleCustodyManager,
}

// Has reports whether every bit in want is present in the set.
func (r Role) Has(want Role) bool { return r&want == want }

// Grant returns the set with the provided bits added.
func (r Role) Grant(add Role) Role { return r | add }

// Revoke returns the set with the provided bits removed.
func (r Role) Revoke(remove Role) Role { return r &^ remove }

// ParseRole resolves a role name used in genesis files and RPC payloads.
func ParseRole(name string) (Role, bool) {
	role, ok := roleNames[strings.ToLower(strings.TrimSpace(name))]
	return role, ok
}

// Names lists the individual role names present in the set.
func (r Role) Names() []string {
	out := make([]string, 0, 4)
	for name, bit := range roleNames {
		if r.Has(bit) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
