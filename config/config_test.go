package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"stratvault/crypto"
	"stratvault/vault"
)

func TestLoadCreatesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.RPCAddress)
	require.Equal(t, "stratvault-local", cfg.NetworkName)
	require.FileExists(t, path)

	// A second load reads the persisted file back.
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.RPCAddress, again.RPCAddress)
	require.Equal(t, cfg.DataDir, again.DataDir)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
RPCAddress = ":9090"
DataDir = "/tmp/vault-data"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.RPCAddress)
	require.Equal(t, "stratvault-local", cfg.NetworkName)
	require.Equal(t, 600, cfg.RateLimitPerMinute)
}

func TestValidateRejectsNegativeRateLimit(t *testing.T) {
	cfg := &Config{RPCAddress: ":8080", DataDir: "./data", RateLimitPerMinute: -1}
	require.Error(t, cfg.Validate())
}

func genesisAddr(t *testing.T, prefix crypto.AddressPrefix, seed byte) string {
	t.Helper()
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = seed
	}
	return crypto.NewAddress(prefix, raw).String()
}

func TestParseGenesis(t *testing.T) {
	vaultAddr := genesisAddr(t, crypto.AccountPrefix, 0x01)
	governor := genesisAddr(t, crypto.AccountPrefix, 0x02)
	depositor := genesisAddr(t, crypto.AccountPrefix, 0x03)
	strategy := genesisAddr(t, crypto.StrategyPrefix, 0x04)

	doc := `
vault:
  address: ` + vaultAddr + `
  depositLimit: "1000000"
  minimumTotalIdle: "5000"
  profitMaxUnlockTime: 604800
  protocolFeeBps: 500
  rageQuitCooldown: 259200
roles:
  - address: ` + governor + `
    roles: [debt_manager, reporting_manager]
accounts:
  - address: ` + depositor + `
    balance: "250000"
strategies:
  - address: ` + strategy + `
    maxDebt: "750000"
queue:
  - ` + strategy + `
`
	genesis, err := ParseGenesis([]byte(doc))
	require.NoError(t, err)

	require.Equal(t, vaultAddr, genesis.Vault.Address.String())
	require.Equal(t, "1000000", genesis.Vault.DepositLimit.String())
	require.Equal(t, uint64(604800), genesis.Vault.ProfitMaxUnlockTime)
	require.Equal(t, uint64(500), genesis.Vault.ProtocolFeeBps)

	require.Len(t, genesis.Roles, 1)
	require.True(t, genesis.Roles[0].Roles.Has(vault.RoleDebtManager))
	require.True(t, genesis.Roles[0].Roles.Has(vault.RoleReportingManager))
	require.False(t, genesis.Roles[0].Roles.Has(vault.RoleEmergencyManager))

	require.Len(t, genesis.Accounts, 1)
	require.Equal(t, "250000", genesis.Accounts[0].Balance.String())

	require.Len(t, genesis.Strategies, 1)
	require.Equal(t, "750000", genesis.Strategies[0].MaxDebt.String())
	require.Len(t, genesis.Queue, 1)
}

func TestParseGenesisRejectsUnknownRole(t *testing.T) {
	doc := `
vault:
  address: ` + genesisAddr(t, crypto.AccountPrefix, 0x01) + `
roles:
  - address: ` + genesisAddr(t, crypto.AccountPrefix, 0x02) + `
    roles: [superuser]
`
	_, err := ParseGenesis([]byte(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown role")
}

func TestParseGenesisRejectsUnregisteredQueueEntry(t *testing.T) {
	doc := `
vault:
  address: ` + genesisAddr(t, crypto.AccountPrefix, 0x01) + `
queue:
  - ` + genesisAddr(t, crypto.StrategyPrefix, 0x09) + `
`
	_, err := ParseGenesis([]byte(doc))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unregistered strategy")
}

func TestParseGenesisRejectsAccountPrefixStrategy(t *testing.T) {
	doc := `
vault:
  address: ` + genesisAddr(t, crypto.AccountPrefix, 0x01) + `
strategies:
  - address: ` + genesisAddr(t, crypto.AccountPrefix, 0x05) + `
    maxDebt: "1"
`
	_, err := ParseGenesis([]byte(doc))
	require.Error(t, err)
}
