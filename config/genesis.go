package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"stratvault/crypto"
	"stratvault/vault"
)

// Genesis is the parsed bootstrap document applied to a fresh data directory.
type Genesis struct {
	Vault      GenesisVault
	Roles      []GenesisRole
	Accounts   []GenesisAccount
	Strategies []GenesisStrategy
	Queue      []crypto.Address
}

// GenesisVault seeds the singleton vault parameters.
type GenesisVault struct {
	Address             crypto.Address
	FeeRecipient        crypto.Address
	ProtocolRecipient   crypto.Address
	DepositLimit        *big.Int
	MinimumTotalIdle    *big.Int
	ProfitMaxUnlockTime uint64
	ProtocolFeeBps      uint64
	RageQuitCooldown    uint64
}

// GenesisRole grants a role set to an address at boot.
type GenesisRole struct {
	Address crypto.Address
	Roles   vault.Role
}

// GenesisAccount funds an asset balance at boot.
type GenesisAccount struct {
	Address crypto.Address
	Balance *big.Int
}

// GenesisStrategy pre-registers a strategy with a debt ceiling.
type GenesisStrategy struct {
	Address crypto.Address
	MaxDebt *big.Int
}

type genesisDoc struct {
	Vault struct {
		Address             string `yaml:"address"`
		FeeRecipient        string `yaml:"feeRecipient"`
		ProtocolRecipient   string `yaml:"protocolRecipient"`
		DepositLimit        string `yaml:"depositLimit"`
		MinimumTotalIdle    string `yaml:"minimumTotalIdle"`
		ProfitMaxUnlockTime uint64 `yaml:"profitMaxUnlockTime"`
		ProtocolFeeBps      uint64 `yaml:"protocolFeeBps"`
		RageQuitCooldown    uint64 `yaml:"rageQuitCooldown"`
	} `yaml:"vault"`
	Roles []struct {
		Address string   `yaml:"address"`
		Roles   []string `yaml:"roles"`
	} `yaml:"roles"`
	Accounts []struct {
		Address string `yaml:"address"`
		Balance string `yaml:"balance"`
	} `yaml:"accounts"`
	Strategies []struct {
		Address string `yaml:"address"`
		MaxDebt string `yaml:"maxDebt"`
	} `yaml:"strategies"`
	Queue []string `yaml:"queue"`
}

// LoadGenesis parses and validates a genesis document.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	return ParseGenesis(data)
}

// ParseGenesis decodes a genesis document from raw YAML.
func ParseGenesis(data []byte) (*Genesis, error) {
	doc := genesisDoc{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("genesis: decode: %w", err)
	}

	genesis := &Genesis{}

	vaultAddr, err := parseGenesisAddress("vault.address", doc.Vault.Address)
	if err != nil {
		return nil, err
	}
	genesis.Vault.Address = vaultAddr

	if strings.TrimSpace(doc.Vault.FeeRecipient) != "" {
		genesis.Vault.FeeRecipient, err = parseGenesisAddress("vault.feeRecipient", doc.Vault.FeeRecipient)
		if err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(doc.Vault.ProtocolRecipient) != "" {
		genesis.Vault.ProtocolRecipient, err = parseGenesisAddress("vault.protocolRecipient", doc.Vault.ProtocolRecipient)
		if err != nil {
			return nil, err
		}
	}

	genesis.Vault.DepositLimit, err = parseGenesisAmount("vault.depositLimit", doc.Vault.DepositLimit)
	if err != nil {
		return nil, err
	}
	genesis.Vault.MinimumTotalIdle, err = parseGenesisAmount("vault.minimumTotalIdle", doc.Vault.MinimumTotalIdle)
	if err != nil {
		return nil, err
	}
	if doc.Vault.ProtocolFeeBps > vault.MaxBps {
		return nil, fmt.Errorf("genesis: vault.protocolFeeBps exceeds %d", vault.MaxBps)
	}
	genesis.Vault.ProfitMaxUnlockTime = doc.Vault.ProfitMaxUnlockTime
	genesis.Vault.ProtocolFeeBps = doc.Vault.ProtocolFeeBps
	genesis.Vault.RageQuitCooldown = doc.Vault.RageQuitCooldown

	for i, entry := range doc.Roles {
		addr, err := parseGenesisAddress(fmt.Sprintf("roles[%d].address", i), entry.Address)
		if err != nil {
			return nil, err
		}
		var roles vault.Role
		for _, name := range entry.Roles {
			role, ok := vault.ParseRole(name)
			if !ok {
				return nil, fmt.Errorf("genesis: roles[%d]: unknown role %q", i, name)
			}
			roles = roles.Grant(role)
		}
		genesis.Roles = append(genesis.Roles, GenesisRole{Address: addr, Roles: roles})
	}

	for i, entry := range doc.Accounts {
		addr, err := parseGenesisAddress(fmt.Sprintf("accounts[%d].address", i), entry.Address)
		if err != nil {
			return nil, err
		}
		balance, err := parseGenesisAmount(fmt.Sprintf("accounts[%d].balance", i), entry.Balance)
		if err != nil {
			return nil, err
		}
		genesis.Accounts = append(genesis.Accounts, GenesisAccount{Address: addr, Balance: balance})
	}

	for i, entry := range doc.Strategies {
		addr, err := parseGenesisAddress(fmt.Sprintf("strategies[%d].address", i), entry.Address)
		if err != nil {
			return nil, err
		}
		if addr.Prefix() != crypto.StrategyPrefix {
			return nil, fmt.Errorf("genesis: strategies[%d]: address %s is not a strategy address", i, entry.Address)
		}
		maxDebt, err := parseGenesisAmount(fmt.Sprintf("strategies[%d].maxDebt", i), entry.MaxDebt)
		if err != nil {
			return nil, err
		}
		genesis.Strategies = append(genesis.Strategies, GenesisStrategy{Address: addr, MaxDebt: maxDebt})
	}

	if len(doc.Queue) > vault.MaxQueue {
		return nil, fmt.Errorf("genesis: queue exceeds %d entries", vault.MaxQueue)
	}
	for i, raw := range doc.Queue {
		addr, err := parseGenesisAddress(fmt.Sprintf("queue[%d]", i), raw)
		if err != nil {
			return nil, err
		}
		found := false
		for _, strategy := range genesis.Strategies {
			if strategy.Address.Equal(addr) {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("genesis: queue[%d] references unregistered strategy %s", i, raw)
		}
		genesis.Queue = append(genesis.Queue, addr)
	}

	return genesis, nil
}

func parseGenesisAddress(field, raw string) (crypto.Address, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(raw))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("genesis: %s: %w", field, err)
	}
	return addr, nil
}

func parseGenesisAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("genesis: %s: invalid amount %q", field, raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("genesis: %s: amount must not be negative", field)
	}
	return value, nil
}
