package storage

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"stratvault/core/types"
	"stratvault/crypto"
)

var (
	assetAccountPrefix   = "asset/account/"
	assetAllowancePrefix = "asset/allowance/"
)

// AssetLedger is a database-backed implementation of the underlying token. It
// tracks per-account balances and ERC20-style allowances; the vault engine
// drives transfers during deposits, withdrawals and refunds.
type AssetLedger struct {
	db Database
}

// NewAssetLedger wraps a database in the asset ledger.
func NewAssetLedger(db Database) *AssetLedger {
	return &AssetLedger{db: db}
}

type assetAccountRecord struct {
	Nonce   uint64
	Balance *uint256.Int
}

func assetAccountKey(addr crypto.Address) []byte {
	return []byte(assetAccountPrefix + addr.String())
}

func assetAllowanceKey(owner, spender crypto.Address) []byte {
	return []byte(assetAllowancePrefix + owner.String() + "/" + spender.String())
}

func (l *AssetLedger) loadAccount(addr crypto.Address) (*types.Account, error) {
	data, err := l.db.Get(assetAccountKey(addr))
	if err != nil {
		if IsNotFound(err) {
			return &types.Account{Balance: big.NewInt(0)}, nil
		}
		return nil, err
	}
	var rec assetAccountRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("storage: decode asset account: %w", err)
	}
	return &types.Account{Nonce: rec.Nonce, Balance: fromUint256(rec.Balance)}, nil
}

func (l *AssetLedger) storeAccount(addr crypto.Address, account *types.Account) error {
	balance, err := toUint256("asset balance", account.Balance)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(&assetAccountRecord{Nonce: account.Nonce, Balance: balance})
	if err != nil {
		return fmt.Errorf("storage: encode asset account: %w", err)
	}
	return l.db.Put(assetAccountKey(addr), encoded)
}

// BalanceOf reports the asset balance held by an address.
func (l *AssetLedger) BalanceOf(addr crypto.Address) (*big.Int, error) {
	account, err := l.loadAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Balance, nil
}

// Transfer moves assets between accounts without consuming an allowance.
func (l *AssetLedger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("storage: invalid transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	sender, err := l.loadAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("storage: insufficient asset balance for %s", from.String())
	}
	receiver, err := l.loadAccount(to)
	if err != nil {
		return err
	}
	sender.Balance = new(big.Int).Sub(sender.Balance, amount)
	receiver.Balance = new(big.Int).Add(receiver.Balance, amount)
	if err := l.storeAccount(from, sender); err != nil {
		return err
	}
	return l.storeAccount(to, receiver)
}

// TransferFrom moves assets using the spender's allowance on the from account.
// A spender equal to the owner transfers without consuming an allowance.
func (l *AssetLedger) TransferFrom(spender, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("storage: invalid transfer amount")
	}
	if amount.Sign() == 0 {
		return nil
	}
	if !spender.Equal(from) {
		allowance, err := l.Allowance(from, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("storage: insufficient asset allowance for %s", spender.String())
		}
		remaining := new(big.Int).Sub(allowance, amount)
		if err := l.SetAllowance(from, spender, remaining); err != nil {
			return err
		}
	}
	return l.Transfer(from, to, amount)
}

// Allowance reports the spender's remaining allowance on the owner's balance.
func (l *AssetLedger) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	data, err := l.db.Get(assetAllowanceKey(owner, spender))
	if err != nil {
		if IsNotFound(err) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	var rec uint256.Int
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("storage: decode asset allowance: %w", err)
	}
	return rec.ToBig(), nil
}

// SetAllowance overwrites the spender's allowance on the owner's balance.
func (l *AssetLedger) SetAllowance(owner, spender crypto.Address, amount *big.Int) error {
	value, err := toUint256("asset allowance", amount)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("storage: encode asset allowance: %w", err)
	}
	return l.db.Put(assetAllowanceKey(owner, spender), encoded)
}

// Mint credits freshly created assets to an address. Used for genesis funding
// and test fixtures.
func (l *AssetLedger) Mint(addr crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("storage: invalid mint amount")
	}
	account, err := l.loadAccount(addr)
	if err != nil {
		return err
	}
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return l.storeAccount(addr, account)
}
