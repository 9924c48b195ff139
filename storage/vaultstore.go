package storage

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"stratvault/crypto"
	"stratvault/vault"
)

var (
	vaultStateKey     = []byte("vault/state")
	vaultAddressKey   = []byte("vault/address")
	vaultQueueKey     = []byte("vault/queue")
	feeRecipientsKey  = []byte("vault/fee-recipients")
	cooldownChangeKey = []byte("vault/cooldown-change")

	strategyPrefix     = "vault/strategy/"
	shareBalancePrefix = "vault/shares/"
	allowancePrefix    = "vault/allowance/"
	shareNoncePrefix   = "vault/nonce/"
	custodyPrefix      = "vault/custody/"
	rolesPrefix        = "vault/roles/"
)

// VaultStore persists vault engine state in a key-value database. Records are
// RLP encoded; every read decodes into fresh values so callers never alias
// stored data.
type VaultStore struct {
	db Database
}

// NewVaultStore wraps a database in the vault persistence layer.
func NewVaultStore(db Database) *VaultStore {
	return &VaultStore{db: db}
}

type vaultStateRecord struct {
	TotalSupply         *uint256.Int
	TotalIdle           *uint256.Int
	TotalDebt           *uint256.Int
	MinimumTotalIdle    *uint256.Int
	DepositLimit        *uint256.Int
	UseDefaultQueue     bool
	Shutdown            bool
	ProfitMaxUnlockTime uint64
	FullUnlockDate      uint64
	UnlockingRate       *uint256.Int
	LastUnlockUpdate    uint64
	ProtocolFeeBps      uint64
	RageQuitCooldown    uint64
}

type strategyRecord struct {
	Activation  uint64
	LastReport  uint64
	CurrentDebt *uint256.Int
	MaxDebt     *uint256.Int
}

type addressRecord struct {
	Prefix string
	Raw    []byte
}

type feeRecipientsRecord struct {
	Fee      addressRecord
	Protocol addressRecord
}

type custodyRecord struct {
	LockedShares *uint256.Int
	UnlockTime   uint64
}

type cooldownChangeRecord struct {
	NewCooldown uint64
	ProposedAt  uint64
}

func toUint256(label string, v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return uint256.NewInt(0), nil
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("storage: %s is negative", label)
	}
	value, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("storage: %s overflows uint256", label)
	}
	return value, nil
}

func fromUint256(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

func addressToRecord(addr crypto.Address) addressRecord {
	return addressRecord{Prefix: string(addr.Prefix()), Raw: addr.Bytes()}
}

func recordToAddress(rec addressRecord) crypto.Address {
	return crypto.NewAddress(crypto.AddressPrefix(rec.Prefix), rec.Raw)
}

func strategyKey(addr crypto.Address) []byte {
	return []byte(strategyPrefix + addr.String())
}

func shareBalanceKey(addr crypto.Address) []byte {
	return []byte(shareBalancePrefix + addr.String())
}

func allowanceKey(owner, spender crypto.Address) []byte {
	return []byte(allowancePrefix + owner.String() + "/" + spender.String())
}

func shareNonceKey(addr crypto.Address) []byte {
	return []byte(shareNoncePrefix + addr.String())
}

func custodyKey(owner crypto.Address) []byte {
	return []byte(custodyPrefix + owner.String())
}

func rolesKey(addr crypto.Address) []byte {
	return []byte(rolesPrefix + addr.String())
}

func (s *VaultStore) getRecord(key []byte, out interface{}) (bool, error) {
	data, err := s.db.Get(key)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return true, nil
}

func (s *VaultStore) putRecord(key []byte, record interface{}) error {
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return s.db.Put(key, encoded)
}

// VaultState loads the singleton vault accounting record. A missing record
// yields nil so a fresh database boots as an empty vault.
func (s *VaultStore) VaultState() (*vault.State, error) {
	var rec vaultStateRecord
	ok, err := s.getRecord(vaultStateKey, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &vault.State{
		TotalSupply:         fromUint256(rec.TotalSupply),
		TotalIdle:           fromUint256(rec.TotalIdle),
		TotalDebt:           fromUint256(rec.TotalDebt),
		MinimumTotalIdle:    fromUint256(rec.MinimumTotalIdle),
		DepositLimit:        fromUint256(rec.DepositLimit),
		UseDefaultQueue:     rec.UseDefaultQueue,
		Shutdown:            rec.Shutdown,
		ProfitMaxUnlockTime: rec.ProfitMaxUnlockTime,
		FullUnlockDate:      int64(rec.FullUnlockDate),
		UnlockingRate:       fromUint256(rec.UnlockingRate),
		LastUnlockUpdate:    int64(rec.LastUnlockUpdate),
		ProtocolFeeBps:      rec.ProtocolFeeBps,
		RageQuitCooldown:    rec.RageQuitCooldown,
	}, nil
}

// PutVaultState persists the singleton vault accounting record.
func (s *VaultStore) PutVaultState(st *vault.State) error {
	if st == nil {
		return fmt.Errorf("storage: nil vault state")
	}
	supply, err := toUint256("total supply", st.TotalSupply)
	if err != nil {
		return err
	}
	idle, err := toUint256("total idle", st.TotalIdle)
	if err != nil {
		return err
	}
	debt, err := toUint256("total debt", st.TotalDebt)
	if err != nil {
		return err
	}
	minIdle, err := toUint256("minimum total idle", st.MinimumTotalIdle)
	if err != nil {
		return err
	}
	limit, err := toUint256("deposit limit", st.DepositLimit)
	if err != nil {
		return err
	}
	rate, err := toUint256("unlocking rate", st.UnlockingRate)
	if err != nil {
		return err
	}
	rec := vaultStateRecord{
		TotalSupply:         supply,
		TotalIdle:           idle,
		TotalDebt:           debt,
		MinimumTotalIdle:    minIdle,
		DepositLimit:        limit,
		UseDefaultQueue:     st.UseDefaultQueue,
		Shutdown:            st.Shutdown,
		ProfitMaxUnlockTime: st.ProfitMaxUnlockTime,
		FullUnlockDate:      uint64(st.FullUnlockDate),
		UnlockingRate:       rate,
		LastUnlockUpdate:    uint64(st.LastUnlockUpdate),
		ProtocolFeeBps:      st.ProtocolFeeBps,
		RageQuitCooldown:    st.RageQuitCooldown,
	}
	return s.putRecord(vaultStateKey, &rec)
}

// VaultAddress loads the vault's own account address. The second return is
// false on a fresh database.
func (s *VaultStore) VaultAddress() (crypto.Address, bool, error) {
	var rec addressRecord
	ok, err := s.getRecord(vaultAddressKey, &rec)
	if err != nil || !ok {
		return crypto.Address{}, false, err
	}
	return recordToAddress(rec), true, nil
}

// PutVaultAddress persists the vault's own account address.
func (s *VaultStore) PutVaultAddress(addr crypto.Address) error {
	rec := addressToRecord(addr)
	return s.putRecord(vaultAddressKey, &rec)
}

// FeeRecipients loads the performance and protocol fee recipients. The third
// return is false on a fresh database.
func (s *VaultStore) FeeRecipients() (crypto.Address, crypto.Address, bool, error) {
	var rec feeRecipientsRecord
	ok, err := s.getRecord(feeRecipientsKey, &rec)
	if err != nil || !ok {
		return crypto.Address{}, crypto.Address{}, false, err
	}
	return recordToAddress(rec.Fee), recordToAddress(rec.Protocol), true, nil
}

// PutFeeRecipients persists the performance and protocol fee recipients.
func (s *VaultStore) PutFeeRecipients(fee, protocol crypto.Address) error {
	rec := feeRecipientsRecord{Fee: addressToRecord(fee), Protocol: addressToRecord(protocol)}
	return s.putRecord(feeRecipientsKey, &rec)
}

// Strategy loads the accounting parameters for one strategy. A missing record
// yields nil, which the engine treats as inactive.
func (s *VaultStore) Strategy(addr crypto.Address) (*vault.StrategyParams, error) {
	var rec strategyRecord
	ok, err := s.getRecord(strategyKey(addr), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &vault.StrategyParams{
		Activation:  int64(rec.Activation),
		LastReport:  int64(rec.LastReport),
		CurrentDebt: fromUint256(rec.CurrentDebt),
		MaxDebt:     fromUint256(rec.MaxDebt),
	}, nil
}

// PutStrategy persists the accounting parameters for one strategy.
func (s *VaultStore) PutStrategy(addr crypto.Address, params *vault.StrategyParams) error {
	if params == nil {
		return fmt.Errorf("storage: nil strategy params")
	}
	current, err := toUint256("current debt", params.CurrentDebt)
	if err != nil {
		return err
	}
	maxDebt, err := toUint256("max debt", params.MaxDebt)
	if err != nil {
		return err
	}
	rec := strategyRecord{
		Activation:  uint64(params.Activation),
		LastReport:  uint64(params.LastReport),
		CurrentDebt: current,
		MaxDebt:     maxDebt,
	}
	return s.putRecord(strategyKey(addr), &rec)
}

// DeleteStrategy removes a strategy's accounting record.
func (s *VaultStore) DeleteStrategy(addr crypto.Address) error {
	return s.db.Delete(strategyKey(addr))
}

// Queue loads the default withdrawal queue.
func (s *VaultStore) Queue() ([]crypto.Address, error) {
	var recs []addressRecord
	ok, err := s.getRecord(vaultQueueKey, &recs)
	if err != nil || !ok {
		return nil, err
	}
	queue := make([]crypto.Address, 0, len(recs))
	for _, rec := range recs {
		queue = append(queue, recordToAddress(rec))
	}
	return queue, nil
}

// PutQueue persists the default withdrawal queue.
func (s *VaultStore) PutQueue(queue []crypto.Address) error {
	recs := make([]addressRecord, 0, len(queue))
	for _, addr := range queue {
		recs = append(recs, addressToRecord(addr))
	}
	return s.putRecord(vaultQueueKey, recs)
}

// ShareBalance loads the share balance for an address, zero when unset.
func (s *VaultStore) ShareBalance(addr crypto.Address) (*big.Int, error) {
	var rec uint256.Int
	ok, err := s.getRecord(shareBalanceKey(addr), &rec)
	if err != nil || !ok {
		return big.NewInt(0), err
	}
	return rec.ToBig(), nil
}

// PutShareBalance persists the share balance for an address.
func (s *VaultStore) PutShareBalance(addr crypto.Address, balance *big.Int) error {
	value, err := toUint256("share balance", balance)
	if err != nil {
		return err
	}
	return s.putRecord(shareBalanceKey(addr), value)
}

// Allowance loads the share spending allowance, zero when unset. The
// full-balance sentinel round-trips intact since it is itself a valid uint256.
func (s *VaultStore) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	var rec uint256.Int
	ok, err := s.getRecord(allowanceKey(owner, spender), &rec)
	if err != nil || !ok {
		return big.NewInt(0), err
	}
	return rec.ToBig(), nil
}

// PutAllowance persists a share spending allowance.
func (s *VaultStore) PutAllowance(owner, spender crypto.Address, amount *big.Int) error {
	value, err := toUint256("allowance", amount)
	if err != nil {
		return err
	}
	return s.putRecord(allowanceKey(owner, spender), value)
}

// ShareNonce loads the permit nonce for an address, zero when unset.
func (s *VaultStore) ShareNonce(addr crypto.Address) (uint64, error) {
	var nonce uint64
	ok, err := s.getRecord(shareNonceKey(addr), &nonce)
	if err != nil || !ok {
		return 0, err
	}
	return nonce, nil
}

// PutShareNonce persists the permit nonce for an address.
func (s *VaultStore) PutShareNonce(addr crypto.Address, nonce uint64) error {
	return s.putRecord(shareNonceKey(addr), nonce)
}

// Custody loads the rage-quit lockup for an owner, nil when none is active.
func (s *VaultStore) Custody(owner crypto.Address) (*vault.Custody, error) {
	var rec custodyRecord
	ok, err := s.getRecord(custodyKey(owner), &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &vault.Custody{
		LockedShares: fromUint256(rec.LockedShares),
		UnlockTime:   int64(rec.UnlockTime),
	}, nil
}

// PutCustody persists an owner's rage-quit lockup.
func (s *VaultStore) PutCustody(owner crypto.Address, custody *vault.Custody) error {
	if custody == nil {
		return fmt.Errorf("storage: nil custody record")
	}
	locked, err := toUint256("locked shares", custody.LockedShares)
	if err != nil {
		return err
	}
	rec := custodyRecord{
		LockedShares: locked,
		UnlockTime:   uint64(custody.UnlockTime),
	}
	return s.putRecord(custodyKey(owner), &rec)
}

// DeleteCustody clears an owner's rage-quit lockup.
func (s *VaultStore) DeleteCustody(owner crypto.Address) error {
	return s.db.Delete(custodyKey(owner))
}

// CooldownChange loads the pending cooldown update, nil when none is pending.
func (s *VaultStore) CooldownChange() (*vault.CooldownChange, error) {
	var rec cooldownChangeRecord
	ok, err := s.getRecord(cooldownChangeKey, &rec)
	if err != nil || !ok {
		return nil, err
	}
	return &vault.CooldownChange{
		NewCooldown: rec.NewCooldown,
		ProposedAt:  int64(rec.ProposedAt),
	}, nil
}

// PutCooldownChange persists a pending cooldown update.
func (s *VaultStore) PutCooldownChange(change *vault.CooldownChange) error {
	if change == nil {
		return fmt.Errorf("storage: nil cooldown change")
	}
	rec := cooldownChangeRecord{
		NewCooldown: change.NewCooldown,
		ProposedAt:  uint64(change.ProposedAt),
	}
	return s.putRecord(cooldownChangeKey, &rec)
}

// DeleteCooldownChange clears the pending cooldown update.
func (s *VaultStore) DeleteCooldownChange() error {
	return s.db.Delete(cooldownChangeKey)
}

// Roles loads the role set for an address, empty when unset.
func (s *VaultStore) Roles(addr crypto.Address) (vault.Role, error) {
	var roles uint64
	ok, err := s.getRecord(rolesKey(addr), &roles)
	if err != nil || !ok {
		return 0, err
	}
	return vault.Role(roles), nil
}

// PutRoles persists the role set for an address.
func (s *VaultStore) PutRoles(addr crypto.Address, roles vault.Role) error {
	return s.putRecord(rolesKey(addr), uint64(roles))
}
