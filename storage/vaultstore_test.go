package storage

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"stratvault/crypto"
	"stratvault/vault"
)

func testAddress(t *testing.T, prefix crypto.AddressPrefix, seed byte) crypto.Address {
	t.Helper()
	raw := make([]byte, 20)
	for i := range raw {
		raw[i] = seed
	}
	return crypto.NewAddress(prefix, raw)
}

func TestVaultStoreStateRoundTrip(t *testing.T) {
	store := NewVaultStore(NewMemDB())

	st, err := store.VaultState()
	require.NoError(t, err)
	require.Nil(t, st, "fresh database should have no vault state")

	want := &vault.State{
		TotalSupply:         big.NewInt(1_000_000),
		TotalIdle:           big.NewInt(400_000),
		TotalDebt:           big.NewInt(600_000),
		MinimumTotalIdle:    big.NewInt(50_000),
		DepositLimit:        big.NewInt(10_000_000),
		UseDefaultQueue:     true,
		Shutdown:            false,
		ProfitMaxUnlockTime: 7 * 24 * 3600,
		FullUnlockDate:      1_700_000_000,
		UnlockingRate:       big.NewInt(123_456_789),
		LastUnlockUpdate:    1_699_999_000,
		ProtocolFeeBps:      500,
		RageQuitCooldown:    3 * 24 * 3600,
	}
	require.NoError(t, store.PutVaultState(want))

	got, err := store.VaultState()
	require.NoError(t, err)
	require.Equal(t, want, got)

	// Returned state must not alias stored data.
	got.TotalIdle.SetInt64(0)
	again, err := store.VaultState()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400_000), again.TotalIdle)
}

func TestVaultStoreStrategyLifecycle(t *testing.T) {
	store := NewVaultStore(NewMemDB())
	strategy := testAddress(t, crypto.StrategyPrefix, 0x11)

	params, err := store.Strategy(strategy)
	require.NoError(t, err)
	require.Nil(t, params)

	want := &vault.StrategyParams{
		Activation:  1_690_000_000,
		LastReport:  1_695_000_000,
		CurrentDebt: big.NewInt(250_000),
		MaxDebt:     big.NewInt(500_000),
	}
	require.NoError(t, store.PutStrategy(strategy, want))

	got, err := store.Strategy(strategy)
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NoError(t, store.DeleteStrategy(strategy))
	gone, err := store.Strategy(strategy)
	require.NoError(t, err)
	require.Nil(t, gone)
}

func TestVaultStoreFeeRecipientsRoundTrip(t *testing.T) {
	store := NewVaultStore(NewMemDB())

	_, _, ok, err := store.FeeRecipients()
	require.NoError(t, err)
	require.False(t, ok, "fresh database should have no fee recipients")

	fee := testAddress(t, crypto.AccountPrefix, 0x21)
	protocol := testAddress(t, crypto.AccountPrefix, 0x22)
	require.NoError(t, store.PutFeeRecipients(fee, protocol))

	gotFee, gotProtocol, ok, err := store.FeeRecipients()
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, fee.Equal(gotFee))
	require.True(t, protocol.Equal(gotProtocol))
}

func TestVaultStoreQueueRoundTrip(t *testing.T) {
	store := NewVaultStore(NewMemDB())

	queue, err := store.Queue()
	require.NoError(t, err)
	require.Empty(t, queue)

	want := []crypto.Address{
		testAddress(t, crypto.StrategyPrefix, 0x01),
		testAddress(t, crypto.StrategyPrefix, 0x02),
		testAddress(t, crypto.StrategyPrefix, 0x03),
	}
	require.NoError(t, store.PutQueue(want))

	got, err := store.Queue()
	require.NoError(t, err)
	require.Len(t, got, len(want))
	for i := range want {
		require.True(t, want[i].Equal(got[i]))
		require.Equal(t, want[i].Prefix(), got[i].Prefix())
	}
}

func TestVaultStoreSharesAndAllowances(t *testing.T) {
	store := NewVaultStore(NewMemDB())
	owner := testAddress(t, crypto.AccountPrefix, 0x21)
	spender := testAddress(t, crypto.AccountPrefix, 0x22)

	balance, err := store.ShareBalance(owner)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), balance)

	require.NoError(t, store.PutShareBalance(owner, big.NewInt(42)))
	balance, err = store.ShareBalance(owner)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(42), balance)

	// The unlimited-allowance sentinel is the max uint256 and must survive the
	// round trip bit for bit.
	require.NoError(t, store.PutAllowance(owner, spender, vault.MaxUint256))
	allowance, err := store.Allowance(owner, spender)
	require.NoError(t, err)
	require.Equal(t, 0, allowance.Cmp(vault.MaxUint256))

	nonce, err := store.ShareNonce(owner)
	require.NoError(t, err)
	require.Equal(t, uint64(0), nonce)
	require.NoError(t, store.PutShareNonce(owner, 7))
	nonce, err = store.ShareNonce(owner)
	require.NoError(t, err)
	require.Equal(t, uint64(7), nonce)
}

func TestVaultStoreCustodyAndCooldown(t *testing.T) {
	store := NewVaultStore(NewMemDB())
	owner := testAddress(t, crypto.AccountPrefix, 0x31)

	custody, err := store.Custody(owner)
	require.NoError(t, err)
	require.Nil(t, custody)

	wantCustody := &vault.Custody{LockedShares: big.NewInt(1_000), UnlockTime: 1_700_100_000}
	require.NoError(t, store.PutCustody(owner, wantCustody))
	custody, err = store.Custody(owner)
	require.NoError(t, err)
	require.Equal(t, wantCustody, custody)

	require.NoError(t, store.DeleteCustody(owner))
	custody, err = store.Custody(owner)
	require.NoError(t, err)
	require.Nil(t, custody)

	change, err := store.CooldownChange()
	require.NoError(t, err)
	require.Nil(t, change)

	wantChange := &vault.CooldownChange{NewCooldown: 7 * 24 * 3600, ProposedAt: 1_700_000_000}
	require.NoError(t, store.PutCooldownChange(wantChange))
	change, err = store.CooldownChange()
	require.NoError(t, err)
	require.Equal(t, wantChange, change)

	require.NoError(t, store.DeleteCooldownChange())
	change, err = store.CooldownChange()
	require.NoError(t, err)
	require.Nil(t, change)
}

func TestVaultStoreRoles(t *testing.T) {
	store := NewVaultStore(NewMemDB())
	admin := testAddress(t, crypto.AccountPrefix, 0x41)

	roles, err := store.Roles(admin)
	require.NoError(t, err)
	require.Equal(t, vault.Role(0), roles)

	want := vault.RoleDebtManager | vault.RoleReportingManager
	require.NoError(t, store.PutRoles(admin, want))
	roles, err = store.Roles(admin)
	require.NoError(t, err)
	require.Equal(t, want, roles)
}

func TestVaultStoreRejectsNegativeAmounts(t *testing.T) {
	store := NewVaultStore(NewMemDB())
	owner := testAddress(t, crypto.AccountPrefix, 0x51)

	err := store.PutShareBalance(owner, big.NewInt(-1))
	require.Error(t, err)
}

func TestVaultStoreOnLevelDB(t *testing.T) {
	db, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	store := NewVaultStore(db)
	require.NoError(t, store.PutVaultState(&vault.State{
		TotalSupply: big.NewInt(9),
		TotalIdle:   big.NewInt(9),
	}))

	got, err := store.VaultState()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(9), got.TotalSupply)
	require.Equal(t, big.NewInt(9), got.TotalIdle)
}
