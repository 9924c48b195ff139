package vault

import (
	"errors"
	"math/big"
	"testing"

	"stratvault/crypto"
)

func TestTransferMovesShares(t *testing.T) {
	fix := newEngineFixture(t)
	from := makeAddress(crypto.AccountPrefix, 0x01)
	to := makeAddress(crypto.AccountPrefix, 0x02)
	fix.state.balances[addrKey(from)] = big.NewInt(1_000)

	if err := fix.engine.Transfer(from, to, big.NewInt(300)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	fix.requireShareBalance(from, 700, "sender shares")
	fix.requireShareBalance(to, 300, "receiver shares")
}

func TestTransferRejectsVaultAndZeroReceiver(t *testing.T) {
	fix := newEngineFixture(t)
	from := makeAddress(crypto.AccountPrefix, 0x01)
	fix.state.balances[addrKey(from)] = big.NewInt(1_000)

	if err := fix.engine.Transfer(from, fix.vaultAddr, big.NewInt(10)); !errors.Is(err, errInvalidReceiver) {
		t.Fatalf("vault receiver: got %v", err)
	}
	var zero crypto.Address
	if err := fix.engine.Transfer(from, zero, big.NewInt(10)); !errors.Is(err, errInvalidReceiver) {
		t.Fatalf("zero receiver: got %v", err)
	}
}

func TestTransferBlockedByCustody(t *testing.T) {
	fix := newEngineFixture(t)
	from := makeAddress(crypto.AccountPrefix, 0x01)
	to := makeAddress(crypto.AccountPrefix, 0x02)
	fix.state.balances[addrKey(from)] = big.NewInt(1_000)
	fix.state.custody[addrKey(from)] = &Custody{LockedShares: big.NewInt(800), UnlockTime: fix.clock + 100}

	if err := fix.engine.Transfer(from, to, big.NewInt(300)); !errors.Is(err, errTransferLocked) {
		t.Fatalf("expected locked transfer error, got %v", err)
	}
	// The free remainder still moves.
	if err := fix.engine.Transfer(from, to, big.NewInt(200)); err != nil {
		t.Fatalf("free transfer: %v", err)
	}
}

func TestTransferFromConsumesAllowance(t *testing.T) {
	fix := newEngineFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x01)
	spender := makeAddress(crypto.AccountPrefix, 0x02)
	receiver := makeAddress(crypto.AccountPrefix, 0x03)
	fix.state.balances[addrKey(owner)] = big.NewInt(1_000)

	if err := fix.engine.TransferFrom(spender, owner, receiver, big.NewInt(100)); !errors.Is(err, errAllowanceExceeded) {
		t.Fatalf("expected allowance error, got %v", err)
	}

	if err := fix.engine.Approve(owner, spender, big.NewInt(250)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := fix.engine.TransferFrom(spender, owner, receiver, big.NewInt(100)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	allowance, err := fix.engine.Allowance(owner, spender)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	requireAmount(t, allowance, 150, "remaining allowance")
	fix.requireShareBalance(receiver, 100, "receiver shares")
}

func TestTransferFromUnlimitedAllowanceNotDecremented(t *testing.T) {
	fix := newEngineFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x01)
	spender := makeAddress(crypto.AccountPrefix, 0x02)
	receiver := makeAddress(crypto.AccountPrefix, 0x03)
	fix.state.balances[addrKey(owner)] = big.NewInt(1_000)

	if err := fix.engine.Approve(owner, spender, cloneBigInt(MaxUint256)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := fix.engine.TransferFrom(spender, owner, receiver, big.NewInt(400)); err != nil {
		t.Fatalf("transfer from: %v", err)
	}
	allowance, err := fix.engine.Allowance(owner, spender)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Cmp(MaxUint256) != 0 {
		t.Fatalf("sentinel allowance decremented: %s", allowance)
	}
}

func TestApproveRejectsNegativeAmount(t *testing.T) {
	fix := newEngineFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x01)
	spender := makeAddress(crypto.AccountPrefix, 0x02)

	if err := fix.engine.Approve(owner, spender, big.NewInt(-1)); !errors.Is(err, errInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestPermitSetsAllowanceAndAdvancesNonce(t *testing.T) {
	fix := newEngineFixture(t)
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := key.PubKey().Address()
	spender := makeAddress(crypto.AccountPrefix, 0x02)
	value := big.NewInt(777)
	deadline := fix.clock + 600

	digest, err := fix.engine.PermitDigest(owner, spender, value, deadline)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	sig, err := key.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := fix.engine.Permit(owner, spender, value, deadline, sig); err != nil {
		t.Fatalf("permit: %v", err)
	}

	allowance, err := fix.engine.Allowance(owner, spender)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	requireAmount(t, allowance, 777, "permitted allowance")
	nonce, err := fix.engine.ShareNonce(owner)
	if err != nil {
		t.Fatalf("nonce: %v", err)
	}
	if nonce != 1 {
		t.Fatalf("nonce not advanced: %d", nonce)
	}

	// Replay fails against the advanced nonce.
	if err := fix.engine.Permit(owner, spender, value, deadline, sig); !errors.Is(err, errPermitSignature) {
		t.Fatalf("expected replay rejection, got %v", err)
	}
}

func TestPermitRejectsWrongSigner(t *testing.T) {
	fix := newEngineFixture(t)
	ownerKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate owner key: %v", err)
	}
	mallory, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate other key: %v", err)
	}
	owner := ownerKey.PubKey().Address()
	spender := makeAddress(crypto.AccountPrefix, 0x02)
	deadline := fix.clock + 600

	digest, err := fix.engine.PermitDigest(owner, spender, big.NewInt(100), deadline)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	sig, err := mallory.Sign(digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := fix.engine.Permit(owner, spender, big.NewInt(100), deadline, sig); !errors.Is(err, errPermitSignature) {
		t.Fatalf("expected signature mismatch, got %v", err)
	}
}

func TestPermitRejectsExpiredDeadline(t *testing.T) {
	fix := newEngineFixture(t)
	owner := makeAddress(crypto.AccountPrefix, 0x01)
	spender := makeAddress(crypto.AccountPrefix, 0x02)

	err := fix.engine.Permit(owner, spender, big.NewInt(100), fix.clock-1, []byte{0x01})
	if !errors.Is(err, errPermitExpired) {
		t.Fatalf("expected expired permit, got %v", err)
	}
}
