package vault

import (
	"encoding/binary"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"stratvault/crypto"
)

// mintShares credits newly created shares and grows raw supply.
func (e *Engine) mintShares(st *State, to crypto.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return errZeroShares
	}
	balance, err := e.state.ShareBalance(to)
	if err != nil {
		return err
	}
	if err := e.state.PutShareBalance(to, new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	st.TotalSupply = new(big.Int).Add(st.TotalSupply, amount)
	return nil
}

// burnShares destroys shares from the owner and shrinks raw supply. Underflow
// here is an invariant violation, never clamped.
func (e *Engine) burnShares(st *State, from crypto.Address, amount *big.Int) error {
	if amount.Sign() <= 0 {
		return errZeroShares
	}
	balance, err := e.state.ShareBalance(from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return errInsufficientShares
	}
	if st.TotalSupply.Cmp(amount) < 0 {
		return errSupplyUnderflow
	}
	if err := e.state.PutShareBalance(from, new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	st.TotalSupply = new(big.Int).Sub(st.TotalSupply, amount)
	return nil
}

// BalanceOf returns the share balance held by an address.
func (e *Engine) BalanceOf(owner crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	balance, err := e.state.ShareBalance(owner)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(balance), nil
}

// TransferableShares is the owner's balance minus any custodied shares.
func (e *Engine) TransferableShares(owner crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	balance, err := e.state.ShareBalance(owner)
	if err != nil {
		return nil, err
	}
	locked, err := e.lockedShares(owner)
	if err != nil {
		return nil, err
	}
	free := new(big.Int).Sub(balance, locked)
	if free.Sign() < 0 {
		free = big.NewInt(0)
	}
	return free, nil
}

func (e *Engine) lockedShares(owner crypto.Address) (*big.Int, error) {
	custody, err := e.state.Custody(owner)
	if err != nil {
		return nil, err
	}
	if custody == nil || custody.LockedShares == nil {
		return big.NewInt(0), nil
	}
	return cloneBigInt(custody.LockedShares), nil
}

// Transfer moves shares between accounts. Transfers to the vault itself or the
// zero address are rejected, and custodied shares never move.
func (e *Engine) Transfer(from, to crypto.Address, amount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	return e.transfer(from, to, amount)
}

func (e *Engine) transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if to.IsZero() || to.Equal(e.address) {
		return errInvalidReceiver
	}
	free, err := e.TransferableShares(from)
	if err != nil {
		return err
	}
	if free.Cmp(amount) < 0 {
		return errTransferLocked
	}
	fromBalance, err := e.state.ShareBalance(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return errInsufficientShares
	}
	toBalance, err := e.state.ShareBalance(to)
	if err != nil {
		return err
	}
	if err := e.state.PutShareBalance(from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	if err := e.state.PutShareBalance(to, new(big.Int).Add(toBalance, amount)); err != nil {
		return err
	}
	e.emit(newTransferEvent(from, to, amount))
	return nil
}

// Approve overwrites the spender's allowance.
func (e *Engine) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if err := e.state.PutAllowance(owner, spender, cloneBigInt(amount)); err != nil {
		return err
	}
	e.emit(newApprovalEvent(owner, spender, amount))
	return nil
}

// Allowance returns the spender's remaining allowance from the owner.
func (e *Engine) Allowance(owner, spender crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	allowance, err := e.state.Allowance(owner, spender)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(allowance), nil
}

// TransferFrom moves shares using the spender's allowance. The max sentinel is
// an unlimited allowance and is not decremented.
func (e *Engine) TransferFrom(spender, from, to crypto.Address, amount *big.Int) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()
	if err := e.spendAllowance(from, spender, amount); err != nil {
		return err
	}
	return e.transfer(from, to, amount)
}

func (e *Engine) spendAllowance(owner, spender crypto.Address, amount *big.Int) error {
	if spender.Equal(owner) {
		return nil
	}
	allowance, err := e.state.Allowance(owner, spender)
	if err != nil {
		return err
	}
	if isMaxSentinel(allowance) {
		return nil
	}
	if allowance.Cmp(amount) < 0 {
		return errAllowanceExceeded
	}
	return e.state.PutAllowance(owner, spender, new(big.Int).Sub(allowance, amount))
}

// ShareNonce returns the owner's monotonic permit nonce.
func (e *Engine) ShareNonce(owner crypto.Address) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.ShareNonce(owner)
}

// PermitDigest is the canonical signing payload for an off-chain-signed
// approval: keccak256 over the vault address, owner, spender, value, the
// owner's current nonce and the deadline.
func (e *Engine) PermitDigest(owner, spender crypto.Address, value *big.Int, deadline int64) ([]byte, error) {
	nonce, err := e.ShareNonce(owner)
	if err != nil {
		return nil, err
	}
	return permitDigest(e.address, owner, spender, value, nonce, deadline), nil
}

func permitDigest(vaultAddr, owner, spender crypto.Address, value *big.Int, nonce uint64, deadline int64) []byte {
	var nonceBuf, deadlineBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], nonce)
	binary.BigEndian.PutUint64(deadlineBuf[:], uint64(deadline))
	return ethcrypto.Keccak256(
		[]byte("stratvault/permit"),
		vaultAddr.Bytes(),
		owner.Bytes(),
		spender.Bytes(),
		value.Bytes(),
		nonceBuf[:],
		deadlineBuf[:],
	)
}

// Permit applies an off-chain-signed approval. The signature must recover to
// the owner over the current-nonce digest; the nonce advances on success.
func (e *Engine) Permit(owner, spender crypto.Address, value *big.Int, deadline int64, sig []byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if value == nil || value.Sign() < 0 {
		return errInvalidAmount
	}
	if deadline < e.now() {
		return errPermitExpired
	}
	nonce, err := e.state.ShareNonce(owner)
	if err != nil {
		return err
	}
	digest := permitDigest(e.address, owner, spender, value, nonce, deadline)
	signer, err := crypto.RecoverAddress(digest, sig)
	if err != nil {
		return errPermitSignature
	}
	if !signer.Equal(owner) {
		return errPermitSignature
	}
	if err := e.state.PutShareNonce(owner, nonce+1); err != nil {
		return err
	}
	if err := e.state.PutAllowance(owner, spender, cloneBigInt(value)); err != nil {
		return err
	}
	e.emit(newApprovalEvent(owner, spender, value))
	return nil
}
