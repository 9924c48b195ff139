package strategy

import (
	"errors"
	"math/big"
	"sync"

	"stratvault/crypto"
)

// Ledger is the slice of the asset ledger a simulated strategy needs.
type Ledger interface {
	BalanceOf(addr crypto.Address) (*big.Int, error)
	Transfer(from, to crypto.Address, amount *big.Int) error
	Mint(addr crypto.Address, amount *big.Int) error
}

// Simulated is an in-process yield strategy for development networks and
// tests. Its entire asset position sits on the ledger under its own address;
// strategy shares track the vault's claim on that balance. Accrue and Slash
// move the valuation so profit and loss reporting can be exercised end to end.
type Simulated struct {
	ledger  Ledger
	address crypto.Address
	vault   crypto.Address

	mu          sync.Mutex
	shares      map[string]*big.Int
	totalShares *big.Int
	// lossSink receives slashed assets so conservation stays checkable across
	// the whole ledger.
	lossSink crypto.Address
}

// NewSimulated binds a simulated strategy to its address, the vault it serves
// and the sink that absorbs slashed assets.
func NewSimulated(ledger Ledger, address, vaultAddr, lossSink crypto.Address) *Simulated {
	return &Simulated{
		ledger:      ledger,
		address:     address,
		vault:       vaultAddr,
		shares:      make(map[string]*big.Int),
		totalShares: big.NewInt(0),
		lossSink:    lossSink,
	}
}

// Address returns the strategy's ledger address.
func (s *Simulated) Address() crypto.Address { return s.address }

func (s *Simulated) holderShares(holder crypto.Address) *big.Int {
	if balance, ok := s.shares[holder.String()]; ok {
		return balance
	}
	return big.NewInt(0)
}

func (s *Simulated) assetBalance() (*big.Int, error) {
	return s.ledger.BalanceOf(s.address)
}

// TotalValueInAssets values the holder's shares against the strategy's asset
// balance.
func (s *Simulated) TotalValueInAssets(holder crypto.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valueOfLocked(s.holderShares(holder))
}

func (s *Simulated) valueOfLocked(shares *big.Int) (*big.Int, error) {
	if shares.Sign() == 0 || s.totalShares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	balance, err := s.assetBalance()
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(shares, balance)
	return value.Quo(value, s.totalShares), nil
}

// MaxWithdrawable reports the assets the holder could withdraw right now. The
// simulated strategy is fully liquid.
func (s *Simulated) MaxWithdrawable(holder crypto.Address) (*big.Int, error) {
	return s.TotalValueInAssets(holder)
}

// PreviewWithdraw quotes the strategy shares needed to withdraw assets,
// rounding up.
func (s *Simulated) PreviewWithdraw(assets *big.Int) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if assets == nil || assets.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if s.totalShares.Sign() == 0 {
		return new(big.Int).Set(assets), nil
	}
	balance, err := s.assetBalance()
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return nil, errors.New("strategy: no assets to withdraw against")
	}
	num := new(big.Int).Mul(assets, s.totalShares)
	quo, rem := new(big.Int).QuoRem(num, balance, new(big.Int))
	if rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo, nil
}

// ShareBalance returns the holder's strategy share balance.
func (s *Simulated) ShareBalance(holder crypto.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.holderShares(holder)), nil
}

// Deposit records a position for the vault after assets were transferred in.
// Shares are issued against the pre-deposit valuation.
func (s *Simulated) Deposit(assets *big.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if assets == nil || assets.Sign() <= 0 {
		return errors.New("strategy: deposit amount must be positive")
	}
	balance, err := s.assetBalance()
	if err != nil {
		return err
	}
	preBalance := new(big.Int).Sub(balance, assets)
	minted := new(big.Int).Set(assets)
	if s.totalShares.Sign() > 0 && preBalance.Sign() > 0 {
		minted.Mul(assets, s.totalShares)
		minted.Quo(minted, preBalance)
	}
	holder := s.vault.String()
	current, ok := s.shares[holder]
	if !ok {
		current = big.NewInt(0)
	}
	s.shares[holder] = new(big.Int).Add(current, minted)
	s.totalShares = new(big.Int).Add(s.totalShares, minted)
	return nil
}

// Redeem burns the holder's shares and releases the proportional assets to the
// receiver, returning the assets actually released.
func (s *Simulated) Redeem(shares *big.Int, receiver crypto.Address) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if shares == nil || shares.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	held := s.holderShares(s.vault)
	if shares.Cmp(held) > 0 {
		return nil, errors.New("strategy: redeem exceeds share balance")
	}
	assets, err := s.valueOfLocked(shares)
	if err != nil {
		return nil, err
	}
	if assets.Sign() > 0 {
		if err := s.ledger.Transfer(s.address, receiver, assets); err != nil {
			return nil, err
		}
	}
	s.shares[s.vault.String()] = new(big.Int).Sub(held, shares)
	s.totalShares = new(big.Int).Sub(s.totalShares, shares)
	return assets, nil
}

// Withdraw releases an asset amount to the receiver, burning the proportional
// shares. It returns the assets actually released.
func (s *Simulated) Withdraw(assets *big.Int, receiver crypto.Address) (*big.Int, error) {
	shares, err := s.PreviewWithdraw(assets)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	held := new(big.Int).Set(s.holderShares(s.vault))
	s.mu.Unlock()
	if shares.Cmp(held) > 0 {
		shares = held
	}
	return s.Redeem(shares, receiver)
}

// Accrue simulates yield by minting assets onto the strategy balance.
func (s *Simulated) Accrue(gain *big.Int) error {
	if gain == nil || gain.Sign() <= 0 {
		return nil
	}
	return s.ledger.Mint(s.address, gain)
}

// Slash simulates a loss by moving assets off the strategy balance into the
// loss sink.
func (s *Simulated) Slash(loss *big.Int) error {
	if loss == nil || loss.Sign() <= 0 {
		return nil
	}
	balance, err := s.assetBalance()
	if err != nil {
		return err
	}
	if loss.Cmp(balance) > 0 {
		loss = balance
	}
	return s.ledger.Transfer(s.address, s.lossSink, loss)
}
