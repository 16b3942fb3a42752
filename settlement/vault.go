// Package settlement implements the value-transfer collaborator the lending
// engine delegates actual fund movement to. The engine only ever observes the
// boolean outcome of a transfer; a false return must leave no trace.
package settlement

import (
	"math/big"
	"sync"
)

// Vault keeps per-address balances and settles transfers against them. It is
// the in-process stand-in for an external stablecoin ledger: TransferIn moves
// funds from a payer to the engine treasury and TransferOut pays funds out of
// the treasury.
type Vault struct {
	mu       sync.Mutex
	treasury string
	balances map[string]*big.Int
}

// NewVault returns a vault whose outbound transfers are funded by the given
// treasury address.
func NewVault(treasury string) *Vault {
	return &Vault{
		treasury: treasury,
		balances: make(map[string]*big.Int),
	}
}

// Credit adds funds to an address, e.g. to seed test and demo accounts.
func (v *Vault) Credit(addr string, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[addr] = new(big.Int).Add(v.balanceLocked(addr), amount)
}

// Balance returns the current balance of an address.
func (v *Vault) Balance(addr string) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.balanceLocked(addr))
}

// TransferIn moves amount from the payer to the destination address. It
// reports false, without moving anything, when the payer cannot cover it.
func (v *Vault) TransferIn(from, to string, amount *big.Int) bool {
	return v.move(from, to, amount)
}

// TransferOut pays amount from the treasury to the recipient. It reports
// false, without moving anything, when the treasury cannot cover it.
func (v *Vault) TransferOut(to string, amount *big.Int) bool {
	return v.move(v.treasury, to, amount)
}

func (v *Vault) move(from, to string, amount *big.Int) bool {
	if amount == nil || amount.Sign() < 0 {
		return false
	}
	if amount.Sign() == 0 {
		return true
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	fromBalance := v.balanceLocked(from)
	if fromBalance.Cmp(amount) < 0 {
		return false
	}
	v.balances[from] = new(big.Int).Sub(fromBalance, amount)
	v.balances[to] = new(big.Int).Add(v.balanceLocked(to), amount)
	return true
}

func (v *Vault) balanceLocked(addr string) *big.Int {
	if balance, ok := v.balances[addr]; ok {
		return balance
	}
	return big.NewInt(0)
}
