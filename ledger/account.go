package ledger

import (
	"errors"
	"sync"
)

var ErrInsufficientFunds = errors.New("insufficient funds")

// Account is a peer's balance. The mutex is held only for the
// read-modify-write of the balance and never across any other call.
type Account struct {
	mu      sync.Mutex
	balance int64
}

func NewAccount(initial int64) *Account {
	return &Account{balance: initial}
}

// Balance returns the current balance in a thread-safe manner.
func (a *Account) Balance() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// Deposit adds amount and returns the new balance. Amounts are opaque: zero and
// negative values are applied as given.
func (a *Account) Deposit(amount int64) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.balance += amount
	return a.balance
}

// Withdraw removes amount if the balance covers it.
func (a *Account) Withdraw(amount int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if amount > a.balance {
		return a.balance, ErrInsufficientFunds
	}
	a.balance -= amount
	return a.balance, nil
}
