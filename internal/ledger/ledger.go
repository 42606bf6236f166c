package ledger

import (
	"context"
	"errors"
	"sync"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// StartingBalance is credited to every user the first time we see them.
const StartingBalance = 1000

// Ledger is the only shared resource mutated by several components
// (wager + tournament). All mutations go through atomic debit/credit so a
// failed multi-step operation can be rolled back deterministically.
type Ledger interface {
	EnsureUser(ctx context.Context, userID string) error
	Balance(ctx context.Context, userID string) (int64, error)
	// Debit fails with ErrInsufficientBalance and leaves the balance untouched.
	Debit(ctx context.Context, userID string, amount int64) error
	Credit(ctx context.Context, userID string, amount int64) error
}

// MemoryLedger keeps balances in a map. It is the default backend and is
// rehydrated from the snapshot file on startup.
type MemoryLedger struct {
	mu       sync.Mutex
	balances map[string]int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{balances: make(map[string]int64)}
}

func (l *MemoryLedger) EnsureUser(ctx context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.balances[userID]; !ok {
		l.balances[userID] = StartingBalance
	}
	return nil
}

func (l *MemoryLedger) Balance(ctx context.Context, userID string) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID], nil
}

func (l *MemoryLedger) Debit(ctx context.Context, userID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[userID] < amount {
		return ErrInsufficientBalance
	}
	l.balances[userID] -= amount
	return nil
}

func (l *MemoryLedger) Credit(ctx context.Context, userID string, amount int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[userID] += amount
	return nil
}

// Restore replaces all balances, used when loading a snapshot.
func (l *MemoryLedger) Restore(balances map[string]int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[string]int64, len(balances))
	for id, b := range balances {
		l.balances[id] = b
	}
}

// Dump copies all balances out, used when writing a snapshot.
func (l *MemoryLedger) Dump() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int64, len(l.balances))
	for id, b := range l.balances {
		out[id] = b
	}
	return out
}
