package portfolio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rustyeddy/spiralbot/journal"
)

// ErrInvalidAmount rejects deposits of zero or negative amounts.
var ErrInvalidAmount = errors.New("portfolio: deposit amount must be positive")

// Ledger tracks cash and the last computed equity. Cash is mutated by
// deposits, trade openings and trade closings only; equity is a derived
// value the Manager refreshes each cycle. Deposits may arrive from the
// dashboard's handler goroutines while the engine loop trades, so all
// balance access goes through the mutex.
type Ledger struct {
	journal journal.Journal
	session string
	now     func() time.Time

	mu     sync.Mutex
	cash   float64
	equity float64
}

func NewLedger(initialCash float64, j journal.Journal, session string) *Ledger {
	return &Ledger{
		journal: j,
		session: session,
		now:     time.Now,
		cash:    initialCash,
		equity:  initialCash,
	}
}

// Cash returns the uncommitted cash balance.
func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Equity returns the last computed portfolio value.
func (l *Ledger) Equity() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.equity
}

// Deposit credits cash and records the deposit synchronously. A deposit
// is must-not-lose: if the journal append fails the cash change stands
// but the error is surfaced so the caller can abort.
func (l *Ledger) Deposit(amount float64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: %.2f", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	l.cash += amount
	l.equity += amount
	equity := l.equity
	l.mu.Unlock()

	return l.journal.Append(journal.EventRecord{
		SessionID:   l.session,
		Timestamp:   l.now(),
		Symbol:      "SYSTEM",
		Signal:      journal.ActionDeposit,
		Value:       amount,
		Action:      journal.ActionDeposit,
		CloseReason: journal.ReasonNA,
		Equity:      equity,
	})
}

func (l *Ledger) debit(amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash -= amount
}

func (l *Ledger) credit(amount float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash += amount
}

func (l *Ledger) setEquity(v float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.equity = v
}
