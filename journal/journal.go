// Package journal is the durable append-only event log. It is the single
// source of truth for historical reconstruction: cash, positions and
// equity are all derivable by replaying its records.
package journal

import (
	"errors"
	"time"
)

// TimeLayout is the wall-clock timestamp format used in records. The
// schema is stable and consumed by the external dashboard.
const TimeLayout = "2006-01-02 15:04:05"

// Header is the ordered column schema of the event log.
var Header = []string{
	"session_id", "timestamp", "symbol", "price", "bue", "delta",
	"signal", "value_estimate", "action", "pnl", "close_reason", "equity",
}

// Action vocabulary for the action column.
const (
	ActionScan      = "SCAN"
	ActionOpen      = "OPEN"
	ActionCloseBuy  = "CLOSE_BUY"
	ActionCloseSell = "CLOSE_SELL"
	ActionDeposit   = "DEPOSIT"
	ActionShutdown  = "SHUTDOWN"
)

// Close reason vocabulary for the close_reason column.
const (
	ReasonNA           = "N/A"
	ReasonTrailingStop = "TRAILING_STOP"
	ReasonStopLoss     = "STOP_LOSS"
	ReasonTakeProfit   = "TAKE_PROFIT"
	ReasonTimedExit    = "TIMED_EXIT"
	ReasonGraceful     = "GRACEFUL"
)

var (
	// ErrSchemaMismatch means the persisted header does not match the
	// expected schema; the write was abandoned and nothing was changed.
	ErrSchemaMismatch = errors.New("journal: header schema mismatch")

	// ErrWriteFailed means an append could not be made durable after
	// bounded retries. Callers decide whether the event was
	// best-effort telemetry or must-not-lose.
	ErrWriteFailed = errors.New("journal: write failed after retries")

	// ErrLockTimeout means a shared read lock could not be acquired
	// within the bounded wait.
	ErrLockTimeout = errors.New("journal: lock acquisition timed out")
)

// EventRecord is one immutable row of the event log.
type EventRecord struct {
	SessionID   string
	Timestamp   time.Time
	Symbol      string
	Price       float64
	FairValue   float64 // the "bue" column: the engine's fair value estimate
	Delta       float64 // percent gap between fair value and price
	Signal      string  // BUY | SELL | HOLD | DEPOSIT | SHUTDOWN | CLOSE_*
	Value       float64 // meaning depends on action: scan estimate, net trade value, proceeds, or deposit amount
	Action      string
	PnL         float64
	CloseReason string
	Equity      float64
}

// Filter narrows Tail results. Zero values match everything.
type Filter struct {
	Symbol string
	Action string
}

func (f Filter) matches(rec EventRecord) bool {
	if f.Symbol != "" && rec.Symbol != f.Symbol {
		return false
	}
	if f.Action != "" && rec.Action != f.Action {
		return false
	}
	return true
}

// Journal is the append-only event log contract. Appends are durable
// once they return nil; reads never block indefinitely.
type Journal interface {
	Append(EventRecord) error
	Tail(limit int, filter Filter) ([]EventRecord, error)
	LastEvent() (EventRecord, bool, error)
	Close() error
}
