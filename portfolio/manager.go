package portfolio

import (
	"math"
	"sort"
	"time"

	"github.com/rustyeddy/spiralbot/journal"
	"github.com/rustyeddy/spiralbot/signal"
)

// Rules are the entry constraints and exit parameters applied to every
// position. They are validated at startup and never change mid-run.
type Rules struct {
	RiskPerTrade     float64 // fraction of cash committed per trade
	ExecThresholdPct float64 // minimum |delta| to execute, stricter than signal generation
	MinTradeValue    float64 // trade notional floor
	FeeRate          float64 // applied on entry notional and exit proceeds
	MaxPositions     int
	TrailingStopPct  float64
	StopLossPct      float64
	TakeProfitPct    float64
	MaxHold          time.Duration
}

// Manager owns the open positions and orchestrates the lifecycle:
// entry sizing, per-cycle exit evaluation and fee-adjusted closes.
// It is driven from a single loop and is not safe for concurrent use.
type Manager struct {
	rules     Rules
	ledger    *Ledger
	journal   journal.Journal
	session   string
	now       func() time.Time
	positions map[string]*Position
}

func NewManager(rules Rules, ledger *Ledger, j journal.Journal, session string) *Manager {
	return &Manager{
		rules:     rules,
		ledger:    ledger,
		journal:   j,
		session:   session,
		now:       time.Now,
		positions: make(map[string]*Position),
	}
}

// SetClock overrides the time source, for deterministic tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
	m.ledger.now = now
}

// Ledger returns the portfolio ledger.
func (m *Manager) Ledger() *Ledger { return m.ledger }

// OpenCount returns the number of open positions.
func (m *Manager) OpenCount() int { return len(m.positions) }

// Position returns the open position for symbol, if any.
func (m *Manager) Position(symbol string) (Position, bool) {
	p, ok := m.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// TryOpen opens a position when the signal qualifies. Rejections leave
// all state untouched. On success cash is debited by the full notional
// (the entry fee is absorbed from it) and an OPEN record is appended;
// a journal failure does not roll the trade back but is surfaced.
func (m *Manager) TryOpen(symbol string, kind signal.Kind, price, deltaPct float64) (bool, error) {
	if kind != signal.Buy && kind != signal.Sell {
		return false, nil
	}
	if len(m.positions) >= m.rules.MaxPositions {
		return false, nil
	}
	if _, exists := m.positions[symbol]; exists {
		return false, nil
	}
	if math.Abs(deltaPct) <= m.rules.ExecThresholdPct {
		return false, nil
	}

	notional := m.ledger.Cash() * m.rules.RiskPerTrade
	if notional < m.rules.MinTradeValue {
		return false, nil
	}

	fee := notional * m.rules.FeeRate
	committed := notional - fee
	quantity := committed / price
	if quantity <= 0 {
		return false, nil
	}

	m.positions[symbol] = &Position{
		Symbol:     symbol,
		Side:       Side(kind),
		EntryPrice: price,
		Quantity:   quantity,
		PeakPrice:  price,
		OpenedAt:   m.now(),
		Committed:  committed,
	}
	m.ledger.debit(notional)

	err := m.journal.Append(journal.EventRecord{
		SessionID:   m.session,
		Timestamp:   m.now(),
		Symbol:      symbol,
		Price:       price,
		Delta:       deltaPct,
		Signal:      string(kind),
		Value:       committed,
		Action:      journal.ActionOpen,
		CloseReason: journal.ReasonNA,
		Equity:      m.Equity(map[string]float64{symbol: price}),
	})
	return true, err
}

// Manage evaluates exit rules for every open position against the price
// snapshot, in fixed priority order: trailing stop, hard stop loss,
// take profit, timed exit. The first satisfied rule closes that
// position and ends the pass, so at most one position closes per cycle.
// Downstream consumers depend on that ordering.
func (m *Manager) Manage(prices map[string]float64) (float64, string, string, error) {
	if len(m.positions) == 0 {
		return 0, "NONE", journal.ReasonNA, nil
	}

	symbols := make([]string, 0, len(m.positions))
	for s := range m.positions {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	now := m.now()
	for _, symbol := range symbols {
		pos := m.positions[symbol]

		price, ok := prices[symbol]
		if !ok {
			// Stale position: value at entry so it never trips a rule
			// from a missing snapshot.
			price = pos.EntryPrice
		}

		pos.updatePeak(price)

		if reason := m.exitReason(pos, price, now); reason != "" {
			return m.Close(symbol, price, reason)
		}
	}

	return 0, "NONE", journal.ReasonNA, nil
}

func (m *Manager) exitReason(pos *Position, price float64, now time.Time) string {
	long := pos.Side == Long

	if long && price <= pos.PeakPrice*(1-m.rules.TrailingStopPct) {
		return journal.ReasonTrailingStop
	}
	if !long && price >= pos.PeakPrice*(1+m.rules.TrailingStopPct) {
		return journal.ReasonTrailingStop
	}

	if long && price <= pos.EntryPrice*(1-m.rules.StopLossPct) {
		return journal.ReasonStopLoss
	}
	if !long && price >= pos.EntryPrice*(1+m.rules.StopLossPct) {
		return journal.ReasonStopLoss
	}

	if long && price >= pos.EntryPrice*(1+m.rules.TakeProfitPct) {
		return journal.ReasonTakeProfit
	}
	if !long && price <= pos.EntryPrice*(1-m.rules.TakeProfitPct) {
		return journal.ReasonTakeProfit
	}

	if now.Sub(pos.OpenedAt) >= m.rules.MaxHold {
		return journal.ReasonTimedExit
	}

	return ""
}

// Close realizes the position at price. Longs liquidate at market, so
// proceeds are quantity×price; shorts return their committed value net
// of the buy-back cost. The exit fee applies to proceeds in both cases.
// Returns the net realized P&L and the close action label.
func (m *Manager) Close(symbol string, price float64, reason string) (float64, string, string, error) {
	pos, ok := m.positions[symbol]
	if !ok {
		return 0, "NONE", reason, nil
	}

	var proceeds, pnl float64
	if pos.Side == Long {
		proceeds = pos.Quantity * price
		pnl = proceeds - pos.Committed
	} else {
		proceeds = pos.Committed
		cost := pos.Quantity * price
		pnl = proceeds - cost
	}

	exitFee := proceeds * m.rules.FeeRate
	netPnL := pnl - exitFee

	m.ledger.credit(proceeds - exitFee)
	delete(m.positions, symbol)

	action := pos.Side.CloseAction()
	err := m.journal.Append(journal.EventRecord{
		SessionID:   m.session,
		Timestamp:   m.now(),
		Symbol:      symbol,
		Price:       price,
		Signal:      action,
		Value:       proceeds,
		Action:      action,
		PnL:         netPnL,
		CloseReason: reason,
		Equity:      m.Equity(map[string]float64{symbol: price}),
	})
	return netPnL, action, reason, err
}

// Equity values the portfolio against the price snapshot: cash plus the
// unrealized P&L of every open position. Symbols absent from the
// snapshot fall back to their entry price, so stale positions value at
// zero unrealized P&L instead of failing. The result is stored on the
// ledger as the last known equity.
func (m *Manager) Equity(prices map[string]float64) float64 {
	unrealized := 0.0
	for symbol, pos := range m.positions {
		price, ok := prices[symbol]
		if !ok {
			price = pos.EntryPrice
		}
		unrealized += pos.UnrealizedPnL(price)
	}

	equity := m.ledger.Cash() + unrealized
	m.ledger.setEquity(equity)
	return equity
}
