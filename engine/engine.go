// Package engine drives the simulation: one loop that pulls prices,
// scores each symbol, opens and closes virtual positions and records
// every transition in the journal.
package engine

import (
	"context"
	"math/rand"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rustyeddy/spiralbot/journal"
	"github.com/rustyeddy/spiralbot/portfolio"
	"github.com/rustyeddy/spiralbot/signal"
)

// PriceFeed is the market data collaborator. Implementations return an
// empty map on any transport or parsing failure.
type PriceFeed interface {
	FetchPrices(ctx context.Context, limit int) (map[string]float64, error)
}

// State is the orchestrator lifecycle state.
type State int32

const (
	Starting State = iota
	Running
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case ShuttingDown:
		return "SHUTTING_DOWN"
	case Stopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Params wires an Engine.
type Params struct {
	Feed        PriceFeed
	Journal     journal.Journal
	Log         *zap.Logger
	Rules       portfolio.Rules
	InitialCash float64
	TopN        int
	Interval    time.Duration
	Session     string
	Rand        *rand.Rand // seedable noise source; nil picks a time-based seed
}

// Engine owns all mutable simulation state for one running session.
// A single goroutine drives Run; other goroutines may only call
// State() and Deposit().
type Engine struct {
	feed     PriceFeed
	journal  *trackedJournal
	log      *zap.Logger
	gen      *signal.Generator
	manager  *portfolio.Manager
	session  string
	topN     int
	interval time.Duration
	now      func() time.Time

	state atomic.Int32
}

func New(p Params) *Engine {
	rng := p.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("session_id", p.Session))

	tj := &trackedJournal{inner: p.Journal}
	ledger := portfolio.NewLedger(p.InitialCash, tj, p.Session)
	manager := portfolio.NewManager(p.Rules, ledger, tj, p.Session)

	e := &Engine{
		feed:     p.Feed,
		journal:  tj,
		log:      log,
		gen:      signal.NewGenerator(signal.NewHistory(), rng),
		manager:  manager,
		session:  p.Session,
		topN:     p.TopN,
		interval: p.Interval,
		now:      time.Now,
	}
	e.state.Store(int32(Starting))
	return e
}

// State reports the current lifecycle state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

// Session returns the running session identifier.
func (e *Engine) Session() string { return e.session }

// Deposit credits simulated funds and records the deposit. Deposits are
// must-not-lose: a journal failure is returned to the caller.
func (e *Engine) Deposit(amount float64) error {
	return e.manager.Ledger().Deposit(amount)
}

// Manager exposes the position manager, for tests and the control
// surface. Callers must not mutate positions concurrently with Run.
func (e *Engine) Manager() *portfolio.Manager { return e.manager }

// Run executes the cycle loop until ctx is cancelled. Cancellation is
// cooperative: the current symbol's decision and any journal write in
// flight complete before the engine shuts down.
func (e *Engine) Run(ctx context.Context) error {
	e.state.Store(int32(Running))
	e.log.Info("simulation started",
		zap.Float64("initial_cash", e.manager.Ledger().Cash()),
		zap.Duration("interval", e.interval))

	cycle := 0
	for {
		if ctx.Err() != nil {
			return e.shutdown()
		}

		start := e.now()
		cycle++

		prices, err := e.feed.FetchPrices(ctx, e.topN)
		if err != nil || len(prices) == 0 {
			if ctx.Err() != nil {
				return e.shutdown()
			}
			// Feed unavailable: skip the cycle without touching
			// positions or the ledger.
			e.log.Warn("no price data, skipping cycle",
				zap.Int("cycle", cycle), zap.Error(err))
			if !e.sleep(ctx, e.interval) {
				return e.shutdown()
			}
			continue
		}

		e.runCycle(ctx, cycle, prices)

		e.log.Info("cycle complete",
			zap.Int("cycle", cycle),
			zap.Duration("duration", e.now().Sub(start)),
			zap.Int("positions", e.manager.OpenCount()),
			zap.Float64("cash", e.manager.Ledger().Cash()),
			zap.Float64("equity", e.manager.Ledger().Equity()))

		if !e.sleep(ctx, e.interval-e.now().Sub(start)) {
			return e.shutdown()
		}
	}
}

// runCycle scores every symbol in the snapshot, attempts entries,
// evaluates exits and appends one SCAN record per symbol.
func (e *Engine) runCycle(ctx context.Context, cycle int, prices map[string]float64) {
	symbols := make([]string, 0, len(prices))
	for s := range prices {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		// Finish the current symbol's atomic step, then stop.
		if ctx.Err() != nil {
			return
		}

		price := prices[symbol]
		if price <= 0 {
			continue
		}

		fair := e.gen.FairValue(symbol, price)
		kind, delta := e.gen.Classify(price, fair)

		if kind != signal.Hold {
			opened, err := e.manager.TryOpen(symbol, kind, price, delta)
			if err != nil {
				e.log.Warn("open recorded with error",
					zap.String("symbol", symbol), zap.Error(err))
			}
			if opened {
				e.log.Info("opened position",
					zap.String("symbol", symbol),
					zap.String("side", string(kind)),
					zap.Float64("price", price),
					zap.Float64("delta_pct", delta))
			}
		}

		pnl, action, reason, err := e.manager.Manage(prices)
		if err != nil {
			e.log.Warn("close recorded with error",
				zap.String("symbol", symbol), zap.Error(err))
		}
		if action != "NONE" {
			e.log.Info("closed position",
				zap.String("action", action),
				zap.String("reason", reason),
				zap.Float64("pnl", pnl))
		}

		equity := e.manager.Equity(prices)

		scanAction := action
		if scanAction == "NONE" {
			scanAction = journal.ActionScan
		}

		// The per-symbol value estimate mirrors the historical log
		// format: the symbol's cash share scaled by its delta.
		estimate := e.manager.Ledger().Cash() / float64(len(prices)) * (1 + delta/100)

		rec := journal.EventRecord{
			SessionID:   e.session,
			Timestamp:   e.now(),
			Symbol:      symbol,
			Price:       price,
			FairValue:   fair,
			Delta:       delta,
			Signal:      string(kind),
			Value:       estimate,
			Action:      scanAction,
			PnL:         pnl,
			CloseReason: reason,
			Equity:      equity,
		}
		if err := e.journal.Append(rec); err != nil {
			// Scan rows are best-effort telemetry.
			e.log.Warn("scan not recorded",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

// shutdown transitions to ShuttingDown, writes a final snapshot if this
// run has not persisted any event yet, and stops.
func (e *Engine) shutdown() error {
	e.state.Store(int32(ShuttingDown))
	defer e.state.Store(int32(Stopped))

	var err error
	if !e.journal.recorded() {
		err = e.journal.Append(journal.EventRecord{
			SessionID:   e.session,
			Timestamp:   e.now(),
			Symbol:      "SYSTEM",
			Signal:      journal.ActionShutdown,
			Action:      journal.ActionShutdown,
			CloseReason: journal.ReasonGraceful,
			Equity:      e.manager.Ledger().Equity(),
		})
		if err != nil {
			e.log.Error("final snapshot not recorded", zap.Error(err))
		}
	}

	e.log.Info("shutdown complete",
		zap.Float64("equity", e.manager.Ledger().Equity()))
	return err
}

// sleep waits for d or until cancellation; it reports false when the
// engine should shut down.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		// Never sleep negative; still yield a cancellation check.
		if ctx.Err() != nil {
			return false
		}
		return true
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// trackedJournal remembers whether any append has been made durable
// this run, so shutdown knows if a final snapshot is still owed.
type trackedJournal struct {
	inner journal.Journal
	saved atomic.Bool
}

func (t *trackedJournal) Append(rec journal.EventRecord) error {
	err := t.inner.Append(rec)
	if err == nil {
		t.saved.Store(true)
	}
	return err
}

func (t *trackedJournal) Tail(limit int, f journal.Filter) ([]journal.EventRecord, error) {
	return t.inner.Tail(limit, f)
}

func (t *trackedJournal) LastEvent() (journal.EventRecord, bool, error) {
	return t.inner.LastEvent()
}

func (t *trackedJournal) Close() error { return t.inner.Close() }

func (t *trackedJournal) recorded() bool { return t.saved.Load() }
