// Package replay reruns recorded market snapshots through a fresh
// engine. Every scan the engine journals captures the full price view
// of one cycle, so an old log doubles as a tick source for what-if
// runs with different rules or a different noise seed.
package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/rustyeddy/spiralbot/journal"
)

// Snapshot is the reconstructed price view of one recorded cycle.
type Snapshot struct {
	At     time.Time
	Prices map[string]float64
}

// Load reads scan events from a journal and groups them into
// per-cycle snapshots, in chronological order. When session is
// non-empty only that session's scans are used.
func Load(j journal.Journal, session string) ([]Snapshot, error) {
	recs, err := j.Tail(0, journal.Filter{Action: journal.ActionScan})
	if err != nil {
		return nil, fmt.Errorf("read scan events: %w", err)
	}

	var snaps []Snapshot
	for _, rec := range recs {
		if session != "" && rec.SessionID != session {
			continue
		}
		if rec.Price <= 0 {
			continue
		}
		// Scans within one cycle share a timestamp, but timestamps are
		// second precision, so fast cycles can share one too. A symbol
		// is scanned once per cycle, so a repeat marks the next cycle.
		last := len(snaps) - 1
		newCycle := last < 0 || !snaps[last].At.Equal(rec.Timestamp)
		if !newCycle {
			_, newCycle = snaps[last].Prices[rec.Symbol]
		}
		if newCycle {
			snaps = append(snaps, Snapshot{
				At:     rec.Timestamp,
				Prices: make(map[string]float64),
			})
			last++
		}
		snaps[last].Prices[rec.Symbol] = rec.Price
	}

	if len(snaps) == 0 {
		return nil, fmt.Errorf("no scan events to replay")
	}
	return snaps, nil
}

// Feed serves loaded snapshots one per fetch. When the recording is
// exhausted it invokes done, which the caller wires to the run
// context's cancel so the engine shuts down cleanly.
type Feed struct {
	snapshots []Snapshot
	next      int
	done      context.CancelFunc
}

func NewFeed(snapshots []Snapshot, done context.CancelFunc) *Feed {
	return &Feed{snapshots: snapshots, done: done}
}

// FetchPrices returns the next recorded snapshot. The limit argument
// is ignored; the recording decides what each cycle saw.
func (f *Feed) FetchPrices(ctx context.Context, limit int) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.next >= len(f.snapshots) {
		if f.done != nil {
			f.done()
		}
		return nil, fmt.Errorf("recording exhausted after %d snapshots", len(f.snapshots))
	}
	snap := f.snapshots[f.next]
	f.next++
	return snap.Prices, nil
}

// Remaining reports how many snapshots have not been served yet.
func (f *Feed) Remaining() int {
	return len(f.snapshots) - f.next
}
