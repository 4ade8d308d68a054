package journal

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/gofrs/flock"
)

const (
	appendAttempts = 3
	appendBackoff  = 200 * time.Millisecond

	writeLockWait = 2 * time.Second
	readLockWait  = 3 * time.Second
	lockRetryTick = 100 * time.Millisecond
)

// CSV is the file-backed journal. The file is shared across processes
// (engine as sole writer, dashboard as reader), so every access goes
// through an advisory flock: exclusive for appends, shared for reads,
// both with a bounded wait.
type CSV struct {
	path string
	lock *flock.Flock
}

// NewCSV opens (creating if needed) the event log at path and verifies
// it is writable.
func NewCSV(path string) (*CSV, error) {
	j := &CSV{
		path: path,
		lock: flock.New(path),
	}
	if err := j.ensureInitialized(); err != nil {
		return nil, err
	}
	return j, nil
}

// Path returns the backing file path.
func (j *CSV) Path() string { return j.path }

// ensureInitialized creates the log file with its header row if absent.
func (j *CSV) ensureInitialized() error {
	if _, err := os.Stat(j.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat journal: %w", err)
	}

	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			// Another process created it between the stat and here.
			return nil
		}
		return fmt.Errorf("create journal: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		return fmt.Errorf("write journal header: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write journal header: %w", err)
	}
	return nil
}

// Append writes one record under an exclusive lock, verifying the
// persisted header first. Transient contention is retried up to
// appendAttempts times with a short backoff; a schema mismatch is
// structural and surfaces immediately without writing anything.
func (j *CSV) Append(rec EventRecord) error {
	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(appendBackoff)
		}

		err := j.tryAppend(rec)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSchemaMismatch) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrWriteFailed, lastErr)
}

func (j *CSV) tryAppend(rec EventRecord) error {
	if err := j.ensureInitialized(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeLockWait)
	defer cancel()

	locked, err := j.lock.TryLockContext(ctx, lockRetryTick)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLockTimeout, err)
	}
	if !locked {
		return ErrLockTimeout
	}
	// The lock is released unconditionally, even when the write fails.
	defer j.lock.Unlock()

	if err := j.verifyHeader(); err != nil {
		return err
	}

	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open journal for append: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(encodeRecord(rec)); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("append record: %w", err)
	}
	return nil
}

// verifyHeader confirms the stored header row still matches the schema.
// A mismatched file belongs to some other consumer and must not be
// appended to or truncated.
func (j *CSV) verifyHeader() error {
	f, err := os.Open(j.path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	stored, err := r.Read()
	if err != nil {
		return fmt.Errorf("%w: unreadable header: %v", ErrSchemaMismatch, err)
	}
	if len(stored) != len(Header) {
		return ErrSchemaMismatch
	}
	for i := range Header {
		if stored[i] != Header[i] {
			return ErrSchemaMismatch
		}
	}
	return nil
}

// Tail returns up to limit most recent records matching filter, in
// chronological order. If the shared lock cannot be acquired within the
// bounded wait the read yields no data rather than blocking.
func (j *CSV) Tail(limit int, filter Filter) ([]EventRecord, error) {
	recs, err := j.readAll()
	if err != nil {
		return nil, err
	}

	var matched []EventRecord
	for _, rec := range recs {
		if filter.matches(rec) {
			matched = append(matched, rec)
		}
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

// LastEvent returns the most recent record, if any.
func (j *CSV) LastEvent() (EventRecord, bool, error) {
	recs, err := j.readAll()
	if err != nil {
		return EventRecord{}, false, err
	}
	if len(recs) == 0 {
		return EventRecord{}, false, nil
	}
	return recs[len(recs)-1], true, nil
}

func (j *CSV) readAll() ([]EventRecord, error) {
	if _, err := os.Stat(j.path); os.IsNotExist(err) {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), readLockWait)
	defer cancel()

	locked, err := j.lock.TryRLockContext(ctx, lockRetryTick)
	if err != nil || !locked {
		// Writer holds the file; report no data instead of blocking.
		return nil, nil
	}
	defer j.lock.Unlock()

	f, err := os.Open(j.path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var recs []EventRecord
	first := true
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read journal: %w", err)
		}
		if first {
			first = false
			continue
		}
		rec, ok := decodeRecord(row)
		if !ok {
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// Close is a no-op for the CSV backend; every append opens and closes
// the file so a crash never leaves a dangling handle.
func (j *CSV) Close() error { return nil }

func encodeRecord(rec EventRecord) []string {
	return []string{
		rec.SessionID,
		rec.Timestamp.Format(TimeLayout),
		rec.Symbol,
		ff(rec.Price),
		ff(rec.FairValue),
		ff(rec.Delta),
		rec.Signal,
		ff(rec.Value),
		rec.Action,
		ff(rec.PnL),
		rec.CloseReason,
		ff(rec.Equity),
	}
}

func decodeRecord(row []string) (EventRecord, bool) {
	if len(row) != len(Header) {
		return EventRecord{}, false
	}

	ts, err := time.ParseInLocation(TimeLayout, row[1], time.Local)
	if err != nil {
		return EventRecord{}, false
	}

	price, err1 := strconv.ParseFloat(row[3], 64)
	fair, err2 := strconv.ParseFloat(row[4], 64)
	delta, err3 := strconv.ParseFloat(row[5], 64)
	value, err4 := strconv.ParseFloat(row[7], 64)
	pnl, err5 := strconv.ParseFloat(row[9], 64)
	equity, err6 := strconv.ParseFloat(row[11], 64)
	for _, err := range []error{err1, err2, err3, err4, err5, err6} {
		if err != nil {
			return EventRecord{}, false
		}
	}

	return EventRecord{
		SessionID:   row[0],
		Timestamp:   ts,
		Symbol:      row[2],
		Price:       price,
		FairValue:   fair,
		Delta:       delta,
		Signal:      row[6],
		Value:       value,
		Action:      row[8],
		PnL:         pnl,
		CloseReason: row[10],
		Equity:      equity,
	}, true
}

func ff(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
