package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	j, err := NewSQLite(filepath.Join(t.TempDir(), "events.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func TestSQLiteAppendAndTail(t *testing.T) {
	j := newTestSQLite(t)

	require.NoError(t, j.Append(testRecord("BTC", ActionScan)))
	require.NoError(t, j.Append(testRecord("BTC", ActionOpen)))
	require.NoError(t, j.Append(testRecord("ETH", ActionScan)))

	recs, err := j.Tail(0, Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, ActionScan, recs[0].Action)
	assert.Equal(t, "ETH", recs[2].Symbol)
}

func TestSQLiteTailFilters(t *testing.T) {
	j := newTestSQLite(t)

	require.NoError(t, j.Append(testRecord("BTC", ActionScan)))
	require.NoError(t, j.Append(testRecord("BTC", ActionOpen)))
	require.NoError(t, j.Append(testRecord("ETH", ActionScan)))

	recs, err := j.Tail(0, Filter{Symbol: "BTC", Action: ActionOpen})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, ActionOpen, recs[0].Action)

	limited, err := j.Tail(2, Filter{})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "ETH", limited[1].Symbol, "limit keeps the most recent rows")
}

func TestSQLiteLastEvent(t *testing.T) {
	j := newTestSQLite(t)

	_, ok, err := j.LastEvent()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, j.Append(testRecord("BTC", ActionScan)))
	rec := testRecord("SYSTEM", ActionShutdown)
	rec.CloseReason = ReasonGraceful
	require.NoError(t, j.Append(rec))

	last, ok, err := j.LastEvent()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ActionShutdown, last.Action)
	assert.Equal(t, ReasonGraceful, last.CloseReason)
}

func TestSQLiteListSessions(t *testing.T) {
	j := newTestSQLite(t)

	a := testRecord("BTC", ActionScan)
	a.SessionID = "01AAAA"
	b := testRecord("BTC", ActionScan)
	b.SessionID = "01BBBB"

	require.NoError(t, j.Append(a))
	require.NoError(t, j.Append(b))
	require.NoError(t, j.Append(a))

	sessions, err := j.ListSessions()
	require.NoError(t, err)
	assert.Equal(t, []string{"01AAAA", "01BBBB"}, sessions)
}

func TestSQLiteListEventsBetween(t *testing.T) {
	j := newTestSQLite(t)

	early := testRecord("BTC", ActionScan)
	early.Timestamp = time.Date(2026, 3, 14, 9, 0, 0, 0, time.Local)
	late := testRecord("BTC", ActionScan)
	late.Timestamp = time.Date(2026, 3, 14, 18, 0, 0, 0, time.Local)

	require.NoError(t, j.Append(early))
	require.NoError(t, j.Append(late))

	start := time.Date(2026, 3, 14, 0, 0, 0, 0, time.Local)
	noon := time.Date(2026, 3, 14, 12, 0, 0, 0, time.Local)

	morning, err := j.ListEventsBetween(start, noon)
	require.NoError(t, err)
	require.Len(t, morning, 1)
	assert.Equal(t, early.Timestamp, morning[0].Timestamp)
}
