package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(symbol, action string) EventRecord {
	return EventRecord{
		SessionID:   "01TESTSESSION",
		Timestamp:   time.Date(2026, 3, 14, 9, 30, 0, 0, time.Local),
		Symbol:      symbol,
		Price:       100.5,
		FairValue:   102.13,
		Delta:       1.62,
		Signal:      "BUY",
		Value:       49.95,
		Action:      action,
		PnL:         0,
		CloseReason: ReasonNA,
		Equity:      1000,
	}
}

func TestCSVCreatesFileWithHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")

	_, err := NewCSV(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(Header, ","), strings.TrimSpace(string(data)))
}

func TestCSVAppendAndTail(t *testing.T) {
	j, err := NewCSV(filepath.Join(t.TempDir(), "events.csv"))
	require.NoError(t, err)

	require.NoError(t, j.Append(testRecord("BTC", ActionScan)))
	require.NoError(t, j.Append(testRecord("ETH", ActionScan)))
	require.NoError(t, j.Append(testRecord("BTC", ActionOpen)))

	recs, err := j.Tail(0, Filter{})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "BTC", recs[0].Symbol)
	assert.Equal(t, ActionOpen, recs[2].Action)
	assert.Equal(t, 102.13, recs[0].FairValue)
	assert.Equal(t, "2026-03-14 09:30:00", recs[0].Timestamp.Format(TimeLayout))
}

func TestCSVTailFilterAndLimit(t *testing.T) {
	j, err := NewCSV(filepath.Join(t.TempDir(), "events.csv"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(testRecord("BTC", ActionScan)))
	}
	require.NoError(t, j.Append(testRecord("ETH", ActionOpen)))

	bySymbol, err := j.Tail(0, Filter{Symbol: "ETH"})
	require.NoError(t, err)
	require.Len(t, bySymbol, 1)
	assert.Equal(t, ActionOpen, bySymbol[0].Action)

	byAction, err := j.Tail(0, Filter{Action: ActionScan})
	require.NoError(t, err)
	assert.Len(t, byAction, 5)

	limited, err := j.Tail(2, Filter{})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestCSVLastEvent(t *testing.T) {
	j, err := NewCSV(filepath.Join(t.TempDir(), "events.csv"))
	require.NoError(t, err)

	_, ok, err := j.LastEvent()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, j.Append(testRecord("BTC", ActionScan)))
	require.NoError(t, j.Append(testRecord("ETH", ActionDeposit)))

	last, ok, err := j.LastEvent()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ActionDeposit, last.Action)
}

func TestCSVHeaderMismatchAbandonsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")

	foreign := "some,other,schema\n1,2,3\n"
	require.NoError(t, os.WriteFile(path, []byte(foreign), 0644))

	j := &CSV{path: path, lock: flock.New(path)}
	err := j.Append(testRecord("BTC", ActionScan))
	require.ErrorIs(t, err, ErrSchemaMismatch)

	// Nothing was written and nothing was deleted.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, foreign, string(data))
}

func TestCSVAppendSurvivesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")

	j1, err := NewCSV(path)
	require.NoError(t, err)
	require.NoError(t, j1.Append(testRecord("BTC", ActionScan)))

	// Reopening must not truncate past records.
	j2, err := NewCSV(path)
	require.NoError(t, err)
	require.NoError(t, j2.Append(testRecord("ETH", ActionScan)))

	recs, err := j2.Tail(0, Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestCSVSkipsMalformedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.csv")

	j, err := NewCSV(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(testRecord("BTC", ActionScan)))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("garbage,row\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	recs, err := j.Tail(0, Filter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
