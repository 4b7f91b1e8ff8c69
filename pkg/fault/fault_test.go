package fault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RPX2001/ecowatt-edge-gateway/pkg/store"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	l, err := New(st)
	require.NoError(t, err)
	return l
}

func TestRecordAppendsAndPersists(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.Record(ClassifyCRC("modbus", "crc mismatch", 3, 1000)))

	events := l.Events()
	require.Len(t, events, 1)
	assert.Equal(t, CRCError, events[0].Kind)

	counters := l.Counters()
	assert.Equal(t, 1, counters.Total)
	assert.Equal(t, 0, counters.Recovered)
}

func TestRingEvictsOldestAtCapacity(t *testing.T) {
	l := openTestLog(t)

	for i := 0; i < Capacity+5; i++ {
		require.NoError(t, l.Record(ClassifyUnknown("x", "event", int64(i))))
	}

	events := l.Events()
	require.Len(t, events, Capacity)
	// Oldest 5 were evicted; the remaining log starts at timestamp 5.
	assert.Equal(t, int64(5), events[0].TimestampMs)

	counters := l.Counters()
	assert.Equal(t, Capacity+5, counters.Total) // never decremented
}

func TestAmendRecoveryMarksInPlace(t *testing.T) {
	l := openTestLog(t)

	require.NoError(t, l.Record(ClassifyCRC("modbus", "crc mismatch", 1, 1000)))
	require.NoError(t, l.Record(ClassifyTimeout("modbus", "timeout", 0, 1001)))

	amended, err := l.AmendRecovery(CRCError, "modbus")
	require.NoError(t, err)
	assert.True(t, amended)

	events := l.Events()
	require.Len(t, events, 2) // amended in place, not appended
	assert.True(t, events[0].Recovered)

	counters := l.Counters()
	assert.Equal(t, 2, counters.Total)
	assert.Equal(t, 1, counters.Recovered)
}

func TestAmendRecoveryNoMatch(t *testing.T) {
	l := openTestLog(t)
	amended, err := l.AmendRecovery(OTAFault, "ota")
	require.NoError(t, err)
	assert.False(t, amended)
}

func TestResetClearsCountersNotRing(t *testing.T) {
	l := openTestLog(t)
	require.NoError(t, l.Record(ClassifyCRC("modbus", "crc", 0, 1)))

	require.NoError(t, l.Reset())

	assert.Equal(t, 0, l.Counters().Total)
	assert.Len(t, l.Events(), 1)
}

func TestHTTPRecoverable(t *testing.T) {
	assert.True(t, HTTPRecoverable(-1))
	assert.True(t, HTTPRecoverable(503))
	assert.False(t, HTTPRecoverable(404))
	assert.False(t, HTTPRecoverable(500))
}

func TestLogSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(dir)
	require.NoError(t, err)

	l, err := New(st)
	require.NoError(t, err)
	require.NoError(t, l.Record(ClassifyCRC("modbus", "crc", 0, 1)))
	require.NoError(t, st.Close())

	st2, err := store.Open(dir)
	require.NoError(t, err)
	defer st2.Close()

	l2, err := New(st2)
	require.NoError(t, err)
	assert.Len(t, l2.Events(), 1)
	assert.Equal(t, 1, l2.Counters().Total)
}
