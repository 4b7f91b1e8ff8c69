package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetMissingKeyReturnsNotOk(t *testing.T) {
	s := openTestStore(t)

	v, ok, err := Get[uint32](s, Namespace, KeySecurityNextNonce)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, v)
}

func TestSetThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, Set(s, Namespace, KeySecurityNextNonce, uint32(10_042)))

	v, ok, err := Get[uint32](s, Namespace, KeySecurityNextNonce)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(10_042), v)
}

func TestGetOrDefaultUsesCompiledInDefault(t *testing.T) {
	s := openTestStore(t)

	v, err := GetOrDefault(s, Namespace, KeyPollPeriodUs, uint64(2_000_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(2_000_000), v)

	require.NoError(t, Set(s, Namespace, KeyPollPeriodUs, uint64(5_000_000)))
	v, err = GetOrDefault(s, Namespace, KeyPollPeriodUs, uint64(2_000_000))
	require.NoError(t, err)
	assert.Equal(t, uint64(5_000_000), v)
}

func TestDeleteRemovesKey(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, Set(s, Namespace, KeyOTAVersion, "1.0.5"))

	require.NoError(t, Delete(s, Namespace, KeyOTAVersion))

	_, ok, err := Get[string](s, Namespace, KeyOTAVersion)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteMissingKeyIsNotAnError(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, Delete(s, Namespace, "never_set"))
}

func TestCommitSyncs(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, Set(s, Namespace, KeyLastConfigHash, []byte{1, 2, 3}))
	assert.NoError(t, s.Commit())
}

func TestStructValueRoundTrip(t *testing.T) {
	type faultCounters struct {
		Total     int `json:"total"`
		Recovered int `json:"recovered"`
	}
	s := openTestStore(t)

	want := faultCounters{Total: 5, Recovered: 3}
	require.NoError(t, Set(s, Namespace, "fault_log.counters", want))

	got, ok, err := Get[faultCounters](s, Namespace, "fault_log.counters")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}
