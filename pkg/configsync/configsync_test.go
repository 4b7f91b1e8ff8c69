package configsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RPX2001/ecowatt-edge-gateway/pkg/registers"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/store"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestValidateRejectsOutOfRange(t *testing.T) {
	reg := registers.Default()
	err := Validate(Document{SamplingIntervalSec: intPtr(0)}, reg)
	assert.Error(t, err)
}

func TestValidateRejectsTooManyRegisters(t *testing.T) {
	reg := registers.Default()
	names := []string{"Vac1", "Iac1", "Fac1", "Vpv1", "Vpv2", "Ipv1", "Ipv2", "Temperature", "Pac", "energy_today", "energy_total_low"}
	err := Validate(Document{Registers: names}, reg)
	assert.Error(t, err)
}

func TestValidateRejectsUnknownRegister(t *testing.T) {
	reg := registers.Default()
	err := Validate(Document{Registers: []string{"not_a_register"}}, reg)
	assert.Error(t, err)
}

func TestApplyAllOrNothingOnInvalidKey(t *testing.T) {
	st := testStore(t)
	reg := registers.Default()

	_, err := Apply(st, reg, Document{
		SamplingIntervalSec: intPtr(10),
		UploadIntervalSec:   intPtr(1), // out of [5,3600]
	})
	require.Error(t, err)

	poll, ok, err := store.Get[int64](st, store.Namespace, store.KeyPollPeriodUs)
	require.NoError(t, err)
	assert.False(t, ok, "no key should be written when validation fails")
	_ = poll
}

func TestApplyAppliesEveryRecognizedKey(t *testing.T) {
	st := testStore(t)
	reg := registers.Default()

	applied, err := Apply(st, reg, Document{
		SamplingIntervalSec:       intPtr(2),
		UploadIntervalSec:         intPtr(15),
		Registers:                 []string{"Vac1", "Pac"},
		PowerManagementEnabled:    boolPtr(true),
		PowerManagementTechniques: func() *uint8 { v := PeripheralGatingBit; return &v }(),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(2_000_000), applied.PollPeriodUs)
	assert.Equal(t, int64(15_000_000), applied.UploadPeriodUs)
	assert.ElementsMatch(t, []string{"Vac1", "Pac"}, applied.RegisterNames)
	assert.True(t, applied.PowerEnabled)
	assert.Equal(t, PeripheralGatingBit, applied.PowerTechniques)
}

func TestApplySameDocumentTwiceIsIdempotent(t *testing.T) {
	st := testStore(t)
	reg := registers.Default()
	doc := Document{SamplingIntervalSec: intPtr(3)}

	first, err := Apply(st, reg, doc)
	require.NoError(t, err)
	second, err := Apply(st, reg, doc)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestHashStableAcrossEqualDocuments(t *testing.T) {
	doc1 := Document{SamplingIntervalSec: intPtr(5)}
	doc2 := Document{SamplingIntervalSec: intPtr(5)}

	h1, err := Hash(doc1)
	require.NoError(t, err)
	h2, err := Hash(doc2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestLastHashRoundTrips(t *testing.T) {
	st := testStore(t)
	_, ok, err := LastHash(st)
	require.NoError(t, err)
	assert.False(t, ok)

	h, err := Hash(Document{SamplingIntervalSec: intPtr(1)})
	require.NoError(t, err)
	require.NoError(t, StoreHash(st, h))

	got, ok, err := LastHash(st)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, h, got)
}
