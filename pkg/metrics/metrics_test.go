package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersEveryCollector(t *testing.T) {
	m := New()
	require.NotNil(t, m.Registry())

	// The three label vectors have no children until first use and are
	// not gathered; the five unlabelled collectors yield one series each.
	count, err := testutil.GatherAndCount(m.Registry())
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestRecordFaultIncrementsByKind(t *testing.T) {
	m := New()
	m.RecordFault("transient_transport")
	m.RecordFault("transient_transport")
	m.RecordFault("crypto_failure")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.faultsTotal.WithLabelValues("transient_transport")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.faultsTotal.WithLabelValues("crypto_failure")))
}

func TestSetQueueDepthAndRejected(t *testing.T) {
	m := New()
	m.SetQueueDepth(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth))

	m.SetQueueDepth(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.queueDepth))

	m.RecordQueueRejected()
	m.RecordQueueRejected()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.queueRejectedTotal))
}

func TestObservePollLatencyAndPortOpen(t *testing.T) {
	m := New()
	m.ObservePollLatency(25 * time.Millisecond)
	m.RecordPortOpen(50 * time.Millisecond)
	m.RecordPortOpen(50 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.portOpenTotal))
}

func TestRecordUploadOutcome(t *testing.T) {
	m := New()
	m.RecordUpload(true)
	m.RecordUpload(true)
	m.RecordUpload(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.uploadsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploadsTotal.WithLabelValues("failure")))
}

func TestRecordOTATransition(t *testing.T) {
	m := New()
	m.RecordOTATransition("DOWNLOADING")
	m.RecordOTATransition("DOWNLOADING")
	m.RecordOTATransition("ACTIVE")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.otaTransitionsTotal.WithLabelValues("DOWNLOADING")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.otaTransitionsTotal.WithLabelValues("ACTIVE")))
}

func TestNilMetricsIsNoOp(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordFault("unknown")
		m.SetQueueDepth(1)
		m.RecordQueueRejected()
		m.ObservePollLatency(time.Millisecond)
		m.RecordPortOpen(time.Millisecond)
		m.RecordUpload(true)
		m.RecordOTATransition("ACTIVE")
		assert.Nil(t, m.Registry())
	})
}
