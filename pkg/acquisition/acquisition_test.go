package acquisition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RPX2001/ecowatt-edge-gateway/pkg/fault"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/modbus"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/registers"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/store"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/transport"
)

const testSlave = 0x01

func newTestFaultLog(t *testing.T) *fault.Log {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	l, err := fault.New(st)
	require.NoError(t, err)
	return l
}

func buildSuccessFrame(values []uint16) []byte {
	body := []byte{testSlave, modbus.FuncReadHoldingRegisters, byte(len(values) * 2)}
	for _, v := range values {
		body = append(body, byte(v>>8), byte(v))
	}
	crc := modbus.CRC16(body)
	return append(body, byte(crc), byte(crc>>8))
}

func buildExceptionFrame(code byte) []byte {
	body := []byte{testSlave, modbus.FuncReadHoldingRegisters | 0x80, code}
	crc := modbus.CRC16(body)
	return append(body, byte(crc), byte(crc>>8))
}

func buildGarbageFrame() []byte {
	return []byte{testSlave, modbus.FuncReadHoldingRegisters, 0x02, 0x00, 0x00, 0xDE, 0xAD}
}

// buildCorruptFrame has a valid CRC (so it passes verifyCRC) but a
// byte_count field that can't match any quantity, producing a
// *modbus.FrameError rather than a CRC mismatch.
func buildCorruptFrame() []byte {
	body := []byte{testSlave, modbus.FuncReadHoldingRegisters, 0xFF}
	crc := modbus.CRC16(body)
	return append(body, byte(crc), byte(crc>>8))
}

type framePort struct {
	frame []byte
	read  bool
}

func (p *framePort) Write([]byte) (int, error) { return 0, nil }
func (p *framePort) Read(b []byte) (int, error) {
	if !p.read {
		p.read = true
		return copy(b, p.frame), nil
	}
	return 0, errors.New("simulated gap timeout")
}
func (p *framePort) Close() error                          { return nil }
func (p *framePort) SetReadDeadline(time.Time) error { return nil }

type frameQueue struct {
	mu     sync.Mutex
	frames [][]byte
	calls  int
}

func (q *frameQueue) open() (transport.Port, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.calls >= len(q.frames) {
		return nil, errors.New("frameQueue: out of canned frames")
	}
	f := q.frames[q.calls]
	q.calls++
	return &framePort{frame: f}, nil
}

func testRegisterSet(t *testing.T) []registers.Register {
	t.Helper()
	set, err := registers.Default().Subset([]string{"Vac1", "Iac1"})
	require.NoError(t, err)
	return set
}

func TestPollSuccessBuildsSample(t *testing.T) {
	q := &frameQueue{frames: [][]byte{buildSuccessFrame([]uint16{2308, 10})}}
	p := New(transport.NewShim(q.open), testSlave, registers.Default(), newTestFaultLog(t))

	set := testRegisterSet(t)
	sample, err := p.Poll(context.Background(), set, 1_000)
	require.NoError(t, err)
	require.NotNil(t, sample)
	assert.Equal(t, uint16(2308), sample.Values[set[0].Id])
	assert.Equal(t, uint16(10), sample.Values[set[1].Id])
	assert.Equal(t, int64(1_000), sample.Timestamp)
}

func TestPollEmptySelectionIsNoop(t *testing.T) {
	p := New(transport.NewShim(func() (transport.Port, error) { return nil, errors.New("should not be called") }), testSlave, registers.Default(), newTestFaultLog(t))
	sample, err := p.Poll(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.Nil(t, sample)
}

func TestPollNonRecoverableExceptionNoRetry(t *testing.T) {
	q := &frameQueue{frames: [][]byte{buildExceptionFrame(0x02)}}
	fl := newTestFaultLog(t)
	p := New(transport.NewShim(q.open), testSlave, registers.Default(), fl)

	_, err := p.Poll(context.Background(), testRegisterSet(t), 0)
	require.Error(t, err)

	events := fl.Events()
	require.Len(t, events, 1)
	assert.Equal(t, fault.ModbusException, events[0].Kind)
	assert.False(t, events[0].Recovered)
	assert.Equal(t, 1, q.calls) // no retry
}

func TestPollRecoverableExceptionRetriesThenSucceeds(t *testing.T) {
	q := &frameQueue{frames: [][]byte{
		buildExceptionFrame(0x06),
		buildSuccessFrame([]uint16{100, 200}),
	}}
	fl := newTestFaultLog(t)
	p := New(transport.NewShim(q.open), testSlave, registers.Default(), fl)

	sample, err := p.Poll(context.Background(), testRegisterSet(t), 0)
	require.NoError(t, err)
	require.NotNil(t, sample)

	events := fl.Events()
	require.Len(t, events, 1)
	assert.True(t, events[0].Recovered) // amended in place, not appended
}

func TestPollCRCErrorExhaustsRetriesSingleEvent(t *testing.T) {
	frames := make([][]byte, MaxCRCRetries+1)
	for i := range frames {
		frames[i] = buildGarbageFrame()
	}
	q := &frameQueue{frames: frames}
	fl := newTestFaultLog(t)
	p := New(transport.NewShim(q.open), testSlave, registers.Default(), fl)

	_, err := p.Poll(context.Background(), testRegisterSet(t), 0)
	require.Error(t, err)

	events := fl.Events()
	require.Len(t, events, 1) // one event, not one per retry
	assert.False(t, events[0].Recovered)
	assert.Equal(t, MaxCRCRetries+1, q.calls)
}

func TestPollCorruptFrameClassifiedNotTimeout(t *testing.T) {
	frames := make([][]byte, MaxCRCRetries+1)
	for i := range frames {
		frames[i] = buildCorruptFrame()
	}
	q := &frameQueue{frames: frames}
	fl := newTestFaultLog(t)
	p := New(transport.NewShim(q.open), testSlave, registers.Default(), fl)

	_, err := p.Poll(context.Background(), testRegisterSet(t), 0)
	require.Error(t, err)

	var frameErr *modbus.FrameError
	require.True(t, errors.As(err, &frameErr))

	events := fl.Events()
	require.Len(t, events, 1)
	assert.Equal(t, fault.CorruptFrame, events[0].Kind)
	assert.False(t, events[0].Recovered)
	assert.Equal(t, MaxCRCRetries+1, q.calls)
}

func TestStatsTracksTicks(t *testing.T) {
	q := &frameQueue{frames: [][]byte{buildSuccessFrame([]uint16{1, 2})}}
	p := New(transport.NewShim(q.open), testSlave, registers.Default(), newTestFaultLog(t))

	_, err := p.Poll(context.Background(), testRegisterSet(t), 0)
	require.NoError(t, err)

	stats := p.Stats()
	assert.Equal(t, uint64(1), stats.TicksTotal)
	assert.Equal(t, uint64(1), stats.TicksSucceeded)
}
