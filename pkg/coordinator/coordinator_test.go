package coordinator

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RPX2001/ecowatt-edge-gateway/pkg/acquisition"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/cloudclient"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/command"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/configsync"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/fault"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/modbus"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/ota"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/registers"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/security"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/store"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/transport"
)

const testSlave = 0x01

// framePort answers a single canned read response then reports a gap
// timeout, mirroring acquisition's own test doubles.
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
func (p *framePort) Close() error                    { return nil }
func (p *framePort) SetReadDeadline(time.Time) error { return nil }

// echoPort answers a write-single-register request by echoing it back,
// the way the inverter does.
type echoPort struct {
	written []byte
	read    bool
}

func (p *echoPort) Write(b []byte) (int, error) {
	p.written = append([]byte(nil), b...)
	return len(b), nil
}
func (p *echoPort) Read(b []byte) (int, error) {
	if p.read {
		return 0, errors.New("no more data")
	}
	p.read = true
	return copy(b, p.written), nil
}
func (p *echoPort) Close() error                    { return nil }
func (p *echoPort) SetReadDeadline(time.Time) error { return nil }

// portQueue serves a fixed sequence of ports, one per Exchange, the
// shape transport.Shim's peripheral-gating contract expects.
type portQueue struct {
	mu    sync.Mutex
	ports []transport.Port
	calls int
}

func (q *portQueue) open() (transport.Port, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.calls >= len(q.ports) {
		return nil, errors.New("portQueue: out of canned ports")
	}
	p := q.ports[q.calls]
	q.calls++
	return p, nil
}

func buildReadFrame(values []uint16) []byte {
	body := []byte{testSlave, modbus.FuncReadHoldingRegisters, byte(len(values) * 2)}
	for _, v := range values {
		body = append(body, byte(v>>8), byte(v))
	}
	crc := modbus.CRC16(body)
	return append(body, byte(crc), byte(crc>>8))
}

// testHarness bundles a Coordinator wired against an in-memory store, a
// scripted Modbus peripheral, and an httptest cloud collector that
// speaks the same security envelope the device does.
type testHarness struct {
	t       *testing.T
	coord   *Coordinator
	ports   *portQueue
	srv     *httptest.Server
	srvSec  *security.State // the "cloud"'s mirror of the shared PSK material

	mu             sync.Mutex
	uploadsReceived [][]byte
	commandResults  []command.Command
	configAcks      []configsync.Acknowledgement

	configDoc   atomic.Value // configsync.Document, served by /config
	pendingCmds atomic.Value // []command.Command, served by /commands/pending
}

func newTestHarness(t *testing.T, ports []transport.Port) *testHarness {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	reg := registers.Default()
	fl, err := fault.New(st)
	require.NoError(t, err)

	pq := &portQueue{ports: ports}
	shim := transport.NewShim(pq.open)
	acq := acquisition.New(shim, testSlave, reg, fl)

	var pskHMAC [32]byte
	var pskCipher [16]byte
	copy(pskHMAC[:], []byte("shared-hmac-key-for-gateway-test"))
	copy(pskCipher[:], []byte("shared-cipher16-"))
	deviceSec := security.NewState(pskHMAC, pskCipher)
	srvSec := security.NewState(pskHMAC, pskCipher)
	srvSec.NextNonce = 50_000

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	var imageKey [16]byte
	otaEngine, err := ota.New(st, fl, &priv.PublicKey, imageKey, func(string) ota.Partition { return nil })
	require.NoError(t, err)

	h := &testHarness{t: t, ports: pq, srvSec: srvSec}
	h.configDoc.Store(configsync.Document{})
	h.pendingCmds.Store([]command.Command{})

	mux := http.NewServeMux()
	mux.HandleFunc("/config/gw-1", h.handleConfig)
	mux.HandleFunc("/config/gw-1/acknowledge", h.handleConfigAck)
	mux.HandleFunc("/commands/pending", h.handlePendingCommands)
	mux.HandleFunc("/commands/", h.handleCommandResult)
	mux.HandleFunc("/process", h.handleUpload)
	mux.HandleFunc("/firmware/check", h.handleFirmwareCheckUnavailable)
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)

	cloud := cloudclient.New(h.srv.Client(), h.srv.URL, "gw-1")

	coord, err := New(Deps{
		Store:       st,
		Registers:   reg,
		FaultLog:    fl,
		Acquisition: acq,
		Cloud:       cloud,
		Security:    deviceSec,
		CommandDeps: command.Deps{Shim: shim, Slave: testSlave, Registers: reg, FaultLog: fl, Acquisition: acq},
		OTA:         otaEngine,
	})
	require.NoError(t, err)
	h.coord = coord
	return h
}

func (h *testHarness) writeEnvelope(w http.ResponseWriter, body any) {
	plaintext, err := json.Marshal(body)
	require.NoError(h.t, err)
	env, err := security.Wrap(h.srvSec, plaintext, true, nil)
	require.NoError(h.t, err)
	w.Header().Set("Content-Type", "application/json")
	require.NoError(h.t, json.NewEncoder(w).Encode(env))
}

func (h *testHarness) handleConfig(w http.ResponseWriter, r *http.Request) {
	doc := h.configDoc.Load().(configsync.Document)
	h.writeEnvelope(w, map[string]any{"is_pending": true, "pending_config": doc})
}

func (h *testHarness) handleConfigAck(w http.ResponseWriter, r *http.Request) {
	var env security.Envelope
	require.NoError(h.t, json.NewDecoder(r.Body).Decode(&env))
	plaintext, _, err := security.Unwrap(h.srvSec, &env, 0)
	require.NoError(h.t, err)
	var ack configsync.Acknowledgement
	require.NoError(h.t, json.Unmarshal(plaintext, &ack))
	h.mu.Lock()
	h.configAcks = append(h.configAcks, ack)
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (h *testHarness) handlePendingCommands(w http.ResponseWriter, r *http.Request) {
	cmds := h.pendingCmds.Load().([]command.Command)
	h.pendingCmds.Store([]command.Command{}) // one delivery per poll, like a real queue drain
	h.writeEnvelope(w, cmds)
}

func (h *testHarness) handleCommandResult(w http.ResponseWriter, r *http.Request) {
	var env security.Envelope
	require.NoError(h.t, json.NewDecoder(r.Body).Decode(&env))
	plaintext, _, err := security.Unwrap(h.srvSec, &env, 0)
	require.NoError(h.t, err)
	var cmd command.Command
	require.NoError(h.t, json.Unmarshal(plaintext, &cmd))
	h.mu.Lock()
	h.commandResults = append(h.commandResults, cmd)
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (h *testHarness) handleUpload(w http.ResponseWriter, r *http.Request) {
	var env security.Envelope
	require.NoError(h.t, json.NewDecoder(r.Body).Decode(&env))
	plaintext, _, err := security.Unwrap(h.srvSec, &env, 0)
	require.NoError(h.t, err)
	h.mu.Lock()
	h.uploadsReceived = append(h.uploadsReceived, plaintext)
	h.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (h *testHarness) handleFirmwareCheckUnavailable(w http.ResponseWriter, r *http.Request) {
	h.writeEnvelope(w, map[string]any{"available": false})
}

func TestConfigSyncAppliesRegistersAndPeriods(t *testing.T) {
	h := newTestHarness(t, nil)
	h.configDoc.Store(configsync.Document{
		SamplingIntervalSec: intPtr(5),
		UploadIntervalSec:   intPtr(10),
		Registers:           []string{"Vac1", "Iac1"},
	})

	require.NoError(t, h.coord.configHandler(context.Background()))

	require.Len(t, h.configAcks, 1)
	assert.Equal(t, "applied", h.configAcks[0].Status)
	assert.ElementsMatch(t, []string{"Vac1", "Iac1"}, h.configAcks[0].Applied.RegisterNames)

	selected, err := configsync.SelectedRegisters(h.coord.st, h.coord.reg)
	require.NoError(t, err)
	assert.Len(t, selected, 2)
}

func TestPollBatchUploadHappyPath(t *testing.T) {
	frames := []transport.Port{
		&framePort{frame: buildReadFrame([]uint16{2300, 10})},
		&framePort{frame: buildReadFrame([]uint16{2310, 11})},
	}
	h := newTestHarness(t, frames)
	h.configDoc.Store(configsync.Document{
		SamplingIntervalSec: intPtr(5),
		UploadIntervalSec:   intPtr(10),
		Registers:           []string{"Vac1", "Iac1"},
	})

	ctx := context.Background()
	require.NoError(t, h.coord.configHandler(ctx))
	require.NoError(t, h.coord.pollHandler(ctx))
	assert.Equal(t, 0, h.coord.queue.Len())
	require.NoError(t, h.coord.pollHandler(ctx))
	assert.Equal(t, 1, h.coord.queue.Len(), "batch should flush to the queue once target size is reached")

	require.NoError(t, h.coord.uploadHandler(ctx))
	assert.Equal(t, 0, h.coord.queue.Len())

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.uploadsReceived, 1)
}

func TestCommandPollExecutesAndReportsResult(t *testing.T) {
	ports := []transport.Port{&echoPort{}}
	h := newTestHarness(t, ports)
	h.pendingCmds.Store([]command.Command{
		{ID: "cmd-1", Action: command.ActionSetPowerPercentage, Parameters: map[string]any{"percentage": 42.0}},
	})

	require.NoError(t, h.coord.commandHandler(context.Background()))

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Len(t, h.commandResults, 1)
	assert.Equal(t, command.Completed, h.commandResults[0].Status)
	assert.Equal(t, "cmd-1", h.commandResults[0].ID)
}

func TestRebootCommandSetsRebootRequested(t *testing.T) {
	h := newTestHarness(t, nil)
	h.pendingCmds.Store([]command.Command{{ID: "cmd-reboot", Action: command.ActionReboot}})

	require.NoError(t, h.coord.commandHandler(context.Background()))
	assert.True(t, h.coord.RebootRequested())
}

func TestFirmwareCheckNoUpdateStaysIdle(t *testing.T) {
	h := newTestHarness(t, nil)
	require.NoError(t, h.coord.firmwareHandler(context.Background()))
	assert.Equal(t, ota.StateIdle, h.coord.ota.State())
}

func intPtr(v int) *int { return &v }
