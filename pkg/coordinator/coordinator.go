// Package coordinator implements C13: the task coordinator that owns
// every other component's handle and drives them from clock.Scheduler's
// single-threaded Tick loop. It is the only package that knows how the
// five timers, the security envelope, and the cloud wire protocol fit
// together — every component it calls into stays ignorant of the
// others, exactly as pkg/command, pkg/configsync and pkg/ota were built.
package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/RPX2001/ecowatt-edge-gateway/internal/gwerrors"
	"github.com/RPX2001/ecowatt-edge-gateway/internal/logger"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/acquisition"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/batch"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/clock"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/cloudclient"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/command"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/configsync"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/fault"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/metrics"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/ota"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/registers"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/security"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/store"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/uploadqueue"
)

const originComponent = "coordinator"

// AssociateWiFi associates with the wireless network, the hardware
// collaborator §1 leaves external to this module. Supplied by the
// caller; PostBootFirmwareCheck uses it for the §4.7 post-update
// self-check.
type AssociateWiFi func(ctx context.Context) error

// Deps bundles every subsystem handle the coordinator dispatches to.
// Each one is built and owned by the caller (normally cmd/'s bootstrap
// path); Coordinator only wires them together.
type Deps struct {
	Store       *store.Store
	Registers   *registers.Map
	FaultLog    *fault.Log
	Acquisition *acquisition.Pipeline
	Cloud       *cloudclient.Client
	Security    *security.State
	CommandDeps command.Deps
	OTA         *ota.Engine
	AssociateWiFi AssociateWiFi
	Metrics     *metrics.Metrics
}

// Coordinator is C13. The zero value is not usable; use New.
type Coordinator struct {
	st          *store.Store
	reg         *registers.Map
	faultLog    *fault.Log
	acq         *acquisition.Pipeline
	cloud       *cloudclient.Client
	sec         *security.State
	cmdDeps     command.Deps
	ota         *ota.Engine
	associateWiFi AssociateWiFi
	metrics     *metrics.Metrics

	sched *clock.Scheduler
	queue *uploadqueue.Queue

	mu      sync.Mutex
	current *batch.Batch

	rebootRequested bool
}

// New constructs a Coordinator, registers its five timer handlers on a
// fresh clock.Scheduler, and seeds the first in-flight batch from
// whatever register selection and periods are currently persisted.
func New(d Deps) (*Coordinator, error) {
	c := &Coordinator{
		st:            d.Store,
		reg:           d.Registers,
		faultLog:      d.FaultLog,
		acq:           d.Acquisition,
		cloud:         d.Cloud,
		sec:           d.Security,
		cmdDeps:       d.CommandDeps,
		ota:           d.OTA,
		associateWiFi: d.AssociateWiFi,
		metrics:       d.Metrics,
		sched:         clock.New(),
		queue:         uploadqueue.New(),
	}
	if c.associateWiFi == nil {
		c.associateWiFi = func(context.Context) error { return nil }
	}

	selected, err := configsync.SelectedRegisters(c.st, c.reg)
	if err != nil {
		return nil, err
	}
	target, err := c.targetSize()
	if err != nil {
		return nil, err
	}
	c.current = batch.New(selected, target)

	c.sched.Register(clock.Poll, c.pollHandler)
	c.sched.Register(clock.CommandPoll, c.commandHandler)
	c.sched.Register(clock.Upload, c.uploadHandler)
	c.sched.Register(clock.ConfigSync, c.configHandler)
	c.sched.Register(clock.FirmwareCheck, c.firmwareHandler)

	if err := c.applyPersistedPeriods(); err != nil {
		return nil, err
	}

	return c, nil
}

// Start runs the post-boot OTA self-check (if the persisted state is
// VALIDATING, per §4.7's on-boot handler) and then starts the
// scheduler's timer goroutines. It does not block; call Run for the
// dispatch loop itself.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.ota.State() == ota.StateValidating {
		if err := c.ota.PostBootSelfCheck(ctx, c.associateWiFi, c.uploadHandler, nowMs()); err != nil {
			return err
		}
	}
	c.sched.Start()
	return nil
}

// Stop halts the scheduler's timer goroutines.
func (c *Coordinator) Stop() {
	c.sched.Stop()
}

// Run drives Tick on the given cadence until ctx is cancelled, logging
// every result and honouring a handler panic as a controlled-reboot
// request (RebootRequested becomes true; the caller decides what a
// reboot means on its platform).
func (c *Coordinator) Run(ctx context.Context, tickEvery time.Duration) {
	ticker := time.NewTicker(tickEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, r := range c.sched.Tick() {
				c.logResult(ctx, r)
			}
		}
	}
}

// RebootRequested reports whether a command or a recovered handler
// panic has asked for a controlled reboot.
func (c *Coordinator) RebootRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebootRequested
}

func (c *Coordinator) logResult(ctx context.Context, r clock.Result) {
	lc := logger.NewLogContext(string(r.Name))
	tickCtx := logger.WithContext(ctx, lc)
	switch {
	case r.Panic != nil:
		logger.ErrorCtx(tickCtx, "handler panicked, controlled reboot requested", "panic", r.Panic)
		c.mu.Lock()
		c.rebootRequested = true
		c.mu.Unlock()
	case r.Err != nil:
		logger.ErrorCtx(tickCtx, "handler failed", logger.Err(r.Err), logger.ErrorCode(gwerrors.CodeOf(r.Err).String()))
	case r.Deferred:
		logger.InfoCtx(tickCtx, "handler deferred")
	case r.Ran:
		logger.DebugCtx(tickCtx, "handler completed", logger.DurationMs(lc.DurationMs()))
	}
}

func (c *Coordinator) targetSize() (uint8, error) {
	poll, err := store.GetOrDefault(c.st, store.Namespace, store.KeyPollPeriodUs, int64(2_000_000))
	if err != nil {
		return 0, err
	}
	upload, err := store.GetOrDefault(c.st, store.Namespace, store.KeyUploadPeriodUs, int64(15_000_000))
	if err != nil {
		return 0, err
	}
	return batch.TargetSize(poll, upload), nil
}

func (c *Coordinator) applyPersistedPeriods() error {
	periods := map[clock.Name]string{
		clock.Poll:          store.KeyPollPeriodUs,
		clock.Upload:        store.KeyUploadPeriodUs,
		clock.ConfigSync:    store.KeyConfigPeriodUs,
		clock.CommandPoll:   store.KeyCommandPeriodUs,
		clock.FirmwareCheck: store.KeyFirmwarePeriodUs,
	}
	for name, key := range periods {
		us, err := store.GetOrDefault(c.st, store.Namespace, key, int64(clock.DefaultPeriods[name]/time.Microsecond))
		if err != nil {
			return err
		}
		c.sched.SetPeriod(name, time.Duration(us)*time.Microsecond)
	}
	return nil
}

// wrap envelopes plaintext under the current security state, persisting
// the advanced nonce before returning so a crash never replays one.
func (c *Coordinator) wrap(plaintext []byte, encrypt bool) (*security.Envelope, error) {
	return security.Wrap(c.sec, plaintext, encrypt, func(next uint32) error {
		return store.Set(c.st, store.Namespace, store.KeySecurityNextNonce, next)
	})
}

// unwrap verifies and decrypts env against the persisted last-accepted
// inbound nonce, advancing and persisting it on success.
func (c *Coordinator) unwrap(env *security.Envelope) ([]byte, error) {
	last, err := store.GetOrDefault(c.st, store.Namespace, store.KeySecurityLastAcceptedNonce, uint32(0))
	if err != nil {
		return nil, err
	}
	plaintext, newLast, err := security.Unwrap(c.sec, env, last)
	if err != nil {
		return nil, err
	}
	if err := store.Set(c.st, store.Namespace, store.KeySecurityLastAcceptedNonce, newLast); err != nil {
		return nil, err
	}
	return plaintext, nil
}

// batchOverflowEvent reports the §4.3 backpressure drop: the producer's
// own drop policy (reject-newest, after one retry) is itself the
// recovery action, so this is always logged recovered.
func batchOverflowEvent(nowMs int64) fault.Event {
	return fault.ClassifyBufferOverflow(originComponent, "upload queue at capacity, compressed batch rejected", nowMs)
}

// recordTransportFault classifies an HTTP transport failure per §4.9:
// recoverable iff statusCode is -1 (no response) or 503.
func recordTransportFault(faultLog *fault.Log, m *metrics.Metrics, err error, statusCode int, nowMs int64) {
	_ = faultLog.Record(fault.ClassifyHTTPError(originComponent, err.Error(), statusCode, 0, nowMs))
	m.RecordFault(string(fault.HTTPError))
}

func marshalEnvelopeBody(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.PermanentConfig, originComponent, "marshal", err)
	}
	return body, nil
}

func nowMs() int64 { return time.Now().UnixMilli() }
