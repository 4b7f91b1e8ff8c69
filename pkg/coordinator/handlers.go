package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/RPX2001/ecowatt-edge-gateway/internal/logger"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/batch"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/clock"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/command"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/configsync"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/fault"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/ota"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/registers"
)

// pollHandler is the Poll timer's handler: acquire one sample over the
// currently selected register set, append it to the in-flight batch,
// and flush (compress + enqueue) once it reaches target size.
func (c *Coordinator) pollHandler(ctx context.Context) error {
	selected, err := configsync.SelectedRegisters(c.st, c.reg)
	if err != nil {
		return err
	}

	sample, err := c.acq.Poll(ctx, selected, nowMs())
	if err != nil {
		return err
	}
	if stats := c.acq.Stats(); stats.TicksTotal > 0 {
		latency := time.Duration(stats.LastOpenMs) * time.Millisecond
		c.metrics.ObservePollLatency(latency)
		c.metrics.RecordPortOpen(latency)
	}
	if sample == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureBatchLocked(selected); err != nil {
		return err
	}
	c.current.Append(*sample)
	if c.current.Full() {
		return c.flushLocked()
	}
	return nil
}

// ensureBatchLocked swaps in a fresh batch whenever the selected
// register set no longer matches the in-flight one (a config-sync
// register change), flushing whatever was accumulated under the old
// set first so no sample is silently dropped.
func (c *Coordinator) ensureBatchLocked(selected []registers.Register) error {
	if c.current != nil && sameRegisterSet(c.current.RegisterSet, selected) {
		return nil
	}
	if c.current != nil && len(c.current.Samples) > 0 {
		if err := c.flushLocked(); err != nil {
			return err
		}
	}
	target, err := c.targetSize()
	if err != nil {
		return err
	}
	c.current = batch.New(selected, target)
	return nil
}

// flushLocked compresses the in-flight batch and enqueues it, resetting
// the batch in place. Caller must hold c.mu.
func (c *Coordinator) flushLocked() error {
	cb, err := batch.Compress(c.current, c.faultLog, nowMs())
	if err != nil {
		return err
	}
	c.current.Reset()
	if cb == nil {
		return nil
	}
	if _, ok := c.queue.TryEnqueue(cb); !ok {
		// §4.3 backpressure: retry the enqueue once before dropping the
		// batch from C7's hand-off slot.
		if _, ok := c.queue.TryEnqueue(cb); !ok {
			_ = c.faultLog.Record(batchOverflowEvent(nowMs()))
			c.metrics.RecordFault(string(fault.BufferOverflow))
			c.metrics.RecordQueueRejected()
		}
	}
	c.metrics.SetQueueDepth(c.queue.Len())
	return nil
}

func sameRegisterSet(a, b []registers.Register) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Id != b[i].Id {
			return false
		}
	}
	return true
}

// uploadHandler is the Upload timer's handler: send the queue's head
// entry and pop it only once the cloud has acknowledged receipt. A
// transport failure leaves the head in place (PeekHead never mutates
// the queue), preserving FIFO on the next tick.
func (c *Coordinator) uploadHandler(ctx context.Context) error {
	entry, ok := c.queue.PeekHead()
	if !ok {
		return nil
	}
	cb, ok := entry.Batch.(*batch.CompressedBatch)
	if !ok {
		return fmt.Errorf("coordinator: upload queue entry %d has unexpected payload type", entry.Seq)
	}

	wire := batch.Encode(cb)
	env, err := c.wrap(wire, true)
	if err != nil {
		return err
	}

	logger.DebugCtx(ctx, "uploading batch", logger.QueueDepth(c.queue.Len()), logger.SampleCount(int(cb.Header.SampleCount)))
	if _, status, err := c.cloud.Upload(ctx, env); err != nil {
		recordTransportFault(c.faultLog, c.metrics, err, status, nowMs())
		c.metrics.RecordUpload(false)
		return err
	}
	c.queue.PopHead()
	c.metrics.RecordUpload(true)
	c.metrics.SetQueueDepth(c.queue.Len())
	return nil
}

// commandHandler is the CommandPoll timer's handler: pull any pending
// commands, execute each against the Modbus peripheral, and report the
// outcome back to the cloud.
func (c *Coordinator) commandHandler(ctx context.Context) error {
	env, _, err := c.cloud.PendingCommands(ctx)
	if err != nil {
		return err
	}
	if env == nil {
		return nil
	}
	plaintext, err := c.unwrap(env)
	if err != nil {
		return err
	}

	var cmds []command.Command
	if err := json.Unmarshal(plaintext, &cmds); err != nil {
		return err
	}

	for _, cmd := range cmds {
		result := command.Execute(ctx, cmd, c.cmdDeps, nowMs())
		logger.InfoCtx(ctx, "command executed", logger.CommandID(result.Command.ID), logger.CommandAction(result.Command.Action), logger.CommandStatus(string(result.Command.Status)))

		body, err := marshalEnvelopeBody(result.Command)
		if err != nil {
			return err
		}
		outEnv, err := c.wrap(body, true)
		if err != nil {
			return err
		}
		if _, status, err := c.cloud.CommandResult(ctx, result.Command.ID, outEnv); err != nil {
			recordTransportFault(c.faultLog, c.metrics, err, status, nowMs())
			return err
		}
		if result.RebootRequested {
			c.mu.Lock()
			c.rebootRequested = true
			c.mu.Unlock()
		}
	}
	return nil
}

// pendingConfigWire is the §6.2 GET /config/{device_id} response shape.
type pendingConfigWire struct {
	IsPending     bool                 `json:"is_pending"`
	PendingConfig configsync.Document `json:"pending_config"`
}

// configHandler is the ConfigSync timer's handler: fetch the pending
// document (if any), validate+apply it as a single unit, retarget the
// timers and in-flight batch it affects, and acknowledge what actually
// took effect.
func (c *Coordinator) configHandler(ctx context.Context) error {
	env, _, err := c.cloud.FetchConfig(ctx)
	if err != nil {
		return err
	}
	if env == nil {
		return nil
	}
	plaintext, err := c.unwrap(env)
	if err != nil {
		return err
	}

	var wire pendingConfigWire
	if err := json.Unmarshal(plaintext, &wire); err != nil {
		return err
	}
	if !wire.IsPending {
		return nil
	}

	hash, err := configsync.Hash(wire.PendingConfig)
	if err != nil {
		return err
	}
	lastHash, seen, err := configsync.LastHash(c.st)
	if err != nil {
		return err
	}
	redelivered := seen && lastHash == hash

	applied, applyErr := configsync.Apply(c.st, c.reg, wire.PendingConfig)
	ack := configsync.Acknowledgement{Status: "applied", Applied: applied}
	if applyErr != nil {
		ack = configsync.Acknowledgement{Status: "rejected", Message: applyErr.Error()}
	} else if !redelivered {
		if err := configsync.StoreHash(c.st, hash); err != nil {
			return err
		}
		c.retarget(applied)
	}

	body, err := marshalEnvelopeBody(ack)
	if err != nil {
		return err
	}
	outEnv, err := c.wrap(body, true)
	if err != nil {
		return err
	}
	if _, status, err := c.cloud.AcknowledgeConfig(ctx, outEnv); err != nil {
		recordTransportFault(c.faultLog, c.metrics, err, status, nowMs())
		return err
	}
	return nil
}

// retarget pushes an applied config document's effects onto the
// scheduler's timer periods and the in-flight batch's target size /
// register set, per §4.8's "notify C1 for period changes, C6 for
// register-set changes" rule.
func (c *Coordinator) retarget(applied configsync.Applied) {
	c.sched.SetPeriod(clock.Poll, time.Duration(applied.PollPeriodUs)*time.Microsecond)
	c.sched.SetPeriod(clock.Upload, time.Duration(applied.UploadPeriodUs)*time.Microsecond)
	c.sched.SetPeriod(clock.ConfigSync, time.Duration(applied.ConfigPeriodUs)*time.Microsecond)
	c.sched.SetPeriod(clock.CommandPoll, time.Duration(applied.CommandPeriodUs)*time.Microsecond)
	c.sched.SetPeriod(clock.FirmwareCheck, time.Duration(applied.FirmwarePeriodUs)*time.Microsecond)

	c.mu.Lock()
	defer c.mu.Unlock()
	newTarget := batch.TargetSize(applied.PollPeriodUs, applied.UploadPeriodUs)
	if flushDue := c.current.Retarget(newTarget); flushDue {
		_ = c.flushLocked()
	}
}

// firmwareHandler is the FirmwareCheck timer's handler: it advances the
// OTA engine exactly one step per tick, matching the state machine's
// own granularity so a download's chunk fetches interleave with every
// other timer rather than blocking the loop for the download's whole
// duration.
func (c *Coordinator) firmwareHandler(ctx context.Context) error {
	before := c.ota.State()
	err := c.firmwareStep(ctx, before)
	if after := c.ota.State(); after != before {
		c.metrics.RecordOTATransition(string(after))
	}
	return err
}

func (c *Coordinator) firmwareStep(ctx context.Context, state ota.State) error {
	switch state {
	case ota.StateIdle:
		return c.firmwareBeginCheck(ctx)
	case ota.StateManifestOK:
		return c.ota.BeginDownload()
	case ota.StateDownloading:
		return c.firmwareReceiveNextChunk(ctx)
	case ota.StateVerifying:
		return c.ota.Verify(nowMs())
	case ota.StateActivating:
		return c.firmwareActivate(ctx)
	default:
		// VALIDATING is resolved by the on-boot self-check, not a tick;
		// DONE/FAILED settle back to IDLE inside the engine itself.
		return nil
	}
}

func (c *Coordinator) firmwareBeginCheck(ctx context.Context) error {
	ok, err := c.ota.BeginCheck()
	if err != nil || !ok {
		return err
	}
	currentVersion, err := ota.CurrentVersion(c.st)
	if err != nil {
		return err
	}

	env, _, err := c.cloud.FirmwareCheck(ctx, currentVersion)
	if err != nil {
		return err
	}
	if env == nil {
		return c.ota.CompleteCheck(false, "", currentVersion, nowMs())
	}
	plaintext, err := c.unwrap(env)
	if err != nil {
		return err
	}

	var resp struct {
		Available bool   `json:"available"`
		Version   string `json:"version"`
	}
	if err := json.Unmarshal(plaintext, &resp); err != nil {
		return err
	}
	if !resp.Available {
		return c.ota.CompleteCheck(false, "", currentVersion, nowMs())
	}

	manifestEnv, _, err := c.cloud.FirmwareManifest(ctx, resp.Version)
	if err != nil {
		return err
	}
	manifestPlaintext, err := c.unwrap(manifestEnv)
	if err != nil {
		return err
	}
	return c.ota.CompleteCheck(true, string(manifestPlaintext), currentVersion, nowMs())
}

func (c *Coordinator) firmwareReceiveNextChunk(ctx context.Context) error {
	index, ok := c.ota.NextChunkIndex()
	if !ok {
		return nil
	}
	session := c.ota.Session()

	env, _, err := c.cloud.FirmwareChunk(ctx, session.TargetVersion, index)
	if err != nil {
		return err
	}
	ciphertext, err := c.unwrap(env)
	if err != nil {
		return err
	}
	return c.ota.ReceiveChunk(index, ciphertext, nowMs())
}

// firmwareActivate honours §4.1's "activation wins over upload"
// priority rule: the upload timer's pending token is deferred for the
// duration of the swap, then released.
func (c *Coordinator) firmwareActivate(ctx context.Context) error {
	c.sched.SetFirmwareActivating(true)
	defer c.sched.SetFirmwareActivating(false)

	session := c.ota.Session()
	if err := c.ota.Activate(); err != nil {
		return err
	}

	body, err := marshalEnvelopeBody(struct {
		Status string `json:"status"`
	}{Status: "activated"})
	if err != nil {
		return err
	}
	env, err := c.wrap(body, true)
	if err != nil {
		return err
	}
	_, _, err = c.cloud.FirmwareActivated(ctx, session.TargetVersion, env)
	return err
}
