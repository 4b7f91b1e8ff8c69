// Package acquisition implements C6: each poll tick, issue a single
// read-holding-registers request covering the contiguous span of the
// selected register set, parse the response, and produce a Sample —
// retrying transient failures per §4.4's backoff policy and reporting
// permanent ones to the fault log.
package acquisition

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/RPX2001/ecowatt-edge-gateway/pkg/batch"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/fault"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/modbus"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/registers"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/transport"
)

// Retry policy constants from §4.4.
const (
	MaxCRCRetries       = 3
	MaxExceptionRetries = 2
	BaseBackoff         = 500 * time.Millisecond
	MaxBackoff          = 10 * time.Second
)

const originComponent = "acquisition"

// Stats tracks the acquisition pipeline's duty-cycle behaviour for the
// get_peripheral_stats command action.
type Stats struct {
	TicksTotal     uint64
	TicksSucceeded uint64
	TicksFailed    uint64
	LastOpenMs     int64
	CumulativeOpenMs int64
}

// Pipeline owns the serial shim, the inverter's slave id, the register
// map, and the fault log it reports to.
type Pipeline struct {
	shim     *transport.Shim
	slave    byte
	reg      *registers.Map
	faultLog *fault.Log

	mu    sync.Mutex
	stats Stats
}

// New builds a Pipeline. The serial port itself is opened and closed
// per-exchange by shim (§4.4's peripheral gating).
func New(shim *transport.Shim, slave byte, reg *registers.Map, faultLog *fault.Log) *Pipeline {
	return &Pipeline{shim: shim, slave: slave, reg: reg, faultLog: faultLog}
}

// Poll performs one acquisition tick over selected (an ordered subset
// of the register map). It returns nil, nil only if selected is empty.
func (p *Pipeline) Poll(ctx context.Context, selected []registers.Register, nowMs int64) (*batch.Sample, error) {
	if len(selected) == 0 {
		return nil, nil
	}

	start := time.Now()
	sample, err := p.poll(ctx, selected, nowMs)
	p.recordTick(err == nil, time.Since(start))
	return sample, err
}

func (p *Pipeline) poll(ctx context.Context, selected []registers.Register, nowMs int64) (*batch.Sample, error) {
	spanStart, quantity := registers.ContiguousSpan(selected)
	request := modbus.BuildReadHoldingRegisters(p.slave, spanStart, quantity)

	backoff := BaseBackoff
	crcRetries, excRetries := 0, 0
	recorded := false
	var recordedKind fault.Kind

	for {
		values, perr := p.exchange(ctx, request, quantity)
		if perr == nil {
			if recorded {
				_, _ = p.faultLog.AmendRecovery(recordedKind, originComponent)
			}
			return buildSample(selected, spanStart, values, nowMs), nil
		}

		var excErr *modbus.ExceptionError
		var crcErr *modbus.CRCError
		var frameErr *modbus.FrameError

		switch {
		case errors.As(perr, &excErr):
			if !excErr.Code.Recoverable() {
				ev := fault.ClassifyModbusException(originComponent, perr.Error(), byte(excErr.Code), uint8(excRetries), nowMs)
				_ = p.faultLog.Record(ev)
				return nil, perr
			}
			if !recorded {
				ev := fault.ClassifyModbusException(originComponent, perr.Error(), byte(excErr.Code), uint8(excRetries), nowMs)
				_ = p.faultLog.Record(ev)
				recorded, recordedKind = true, ev.Kind
			}
			if excRetries >= MaxExceptionRetries {
				return nil, perr
			}
			excRetries++

		case errors.As(perr, &crcErr):
			if !recorded {
				ev := fault.ClassifyCRC(originComponent, perr.Error(), uint8(crcRetries), nowMs)
				_ = p.faultLog.Record(ev)
				recorded, recordedKind = true, ev.Kind
			}
			if crcRetries >= MaxCRCRetries {
				return nil, perr
			}
			crcRetries++

		case errors.As(perr, &frameErr):
			// §4.9 groups a structurally impossible frame with CRC_ERROR's
			// recoverable-with-retry treatment, not MODBUS_TIMEOUT's.
			if !recorded {
				ev := fault.ClassifyCorruptFrame(originComponent, perr.Error(), uint8(crcRetries), nowMs)
				_ = p.faultLog.Record(ev)
				recorded, recordedKind = true, ev.Kind
			}
			if crcRetries >= MaxCRCRetries {
				return nil, perr
			}
			crcRetries++

		default:
			if !recorded {
				ev := fault.ClassifyTimeout(originComponent, perr.Error(), uint8(crcRetries), nowMs)
				_ = p.faultLog.Record(ev)
				recorded, recordedKind = true, ev.Kind
			}
			if crcRetries >= MaxCRCRetries {
				return nil, perr
			}
			crcRetries++
		}

		if err := sleepCtx(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
		if backoff > MaxBackoff {
			backoff = MaxBackoff
		}
	}
}

func (p *Pipeline) exchange(ctx context.Context, request []byte, quantity uint16) ([]uint16, error) {
	resp, err := p.shim.Exchange(ctx, request)
	if err != nil {
		return nil, err
	}
	return modbus.ParseReadHoldingRegistersResponse(resp, quantity)
}

func buildSample(selected []registers.Register, spanStart uint16, values []uint16, nowMs int64) *batch.Sample {
	m := make(map[registers.Id]uint16, len(selected))
	for _, r := range selected {
		m[r.Id] = values[r.Address-spanStart]
	}
	return &batch.Sample{Timestamp: nowMs, Values: m, RegisterSet: selected}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (p *Pipeline) recordTick(ok bool, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TicksTotal++
	if ok {
		p.stats.TicksSucceeded++
	} else {
		p.stats.TicksFailed++
	}
	ms := elapsed.Milliseconds()
	p.stats.LastOpenMs = ms
	p.stats.CumulativeOpenMs += ms
}

// Stats returns a snapshot of the duty-cycle counters.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
