// Package clock implements C1: the ISR-to-flag-to-loop handoff model
// that turns five independent hardware timers into at-most-one-pending
// tokens served by a single-threaded dispatch loop.
//
// The only thing a real interrupt context is allowed to do is set a
// flag; everything else — reading registers, touching the persistent
// store, making network calls — happens later, synchronously, from
// Tick. This package models that boundary with a goroutine per timer
// that does nothing but flip an atomic.Bool on a ticker, and a Tick
// method that the coordinator calls from its own single loop.
package clock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Name is the closed set of timers from §4.1.
type Name string

const (
	Poll          Name = "poll"
	Upload        Name = "upload"
	ConfigSync    Name = "config_sync"
	CommandPoll   Name = "command_poll"
	FirmwareCheck Name = "firmware_check"
)

// DispatchOrder is §5's fixed per-tick dispatch order: poll -> command
// -> upload -> config -> firmware-check. A command that arrives gets
// written to the inverter before the next upload serialises the
// resulting reading.
var DispatchOrder = []Name{Poll, CommandPoll, Upload, ConfigSync, FirmwareCheck}

// DefaultPeriods are §4.1's default timer periods, overridden at
// runtime by §4.8's config syncer.
var DefaultPeriods = map[Name]time.Duration{
	Poll:          2 * time.Second,
	Upload:        15 * time.Second,
	ConfigSync:    5 * time.Second,
	CommandPoll:   10 * time.Second,
	FirmwareCheck: 60 * time.Second,
}

// HandlerBudget is the watchdog constraint from §4.1: a dispatched
// handler must not suspend past this.
const HandlerBudget = 2 * time.Second

// Handler is one timer's dispatch target. ctx is cancelled after
// HandlerBudget; a handler ignoring it overruns its slot and delays every
// handler after it, and the return of Tick itself, since Tick runs
// handlers sequentially on the caller's own goroutine (the coordinator's
// single logical worker).
type Handler func(ctx context.Context) error

type timerState struct {
	period  atomic.Int64 // nanoseconds
	pending atomic.Bool
	ticker  *time.Ticker
	stop    chan struct{}
	handler Handler
}

// Result reports what happened for one timer during a Tick call.
type Result struct {
	Name     Name
	Ran      bool
	Deferred bool // pending but skipped this tick (firmware-activation priority)
	Err      error
	Panic    any
}

// Scheduler owns the five timers and serves their tokens in
// DispatchOrder from Tick. The zero value is not usable; use New.
type Scheduler struct {
	mu      sync.Mutex
	timers  map[Name]*timerState
	started bool

	firmwareActivating atomic.Bool
}

// New constructs an empty Scheduler. Handlers are attached with
// Register before Start.
func New() *Scheduler {
	return &Scheduler{timers: make(map[Name]*timerState)}
}

// Register attaches handler to name with its default period. Must be
// called before Start.
func (s *Scheduler) Register(name Name, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &timerState{handler: handler}
	t.period.Store(int64(DefaultPeriods[name]))
	s.timers[name] = t
}

// Start spawns one goroutine per registered timer. Each goroutine's
// only job is to flip a flag on its own cadence — the ISR-equivalent
// boundary.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, t := range s.timers {
		t := t
		period := time.Duration(t.period.Load())
		t.ticker = time.NewTicker(period)
		t.stop = make(chan struct{})
		go func() {
			for {
				select {
				case <-t.ticker.C:
					// Firing while already pending coalesces: no work is
					// lost, the prior token is simply served once more.
					t.pending.Store(true)
				case <-t.stop:
					return
				}
			}
		}()
	}
}

// Stop halts every timer goroutine.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	for _, t := range s.timers {
		close(t.stop)
		t.ticker.Stop()
	}
	s.started = false
}

// SetPeriod atomically changes name's period and resets its ticker, so
// a config-sync apply (§4.8) takes effect without restarting the
// scheduler.
func (s *Scheduler) SetPeriod(name Name, period time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.timers[name]
	if !ok {
		return
	}
	t.period.Store(int64(period))
	if t.ticker != nil {
		t.ticker.Reset(period)
	}
}

// SetFirmwareActivating toggles the priority rule from §4.1: while
// true, a pending upload token is deferred (left pending, not
// dropped) rather than dispatched.
func (s *Scheduler) SetFirmwareActivating(activating bool) {
	s.firmwareActivating.Store(activating)
}

// Tick serves every currently-pending token in DispatchOrder,
// dispatching each to its handler synchronously. A handler panic is
// recovered and reported in the corresponding Result rather than
// propagated, so the caller can perform its own controlled-reboot
// policy without losing the rest of the tick.
func (s *Scheduler) Tick() []Result {
	var results []Result
	for _, name := range DispatchOrder {
		s.mu.Lock()
		t, ok := s.timers[name]
		s.mu.Unlock()
		if !ok {
			continue
		}
		if !t.pending.Load() {
			continue
		}
		if name == Upload && s.firmwareActivating.Load() {
			results = append(results, Result{Name: name, Deferred: true})
			continue
		}
		t.pending.Store(false)
		results = append(results, s.dispatch(name, t))
	}
	return results
}

func (s *Scheduler) dispatch(name Name, t *timerState) (result Result) {
	result.Name = name
	defer func() {
		if r := recover(); r != nil {
			result.Panic = r
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), HandlerBudget)
	defer cancel()
	result.Ran = true
	result.Err = t.handler(ctx)
	return result
}
