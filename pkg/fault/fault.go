// Package fault implements the fault classifier and bounded event log
// (C5): every raw failure from any component becomes a typed FaultEvent,
// classified for recoverability, appended to a persisted ring of capacity
// 50, and exposed as counters for the CLI `faults` command and the
// `POST /faults` telemetry call.
package fault

import (
	"sync"

	"github.com/RPX2001/ecowatt-edge-gateway/pkg/store"
)

// Kind is the closed set of fault classifications.
type Kind string

const (
	ModbusException Kind = "MODBUS_EXCEPTION"
	ModbusTimeout   Kind = "MODBUS_TIMEOUT"
	CRCError        Kind = "CRC_ERROR"
	CorruptFrame    Kind = "CORRUPT_FRAME"
	BufferOverflow  Kind = "BUFFER_OVERFLOW"
	HTTPError       Kind = "HTTP_ERROR"
	OTAFault        Kind = "OTA_FAULT"
	UnknownFault    Kind = "UNKNOWN"
)

// Event is a single persisted fault occurrence.
type Event struct {
	Kind           Kind   `json:"kind"`
	OriginComponent string `json:"origin_component"`
	Description    string `json:"description"`
	ExceptionCode  uint8  `json:"exception_code"`
	Recovered      bool   `json:"recovered"`
	RetriesUsed    uint8  `json:"retries_used"`
	TimestampMs    int64  `json:"timestamp_ms"`
}

// Counters summarizes the log without requiring a full scan.
type Counters struct {
	Total     int          `json:"total"`
	Recovered int          `json:"recovered"`
	ByKind    map[Kind]int `json:"by_kind"`
}

// Capacity is the bounded ring size from the data model.
const Capacity = 50

const countersKey = "fault_log.counters"

// Log owns the in-memory ring and its persisted mirror. Stats counters are
// never decremented, even as old events are evicted from the ring.
type Log struct {
	mu       sync.Mutex
	st       *store.Store
	ring     []Event
	counters Counters
}

// New loads a Log from its persisted ring and counters, or starts empty.
func New(st *store.Store) (*Log, error) {
	l := &Log{st: st, counters: Counters{ByKind: map[Kind]int{}}}

	ring, ok, err := store.Get[[]Event](st, store.Namespace, store.KeyFaultLogRing)
	if err != nil {
		return nil, err
	}
	if ok {
		l.ring = ring
	}

	counters, ok, err := store.Get[Counters](st, store.Namespace, countersKey)
	if err != nil {
		return nil, err
	}
	if ok {
		if counters.ByKind == nil {
			counters.ByKind = map[Kind]int{}
		}
		l.counters = counters
	}
	return l, nil
}

// Record appends a new event, evicting the oldest if the ring is full, and
// updates counters. It persists both on every call.
func (l *Log) Record(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ring = append(l.ring, e)
	if len(l.ring) > Capacity {
		l.ring = l.ring[len(l.ring)-Capacity:]
	}

	l.counters.Total++
	if e.Recovered {
		l.counters.Recovered++
	}
	l.counters.ByKind[e.Kind]++

	return l.persist()
}

// AmendRecovery finds the most recent non-recovered event matching kind and
// origin and marks it recovered in place, per §4.9's "amend in place, not
// appended" rule. Returns false if no matching event was found.
func (l *Log) AmendRecovery(kind Kind, origin string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.ring) - 1; i >= 0; i-- {
		e := &l.ring[i]
		if e.Kind == kind && e.OriginComponent == origin && !e.Recovered {
			e.Recovered = true
			l.counters.Recovered++
			return true, l.persist()
		}
	}
	return false, nil
}

// Events returns a snapshot of the current ring, oldest first.
func (l *Log) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.ring))
	copy(out, l.ring)
	return out
}

// Counters returns a snapshot of the running counters.
func (l *Log) Counters() Counters {
	l.mu.Lock()
	defer l.mu.Unlock()
	byKind := make(map[Kind]int, len(l.counters.ByKind))
	for k, v := range l.counters.ByKind {
		byKind[k] = v
	}
	return Counters{Total: l.counters.Total, Recovered: l.counters.Recovered, ByKind: byKind}
}

// Reset clears the counters (reset_fault_stats command action). The ring
// itself is left intact; only the running tallies are zeroed.
func (l *Log) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counters = Counters{ByKind: map[Kind]int{}}
	return l.persist()
}

func (l *Log) persist() error {
	if err := store.Set(l.st, store.Namespace, store.KeyFaultLogRing, l.ring); err != nil {
		return err
	}
	return store.Set(l.st, store.Namespace, countersKey, l.counters)
}
