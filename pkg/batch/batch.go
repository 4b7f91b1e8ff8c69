// Package batch implements C7: batching acquired samples, selecting the
// best of four compression codecs, and verifying the result decodes
// back to the original samples before it is ever handed to the upload
// queue.
package batch

import (
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/registers"
)

// Sample is one poll tick's readings for a fixed register set.
// Immutable once constructed.
type Sample struct {
	Timestamp   int64
	Values      map[registers.Id]uint16
	RegisterSet []registers.Register
}

// Ordered returns the sample's values in RegisterSet order, the shape
// every codec operates on.
func (s Sample) Ordered() []uint16 {
	out := make([]uint16, len(s.RegisterSet))
	for i, r := range s.RegisterSet {
		out[i] = s.Values[r.Id]
	}
	return out
}

// MinTargetSize and MaxTargetSize are the §4.3 clamp bounds.
const (
	MinTargetSize = 1
	MaxTargetSize = 50
)

// TargetSize derives the batch size policy from upload_period /
// poll_period, clamped to [MinTargetSize, MaxTargetSize]. Both periods
// are in the same unit (microseconds, matching the persisted config).
func TargetSize(pollPeriodUs, uploadPeriodUs int64) uint8 {
	if pollPeriodUs <= 0 {
		return MinTargetSize
	}
	n := uploadPeriodUs / pollPeriodUs
	if n < MinTargetSize {
		n = MinTargetSize
	}
	if n > MaxTargetSize {
		n = MaxTargetSize
	}
	return uint8(n)
}

// Batch accumulates Samples sharing one RegisterSet until TargetSize is
// reached, then is hand off to the compressor and reset.
type Batch struct {
	TargetSize  uint8
	Samples     []Sample
	RegisterSet []registers.Register
}

// New starts an empty batch for the given register set and target size.
func New(registerSet []registers.Register, targetSize uint8) *Batch {
	return &Batch{TargetSize: targetSize, RegisterSet: registerSet}
}

// Append adds a sample. The caller is responsible for ensuring the
// sample's RegisterSet matches the batch's (C6 guarantees this by
// construction).
func (b *Batch) Append(s Sample) {
	b.Samples = append(b.Samples, s)
}

// Full reports whether the batch has reached its target size.
func (b *Batch) Full() bool {
	return len(b.Samples) >= int(b.TargetSize)
}

// Reset clears the samples, keeping the register set and target size.
func (b *Batch) Reset() {
	b.Samples = nil
}

// Retarget updates TargetSize, e.g. after a config change to poll or
// upload period. Per §4.3, a shrink that leaves the batch already at
// or past the new target means the caller (C6) must flush immediately;
// Retarget itself only updates the field and reports whether a flush
// is now due.
func (b *Batch) Retarget(newTarget uint8) (flushDue bool) {
	b.TargetSize = newTarget
	return b.Full()
}

// columns transposes the batch into one value stream per register, in
// RegisterSet order: every codec operates on these per-register
// columns rather than row-wise samples.
func (b *Batch) columns() [][]uint16 {
	cols := make([][]uint16, len(b.RegisterSet))
	for i, r := range b.RegisterSet {
		col := make([]uint16, len(b.Samples))
		for j, s := range b.Samples {
			col[j] = s.Values[r.Id]
		}
		cols[i] = col
	}
	return cols
}
