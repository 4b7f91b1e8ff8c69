// Package transport implements C3: the serial transport shim used by
// the acquisition pipeline, and the HTTP client used by the cloud
// client. Both hide their I/O readiness behind a single blocking call
// with an explicit timeout, per §5's suspension-point rule.
package transport

import (
	"context"
	"io"
	"time"

	"github.com/RPX2001/ecowatt-edge-gateway/internal/gwerrors"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/bufpool"
)

// Port is the minimal surface a serial device must offer. A real
// deployment backs this with the platform's UART device file; tests
// back it with an in-memory pipe.
type Port interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// OpenFunc opens a fresh Port. The shim calls it once per Exchange so
// that peripheral gating (§4.4: "the serial port is opened at the
// start of the handler and closed at the end") is enforced structurally
// rather than left to caller discipline.
type OpenFunc func() (Port, error)

// ByteGapTimeout and TotalTimeout are the §5 serial suspension-point
// bounds: 1s per byte-gap, 5s total per exchange.
const (
	ByteGapTimeout = 1 * time.Second
	TotalTimeout   = 5 * time.Second
)

// Shim is the serial transport used by the acquisition pipeline. It
// owns no persistent connection: every Exchange opens, writes,
// silence-reads, and closes.
type Shim struct {
	open OpenFunc
}

// NewShim builds a Shim around the given port factory.
func NewShim(open OpenFunc) *Shim {
	return &Shim{open: open}
}

// Exchange opens the port, writes request, reads a response until the
// line falls silent for ByteGapTimeout (or TotalTimeout elapses), and
// closes the port, flushing any outstanding bytes.
func (s *Shim) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	port, err := s.open()
	if err != nil {
		return nil, gwerrors.Wrap(gwerrors.TransientTransport, "transport", "open", err)
	}
	defer port.Close()

	if _, err := port.Write(request); err != nil {
		return nil, gwerrors.Wrap(gwerrors.TransientTransport, "transport", "write", err)
	}

	resp, err := readUntilSilence(ctx, port, ByteGapTimeout, TotalTimeout)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// readUntilSilence accumulates bytes until no new byte arrives within
// gap, or total has elapsed since the read began, whichever comes
// first. A response whose first byte does not arrive within gap is a
// timeout.
func readUntilSilence(ctx context.Context, port Port, gap, total time.Duration) ([]byte, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	var buf []byte
	chunk := bufpool.Get(256)
	defer bufpool.Put(chunk)
	for {
		select {
		case <-deadlineCtx.Done():
			if len(buf) == 0 {
				return nil, gwerrors.New(gwerrors.TransientTransport, "transport", "read", "no response within total timeout")
			}
			return buf, nil
		default:
		}

		if err := port.SetReadDeadline(time.Now().Add(gap)); err != nil {
			return nil, gwerrors.Wrap(gwerrors.TransientTransport, "transport", "read", err)
		}
		n, err := port.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if len(buf) == 0 {
				return nil, gwerrors.New(gwerrors.TransientTransport, "transport", "read", "no response within byte-gap timeout")
			}
			// Gap elapsed with no further bytes: the frame is complete.
			return buf, nil
		}
	}
}
