// Package gwerrors defines the gateway-wide error taxonomy used to classify
// every fault raised by a component before it reaches the fault log (C5) or
// a command/config acknowledgement.
package gwerrors

import "errors"

// Code is the error taxonomy from the propagation-policy design: every
// GatewayError carries exactly one of these.
type Code int

const (
	// TransientTransport covers serial and HTTP failures expected to clear on
	// retry: timeouts, connection resets, 503s.
	TransientTransport Code = iota

	// TransientDevice covers recoverable Modbus faults: CRC errors, corrupt
	// frames, exception codes >= 0x04.
	TransientDevice

	// PermanentConfig covers validation failures surfaced to whoever issued
	// the request; never retried.
	PermanentConfig

	// CryptoFailure covers HMAC/signature verification failures; the
	// specific payload is discarded, never retried on the same artefact.
	CryptoFailure

	// IntegrityFailure covers replay/nonce and hash-mismatch failures.
	IntegrityFailure

	// Overflow covers bounded-buffer rejection (upload queue full, batch
	// hand-off slot full).
	Overflow

	// Unknown covers anything that doesn't classify; logged, no retry.
	Unknown
)

// String returns the wire/log representation of the code.
func (c Code) String() string {
	switch c {
	case TransientTransport:
		return "transient_transport"
	case TransientDevice:
		return "transient_device"
	case PermanentConfig:
		return "permanent_config"
	case CryptoFailure:
		return "crypto_failure"
	case IntegrityFailure:
		return "integrity_failure"
	case Overflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Retryable reports whether the propagation policy says a caller should
// retry this class of error.
func (c Code) Retryable() bool {
	return c == TransientTransport || c == TransientDevice
}

// GatewayError is the structured error every component returns instead of a
// bare error, so fault classification (C5) and CLI exit-code mapping (§6.4)
// can act on Code rather than string-matching messages.
type GatewayError struct {
	// Code is the taxonomy classification.
	Code Code

	// Component is the originating component, e.g. "acquisition", "upload".
	Component string

	// Op is the operation that failed, e.g. "poll", "enqueue".
	Op string

	// Message is a human-readable description surfaced in command results
	// and config acknowledgements.
	Message string

	// Inner wraps the underlying cause, if any.
	Inner error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	s := e.Component + "." + e.Op + ": " + e.Message
	if e.Inner != nil {
		s += ": " + e.Inner.Error()
	}
	return s
}

// Unwrap allows errors.Is/errors.As to see through to Inner.
func (e *GatewayError) Unwrap() error {
	return e.Inner
}

// Is reports whether target is a *GatewayError with the same Code, allowing
// errors.Is(err, gwerrors.New(gwerrors.Overflow, "", "", "")) style checks.
func (e *GatewayError) Is(target error) bool {
	t, ok := target.(*GatewayError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New constructs a GatewayError.
func New(code Code, component, op, message string) *GatewayError {
	return &GatewayError{Code: code, Component: component, Op: op, Message: message}
}

// Wrap constructs a GatewayError around an existing cause.
func Wrap(code Code, component, op string, inner error) *GatewayError {
	msg := ""
	if inner != nil {
		msg = inner.Error()
	}
	return &GatewayError{Code: code, Component: component, Op: op, Message: msg, Inner: inner}
}

// CodeOf extracts the taxonomy code from err, or Unknown if err is not a
// *GatewayError.
func CodeOf(err error) Code {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return Unknown
}

// ExitCode maps err to the CLI's process exit code: 0 on a nil err, 1 for
// a validation failure, 2 for a transport failure, 3 for a firmware-update
// failure (crypto/integrity checks guard the OTA pipeline specifically),
// and 4 for anything else a fault was raised for.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CodeOf(err) {
	case PermanentConfig:
		return 1
	case TransientTransport, TransientDevice:
		return 2
	case CryptoFailure, IntegrityFailure:
		return 3
	default:
		return 4
	}
}
