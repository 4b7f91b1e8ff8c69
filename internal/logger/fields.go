package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging across the gateway.
// Use these keys consistently so the serial transcript and any
// downstream log aggregation can be queried uniformly.
const (
	// ========================================================================
	// Component / operation identification
	// ========================================================================
	KeyComponent = "component" // Owning component: coordinator, acquisition, upload, ota, ...
	KeyOperation = "op"        // Operation name within the component
	KeyTick      = "tick"      // Timer name that triggered this handler: poll, upload, config_sync, command_poll, firmware_check

	// ========================================================================
	// Modbus / acquisition
	// ========================================================================
	KeySlaveID     = "slave_id"
	KeyFunction    = "function"     // Modbus function code
	KeyRegister    = "register"     // Register name
	KeyAddress     = "address"      // Modbus holding-register address
	KeyQuantity    = "quantity"     // Register count requested
	KeyExceptionCd = "exception_cd" // Modbus exception code (0 if n/a)

	// ========================================================================
	// Batch / compression
	// ========================================================================
	KeyMethodTag    = "method_tag"
	KeySampleCount  = "sample_count"
	KeyOriginalSize = "original_bytes"
	KeyCompressed   = "compressed_bytes"
	KeyRatio        = "ratio"

	// ========================================================================
	// Upload / security
	// ========================================================================
	KeyNonce      = "nonce"
	KeyQueueDepth = "queue_depth"
	KeyEncrypted  = "encrypted"
	KeyDeviceID   = "device_id"

	// ========================================================================
	// Fault / event log
	// ========================================================================
	KeyFaultKind = "fault_kind"
	KeyRecovered = "recovered"
	KeyRetries   = "retries"
	KeyOrigin    = "origin"

	// ========================================================================
	// OTA
	// ========================================================================
	KeyOTAState   = "ota_state"
	KeyOTAVersion = "ota_version"
	KeyChunkIndex = "chunk_index"

	// ========================================================================
	// Command executor
	// ========================================================================
	KeyCommandID     = "command_id"
	KeyCommandAction = "command_action"
	KeyCommandStatus = "command_status"

	// ========================================================================
	// HTTP / transport
	// ========================================================================
	KeyHTTPStatus = "http_status"
	KeyPath       = "path"
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyErrorCode  = "error_code"
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
)

// Component returns a slog.Attr naming the owning component.
func Component(name string) slog.Attr {
	return slog.String(KeyComponent, name)
}

// Operation returns a slog.Attr naming the operation within a component.
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Tick returns a slog.Attr naming the timer that fired.
func Tick(name string) slog.Attr {
	return slog.String(KeyTick, name)
}

// SlaveID returns a slog.Attr for the Modbus slave address.
func SlaveID(id uint8) slog.Attr {
	return slog.Int(KeySlaveID, int(id))
}

// Function returns a slog.Attr for the Modbus function code.
func Function(code uint8) slog.Attr {
	return slog.Int(KeyFunction, int(code))
}

// Register returns a slog.Attr for a register name.
func Register(name string) slog.Attr {
	return slog.String(KeyRegister, name)
}

// Address returns a slog.Attr for a Modbus holding-register address.
func Address(addr uint16) slog.Attr {
	return slog.Int(KeyAddress, int(addr))
}

// Quantity returns a slog.Attr for a register count.
func Quantity(n uint16) slog.Attr {
	return slog.Int(KeyQuantity, int(n))
}

// ExceptionCode returns a slog.Attr for a Modbus exception code.
func ExceptionCode(code uint8) slog.Attr {
	return slog.Int(KeyExceptionCd, int(code))
}

// MethodTag returns a slog.Attr for the chosen compression codec.
func MethodTag(tag string) slog.Attr {
	return slog.String(KeyMethodTag, tag)
}

// SampleCount returns a slog.Attr for a batch's sample count.
func SampleCount(n int) slog.Attr {
	return slog.Int(KeySampleCount, n)
}

// OriginalSize returns a slog.Attr for pre-compression byte size.
func OriginalSize(n int) slog.Attr {
	return slog.Int(KeyOriginalSize, n)
}

// CompressedSize returns a slog.Attr for post-compression byte size.
func CompressedSize(n int) slog.Attr {
	return slog.Int(KeyCompressed, n)
}

// Ratio returns a slog.Attr for the academic compression ratio.
func Ratio(r float64) slog.Attr {
	return slog.Float64(KeyRatio, r)
}

// Nonce returns a slog.Attr for the security envelope nonce.
func Nonce(n uint32) slog.Attr {
	return slog.Any(KeyNonce, n)
}

// QueueDepth returns a slog.Attr for the upload queue depth.
func QueueDepth(n int) slog.Attr {
	return slog.Int(KeyQueueDepth, n)
}

// Encrypted returns a slog.Attr for the envelope encrypted flag.
func Encrypted(b bool) slog.Attr {
	return slog.Bool(KeyEncrypted, b)
}

// DeviceID returns a slog.Attr for the device identifier.
func DeviceID(id string) slog.Attr {
	return slog.String(KeyDeviceID, id)
}

// FaultKind returns a slog.Attr for the classified fault kind.
func FaultKind(kind string) slog.Attr {
	return slog.String(KeyFaultKind, kind)
}

// Recovered returns a slog.Attr for fault recovery status.
func Recovered(b bool) slog.Attr {
	return slog.Bool(KeyRecovered, b)
}

// Retries returns a slog.Attr for retries used.
func Retries(n int) slog.Attr {
	return slog.Int(KeyRetries, n)
}

// Origin returns a slog.Attr for the fault's originating component.
func Origin(component string) slog.Attr {
	return slog.String(KeyOrigin, component)
}

// OTAState returns a slog.Attr for the firmware engine's state.
func OTAState(state string) slog.Attr {
	return slog.String(KeyOTAState, state)
}

// OTAVersion returns a slog.Attr for a firmware version string.
func OTAVersion(version string) slog.Attr {
	return slog.String(KeyOTAVersion, version)
}

// ChunkIndex returns a slog.Attr for an OTA chunk index.
func ChunkIndex(n int) slog.Attr {
	return slog.Int(KeyChunkIndex, n)
}

// CommandID returns a slog.Attr for a command record id.
func CommandID(id string) slog.Attr {
	return slog.String(KeyCommandID, id)
}

// CommandAction returns a slog.Attr for a command's action name.
func CommandAction(action string) slog.Attr {
	return slog.String(KeyCommandAction, action)
}

// CommandStatus returns a slog.Attr for a command's status.
func CommandStatus(status string) slog.Attr {
	return slog.String(KeyCommandStatus, status)
}

// HTTPStatus returns a slog.Attr for an HTTP response status code.
func HTTPStatus(code int) slog.Attr {
	return slog.Int(KeyHTTPStatus, code)
}

// Path returns a slog.Attr for an HTTP request path.
func Path(p string) slog.Attr {
	return slog.String(KeyPath, p)
}

// DurationMs returns a slog.Attr for an operation duration in milliseconds.
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for a taxonomy error code.
func ErrorCode(code string) slog.Attr {
	return slog.String(KeyErrorCode, code)
}

// Attempt returns a slog.Attr for a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for the maximum retry count.
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}

// Hex formats a byte slice as a lowercase hex string attr under the given key.
func Hex(key string, b []byte) slog.Attr {
	return slog.String(key, fmt.Sprintf("%x", b))
}
