package fault

// ClassifyCRC classifies a CRC mismatch. Recoverable: retried by the
// caller up to the Modbus retry policy.
func ClassifyCRC(origin, description string, retriesUsed uint8, timestampMs int64) Event {
	return Event{Kind: CRCError, OriginComponent: origin, Description: description, RetriesUsed: retriesUsed, TimestampMs: timestampMs}
}

// ClassifyCorruptFrame classifies a structurally impossible frame.
func ClassifyCorruptFrame(origin, description string, retriesUsed uint8, timestampMs int64) Event {
	return Event{Kind: CorruptFrame, OriginComponent: origin, Description: description, RetriesUsed: retriesUsed, TimestampMs: timestampMs}
}

// ClassifyTimeout classifies a transport no-response within the serial
// read window.
func ClassifyTimeout(origin, description string, retriesUsed uint8, timestampMs int64) Event {
	return Event{Kind: ModbusTimeout, OriginComponent: origin, Description: description, RetriesUsed: retriesUsed, TimestampMs: timestampMs}
}

// ClassifyModbusException classifies a Modbus exception frame. Codes
// 0x01-0x03 are non-recoverable; 0x04-0x0B are recoverable, matching
// ExceptionCode.Recoverable in pkg/modbus — recoverability drives the
// caller's retry decision and is not itself a stored field.
func ClassifyModbusException(origin, description string, code uint8, retriesUsed uint8, timestampMs int64) Event {
	return Event{
		Kind:            ModbusException,
		OriginComponent: origin,
		Description:     description,
		ExceptionCode:   code,
		Recovered:       false,
		RetriesUsed:     retriesUsed,
		TimestampMs:     timestampMs,
	}
}

// ClassifyHTTPError classifies an HTTP transport failure. statusCode is -1
// for a transport-level failure (no response), otherwise the HTTP status.
// Recovered is set per HTTPRecoverable: true iff statusCode is -1 or 503.
func ClassifyHTTPError(origin, description string, statusCode int, retriesUsed uint8, timestampMs int64) Event {
	return Event{
		Kind:            HTTPError,
		OriginComponent: origin,
		Description:     description,
		RetriesUsed:     retriesUsed,
		TimestampMs:     timestampMs,
		ExceptionCode:   httpCodeByte(statusCode),
		Recovered:       HTTPRecoverable(statusCode),
	}
}

// HTTPRecoverable reports whether an HTTP status/transport-failure code is
// recoverable per §4.9.
func HTTPRecoverable(statusCode int) bool {
	return statusCode == -1 || statusCode == 503
}

func httpCodeByte(statusCode int) uint8 {
	if statusCode < 0 || statusCode > 255 {
		return 0
	}
	return uint8(statusCode)
}

// ClassifyOTAFault classifies an OTA verification failure. Never retried
// on the same manifest/session.
func ClassifyOTAFault(origin, description string, timestampMs int64) Event {
	return Event{Kind: OTAFault, OriginComponent: origin, Description: description, TimestampMs: timestampMs}
}

// ClassifyBufferOverflow classifies a bounded-buffer rejection (upload
// queue full, compressor hand-off slot full). Always logged as recovered
// since the producer's drop policy is itself the recovery action.
func ClassifyBufferOverflow(origin, description string, timestampMs int64) Event {
	return Event{Kind: BufferOverflow, OriginComponent: origin, Description: description, Recovered: true, TimestampMs: timestampMs}
}

// ClassifyUnknown is the fallback for anything that doesn't fit the
// closed taxonomy: logged, never retried.
func ClassifyUnknown(origin, description string, timestampMs int64) Event {
	return Event{Kind: UnknownFault, OriginComponent: origin, Description: description, TimestampMs: timestampMs}
}
