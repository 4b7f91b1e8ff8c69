package modbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildReadHoldingRegistersShape(t *testing.T) {
	frame := BuildReadHoldingRegisters(0x01, 0x0000, 3)
	require.Len(t, frame, 8)
	assert.Equal(t, byte(0x01), frame[0])
	assert.Equal(t, FuncReadHoldingRegisters, frame[1])
	assert.Equal(t, byte(0x00), frame[2])
	assert.Equal(t, byte(0x00), frame[3])
	assert.Equal(t, byte(0x00), frame[4])
	assert.Equal(t, byte(0x03), frame[5])

	// CRC round-trips: verifying via parse of a synthetic response reuses the
	// same verifyCRC path, so check CRC16 directly for the request body.
	body := frame[:6]
	crc := CRC16(body)
	assert.Equal(t, byte(crc&0xFF), frame[6])
	assert.Equal(t, byte(crc>>8), frame[7])
}

func synthResponse(slave, function byte, body []byte) []byte {
	frame := append([]byte{slave, function}, body...)
	crc := CRC16(frame)
	return append(frame, byte(crc&0xFF), byte(crc>>8))
}

func TestParseReadHoldingRegistersResponseSuccess(t *testing.T) {
	data := []byte{0x09, 0x04, 0x00, 0x00, 0x00, 0x00}
	frame := synthResponse(0x01, FuncReadHoldingRegisters, append([]byte{0x06}, data...))

	values, err := ParseReadHoldingRegistersResponse(frame, 3)
	require.NoError(t, err)
	assert.Equal(t, []uint16{0x0904, 0x0000, 0x0000}, values)
}

func TestParseReadHoldingRegistersResponseCRCError(t *testing.T) {
	frame := synthResponse(0x01, FuncReadHoldingRegisters, []byte{0x02, 0x00, 0x01})
	frame[len(frame)-1] ^= 0xFF // corrupt CRC

	_, err := ParseReadHoldingRegistersResponse(frame, 1)
	require.Error(t, err)
	var crcErr *CRCError
	assert.ErrorAs(t, err, &crcErr)
}

func TestParseReadHoldingRegistersResponseException(t *testing.T) {
	frame := synthResponse(0x01, FuncReadHoldingRegisters|0x80, []byte{byte(ExcIllegalDataAddress)})

	_, err := ParseReadHoldingRegistersResponse(frame, 1)
	require.Error(t, err)
	var excErr *ExceptionError
	require.ErrorAs(t, err, &excErr)
	assert.Equal(t, ExcIllegalDataAddress, excErr.Code)
	assert.False(t, excErr.Code.Recoverable())
}

func TestParseReadHoldingRegistersResponseByteCountMismatch(t *testing.T) {
	frame := synthResponse(0x01, FuncReadHoldingRegisters, []byte{0x02, 0x00, 0x01})

	_, err := ParseReadHoldingRegistersResponse(frame, 2) // expects 4 bytes, got 2
	require.Error(t, err)
	var frameErr *FrameError
	assert.ErrorAs(t, err, &frameErr)
}

func TestParseWriteSingleRegisterResponse(t *testing.T) {
	req := BuildWriteSingleRegister(0x01, 0x0032, 50)
	// Inverter echoes the same body back.
	frame := synthResponse(0x01, FuncWriteSingleRegister, req[2:6])

	addr, value, err := ParseWriteSingleRegisterResponse(frame)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0032), addr)
	assert.Equal(t, uint16(50), value)
}

func TestExceptionCodeRecoverable(t *testing.T) {
	assert.False(t, ExcIllegalFunction.Recoverable())
	assert.False(t, ExcIllegalDataAddress.Recoverable())
	assert.False(t, ExcIllegalDataValue.Recoverable())
	assert.True(t, ExcSlaveDeviceFailure.Recoverable())
	assert.True(t, ExcGatewayTargetNoResp.Recoverable())
}

func TestCRC16KnownVector(t *testing.T) {
	// Read holding registers request for slave 1, addr 0, qty 10 is a
	// commonly cited Modbus CRC test vector: CRC = 0xCDC5 (lo 0xC5, hi 0xCD).
	frame := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}
	crc := CRC16(frame)
	assert.Equal(t, uint16(0xCDC5), crc)
}
