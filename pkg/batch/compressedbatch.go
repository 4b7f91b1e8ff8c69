package batch

import (
	"encoding/binary"

	"github.com/RPX2001/ecowatt-edge-gateway/pkg/registers"
)

// Header is the on-wire shape shared by every codec: method tag,
// register set, sample count, and one batch-level timestamp. The
// codec-specific body follows immediately after.
type Header struct {
	MethodTag   MethodTag
	RegisterSet []registers.Register
	SampleCount uint16
	TargetSize  uint8
	Timestamp   int64
}

// Stats accompanies every CompressedBatch for observability and for
// the lossless-verify invariant.
type Stats struct {
	OriginalBytes    int
	CompressedBytes  int
	AcademicRatio    float64
	ElapsedMicros    int64
	LosslessVerified bool
}

// CompressedBatch is the immutable output of the compressor: a header,
// a codec-specific payload, and the stats produced while building it.
type CompressedBatch struct {
	Header  Header
	Payload []byte
	Stats   Stats
}

// Encode serializes a CompressedBatch to the §4.3 wire shape: 1-byte
// method tag, 1-byte register count, N register ids, 2-byte sample
// count, 8-byte timestamp, then the codec body.
func Encode(cb *CompressedBatch) []byte {
	h := cb.Header
	out := make([]byte, 0, 12+len(h.RegisterSet)+len(cb.Payload))
	out = append(out, byte(h.MethodTag), byte(len(h.RegisterSet)))
	for _, r := range h.RegisterSet {
		out = append(out, byte(r.Id))
	}
	var sc [2]byte
	binary.BigEndian.PutUint16(sc[:], h.SampleCount)
	out = append(out, sc[:]...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(h.Timestamp))
	out = append(out, ts[:]...)
	out = append(out, cb.Payload...)
	return out
}

// Decode parses the §4.3 wire shape, resolving register ids against
// reg. It does not re-run the codec decode; use DecodeSamples for that.
func Decode(wire []byte, reg *registers.Map) (Header, []byte, error) {
	if len(wire) < 12 {
		return Header{}, nil, errTruncatedBody
	}
	tag := MethodTag(wire[0])
	regCount := int(wire[1])
	pos := 2
	if len(wire) < pos+regCount {
		return Header{}, nil, errTruncatedBody
	}
	set := make([]registers.Register, regCount)
	for i := 0; i < regCount; i++ {
		id := registers.Id(wire[pos+i])
		r, ok := reg.ByID(id)
		if !ok {
			return Header{}, nil, errUnknownRegisterID
		}
		set[i] = r
	}
	pos += regCount

	if len(wire) < pos+10 {
		return Header{}, nil, errTruncatedBody
	}
	sampleCount := binary.BigEndian.Uint16(wire[pos : pos+2])
	pos += 2
	timestamp := int64(binary.BigEndian.Uint64(wire[pos : pos+8]))
	pos += 8

	h := Header{MethodTag: tag, RegisterSet: set, SampleCount: sampleCount, Timestamp: timestamp}
	return h, wire[pos:], nil
}

var errUnknownRegisterID = batchError("unknown register id in wire header")

// DecodeSamples fully decodes a CompressedBatch's payload back into
// column-major values, one slice per register in header order.
func DecodeSamples(h Header, body []byte) ([][]uint16, error) {
	c, err := codecByTag(h.MethodTag)
	if err != nil {
		return nil, err
	}
	return c.decode(body, len(h.RegisterSet), int(h.SampleCount))
}
