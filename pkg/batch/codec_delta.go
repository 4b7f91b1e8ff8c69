package batch

import "encoding/binary"

type temporalDeltaCodec struct{}

func (temporalDeltaCodec) Tag() MethodTag { return TemporalDelta }

// encode stores the first sample of each register column full-width,
// then every subsequent sample as a zigzag-encoded, varint-packed
// delta from its predecessor. Best for slowly varying analog values.
func (temporalDeltaCodec) encode(b *Batch) ([]byte, error) {
	var out []byte
	for _, col := range b.columns() {
		if len(col) == 0 {
			continue
		}
		var first [2]byte
		binary.BigEndian.PutUint16(first[:], col[0])
		out = append(out, first[:]...)

		prev := int32(col[0])
		for _, v := range col[1:] {
			cur := int32(v)
			out = appendVarint(out, zigzagEncode(cur-prev))
			prev = cur
		}
	}
	return out, nil
}

func (temporalDeltaCodec) decode(body []byte, registerCount, sampleCount int) ([][]uint16, error) {
	cols := make([][]uint16, registerCount)
	pos := 0
	for r := 0; r < registerCount; r++ {
		col := make([]uint16, sampleCount)
		if sampleCount == 0 {
			cols[r] = col
			continue
		}
		if pos+2 > len(body) {
			return nil, errTruncatedBody
		}
		prev := int32(binary.BigEndian.Uint16(body[pos : pos+2]))
		pos += 2
		col[0] = uint16(prev)

		for i := 1; i < sampleCount; i++ {
			delta, n, err := readVarint(body[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			prev += zigzagDecode(delta)
			col[i] = uint16(prev)
		}
		cols[r] = col
	}
	return cols, nil
}
