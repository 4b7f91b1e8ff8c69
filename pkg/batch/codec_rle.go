package batch

import "encoding/binary"

type semanticRLECodec struct{}

func (semanticRLECodec) Tag() MethodTag { return SemanticRLE }

// encode run-length-encodes each register column as a sequence of
// (run length, value) pairs. Best for registers that hold steady for
// long stretches (e.g. a fault flag or a slowly changing setpoint).
func (semanticRLECodec) encode(b *Batch) ([]byte, error) {
	var out []byte
	for _, col := range b.columns() {
		i := 0
		for i < len(col) {
			v := col[i]
			run := 1
			for i+run < len(col) && col[i+run] == v {
				run++
			}
			out = appendVarint(out, uint32(run))
			var b2 [2]byte
			binary.BigEndian.PutUint16(b2[:], v)
			out = append(out, b2[:]...)
			i += run
		}
	}
	return out, nil
}

func (semanticRLECodec) decode(body []byte, registerCount, sampleCount int) ([][]uint16, error) {
	cols := make([][]uint16, registerCount)
	pos := 0
	for r := 0; r < registerCount; r++ {
		col := make([]uint16, 0, sampleCount)
		for len(col) < sampleCount {
			run, n, err := readVarint(body[pos:])
			if err != nil {
				return nil, err
			}
			pos += n
			if pos+2 > len(body) {
				return nil, errTruncatedBody
			}
			v := binary.BigEndian.Uint16(body[pos : pos+2])
			pos += 2
			for k := uint32(0); k < run; k++ {
				col = append(col, v)
			}
		}
		if len(col) != sampleCount {
			return nil, errTruncatedBody
		}
		cols[r] = col
	}
	return cols, nil
}
