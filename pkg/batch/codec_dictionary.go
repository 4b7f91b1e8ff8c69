package batch

import "encoding/binary"

// dictionaryCap is the per-register table size bound from §4.3: "≤ 256
// entries per register". One index (0xFF) is reserved as an escape for
// values beyond the cap, so the usable table holds 255 entries.
const dictionaryCap = 255

const dictionaryEscape = 0xFF

type dictionaryCodec struct{}

func (dictionaryCodec) Tag() MethodTag { return Dictionary }

// encode builds, per register, a first-seen-order dictionary of
// distinct values (capped at dictionaryCap) and an id-stream referring
// into it. Values beyond the cap are escaped as a literal so the codec
// never loses data even when a register is unexpectedly high-entropy.
func (dictionaryCodec) encode(b *Batch) ([]byte, error) {
	var out []byte
	for _, col := range b.columns() {
		dict := make([]uint16, 0, dictionaryCap)
		index := make(map[uint16]int, dictionaryCap)
		for _, v := range col {
			if _, ok := index[v]; ok {
				continue
			}
			if len(dict) >= dictionaryCap {
				continue // over cap: encoded as a literal escape below
			}
			index[v] = len(dict)
			dict = append(dict, v)
		}

		out = append(out, byte(len(dict)))
		for _, v := range dict {
			var b2 [2]byte
			binary.BigEndian.PutUint16(b2[:], v)
			out = append(out, b2[:]...)
		}

		for _, v := range col {
			if id, ok := index[v]; ok {
				out = append(out, byte(id))
				continue
			}
			out = append(out, dictionaryEscape)
			var b2 [2]byte
			binary.BigEndian.PutUint16(b2[:], v)
			out = append(out, b2[:]...)
		}
	}
	return out, nil
}

func (dictionaryCodec) decode(body []byte, registerCount, sampleCount int) ([][]uint16, error) {
	cols := make([][]uint16, registerCount)
	pos := 0
	for r := 0; r < registerCount; r++ {
		if pos >= len(body) {
			return nil, errTruncatedBody
		}
		entryCount := int(body[pos])
		pos++

		dict := make([]uint16, entryCount)
		for i := 0; i < entryCount; i++ {
			if pos+2 > len(body) {
				return nil, errTruncatedBody
			}
			dict[i] = binary.BigEndian.Uint16(body[pos : pos+2])
			pos += 2
		}

		col := make([]uint16, sampleCount)
		for i := 0; i < sampleCount; i++ {
			if pos >= len(body) {
				return nil, errTruncatedBody
			}
			id := body[pos]
			pos++
			if id == dictionaryEscape {
				if pos+2 > len(body) {
					return nil, errTruncatedBody
				}
				col[i] = binary.BigEndian.Uint16(body[pos : pos+2])
				pos += 2
				continue
			}
			if int(id) >= len(dict) {
				return nil, errTruncatedBody
			}
			col[i] = dict[id]
		}
		cols[r] = col
	}
	return cols, nil
}

var errTruncatedBody = batchError("truncated codec body")
