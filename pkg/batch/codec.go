package batch

import "fmt"

// MethodTag is the closed set of four compression codecs.
type MethodTag uint8

const (
	Dictionary    MethodTag = iota // per-register learned value->id map
	TemporalDelta                  // zigzag+varint deltas from the previous sample
	SemanticRLE                    // run-length encoding of repeated values
	BitPacked                      // fixed-width packed bits sized to the batch's value range
)

func (m MethodTag) String() string {
	switch m {
	case Dictionary:
		return "DICTIONARY"
	case TemporalDelta:
		return "TEMPORAL_DELTA"
	case SemanticRLE:
		return "SEMANTIC_RLE"
	case BitPacked:
		return "BIT_PACKED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(m))
	}
}

// codec is implemented by each of the four compression strategies. Not
// exported: the codec selector (§9: "a closed sum of four variants, do
// not generalise to a plugin interface") is the only thing that picks
// among them.
type codec interface {
	Tag() MethodTag
	// encode produces the codec-specific body for b (the shared header
	// is written separately by EncodeCompressedBatch).
	encode(b *Batch) ([]byte, error)
	// decode reverses encode given the register count and sample count
	// carried in the shared header. It returns one column per register,
	// each of length sampleCount, in register-set order.
	decode(body []byte, registerCount, sampleCount int) ([][]uint16, error)
}

// codecs lists every codec in priority order: ties in compressed size
// are broken by this order, earliest wins.
func codecs() []codec {
	return []codec{
		dictionaryCodec{},
		temporalDeltaCodec{},
		semanticRLECodec{},
		bitPackedCodec{},
	}
}

func codecByTag(tag MethodTag) (codec, error) {
	for _, c := range codecs() {
		if c.Tag() == tag {
			return c, nil
		}
	}
	return nil, fmt.Errorf("batch: unknown method tag %d", uint8(tag))
}
