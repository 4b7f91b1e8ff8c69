package batch

import (
	"reflect"
	"time"

	"github.com/RPX2001/ecowatt-edge-gateway/pkg/fault"
)

const originComponent = "batch"

// Compress selects the smallest of the four codecs for b, verifies the
// result decodes back to the original samples, and returns the
// CompressedBatch. A batch with no samples yields (nil, nil): the
// upload tick is a no-op per §8's boundary behaviours.
//
// faultLog and nowMs back the §4.3 lossless-verify guarantee: if the
// chosen codec's decode doesn't reproduce the original samples, that
// encoding is dropped, a {CORRUPT_FRAME, origin=batch} FaultEvent is
// recorded, and a BIT_PACKED fallback (trivially invertible) is produced
// and verified in its place.
func Compress(b *Batch, faultLog *fault.Log, nowMs int64) (*CompressedBatch, error) {
	if len(b.Samples) == 0 {
		return nil, nil
	}
	start := time.Now()

	original := b.columns()
	originalBytes := len(b.RegisterSet) * len(b.Samples) * 2

	var bestTag MethodTag
	var bestBody []byte
	for _, c := range codecs() {
		body, err := c.encode(b)
		if err != nil {
			return nil, err
		}
		if bestBody == nil || len(body) < len(bestBody) {
			bestTag = c.Tag()
			bestBody = body
		}
	}

	verified := verifyLossless(bestTag, bestBody, b, original)
	if !verified {
		_ = faultLog.Record(fault.ClassifyCorruptFrame(originComponent,
			"lossless verify failed for "+bestTag.String()+", falling back to BIT_PACKED", 0, nowMs))

		// BitPacked is trivially invertible by construction; fall back
		// to it rather than ship an unverified payload.
		fallback, err := bitPackedCodec{}.encode(b)
		if err != nil {
			return nil, err
		}
		bestTag = BitPacked
		bestBody = fallback
		verified = verifyLossless(bestTag, bestBody, b, original)
	}

	var timestamp int64
	if len(b.Samples) > 0 {
		timestamp = b.Samples[0].Timestamp
	}

	cb := &CompressedBatch{
		Header: Header{
			MethodTag:   bestTag,
			RegisterSet: b.RegisterSet,
			SampleCount: uint16(len(b.Samples)),
			TargetSize:  b.TargetSize,
			Timestamp:   timestamp,
		},
		Payload: bestBody,
		Stats: Stats{
			OriginalBytes:    originalBytes,
			CompressedBytes:  len(bestBody),
			AcademicRatio:    ratio(len(bestBody), originalBytes),
			ElapsedMicros:    time.Since(start).Microseconds(),
			LosslessVerified: verified,
		},
	}
	return cb, nil
}

func verifyLossless(tag MethodTag, body []byte, b *Batch, original [][]uint16) bool {
	c, err := codecByTag(tag)
	if err != nil {
		return false
	}
	decoded, err := c.decode(body, len(b.RegisterSet), len(b.Samples))
	if err != nil {
		return false
	}
	return reflect.DeepEqual(decoded, original)
}

func ratio(compressed, original int) float64 {
	if original == 0 {
		return 0
	}
	return float64(compressed) / float64(original)
}
