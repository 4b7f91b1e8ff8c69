package ota

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RPX2001/ecowatt-edge-gateway/pkg/fault"
	"github.com/RPX2001/ecowatt-edge-gateway/pkg/store"
)

type memPartition struct{ data []byte }

func (p *memPartition) WriteAt(offset int64, data []byte) error {
	end := int(offset) + len(data)
	if end > len(p.data) {
		grown := make([]byte, end)
		copy(grown, p.data)
		p.data = grown
	}
	copy(p.data[offset:end], data)
	return nil
}
func (p *memPartition) ReadAll() ([]byte, error) { return append([]byte(nil), p.data...), nil }
func (p *memPartition) Wipe() error              { p.data = nil; return nil }

func testEngine(t *testing.T) (*Engine, *rsa.PrivateKey, map[string]*memPartition) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	fl, err := fault.New(st)
	require.NoError(t, err)

	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	partitions := map[string]*memPartition{"a": {}, "b": {}}
	var imageKey [16]byte
	copy(imageKey[:], []byte("0123456789abcdef"))

	e, err := New(st, fl, &priv.PublicKey, imageKey, func(label string) Partition { return partitions[label] })
	require.NoError(t, err)
	return e, priv, partitions
}

func signManifest(t *testing.T, priv *rsa.PrivateKey, version string, plaintext []byte, chunkSize int) string {
	t.Helper()
	var iv [16]byte
	copy(iv[:], []byte("iviviviviviviviv"))
	sum := sha256.Sum256(plaintext)

	totalChunks := (len(plaintext) + chunkSize - 1) / chunkSize
	claims := ManifestClaims{
		Version:     version,
		TotalChunks: totalChunks,
		ChunkSize:   chunkSize,
		CipherIVHex: hex.EncodeToString(iv[:]),
		SHA256Hex:   hex.EncodeToString(sum[:]),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
	require.NoError(t, err)
	return token
}

func encryptedChunks(t *testing.T, imageKey [16]byte, plaintext []byte, chunkSize int) [][]byte {
	t.Helper()
	var iv [16]byte
	copy(iv[:], []byte("iviviviviviviviv"))

	var chunks [][]byte
	for offset := 0; offset < len(plaintext); offset += chunkSize {
		end := offset + chunkSize
		if end > len(plaintext) {
			end = len(plaintext)
		}
		plain := plaintext[offset:end]
		cipherBytes, err := decryptChunk(imageKey, iv, offset, plain) // AES-CTR: encrypt == decrypt
		require.NoError(t, err)
		chunks = append(chunks, cipherBytes)
	}
	return chunks
}

func runFullDownload(t *testing.T, e *Engine, priv *rsa.PrivateKey, plaintext []byte, chunkSize int) {
	t.Helper()
	token := signManifest(t, priv, "2.0.0", plaintext, chunkSize)

	var imageKey [16]byte
	copy(imageKey[:], []byte("0123456789abcdef"))
	chunks := encryptedChunks(t, imageKey, plaintext, chunkSize)

	ok, err := e.BeginCheck()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.CompleteCheck(true, token, "1.0.0", 1000))
	assert.Equal(t, StateManifestOK, e.State())

	require.NoError(t, e.BeginDownload())
	assert.Equal(t, StateDownloading, e.State())

	for {
		idx, ok := e.NextChunkIndex()
		if !ok {
			break
		}
		require.NoError(t, e.ReceiveChunk(idx, chunks[idx], 1000))
	}
	assert.Equal(t, StateVerifying, e.State())
}

func TestFullOTALifecycleSucceeds(t *testing.T) {
	e, priv, _ := testEngine(t)
	plaintext := make([]byte, 130)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	runFullDownload(t, e, priv, plaintext, 32)

	require.NoError(t, e.Verify(1000))
	assert.Equal(t, StateActivating, e.State())

	require.NoError(t, e.Activate())
	assert.Equal(t, StateValidating, e.State())

	err := e.PostBootSelfCheck(context.Background(),
		func(context.Context) error { return nil },
		func(context.Context) error { return nil },
		1000)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, e.State())

	version, err := CurrentVersion(e.st)
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", version)
}

func TestCompleteCheckNoUpdateReturnsIdle(t *testing.T) {
	e, _, _ := testEngine(t)
	ok, err := e.BeginCheck()
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, e.CompleteCheck(false, "", "1.0.0", 1000))
	assert.Equal(t, StateIdle, e.State())
}

func TestCompleteCheckRejectsStaleVersion(t *testing.T) {
	e, priv, _ := testEngine(t)
	token := signManifest(t, priv, "1.0.0", []byte("x"), 32)

	_, err := e.BeginCheck()
	require.NoError(t, err)

	err = e.CompleteCheck(true, token, "1.0.0", 1000)
	assert.Error(t, err)
	assert.Equal(t, StateIdle, e.State())
}

func TestCompleteCheckRejectsBadSignature(t *testing.T) {
	e, _, _ := testEngine(t)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	token := signManifest(t, otherKey, "2.0.0", []byte("x"), 32)

	_, err = e.BeginCheck()
	require.NoError(t, err)

	err = e.CompleteCheck(true, token, "1.0.0", 1000)
	assert.Error(t, err)
	assert.Equal(t, StateIdle, e.State())
}

func TestCompleteCheckRejectsZeroTotalChunks(t *testing.T) {
	e, priv, _ := testEngine(t)
	// An empty image yields total_chunks == 0 from signManifest's own
	// ceil-division, matching §8's zero-chunk boundary case.
	token := signManifest(t, priv, "2.0.0", []byte{}, 32)

	_, err := e.BeginCheck()
	require.NoError(t, err)

	err = e.CompleteCheck(true, token, "1.0.0", 1000)
	assert.Error(t, err)
	assert.Equal(t, StateIdle, e.State())
	assert.Zero(t, e.Session().TotalChunks)
}

func TestVerifyRejectsCorruptChunk(t *testing.T) {
	e, priv, partitions := testEngine(t)
	plaintext := make([]byte, 64)
	runFullDownload(t, e, priv, plaintext, 32)

	// Flip a bit as if chunk 0 was corrupted in transit.
	partitions["b"].data[0] ^= 0xFF

	err := e.Verify(1000)
	assert.Error(t, err)
	assert.Equal(t, StateIdle, e.State())

	fl, err := fault.New(e.st)
	require.NoError(t, err)
	counters := fl.Counters()
	assert.Equal(t, 1, counters.ByKind[fault.OTAFault])
}

func TestPostBootSelfCheckRollsBackOnWiFiFailure(t *testing.T) {
	e, priv, _ := testEngine(t)
	plaintext := make([]byte, 64)
	runFullDownload(t, e, priv, plaintext, 32)
	require.NoError(t, e.Verify(1000))
	require.NoError(t, e.Activate())

	err := e.PostBootSelfCheck(context.Background(),
		func(context.Context) error { return assertErr },
		func(context.Context) error { return nil },
		1000)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, e.State())

	fl, err := fault.New(e.st)
	require.NoError(t, err)
	assert.Equal(t, 1, fl.Counters().Recovered)
}

type testErr struct{}

func (testErr) Error() string { return "wifi association failed" }

var assertErr = testErr{}

func TestChunksCanArriveOutOfOrder(t *testing.T) {
	e, priv, _ := testEngine(t)
	plaintext := make([]byte, 100)
	for i := range plaintext {
		plaintext[i] = byte(200 + i)
	}
	chunkSize := 32
	token := signManifest(t, priv, "2.0.0", plaintext, chunkSize)

	var imageKey [16]byte
	copy(imageKey[:], []byte("0123456789abcdef"))
	chunks := encryptedChunks(t, imageKey, plaintext, chunkSize)

	_, err := e.BeginCheck()
	require.NoError(t, err)
	require.NoError(t, e.CompleteCheck(true, token, "1.0.0", 1000))
	require.NoError(t, e.BeginDownload())

	order := []int{2, 0, 3, 1}
	for _, idx := range order {
		require.NoError(t, e.ReceiveChunk(idx, chunks[idx], 1000))
	}
	assert.Equal(t, StateVerifying, e.State())
}
