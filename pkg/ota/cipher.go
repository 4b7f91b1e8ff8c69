package ota

import (
	"crypto/aes"
	"crypto/cipher"
)

// decryptChunk reverses the image-level encryption applied to firmware
// chunks. §4.7 leaves the chunk cipher's key material unspecified
// beyond "ciphertext bytes"; this uses AES-CTR under the engine's own
// 16-byte image key (loaded from the bootstrap config's
// ota.image_key_file, separate from the §4.5 envelope keys), with the
// counter advanced by the chunk's byte offset. CTR
// lets any chunk be decrypted independently of delivery order, matching
// §4.7's "out-of-order delivery is tolerated".
func decryptChunk(key [16]byte, iv [16]byte, byteOffset int, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	counter := advanceCounter(iv, byteOffset)
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCTR(block, counter[:]).XORKeyStream(plaintext, ciphertext)
	return plaintext, nil
}

// advanceCounter treats iv as a 128-bit big-endian counter and returns
// it advanced by byteOffset/aes.BlockSize blocks, so chunk i's keystream
// never overlaps chunk j's.
func advanceCounter(iv [16]byte, byteOffset int) [16]byte {
	blocks := uint64(byteOffset / aes.BlockSize)
	out := iv
	for i := len(out) - 1; i >= 0 && blocks > 0; i-- {
		sum := uint64(out[i]) + blocks
		out[i] = byte(sum)
		blocks = sum >> 8
	}
	return out
}
