// Package security implements the envelope that wraps every outbound
// payload and every inbound control message (C9): a monotonic nonce, an
// HMAC-SHA256 MAC, and optional AES-128-CBC encryption.
//
// No third-party crypto library is wired here: the only crypto-adjacent
// dependency in the corpus is golang-jwt (asymmetric signing, wired into
// the firmware manifest in pkg/ota) and jcmturner/gokrb5 (Kerberos,
// irrelevant). HMAC/AES-CBC primitives are stdlib in every Go codebase,
// including the teacher's own auth internals.
package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/RPX2001/ecowatt-edge-gateway/internal/gwerrors"
)

// State is the persisted keying material and monotonic nonce counter.
type State struct {
	PSKHMAC   [32]byte `json:"psk_hmac"`
	PSKCipher [16]byte `json:"psk_cipher"`
	NextNonce uint32   `json:"next_nonce"`
}

// NewState seeds a fresh State with the starting nonce from the data
// model (10_000) and the given keys.
func NewState(pskHMAC [32]byte, pskCipher [16]byte) *State {
	return &State{PSKHMAC: pskHMAC, PSKCipher: pskCipher, NextNonce: 10_000}
}

// Envelope is the outer authenticated wrapper carried on every §6.2 call
// except /health.
type Envelope struct {
	Nonce     uint32 `json:"nonce"`
	Payload   string `json:"payload"` // base64(inner)
	MAC       string `json:"mac"`     // hex(hmac_sha256(psk_hmac, be32(nonce) || inner))
	Encrypted bool   `json:"encrypted"`
}

const ivSize = aes.BlockSize // 16 bytes, carried as a prefix of inner when Encrypted

// PersistNonce is supplied by the caller (the upload/command/config paths)
// and invoked by Wrap with the *next* nonce before the envelope is built,
// so a crash mid-send never reuses one.
type PersistNonce func(next uint32) error

// Wrap produces an Envelope for plaintext, consuming and advancing the
// nonce in state. persist is invoked with the incremented NextNonce before
// this function returns, so a caller can make persistence a precondition
// of actually sending — matching "fetched, used, incremented, and
// persisted before send" from §4.5.
func Wrap(state *State, plaintext []byte, encrypt bool, persist PersistNonce) (*Envelope, error) {
	nonce := state.NextNonce
	state.NextNonce++
	if persist != nil {
		if err := persist(state.NextNonce); err != nil {
			state.NextNonce--
			return nil, gwerrors.Wrap(gwerrors.TransientDevice, "security", "wrap", err)
		}
	}

	inner := plaintext
	if encrypt {
		enc, err := encryptCBC(state.PSKCipher, plaintext)
		if err != nil {
			return nil, gwerrors.Wrap(gwerrors.CryptoFailure, "security", "wrap", err)
		}
		inner = enc
	}

	mac := computeMAC(state.PSKHMAC, nonce, inner)

	return &Envelope{
		Nonce:     nonce,
		Payload:   base64.StdEncoding.EncodeToString(inner),
		MAC:       hex.EncodeToString(mac),
		Encrypted: encrypt,
	}, nil
}

// Unwrap verifies and decrypts env, enforcing the anti-replay rule:
// nonce must be strictly greater than lastAccepted. On success it returns
// the plaintext and the new last-accepted nonce to persist.
func Unwrap(state *State, env *Envelope, lastAccepted uint32) (plaintext []byte, newLastAccepted uint32, err error) {
	inner, decErr := base64.StdEncoding.DecodeString(env.Payload)
	if decErr != nil {
		return nil, lastAccepted, gwerrors.Wrap(gwerrors.IntegrityFailure, "security", "unwrap", decErr)
	}

	wantMAC := computeMAC(state.PSKHMAC, env.Nonce, inner)
	gotMAC, hexErr := hex.DecodeString(env.MAC)
	if hexErr != nil || subtle.ConstantTimeCompare(gotMAC, wantMAC) != 1 {
		return nil, lastAccepted, gwerrors.New(gwerrors.CryptoFailure, "security", "unwrap", "MAC verification failed")
	}

	if env.Nonce <= lastAccepted {
		return nil, lastAccepted, gwerrors.New(gwerrors.IntegrityFailure, "security", "unwrap", "nonce replay rejected")
	}

	out := inner
	if env.Encrypted {
		out, err = decryptCBC(state.PSKCipher, inner)
		if err != nil {
			return nil, lastAccepted, gwerrors.Wrap(gwerrors.CryptoFailure, "security", "unwrap", err)
		}
	}

	return out, env.Nonce, nil
}

func computeMAC(key [32]byte, nonce uint32, inner []byte) []byte {
	h := hmac.New(sha256.New, key[:])
	var nb [4]byte
	binary.BigEndian.PutUint32(nb[:], nonce)
	h.Write(nb[:])
	h.Write(inner)
	return h.Sum(nil)
}

// encryptCBC pads plaintext with PKCS#7, encrypts with AES-128-CBC under a
// fresh IV, and prepends the IV so the receiver has everything it needs
// without out-of-band state.
func encryptCBC(key [16]byte, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	padded := pkcs7Pad(plaintext, aes.BlockSize)
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return append(iv, ciphertext...), nil
}

func decryptCBC(key [16]byte, inner []byte) ([]byte, error) {
	if len(inner) < ivSize+aes.BlockSize {
		return nil, fmt.Errorf("security: ciphertext too short")
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	iv, ciphertext := inner[:ivSize], inner[ivSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("security: ciphertext not block-aligned")
	}
	plainPadded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plainPadded, ciphertext)
	return pkcs7Unpad(plainPadded)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte(nil), data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("security: empty padded data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, fmt.Errorf("security: invalid padding")
	}
	return data[:len(data)-padLen], nil
}
