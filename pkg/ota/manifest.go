package ota

import (
	"crypto/rsa"
	"encoding/hex"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/RPX2001/ecowatt-edge-gateway/internal/gwerrors"
)

// ManifestClaims is §4.7's manifest, carried as a signed RS256 JWT whose
// claims are the manifest fields rather than a bespoke signature
// envelope. signature_over_sha256 is the JWT's own signature, so it is
// not a separate claim.
type ManifestClaims struct {
	Version      string `json:"version"`
	TotalChunks  int    `json:"total_chunks"`
	ChunkSize    int    `json:"chunk_size"`
	CipherIVHex  string `json:"cipher_iv"`
	SHA256Hex    string `json:"sha256_of_plaintext"`
	jwt.RegisteredClaims
}

// ParseManifest verifies token's RS256 signature against publicKey and
// returns its claims. A signature or algorithm mismatch is a
// CryptoFailure; the caller must never accept a chunk against an
// unverified manifest.
func ParseManifest(token string, publicKey *rsa.PublicKey) (ManifestClaims, error) {
	var claims ManifestClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("ota: unexpected signing method %v", t.Header["alg"])
		}
		return publicKey, nil
	})
	if err != nil {
		return ManifestClaims{}, gwerrors.Wrap(gwerrors.CryptoFailure, "ota", "parse_manifest", err)
	}
	return claims, nil
}

// CipherIV decodes the manifest's hex-encoded image cipher IV.
func (m ManifestClaims) CipherIV() ([16]byte, error) {
	var iv [16]byte
	raw, err := hex.DecodeString(m.CipherIVHex)
	if err != nil || len(raw) != len(iv) {
		return iv, fmt.Errorf("ota: malformed cipher_iv")
	}
	copy(iv[:], raw)
	return iv, nil
}

// ExpectedSHA256 decodes the manifest's hex-encoded whole-image hash.
func (m ManifestClaims) ExpectedSHA256() ([32]byte, error) {
	var sum [32]byte
	raw, err := hex.DecodeString(m.SHA256Hex)
	if err != nil || len(raw) != len(sum) {
		return sum, fmt.Errorf("ota: malformed sha256_of_plaintext")
	}
	copy(sum[:], raw)
	return sum, nil
}
