// Package ibe implements Boneh-Franklin identity-based encryption over
// BLS12-381 and a threshold capsule built on top of it.
//
// The scheme follows the "min-pk" BLS layout: the master public key lives in
// G1 and identity keys live in G2. An identity key is therefore the BLS
// signature of the identity under the master secret, which lets any BLS
// beacon that signs slot numbers act as the key-extraction authority.
//
// A capsule seals a short message for a set of identities and a threshold t:
// the message is Shamir-shared over a prime field and share i is encrypted to
// identity i with the FullIdent construction. Any t identity keys recover the
// message; fewer reveal nothing about it.
package ibe

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	blst "github.com/supranational/blst/bindings/go"
)

const (
	// PublicParamsSize is the size of compressed public parameters (a G1 point).
	PublicParamsSize = 48

	// IdentityKeySize is the size of a compressed identity key (a G2 point).
	IdentityKeySize = 96

	// MasterSecretSize is the size of a serialized master secret scalar.
	MasterSecretSize = 32
)

// identityDST is the hash-to-G2 domain separation tag for identities.
// It matches the BLS signature ciphersuite so identity keys verify as BLS signatures.
var identityDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

var (
	// ErrInvalidThreshold is returned when the threshold is zero or exceeds the identity count.
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrInsufficientShares is returned when fewer than threshold shares can be opened.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrCapsuleMismatch is returned when capsule components are malformed,
	// tampered with, or were produced under different public parameters.
	ErrCapsuleMismatch = errors.New("capsule mismatch")

	// ErrInvalidParams is returned for unparsable public parameters.
	ErrInvalidParams = errors.New("invalid public parameters")

	// ErrInvalidMasterSecret is returned for unparsable master secrets.
	ErrInvalidMasterSecret = errors.New("invalid master secret")

	// ErrInvalidIdentityKey is returned for unparsable identity keys.
	ErrInvalidIdentityKey = errors.New("invalid identity key")
)

// PublicParams holds the master public key P = s·G1.
type PublicParams struct {
	point *blst.P1Affine // point is the master public key
	raw   []byte         // raw is the compressed encoding of point
}

// MasterSecret holds the master scalar s.
type MasterSecret struct {
	key *blst.SecretKey // key is the master scalar
}

// Setup generates fresh parameters from rng.
func Setup(rng io.Reader) (*PublicParams, *MasterSecret, error) {
	if rng == nil {
		rng = rand.Reader
	}

	var ikm [32]byte
	if _, err := io.ReadFull(rng, ikm[:]); err != nil {
		return nil, nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return SetupFromSeed(ikm[:])
}

// SetupFromSeed derives parameters deterministically from a seed of at least 32 bytes.
func SetupFromSeed(seed []byte) (*PublicParams, *MasterSecret, error) {
	if len(seed) < 32 {
		return nil, nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	key := blst.KeyGen(seed)
	if key == nil {
		return nil, nil, fmt.Errorf("failed to derive master secret")
	}

	msk := &MasterSecret{key: key}

	return msk.PublicParams(), msk, nil
}

// PublicParams derives the public parameters matching this master secret.
func (m *MasterSecret) PublicParams() *PublicParams {
	point := new(blst.P1Affine).From(m.key)

	return &PublicParams{point: point, raw: point.Compress()}
}

// Bytes returns the 32-byte big-endian master scalar.
func (m *MasterSecret) Bytes() []byte {
	return m.key.Serialize()
}

// ParseMasterSecret decodes a master secret produced by Bytes.
func ParseMasterSecret(data []byte) (*MasterSecret, error) {
	if len(data) != MasterSecretSize {
		return nil, ErrInvalidMasterSecret
	}

	key := new(blst.SecretKey).Deserialize(data)
	if key == nil {
		return nil, ErrInvalidMasterSecret
	}

	return &MasterSecret{key: key}, nil
}

// Bytes returns the compressed public parameters.
func (p *PublicParams) Bytes() []byte {
	out := make([]byte, len(p.raw))
	copy(out, p.raw)

	return out
}

// ParsePublicParams decodes and validates compressed public parameters.
func ParsePublicParams(data []byte) (*PublicParams, error) {
	if len(data) != PublicParamsSize {
		return nil, ErrInvalidParams
	}

	point := new(blst.P1Affine).Uncompress(data)
	if point == nil || !point.KeyValidate() {
		return nil, ErrInvalidParams
	}

	raw := make([]byte, len(data))
	copy(raw, data)

	return &PublicParams{point: point, raw: raw}, nil
}

// Extract returns the identity key s·H(identity), compressed.
func Extract(msk *MasterSecret, identity []byte) []byte {
	return new(blst.P2Affine).Sign(msk.key, identity, identityDST).Compress()
}

// VerifyIdentityKey reports whether key is the identity key of identity under pp.
func VerifyIdentityKey(pp *PublicParams, identity, key []byte) bool {
	sk, err := parseIdentityKey(key)
	if err != nil {
		return false
	}

	return sk.Verify(false, pp.point, false, identity, identityDST)
}

// parseIdentityKey decodes and subgroup-checks a compressed identity key.
func parseIdentityKey(key []byte) (*blst.P2Affine, error) {
	if len(key) != IdentityKeySize {
		return nil, ErrInvalidIdentityKey
	}

	point := new(blst.P2Affine).Uncompress(key)
	if point == nil || !point.SigValidate(false) {
		return nil, ErrInvalidIdentityKey
	}

	return point, nil
}
