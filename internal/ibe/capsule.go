package ibe

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// ErrInvalidMessage is returned when the message is empty or longer than MaxMessageSize.
var ErrInvalidMessage = errors.New("invalid message size")

// ErrDuplicateIdentity is returned when an identity appears twice in one capsule.
var ErrDuplicateIdentity = errors.New("duplicate identity")

// Component is the part of a capsule sealed to a single identity.
type Component struct {
	Identity  []byte // Identity is the identity the share is sealed to
	Index     uint32 // Index is the share evaluation point (1-based)
	Threshold uint8  // Threshold is the number of shares needed to recover the message
	MsgLen    uint8  // MsgLen is the recovered message length in bytes
	ct        sealed // ct is the FullIdent ciphertext of the share
}

// Encrypt seals msg so that any threshold of the identities' keys recover it.
// The returned capsule holds one encoded component per identity, in order.
func Encrypt(pp *PublicParams, identities [][]byte, threshold int, msg []byte, rng io.Reader) ([][]byte, error) {
	if rng == nil {
		rng = rand.Reader
	}

	if threshold < 1 || threshold > len(identities) || threshold > 255 {
		return nil, fmt.Errorf("threshold %d of %d:\n%w", threshold, len(identities), ErrInvalidThreshold)
	}

	if len(msg) == 0 || len(msg) > MaxMessageSize {
		return nil, fmt.Errorf("message of %d bytes:\n%w", len(msg), ErrInvalidMessage)
	}

	seen := make(map[string]bool, len(identities))
	for _, id := range identities {
		if seen[string(id)] {
			return nil, fmt.Errorf("identity %x:\n%w", id, ErrDuplicateIdentity)
		}
		seen[string(id)] = true
	}

	secret := new(big.Int).SetBytes(msg)

	shares, err := splitSecret(secret, len(identities), threshold, rng)
	if err != nil {
		return nil, fmt.Errorf("split secret:\n%w", err)
	}

	capsule := make([][]byte, len(identities))

	for i, id := range identities {
		c := Component{
			Identity:  append([]byte(nil), id...),
			Index:     shares[i].x,
			Threshold: uint8(threshold),
			MsgLen:    uint8(len(msg)),
		}

		c.ct, err = sealShare(pp, id, c.binding(pp), encodeShareValue(shares[i].y), rng)
		if err != nil {
			return nil, fmt.Errorf("seal share %d:\n%w", i, err)
		}

		capsule[i] = c.Encode()
	}

	return capsule, nil
}

// Decrypt recovers the message from a capsule. keys maps identity bytes
// (as string) to identity keys; components without a key are skipped.
//
// Components that fail to parse or to open count as mismatches. When fewer
// than threshold shares open, Decrypt returns ErrCapsuleMismatch if any
// mismatch was seen and ErrInsufficientShares otherwise.
func Decrypt(pp *PublicParams, capsule [][]byte, keys map[string][]byte) ([]byte, error) {
	var (
		shares     []share
		threshold  int
		msgLen     int
		mismatches int
		used       = make(map[uint32]bool)
	)

	for _, raw := range capsule {
		c, err := ParseComponent(raw)
		if err != nil {
			mismatches++
			continue
		}

		if threshold == 0 {
			threshold = int(c.Threshold)
			msgLen = int(c.MsgLen)
		} else if int(c.Threshold) != threshold || int(c.MsgLen) != msgLen {
			mismatches++
			continue
		}

		keyBytes, ok := keys[string(c.Identity)]
		if !ok || used[c.Index] {
			continue
		}

		key, err := parseIdentityKey(keyBytes)
		if err != nil {
			mismatches++
			continue
		}

		value, ok := openShare(key, c.binding(pp), c.ct)
		if !ok {
			mismatches++
			continue
		}

		y, ok := decodeShareValue(value[:])
		if !ok {
			mismatches++
			continue
		}

		used[c.Index] = true
		shares = append(shares, share{x: c.Index, y: y})

		if len(shares) == threshold {
			break
		}
	}

	if threshold == 0 || len(shares) < threshold {
		if mismatches > 0 {
			return nil, fmt.Errorf("%d of %d shares opened, %d components rejected:\n%w",
				len(shares), threshold, mismatches, ErrCapsuleMismatch)
		}

		return nil, fmt.Errorf("%d of %d shares opened:\n%w", len(shares), threshold, ErrInsufficientShares)
	}

	secret, err := combineShares(shares)
	if err != nil {
		return nil, fmt.Errorf("combine shares: %v:\n%w", err, ErrCapsuleMismatch)
	}

	if secret.BitLen() > 8*msgLen {
		return nil, fmt.Errorf("recovered value exceeds %d bytes:\n%w", msgLen, ErrCapsuleMismatch)
	}

	msg := make([]byte, msgLen)
	secret.FillBytes(msg)

	return msg, nil
}

// Encode serializes the component.
// Format: u32 id_len + id + u32 index + u8 threshold + u8 msg_len + U[48] + V[32] + W[66]
func (c *Component) Encode() []byte {
	buf := c.header()
	buf = append(buf, c.ct.u[:]...)
	buf = append(buf, c.ct.v[:]...)
	buf = append(buf, c.ct.w[:]...)

	return buf
}

// ParseComponent decodes a component produced by Encode.
func ParseComponent(data []byte) (*Component, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("component too short:\n%w", ErrCapsuleMismatch)
	}

	idLen := int(binary.LittleEndian.Uint32(data[0:4]))
	want := 4 + idLen + 4 + 1 + 1 + pointSize + sigmaSize + shareSize

	if idLen > len(data) || len(data) != want {
		return nil, fmt.Errorf("component length %d, want %d:\n%w", len(data), want, ErrCapsuleMismatch)
	}

	c := &Component{}
	c.Identity = make([]byte, idLen)
	copy(c.Identity, data[4:4+idLen])

	offset := 4 + idLen
	c.Index = binary.LittleEndian.Uint32(data[offset : offset+4])
	c.Threshold = data[offset+4]
	c.MsgLen = data[offset+5]
	offset += 6

	if c.Index == 0 || c.Threshold == 0 || c.MsgLen == 0 || c.MsgLen > MaxMessageSize {
		return nil, fmt.Errorf("invalid component header:\n%w", ErrCapsuleMismatch)
	}

	offset += copy(c.ct.u[:], data[offset:])
	offset += copy(c.ct.v[:], data[offset:])
	copy(c.ct.w[:], data[offset:])

	return c, nil
}

// header encodes the authenticated component header.
func (c *Component) header() []byte {
	buf := make([]byte, 0, 4+len(c.Identity)+6+pointSize+sigmaSize+shareSize)

	var u32 [4]byte
	binary.LittleEndian.PutUint32(u32[:], uint32(len(c.Identity)))
	buf = append(buf, u32[:]...)
	buf = append(buf, c.Identity...)

	binary.LittleEndian.PutUint32(u32[:], c.Index)
	buf = append(buf, u32[:]...)
	buf = append(buf, c.Threshold, c.MsgLen)

	return buf
}

// binding is the material authenticated by the FullIdent nonce: the public
// params and the header. Opening under other params fails the check.
func (c *Component) binding(pp *PublicParams) []byte {
	hdr := c.header()

	out := make([]byte, 0, len(pp.raw)+len(hdr))
	out = append(out, pp.raw...)

	return append(out, hdr...)
}
