package ibe

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// sigmaSize is the size of the FullIdent random seed.
	sigmaSize = 32

	// pointSize is the size of the compressed ephemeral G1 point U.
	pointSize = 48
)

// BLAKE3 key-derivation contexts for the FullIdent random oracles.
const (
	// contextMask is H2: pairing value -> sigma mask.
	contextMask = "TlockAuction 2024-01 ibe pairing mask"

	// contextNonce is H3: (binding, sigma, share) -> r.
	contextNonce = "TlockAuction 2024-01 ibe nonce scalar"

	// contextShare is H4: sigma -> share mask.
	contextShare = "TlockAuction 2024-01 ibe share mask"
)

// scalarOrder is the order r of the BLS12-381 prime subgroups.
var scalarOrder, _ = new(big.Int).SetString("73eda753299d7d483339d80809a1d80553bda402fffe5bfeffffffff00000001", 16)

// sealed is one FullIdent ciphertext (U, V, W).
type sealed struct {
	u [pointSize]byte // u is r·G1, compressed
	v [sigmaSize]byte // v masks sigma with the pairing value
	w [shareSize]byte // w masks the share with H4(sigma)
}

// sealShare encrypts a share value to identity. bind is authenticated
// material (public params and component header) mixed into r.
func sealShare(pp *PublicParams, identity, bind []byte, value [shareSize]byte, rng io.Reader) (sealed, error) {
	var out sealed

	var sigma [sigmaSize]byte
	if _, err := io.ReadFull(rng, sigma[:]); err != nil {
		return out, fmt.Errorf("read sigma:\n%w", err)
	}

	r, err := deriveNonce(bind, sigma[:], value[:])
	if err != nil {
		return out, err
	}

	// r·H(id) is a signature of the identity under r.
	rq := new(blst.P2Affine).Sign(r, identity, identityDST)
	gt := pairing(rq, pp.point)

	copy(out.u[:], new(blst.P1Affine).From(r).Compress())
	xorInto(out.v[:], sigma[:], maskSigma(gt))
	xorInto(out.w[:], value[:], maskShare(sigma[:]))

	return out, nil
}

// openShare decrypts a FullIdent ciphertext with the identity key and checks
// that it was formed honestly. It returns false on any integrity failure.
func openShare(key *blst.P2Affine, bind []byte, c sealed) ([shareSize]byte, bool) {
	var value [shareSize]byte

	u := new(blst.P1Affine).Uncompress(c.u[:])
	if u == nil || !u.InG1() {
		return value, false
	}

	gt := pairing(key, u)

	var sigma [sigmaSize]byte
	xorInto(sigma[:], c.v[:], maskSigma(gt))
	xorInto(value[:], c.w[:], maskShare(sigma[:]))

	r, err := deriveNonce(bind, sigma[:], value[:])
	if err != nil {
		return value, false
	}

	if !bytes.Equal(new(blst.P1Affine).From(r).Compress(), c.u[:]) {
		return value, false
	}

	return value, true
}

// pairing computes e(p, q) and returns its canonical big-endian encoding.
func pairing(q *blst.P2Affine, p *blst.P1Affine) []byte {
	gt := blst.Fp12MillerLoop(q, p)
	gt.FinalExp()

	return gt.ToBendian()
}

// maskSigma is H2: a 32-byte mask derived from a pairing value.
func maskSigma(gt []byte) []byte {
	out := make([]byte, sigmaSize)
	blake3.DeriveKey(contextMask, gt, out)

	return out
}

// maskShare is H4: a share-sized mask derived from sigma.
func maskShare(sigma []byte) []byte {
	out := make([]byte, shareSize)
	blake3.DeriveKey(contextShare, sigma, out)

	return out
}

// deriveNonce is H3: maps (bind, sigma, share) to a non-zero scalar.
func deriveNonce(bind, sigma, value []byte) (*blst.SecretKey, error) {
	material := make([]byte, 0, 4+len(bind)+len(sigma)+len(value))

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(bind)))
	material = append(material, lenBuf[:]...)
	material = append(material, bind...)
	material = append(material, sigma...)
	material = append(material, value...)

	wide := make([]byte, 64)
	blake3.DeriveKey(contextNonce, material, wide)

	n := new(big.Int).SetBytes(wide)
	n.Mod(n, scalarOrder)

	var buf [32]byte
	n.FillBytes(buf[:])

	r := new(blst.SecretKey).Deserialize(buf[:])
	if r == nil {
		return nil, fmt.Errorf("derived nonce is zero")
	}

	return r, nil
}

// xorInto writes a XOR b into dst. All three slices have the same length.
func xorInto(dst, a, b []byte) {
	for i := range dst {
		dst[i] = a[i] ^ b[i]
	}
}
