package ibe

import (
	"crypto/rand"
	"fmt"
	"io"
	"math/big"
)

const (
	// shareSize is the byte length of an encoded share value (521 bits).
	shareSize = 66

	// MaxMessageSize is the largest message a capsule can carry.
	MaxMessageSize = 64
)

// shareFieldOrder is the Mersenne prime 2^521 - 1. Messages up to 512 bits
// embed directly as field elements.
var shareFieldOrder = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 521), big.NewInt(1))

// share is one evaluation of the sharing polynomial.
type share struct {
	x uint32   // x is the evaluation point (1-based)
	y *big.Int // y is the polynomial value at x
}

// splitSecret evaluates a random degree t-1 polynomial with constant term
// secret at x = 1..n.
func splitSecret(secret *big.Int, n, t int, rng io.Reader) ([]share, error) {
	coeffs := make([]*big.Int, t)
	coeffs[0] = new(big.Int).Set(secret)

	for i := 1; i < t; i++ {
		c, err := randFieldElement(rng)
		if err != nil {
			return nil, err
		}

		coeffs[i] = c
	}

	shares := make([]share, n)
	for i := 0; i < n; i++ {
		x := uint32(i + 1)
		shares[i] = share{x: x, y: evalPoly(coeffs, big.NewInt(int64(x)))}
	}

	return shares, nil
}

// evalPoly evaluates the polynomial at x with Horner's rule.
func evalPoly(coeffs []*big.Int, x *big.Int) *big.Int {
	acc := new(big.Int)

	for i := len(coeffs) - 1; i >= 0; i-- {
		acc.Mul(acc, x)
		acc.Add(acc, coeffs[i])
		acc.Mod(acc, shareFieldOrder)
	}

	return acc
}

// combineShares interpolates the polynomial at zero from exactly the given shares.
// Evaluation points must be distinct and non-zero.
func combineShares(shares []share) (*big.Int, error) {
	secret := new(big.Int)
	num := new(big.Int)
	den := new(big.Int)
	term := new(big.Int)

	for i, si := range shares {
		num.SetInt64(1)
		den.SetInt64(1)

		xi := big.NewInt(int64(si.x))

		for j, sj := range shares {
			if i == j {
				continue
			}

			xj := big.NewInt(int64(sj.x))

			// l_i(0) = prod x_j / (x_j - x_i)
			num.Mul(num, xj)
			num.Mod(num, shareFieldOrder)

			diff := new(big.Int).Sub(xj, xi)
			diff.Mod(diff, shareFieldOrder)
			den.Mul(den, diff)
			den.Mod(den, shareFieldOrder)
		}

		inv := new(big.Int).ModInverse(den, shareFieldOrder)
		if inv == nil {
			return nil, fmt.Errorf("duplicate evaluation point %d", si.x)
		}

		term.Mul(si.y, num)
		term.Mul(term, inv)
		secret.Add(secret, term)
		secret.Mod(secret, shareFieldOrder)
	}

	return secret, nil
}

// randFieldElement samples a uniform element of the share field.
func randFieldElement(rng io.Reader) (*big.Int, error) {
	v, err := rand.Int(rng, shareFieldOrder)
	if err != nil {
		return nil, fmt.Errorf("read randomness:\n%w", err)
	}

	return v, nil
}

// encodeShareValue returns y as a fixed-size big-endian field element.
func encodeShareValue(y *big.Int) [shareSize]byte {
	var out [shareSize]byte
	y.FillBytes(out[:])

	return out
}

// decodeShareValue parses a share value, rejecting non-canonical encodings.
func decodeShareValue(b []byte) (*big.Int, bool) {
	y := new(big.Int).SetBytes(b)
	if y.Cmp(shareFieldOrder) >= 0 {
		return nil, false
	}

	return y, true
}
