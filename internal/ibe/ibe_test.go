package ibe

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"testing"
)

// newTestParams derives deterministic parameters for tests.
func newTestParams(t *testing.T, label string) (*PublicParams, *MasterSecret) {
	t.Helper()

	seed := make([]byte, 32)
	copy(seed, label)

	pp, msk, err := SetupFromSeed(seed)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	return pp, msk
}

// testIdentities returns n distinct identities.
func testIdentities(n int) [][]byte {
	ids := make([][]byte, n)
	for i := range ids {
		ids[i] = []byte(fmt.Sprintf("slot-%d", i+1))
	}

	return ids
}

// extractKeys returns identity keys for the selected identity indices.
func extractKeys(msk *MasterSecret, ids [][]byte, pick ...int) map[string][]byte {
	keys := make(map[string][]byte, len(pick))
	for _, i := range pick {
		keys[string(ids[i])] = Extract(msk, ids[i])
	}

	return keys
}

func TestSetupRoundTrip(t *testing.T) {
	pp, msk, err := Setup(rand.Reader)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	if len(pp.Bytes()) != PublicParamsSize {
		t.Errorf("params size: got %d, want %d", len(pp.Bytes()), PublicParamsSize)
	}

	parsedPP, err := ParsePublicParams(pp.Bytes())
	if err != nil {
		t.Fatalf("parse params: %v", err)
	}

	if !bytes.Equal(parsedPP.Bytes(), pp.Bytes()) {
		t.Error("parsed params differ")
	}

	parsedMSK, err := ParseMasterSecret(msk.Bytes())
	if err != nil {
		t.Fatalf("parse master secret: %v", err)
	}

	if !bytes.Equal(parsedMSK.PublicParams().Bytes(), pp.Bytes()) {
		t.Error("master secret does not derive the same params")
	}
}

func TestSetupFromSeedDeterministic(t *testing.T) {
	pp1, _ := newTestParams(t, "seed")
	pp2, _ := newTestParams(t, "seed")

	if !bytes.Equal(pp1.Bytes(), pp2.Bytes()) {
		t.Error("same seed should give same params")
	}

	if _, _, err := SetupFromSeed([]byte("short")); err == nil {
		t.Error("short seed should be rejected")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := ParsePublicParams(make([]byte, PublicParamsSize)); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("zero params: got %v", err)
	}

	if _, err := ParsePublicParams([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidParams) {
		t.Errorf("short params: got %v", err)
	}

	if _, err := ParseMasterSecret(make([]byte, MasterSecretSize)); !errors.Is(err, ErrInvalidMasterSecret) {
		t.Errorf("zero master secret: got %v", err)
	}
}

func TestExtractVerifies(t *testing.T) {
	pp, msk := newTestParams(t, "extract")
	otherPP, _ := newTestParams(t, "other")

	id := []byte("slot-7")
	key := Extract(msk, id)

	if len(key) != IdentityKeySize {
		t.Fatalf("key size: got %d, want %d", len(key), IdentityKeySize)
	}

	if !VerifyIdentityKey(pp, id, key) {
		t.Error("identity key should verify")
	}

	if VerifyIdentityKey(pp, []byte("slot-8"), key) {
		t.Error("key should not verify for another identity")
	}

	if VerifyIdentityKey(otherPP, id, key) {
		t.Error("key should not verify under other params")
	}
}

func TestCapsuleRoundTrip(t *testing.T) {
	pp, msk := newTestParams(t, "roundtrip")
	ids := testIdentities(5)
	msg := []byte("0123456789abcdef0123456789abcdef")

	capsule, err := Encrypt(pp, ids, 3, msg, rand.Reader)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if len(capsule) != len(ids) {
		t.Fatalf("components: got %d, want %d", len(capsule), len(ids))
	}

	subsets := [][]int{{0, 1, 2}, {2, 3, 4}, {0, 2, 4}, {0, 1, 2, 3, 4}}

	for _, subset := range subsets {
		got, err := Decrypt(pp, capsule, extractKeys(msk, ids, subset...))
		if err != nil {
			t.Fatalf("decrypt with %v: %v", subset, err)
		}

		if !bytes.Equal(got, msg) {
			t.Errorf("decrypt with %v: got %x, want %x", subset, got, msg)
		}
	}
}

func TestCapsuleKeepsLeadingZeros(t *testing.T) {
	pp, msk := newTestParams(t, "zeros")
	ids := testIdentities(2)
	msg := []byte{0, 0, 0, 1, 2, 3}

	capsule, err := Encrypt(pp, ids, 1, msg, rand.Reader)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	got, err := Decrypt(pp, capsule, extractKeys(msk, ids, 1))
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	if !bytes.Equal(got, msg) {
		t.Errorf("got %x, want %x", got, msg)
	}
}

func TestCapsuleInsufficientShares(t *testing.T) {
	pp, msk := newTestParams(t, "insufficient")
	ids := testIdentities(3)

	capsule, err := Encrypt(pp, ids, 2, []byte("symmetric key material"), rand.Reader)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	for _, keys := range []map[string][]byte{
		{},
		extractKeys(msk, ids, 0),
		{"unrelated": Extract(msk, []byte("unrelated"))},
	} {
		if _, err := Decrypt(pp, capsule, keys); !errors.Is(err, ErrInsufficientShares) {
			t.Errorf("keys %d: got %v, want ErrInsufficientShares", len(keys), err)
		}
	}
}

func TestCapsuleInvalidThreshold(t *testing.T) {
	pp, _ := newTestParams(t, "threshold")
	ids := testIdentities(3)

	for _, threshold := range []int{0, 4, -1} {
		if _, err := Encrypt(pp, ids, threshold, []byte("m"), rand.Reader); !errors.Is(err, ErrInvalidThreshold) {
			t.Errorf("threshold %d: got %v, want ErrInvalidThreshold", threshold, err)
		}
	}
}

func TestCapsuleRejectsBadInput(t *testing.T) {
	pp, _ := newTestParams(t, "input")
	ids := testIdentities(2)

	if _, err := Encrypt(pp, ids, 1, nil, rand.Reader); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("empty message: got %v", err)
	}

	if _, err := Encrypt(pp, ids, 1, make([]byte, MaxMessageSize+1), rand.Reader); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("long message: got %v", err)
	}

	dup := [][]byte{[]byte("a"), []byte("a")}
	if _, err := Encrypt(pp, dup, 1, []byte("m"), rand.Reader); !errors.Is(err, ErrDuplicateIdentity) {
		t.Errorf("duplicate identity: got %v", err)
	}
}

func TestCapsuleTamperedComponent(t *testing.T) {
	pp, msk := newTestParams(t, "tamper")
	ids := testIdentities(3)

	capsule, err := Encrypt(pp, ids, 2, []byte("secret"), rand.Reader)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	tampered := make([][]byte, len(capsule))
	for i := range capsule {
		tampered[i] = append([]byte(nil), capsule[i]...)
	}
	tampered[1][len(tampered[1])-1] ^= 0xff

	// Keys for the tampered component and one other: only one share opens.
	_, err = Decrypt(pp, tampered, extractKeys(msk, ids, 0, 1))
	if !errors.Is(err, ErrCapsuleMismatch) {
		t.Errorf("tampered: got %v, want ErrCapsuleMismatch", err)
	}

	// An untouched quorum still recovers the message.
	got, err := Decrypt(pp, tampered, extractKeys(msk, ids, 0, 1, 2))
	if err != nil {
		t.Fatalf("decrypt with spare share: %v", err)
	}

	if string(got) != "secret" {
		t.Errorf("got %q", got)
	}
}

func TestCapsuleWrongParams(t *testing.T) {
	pp, msk := newTestParams(t, "params")
	otherPP, _ := newTestParams(t, "params-other")
	ids := testIdentities(2)

	capsule, err := Encrypt(pp, ids, 2, []byte("secret"), rand.Reader)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := Decrypt(otherPP, capsule, extractKeys(msk, ids, 0, 1)); !errors.Is(err, ErrCapsuleMismatch) {
		t.Errorf("wrong params: got %v, want ErrCapsuleMismatch", err)
	}
}

func TestCapsuleWrongKeys(t *testing.T) {
	pp, _ := newTestParams(t, "keys")
	_, otherMSK := newTestParams(t, "keys-other")
	ids := testIdentities(2)

	capsule, err := Encrypt(pp, ids, 2, []byte("secret"), rand.Reader)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	if _, err := Decrypt(pp, capsule, extractKeys(otherMSK, ids, 0, 1)); !errors.Is(err, ErrCapsuleMismatch) {
		t.Errorf("wrong keys: got %v, want ErrCapsuleMismatch", err)
	}
}

func TestParseComponent(t *testing.T) {
	pp, _ := newTestParams(t, "component")
	ids := testIdentities(2)

	capsule, err := Encrypt(pp, ids, 2, []byte("m"), rand.Reader)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	c, err := ParseComponent(capsule[1])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if !bytes.Equal(c.Identity, ids[1]) || c.Index != 2 || c.Threshold != 2 || c.MsgLen != 1 {
		t.Errorf("header: %+v", c)
	}

	if !bytes.Equal(c.Encode(), capsule[1]) {
		t.Error("re-encoding differs")
	}

	for _, bad := range [][]byte{nil, {1, 2}, capsule[1][:len(capsule[1])-1]} {
		if _, err := ParseComponent(bad); !errors.Is(err, ErrCapsuleMismatch) {
			t.Errorf("len %d: got %v", len(bad), err)
		}
	}
}

func TestShamirCombine(t *testing.T) {
	secret := big.NewInt(123456789)

	shares, err := splitSecret(secret, 5, 3, rand.Reader)
	if err != nil {
		t.Fatalf("split: %v", err)
	}

	got, err := combineShares([]share{shares[4], shares[0], shares[2]})
	if err != nil {
		t.Fatalf("combine: %v", err)
	}

	if got.Cmp(secret) != 0 {
		t.Errorf("got %v, want %v", got, secret)
	}

	if _, err := combineShares([]share{shares[0], shares[0]}); err == nil {
		t.Error("duplicate points should fail")
	}
}
