package symmetric

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func suites() []Cipher {
	return []Cipher{AESGCM{}, XChaCha20{}}
}

func TestSealOpen(t *testing.T) {
	for _, c := range suites() {
		t.Run(c.Name(), func(t *testing.T) {
			key, err := NewKey(rand.Reader)
			if err != nil {
				t.Fatalf("new key: %v", err)
			}

			msg := []byte(`{"amount":42}`)

			ct, nonce, err := c.Seal(key, msg, rand.Reader)
			if err != nil {
				t.Fatalf("seal: %v", err)
			}

			if len(nonce) != c.NonceSize() {
				t.Errorf("nonce size: got %d, want %d", len(nonce), c.NonceSize())
			}

			got, err := c.Open(key, nonce, ct)
			if err != nil {
				t.Fatalf("open: %v", err)
			}

			if !bytes.Equal(got, msg) {
				t.Errorf("plaintext: got %q, want %q", got, msg)
			}
		})
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	for _, c := range suites() {
		t.Run(c.Name(), func(t *testing.T) {
			key, _ := NewKey(rand.Reader)
			otherKey, _ := NewKey(rand.Reader)

			ct, nonce, err := c.Seal(key, []byte("sealed bid"), rand.Reader)
			if err != nil {
				t.Fatalf("seal: %v", err)
			}

			tampered := append([]byte(nil), ct...)
			tampered[0] ^= 0x01

			if _, err := c.Open(key, nonce, tampered); !errors.Is(err, ErrAuthenticationFailed) {
				t.Errorf("tampered ciphertext: got %v, want ErrAuthenticationFailed", err)
			}

			if _, err := c.Open(otherKey, nonce, ct); !errors.Is(err, ErrAuthenticationFailed) {
				t.Errorf("wrong key: got %v, want ErrAuthenticationFailed", err)
			}

			if _, err := c.Open(key, nonce[:len(nonce)-1], ct); !errors.Is(err, ErrAuthenticationFailed) {
				t.Errorf("short nonce: got %v, want ErrAuthenticationFailed", err)
			}
		})
	}
}

func TestInvalidKeySize(t *testing.T) {
	for _, c := range suites() {
		if _, _, err := c.Seal(make([]byte, 16), []byte("x"), rand.Reader); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("%s: got %v, want ErrInvalidKey", c.Name(), err)
		}
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", SuiteAESGCM, SuiteXChaCha20} {
		if _, err := ByName(name); err != nil {
			t.Errorf("ByName(%q): %v", name, err)
		}
	}

	if _, err := ByName("rot13"); !errors.Is(err, ErrUnknownSuite) {
		t.Errorf("unknown suite: got %v", err)
	}
}
