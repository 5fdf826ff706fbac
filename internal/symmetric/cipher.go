// Package symmetric provides the authenticated ciphers used to seal bid payloads.
//
// Every bid is sealed under its own random key and nonce. The key is later
// carried inside a time-lock capsule, so a cipher only has to be secure for a
// single message per key.
package symmetric

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the key size shared by all suites (256 bits).
	KeySize = 32

	// SuiteAESGCM names AES-256-GCM.
	SuiteAESGCM = "aes-gcm"

	// SuiteXChaCha20 names XChaCha20-Poly1305.
	SuiteXChaCha20 = "xchacha20poly1305"
)

var (
	// ErrAuthenticationFailed is returned when a ciphertext does not verify
	// under the given key and nonce.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrInvalidKey is returned for keys of the wrong size.
	ErrInvalidKey = errors.New("invalid key size")

	// ErrUnknownSuite is returned by ByName for unsupported suites.
	ErrUnknownSuite = errors.New("unknown cipher suite")
)

// Cipher seals and opens payloads with an AEAD construction.
type Cipher interface {
	// Name returns the suite name used in configuration.
	Name() string

	// NonceSize returns the nonce length in bytes.
	NonceSize() int

	// Seal encrypts plaintext under key with a fresh nonce read from rng.
	Seal(key, plaintext []byte, rng io.Reader) (ciphertext, nonce []byte, err error)

	// Open decrypts and authenticates ciphertext.
	Open(key, nonce, ciphertext []byte) ([]byte, error)
}

// ByName resolves a suite name to a Cipher. An empty name selects AES-GCM.
func ByName(name string) (Cipher, error) {
	switch name {
	case "", SuiteAESGCM:
		return AESGCM{}, nil
	case SuiteXChaCha20:
		return XChaCha20{}, nil
	default:
		return nil, fmt.Errorf("suite %q:\n%w", name, ErrUnknownSuite)
	}
}

// NewKey reads a fresh random key from rng.
func NewKey(rng io.Reader) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rng, key); err != nil {
		return nil, fmt.Errorf("read key:\n%w", err)
	}

	return key, nil
}

// AESGCM is AES-256 in Galois/Counter mode with a 96-bit nonce.
type AESGCM struct{}

// Name returns the suite name.
func (AESGCM) Name() string { return SuiteAESGCM }

// NonceSize returns 12.
func (AESGCM) NonceSize() int { return 12 }

// Seal encrypts plaintext under key.
func (c AESGCM) Seal(key, plaintext []byte, rng io.Reader) ([]byte, []byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	return seal(aead, plaintext, rng)
}

// Open decrypts ciphertext under key and nonce.
func (c AESGCM) Open(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	return open(aead, nonce, ciphertext)
}

// newGCM builds the AES-GCM AEAD for a 32-byte key.
func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes cipher:\n%w", err)
	}

	return cipher.NewGCM(block)
}

// XChaCha20 is XChaCha20-Poly1305 with a 192-bit nonce.
type XChaCha20 struct{}

// Name returns the suite name.
func (XChaCha20) Name() string { return SuiteXChaCha20 }

// NonceSize returns 24.
func (XChaCha20) NonceSize() int { return chacha20poly1305.NonceSizeX }

// Seal encrypts plaintext under key.
func (c XChaCha20) Seal(key, plaintext []byte, rng io.Reader) ([]byte, []byte, error) {
	if len(key) != KeySize {
		return nil, nil, ErrInvalidKey
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("xchacha20 cipher:\n%w", err)
	}

	return seal(aead, plaintext, rng)
}

// Open decrypts ciphertext under key and nonce.
func (c XChaCha20) Open(key, nonce, ciphertext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("xchacha20 cipher:\n%w", err)
	}

	return open(aead, nonce, ciphertext)
}

// seal draws a nonce from rng and encrypts with aead.
func seal(aead cipher.AEAD, plaintext []byte, rng io.Reader) ([]byte, []byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rng, nonce); err != nil {
		return nil, nil, fmt.Errorf("read nonce:\n%w", err)
	}

	return aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// open maps every AEAD failure, including a malformed nonce, to ErrAuthenticationFailed.
func open(aead cipher.AEAD, nonce, ciphertext []byte) ([]byte, error) {
	if len(nonce) != aead.NonceSize() {
		return nil, ErrAuthenticationFailed
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthenticationFailed
	}

	return plaintext, nil
}
