// Package timelock seals payloads so they open only once enough slots have elapsed.
//
// A payload is encrypted under a fresh symmetric key, and the key is sealed
// in an IBE capsule addressed to the identities of a slot schedule. Opening
// the payload needs the slot secrets of at least threshold scheduled slots.
package timelock

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"TlockAuction/internal/ibe"
	"TlockAuction/internal/symmetric"
)

// slotIdentityPrefix namespaces slot identities.
var slotIdentityPrefix = []byte("tlock-slot:")

// Slot identifies a discrete unit of the external clock.
type Slot uint64

// SlotSecret is the identity key of a slot, published once the slot elapsed.
type SlotSecret struct {
	Slot Slot   // Slot is the elapsed slot
	Key  []byte // Key is the compressed IBE identity key of the slot
}

// Sealed is a time-locked payload.
type Sealed struct {
	Ciphertext []byte   // Ciphertext is the AEAD-sealed payload
	Nonce      []byte   // Nonce is the AEAD nonce
	Capsule    [][]byte // Capsule holds one IBE component per scheduled slot
}

// SlotIdentity returns the IBE identity of a slot: "tlock-slot:" + u64 big-endian.
func SlotIdentity(slot Slot) []byte {
	id := make([]byte, len(slotIdentityPrefix)+8)
	copy(id, slotIdentityPrefix)
	binary.BigEndian.PutUint64(id[len(slotIdentityPrefix):], uint64(slot))

	return id
}

// ExtractSlotSecret derives the secret of a slot from the master secret.
func ExtractSlotSecret(msk *ibe.MasterSecret, slot Slot) SlotSecret {
	return SlotSecret{Slot: slot, Key: ibe.Extract(msk, SlotIdentity(slot))}
}

// VerifySlotSecret checks a slot secret against the public parameters.
func VerifySlotSecret(pp *ibe.PublicParams, secret SlotSecret) bool {
	return ibe.VerifyIdentityKey(pp, SlotIdentity(secret.Slot), secret.Key)
}

// Engine seals and opens payloads with a given symmetric cipher.
type Engine struct {
	cipher symmetric.Cipher // cipher seals the payload under the per-payload key
}

// NewEngine creates an engine using cipher. A nil cipher selects AES-GCM.
func NewEngine(cipher symmetric.Cipher) *Engine {
	if cipher == nil {
		cipher = symmetric.AESGCM{}
	}

	return &Engine{cipher: cipher}
}

// Cipher returns the engine's symmetric cipher.
func (e *Engine) Cipher() symmetric.Cipher {
	return e.cipher
}

// Encrypt seals msg for schedule with the given threshold.
// A nil rng uses crypto/rand.
func (e *Engine) Encrypt(pp *ibe.PublicParams, msg []byte, schedule []Slot, threshold int, rng io.Reader) (*Sealed, error) {
	if rng == nil {
		rng = rand.Reader
	}

	key, err := symmetric.NewKey(rng)
	if err != nil {
		return nil, err
	}

	ciphertext, nonce, err := e.cipher.Seal(key, msg, rng)
	if err != nil {
		return nil, fmt.Errorf("seal payload:\n%w", err)
	}

	identities := make([][]byte, len(schedule))
	for i, slot := range schedule {
		identities[i] = SlotIdentity(slot)
	}

	capsule, err := ibe.Encrypt(pp, identities, threshold, key, rng)
	if err != nil {
		return nil, fmt.Errorf("seal key:\n%w", err)
	}

	return &Sealed{Ciphertext: ciphertext, Nonce: nonce, Capsule: capsule}, nil
}

// Decrypt opens a sealed payload with the available slot secrets.
// IBE errors (ibe.ErrInsufficientShares, ibe.ErrCapsuleMismatch) and
// symmetric.ErrAuthenticationFailed are returned wrapped, never replaced.
func (e *Engine) Decrypt(pp *ibe.PublicParams, sealed *Sealed, secrets []SlotSecret) ([]byte, error) {
	keys := make(map[string][]byte, len(secrets))
	for _, s := range secrets {
		keys[string(SlotIdentity(s.Slot))] = s.Key
	}

	key, err := ibe.Decrypt(pp, sealed.Capsule, keys)
	if err != nil {
		return nil, fmt.Errorf("recover key:\n%w", err)
	}

	msg, err := e.cipher.Open(key, sealed.Nonce, sealed.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("open payload:\n%w", err)
	}

	return msg, nil
}

// CheckSchedule returns ibe.ErrCapsuleMismatch unless the capsule holds one
// component per scheduled slot, in schedule order, each requiring threshold shares.
func (s *Sealed) CheckSchedule(schedule []Slot, threshold int) error {
	if len(s.Capsule) != len(schedule) {
		return fmt.Errorf("capsule of %d components for %d slots:\n%w", len(s.Capsule), len(schedule), ibe.ErrCapsuleMismatch)
	}

	for i, raw := range s.Capsule {
		c, err := ibe.ParseComponent(raw)
		if err != nil {
			return fmt.Errorf("component %d:\n%w", i, err)
		}

		if !bytes.Equal(c.Identity, SlotIdentity(schedule[i])) {
			return fmt.Errorf("component %d not sealed to slot %d:\n%w", i, schedule[i], ibe.ErrCapsuleMismatch)
		}

		if int(c.Threshold) != threshold {
			return fmt.Errorf("component %d threshold %d, want %d:\n%w", i, c.Threshold, threshold, ibe.ErrCapsuleMismatch)
		}
	}

	return nil
}

// defaultEngine uses AES-GCM.
var defaultEngine = NewEngine(nil)

// Encrypt seals msg with AES-GCM. See Engine.Encrypt.
func Encrypt(pp *ibe.PublicParams, msg []byte, schedule []Slot, threshold int, rng io.Reader) (*Sealed, error) {
	return defaultEngine.Encrypt(pp, msg, schedule, threshold, rng)
}

// Decrypt opens an AES-GCM sealed payload. See Engine.Decrypt.
func Decrypt(pp *ibe.PublicParams, sealed *Sealed, secrets []SlotSecret) ([]byte, error) {
	return defaultEngine.Decrypt(pp, sealed, secrets)
}
