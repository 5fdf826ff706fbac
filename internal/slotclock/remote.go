package slotclock

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"TlockAuction/internal/beacon"
	"TlockAuction/internal/ibe"
	"TlockAuction/internal/logger"
	"TlockAuction/internal/network"
	"TlockAuction/internal/timelock"
)

const (
	// defaultQueryTimeout bounds queries made through the SlotClock methods.
	defaultQueryTimeout = 5 * time.Second

	// maxCachedSecrets bounds the secret cache.
	maxCachedSecrets = 4096
)

// ErrInvalidSecret is returned when the beacon serves a secret that does not verify.
var ErrInvalidSecret = errors.New("slot secret does not verify")

// RemoteConfig configures a Remote clock.
type RemoteConfig struct {
	Addr         string             // Addr is the beacon's QUIC address
	Key          ed25519.PrivateKey // Key identifies this node to the beacon
	PublicParams []byte             // PublicParams pins the beacon; fetched from the beacon when empty
	Timeout      time.Duration      // Timeout bounds SlotClock queries
}

// Remote is a slot clock backed by a beacon node over QUIC.
//
// Announced secrets are verified and cached, so IsElapsed and SecretFor
// usually answer without a round trip.
type Remote struct {
	node    *network.Node
	timeout time.Duration

	mu      sync.RWMutex
	params  *ibe.PublicParams
	peer    *network.Peer
	secrets map[timelock.Slot][]byte
	latest  timelock.Slot
	seen    bool // seen is set once any slot is known to have elapsed
}

// DialRemote connects to a beacon.
func DialRemote(ctx context.Context, cfg RemoteConfig) (*Remote, error) {
	node, err := network.NewNode(network.Config{Key: cfg.Key})
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}

	r := &Remote{
		node:    node,
		timeout: timeout,
		secrets: make(map[timelock.Slot][]byte),
	}

	if len(cfg.PublicParams) > 0 {
		if r.params, err = ibe.ParsePublicParams(cfg.PublicParams); err != nil {
			node.Close()
			return nil, err
		}
	}

	node.OnConnect(func(p *network.Peer) {
		r.mu.Lock()
		r.peer = p
		r.mu.Unlock()
	})
	node.OnMessage(func(_ *network.Peer, data []byte) {
		r.onAnnouncement(data)
	})

	if _, err := node.Dial(ctx, cfg.Addr); err != nil {
		node.Close()
		return nil, err
	}

	if r.params == nil {
		raw, err := r.query(ctx, beacon.Request{Op: beacon.OpParams})
		if err != nil {
			node.Close()
			return nil, fmt.Errorf("fetch beacon params:\n%w", err)
		}

		pp, err := ibe.ParsePublicParams(raw)
		if err != nil {
			node.Close()
			return nil, err
		}

		r.mu.Lock()
		r.params = pp
		r.mu.Unlock()

		logger.Warn("beacon params not pinned, trusting beacon",
			"addr", cfg.Addr,
			"params", hex.EncodeToString(raw),
		)
	}

	return r, nil
}

// PublicParams returns the beacon parameters.
func (r *Remote) PublicParams() *ibe.PublicParams {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.params
}

// IsElapsed reports whether slot elapsed. Query failures read as not elapsed.
func (r *Remote) IsElapsed(slot timelock.Slot) bool {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	elapsed, err := r.IsElapsedContext(ctx, slot)
	if err != nil {
		logger.Warn("beacon query failed", "slot", slot, "error", err)
		return false
	}

	return elapsed
}

// IsElapsedContext reports whether slot elapsed, asking the beacon when the cache cannot tell.
func (r *Remote) IsElapsedContext(ctx context.Context, slot timelock.Slot) (bool, error) {
	r.mu.RLock()
	known := r.seen && slot <= r.latest
	r.mu.RUnlock()

	if known {
		return true, nil
	}

	payload, err := r.query(ctx, beacon.Request{Op: beacon.OpIsElapsed, Slot: slot})
	if err != nil {
		return false, err
	}

	if len(payload) != 1 {
		return false, beacon.ErrMalformedMessage
	}

	if payload[0] == 1 {
		r.markElapsed(slot)
	}

	return payload[0] == 1, nil
}

// SecretFor returns a verified slot secret.
func (r *Remote) SecretFor(slot timelock.Slot) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	return r.SecretForContext(ctx, slot)
}

// SecretForContext returns a verified slot secret, fetching it when not cached.
func (r *Remote) SecretForContext(ctx context.Context, slot timelock.Slot) ([]byte, error) {
	r.mu.RLock()
	key, ok := r.secrets[slot]
	r.mu.RUnlock()

	if ok {
		return key, nil
	}

	key, err := r.query(ctx, beacon.Request{Op: beacon.OpSecretFor, Slot: slot})
	if err != nil {
		return nil, err
	}

	secret := timelock.SlotSecret{Slot: slot, Key: key}
	if !timelock.VerifySlotSecret(r.PublicParams(), secret) {
		return nil, fmt.Errorf("slot %d:\n%w", slot, ErrInvalidSecret)
	}

	r.store(secret)

	return key, nil
}

// Close disconnects from the beacon.
func (r *Remote) Close() error {
	return r.node.Close()
}

// query sends one request and returns the payload of a successful response.
func (r *Remote) query(ctx context.Context, req beacon.Request) ([]byte, error) {
	r.mu.RLock()
	p := r.peer
	r.mu.RUnlock()

	if p == nil {
		return nil, fmt.Errorf("not connected to beacon")
	}

	raw, err := p.Request(ctx, req.Encode())
	if err != nil {
		return nil, err
	}

	resp, err := beacon.DecodeResponse(raw)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case beacon.StatusOK:
		return resp.Payload, nil
	case beacon.StatusNotElapsed:
		return nil, fmt.Errorf("slot %d:\n%w", req.Slot, ErrSlotNotElapsed)
	default:
		return nil, fmt.Errorf("beacon rejected request (status %d)", resp.Status)
	}
}

// onAnnouncement caches a pushed secret once it verifies.
func (r *Remote) onAnnouncement(data []byte) {
	secret, err := beacon.DecodeAnnouncement(data)
	if err != nil {
		logger.Debug("bad announcement", "error", err)
		return
	}

	pp := r.PublicParams()
	if pp == nil || !timelock.VerifySlotSecret(pp, secret) {
		logger.Warn("dropping unverifiable announcement", "slot", secret.Slot)
		return
	}

	r.store(secret)
}

func (r *Remote) store(secret timelock.SlotSecret) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.secrets[secret.Slot] = secret.Key
	r.markElapsedLocked(secret.Slot)

	if len(r.secrets) > maxCachedSecrets {
		for slot := range r.secrets {
			if slot+maxCachedSecrets/2 < r.latest {
				delete(r.secrets, slot)
			}
		}
	}
}

func (r *Remote) markElapsed(slot timelock.Slot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.markElapsedLocked(slot)
}

// markElapsedLocked raises the elapsed watermark. Slots elapse in order.
func (r *Remote) markElapsedLocked(slot timelock.Slot) {
	if !r.seen || slot > r.latest {
		r.latest = slot
		r.seen = true
	}
}
