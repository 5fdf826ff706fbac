package beacon

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"TlockAuction/internal/ibe"
	"TlockAuction/internal/timelock"
)

var genesis = time.Unix(1_700_000_000, 0)

// newTestBeacon creates a beacon whose clock is controlled by the returned pointer.
func newTestBeacon(t *testing.T) (*Beacon, *time.Time) {
	t.Helper()

	_, msk, err := ibe.SetupFromSeed(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	b, err := New(Config{Genesis: genesis, SlotDuration: time.Second, Master: msk})
	if err != nil {
		t.Fatalf("new beacon: %v", err)
	}

	now := genesis.Add(-time.Second)
	b.now = func() time.Time { return now }

	return b, &now
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{SlotDuration: time.Second}); err == nil {
		t.Error("missing master should fail")
	}

	_, msk, _ := ibe.SetupFromSeed(make([]byte, 32))
	if _, err := New(Config{Master: msk}); err == nil {
		t.Error("zero slot duration should fail")
	}
}

func TestSlotProgress(t *testing.T) {
	b, now := newTestBeacon(t)

	if _, ok := b.CurrentSlot(*now); ok {
		t.Fatal("no slot before genesis")
	}

	if b.IsElapsed(0) {
		t.Fatal("slot 0 elapsed before genesis")
	}

	*now = genesis.Add(2500 * time.Millisecond)

	slot, ok := b.CurrentSlot(*now)
	if !ok || slot != 2 {
		t.Fatalf("current slot: got %d %v, want 2", slot, ok)
	}

	if !b.IsElapsed(2) || b.IsElapsed(3) {
		t.Error("elapsed boundary wrong")
	}

	if got := b.SlotTime(3); !got.Equal(genesis.Add(3 * time.Second)) {
		t.Errorf("slot time: %v", got)
	}
}

func TestSecretFor(t *testing.T) {
	b, now := newTestBeacon(t)

	if _, err := b.SecretFor(1); !errors.Is(err, ErrSlotNotElapsed) {
		t.Fatalf("got %v, want ErrSlotNotElapsed", err)
	}

	*now = genesis.Add(time.Second)

	key, err := b.SecretFor(1)
	if err != nil {
		t.Fatalf("secret: %v", err)
	}

	if !timelock.VerifySlotSecret(b.PublicParams(), timelock.SlotSecret{Slot: 1, Key: key}) {
		t.Error("secret does not verify")
	}
}

func TestWireCodec(t *testing.T) {
	req, err := DecodeRequest(Request{Op: OpSecretFor, Slot: 1 << 40}.Encode())
	if err != nil || req.Op != OpSecretFor || req.Slot != 1<<40 {
		t.Fatalf("request: %+v %v", req, err)
	}

	resp, err := DecodeResponse(Response{Status: StatusOK, Payload: []byte("key")}.Encode())
	if err != nil || resp.Status != StatusOK || string(resp.Payload) != "key" {
		t.Fatalf("response: %+v %v", resp, err)
	}

	ann, err := DecodeAnnouncement(EncodeAnnouncement(timelock.SlotSecret{Slot: 9, Key: []byte("k")}))
	if err != nil || ann.Slot != 9 || string(ann.Key) != "k" {
		t.Fatalf("announcement: %+v %v", ann, err)
	}

	for _, bad := range [][]byte{nil, {1, 2}} {
		if _, err := DecodeRequest(bad); !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("request %x: %v", bad, err)
		}
		if _, err := DecodeResponse(bad); !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("response %x: %v", bad, err)
		}
		if _, err := DecodeAnnouncement(bad); !errors.Is(err, ErrMalformedMessage) {
			t.Errorf("announcement %x: %v", bad, err)
		}
	}

	if _, err := DecodeResponse([]byte{0, 0, 0, 0, 9, 1}); !errors.Is(err, ErrMalformedMessage) {
		t.Error("length mismatch should fail")
	}
}

func TestServerHandle(t *testing.T) {
	b, now := newTestBeacon(t)
	s := &Server{beacon: b}

	decode := func(req Request) Response {
		t.Helper()

		resp, err := DecodeResponse(s.Handle(req.Encode()))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}

		return resp
	}

	if r := decode(Request{Op: OpSecretFor, Slot: 0}); r.Status != StatusNotElapsed {
		t.Errorf("early secret: status %d", r.Status)
	}

	if r := decode(Request{Op: OpIsElapsed, Slot: 0}); r.Status != StatusOK || r.Payload[0] != 0 {
		t.Errorf("early elapsed: %+v", r)
	}

	*now = genesis

	if r := decode(Request{Op: OpIsElapsed, Slot: 0}); r.Payload[0] != 1 {
		t.Errorf("elapsed: %+v", r)
	}

	if r := decode(Request{Op: OpSecretFor, Slot: 0}); r.Status != StatusOK || len(r.Payload) != ibe.IdentityKeySize {
		t.Errorf("secret: %+v", r)
	}

	if r := decode(Request{Op: OpParams}); !bytes.Equal(r.Payload, b.PublicParams().Bytes()) {
		t.Error("params mismatch")
	}

	if r := decode(Request{Op: 99}); r.Status != StatusBadRequest {
		t.Errorf("unknown op: %d", r.Status)
	}

	if r, _ := DecodeResponse(s.Handle([]byte{1})); r.Status != StatusBadRequest {
		t.Errorf("short request: %d", r.Status)
	}
}
