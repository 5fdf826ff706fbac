package beacon

import (
	"encoding/binary"
	"errors"
	"fmt"

	"TlockAuction/internal/timelock"
)

// Request operations.
const (
	OpIsElapsed byte = 1 // OpIsElapsed asks whether a slot elapsed
	OpSecretFor byte = 2 // OpSecretFor asks for a slot secret
	OpParams    byte = 3 // OpParams asks for the public params; the slot is ignored
)

// Response statuses.
const (
	StatusOK         byte = 0
	StatusNotElapsed byte = 1
	StatusBadRequest byte = 2
)

// ErrMalformedMessage is returned for undecodable wire messages.
var ErrMalformedMessage = errors.New("malformed beacon message")

// Request is a client query.
type Request struct {
	Op   byte
	Slot timelock.Slot
}

// Encode serializes the request: u8 op + u64 slot (big-endian).
func (r Request) Encode() []byte {
	buf := make([]byte, 9)
	buf[0] = r.Op
	binary.BigEndian.PutUint64(buf[1:], uint64(r.Slot))

	return buf
}

// DecodeRequest parses a request.
func DecodeRequest(data []byte) (Request, error) {
	if len(data) != 9 {
		return Request{}, fmt.Errorf("request of %d bytes:\n%w", len(data), ErrMalformedMessage)
	}

	return Request{Op: data[0], Slot: timelock.Slot(binary.BigEndian.Uint64(data[1:]))}, nil
}

// Response answers a request.
type Response struct {
	Status  byte
	Payload []byte
}

// Encode serializes the response: u8 status + u32 len + payload.
func (r Response) Encode() []byte {
	buf := make([]byte, 5+len(r.Payload))
	buf[0] = r.Status
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(r.Payload)))
	copy(buf[5:], r.Payload)

	return buf
}

// DecodeResponse parses a response.
func DecodeResponse(data []byte) (Response, error) {
	if len(data) < 5 {
		return Response{}, fmt.Errorf("response of %d bytes:\n%w", len(data), ErrMalformedMessage)
	}

	size := binary.BigEndian.Uint32(data[1:5])
	if int(size) != len(data)-5 {
		return Response{}, fmt.Errorf("payload length %d, have %d:\n%w", size, len(data)-5, ErrMalformedMessage)
	}

	return Response{Status: data[0], Payload: append([]byte(nil), data[5:]...)}, nil
}

// EncodeAnnouncement serializes a pushed slot secret: u64 slot + key.
func EncodeAnnouncement(s timelock.SlotSecret) []byte {
	buf := make([]byte, 8+len(s.Key))
	binary.BigEndian.PutUint64(buf, uint64(s.Slot))
	copy(buf[8:], s.Key)

	return buf
}

// DecodeAnnouncement parses a pushed slot secret.
func DecodeAnnouncement(data []byte) (timelock.SlotSecret, error) {
	if len(data) <= 8 {
		return timelock.SlotSecret{}, fmt.Errorf("announcement of %d bytes:\n%w", len(data), ErrMalformedMessage)
	}

	return timelock.SlotSecret{
		Slot: timelock.Slot(binary.BigEndian.Uint64(data)),
		Key:  append([]byte(nil), data[8:]...),
	}, nil
}
