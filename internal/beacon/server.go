package beacon

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"TlockAuction/internal/logger"
	"TlockAuction/internal/network"
	"TlockAuction/internal/timelock"
)

// maxBacklog bounds how many missed slots are announced after a stall.
const maxBacklog = 16

// Server answers slot queries and pushes new slot secrets to peers.
type Server struct {
	beacon *Beacon
	node   *network.Node

	// next is the first slot not yet announced. Only Run touches it.
	next timelock.Slot
}

// NewServer wires the beacon to node's request and connect handlers.
func NewServer(b *Beacon, node *network.Node) *Server {
	s := &Server{beacon: b, node: node}

	node.OnRequest(func(_ *network.Peer, data []byte) ([]byte, error) {
		return s.Handle(data), nil
	})

	node.OnConnect(func(p *network.Peer) {
		current, ok := b.CurrentSlot(b.now())
		if !ok {
			return
		}

		if err := p.Send(s.announcement(current)); err != nil {
			logger.Debug("greeting failed", "peer", p.Addr(), "error", err)
		}
	})

	return s
}

// Handle answers one encoded request.
func (s *Server) Handle(data []byte) []byte {
	req, err := DecodeRequest(data)
	if err != nil {
		return Response{Status: StatusBadRequest}.Encode()
	}

	switch req.Op {
	case OpIsElapsed:
		var flag byte
		if s.beacon.IsElapsed(req.Slot) {
			flag = 1
		}

		return Response{Status: StatusOK, Payload: []byte{flag}}.Encode()

	case OpSecretFor:
		key, err := s.beacon.SecretFor(req.Slot)
		if errors.Is(err, ErrSlotNotElapsed) {
			return Response{Status: StatusNotElapsed}.Encode()
		}

		return Response{Status: StatusOK, Payload: key}.Encode()

	case OpParams:
		return Response{Status: StatusOK, Payload: s.beacon.PublicParams().Bytes()}.Encode()

	default:
		return Response{Status: StatusBadRequest}.Encode()
	}
}

// Run announces each newly elapsed slot until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	tick := s.beacon.SlotDuration() / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	logger.Info("beacon running",
		"params", hex.EncodeToString(s.beacon.PublicParams().Bytes()),
		"slotDuration", s.beacon.SlotDuration(),
	)

	for {
		s.announce()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// announce broadcasts every slot elapsed since the last call.
func (s *Server) announce() {
	current, ok := s.beacon.CurrentSlot(s.beacon.now())
	if !ok || current < s.next {
		return
	}

	from := s.next
	if current-from >= maxBacklog {
		from = current - maxBacklog + 1
	}

	for slot := from; slot <= current; slot++ {
		reached := s.node.Broadcast(s.announcement(slot))
		logger.Debug("slot announced", "slot", slot, "peers", reached)
	}

	s.next = current + 1
}

func (s *Server) announcement(slot timelock.Slot) []byte {
	return EncodeAnnouncement(timelock.ExtractSlotSecret(s.beacon.master, slot))
}
