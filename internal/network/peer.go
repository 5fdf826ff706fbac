package network

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"TlockAuction/internal/logger"
)

// defaultRequestTimeout applies when the request context has no deadline.
const defaultRequestTimeout = 10 * time.Second

// Peer is one live connection.
type Peer struct {
	pub    ed25519.PublicKey
	addr   string
	conn   *quic.Conn
	node   *Node
	closed atomic.Bool
	sendMu sync.Mutex
}

// ID returns the hex public key of the remote node.
func (p *Peer) ID() string {
	return peerID(p.pub)
}

// PublicKey returns the remote node identity.
func (p *Peer) PublicKey() ed25519.PublicKey {
	return p.pub
}

// Addr returns the remote address.
func (p *Peer) Addr() string {
	return p.addr
}

// Send pushes data on a fresh unidirectional stream.
func (p *Peer) Send(data []byte) error {
	if p.closed.Load() {
		return fmt.Errorf("peer %s is closed", p.addr)
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	stream, err := p.conn.OpenUniStreamSync(p.conn.Context())
	if err != nil {
		return fmt.Errorf("open stream:\n%w", err)
	}

	if err := writeFrame(stream, data); err != nil {
		stream.CancelWrite(1)
		return err
	}

	return stream.Close()
}

// Request sends data and waits for the reply on a bidirectional stream.
func (p *Peer) Request(ctx context.Context, data []byte) ([]byte, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("peer %s is closed", p.addr)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}

	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	deadline, _ := ctx.Deadline()
	stream.SetDeadline(deadline)

	if err := writeFrame(stream, data); err != nil {
		return nil, fmt.Errorf("send request:\n%w", err)
	}

	reply, err := readFrame(stream)
	if err != nil {
		return nil, fmt.Errorf("read reply:\n%w", err)
	}

	return reply, nil
}

// Close terminates the connection without triggering a redial.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.node.mu.Lock()
	if p.node.peers[p.ID()] == p {
		delete(p.node.peers, p.ID())
	}
	delete(p.node.dialed, p.ID())
	p.node.mu.Unlock()

	return p.conn.CloseWithError(0, "closed")
}

// serve accepts the peer's streams until the connection ends.
func (p *Peer) serve() {
	ctx := p.conn.Context()

	go func() {
		for {
			stream, err := p.conn.AcceptStream(ctx)
			if err != nil {
				return
			}

			go p.handleRequest(stream)
		}
	}()

	for {
		stream, err := p.conn.AcceptUniStream(ctx)
		if err != nil {
			break
		}

		go p.handleMessage(stream)
	}

	if !p.closed.Swap(true) {
		p.node.dropped(p)
	}
}

func (p *Peer) handleRequest(stream *quic.Stream) {
	defer stream.Close()

	req, err := readFrame(stream)
	if err != nil {
		return
	}

	reply, err := p.node.answer(p, req)
	if err != nil {
		logger.Debug("request failed", "peer", p.addr, "error", err)
		stream.CancelWrite(1)
		return
	}

	if err := writeFrame(stream, reply); err != nil {
		logger.Debug("reply failed", "peer", p.addr, "error", err)
	}
}

func (p *Peer) handleMessage(stream *quic.ReceiveStream) {
	data, err := readFrame(stream)
	if err != nil {
		logger.Debug("message read failed", "peer", p.addr, "error", err)
		return
	}

	p.node.deliver(p, data)
}
