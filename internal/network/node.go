// Package network carries beacon traffic over QUIC.
//
// Both ends authenticate with self-signed ed25519 certificates and are
// identified by that key. Requests travel on bidirectional streams and
// announcements on unidirectional streams; every message is one frame
// prefixed by its u32 big-endian length.
package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"TlockAuction/internal/logger"
)

const (
	// alpn identifies the beacon protocol during the TLS handshake.
	alpn = "tlock-beacon/1"

	// defaultRedialDelay is the first wait before redialing a lost peer.
	defaultRedialDelay = 2 * time.Second

	// maxRedialDelay caps the redial backoff.
	maxRedialDelay = 30 * time.Second
)

// Config configures a Node.
type Config struct {
	Key         ed25519.PrivateKey // Key identifies the node
	ListenAddr  string             // ListenAddr is only needed by nodes that call Listen
	RedialDelay time.Duration      // RedialDelay is the initial backoff for dialed peers
	DedupTTL    time.Duration      // DedupTTL is how long announcements are deduplicated
}

// Node accepts and dials QUIC connections.
type Node struct {
	key        ed25519.PrivateKey
	listenAddr string
	tlsConf    *tls.Config
	quicConf   *quic.Config
	listener   *quic.Listener

	mu     sync.RWMutex
	peers  map[string]*Peer  // peers maps hex public key to live peer
	dialed map[string]string // dialed maps hex public key to the address we dialed

	redialDelay time.Duration
	dedup       *Dedup

	handlersMu sync.RWMutex
	onConnect  func(*Peer)
	onMessage  func(*Peer, []byte)
	onRequest  func(*Peer, []byte) ([]byte, error)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a node. It does not listen until Listen is called.
func NewNode(cfg Config) (*Node, error) {
	if len(cfg.Key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("node key is required")
	}

	cert, err := selfSignedCert(cfg.Key)
	if err != nil {
		return nil, err
	}

	redial := cfg.RedialDelay
	if redial <= 0 {
		redial = defaultRedialDelay
	}

	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		key:        cfg.Key,
		listenAddr: cfg.ListenAddr,
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			ClientAuth:   tls.RequireAnyClientCert,
			// Peers are pinned by key after the handshake.
			InsecureSkipVerify: true,
			NextProtos:         []string{alpn},
		},
		quicConf: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
		},
		peers:       make(map[string]*Peer),
		dialed:      make(map[string]string),
		redialDelay: redial,
		dedup:       NewDedup(cfg.DedupTTL),
		ctx:         ctx,
		cancel:      cancel,
	}

	n.wg.Add(1)
	go n.pruneLoop()

	return n, nil
}

// PublicKey returns the node identity.
func (n *Node) PublicKey() ed25519.PublicKey {
	return n.key.Public().(ed25519.PublicKey)
}

// Addr returns the bound listen address, or "" before Listen.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}

	return n.listener.Addr().String()
}

// Listen binds the listen address and accepts connections in the background.
func (n *Node) Listen() error {
	if n.listenAddr == "" {
		return fmt.Errorf("listen address is required")
	}

	ln, err := quic.ListenAddr(n.listenAddr, n.tlsConf, n.quicConf)
	if err != nil {
		return fmt.Errorf("listen %s:\n%w", n.listenAddr, err)
	}

	n.listener = ln

	n.wg.Add(1)
	go n.acceptLoop()

	return nil
}

// Dial connects to addr. Dialed peers are redialed when the connection drops.
func (n *Node) Dial(ctx context.Context, addr string) (*Peer, error) {
	conn, err := quic.DialAddr(ctx, addr, n.tlsConf, n.quicConf)
	if err != nil {
		return nil, fmt.Errorf("dial %s:\n%w", addr, err)
	}

	p, err := n.register(conn, addr)
	if err != nil {
		conn.CloseWithError(1, "handshake rejected")
		return nil, err
	}

	n.mu.Lock()
	n.dialed[p.ID()] = addr
	n.mu.Unlock()

	n.notifyConnect(p)

	return p, nil
}

// Broadcast sends data to every connected peer and returns the number reached.
func (n *Node) Broadcast(data []byte) int {
	sent := 0

	for _, p := range n.Peers() {
		if err := p.Send(data); err != nil {
			logger.Debug("broadcast failed", "peer", p.Addr(), "error", err)
			continue
		}

		sent++
	}

	return sent
}

// Peers returns the connected peers.
func (n *Node) Peers() []*Peer {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}

	return out
}

// OnConnect sets the callback run for every new peer.
func (n *Node) OnConnect(fn func(*Peer)) {
	n.handlersMu.Lock()
	n.onConnect = fn
	n.handlersMu.Unlock()
}

// OnMessage sets the callback for deduplicated announcements.
func (n *Node) OnMessage(fn func(*Peer, []byte)) {
	n.handlersMu.Lock()
	n.onMessage = fn
	n.handlersMu.Unlock()
}

// OnRequest sets the request handler. Its result is written back on the same stream.
func (n *Node) OnRequest(fn func(*Peer, []byte) ([]byte, error)) {
	n.handlersMu.Lock()
	n.onRequest = fn
	n.handlersMu.Unlock()
}

// Close stops the node and drops every connection.
func (n *Node) Close() error {
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	n.mu.Lock()
	peers := n.peers
	n.peers = make(map[string]*Peer)
	n.dialed = make(map[string]string)
	n.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}

	n.wg.Wait()

	return nil
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return
		}

		p, err := n.register(conn, conn.RemoteAddr().String())
		if err != nil {
			logger.Debug("rejected connection", "remote", conn.RemoteAddr(), "error", err)
			conn.CloseWithError(1, "handshake rejected")
			continue
		}

		n.notifyConnect(p)
	}
}

// register tracks a new connection and starts serving its streams.
func (n *Node) register(conn *quic.Conn, addr string) (*Peer, error) {
	pub, err := peerKey(conn.ConnectionState().TLS)
	if err != nil {
		return nil, err
	}

	p := &Peer{pub: pub, addr: addr, conn: conn, node: n}

	n.mu.Lock()
	if old, ok := n.peers[p.ID()]; ok {
		old.closed.Store(true)
		old.conn.CloseWithError(0, "replaced")
	}
	n.peers[p.ID()] = p
	n.mu.Unlock()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		p.serve()
	}()

	return p, nil
}

// dropped forgets a peer whose connection ended and redials it if we dialed it.
func (n *Node) dropped(p *Peer) {
	n.mu.Lock()
	if n.peers[p.ID()] == p {
		delete(n.peers, p.ID())
	}
	addr, redial := n.dialed[p.ID()]
	n.mu.Unlock()

	logger.Debug("peer disconnected", "peer", p.Addr())

	if !redial || n.ctx.Err() != nil {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.redial(p.ID(), addr)
	}()
}

// redial reconnects to addr with exponential backoff until it succeeds or the node closes.
func (n *Node) redial(id, addr string) {
	delay := n.redialDelay

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-time.After(delay):
		}

		n.mu.RLock()
		_, live := n.peers[id]
		_, wanted := n.dialed[id]
		n.mu.RUnlock()

		if live || !wanted {
			return
		}

		if _, err := n.Dial(n.ctx, addr); err == nil {
			logger.Info("peer redialed", "addr", addr)
			return
		}

		delay = min(delay*2, maxRedialDelay)
	}
}

// pruneLoop expires old dedup entries.
func (n *Node) pruneLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.dedup.Prune()
		}
	}
}

func (n *Node) notifyConnect(p *Peer) {
	n.handlersMu.RLock()
	fn := n.onConnect
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p)
	}
}

func (n *Node) deliver(p *Peer, data []byte) {
	if !n.dedup.Check(data) {
		return
	}

	n.handlersMu.RLock()
	fn := n.onMessage
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p, data)
	}
}

func (n *Node) answer(p *Peer, data []byte) ([]byte, error) {
	n.handlersMu.RLock()
	fn := n.onRequest
	n.handlersMu.RUnlock()

	if fn == nil {
		return nil, fmt.Errorf("no request handler")
	}

	return fn(p, data)
}

// peerID formats a public key as a map key.
func peerID(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}
