package network

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func generateTestKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return priv
}

// newListening starts a node on a loopback port.
func newListening(t *testing.T) *Node {
	t.Helper()

	n, err := NewNode(Config{Key: generateTestKey(t), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	if err := n.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	t.Cleanup(func() { n.Close() })

	return n
}

// newDialer creates a node that only dials.
func newDialer(t *testing.T) *Node {
	t.Helper()

	n, err := NewNode(Config{Key: generateTestKey(t), RedialDelay: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("new node: %v", err)
	}

	t.Cleanup(func() { n.Close() })

	return n
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatal("condition not met before timeout")
}

func TestNewNodeRequiresKey(t *testing.T) {
	if _, err := NewNode(Config{}); err == nil {
		t.Error("expected error without key")
	}

	n := newDialer(t)
	if err := n.Listen(); err == nil {
		t.Error("expected error without listen address")
	}
}

func TestDialIdentifiesPeers(t *testing.T) {
	server := newListening(t)
	client := newDialer(t)

	var connected atomic.Int32
	server.OnConnect(func(*Peer) { connected.Add(1) })

	p, err := client.Dial(context.Background(), server.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if !bytes.Equal(p.PublicKey(), server.PublicKey()) {
		t.Error("dialed peer key does not match server")
	}

	waitFor(t, 2*time.Second, func() bool { return connected.Load() == 1 })

	if got := len(server.Peers()); got != 1 {
		t.Errorf("server peers: got %d, want 1", got)
	}

	if !bytes.Equal(server.Peers()[0].PublicKey(), client.PublicKey()) {
		t.Error("server sees wrong client key")
	}
}

func TestRequestReply(t *testing.T) {
	server := newListening(t)
	server.OnRequest(func(_ *Peer, req []byte) ([]byte, error) {
		if string(req) == "fail" {
			return nil, fmt.Errorf("refused")
		}

		return append([]byte("echo:"), req...), nil
	})

	client := newDialer(t)

	p, err := client.Dial(context.Background(), server.Addr())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	reply, err := p.Request(context.Background(), []byte("slot"))
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if string(reply) != "echo:slot" {
		t.Errorf("reply: %q", reply)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := p.Request(ctx, []byte("fail")); err == nil {
		t.Error("failed handler should surface as an error")
	}
}

func TestBroadcastDeduplicates(t *testing.T) {
	server := newListening(t)
	client := newDialer(t)

	var received atomic.Int32
	client.OnMessage(func(_ *Peer, data []byte) {
		if string(data) == "announce" {
			received.Add(1)
		}
	})

	if _, err := client.Dial(context.Background(), server.Addr()); err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return len(server.Peers()) == 1 })

	if sent := server.Broadcast([]byte("announce")); sent != 1 {
		t.Fatalf("broadcast reached %d peers", sent)
	}
	server.Broadcast([]byte("announce"))

	waitFor(t, 2*time.Second, func() bool { return received.Load() >= 1 })
	time.Sleep(100 * time.Millisecond)

	if got := received.Load(); got != 1 {
		t.Errorf("deliveries: got %d, want 1", got)
	}
}

func TestFrameLimits(t *testing.T) {
	var buf bytes.Buffer

	if err := writeFrame(&buf, make([]byte, maxFrameSize+1)); err == nil {
		t.Error("oversized frame should be rejected")
	}

	if err := writeFrame(&buf, []byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := readFrame(&buf)
	if err != nil || string(got) != "hello" {
		t.Fatalf("read: %q %v", got, err)
	}

	if _, err := readFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff})); err == nil {
		t.Error("oversized length prefix should be rejected")
	}

	if _, err := readFrame(bytes.NewReader([]byte{0, 0, 0, 5, 'a'})); err == nil {
		t.Error("truncated body should fail")
	}
}

func TestDedupExpiry(t *testing.T) {
	now := time.Unix(1000, 0)
	d := NewDedup(time.Second)
	d.now = func() time.Time { return now }

	if !d.Check([]byte("a")) {
		t.Fatal("first sighting should be new")
	}

	if d.Check([]byte("a")) {
		t.Fatal("repeat should be filtered")
	}

	now = now.Add(2 * time.Second)

	if remaining := d.Prune(); remaining != 0 {
		t.Errorf("prune left %d entries", remaining)
	}

	if !d.Check([]byte("a")) {
		t.Error("expired digest should be new again")
	}
}
