package integration

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"TlockAuction/client"
	"TlockAuction/internal/api"
	"TlockAuction/internal/beacon"
	"TlockAuction/internal/house"
	"TlockAuction/internal/ibe"
	"TlockAuction/internal/ledger"
	"TlockAuction/internal/network"
	"TlockAuction/internal/slotclock"
	"TlockAuction/internal/state"
	"TlockAuction/internal/storage"
)

// Beacon is a running beacon served over loopback QUIC.
type Beacon struct {
	beacon *beacon.Beacon // beacon derives slots from wall-clock time
	node   *network.Node  // node serves queries and announcements
}

// Node is an auction node wired like tlockd's node command.
type Node struct {
	dataDir  string            // dataDir is the pebble directory
	db       *storage.Storage  // db backs the store and the ledger
	clock    *slotclock.Remote // clock reads slot time from the beacon
	house    *house.House      // house holds the auctions
	recorder *ledger.Recorder  // recorder keeps settlement intents
	server   *httptest.Server  // server exposes the API
	client   *client.Client    // client talks to server
}

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	return priv
}

// startBeacon runs a beacon whose slot 0 elapses now.
func startBeacon(t *testing.T, slot time.Duration) *Beacon {
	t.Helper()

	_, msk, err := ibe.Setup(rand.Reader)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	b, err := beacon.New(beacon.Config{Genesis: time.Now(), SlotDuration: slot, Master: msk})
	if err != nil {
		t.Fatalf("new beacon: %v", err)
	}

	node, err := network.NewNode(network.Config{Key: newKey(t), ListenAddr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("new network node: %v", err)
	}

	srv := beacon.NewServer(b, node)

	if err := node.Listen(); err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Run(ctx)

	t.Cleanup(func() {
		cancel()
		node.Close()
	})

	return &Beacon{beacon: b, node: node}
}

// startNode runs a node against the beacon, reusing dataDir when non-empty.
func startNode(t *testing.T, b *Beacon, dataDir string) *Node {
	t.Helper()

	if dataDir == "" {
		dataDir = filepath.Join(t.TempDir(), "data")
	}

	db, err := storage.Open(dataDir, storage.Options{SyncInterval: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clock, err := slotclock.DialRemote(ctx, slotclock.RemoteConfig{
		Addr:         b.node.Addr(),
		Key:          newKey(t),
		PublicParams: b.beacon.PublicParams().Bytes(),
	})
	if err != nil {
		t.Fatalf("dial beacon: %v", err)
	}

	recorder, err := ledger.NewRecorder(db)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	reg := prometheus.NewRegistry()

	h, err := house.New(house.Config{Clock: clock, Ledger: recorder, Store: state.NewStore(db), Registry: reg})
	if err != nil {
		t.Fatalf("new house: %v", err)
	}

	server := httptest.NewServer(api.New(":0", h, reg).Handler())

	n := &Node{
		dataDir:  dataDir,
		db:       db,
		clock:    clock,
		house:    h,
		recorder: recorder,
		server:   server,
		client:   client.New(server.URL),
	}

	t.Cleanup(n.Stop)

	return n
}

// Stop shuts the node down. It is safe to call twice.
func (n *Node) Stop() {
	n.server.Close()
	n.clock.Close()
	n.db.Close()
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	t.Fatal("condition not met before timeout")
}
