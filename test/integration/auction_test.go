package integration

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"TlockAuction/client"
	"TlockAuction/internal/api"
	"TlockAuction/internal/auction"
)

const (
	// slotDuration is the beacon's slot length in these tests.
	slotDuration = 200 * time.Millisecond
)

func account(b byte) auction.AccountID {
	var id auction.AccountID
	id[0] = b

	return id
}

// TestAuctionOverRemoteBeacon runs an auction end to end: bids are sealed
// against the beacon's params, the node learns slot secrets over QUIC and
// completes once the deadline has passed.
func TestAuctionOverRemoteBeacon(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	b := startBeacon(t, slotDuration)
	n := startNode(t, b, "")
	ctx := context.Background()

	current, _ := b.beacon.CurrentSlot(time.Now())
	start := uint64(current) + 3

	view, err := n.client.CreateAuction(ctx, api.CreateRequest{
		Auctioneer: account(0xAA),
		Item:       auction.Item{Name: []byte("first edition"), AssetID: 9, Amount: 1},
		Schedule:   []uint64{start, start + 1, start + 2},
		Threshold:  2,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	pp, err := n.client.Params(ctx)
	if err != nil {
		t.Fatalf("params: %v", err)
	}

	bids := map[byte]uint64{1: 10, 2: 25, 3: 25}
	for _, who := range []byte{1, 2, 3} {
		p, err := client.SealBidFor(pp, view, bids[who], "")
		if err != nil {
			t.Fatalf("seal: %v", err)
		}

		if err := n.client.Propose(ctx, view.ID, account(who), p); err != nil {
			t.Fatalf("propose %d: %v", who, err)
		}
	}

	waitFor(t, 20*slotDuration, func() bool {
		v, err := n.client.Auction(ctx, view.ID)
		return err == nil && v.State == "closed"
	})

	late, err := client.SealBidFor(pp, view, 100, "")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	var se *client.StatusError
	if err := n.client.Propose(ctx, view.ID, account(4), late); !errors.As(err, &se) || se.Code != http.StatusConflict {
		t.Fatalf("late proposal: got %v, want 409", err)
	}

	out, err := n.client.Complete(ctx, view.ID, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if !out.Completed || len(out.Revealed) != 3 {
		t.Fatalf("outcome: %+v", out)
	}

	if out.Winner == nil || out.Winner.Participant != account(2) || out.Winner.Amount != 25 {
		t.Fatalf("winner: %+v", out.Winner)
	}

	intents, err := n.recorder.Intents()
	if err != nil {
		t.Fatalf("intents: %v", err)
	}

	var kinds []auction.IntentKind
	for _, in := range intents {
		kinds = append(kinds, in.Kind)
	}

	want := []auction.IntentKind{auction.IntentEscrow, auction.IntentAsset, auction.IntentPayment}
	if len(kinds) != len(want) {
		t.Fatalf("intents: %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("intent %d: got %s, want %s", i, kinds[i], want[i])
		}
	}
}

// TestNodeRestartKeepsAuctions restarts a node on the same data directory
// between proposing and completing.
func TestNodeRestartKeepsAuctions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	b := startBeacon(t, slotDuration)
	n := startNode(t, b, "")
	ctx := context.Background()

	current, _ := b.beacon.CurrentSlot(time.Now())
	start := uint64(current) + 3

	view, err := n.client.CreateAuction(ctx, api.CreateRequest{
		Auctioneer: account(0xAA),
		Item:       auction.Item{Name: []byte("lamp"), Amount: 2},
		Schedule:   []uint64{start, start + 1},
		Threshold:  1,
		Cipher:     "xchacha20poly1305",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	pp, err := n.client.Params(ctx)
	if err != nil {
		t.Fatalf("params: %v", err)
	}

	p, err := client.SealBidFor(pp, view, 7, "restart")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	if err := n.client.Propose(ctx, view.ID, account(1), p); err != nil {
		t.Fatalf("propose: %v", err)
	}

	n.Stop()
	restarted := startNode(t, b, n.dataDir)

	got, err := restarted.client.Auction(ctx, view.ID)
	if err != nil {
		t.Fatalf("auction after restart: %v", err)
	}

	if len(got.Participants) != 1 || got.Participants[0] != account(1) {
		t.Fatalf("participants after restart: %v", got.Participants)
	}

	waitFor(t, 20*slotDuration, func() bool {
		v, err := restarted.client.Auction(ctx, view.ID)
		return err == nil && v.State == "closed"
	})

	out, err := restarted.client.Complete(ctx, view.ID, nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if out.Winner == nil || out.Winner.Memo != "restart" {
		t.Errorf("winner after restart: %+v", out.Winner)
	}
}
