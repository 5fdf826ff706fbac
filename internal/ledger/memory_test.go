package ledger

import (
	"context"
	"errors"
	"testing"

	"TlockAuction/internal/auction"
)

func acct(b byte) auction.AccountID {
	var id auction.AccountID
	id[31] = b

	return id
}

func TestTransfer(t *testing.T) {
	m := NewMemory()
	m.Mint(acct(1), 7, 10)

	err := m.Transfer(context.Background(), auction.Intent{
		Kind: auction.IntentPayment, From: acct(1), To: acct(2), AssetID: 7, Amount: 4,
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if got := m.Balance(acct(1), 7); got != 6 {
		t.Errorf("sender balance: %d", got)
	}

	if got := m.Balance(acct(2), 7); got != 4 {
		t.Errorf("receiver balance: %d", got)
	}

	if len(m.Journal()) != 1 {
		t.Errorf("journal: %v", m.Journal())
	}
}

func TestTransferInsufficient(t *testing.T) {
	m := NewMemory()
	m.Mint(acct(1), 7, 3)

	err := m.Transfer(context.Background(), auction.Intent{From: acct(1), To: acct(2), AssetID: 7, Amount: 4})
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("got %v", err)
	}

	if m.Balance(acct(1), 7) != 3 || m.Balance(acct(2), 7) != 0 || len(m.Journal()) != 0 {
		t.Error("failed transfer must not move funds")
	}

	// Balances are per asset.
	m.Mint(acct(1), 8, 100)
	if err := m.Transfer(context.Background(), auction.Intent{From: acct(1), To: acct(2), AssetID: 7, Amount: 4}); err == nil {
		t.Error("other asset must not cover the transfer")
	}
}

func TestAuctionSettlement(t *testing.T) {
	m := NewMemory()
	seller, buyer := acct(0xA), acct(0xB)
	m.Mint(seller, 1, 1)
	m.Mint(buyer, 0, 50)

	ctx := context.Background()
	escrow := auction.EscrowAccount("lot-1")

	steps := []auction.Intent{
		{Kind: auction.IntentEscrow, From: seller, To: escrow, AssetID: 1, Amount: 1},
		{Kind: auction.IntentAsset, From: escrow, To: buyer, AssetID: 1, Amount: 1},
		{Kind: auction.IntentPayment, From: buyer, To: seller, AssetID: 0, Amount: 30},
	}

	for _, in := range steps {
		if err := m.Transfer(ctx, in); err != nil {
			t.Fatalf("%s: %v", in.Kind, err)
		}
	}

	if m.Balance(buyer, 1) != 1 || m.Balance(seller, 0) != 30 || m.Balance(buyer, 0) != 20 || m.Balance(escrow, 1) != 0 {
		t.Error("settlement balances wrong")
	}
}
