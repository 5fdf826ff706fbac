package auction

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"TlockAuction/internal/ibe"
	"TlockAuction/internal/timelock"
)

// testClock is an in-memory slot clock backed by a master secret.
type testClock struct {
	mu      sync.Mutex
	msk     *ibe.MasterSecret
	elapsed map[Slot]bool
}

func (c *testClock) IsElapsed(slot Slot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.elapsed[slot]
}

func (c *testClock) SecretFor(slot Slot) ([]byte, error) {
	if !c.IsElapsed(slot) {
		return nil, fmt.Errorf("slot %d not elapsed", slot)
	}

	return ibe.Extract(c.msk, timelock.SlotIdentity(slot)), nil
}

func (c *testClock) elapse(slots ...Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range slots {
		c.elapsed[s] = true
	}
}

// testLedger records intents and optionally fails.
type testLedger struct {
	intents []Intent
	fail    error
}

func (l *testLedger) Transfer(_ context.Context, intent Intent) error {
	if l.fail != nil {
		return l.fail
	}

	l.intents = append(l.intents, intent)

	return nil
}

func (l *testLedger) kinds() []IntentKind {
	out := make([]IntentKind, len(l.intents))
	for i, in := range l.intents {
		out[i] = in.Kind
	}

	return out
}

// env bundles the collaborators of a test auction.
type env struct {
	pp     *ibe.PublicParams
	clock  *testClock
	ledger *testLedger
}

func newEnv(t *testing.T) *env {
	t.Helper()

	seed := make([]byte, 32)
	copy(seed, t.Name())

	pp, msk, err := ibe.SetupFromSeed(seed)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	return &env{
		pp:     pp,
		clock:  &testClock{msk: msk, elapsed: make(map[Slot]bool)},
		ledger: &testLedger{},
	}
}

func (e *env) newAuction(t *testing.T, schedule []Slot, threshold int) *Auction {
	t.Helper()

	a, err := New(context.Background(), Config{
		Auctioneer: account(0xAA),
		Item:       Item{Name: []byte("painting"), AssetID: 7, Amount: 1},
		Schedule:   schedule,
		Threshold:  threshold,
	}, e.clock, e.ledger)
	if err != nil {
		t.Fatalf("new auction: %v", err)
	}

	return a
}

// seal builds a proposal for payload under the auction's schedule.
func (e *env) seal(t *testing.T, a *Auction, payload []byte) Proposal {
	t.Helper()

	sealed, err := timelock.Encrypt(e.pp, payload, a.Schedule(), a.Threshold(), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	return Proposal{Ciphertext: sealed.Ciphertext, Nonce: sealed.Nonce, Capsule: sealed.Capsule}
}

func (e *env) bid(t *testing.T, a *Auction, who AccountID, amount uint64) {
	t.Helper()

	if err := a.Propose(who, e.seal(t, a, EncodeBid(amount, ""))); err != nil {
		t.Fatalf("propose %d: %v", amount, err)
	}
}

func (e *env) secrets(slots ...Slot) []SlotSecret {
	out := make([]SlotSecret, len(slots))
	for i, s := range slots {
		out[i] = timelock.ExtractSlotSecret(e.clock.msk, s)
	}

	return out
}

func account(b byte) AccountID {
	var id AccountID
	id[0] = b

	return id
}

func TestNewValidates(t *testing.T) {
	e := newEnv(t)
	item := Item{Name: []byte("x"), Amount: 1}

	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"empty schedule", Config{Item: item, Threshold: 1}, ErrInvalidSchedule},
		{"duplicate slot", Config{Item: item, Schedule: []Slot{1, 1}, Threshold: 1}, ErrInvalidSchedule},
		{"decreasing", Config{Item: item, Schedule: []Slot{3, 2}, Threshold: 1}, ErrInvalidSchedule},
		{"zero threshold", Config{Item: item, Schedule: []Slot{1}, Threshold: 0}, ErrInvalidThreshold},
		{"threshold too large", Config{Item: item, Schedule: []Slot{1, 2}, Threshold: 3}, ErrInvalidThreshold},
		{"no item name", Config{Item: Item{Amount: 1}, Schedule: []Slot{1}, Threshold: 1}, ErrInvalidItem},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(context.Background(), tt.cfg, e.clock, e.ledger)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}

			if !strings.HasSuffix(err.Error(), "\n"+tt.want.Error()) {
				t.Errorf("sentinel should close the wrapped message: %q", err)
			}
		})
	}

	if len(e.ledger.intents) != 0 {
		t.Errorf("rejected creations signaled %d intents", len(e.ledger.intents))
	}
}

func TestNewEscrowsItem(t *testing.T) {
	e := newEnv(t)
	a := e.newAuction(t, []Slot{1, 2}, 1)

	if a.ID() == "" {
		t.Fatal("expected generated id")
	}

	if len(e.ledger.intents) != 1 {
		t.Fatalf("intents: got %d, want 1", len(e.ledger.intents))
	}

	in := e.ledger.intents[0]
	if in.Kind != IntentEscrow || in.From != account(0xAA) || in.To != EscrowAccount(a.ID()) || in.AssetID != 7 || in.Amount != 1 {
		t.Errorf("escrow intent: %+v", in)
	}

	if a.Version() != "0.0.1-dev" {
		t.Errorf("version: %s", a.Version())
	}
}

func TestStateTransitions(t *testing.T) {
	e := newEnv(t)
	a := e.newAuction(t, []Slot{1, 2, 3}, 2)

	if got := a.State(); got != Open {
		t.Fatalf("state: got %s, want open", got)
	}

	e.clock.elapse(1, 2)
	if got := a.State(); got != Open {
		t.Fatalf("state before deadline: got %s, want open", got)
	}

	e.clock.elapse(3)
	if got := a.State(); got != Closed {
		t.Fatalf("state after deadline: got %s, want closed", got)
	}

	if _, err := a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1, 2, 3)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if got := a.State(); got != Completed {
		t.Fatalf("state: got %s, want completed", got)
	}
}

func TestProposeOverwrites(t *testing.T) {
	e := newEnv(t)
	a := e.newAuction(t, []Slot{1, 2}, 1)
	x := account(1)

	e.bid(t, a, x, 10)
	e.bid(t, a, account(2), 5)
	e.bid(t, a, x, 30)

	want := []AccountID{x, account(2)}
	if got := a.Participants(); !reflect.DeepEqual(got, want) {
		t.Fatalf("participants: got %v, want %v", got, want)
	}

	e.clock.elapse(1, 2)

	out, err := a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if out.Winner == nil || out.Winner.Participant != x || out.Winner.Amount != 30 {
		t.Errorf("winner: %+v", out.Winner)
	}
}

func TestProposeRejectsMalformed(t *testing.T) {
	e := newEnv(t)
	a := e.newAuction(t, []Slot{1}, 1)

	bad := []Proposal{
		{},
		{Ciphertext: []byte{1}, Nonce: []byte{1}},
		{Ciphertext: []byte{1}, Nonce: []byte{1}, Capsule: [][]byte{nil}},
	}

	for i, p := range bad {
		if err := a.Propose(account(1), p); !errors.Is(err, ErrMalformedProposal) {
			t.Errorf("proposal %d: got %v", i, err)
		}
	}

	if len(a.Participants()) != 0 {
		t.Error("rejected proposals must not register participants")
	}
}

func TestProposeAfterDeadline(t *testing.T) {
	e := newEnv(t)
	a := e.newAuction(t, []Slot{1, 2}, 1)
	x := account(1)

	e.bid(t, a, x, 10)
	before, _ := a.Proposal(x)

	e.clock.elapse(2)

	late := e.seal(t, a, EncodeBid(99, ""))
	if err := a.Propose(x, late); !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("got %v, want ErrDeadlinePassed", err)
	}

	if err := a.Propose(account(2), late); !errors.Is(err, ErrDeadlinePassed) {
		t.Fatalf("got %v, want ErrDeadlinePassed", err)
	}

	after, _ := a.Proposal(x)
	if !reflect.DeepEqual(before, after) {
		t.Error("stored proposal changed")
	}

	if got := a.Participants(); len(got) != 1 {
		t.Errorf("participants: %v", got)
	}
}

func TestCompleteTwice(t *testing.T) {
	e := newEnv(t)
	a := e.newAuction(t, []Slot{1, 2}, 2)

	e.bid(t, a, account(1), 10)
	e.bid(t, a, account(2), 20)

	e.clock.elapse(1, 2)

	if _, err := a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1, 2)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	first := a.RevealedBids()

	if _, err := a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1, 2)); !errors.Is(err, ErrAlreadyCompleted) {
		t.Fatalf("second complete: got %v", err)
	}

	if !reflect.DeepEqual(first, a.RevealedBids()) {
		t.Error("revealed bids changed")
	}

	if err := a.Propose(account(3), e.seal(t, a, EncodeBid(1, ""))); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("propose after completion: got %v", err)
	}

	// escrow, asset, payment: no second settlement.
	if got := len(e.ledger.intents); got != 3 {
		t.Errorf("intents: got %d, want 3", got)
	}
}

func TestWinnerTieBreak(t *testing.T) {
	e := newEnv(t)
	a := e.newAuction(t, []Slot{1}, 1)

	e.bid(t, a, account('A'), 10)
	e.bid(t, a, account('B'), 25)
	e.bid(t, a, account('C'), 25)

	e.clock.elapse(1)

	out, err := a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if out.Winner == nil || out.Winner.Participant != account('B') {
		t.Fatalf("winner: %+v, want B", out.Winner)
	}

	w, ok := a.Winner()
	if !ok || w.Participant != account('B') || w.Amount != 25 {
		t.Errorf("stored winner: %+v", w)
	}

	want := []IntentKind{IntentEscrow, IntentAsset, IntentPayment}
	if got := e.ledger.kinds(); !reflect.DeepEqual(got, want) {
		t.Errorf("intents: got %v, want %v", got, want)
	}

	payment := e.ledger.intents[2]
	if payment.From != account('B') || payment.To != account(0xAA) || payment.Amount != 25 {
		t.Errorf("payment: %+v", payment)
	}
}

func TestSelectWinner(t *testing.T) {
	bids := []RevealedBid{
		{Participant: account(1), Amount: 10},
		{Participant: account(2), Amount: 25},
		{Participant: account(3), Amount: 25},
		{Participant: account(4), Amount: 5},
	}

	if w := selectWinner(bids, 0); w == nil || w.Participant != account(2) {
		t.Errorf("no reserve: %+v", w)
	}

	if w := selectWinner(bids, 26); w != nil {
		t.Errorf("reserve above all bids: %+v", w)
	}

	if w := selectWinner(nil, 0); w != nil {
		t.Errorf("no bids: %+v", w)
	}
}

func TestThresholdScenario(t *testing.T) {
	e := newEnv(t)
	a := e.newAuction(t, []Slot{1, 2, 3}, 2)
	x := account('X')

	e.bid(t, a, x, 42)
	e.clock.elapse(1)

	out, err := a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1))
	if err != nil {
		t.Fatalf("complete with one secret: %v", err)
	}

	if out.Completed || out.Winner != nil || len(out.Revealed) != 0 {
		t.Fatalf("inconclusive outcome expected: %+v", out)
	}

	if len(out.Failures) != 1 || !errors.Is(out.Failures[0].Err, ErrInsufficientShares) {
		t.Fatalf("failures: %+v", out.Failures)
	}

	if a.State() != Open {
		t.Fatalf("state: got %s, want open", a.State())
	}

	e.clock.elapse(2, 3)

	out, err = a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1, 2))
	if err != nil {
		t.Fatalf("complete with two secrets: %v", err)
	}

	if !out.Completed || len(out.Revealed) != 1 || out.Revealed[0].Participant != x || out.Revealed[0].Amount != 42 {
		t.Fatalf("revealed: %+v", out.Revealed)
	}

	if a.State() != Completed {
		t.Errorf("state: got %s", a.State())
	}
}

func TestFailuresAreIsolated(t *testing.T) {
	e := newEnv(t)
	a := e.newAuction(t, []Slot{1, 2}, 1)

	e.bid(t, a, account(1), 10)

	tampered := e.seal(t, a, EncodeBid(500, ""))
	tampered.Ciphertext[0] ^= 1
	if err := a.Propose(account(2), tampered); err != nil {
		t.Fatalf("propose: %v", err)
	}

	garbage := Proposal{Ciphertext: []byte{1}, Nonce: []byte{2}, Capsule: [][]byte{{3}}}
	if err := a.Propose(account(3), garbage); err != nil {
		t.Fatalf("propose: %v", err)
	}

	if err := a.Propose(account(4), e.seal(t, a, []byte("no amount here"))); err != nil {
		t.Fatalf("propose: %v", err)
	}

	e.clock.elapse(1, 2)

	out, err := a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if out.Winner == nil || out.Winner.Participant != account(1) {
		t.Fatalf("winner: %+v", out.Winner)
	}

	want := map[AccountID]string{
		account(2): ReasonAuthenticationFailed,
		account(3): ReasonCapsuleMismatch,
		account(4): ReasonMalformedBid,
	}

	if len(out.Failures) != len(want) {
		t.Fatalf("failures: %+v", out.Failures)
	}

	for _, f := range out.Failures {
		if f.Reason() != want[f.Participant] {
			t.Errorf("participant %s: got %s, want %s", f.Participant, f.Reason(), want[f.Participant])
		}
	}
}

func TestCompleteWrongParams(t *testing.T) {
	e := newEnv(t)
	a := e.newAuction(t, []Slot{1}, 1)
	e.bid(t, a, account(1), 10)

	e.clock.elapse(1)

	if _, err := a.Complete(context.Background(), []byte("junk"), e.secrets(1)); !errors.Is(err, ErrCapsuleMismatch) {
		t.Fatalf("junk params: got %v", err)
	}

	if a.State() == Completed {
		t.Fatal("rejected call completed the auction")
	}

	other, _, err := ibe.SetupFromSeed(make([]byte, 32))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	out, err := a.Complete(context.Background(), other.Bytes(), e.secrets(1))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if out.Winner != nil || len(out.Failures) != 1 || out.Failures[0].Reason() != ReasonCapsuleMismatch {
		t.Errorf("outcome: %+v", out)
	}
}

func TestNoWinnerRefunds(t *testing.T) {
	e := newEnv(t)
	a, err := New(context.Background(), Config{
		Auctioneer:   account(0xAA),
		Item:         Item{Name: []byte("vase"), AssetID: 3, Amount: 2},
		Schedule:     []Slot{1},
		Threshold:    1,
		ReservePrice: 100,
	}, e.clock, e.ledger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	e.bid(t, a, account(1), 99)

	e.clock.elapse(1)

	out, err := a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if out.Winner != nil || len(out.Revealed) != 1 {
		t.Fatalf("outcome: %+v", out)
	}

	refund := e.ledger.intents[len(e.ledger.intents)-1]
	if refund.Kind != IntentRefund || refund.To != account(0xAA) || refund.AssetID != 3 || refund.Amount != 2 {
		t.Errorf("refund: %+v", refund)
	}
}

func TestLedgerFailureDoesNotRollBack(t *testing.T) {
	e := newEnv(t)
	e.ledger.fail = errors.New("ledger down")

	a := e.newAuction(t, []Slot{1}, 1)
	if a.SettlementErr() == nil {
		t.Fatal("escrow failure should be kept")
	}

	e.bid(t, a, account(1), 10)

	e.clock.elapse(1)

	out, err := a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if out.SettlementErr == nil {
		t.Error("settlement error expected")
	}

	if a.State() != Completed || out.Winner == nil {
		t.Error("ledger failure must not roll back completion")
	}

	restored, err := Restore(a.Snapshot(), e.clock, e.ledger)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	// escrow, asset and payment all failed
	if got := len(flattenErrors(restored.SettlementErr())); got != 3 {
		t.Errorf("restored settlement errors: got %d, want 3", got)
	}
}

func TestSnapshotRestore(t *testing.T) {
	e := newEnv(t)
	a := e.newAuction(t, []Slot{1, 2}, 1)

	e.bid(t, a, account(1), 10)
	e.bid(t, a, account(2), 20)
	if err := a.Propose(account(3), e.seal(t, a, []byte("nothing"))); err != nil {
		t.Fatalf("propose: %v", err)
	}

	open, err := Restore(a.Snapshot(), e.clock, e.ledger)
	if err != nil {
		t.Fatalf("restore open: %v", err)
	}

	if !reflect.DeepEqual(open.Participants(), a.Participants()) || open.ID() != a.ID() {
		t.Fatal("restored participants differ")
	}

	e.clock.elapse(1, 2)

	if _, err := a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	intents := len(e.ledger.intents)

	done, err := Restore(a.Snapshot(), e.clock, e.ledger)
	if err != nil {
		t.Fatalf("restore completed: %v", err)
	}

	if len(e.ledger.intents) != intents {
		t.Error("restore must not signal intents")
	}

	if done.State() != Completed {
		t.Errorf("state: %s", done.State())
	}

	w, ok := done.Winner()
	if !ok || w.Participant != account(2) {
		t.Errorf("winner: %+v", w)
	}

	if f := done.Failures(); len(f) != 1 || !errors.Is(f[0].Err, ErrMalformedBid) {
		t.Errorf("failures: %+v", f)
	}

	if !reflect.DeepEqual(done.RevealedBids(), a.RevealedBids()) {
		t.Error("revealed bids differ")
	}
}

func TestConcurrentPropose(t *testing.T) {
	e := newEnv(t)
	a := e.newAuction(t, []Slot{1}, 1)
	p := e.seal(t, a, EncodeBid(1, ""))

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = a.Propose(account(byte(i%8)), p)
			_ = a.State()
		}()
	}
	wg.Wait()

	if got := len(a.Participants()); got != 8 {
		t.Errorf("participants: got %d, want 8", got)
	}
}

func TestCompleteBeforeDeadline(t *testing.T) {
	e := newEnv(t)
	a := e.newAuction(t, []Slot{1, 2, 3}, 2)

	e.bid(t, a, account(1), 10)
	e.clock.elapse(1, 2)

	out, err := a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1, 2))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if out.Completed || out.Winner != nil {
		t.Fatalf("pass before the deadline must not finalize: %+v", out)
	}

	if len(out.Revealed) != 1 || out.Revealed[0].Amount != 10 {
		t.Errorf("revealed: %+v", out.Revealed)
	}

	if a.State() != Open || len(a.RevealedBids()) != 0 {
		t.Fatalf("state: %s, stored bids %d", a.State(), len(a.RevealedBids()))
	}

	// A bid between the threshold slot and the deadline is still accepted.
	e.bid(t, a, account(2), 20)

	if got := len(e.ledger.intents); got != 1 {
		t.Errorf("intents before deadline: got %d, want escrow only", got)
	}

	e.clock.elapse(3)

	out, err = a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1, 2))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if !out.Completed || out.Winner == nil || out.Winner.Participant != account(2) {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestCompleteRejectsForeignCapsules(t *testing.T) {
	e := newEnv(t)
	a := e.newAuction(t, []Slot{1, 2, 3}, 2)

	e.bid(t, a, account(1), 100)

	seal := func(schedule []Slot, threshold int) Proposal {
		t.Helper()

		sealed, err := timelock.Encrypt(e.pp, EncodeBid(5, ""), schedule, threshold, nil)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}

		return Proposal{Ciphertext: sealed.Ciphertext, Nonce: sealed.Nonce, Capsule: sealed.Capsule}
	}

	weak := map[AccountID]Proposal{
		account(2): seal([]Slot{1}, 1),
		account(3): seal([]Slot{1, 2, 3}, 1),
		account(4): seal([]Slot{1, 2, 4}, 2),
	}

	for who, p := range weak {
		if err := a.Propose(who, p); err != nil {
			t.Fatalf("propose: %v", err)
		}
	}

	e.clock.elapse(1, 2, 3)

	out, err := a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1))
	if err != nil {
		t.Fatalf("complete with one secret: %v", err)
	}

	if out.Completed || len(out.Revealed) != 0 {
		t.Fatalf("one secret must reveal nothing: %+v", out)
	}

	out, err = a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1, 2, 3))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if out.Winner == nil || out.Winner.Participant != account(1) || out.Winner.Amount != 100 {
		t.Fatalf("winner: %+v", out.Winner)
	}

	if len(out.Failures) != len(weak) {
		t.Fatalf("failures: %+v", out.Failures)
	}

	for _, f := range out.Failures {
		if f.Reason() != ReasonCapsuleMismatch {
			t.Errorf("participant %s: got %s, want %s", f.Participant, f.Reason(), ReasonCapsuleMismatch)
		}
	}
}

func TestCommitFailureRejectsChange(t *testing.T) {
	e := newEnv(t)

	var (
		fail    bool
		commits []*Snapshot
	)
	commit := func(s *Snapshot) error {
		if fail {
			return errors.New("disk full")
		}
		commits = append(commits, s)

		return nil
	}

	cfg := Config{
		Auctioneer: account(0xAA),
		Item:       Item{Name: []byte("painting"), AssetID: 7, Amount: 1},
		Schedule:   []Slot{1},
		Threshold:  1,
		Commit:     commit,
	}

	fail = true
	if _, err := New(context.Background(), cfg, e.clock, e.ledger); err == nil {
		t.Fatal("failed commit should reject creation")
	}

	if len(e.ledger.intents) != 0 {
		t.Fatal("rejected creation signaled an escrow")
	}

	fail = false
	a, err := New(context.Background(), cfg, e.clock, e.ledger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	x := account(1)
	e.bid(t, a, x, 10)
	before, _ := a.Proposal(x)

	fail = true
	if err := a.Propose(x, e.seal(t, a, EncodeBid(99, ""))); err == nil {
		t.Fatal("failed commit should reject the overwrite")
	}

	if after, _ := a.Proposal(x); !reflect.DeepEqual(before, after) {
		t.Error("rejected overwrite replaced the stored proposal")
	}

	if err := a.Propose(account(2), e.seal(t, a, EncodeBid(5, ""))); err == nil {
		t.Fatal("failed commit should reject a new participant")
	}

	if got := a.Participants(); len(got) != 1 {
		t.Errorf("participants: %v", got)
	}

	e.clock.elapse(1)

	if _, err := a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1)); err == nil {
		t.Fatal("failed commit should reject completion")
	}

	if a.State() != Closed || len(e.ledger.intents) != 1 {
		t.Fatalf("rejected completion took effect: state %s, intents %d", a.State(), len(e.ledger.intents))
	}

	fail = false
	out, err := a.Complete(context.Background(), e.pp.Bytes(), e.secrets(1))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if !out.Completed || out.Winner == nil || out.Winner.Amount != 10 {
		t.Fatalf("outcome: %+v", out)
	}

	last := commits[len(commits)-1]
	if !last.Completed || last.Winner == nil || *last.Winner != x {
		t.Errorf("last commit: %+v", last)
	}
}

// gatedClock blocks every IsElapsed call until released.
type gatedClock struct {
	entered chan struct{}
	release chan struct{}
}

func (c *gatedClock) IsElapsed(Slot) bool {
	c.entered <- struct{}{}
	<-c.release

	return false
}

func (c *gatedClock) SecretFor(Slot) ([]byte, error) {
	return nil, errors.New("no secrets")
}

func TestClockQueriedOutsideLock(t *testing.T) {
	clock := &gatedClock{entered: make(chan struct{}), release: make(chan struct{})}

	a, err := New(context.Background(), Config{
		Item:      Item{Name: []byte("painting"), Amount: 1},
		Schedule:  []Slot{1},
		Threshold: 1,
	}, clock, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	state := make(chan State)
	go func() { state <- a.State() }()

	<-clock.entered

	read := make(chan struct{})
	go func() {
		a.Participants()
		a.Snapshot()
		close(read)
	}()

	select {
	case <-read:
	case <-time.After(2 * time.Second):
		t.Fatal("auction stayed locked while the clock was queried")
	}

	close(clock.release)

	if got := <-state; got != Open {
		t.Errorf("state: got %s, want open", got)
	}
}
