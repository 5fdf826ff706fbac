package state

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"TlockAuction/internal/auction"
	"TlockAuction/internal/timelock"
	"TlockAuction/internal/types"
)

// recordVersion is the AuctionRecord layout version.
const recordVersion = 1

// ErrCorruptRecord is returned for records that cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt auction record")

// EncodeSnapshot serializes an auction snapshot as an AuctionRecord.
func EncodeSnapshot(s *auction.Snapshot) []byte {
	b := flatbuffers.NewBuilder(1024)

	proposals := make([]flatbuffers.UOffsetT, len(s.Proposals))
	for i, pp := range s.Proposals {
		proposals[i] = buildProposal(b, pp)
	}

	revealed := make([]flatbuffers.UOffsetT, len(s.Revealed))
	for i, r := range s.Revealed {
		participant := b.CreateByteVector(r.Participant[:])
		plaintext := b.CreateByteVector(r.Plaintext)
		memo := b.CreateString(r.Memo)

		types.RevealedRecordStart(b)
		types.RevealedRecordAddParticipant(b, participant)
		types.RevealedRecordAddPlaintext(b, plaintext)
		types.RevealedRecordAddAmount(b, r.Amount)
		types.RevealedRecordAddMemo(b, memo)
		revealed[i] = types.RevealedRecordEnd(b)
	}

	failures := make([]flatbuffers.UOffsetT, len(s.Failures))
	for i, f := range s.Failures {
		participant := b.CreateByteVector(f.Participant[:])
		reason := b.CreateString(f.Reason)

		types.FailureRecordStart(b)
		types.FailureRecordAddParticipant(b, participant)
		types.FailureRecordAddReason(b, reason)
		failures[i] = types.FailureRecordEnd(b)
	}

	proposalsVec := offsetVector(b, types.AuctionRecordStartProposalsVector, proposals)
	revealedVec := offsetVector(b, types.AuctionRecordStartRevealedVector, revealed)
	failuresVec := offsetVector(b, types.AuctionRecordStartFailuresVector, failures)

	settlement := make([]flatbuffers.UOffsetT, len(s.SettlementErrors))
	for i, msg := range s.SettlementErrors {
		settlement[i] = b.CreateString(msg)
	}
	settlementVec := offsetVector(b, types.AuctionRecordStartSettlementErrorsVector, settlement)

	types.AuctionRecordStartScheduleVector(b, len(s.Schedule))
	for i := len(s.Schedule) - 1; i >= 0; i-- {
		b.PrependUint64(uint64(s.Schedule[i]))
	}
	scheduleVec := b.EndVector(len(s.Schedule))

	id := b.CreateString(s.ID)
	auctioneer := b.CreateByteVector(s.Auctioneer[:])
	itemName := b.CreateByteVector(s.Item.Name)
	cipher := b.CreateString(s.Cipher)

	var winner flatbuffers.UOffsetT
	if s.Winner != nil {
		winner = b.CreateByteVector(s.Winner[:])
	}

	types.AuctionRecordStart(b)
	types.AuctionRecordAddVersion(b, recordVersion)
	types.AuctionRecordAddId(b, id)
	types.AuctionRecordAddAuctioneer(b, auctioneer)
	types.AuctionRecordAddItemName(b, itemName)
	types.AuctionRecordAddItemAsset(b, s.Item.AssetID)
	types.AuctionRecordAddItemAmount(b, s.Item.Amount)
	types.AuctionRecordAddSchedule(b, scheduleVec)
	types.AuctionRecordAddThreshold(b, byte(s.Threshold))
	types.AuctionRecordAddReservePrice(b, s.ReservePrice)
	types.AuctionRecordAddPaymentAsset(b, s.PaymentAsset)
	types.AuctionRecordAddCipher(b, cipher)
	types.AuctionRecordAddProposals(b, proposalsVec)
	types.AuctionRecordAddCompleted(b, s.Completed)
	types.AuctionRecordAddRevealed(b, revealedVec)
	types.AuctionRecordAddFailures(b, failuresVec)
	if s.Winner != nil {
		types.AuctionRecordAddWinner(b, winner)
	}
	types.AuctionRecordAddSettlementErrors(b, settlementVec)
	b.Finish(types.AuctionRecordEnd(b))

	return b.FinishedBytes()
}

func buildProposal(b *flatbuffers.Builder, pp auction.ParticipantProposal) flatbuffers.UOffsetT {
	components := make([]flatbuffers.UOffsetT, len(pp.Proposal.Capsule))
	for i, c := range pp.Proposal.Capsule {
		data := b.CreateByteVector(c)

		types.CapsuleComponentStart(b)
		types.CapsuleComponentAddData(b, data)
		components[i] = types.CapsuleComponentEnd(b)
	}

	capsule := offsetVector(b, types.ProposalRecordStartCapsuleVector, components)
	participant := b.CreateByteVector(pp.Participant[:])
	ciphertext := b.CreateByteVector(pp.Proposal.Ciphertext)
	nonce := b.CreateByteVector(pp.Proposal.Nonce)

	types.ProposalRecordStart(b)
	types.ProposalRecordAddParticipant(b, participant)
	types.ProposalRecordAddCiphertext(b, ciphertext)
	types.ProposalRecordAddNonce(b, nonce)
	types.ProposalRecordAddCapsule(b, capsule)

	return types.ProposalRecordEnd(b)
}

// offsetVector writes a vector of table offsets.
func offsetVector(b *flatbuffers.Builder, start func(*flatbuffers.Builder, int) flatbuffers.UOffsetT, offsets []flatbuffers.UOffsetT) flatbuffers.UOffsetT {
	start(b, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		b.PrependUOffsetT(offsets[i])
	}

	return b.EndVector(len(offsets))
}

// DecodeSnapshot parses an AuctionRecord. All returned slices are copies.
func DecodeSnapshot(data []byte) (snap *auction.Snapshot, err error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("record of %d bytes:\n%w", len(data), ErrCorruptRecord)
	}

	// Out-of-range offsets in a damaged buffer panic inside the accessors.
	defer func() {
		if r := recover(); r != nil {
			snap, err = nil, fmt.Errorf("decode record: %v:\n%w", r, ErrCorruptRecord)
		}
	}()

	rec := types.GetRootAsAuctionRecord(data, 0)
	if v := rec.Version(); v != recordVersion {
		return nil, fmt.Errorf("unsupported version %d:\n%w", v, ErrCorruptRecord)
	}

	s := &auction.Snapshot{
		ID:           string(rec.Id()),
		Threshold:    int(rec.Threshold()),
		ReservePrice: rec.ReservePrice(),
		PaymentAsset: rec.PaymentAsset(),
		Cipher:       string(rec.Cipher()),
		Completed:    rec.Completed(),
		Item: auction.Item{
			Name:    clone(rec.ItemNameBytes()),
			AssetID: rec.ItemAsset(),
			Amount:  rec.ItemAmount(),
		},
	}

	if s.Auctioneer, err = accountFrom(rec.AuctioneerBytes()); err != nil {
		return nil, err
	}

	for i := 0; i < rec.ScheduleLength(); i++ {
		s.Schedule = append(s.Schedule, timelock.Slot(rec.Schedule(i)))
	}

	var p types.ProposalRecord
	for i := 0; i < rec.ProposalsLength(); i++ {
		if !rec.Proposals(&p, i) {
			return nil, fmt.Errorf("proposal %d:\n%w", i, ErrCorruptRecord)
		}

		pp, err := decodeProposal(&p)
		if err != nil {
			return nil, err
		}

		s.Proposals = append(s.Proposals, pp)
	}

	var r types.RevealedRecord
	for i := 0; i < rec.RevealedLength(); i++ {
		if !rec.Revealed(&r, i) {
			return nil, fmt.Errorf("revealed %d:\n%w", i, ErrCorruptRecord)
		}

		who, err := accountFrom(r.ParticipantBytes())
		if err != nil {
			return nil, err
		}

		s.Revealed = append(s.Revealed, auction.RevealedBid{
			Participant: who,
			Plaintext:   clone(r.PlaintextBytes()),
			Amount:      r.Amount(),
			Memo:        string(r.Memo()),
		})
	}

	var f types.FailureRecord
	for i := 0; i < rec.FailuresLength(); i++ {
		if !rec.Failures(&f, i) {
			return nil, fmt.Errorf("failure %d:\n%w", i, ErrCorruptRecord)
		}

		who, err := accountFrom(f.ParticipantBytes())
		if err != nil {
			return nil, err
		}

		s.Failures = append(s.Failures, auction.FailureRecord{Participant: who, Reason: string(f.Reason())})
	}

	if raw := rec.WinnerBytes(); raw != nil {
		w, err := accountFrom(raw)
		if err != nil {
			return nil, err
		}

		s.Winner = &w
	}

	for i := 0; i < rec.SettlementErrorsLength(); i++ {
		s.SettlementErrors = append(s.SettlementErrors, string(rec.SettlementErrors(i)))
	}

	return s, nil
}

func decodeProposal(p *types.ProposalRecord) (auction.ParticipantProposal, error) {
	who, err := accountFrom(p.ParticipantBytes())
	if err != nil {
		return auction.ParticipantProposal{}, err
	}

	out := auction.ParticipantProposal{
		Participant: who,
		Proposal: auction.Proposal{
			Ciphertext: clone(p.CiphertextBytes()),
			Nonce:      clone(p.NonceBytes()),
		},
	}

	var c types.CapsuleComponent
	for i := 0; i < p.CapsuleLength(); i++ {
		if !p.Capsule(&c, i) {
			return out, fmt.Errorf("capsule component %d:\n%w", i, ErrCorruptRecord)
		}

		out.Proposal.Capsule = append(out.Proposal.Capsule, clone(c.DataBytes()))
	}

	return out, nil
}

func accountFrom(raw []byte) (auction.AccountID, error) {
	var id auction.AccountID
	if len(raw) != len(id) {
		return id, fmt.Errorf("account of %d bytes:\n%w", len(raw), ErrCorruptRecord)
	}

	copy(id[:], raw)

	return id, nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
