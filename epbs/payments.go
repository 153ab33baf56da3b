// payments.go implements the builder pending-payment window and the
// pending-withdrawal FIFO queue described in spec.md §3 and §4.1. It
// replaces the teacher's time.Time-keyed escrow map (payment.go) with the
// slot-indexed vector the Gloas spec actually uses: a payment enters the
// second-half (next-epoch) window on bid acceptance, rotates into the
// first half at the epoch boundary, accumulates PTC weight as votes land,
// and is promoted to a withdrawal once its epoch closes with quorum.
package epbs

import "errors"

// Pending-payment errors.
var (
	ErrPaymentSlotOutOfRange = errors.New("epbs: pending payment slot index out of range")
	ErrPaymentAlreadySet     = errors.New("epbs: pending payment slot already holds a non-zero bid")
)

// EnqueuePendingPayment records a bid's payment in the second-half window,
// implementing process_execution_payload_bid step 4 (spec.md §4.1). It is a
// no-op for zero-value bids (self-build, or an external bid with Value==0,
// which spec.md restricts to the self-build case only).
func (s *State) EnqueuePendingPayment(bid *ExecutionPayloadBid) error {
	if bid.Value == 0 {
		return nil
	}
	idx := PendingPaymentSlotIndex(bid.Slot)
	if int(idx) >= len(s.BuilderPendingPayments) {
		return ErrPaymentSlotOutOfRange
	}
	s.BuilderPendingPayments[idx] = BuilderPendingPayment{
		BuilderIndex: bid.BuilderIndex,
		Amount:       bid.Value,
		FeeRecipient: bid.FeeRecipient,
		Weight:       0,
	}
	return nil
}

// AccumulatePTCWeight adds an attesting validator's effective balance to
// the pending payment for blockSlot, implementing the per-set-bit weight
// accumulation of process_payload_attestation (spec.md §4.1). It is a
// no-op when the payment slot is empty (no non-zero value bid was made).
func (s *State) AccumulatePTCWeight(blockSlot uint64, effectiveBalance uint64) error {
	idx := PendingPaymentSlotIndex(blockSlot)
	if int(idx) >= len(s.BuilderPendingPayments) {
		return ErrPaymentSlotOutOfRange
	}
	p := &s.BuilderPendingPayments[idx]
	if p.IsEmpty() {
		return nil
	}
	p.Weight += effectiveBalance
	return nil
}

// ZeroPendingPayment clears a builder's payment for blockSlot, used when
// the builder or proposer is slashed before the epoch closes (spec.md §8
// scenario 6: "no withdrawal is promoted at epoch boundary").
func (s *State) ZeroPendingPayment(blockSlot uint64) error {
	idx := PendingPaymentSlotIndex(blockSlot)
	if int(idx) >= len(s.BuilderPendingPayments) {
		return ErrPaymentSlotOutOfRange
	}
	s.BuilderPendingPayments[idx] = BuilderPendingPayment{}
	return nil
}

// PromoteBuilderPayment reads the committed-bid payment for the envelope's
// slot, appends a BuilderPendingWithdrawal, and clears the payment slot —
// process_execution_payload_envelope step 8 (spec.md §4.1).
func (s *State) PromoteBuilderPayment(envelopeSlot uint64) error {
	idx := PendingPaymentSlotIndex(envelopeSlot)
	if int(idx) >= len(s.BuilderPendingPayments) {
		return ErrPaymentSlotOutOfRange
	}
	p := s.BuilderPendingPayments[idx]
	if p.IsEmpty() {
		return nil
	}
	s.BuilderPendingWithdrawals = append(s.BuilderPendingWithdrawals, BuilderPendingWithdrawal{
		BuilderIndex: p.BuilderIndex,
		Amount:       p.Amount,
		FeeRecipient: p.FeeRecipient,
	})
	s.BuilderPendingPayments[idx] = BuilderPendingPayment{}
	return nil
}

// RotatePendingPayments closes out the second-half window — where
// EnqueuePendingPayment, AccumulatePTCWeight, and PromoteBuilderPayment all
// read and write via PendingPaymentSlotIndex, regardless of which epoch is
// actually live — at an epoch boundary, then moves it down into the first
// half so a new epoch's bids can reuse the second half without colliding
// with a straggler from the epoch that just closed (spec.md §3: "rotated at
// epoch boundary"). A straggler whose envelope never arrived (so
// PromoteBuilderPayment never cleared it) but whose accumulated PTC weight
// reached quorum is promoted to a withdrawal anyway — the PTC's own
// attestations stand in for the missing envelope. One that reached neither
// is forfeited silently.
func (s *State) RotatePendingPayments(quorum uint64) {
	half := SlotsPerEpoch
	for i := uint64(0); i < half; i++ {
		p := s.BuilderPendingPayments[half+i]
		if !p.IsEmpty() && p.Weight >= quorum {
			s.BuilderPendingWithdrawals = append(s.BuilderPendingWithdrawals, BuilderPendingWithdrawal{
				BuilderIndex: p.BuilderIndex,
				Amount:       p.Amount,
				FeeRecipient: p.FeeRecipient,
			})
		}
		s.BuilderPendingPayments[i] = p
		s.BuilderPendingPayments[half+i] = BuilderPendingPayment{}
	}
}

// ShiftProposerLookahead rotates ProposerLookahead at an epoch boundary: the
// already-populated second half (computed one epoch ago for the epoch that
// is now starting) becomes the first half, and nextEpoch — the proposer
// shuffling's output for the epoch after that, which this package does not
// itself compute — populates the new second half (spec.md §3: "shifted one
// epoch per epoch boundary"). nextEpoch must have SlotsPerEpoch entries.
func (s *State) ShiftProposerLookahead(nextEpoch []uint64) {
	half := int(SlotsPerEpoch)
	copy(s.ProposerLookahead[:half], s.ProposerLookahead[half:])
	copy(s.ProposerLookahead[half:], nextEpoch)
}

// PeekBuilderWithdrawals returns up to limit entries from the front of
// BuilderPendingWithdrawals without removing them, capping each amount at
// the builder's live balance (spec.md §3 invariant: "amount ≤ builder
// balance at dequeue"). Used by both the mutating and read-only forms of
// get_expected_withdrawals_gloas's phase 1.
func (s *State) PeekBuilderWithdrawals(limit int) []BuilderPendingWithdrawal {
	n := len(s.BuilderPendingWithdrawals)
	if n > limit {
		n = limit
	}
	out := make([]BuilderPendingWithdrawal, 0, n)
	for i := 0; i < n; i++ {
		w := s.BuilderPendingWithdrawals[i]
		if b, ok := s.BuilderAt(w.BuilderIndex); ok && w.Amount > b.Balance {
			w.Amount = b.Balance
		}
		out = append(out, w)
	}
	return out
}

// DequeueBuilderWithdrawals pops up to limit entries from the front of
// BuilderPendingWithdrawals, capping each amount at the builder's live
// balance. Used by phase 1 of the mutating get_expected_withdrawals_gloas.
func (s *State) DequeueBuilderWithdrawals(limit int) []BuilderPendingWithdrawal {
	out := s.PeekBuilderWithdrawals(limit)
	s.BuilderPendingWithdrawals = s.BuilderPendingWithdrawals[len(out):]
	return out
}
