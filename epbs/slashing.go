// slashing.go implements the ePBS-specific consequences of builder and
// proposer slashing: equivocation detection over conflicting bids, and the
// pending-payment forfeiture spec.md §8 scenario 6 requires ("no withdrawal
// is promoted at epoch boundary" once the builder or the proposer for that
// slot is slashed before the epoch closes). The broader validator/builder
// penalty computation and deposit/exit bookkeeping outside of ePBS's own
// payment window is assumed to live in the pre-Gloas slashing pipeline this
// package does not reimplement.
package epbs

import (
	"errors"

	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/crypto"
)

// Slashing errors.
var (
	ErrSlashingNilBid      = errors.New("slashing: nil bid")
	ErrSlashingNoEvidence  = errors.New("slashing: evidence is not an equivocation")
	ErrSlashingSlotMismatch = errors.New("slashing: bids are for different slots")
)

// BuilderEquivocationEvidence holds the two conflicting signed bids that
// prove a builder equivocated at a given slot.
type BuilderEquivocationEvidence struct {
	BidA *SignedExecutionPayloadBid
	BidB *SignedExecutionPayloadBid
}

// DetectBuilderEquivocation reports whether bidA and bidB are conflicting
// bids from the same builder for the same slot (same slot and builder
// index, different block hash). Both bids are assumed to have already
// passed signature verification; this function only checks message
// content.
func DetectBuilderEquivocation(bidA, bidB *SignedExecutionPayloadBid) (*BuilderEquivocationEvidence, bool) {
	if bidA == nil || bidB == nil {
		return nil, false
	}
	a, b := &bidA.Message, &bidB.Message
	if a.Slot != b.Slot {
		return nil, false
	}
	if a.BuilderIndex != b.BuilderIndex {
		return nil, false
	}
	if a.BlockHash == b.BlockHash {
		return nil, false
	}
	return &BuilderEquivocationEvidence{BidA: bidA, BidB: bidB}, true
}

// ComputeBuilderEquivocationEvidenceHash produces a deterministic hash of
// the evidence, suitable for attaching to a BuilderEquivocation gossip
// rejection so a caller outside this package can carry it to a slashing
// pipeline without recomputing anything from raw bid bytes.
func ComputeBuilderEquivocationEvidenceHash(ev *BuilderEquivocationEvidence) (types.Hash, error) {
	if ev == nil || ev.BidA == nil || ev.BidB == nil {
		return types.Hash{}, ErrSlashingNoEvidence
	}
	a, b := ev.BidA.Message, ev.BidB.Message
	if a.Slot != b.Slot {
		return types.Hash{}, ErrSlashingSlotMismatch
	}
	rootA, rootB := a.Root(), b.Root()
	return crypto.Keccak256Hash(rootA[:], rootB[:]), nil
}

// ProcessBuilderSlashing applies the ePBS-local consequences of a builder
// being slashed: it initiates the builder's exit (so it becomes eligible
// for the builder sweep, phase 3 of withdrawal computation, once
// MinBuilderWithdrawabilityDelay has elapsed) and forfeits any pending
// payment currently attributed to that builder in either half of the
// payment window, so no withdrawal is promoted for it at the next epoch
// boundary (spec.md §8 scenario 6).
func (s *State) ProcessBuilderSlashing(idx BuilderIndex, currentEpoch uint64) error {
	if _, ok := s.BuilderAt(idx); !ok {
		return ErrBuilderUnknown
	}
	for i := range s.BuilderPendingPayments {
		if s.BuilderPendingPayments[i].BuilderIndex == idx && !s.BuilderPendingPayments[i].IsEmpty() {
			s.BuilderPendingPayments[i] = BuilderPendingPayment{}
		}
	}
	if err := s.InitiateBuilderExit(idx, currentEpoch); err != nil && !errors.Is(err, ErrBuilderAlreadyExited) {
		return err
	}
	return nil
}

// ProcessProposerSlashing applies the ePBS-local consequence of a proposer
// being slashed for equivocating at blockSlot: the in-flight payment for
// that slot is forfeited regardless of which builder it names, since the
// block it would have paid for is no longer canonical (spec.md §8
// scenario 6).
func (s *State) ProcessProposerSlashing(blockSlot uint64) error {
	return s.ZeroPendingPayment(blockSlot)
}
