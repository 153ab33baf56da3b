// bid_gossip.go implements the bid gossip verification pipeline (spec.md
// §4.5 "Bid gossip"). Checks run in order; the first failure determines
// the GossipVerdict returned.
package epbs

import (
	"errors"
	"fmt"

	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/crypto"
)

// Bid gossip errors, one per spec.md §4.5 check.
var (
	ErrSlotNotCurrentOrNext       = errors.New("epbs: bid slot is not current or next")
	ErrZeroExecutionPayment       = errors.New("epbs: bid value must be > 0")
	ErrUnknownBuilder             = errors.New("epbs: bid references an unknown builder")
	ErrInactiveBuilder            = errors.New("epbs: builder is not active at finalized epoch")
	ErrInsufficientBuilderBalance = errors.New("epbs: builder balance insufficient for bid")
	ErrDuplicateBid               = errors.New("epbs: duplicate bid already observed")
	ErrBuilderEquivocation        = errors.New("epbs: conflicting bid from the same builder at this slot")
	ErrInvalidParentRoot          = errors.New("epbs: bid parent_block_root does not match fork choice head")
	ErrProposerPreferencesNotSeen = errors.New("epbs: no proposer preferences recorded for this slot")
	ErrFeeRecipientMismatch       = errors.New("epbs: bid fee_recipient does not match proposer preferences")
	ErrGasLimitMismatch           = errors.New("epbs: bid gas_limit does not match proposer preferences")
	ErrInvalidBidSignature        = errors.New("epbs: bid signature does not verify")
	ErrTooManyBlobCommitments     = errors.New("epbs: blob_kzg_commitments exceeds MaxBlobCommitmentsPerBlock")
	ErrInvalidBlobCommitment      = errors.New("epbs: blob_kzg_commitments entry is not a valid KZG commitment")
)

// BidGossipContext carries the state needed to verify a bid gossip message
// that is external to the message itself: the observation caches, the
// beacon state's builder set, the current fork-choice head, and the
// current/finalized slot clock.
type BidGossipContext struct {
	State               *State
	ObservedBids        *ObservedBids
	ProposerPreferences *ProposerPreferencesPool
	HeadBlockRoot       types.Hash
	CurrentSlot         uint64
	FinalizedEpoch      uint64
}

// VerifyBidGossip runs the full bid gossip pipeline against signed,
// returning GossipAccept plus the extracted equivocation evidence (nil
// unless the verdict is reject-by-equivocation).
func VerifyBidGossip(ctx *BidGossipContext, signed *SignedExecutionPayloadBid) (GossipVerdict, error) {
	bid := &signed.Message

	// 1. Slot is current or next.
	if bid.Slot != ctx.CurrentSlot && bid.Slot != ctx.CurrentSlot+1 {
		return GossipIgnore, ErrSlotNotCurrentOrNext
	}

	// 2. value > 0.
	if bid.Value == 0 {
		return GossipReject, ErrZeroExecutionPayment
	}

	// 3. blob_kzg_commitments is within bound and each entry has valid G1
	// compressed form (mirrors validate_kzg_g1 in the consensus spec).
	if len(bid.BlobKZGCommitments) > MaxBlobCommitmentsPerBlock {
		return GossipReject, ErrTooManyBlobCommitments
	}
	for _, commitment := range bid.BlobKZGCommitments {
		if err := crypto.ValidateCommitment(commitment); err != nil {
			return GossipReject, fmt.Errorf("%w: %v", ErrInvalidBlobCommitment, err)
		}
	}

	// 4. Builder exists, is active, and has sufficient balance.
	builder, err := ctx.State.RequireActiveBuilder(bid.BuilderIndex, ctx.FinalizedEpoch)
	if err != nil {
		if errors.Is(err, ErrBuilderUnknown) {
			return GossipReject, ErrUnknownBuilder
		}
		return GossipReject, ErrInactiveBuilder
	}
	_ = builder
	if !ctx.State.HasSufficientBalance(bid.BuilderIndex, bid.Value) {
		return GossipIgnore, ErrInsufficientBuilderBalance
	}

	// 5. Equivocation check.
	result, evidence := ctx.ObservedBids.Observe(signed)
	switch result {
	case BidObservationDuplicate:
		return GossipIgnore, ErrDuplicateBid
	case BidObservationEquivocation:
		hash, hashErr := ComputeBuilderEquivocationEvidenceHash(evidence)
		if hashErr != nil {
			return GossipReject, fmt.Errorf("%w: %v", ErrBuilderEquivocation, hashErr)
		}
		return GossipReject, fmt.Errorf("%w: evidence %s", ErrBuilderEquivocation, hash.Hex())
	}

	// 6. parent_block_root matches fork choice head.
	if bid.ParentBlockRoot != ctx.HeadBlockRoot {
		return GossipIgnore, ErrInvalidParentRoot
	}

	// 7. Proposer preferences.
	prefs, ok := ctx.ProposerPreferences.Get(bid.Slot)
	if !ok {
		return GossipIgnore, ErrProposerPreferencesNotSeen
	}
	if prefs.FeeRecipient != bid.FeeRecipient {
		return GossipReject, ErrFeeRecipientMismatch
	}
	if prefs.GasLimit != bid.GasLimit {
		return GossipReject, ErrGasLimitMismatch
	}

	// 8. Signature.
	if !bid.IsSelfBuild() {
		root := bid.Root()
		if !crypto.DefaultBLSBackend().Verify(builder.Pubkey[:], signingMessage(DomainBeaconBuilder, root), signed.Signature[:]) {
			return GossipReject, ErrInvalidBidSignature
		}
	}

	return GossipAccept, nil
}

// signingMessage mixes a domain tag into a signing root, giving each of
// the three Gloas BLS domains (DOMAIN_BEACON_BUILDER, DOMAIN_PTC_ATTESTER,
// DOMAIN_PROPOSER_PREFERENCES) a distinct message space over the same
// underlying crypto.BLSBackend.
func signingMessage(domain uint32, root [32]byte) []byte {
	out := make([]byte, 0, 4+32)
	out = append(out,
		byte(domain>>24), byte(domain>>16), byte(domain>>8), byte(domain))
	out = append(out, root[:]...)
	return out
}
