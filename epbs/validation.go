// validation.go holds structural (non-gossip, non-signature) sanity checks
// shared by the STF and the gossip pipelines in bid_gossip.go,
// envelope_gossip.go, attestation_gossip.go, preferences_gossip.go, and
// proof_gossip.go.
package epbs

import (
	"errors"
	"fmt"

	"github.com/eth2030/eth2030/core/types"
)

// Structural validation errors.
var (
	ErrEmptyBlockHash       = errors.New("block hash must not be empty")
	ErrEmptyParentBlockHash = errors.New("parent block hash must not be empty")
	ErrZeroBidValue         = errors.New("bid value must be greater than zero")
	ErrEmptyBeaconRoot      = errors.New("beacon block root must not be empty")
	ErrEmptyStateRoot       = errors.New("state root must not be empty")
	ErrZeroSlot             = errors.New("slot must be greater than zero")
	ErrBidSlotMismatch      = errors.New("bid slot does not match envelope slot")
	ErrBuilderMismatch      = errors.New("builder index mismatch between bid and envelope")
)

// ValidateExecutionPayloadBid checks a bid for basic structural
// correctness, independent of signature and gossip-context checks (those
// live in bid_gossip.go).
func ValidateExecutionPayloadBid(bid *ExecutionPayloadBid) error {
	if bid.BlockHash == (types.Hash{}) {
		return ErrEmptyBlockHash
	}
	if bid.ParentBlockHash == (types.Hash{}) {
		return ErrEmptyParentBlockHash
	}
	if bid.Slot == 0 {
		return ErrZeroSlot
	}
	if bid.Value == 0 && !bid.IsSelfBuild() {
		return ErrZeroBidValue
	}
	return nil
}

// ValidateExecutionPayloadEnvelope checks an envelope for basic structural
// correctness.
func ValidateExecutionPayloadEnvelope(env *ExecutionPayloadEnvelope) error {
	if env.BeaconBlockRoot == (types.Hash{}) {
		return ErrEmptyBeaconRoot
	}
	if env.StateRoot == (types.Hash{}) {
		return ErrEmptyStateRoot
	}
	if env.Slot == 0 {
		return ErrZeroSlot
	}
	return nil
}

// ValidateBidEnvelopeConsistency checks that an envelope reveals the bid it
// claims to (spec.md §4.5 envelope gossip step 4: builder_index / slot /
// block_hash must match the committed bid).
func ValidateBidEnvelopeConsistency(bid *ExecutionPayloadBid, env *ExecutionPayloadEnvelope) error {
	if bid.Slot != env.Slot {
		return fmt.Errorf("%w: bid slot %d, envelope slot %d",
			ErrBidSlotMismatch, bid.Slot, env.Slot)
	}
	if bid.BuilderIndex != env.BuilderIndex {
		return fmt.Errorf("%w: bid builder %d, envelope builder %d",
			ErrBuilderMismatch, bid.BuilderIndex, env.BuilderIndex)
	}
	if bid.BlockHash != env.Payload.BlockHash {
		return fmt.Errorf("%w: bid block_hash %s, envelope block_hash %s",
			ErrBuilderMismatch, bid.BlockHash.Hex(), env.Payload.BlockHash.Hex())
	}
	return nil
}
