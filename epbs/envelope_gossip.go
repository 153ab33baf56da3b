// envelope_gossip.go implements the envelope gossip verification pipeline
// (spec.md §4.5 "Envelope gossip").
package epbs

import (
	"errors"

	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/crypto"
)

// Envelope gossip errors, one per spec.md §4.5 check.
var (
	ErrBlockRootUnknown      = errors.New("epbs: envelope references an unknown block root")
	ErrPriorToFinalization   = errors.New("epbs: envelope slot is prior to the finalized slot")
	ErrNotGloasBlock         = errors.New("epbs: referenced block is not a Gloas block with a bid")
	ErrInvalidEnvelopeSig    = errors.New("epbs: envelope signature does not verify")
)

// GossipedBlock is the minimal view of a fork-choice block needed by
// envelope gossip verification: its slot and the bid it committed to (nil
// for a pre-Gloas block). epbs/forkchoice.Store satisfies this lookup
// through BlockByRoot; this package does not import forkchoice to avoid a
// cycle (forkchoice imports epbs for its types).
type GossipedBlock struct {
	Slot uint64
	Bid  *ExecutionPayloadBid
}

// BlockLookup resolves a beacon block root to the block it identifies, as
// known to local fork choice.
type BlockLookup interface {
	BlockByRoot(root types.Hash) (GossipedBlock, bool)
}

// EnvelopeGossipContext carries the state needed to verify an envelope
// gossip message.
type EnvelopeGossipContext struct {
	Blocks        BlockLookup
	State         *State
	FinalizedSlot uint64
}

// VerifyEnvelopeGossip runs the full envelope gossip pipeline against
// signed, returning the resolved block alongside the verdict so a caller
// can buffer the envelope for replay on ErrBlockRootUnknown without a
// second lookup.
func VerifyEnvelopeGossip(ctx *EnvelopeGossipContext, signed *SignedExecutionPayloadEnvelope) (GossipVerdict, error) {
	env := &signed.Message

	// 1. Referenced block root known to fork choice.
	block, ok := ctx.Blocks.BlockByRoot(env.BeaconBlockRoot)
	if !ok {
		return GossipIgnore, ErrBlockRootUnknown
	}

	// 2. Slot is at or after the finalized slot.
	if env.Slot < ctx.FinalizedSlot {
		return GossipIgnore, ErrPriorToFinalization
	}

	// 3. Referenced block is a Gloas block with a bid.
	if block.Bid == nil {
		return GossipReject, ErrNotGloasBlock
	}

	// 4. builder_index / slot / block_hash match the committed bid.
	if err := ValidateBidEnvelopeConsistency(block.Bid, env); err != nil {
		return GossipReject, err
	}

	// 5. Signature, skipped for self-build.
	if env.BuilderIndex != BuilderIndexSelfBuild {
		builder, err := ctx.State.RequireActiveBuilder(env.BuilderIndex, ctx.FinalizedSlot/SlotsPerEpoch)
		if err != nil {
			return GossipReject, ErrInvalidEnvelopeSig
		}
		root := envelopeSigningRoot(env)
		if !crypto.DefaultBLSBackend().Verify(builder.Pubkey[:], signingMessage(DomainBeaconBuilder, root), signed.Signature[:]) {
			return GossipReject, ErrInvalidEnvelopeSig
		}
	} else if !signed.IsZeroSignature() {
		return GossipReject, ErrInvalidEnvelopeSig
	}

	return GossipAccept, nil
}

// envelopeSigningRoot is a deterministic fingerprint of the envelope
// fields a builder commits to by signing, mirroring ExecutionPayloadBid.Root.
func envelopeSigningRoot(env *ExecutionPayloadEnvelope) [32]byte {
	buf := make([]byte, 0, 32+8+32)
	buf = append(buf, env.BeaconBlockRoot[:]...)
	buf = append(buf, encodeUint64(env.Slot)...)
	buf = append(buf, env.Payload.BlockHash[:]...)
	return crypto.Keccak256Hash(buf)
}
