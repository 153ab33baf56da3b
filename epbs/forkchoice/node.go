// node.go defines the physical block-tree node Store tracks (spec.md §4.2).
// Fork choice itself operates over *virtual* nodes layered on top of this
// tree (see virtual.go): each physical PENDING node contributes an EMPTY
// and, once its payload is revealed, a FULL virtual node sharing its root.
package forkchoice

import (
	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/epbs"
)

// ExecutionStatusKind classifies a node's execution-layer validity as last
// reported by the EL, mirroring the Optimistic/Valid/Invalid states the
// Engine API drives (spec.md §4.2: "execution_status=Optimistic(...)").
type ExecutionStatusKind int

const (
	ExecutionStatusUnset ExecutionStatusKind = iota
	ExecutionStatusOptimistic
	ExecutionStatusValid
	ExecutionStatusInvalid
)

// ExecutionStatus pairs the EL validity classification with the block hash
// it was reported against.
type ExecutionStatus struct {
	Kind      ExecutionStatusKind
	BlockHash types.Hash
}

// Node is one physical block in the fork-choice tree. Its root never
// changes meaning (unlike the EMPTY/FULL/PENDING virtual nodes layered on
// top of it in virtual.go), but its Gloas-specific fields mutate in place
// as bids, attestations, and envelopes arrive for it.
type Node struct {
	Root          types.Hash
	ParentRoot    types.Hash
	Slot          uint64
	ProposerIndex uint64
	Children      []types.Hash

	// BidBlockHash and BidParentBlockHash are the block's committed bid's
	// block_hash/parent_block_hash, set by on_block and replaced wholesale
	// by on_execution_bid (spec.md §4.2 "on_execution_bid").
	BidBlockHash       types.Hash
	BidParentBlockHash types.Hash
	BuilderIndex       epbs.BuilderIndex

	// PayloadRevealed, EnvelopeReceived, and PayloadDataAvailable track
	// the payload's reveal lifecycle. PayloadRevealed flips once PTC
	// weight for "present" crosses PTCSize/2 (on_payload_attestation) or
	// unconditionally on on_execution_payload; EnvelopeReceived is set
	// only by on_execution_payload.
	PayloadRevealed      bool
	EnvelopeReceived     bool
	PayloadDataAvailable bool

	// PTCTimely records whether the payload was revealed within its boost
	// window, the field should_extend_payload's condition (a) consults
	// (spec.md §4.2, anchor initialization). Set by OnPayloadAttestation
	// when the crossing attestation itself arrives inside that window;
	// see DESIGN.md for the exact boundary this package chose.
	PTCTimely bool

	// PTCWeight and PTCBlobDataAvailableWeight accumulate effective
	// balance from payload_attestation votes (spec.md §4.2
	// "on_payload_attestation").
	PTCWeight                  uint64
	PTCBlobDataAvailableWeight uint64

	ExecutionStatus ExecutionStatus
}

// LatestMessage is a validator's most recent attestation target for
// LMD-GHOST purposes, extended with the Gloas payload_present bit
// (spec.md §4.2 "is_supporting_vote_gloas": vote = (slot, root', payload_present)).
type LatestMessage struct {
	ValidatorIndex   uint64
	Slot             uint64
	Root             types.Hash
	PayloadPresent   bool
	EffectiveBalance uint64
}
