// ingress.go implements the five fork-choice ingress operations (spec.md
// §4.2 "Ingress operations"), each acquiring the store's write lock
// independently per spec.md §5's ordering guarantees.
package forkchoice

import (
	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/epbs"
)

// BoostWindowFraction is the fraction of a slot (out of the 4-interval
// model, spec.md §5) within which an arriving block is still eligible for
// proposer boost. The frozen spec text pins the model's four interval
// deadlines but not which one gates boost eligibility; this package uses
// the first interval, the same fraction standard (non-Gloas) fork choice
// uses for its attestation-deadline boost cutoff.
const BoostWindowFraction = 4

// withinBoostWindow reports whether msIntoSlot falls in the first of
// BoostWindowFraction equal slices of a slotDurationMs slot.
func withinBoostWindow(msIntoSlot, slotDurationMs uint64) bool {
	return slotDurationMs > 0 && msIntoSlot <= slotDurationMs/BoostWindowFraction
}

// OnBlock imports a new block (spec.md §4.2 "on_block"). bid is nil for a
// pre-Gloas block. lookahead resolves the expected proposer for
// anti-equivocation when deciding whether to grant proposer boost;
// boostWeight is the caller-computed weight to grant if boost applies.
func (s *Store) OnBlock(root, parentRoot types.Hash, slot, proposerIndex uint64, bid *epbs.ExecutionPayloadBid, lookahead epbs.ProposerLookahead, msIntoSlot, slotDurationMs, boostWeight uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.nodes[root]; dup {
		return ErrDuplicateBlock
	}
	if len(s.nodes) > 0 {
		parent, ok := s.nodes[parentRoot]
		if !ok {
			return ErrUnknownParent
		}
		parent.Children = append(parent.Children, root)
	}

	node := &Node{
		Root:          root,
		ParentRoot:    parentRoot,
		Slot:          slot,
		ProposerIndex: proposerIndex,
	}
	if bid != nil {
		node.BidBlockHash = bid.BlockHash
		node.BidParentBlockHash = bid.ParentBlockHash
		node.BuilderIndex = bid.BuilderIndex
	}
	s.nodes[root] = node

	if withinBoostWindow(msIntoSlot, slotDurationMs) && lookahead != nil {
		if expected, _, ok := lookahead.ProposerAtSlot(slot); ok && expected == proposerIndex {
			s.boostRoot = root
			s.boostWeight = boostWeight
		}
	}

	s.headCacheValid = false
	return nil
}

// OnExecutionBid records a (possibly re-)bid for an already-imported block
// (spec.md §4.2 "on_execution_bid"). Only builder_index and the PTC state
// it invalidates change; bid_block_hash is block-layer metadata on_block
// alone owns.
func (s *Store) OnExecutionBid(root types.Hash, slot uint64, builderIndex epbs.BuilderIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[root]
	if !ok || node.Slot != slot {
		return ErrUnknownBid
	}

	node.BuilderIndex = builderIndex
	node.PayloadRevealed = false
	node.EnvelopeReceived = false
	node.PayloadDataAvailable = false
	node.PTCWeight = 0
	node.PTCBlobDataAvailableWeight = 0

	s.headCacheValid = false
	return nil
}

// setBits returns the indices of set bits in a bitvector, low bit of
// bits[0] first — the same convention attestation_gossip.go's aggregation
// bitvectors use.
func setBits(bits []byte) []int {
	var out []int
	for i, b := range bits {
		for bit := 0; bit < 8; bit++ {
			if b&(1<<uint(bit)) != 0 {
				out = append(out, i*8+bit)
			}
		}
	}
	return out
}

// OnPayloadAttestation accumulates agg's PTC weight onto the referenced
// block (spec.md §4.2 "on_payload_attestation"). Silently ignores a
// data.slot mismatch (skip-slot scenario) rather than erroring. msIntoSlot
// and slotDurationMs gate PTCTimely the same window OnBlock uses for boost.
func (s *Store) OnPayloadAttestation(agg *epbs.PayloadAttestation, ptc epbs.PTCProvider, balances epbs.EffectiveBalanceLookup, msIntoSlot, slotDurationMs uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	finalizedSlot := uint64(0)
	if fn := s.node(s.finalized.Root); fn != nil {
		finalizedSlot = fn.Slot
	}
	if agg.Data.Slot < finalizedSlot {
		return ErrAttestationTooOld
	}
	if agg.Data.Slot > s.currentSlot {
		return ErrAttestationTooNew
	}

	node, ok := s.nodes[agg.Data.BeaconBlockRoot]
	if !ok {
		return ErrUnknownBlock
	}
	if agg.Data.Slot != node.Slot {
		// Skip-slot scenario: silently ignore, not an error.
		return nil
	}

	members, ok := ptc.PTCMembers(agg.Data.BeaconBlockRoot)
	if !ok {
		return nil
	}

	wasRevealed := node.PayloadRevealed
	for _, bit := range setBits(agg.AggregationBits) {
		if bit >= len(members) {
			continue
		}
		bal, ok := balances.EffectiveBalance(members[bit])
		if !ok {
			continue
		}
		if agg.Data.PayloadPresent {
			node.PTCWeight += bal
		}
		if agg.Data.BlobDataAvailable {
			node.PTCBlobDataAvailableWeight += bal
		}
	}

	if node.PTCWeight > epbs.PayloadTimelyThreshold {
		node.PayloadRevealed = true
	}
	if node.PTCBlobDataAvailableWeight > epbs.DataAvailabilityTimelyThreshold {
		node.PayloadDataAvailable = true
	}

	if !wasRevealed && node.PayloadRevealed {
		if withinBoostWindow(msIntoSlot, slotDurationMs) {
			node.PTCTimely = true
		}
		if node.ExecutionStatus.Kind == ExecutionStatusUnset && node.BidBlockHash != (types.Hash{}) {
			node.ExecutionStatus = ExecutionStatus{Kind: ExecutionStatusOptimistic, BlockHash: node.BidBlockHash}
		}
	}

	s.headCacheValid = false
	return nil
}

// OnExecutionPayload records the unconditional full reveal on envelope
// processing (spec.md §4.2 "on_execution_payload").
func (s *Store) OnExecutionPayload(root types.Hash, payloadBlockHash types.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	node, ok := s.nodes[root]
	if !ok {
		return ErrUnknownBlock
	}

	node.EnvelopeReceived = true
	node.PayloadRevealed = true
	node.PayloadDataAvailable = true
	if node.ExecutionStatus.Kind != ExecutionStatusValid && node.ExecutionStatus.Kind != ExecutionStatusInvalid {
		node.ExecutionStatus = ExecutionStatus{Kind: ExecutionStatusOptimistic, BlockHash: payloadBlockHash}
	}

	s.headCacheValid = false
	return nil
}

// RecordLatestMessage updates a validator's latest vote for LMD-GHOST
// weight accumulation, keeping only the most recent (by slot) per
// validator — the plumbing validate_on_attestation's gating protects.
// Ignores a vote that is not newer than the one already on file.
func (s *Store) RecordLatestMessage(msg LatestMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.latestMessages[msg.ValidatorIndex]; ok && msg.Slot <= existing.Slot {
		return
	}
	s.latestMessages[msg.ValidatorIndex] = msg
	s.headCacheValid = false
}

// ValidateOnAttestation gates an incoming beacon attestation's payload-
// presence index (spec.md §4.2 "validate_on_attestation"): index must be 0
// or 1, same-slot attestations must vote 0, and index 1 requires the
// referenced block to have its envelope already received.
func (s *Store) ValidateOnAttestation(beaconBlockRoot types.Hash, dataSlot, index uint64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if index > 1 {
		return ErrInvalidPayloadIndex
	}
	if dataSlot == s.currentSlot && index != 0 {
		return ErrSameSlotPresentVote
	}
	if index == 1 {
		node, ok := s.nodes[beaconBlockRoot]
		if !ok {
			return ErrUnknownBlock
		}
		if !node.EnvelopeReceived {
			return ErrPayloadNotRevealed
		}
	}
	return nil
}
