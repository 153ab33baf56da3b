// apply_attestation.go implements ApplyPayloadAttestationToForkChoice
// (spec.md §4.6): the gossip-driven path for an incoming aggregated
// PayloadAttestation, running VerifyAttestationGossip, updating the
// equivocation tracker and the pool, and folding an accepted vote into
// fork choice. A PTC vote crossing the reveal threshold can flip a node's
// payload_revealed bit outside of block processing, so this path also
// recomputes the canonical head when that happens — the same trigger
// on_payload_attestation documents for find_head_gloas (spec.md §4.2).
package beaconchain

import (
	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/epbs"
)

// ApplyPayloadAttestationToForkChoice verifies a gossiped payload
// attestation aggregate, records it, and folds it into fork choice. If the
// vote causes the referenced block's payload to newly cross the reveal
// threshold, the canonical head is recomputed so a stalled EL head gets
// unstuck without waiting for the next block.
func (bc *BeaconChain) ApplyPayloadAttestationToForkChoice(currentSlot, msIntoSlot uint64, agg *epbs.PayloadAttestation) (epbs.GossipVerdict, error) {
	ctx := &epbs.AttestationGossipContext{
		Blocks:      bc.store,
		PTC:         bc.validators,
		Observed:    bc.observedAttestations,
		CurrentSlot: currentSlot,
	}

	verdict, err := epbs.VerifyAttestationGossip(ctx, agg)
	if verdict != epbs.GossipAccept {
		return verdict, err
	}

	root := agg.Data.BeaconBlockRoot
	wasRevealed := false
	if node, ok := bc.store.GetNode(root); ok {
		wasRevealed = node.PayloadRevealed
	}

	if err := bc.store.OnPayloadAttestation(agg, bc.validators, bc.validators, msIntoSlot, bc.cfg.SlotDurationMs); err != nil {
		return epbs.GossipIgnore, err
	}

	if node, ok := bc.store.GetNode(root); ok && node.PayloadRevealed && !wasRevealed {
		if state, stateErr := bc.states.GetAdvancedHotState(root, nil); stateErr == nil {
			if _, err := bc.RecomputeCanonicalHead(state.LatestBlockHash); err != nil {
				bc.log.Warn("failed to recompute canonical head after payload attestation", "err", err)
			}
		}
	}

	bc.recordForInclusion(agg)

	return epbs.GossipAccept, nil
}

// recordForInclusion stores agg's underlying per-validator votes in the
// payload attestation pool, so a future block proposal for this slot can
// pull them back out via PackPayloadAttestations. Verification already ran
// in ApplyPayloadAttestationToForkChoice above; this only re-shapes an
// already-trusted aggregate into the pool's per-validator keying.
func (bc *BeaconChain) recordForInclusion(agg *epbs.PayloadAttestation) {
	members, ok := bc.validators.PTCMembers(agg.Data.BeaconBlockRoot)
	if !ok {
		return
	}
	for _, bit := range setBitIndices(agg.AggregationBits) {
		if bit >= len(members) {
			continue
		}
		bc.attestations.Insert(agg.Data.BeaconBlockRoot, &epbs.PayloadAttestationMessage{
			ValidatorIndex: members[bit],
			Data:           agg.Data,
			Signature:      agg.Signature,
		})
	}
}

// setBitIndices returns the indices of every set bit in a little-endian
// bitvector, in ascending order, mirroring epbs's own unexported helper of
// the same name (attestation_gossip.go) since this package cannot reach it.
func setBitIndices(bits []byte) []int {
	var out []int
	for byteIdx, b := range bits {
		for bitIdx := 0; bitIdx < 8; bitIdx++ {
			if b&(1<<uint(bitIdx)) != 0 {
				out = append(out, byteIdx*8+bitIdx)
			}
		}
	}
	return out
}

// PackPayloadAttestations returns the payload attestations available for
// inclusion in the next block proposed for targetSlot atop parentBlockRoot
// (spec.md §4.4 "payload attestation pool").
func (bc *BeaconChain) PackPayloadAttestations(targetSlot uint64, parentBlockRoot types.Hash) []*epbs.PayloadAttestationMessage {
	return bc.attestations.ForInclusion(targetSlot, parentBlockRoot)
}
