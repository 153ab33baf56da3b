// process_envelope.go implements the two envelope admission paths spec.md
// §4.6 names: ProcessSelfBuildEnvelope, applied immediately because this
// node is the builder and already holds the payload, and
// ProcessPayloadEnvelope, the gossip path for an externally-built payload
// that buffers until its referenced block has been imported
// (pendingGossipEnvelopes) and is drained by ProcessPendingEnvelope once it
// has. Grounded on the teacher's gossip/import ordering in
// epbs/envelope_gossip.go (VerifyEnvelopeGossip already tolerates an unknown
// block root as a transient, not a permanent, rejection).
package beaconchain

import (
	"errors"

	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/epbs"
)

// ErrEnvelopeAlreadyClosed is returned when an envelope arrives for a slot
// RevealCoordinator has already closed out.
var ErrEnvelopeAlreadyClosed = errors.New("beaconchain: envelope arrived for a slot that is already closed")

// ProcessSelfBuildEnvelope admits a self-built envelope immediately: the
// block that committed to it was just processed by this same node acting as
// builder, so there is no gossip round-trip and no need to buffer on an
// unseen parent.
func (bc *BeaconChain) ProcessSelfBuildEnvelope(state *epbs.State, header *epbs.BeaconBlockHeader, signed *epbs.SignedExecutionPayloadEnvelope, ctx *epbs.EnvelopeTransitionContext) error {
	if _, err := bc.reveal.Decide(header.Slot, header.Root(), &state.LatestExecutionPayloadBid); err != nil && !errors.Is(err, ErrRevealAlreadyDecided) {
		return err
	}
	if err := bc.admitEnvelope(state, header, signed, ctx); err != nil {
		return err
	}
	return bc.reveal.Close(header.Slot)
}

// ProcessPayloadEnvelope admits a gossiped envelope from an external
// builder. If the block it reveals has already been imported, it is
// admitted immediately; otherwise it is buffered under the block's root for
// ProcessPendingEnvelope to drain once that block lands (spec.md §4.6:
// "gossip path, buffers in pending_gossip_envelopes").
func (bc *BeaconChain) ProcessPayloadEnvelope(signed *epbs.SignedExecutionPayloadEnvelope) error {
	root := signed.Message.BeaconBlockRoot
	if !bc.store.HasNode(root) {
		bc.pendingGossipEnvelopes[root] = append(bc.pendingGossipEnvelopes[root], signed)
		return nil
	}
	return bc.processKnownEnvelope(root, signed)
}

// ProcessPendingEnvelope drains any envelopes that arrived before
// blockRoot's block did, now that the block has been imported. Called once
// per block import, after ProcessBlock, following the same
// import-then-replay-buffered-gossip sequencing as notifyPTCMessages does
// for in-block attestations.
func (bc *BeaconChain) ProcessPendingEnvelope(blockRoot types.Hash) error {
	pending, ok := bc.pendingGossipEnvelopes[blockRoot]
	if !ok {
		return nil
	}
	delete(bc.pendingGossipEnvelopes, blockRoot)

	for _, signed := range pending {
		if err := bc.processKnownEnvelope(blockRoot, signed); err != nil {
			bc.log.Warn("dropping buffered envelope", "root", blockRoot, "err", err)
		}
	}
	return nil
}

// processKnownEnvelope runs the gossip-path admission once blockRoot's block
// is known: load the block's post-bid state, admit the envelope, apply the
// EL/fork-choice side effects, and close out the reveal decision for that
// slot.
func (bc *BeaconChain) processKnownEnvelope(blockRoot types.Hash, signed *epbs.SignedExecutionPayloadEnvelope) error {
	block, ok := bc.store.BlockByRoot(blockRoot)
	if !ok {
		return ErrUnknownParentBlock
	}
	if bc.reveal.IsClosed(block.Slot) {
		return ErrEnvelopeAlreadyClosed
	}

	state, err := bc.states.GetAdvancedHotState(blockRoot, nil)
	if err != nil {
		return err
	}

	header := &epbs.BeaconBlockHeader{Slot: block.Slot}
	ctx := &epbs.EnvelopeTransitionContext{
		Engine:             bc.engine,
		Requests:           bc.requests,
		GenesisTime:        bc.cfg.GenesisTime,
		SecondsPerSlot:     bc.cfg.SecondsPerSlot,
		CurrentStateRoot:   bc.stateRoots.StateRoot(state),
		ResultingStateRoot: func() types.Hash { return bc.stateRoots.StateRoot(state) },
		VerifySignatures:   bc.cfg.VerifySignatures,
	}

	if err := bc.admitEnvelope(state, header, signed, ctx); err != nil {
		return err
	}
	if err := bc.reveal.Close(block.Slot); err != nil && !errors.Is(err, ErrRevealNotDecided) {
		return err
	}
	return nil
}

// admitEnvelope runs the shared tail of both envelope paths: the Gloas
// state transition, then fork choice's on_execution_payload, then the
// state cache bookkeeping get_advanced_hot_state needs to survive an
// eviction.
func (bc *BeaconChain) admitEnvelope(state *epbs.State, header *epbs.BeaconBlockHeader, signed *epbs.SignedExecutionPayloadEnvelope, ctx *epbs.EnvelopeTransitionContext) error {
	paymentIdx := epbs.PendingPaymentSlotIndex(header.Slot)
	var pendingPayment epbs.BuilderPendingPayment
	if int(paymentIdx) < len(state.BuilderPendingPayments) {
		pendingPayment = state.BuilderPendingPayments[paymentIdx]
	}

	if err := epbs.ProcessExecutionPayloadEnvelope(state, header, signed, ctx); err != nil {
		return err
	}

	root := signed.Message.BeaconBlockRoot
	if err := bc.store.OnExecutionPayload(root, signed.Message.Payload.BlockHash); err != nil {
		return err
	}

	bc.states.RecordEnvelope(root, signed)
	// PromoteBuilderPayment (run inside ProcessExecutionPayloadEnvelope) only
	// appends a withdrawal when the slot's pending payment wasn't already
	// empty, e.g. cleared earlier by ApplyBuilderSlashing/ApplyProposerSlashing.
	if !pendingPayment.IsEmpty() {
		bc.paymentStats.RecordPromotion(header.Slot, pendingPayment.BuilderIndex, pendingPayment.Amount)
	}
	if _, status, err := bc.store.FindHead(); err == nil && status == epbs.PayloadStatusFull {
		if _, err := bc.RecomputeCanonicalHead(state.LatestBlockHash); err != nil {
			bc.log.Warn("failed to recompute canonical head after envelope", "err", err)
		}
	}
	return nil
}
