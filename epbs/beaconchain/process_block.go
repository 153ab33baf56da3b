// process_block.go implements BeaconChain.ProcessBlock (spec.md §4.1, §4.6):
// run the Gloas-specific parts of block processing (bid admission, in-block
// payload attestations) against the pre-Gloas state transition this package
// does not model, then fold the result into fork choice via on_block and
// notify_ptc_messages. Grounded on the teacher's block-import sequencing in
// epbs/auction_engine.go (bid settles before any attestation touches it) and
// pkg/consensus/forkchoice.go's AddBlock-then-AddAttestation ordering.
package beaconchain

import (
	"errors"

	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/epbs"
)

// ErrUnknownParentBlock is returned by ProcessBlock when the block's parent
// root is not yet known to fork choice.
var ErrUnknownParentBlock = errors.New("beaconchain: block parent is not known to fork choice")

// SignedBeaconBlock is the minimal envelope ProcessBlock needs around the
// pre-Gloas block body: enough of the header to feed fork choice and the
// Gloas-specific body fields (the committed bid and any payload attestations
// carried in-block). The rest of the block (transactions list minus the
// execution payload, attester slashings, etc.) is the caller's pre-Gloas
// pipeline's concern and is not represented here.
type SignedBeaconBlock struct {
	Header epbs.BeaconBlockHeader
	Root   types.Hash

	Bid                 *epbs.SignedExecutionPayloadBid
	PayloadAttestations []*epbs.PayloadAttestation

	// MsIntoSlot and BoostWeight feed on_block's proposer-boost decision;
	// the driver supplies them from wall-clock arrival time and the
	// caller's own committee-weight computation.
	MsIntoSlot  uint64
	BoostWeight uint64
}

// ProcessBlock admits block's Gloas-specific body fields into state, then
// records the block and its bid in fork choice and replays any in-block
// payload attestations against it (notify_ptc_messages). It does not run the
// pre-Gloas parts of block processing (state_root verification, attester
// slashings, pre-Gloas operations); the caller runs those before or after as
// its own pipeline dictates and passes in the resulting state.
func (bc *BeaconChain) ProcessBlock(state *epbs.State, block *SignedBeaconBlock, lookahead epbs.ProposerLookahead, verifySignatures bool) error {
	if !bc.store.HasNode(block.Header.ParentRoot) {
		return ErrUnknownParentBlock
	}

	var bid *epbs.ExecutionPayloadBid
	if block.Bid != nil {
		if err := epbs.ProcessExecutionPayloadBid(state, block.Header.Slot, block.Header.ParentRoot, block.Bid, verifySignatures); err != nil {
			return err
		}
		bid = &block.Bid.Message
	}

	if err := bc.store.OnBlock(block.Root, block.Header.ParentRoot, block.Header.Slot, block.Header.ProposerIndex, bid, lookahead, block.MsIntoSlot, bc.cfg.SlotDurationMs, block.BoostWeight); err != nil {
		return err
	}

	bc.states.Put(block.Root, state)

	return bc.notifyPTCMessages(state, block, verifySignatures)
}

// notifyPTCMessages replays each payload attestation carried in block's body
// against both the Gloas state transition (process_payload_attestation,
// crediting builder payments) and fork choice (on_payload_attestation,
// crediting PTC weight), mirroring how pkg/consensus/forkchoice.go's AddBlock
// immediately folds a block's attestations into the LMD-GHOST tally.
func (bc *BeaconChain) notifyPTCMessages(state *epbs.State, block *SignedBeaconBlock, verifySignatures bool) error {
	for _, agg := range block.PayloadAttestations {
		if err := epbs.ProcessPayloadAttestation(state, block.Header.Slot-1, bc.validators, bc.validators, agg, verifySignatures); err != nil {
			return err
		}
		if err := bc.store.OnPayloadAttestation(agg, bc.validators, bc.validators, block.MsIntoSlot, bc.cfg.SlotDurationMs); err != nil {
			return err
		}
	}
	return nil
}
