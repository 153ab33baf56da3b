// apply_bid.go implements ApplyExecutionBidToForkChoice (spec.md §4.6): the
// gossip-driven path for an incoming SignedExecutionPayloadBid, running
// VerifyBidGossip, updating the observation caches, and folding an accepted
// bid into fork choice via on_execution_bid. Grounded on
// epbs/bid_gossip.go's REJECT/IGNORE verdict contract and the teacher's
// forkchoice.go AddBlock pattern of only mutating the tree after validation
// has fully passed.
package beaconchain

import (
	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/epbs"
)

// ApplyExecutionBidToForkChoice verifies a gossiped bid, records it in the
// bid pool and equivocation tracker, and — if accepted — updates fork
// choice's view of the block's committed bid. The returned verdict tells
// the gossip driver whether to forward the message, penalize the peer, or
// drop it silently.
func (bc *BeaconChain) ApplyExecutionBidToForkChoice(state *epbs.State, headRoot types.Hash, currentSlot uint64, signed *epbs.SignedExecutionPayloadBid) (epbs.GossipVerdict, error) {
	ctx := &epbs.BidGossipContext{
		State:               state,
		ObservedBids:        bc.observedBids,
		ProposerPreferences: bc.preferences,
		HeadBlockRoot:       headRoot,
		CurrentSlot:         currentSlot,
		FinalizedEpoch:      state.FinalizedEpoch,
	}

	verdict, err := epbs.VerifyBidGossip(ctx, signed)
	if verdict != epbs.GossipAccept {
		return verdict, err
	}

	bc.bids.Insert(signed)

	bid := &signed.Message
	if err := bc.store.OnExecutionBid(headRoot, bid.Slot, bid.BuilderIndex); err != nil {
		return epbs.GossipIgnore, err
	}

	return epbs.GossipAccept, nil
}
