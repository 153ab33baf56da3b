// apply_proof.go implements ApplyExecutionProofToForkChoice (spec.md
// §4.5/§4.6): the gossip-driven path for an incoming SignedExecutionProof,
// the stateless-validation alternative to gossiping the full execution
// payload. A validated proof carries the same information on_execution_
// payload needs (which block_hash a given beacon block root resolved to)
// without this node ever holding the payload bytes themselves. Grounded on
// epbs/proof_gossip.go's REJECT/IGNORE verdict contract, mirrored from
// apply_bid.go's shape.
package beaconchain

import (
	"github.com/eth2030/eth2030/epbs"
)

// ApplyExecutionProofToForkChoice verifies a gossiped execution proof and,
// if accepted, folds it into fork choice the same way an execution payload
// would: the referenced block's payload is now known to resolve to
// proof.BlockHash.
func (bc *BeaconChain) ApplyExecutionProofToForkChoice(signed *epbs.SignedExecutionProof) (epbs.GossipVerdict, error) {
	ctx := &epbs.ProofGossipContext{Blocks: bc.store}

	verdict, err := epbs.VerifyProofGossip(ctx, &signed.Message)
	if verdict != epbs.GossipAccept {
		return verdict, err
	}

	if err := bc.store.OnExecutionPayload(signed.Message.BeaconBlockRoot, signed.Message.BlockHash); err != nil {
		return epbs.GossipIgnore, err
	}

	return epbs.GossipAccept, nil
}
