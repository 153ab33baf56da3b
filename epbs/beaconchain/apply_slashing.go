// apply_slashing.go exposes the ePBS-local slashing consequences
// epbs/slashing.go implements (spec.md §8 scenario 6: no withdrawal is
// promoted at an epoch boundary for a builder or proposer slashed before
// the epoch closes) as BeaconChain entry points, for a driver's pre-Gloas
// slashing pipeline to call once it has independently confirmed the
// equivocation and applied the validator-level penalty.
package beaconchain

import (
	"github.com/eth2030/eth2030/epbs"
)

// ApplyBuilderSlashing forfeits idx's pending payments and starts its exit,
// once a driver's slashing pipeline has confirmed idx equivocated.
func (bc *BeaconChain) ApplyBuilderSlashing(state *epbs.State, idx epbs.BuilderIndex, currentEpoch uint64) error {
	return state.ProcessBuilderSlashing(idx, currentEpoch)
}

// ApplyProposerSlashing forfeits the pending payment committed at
// blockSlot, once a driver's slashing pipeline has confirmed the slot's
// proposer equivocated and the block it proposed is no longer canonical.
func (bc *BeaconChain) ApplyProposerSlashing(state *epbs.State, blockSlot uint64) error {
	return state.ProcessProposerSlashing(blockSlot)
}
