// process_epoch.go implements the Gloas-specific slice of epoch processing
// spec.md §3 describes: rotating the builder pending-payment window
// (promoting stragglers that reached PTC quorum without an envelope,
// forfeiting the rest) and shifting the proposer lookahead forward one
// epoch. Pre-Gloas epoch processing (justification, rewards, registry
// updates, …) is assumed to run unchanged elsewhere and is not modeled
// here; a driver calls ProcessEpochTransition alongside it, once per epoch
// boundary.
package beaconchain

import "github.com/eth2030/eth2030/epbs"

// ProcessEpochTransition runs Gloas's epoch-boundary bookkeeping against
// state, which the caller has already advanced into nextEpoch. It promotes
// or forfeits any builder pending payment left over from the epoch that
// just closed, then shifts the proposer lookahead window so its new second
// half covers nextEpoch+1, computed from bc.validators' proposer shuffling.
func (bc *BeaconChain) ProcessEpochTransition(state *epbs.State, nextEpoch uint64) {
	state.RotatePendingPayments(epbs.PayloadTimelyThreshold)

	incoming := make([]uint64, epbs.SlotsPerEpoch)
	firstSlot := (nextEpoch + 1) * epbs.SlotsPerEpoch
	for i := range incoming {
		if idx, _, ok := bc.validators.ProposerAtSlot(firstSlot + uint64(i)); ok {
			incoming[i] = idx
		}
	}
	state.ShiftProposerLookahead(incoming)
}
