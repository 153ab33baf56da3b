// transition_attestation.go implements process_payload_attestation, the
// in-block processing of a block's payload_attestations list (spec.md §4.1).
// Like transition_bid.go, this is the block-processing counterpart to a
// gossip pipeline (attestation_gossip.go's VerifyAttestationGossip): gossip
// screens individual aggregates as they arrive on the wire, this function
// admits one already selected for inclusion and credits its PTC weight.
package epbs

import (
	"errors"

	"github.com/eth2030/eth2030/crypto"
)

// Block transition errors for process_payload_attestation.
var (
	ErrAttestationSlotMismatch = errors.New("epbs: payload attestation slot does not match parent block slot")
)

// EffectiveBalanceLookup resolves a validator's effective balance, the
// weight unit process_payload_attestation accumulates into a builder's
// pending payment. epbs/forkchoice.Store supplies this once the validator
// registry is available.
type EffectiveBalanceLookup interface {
	EffectiveBalance(validatorIndex uint64) (uint64, bool)
}

// ProcessPayloadAttestation admits agg as part of the block whose parent has
// parentBlockSlot, crediting each attesting validator's effective balance to
// the pending payment at that slot (spec.md §4.1 step: "for each attesting
// index, if the pending payment amount is non-zero, accumulate weight").
// verifySignatures gates the aggregate BLS check for the same block-replay
// reason as ProcessExecutionPayloadBid.
func ProcessPayloadAttestation(state *State, parentBlockSlot uint64, ptc PTCProvider, balances EffectiveBalanceLookup, agg *PayloadAttestation, verifySignatures bool) error {
	// 1. Non-empty aggregation bits.
	bits := setBitIndices(agg.AggregationBits)
	if len(bits) == 0 {
		return ErrEmptyAggregationBits
	}

	// 2. Slot must equal the parent block's slot.
	if agg.Data.Slot != parentBlockSlot {
		return ErrAttestationSlotMismatch
	}

	// 3. Every set bit identifies a PTC member.
	members, ok := ptc.PTCMembers(agg.Data.BeaconBlockRoot)
	if !ok {
		return ErrUnknownBeaconBlockRoot
	}
	for _, bit := range bits {
		if bit >= len(members) {
			return ErrAttesterNotInPTC
		}
	}

	// 4. Aggregate signature under DOMAIN_PTC_ATTESTER, attesting_indices
	// taken directly from the bitvector so they are inherently
	// non-decreasing (duplicates impossible: each bit appears once).
	if verifySignatures {
		pubkeys := make([][]byte, 0, len(bits))
		for _, bit := range bits {
			pk, ok := ptc.ValidatorPubkey(members[bit])
			if !ok {
				return ErrAttesterNotInPTC
			}
			pkCopy := pk
			pubkeys = append(pubkeys, pkCopy[:])
		}
		root := attestationSigningRoot(&agg.Data)
		if !crypto.DefaultBLSBackend().FastAggregateVerify(pubkeys, signingMessage(DomainPTCAttester, root), agg.Signature[:]) {
			return ErrInvalidAttestationSig
		}
	}

	// 5. Credit each attesting validator's effective balance toward the
	// builder's pending payment for this slot, if one is outstanding.
	payment := state.BuilderPendingPayments[PendingPaymentSlotIndex(parentBlockSlot)]
	if payment.IsEmpty() {
		return nil
	}
	for _, bit := range bits {
		balance, ok := balances.EffectiveBalance(members[bit])
		if !ok {
			continue
		}
		if err := state.AccumulatePTCWeight(parentBlockSlot, balance); err != nil {
			return err
		}
	}
	return nil
}
