// attestation_gossip.go implements the payload attestation gossip
// verification pipeline (spec.md §4.5 "Payload attestation gossip"). The
// gossip topic carries the aggregate PayloadAttestation, one per PTC
// member whose bit is set; each set bit is checked individually against
// the observed-attestations equivocation tracker.
package epbs

import (
	"errors"

	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/crypto"
)

// Payload attestation gossip errors, one per spec.md §4.5 check.
var (
	ErrAttestationPastSlot    = errors.New("epbs: payload attestation slot is too far in the past")
	ErrAttestationFutureSlot  = errors.New("epbs: payload attestation slot is in the future")
	ErrEmptyAggregationBits   = errors.New("epbs: payload attestation has no set aggregation bits")
	ErrUnknownBeaconBlockRoot = errors.New("epbs: payload attestation references an unknown block root")
	ErrAttesterNotInPTC       = errors.New("epbs: a set bit does not identify a PTC member")
	ErrValidatorEquivocation  = errors.New("epbs: validator cast conflicting payload attestations for this slot")
	ErrInvalidAttestationSig  = errors.New("epbs: payload attestation aggregate signature does not verify")
)

// PTCProvider resolves the Payload Timeliness Committee seated for a block,
// in bit order, plus each member's BLS pubkey. epbs/forkchoice.Store
// supplies this once committee shuffling and the validator registry are
// available; this package only consumes the interface to avoid an import
// cycle (forkchoice imports epbs for its types, not the reverse).
type PTCProvider interface {
	// PTCMembers returns the validator indices seated on the PTC for the
	// block identified by beaconBlockRoot, in aggregation-bit order.
	PTCMembers(beaconBlockRoot types.Hash) ([]uint64, bool)
	// ValidatorPubkey resolves a validator index to its BLS pubkey.
	ValidatorPubkey(validatorIndex uint64) (BLSPubkey, bool)
}

// AttestationGossipContext carries the state needed to verify a payload
// attestation gossip message.
type AttestationGossipContext struct {
	Blocks      BlockLookup
	PTC         PTCProvider
	Observed    *ObservedPayloadAttestations
	CurrentSlot uint64
}

// VerifyAttestationGossip runs the full payload attestation gossip
// pipeline against agg.
func VerifyAttestationGossip(ctx *AttestationGossipContext, agg *PayloadAttestation) (GossipVerdict, error) {
	// 1. Slot window.
	if ctx.CurrentSlot > PayloadAttestationPastSlotWindow && agg.Data.Slot < ctx.CurrentSlot-PayloadAttestationPastSlotWindow {
		return GossipIgnore, ErrAttestationPastSlot
	}
	if agg.Data.Slot > ctx.CurrentSlot+PayloadAttestationFutureSlotDisparity {
		return GossipIgnore, ErrAttestationFutureSlot
	}

	// 2. Aggregation bits non-empty.
	bits := setBitIndices(agg.AggregationBits)
	if len(bits) == 0 {
		return GossipReject, ErrEmptyAggregationBits
	}

	// 3. Referenced block root known.
	if _, ok := ctx.Blocks.BlockByRoot(agg.Data.BeaconBlockRoot); !ok {
		return GossipIgnore, ErrUnknownBeaconBlockRoot
	}

	// 4. Each set bit identifies a PTC member.
	members, ok := ctx.PTC.PTCMembers(agg.Data.BeaconBlockRoot)
	if !ok {
		return GossipIgnore, ErrUnknownBeaconBlockRoot
	}
	for _, bit := range bits {
		if bit >= len(members) {
			return GossipReject, ErrAttesterNotInPTC
		}
	}

	// 5. Equivocation check, one per set bit's validator.
	for _, bit := range bits {
		msg := &PayloadAttestationMessage{
			ValidatorIndex: members[bit],
			Data:           agg.Data,
			Signature:      agg.Signature,
		}
		switch ctx.Observed.Observe(msg) {
		case PayloadAttestationObservationDuplicate:
			continue
		case PayloadAttestationObservationEquivocation:
			return GossipReject, ErrValidatorEquivocation
		}
	}

	// 6. Aggregate signature under DOMAIN_PTC_ATTESTER. Every set bit
	// attests to the same PayloadAttestationData, so this is a
	// fast-aggregate (single-message, many-signer) verification.
	pubkeys := make([][]byte, 0, len(bits))
	for _, bit := range bits {
		pk, ok := ctx.PTC.ValidatorPubkey(members[bit])
		if !ok {
			return GossipReject, ErrAttesterNotInPTC
		}
		pkCopy := pk
		pubkeys = append(pubkeys, pkCopy[:])
	}
	root := attestationSigningRoot(&agg.Data)
	if !crypto.DefaultBLSBackend().FastAggregateVerify(pubkeys, signingMessage(DomainPTCAttester, root), agg.Signature[:]) {
		return GossipReject, ErrInvalidAttestationSig
	}

	return GossipAccept, nil
}

// attestationSigningRoot is a deterministic fingerprint of the attested
// data, mirroring ExecutionPayloadBid.Root.
func attestationSigningRoot(data *PayloadAttestationData) [32]byte {
	buf := make([]byte, 0, 32+8+2)
	buf = append(buf, data.BeaconBlockRoot[:]...)
	buf = append(buf, encodeUint64(data.Slot)...)
	if data.PayloadPresent {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	if data.BlobDataAvailable {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return crypto.Keccak256Hash(buf)
}

// setBitIndices returns the indices of every set bit in a little-endian
// bitvector, in ascending order.
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
