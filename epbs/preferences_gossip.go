// preferences_gossip.go implements the proposer preferences gossip
// verification pipeline (spec.md §4.5 "Proposer preferences gossip").
package epbs

import (
	"errors"

	"github.com/eth2030/eth2030/crypto"
)

// Proposer preferences gossip errors, one per spec.md §4.5 check.
var (
	ErrPreferencesNotNextEpoch  = errors.New("epbs: proposal_slot is not in the next epoch")
	ErrPreferencesWrongProposer = errors.New("epbs: validator_index does not match the proposer lookahead")
	ErrPreferencesDuplicate     = errors.New("epbs: proposer preferences already recorded for this slot")
	ErrInvalidPreferencesSig    = errors.New("epbs: proposer preferences signature does not verify")
)

// ProposerLookahead resolves the validator index assigned to propose a
// future slot, plus its BLS pubkey, as computed by the pre-Gloas proposer
// shuffling this package assumes exists unchanged.
type ProposerLookahead interface {
	ProposerAtSlot(slot uint64) (validatorIndex uint64, pubkey BLSPubkey, ok bool)
}

// PreferencesGossipContext carries the state needed to verify a proposer
// preferences gossip message.
type PreferencesGossipContext struct {
	Lookahead   ProposerLookahead
	Pool        *ProposerPreferencesPool
	CurrentSlot uint64
}

// VerifyPreferencesGossip runs the full proposer preferences gossip
// pipeline against signed.
func VerifyPreferencesGossip(ctx *PreferencesGossipContext, signed *SignedProposerPreferences) (GossipVerdict, error) {
	prefs := &signed.Message

	// 1. proposal_slot lies in the next epoch.
	currentEpoch := ctx.CurrentSlot / SlotsPerEpoch
	nextEpoch := currentEpoch + 1
	slotEpoch := prefs.Slot / SlotsPerEpoch
	if slotEpoch != nextEpoch {
		return GossipIgnore, ErrPreferencesNotNextEpoch
	}

	// 2. Validator index matches the proposer lookahead for that slot.
	expectedIndex, pubkey, ok := ctx.Lookahead.ProposerAtSlot(prefs.Slot)
	if !ok || expectedIndex != prefs.ValidatorIndex {
		return GossipReject, ErrPreferencesWrongProposer
	}

	// 3. Not a duplicate for the same slot.
	if _, seen := ctx.Pool.Get(prefs.Slot); seen {
		return GossipIgnore, ErrPreferencesDuplicate
	}

	// 4. Signature under DOMAIN_PROPOSER_PREFERENCES.
	root := preferencesSigningRoot(prefs)
	if !crypto.DefaultBLSBackend().Verify(pubkey[:], signingMessage(DomainProposerPreferences, root), signed.Signature[:]) {
		return GossipReject, ErrInvalidPreferencesSig
	}

	return GossipAccept, nil
}

// preferencesSigningRoot is a deterministic fingerprint of the fields a
// proposer commits to by signing, mirroring ExecutionPayloadBid.Root.
func preferencesSigningRoot(p *ProposerPreferences) [32]byte {
	buf := make([]byte, 0, 8+8+20+8)
	buf = append(buf, encodeUint64(p.Slot)...)
	buf = append(buf, encodeUint64(p.ValidatorIndex)...)
	buf = append(buf, p.FeeRecipient[:]...)
	buf = append(buf, encodeUint64(p.GasLimit)...)
	return crypto.Keccak256Hash(buf)
}
