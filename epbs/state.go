package epbs

import (
	"github.com/bits-and-blooms/bitset"
	"github.com/eth2030/eth2030/core/types"
)

// Builder is a registered entity eligible to be paid for building execution
// payloads (spec.md §3).
type Builder struct {
	Pubkey          BLSPubkey
	FeeRecipient    types.Address
	Balance         uint64
	DepositEpoch    uint64
	WithdrawableEpoch uint64 // FarFutureEpoch while active
}

// ActiveAtFinalizedEpoch reports whether b is an active builder as of the
// finalized epoch (spec.md §3): deposited strictly before F and not yet
// exited.
func (b *Builder) ActiveAtFinalizedEpoch(finalizedEpoch uint64) bool {
	return b.DepositEpoch < finalizedEpoch && b.WithdrawableEpoch == FarFutureEpoch
}

// BuilderPendingPayment tracks an in-flight builder payment, indexed into a
// 2*SLOTS_PER_EPOCH window vector keyed by slot (spec.md §3).
type BuilderPendingPayment struct {
	BuilderIndex BuilderIndex
	Amount       uint64
	FeeRecipient types.Address
	Weight       uint64 // accumulated PTC effective-balance weight
}

// IsEmpty reports whether the payment slot holds no bid (Amount == 0).
func (p BuilderPendingPayment) IsEmpty() bool {
	return p.Amount == 0
}

// BuilderPendingWithdrawal is a promoted payment waiting to be drained by
// phase 1 of the withdrawal computation (spec.md §3, §4.3).
type BuilderPendingWithdrawal struct {
	BuilderIndex BuilderIndex
	Amount       uint64
	FeeRecipient types.Address
}

// State holds the Gloas-specific fields of the beacon state (spec.md §3).
// Pre-Gloas fields (validators, balances, justification/finalization, …)
// are assumed to exist unchanged elsewhere and are not modeled here; State
// is embedded into, or referenced alongside, that larger state object by
// callers.
type State struct {
	Slot uint64

	// LatestExecutionPayloadBid is replaced by each block's bid; it
	// survives until the next block is processed.
	LatestExecutionPayloadBid ExecutionPayloadBid

	// LatestBlockHash equals the hash of the most recently *revealed*
	// payload; zero at genesis, updated only by envelope processing.
	LatestBlockHash types.Hash

	// Builders is insertion-ordered; an index is reused only when an
	// exited builder's slot is freed.
	Builders []Builder

	// BuilderPubkeyCache mirrors Builders exactly in both directions.
	BuilderPubkeyCache map[BLSPubkey]BuilderIndex

	// ExecutionPayloadAvailability has bit (slot % len) set iff that
	// slot's payload was revealed; cleared by slot processing, set by
	// envelope processing.
	ExecutionPayloadAvailability *bitset.BitSet

	// BuilderPendingPayments has length 2*SLOTS_PER_EPOCH: the first half
	// is the current epoch, the second half is the next epoch, rotated at
	// the epoch boundary.
	BuilderPendingPayments []BuilderPendingPayment

	// BuilderPendingWithdrawals is a FIFO queue; amount is checked against
	// builder balance only at dequeue time.
	BuilderPendingWithdrawals []BuilderPendingWithdrawal

	// PayloadExpectedWithdrawals is the ordered list envelope processing
	// must reproduce exactly.
	PayloadExpectedWithdrawals []Withdrawal

	// ProposerLookahead spans two epochs of validator indices, shifted one
	// epoch per epoch boundary.
	ProposerLookahead []uint64

	// NextWithdrawalIndex is the running withdrawal sequence counter.
	NextWithdrawalIndex uint64
	// NextWithdrawalBuilderIndex is the round-robin cursor into Builders
	// for phase 3 of withdrawal computation.
	NextWithdrawalBuilderIndex uint64
	// NextWithdrawalValidatorIndex is the round-robin cursor into the
	// validator set for phase 4.
	NextWithdrawalValidatorIndex uint64

	// FinalizedEpoch backs ActiveAtFinalizedEpoch checks; pre-Gloas state
	// tracks this already, surfaced here for convenience.
	FinalizedEpoch uint64
}

// NewState returns a State with all Gloas fields at their genesis defaults:
// zero LatestBlockHash, an empty builder set, and a cleared availability
// bitvector sized to SlotsPerHistoricalRoot.
func NewState() *State {
	return &State{
		BuilderPubkeyCache:           make(map[BLSPubkey]BuilderIndex),
		ExecutionPayloadAvailability: bitset.New(uint(SlotsPerHistoricalRoot)),
		BuilderPendingPayments:       make([]BuilderPendingPayment, 2*SlotsPerEpoch),
		ProposerLookahead:            make([]uint64, 2*SlotsPerEpoch),
	}
}

// PendingPaymentSlotIndex returns the index into BuilderPendingPayments for
// a bid at the given slot, placed in the second-half (next-epoch) window
// per process_execution_payload_bid step 4 (spec.md §4.1).
func PendingPaymentSlotIndex(slot uint64) uint64 {
	return SlotsPerEpoch + (slot % SlotsPerEpoch)
}

// AvailabilityBit returns the bitvector index for a given slot.
func AvailabilityBit(slot uint64) uint {
	return uint(slot % SlotsPerHistoricalRoot)
}

// BuilderByPubkey looks up a builder by its BLS pubkey using the mirrored
// cache (invariant 5, spec.md §3).
func (s *State) BuilderByPubkey(pk BLSPubkey) (*Builder, BuilderIndex, bool) {
	idx, ok := s.BuilderPubkeyCache[pk]
	if !ok {
		return nil, 0, false
	}
	if int(idx) >= len(s.Builders) {
		return nil, 0, false
	}
	return &s.Builders[idx], idx, true
}

// BuilderAt returns the builder stored at idx, or false if out of range.
func (s *State) BuilderAt(idx BuilderIndex) (*Builder, bool) {
	if int(idx) < 0 || int(idx) >= len(s.Builders) {
		return nil, false
	}
	return &s.Builders[idx], true
}

// GetPendingBalanceToWithdraw sums the amounts already queued in
// BuilderPendingWithdrawals for the given builder, mirroring the validator
// equivalent used by process_execution_payload_bid step 3 (spec.md §4.1).
func (s *State) GetPendingBalanceToWithdraw(idx BuilderIndex) uint64 {
	var total uint64
	for _, w := range s.BuilderPendingWithdrawals {
		if w.BuilderIndex == idx {
			total += w.Amount
		}
	}
	return total
}

// RebuildBuilderPubkeyCache reconstructs BuilderPubkeyCache from Builders,
// restoring invariant 5 after a bulk mutation (spec.md §3: "rebuilt lazily").
func (s *State) RebuildBuilderPubkeyCache() {
	s.BuilderPubkeyCache = make(map[BLSPubkey]BuilderIndex, len(s.Builders))
	for i, b := range s.Builders {
		s.BuilderPubkeyCache[b.Pubkey] = BuilderIndex(i)
	}
}
