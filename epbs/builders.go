// builders.go implements registration, lookup, and exit bookkeeping for the
// Gloas builder set (state.Builders / state.BuilderPubkeyCache,
// spec.md §3). It replaces the teacher's EL-facing reputation registry
// (BuilderRegistry) with the consensus-state-mutating operations the Gloas
// deposit-routing and bid-validation paths need: insertion-ordered
// registration, index reuse on exit, and the active-at-finalized-epoch
// check used throughout §4.1.
package epbs

import "errors"

// Builder registration errors.
var (
	ErrBuilderDuplicatePubkey = errors.New("epbs: builder pubkey already registered")
	ErrBuilderUnknown         = errors.New("epbs: unknown builder index")
	ErrBuilderInactive        = errors.New("epbs: builder is not active at finalized epoch")
	ErrBuilderAlreadyExited   = errors.New("epbs: builder already has a withdrawable epoch set")
)

// RegisterBuilder appends a new builder at the first freed slot (an exited
// builder whose index has no live successor) or, absent one, at the end of
// state.Builders, keeping BuilderPubkeyCache in lockstep (invariant 5).
//
// This implements the "create builder" branch of deposit routing described
// in spec.md §9: callers are expected to have already confirmed the pubkey
// is not a validator and is not racing a pending validator deposit before
// calling this.
func (s *State) RegisterBuilder(b Builder) (BuilderIndex, error) {
	if _, exists := s.BuilderPubkeyCache[b.Pubkey]; exists {
		return 0, ErrBuilderDuplicatePubkey
	}
	if b.WithdrawableEpoch == 0 {
		b.WithdrawableEpoch = FarFutureEpoch
	}

	for i := range s.Builders {
		if s.builderSlotFree(BuilderIndex(i)) {
			s.Builders[i] = b
			idx := BuilderIndex(i)
			s.BuilderPubkeyCache[b.Pubkey] = idx
			return idx, nil
		}
	}

	idx := BuilderIndex(len(s.Builders))
	s.Builders = append(s.Builders, b)
	s.BuilderPubkeyCache[b.Pubkey] = idx
	return idx, nil
}

// builderSlotFree reports whether the builder at idx has exited and left no
// cache entry pointing at it — i.e. its slot may be reused by a new
// registration (spec.md §3: "index reused only when an exited builder's
// slot is freed").
func (s *State) builderSlotFree(idx BuilderIndex) bool {
	b := &s.Builders[idx]
	if b.WithdrawableEpoch == FarFutureEpoch {
		return false
	}
	cached, ok := s.BuilderPubkeyCache[b.Pubkey]
	return !ok || cached != idx
}

// TopUpBuilder credits an existing builder's balance, used by the deposit
// path's "is_builder(pubkey) -> top up" branch (spec.md §9).
func (s *State) TopUpBuilder(idx BuilderIndex, amount uint64) error {
	b, ok := s.BuilderAt(idx)
	if !ok {
		return ErrBuilderUnknown
	}
	b.Balance += amount
	return nil
}

// InitiateBuilderExit sets a builder's withdrawable_epoch, making it
// eligible for the builder sweep (phase 3 of withdrawal computation) once
// MinBuilderWithdrawabilityDelay has elapsed.
func (s *State) InitiateBuilderExit(idx BuilderIndex, currentEpoch uint64) error {
	b, ok := s.BuilderAt(idx)
	if !ok {
		return ErrBuilderUnknown
	}
	if b.WithdrawableEpoch != FarFutureEpoch {
		return ErrBuilderAlreadyExited
	}
	b.WithdrawableEpoch = currentEpoch + MinBuilderWithdrawabilityDelay
	return nil
}

// RequireActiveBuilder returns the builder at idx if it exists and is
// active at the given finalized epoch, or a typed error identifying which
// condition failed (unknown vs. inactive) — both are REJECT-worthy at the
// gossip layer but distinguished for diagnostics (spec.md §4.5).
func (s *State) RequireActiveBuilder(idx BuilderIndex, finalizedEpoch uint64) (*Builder, error) {
	b, ok := s.BuilderAt(idx)
	if !ok {
		return nil, ErrBuilderUnknown
	}
	if !b.ActiveAtFinalizedEpoch(finalizedEpoch) {
		return nil, ErrBuilderInactive
	}
	return b, nil
}

// HasSufficientBalance reports whether a builder's unencumbered balance
// (current balance minus already-queued pending withdrawals) can cover an
// additional bid of the given value plus the MinBuilderBalance floor
// (process_execution_payload_bid step 3, spec.md §4.1).
func (s *State) HasSufficientBalance(idx BuilderIndex, value uint64) bool {
	b, ok := s.BuilderAt(idx)
	if !ok {
		return false
	}
	unencumbered := b.Balance - s.GetPendingBalanceToWithdraw(idx)
	return unencumbered >= value+MinBuilderBalance
}
