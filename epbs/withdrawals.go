// withdrawals.go implements get_expected_withdrawals_gloas (spec.md §4.3),
// the four-phase withdrawal list assembled ahead of each payload: two
// Gloas-native builder phases this package owns outright (the pending
// builder-withdrawal FIFO and the exited-builder sweep), interleaved with
// two pre-Gloas validator phases delegated to a ValidatorWithdrawalSource,
// since validator balances and withdrawal credentials live in state this
// package does not model (see epbs/state.go's header comment). Both the
// mutating and read-only forms share computeWithdrawals so they cannot
// drift out of bit-for-bit agreement with each other.
package epbs

// reservedWithdrawalLimit is the budget phases 1-3 share, one slot short of
// MaxWithdrawalsPerPayload so phase 4 (the validator sweep) is guaranteed
// at least one slot — the invariant the cursor-advance logic below depends
// on (spec.md §4.3: "the last withdrawal is guaranteed to be from phase 4").
const reservedWithdrawalLimit = MaxWithdrawalsPerPayload - 1

// ValidatorWithdrawalSource computes the pre-Gloas, Electra-style phases of
// get_expected_withdrawals_gloas: pending partial validator withdrawals
// (phase 2) and the full+partial validator sweep (phase 4).
// epbs/forkchoice or epbs/beaconchain supplies this once the validator
// registry is available; this package only consumes the interface.
type ValidatorWithdrawalSource interface {
	// PendingPartialWithdrawals returns up to limit eligible partial
	// withdrawals (phase 2), each already capped at the validator's
	// withdrawable excess above MinActivationBalance, for a validator
	// whose withdrawable_epoch is <= currentEpoch. The Index field is
	// ignored by the caller, which assigns the shared running index.
	PendingPartialWithdrawals(currentEpoch uint64, limit int) []Withdrawal

	// ValidatorSweep computes phase 4 starting at startValidatorIndex, up
	// to limit entries, returning the withdrawals (Index ignored, same as
	// above) plus the total validator count for cursor wraparound.
	ValidatorSweep(startValidatorIndex uint64, limit int) (withdrawals []Withdrawal, validatorCount uint64)
}

// builderWithdrawalsQueue abstracts phase 1 so the read-only form can peek
// the same queue the mutating form dequeues.
type builderWithdrawalsQueue interface {
	limit(n int) []BuilderPendingWithdrawal
}

type peekQueue struct{ state *State }

func (q peekQueue) limit(n int) []BuilderPendingWithdrawal { return q.state.PeekBuilderWithdrawals(n) }

type dequeueQueue struct{ state *State }

func (q dequeueQueue) limit(n int) []BuilderPendingWithdrawal {
	return q.state.DequeueBuilderWithdrawals(n)
}

// computeWithdrawals assembles the four-phase list against a snapshot of
// state (Builders, NextWithdrawalBuilderIndex) without mutating state
// itself; the caller decides whether to commit the resulting cursors.
func computeWithdrawals(state *State, currentEpoch uint64, queue builderWithdrawalsQueue, source ValidatorWithdrawalSource) (withdrawals []Withdrawal, parentEmpty bool, builderCursorBase uint64, validatorCount uint64) {
	bid := &state.LatestExecutionPayloadBid
	if bid.BlockHash != state.LatestBlockHash {
		return nil, true, state.NextWithdrawalBuilderIndex, 0
	}

	nextIndex := state.NextWithdrawalIndex

	// Phase 1: builder pending withdrawals.
	for _, w := range queue.limit(reservedWithdrawalLimit) {
		withdrawals = append(withdrawals, Withdrawal{
			Index:          nextIndex,
			ValidatorIndex: EncodeBuilderWithdrawalIndex(w.BuilderIndex),
			Address:        w.FeeRecipient,
			Amount:         w.Amount,
		})
		nextIndex++
	}

	// Phase 2: pending partial validator withdrawals.
	phase2Limit := reservedWithdrawalLimit - len(withdrawals)
	if phase2Limit > MaxPendingPartialsPerWithdrawalsSweep {
		phase2Limit = MaxPendingPartialsPerWithdrawalsSweep
	}
	if phase2Limit > 0 {
		for _, w := range source.PendingPartialWithdrawals(currentEpoch, phase2Limit) {
			w.Index = nextIndex
			withdrawals = append(withdrawals, w)
			nextIndex++
		}
	}

	// Phase 3: builder sweep, round-robin from NextWithdrawalBuilderIndex.
	builderCursorBase = state.NextWithdrawalBuilderIndex
	scannedBuilders := 0
	if n := len(state.Builders); n > 0 {
		start := builderCursorBase % uint64(n)
		cursor := start
		for scannedBuilders < n && len(withdrawals) < reservedWithdrawalLimit {
			b := &state.Builders[cursor]
			if b.WithdrawableEpoch <= currentEpoch && b.Balance > 0 {
				withdrawals = append(withdrawals, Withdrawal{
					Index:          nextIndex,
					ValidatorIndex: EncodeBuilderWithdrawalIndex(BuilderIndex(cursor)),
					Address:        b.FeeRecipient,
					Amount:         b.Balance,
				})
				nextIndex++
			}
			cursor = (cursor + 1) % uint64(n)
			scannedBuilders++
		}
		builderCursorBase = (start + uint64(scannedBuilders)) % uint64(n)
	}

	// Phase 4: validator sweep, full remaining MaxWithdrawalsPerPayload budget.
	phase4Limit := MaxWithdrawalsPerPayload - len(withdrawals)
	if phase4Limit > 0 {
		var sweep []Withdrawal
		sweep, validatorCount = source.ValidatorSweep(state.NextWithdrawalValidatorIndex, phase4Limit)
		for _, w := range sweep {
			w.Index = nextIndex
			withdrawals = append(withdrawals, w)
			nextIndex++
		}
	}

	return withdrawals, false, builderCursorBase, validatorCount
}

// nextValidatorCursor implements the spec's post-phase-4 cursor advance:
// wrap to one past the last withdrawal's validator when the full budget
// was used, otherwise advance by the sweep stride.
func nextValidatorCursor(current uint64, withdrawals []Withdrawal, validatorCount uint64) uint64 {
	if len(withdrawals) == MaxWithdrawalsPerPayload && validatorCount > 0 {
		last := withdrawals[len(withdrawals)-1]
		return (last.ValidatorIndex + 1) % validatorCount
	}
	next := current + MaxValidatorsPerWithdrawalsSweep
	if validatorCount > 0 {
		next %= validatorCount
	}
	return next
}

// ComputeExpectedWithdrawals is the mutating get_expected_withdrawals_gloas:
// it assembles the ordered withdrawal list for the slot about to be built,
// advances state's running withdrawal cursors, and stores the result in
// state.PayloadExpectedWithdrawals for envelope processing to reproduce
// bit-for-bit (spec.md §4.1 step 5, §4.3). Returns the empty list without
// mutating any cursor when the parent block is EMPTY.
func ComputeExpectedWithdrawals(state *State, currentEpoch uint64, source ValidatorWithdrawalSource) []Withdrawal {
	withdrawals, parentEmpty, builderCursor, validatorCount := computeWithdrawals(state, currentEpoch, dequeueQueue{state}, source)
	if parentEmpty {
		// True early exit: no cursor touched, matching the spec's
		// return-before-the-phases-and-index-update-section behavior.
		state.PayloadExpectedWithdrawals = nil
		return nil
	}

	state.NextWithdrawalIndex += uint64(len(withdrawals))
	state.PayloadExpectedWithdrawals = withdrawals
	state.NextWithdrawalBuilderIndex = builderCursor
	state.NextWithdrawalValidatorIndex = nextValidatorCursor(state.NextWithdrawalValidatorIndex, withdrawals, validatorCount)
	return withdrawals
}

// PeekExpectedWithdrawals is the read-only get_expected_withdrawals_gloas:
// it computes the same list ComputeExpectedWithdrawals would produce
// without mutating state, for callers (e.g. a builder deciding what to bid
// on) that need to preview the next payload's withdrawals.
func PeekExpectedWithdrawals(state *State, currentEpoch uint64, source ValidatorWithdrawalSource) []Withdrawal {
	withdrawals, _, _, _ := computeWithdrawals(state, currentEpoch, peekQueue{state}, source)
	return withdrawals
}
