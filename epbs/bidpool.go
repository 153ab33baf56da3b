// bidpool.go implements the execution bid pool and the observed-bids
// equivocation tracker (spec.md §4.4). It replaces the teacher's EL-facing
// PayloadAuction (auction.go) and collateral BidEscrow (bid_escrow.go):
// neither models builder collateral or settlement lifecycles here, since
// balance accounting already lives on state.Builders (epbs/state.go,
// epbs/builders.go) and the only thing the gossip/STF layer needs from a
// pool is best-bid selection plus equivocation detection.
package epbs

import (
	"sync"

	"github.com/eth2030/eth2030/core/types"
)

// bidPoolKey identifies a pool slot by (slot, parent_block_root).
type bidPoolKey struct {
	slot           uint64
	parentBlockRoot types.Hash
}

// ExecutionBidPool stores at most one bid per (builder_index, slot,
// parent_block_root), keeping the highest-value bid when a builder submits
// more than one (spec.md §4.4 "Execution bid pool").
type ExecutionBidPool struct {
	mu      sync.RWMutex
	entries map[bidPoolKey]map[BuilderIndex]*SignedExecutionPayloadBid
}

// NewExecutionBidPool returns an empty pool.
func NewExecutionBidPool() *ExecutionBidPool {
	return &ExecutionBidPool{
		entries: make(map[bidPoolKey]map[BuilderIndex]*SignedExecutionPayloadBid),
	}
}

// Insert records signed into the pool, replacing any existing bid from the
// same builder for the same (slot, parent_block_root) only if signed has a
// strictly higher value. Returns true if the pool's state changed.
func (p *ExecutionBidPool) Insert(signed *SignedExecutionPayloadBid) bool {
	key := bidPoolKey{slot: signed.Message.Slot, parentBlockRoot: signed.Message.ParentBlockRoot}

	p.mu.Lock()
	defer p.mu.Unlock()

	byBuilder, ok := p.entries[key]
	if !ok {
		byBuilder = make(map[BuilderIndex]*SignedExecutionPayloadBid)
		p.entries[key] = byBuilder
	}

	existing, ok := byBuilder[signed.Message.BuilderIndex]
	if ok && existing.Message.Value >= signed.Message.Value {
		return false
	}
	byBuilder[signed.Message.BuilderIndex] = signed
	return true
}

// GetBestBid returns the highest-value bid across all builders for
// (slot, parentBlockRoot), implementing get_best_bid (spec.md §4.4).
func (p *ExecutionBidPool) GetBestBid(slot uint64, parentBlockRoot types.Hash) (*SignedExecutionPayloadBid, bool) {
	key := bidPoolKey{slot: slot, parentBlockRoot: parentBlockRoot}

	p.mu.RLock()
	defer p.mu.RUnlock()

	byBuilder, ok := p.entries[key]
	if !ok || len(byBuilder) == 0 {
		return nil, false
	}
	var best *SignedExecutionPayloadBid
	for _, b := range byBuilder {
		if best == nil || b.Message.Value > best.Message.Value {
			best = b
		}
	}
	return best, true
}

// PruneBefore removes every entry for a slot strictly less than
// currentSlot-1, matching the pool's one-slot retention rule.
func (p *ExecutionBidPool) PruneBefore(currentSlot uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if currentSlot == 0 {
		return
	}
	cutoff := currentSlot - 1
	for key := range p.entries {
		if key.slot < cutoff {
			delete(p.entries, key)
		}
	}
}

// BidObservationResult classifies the outcome of observing a bid against
// previously seen bids from the same builder at the same slot.
type BidObservationResult int

const (
	// BidObservationNew is a first-seen bid.
	BidObservationNew BidObservationResult = iota
	// BidObservationDuplicate repeats a previously observed bid exactly
	// (same root).
	BidObservationDuplicate
	// BidObservationEquivocation conflicts with a previously observed bid
	// from the same builder and slot (different root).
	BidObservationEquivocation
)

type observedBidKey struct {
	builderIndex BuilderIndex
	slot         uint64
}

// ObservedBids is the equivocation tracker keyed by (builder_index, slot)
// (spec.md §4.4 "Observed bids").
type ObservedBids struct {
	mu   sync.Mutex
	seen map[observedBidKey]*SignedExecutionPayloadBid
}

// NewObservedBids returns an empty tracker.
func NewObservedBids() *ObservedBids {
	return &ObservedBids{seen: make(map[observedBidKey]*SignedExecutionPayloadBid)}
}

// Observe records signed and classifies it relative to any bid already
// observed for the same builder and slot. On BidObservationEquivocation,
// the returned evidence is non-nil and can be handed to
// ComputeBuilderEquivocationEvidenceHash.
func (o *ObservedBids) Observe(signed *SignedExecutionPayloadBid) (BidObservationResult, *BuilderEquivocationEvidence) {
	key := observedBidKey{builderIndex: signed.Message.BuilderIndex, slot: signed.Message.Slot}

	o.mu.Lock()
	defer o.mu.Unlock()

	prior, ok := o.seen[key]
	if !ok {
		o.seen[key] = signed
		return BidObservationNew, nil
	}
	if prior.Message.Root() == signed.Message.Root() {
		return BidObservationDuplicate, nil
	}
	return BidObservationEquivocation, &BuilderEquivocationEvidence{BidA: prior, BidB: signed}
}

// PruneBefore discards observations for slots strictly less than
// currentSlot-window, bounding the tracker's memory growth.
func (o *ObservedBids) PruneBefore(currentSlot uint64, window uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if currentSlot < window {
		return
	}
	cutoff := currentSlot - window
	for key := range o.seen {
		if key.slot < cutoff {
			delete(o.seen, key)
		}
	}
}
