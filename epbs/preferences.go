// preferences.go implements the proposer preferences pool (spec.md §4.4):
// a slot-keyed, accept-once store of the fee_recipient/gas_limit a proposer
// commits to ahead of its slot, consulted by bid gossip verification. It
// replaces the teacher's commitment_reveal.go, whose BuilderCommitment/
// RevealWindow/PenaltyEngine modeled builder-side commit-reveal deadlines
// and penalties — a mechanism this spec's slashing.go and the bid/envelope
// STF already cover (a bid is itself the commitment; envelope verification,
// not a separate reveal-window penalty engine, enforces it). The one piece
// worth keeping is the dedup-per-key discipline, reused here for
// accept-exactly-once-per-slot.
package epbs

import (
	"errors"
	"sync"
)

// ErrPreferencesAlreadySet is returned by Insert when a slot already has a
// recorded entry.
var ErrPreferencesAlreadySet = errors.New("epbs: proposer preferences already set for slot")

// ProposerPreferencesPool maps slot to the proposer's committed
// fee_recipient/gas_limit, accepted exactly once per slot (spec.md §4.4).
type ProposerPreferencesPool struct {
	mu      sync.RWMutex
	entries map[uint64]ProposerPreferences
}

// NewProposerPreferencesPool returns an empty pool.
func NewProposerPreferencesPool() *ProposerPreferencesPool {
	return &ProposerPreferencesPool{entries: make(map[uint64]ProposerPreferences)}
}

// Insert records prefs for its slot. A second insert for the same slot is
// rejected with ErrPreferencesAlreadySet, matching the "dedup returns false
// on second insert" rule bid gossip verification relies on to IGNORE
// replays.
func (p *ProposerPreferencesPool) Insert(prefs ProposerPreferences) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[prefs.Slot]; ok {
		return ErrPreferencesAlreadySet
	}
	p.entries[prefs.Slot] = prefs
	return nil
}

// Get returns the preferences recorded for slot, if any. Bid gossip
// verification treats an absent entry as IGNORE (spec.md §4.5 step 6:
// "ProposerPreferencesNotSeen").
func (p *ProposerPreferencesPool) Get(slot uint64) (ProposerPreferences, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	prefs, ok := p.entries[slot]
	return prefs, ok
}

// PruneBefore discards entries for slots strictly less than cutoff.
func (p *ProposerPreferencesPool) PruneBefore(cutoff uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for slot := range p.entries {
		if slot < cutoff {
			delete(p.entries, slot)
		}
	}
}
