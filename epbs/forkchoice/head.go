// head.go implements find_head_gloas (spec.md §4.2 "Head selection"): a
// greedy walk down the virtual tree from the justified root, at each step
// picking the child maximizing (weight, root bytes, tiebreaker), stopping
// at a leaf.
package forkchoice

import (
	"bytes"

	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/epbs"
)

// FindHead returns the current canonical head and its payload status.
func (s *Store) FindHead() (types.Hash, epbs.PayloadStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.nodes) == 0 {
		return types.Hash{}, 0, ErrEmptyStore
	}
	if s.headCacheValid {
		return s.cachedHead, s.cachedStatus, nil
	}

	start := s.justified.Root
	if s.node(start) == nil {
		return types.Hash{}, 0, ErrEmptyStore
	}

	// The justified root is itself revealed-or-not; start from its
	// PENDING form and let the first step's virtual children sort out
	// EMPTY vs FULL.
	current := VirtualNode{Root: start, Status: epbs.PayloadStatusPending}
	for {
		children := s.childrenOf(current)
		if len(children) == 0 {
			break
		}

		best := children[0]
		bestWeight := s.weight(best)
		bestTiebreak := s.tiebreaker(best)
		for _, child := range children[1:] {
			w := s.weight(child)
			if w < bestWeight {
				continue
			}
			if w > bestWeight {
				best, bestWeight, bestTiebreak = child, w, s.tiebreaker(child)
				continue
			}
			// Equal weight: root bytes, then tiebreaker.
			cmp := bytes.Compare(child.Root[:], best.Root[:])
			if cmp > 0 {
				best, bestWeight, bestTiebreak = child, w, s.tiebreaker(child)
				continue
			}
			if cmp == 0 {
				tb := s.tiebreaker(child)
				if tb > bestTiebreak {
					best, bestWeight, bestTiebreak = child, w, tb
				}
			}
		}
		current = best
	}

	s.cachedHead = current.Root
	s.cachedStatus = current.Status
	s.headCacheValid = true
	return current.Root, current.Status, nil
}
