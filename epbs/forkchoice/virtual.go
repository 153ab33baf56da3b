// virtual.go computes the payload-status-aware virtual tree find_head_gloas
// walks (spec.md §4.2 "Protoblock model"): a PENDING physical node expands
// into an EMPTY and (once revealed) a FULL virtual node sharing its root,
// and each virtual node's own children are the physical blocks built on
// top of it, routed to the FULL or EMPTY side by whether their bid assumes
// the parent's payload was revealed.
package forkchoice

import (
	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/epbs"
)

// VirtualNode is one node of the tree find_head_gloas actually walks: a
// physical block root paired with the payload status being considered.
type VirtualNode struct {
	Root   types.Hash
	Status epbs.PayloadStatus
}

// childrenOf returns v's virtual children. Must be called with s.mu held
// (read or write).
func (s *Store) childrenOf(v VirtualNode) []VirtualNode {
	node := s.node(v.Root)
	if node == nil {
		return nil
	}

	switch v.Status {
	case epbs.PayloadStatusPending:
		children := []VirtualNode{{Root: v.Root, Status: epbs.PayloadStatusEmpty}}
		if node.EnvelopeReceived {
			children = append(children, VirtualNode{Root: v.Root, Status: epbs.PayloadStatusFull})
		}
		return children

	case epbs.PayloadStatusEmpty, epbs.PayloadStatusFull:
		var out []VirtualNode
		for _, childRoot := range node.Children {
			child := s.node(childRoot)
			if child == nil {
				continue
			}
			onFullSide := child.BidParentBlockHash == node.BidBlockHash
			if (v.Status == epbs.PayloadStatusFull) == onFullSide {
				out = append(out, VirtualNode{Root: childRoot, Status: epbs.PayloadStatusPending})
			}
		}
		return out

	default:
		return nil
	}
}

// isSupportingVote implements is_supporting_vote_gloas: walk ancestors of
// the vote's root until an ancestor at or before child's slot is found,
// then compare it against child by root and payload status.
func (s *Store) isSupportingVote(child VirtualNode, vote LatestMessage) bool {
	childNode := s.node(child.Root)
	if childNode == nil {
		return false
	}

	ancestorRoot := vote.Root
	for {
		ancestor := s.node(ancestorRoot)
		if ancestor == nil {
			return false
		}
		if ancestor.Slot <= childNode.Slot {
			break
		}
		if ancestor.ParentRoot == (types.Hash{}) {
			return false
		}
		ancestorRoot = ancestor.ParentRoot
	}

	if ancestorRoot != child.Root {
		return false
	}
	if s.currentSlot == childNode.Slot {
		// Same-slot votes are ignored regardless of status.
		return false
	}

	switch child.Status {
	case epbs.PayloadStatusPending:
		return true
	case epbs.PayloadStatusFull:
		return vote.PayloadPresent
	case epbs.PayloadStatusEmpty:
		return !vote.PayloadPresent
	default:
		return false
	}
}

// weight computes a virtual child's fork-choice weight: summed supporting
// latest-message balances (excluding equivocating validators), plus
// proposer boost when the boost root equals this child's root. A PENDING
// child not at the previous slot relative to currentSlot contributes zero,
// a defensive rule against weight accumulating on stale PENDING nodes
// (spec.md §4.2).
func (s *Store) weight(child VirtualNode) uint64 {
	childNode := s.node(child.Root)
	if childNode == nil {
		return 0
	}
	if child.Status == epbs.PayloadStatusPending && s.currentSlot > 0 && childNode.Slot != s.currentSlot-1 {
		return 0
	}

	var total uint64
	for idx, msg := range s.latestMessages {
		if s.equivocating[idx] {
			continue
		}
		if s.isSupportingVote(child, msg) {
			total += msg.EffectiveBalance
		}
	}
	if s.boostRoot == child.Root && s.boostRoot != (types.Hash{}) {
		total += s.boostWeight
	}
	return total
}

// shouldExtendPayload implements should_extend_payload(parent): whether
// the FULL side should be preferred as the tiebreak winner over EMPTY at
// parent's root (spec.md §4.2 Tiebreaker).
func (s *Store) shouldExtendPayload(parent *Node) bool {
	if parent.PTCTimely &&
		parent.PTCWeight > epbs.PayloadTimelyThreshold &&
		parent.PTCBlobDataAvailableWeight > epbs.DataAvailabilityTimelyThreshold {
		return true
	}
	if s.boostRoot == (types.Hash{}) {
		return true
	}
	boosted := s.node(s.boostRoot)
	if boosted == nil || boosted.ParentRoot != parent.Root {
		return true
	}
	return boosted.BidParentBlockHash == parent.BidBlockHash
}

// tiebreaker resolves ties in (weight, root) among v's siblings, returning
// an ordinal where a larger value wins (spec.md §4.2 Tiebreaker).
func (s *Store) tiebreaker(v VirtualNode) int {
	node := s.node(v.Root)
	if node == nil {
		return 0
	}
	if s.currentSlot == 0 || node.Slot != s.currentSlot-1 {
		return int(v.Status)
	}
	switch v.Status {
	case epbs.PayloadStatusPending:
		return 0
	case epbs.PayloadStatusEmpty:
		return 1
	case epbs.PayloadStatusFull:
		if s.shouldExtendPayload(node) {
			return 2
		}
		return 0
	default:
		return 0
	}
}
