// store.go implements the fork-choice store: the physical block tree,
// validator latest messages, and the checkpoint/boost bookkeeping
// find_head_gloas and the ingress operations in ingress.go consult. The
// shape follows the teacher's own LMD-GHOST store (map of block nodes
// under a single read-write mutex, a head cache invalidated by every
// mutating call), generalized with Gloas's payload-status-aware virtual
// tree instead of a flat one (spec.md §4.2).
package forkchoice

import (
	"sync"

	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/epbs"
)

// Checkpoint is a (epoch, root) pair.
type Checkpoint struct {
	Epoch uint64
	Root  types.Hash
}

// Store is the Gloas fork-choice store. Thread-safe: every exported method
// takes the write lock (or read lock for pure queries) for its own
// duration, matching the teacher's ForkChoiceStoreV3 (spec.md §5: "write
// access is sequenced through a single mutex").
type Store struct {
	mu sync.RWMutex

	nodes map[types.Hash]*Node

	latestMessages map[uint64]LatestMessage
	equivocating   map[uint64]bool

	justified Checkpoint
	finalized Checkpoint

	currentSlot uint64

	// boostRoot/boostWeight implement spec.md §4.2's proposer boost: the
	// weight is computed by the caller (proportional to total active
	// balance, which this package does not model) and handed in through
	// GrantProposerBoost; Store only remembers it for find_head_gloas.
	boostRoot   types.Hash
	boostWeight uint64

	headCacheValid bool
	cachedHead     types.Hash
	cachedStatus   epbs.PayloadStatus
}

// Config seeds a Store at genesis or after a weak-subjectivity sync.
type Config struct {
	Justified Checkpoint
	Finalized Checkpoint
}

// NewStore creates an empty store. Call InitializeAnchor before any ingress
// operation; find_head_gloas on an anchor-less store returns ErrEmptyStore.
func NewStore(cfg Config) *Store {
	return &Store{
		nodes:          make(map[types.Hash]*Node),
		latestMessages: make(map[uint64]LatestMessage),
		equivocating:   make(map[uint64]bool),
		justified:      cfg.Justified,
		finalized:      cfg.Finalized,
	}
}

// InitializeAnchor seeds the store with the weak-subjectivity (or genesis)
// block, marked fully revealed and timely by definition (spec.md §4.2
// "Anchor initialization").
func (s *Store) InitializeAnchor(root types.Hash, slot uint64, bidBlockHash types.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nodes[root] = &Node{
		Root:                 root,
		Slot:                 slot,
		BidBlockHash:         bidBlockHash,
		PayloadRevealed:      true,
		EnvelopeReceived:     true,
		PayloadDataAvailable: true,
		PTCTimely:            true,
	}
	s.justified.Root = root
	s.finalized.Root = root
	s.headCacheValid = false
}

// AdvanceSlot records the current wall-clock slot, consulted by the
// PENDING-node zero-weight defense in virtual.go's weight function.
func (s *Store) AdvanceSlot(slot uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentSlot = slot
	s.headCacheValid = false
}

// GrantProposerBoost records the boosted root and its precomputed weight
// (spec.md §4.2 weight rule: "plus proposer boost if boost-root equals the
// child's root"). Pass a zero Hash to clear the boost between slots.
func (s *Store) GrantProposerBoost(root types.Hash, weight uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.boostRoot = root
	s.boostWeight = weight
	s.headCacheValid = false
}

// SetEquivocating marks a validator's latest message as excluded from
// weight accumulation (spec.md §4.2 weight rule: "minus the weight of
// equivocating validators").
func (s *Store) SetEquivocating(validatorIndex uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.equivocating[validatorIndex] = true
	s.headCacheValid = false
}

// SetJustifiedCheckpoint updates the root find_head_gloas starts its walk
// from.
func (s *Store) SetJustifiedCheckpoint(cp Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.justified = cp
	s.headCacheValid = false
}

// SetFinalizedCheckpoint updates the finalized checkpoint.
func (s *Store) SetFinalizedCheckpoint(cp Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = cp
}

// node returns a copy of the stored node, or nil. Callers holding no lock
// of their own must use the exported accessors instead.
func (s *Store) node(root types.Hash) *Node {
	n, ok := s.nodes[root]
	if !ok {
		return nil
	}
	return n
}

// GetNode returns a defensive copy of the node at root.
func (s *Store) GetNode(root types.Hash) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[root]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// HasNode reports whether root is known to the store.
func (s *Store) HasNode(root types.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[root]
	return ok
}

// BlockByRoot implements epbs.BlockLookup, surfacing just enough of a node
// for envelope-gossip verification: its slot and the bid it committed to.
// A node with a zero BidBlockHash has not yet been given a bid (a pre-Gloas
// or not-yet-processed block); that is reported as a nil Bid.
func (s *Store) BlockByRoot(root types.Hash) (epbs.GossipedBlock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[root]
	if !ok {
		return epbs.GossipedBlock{}, false
	}
	block := epbs.GossipedBlock{Slot: n.Slot}
	if n.BidBlockHash != (types.Hash{}) {
		bid := epbs.ExecutionPayloadBid{
			BlockHash:       n.BidBlockHash,
			ParentBlockHash: n.BidParentBlockHash,
			BuilderIndex:    n.BuilderIndex,
			Slot:            n.Slot,
		}
		block.Bid = &bid
	}
	return block, true
}
