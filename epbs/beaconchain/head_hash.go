// head_hash.go implements the canonical_head.head_hash fallback (spec.md
// §4.6): Gloas blocks carry no execution payload, so their fork-choice
// execution_status is Irrelevant and cannot supply the EL-facing head hash
// on its own. Every path that builds ForkchoiceUpdateParameters must run
// the same fallback or the EL silently stops building on a None head.
package beaconchain

import (
	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/epbs"
)

// CanonicalHead is the cached result of the most recent FindHead call plus
// the derived EL-facing head hash.
type CanonicalHead struct {
	Root         types.Hash
	PayloadStatus epbs.PayloadStatus
	HeadHash     types.Hash
}

// ForkchoiceUpdateParameters is the minimal shape BeaconChain hands to
// EngineClient.NotifyForkchoiceUpdated; the EL-side Engine API types it
// ultimately becomes are engine_client.go's concern, not this package's
// orchestration surface.
type ForkchoiceUpdateParameters struct {
	HeadBlockHash      types.Hash
	SafeBlockHash      types.Hash
	FinalizedBlockHash types.Hash
}

// computeHeadHash applies the fallback: fork choice's reported hash if the
// head block's payload has actually been revealed (a bid_block_hash is
// only a real execution-layer hash once the envelope landed), else
// latestBlockHash, the state's own record of the last revealed payload.
func computeHeadHash(forkChoiceHash types.Hash, latestBlockHash types.Hash) types.Hash {
	if forkChoiceHash != (types.Hash{}) {
		return forkChoiceHash
	}
	return latestBlockHash
}

// RecomputeCanonicalHead runs find_head_gloas and refreshes bc.head,
// applying the head_hash fallback against state's latest_block_hash. Every
// call site that needs a fresh ForkchoiceUpdateParameters — cache
// rebuilds, crash recovery, proposer re-org, initialization — must route
// through this method rather than reading forkchoice.Store.FindHead
// directly, so the fallback is never skipped.
func (bc *BeaconChain) RecomputeCanonicalHead(latestBlockHash types.Hash) (CanonicalHead, error) {
	root, status, err := bc.store.FindHead()
	if err != nil {
		return CanonicalHead{}, err
	}

	var forkChoiceHash types.Hash
	if status == epbs.PayloadStatusFull {
		if block, ok := bc.store.BlockByRoot(root); ok && block.Bid != nil {
			forkChoiceHash = block.Bid.BlockHash
		}
	}

	head := CanonicalHead{
		Root:          root,
		PayloadStatus: status,
		HeadHash:      computeHeadHash(forkChoiceHash, latestBlockHash),
	}
	bc.head = head
	return head, nil
}

// ForkchoiceUpdateParams builds the parameters for an engine_forkchoiceUpdated
// call from the last recomputed canonical head, applying the same fallback
// a second time defensively in case the cached head predates a relevant
// state update.
func (bc *BeaconChain) ForkchoiceUpdateParams(safe, finalized, latestBlockHash types.Hash) ForkchoiceUpdateParameters {
	return ForkchoiceUpdateParameters{
		HeadBlockHash:      computeHeadHash(bc.head.HeadHash, latestBlockHash),
		SafeBlockHash:      safe,
		FinalizedBlockHash: finalized,
	}
}
