// engine_client.go implements epbs.ExecutionEngine and
// epbs.ExecutionRequestsProcessor (spec.md §4.6, §6: "engine_newPayloadV5
// ... forkchoiceUpdated is called with the Gloas head hash") against the
// EL's own post-Glamsterdam Engine API handler (engine.EngineGlamsterdam),
// already present in this module. This is the one file in the orchestration
// layer that reaches across the CL/EL boundary; everything else in
// epbs/beaconchain only ever sees the epbs.ExecutionEngine interface.
package beaconchain

import (
	"encoding/json"

	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/engine"
	"github.com/eth2030/eth2030/epbs"
	"github.com/holiman/uint256"
)

// EngineClient adapts engine.EngineGlamsterdam to the epbs package's
// narrow ExecutionEngine/ExecutionRequestsProcessor interfaces, doing the
// V5-payload field translation and the Wei/Gwei big.Int<->[]byte
// conversion engine-API types require but epbs's Gloas-only model does
// not carry.
type EngineClient struct {
	handler               *engine.EngineGlamsterdam
	parentBeaconBlockRoot types.Hash
}

// NewEngineClient wraps handler. parentBeaconBlockRoot is threaded through
// as EIP-4788 requires it on every newPayload call; BeaconChain refreshes
// it once per block via SetParentBeaconBlockRoot.
func NewEngineClient(handler *engine.EngineGlamsterdam) *EngineClient {
	return &EngineClient{handler: handler}
}

// SetParentBeaconBlockRoot updates the root supplied on the next NewPayload
// call.
func (c *EngineClient) SetParentBeaconBlockRoot(root types.Hash) {
	c.parentBeaconBlockRoot = root
}

// baseFeeToBig converts epbs's raw big-endian BaseFeePerGas bytes to the
// *big.Int the Engine API's JSON encoding expects, via uint256 so the
// conversion cannot silently overflow or misinterpret sign.
func baseFeeToBig(raw []byte) *uint256.Int {
	v := new(uint256.Int)
	v.SetBytes(raw)
	return v
}

func toEngineWithdrawals(withdrawals []epbs.Withdrawal) []*engine.Withdrawal {
	if withdrawals == nil {
		return nil
	}
	out := make([]*engine.Withdrawal, len(withdrawals))
	for i, w := range withdrawals {
		out[i] = &engine.Withdrawal{
			Index:          w.Index,
			ValidatorIndex: w.ValidatorIndex,
			Address:        w.Address,
			Amount:         w.Amount,
		}
	}
	return out
}

// NewPayload implements epbs.ExecutionEngine, translating a Gloas-revealed
// ExecutionPayload into an ExecutionPayloadV5 and classifying the EL's
// PayloadStatusV1 response back into epbs.ExecutionEngineResponse (spec.md
// §4.1 step 6).
func (c *EngineClient) NewPayload(payload *epbs.ExecutionPayload, requests *epbs.ExecutionRequests) (epbs.ExecutionEngineResponse, error) {
	encodedRequests := encodeExecutionRequests(requests)
	v5 := &engine.ExecutionPayloadV5{
		ExecutionPayloadV4: engine.ExecutionPayloadV4{
			ExecutionPayloadV3: engine.ExecutionPayloadV3{
				ExecutionPayloadV2: engine.ExecutionPayloadV2{
					ExecutionPayloadV1: engine.ExecutionPayloadV1{
						ParentHash:    payload.ParentHash,
						FeeRecipient:  payload.FeeRecipient,
						PrevRandao:    payload.PrevRandao,
						GasLimit:      payload.GasLimit,
						GasUsed:       payload.GasUsed,
						Timestamp:     payload.Timestamp,
						ExtraData:     payload.ExtraData,
						BaseFeePerGas: baseFeeToBig(payload.BaseFeePerGas).ToBig(),
						BlockHash:     payload.BlockHash,
						Transactions:  payload.Transactions,
					},
					Withdrawals: toEngineWithdrawals(payload.Withdrawals),
				},
			},
			ExecutionRequests: encodedRequests,
		},
		// HandleNewPayloadV5 rejects a nil BlockAccessList outright; Gloas's
		// ePBS model does not carry per-transaction access lists, so an
		// empty-but-present one satisfies the EL's structural check.
		BlockAccessList: json.RawMessage("[]"),
	}

	status, err := c.handler.HandleNewPayloadV5(v5, nil, c.parentBeaconBlockRoot, encodedRequests)
	if err != nil {
		return epbs.ExecutionEngineSyncing, err
	}

	switch status.Status {
	case "VALID":
		return epbs.ExecutionEngineValid, nil
	case "INVALID":
		return epbs.ExecutionEngineInvalid, nil
	case "INVALID_BLOCK_HASH":
		return epbs.ExecutionEngineInvalidBlockHash, nil
	case "ACCEPTED":
		return epbs.ExecutionEngineAccepted, nil
	default:
		return epbs.ExecutionEngineSyncing, nil
	}
}

// encodeExecutionRequests flattens epbs's three typed request slices into
// the Engine API's single ordered [][]byte, one element per EIP-7685
// request type prefixed by its type byte, ascending by type as
// HandleNewPayloadV5 requires.
func encodeExecutionRequests(requests *epbs.ExecutionRequests) [][]byte {
	if requests == nil {
		return [][]byte{}
	}
	out := make([][]byte, 0, len(requests.Deposits)+len(requests.WithdrawalRequests)+len(requests.ConsolidationRequests))
	for _, d := range requests.Deposits {
		out = append(out, append([]byte{0x00}, d...))
	}
	for _, w := range requests.WithdrawalRequests {
		out = append(out, append([]byte{0x01}, w...))
	}
	for _, cns := range requests.ConsolidationRequests {
		out = append(out, append([]byte{0x02}, cns...))
	}
	return out
}

// ProcessExecutionRequests implements epbs.ExecutionRequestsProcessor.
// Gloas's execution requests mutate the pre-Gloas validator/balance state
// this module does not model (deposits, withdrawal requests, consolidation
// requests); that processing lives entirely outside this package's scope,
// so this is a deliberate no-op placeholder for the caller's real pre-Gloas
// processing pipeline to replace.
type NoopExecutionRequestsProcessor struct{}

func (NoopExecutionRequestsProcessor) ProcessExecutionRequests(*epbs.ExecutionRequests) error {
	return nil
}
