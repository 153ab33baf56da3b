// Package epbs implements the Gloas enshrined proposer-builder separation
// (ePBS) consensus core: the two-phase block/bid/envelope pipeline, the
// four-phase withdrawal computation, the observation caches and pools that
// back gossip deduplication, and the five ePBS gossip verification
// pipelines. The payload-status-aware fork choice lives in the sibling
// package epbs/forkchoice; beacon-chain orchestration lives in
// epbs/beaconchain.
package epbs

import (
	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/crypto"
)

// Constants fixed by preset (spec.md §6).
const (
	// PTCSize is the Payload Timeliness Committee size.
	PTCSize = 512

	// DataAvailabilityTimelyThreshold is the strict-majority threshold over
	// PTCSize at which blob data is considered available.
	DataAvailabilityTimelyThreshold = PTCSize / 2

	// PayloadTimelyThreshold is the strict-majority threshold over PTCSize
	// at which a payload is considered revealed on time.
	PayloadTimelyThreshold = PTCSize / 2

	// MaxBlobCommitmentsPerBlock bounds blob_kzg_commitments on a bid.
	MaxBlobCommitmentsPerBlock = 4096

	// BuilderIndexFlag is OR'd into a withdrawal's validator_index to mark
	// it as a builder withdrawal rather than a validator withdrawal.
	BuilderIndexFlag uint64 = 1 << 40

	// MinBuilderBalance is the deposit floor below which a bid may not
	// reserve further value.
	MinBuilderBalance uint64 = 32_000_000_000 // 32 ETH in Gwei

	// MinBuilderWithdrawabilityDelay is the epoch delay between a builder's
	// exit initiation and sweep eligibility.
	MinBuilderWithdrawabilityDelay uint64 = 256

	// MaxWithdrawalsPerPayload bounds the withdrawal list produced per slot.
	MaxWithdrawalsPerPayload = 16

	// MaxPendingPartialsPerWithdrawalsSweep bounds phase 2 of withdrawal
	// computation.
	MaxPendingPartialsPerWithdrawalsSweep = 8

	// MaxValidatorsPerWithdrawalsSweep bounds how far
	// next_withdrawal_validator_index advances per slot when withdrawals
	// did not saturate the payload.
	MaxValidatorsPerWithdrawalsSweep = 16384

	// MinActivationBalance is the balance a partially-withdrawable
	// validator must stay above.
	MinActivationBalance uint64 = 32_000_000_000

	// SlotsPerEpoch is the number of slots in one epoch.
	SlotsPerEpoch uint64 = 32

	// SlotsPerHistoricalRoot sizes the execution_payload_availability bitvector.
	SlotsPerHistoricalRoot uint64 = 8192

	// FarFutureEpoch marks a builder that has not initiated exit.
	FarFutureEpoch uint64 = ^uint64(0)
)

// BuilderIndexSelfBuild is the sentinel builder_index meaning the proposer
// is also the builder.
const BuilderIndexSelfBuild BuilderIndex = ^BuilderIndex(0)

// Payload attestation gossip slot-window bounds (spec.md §4.5 "Payload
// attestation gossip" step 1). The frozen spec text names the bounds
// `bounded_window` and `clock_disparity` without pinning numeric values;
// one epoch of look-back and a single slot of look-ahead mirror the
// tolerance standard attestation gossip uses elsewhere in the protocol.
const (
	PayloadAttestationPastSlotWindow      uint64 = SlotsPerEpoch
	PayloadAttestationFutureSlotDisparity uint64 = 1
)

// BLS signature domains introduced by Gloas.
const (
	DomainBeaconBuilder       uint32 = 11
	DomainPTCAttester         uint32 = 12
	DomainProposerPreferences uint32 = 13
)

// PayloadStatus labels a virtual fork-choice child. The ordinal values are
// pinned by the frozen spec version and are a tiebreaker input
// (spec.md §4.2, Open Questions) — do not reorder.
type PayloadStatus int

const (
	PayloadStatusEmpty   PayloadStatus = 0
	PayloadStatusFull    PayloadStatus = 1
	PayloadStatusPending PayloadStatus = 2
)

func (s PayloadStatus) String() string {
	switch s {
	case PayloadStatusEmpty:
		return "EMPTY"
	case PayloadStatusFull:
		return "FULL"
	case PayloadStatusPending:
		return "PENDING"
	default:
		return "UNKNOWN"
	}
}

// BuilderIndex identifies an entry in state.Builders, or the
// BuilderIndexSelfBuild sentinel.
type BuilderIndex uint64

// BLSPubkey is a 48-byte compressed BLS12-381 G1 point.
type BLSPubkey [48]byte

// BLSSignature is a 96-byte compressed BLS12-381 G2 point.
type BLSSignature [96]byte

// ExecutionPayloadBid is a builder's (or self-building proposer's)
// commitment to a payload, carried in the block body (spec.md §3).
type ExecutionPayloadBid struct {
	ParentBlockHash    types.Hash
	ParentBlockRoot    types.Hash
	BlockHash          types.Hash
	PrevRandao         types.Hash
	FeeRecipient       types.Address
	GasLimit           uint64
	BuilderIndex       BuilderIndex
	Slot               uint64
	Value              uint64 // Gwei, payment to the proposer
	BlobKZGCommitments [][]byte
}

// IsSelfBuild reports whether this bid designates the proposer as builder.
func (b *ExecutionPayloadBid) IsSelfBuild() bool {
	return b.BuilderIndex == BuilderIndexSelfBuild
}

// Root returns a deterministic fingerprint of the fields that distinguish
// one bid commitment from another. It is not a canonical SSZ hash-tree
// root; it exists so the observation caches (epbs/bidpool.go) and the
// equivocation evidence hashing (epbs/slashing.go) can compare and
// fingerprint bids without depending on a full SSZ implementation.
func (b *ExecutionPayloadBid) Root() types.Hash {
	buf := make([]byte, 0, 32*3+20+8*3)
	buf = append(buf, b.ParentBlockHash[:]...)
	buf = append(buf, b.BlockHash[:]...)
	buf = append(buf, b.FeeRecipient[:]...)
	buf = append(buf, encodeUint64(b.Slot)...)
	buf = append(buf, encodeUint64(uint64(b.BuilderIndex))...)
	buf = append(buf, encodeUint64(b.Value)...)
	return crypto.Keccak256Hash(buf)
}

func encodeUint64(v uint64) []byte {
	out := make([]byte, 8)
	for i := 0; i < 8; i++ {
		out[7-i] = byte(v)
		v >>= 8
	}
	return out
}

// SignedExecutionPayloadBid wraps a bid with its DOMAIN_BEACON_BUILDER
// signature. Self-build bids carry an all-zero signature.
type SignedExecutionPayloadBid struct {
	Message   ExecutionPayloadBid
	Signature BLSSignature
}

// IsZeroSignature reports whether the signature is the all-zero sentinel
// required of self-build bids.
func (s *SignedExecutionPayloadBid) IsZeroSignature() bool {
	return s.Signature == BLSSignature{}
}

// ExecutionRequests mirrors the Electra execution-layer requests carried by
// an envelope (deposits, withdrawal requests, consolidation requests). Full
// validation of their contents is delegated to the pre-Gloas processing
// this spec assumes exists unchanged; only the container shape lives here.
type ExecutionRequests struct {
	Deposits              [][]byte
	WithdrawalRequests    [][]byte
	ConsolidationRequests [][]byte
}

// ExecutionPayload is the revealed execution payload carried by an envelope.
type ExecutionPayload struct {
	ParentHash    types.Hash
	FeeRecipient  types.Address
	BlockHash     types.Hash
	PrevRandao    types.Hash
	GasLimit      uint64
	GasUsed       uint64
	Timestamp     uint64
	ExtraData     []byte
	BaseFeePerGas []byte
	Transactions  [][]byte
	Withdrawals   []Withdrawal
}

// ExecutionPayloadEnvelope reveals the payload committed to by a bid,
// referencing the beacon block it reveals (spec.md §3).
type ExecutionPayloadEnvelope struct {
	BuilderIndex      BuilderIndex
	Slot              uint64
	BeaconBlockRoot   types.Hash
	Payload           ExecutionPayload
	ExecutionRequests ExecutionRequests
	StateRoot         types.Hash
}

// SignedExecutionPayloadEnvelope wraps an envelope with its
// DOMAIN_BEACON_BUILDER signature. Self-build envelopes carry an all-zero
// signature and skip BLS verification entirely.
type SignedExecutionPayloadEnvelope struct {
	Message   ExecutionPayloadEnvelope
	Signature BLSSignature
}

func (s *SignedExecutionPayloadEnvelope) IsZeroSignature() bool {
	return s.Signature == BLSSignature{}
}

// PayloadAttestationData is the data a PTC member votes on.
type PayloadAttestationData struct {
	BeaconBlockRoot   types.Hash
	Slot              uint64
	PayloadPresent    bool
	BlobDataAvailable bool
}

// PayloadAttestation is an aggregated PTC vote, carried either in a block's
// payload_attestations list or on the payload_attestation gossip topic.
type PayloadAttestation struct {
	AggregationBits []byte // bitvector, PTCSize bits
	Data            PayloadAttestationData
	Signature       BLSSignature
}

// PayloadAttestationMessage is a single PTC member's unaggregated vote,
// used only at the pool/gossip layer before aggregation.
type PayloadAttestationMessage struct {
	ValidatorIndex uint64
	Data           PayloadAttestationData
	Signature      BLSSignature
}

// ProposerPreferences is the fee_recipient/gas_limit a proposer commits to
// for its upcoming slot, consulted by bid gossip verification (spec.md §4.4).
type ProposerPreferences struct {
	Slot           uint64
	ValidatorIndex uint64
	FeeRecipient   types.Address
	GasLimit       uint64
}

// SignedProposerPreferences wraps ProposerPreferences with a
// DOMAIN_PROPOSER_PREFERENCES signature.
type SignedProposerPreferences struct {
	Message   ProposerPreferences
	Signature BLSSignature
}

// ExecutionProof is the stateless-validation replacement for newPayload
// (spec.md §4.5, §6), gossiped on the optional execution_proof topic.
type ExecutionProof struct {
	BeaconBlockRoot types.Hash
	BlockHash       types.Hash
	Version         uint64
	ProofData       []byte
}

// SignedExecutionProof wraps an ExecutionProof with its signature.
type SignedExecutionProof struct {
	Message   ExecutionProof
	Signature BLSSignature
}

// Withdrawal is a single entry of an ordered withdrawal list, produced by
// the four-phase withdrawal computation (spec.md §4.3). A builder
// withdrawal's ValidatorIndex has BuilderIndexFlag OR'd in.
type Withdrawal struct {
	Index          uint64
	ValidatorIndex uint64
	Address        types.Address
	Amount         uint64 // Gwei
}

// IsBuilderWithdrawal reports whether w was produced by a builder-side
// phase (1 or 3) of get_expected_withdrawals_gloas rather than the
// validator sweep.
func (w Withdrawal) IsBuilderWithdrawal() bool {
	return w.ValidatorIndex&BuilderIndexFlag != 0
}

// BuilderFromWithdrawal extracts the builder index encoded by
// BuilderIndexFlag, valid only when IsBuilderWithdrawal is true.
func (w Withdrawal) BuilderFromWithdrawal() BuilderIndex {
	return BuilderIndex(w.ValidatorIndex &^ BuilderIndexFlag)
}

// EncodeBuilderWithdrawalIndex ORs BuilderIndexFlag into a builder index to
// produce the validator_index carried by a builder withdrawal.
func EncodeBuilderWithdrawalIndex(b BuilderIndex) uint64 {
	return uint64(b) | BuilderIndexFlag
}
