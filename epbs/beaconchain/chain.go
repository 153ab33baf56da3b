// chain.go wires the Gloas beacon-chain core's three packages into one
// orchestration surface (spec.md §4.6 "BeaconChain"): state transition
// (package epbs), fork choice (epbs/forkchoice), and the observation
// caches/pools (package epbs) behind a single set of public operations.
// Grounded on the teacher's own orchestration layer style (cmd/eth2030-geth
// wires independent subsystems together the same way: construct each piece,
// hand it a logger, expose a handful of top-level entry points).
package beaconchain

import (
	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/epbs"
	"github.com/eth2030/eth2030/epbs/forkchoice"
	"github.com/eth2030/eth2030/log"
)

// Config bundles the protocol constants and tunables BeaconChain needs
// beyond what epbs.State and forkchoice.Store own, following the teacher's
// DefaultConfig() convention (epbs.DefaultBidValidatorConfig() and peers).
type Config struct {
	GenesisTime    uint64
	SecondsPerSlot uint64
	SlotDurationMs uint64

	// VerifySignatures gates BLS verification in both the STF and gossip
	// paths; false only for trusted block-replay (spec.md §4.1/§4.5).
	VerifySignatures bool
}

// DefaultConfig returns mainnet-shaped defaults.
func DefaultConfig() Config {
	return Config{
		GenesisTime:      0,
		SecondsPerSlot:   12,
		SlotDurationMs:   12000,
		VerifySignatures: true,
	}
}

// ValidatorRegistry is the validator-set-dependent plumbing BeaconChain
// needs beyond what epbs.State or forkchoice.Store alone can supply: PTC
// seating, proposer lookahead, and effective balances. A concrete
// implementation composes the beacon-state validator registry this module
// does not itself model; BeaconChain only consumes the interface.
type ValidatorRegistry interface {
	epbs.PTCProvider
	epbs.EffectiveBalanceLookup
	epbs.ProposerLookahead
}

// StateRootProvider computes the canonical SSZ hash-tree root of a complete
// Gloas state. SSZ and Merkle tree hashing are out of this module's scope
// (spec.md's own "Out of scope" list names them); a real driver supplies an
// implementation backed by the SSZ library it already links, e.g. for
// state_root verification or get_advanced_hot_state's reload path.
type StateRootProvider interface {
	StateRoot(state *epbs.State) types.Hash
}

// BeaconChain is the orchestration root: it owns the fork-choice store, the
// observation pools, the pending-envelope buffer, and the state cache, and
// exposes the handful of entry points gossip and block-processing drivers
// call into (spec.md §4.6).
type BeaconChain struct {
	cfg Config
	log *log.Logger

	store      *forkchoice.Store
	validators ValidatorRegistry
	engine     *EngineClient
	requests   epbs.ExecutionRequestsProcessor
	stateRoots StateRootProvider

	bids         *epbs.ExecutionBidPool
	observedBids *epbs.ObservedBids

	attestations         *epbs.PayloadAttestationPool
	observedAttestations *epbs.ObservedPayloadAttestations

	preferences *epbs.ProposerPreferencesPool

	states *StateCache

	pendingGossipEnvelopes map[types.Hash][]*epbs.SignedExecutionPayloadEnvelope

	reveal *RevealCoordinator

	paymentStats *epbs.PaymentStatsTracker

	head CanonicalHead
}

// New constructs a BeaconChain around an already-initialized fork-choice
// store (InitializeAnchor must have been called on it).
func New(cfg Config, store *forkchoice.Store, validators ValidatorRegistry, engine *EngineClient, requests epbs.ExecutionRequestsProcessor, stateRoots StateRootProvider) *BeaconChain {
	return &BeaconChain{
		cfg:                    cfg,
		log:                    log.Default().Module("beaconchain"),
		store:                  store,
		validators:             validators,
		engine:                 engine,
		requests:               requests,
		stateRoots:             stateRoots,
		bids:                   epbs.NewExecutionBidPool(),
		observedBids:           epbs.NewObservedBids(),
		attestations:           epbs.NewPayloadAttestationPool(),
		observedAttestations:   epbs.NewObservedPayloadAttestations(),
		preferences:            epbs.NewProposerPreferencesPool(),
		states:                 NewStateCache(64),
		pendingGossipEnvelopes: make(map[types.Hash][]*epbs.SignedExecutionPayloadEnvelope),
		reveal:                 NewRevealCoordinator(),
		paymentStats:           epbs.NewPaymentStatsTracker(epbs.DefaultPaymentStatsConfig()),
	}
}

// PaymentStats exposes the running builder-payment EMA/lifetime totals this
// chain has observed, e.g. for a metrics endpoint or proposer fee-recipient
// heuristics.
func (bc *BeaconChain) PaymentStats() *epbs.PaymentStatsTracker { return bc.paymentStats }

// Store exposes the underlying fork-choice store for read-only queries
// (e.g. by a gossip driver deciding which root to attach an attestation to).
func (bc *BeaconChain) Store() *forkchoice.Store { return bc.store }
