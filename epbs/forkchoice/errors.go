// errors.go collects the typed errors returned by the store's ingress
// operations (spec.md §4.2: "each may fail with a typed error").
package forkchoice

import "errors"

var (
	ErrUnknownBlock        = errors.New("forkchoice: unknown block root")
	ErrDuplicateBlock      = errors.New("forkchoice: block root already known")
	ErrUnknownParent       = errors.New("forkchoice: parent root not in store")
	ErrUnknownBid          = errors.New("forkchoice: bid references an unknown (root, slot) node")
	ErrEmptyStore          = errors.New("forkchoice: store has no anchor")
	ErrAttestationTooOld   = errors.New("forkchoice: attestation slot precedes the finalized slot")
	ErrAttestationTooNew   = errors.New("forkchoice: attestation slot is after the current slot")
	ErrInvalidPayloadIndex = errors.New("forkchoice: attestation data.index must be 0 or 1")
	ErrSameSlotPresentVote = errors.New("forkchoice: same-slot attestation must vote index 0")
	ErrPayloadNotRevealed  = errors.New("forkchoice: index 1 requires envelope_received on the referenced block")
)
