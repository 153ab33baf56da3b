package beaconchain

import (
	"testing"

	"github.com/eth2030/eth2030/core/types"
	"github.com/eth2030/eth2030/epbs"
)

func TestDecideRoutesSelfBuildAndExternalBuilder(t *testing.T) {
	r := NewRevealCoordinator()
	root := types.Hash{0x01}

	selfBuildBid := &epbs.ExecutionPayloadBid{BuilderIndex: epbs.BuilderIndexSelfBuild}
	phase, err := r.Decide(1, root, selfBuildBid)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if phase != RevealPhaseSelfBuild {
		t.Errorf("phase = %v, want RevealPhaseSelfBuild", phase)
	}

	externalBid := &epbs.ExecutionPayloadBid{BuilderIndex: 7}
	phase, err = r.Decide(2, root, externalBid)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if phase != RevealPhaseExternalBuilder {
		t.Errorf("phase = %v, want RevealPhaseExternalBuilder", phase)
	}
}

func TestDecideNilBidIsExternalBuilder(t *testing.T) {
	r := NewRevealCoordinator()
	phase, err := r.Decide(1, types.Hash{0x01}, nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if phase != RevealPhaseExternalBuilder {
		t.Errorf("phase = %v, want RevealPhaseExternalBuilder for a nil bid", phase)
	}
}

func TestCloseRequiresPriorDecide(t *testing.T) {
	r := NewRevealCoordinator()
	if err := r.Close(1); err != ErrRevealNotDecided {
		t.Errorf("err = %v, want ErrRevealNotDecided", err)
	}
}

func TestCloseMarksClosedAndIsClosedReportsIt(t *testing.T) {
	r := NewRevealCoordinator()
	root := types.Hash{0x01}
	if _, err := r.Decide(1, root, nil); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if r.IsClosed(1) {
		t.Error("IsClosed true before Close")
	}
	if err := r.Close(1); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !r.IsClosed(1) {
		t.Error("IsClosed false after Close")
	}
}

func TestDecideAfterCloseIsRejected(t *testing.T) {
	r := NewRevealCoordinator()
	root := types.Hash{0x01}
	if _, err := r.Decide(1, root, nil); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if err := r.Close(1); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := r.Decide(1, root, nil); err != ErrRevealAlreadyDecided {
		t.Errorf("err = %v, want ErrRevealAlreadyDecided", err)
	}
}

func TestPruneBeforeDiscardsOldSlots(t *testing.T) {
	r := NewRevealCoordinator()
	root := types.Hash{0x01}
	if _, err := r.Decide(1, root, nil); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if _, err := r.Decide(10, root, nil); err != nil {
		t.Fatalf("Decide: %v", err)
	}
	r.PruneBefore(5)

	if err := r.Close(1); err != ErrRevealNotDecided {
		t.Errorf("slot 1 should have been pruned, got err = %v", err)
	}
	if err := r.Close(10); err != nil {
		t.Errorf("slot 10 should survive pruning, got err = %v", err)
	}
}
