package compiler

import "github.com/tetratelabs/microwasm/internal/microwasm"

// ccToParamLocs projects a calling convention's locations through a
// target's to-drop range and left-pads with LocationUnknown slots when the
// target expects more params than survive the projection. This mirrors
// lightbeam's cc_to_param_locs, including its "extra" padding case (see
// DESIGN.md's Open Questions section): a target can be declared with more
// params than the convention it is being reconciled against currently
// carries, and those leading slots simply have no known location yet.
func ccToParamLocs(cc CallingConvention, toDrop *microwasm.InclusiveRange, params uint32) []Location {
	locs := cc.Locations
	if toDrop != nil && len(locs) > 0 {
		start := len(locs) - 1 - int(toDrop.End)
		end := len(locs) - 1 - int(toDrop.Start)
		if start < 0 {
			start = 0
		}
		if end >= len(locs) {
			end = len(locs) - 1
		}
		if start <= end {
			kept := append([]Location(nil), locs[:start]...)
			kept = append(kept, locs[end+1:]...)
			locs = kept
		}
	}

	if uint32(len(locs)) < params {
		extra := params - uint32(len(locs))
		padded := make([]Location, extra)
		for i := range padded {
			padded[i] = Location{Kind: LocationUnknown}
		}
		return append(padded, locs...)
	}
	if uint32(len(locs)) > params {
		return locs[uint32(len(locs))-params:]
	}
	return locs
}

func locationsEqual(a, b []Location) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Kind == LocationUnknown || b[i].Kind == LocationUnknown {
			continue
		}
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// tmpNumCallers is lightbeam's fall-through-aware caller-count peek: a
// block that is about to be entered by straight-line fall-through counts
// as having one more caller than the driver has actually seen so far,
// unless it also has a backward (loop-style) caller, in which case the
// converter's static count (Many for a loop header) is used. Any other
// block reports the converter's static count.
func tmpNumCallers(b *block) microwasm.NumCallers {
	if b.isNext && !b.hasBackwardsCallers {
		return b.actualNumCallers.Incremented()
	}
	return b.numCallers
}

// reconcileTarget is one arm of an End operator together with the block it
// resolves to.
type reconcileTarget struct {
	drop  *microwasm.InclusiveRange
	block *block
}

// reconcile implements spec.md §4.3: derive one merged CallingConvention
// (or decide no merge is possible and synthesize an adaptor block) for an
// End operator's full target set, install it into every target that
// doesn't already carry one, and emit the backend's multi-way branch.
func (d *Driver) reconcile(op microwasm.OperationEnd) error {
	defBlock, ok := d.table.get(op.Targets.Default.Target)
	if !ok {
		return inputErrorf("branch to undeclared target %s", op.Targets.Default.Target)
	}
	targets := []reconcileTarget{{drop: op.Targets.Default.ToDrop, block: defBlock}}
	for _, extra := range op.Targets.List {
		b, ok := d.table.get(extra.Target)
		if !ok {
			return inputErrorf("branch to undeclared target %s", extra.Target)
		}
		targets = append(targets, reconcileTarget{drop: extra.ToDrop, block: b})
	}

	var merged *CallingConvention
	if defBlock.convention != nil {
		c := defBlock.convention.clone()
		merged = &c
	}

	maxCallers := microwasm.CallersZero
	for _, t := range targets {
		if tmpNumCallers(t.block) == microwasm.CallersMany {
			maxCallers = microwasm.CallersMany
		} else if tmpNumCallers(t.block) == microwasm.CallersOne && maxCallers == microwasm.CallersZero {
			maxCallers = microwasm.CallersOne
		}
	}

	for i := 1; i < len(targets); i++ {
		t := targets[i]
		if t.block.convention == nil {
			continue
		}
		if merged == nil {
			c := t.block.convention.clone()
			merged = &c
			continue
		}

		if merged.Depth != nil && t.block.convention.Depth != nil {
			if *merged.Depth != *t.block.convention.Depth {
				return conventionConflictf("conditional jump targets require different stack depths")
			}
		} else if t.block.convention.Depth == nil && !t.block.alreadyEmitted {
			merged.Depth = nil
		}

		a := ccToParamLocs(*merged, targets[0].drop, t.block.params)
		b := ccToParamLocs(*t.block.convention, t.drop, t.block.params)
		if locationsEqual(a, b) {
			if countConcrete(b) > countConcrete(a) {
				merged.Locations = t.block.convention.Locations
			}
			continue
		}

		if err := d.synthesizeAdaptor(&targets[i], t.block); err != nil {
			return err
		}
	}

	if merged == nil {
		if maxCallers == microwasm.CallersMany {
			virtual := d.backend.VirtualConvention()
			serialized, err := d.backend.SerializeArgs(virtual.Locations)
			if err != nil {
				return err
			}
			virtual.Locations = serialized
			merged = &virtual
		} else {
			v := d.backend.VirtualConvention()
			merged = &v
		}
	} else {
		hasUnknown := false
		for _, l := range merged.Locations {
			if l.Kind == LocationUnknown {
				hasUnknown = true
				break
			}
		}
		if hasUnknown {
			serialized, err := d.backend.SerializeArgs(merged.Locations)
			if err != nil {
				return err
			}
			merged.Locations = serialized
		}
	}

	seen := map[microwasm.BrTarget]bool{}
	edges := make([]BranchEdge, 0, len(op.Targets.List))
	var defEdge BranchEdge
	for i, t := range targets {
		if t.block.convention == nil {
			installed := merged.clone()
			installed.Locations = ccToParamLocs(*merged, t.drop, t.block.params)
			if tmpNumCallers(t.block) == microwasm.CallersMany {
				installed.Depth = nil
			}
			t.block.convention = &installed
		}

		action := ActionJump
		if t.block.isNext {
			action = ActionContinue
		}
		edge := BranchEdge{Label: t.block.backend, Action: action}
		if i == 0 {
			defEdge = edge
		} else {
			edges = append(edges, edge)
		}

		if !seen[t.block.label] {
			seen[t.block.label] = true
			d.table.accountCaller(t.block.label)
		}
	}

	return d.backend.EndBlock(edges, defEdge, merged.Depth)
}

func countConcrete(locs []Location) int {
	n := 0
	for _, l := range locs {
		if l.Kind != LocationUnknown {
			n++
		}
	}
	return n
}

// synthesizeAdaptor builds a fresh internal block that forwards to the
// original target once its own (separately reconciled) calling convention
// is fixed, and rewrites t to point at it instead. The adaptor's body is
// pushed onto the driver's adaptor queue as real Microwasm operations, to
// be compiled before the next operator the converter produces (spec.md
// §4.2's "adaptor queue").
func (d *Driver) synthesizeAdaptor(t *reconcileTarget, original *block) error {
	label := microwasm.Label{FrameID: d.nextInternalID(), Kind: microwasm.NameTagInternal}
	newTarget := microwasm.LabelTarget(label)

	d.table.declare(microwasm.OperationDeclare{
		Label:      label,
		Params:     t.block.params,
		NumCallers: microwasm.CallersOne,
	})
	adaptor, _ := d.table.get(newTarget)
	adaptor.isNext = false

	t.block = adaptor
	t.drop = nil

	d.adaptorQueue = append(d.adaptorQueue,
		microwasm.OperationStart{Label: label},
		microwasm.OperationConst{Value: microwasm.ZeroValue(microwasm.I32)},
		microwasm.OperationEnd{Targets: microwasm.Targets{
			Default: microwasm.BrTargetDrop{Target: original.label},
		}},
	)
	return nil
}
