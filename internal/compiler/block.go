package compiler

import "github.com/tetratelabs/microwasm/internal/microwasm"

// block is the driver's per-label bookkeeping (spec.md §3's Block struct).
type block struct {
	label      microwasm.BrTarget
	backend    BackendLabel
	params     uint32
	convention *CallingConvention

	isNext              bool
	alreadyEmitted      bool
	hasBackwardsCallers bool

	// numCallers is the converter's static estimate, fixed at Declare;
	// actualNumCallers only grows once a branch naming this label is
	// actually compiled.
	numCallers       microwasm.NumCallers
	actualNumCallers microwasm.NumCallers
}

// blockTable is the driver's map from BrTarget to block, seeded once per
// function with the implicit Return target (spec.md §5: "block table owned
// uniquely by driver per function").
type blockTable struct {
	backend Backend
	blocks  map[microwasm.BrTarget]*block
}

func newBlockTable(backend Backend, returnConvention CallingConvention) *blockTable {
	t := &blockTable{backend: backend, blocks: map[microwasm.BrTarget]*block{}}
	ret := microwasm.ReturnTarget()
	t.blocks[ret] = &block{
		label:            ret,
		convention:       &returnConvention,
		alreadyEmitted:   true,
		numCallers:       microwasm.CallersMany,
		actualNumCallers: microwasm.CallersMany,
	}
	return t
}

func (t *blockTable) get(target microwasm.BrTarget) (*block, bool) {
	b, ok := t.blocks[target]
	return b, ok
}

// declare registers a freshly Declared label. It is also called, per
// spec.md §4.2/§9, for any Declare encountered while skipping an
// unreachable block's body at Start: those nested labels must still be
// resolvable if some later, still-reachable branch happens to name them.
func (t *blockTable) declare(op microwasm.OperationDeclare) {
	t.blocks[microwasm.LabelTarget(op.Label)] = &block{
		label:               microwasm.LabelTarget(op.Label),
		backend:             t.backend.CreateLabel(),
		params:              op.Params,
		numCallers:          op.NumCallers,
		hasBackwardsCallers: op.HasBackwardsCallers,
	}
}

// accountCaller increments a target's actualNumCallers the first time a
// given physical branch instruction is found to reach it; reconcile.go
// dedupes per End operator before calling this so a single End naming the
// same target twice in its Targets list only counts once.
func (t *blockTable) accountCaller(target microwasm.BrTarget) {
	b, ok := t.blocks[target]
	if !ok {
		return
	}
	b.actualNumCallers.Inc()
}

// retire removes a block with no backward callers once it has been
// started, bounding block-table memory to roughly the current nesting
// depth (spec.md §5).
func (t *blockTable) retire(target microwasm.BrTarget) {
	if b, ok := t.blocks[target]; ok && !b.hasBackwardsCallers {
		delete(t.blocks, target)
	}
}
