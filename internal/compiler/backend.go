package compiler

import "github.com/tetratelabs/microwasm/internal/microwasm"

// BackendLabel is an opaque handle a Backend hands back from CreateLabel;
// the driver never inspects it, only threads it back through DefineLabel
// and EndBlock.
type BackendLabel interface{}

// BranchAction tells EndBlock whether a target is reached by falling
// through into the next emitted instruction or by an actual jump.
type BranchAction byte

const (
	ActionJump BranchAction = iota
	ActionContinue
)

func (a BranchAction) String() string {
	if a == ActionContinue {
		return "continue"
	}
	return "jump"
}

// BranchEdge is one arm of a (possibly multi-target) branch passed to
// EndBlock.
type BranchEdge struct {
	Label  BackendLabel
	Action BranchAction
}

// Backend is the external collaborator the driver emits straight-line code
// through (spec.md §6). It owns the register allocator, assembler,
// relocation and trap sinks; this package only calls into it in program
// order and never inspects its internal state.
//
// Control and state-management primitives get one method apiece, matching
// wazero's compiler interface shape. The homogeneous numeric family
// (arithmetic/comparison/conversion) funnels through CompileNumeric instead
// of one method per opcode: every member of that family has the same
// "pop N, push M, call one backend primitive" shape, so enumerating fifty
// near-identical methods here would not exercise any different part of the
// reconciliation algorithm this package exists to implement.
type Backend interface {
	// CompileNumeric emits the arithmetic/comparison/conversion operator
	// op directly; it never affects label state or the value-location
	// stack's shape beyond a plain pop/push.
	CompileNumeric(op microwasm.Operation) error

	CompileConst(v microwasm.Value) error
	CompilePick(depth uint32) error
	CompileSwap(depth uint32) error
	CompileDrop(r microwasm.InclusiveRange) error
	CompileSelect() error

	CompileGlobalGet(idx uint32, t microwasm.SignlessType) error
	CompileGlobalSet(idx uint32, t microwasm.SignlessType) error

	CompileLoad(access microwasm.MemoryAccess) error
	CompileStore(access microwasm.MemoryAccess) error
	CompileMemorySize() error
	CompileMemoryGrow() error

	CompileCall(op microwasm.OperationCall) error
	CompileCallIndirect(op microwasm.OperationCallIndirect) error

	// Trap emits an unconditional trap, used for Wasm's own unreachable
	// instruction. A declared block with zero actual callers is skipped at
	// its Start, not compiled to a trap.
	Trap(reason string) error

	// CreateLabel allocates a fresh backend label, not yet bound to a
	// machine address.
	CreateLabel() BackendLabel
	// DefineLabel binds label to the current machine position.
	DefineLabel(label BackendLabel)

	// SaveState captures the backend's current abstract value-location
	// stack as a CallingConvention, for later RestoreState at some other
	// Start of the same label.
	SaveState() CallingConvention
	// RestoreState replaces the backend's abstract value-location stack
	// with cc, emitting whatever register/stack shuffling is needed to
	// make the physical machine match it.
	RestoreState(cc CallingConvention) error
	// VirtualConvention returns a CallingConvention describing the current
	// abstract stack without forcing any concrete locations. reconcile uses
	// it when none of a branch's targets carries a convention yet, passing
	// it through SerializeArgs first if some target has Many callers.
	VirtualConvention() CallingConvention

	// SerializeArgs spills every location in locs that is LocationUnknown
	// to a concrete stack slot, and returns the resulting concrete
	// locations. reconcile calls it on the virtual convention when no
	// target has a convention and some target has Many callers, and on a
	// merged convention that still holds LocationUnknown slots.
	SerializeArgs(locs []Location) ([]Location, error)

	// EndBlock emits the actual multi-way branch: targets other than
	// def are taken based on a runtime selector already on top of the
	// abstract stack (popped by this call); def is always the fallback.
	EndBlock(targets []BranchEdge, def BranchEdge, depth *uint32) error

	// ReturnLocations reports where the function's (0 or 1) results must
	// end up for the function's own Return target.
	ReturnLocations(results []microwasm.SignlessType) []Location

	// Offset reports the assembler's current monotonically increasing
	// machine offset (spec.md §6's asm.offset()), sampled by the driver
	// just before each operator is compiled to feed the offsets sink.
	Offset() uint64
}
