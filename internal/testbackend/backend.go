// Package testbackend is a reference Backend implementation (spec.md §6)
// used by internal/compiler's own tests. It never emits real machine code:
// it tracks an abstract value-location stack the way wazero's
// compiler_value_location.go tracks physical register/stack locations, and
// records a textual trace line for each code-emitting call it receives
// (CreateLabel, SaveState, VirtualConvention, ReturnLocations and Offset
// record nothing), which tests inspect in place of a disassembly.
package testbackend

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/microwasm/internal/compiler"
	"github.com/tetratelabs/microwasm/internal/microwasm"
)

const numRegisters = 4

// Backend is the reference compiler.Backend. It has a small fixed pool of
// pseudo-registers; once exhausted, new values spill straight to the
// pseudo stack, the same shape wazero's valueLocationStack.takeFreeRegister
// falls back to.
type Backend struct {
	stack        []compiler.Location
	usedRegister [numRegisters]bool
	stackDepth   int
	nextLabel    int
	labels       map[int]string
	defined      map[int]bool

	Trace []string

	offset uint64
}

func New() *Backend {
	return &Backend{labels: map[int]string{}, defined: map[int]bool{}}
}

func (b *Backend) emit(format string, args ...interface{}) {
	b.Trace = append(b.Trace, fmt.Sprintf(format, args...))
	b.offset++
}

// Offset reports a synthetic machine offset: one unit per backend call
// recorded in Trace. There is no real assembler behind this test backend,
// so the unit is arbitrary but still strictly increasing, which is all the
// offsets sink contract (spec.md §6) requires.
func (b *Backend) Offset() uint64 { return b.offset }

func (b *Backend) takeRegister() compiler.Location {
	for i := 0; i < numRegisters; i++ {
		if !b.usedRegister[i] {
			b.usedRegister[i] = true
			return compiler.RegisterLocation(i)
		}
	}
	loc := compiler.StackLocation(b.stackDepth)
	b.stackDepth++
	return loc
}

func (b *Backend) releaseLocation(l compiler.Location) {
	if l.Kind == compiler.LocationRegister {
		b.usedRegister[l.Register] = false
	}
}

func (b *Backend) push() compiler.Location {
	loc := b.takeRegister()
	b.stack = append(b.stack, loc)
	return loc
}

func (b *Backend) pop() compiler.Location {
	loc := b.stack[len(b.stack)-1]
	b.stack = b.stack[:len(b.stack)-1]
	b.releaseLocation(loc)
	return loc
}

func locString(l compiler.Location) string {
	switch l.Kind {
	case compiler.LocationRegister:
		return fmt.Sprintf("r%d", l.Register)
	case compiler.LocationStack:
		return fmt.Sprintf("s%d", l.StackPos)
	default:
		return "?"
	}
}

func (b *Backend) CompileNumeric(op microwasm.Operation) error {
	arity := numericArity(op)
	args := make([]string, arity)
	for i := arity - 1; i >= 0; i-- {
		args[i] = locString(b.pop())
	}
	dst := b.push()
	b.emit("%s %s <- %s", strings.ToLower(op.Kind().String()), locString(dst), strings.Join(args, ", "))
	return nil
}

// numericArity is the operand count of every numeric Operation this
// backend supports: unary for the float/int unary families and the
// conversions, binary otherwise.
func numericArity(op microwasm.Operation) int {
	switch op.Kind() {
	case microwasm.OperationKindIClz, microwasm.OperationKindICtz, microwasm.OperationKindIPopcnt,
		microwasm.OperationKindIEqz, microwasm.OperationKindFAbs, microwasm.OperationKindFNeg,
		microwasm.OperationKindFSqrt, microwasm.OperationKindFCeil, microwasm.OperationKindFFloor,
		microwasm.OperationKindFTrunc, microwasm.OperationKindFNearest, microwasm.OperationKindITruncF,
		microwasm.OperationKindFConvertI, microwasm.OperationKindF32DemoteF64, microwasm.OperationKindF64PromoteF32,
		microwasm.OperationKindI32WrapI64, microwasm.OperationKindIExtend,
		microwasm.OperationKindIReinterpretF, microwasm.OperationKindFReinterpretI:
		return 1
	default:
		return 2
	}
}

func (b *Backend) CompileConst(v microwasm.Value) error {
	dst := b.push()
	b.emit("const %s <- %s", locString(dst), v)
	return nil
}

func (b *Backend) CompilePick(depth uint32) error {
	src := b.stack[len(b.stack)-1-int(depth)]
	dst := b.push()
	b.emit("pick %s <- %s (depth %d)", locString(dst), locString(src), depth)
	return nil
}

func (b *Backend) CompileSwap(depth uint32) error {
	i := len(b.stack) - 1
	j := i - int(depth)
	b.stack[i], b.stack[j] = b.stack[j], b.stack[i]
	b.emit("swap %d", depth)
	return nil
}

func (b *Backend) CompileDrop(r microwasm.InclusiveRange) error {
	top := len(b.stack) - 1
	start := top - int(r.End)
	end := top - int(r.Start)
	if start < 0 {
		start = 0
	}
	for i := end; i >= start && i < len(b.stack); i-- {
		b.releaseLocation(b.stack[i])
	}
	b.stack = append(b.stack[:start], b.stack[end+1:]...)
	b.emit("drop %d..=%d", r.Start, r.End)
	return nil
}

func (b *Backend) CompileSelect() error {
	b.pop()
	v2 := b.pop()
	v1 := b.pop()
	b.releaseLocation(v2)
	dst := v1
	b.stack = append(b.stack, dst)
	b.emit("select -> %s", locString(dst))
	return nil
}

func (b *Backend) CompileGlobalGet(idx uint32, t microwasm.SignlessType) error {
	dst := b.push()
	b.emit("global.get %d -> %s", idx, locString(dst))
	return nil
}

func (b *Backend) CompileGlobalSet(idx uint32, t microwasm.SignlessType) error {
	src := b.pop()
	b.emit("global.set %d <- %s", idx, locString(src))
	return nil
}

func (b *Backend) CompileLoad(access microwasm.MemoryAccess) error {
	b.pop()
	dst := b.push()
	b.emit("load %s -> %s", access.Type, locString(dst))
	return nil
}

func (b *Backend) CompileStore(access microwasm.MemoryAccess) error {
	b.pop()
	b.pop()
	b.emit("store %s", access.Type)
	return nil
}

func (b *Backend) CompileMemorySize() error {
	dst := b.push()
	b.emit("memory.size -> %s", locString(dst))
	return nil
}

func (b *Backend) CompileMemoryGrow() error {
	b.pop()
	dst := b.push()
	b.emit("memory.grow -> %s", locString(dst))
	return nil
}

func (b *Backend) CompileCall(op microwasm.OperationCall) error {
	for range op.Params {
		b.pop()
	}
	var dst compiler.Location
	for range op.Results {
		dst = b.push()
	}
	b.emit("call %d -> %s", op.FuncIdx, locString(dst))
	return nil
}

func (b *Backend) CompileCallIndirect(op microwasm.OperationCallIndirect) error {
	b.pop() // table index operand
	for range op.Params {
		b.pop()
	}
	var dst compiler.Location
	for range op.Results {
		dst = b.push()
	}
	b.emit("call_indirect type=%d -> %s", op.TypeIdx, locString(dst))
	return nil
}

func (b *Backend) Trap(reason string) error {
	b.emit("trap %s", reason)
	return nil
}

func (b *Backend) CreateLabel() compiler.BackendLabel {
	id := b.nextLabel
	b.nextLabel++
	b.labels[id] = fmt.Sprintf("L%d", id)
	return id
}

func (b *Backend) DefineLabel(label compiler.BackendLabel) {
	id := label.(int)
	b.defined[id] = true
	b.emit("%s:", b.labels[id])
}

func (b *Backend) SaveState() compiler.CallingConvention {
	return compiler.CallingConvention{Locations: append([]compiler.Location(nil), b.stack...)}
}

func (b *Backend) RestoreState(cc compiler.CallingConvention) error {
	for _, l := range b.stack {
		b.releaseLocation(l)
	}
	b.stack = append([]compiler.Location(nil), cc.Locations...)
	for _, l := range b.stack {
		if l.Kind == compiler.LocationRegister {
			b.usedRegister[l.Register] = true
		}
	}
	b.emit("restore %d values", len(cc.Locations))
	return nil
}

func (b *Backend) VirtualConvention() compiler.CallingConvention {
	return compiler.CallingConvention{Locations: append([]compiler.Location(nil), b.stack...)}
}

func (b *Backend) SerializeArgs(locs []compiler.Location) ([]compiler.Location, error) {
	out := make([]compiler.Location, len(locs))
	for i, l := range locs {
		if l.Kind == compiler.LocationUnknown {
			out[i] = compiler.StackLocation(b.stackDepth)
			b.stackDepth++
		} else {
			out[i] = l
		}
	}
	b.emit("serialize %d locations", len(locs))
	return out, nil
}

func (b *Backend) EndBlock(targets []compiler.BranchEdge, def compiler.BranchEdge, depth *uint32) error {
	b.pop() // selector
	b.emit("end_block default=%s(%v) extra=%d", def.Action, def.Label, len(targets))
	for _, t := range targets {
		b.emit("  target %s(%v)", t.Action, t.Label)
	}
	return nil
}

func (b *Backend) ReturnLocations(results []microwasm.SignlessType) []compiler.Location {
	locs := make([]compiler.Location, len(results))
	for i := range results {
		locs[i] = compiler.RegisterLocation(i)
	}
	return locs
}
