package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/microwasm/internal/compiler"
	"github.com/tetratelabs/microwasm/internal/microwasm"
	"github.com/tetratelabs/microwasm/internal/testbackend"
	"github.com/tetratelabs/microwasm/internal/wasm"
)

type stubModule struct{}

func (stubModule) TypeOfFunction(uint32) (wasm.FunctionType, error)      { return wasm.FunctionType{}, nil }
func (stubModule) SignatureByTypeIndex(uint32) (wasm.FunctionType, error) { return wasm.FunctionType{}, nil }
func (stubModule) GlobalValueType(uint32) (wasm.ValueType, error)        { return wasm.ValueTypeI32, nil }
func (stubModule) DefinedFunctionIndex(idx uint32) (uint32, bool)        { return idx, true }

// signless maps Wasm value types onto the Microwasm types Backend expects.
func signless(vts []wasm.ValueType) []microwasm.SignlessType {
	out := make([]microwasm.SignlessType, len(vts))
	for i, v := range vts {
		switch v {
		case wasm.ValueTypeI64:
			out[i] = microwasm.I64
		case wasm.ValueTypeF32:
			out[i] = microwasm.F32
		case wasm.ValueTypeF64:
			out[i] = microwasm.F64
		default:
			out[i] = microwasm.I32
		}
	}
	return out
}

func translate(t *testing.T, sig wasm.FunctionType, raws []wasm.RawOperator) *testbackend.Backend {
	t.Helper()
	conv, err := microwasm.NewConverter(sig, nil, stubModule{})
	require.NoError(t, err)

	backend := testbackend.New()
	retLocs := backend.ReturnLocations(signless(sig.Results))
	driver := compiler.NewDriver(backend, compiler.CallingConvention{Locations: retLocs}, compiler.Sinks{})

	for _, raw := range raws {
		ops, err := conv.Feed(raw)
		require.NoError(t, err)
		require.NoError(t, driver.Translate(ops))
	}
	require.NoError(t, driver.Finish())
	return backend
}

// A function `() -> i32` with body `i32.const 42`: the simplest possible
// straight-line translation, exercising only the function's own Return
// target (seeded directly into the block table, never Declared).
func TestDriver_NullaryConst(t *testing.T) {
	sig := wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}}
	backend := translate(t, sig, []wasm.RawOperator{
		{Opcode: wasm.OpcodeI32Const, ConstI32: 42},
		{Opcode: wasm.OpcodeEnd},
	})

	require.NotEmpty(t, backend.Trace)
	last := backend.Trace[len(backend.Trace)-1]
	require.Contains(t, last, "end_block")
}

// A reachable `block (result i32) i32.const 1 br 0 end` followed by a drop
// and the function end: exercises Declare/Start/reconcile end to end for a
// block with exactly one caller (the br) plus fall-through.
func TestDriver_BlockWithBranch(t *testing.T) {
	sig := wasm.FunctionType{}
	backend := translate(t, sig, []wasm.RawOperator{
		{Opcode: wasm.OpcodeBlock, Block: wasm.BlockType{Kind: wasm.BlockKindValue, Value: wasm.ValueTypeI32}},
		{Opcode: wasm.OpcodeI32Const, ConstI32: 1},
		{Opcode: wasm.OpcodeBr, LabelIdx: 0},
		{Opcode: wasm.OpcodeEnd},
		{Opcode: wasm.OpcodeDrop},
		{Opcode: wasm.OpcodeEnd},
	})

	foundConst := false
	foundLabel := false
	for _, line := range backend.Trace {
		if line == "const r0 <- i32.const 1" {
			foundConst = true
		}
		if line == "L0:" {
			foundLabel = true
		}
	}
	require.True(t, foundConst, "trace: %v", backend.Trace)
	require.True(t, foundLabel, "trace: %v", backend.Trace)
}

// traceIndex returns the index of the first trace line equal to want, or -1.
func traceIndex(trace []string, want string) int {
	for i, line := range trace {
		if line == want {
			return i
		}
	}
	return -1
}

// A `loop` with a back-edge (`br 0`) inside it: the loop header has a
// backwards caller, so the block must survive reconciliation without being
// retired on its first Start. This also exercises br_if's own End, whose
// Default arm must be the actual branch target (the loop header, taken when
// the condition is true) and whose List must hold only the fallthrough
// continuation (taken when the selector is in range, i.e. the condition is
// false) — reversing the two would branch on exactly the wrong condition.
func TestDriver_LoopBackEdge(t *testing.T) {
	sig := wasm.FunctionType{}
	backend := translate(t, sig, []wasm.RawOperator{
		{Opcode: wasm.OpcodeLoop, Block: wasm.BlockType{Kind: wasm.BlockKindEmpty}},
		{Opcode: wasm.OpcodeI32Const, ConstI32: 0},
		{Opcode: wasm.OpcodeBrIf, LabelIdx: 0},
		{Opcode: wasm.OpcodeEnd},
		{Opcode: wasm.OpcodeEnd},
	})

	require.NotEmpty(t, backend.Trace)

	idx := traceIndex(backend.Trace, "end_block default=jump(0) extra=1")
	require.GreaterOrEqual(t, idx, 0, "trace: %v", backend.Trace)
	require.Equal(t, "  target continue(2)", backend.Trace[idx+1], "trace: %v", backend.Trace)
}

// An if/else where both arms push an i32 and the shared end target is
// reached from two different paths: reconcile must merge (or adapt) the two
// arms' conventions into one before the common End. This also pins down two
// things the trace can catch a regression in: the if's own selector End must
// put the header (then) label in Default and the else label in List (a
// truthy condition must select the then arm), and the then arm's own
// closing End must branch to the shared end label rather than falling
// straight into the else arm's body.
func TestDriver_IfElseMerge(t *testing.T) {
	sig := wasm.FunctionType{}
	backend := translate(t, sig, []wasm.RawOperator{
		{Opcode: wasm.OpcodeI32Const, ConstI32: 1},
		{Opcode: wasm.OpcodeIf, Block: wasm.BlockType{Kind: wasm.BlockKindValue, Value: wasm.ValueTypeI32}},
		{Opcode: wasm.OpcodeI32Const, ConstI32: 10},
		{Opcode: wasm.OpcodeElse},
		{Opcode: wasm.OpcodeI32Const, ConstI32: 20},
		{Opcode: wasm.OpcodeEnd},
		{Opcode: wasm.OpcodeDrop},
		{Opcode: wasm.OpcodeEnd},
	})

	require.NotEmpty(t, backend.Trace)

	// The if's own selector End: Default must be the header (then) label,
	// List must hold only the else label.
	selIdx := traceIndex(backend.Trace, "end_block default=continue(0) extra=1")
	require.GreaterOrEqual(t, selIdx, 0, "trace: %v", backend.Trace)
	require.Equal(t, "  target jump(1)", backend.Trace[selIdx+1], "trace: %v", backend.Trace)

	// The else label's Start must be immediately preceded by an End that
	// branches to the shared end label, not one that falls through to the
	// else label itself (which would run both arms unconditionally).
	elseStart := traceIndex(backend.Trace, "L1:")
	require.Greater(t, elseStart, 0, "trace: %v", backend.Trace)
	require.Equal(t, "end_block default=jump(2) extra=0", backend.Trace[elseStart-1], "trace: %v", backend.Trace)
}

// A reachable block whose Start immediately follows its End (no
// intervening branch): the fall-through peek-ahead must mark the target
// is_next so reconcile records a "continue" action rather than "jump"
// (spec.md §8 property 4, "fall-through optimality").
func TestDriver_FallThroughContinuesRatherThanJumps(t *testing.T) {
	sig := wasm.FunctionType{}
	backend := translate(t, sig, []wasm.RawOperator{
		{Opcode: wasm.OpcodeBlock, Block: wasm.BlockType{Kind: wasm.BlockKindEmpty}},
		{Opcode: wasm.OpcodeEnd},
		{Opcode: wasm.OpcodeEnd},
	})

	foundContinue := false
	for _, line := range backend.Trace {
		if line == "end_block default=continue(0) extra=0" {
			foundContinue = true
		}
	}
	require.True(t, foundContinue, "expected a fall-through continue edge, trace: %v", backend.Trace)
}

// The offsets and disassembly sinks must receive exactly one entry per
// operator the driver actually dispatches, at strictly increasing machine
// offsets (spec.md §4.4).
func TestDriver_SinksRecordEveryCompiledOperator(t *testing.T) {
	sig := wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}}
	conv, err := microwasm.NewConverter(sig, nil, stubModule{})
	require.NoError(t, err)

	backend := testbackend.New()
	offsets := &compiler.RecordingOffsetSink{}
	var disassembled []microwasm.Operation
	sinks := compiler.Sinks{
		Offsets: offsets,
		Disassembly: disassemblyFunc(func(op microwasm.Operation) {
			disassembled = append(disassembled, op)
		}),
	}
	retLocs := backend.ReturnLocations(signless(sig.Results))
	driver := compiler.NewDriver(backend, compiler.CallingConvention{Locations: retLocs}, sinks)

	raws := []wasm.RawOperator{
		{Opcode: wasm.OpcodeI32Const, ConstI32: 42},
		{Opcode: wasm.OpcodeEnd},
	}
	for _, raw := range raws {
		ops, err := conv.Feed(raw)
		require.NoError(t, err)
		require.NoError(t, driver.Translate(ops))
	}
	require.NoError(t, driver.Finish())

	require.NotEmpty(t, offsets.Entries)
	require.Len(t, disassembled, len(offsets.Entries))
	for i := 1; i < len(offsets.Entries); i++ {
		require.Less(t, offsets.Entries[i-1].Offset, offsets.Entries[i].Offset)
	}
}

type disassemblyFunc func(op microwasm.Operation)

func (f disassemblyFunc) Emit(op microwasm.Operation) { f(op) }

// br_table with three targets, all distinct blocks: exercises reconcile's
// multi-target merge loop and EndBlock's edge list directly, rather than
// the binary if/else shape.
func TestDriver_BrTable(t *testing.T) {
	sig := wasm.FunctionType{}
	backend := translate(t, sig, []wasm.RawOperator{
		{Opcode: wasm.OpcodeBlock, Block: wasm.BlockType{Kind: wasm.BlockKindEmpty}},
		{Opcode: wasm.OpcodeBlock, Block: wasm.BlockType{Kind: wasm.BlockKindEmpty}},
		{Opcode: wasm.OpcodeBlock, Block: wasm.BlockType{Kind: wasm.BlockKindEmpty}},
		{Opcode: wasm.OpcodeI32Const, ConstI32: 1},
		{Opcode: wasm.OpcodeBrTable, BrTableTargets: []uint32{0, 1}, BrTableDefault: 2},
		{Opcode: wasm.OpcodeEnd},
		{Opcode: wasm.OpcodeEnd},
		{Opcode: wasm.OpcodeEnd},
		{Opcode: wasm.OpcodeEnd},
	})

	require.NotEmpty(t, backend.Trace)
}
