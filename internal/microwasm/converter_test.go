package microwasm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/microwasm/internal/wasm"
)

type stubModule struct {
	funcs   map[uint32]wasm.FunctionType
	types   map[uint32]wasm.FunctionType
	globals map[uint32]wasm.ValueType
}

func (s *stubModule) TypeOfFunction(idx uint32) (wasm.FunctionType, error) { return s.funcs[idx], nil }
func (s *stubModule) SignatureByTypeIndex(idx uint32) (wasm.FunctionType, error) {
	return s.types[idx], nil
}
func (s *stubModule) GlobalValueType(idx uint32) (wasm.ValueType, error) { return s.globals[idx], nil }
func (s *stubModule) DefinedFunctionIndex(idx uint32) (uint32, bool)     { return idx, true }

func feedAll(t *testing.T, c *Converter, raws []wasm.RawOperator) []Operation {
	t.Helper()
	var all []Operation
	for _, raw := range raws {
		ops, err := c.Feed(raw)
		require.NoError(t, err)
		all = append(all, ops...)
	}
	return all
}

// nullaryResult: a function `() -> i32` whose body is just `i32.const 42`
// followed by the implicit end. The converter should emit one Const and
// then the function-closing Const(0)/End(Return) pair.
func TestConverter_NullaryResult(t *testing.T) {
	sig := wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}}
	c, err := NewConverter(sig, nil, &stubModule{})
	require.NoError(t, err)

	ops := feedAll(t, c, []wasm.RawOperator{
		{Opcode: wasm.OpcodeI32Const, ConstI32: 42},
		{Opcode: wasm.OpcodeEnd},
	})

	require.Len(t, ops, 3)
	require.Equal(t, OperationKindConst, ops[0].Kind())
	require.Equal(t, int32(42), ops[0].(OperationConst).Value.AsI32())
	require.Equal(t, OperationKindConst, ops[1].Kind())
	require.Equal(t, OperationKindEnd, ops[2].Kind())
	end := ops[2].(OperationEnd)
	require.True(t, end.Targets.Default.Target.IsReturn)
}

// identity: a function `(i32) -> i32` that returns its own parameter via
// local.get 0, which must lower to a Pick rather than survive as
// OperationLocalGet.
func TestConverter_Identity(t *testing.T) {
	sig := wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}
	c, err := NewConverter(sig, nil, &stubModule{})
	require.NoError(t, err)

	ops := feedAll(t, c, []wasm.RawOperator{
		{Opcode: wasm.OpcodeLocalGet, LocalIdx: 0},
		{Opcode: wasm.OpcodeEnd},
	})

	require.Equal(t, OperationKindPick, ops[0].Kind())
	require.Equal(t, uint32(0), ops[0].(OperationPick).Depth)
}

// blockWithBranch: `block (result i32) i32.const 1 br 0 end`, exercising
// Declare/Start bracketing and a br lowering to Drop?/Const/End.
func TestConverter_BlockWithBranch(t *testing.T) {
	sig := wasm.FunctionType{}
	c, err := NewConverter(sig, nil, &stubModule{})
	require.NoError(t, err)

	ops := feedAll(t, c, []wasm.RawOperator{
		{Opcode: wasm.OpcodeBlock, Block: wasm.BlockType{Kind: wasm.BlockKindValue, Value: wasm.ValueTypeI32}},
		{Opcode: wasm.OpcodeI32Const, ConstI32: 1},
		{Opcode: wasm.OpcodeBr, LabelIdx: 0},
		{Opcode: wasm.OpcodeEnd},
		{Opcode: wasm.OpcodeDrop},
		{Opcode: wasm.OpcodeEnd},
	})

	require.Equal(t, OperationKindDeclare, ops[0].Kind())
	foundBr := false
	for _, op := range ops {
		if end, ok := op.(OperationEnd); ok && !end.Targets.Default.Target.IsReturn {
			foundBr = true
		}
	}
	require.True(t, foundBr)
}

// loop: `loop (param) ... br 0 end`, exercising the header-label
// reconstruction and back-edge target.
func TestConverter_Loop(t *testing.T) {
	sig := wasm.FunctionType{}
	c, err := NewConverter(sig, nil, &stubModule{})
	require.NoError(t, err)

	ops := feedAll(t, c, []wasm.RawOperator{
		{Opcode: wasm.OpcodeLoop, Block: wasm.BlockType{Kind: wasm.BlockKindEmpty}},
		{Opcode: wasm.OpcodeBr, LabelIdx: 0},
		{Opcode: wasm.OpcodeEnd},
		{Opcode: wasm.OpcodeEnd},
	})
	require.NotEmpty(t, ops)
	require.Equal(t, OperationKindDeclare, ops[0].Kind())
	decl := ops[0].(OperationDeclare)
	require.Equal(t, NameTagHeader, decl.Label.Kind)
}

// ifElse: `if (result i32) i32.const 1 else i32.const 2 end`.
func TestConverter_IfElse(t *testing.T) {
	sig := wasm.FunctionType{}
	c, err := NewConverter(sig, nil, &stubModule{})
	require.NoError(t, err)

	ops := feedAll(t, c, []wasm.RawOperator{
		{Opcode: wasm.OpcodeI32Const, ConstI32: 1},
		{Opcode: wasm.OpcodeIf, Block: wasm.BlockType{Kind: wasm.BlockKindValue, Value: wasm.ValueTypeI32}},
		{Opcode: wasm.OpcodeI32Const, ConstI32: 1},
		{Opcode: wasm.OpcodeElse},
		{Opcode: wasm.OpcodeI32Const, ConstI32: 2},
		{Opcode: wasm.OpcodeEnd},
		{Opcode: wasm.OpcodeDrop},
		{Opcode: wasm.OpcodeEnd},
	})

	var kinds []OperationKind
	for _, op := range ops {
		kinds = append(kinds, op.Kind())
	}
	require.Contains(t, kinds, OperationKindStart)
}

func TestConverter_RejectsMultiValueReturn(t *testing.T) {
	sig := wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}}
	_, err := NewConverter(sig, nil, &stubModule{})
	require.Error(t, err)
	var merr *Error
	require.ErrorAs(t, err, &merr)
	require.Equal(t, KindInput, merr.Kind)
}
