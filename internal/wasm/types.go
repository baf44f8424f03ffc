// Package wasm defines the minimal Wasm module-level types and opcodes the
// microwasm converter needs from its "Module context" collaborator. It is
// not a validator or a general-purpose Wasm toolkit: only the MVP operator
// set plus sign-extension and truncation opcodes are represented, matching
// the scope of the core this module supports.
package wasm

// ValueType is one of the four Wasm MVP value types.
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c
)

func (v ValueType) String() string {
	switch v {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	default:
		return "unknown"
	}
}

// FunctionType is a Wasm function signature. The core rejects any
// FunctionType with more than one result (see spec.md §9).
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// BlockKind distinguishes the three shapes a structured block's type can take.
type BlockKind byte

const (
	// BlockKindEmpty means the block has no params and no results.
	BlockKindEmpty BlockKind = iota
	// BlockKindValue means the block has no params and a single result.
	BlockKindValue
	// BlockKindFuncType means the block's params/results come from a type
	// section entry.
	BlockKindFuncType
)

// BlockType describes the operand signature of a block/loop/if.
type BlockType struct {
	Kind     BlockKind
	Value    ValueType // valid when Kind == BlockKindValue
	TypeIdx  uint32    // valid when Kind == BlockKindFuncType
}

// MemArg is a load/store instruction's alignment and offset immediate.
type MemArg struct {
	Align  uint32
	Offset uint32
}
