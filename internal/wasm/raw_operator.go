package wasm

// RawOperator is one decoded Wasm instruction, still in structured
// (block/loop/if/br/br_table) form. It is the unit the Microwasm Converter
// consumes one at a time.
type RawOperator struct {
	Opcode Opcode

	// Block carries the operand signature for Block, Loop and If.
	Block BlockType

	// LabelIdx is the relative block depth operand of Br and BrIf.
	LabelIdx uint32

	// BrTableTargets and BrTableDefault are the relative block depths of a
	// BrTable instruction.
	BrTableTargets []uint32
	BrTableDefault uint32

	// FuncIdx is the callee of Call.
	FuncIdx uint32

	// TypeIdx and TableIdx are CallIndirect's signature and table operands.
	TypeIdx  uint32
	TableIdx uint32

	// LocalIdx is the operand of LocalGet/LocalSet/LocalTee.
	LocalIdx uint32

	// GlobalIdx is the operand of GlobalGet/GlobalSet.
	GlobalIdx uint32

	// Mem is the alignment/offset operand of a load or store.
	Mem MemArg

	// ConstI32/ConstI64/ConstF32Bits/ConstF64Bits carry the immediate of the
	// four XxxConst opcodes. Floats are stored as raw IEEE-754 bits, never
	// decoded to a Go float64, so NaN payloads survive exactly.
	ConstI32     int32
	ConstI64     int64
	ConstF32Bits uint32
	ConstF64Bits uint64
}
