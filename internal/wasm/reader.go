package wasm

import (
	"errors"
	"fmt"
	"io"
)

// ErrEndOfBody is returned by Reader.Next once the function body's End
// opcode closing the outermost implicit block has been consumed.
var ErrEndOfBody = errors.New("wasm: end of function body")

// Reader decodes a raw Wasm function body byte stream into RawOperators, one
// instruction at a time. It performs no validation beyond what decoding
// itself requires: depth tracking, type checking and the rest of spec.md's
// semantic rules belong to the Microwasm Converter that consumes it.
type Reader struct {
	buf []byte
	pos int

	// depth tracks nested Block/Loop/If so Next can report ErrEndOfBody only
	// for the End that matches the function's own implicit top-level block.
	depth int
}

// NewReader wraps the bytes of a single function body (the content between
// the local-declarations and the function's own closing End, inclusive of
// that End).
func NewReader(body []byte) *Reader {
	return &Reader{buf: body}
}

// Next decodes and returns the next instruction. It returns ErrEndOfBody
// after consuming the End that closes the function's implicit outermost
// block; callers must stop calling Next at that point.
func (r *Reader) Next() (RawOperator, error) {
	op, err := r.readByte()
	if err != nil {
		return RawOperator{}, fmt.Errorf("wasm: reading opcode: %w", err)
	}
	opcode := Opcode(op)

	raw := RawOperator{Opcode: opcode}
	switch opcode {
	case OpcodeUnreachable, OpcodeNop, OpcodeElse, OpcodeReturn,
		OpcodeDrop, OpcodeSelect,
		OpcodeMemorySize, OpcodeMemoryGrow,
		OpcodeI32Eqz, OpcodeI32Eq, OpcodeI32Ne, OpcodeI32LtS, OpcodeI32LtU,
		OpcodeI32GtS, OpcodeI32GtU, OpcodeI32LeS, OpcodeI32LeU, OpcodeI32GeS, OpcodeI32GeU,
		OpcodeI64Eqz, OpcodeI64Eq, OpcodeI64Ne, OpcodeI64LtS, OpcodeI64LtU,
		OpcodeI64GtS, OpcodeI64GtU, OpcodeI64LeS, OpcodeI64LeU, OpcodeI64GeS, OpcodeI64GeU,
		OpcodeF32Eq, OpcodeF32Ne, OpcodeF32Lt, OpcodeF32Gt, OpcodeF32Le, OpcodeF32Ge,
		OpcodeF64Eq, OpcodeF64Ne, OpcodeF64Lt, OpcodeF64Gt, OpcodeF64Le, OpcodeF64Ge,
		OpcodeI32Clz, OpcodeI32Ctz, OpcodeI32Popcnt, OpcodeI32Add, OpcodeI32Sub, OpcodeI32Mul,
		OpcodeI32DivS, OpcodeI32DivU, OpcodeI32RemS, OpcodeI32RemU,
		OpcodeI32And, OpcodeI32Or, OpcodeI32Xor, OpcodeI32Shl, OpcodeI32ShrS, OpcodeI32ShrU,
		OpcodeI32Rotl, OpcodeI32Rotr,
		OpcodeI64Clz, OpcodeI64Ctz, OpcodeI64Popcnt, OpcodeI64Add, OpcodeI64Sub, OpcodeI64Mul,
		OpcodeI64DivS, OpcodeI64DivU, OpcodeI64RemS, OpcodeI64RemU,
		OpcodeI64And, OpcodeI64Or, OpcodeI64Xor, OpcodeI64Shl, OpcodeI64ShrS, OpcodeI64ShrU,
		OpcodeI64Rotl, OpcodeI64Rotr,
		OpcodeF32Abs, OpcodeF32Neg, OpcodeF32Ceil, OpcodeF32Floor, OpcodeF32Trunc,
		OpcodeF32Nearest, OpcodeF32Sqrt, OpcodeF32Add, OpcodeF32Sub, OpcodeF32Mul,
		OpcodeF32Div, OpcodeF32Min, OpcodeF32Max, OpcodeF32Copysign,
		OpcodeF64Abs, OpcodeF64Neg, OpcodeF64Ceil, OpcodeF64Floor, OpcodeF64Trunc,
		OpcodeF64Nearest, OpcodeF64Sqrt, OpcodeF64Add, OpcodeF64Sub, OpcodeF64Mul,
		OpcodeF64Div, OpcodeF64Min, OpcodeF64Max, OpcodeF64Copysign,
		OpcodeI32WrapI64,
		OpcodeI32TruncF32S, OpcodeI32TruncF32U, OpcodeI32TruncF64S, OpcodeI32TruncF64U,
		OpcodeI64ExtendI32S, OpcodeI64ExtendI32U,
		OpcodeI64TruncF32S, OpcodeI64TruncF32U, OpcodeI64TruncF64S, OpcodeI64TruncF64U,
		OpcodeF32ConvertI32S, OpcodeF32ConvertI32U, OpcodeF32ConvertI64S, OpcodeF32ConvertI64U,
		OpcodeF32DemoteF64,
		OpcodeF64ConvertI32S, OpcodeF64ConvertI32U, OpcodeF64ConvertI64S, OpcodeF64ConvertI64U,
		OpcodeF64PromoteF32,
		OpcodeI32ReinterpretF32, OpcodeI64ReinterpretF64,
		OpcodeF32ReinterpretI32, OpcodeF64ReinterpretI64,
		OpcodeI32Extend8S, OpcodeI32Extend16S,
		OpcodeI64Extend8S, OpcodeI64Extend16S, OpcodeI64Extend32S:
		// No immediate operands.

	case OpcodeBlock, OpcodeLoop, OpcodeIf:
		bt, err := r.readBlockType()
		if err != nil {
			return RawOperator{}, err
		}
		raw.Block = bt
		r.depth++

	case OpcodeEnd:
		if r.depth == 0 {
			raw.Opcode = opcode
			return raw, ErrEndOfBody
		}
		r.depth--

	case OpcodeBr, OpcodeBrIf:
		idx, err := r.readVarU32()
		if err != nil {
			return RawOperator{}, err
		}
		raw.LabelIdx = idx

	case OpcodeBrTable:
		count, err := r.readVarU32()
		if err != nil {
			return RawOperator{}, err
		}
		targets := make([]uint32, count)
		for i := range targets {
			t, err := r.readVarU32()
			if err != nil {
				return RawOperator{}, err
			}
			targets[i] = t
		}
		def, err := r.readVarU32()
		if err != nil {
			return RawOperator{}, err
		}
		raw.BrTableTargets = targets
		raw.BrTableDefault = def

	case OpcodeCall:
		idx, err := r.readVarU32()
		if err != nil {
			return RawOperator{}, err
		}
		raw.FuncIdx = idx

	case OpcodeCallIndirect:
		typeIdx, err := r.readVarU32()
		if err != nil {
			return RawOperator{}, err
		}
		tableIdx, err := r.readVarU32()
		if err != nil {
			return RawOperator{}, err
		}
		raw.TypeIdx = typeIdx
		raw.TableIdx = tableIdx

	case OpcodeLocalGet, OpcodeLocalSet, OpcodeLocalTee:
		idx, err := r.readVarU32()
		if err != nil {
			return RawOperator{}, err
		}
		raw.LocalIdx = idx

	case OpcodeGlobalGet, OpcodeGlobalSet:
		idx, err := r.readVarU32()
		if err != nil {
			return RawOperator{}, err
		}
		raw.GlobalIdx = idx

	case OpcodeI32Load, OpcodeI64Load, OpcodeF32Load, OpcodeF64Load,
		OpcodeI32Load8S, OpcodeI32Load8U, OpcodeI32Load16S, OpcodeI32Load16U,
		OpcodeI64Load8S, OpcodeI64Load8U, OpcodeI64Load16S, OpcodeI64Load16U,
		OpcodeI64Load32S, OpcodeI64Load32U,
		OpcodeI32Store, OpcodeI64Store, OpcodeF32Store, OpcodeF64Store,
		OpcodeI32Store8, OpcodeI32Store16, OpcodeI64Store8, OpcodeI64Store16, OpcodeI64Store32:
		mem, err := r.readMemArg()
		if err != nil {
			return RawOperator{}, err
		}
		raw.Mem = mem

	case OpcodeI32Const:
		v, err := r.readVarI32()
		if err != nil {
			return RawOperator{}, err
		}
		raw.ConstI32 = v

	case OpcodeI64Const:
		v, err := r.readVarI64()
		if err != nil {
			return RawOperator{}, err
		}
		raw.ConstI64 = v

	case OpcodeF32Const:
		bits, err := r.readU32LE()
		if err != nil {
			return RawOperator{}, err
		}
		raw.ConstF32Bits = bits

	case OpcodeF64Const:
		bits, err := r.readU64LE()
		if err != nil {
			return RawOperator{}, err
		}
		raw.ConstF64Bits = bits

	case OpcodeMiscPrefix:
		return RawOperator{}, fmt.Errorf("wasm: misc-prefixed opcodes (saturating truncation) are not supported")

	default:
		return RawOperator{}, fmt.Errorf("wasm: unsupported opcode 0x%02x", op)
	}

	return raw, nil
}

func (r *Reader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *Reader) readBlockType() (BlockType, error) {
	b, err := r.readByte()
	if err != nil {
		return BlockType{}, err
	}
	switch b {
	case 0x40:
		return BlockType{Kind: BlockKindEmpty}, nil
	case byte(ValueTypeI32), byte(ValueTypeI64), byte(ValueTypeF32), byte(ValueTypeF64):
		return BlockType{Kind: BlockKindValue, Value: ValueType(b)}, nil
	default:
		// Multi-value block type: a signed LEB128 "s33" type index. b was
		// its first byte; rewind so readVarI64 decodes from the start.
		r.pos--
		v, err := r.readVarI64()
		if err != nil {
			return BlockType{}, err
		}
		if v < 0 {
			return BlockType{}, fmt.Errorf("wasm: negative type index in block type")
		}
		return BlockType{Kind: BlockKindFuncType, TypeIdx: uint32(v)}, nil
	}
}

func (r *Reader) readMemArg() (MemArg, error) {
	align, err := r.readVarU32()
	if err != nil {
		return MemArg{}, err
	}
	offset, err := r.readVarU32()
	if err != nil {
		return MemArg{}, err
	}
	return MemArg{Align: align, Offset: offset}, nil
}

func (r *Reader) readVarU32() (uint32, error) {
	v, err := r.readVarU64()
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func (r *Reader) readVarU64() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.readByte()
		if err != nil {
			return 0, fmt.Errorf("wasm: decoding unsigned LEB128: %w", err)
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, fmt.Errorf("wasm: unsigned LEB128 too long")
		}
	}
}

func (r *Reader) readVarI32() (int32, error) {
	v, err := r.readVarI64()
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

func (r *Reader) readVarI64() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.readByte()
		if err != nil {
			return 0, fmt.Errorf("wasm: decoding signed LEB128: %w", err)
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
		if shift >= 64 {
			return 0, fmt.Errorf("wasm: signed LEB128 too long")
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

func (r *Reader) readU32LE() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+4]
	r.pos += 4
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (r *Reader) readU64LE() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.buf[r.pos : r.pos+8]
	r.pos += 8
	lo := uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24
	hi := uint64(b[4]) | uint64(b[5])<<8 | uint64(b[6])<<16 | uint64(b[7])<<24
	return lo | hi<<32, nil
}
