package microwasm

import "github.com/tetratelabs/microwasm/internal/wasm"

// numeric dispatches every opcode whose signature is some fixed arity of
// same-typed operands in, same- or boolean-typed operand out: the
// arithmetic, comparison and conversion opcodes. handled is false for any
// opcode this function doesn't recognize, so callers can fall through to
// report an unsupported-opcode error themselves.
func (c *Converter) numeric(raw wasm.RawOperator) (ops []Operation, handled bool, err error) {
	switch raw.Opcode {
	case wasm.OpcodeI32Add:
		return c.binary(I32, OperationIAdd{Type: I32})
	case wasm.OpcodeI32Sub:
		return c.binary(I32, OperationISub{Type: I32})
	case wasm.OpcodeI32Mul:
		return c.binary(I32, OperationIMul{Type: I32})
	case wasm.OpcodeI32DivS:
		return c.binary(I32, OperationIDivRem{Type: SignfulInt(I32, Signed), Op: DivOp})
	case wasm.OpcodeI32DivU:
		return c.binary(I32, OperationIDivRem{Type: SignfulInt(I32, Unsigned), Op: DivOp})
	case wasm.OpcodeI32RemS:
		return c.binary(I32, OperationIDivRem{Type: SignfulInt(I32, Signed), Op: RemOp})
	case wasm.OpcodeI32RemU:
		return c.binary(I32, OperationIDivRem{Type: SignfulInt(I32, Unsigned), Op: RemOp})
	case wasm.OpcodeI32And:
		return c.binary(I32, OperationIAnd{Type: I32})
	case wasm.OpcodeI32Or:
		return c.binary(I32, OperationIOr{Type: I32})
	case wasm.OpcodeI32Xor:
		return c.binary(I32, OperationIXor{Type: I32})
	case wasm.OpcodeI32Shl:
		return c.binary(I32, OperationIShl{Type: I32})
	case wasm.OpcodeI32ShrS:
		return c.binary(I32, OperationIShr{Type: SignfulInt(I32, Signed)})
	case wasm.OpcodeI32ShrU:
		return c.binary(I32, OperationIShr{Type: SignfulInt(I32, Unsigned)})
	case wasm.OpcodeI32Rotl:
		return c.binary(I32, OperationIRotl{Type: I32})
	case wasm.OpcodeI32Rotr:
		return c.binary(I32, OperationIRotr{Type: I32})
	case wasm.OpcodeI32Clz:
		return c.unary(I32, I32, OperationIClz{Type: I32})
	case wasm.OpcodeI32Ctz:
		return c.unary(I32, I32, OperationICtz{Type: I32})
	case wasm.OpcodeI32Popcnt:
		return c.unary(I32, I32, OperationIPopcnt{Type: I32})
	case wasm.OpcodeI32Eqz:
		return c.unary(I32, I32, OperationIEqz{Type: I32})

	case wasm.OpcodeI64Add:
		return c.binary(I64, OperationIAdd{Type: I64})
	case wasm.OpcodeI64Sub:
		return c.binary(I64, OperationISub{Type: I64})
	case wasm.OpcodeI64Mul:
		return c.binary(I64, OperationIMul{Type: I64})
	case wasm.OpcodeI64DivS:
		return c.binary(I64, OperationIDivRem{Type: SignfulInt(I64, Signed), Op: DivOp})
	case wasm.OpcodeI64DivU:
		return c.binary(I64, OperationIDivRem{Type: SignfulInt(I64, Unsigned), Op: DivOp})
	case wasm.OpcodeI64RemS:
		return c.binary(I64, OperationIDivRem{Type: SignfulInt(I64, Signed), Op: RemOp})
	case wasm.OpcodeI64RemU:
		return c.binary(I64, OperationIDivRem{Type: SignfulInt(I64, Unsigned), Op: RemOp})
	case wasm.OpcodeI64And:
		return c.binary(I64, OperationIAnd{Type: I64})
	case wasm.OpcodeI64Or:
		return c.binary(I64, OperationIOr{Type: I64})
	case wasm.OpcodeI64Xor:
		return c.binary(I64, OperationIXor{Type: I64})
	case wasm.OpcodeI64Shl:
		return c.binary(I64, OperationIShl{Type: I64})
	case wasm.OpcodeI64ShrS:
		return c.binary(I64, OperationIShr{Type: SignfulInt(I64, Signed)})
	case wasm.OpcodeI64ShrU:
		return c.binary(I64, OperationIShr{Type: SignfulInt(I64, Unsigned)})
	case wasm.OpcodeI64Rotl:
		return c.binary(I64, OperationIRotl{Type: I64})
	case wasm.OpcodeI64Rotr:
		return c.binary(I64, OperationIRotr{Type: I64})
	case wasm.OpcodeI64Clz:
		return c.unary(I64, I64, OperationIClz{Type: I64})
	case wasm.OpcodeI64Ctz:
		return c.unary(I64, I64, OperationICtz{Type: I64})
	case wasm.OpcodeI64Popcnt:
		return c.unary(I64, I64, OperationIPopcnt{Type: I64})
	case wasm.OpcodeI64Eqz:
		return c.unary(I64, I32, OperationIEqz{Type: I64})

	case wasm.OpcodeI32Eq:
		return c.cmp(I32, CmpEq, false)
	case wasm.OpcodeI32Ne:
		return c.cmp(I32, CmpNe, false)
	case wasm.OpcodeI32LtS:
		return c.icmpSigned(I32, CmpLt, Signed)
	case wasm.OpcodeI32LtU:
		return c.icmpSigned(I32, CmpLt, Unsigned)
	case wasm.OpcodeI32GtS:
		return c.icmpSigned(I32, CmpGt, Signed)
	case wasm.OpcodeI32GtU:
		return c.icmpSigned(I32, CmpGt, Unsigned)
	case wasm.OpcodeI32LeS:
		return c.icmpSigned(I32, CmpLe, Signed)
	case wasm.OpcodeI32LeU:
		return c.icmpSigned(I32, CmpLe, Unsigned)
	case wasm.OpcodeI32GeS:
		return c.icmpSigned(I32, CmpGe, Signed)
	case wasm.OpcodeI32GeU:
		return c.icmpSigned(I32, CmpGe, Unsigned)

	case wasm.OpcodeI64Eq:
		return c.cmp(I64, CmpEq, false)
	case wasm.OpcodeI64Ne:
		return c.cmp(I64, CmpNe, false)
	case wasm.OpcodeI64LtS:
		return c.icmpSigned(I64, CmpLt, Signed)
	case wasm.OpcodeI64LtU:
		return c.icmpSigned(I64, CmpLt, Unsigned)
	case wasm.OpcodeI64GtS:
		return c.icmpSigned(I64, CmpGt, Signed)
	case wasm.OpcodeI64GtU:
		return c.icmpSigned(I64, CmpGt, Unsigned)
	case wasm.OpcodeI64LeS:
		return c.icmpSigned(I64, CmpLe, Signed)
	case wasm.OpcodeI64LeU:
		return c.icmpSigned(I64, CmpLe, Unsigned)
	case wasm.OpcodeI64GeS:
		return c.icmpSigned(I64, CmpGe, Signed)
	case wasm.OpcodeI64GeU:
		return c.icmpSigned(I64, CmpGe, Unsigned)

	case wasm.OpcodeF32Eq:
		return c.cmp(F32, CmpEq, true)
	case wasm.OpcodeF32Ne:
		return c.cmp(F32, CmpNe, true)
	case wasm.OpcodeF32Lt:
		return c.cmp(F32, CmpLt, true)
	case wasm.OpcodeF32Gt:
		return c.cmp(F32, CmpGt, true)
	case wasm.OpcodeF32Le:
		return c.cmp(F32, CmpLe, true)
	case wasm.OpcodeF32Ge:
		return c.cmp(F32, CmpGe, true)

	case wasm.OpcodeF64Eq:
		return c.cmp(F64, CmpEq, true)
	case wasm.OpcodeF64Ne:
		return c.cmp(F64, CmpNe, true)
	case wasm.OpcodeF64Lt:
		return c.cmp(F64, CmpLt, true)
	case wasm.OpcodeF64Gt:
		return c.cmp(F64, CmpGt, true)
	case wasm.OpcodeF64Le:
		return c.cmp(F64, CmpLe, true)
	case wasm.OpcodeF64Ge:
		return c.cmp(F64, CmpGe, true)

	case wasm.OpcodeF32Add:
		return c.binary(F32, OperationFAdd{Type: F32})
	case wasm.OpcodeF32Sub:
		return c.binary(F32, OperationFSub{Type: F32})
	case wasm.OpcodeF32Mul:
		return c.binary(F32, OperationFMul{Type: F32})
	case wasm.OpcodeF32Div:
		return c.binary(F32, OperationFDiv{Type: F32})
	case wasm.OpcodeF32Min:
		return c.binary(F32, OperationFMin{Type: F32})
	case wasm.OpcodeF32Max:
		return c.binary(F32, OperationFMax{Type: F32})
	case wasm.OpcodeF32Copysign:
		return c.binary(F32, OperationFCopysign{Type: F32})
	case wasm.OpcodeF32Abs:
		return c.unary(F32, F32, OperationFAbs{Type: F32})
	case wasm.OpcodeF32Neg:
		return c.unary(F32, F32, OperationFNeg{Type: F32})
	case wasm.OpcodeF32Sqrt:
		return c.unary(F32, F32, OperationFSqrt{Type: F32})
	case wasm.OpcodeF32Ceil:
		return c.unary(F32, F32, OperationFCeil{Type: F32})
	case wasm.OpcodeF32Floor:
		return c.unary(F32, F32, OperationFFloor{Type: F32})
	case wasm.OpcodeF32Trunc:
		return c.unary(F32, F32, OperationFTrunc{Type: F32})
	case wasm.OpcodeF32Nearest:
		return c.unary(F32, F32, OperationFNearest{Type: F32})

	case wasm.OpcodeF64Add:
		return c.binary(F64, OperationFAdd{Type: F64})
	case wasm.OpcodeF64Sub:
		return c.binary(F64, OperationFSub{Type: F64})
	case wasm.OpcodeF64Mul:
		return c.binary(F64, OperationFMul{Type: F64})
	case wasm.OpcodeF64Div:
		return c.binary(F64, OperationFDiv{Type: F64})
	case wasm.OpcodeF64Min:
		return c.binary(F64, OperationFMin{Type: F64})
	case wasm.OpcodeF64Max:
		return c.binary(F64, OperationFMax{Type: F64})
	case wasm.OpcodeF64Copysign:
		return c.binary(F64, OperationFCopysign{Type: F64})
	case wasm.OpcodeF64Abs:
		return c.unary(F64, F64, OperationFAbs{Type: F64})
	case wasm.OpcodeF64Neg:
		return c.unary(F64, F64, OperationFNeg{Type: F64})
	case wasm.OpcodeF64Sqrt:
		return c.unary(F64, F64, OperationFSqrt{Type: F64})
	case wasm.OpcodeF64Ceil:
		return c.unary(F64, F64, OperationFCeil{Type: F64})
	case wasm.OpcodeF64Floor:
		return c.unary(F64, F64, OperationFFloor{Type: F64})
	case wasm.OpcodeF64Trunc:
		return c.unary(F64, F64, OperationFTrunc{Type: F64})
	case wasm.OpcodeF64Nearest:
		return c.unary(F64, F64, OperationFNearest{Type: F64})

	case wasm.OpcodeI32WrapI64:
		return c.unary(I64, I32, OperationI32WrapI64{})
	case wasm.OpcodeI64ExtendI32S:
		return c.unary(I32, I64, OperationIExtend{To: I64, FromBits: Size32, Sign: Signed})
	case wasm.OpcodeI64ExtendI32U:
		return c.unary(I32, I64, OperationIExtend{To: I64, FromBits: Size32, Sign: Unsigned})
	case wasm.OpcodeI32Extend8S:
		return c.unary(I32, I32, OperationIExtend{To: I32, FromBits: 8, Sign: Signed})
	case wasm.OpcodeI32Extend16S:
		return c.unary(I32, I32, OperationIExtend{To: I32, FromBits: 16, Sign: Signed})
	case wasm.OpcodeI64Extend8S:
		return c.unary(I64, I64, OperationIExtend{To: I64, FromBits: 8, Sign: Signed})
	case wasm.OpcodeI64Extend16S:
		return c.unary(I64, I64, OperationIExtend{To: I64, FromBits: 16, Sign: Signed})
	case wasm.OpcodeI64Extend32S:
		return c.unary(I64, I64, OperationIExtend{To: I64, FromBits: 32, Sign: Signed})

	case wasm.OpcodeI32TruncF32S:
		return c.unary(F32, I32, OperationITruncF{From: F32, To: SignfulInt(I32, Signed)})
	case wasm.OpcodeI32TruncF32U:
		return c.unary(F32, I32, OperationITruncF{From: F32, To: SignfulInt(I32, Unsigned)})
	case wasm.OpcodeI32TruncF64S:
		return c.unary(F64, I32, OperationITruncF{From: F64, To: SignfulInt(I32, Signed)})
	case wasm.OpcodeI32TruncF64U:
		return c.unary(F64, I32, OperationITruncF{From: F64, To: SignfulInt(I32, Unsigned)})
	case wasm.OpcodeI64TruncF32S:
		return c.unary(F32, I64, OperationITruncF{From: F32, To: SignfulInt(I64, Signed)})
	case wasm.OpcodeI64TruncF32U:
		return c.unary(F32, I64, OperationITruncF{From: F32, To: SignfulInt(I64, Unsigned)})
	case wasm.OpcodeI64TruncF64S:
		return c.unary(F64, I64, OperationITruncF{From: F64, To: SignfulInt(I64, Signed)})
	case wasm.OpcodeI64TruncF64U:
		return c.unary(F64, I64, OperationITruncF{From: F64, To: SignfulInt(I64, Unsigned)})

	case wasm.OpcodeF32ConvertI32S:
		return c.unary(I32, F32, OperationFConvertI{From: SignfulInt(I32, Signed), To: F32})
	case wasm.OpcodeF32ConvertI32U:
		return c.unary(I32, F32, OperationFConvertI{From: SignfulInt(I32, Unsigned), To: F32})
	case wasm.OpcodeF32ConvertI64S:
		return c.unary(I64, F32, OperationFConvertI{From: SignfulInt(I64, Signed), To: F32})
	case wasm.OpcodeF32ConvertI64U:
		return c.unary(I64, F32, OperationFConvertI{From: SignfulInt(I64, Unsigned), To: F32})
	case wasm.OpcodeF64ConvertI32S:
		return c.unary(I32, F64, OperationFConvertI{From: SignfulInt(I32, Signed), To: F64})
	case wasm.OpcodeF64ConvertI32U:
		return c.unary(I32, F64, OperationFConvertI{From: SignfulInt(I32, Unsigned), To: F64})
	case wasm.OpcodeF64ConvertI64S:
		return c.unary(I64, F64, OperationFConvertI{From: SignfulInt(I64, Signed), To: F64})
	case wasm.OpcodeF64ConvertI64U:
		return c.unary(I64, F64, OperationFConvertI{From: SignfulInt(I64, Unsigned), To: F64})

	case wasm.OpcodeF32DemoteF64:
		return c.unary(F64, F32, OperationF32DemoteF64{})
	case wasm.OpcodeF64PromoteF32:
		return c.unary(F32, F64, OperationF64PromoteF32{})

	case wasm.OpcodeI32ReinterpretF32:
		return c.unary(F32, I32, OperationIReinterpretF{From: F32, To: I32})
	case wasm.OpcodeI64ReinterpretF64:
		return c.unary(F64, I64, OperationIReinterpretF{From: F64, To: I64})
	case wasm.OpcodeF32ReinterpretI32:
		return c.unary(I32, F32, OperationFReinterpretI{From: I32, To: F32})
	case wasm.OpcodeF64ReinterpretI64:
		return c.unary(I64, F64, OperationFReinterpretI{From: I64, To: F64})
	}

	return nil, false, nil
}

func (c *Converter) binary(t SignlessType, op Operation) ([]Operation, bool, error) {
	if err := c.popExpect(t); err != nil {
		return nil, true, err
	}
	if err := c.popExpect(t); err != nil {
		return nil, true, err
	}
	c.push(t)
	return []Operation{op}, true, nil
}

func (c *Converter) unary(in, out SignlessType, op Operation) ([]Operation, bool, error) {
	if err := c.popExpect(in); err != nil {
		return nil, true, err
	}
	c.push(out)
	return []Operation{op}, true, nil
}

func (c *Converter) cmp(t SignlessType, op CmpOp, isFloat bool) ([]Operation, bool, error) {
	if err := c.popExpect(t); err != nil {
		return nil, true, err
	}
	if err := c.popExpect(t); err != nil {
		return nil, true, err
	}
	c.push(I32)
	if isFloat {
		return []Operation{OperationFCmp{Type: t, Op: op}}, true, nil
	}
	return []Operation{OperationICmp{Type: SignfulInt(t, Signed), Op: op}}, true, nil
}

func (c *Converter) icmpSigned(t SignlessType, op CmpOp, sign Signedness) ([]Operation, bool, error) {
	if err := c.popExpect(t); err != nil {
		return nil, true, err
	}
	if err := c.popExpect(t); err != nil {
		return nil, true, err
	}
	c.push(I32)
	return []Operation{OperationICmp{Type: SignfulInt(t, sign), Op: op}}, true, nil
}

// loadStore dispatches the load/store family, which all share a memory
// immediate (alignment + offset) and differ only in value type and
// optional narrowing/sign-extension.
func (c *Converter) loadStore(raw wasm.RawOperator) (ops []Operation, handled bool, err error) {
	access := func(t SignlessType, narrow Size, sign Signedness) MemoryAccess {
		return MemoryAccess{Type: t, NarrowTo: narrow, Sign: sign, Align: raw.Mem.Align, Offset: raw.Mem.Offset}
	}

	switch raw.Opcode {
	case wasm.OpcodeI32Load:
		return c.load(I32, access(I32, 0, Signed))
	case wasm.OpcodeI64Load:
		return c.load(I64, access(I64, 0, Signed))
	case wasm.OpcodeF32Load:
		return c.load(F32, access(F32, 0, Signed))
	case wasm.OpcodeF64Load:
		return c.load(F64, access(F64, 0, Signed))
	case wasm.OpcodeI32Load8S:
		return c.load(I32, access(I32, 8, Signed))
	case wasm.OpcodeI32Load8U:
		return c.load(I32, access(I32, 8, Unsigned))
	case wasm.OpcodeI32Load16S:
		return c.load(I32, access(I32, 16, Signed))
	case wasm.OpcodeI32Load16U:
		return c.load(I32, access(I32, 16, Unsigned))
	case wasm.OpcodeI64Load8S:
		return c.load(I64, access(I64, 8, Signed))
	case wasm.OpcodeI64Load8U:
		return c.load(I64, access(I64, 8, Unsigned))
	case wasm.OpcodeI64Load16S:
		return c.load(I64, access(I64, 16, Signed))
	case wasm.OpcodeI64Load16U:
		return c.load(I64, access(I64, 16, Unsigned))
	case wasm.OpcodeI64Load32S:
		return c.load(I64, access(I64, 32, Signed))
	case wasm.OpcodeI64Load32U:
		return c.load(I64, access(I64, 32, Unsigned))

	case wasm.OpcodeI32Store:
		return c.store(I32, access(I32, 0, Signed))
	case wasm.OpcodeI64Store:
		return c.store(I64, access(I64, 0, Signed))
	case wasm.OpcodeF32Store:
		return c.store(F32, access(F32, 0, Signed))
	case wasm.OpcodeF64Store:
		return c.store(F64, access(F64, 0, Signed))
	case wasm.OpcodeI32Store8:
		return c.store(I32, access(I32, 8, Signed))
	case wasm.OpcodeI32Store16:
		return c.store(I32, access(I32, 16, Signed))
	case wasm.OpcodeI64Store8:
		return c.store(I64, access(I64, 8, Signed))
	case wasm.OpcodeI64Store16:
		return c.store(I64, access(I64, 16, Signed))
	case wasm.OpcodeI64Store32:
		return c.store(I64, access(I64, 32, Signed))
	}
	return nil, false, nil
}

func (c *Converter) load(result SignlessType, access MemoryAccess) ([]Operation, bool, error) {
	if err := c.popExpect(I32); err != nil {
		return nil, true, err
	}
	c.push(result)
	return []Operation{OperationLoad{Access: access}}, true, nil
}

func (c *Converter) store(value SignlessType, access MemoryAccess) ([]Operation, bool, error) {
	if err := c.popExpect(value); err != nil {
		return nil, true, err
	}
	if err := c.popExpect(I32); err != nil {
		return nil, true, err
	}
	return []Operation{OperationStore{Access: access}}, true, nil
}
