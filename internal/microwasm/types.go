// Package microwasm implements the flat, label-based IR the converter
// lowers structured Wasm control flow into, and the converter itself. It
// mirrors the data model described for Vurich/wasmtime's lightbeam crate:
// Microwasm has no nested blocks, only declared labels and branches to
// them, so a single forward pass can drive code generation.
package microwasm

import "fmt"

// Size is an operand's bit width, independent of its interpretation as
// signed, unsigned or float.
type Size byte

const (
	Size32 Size = 32
	Size64 Size = 64
)

// Signedness distinguishes the two interpretations of an integer operand
// that an operator cares about (loads/stores/divides/shifts/comparisons;
// addition and multiplication are signedness-agnostic at the bit level and
// are tagged Signless).
type Signedness byte

const (
	Signed Signedness = iota
	Unsigned
)

// SignlessType is a value's storage class without a signedness tag: I32/I64
// cover both signed and unsigned interpretations, F32/F64 are floats.
type SignlessType byte

const (
	I32 SignlessType = iota
	I64
	F32
	F64
)

func (t SignlessType) String() string {
	switch t {
	case I32:
		return "i32"
	case I64:
		return "i64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return "invalid"
	}
}

func (t SignlessType) Size() Size {
	switch t {
	case I32, F32:
		return Size32
	default:
		return Size64
	}
}

func (t SignlessType) IsFloat() bool { return t == F32 || t == F64 }

// SignfulType pairs an integer SignlessType with a Signedness; it is only
// meaningful for I32/I64 and is used by operators whose backend primitive
// differs by sign (div, rem, shr, the comparisons, the loads/stores that
// narrow or sign-extend).
type SignfulType struct {
	Type SignlessType
	Sign Signedness
}

func SignfulInt(t SignlessType, s Signedness) SignfulType { return SignfulType{Type: t, Sign: s} }

func (t SignfulType) String() string {
	if t.Sign == Signed {
		return "s" + t.Type.String()[1:]
	}
	return "u" + t.Type.String()[1:]
}

// Value is a constant operand with its raw bit pattern preserved, so NaN
// payloads and signalling bits survive a Pick/Const round trip exactly.
type Value struct {
	Type SignlessType
	bits uint64
}

func ValueI32(v int32) Value { return Value{Type: I32, bits: uint64(uint32(v))} }
func ValueI64(v int64) Value { return Value{Type: I64, bits: uint64(v)} }
func ValueF32Bits(bits uint32) Value { return Value{Type: F32, bits: uint64(bits)} }
func ValueF64Bits(bits uint64) Value { return Value{Type: F64, bits: bits} }

// ZeroValue is the default value of a local that was never explicitly
// initialized: zero bits, regardless of type.
func ZeroValue(t SignlessType) Value { return Value{Type: t} }

func (v Value) AsI32() int32 { return int32(uint32(v.bits)) }
func (v Value) AsI64() int64 { return int64(v.bits) }
func (v Value) AsF32Bits() uint32 { return uint32(v.bits) }
func (v Value) AsF64Bits() uint64 { return v.bits }

// AsBits returns the value's raw storage regardless of type, matching
// lightbeam's Value::as_bytes: callers that only need a bit pattern (a
// constant-emission backend call, for instance) never need to branch on
// Type first.
func (v Value) AsBits() uint64 { return v.bits }

func (v Value) String() string {
	switch v.Type {
	case I32:
		return fmt.Sprintf("i32.const %d", v.AsI32())
	case I64:
		return fmt.Sprintf("i64.const %d", v.AsI64())
	case F32:
		return fmt.Sprintf("f32.const 0x%08x", v.AsF32Bits())
	default:
		return fmt.Sprintf("f64.const 0x%016x", v.AsF64Bits())
	}
}

// NameTag distinguishes the several labels a single Wasm structured-control
// construct can produce (an `if` declares both an Else and an End label,
// for instance).
type NameTag byte

const (
	NameTagHeader NameTag = iota
	NameTagElse
	NameTagEnd
	NameTagInternal
)

// Label identifies a declared Microwasm block. Kind/FrameID pairs an
// originating Wasm control-frame id with the flavor of label wanted from
// it. Internal labels are minted both by the converter (br_if's fall-through
// continuation, numbered from its own frame-id counter) and by the driver
// (adaptor blocks, numbered so as not to clash with any label still in its
// block table).
type Label struct {
	FrameID uint32
	Kind    NameTag
}

func (l Label) String() string {
	switch l.Kind {
	case NameTagHeader:
		return fmt.Sprintf("L%d", l.FrameID)
	case NameTagElse:
		return fmt.Sprintf("L%d_else", l.FrameID)
	case NameTagEnd:
		return fmt.Sprintf("L%d_end", l.FrameID)
	default:
		return fmt.Sprintf("L%d_internal", l.FrameID)
	}
}

// BrTarget is either the function's implicit return or a declared label.
type BrTarget struct {
	IsReturn bool
	Label    Label
}

func ReturnTarget() BrTarget           { return BrTarget{IsReturn: true} }
func LabelTarget(l Label) BrTarget     { return BrTarget{Label: l} }

func (t BrTarget) String() string {
	if t.IsReturn {
		return "Return"
	}
	return t.Label.String()
}

// InclusiveRange is a closed [Start, End] range of type-stack depths to
// drop, matching to_drop's RangeInclusive<u32>.
type InclusiveRange struct {
	Start, End uint32
}

// Count is the number of depths the range covers.
func (r InclusiveRange) Count() uint32 { return r.End - r.Start + 1 }

// BrTargetDrop is a branch target together with the stack range that must
// be dropped before jumping to it (nil ToDrop means nothing to drop).
type BrTargetDrop struct {
	Target BrTarget
	ToDrop *InclusiveRange
}

// Targets is a multi-way branch's target list plus its default arm, as
// produced by BrTable (and, degenerately, by Br/BrIf/Return with a single
// target).
type Targets struct {
	List    []BrTargetDrop
	Default BrTargetDrop
}

// NumCallers is a saturating counter: {Zero, One, Many}. It exists so the
// block table never has to keep an exact caller count, only the three
// states reconciliation actually branches on.
type NumCallers byte

const (
	CallersZero NumCallers = iota
	CallersOne
	CallersMany
)

func (n NumCallers) IsZero() bool { return n == CallersZero }
func (n NumCallers) IsMany() bool { return n == CallersMany }

// Incremented returns the next saturating state without mutating n.
func (n NumCallers) Incremented() NumCallers {
	switch n {
	case CallersZero:
		return CallersOne
	default:
		return CallersMany
	}
}

// Inc saturates n itself up by one caller.
func (n *NumCallers) Inc() { *n = n.Incremented() }
