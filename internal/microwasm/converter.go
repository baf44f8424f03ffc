package microwasm

import (
	"github.com/tetratelabs/microwasm/internal/wasm"
)

// Converter performs the single forward pass described for the Microwasm
// lowering stage: it consumes one decoded wasm.RawOperator at a time and
// returns the (possibly empty, possibly multi-instruction) sequence of flat
// Operations it lowers to. It never looks ahead in the byte stream; all of
// its state is the type stack, the open control-frame stack, and the
// unreachable flag.
type Converter struct {
	module wasm.ModuleContext

	stack  []SignlessType
	frames []*controlFrame

	nextID uint32

	unreachable      bool
	unreachableDepth int

	pendingLocalConsts []SignlessType
	started            bool

	numParams uint32
	fnResults []SignlessType
}

// NewConverter prepares a converter for a function with the given
// signature and declared locals (already expanded to one entry per local
// slot, not run-length encoded). Multi-result functions are rejected: this
// core does not support multi-value returns.
func NewConverter(sig wasm.FunctionType, locals []wasm.ValueType, module wasm.ModuleContext) (*Converter, error) {
	if len(sig.Results) > 1 {
		return nil, inputErrorf("function has %d results, multi-value returns are not supported", len(sig.Results))
	}

	c := &Converter{module: module, numParams: uint32(len(sig.Params))}
	for _, p := range sig.Params {
		c.stack = append(c.stack, toSignless(p))
	}
	for _, l := range locals {
		t := toSignless(l)
		c.stack = append(c.stack, t)
		c.pendingLocalConsts = append(c.pendingLocalConsts, t)
	}
	for _, r := range sig.Results {
		c.fnResults = append(c.fnResults, toSignless(r))
	}

	fn := &controlFrame{
		id:          c.nextID,
		kind:        frameFunction,
		arguments:   0,
		results:     uint32(len(c.fnResults)),
		entryHeight: uint32(len(c.stack)),
	}
	c.nextID++
	c.frames = append(c.frames, fn)

	return c, nil
}

func toSignless(v wasm.ValueType) SignlessType {
	switch v {
	case wasm.ValueTypeI32:
		return I32
	case wasm.ValueTypeI64:
		return I64
	case wasm.ValueTypeF32:
		return F32
	default:
		return F64
	}
}

func (c *Converter) top() *controlFrame { return c.frames[len(c.frames)-1] }

func (c *Converter) frameAt(labelIdx uint32) (*controlFrame, error) {
	if int(labelIdx) >= len(c.frames) {
		return nil, inputErrorf("branch depth %d exceeds nesting depth %d", labelIdx, len(c.frames)-1)
	}
	return c.frames[len(c.frames)-1-int(labelIdx)], nil
}

func (c *Converter) push(t SignlessType)   { c.stack = append(c.stack, t) }
func (c *Converter) depth() uint32          { return uint32(len(c.stack)) }

func (c *Converter) pop() (SignlessType, error) {
	if len(c.stack) == 0 {
		return 0, microwasmErrorf("type stack underflow")
	}
	t := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return t, nil
}

func (c *Converter) popExpect(want SignlessType) error {
	got, err := c.pop()
	if err != nil {
		return err
	}
	if got != want {
		return microwasmErrorf("expected %s on stack, found %s", want, got)
	}
	return nil
}

// toDrop computes the inclusive depth-from-top range of stack slots that
// must be discarded before branching out of frame, given that the operand
// stack may currently hold more values above the frame's entry height than
// its declared result count expects (reachable code never leaves extra
// values behind, but code reached only through an earlier br/unreachable
// is allowed to by Wasm's polymorphic-stack rule). A nil return means
// nothing needs dropping.
func (c *Converter) toDrop(frame *controlFrame) *InclusiveRange {
	inner := c.depth() - frame.entryHeight
	if inner <= frame.results {
		return nil
	}
	return &InclusiveRange{Start: frame.results, End: inner - 1}
}

func (c *Converter) declare(kind NameTag, frame *controlFrame, params uint32) ([]Operation, Label) {
	label := Label{FrameID: frame.id, Kind: kind}
	op := OperationDeclare{Label: label, Params: params, NumCallers: CallersZero}
	return []Operation{op}, label
}

// Feed consumes one decoded Wasm instruction and returns the Operations it
// lowers to, in emission order. Callers must stop feeding once the
// instruction that closes the function's own implicit block (reported by
// wasm.Reader as wasm.ErrEndOfBody) has been fed.
func (c *Converter) Feed(raw wasm.RawOperator) ([]Operation, error) {
	var prelude []Operation
	if !c.started {
		c.started = true
		for _, t := range c.pendingLocalConsts {
			prelude = append(prelude, OperationConst{Value: ZeroValue(t)})
		}
	}

	var ops []Operation
	var err error
	if c.unreachable {
		ops, err = c.feedUnreachable(raw)
	} else {
		ops, err = c.feedReachable(raw)
	}
	if err != nil {
		return nil, err
	}
	if len(prelude) == 0 {
		return ops, nil
	}
	return append(prelude, ops...), nil
}

// feedUnreachable implements the converter-level unreachable-skip: once
// unreachable has been set (by Unreachable, Br, BrTable or Return), control
// can never fall into the rest of the current frame's straight-line code,
// so the converter just counts nested block/loop/if depth without pushing
// control frames or emitting Declares, until it reaches the End/Else that
// closes the frame that went unreachable.
func (c *Converter) feedUnreachable(raw wasm.RawOperator) ([]Operation, error) {
	switch raw.Opcode {
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		c.unreachableDepth++
		return nil, nil

	case wasm.OpcodeElse:
		if c.unreachableDepth > 0 {
			return nil, nil
		}
		frame := c.top()
		c.stack = c.stack[:frame.entryHeight]
		frame.hasElse = true
		frame.elseDeclared = true
		frame.elseLabel = Label{FrameID: frame.id, Kind: NameTagElse}
		c.unreachable = false
		return []Operation{OperationStart{Label: frame.elseLabel}}, nil

	case wasm.OpcodeEnd:
		if c.unreachableDepth > 0 {
			c.unreachableDepth--
			return nil, nil
		}
		return c.endFrame()

	default:
		// Any other instruction inside dead code is simply dropped: it can
		// never execute and the converter never type-checks it.
		return nil, nil
	}
}

func (c *Converter) feedReachable(raw wasm.RawOperator) ([]Operation, error) {
	switch raw.Opcode {
	case wasm.OpcodeUnreachable:
		c.unreachable = true
		return []Operation{OperationUnreachable{}}, nil

	case wasm.OpcodeNop:
		return nil, nil

	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		return c.beginBlock(raw)

	case wasm.OpcodeElse:
		return c.doElse()

	case wasm.OpcodeEnd:
		return c.endFrame()

	case wasm.OpcodeBr:
		return c.branch(raw.LabelIdx)

	case wasm.OpcodeBrIf:
		return c.branchIf(raw.LabelIdx)

	case wasm.OpcodeBrTable:
		return c.branchTable(raw)

	case wasm.OpcodeReturn:
		return c.doReturn()

	case wasm.OpcodeCall:
		return c.call(raw.FuncIdx)

	case wasm.OpcodeCallIndirect:
		return c.callIndirect(raw.TypeIdx, raw.TableIdx)

	case wasm.OpcodeDrop:
		t, err := c.pop()
		if err != nil {
			return nil, err
		}
		_ = t
		return []Operation{OperationDrop{Range: InclusiveRange{Start: 0, End: 0}}}, nil

	case wasm.OpcodeSelect:
		if err := c.popExpect(I32); err != nil {
			return nil, err
		}
		b, err := c.pop()
		if err != nil {
			return nil, err
		}
		a, err := c.pop()
		if err != nil {
			return nil, err
		}
		if a != b {
			return nil, microwasmErrorf("select operands have different types: %s vs %s", a, b)
		}
		c.push(a)
		return []Operation{OperationSelect{}}, nil

	case wasm.OpcodeLocalGet:
		return c.localGet(raw.LocalIdx)
	case wasm.OpcodeLocalSet:
		return c.localSet(raw.LocalIdx)
	case wasm.OpcodeLocalTee:
		return c.localTee(raw.LocalIdx)

	case wasm.OpcodeGlobalGet:
		t, err := c.module.GlobalValueType(raw.GlobalIdx)
		if err != nil {
			return nil, inputErrorf("global.get: %v", err)
		}
		st := toSignless(t)
		c.push(st)
		return []Operation{OperationGlobalGet{GlobalIdx: raw.GlobalIdx, Type: st}}, nil

	case wasm.OpcodeGlobalSet:
		t, err := c.module.GlobalValueType(raw.GlobalIdx)
		if err != nil {
			return nil, inputErrorf("global.set: %v", err)
		}
		st := toSignless(t)
		if err := c.popExpect(st); err != nil {
			return nil, err
		}
		return []Operation{OperationGlobalSet{GlobalIdx: raw.GlobalIdx, Type: st}}, nil

	case wasm.OpcodeI32Const:
		c.push(I32)
		return []Operation{OperationConst{Value: ValueI32(raw.ConstI32)}}, nil
	case wasm.OpcodeI64Const:
		c.push(I64)
		return []Operation{OperationConst{Value: ValueI64(raw.ConstI64)}}, nil
	case wasm.OpcodeF32Const:
		c.push(F32)
		return []Operation{OperationConst{Value: ValueF32Bits(raw.ConstF32Bits)}}, nil
	case wasm.OpcodeF64Const:
		c.push(F64)
		return []Operation{OperationConst{Value: ValueF64Bits(raw.ConstF64Bits)}}, nil

	case wasm.OpcodeMemorySize:
		c.push(I32)
		return []Operation{OperationMemorySize{}}, nil
	case wasm.OpcodeMemoryGrow:
		if err := c.popExpect(I32); err != nil {
			return nil, err
		}
		c.push(I32)
		return []Operation{OperationMemoryGrow{}}, nil
	}

	if ops, handled, err := c.loadStore(raw); handled {
		return ops, err
	}
	if ops, handled, err := c.numeric(raw); handled {
		return ops, err
	}

	return nil, inputErrorf("unsupported opcode 0x%x", raw.Opcode)
}

func (c *Converter) beginBlock(raw wasm.RawOperator) ([]Operation, error) {
	params, results, err := c.blockSignature(raw.Block)
	if err != nil {
		return nil, err
	}
	for i := len(params) - 1; i >= 0; i-- {
		if err := c.popExpect(params[i]); err != nil {
			return nil, err
		}
	}

	frame := &controlFrame{
		id:          c.nextID,
		arguments:   uint32(len(params)),
		results:     uint32(len(results)),
		entryHeight: c.depth(),
		savedArgs:   params,
	}
	if len(results) > 0 {
		frame.resultType = results[0]
	}
	c.nextID++

	var ops []Operation
	switch raw.Opcode {
	case wasm.OpcodeBlock:
		frame.kind = frameBlock
		frame.endLabel = Label{FrameID: frame.id, Kind: NameTagEnd}
		frame.endDeclared = true
		// A plain block's end label may be reached both by a forward br out
		// of it and by falling off the end of its body, so the converter
		// can't statically bound its caller count to one.
		ops = append(ops, OperationDeclare{Label: frame.endLabel, Params: frame.results, NumCallers: CallersMany})

	case wasm.OpcodeLoop:
		frame.kind = frameLoop
		frame.headerLabel = Label{FrameID: frame.id, Kind: NameTagHeader}
		frame.endLabel = Label{FrameID: frame.id, Kind: NameTagEnd}
		frame.headerDeclared = true
		frame.endDeclared = true
		ops = append(ops,
			OperationDeclare{Label: frame.headerLabel, Params: frame.arguments, HasBackwardsCallers: true, NumCallers: CallersMany},
			OperationDeclare{Label: frame.endLabel, Params: frame.results, NumCallers: CallersMany},
			OperationConst{Value: ZeroValue(I32)},
			OperationEnd{Targets: Targets{Default: BrTargetDrop{Target: LabelTarget(frame.headerLabel)}}},
			OperationStart{Label: frame.headerLabel},
		)

	case wasm.OpcodeIf:
		if err := c.popExpect(I32); err != nil {
			return nil, err
		}
		frame.kind = frameIf
		frame.headerLabel = Label{FrameID: frame.id, Kind: NameTagHeader}
		frame.elseLabel = Label{FrameID: frame.id, Kind: NameTagElse}
		frame.endLabel = Label{FrameID: frame.id, Kind: NameTagEnd}
		frame.headerDeclared, frame.elseDeclared, frame.endDeclared = true, true, true
		ops = append(ops,
			// then/else each have exactly one caller: the if's own
			// conditional End below.
			OperationDeclare{Label: frame.headerLabel, Params: frame.arguments, NumCallers: CallersOne},
			OperationDeclare{Label: frame.elseLabel, Params: frame.arguments, NumCallers: CallersOne},
			OperationDeclare{Label: frame.endLabel, Params: frame.results, NumCallers: CallersMany},
			OperationEnd{Targets: Targets{
				Default: BrTargetDrop{Target: LabelTarget(frame.headerLabel)},
				List:    []BrTargetDrop{{Target: LabelTarget(frame.elseLabel)}},
			}},
			OperationStart{Label: frame.headerLabel},
		)
	}

	for _, p := range params {
		c.push(p)
	}
	c.frames = append(c.frames, frame)
	return ops, nil
}

func (c *Converter) blockSignature(bt wasm.BlockType) (params, results []SignlessType, err error) {
	switch bt.Kind {
	case wasm.BlockKindEmpty:
		return nil, nil, nil
	case wasm.BlockKindValue:
		return nil, []SignlessType{toSignless(bt.Value)}, nil
	default:
		sig, err := c.module.SignatureByTypeIndex(bt.TypeIdx)
		if err != nil {
			return nil, nil, inputErrorf("block type: %v", err)
		}
		if len(sig.Results) > 1 {
			return nil, nil, inputErrorf("block has %d results, multi-value returns are not supported", len(sig.Results))
		}
		for _, p := range sig.Params {
			params = append(params, toSignless(p))
		}
		for _, r := range sig.Results {
			results = append(results, toSignless(r))
		}
		return params, results, nil
	}
}

func (c *Converter) doElse() ([]Operation, error) {
	frame := c.top()
	if frame.kind != frameIf {
		return nil, inputErrorf("else without matching if")
	}
	drop := c.toDrop(frame)
	c.stack = c.stack[:frame.entryHeight]
	frame.hasElse = true

	var ops []Operation
	if drop != nil {
		ops = append(ops, OperationDrop{Range: *drop})
	}
	ops = append(ops,
		OperationConst{Value: ZeroValue(I32)},
		OperationEnd{Targets: Targets{Default: BrTargetDrop{Target: LabelTarget(frame.endLabel)}}},
		OperationStart{Label: frame.elseLabel},
	)

	c.stack = append(c.stack, frameArgTypes(frame)...)
	return ops, nil
}

// frameArgTypes returns a frame's argument types: nil when it takes no
// arguments (the common case for MVP/sign-extension bodies), otherwise the
// param types captured in savedArgs at beginBlock time.
func frameArgTypes(frame *controlFrame) []SignlessType {
	if frame.arguments == 0 {
		return nil
	}
	return frame.savedArgs
}

func (c *Converter) endFrame() ([]Operation, error) {
	frame := c.frames[len(c.frames)-1]

	if frame.kind == frameIf && !frame.hasElse {
		// An if without an else needs a trivial else that just forwards
		// control, so the end label always has exactly one physical
		// predecessor path through Start(Else).
		drop := c.toDrop(frame)
		c.stack = c.stack[:frame.entryHeight]
		var synth []Operation
		if drop != nil {
			synth = append(synth, OperationDrop{Range: *drop})
		}
		synth = append(synth,
			OperationConst{Value: ZeroValue(I32)},
			OperationEnd{Targets: Targets{Default: BrTargetDrop{Target: LabelTarget(frame.endLabel)}}},
			OperationStart{Label: frame.elseLabel},
		)
		c.stack = append(c.stack, frameArgTypes(frame)...)
		frame.hasElse = true
		more, err := c.endFrameBody(frame)
		if err != nil {
			return nil, err
		}
		return append(synth, more...), nil
	}

	return c.endFrameBody(frame)
}

func (c *Converter) endFrameBody(frame *controlFrame) ([]Operation, error) {
	drop := c.toDrop(frame)
	c.frames = c.frames[:len(c.frames)-1]

	var ops []Operation
	if drop != nil {
		ops = append(ops, OperationDrop{Range: *drop})
	}
	c.stack = c.stack[:frame.entryHeight]
	hasResult := frame.results > 0
	if hasResult && frame.kind == frameFunction {
		frame.resultType = c.fnResults[0]
	}

	if frame.kind == frameFunction {
		ops = append(ops,
			OperationConst{Value: ZeroValue(I32)},
			OperationEnd{Targets: Targets{Default: BrTargetDrop{Target: ReturnTarget()}}},
		)
		// The implicit function frame never needs a Start: translation of
		// this function body is complete once this Operation is returned.
	} else if frame.needsEndLabel() {
		ops = append(ops,
			OperationConst{Value: ZeroValue(I32)},
			OperationEnd{Targets: Targets{Default: BrTargetDrop{Target: LabelTarget(frame.endLabel)}}},
			OperationStart{Label: frame.endLabel},
		)
	}

	if hasResult {
		c.push(frame.resultType)
	}
	return ops, nil
}

func (c *Converter) branch(labelIdx uint32) ([]Operation, error) {
	target, err := c.frameAt(labelIdx)
	if err != nil {
		return nil, err
	}
	drop := c.toDrop(target)
	target.branchedTo = true
	c.unreachable = true
	c.unreachableDepth = 0

	var ops []Operation
	if drop != nil {
		ops = append(ops, OperationDrop{Range: *drop})
	}
	ops = append(ops,
		OperationConst{Value: ZeroValue(I32)},
		OperationEnd{Targets: Targets{Default: BrTargetDrop{Target: target.brTarget(), ToDrop: drop}}},
	)
	return ops, nil
}

func (c *Converter) branchIf(labelIdx uint32) ([]Operation, error) {
	if err := c.popExpect(I32); err != nil {
		return nil, err
	}
	target, err := c.frameAt(labelIdx)
	if err != nil {
		return nil, err
	}
	drop := c.toDrop(target)
	target.branchedTo = true

	internal := Label{FrameID: c.nextID, Kind: NameTagInternal}
	c.nextID++

	return []Operation{
		OperationDeclare{Label: internal, Params: 0, NumCallers: CallersOne},
		OperationEnd{Targets: Targets{
			Default: BrTargetDrop{Target: target.brTarget(), ToDrop: drop},
			List:    []BrTargetDrop{{Target: LabelTarget(internal)}},
		}},
		OperationStart{Label: internal},
	}, nil
}

func (c *Converter) branchTable(raw wasm.RawOperator) ([]Operation, error) {
	if err := c.popExpect(I32); err != nil {
		return nil, err
	}

	def, err := c.frameAt(raw.BrTableDefault)
	if err != nil {
		return nil, err
	}
	def.branchedTo = true
	defDrop := c.toDrop(def)

	list := make([]BrTargetDrop, 0, len(raw.BrTableTargets))
	for _, idx := range raw.BrTableTargets {
		f, err := c.frameAt(idx)
		if err != nil {
			return nil, err
		}
		f.branchedTo = true
		list = append(list, BrTargetDrop{Target: f.brTarget(), ToDrop: c.toDrop(f)})
	}

	c.unreachable = true
	c.unreachableDepth = 0

	return []Operation{
		OperationEnd{Targets: Targets{
			Default: BrTargetDrop{Target: def.brTarget(), ToDrop: defDrop},
			List:    list,
		}},
	}, nil
}

func (c *Converter) doReturn() ([]Operation, error) {
	fn := c.frames[0]
	drop := c.toDrop(fn)
	c.unreachable = true
	c.unreachableDepth = 0

	var ops []Operation
	if drop != nil {
		ops = append(ops, OperationDrop{Range: *drop})
	}
	ops = append(ops,
		OperationConst{Value: ZeroValue(I32)},
		OperationEnd{Targets: Targets{Default: BrTargetDrop{Target: ReturnTarget(), ToDrop: drop}}},
	)
	return ops, nil
}

func (c *Converter) call(funcIdx uint32) ([]Operation, error) {
	sig, err := c.module.TypeOfFunction(funcIdx)
	if err != nil {
		return nil, inputErrorf("call: %v", err)
	}
	return c.applyCallSignature(sig, OperationCall{FuncIdx: funcIdx})
}

func (c *Converter) callIndirect(typeIdx, tableIdx uint32) ([]Operation, error) {
	if err := c.popExpect(I32); err != nil {
		return nil, err
	}
	sig, err := c.module.SignatureByTypeIndex(typeIdx)
	if err != nil {
		return nil, inputErrorf("call_indirect: %v", err)
	}
	return c.applyCallSignature(sig, OperationCallIndirect{TypeIdx: typeIdx, TableIdx: tableIdx})
}

func (c *Converter) applyCallSignature(sig wasm.FunctionType, op Operation) ([]Operation, error) {
	if len(sig.Results) > 1 {
		return nil, inputErrorf("callee has %d results, multi-value returns are not supported", len(sig.Results))
	}
	params := make([]SignlessType, len(sig.Params))
	for i, p := range sig.Params {
		params[i] = toSignless(p)
	}
	for i := len(params) - 1; i >= 0; i-- {
		if err := c.popExpect(params[i]); err != nil {
			return nil, err
		}
	}
	var results []SignlessType
	for _, r := range sig.Results {
		st := toSignless(r)
		results = append(results, st)
		c.push(st)
	}
	switch o := op.(type) {
	case OperationCall:
		o.Params, o.Results = params, results
		return []Operation{o}, nil
	case OperationCallIndirect:
		o.Params, o.Results = params, results
		return []Operation{o}, nil
	}
	return []Operation{op}, nil
}

func (c *Converter) localGet(idx uint32) ([]Operation, error) {
	if idx >= uint32(len(c.stack)) {
		return nil, inputErrorf("local index %d out of range", idx)
	}
	depth := uint32(len(c.stack)) - 1 - idx
	t := c.stack[idx]
	c.push(t)
	return []Operation{OperationPick{Depth: depth}}, nil
}

func (c *Converter) localSet(idx uint32) ([]Operation, error) {
	if idx >= uint32(len(c.stack)) {
		return nil, inputErrorf("local index %d out of range", idx)
	}
	want := c.stack[idx]
	if err := c.popExpect(want); err != nil {
		return nil, err
	}
	depth := uint32(len(c.stack)) - idx
	return []Operation{
		OperationSwap{Depth: depth},
		OperationDrop{Range: InclusiveRange{Start: 0, End: 0}},
	}, nil
}

func (c *Converter) localTee(idx uint32) ([]Operation, error) {
	if idx >= uint32(len(c.stack)) {
		return nil, inputErrorf("local index %d out of range", idx)
	}
	want := c.stack[idx]
	top, err := c.pop()
	if err != nil {
		return nil, err
	}
	if top != want {
		return nil, microwasmErrorf("local.tee: expected %s, found %s", want, top)
	}
	c.push(top)
	depth := uint32(len(c.stack)) - idx
	return []Operation{
		OperationPick{Depth: 0},
		OperationSwap{Depth: depth},
		OperationDrop{Range: InclusiveRange{Start: 0, End: 0}},
	}, nil
}
