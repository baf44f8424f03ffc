package microwasm

// controlFrameKind is Wasm's own four shapes of structured control: a
// plain block, a loop (whose branch target is its header, not its end), an
// if/else, and the implicit function-level block every body opens with.
type controlFrameKind byte

const (
	frameBlock controlFrameKind = iota
	frameLoop
	frameIf
	frameFunction
)

// controlFrame is the converter's model of one open structured-control
// construct. It never survives into Microwasm itself: its only job is to
// let the converter compute to-drop ranges and pick the right branch target
// for br/br_if/end as it walks a linear Wasm opcode stream.
type controlFrame struct {
	id   uint32
	kind controlFrameKind

	// arguments is the number of operand values this construct consumes
	// from the enclosing stack when entered (the block-type's params).
	arguments uint32
	// results is 0 or 1: how many values the construct leaves behind when
	// it completes normally. Multi-value block results are not supported.
	results uint32

	// entryHeight is the type-stack height right after arguments were
	// accounted for, i.e. the height "owned" by code enclosing this frame.
	entryHeight uint32

	// savedArgs and resultType record the block-type's param/result types,
	// since entryHeight alone isn't enough to recover them (the converter
	// doesn't keep a separate per-frame operand log).
	savedArgs  []SignlessType
	resultType SignlessType

	// label identifiers, lazily filled in as the converter declares them.
	headerDeclared bool
	headerLabel    Label
	endDeclared    bool
	endLabel       Label
	elseDeclared   bool
	elseLabel      Label
	hasElse        bool

	branchedTo bool
}

// brTarget is the label a br/br_if naming this frame should jump to: a
// loop's own header (so the branch re-enters the loop), everything else's
// end, and the function frame's implicit Return.
func (f *controlFrame) brTarget() BrTarget {
	switch f.kind {
	case frameLoop:
		return LabelTarget(f.headerLabel)
	case frameFunction:
		return ReturnTarget()
	default:
		return LabelTarget(f.endLabel)
	}
}

func (f *controlFrame) needsEndLabel() bool {
	return f.kind != frameFunction
}
