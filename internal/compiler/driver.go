package compiler

import "github.com/tetratelabs/microwasm/internal/microwasm"

// Driver is the Translation Driver (spec.md §4.2): it walks a Microwasm
// operator stream exactly once, in order, keeping a block table and an
// abstract machine state (owned by Backend) in sync with it, and emits
// straight-line code through Backend as it goes.
type Driver struct {
	backend Backend
	table   *blockTable
	sinks   Sinks

	// adaptorQueue holds synthetic operations produced by reconcile's
	// adaptor-block insertion; they are spliced in ahead of whatever is
	// still queued so they are drained before the next real operator is
	// processed (spec.md §4.2, §5).
	adaptorQueue []microwasm.Operation

	// queue holds operators that have been fed to Translate but not yet
	// dispatched: the driver always holds back the last queued operator
	// until either more arrive or Finish forces it out, so that dispatching
	// an operator can first peek at its immediate successor (spec.md
	// §4.2's "peek-ahead fall-through") and mark the successor's target
	// block is_next before that operator's own reconciliation runs.
	queue []microwasm.Operation

	// skipping is true while Start is skipping the body of a block with
	// zero actual callers (spec.md §4.2's Start handling). While it is set,
	// every operator except nested Declares and the matching
	// End/Unreachable is ignored; skipDepth counts the Starts nested inside
	// the skipped region, so only an End at skipDepth 0 ends the skip.
	skipDepth   int
	skipping    bool
	nextInterID uint32
}

// Sinks bundles the optional side-channel outputs (spec.md §4.4, §6): an
// operator/offset map for diagnostics and a disassembly formatter. Both are
// no-ops by default.
type Sinks struct {
	Offsets     OffsetSink
	Disassembly DisassemblySink
}

// OffsetSink records the machine offset at which each operator was
// compiled, for diagnostic tooling (spec.md §6's operator-offset map).
type OffsetSink interface {
	Record(offset uint64, formatted string)
}

// DisassemblySink receives a textual form of each compiled operator.
type DisassemblySink interface {
	Emit(op microwasm.Operation)
}

type noopOffsetSink struct{}

func (noopOffsetSink) Record(uint64, string) {}

type noopDisassemblySink struct{}

func (noopDisassemblySink) Emit(microwasm.Operation) {}

// NewDriver prepares a driver for one function body. returnConvention is
// the calling convention the function's own Return target expects
// (typically ReturnLocations applied to the function's result types).
func NewDriver(backend Backend, returnConvention CallingConvention, sinks Sinks) *Driver {
	if sinks.Offsets == nil {
		sinks.Offsets = noopOffsetSink{}
	}
	if sinks.Disassembly == nil {
		sinks.Disassembly = noopDisassemblySink{}
	}
	return &Driver{
		backend: backend,
		table:   newBlockTable(backend, returnConvention),
		sinks:   sinks,
	}
}

func (d *Driver) nextInternalID() uint32 {
	for {
		d.nextInterID++
		label := microwasm.Label{FrameID: d.nextInterID, Kind: microwasm.NameTagInternal}
		if _, taken := d.table.get(microwasm.LabelTarget(label)); !taken {
			return d.nextInterID
		}
	}
}

// Translate feeds one batch of Operations (as returned by one
// microwasm.Converter.Feed call) through the driver. Operators are buffered
// one deep so that dispatch can always peek at the true next operator
// (which may not arrive until a later Translate call, or an adaptor
// reconcile splices in); call Finish once the Converter has produced its
// final batch to flush that last buffered operator.
func (d *Driver) Translate(ops []microwasm.Operation) error {
	d.queue = append(d.queue, ops...)
	return d.drain(false)
}

// Finish flushes the driver's one-operator lookahead buffer. It must be
// called exactly once, after the last Translate call for a function body,
// before inspecting any Backend state the driver was driving.
func (d *Driver) Finish() error {
	return d.drain(true)
}

// drain dispatches every operator in d.queue except the last, which is
// held back (unless final) so the next call can peek at it before it is
// dispatched. Adaptor operations reconcile enqueues are spliced in ahead of
// whatever is still queued, preserving the "drained before the next real
// operator" ordering spec.md §4.2/§5 requires.
func (d *Driver) drain(final bool) error {
	for {
		if len(d.queue) == 0 || (len(d.queue) == 1 && !final) {
			return nil
		}
		op := d.queue[0]
		if len(d.queue) > 1 {
			if s, ok := d.queue[1].(microwasm.OperationStart); ok {
				if err := d.markIsNext(s.Label); err != nil {
					return err
				}
			}
		}
		d.queue = d.queue[1:]
		if err := d.driveOne(op); err != nil {
			return err
		}
		if len(d.adaptorQueue) > 0 {
			d.queue = append(d.adaptorQueue, d.queue...)
			d.adaptorQueue = nil
		}
	}
}

// markIsNext flags label's block as the immediate successor of the
// operator about to be dispatched, so a reconcile or Start processed right
// before it can tell a fall-through edge from a real jump (spec.md §4.2's
// peek-ahead, §4.3 step 6). The label must already be in the table: every
// Start is required to follow its Declare (spec.md §3's invariant), and
// Declare is always registered even for operators inside a skipped
// unreachable region (spec.md §4.2's Start handling).
func (d *Driver) markIsNext(label microwasm.Label) error {
	b, ok := d.table.get(microwasm.LabelTarget(label))
	if !ok {
		return structuralErrorf("label %s defined before being declared", microwasm.LabelTarget(label))
	}
	b.isNext = true
	return nil
}

// driveOne dispatches a single operator, recording it in the offset and
// disassembly sinks first unless it falls inside a skipped unreachable
// block: spec.md §8's idempotent-skip property requires that skipped
// operators never reach those sinks, while surrounding ones still do.
func (d *Driver) driveOne(op microwasm.Operation) error {
	if d.skipping {
		return d.driveSkipping(op)
	}
	offset := d.backend.Offset()
	d.sinks.Offsets.Record(offset, microwasm.FormatOp(op))
	d.sinks.Disassembly.Emit(op)

	switch o := op.(type) {
	case microwasm.OperationDeclare:
		d.table.declare(o)
		return nil
	case microwasm.OperationStart:
		return d.start(o.Label)
	case microwasm.OperationEnd:
		return d.reconcile(o)
	case microwasm.OperationUnreachable:
		return d.backend.Trap("unreachable")
	case microwasm.OperationConst:
		return d.backend.CompileConst(o.Value)
	case microwasm.OperationDrop:
		return d.backend.CompileDrop(o.Range)
	case microwasm.OperationSelect:
		return d.backend.CompileSelect()
	case microwasm.OperationPick:
		return d.backend.CompilePick(o.Depth)
	case microwasm.OperationSwap:
		return d.backend.CompileSwap(o.Depth)
	case microwasm.OperationGlobalGet:
		return d.backend.CompileGlobalGet(o.GlobalIdx, o.Type)
	case microwasm.OperationGlobalSet:
		return d.backend.CompileGlobalSet(o.GlobalIdx, o.Type)
	case microwasm.OperationLoad:
		return d.backend.CompileLoad(o.Access)
	case microwasm.OperationStore:
		return d.backend.CompileStore(o.Access)
	case microwasm.OperationMemorySize:
		return d.backend.CompileMemorySize()
	case microwasm.OperationMemoryGrow:
		return d.backend.CompileMemoryGrow()
	case microwasm.OperationCall:
		return d.backend.CompileCall(o)
	case microwasm.OperationCallIndirect:
		return d.backend.CompileCallIndirect(o)
	case microwasm.OperationLocalGet:
		return structuralErrorf("local.get reached the driver unlowered")
	default:
		return d.backend.CompileNumeric(op)
	}
}

// start implements spec.md §4.2's Start handling: a block with zero actual
// callers is dead code the converter emitted speculatively, so the driver
// skips its body entirely rather than defining its label. Any preceding
// End naming this label as a fall-through target already bumped
// actualNumCallers via accountCaller before this runs, so this checks the
// real counter directly, not the is_next-adjusted one — is_next itself is
// reset here since it only describes the edge that led into this Start.
func (d *Driver) start(label microwasm.Label) error {
	target := microwasm.LabelTarget(label)
	b, ok := d.table.get(target)
	if !ok {
		return structuralErrorf("start of undeclared label %s", target)
	}
	if b.alreadyEmitted {
		return structuralErrorf("label %s started twice", target)
	}
	b.isNext = false

	if b.actualNumCallers.IsZero() {
		if b.convention != nil {
			return structuralErrorf("block %s marked unreachable but has already been jumped to", target)
		}
		d.skipping = true
		d.skipDepth = 0
		return nil
	}

	if b.convention == nil {
		return structuralErrorf("no calling convention to apply at start of %s", target)
	}
	d.backend.DefineLabel(b.backend)
	if err := d.backend.RestoreState(*b.convention); err != nil {
		return err
	}
	b.alreadyEmitted = true
	d.table.retire(target)
	return nil
}

// driveSkipping implements the body of an unreachable block being skipped:
// nested Declares still register real blocks (so a later reachable branch
// that happens to name one still resolves), but nothing else is compiled.
func (d *Driver) driveSkipping(op microwasm.Operation) error {
	switch o := op.(type) {
	case microwasm.OperationDeclare:
		d.table.declare(o)
		return nil
	case microwasm.OperationStart:
		d.skipDepth++
		return nil
	case microwasm.OperationEnd:
		if d.skipDepth == 0 {
			d.skipping = false
			return nil
		}
		d.skipDepth--
		return nil
	case microwasm.OperationUnreachable:
		if d.skipDepth == 0 {
			d.skipping = false
		}
		return nil
	default:
		return nil
	}
}
