package microwasm

import (
	"fmt"
	"strings"
)

// Format renders a sequence of Operations the way lightbeam's dis() did:
// a ".fn_NAME:" header, labels and block declarations flush against the
// margin, everything else indented.
func Format(functionName string, ops []Operation) string {
	var b strings.Builder
	fmt.Fprintf(&b, ".fn_%s:\n", functionName)
	for _, op := range ops {
		switch o := op.(type) {
		case OperationDeclare:
			fmt.Fprintf(&b, "%s:\n", o.Label)
		case OperationStart:
			fmt.Fprintf(&b, "%s:\n", o.Label)
		default:
			fmt.Fprintf(&b, "      %s\n", FormatOp(op))
		}
	}
	return b.String()
}

// FormatOp renders a single Operation the way Format's default case does,
// for callers (the driver's offset/disassembly sinks) that need one
// operator at a time instead of a whole function's worth.
func FormatOp(op Operation) string {
	switch o := op.(type) {
	case OperationConst:
		return o.Value.String()
	case OperationEnd:
		return fmt.Sprintf("end -> %s", o.Targets.Default.Target)
	case OperationDrop:
		return fmt.Sprintf("drop %d..=%d", o.Range.Start, o.Range.End)
	case OperationPick:
		return fmt.Sprintf("pick %d", o.Depth)
	case OperationSwap:
		return fmt.Sprintf("swap %d", o.Depth)
	default:
		return op.Kind().String()
	}
}
