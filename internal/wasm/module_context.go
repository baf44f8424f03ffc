package wasm

// ModuleContext is the module-level information the converter needs about
// the function being translated and its neighbors. It is a read-only view:
// nothing under this module ever mutates a module's types, globals, or
// tables.
type ModuleContext interface {
	// TypeOfFunction returns the signature of the function at the given
	// module-wide function index (imported or defined).
	TypeOfFunction(funcIdx uint32) (FunctionType, error)

	// SignatureByTypeIndex returns the function type recorded at the given
	// type-section index, used to resolve call_indirect operands and
	// multi-value block types.
	SignatureByTypeIndex(typeIdx uint32) (FunctionType, error)

	// GlobalValueType returns the value type of the global at the given
	// index.
	GlobalValueType(globalIdx uint32) (ValueType, error)

	// DefinedFunctionIndex translates a module-wide function index into the
	// index space of locally defined functions. ok is false when funcIdx
	// names an imported function, which the backend compiles as an import
	// call rather than a direct call.
	DefinedFunctionIndex(funcIdx uint32) (definedIdx uint32, ok bool)
}
