package tracefmt

// Record is the common interface satisfied by every decoded event record.
// The concrete type can be recovered with a type switch, following the same
// pattern as perf.data record decoding: a Records iterator exposes the
// current record through an interface and callers switch on the concrete
// type.
type Record interface {
	Kind() Kind
}

// FunctionStart marks entry into a function invocation.
type FunctionStart struct {
	FunctionIndex uint32
}

func (FunctionStart) Kind() Kind { return KindFunctionStart }

// FunctionEnd marks the end of the innermost in-flight function invocation.
type FunctionEnd struct{}

func (FunctionEnd) Kind() Kind { return KindFunctionEnd }

// NewThreadTime advances a thread's local logical clock.
type NewThreadTime struct {
	ThreadTime uint64
}

func (NewThreadTime) Kind() Kind { return KindNewThreadTime }

// NewProcessTime records the synthetic process time assigned to the
// current instruction's first shared-state mutation.
type NewProcessTime struct {
	ProcessTime uint64
}

func (NewProcessTime) Kind() Kind { return KindNewProcessTime }

// PreInstruction sets the active instruction index before any of its
// effects are recorded.
type PreInstruction struct {
	InstrIndex uint32
}

func (PreInstruction) Kind() Kind { return KindPreInstruction }

// Instruction records that InstrIndex produced no typed runtime value
// (e.g. a void call), but is now the active instruction.
type Instruction struct {
	InstrIndex uint32
}

func (Instruction) Kind() Kind { return KindInstruction }

// InstructionI8, ...Ptr record a typed runtime value produced by the
// active instruction: one struct per wire-distinct fixed layout.
type InstructionI8 struct {
	InstrIndex uint32
	Value      int8
}

func (InstructionI8) Kind() Kind { return KindInstructionI8 }

type InstructionI16 struct {
	InstrIndex uint32
	Value      int16
}

func (InstructionI16) Kind() Kind { return KindInstructionI16 }

type InstructionI32 struct {
	InstrIndex uint32
	Value      int32
}

func (InstructionI32) Kind() Kind { return KindInstructionI32 }

type InstructionI64 struct {
	InstrIndex uint32
	Value      int64
}

func (InstructionI64) Kind() Kind { return KindInstructionI64 }

type InstructionF32 struct {
	InstrIndex uint32
	Value      float32
}

func (InstructionF32) Kind() Kind { return KindInstructionF32 }

type InstructionF64 struct {
	InstrIndex uint32
	Value      float64
}

func (InstructionF64) Kind() Kind { return KindInstructionF64 }

// InstructionF80 stores an 80-bit extended-precision value as its raw
// 10-byte representation; the engine does not interpret its bits, only
// replays them verbatim.
type InstructionF80 struct {
	InstrIndex uint32
	Raw        [10]byte
}

func (InstructionF80) Kind() Kind { return KindInstructionF80 }

type InstructionPtr struct {
	InstrIndex uint32
	Value      uint64
}

func (InstructionPtr) Kind() Kind { return KindInstructionPtr }

// Alloca records a stack allocation produced by an alloca instruction.
type Alloca struct {
	InstrIndex   uint32
	Address      uint64
	ElementSize  uint64
	ElementCount uint64
}

func (Alloca) Kind() Kind { return KindAlloca }

// ByValArgBegin records the start of a byval-argument memory area.
type ByValArgBegin struct {
	Address uint64
	Size    uint64
}

func (ByValArgBegin) Kind() Kind { return KindByValArgBegin }

// ByValArgEnd records the end (removal) of a byval-argument memory area
// identified by its starting address.
type ByValArgEnd struct {
	Address uint64
}

func (ByValArgEnd) Kind() Kind { return KindByValArgEnd }

// Malloc records a dynamic memory allocation.
type Malloc struct {
	Address               uint64
	Size                  uint64
	AllocatingInstruction uint32
}

func (Malloc) Kind() Kind { return KindMalloc }

// Free records a dynamic memory deallocation.
type Free struct {
	Address uint64
}

func (Free) Kind() Kind { return KindFree }

// StateUntyped records a write to memory with no associated static type
// (e.g. memcpy, memset).
type StateUntyped struct {
	Address uint64
	Length  uint64
}

func (StateUntyped) Kind() Kind { return KindStateUntyped }

// StateTyped records a write to memory through a typed store instruction.
// Length is derivable from the static type at replay time by the external
// module index; the engine only needs the byte range.
type StateTyped struct {
	Address uint64
	Length  uint64
}

func (StateTyped) Kind() Kind { return KindStateTyped }

// StateClear records that a range of memory was cleared (e.g. on free).
type StateClear struct {
	Address uint64
	Length  uint64
}

func (StateClear) Kind() Kind { return KindStateClear }

// StateOverwriteReplace records that an incoming write fully covered a
// single prior fragment, identified by its start address.
type StateOverwriteReplace struct {
	OldFragmentStart uint64
}

func (StateOverwriteReplace) Kind() Kind { return KindStateOverwriteReplace }

// StateOverwriteSplitFragment records that an incoming write lay strictly
// inside a prior fragment, splitting it in two around [Address, Address+Length).
type StateOverwriteSplitFragment struct {
	OldFragmentStart uint64
	Address          uint64
	Length           uint64
}

func (StateOverwriteSplitFragment) Kind() Kind { return KindStateOverwriteSplitFragment }

// StateOverwriteTrimLeft records that an incoming write clipped the left
// edge of a prior fragment, which now begins at NewStart.
type StateOverwriteTrimLeft struct {
	OldFragmentStart uint64
	NewStart         uint64
}

func (StateOverwriteTrimLeft) Kind() Kind { return KindStateOverwriteTrimLeft }

// StateOverwriteTrimRight records that an incoming write clipped the
// right edge of a prior fragment, which now ends just before NewEnd.
type StateOverwriteTrimRight struct {
	OldFragmentStart uint64
	NewEnd           uint64
}

func (StateOverwriteTrimRight) Kind() Kind { return KindStateOverwriteTrimRight }

// StreamOpen records a stdio stream being opened.
type StreamOpen struct {
	Handle uint64
	Mode   string
	Path   string
}

func (StreamOpen) Kind() Kind { return KindStreamOpen }

// StreamClose records a stdio stream being closed.
type StreamClose struct {
	Handle uint64
}

func (StreamClose) Kind() Kind { return KindStreamClose }

// StreamWrite records bytes written to a stream (used to replay stdout and
// stderr content).
type StreamWrite struct {
	Handle uint64
	Data   []byte
}

func (StreamWrite) Kind() Kind { return KindStreamWrite }

// DirOpen records a DIR * being opened.
type DirOpen struct {
	Handle uint64
	Path   string
}

func (DirOpen) Kind() Kind { return KindDirOpen }

// DirClose records a DIR * being closed.
type DirClose struct {
	Handle uint64
}

func (DirClose) Kind() Kind { return KindDirClose }

// Severity classifies a RuntimeError.
type Severity uint8

const (
	SeverityWarning Severity = iota
	SeverityFatal
)

func (s Severity) String() string {
	if s == SeverityFatal {
		return "Fatal"
	}
	return "Warning"
}

// RuntimeError records a checker-detected run-time error.
type RuntimeError struct {
	ErrorKind  uint32
	InstrIndex uint32
	Severity   Severity
	IsTopLevel bool
	Payload    []byte
}

func (RuntimeError) Kind() Kind { return KindRuntimeError }

// Permission classifies access to a known-but-unowned memory region.
type Permission uint8

const (
	PermissionNone Permission = iota
	PermissionReadOnly
	PermissionWriteOnly
	PermissionReadWrite
)

func (p Permission) String() string {
	switch p {
	case PermissionReadOnly:
		return "ReadOnly"
	case PermissionWriteOnly:
		return "WriteOnly"
	case PermissionReadWrite:
		return "ReadWrite"
	default:
		return "None"
	}
}

// KnownRegionAdd records a region of memory the engine should track for
// access-checking but not own for lifetime management.
type KnownRegionAdd struct {
	Address    uint64
	Length     uint64
	Permission Permission
}

func (KnownRegionAdd) Kind() Kind { return KindKnownRegionAdd }

// KnownRegionRemove removes a known region identified by its start address.
type KnownRegionRemove struct {
	Address uint64
}

func (KnownRegionRemove) Kind() Kind { return KindKnownRegionRemove }

// Args records the traced program's argv, captured once at process start.
type Args struct {
	Values []string
}

func (Args) Kind() Kind { return KindArgs }

// Env records the traced program's environment, captured once at process
// start.
type Env struct {
	Values []string
}

func (Env) Kind() Kind { return KindEnv }
