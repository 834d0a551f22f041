// Package tracefmt implements the on-disk event codec for a recorded
// execution trace: a fixed-schema table of event kinds, each with a fixed
// (or length-framed) field layout, and the encode/decode primitives used by
// both the recording-side writer and the replay-side reader.
package tracefmt

// Kind identifies the schema of an event record.
type Kind uint8

const (
	KindFunctionStart Kind = iota
	KindFunctionEnd
	KindNewThreadTime
	KindNewProcessTime
	KindPreInstruction
	KindInstruction
	KindInstructionI8
	KindInstructionI16
	KindInstructionI32
	KindInstructionI64
	KindInstructionF32
	KindInstructionF64
	KindInstructionF80
	KindInstructionPtr
	KindAlloca
	KindByValArgBegin
	KindByValArgEnd
	KindMalloc
	KindFree
	KindStateUntyped
	KindStateTyped
	KindStateClear
	KindStateOverwriteReplace
	KindStateOverwriteSplitFragment
	KindStateOverwriteTrimLeft
	KindStateOverwriteTrimRight
	KindStreamOpen
	KindStreamClose
	KindStreamWrite
	KindDirOpen
	KindDirClose
	KindRuntimeError
	KindKnownRegionAdd
	KindKnownRegionRemove
	KindArgs
	KindEnv

	numKinds
)

//go:generate stringer -type=Kind

// kindNames mirrors the layout a stringer-generated _string.go would
// produce; written by hand because this repository cannot invoke
// `go generate`.
var kindNames = [numKinds]string{
	KindFunctionStart:               "FunctionStart",
	KindFunctionEnd:                 "FunctionEnd",
	KindNewThreadTime:               "NewThreadTime",
	KindNewProcessTime:              "NewProcessTime",
	KindPreInstruction:              "PreInstruction",
	KindInstruction:                 "Instruction",
	KindInstructionI8:               "InstructionI8",
	KindInstructionI16:              "InstructionI16",
	KindInstructionI32:              "InstructionI32",
	KindInstructionI64:              "InstructionI64",
	KindInstructionF32:              "InstructionF32",
	KindInstructionF64:              "InstructionF64",
	KindInstructionF80:              "InstructionF80",
	KindInstructionPtr:              "InstructionPtr",
	KindAlloca:                      "Alloca",
	KindByValArgBegin:               "ByValArgBegin",
	KindByValArgEnd:                 "ByValArgEnd",
	KindMalloc:                      "Malloc",
	KindFree:                        "Free",
	KindStateUntyped:                "StateUntyped",
	KindStateTyped:                  "StateTyped",
	KindStateClear:                  "StateClear",
	KindStateOverwriteReplace:       "StateOverwriteReplace",
	KindStateOverwriteSplitFragment: "StateOverwriteSplitFragment",
	KindStateOverwriteTrimLeft:      "StateOverwriteTrimLeft",
	KindStateOverwriteTrimRight:     "StateOverwriteTrimRight",
	KindStreamOpen:                  "StreamOpen",
	KindStreamClose:                 "StreamClose",
	KindStreamWrite:                 "StreamWrite",
	KindDirOpen:                     "DirOpen",
	KindDirClose:                    "DirClose",
	KindRuntimeError:                "RuntimeError",
	KindKnownRegionAdd:              "KnownRegionAdd",
	KindKnownRegionRemove:           "KnownRegionRemove",
	KindArgs:                        "Args",
	KindEnv:                         "Env",
}

func (k Kind) String() string {
	if k < numKinds {
		return kindNames[k]
	}
	return "Kind(invalid)"
}

// variableLength reports whether records of kind k carry a trailing
// variable-length payload (beyond their fixed fields).
func (k Kind) variableLength() bool {
	switch k {
	case KindRuntimeError, KindStreamWrite, KindArgs, KindEnv:
		return true
	default:
		return false
	}
}
