package replay

import "github.com/gotraceview/ttengine/tracefmt"

// ActiveInstruction is a tagged "no value" variant over an instruction
// index: a FunctionState with no currently-active instruction (e.g.
// immediately after a call, before its first PreInstruction) must be
// distinguishable from one whose active instruction happens to be index
// zero. A sentinel uint32 would conflate those two states, so this
// mirrors the original engine's seec::Maybe<uint32_t> with an explicit
// Valid flag instead.
type ActiveInstruction struct {
	Index uint32
	Valid bool
}

// RuntimeValue is the last-known result of one instruction, together
// with a shadow stack used to undo move_forward steps during
// move_backward. Forward replay overwrites Current and pushes the old
// Current onto Shadow; backward replay pops Shadow back into Current.
// A RuntimeValue with HasCurrent false and an empty Shadow represents
// "no value yet", the state move_backward must restore to when undoing
// the instruction's very first execution in this function activation.
type RuntimeValue struct {
	HasCurrent bool
	Current    tracefmt.Record // one of the InstructionI*/F*/Ptr record types

	Shadow []tracefmt.Record // earlier values of Current, most recent last
}

func (v *RuntimeValue) set(rec tracefmt.Record) {
	if v.HasCurrent {
		v.Shadow = append(v.Shadow, v.Current)
	}
	v.Current = rec
	v.HasCurrent = true
}

func (v *RuntimeValue) undo() {
	if n := len(v.Shadow); n > 0 {
		v.Current = v.Shadow[n-1]
		v.HasCurrent = true
		v.Shadow = v.Shadow[:n-1]
	} else {
		v.HasCurrent = false
	}
}

// AllocaState is one live alloca in a function activation.
type AllocaState struct {
	InstrIndex   uint32
	Address      uint64
	ElementSize  uint64
	ElementCount uint64
}

// ByValArea is one live byval-argument staging area in a function
// activation.
type ByValArea struct {
	Address uint64
	Size    uint64
}

// FunctionState is one activation on a thread's call stack.
type FunctionState struct {
	FunctionIndex uint32
	EventStart    int64

	Active ActiveInstruction

	values  map[uint32]*RuntimeValue
	Allocas []AllocaState
	ByVals  []ByValArea
}

func newFunctionState(functionIndex uint32, eventStart int64) *FunctionState {
	return &FunctionState{
		FunctionIndex: functionIndex,
		EventStart:    eventStart,
		values:        make(map[uint32]*RuntimeValue),
	}
}

func (f *FunctionState) valueFor(instrIndex uint32) *RuntimeValue {
	v, ok := f.values[instrIndex]
	if !ok {
		v = &RuntimeValue{}
		f.values[instrIndex] = v
	}
	return v
}

// ValueAt reports the runtime value instruction instrIndex produced, the
// way querying a frame's state during replay must: if the frame has an
// active instruction and instrIndex lies past it, the value is masked to
// "no value" even if one happens to still be cached from a later
// forward step that hasn't been undone yet.
func (f *FunctionState) ValueAt(instrIndex uint32) (tracefmt.Record, bool) {
	if f.Active.Valid && instrIndex > f.Active.Index {
		return nil, false
	}
	v, ok := f.values[instrIndex]
	if !ok || !v.HasCurrent {
		return nil, false
	}
	return v.Current, true
}

// RuntimeError is one recorded diagnostic attached to the thread at the
// process/thread time it occurred.
type RuntimeError struct {
	ErrorKind   uint32
	InstrIndex  uint32
	Severity    tracefmt.Severity
	IsTopLevel  bool
	Payload     []byte
	ProcessTime uint64
	ThreadTime  uint64
}

// ThreadState is the state of one thread at a specific point in logical
// time: its synthetic clock, its call stack, and the runtime errors it
// has hit so far.
type ThreadState struct {
	proc *ProcessState
	tid  int

	threadTime uint64
	stack      []*FunctionState
	errors     []RuntimeError

	// evOffset is the byte offset of the next record to read going
	// forward, within this thread's event stream.
	evOffset int64

	// history is the undo log of every step applied so far, most recent
	// last; move_backward pops it.
	history []appliedStep
}

func newThreadState(p *ProcessState, tid int) *ThreadState {
	return &ThreadState{proc: p, tid: tid}
}

// ThreadTime returns the thread's current synthetic clock value.
func (t *ThreadState) ThreadTime() uint64 { return t.threadTime }

// FinalThreadTime returns the thread_time this thread ends at, read
// directly from the header.
func (t *ThreadState) FinalThreadTime() uint64 {
	return t.proc.tr.Header().ThreadFinalTimes[t.tid]
}

// CallStack returns the thread's current function activations, from
// outermost to innermost. The returned slice must not be mutated.
func (t *ThreadState) CallStack() []*FunctionState { return t.stack }

// Top returns the innermost active function activation, or nil if the
// thread is not currently inside any function (e.g. before its first
// call, or after its last function has returned).
func (t *ThreadState) Top() *FunctionState {
	if len(t.stack) == 0 {
		return nil
	}
	return t.stack[len(t.stack)-1]
}

// Errors returns the runtime errors recorded on this thread so far, in
// the order they occurred.
func (t *ThreadState) Errors() []RuntimeError { return t.errors }
