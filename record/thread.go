package record

import (
	"sync/atomic"

	"github.com/gotraceview/ttengine/memstate"
	"github.com/gotraceview/ttengine/trace"
	"github.com/gotraceview/ttengine/tracefmt"
)

// ThreadListener is the recording-side counterpart of replay's
// ThreadState: the per-thread notification target an instrumented
// program's single thread of execution calls into. It owns the thread's
// synthetic clock and function call stack, and lazily stamps a new
// process time only when some event actually needs one.
type ThreadListener struct {
	proc *ProcessListener
	tid  int

	threadTime uint64 // atomic, monotonic within this thread only

	stack []stackFrame

	// pendingProcessTime caches the process time assigned to the
	// instruction currently executing, so repeated NotifyValue calls for
	// the same instruction don't each tick a fresh process time. It is
	// invalidated (set to 0, meaning "not yet assigned") whenever control
	// moves to a new instruction.
	pendingProcessTime uint64
}

type stackFrame struct {
	functionIndex uint32
	eventStart    int64
	threadEntered uint64
}

func newThreadListener(p *ProcessListener, tid int) *ThreadListener {
	return &ThreadListener{proc: p, tid: tid}
}

// ThreadTime returns the thread's current synthetic clock value.
func (t *ThreadListener) ThreadTime() uint64 {
	return atomic.LoadUint64(&t.threadTime)
}

func (t *ThreadListener) tick() uint64 {
	return atomic.AddUint64(&t.threadTime, 1)
}

// EnterFunction notifies that functionIndex has just been called on
// this thread.
func (t *ThreadListener) EnterFunction(functionIndex uint32) error {
	off, err := t.proc.trace.Thread(t.tid).Append(tracefmt.FunctionStart{FunctionIndex: functionIndex})
	if err != nil {
		return err
	}
	tt := t.tick()
	if _, err := t.proc.trace.Thread(t.tid).Append(tracefmt.NewThreadTime{ThreadTime: tt}); err != nil {
		return err
	}
	t.stack = append(t.stack, stackFrame{functionIndex: functionIndex, eventStart: off, threadEntered: tt})
	t.pendingProcessTime = 0
	return nil
}

// ExitFunction notifies that the innermost active function call has
// returned.
func (t *ThreadListener) ExitFunction() error {
	if len(t.stack) == 0 {
		return nil
	}
	frame := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]

	eventEnd, err := t.proc.trace.Thread(t.tid).Append(tracefmt.FunctionEnd{})
	if err != nil {
		return err
	}
	tt := t.tick()
	if _, err := t.proc.trace.Thread(t.tid).Append(tracefmt.NewThreadTime{ThreadTime: tt}); err != nil {
		return err
	}

	_, err = t.proc.trace.AppendFunctionRecord(t.tid, trace.FunctionRecord{
		FunctionIndex: frame.functionIndex,
		EventStart:    frame.eventStart,
		EventEnd:      eventEnd,
		ThreadEntered: frame.threadEntered,
		ThreadExited:  tt,
		ChildListOff:  -1,
	})
	return err
}

// PreInstruction notifies that instrIndex is about to execute. Each
// instruction is its own step, so this is where thread_time advances for
// the common case; EnterFunction and ExitFunction advance it again for
// the call and return steps themselves.
func (t *ThreadListener) PreInstruction(instrIndex uint32) error {
	t.pendingProcessTime = 0
	if _, err := t.proc.trace.Thread(t.tid).Append(tracefmt.PreInstruction{InstrIndex: instrIndex}); err != nil {
		return err
	}
	tt := t.tick()
	_, err := t.proc.trace.Thread(t.tid).Append(tracefmt.NewThreadTime{ThreadTime: tt})
	return err
}

// ensureProcessTime lazily ticks a new process time the first time it's
// needed for the current instruction, and reuses it for subsequent
// notifications about the same instruction (e.g. NotifyValue after
// Instruction). This mirrors the original engine's "current instruction
// process time" cache, which avoids burning a process time tick for
// every sub-notification of a single instruction's execution.
func (t *ThreadListener) ensureProcessTime() (uint64, error) {
	if t.pendingProcessTime != 0 {
		return t.pendingProcessTime, nil
	}
	pt := t.proc.TickProcessTime()
	if _, err := t.proc.trace.Thread(t.tid).Append(tracefmt.NewProcessTime{ProcessTime: pt}); err != nil {
		return 0, err
	}
	t.pendingProcessTime = pt
	return pt, nil
}

// Instruction notifies that instrIndex has finished executing with no
// recordable return value.
func (t *ThreadListener) Instruction(instrIndex uint32) error {
	if _, err := t.ensureProcessTime(); err != nil {
		return err
	}
	_, err := t.proc.trace.Thread(t.tid).Append(tracefmt.Instruction{InstrIndex: instrIndex})
	return err
}

// NotifyValueI64 notifies that instrIndex produced an integer result.
func (t *ThreadListener) NotifyValueI64(instrIndex uint32, value int64) error {
	if _, err := t.ensureProcessTime(); err != nil {
		return err
	}
	_, err := t.proc.trace.Thread(t.tid).Append(tracefmt.InstructionI64{InstrIndex: instrIndex, Value: value})
	return err
}

// NotifyValueF64 notifies that instrIndex produced a floating-point
// result.
func (t *ThreadListener) NotifyValueF64(instrIndex uint32, value float64) error {
	if _, err := t.ensureProcessTime(); err != nil {
		return err
	}
	_, err := t.proc.trace.Thread(t.tid).Append(tracefmt.InstructionF64{InstrIndex: instrIndex, Value: value})
	return err
}

// NotifyValuePtr notifies that instrIndex produced a pointer result.
func (t *ThreadListener) NotifyValuePtr(instrIndex uint32, value uint64) error {
	if _, err := t.ensureProcessTime(); err != nil {
		return err
	}
	_, err := t.proc.trace.Thread(t.tid).Append(tracefmt.InstructionPtr{InstrIndex: instrIndex, Value: value})
	return err
}

// Malloc notifies a successful dynamic allocation at address.
func (t *ThreadListener) Malloc(address, size uint64, instr uint32) error {
	if _, err := t.ensureProcessTime(); err != nil {
		return err
	}
	return t.proc.recordMalloc(t.tid, address, size, instr)
}

// Free notifies a dynamic deallocation of address.
func (t *ThreadListener) Free(address uint64) error {
	if _, err := t.ensureProcessTime(); err != nil {
		return err
	}
	return t.proc.recordFree(t.tid, address)
}

// Alloca notifies a stack allocation of count elements of size elemSize
// at address, produced by an alloca instruction.
func (t *ThreadListener) Alloca(instrIndex uint32, address, elemSize, elemCount uint64) error {
	_, err := t.proc.trace.Thread(t.tid).Append(tracefmt.Alloca{
		InstrIndex: instrIndex, Address: address, ElementSize: elemSize, ElementCount: elemCount,
	})
	return err
}

// ByValArgBegin notifies that a byval-argument memory area of size bytes
// has been materialized at address.
func (t *ThreadListener) ByValArgBegin(address, size uint64) error {
	_, err := t.proc.trace.Thread(t.tid).Append(tracefmt.ByValArgBegin{Address: address, Size: size})
	return err
}

// ByValArgEnd notifies that the byval-argument area starting at address
// has gone out of scope.
func (t *ThreadListener) ByValArgEnd(address uint64) error {
	_, err := t.proc.trace.Thread(t.tid).Append(tracefmt.ByValArgEnd{Address: address})
	return err
}

// KnownRegionAdd notifies the engine of a region of memory it did not
// itself allocate but should track for access-checking (e.g. a static
// global or a memory-mapped region).
func (t *ThreadListener) KnownRegionAdd(address, length uint64, perm tracefmt.Permission) error {
	t.proc.memoryMu.Lock()
	t.proc.known.Add(address, length, memstate.Permission(perm))
	t.proc.memoryMu.Unlock()

	_, err := t.proc.trace.Thread(t.tid).Append(tracefmt.KnownRegionAdd{
		Address: address, Length: length, Permission: perm,
	})
	return err
}

// KnownRegionRemove notifies that the known region starting at address no
// longer applies.
func (t *ThreadListener) KnownRegionRemove(address uint64) error {
	t.proc.memoryMu.Lock()
	_, _, ok := t.proc.known.Remove(address)
	t.proc.memoryMu.Unlock()
	if !ok {
		t.proc.logger.Logf("record: known-region removal of untracked address %#x", address)
	}

	_, err := t.proc.trace.Thread(t.tid).Append(tracefmt.KnownRegionRemove{Address: address})
	return err
}

// StateWrite notifies a write of length bytes to address, recording it
// either as a typed or untyped state write. The actual byte values are
// not part of this call: like the original engine, values are
// reconstructed from the typed LLVM IR operands at replay time, not
// stored verbatim in the trace. Whatever fragments the write displaces
// are reported right afterward as StateOverwrite* events, mirroring the
// original engine's writeStateOverwritten.
func (t *ThreadListener) StateWrite(address, length uint64, typed bool) error {
	var rec tracefmt.Record
	if typed {
		rec = tracefmt.StateTyped{Address: address, Length: length}
	} else {
		rec = tracefmt.StateUntyped{Address: address, Length: length}
	}
	off, err := t.proc.trace.Thread(t.tid).Append(rec)
	if err != nil {
		return err
	}

	t.proc.memoryMu.Lock()
	overwrites := t.proc.memory.Add(address, length, off, t.ThreadTime())
	t.proc.memoryMu.Unlock()

	return t.writeOverwrites(address, length, overwrites)
}

// StateClear notifies that [address, address+length) no longer has
// known value state (e.g. a stack frame going out of scope).
func (t *ThreadListener) StateClear(address, length uint64) error {
	if _, err := t.proc.trace.Thread(t.tid).Append(tracefmt.StateClear{Address: address, Length: length}); err != nil {
		return err
	}

	t.proc.memoryMu.Lock()
	overwrites := t.proc.memory.Clear(address, length)
	t.proc.memoryMu.Unlock()

	return t.writeOverwrites(address, length, overwrites)
}

// writeOverwrites appends one StateOverwrite* event per fragment that a
// write or clear of [address, address+length) displaced.
func (t *ThreadListener) writeOverwrites(address, length uint64, overwrites []memstate.Overwrite) error {
	for _, ow := range overwrites {
		var rec tracefmt.Record
		switch ow.Kind {
		case memstate.OverwriteReplace:
			rec = tracefmt.StateOverwriteReplace{OldFragmentStart: ow.Old.Address}
		case memstate.OverwriteSplitFragment:
			rec = tracefmt.StateOverwriteSplitFragment{
				OldFragmentStart: ow.Old.Address, Address: address, Length: length,
			}
		case memstate.OverwriteTrimLeft:
			rec = tracefmt.StateOverwriteTrimLeft{OldFragmentStart: ow.Old.Address, NewStart: ow.Boundary}
		case memstate.OverwriteTrimRight:
			rec = tracefmt.StateOverwriteTrimRight{OldFragmentStart: ow.Old.Address, NewEnd: address}
		}
		if _, err := t.proc.trace.Thread(t.tid).Append(rec); err != nil {
			return err
		}
	}
	return nil
}

// StreamOpen notifies that a stream was opened in the given mode at
// path, returning the handle assigned to it.
func (t *ThreadListener) StreamOpen(mode, path string) (uint64, error) {
	return t.proc.recordStreamOpen(t.tid, false, mode, path)
}

// StreamClose notifies that handle was closed.
func (t *ThreadListener) StreamClose(handle uint64) error {
	return t.proc.recordStreamClose(t.tid, false, handle)
}

// StreamWrite notifies a write of data to handle.
func (t *ThreadListener) StreamWrite(handle uint64, data []byte) error {
	return t.proc.recordStreamWrite(t.tid, handle, data)
}

// HandleRunError notifies that the instrumented program hit a runtime
// error (e.g. an out-of-bounds access, a double-free, a checked-overflow
// trap). Fatal errors stop the recorded program; warnings do not. A
// fatal error triggers the process listener's synchronized exit, so the
// trace is sealed and closed before the caller aborts.
func (t *ThreadListener) HandleRunError(errorKind uint32, instrIndex uint32, severity tracefmt.Severity, topLevel bool, payload []byte) error {
	_, err := t.proc.trace.Thread(t.tid).Append(tracefmt.RuntimeError{
		ErrorKind:  errorKind,
		InstrIndex: instrIndex,
		Severity:   severity,
		IsTopLevel: topLevel,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	if severity == tracefmt.SeverityFatal {
		return t.proc.SynchronizedExit()
	}
	return nil
}
