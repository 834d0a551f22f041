package replay

import (
	"context"
	"fmt"

	"github.com/gotraceview/ttengine/memstate"
	"github.com/gotraceview/ttengine/tracefmt"
)

// appliedStep is one entry in a thread's undo history: enough context
// to exactly reverse one forward record application, the same role the
// fragment store's Overwrite records play for memory writes but
// generalized to every kind of mutation a single record can cause.
type appliedStep struct {
	rec    tracefmt.Record
	offset int64

	prevThreadTime  uint64
	hadPrevActive   bool
	prevActive      ActiveInstruction
	overwrites      []memstate.Overwrite
	removedAlloc    memstate.Allocation
	hadRemovedAlloc bool
	addedAllocAddr  uint64
	hadAddedAlloc   bool
	poppedFrame     *FunctionState
	pushedFrame     bool
	valueInstr      uint32
	hadValueUndo    bool

	removedRegionLength uint64
	removedRegionPerm   memstate.Permission
	hadRemovedRegion    bool

	prevProcessTime uint64

	pushedAlloca bool
	pushedByVal  bool

	removedByVal    ByValArea
	hadRemovedByVal bool

	poppedError bool

	prevStream    openStream
	hadPrevStream bool
	prevDir       string
	hadPrevDir    bool
}

// MoveForward advances tid's thread state by n records (clamped to the
// end of its event stream) and returns the number of records actually
// applied. ctx is polled once per record, at event-boundary granularity:
// a cancellation stops the seek after the in-flight step finishes
// applying, never mid-step, so the state is always left coherent.
func (t *ThreadState) MoveForward(ctx context.Context, n int) (int, error) {
	applied := 0
	for ; applied < n; applied++ {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		ok, err := t.stepForward()
		if err != nil {
			return applied, err
		}
		if !ok {
			break
		}
	}
	return applied, nil
}

// MoveBackward reverses tid's thread state by n records (clamped to the
// start of its history) and returns the number of records actually
// undone.
func (t *ThreadState) MoveBackward(ctx context.Context, n int) (int, error) {
	undone := 0
	for ; undone < n; undone++ {
		if err := ctx.Err(); err != nil {
			return undone, err
		}
		if len(t.history) == 0 {
			break
		}
		if err := t.stepBackward(); err != nil {
			return undone, err
		}
	}
	return undone, nil
}

// MoveForwardToEnd advances tid all the way to FinalThreadTime, the
// header-recorded end of its stream, making the completion check O(1)
// against the header rather than requiring a stream scan to discover
// "end of trace".
func (t *ThreadState) MoveForwardToEnd(ctx context.Context) error {
	for t.threadTime < t.FinalThreadTime() {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := t.stepForward()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	return nil
}

// MoveBackwardToEnd undoes every applied step, returning tid to the
// very beginning of the trace (thread_time zero, empty call stack).
func (t *ThreadState) MoveBackwardToEnd(ctx context.Context) error {
	for len(t.history) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.stepBackward(); err != nil {
			return err
		}
	}
	return nil
}

// MoveToAllocation advances or rewinds tid until the most recent Malloc
// of address is the next step to be undone, i.e. until address is live
// and was allocated by the step immediately preceding the current
// position. This walks record-by-record; a trace with a function-table
// index keyed by address would make this faster, but the engine does
// not currently build one (see the malloc-locality open question in
// DESIGN.md).
func (t *ThreadState) MoveToAllocation(ctx context.Context, address uint64) error {
	return t.seekMalloc(ctx, address, true)
}

// MoveToDeallocation advances or rewinds tid until the most recent Free
// of address is the next step to be undone.
func (t *ThreadState) MoveToDeallocation(ctx context.Context, address uint64) error {
	return t.seekMalloc(ctx, address, false)
}

func (t *ThreadState) seekMalloc(ctx context.Context, address uint64, wantMalloc bool) error {
	matches := func(rec tracefmt.Record) bool {
		if wantMalloc {
			m, ok := rec.(tracefmt.Malloc)
			return ok && m.Address == address
		}
		f, ok := rec.(tracefmt.Free)
		return ok && f.Address == address
	}

	// Already positioned right after the record we want.
	if len(t.history) > 0 && matches(t.history[len(t.history)-1].rec) {
		return nil
	}

	// The record may already have been applied: a live pointer's
	// allocation, in particular, always lies in the past relative to
	// wherever it was observed. Rewind through already-applied history
	// before stepping forward into unread stream, so move_to_allocation
	// actually seeks backward as advertised instead of only ever
	// scanning ahead.
	for i := len(t.history) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !matches(t.history[i].rec) {
			continue
		}
		for len(t.history)-1 > i {
			if err := t.stepBackward(); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := t.stepForward()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if matches(t.history[len(t.history)-1].rec) {
			return nil
		}
	}
	return fmt.Errorf("replay: no %s of address %#x found in thread %d's stream", kindName(wantMalloc), address, t.tid)
}

func kindName(malloc bool) string {
	if malloc {
		return "allocation"
	}
	return "deallocation"
}

// stepForward applies the next unread record on tid's event stream.
// Returns false if the stream is exhausted.
func (t *ThreadState) stepForward() (bool, error) {
	stream := t.proc.tr.Thread(t.tid)
	size, err := stream.Size()
	if err != nil {
		return false, err
	}
	if t.evOffset >= size {
		return false, nil
	}
	rec, next, err := stream.ReadAt(t.evOffset)
	if err != nil {
		return false, err
	}
	step := t.applyForward(rec, t.evOffset)
	t.evOffset = next
	t.history = append(t.history, step)
	return true, nil
}

// stepBackward undoes the most recently applied record.
func (t *ThreadState) stepBackward() error {
	n := len(t.history)
	step := t.history[n-1]
	t.history = t.history[:n-1]
	t.applyBackward(step)
	t.evOffset = step.offset
	return nil
}

func (t *ThreadState) applyForward(rec tracefmt.Record, offset int64) appliedStep {
	step := appliedStep{rec: rec, offset: offset, prevThreadTime: t.threadTime}
	top := t.Top()
	if top != nil {
		step.hadPrevActive = true
		step.prevActive = top.Active
	}

	switch r := rec.(type) {
	case tracefmt.FunctionStart:
		fs := newFunctionState(r.FunctionIndex, offset)
		t.stack = append(t.stack, fs)
		step.pushedFrame = true

	case tracefmt.FunctionEnd:
		if len(t.stack) > 0 {
			step.poppedFrame = t.stack[len(t.stack)-1]
			t.stack = t.stack[:len(t.stack)-1]
		}

	case tracefmt.NewThreadTime:
		t.threadTime = r.ThreadTime

	case tracefmt.NewProcessTime:
		u := t.proc.GetScopedUpdate(t.proc.processTime)
		step.prevProcessTime = t.proc.processTime
		u.setProcessTime(r.ProcessTime)
		u.Release()

	case tracefmt.PreInstruction:
		if top != nil {
			top.Active = ActiveInstruction{Index: r.InstrIndex, Valid: true}
		}

	case tracefmt.Instruction:
		if top != nil {
			top.Active = ActiveInstruction{Index: r.InstrIndex, Valid: true}
		}

	case tracefmt.InstructionI8, tracefmt.InstructionI16, tracefmt.InstructionI32, tracefmt.InstructionI64,
		tracefmt.InstructionF32, tracefmt.InstructionF64, tracefmt.InstructionF80, tracefmt.InstructionPtr:
		if top != nil {
			idx := instructionIndex(r)
			top.valueFor(idx).set(r)
			step.valueInstr = idx
			step.hadValueUndo = true
		}

	case tracefmt.Alloca:
		if top != nil {
			top.Allocas = append(top.Allocas, AllocaState{
				InstrIndex: r.InstrIndex, Address: r.Address,
				ElementSize: r.ElementSize, ElementCount: r.ElementCount,
			})
			step.pushedAlloca = true
		}

	case tracefmt.ByValArgBegin:
		if top != nil {
			top.ByVals = append(top.ByVals, ByValArea{Address: r.Address, Size: r.Size})
			step.pushedByVal = true
		}

	case tracefmt.ByValArgEnd:
		if top != nil {
			for i, b := range top.ByVals {
				if b.Address == r.Address {
					step.removedByVal = b
					step.hadRemovedByVal = true
					top.ByVals = append(top.ByVals[:i], top.ByVals[i+1:]...)
					break
				}
			}
		}

	case tracefmt.Malloc:
		u := t.proc.GetScopedUpdate(t.proc.processTime)
		t.proc.mallocs.Add(r.Address, r.Size, r.AllocatingInstruction)
		u.Release()
		step.addedAllocAddr = r.Address
		step.hadAddedAlloc = true

	case tracefmt.Free:
		u := t.proc.GetScopedUpdate(t.proc.processTime)
		alloc, ok := t.proc.mallocs.Remove(r.Address)
		u.Release()
		if ok {
			step.removedAlloc = alloc
			step.hadRemovedAlloc = true
		}

	case tracefmt.StateUntyped, tracefmt.StateTyped:
		addr, length := stateAddrLen(r)
		u := t.proc.GetScopedUpdate(t.proc.processTime)
		step.overwrites = t.proc.memory.Add(addr, length, offset, t.threadTime)
		u.Release()

	case tracefmt.StateClear:
		u := t.proc.GetScopedUpdate(t.proc.processTime)
		step.overwrites = t.proc.memory.Clear(r.Address, r.Length)
		u.Release()

	case tracefmt.StreamOpen:
		t.proc.streams[r.Handle] = openStream{mode: r.Mode, path: r.Path}

	case tracefmt.StreamClose:
		if prev, ok := t.proc.streams[r.Handle]; ok {
			step.prevStream, step.hadPrevStream = prev, true
		}
		delete(t.proc.streams, r.Handle)

	case tracefmt.DirOpen:
		t.proc.dirs[r.Handle] = r.Path

	case tracefmt.DirClose:
		if prev, ok := t.proc.dirs[r.Handle]; ok {
			step.prevDir, step.hadPrevDir = prev, true
		}
		delete(t.proc.dirs, r.Handle)

	case tracefmt.KnownRegionAdd:
		t.proc.known.Add(r.Address, r.Length, memstate.Permission(r.Permission))

	case tracefmt.KnownRegionRemove:
		if length, perm, ok := t.proc.known.Remove(r.Address); ok {
			step.removedRegionLength, step.removedRegionPerm, step.hadRemovedRegion = length, perm, true
		}

	case tracefmt.RuntimeError:
		t.errors = append(t.errors, RuntimeError{
			ErrorKind: r.ErrorKind, InstrIndex: r.InstrIndex, Severity: r.Severity,
			IsTopLevel: r.IsTopLevel, Payload: r.Payload,
			ProcessTime: t.proc.processTime, ThreadTime: t.threadTime,
		})
		step.poppedError = true
	}

	return step
}

func (t *ThreadState) applyBackward(step appliedStep) {
	switch r := step.rec.(type) {
	case tracefmt.FunctionStart:
		if step.pushedFrame && len(t.stack) > 0 {
			t.stack = t.stack[:len(t.stack)-1]
		}

	case tracefmt.FunctionEnd:
		if step.poppedFrame != nil {
			t.stack = append(t.stack, step.poppedFrame)
		}

	case tracefmt.NewProcessTime:
		u := t.proc.GetScopedUpdate(t.proc.processTime)
		u.setProcessTime(step.prevProcessTime)
		u.Release()

	case tracefmt.Malloc:
		if step.hadAddedAlloc {
			u := t.proc.GetScopedUpdate(t.proc.processTime)
			t.proc.mallocs.Remove(step.addedAllocAddr)
			u.Release()
		}

	case tracefmt.Free:
		if step.hadRemovedAlloc {
			u := t.proc.GetScopedUpdate(t.proc.processTime)
			t.proc.mallocs.Restore(step.removedAlloc)
			u.Release()
		}

	case tracefmt.StateUntyped, tracefmt.StateTyped:
		addr, length := stateAddrLen(r)
		u := t.proc.GetScopedUpdate(t.proc.processTime)
		t.proc.memory.Clear(addr, length)
		for i := len(step.overwrites) - 1; i >= 0; i-- {
			t.proc.memory.Undo(step.overwrites[i])
		}
		u.Release()

	case tracefmt.StateClear:
		u := t.proc.GetScopedUpdate(t.proc.processTime)
		for i := len(step.overwrites) - 1; i >= 0; i-- {
			t.proc.memory.Undo(step.overwrites[i])
		}
		u.Release()

	case tracefmt.Alloca:
		if step.pushedAlloca {
			if top := t.Top(); top != nil && len(top.Allocas) > 0 {
				top.Allocas = top.Allocas[:len(top.Allocas)-1]
			}
		}

	case tracefmt.ByValArgBegin:
		if step.pushedByVal {
			if top := t.Top(); top != nil && len(top.ByVals) > 0 {
				top.ByVals = top.ByVals[:len(top.ByVals)-1]
			}
		}

	case tracefmt.ByValArgEnd:
		if step.hadRemovedByVal {
			if top := t.Top(); top != nil {
				top.ByVals = append(top.ByVals, step.removedByVal)
			}
		}

	case tracefmt.RuntimeError:
		if step.poppedError && len(t.errors) > 0 {
			t.errors = t.errors[:len(t.errors)-1]
		}

	case tracefmt.StreamOpen:
		delete(t.proc.streams, r.Handle)

	case tracefmt.StreamClose:
		if step.hadPrevStream {
			t.proc.streams[r.Handle] = step.prevStream
		}

	case tracefmt.DirOpen:
		delete(t.proc.dirs, r.Handle)

	case tracefmt.DirClose:
		if step.hadPrevDir {
			t.proc.dirs[r.Handle] = step.prevDir
		}

	case tracefmt.KnownRegionAdd:
		t.proc.known.Remove(r.Address)

	case tracefmt.KnownRegionRemove:
		if step.hadRemovedRegion {
			t.proc.known.Add(r.Address, step.removedRegionLength, step.removedRegionPerm)
		}
	}

	if step.hadValueUndo {
		if top := t.Top(); top != nil {
			top.valueFor(step.valueInstr).undo()
		}
	}
	if top := t.Top(); top != nil && step.hadPrevActive {
		top.Active = step.prevActive
	}
	t.threadTime = step.prevThreadTime
}

func instructionIndex(rec tracefmt.Record) uint32 {
	switch r := rec.(type) {
	case tracefmt.InstructionI8:
		return r.InstrIndex
	case tracefmt.InstructionI16:
		return r.InstrIndex
	case tracefmt.InstructionI32:
		return r.InstrIndex
	case tracefmt.InstructionI64:
		return r.InstrIndex
	case tracefmt.InstructionF32:
		return r.InstrIndex
	case tracefmt.InstructionF64:
		return r.InstrIndex
	case tracefmt.InstructionF80:
		return r.InstrIndex
	case tracefmt.InstructionPtr:
		return r.InstrIndex
	default:
		return 0
	}
}

func stateAddrLen(rec tracefmt.Record) (uint64, uint64) {
	switch r := rec.(type) {
	case tracefmt.StateUntyped:
		return r.Address, r.Length
	case tracefmt.StateTyped:
		return r.Address, r.Length
	default:
		return 0, 0
	}
}
