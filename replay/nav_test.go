package replay

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gotraceview/ttengine/memstate"
	"github.com/gotraceview/ttengine/record"
	"github.com/gotraceview/ttengine/trace"
	"github.com/gotraceview/ttengine/tracefmt"
)

func buildTestTrace(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "tr")

	tr, err := trace.Create(dir, 1, 8, false)
	if err != nil {
		t.Fatal(err)
	}

	proc := record.NewProcessListener(tr, 1, nil)
	th := proc.Thread(0)

	if err := th.EnterFunction(1); err != nil {
		t.Fatal(err)
	}
	if err := th.PreInstruction(0); err != nil {
		t.Fatal(err)
	}
	if err := th.Malloc(0x1000, 16, 0); err != nil {
		t.Fatal(err)
	}
	if err := th.StateWrite(0x1000, 16, false); err != nil {
		t.Fatal(err)
	}
	if err := th.NotifyValuePtr(0, 0x1000); err != nil {
		t.Fatal(err)
	}
	if err := th.Free(0x1000); err != nil {
		t.Fatal(err)
	}
	if err := th.ExitFunction(); err != nil {
		t.Fatal(err)
	}

	if err := proc.Seal(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestMoveForwardToEndThenBackwardToStart(t *testing.T) {
	dir := buildTestTrace(t)
	tr, err := trace.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	ps := NewProcessState(tr)
	th := ps.Thread(0)

	if err := th.MoveForwardToEnd(context.Background()); err != nil {
		t.Fatal(err)
	}
	if th.ThreadTime() != th.FinalThreadTime() {
		t.Errorf("thread_time = %d, want final %d", th.ThreadTime(), th.FinalThreadTime())
	}
	if len(th.stack) != 0 {
		t.Errorf("expected empty call stack at end of trace, got %d frames", len(th.stack))
	}
	if _, ok := ps.mallocs.Lookup(0x1000); ok {
		t.Error("expected 0x1000 to be freed by end of trace")
	}

	if err := th.MoveBackwardToEnd(context.Background()); err != nil {
		t.Fatal(err)
	}
	if th.ThreadTime() != 0 {
		t.Errorf("thread_time = %d, want 0 after full rewind", th.ThreadTime())
	}
	if len(th.history) != 0 {
		t.Errorf("expected empty history after full rewind, got %d", len(th.history))
	}
}

func TestMoveToAllocationAndDeallocation(t *testing.T) {
	dir := buildTestTrace(t)
	tr, err := trace.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	ps := NewProcessState(tr)
	th := ps.Thread(0)

	if err := th.MoveToAllocation(context.Background(), 0x1000); err != nil {
		t.Fatal(err)
	}
	if _, ok := ps.mallocs.Lookup(0x1000); !ok {
		t.Error("expected 0x1000 to be live right after MoveToAllocation")
	}

	if err := th.MoveToDeallocation(context.Background(), 0x1000); err != nil {
		t.Fatal(err)
	}
	if _, ok := ps.mallocs.Lookup(0x1000); ok {
		t.Error("expected 0x1000 to be freed right after MoveToDeallocation")
	}

	// Run all the way to the end of the trace, well past the allocation,
	// then ask for it again: MoveToAllocation must seek backward through
	// already-applied history rather than only scanning ahead.
	if err := th.MoveForwardToEnd(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := th.MoveToAllocation(context.Background(), 0x1000); err != nil {
		t.Fatal(err)
	}
	if _, ok := ps.mallocs.Lookup(0x1000); !ok {
		t.Error("expected 0x1000 to be live again after rewinding to its allocation")
	}
}

func TestMoveForwardToEndCancellation(t *testing.T) {
	dir := buildTestTrace(t)
	tr, err := trace.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	ps := NewProcessState(tr)
	th := ps.Thread(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := th.MoveForwardToEnd(ctx); err == nil {
		t.Fatal("expected cancellation error")
	}
	if th.ThreadTime() != 0 {
		t.Errorf("thread_time = %d, want 0: a cancelled seek must not apply any step", th.ThreadTime())
	}

	// The state is still coherent: a fresh, uncancelled context can
	// resume the same seek to completion.
	if err := th.MoveForwardToEnd(context.Background()); err != nil {
		t.Fatal(err)
	}
	if th.ThreadTime() != th.FinalThreadTime() {
		t.Errorf("thread_time = %d, want final %d", th.ThreadTime(), th.FinalThreadTime())
	}
}

func TestMoveForwardThenBackwardOneStepIsIdentity(t *testing.T) {
	dir := buildTestTrace(t)
	tr, err := trace.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	ps := NewProcessState(tr)
	th := ps.Thread(0)

	n, err := th.MoveForward(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("moved %d steps, want 3", n)
	}
	tt := th.ThreadTime()
	off := th.evOffset

	if _, err := th.MoveBackward(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if _, err := th.MoveForward(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if th.ThreadTime() != tt || th.evOffset != off {
		t.Errorf("round trip mismatch: thread_time %d (want %d), offset %d (want %d)",
			th.ThreadTime(), tt, th.evOffset, off)
	}
}

func buildAllocaByValKnownRegionTrace(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "tr2")

	tr, err := trace.Create(dir, 1, 8, false)
	if err != nil {
		t.Fatal(err)
	}

	proc := record.NewProcessListener(tr, 1, nil)
	th := proc.Thread(0)

	if err := th.EnterFunction(1); err != nil {
		t.Fatal(err)
	}
	if err := th.PreInstruction(0); err != nil {
		t.Fatal(err)
	}
	if err := th.Alloca(0, 0x2000, 4, 4); err != nil {
		t.Fatal(err)
	}
	if err := th.ByValArgBegin(0x3000, 32); err != nil {
		t.Fatal(err)
	}
	if err := th.KnownRegionAdd(0x4000, 64, tracefmt.PermissionReadWrite); err != nil {
		t.Fatal(err)
	}
	handle, err := th.StreamOpen("r", "/tmp/x")
	if err != nil {
		t.Fatal(err)
	}
	if err := th.StreamClose(handle); err != nil {
		t.Fatal(err)
	}
	if err := th.KnownRegionRemove(0x4000); err != nil {
		t.Fatal(err)
	}
	if err := th.ByValArgEnd(0x3000); err != nil {
		t.Fatal(err)
	}
	if err := th.ExitFunction(); err != nil {
		t.Fatal(err)
	}

	if err := proc.Seal(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestAllocaByValKnownRegionForwardThenBackward(t *testing.T) {
	dir := buildAllocaByValKnownRegionTrace(t)
	tr, err := trace.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	ps := NewProcessState(tr)
	th := ps.Thread(0)

	// FunctionStart, NewThreadTime, PreInstruction, NewThreadTime, Alloca
	if _, err := th.MoveForward(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if top := th.Top(); top == nil || len(top.Allocas) != 1 || top.Allocas[0].Address != 0x2000 {
		t.Fatalf("expected one live alloca at 0x2000, got %#v", top)
	}

	// ByValArgBegin
	if _, err := th.MoveForward(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if top := th.Top(); top == nil || len(top.ByVals) != 1 || top.ByVals[0].Address != 0x3000 {
		t.Fatalf("expected one live byval area at 0x3000, got %#v", top)
	}

	// KnownRegionAdd
	if _, err := th.MoveForward(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if perm, ok := ps.known.Lookup(0x4000); !ok || perm != memstate.PermissionReadWrite {
		t.Fatalf("expected 0x4000 to be a known read-write region, got perm=%v ok=%v", perm, ok)
	}

	// StreamOpen
	if _, err := th.MoveForward(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if len(ps.streams) != 1 {
		t.Fatalf("expected one open stream, got %d", len(ps.streams))
	}

	// StreamClose
	if _, err := th.MoveForward(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if len(ps.streams) != 0 {
		t.Fatalf("expected no open streams after close, got %d", len(ps.streams))
	}

	// KnownRegionRemove
	if _, err := th.MoveForward(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if _, ok := ps.known.Lookup(0x4000); ok {
		t.Fatal("expected 0x4000 to no longer be a known region")
	}

	// ByValArgEnd
	if _, err := th.MoveForward(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if top := th.Top(); top == nil || len(top.ByVals) != 0 {
		t.Fatalf("expected no live byval areas, got %#v", top)
	}

	if err := th.MoveForwardToEnd(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(th.stack) != 0 {
		t.Fatalf("expected empty call stack at end of trace, got %d frames", len(th.stack))
	}

	if err := th.MoveBackwardToEnd(context.Background()); err != nil {
		t.Fatal(err)
	}
	if th.ThreadTime() != 0 {
		t.Errorf("thread_time = %d, want 0 after full rewind", th.ThreadTime())
	}
	if len(ps.streams) != 0 {
		t.Errorf("expected no open streams after full rewind, got %d", len(ps.streams))
	}
	if _, ok := ps.known.Lookup(0x4000); ok {
		t.Error("expected 0x4000 to be unknown again after full rewind")
	}
}
