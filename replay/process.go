// Package replay implements the replay side of the engine: the
// reconstructable ProcessState/ThreadState pair and the navigation
// operations (move_forward, move_backward, move_to_allocation, ...)
// that walk a trace's streams to mutate that state into the state at a
// different logical time.
package replay

import (
	"sync"

	"github.com/gotraceview/ttengine/memstate"
	"github.com/gotraceview/ttengine/trace"
	"github.com/gotraceview/ttengine/tracefmt"
)

// ProcessState is the state of a replayed process at one point in
// logical time: memory, allocations, known regions, open streams, and
// every thread's individual state. It is mutated in place by the
// navigation operations in nav.go.
type ProcessState struct {
	tr *trace.Trace

	updateMu sync.Mutex
	updateCV *sync.Cond
	// processTime is read under updateMu; ScopedUpdate blocks on updateCV
	// until it reaches the caller's required value.
	processTime uint64

	threads []*ThreadState

	mallocs memstate.Allocations
	memory  memstate.Store
	known   memstate.KnownRegions

	streams map[uint64]openStream
	dirs    map[uint64]string
}

type openStream struct {
	mode, path string
}

// NewProcessState opens tr for replay and returns the state positioned
// at the very beginning of the trace (every clock at zero, nothing
// allocated, no memory known).
func NewProcessState(tr *trace.Trace) *ProcessState {
	p := &ProcessState{
		tr:      tr,
		streams: make(map[uint64]openStream),
		dirs:    make(map[uint64]string),
	}
	p.updateCV = sync.NewCond(&p.updateMu)
	n := int(tr.Header().ThreadCount)
	p.threads = make([]*ThreadState, n)
	for i := range p.threads {
		p.threads[i] = newThreadState(p, i)
	}
	return p
}

// ProcessTime returns the process's current synthetic clock value.
func (p *ProcessState) ProcessTime() uint64 {
	p.updateMu.Lock()
	defer p.updateMu.Unlock()
	return p.processTime
}

// Thread returns the state for thread tid.
func (p *ProcessState) Thread(tid int) *ThreadState { return p.threads[tid] }

// ThreadCount returns the number of threads in the trace.
func (p *ProcessState) ThreadCount() int { return len(p.threads) }

// FinalProcessTime returns the process time the trace ends at, read
// directly from the header (no stream scan needed), making
// move_forward_to_end's completion check O(1).
func (p *ProcessState) FinalProcessTime() uint64 {
	return p.tr.Header().FinalProcessTime
}

// Args returns the traced program's argv, recorded once on the
// process-wide stream at process start. Unlike per-thread records,
// Args/Env never participate in move_forward/move_backward: they are
// static for the life of the trace, so there is nothing to step through.
func (p *ProcessState) Args() ([]string, error) {
	values, err := p.scanProcessStream(tracefmt.KindArgs)
	return values, err
}

// Env returns the traced program's environment, recorded the same way
// as Args.
func (p *ProcessState) Env() ([]string, error) {
	return p.scanProcessStream(tracefmt.KindEnv)
}

func (p *ProcessState) scanProcessStream(kind tracefmt.Kind) ([]string, error) {
	it := p.tr.Process().Records()
	for it.Next() {
		switch rec := it.Record.(type) {
		case tracefmt.Args:
			if kind == tracefmt.KindArgs {
				return rec.Values, it.Err()
			}
		case tracefmt.Env:
			if kind == tracefmt.KindEnv {
				return rec.Values, it.Err()
			}
		}
	}
	return nil, it.Err()
}

// ScopedUpdate grants its holder exclusive permission to mutate shared
// ProcessState fields (memory, mallocs, known, streams), and blocks
// until the process time it was created for has actually been reached.
// This is a direct transliteration of the original engine's
// ProcessState::ScopedUpdate: a mutex plus a condition variable, rather
// than a single plain lock, because a ThreadState's navigation step may
// need to wait for sibling threads to catch up to the same process time
// before it is safe to apply a cross-thread-visible mutation (e.g. two
// threads racing to free the process-wide memory lock in the same
// process-time tick).
type ScopedUpdate struct {
	p        *ProcessState
	released bool
}

// GetScopedUpdate blocks until p.processTime == requiredProcessTime,
// then returns a ScopedUpdate holding p's update lock. The caller must
// call Release when done (typically via defer).
func (p *ProcessState) GetScopedUpdate(requiredProcessTime uint64) *ScopedUpdate {
	p.updateMu.Lock()
	for p.processTime != requiredProcessTime {
		p.updateCV.Wait()
	}
	return &ScopedUpdate{p: p}
}

// Release unlocks the update lock and wakes every other ScopedUpdate
// waiting on a different required process time.
func (u *ScopedUpdate) Release() {
	if u.released {
		return
	}
	u.released = true
	u.p.updateMu.Unlock()
	u.p.updateCV.Broadcast()
}

// setProcessTime sets the shared process time; waiters are woken when
// the ScopedUpdate is released. Must be called while holding a
// ScopedUpdate for the old time.
func (u *ScopedUpdate) setProcessTime(t uint64) {
	u.p.processTime = t
}
