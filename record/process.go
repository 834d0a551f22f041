// Package record implements the recording side of the engine: the
// listeners a running, instrumented program notifies as it executes,
// which append events to a trace's streams and maintain just enough
// state (synthetic clocks, the live allocation table, open streams) to
// know what to write next.
//
// Lock ordering across a ProcessListener's three locks is fixed:
// memory < dynamicMemory < streams. A thread holding streams must never
// attempt to acquire memory or dynamicMemory; code that needs more than
// one lock always acquires them in that order. This mirrors the fixed
// acquisition order the original engine's recording runtime relies on
// to avoid deadlock between threads that are concurrently writing
// memory state, allocating, and touching streams.
package record

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gotraceview/ttengine/memstate"
	"github.com/gotraceview/ttengine/trace"
	"github.com/gotraceview/ttengine/tracefmt"
)

// Logger receives diagnostic lines from a ProcessListener. Embedding
// hosts that already have their own structured logger can implement
// this trivially; a nil Logger passed to NewProcessListener discards
// every line.
type Logger interface {
	Logf(format string, args ...interface{})
}

type discardLogger struct{}

func (discardLogger) Logf(string, ...interface{}) {}

// ProcessListener is the recording-side counterpart of replay's
// ProcessState: it owns the trace being written, the synthetic process
// clock, and every piece of state shared across threads.
type ProcessListener struct {
	trace  *trace.Trace
	logger Logger

	processTime uint64 // atomic

	memoryMu sync.Mutex
	memory   memstate.Store
	known    memstate.KnownRegions

	dynamicMu sync.Mutex
	mallocs   memstate.Allocations

	streamsMu sync.Mutex
	streams   map[uint64]string // handle -> path, open streams only
	dirs      map[uint64]string

	nextHandle uint64 // atomic

	threads []*ThreadListener

	exitOnce sync.Once
	exitErr  error
}

// NewProcessListener creates a listener that records into t, an already
// Create'd trace with threadCount thread slots.
func NewProcessListener(t *trace.Trace, threadCount int, logger Logger) *ProcessListener {
	if logger == nil {
		logger = discardLogger{}
	}
	p := &ProcessListener{
		trace:   t,
		logger:  logger,
		streams: make(map[uint64]string),
		dirs:    make(map[uint64]string),
	}
	p.threads = make([]*ThreadListener, threadCount)
	for i := range p.threads {
		p.threads[i] = newThreadListener(p, i)
	}
	return p
}

// Thread returns the listener for thread tid.
func (p *ProcessListener) Thread(tid int) *ThreadListener { return p.threads[tid] }

// ProcessTime returns the current synthetic process time.
func (p *ProcessListener) ProcessTime() uint64 {
	return atomic.LoadUint64(&p.processTime)
}

// TickProcessTime issues a new, strictly-increasing process time and
// returns it. A ThreadListener draws one per instruction, lazily, the
// first time that instruction is reported through Instruction or a
// NotifyValue* call, or performs a malloc or free (see
// ensureProcessTime); later notifications for the same instruction
// reuse it. State writes, known-region changes, stream and
// dir events, and runtime errors do not draw a process time.
func (p *ProcessListener) TickProcessTime() uint64 {
	return atomic.AddUint64(&p.processTime, 1)
}

// recordMalloc appends a Malloc event to tid's stream and records the
// allocation. The caller is responsible for having already stamped the
// current instruction's process time (via the calling thread listener's
// ensureProcessTime), so a malloc sharing an instruction with other
// shared-state mutations doesn't burn an extra process_time tick.
func (p *ProcessListener) recordMalloc(tid int, address, size uint64, instr uint32) error {
	p.dynamicMu.Lock()
	p.mallocs.Add(address, size, instr)
	p.dynamicMu.Unlock()

	_, err := p.trace.Thread(tid).Append(tracefmt.Malloc{
		Address: address, Size: size, AllocatingInstruction: instr,
	})
	return err
}

// recordFree appends a Free event to tid's stream and removes the
// allocation. See recordMalloc for the process_time stamping contract.
func (p *ProcessListener) recordFree(tid int, address uint64) error {
	p.dynamicMu.Lock()
	_, ok := p.mallocs.Remove(address)
	p.dynamicMu.Unlock()
	if !ok {
		p.logger.Logf("record: free of untracked address %#x", address)
	}

	_, err := p.trace.Thread(tid).Append(tracefmt.Free{Address: address})
	return err
}

// recordStreamOpen registers a new open stream/dir handle, acquiring
// only the streams lock.
func (p *ProcessListener) recordStreamOpen(tid int, isDir bool, mode, path string) (uint64, error) {
	p.streamsMu.Lock()
	handle := atomic.AddUint64(&p.nextHandle, 1)
	if isDir {
		p.dirs[handle] = path
	} else {
		p.streams[handle] = path
	}
	p.streamsMu.Unlock()

	var rec tracefmt.Record
	if isDir {
		rec = tracefmt.DirOpen{Handle: handle, Path: path}
	} else {
		rec = tracefmt.StreamOpen{Handle: handle, Mode: mode, Path: path}
		p.logger.Logf("record: stream open handle=%#x path=%s flags=%#o", handle, path, posixOpenFlags(mode))
	}
	if _, err := p.trace.Thread(tid).Append(rec); err != nil {
		return 0, err
	}
	return handle, nil
}

func (p *ProcessListener) recordStreamClose(tid int, isDir bool, handle uint64) error {
	p.streamsMu.Lock()
	if isDir {
		delete(p.dirs, handle)
	} else {
		delete(p.streams, handle)
	}
	p.streamsMu.Unlock()

	var rec tracefmt.Record
	if isDir {
		rec = tracefmt.DirClose{Handle: handle}
	} else {
		rec = tracefmt.StreamClose{Handle: handle}
	}
	_, err := p.trace.Thread(tid).Append(rec)
	return err
}

func (p *ProcessListener) recordStreamWrite(tid int, handle uint64, data []byte) error {
	p.streamsMu.Lock()
	_, ok := p.streams[handle]
	p.streamsMu.Unlock()
	if !ok {
		return fmt.Errorf("record: write to unknown stream handle %#x", handle)
	}
	_, err := p.trace.Thread(tid).Append(tracefmt.StreamWrite{Handle: handle, Data: data})
	return err
}

// RecordArgs appends the traced program's argv to the process-wide
// stream. Call once, before any thread starts recording.
func (p *ProcessListener) RecordArgs(argv []string) error {
	_, err := p.trace.Process().Append(tracefmt.Args{Values: argv})
	return err
}

// RecordEnv appends the traced program's environment to the
// process-wide stream. Call once, before any thread starts recording.
func (p *ProcessListener) RecordEnv(env []string) error {
	_, err := p.trace.Process().Append(tracefmt.Env{Values: env})
	return err
}

// Seal finalizes the underlying trace, recording every thread's final
// thread_time. Call this once after every ThreadListener has exited.
func (p *ProcessListener) Seal() error {
	finals := make([]uint64, len(p.threads))
	for i, th := range p.threads {
		finals[i] = th.ThreadTime()
	}
	return p.trace.Seal(p.ProcessTime(), finals)
}

// SynchronizedExit seals and closes the trace exactly once, no matter
// how many threads call it concurrently after a fatal run-time error.
// Every thread still executing at the time of a fatal error should call
// this before the process aborts, so the trace is always left in a
// replayable state instead of mid-write.
func (p *ProcessListener) SynchronizedExit() error {
	p.exitOnce.Do(func() {
		if err := p.Seal(); err != nil {
			p.exitErr = err
			return
		}
		p.exitErr = p.trace.Close()
	})
	return p.exitErr
}
