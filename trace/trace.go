// Package trace implements the on-disk trace directory format: the
// header file, the process-wide event stream, and each thread's event
// stream and function table. tracefmt implements the record codec used
// within each stream; this package implements the directory layout that
// ties those streams, plus the header, into one trace.
package trace

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

const (
	headerFileName  = "header"
	processFileName = "process.events"
)

func threadEventsFileName(tid int) string {
	return fmt.Sprintf("thread.%d.events", tid)
}

func threadFunctionsFileName(tid int) string {
	return fmt.Sprintf("thread.%d.functions", tid)
}

// Trace is an open trace directory: a header plus one process stream and,
// per thread, an event stream and a function table. The recording side
// opens a Trace with Create and only ever appends; the replay side opens
// one with Open and only ever reads.
type Trace struct {
	dir     string
	header  *Header
	process *Stream

	threads []*threadStreams
}

type threadStreams struct {
	events    *Stream
	functions *os.File
}

// Create makes a new, empty trace directory at dir for a recording of
// threadCount threads, and returns it open for writing.
func Create(dir string, threadCount int, pointerWidth uint8, bigEndian bool) (*Trace, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	h := NewHeader(threadCount, pointerWidth, bigEndian)
	order := h.ByteOrder()

	process, err := CreateStream(filepath.Join(dir, processFileName), order)
	if err != nil {
		return nil, err
	}

	t := &Trace{dir: dir, header: h, process: process}
	for tid := 0; tid < threadCount; tid++ {
		events, err := CreateStream(filepath.Join(dir, threadEventsFileName(tid)), order)
		if err != nil {
			t.Close()
			return nil, err
		}
		funcs, err := os.OpenFile(filepath.Join(dir, threadFunctionsFileName(tid)), os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
		if err != nil {
			t.Close()
			return nil, err
		}
		t.threads = append(t.threads, &threadStreams{events: events, functions: funcs})
	}
	return t, nil
}

// Open opens an existing, sealed trace directory for replay.
func Open(dir string) (*Trace, error) {
	raw, err := os.ReadFile(filepath.Join(dir, headerFileName))
	if err != nil {
		return nil, err
	}
	h, err := DecodeHeader(raw)
	if err != nil {
		return nil, err
	}
	order := h.ByteOrder()

	process, err := OpenStream(filepath.Join(dir, processFileName), order)
	if err != nil {
		return nil, err
	}

	t := &Trace{dir: dir, header: h, process: process}
	for tid := 0; tid < int(h.ThreadCount); tid++ {
		events, err := OpenStream(filepath.Join(dir, threadEventsFileName(tid)), order)
		if err != nil {
			t.Close()
			return nil, err
		}
		funcs, err := os.Open(filepath.Join(dir, threadFunctionsFileName(tid)))
		if err != nil {
			t.Close()
			return nil, err
		}
		t.threads = append(t.threads, &threadStreams{events: events, functions: funcs})
	}
	return t, nil
}

// Seal finalizes a trace created with Create: it stamps the header with
// the final process time and each thread's final thread_time, then
// writes the header file. After Seal, the trace directory is fit for
// Open. A trace that is never sealed (e.g. the recorded process
// crashed) has no header file and cannot be replayed, matching the
// engine's "no header, no replay" failure mode.
func (t *Trace) Seal(finalProcessTime uint64, threadFinalTimes []uint64) error {
	t.header.FinalProcessTime = finalProcessTime
	t.header.ThreadFinalTimes = threadFinalTimes
	return os.WriteFile(filepath.Join(t.dir, headerFileName), t.header.Encode(), 0644)
}

// Close closes every stream and file underlying t.
func (t *Trace) Close() error {
	var first error
	if t.process != nil {
		if err := t.process.Close(); err != nil && first == nil {
			first = err
		}
	}
	for _, ts := range t.threads {
		if ts.events != nil {
			if err := ts.events.Close(); err != nil && first == nil {
				first = err
			}
		}
		if ts.functions != nil {
			if err := ts.functions.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// Header returns the trace's header.
func (t *Trace) Header() *Header { return t.header }

// Process returns the process-wide event stream.
func (t *Trace) Process() *Stream { return t.process }

// Thread returns thread tid's event stream.
func (t *Trace) Thread(tid int) *Stream { return t.threads[tid].events }

// ByteOrder returns the byte order this trace's streams are encoded
// with.
func (t *Trace) ByteOrder() binary.ByteOrder { return t.header.ByteOrder() }

// FunctionRecord describes one function activation in a thread's
// function table: the span of the thread's event stream it owns, the
// thread_time it was entered and exited at, and a ChildListOff field for
// the function-table offset of its first child activation, -1 meaning
// none. record.ThreadListener always writes -1 there. The replay
// navigation in package replay does not read function records.
type FunctionRecord struct {
	FunctionIndex uint32
	EventStart    int64
	EventEnd      int64
	ThreadEntered uint64
	ThreadExited  uint64
	ChildListOff  int64
}

const functionRecordSize = 4 + 8 + 8 + 8 + 8 + 8

// AppendFunctionRecord appends fr to tid's function table and returns
// the byte offset it was written at.
func (t *Trace) AppendFunctionRecord(tid int, fr FunctionRecord) (int64, error) {
	f := t.threads[tid].functions
	off, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	buf := make([]byte, functionRecordSize)
	order := t.ByteOrder()
	order.PutUint32(buf[0:4], fr.FunctionIndex)
	putI64(order, buf[4:12], fr.EventStart)
	putI64(order, buf[12:20], fr.EventEnd)
	order.PutUint64(buf[20:28], fr.ThreadEntered)
	order.PutUint64(buf[28:36], fr.ThreadExited)
	putI64(order, buf[36:44], fr.ChildListOff)
	if _, err := f.WriteAt(buf, off); err != nil {
		return 0, err
	}
	return off, nil
}

// ReadFunctionRecord reads the function record at byte offset off in
// tid's function table.
func (t *Trace) ReadFunctionRecord(tid int, off int64) (FunctionRecord, error) {
	f := t.threads[tid].functions
	buf := make([]byte, functionRecordSize)
	if _, err := f.ReadAt(buf, off); err != nil {
		return FunctionRecord{}, err
	}
	order := t.ByteOrder()
	return FunctionRecord{
		FunctionIndex: order.Uint32(buf[0:4]),
		EventStart:    getI64(order, buf[4:12]),
		EventEnd:      getI64(order, buf[12:20]),
		ThreadEntered: order.Uint64(buf[20:28]),
		ThreadExited:  order.Uint64(buf[28:36]),
		ChildListOff:  getI64(order, buf[36:44]),
	}, nil
}

func putI64(order binary.ByteOrder, buf []byte, x int64) {
	order.PutUint64(buf, uint64(x))
}

func getI64(order binary.ByteOrder, buf []byte) int64 {
	return int64(order.Uint64(buf))
}
