package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gotraceview/ttengine/tracefmt"
)

// Stream is one append-only byte stream of the trace: either the
// process-wide stream or a single thread's event stream. During recording
// a Stream is write-only (append); during replay it is read-only and
// supports both forward and backward random access, reporting each
// record's byte offset so callers can seek directly back to it, as
// read_at/read_before need.
type Stream struct {
	f     *os.File
	order binary.ByteOrder
	size  int64 // cached file size, read-only streams only
}

// OpenStream opens an existing stream file for read-only random access.
func OpenStream(path string, order binary.ByteOrder) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &Stream{f: f, order: order, size: fi.Size()}, nil
}

// CreateStream creates a new stream file for append-only writing.
func CreateStream(path string, order binary.ByteOrder) (*Stream, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return &Stream{f: f, order: order}, nil
}

// Close closes the underlying file.
func (s *Stream) Close() error {
	return s.f.Close()
}

// Size returns the current length of the stream in bytes.
func (s *Stream) Size() (int64, error) {
	fi, err := s.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// Append writes rec to the end of the stream and returns the byte offset
// at which the record begins, per the codec's write(kind, fields) →
// offset contract.
func (s *Stream) Append(rec tracefmt.Record) (offset int64, err error) {
	off, err := s.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	framed := tracefmt.Frame(rec, s.order)
	if _, err := s.f.WriteAt(framed, off); err != nil {
		return 0, err
	}
	return off, nil
}

var errOffsetOutOfRange = errors.New("trace: offset out of range")

// ReadAt decodes the record beginning at offset and returns it along
// with the offset of the next record (offset + this record's framed
// size). It is the reader-side half of the codec's read_at contract.
func (s *Stream) ReadAt(offset int64) (tracefmt.Record, int64, error) {
	if offset < 0 || offset >= s.size {
		return nil, 0, errOffsetOutOfRange
	}
	// Read enough for the largest plausible record in one shot; fall
	// back to a second read if the record's body is larger.
	const guess = 256
	n := guess
	if int64(n) > s.size-offset {
		n = int(s.size - offset)
	}
	buf := make([]byte, n)
	if _, err := s.f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, 0, err
	}
	rec, total, err := tracefmt.ReadForward(buf, s.order)
	if err != nil {
		// buf may have been too short to contain the whole record;
		// retry with the full remaining range.
		rest := s.size - offset
		if int64(n) >= rest {
			return nil, 0, err
		}
		buf = make([]byte, rest)
		if _, err := s.f.ReadAt(buf, offset); err != nil && err != io.EOF {
			return nil, 0, err
		}
		rec, total, err = tracefmt.ReadForward(buf, s.order)
		if err != nil {
			return nil, 0, err
		}
	}
	return rec, offset + int64(total), nil
}

// ReadBefore decodes the record ending immediately before offset
// (i.e. whose framing suffix occupies [offset-4, offset)) and returns it
// along with the offset at which that record begins. It is the
// reader-side half of the codec's read_before contract.
func (s *Stream) ReadBefore(offset int64) (tracefmt.Record, int64, error) {
	if offset <= 0 || offset > s.size {
		return nil, 0, errOffsetOutOfRange
	}
	const guess = 256
	start := offset - guess
	if start < 0 {
		start = 0
	}
	buf := make([]byte, offset-start)
	if _, err := s.f.ReadAt(buf, start); err != nil && err != io.EOF {
		return nil, 0, err
	}
	rec, total, err := tracefmt.ReadBackward(buf, s.order)
	if err != nil {
		if start == 0 {
			return nil, 0, err
		}
		buf = make([]byte, offset)
		if _, err := s.f.ReadAt(buf, 0); err != nil && err != io.EOF {
			return nil, 0, err
		}
		rec, total, err = tracefmt.ReadBackward(buf, s.order)
		if err != nil {
			return nil, 0, err
		}
	}
	return rec, offset - int64(total), nil
}

// Records returns an iterator that walks every record in the stream from
// its start, in file order, up to the stream's length at the time of the
// call. This is the efficient path for a full forward pass (e.g.
// cmd/ttdump's dump of an entire stream), as opposed to the random-access
// ReadAt/ReadBefore pair.
func (s *Stream) Records() *RecordIter {
	size := s.size
	if fi, err := s.f.Stat(); err == nil {
		size = fi.Size()
	}
	return &RecordIter{s: s, br: newBufferedReaderAt(s.f, size)}
}

// RecordIter is a forward iterator over a Stream's records.
type RecordIter struct {
	s      *Stream
	br     *bufferedReaderAt
	Record tracefmt.Record
	Offset int64
	err    error
}

// Next advances to the next record. It returns false at end of stream or
// on error; check Err to distinguish the two.
func (it *RecordIter) Next() bool {
	if it.err != nil {
		return false
	}
	offset := it.br.pos
	var hdr [4]byte
	n, err := it.br.Read(hdr[:])
	if err == io.EOF && n == 0 {
		return false
	}
	if err != nil && err != io.EOF {
		it.err = err
		return false
	}
	if n < 4 {
		it.err = fmt.Errorf("trace: truncated record header at offset %d", offset)
		return false
	}
	bodyLen := it.s.order.Uint32(hdr[:])
	body := make([]byte, bodyLen+4) // +4 for the trailing length suffix
	if _, err := io.ReadFull(it.br, body); err != nil {
		it.err = fmt.Errorf("trace: truncated record body at offset %d: %w", offset, err)
		return false
	}
	suffix := it.s.order.Uint32(body[bodyLen:])
	if suffix != bodyLen {
		it.err = fmt.Errorf("trace: corrupt record framing at offset %d", offset)
		return false
	}
	rec, err := tracefmtDecodeBody(body[:bodyLen], it.s.order)
	if err != nil {
		it.err = err
		return false
	}
	it.Record = rec
	it.Offset = offset
	return true
}

// Err returns the first error encountered by Next.
func (it *RecordIter) Err() error {
	return it.err
}

func tracefmtDecodeBody(body []byte, order binary.ByteOrder) (tracefmt.Record, error) {
	// Re-frame the already-consumed length prefix so we can reuse
	// tracefmt.ReadForward's single decode path instead of duplicating
	// decodeFields' kind switch here.
	framed := make([]byte, 4+len(body)+4)
	order.PutUint32(framed[0:4], uint32(len(body)))
	copy(framed[4:], body)
	order.PutUint32(framed[4+len(body):], uint32(len(body)))
	rec, _, err := tracefmt.ReadForward(framed, order)
	return rec, err
}
