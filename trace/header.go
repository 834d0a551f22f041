package trace

import (
	"encoding/binary"
	"fmt"

	"github.com/dchest/siphash"
	"github.com/google/uuid"
)

// magic identifies the header file; the trailing digit is a format
// version, following the same "PERFILE2"-style versioned magic
// perffile.fileHeader checks.
var magic = [8]byte{'T', 'T', 'E', 'N', 'G', '1', '\n', 0}

// checksumKey0/1 are fixed siphash keys. The checksum defends against
// truncation and bit-rot within a single recording, not against
// tampering, so a fixed key (rather than a per-trace random one) is
// sufficient and keeps Header self-contained.
const (
	checksumKey0 = 0x7365656320747421
	checksumKey1 = 0x656e67696e652e30
)

// Header is the fixed-layout prologue of a trace directory, stored in the
// "header" file. Endianness and pointer width match the recorder (the
// engine does not attempt cross-architecture replay). The header itself
// is always encoded little-endian; the event streams and function tables
// use the byte order BigEndian selects (see ByteOrder). PointerWidth is
// recorded but not checked against the host by Open.
type Header struct {
	Version      uint32
	PointerWidth uint8 // 4 or 8
	BigEndian    bool
	SessionID    uuid.UUID
	ThreadCount  uint32

	// FinalProcessTime and ThreadFinalTimes make move_forward_to_end /
	// move_backward_to_end O(1): the header alone, with no event-stream
	// scan, tells a consumer when it has reached the end.
	FinalProcessTime uint64
	ThreadFinalTimes []uint64
}

const headerVersion = 1

// NewHeader creates the header for a fresh recording with threadCount
// threads, all currently at process/thread time zero.
func NewHeader(threadCount int, pointerWidth uint8, bigEndian bool) *Header {
	return &Header{
		Version:          headerVersion,
		PointerWidth:     pointerWidth,
		BigEndian:        bigEndian,
		SessionID:        uuid.New(),
		ThreadCount:      uint32(threadCount),
		ThreadFinalTimes: make([]uint64, threadCount),
	}
}

// ByteOrder returns the byte order events in this trace's streams are
// encoded with.
func (h *Header) ByteOrder() binary.ByteOrder {
	if h.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Encode serializes h, including a trailing checksum covering every
// preceding field.
func (h *Header) Encode() []byte {
	var buf []byte
	buf = append(buf, magic[:]...)
	buf = appendU32(buf, h.Version)
	buf = append(buf, h.PointerWidth)
	if h.BigEndian {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	sid, _ := h.SessionID.MarshalBinary()
	buf = append(buf, sid...)
	buf = appendU32(buf, h.ThreadCount)
	buf = appendU64(buf, h.FinalProcessTime)
	for _, t := range h.ThreadFinalTimes {
		buf = appendU64(buf, t)
	}
	sum := siphash.Hash(checksumKey0, checksumKey1, buf)
	buf = appendU64(buf, sum)
	return buf
}

func appendU32(buf []byte, x uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], x)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, x uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], x)
	return append(buf, tmp[:]...)
}

// DecodeHeader parses a Header previously produced by Encode, verifying
// its magic and structural checksum. A checksum mismatch or malformed
// magic means the trace is corrupt: replay must not proceed past it.
func DecodeHeader(buf []byte) (*Header, error) {
	if len(buf) < len(magic)+8 {
		return nil, fmt.Errorf("trace: header too short (%d bytes)", len(buf))
	}
	if string(buf[:len(magic)]) != string(magic[:]) {
		return nil, fmt.Errorf("trace: bad header magic %q", buf[:len(magic)])
	}

	body := buf[:len(buf)-8]
	wantSum := binary.LittleEndian.Uint64(buf[len(buf)-8:])
	gotSum := siphash.Hash(checksumKey0, checksumKey1, body)
	if gotSum != wantSum {
		return nil, fmt.Errorf("trace: header checksum mismatch (truncated or corrupt trace)")
	}

	p := body[len(magic):]
	h := &Header{}
	h.Version = binary.LittleEndian.Uint32(p[0:4])
	if h.Version != headerVersion {
		return nil, fmt.Errorf("trace: unsupported header version %d", h.Version)
	}
	h.PointerWidth = p[4]
	h.BigEndian = p[5] != 0
	var sidBytes [16]byte
	copy(sidBytes[:], p[6:22])
	if err := h.SessionID.UnmarshalBinary(sidBytes[:]); err != nil {
		return nil, fmt.Errorf("trace: bad session id: %w", err)
	}
	p = p[22:]
	h.ThreadCount = binary.LittleEndian.Uint32(p[0:4])
	p = p[4:]
	h.FinalProcessTime = binary.LittleEndian.Uint64(p[0:8])
	p = p[8:]
	h.ThreadFinalTimes = make([]uint64, h.ThreadCount)
	for i := range h.ThreadFinalTimes {
		if len(p) < 8 {
			return nil, fmt.Errorf("trace: truncated header thread times")
		}
		h.ThreadFinalTimes[i] = binary.LittleEndian.Uint64(p[0:8])
		p = p[8:]
	}
	return h, nil
}
