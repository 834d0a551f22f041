package tracefmt

import (
	"encoding/binary"
	"math"
)

// bufDecoder decodes fixed-layout fields from a byte slice, advancing
// through it field by field. One is created per record; its remaining
// bytes after the fixed fields are a variable-length record's payload.
type bufDecoder struct {
	buf   []byte
	order binary.ByteOrder
}

func (b *bufDecoder) skip(n int) {
	b.buf = b.buf[n:]
}

func (b *bufDecoder) bytes(x []byte) {
	copy(x, b.buf)
	b.buf = b.buf[len(x):]
}

// rest returns (and consumes) every remaining byte, for a variable-length
// record's trailing payload.
func (b *bufDecoder) rest() []byte {
	x := b.buf
	b.buf = nil
	return x
}

func (b *bufDecoder) u8() uint8 {
	x := b.buf[0]
	b.buf = b.buf[1:]
	return x
}

func (b *bufDecoder) i8() int8 {
	return int8(b.u8())
}

func (b *bufDecoder) bool() bool {
	return b.u8() != 0
}

func (b *bufDecoder) u16() uint16 {
	x := b.order.Uint16(b.buf)
	b.buf = b.buf[2:]
	return x
}

func (b *bufDecoder) i16() int16 {
	return int16(b.u16())
}

func (b *bufDecoder) u32() uint32 {
	x := b.order.Uint32(b.buf)
	b.buf = b.buf[4:]
	return x
}

func (b *bufDecoder) i32() int32 {
	return int32(b.u32())
}

func (b *bufDecoder) f32() float32 {
	return math.Float32frombits(b.u32())
}

func (b *bufDecoder) u64() uint64 {
	x := b.order.Uint64(b.buf)
	b.buf = b.buf[8:]
	return x
}

func (b *bufDecoder) i64() int64 {
	return int64(b.u64())
}

func (b *bufDecoder) f64() float64 {
	return math.Float64frombits(b.u64())
}

// cstring reads a NUL-terminated string. No current record layout uses
// it: string fields are length-prefixed and read with lenString.
func (b *bufDecoder) cstring() string {
	for i, c := range b.buf {
		if c == 0 {
			x := string(b.buf[:i])
			b.buf = b.buf[i+1:]
			return x
		}
	}
	x := string(b.buf)
	b.buf = b.buf[:0]
	return x
}

// lenString reads a uint32 byte length followed by exactly that many bytes
// of string data (no NUL terminator required).
func (b *bufDecoder) lenString() string {
	l := b.u32()
	if l > uint32(len(b.buf)) {
		l = uint32(len(b.buf))
	}
	x := string(b.buf[:l])
	b.buf = b.buf[l:]
	return x
}

// stringList reads a uint32 count followed by that many lenStrings; used
// for Args and Env payloads.
func (b *bufDecoder) stringList() []string {
	count := b.u32()
	out := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		out = append(out, b.lenString())
	}
	return out
}
