package tracefmt

import (
	"encoding/binary"
	"math"
)

// bufEncoder appends fixed-layout fields to a growing byte slice, the
// write-side mirror of bufDecoder. One is created per record by Frame.
type bufEncoder struct {
	buf   []byte
	order binary.ByteOrder
}

func (b *bufEncoder) bytes(x []byte) {
	b.buf = append(b.buf, x...)
}

func (b *bufEncoder) u8(x uint8) {
	b.buf = append(b.buf, x)
}

func (b *bufEncoder) i8(x int8) {
	b.u8(uint8(x))
}

func (b *bufEncoder) bool(x bool) {
	if x {
		b.u8(1)
	} else {
		b.u8(0)
	}
}

func (b *bufEncoder) u16(x uint16) {
	var tmp [2]byte
	b.order.PutUint16(tmp[:], x)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bufEncoder) i16(x int16) {
	b.u16(uint16(x))
}

func (b *bufEncoder) u32(x uint32) {
	var tmp [4]byte
	b.order.PutUint32(tmp[:], x)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bufEncoder) i32(x int32) {
	b.u32(uint32(x))
}

func (b *bufEncoder) f32(x float32) {
	b.u32(math.Float32bits(x))
}

func (b *bufEncoder) u64(x uint64) {
	var tmp [8]byte
	b.order.PutUint64(tmp[:], x)
	b.buf = append(b.buf, tmp[:]...)
}

func (b *bufEncoder) i64(x int64) {
	b.u64(uint64(x))
}

func (b *bufEncoder) f64(x float64) {
	b.u64(math.Float64bits(x))
}

// lenString writes a uint32 byte length followed by the string's bytes.
func (b *bufEncoder) lenString(s string) {
	b.u32(uint32(len(s)))
	b.buf = append(b.buf, s...)
}

// stringList writes a uint32 count followed by that many lenStrings.
func (b *bufEncoder) stringList(ss []string) {
	b.u32(uint32(len(ss)))
	for _, s := range ss {
		b.lenString(s)
	}
}
