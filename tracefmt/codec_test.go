package tracefmt

import (
	"encoding/binary"
	"reflect"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []Record{
		FunctionStart{FunctionIndex: 7},
		FunctionEnd{},
		NewThreadTime{ThreadTime: 42},
		InstructionI64{InstrIndex: 3, Value: -9},
		InstructionF64{InstrIndex: 4, Value: 3.5},
		Malloc{Address: 0x1000, Size: 16, AllocatingInstruction: 9},
		Free{Address: 0x1000},
		StateOverwriteSplitFragment{OldFragmentStart: 0x2000, Address: 0x2008, Length: 4},
		StreamOpen{Handle: 3, Mode: "r", Path: "/tmp/x"},
		StreamWrite{Handle: 3, Data: []byte("hello")},
		RuntimeError{ErrorKind: 2, InstrIndex: 5, Severity: SeverityFatal, IsTopLevel: true, Payload: []byte{1, 2, 3}},
		Args{Values: []string{"a", "b c", ""}},
	}

	for _, order := range []binary.ByteOrder{binary.LittleEndian, binary.BigEndian} {
		for _, rec := range tests {
			framed := Frame(rec, order)
			got, n, err := ReadForward(framed, order)
			if err != nil {
				t.Fatalf("%T: ReadForward: %v", rec, err)
			}
			if n != len(framed) {
				t.Fatalf("%T: consumed %d bytes, want %d", rec, n, len(framed))
			}
			if !reflect.DeepEqual(got, rec) {
				t.Fatalf("%T: got %#v, want %#v", rec, got, rec)
			}

			gotBack, nBack, err := ReadBackward(framed, order)
			if err != nil {
				t.Fatalf("%T: ReadBackward: %v", rec, err)
			}
			if nBack != len(framed) {
				t.Fatalf("%T: backward consumed %d bytes, want %d", rec, nBack, len(framed))
			}
			if !reflect.DeepEqual(gotBack, rec) {
				t.Fatalf("%T: backward got %#v, want %#v", rec, gotBack, rec)
			}
		}
	}
}

func TestReadForwardTruncated(t *testing.T) {
	framed := Frame(FunctionStart{FunctionIndex: 1}, binary.LittleEndian)
	if _, _, err := ReadForward(framed[:len(framed)-1], binary.LittleEndian); err == nil {
		t.Fatal("expected error on truncated record")
	}
}

func TestReadForwardCorruptFraming(t *testing.T) {
	framed := Frame(FunctionStart{FunctionIndex: 1}, binary.LittleEndian)
	framed[len(framed)-1] ^= 0xff
	if _, _, err := ReadForward(framed, binary.LittleEndian); err == nil {
		t.Fatal("expected error on mismatched prefix/suffix")
	}
}

func TestMultipleRecordsForward(t *testing.T) {
	order := binary.LittleEndian
	var buf []byte
	recs := []Record{
		FunctionStart{FunctionIndex: 1},
		NewThreadTime{ThreadTime: 1},
		FunctionEnd{},
	}
	for _, r := range recs {
		buf = append(buf, Frame(r, order)...)
	}

	var got []Record
	for len(buf) > 0 {
		rec, n, err := ReadForward(buf, order)
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, rec)
		buf = buf[n:]
	}
	if !reflect.DeepEqual(got, recs) {
		t.Fatalf("got %#v, want %#v", got, recs)
	}
}
