package tracefmt

import (
	"encoding/binary"
	"fmt"
)

// frameOverhead is the number of bytes used by the length prefix and
// length suffix that bracket every record (see Frame). Every record,
// fixed or variable, is framed this way: it is the simplest rule that
// supports exact backward scanning uniformly for every kind, extending a
// length suffix on variable records alone to every record.
const frameOverhead = 4 + 4

// Frame encodes rec into a complete framed record: a uint32 length
// prefix, the kind byte, rec's fields (and payload, if any), and a
// trailing uint32 length suffix equal to the prefix. The prefix/suffix
// count only the kind byte plus fields/payload, not themselves.
func Frame(rec Record, order binary.ByteOrder) []byte {
	enc := &bufEncoder{order: order}
	enc.u8(uint8(rec.Kind()))
	encodeFields(enc, rec)

	body := enc.buf
	out := make([]byte, 4+len(body)+4)
	order.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	order.PutUint32(out[4+len(body):], uint32(len(body)))
	return out
}

// ReadForward decodes the record beginning at buf[0]. It returns the
// decoded record and the total number of bytes it occupies (including
// framing), so the caller can advance its offset by that amount.
func ReadForward(buf []byte, order binary.ByteOrder) (Record, int, error) {
	if len(buf) < frameOverhead {
		return nil, 0, fmt.Errorf("tracefmt: truncated record header")
	}
	bodyLen := order.Uint32(buf[0:4])
	total := int(bodyLen) + frameOverhead
	if total < frameOverhead || len(buf) < total {
		return nil, 0, fmt.Errorf("tracefmt: truncated record body (want %d bytes)", total)
	}
	body := buf[4 : 4+bodyLen]
	suffix := order.Uint32(buf[4+int(bodyLen) : total])
	if suffix != bodyLen {
		return nil, 0, fmt.Errorf("tracefmt: corrupt record framing: prefix %d != suffix %d", bodyLen, suffix)
	}
	rec, err := decodeBody(body, order)
	if err != nil {
		return nil, 0, err
	}
	return rec, total, nil
}

// ReadBackward decodes the record ending at buf[len(buf)-1]; i.e. buf's
// final byte is the last byte of a record's trailing length suffix. It
// returns the decoded record and the total number of bytes it occupies.
func ReadBackward(buf []byte, order binary.ByteOrder) (Record, int, error) {
	if len(buf) < frameOverhead {
		return nil, 0, fmt.Errorf("tracefmt: truncated record trailer")
	}
	n := len(buf)
	bodyLen := order.Uint32(buf[n-4 : n])
	total := int(bodyLen) + frameOverhead
	if total < frameOverhead || total > n {
		return nil, 0, fmt.Errorf("tracefmt: truncated record body (want %d bytes)", total)
	}
	start := n - total
	prefix := order.Uint32(buf[start : start+4])
	if prefix != bodyLen {
		return nil, 0, fmt.Errorf("tracefmt: corrupt record framing: prefix %d != suffix %d", prefix, bodyLen)
	}
	body := buf[start+4 : start+4+int(bodyLen)]
	rec, err := decodeBody(body, order)
	if err != nil {
		return nil, 0, err
	}
	return rec, total, nil
}

func decodeBody(body []byte, order binary.ByteOrder) (Record, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("tracefmt: empty record body")
	}
	kind := Kind(body[0])
	dec := &bufDecoder{buf: body[1:], order: order}
	return decodeFields(kind, dec)
}

func encodeFields(enc *bufEncoder, rec Record) {
	switch r := rec.(type) {
	case FunctionStart:
		enc.u32(r.FunctionIndex)
	case FunctionEnd:
	case NewThreadTime:
		enc.u64(r.ThreadTime)
	case NewProcessTime:
		enc.u64(r.ProcessTime)
	case PreInstruction:
		enc.u32(r.InstrIndex)
	case Instruction:
		enc.u32(r.InstrIndex)
	case InstructionI8:
		enc.u32(r.InstrIndex)
		enc.i8(r.Value)
	case InstructionI16:
		enc.u32(r.InstrIndex)
		enc.i16(r.Value)
	case InstructionI32:
		enc.u32(r.InstrIndex)
		enc.i32(r.Value)
	case InstructionI64:
		enc.u32(r.InstrIndex)
		enc.i64(r.Value)
	case InstructionF32:
		enc.u32(r.InstrIndex)
		enc.f32(r.Value)
	case InstructionF64:
		enc.u32(r.InstrIndex)
		enc.f64(r.Value)
	case InstructionF80:
		enc.u32(r.InstrIndex)
		enc.bytes(r.Raw[:])
	case InstructionPtr:
		enc.u32(r.InstrIndex)
		enc.u64(r.Value)
	case Alloca:
		enc.u32(r.InstrIndex)
		enc.u64(r.Address)
		enc.u64(r.ElementSize)
		enc.u64(r.ElementCount)
	case ByValArgBegin:
		enc.u64(r.Address)
		enc.u64(r.Size)
	case ByValArgEnd:
		enc.u64(r.Address)
	case Malloc:
		enc.u64(r.Address)
		enc.u64(r.Size)
		enc.u32(r.AllocatingInstruction)
	case Free:
		enc.u64(r.Address)
	case StateUntyped:
		enc.u64(r.Address)
		enc.u64(r.Length)
	case StateTyped:
		enc.u64(r.Address)
		enc.u64(r.Length)
	case StateClear:
		enc.u64(r.Address)
		enc.u64(r.Length)
	case StateOverwriteReplace:
		enc.u64(r.OldFragmentStart)
	case StateOverwriteSplitFragment:
		enc.u64(r.OldFragmentStart)
		enc.u64(r.Address)
		enc.u64(r.Length)
	case StateOverwriteTrimLeft:
		enc.u64(r.OldFragmentStart)
		enc.u64(r.NewStart)
	case StateOverwriteTrimRight:
		enc.u64(r.OldFragmentStart)
		enc.u64(r.NewEnd)
	case StreamOpen:
		enc.u64(r.Handle)
		enc.lenString(r.Mode)
		enc.lenString(r.Path)
	case StreamClose:
		enc.u64(r.Handle)
	case StreamWrite:
		enc.u64(r.Handle)
		enc.bytes(r.Data)
	case DirOpen:
		enc.u64(r.Handle)
		enc.lenString(r.Path)
	case DirClose:
		enc.u64(r.Handle)
	case RuntimeError:
		enc.u32(r.ErrorKind)
		enc.u32(r.InstrIndex)
		enc.u8(uint8(r.Severity))
		enc.bool(r.IsTopLevel)
		enc.bytes(r.Payload)
	case KnownRegionAdd:
		enc.u64(r.Address)
		enc.u64(r.Length)
		enc.u8(uint8(r.Permission))
	case KnownRegionRemove:
		enc.u64(r.Address)
	case Args:
		enc.stringList(r.Values)
	case Env:
		enc.stringList(r.Values)
	default:
		panic(fmt.Sprintf("tracefmt: unknown record type %T", rec))
	}
}

func decodeFields(kind Kind, d *bufDecoder) (Record, error) {
	switch kind {
	case KindFunctionStart:
		return FunctionStart{FunctionIndex: d.u32()}, nil
	case KindFunctionEnd:
		return FunctionEnd{}, nil
	case KindNewThreadTime:
		return NewThreadTime{ThreadTime: d.u64()}, nil
	case KindNewProcessTime:
		return NewProcessTime{ProcessTime: d.u64()}, nil
	case KindPreInstruction:
		return PreInstruction{InstrIndex: d.u32()}, nil
	case KindInstruction:
		return Instruction{InstrIndex: d.u32()}, nil
	case KindInstructionI8:
		idx := d.u32()
		return InstructionI8{InstrIndex: idx, Value: d.i8()}, nil
	case KindInstructionI16:
		idx := d.u32()
		return InstructionI16{InstrIndex: idx, Value: d.i16()}, nil
	case KindInstructionI32:
		idx := d.u32()
		return InstructionI32{InstrIndex: idx, Value: d.i32()}, nil
	case KindInstructionI64:
		idx := d.u32()
		return InstructionI64{InstrIndex: idx, Value: d.i64()}, nil
	case KindInstructionF32:
		idx := d.u32()
		return InstructionF32{InstrIndex: idx, Value: d.f32()}, nil
	case KindInstructionF64:
		idx := d.u32()
		return InstructionF64{InstrIndex: idx, Value: d.f64()}, nil
	case KindInstructionF80:
		idx := d.u32()
		var raw [10]byte
		d.bytes(raw[:])
		return InstructionF80{InstrIndex: idx, Raw: raw}, nil
	case KindInstructionPtr:
		idx := d.u32()
		return InstructionPtr{InstrIndex: idx, Value: d.u64()}, nil
	case KindAlloca:
		idx := d.u32()
		addr := d.u64()
		elemSize := d.u64()
		elemCount := d.u64()
		return Alloca{InstrIndex: idx, Address: addr, ElementSize: elemSize, ElementCount: elemCount}, nil
	case KindByValArgBegin:
		addr := d.u64()
		return ByValArgBegin{Address: addr, Size: d.u64()}, nil
	case KindByValArgEnd:
		return ByValArgEnd{Address: d.u64()}, nil
	case KindMalloc:
		addr := d.u64()
		size := d.u64()
		return Malloc{Address: addr, Size: size, AllocatingInstruction: d.u32()}, nil
	case KindFree:
		return Free{Address: d.u64()}, nil
	case KindStateUntyped:
		addr := d.u64()
		return StateUntyped{Address: addr, Length: d.u64()}, nil
	case KindStateTyped:
		addr := d.u64()
		return StateTyped{Address: addr, Length: d.u64()}, nil
	case KindStateClear:
		addr := d.u64()
		return StateClear{Address: addr, Length: d.u64()}, nil
	case KindStateOverwriteReplace:
		return StateOverwriteReplace{OldFragmentStart: d.u64()}, nil
	case KindStateOverwriteSplitFragment:
		old := d.u64()
		addr := d.u64()
		return StateOverwriteSplitFragment{OldFragmentStart: old, Address: addr, Length: d.u64()}, nil
	case KindStateOverwriteTrimLeft:
		old := d.u64()
		return StateOverwriteTrimLeft{OldFragmentStart: old, NewStart: d.u64()}, nil
	case KindStateOverwriteTrimRight:
		old := d.u64()
		return StateOverwriteTrimRight{OldFragmentStart: old, NewEnd: d.u64()}, nil
	case KindStreamOpen:
		handle := d.u64()
		mode := d.lenString()
		return StreamOpen{Handle: handle, Mode: mode, Path: d.lenString()}, nil
	case KindStreamClose:
		return StreamClose{Handle: d.u64()}, nil
	case KindStreamWrite:
		handle := d.u64()
		return StreamWrite{Handle: handle, Data: append([]byte(nil), d.rest()...)}, nil
	case KindDirOpen:
		handle := d.u64()
		return DirOpen{Handle: handle, Path: d.lenString()}, nil
	case KindDirClose:
		return DirClose{Handle: d.u64()}, nil
	case KindRuntimeError:
		errKind := d.u32()
		instrIdx := d.u32()
		sev := Severity(d.u8())
		top := d.bool()
		return RuntimeError{
			ErrorKind:  errKind,
			InstrIndex: instrIdx,
			Severity:   sev,
			IsTopLevel: top,
			Payload:    append([]byte(nil), d.rest()...),
		}, nil
	case KindKnownRegionAdd:
		addr := d.u64()
		length := d.u64()
		return KnownRegionAdd{Address: addr, Length: length, Permission: Permission(d.u8())}, nil
	case KindKnownRegionRemove:
		return KnownRegionRemove{Address: d.u64()}, nil
	case KindArgs:
		return Args{Values: d.stringList()}, nil
	case KindEnv:
		return Env{Values: d.stringList()}, nil
	default:
		return nil, fmt.Errorf("tracefmt: unknown event kind %d", kind)
	}
}
