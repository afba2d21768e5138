package instr

import (
	"encoding/binary"
	"math"

	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/logbuf"
)

// MaxStringSize is the largest string or binary payload accepted by the
// codec, matching the storage layer's cell size ceiling.
const MaxStringSize = 16 * 1024 * 1024

// maxIntBytes is the longest possible varint encoding of a 64-bit value:
// the terminal byte holds six value bits plus the sign, every other byte
// holds seven.
const maxIntBytes = 10

// Encoder turns instructions into their binary form, appending to a
// transaction log buffer. It is stateless except for the append cursor.
type Encoder struct {
	buf *logbuf.Buffer
}

// NewEncoder returns an encoder appending to buf.
func NewEncoder(buf *logbuf.Buffer) *Encoder {
	return &Encoder{buf: buf}
}

// Buffer returns the underlying log buffer.
func (e *Encoder) Buffer() *logbuf.Buffer {
	return e.buf
}

// appendInt encodes a signed integer: seven value bits per byte with the
// continuation bit at bit 7, and the sign folded into bit 6 of the terminal
// byte. Negative values v are mapped to -(v+1) first, which never overflows.
func (e *Encoder) appendInt(v int64) {
	negative := v < 0
	uv := uint64(v)
	if negative {
		uv = uint64(-(v + 1))
	}
	region := e.buf.Reserve(maxIntBytes)
	n := 0
	for uv >= 0x40 {
		region[n] = byte(uv&0x7F) | 0x80
		uv >>= 7
		n++
	}
	last := byte(uv)
	if negative {
		last |= 0x40
	}
	region[n] = last
	e.buf.Advance(n + 1)
}

// appendUint encodes an index or count field. Values above the int64 range
// are not representable in the log.
func (e *Encoder) appendUint(v uint64) {
	e.appendInt(int64(v))
}

func (e *Encoder) appendBool(v bool) {
	if v {
		e.appendInt(1)
	} else {
		e.appendInt(0)
	}
}

// appendFloat writes the raw IEEE-754 bytes, little-endian.
func (e *Encoder) appendFloat(v float32) {
	region := e.buf.Reserve(4)
	binary.LittleEndian.PutUint32(region, math.Float32bits(v))
	e.buf.Advance(4)
}

func (e *Encoder) appendDouble(v float64) {
	region := e.buf.Reserve(8)
	binary.LittleEndian.PutUint64(region, math.Float64bits(v))
	e.buf.Advance(8)
}

func (e *Encoder) appendString(v string) error {
	if len(v) > MaxStringSize {
		return errors.Newf(errors.ErrCategoryCodec, errors.CodeBadTransactLog,
			"string of %d bytes exceeds maximum of %d", len(v), MaxStringSize)
	}
	e.appendInt(int64(len(v)))
	e.buf.Append([]byte(v))
	return nil
}

func (e *Encoder) appendBinary(v []byte) error {
	if len(v) > MaxStringSize {
		return errors.Newf(errors.ErrCategoryCodec, errors.CodeBadTransactLog,
			"binary of %d bytes exceeds maximum of %d", len(v), MaxStringSize)
	}
	e.appendInt(int64(len(v)))
	e.buf.Append(v)
	return nil
}

// Encode appends one instruction to the log.
func (e *Encoder) Encode(in Instruction) error {
	switch i := in.(type) {
	case SelectTable:
		e.buf.AppendByte(tagSelectTable)
		e.appendUint(i.Table)
	case SelectDescriptor:
		e.buf.AppendByte(tagSelectDescriptor)
	case SelectLinkList:
		e.buf.AppendByte(tagSelectLinkList)
		e.appendUint(i.Column)
		e.appendUint(i.Row)
	case InsertTable:
		e.buf.AppendByte(tagInsertTable)
		e.appendUint(i.Table)
		return e.appendStringField(i.Name)
	case EraseTable:
		e.buf.AppendByte(tagEraseTable)
		e.appendUint(i.Table)
	case RenameTable:
		e.buf.AppendByte(tagRenameTable)
		e.appendUint(i.Table)
		return e.appendStringField(i.Name)
	case MoveTable:
		e.buf.AppendByte(tagMoveTable)
		e.appendUint(i.From)
		e.appendUint(i.To)
	case InsertEmptyRows:
		e.buf.AppendByte(tagInsertEmptyRows)
		e.appendUint(i.Row)
		e.appendUint(i.Count)
		e.appendUint(i.PriorSize)
	case EraseRows:
		e.buf.AppendByte(tagEraseRows)
		e.appendUint(i.Row)
		e.appendUint(i.Count)
		e.appendUint(i.PriorSize)
		e.appendBool(i.Unordered)
	case SwapRows:
		e.buf.AppendByte(tagSwapRows)
		e.appendUint(i.RowA)
		e.appendUint(i.RowB)
	case ClearTable:
		e.buf.AppendByte(tagClearTable)
		e.appendUint(i.PriorSize)
	case OptimizeTable:
		e.buf.AppendByte(tagOptimizeTable)
	case SetInt:
		e.buf.AppendByte(tagSetInt)
		e.appendUint(i.Column)
		e.appendUint(i.Row)
		e.appendInt(i.Value)
	case AddInt:
		e.buf.AppendByte(tagAddInt)
		e.appendUint(i.Column)
		e.appendUint(i.Row)
		e.appendInt(i.Delta)
	case SetBool:
		e.buf.AppendByte(tagSetBool)
		e.appendUint(i.Column)
		e.appendUint(i.Row)
		e.appendBool(i.Value)
	case SetFloat:
		e.buf.AppendByte(tagSetFloat)
		e.appendUint(i.Column)
		e.appendUint(i.Row)
		e.appendFloat(i.Value)
	case SetDouble:
		e.buf.AppendByte(tagSetDouble)
		e.appendUint(i.Column)
		e.appendUint(i.Row)
		e.appendDouble(i.Value)
	case SetString:
		e.buf.AppendByte(tagSetString)
		e.appendUint(i.Column)
		e.appendUint(i.Row)
		return e.appendString(i.Value)
	case SetBinary:
		e.buf.AppendByte(tagSetBinary)
		e.appendUint(i.Column)
		e.appendUint(i.Row)
		return e.appendBinary(i.Value)
	case SetTimestamp:
		e.buf.AppendByte(tagSetTimestamp)
		e.appendUint(i.Column)
		e.appendUint(i.Row)
		e.appendInt(i.Nanos)
	case SetNull:
		e.buf.AppendByte(tagSetNull)
		e.appendUint(i.Column)
		e.appendUint(i.Row)
	case SetLink:
		e.buf.AppendByte(tagSetLink)
		e.appendUint(i.Column)
		e.appendUint(i.Row)
		e.appendUint(i.TargetRow)
	case NullifyLink:
		e.buf.AppendByte(tagNullifyLink)
		e.appendUint(i.Column)
		e.appendUint(i.Row)
	case InsertColumn:
		e.buf.AppendByte(tagInsertColumn)
		e.appendUint(i.Column)
		e.appendInt(int64(i.Type))
		if err := e.appendStringField(i.Name); err != nil {
			return err
		}
		e.appendBool(i.Nullable)
	case InsertLinkColumn:
		e.buf.AppendByte(tagInsertLinkColumn)
		e.appendUint(i.Column)
		e.appendInt(int64(i.Type))
		if err := e.appendStringField(i.Name); err != nil {
			return err
		}
		e.appendUint(i.TargetTable)
	case EraseColumn:
		e.buf.AppendByte(tagEraseColumn)
		e.appendUint(i.Column)
	case RenameColumn:
		e.buf.AppendByte(tagRenameColumn)
		e.appendUint(i.Column)
		return e.appendStringField(i.Name)
	case MoveColumn:
		e.buf.AppendByte(tagMoveColumn)
		e.appendUint(i.From)
		e.appendUint(i.To)
	case AddSearchIndex:
		e.buf.AppendByte(tagAddSearchIndex)
		e.appendUint(i.Column)
	case RemoveSearchIndex:
		e.buf.AppendByte(tagRemoveSearchIndex)
		e.appendUint(i.Column)
	case ListSet:
		e.buf.AppendByte(tagListSet)
		e.appendUint(i.Index)
		e.appendUint(i.TargetRow)
	case ListInsert:
		e.buf.AppendByte(tagListInsert)
		e.appendUint(i.Index)
		e.appendUint(i.TargetRow)
		e.appendUint(i.PriorSize)
	case ListMove:
		e.buf.AppendByte(tagListMove)
		e.appendUint(i.From)
		e.appendUint(i.To)
	case ListSwap:
		e.buf.AppendByte(tagListSwap)
		e.appendUint(i.IndexA)
		e.appendUint(i.IndexB)
	case ListErase:
		e.buf.AppendByte(tagListErase)
		e.appendUint(i.Index)
		e.appendUint(i.PriorSize)
	case ListClear:
		e.buf.AppendByte(tagListClear)
		e.appendUint(i.PriorSize)
	default:
		return errors.Newf(errors.ErrCategoryInternal, errors.CodeUnexpected,
			"cannot encode instruction of type %T", in)
	}
	return nil
}

// appendStringField is appendString for identifier fields (table, column
// names); kept separate so data-payload and identifier limits can diverge.
func (e *Encoder) appendStringField(v string) error {
	return e.appendString(v)
}

// EncodeAll appends a sequence of instructions.
func (e *Encoder) EncodeAll(ins []Instruction) error {
	for _, in := range ins {
		if err := e.Encode(in); err != nil {
			return err
		}
	}
	return nil
}
