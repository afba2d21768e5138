package instr

import (
	"encoding/binary"
	"math"

	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/pkg/types"
)

// Decoder parses instructions back out of an encoded log. It never reads
// past the supplied buffer: truncated input, unknown tags, oversized
// strings and integers overflowing their destination width all fail with a
// BAD_TRANSACT_LOG error.
type Decoder struct {
	data []byte
	pos  int
}

// NewDecoder returns a decoder over one encoded changeset.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Remaining reports whether undecoded input is left.
func (d *Decoder) Remaining() bool {
	return d.pos < len(d.data)
}

// Offset returns the current byte offset, for diagnostics.
func (d *Decoder) Offset() int {
	return d.pos
}

func (d *Decoder) bad(format string, args ...interface{}) error {
	return errors.Newf(errors.ErrCategoryCodec, errors.CodeBadTransactLog, format, args...)
}

func (d *Decoder) readByte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, d.bad("truncated log: unexpected end of input at offset %d", d.pos)
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

// readInt decodes one varint-encoded signed integer.
func (d *Decoder) readInt() (int64, error) {
	var uv uint64
	shift := uint(0)
	for i := 0; i < maxIntBytes; i++ {
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		if b&0x80 == 0 {
			part := uint64(b & 0x3F)
			if shift > 63 || (part != 0 && part > math.MaxUint64>>shift) {
				return 0, d.bad("integer overflows 64 bits at offset %d", d.pos)
			}
			uv |= part << shift
			if uv > math.MaxInt64 {
				return 0, d.bad("integer overflows 64 bits at offset %d", d.pos)
			}
			if b&0x40 != 0 {
				return -int64(uv) - 1, nil
			}
			return int64(uv), nil
		}
		part := uint64(b & 0x7F)
		if shift > 63 || (part != 0 && part > math.MaxUint64>>shift) {
			return 0, d.bad("integer overflows 64 bits at offset %d", d.pos)
		}
		uv |= part << shift
		shift += 7
	}
	return 0, d.bad("integer encoding exceeds %d bytes at offset %d", maxIntBytes, d.pos)
}

// readUint decodes an index or count field, rejecting negative values.
func (d *Decoder) readUint() (uint64, error) {
	v, err := d.readInt()
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, d.bad("negative value %d where an index was expected at offset %d", v, d.pos)
	}
	return uint64(v), nil
}

func (d *Decoder) readBool() (bool, error) {
	v, err := d.readInt()
	if err != nil {
		return false, err
	}
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, d.bad("invalid boolean value %d at offset %d", v, d.pos)
	}
}

func (d *Decoder) readFloat() (float32, error) {
	if len(d.data)-d.pos < 4 {
		return 0, d.bad("truncated float at offset %d", d.pos)
	}
	bits := binary.LittleEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return math.Float32frombits(bits), nil
}

func (d *Decoder) readDouble() (float64, error) {
	if len(d.data)-d.pos < 8 {
		return 0, d.bad("truncated double at offset %d", d.pos)
	}
	bits := binary.LittleEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return math.Float64frombits(bits), nil
}

func (d *Decoder) readString() (string, error) {
	b, err := d.readBinary()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) readBinary() ([]byte, error) {
	size, err := d.readUint()
	if err != nil {
		return nil, err
	}
	if size > MaxStringSize {
		return nil, d.bad("string of %d bytes exceeds maximum of %d at offset %d", size, MaxStringSize, d.pos)
	}
	if uint64(len(d.data)-d.pos) < size {
		return nil, d.bad("truncated string: %d bytes declared, %d available at offset %d", size, len(d.data)-d.pos, d.pos)
	}
	out := make([]byte, size)
	copy(out, d.data[d.pos:])
	d.pos += int(size)
	return out, nil
}

func (d *Decoder) readDataType() (types.DataType, error) {
	v, err := d.readInt()
	if err != nil {
		return 0, err
	}
	if v < 0 || v > int64(types.TypeLinkList) {
		return 0, d.bad("unknown data type %d at offset %d", v, d.pos)
	}
	return types.DataType(v), nil
}

// Next decodes the next instruction, or returns (nil, nil) at end-of-input.
func (d *Decoder) Next() (Instruction, error) {
	if !d.Remaining() {
		return nil, nil
	}
	tag, err := d.readByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagSelectTable:
		table, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return SelectTable{Table: table}, nil
	case tagSelectDescriptor:
		return SelectDescriptor{}, nil
	case tagSelectLinkList:
		col, err := d.readUint()
		if err != nil {
			return nil, err
		}
		row, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return SelectLinkList{Column: col, Row: row}, nil
	case tagInsertTable:
		table, err := d.readUint()
		if err != nil {
			return nil, err
		}
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		return InsertTable{Table: table, Name: name}, nil
	case tagEraseTable:
		table, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return EraseTable{Table: table}, nil
	case tagRenameTable:
		table, err := d.readUint()
		if err != nil {
			return nil, err
		}
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		return RenameTable{Table: table, Name: name}, nil
	case tagMoveTable:
		from, err := d.readUint()
		if err != nil {
			return nil, err
		}
		to, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return MoveTable{From: from, To: to}, nil
	case tagInsertEmptyRows:
		row, err := d.readUint()
		if err != nil {
			return nil, err
		}
		count, err := d.readUint()
		if err != nil {
			return nil, err
		}
		prior, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return InsertEmptyRows{Row: row, Count: count, PriorSize: prior}, nil
	case tagEraseRows:
		row, err := d.readUint()
		if err != nil {
			return nil, err
		}
		count, err := d.readUint()
		if err != nil {
			return nil, err
		}
		prior, err := d.readUint()
		if err != nil {
			return nil, err
		}
		unordered, err := d.readBool()
		if err != nil {
			return nil, err
		}
		return EraseRows{Row: row, Count: count, PriorSize: prior, Unordered: unordered}, nil
	case tagSwapRows:
		a, err := d.readUint()
		if err != nil {
			return nil, err
		}
		b, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return SwapRows{RowA: a, RowB: b}, nil
	case tagClearTable:
		prior, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return ClearTable{PriorSize: prior}, nil
	case tagOptimizeTable:
		return OptimizeTable{}, nil
	case tagSetInt:
		col, row, err := d.readCell()
		if err != nil {
			return nil, err
		}
		v, err := d.readInt()
		if err != nil {
			return nil, err
		}
		return SetInt{Column: col, Row: row, Value: v}, nil
	case tagAddInt:
		col, row, err := d.readCell()
		if err != nil {
			return nil, err
		}
		v, err := d.readInt()
		if err != nil {
			return nil, err
		}
		return AddInt{Column: col, Row: row, Delta: v}, nil
	case tagSetBool:
		col, row, err := d.readCell()
		if err != nil {
			return nil, err
		}
		v, err := d.readBool()
		if err != nil {
			return nil, err
		}
		return SetBool{Column: col, Row: row, Value: v}, nil
	case tagSetFloat:
		col, row, err := d.readCell()
		if err != nil {
			return nil, err
		}
		v, err := d.readFloat()
		if err != nil {
			return nil, err
		}
		return SetFloat{Column: col, Row: row, Value: v}, nil
	case tagSetDouble:
		col, row, err := d.readCell()
		if err != nil {
			return nil, err
		}
		v, err := d.readDouble()
		if err != nil {
			return nil, err
		}
		return SetDouble{Column: col, Row: row, Value: v}, nil
	case tagSetString:
		col, row, err := d.readCell()
		if err != nil {
			return nil, err
		}
		v, err := d.readString()
		if err != nil {
			return nil, err
		}
		return SetString{Column: col, Row: row, Value: v}, nil
	case tagSetBinary:
		col, row, err := d.readCell()
		if err != nil {
			return nil, err
		}
		v, err := d.readBinary()
		if err != nil {
			return nil, err
		}
		return SetBinary{Column: col, Row: row, Value: v}, nil
	case tagSetTimestamp:
		col, row, err := d.readCell()
		if err != nil {
			return nil, err
		}
		nanos, err := d.readInt()
		if err != nil {
			return nil, err
		}
		return SetTimestamp{Column: col, Row: row, Nanos: nanos}, nil
	case tagSetNull:
		col, row, err := d.readCell()
		if err != nil {
			return nil, err
		}
		return SetNull{Column: col, Row: row}, nil
	case tagSetLink:
		col, row, err := d.readCell()
		if err != nil {
			return nil, err
		}
		target, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return SetLink{Column: col, Row: row, TargetRow: target}, nil
	case tagNullifyLink:
		col, row, err := d.readCell()
		if err != nil {
			return nil, err
		}
		return NullifyLink{Column: col, Row: row}, nil
	case tagInsertColumn:
		col, err := d.readUint()
		if err != nil {
			return nil, err
		}
		typ, err := d.readDataType()
		if err != nil {
			return nil, err
		}
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		nullable, err := d.readBool()
		if err != nil {
			return nil, err
		}
		return InsertColumn{Column: col, Type: typ, Name: name, Nullable: nullable}, nil
	case tagInsertLinkColumn:
		col, err := d.readUint()
		if err != nil {
			return nil, err
		}
		typ, err := d.readDataType()
		if err != nil {
			return nil, err
		}
		if !typ.IsLink() {
			return nil, d.bad("insert_link_column with non-link type %s at offset %d", typ, d.pos)
		}
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		target, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return InsertLinkColumn{Column: col, Type: typ, Name: name, TargetTable: target}, nil
	case tagEraseColumn:
		col, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return EraseColumn{Column: col}, nil
	case tagRenameColumn:
		col, err := d.readUint()
		if err != nil {
			return nil, err
		}
		name, err := d.readString()
		if err != nil {
			return nil, err
		}
		return RenameColumn{Column: col, Name: name}, nil
	case tagMoveColumn:
		from, err := d.readUint()
		if err != nil {
			return nil, err
		}
		to, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return MoveColumn{From: from, To: to}, nil
	case tagAddSearchIndex:
		col, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return AddSearchIndex{Column: col}, nil
	case tagRemoveSearchIndex:
		col, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return RemoveSearchIndex{Column: col}, nil
	case tagListSet:
		ndx, err := d.readUint()
		if err != nil {
			return nil, err
		}
		target, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return ListSet{Index: ndx, TargetRow: target}, nil
	case tagListInsert:
		ndx, err := d.readUint()
		if err != nil {
			return nil, err
		}
		target, err := d.readUint()
		if err != nil {
			return nil, err
		}
		prior, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return ListInsert{Index: ndx, TargetRow: target, PriorSize: prior}, nil
	case tagListMove:
		from, err := d.readUint()
		if err != nil {
			return nil, err
		}
		to, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return ListMove{From: from, To: to}, nil
	case tagListSwap:
		a, err := d.readUint()
		if err != nil {
			return nil, err
		}
		b, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return ListSwap{IndexA: a, IndexB: b}, nil
	case tagListErase:
		ndx, err := d.readUint()
		if err != nil {
			return nil, err
		}
		prior, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return ListErase{Index: ndx, PriorSize: prior}, nil
	case tagListClear:
		prior, err := d.readUint()
		if err != nil {
			return nil, err
		}
		return ListClear{PriorSize: prior}, nil
	default:
		return nil, d.bad("unknown instruction tag 0x%02X at offset %d", tag, d.pos-1)
	}
}

// readCell reads the (column, row) address pair shared by every set-style
// instruction.
func (d *Decoder) readCell() (uint64, uint64, error) {
	col, err := d.readUint()
	if err != nil {
		return 0, 0, err
	}
	row, err := d.readUint()
	if err != nil {
		return 0, 0, err
	}
	return col, row, nil
}

// DecodeAll parses a whole changeset into its instruction sequence.
func DecodeAll(data []byte) ([]Instruction, error) {
	d := NewDecoder(data)
	var out []Instruction
	for {
		in, err := d.Next()
		if err != nil {
			return nil, err
		}
		if in == nil {
			return out, nil
		}
		out = append(out, in)
	}
}
