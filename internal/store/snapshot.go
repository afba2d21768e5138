package store

import (
	"github.com/meridiandb/meridian/internal/instr"
	"github.com/meridiandb/meridian/internal/logbuf"
	"github.com/meridiandb/meridian/pkg/types"
)

// SnapshotLog encodes a changeset that recreates the group's full state when
// replayed into an empty group. The history layer installs these as trim
// snapshots so bootstrap replay stays possible after old changesets are
// reclaimed.
//
// Tables are created first, then populated, so link columns and link cells
// can resolve their targets in a single pass.
func SnapshotLog(g *Group) ([]byte, error) {
	enc := instr.NewEncoder(logbuf.NewBuffer(1024))

	for ti, t := range g.Tables {
		if err := enc.Encode(instr.InsertTable{Table: uint64(ti), Name: t.Name}); err != nil {
			return nil, err
		}
	}
	for ti, t := range g.Tables {
		if err := enc.Encode(instr.SelectTable{Table: uint64(ti)}); err != nil {
			return nil, err
		}
		if err := enc.Encode(instr.SelectDescriptor{}); err != nil {
			return nil, err
		}
		for ci, c := range t.Columns {
			var col instr.Instruction
			if c.Type.IsLink() {
				col = instr.InsertLinkColumn{
					Column: uint64(ci), Type: c.Type, Name: c.Name, TargetTable: uint64(c.Target)}
			} else {
				col = instr.InsertColumn{
					Column: uint64(ci), Type: c.Type, Name: c.Name, Nullable: c.Nullable}
			}
			if err := enc.Encode(col); err != nil {
				return nil, err
			}
			if c.Indexed {
				if err := enc.Encode(instr.AddSearchIndex{Column: uint64(ci)}); err != nil {
					return nil, err
				}
			}
		}
		if t.rows > 0 {
			if err := enc.Encode(instr.InsertEmptyRows{Row: 0, Count: uint64(t.rows), PriorSize: 0}); err != nil {
				return nil, err
			}
		}
	}

	for ti, t := range g.Tables {
		if t.rows == 0 {
			continue
		}
		if err := enc.Encode(instr.SelectTable{Table: uint64(ti)}); err != nil {
			return nil, err
		}
		for ci, c := range t.Columns {
			if c.isList() {
				for row, list := range c.lists {
					if len(list) == 0 {
						continue
					}
					if err := enc.Encode(instr.SelectLinkList{Column: uint64(ci), Row: uint64(row)}); err != nil {
						return nil, err
					}
					for n, target := range list {
						ins := instr.ListInsert{Index: uint64(n), TargetRow: target, PriorSize: uint64(n)}
						if err := enc.Encode(ins); err != nil {
							return nil, err
						}
					}
				}
				continue
			}
			for row, v := range c.vals {
				if v.Equal(defaultValue(c)) {
					continue
				}
				if err := enc.Encode(cellInstr(uint64(ci), uint64(row), v)); err != nil {
					return nil, err
				}
			}
		}
	}
	return enc.Buffer().Bytes(), nil
}

// cellInstr returns the instruction assigning v to a cell.
func cellInstr(col, row uint64, v types.Value) instr.Instruction {
	if v.Null {
		if v.Type == types.TypeLink {
			return instr.NullifyLink{Column: col, Row: row}
		}
		return instr.SetNull{Column: col, Row: row}
	}
	switch v.Type {
	case types.TypeInt:
		return instr.SetInt{Column: col, Row: row, Value: v.Int}
	case types.TypeBool:
		return instr.SetBool{Column: col, Row: row, Value: v.Bool}
	case types.TypeFloat:
		return instr.SetFloat{Column: col, Row: row, Value: float32(v.Float)}
	case types.TypeDouble:
		return instr.SetDouble{Column: col, Row: row, Value: v.Float}
	case types.TypeString:
		return instr.SetString{Column: col, Row: row, Value: v.Str}
	case types.TypeBinary:
		return instr.SetBinary{Column: col, Row: row, Value: v.Bytes}
	case types.TypeTimestamp:
		return instr.SetTimestamp{Column: col, Row: row, Nanos: v.Int}
	case types.TypeLink:
		return instr.SetLink{Column: col, Row: row, TargetRow: uint64(v.Int)}
	default:
		return instr.SetNull{Column: col, Row: row}
	}
}
