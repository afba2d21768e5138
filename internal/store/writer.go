package store

import (
	"github.com/meridiandb/meridian/internal/instr"
	"github.com/meridiandb/meridian/internal/logbuf"
	"github.com/meridiandb/meridian/pkg/types"
)

// Writer is the mutation surface of a write transaction: every operation is
// applied to the group and simultaneously recorded into the transaction
// log. Selection instructions are emitted lazily, only when the target
// table, descriptor or link list differs from the current selection.
type Writer struct {
	group *Group
	enc   *instr.Encoder

	selTable      int
	tableSelected bool
	descSelected  bool
	listSelected  bool
	listCol       int
	listRow       int
}

// NewWriter returns a writer recording mutations of group into a fresh log.
func NewWriter(group *Group) *Writer {
	return &Writer{
		group: group,
		enc:   instr.NewEncoder(logbuf.NewBuffer(512)),
	}
}

// Group returns the group under mutation.
func (w *Writer) Group() *Group {
	return w.group
}

// Log returns the encoded transaction log recorded so far. The slice
// aliases the writer's buffer.
func (w *Writer) Log() []byte {
	return w.enc.Buffer().Bytes()
}

func (w *Writer) resetSelection() {
	w.tableSelected = false
	w.descSelected = false
	w.listSelected = false
}

func (w *Writer) ensureTable(table int) error {
	if w.tableSelected && w.selTable == table {
		return nil
	}
	if err := w.enc.Encode(instr.SelectTable{Table: uint64(table)}); err != nil {
		return err
	}
	w.selTable = table
	w.tableSelected = true
	w.descSelected = false
	w.listSelected = false
	return nil
}

func (w *Writer) ensureDescriptor(table int) error {
	if err := w.ensureTable(table); err != nil {
		return err
	}
	if w.descSelected {
		return nil
	}
	if err := w.enc.Encode(instr.SelectDescriptor{}); err != nil {
		return err
	}
	w.descSelected = true
	w.listSelected = false
	return nil
}

func (w *Writer) ensureList(table, col, row int) error {
	if err := w.ensureTable(table); err != nil {
		return err
	}
	if w.listSelected && w.listCol == col && w.listRow == row {
		return nil
	}
	if err := w.enc.Encode(instr.SelectLinkList{Column: uint64(col), Row: uint64(row)}); err != nil {
		return err
	}
	w.listSelected = true
	w.listCol = col
	w.listRow = row
	w.descSelected = false
	return nil
}

// InsertTable creates a table. Group-level edits invalidate any selection.
func (w *Writer) InsertTable(ndx int, name string) error {
	if err := w.group.InsertTable(ndx, name); err != nil {
		return err
	}
	w.resetSelection()
	return w.enc.Encode(instr.InsertTable{Table: uint64(ndx), Name: name})
}

// EraseTable removes a table.
func (w *Writer) EraseTable(ndx int) error {
	if err := w.group.EraseTable(ndx); err != nil {
		return err
	}
	w.resetSelection()
	return w.enc.Encode(instr.EraseTable{Table: uint64(ndx)})
}

// RenameTable renames a table.
func (w *Writer) RenameTable(ndx int, name string) error {
	if err := w.group.RenameTable(ndx, name); err != nil {
		return err
	}
	w.resetSelection()
	return w.enc.Encode(instr.RenameTable{Table: uint64(ndx), Name: name})
}

// MoveTable moves a table between indexes.
func (w *Writer) MoveTable(from, to int) error {
	if err := w.group.MoveTable(from, to); err != nil {
		return err
	}
	w.resetSelection()
	return w.enc.Encode(instr.MoveTable{From: uint64(from), To: uint64(to)})
}

// InsertColumn adds a non-link column.
func (w *Writer) InsertColumn(table, col int, typ types.DataType, name string, nullable bool) error {
	if err := w.ensureDescriptor(table); err != nil {
		return err
	}
	if err := w.group.InsertColumn(table, col, typ, name, nullable); err != nil {
		return err
	}
	return w.enc.Encode(instr.InsertColumn{Column: uint64(col), Type: typ, Name: name, Nullable: nullable})
}

// InsertLinkColumn adds a link or link-list column.
func (w *Writer) InsertLinkColumn(table, col int, typ types.DataType, name string, target int) error {
	if err := w.ensureDescriptor(table); err != nil {
		return err
	}
	if err := w.group.InsertLinkColumn(table, col, typ, name, target); err != nil {
		return err
	}
	return w.enc.Encode(instr.InsertLinkColumn{Column: uint64(col), Type: typ, Name: name, TargetTable: uint64(target)})
}

// EraseColumn removes a column.
func (w *Writer) EraseColumn(table, col int) error {
	if err := w.ensureDescriptor(table); err != nil {
		return err
	}
	if err := w.group.EraseColumn(table, col); err != nil {
		return err
	}
	return w.enc.Encode(instr.EraseColumn{Column: uint64(col)})
}

// RenameColumn renames a column.
func (w *Writer) RenameColumn(table, col int, name string) error {
	if err := w.ensureDescriptor(table); err != nil {
		return err
	}
	if err := w.group.RenameColumn(table, col, name); err != nil {
		return err
	}
	return w.enc.Encode(instr.RenameColumn{Column: uint64(col), Name: name})
}

// MoveColumn moves a column between indexes.
func (w *Writer) MoveColumn(table, from, to int) error {
	if err := w.ensureDescriptor(table); err != nil {
		return err
	}
	if err := w.group.MoveColumn(table, from, to); err != nil {
		return err
	}
	return w.enc.Encode(instr.MoveColumn{From: uint64(from), To: uint64(to)})
}

// AddSearchIndex adds a search index on a column.
func (w *Writer) AddSearchIndex(table, col int) error {
	if err := w.ensureDescriptor(table); err != nil {
		return err
	}
	if err := w.group.SetSearchIndex(table, col, true); err != nil {
		return err
	}
	return w.enc.Encode(instr.AddSearchIndex{Column: uint64(col)})
}

// RemoveSearchIndex drops the search index on a column.
func (w *Writer) RemoveSearchIndex(table, col int) error {
	if err := w.ensureDescriptor(table); err != nil {
		return err
	}
	if err := w.group.SetSearchIndex(table, col, false); err != nil {
		return err
	}
	return w.enc.Encode(instr.RemoveSearchIndex{Column: uint64(col)})
}

// SetPrimaryKey records a table's primary-key metadata. Key metadata is not
// part of the instruction stream; it travels with schema stamps.
func (w *Writer) SetPrimaryKey(table int, name string) error {
	return w.group.SetPrimaryKey(table, name)
}

// InsertEmptyRows inserts count default-initialized rows.
func (w *Writer) InsertEmptyRows(table, row, count int) error {
	t, err := w.group.Table(table)
	if err != nil {
		return err
	}
	prior := t.NumRows()
	if err := w.ensureTable(table); err != nil {
		return err
	}
	if err := w.group.InsertEmptyRows(table, row, count); err != nil {
		return err
	}
	return w.enc.Encode(instr.InsertEmptyRows{Row: uint64(row), Count: uint64(count), PriorSize: uint64(prior)})
}

// EraseRows removes count rows starting at row; unordered means
// move-last-over.
func (w *Writer) EraseRows(table, row, count int, unordered bool) error {
	t, err := w.group.Table(table)
	if err != nil {
		return err
	}
	prior := t.NumRows()
	if err := w.ensureTable(table); err != nil {
		return err
	}
	if err := w.group.EraseRows(table, row, count, unordered); err != nil {
		return err
	}
	return w.enc.Encode(instr.EraseRows{Row: uint64(row), Count: uint64(count), PriorSize: uint64(prior), Unordered: unordered})
}

// SwapRows exchanges two rows.
func (w *Writer) SwapRows(table, a, b int) error {
	if err := w.ensureTable(table); err != nil {
		return err
	}
	if err := w.group.SwapRows(table, a, b); err != nil {
		return err
	}
	return w.enc.Encode(instr.SwapRows{RowA: uint64(a), RowB: uint64(b)})
}

// ClearTable removes every row of a table.
func (w *Writer) ClearTable(table int) error {
	t, err := w.group.Table(table)
	if err != nil {
		return err
	}
	prior := t.NumRows()
	if err := w.ensureTable(table); err != nil {
		return err
	}
	if err := w.group.ClearTable(table); err != nil {
		return err
	}
	return w.enc.Encode(instr.ClearTable{PriorSize: uint64(prior)})
}

// Set assigns a cell. Null values are recorded as a dedicated set-null
// instruction (a null link as nullify-link), so null never round-trips as
// an empty payload.
func (w *Writer) Set(table, col, row int, v types.Value) error {
	if err := w.ensureTable(table); err != nil {
		return err
	}
	if err := w.group.Set(table, col, row, v); err != nil {
		return err
	}
	c, r := uint64(col), uint64(row)
	if v.Null {
		if v.Type == types.TypeLink {
			return w.enc.Encode(instr.NullifyLink{Column: c, Row: r})
		}
		return w.enc.Encode(instr.SetNull{Column: c, Row: r})
	}
	switch v.Type {
	case types.TypeInt:
		return w.enc.Encode(instr.SetInt{Column: c, Row: r, Value: v.Int})
	case types.TypeBool:
		return w.enc.Encode(instr.SetBool{Column: c, Row: r, Value: v.Bool})
	case types.TypeFloat:
		return w.enc.Encode(instr.SetFloat{Column: c, Row: r, Value: float32(v.Float)})
	case types.TypeDouble:
		return w.enc.Encode(instr.SetDouble{Column: c, Row: r, Value: v.Float})
	case types.TypeString:
		return w.enc.Encode(instr.SetString{Column: c, Row: r, Value: v.Str})
	case types.TypeBinary:
		return w.enc.Encode(instr.SetBinary{Column: c, Row: r, Value: v.Bytes})
	case types.TypeTimestamp:
		return w.enc.Encode(instr.SetTimestamp{Column: c, Row: r, Nanos: v.Int})
	case types.TypeLink:
		return w.enc.Encode(instr.SetLink{Column: c, Row: r, TargetRow: uint64(v.Int)})
	default:
		return w.enc.Encode(instr.SetNull{Column: c, Row: r})
	}
}

// AddInt adds a delta to an integer cell.
func (w *Writer) AddInt(table, col, row int, delta int64) error {
	if err := w.ensureTable(table); err != nil {
		return err
	}
	if err := w.group.AddInt(table, col, row, delta); err != nil {
		return err
	}
	return w.enc.Encode(instr.AddInt{Column: uint64(col), Row: uint64(row), Delta: delta})
}

// ListSet repoints a link list entry.
func (w *Writer) ListSet(table, col, row, ndx int, target uint64) error {
	if err := w.ensureList(table, col, row); err != nil {
		return err
	}
	if err := w.group.ListSet(table, col, row, ndx, target); err != nil {
		return err
	}
	return w.enc.Encode(instr.ListSet{Index: uint64(ndx), TargetRow: target})
}

// ListInsert inserts a link list entry.
func (w *Writer) ListInsert(table, col, row, ndx int, target uint64) error {
	prior, err := w.group.ListSize(table, col, row)
	if err != nil {
		return err
	}
	if err := w.ensureList(table, col, row); err != nil {
		return err
	}
	if err := w.group.ListInsert(table, col, row, ndx, target); err != nil {
		return err
	}
	return w.enc.Encode(instr.ListInsert{Index: uint64(ndx), TargetRow: target, PriorSize: uint64(prior)})
}

// ListErase removes a link list entry.
func (w *Writer) ListErase(table, col, row, ndx int) error {
	prior, err := w.group.ListSize(table, col, row)
	if err != nil {
		return err
	}
	if err := w.ensureList(table, col, row); err != nil {
		return err
	}
	if err := w.group.ListErase(table, col, row, ndx); err != nil {
		return err
	}
	return w.enc.Encode(instr.ListErase{Index: uint64(ndx), PriorSize: uint64(prior)})
}

// ListMove moves a link list entry.
func (w *Writer) ListMove(table, col, row, from, to int) error {
	if err := w.ensureList(table, col, row); err != nil {
		return err
	}
	if err := w.group.ListMove(table, col, row, from, to); err != nil {
		return err
	}
	return w.enc.Encode(instr.ListMove{From: uint64(from), To: uint64(to)})
}

// ListSwap exchanges two link list entries.
func (w *Writer) ListSwap(table, col, row, a, b int) error {
	if err := w.ensureList(table, col, row); err != nil {
		return err
	}
	if err := w.group.ListSwap(table, col, row, a, b); err != nil {
		return err
	}
	return w.enc.Encode(instr.ListSwap{IndexA: uint64(a), IndexB: uint64(b)})
}

// ListClear removes every entry of a link list.
func (w *Writer) ListClear(table, col, row int) error {
	prior, err := w.group.ListSize(table, col, row)
	if err != nil {
		return err
	}
	if err := w.ensureList(table, col, row); err != nil {
		return err
	}
	if err := w.group.ListClear(table, col, row); err != nil {
		return err
	}
	return w.enc.Encode(instr.ListClear{PriorSize: uint64(prior)})
}
