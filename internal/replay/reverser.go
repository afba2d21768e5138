package replay

import (
	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/instr"
	"github.com/meridiandb/meridian/internal/logbuf"
	"github.com/meridiandb/meridian/internal/store"
	"github.com/meridiandb/meridian/pkg/types"
)

// Reverser builds a rollback script while parsing a transaction log. It
// advances a private shadow copy of the pre-transaction state instruction by
// instruction, so the inverse of instruction k is computed against exactly
// the state k saw. Destructive instructions (row erase, table clear, column
// and table erase) get inverses that restore the destroyed data and any
// inbound links from the shadow.
//
// Each inverse is a self-contained instruction group carrying its own
// selection prefix. Replaying the groups in reverse order, instructions
// within a group in forward order, restores the pre-transaction state.
type Reverser struct {
	shadow  *store.Group
	applier *Applier

	table   uint64
	listCol uint64
	listRow uint64

	groups [][]instr.Instruction
}

var _ Observer = (*Reverser)(nil)

// NewReverser returns a reverser whose shadow starts as a deep copy of pre.
func NewReverser(pre *store.Group) *Reverser {
	shadow := pre.Clone()
	return &Reverser{shadow: shadow, applier: NewApplier(shadow)}
}

// ReversedInstructions returns the rollback script: inverse groups in
// reverse order, instructions within each group in forward order.
func (r *Reverser) ReversedInstructions() []instr.Instruction {
	var out []instr.Instruction
	for g := len(r.groups) - 1; g >= 0; g-- {
		out = append(out, r.groups[g]...)
	}
	return out
}

// ReversedLog encodes the rollback script as a transaction log.
func (r *Reverser) ReversedLog() ([]byte, error) {
	enc := instr.NewEncoder(logbuf.NewBuffer(256))
	for _, in := range r.ReversedInstructions() {
		if err := enc.Encode(in); err != nil {
			return nil, err
		}
	}
	return enc.Buffer().Bytes(), nil
}

func (r *Reverser) push(group ...instr.Instruction) {
	r.groups = append(r.groups, group)
}

func (r *Reverser) selTable() instr.Instruction {
	return instr.SelectTable{Table: r.table}
}

// setInstrFor returns the instruction assigning v to a cell.
func setInstrFor(col, row uint64, v types.Value) instr.Instruction {
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

// restoreRowData emits the instructions rewriting one row of the selected
// table to its shadow contents, including link-list cells. The group is
// assumed to have the table selected already.
func (r *Reverser) restoreRowData(t *store.Table, tableNdx uint64, row int) ([]instr.Instruction, error) {
	var out []instr.Instruction
	for ci, c := range t.Columns {
		if c.Type == types.TypeLinkList {
			size, err := r.shadow.ListSize(int(tableNdx), ci, row)
			if err != nil {
				return nil, applyErr(err)
			}
			if size == 0 {
				continue
			}
			out = append(out, instr.SelectLinkList{Column: uint64(ci), Row: uint64(row)})
			for n := 0; n < size; n++ {
				target, err := r.shadow.ListGet(int(tableNdx), ci, row, n)
				if err != nil {
					return nil, applyErr(err)
				}
				out = append(out, instr.ListInsert{Index: uint64(n), TargetRow: target, PriorSize: uint64(n)})
			}
			continue
		}
		v, err := r.shadow.Get(int(tableNdx), ci, row)
		if err != nil {
			return nil, applyErr(err)
		}
		out = append(out, setInstrFor(uint64(ci), uint64(row), v))
	}
	return out, nil
}

// restoreInboundLinks emits instructions restoring every link cell and list
// of other tables that pointed, in the shadow, at a matching row of table
// tableNdx. Affected lists are rebuilt wholesale from their shadow entries.
func (r *Reverser) restoreInboundLinks(tableNdx uint64, match func(uint64) bool) []instr.Instruction {
	var out []instr.Instruction
	for oi, other := range r.shadow.Tables {
		for ci, c := range other.Columns {
			if c.Target != int(tableNdx) {
				continue
			}
			if c.Type == types.TypeLinkList {
				for row := 0; row < other.NumRows(); row++ {
					size, err := r.shadow.ListSize(oi, ci, row)
					if err != nil || size == 0 {
						continue
					}
					affected := false
					kept := 0
					entries := make([]uint64, 0, size)
					for n := 0; n < size; n++ {
						target, err := r.shadow.ListGet(oi, ci, row, n)
						if err != nil {
							continue
						}
						entries = append(entries, target)
						if match(target) {
							affected = true
						} else {
							kept++
						}
					}
					if !affected {
						continue
					}
					out = append(out,
						instr.SelectTable{Table: uint64(oi)},
						instr.SelectLinkList{Column: uint64(ci), Row: uint64(row)},
						instr.ListClear{PriorSize: uint64(kept)})
					for n, target := range entries {
						out = append(out, instr.ListInsert{Index: uint64(n), TargetRow: target, PriorSize: uint64(n)})
					}
				}
				continue
			}
			for row := 0; row < other.NumRows(); row++ {
				v, err := r.shadow.Get(oi, ci, row)
				if err != nil || v.Null {
					continue
				}
				if !match(uint64(v.Int)) {
					continue
				}
				out = append(out,
					instr.SelectTable{Table: uint64(oi)},
					instr.SetLink{Column: uint64(ci), Row: uint64(row), TargetRow: uint64(v.Int)})
			}
		}
	}
	return out
}

func (r *Reverser) SelectTable(i instr.SelectTable) error {
	r.table = i.Table
	return r.applier.SelectTable(i)
}

func (r *Reverser) SelectDescriptor(i instr.SelectDescriptor) error {
	return r.applier.SelectDescriptor(i)
}

func (r *Reverser) SelectLinkList(i instr.SelectLinkList) error {
	r.listCol, r.listRow = i.Column, i.Row
	return r.applier.SelectLinkList(i)
}

func (r *Reverser) InsertTable(i instr.InsertTable) error {
	r.push(instr.EraseTable{Table: i.Table})
	return r.applier.InsertTable(i)
}

func (r *Reverser) EraseTable(i instr.EraseTable) error {
	t, err := r.shadow.Table(int(i.Table))
	if err != nil {
		return applyErr(err)
	}
	group := []instr.Instruction{
		instr.InsertTable{Table: i.Table, Name: t.Name},
		instr.SelectTable{Table: i.Table},
		instr.SelectDescriptor{},
	}
	for ci, c := range t.Columns {
		if c.Type.IsLink() {
			group = append(group, instr.InsertLinkColumn{
				Column: uint64(ci), Type: c.Type, Name: c.Name, TargetTable: uint64(c.Target)})
		} else {
			group = append(group, instr.InsertColumn{
				Column: uint64(ci), Type: c.Type, Name: c.Name, Nullable: c.Nullable})
		}
		if c.Indexed {
			group = append(group, instr.AddSearchIndex{Column: uint64(ci)})
		}
	}
	if rows := t.NumRows(); rows > 0 {
		group = append(group, instr.InsertEmptyRows{Row: 0, Count: uint64(rows), PriorSize: 0})
		for row := 0; row < rows; row++ {
			restore, err := r.restoreRowData(t, i.Table, row)
			if err != nil {
				return err
			}
			group = append(group, restore...)
		}
	}
	r.push(group...)
	return r.applier.EraseTable(i)
}

func (r *Reverser) RenameTable(i instr.RenameTable) error {
	t, err := r.shadow.Table(int(i.Table))
	if err != nil {
		return applyErr(err)
	}
	r.push(instr.RenameTable{Table: i.Table, Name: t.Name})
	return r.applier.RenameTable(i)
}

func (r *Reverser) MoveTable(i instr.MoveTable) error {
	r.push(instr.MoveTable{From: i.To, To: i.From})
	return r.applier.MoveTable(i)
}

func (r *Reverser) InsertEmptyRows(i instr.InsertEmptyRows) error {
	r.push(r.selTable(), instr.EraseRows{
		Row: i.Row, Count: i.Count, PriorSize: i.PriorSize + i.Count})
	return r.applier.InsertEmptyRows(i)
}

func (r *Reverser) EraseRows(i instr.EraseRows) error {
	t, err := r.shadow.Table(int(r.table))
	if err != nil {
		return applyErr(err)
	}
	if i.Unordered {
		// Move-last-over: insert a fresh row at the end, swap the moved
		// survivor back into place, then restore the erased row's data and
		// its inbound links.
		last := i.PriorSize - 1
		group := []instr.Instruction{
			r.selTable(),
			instr.InsertEmptyRows{Row: last, Count: 1, PriorSize: i.PriorSize - 1},
		}
		if i.Row != last {
			group = append(group, instr.SwapRows{RowA: i.Row, RowB: last})
		}
		restore, err := r.restoreRowData(t, r.table, int(i.Row))
		if err != nil {
			return err
		}
		group = append(group, restore...)
		group = append(group, r.restoreInboundLinks(r.table, func(target uint64) bool {
			return target == i.Row
		})...)
		r.push(group...)
		return r.applier.EraseRows(i)
	}
	group := []instr.Instruction{
		r.selTable(),
		instr.InsertEmptyRows{Row: i.Row, Count: i.Count, PriorSize: i.PriorSize - i.Count},
	}
	for row := i.Row; row < i.Row+i.Count; row++ {
		restore, err := r.restoreRowData(t, r.table, int(row))
		if err != nil {
			return err
		}
		group = append(group, restore...)
	}
	group = append(group, r.restoreInboundLinks(r.table, func(target uint64) bool {
		return target >= i.Row && target < i.Row+i.Count
	})...)
	r.push(group...)
	return r.applier.EraseRows(i)
}

func (r *Reverser) SwapRows(i instr.SwapRows) error {
	r.push(r.selTable(), instr.SwapRows{RowA: i.RowA, RowB: i.RowB})
	return r.applier.SwapRows(i)
}

func (r *Reverser) ClearTable(i instr.ClearTable) error {
	t, err := r.shadow.Table(int(r.table))
	if err != nil {
		return applyErr(err)
	}
	group := []instr.Instruction{r.selTable()}
	if rows := t.NumRows(); rows > 0 {
		group = append(group, instr.InsertEmptyRows{Row: 0, Count: uint64(rows), PriorSize: 0})
		for row := 0; row < rows; row++ {
			restore, err := r.restoreRowData(t, r.table, row)
			if err != nil {
				return err
			}
			group = append(group, restore...)
		}
	}
	group = append(group, r.restoreInboundLinks(r.table, func(uint64) bool { return true })...)
	r.push(group...)
	return r.applier.ClearTable(i)
}

func (r *Reverser) OptimizeTable(i instr.OptimizeTable) error {
	// No logical effect, nothing to undo.
	return r.applier.OptimizeTable(i)
}

func (r *Reverser) reverseSet(col, row uint64, forward func() error) error {
	old, err := r.shadow.Get(int(r.table), int(col), int(row))
	if err != nil {
		return applyErr(err)
	}
	r.push(r.selTable(), setInstrFor(col, row, old))
	return forward()
}

func (r *Reverser) SetInt(i instr.SetInt) error {
	return r.reverseSet(i.Column, i.Row, func() error { return r.applier.SetInt(i) })
}

func (r *Reverser) AddInt(i instr.AddInt) error {
	return r.reverseSet(i.Column, i.Row, func() error { return r.applier.AddInt(i) })
}

func (r *Reverser) SetBool(i instr.SetBool) error {
	return r.reverseSet(i.Column, i.Row, func() error { return r.applier.SetBool(i) })
}

func (r *Reverser) SetFloat(i instr.SetFloat) error {
	return r.reverseSet(i.Column, i.Row, func() error { return r.applier.SetFloat(i) })
}

func (r *Reverser) SetDouble(i instr.SetDouble) error {
	return r.reverseSet(i.Column, i.Row, func() error { return r.applier.SetDouble(i) })
}

func (r *Reverser) SetString(i instr.SetString) error {
	return r.reverseSet(i.Column, i.Row, func() error { return r.applier.SetString(i) })
}

func (r *Reverser) SetBinary(i instr.SetBinary) error {
	return r.reverseSet(i.Column, i.Row, func() error { return r.applier.SetBinary(i) })
}

func (r *Reverser) SetTimestamp(i instr.SetTimestamp) error {
	return r.reverseSet(i.Column, i.Row, func() error { return r.applier.SetTimestamp(i) })
}

func (r *Reverser) SetNull(i instr.SetNull) error {
	return r.reverseSet(i.Column, i.Row, func() error { return r.applier.SetNull(i) })
}

func (r *Reverser) SetLink(i instr.SetLink) error {
	return r.reverseSet(i.Column, i.Row, func() error { return r.applier.SetLink(i) })
}

func (r *Reverser) NullifyLink(i instr.NullifyLink) error {
	return r.reverseSet(i.Column, i.Row, func() error { return r.applier.NullifyLink(i) })
}

func (r *Reverser) descPrefix() []instr.Instruction {
	return []instr.Instruction{r.selTable(), instr.SelectDescriptor{}}
}

func (r *Reverser) InsertColumn(i instr.InsertColumn) error {
	r.push(append(r.descPrefix(), instr.EraseColumn{Column: i.Column})...)
	return r.applier.InsertColumn(i)
}

func (r *Reverser) InsertLinkColumn(i instr.InsertLinkColumn) error {
	r.push(append(r.descPrefix(), instr.EraseColumn{Column: i.Column})...)
	return r.applier.InsertLinkColumn(i)
}

func (r *Reverser) EraseColumn(i instr.EraseColumn) error {
	t, err := r.shadow.Table(int(r.table))
	if err != nil {
		return applyErr(err)
	}
	if int(i.Column) >= t.NumColumns() {
		return errors.Newf(errors.ErrCategoryCodec, errors.CodeBadTransactLog,
			"erase_column col=%d out of range in table %q", i.Column, t.Name)
	}
	c := t.Columns[i.Column]
	group := r.descPrefix()
	if c.Type.IsLink() {
		group = append(group, instr.InsertLinkColumn{
			Column: i.Column, Type: c.Type, Name: c.Name, TargetTable: uint64(c.Target)})
	} else {
		group = append(group, instr.InsertColumn{
			Column: i.Column, Type: c.Type, Name: c.Name, Nullable: c.Nullable})
	}
	if c.Indexed {
		group = append(group, instr.AddSearchIndex{Column: i.Column})
	}
	for row := 0; row < t.NumRows(); row++ {
		if c.Type == types.TypeLinkList {
			size, err := r.shadow.ListSize(int(r.table), int(i.Column), row)
			if err != nil {
				return applyErr(err)
			}
			if size == 0 {
				continue
			}
			group = append(group, instr.SelectLinkList{Column: i.Column, Row: uint64(row)})
			for n := 0; n < size; n++ {
				target, err := r.shadow.ListGet(int(r.table), int(i.Column), row, n)
				if err != nil {
					return applyErr(err)
				}
				group = append(group, instr.ListInsert{Index: uint64(n), TargetRow: target, PriorSize: uint64(n)})
			}
			continue
		}
		v, err := r.shadow.Get(int(r.table), int(i.Column), row)
		if err != nil {
			return applyErr(err)
		}
		group = append(group, setInstrFor(i.Column, uint64(row), v))
	}
	r.push(group...)
	return r.applier.EraseColumn(i)
}

func (r *Reverser) RenameColumn(i instr.RenameColumn) error {
	t, err := r.shadow.Table(int(r.table))
	if err != nil {
		return applyErr(err)
	}
	if int(i.Column) >= t.NumColumns() {
		return errors.Newf(errors.ErrCategoryCodec, errors.CodeBadTransactLog,
			"rename_column col=%d out of range in table %q", i.Column, t.Name)
	}
	old := t.Columns[i.Column].Name
	r.push(append(r.descPrefix(), instr.RenameColumn{Column: i.Column, Name: old})...)
	return r.applier.RenameColumn(i)
}

func (r *Reverser) MoveColumn(i instr.MoveColumn) error {
	r.push(append(r.descPrefix(), instr.MoveColumn{From: i.To, To: i.From})...)
	return r.applier.MoveColumn(i)
}

func (r *Reverser) AddSearchIndex(i instr.AddSearchIndex) error {
	r.push(append(r.descPrefix(), instr.RemoveSearchIndex{Column: i.Column})...)
	return r.applier.AddSearchIndex(i)
}

func (r *Reverser) RemoveSearchIndex(i instr.RemoveSearchIndex) error {
	r.push(append(r.descPrefix(), instr.AddSearchIndex{Column: i.Column})...)
	return r.applier.RemoveSearchIndex(i)
}

func (r *Reverser) listPrefix() []instr.Instruction {
	return []instr.Instruction{r.selTable(), instr.SelectLinkList{Column: r.listCol, Row: r.listRow}}
}

func (r *Reverser) ListSet(i instr.ListSet) error {
	old, err := r.shadow.ListGet(int(r.table), int(r.listCol), int(r.listRow), int(i.Index))
	if err != nil {
		return applyErr(err)
	}
	r.push(append(r.listPrefix(), instr.ListSet{Index: i.Index, TargetRow: old})...)
	return r.applier.ListSet(i)
}

func (r *Reverser) ListInsert(i instr.ListInsert) error {
	r.push(append(r.listPrefix(), instr.ListErase{Index: i.Index, PriorSize: i.PriorSize + 1})...)
	return r.applier.ListInsert(i)
}

func (r *Reverser) ListErase(i instr.ListErase) error {
	old, err := r.shadow.ListGet(int(r.table), int(r.listCol), int(r.listRow), int(i.Index))
	if err != nil {
		return applyErr(err)
	}
	r.push(append(r.listPrefix(),
		instr.ListInsert{Index: i.Index, TargetRow: old, PriorSize: i.PriorSize - 1})...)
	return r.applier.ListErase(i)
}

func (r *Reverser) ListMove(i instr.ListMove) error {
	r.push(append(r.listPrefix(), instr.ListMove{From: i.To, To: i.From})...)
	return r.applier.ListMove(i)
}

func (r *Reverser) ListSwap(i instr.ListSwap) error {
	r.push(append(r.listPrefix(), instr.ListSwap{IndexA: i.IndexA, IndexB: i.IndexB})...)
	return r.applier.ListSwap(i)
}

func (r *Reverser) ListClear(i instr.ListClear) error {
	size, err := r.shadow.ListSize(int(r.table), int(r.listCol), int(r.listRow))
	if err != nil {
		return applyErr(err)
	}
	group := r.listPrefix()
	for n := 0; n < size; n++ {
		target, err := r.shadow.ListGet(int(r.table), int(r.listCol), int(r.listRow), n)
		if err != nil {
			return applyErr(err)
		}
		group = append(group, instr.ListInsert{Index: uint64(n), TargetRow: target, PriorSize: uint64(n)})
	}
	r.push(group...)
	return r.applier.ListClear(i)
}
