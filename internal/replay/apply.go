package replay

import (
	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/instr"
	"github.com/meridiandb/meridian/internal/store"
	"github.com/meridiandb/meridian/pkg/types"
)

// Applier replays instructions into a store group. It is how a session
// advances a snapshot to a newer version and how a recovered file is
// rebuilt from history.
//
// Store-level failures surface as bad-log errors: a log that does not apply
// cleanly to the state it was recorded against is corrupt by definition.
type Applier struct {
	group *store.Group

	table   int
	listCol int
	listRow int
}

var _ Observer = (*Applier)(nil)

// NewApplier returns an applier mutating g.
func NewApplier(g *store.Group) *Applier {
	return &Applier{group: g, table: -1, listCol: -1, listRow: -1}
}

// Group returns the group the applier mutates.
func (a *Applier) Group() *store.Group {
	return a.group
}

// Apply replays one encoded changeset into the group.
func (a *Applier) Apply(changeset []byte) error {
	return ReplayOne(changeset, a)
}

func applyErr(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(errors.ErrCategoryCodec, errors.CodeBadTransactLog,
		"instruction does not apply to the current state", err)
}

func (a *Applier) SelectTable(i instr.SelectTable) error {
	if int(i.Table) >= a.group.NumTables() {
		return errors.Newf(errors.ErrCategoryCodec, errors.CodeBadTransactLog,
			"select_table %d out of range (%d tables)", i.Table, a.group.NumTables())
	}
	a.table = int(i.Table)
	a.listCol, a.listRow = -1, -1
	return nil
}

func (a *Applier) SelectDescriptor(instr.SelectDescriptor) error {
	a.listCol, a.listRow = -1, -1
	return nil
}

func (a *Applier) SelectLinkList(i instr.SelectLinkList) error {
	a.listCol, a.listRow = int(i.Column), int(i.Row)
	return nil
}

func (a *Applier) InsertTable(i instr.InsertTable) error {
	a.table, a.listCol, a.listRow = -1, -1, -1
	return applyErr(a.group.InsertTable(int(i.Table), i.Name))
}

func (a *Applier) EraseTable(i instr.EraseTable) error {
	a.table, a.listCol, a.listRow = -1, -1, -1
	return applyErr(a.group.EraseTable(int(i.Table)))
}

func (a *Applier) RenameTable(i instr.RenameTable) error {
	a.table, a.listCol, a.listRow = -1, -1, -1
	return applyErr(a.group.RenameTable(int(i.Table), i.Name))
}

func (a *Applier) MoveTable(i instr.MoveTable) error {
	a.table, a.listCol, a.listRow = -1, -1, -1
	return applyErr(a.group.MoveTable(int(i.From), int(i.To)))
}

func (a *Applier) priorSizeMatches(prior uint64) error {
	t, err := a.group.Table(a.table)
	if err != nil {
		return applyErr(err)
	}
	if uint64(t.NumRows()) != prior {
		return errors.Newf(errors.ErrCategoryCodec, errors.CodeBadTransactLog,
			"prior size %d does not match table %q row count %d", prior, t.Name, t.NumRows())
	}
	return nil
}

func (a *Applier) InsertEmptyRows(i instr.InsertEmptyRows) error {
	if err := a.priorSizeMatches(i.PriorSize); err != nil {
		return err
	}
	return applyErr(a.group.InsertEmptyRows(a.table, int(i.Row), int(i.Count)))
}

func (a *Applier) EraseRows(i instr.EraseRows) error {
	if err := a.priorSizeMatches(i.PriorSize); err != nil {
		return err
	}
	return applyErr(a.group.EraseRows(a.table, int(i.Row), int(i.Count), i.Unordered))
}

func (a *Applier) SwapRows(i instr.SwapRows) error {
	return applyErr(a.group.SwapRows(a.table, int(i.RowA), int(i.RowB)))
}

func (a *Applier) ClearTable(i instr.ClearTable) error {
	return applyErr(a.group.ClearTable(a.table))
}

func (a *Applier) OptimizeTable(instr.OptimizeTable) error {
	// Storage-layout hint only; the columnar store has nothing to enumerate.
	return nil
}

func (a *Applier) SetInt(i instr.SetInt) error {
	return applyErr(a.group.Set(a.table, int(i.Column), int(i.Row), types.IntValue(i.Value)))
}

func (a *Applier) AddInt(i instr.AddInt) error {
	return applyErr(a.group.AddInt(a.table, int(i.Column), int(i.Row), i.Delta))
}

func (a *Applier) SetBool(i instr.SetBool) error {
	return applyErr(a.group.Set(a.table, int(i.Column), int(i.Row), types.BoolValue(i.Value)))
}

func (a *Applier) SetFloat(i instr.SetFloat) error {
	return applyErr(a.group.Set(a.table, int(i.Column), int(i.Row), types.FloatValue(i.Value)))
}

func (a *Applier) SetDouble(i instr.SetDouble) error {
	return applyErr(a.group.Set(a.table, int(i.Column), int(i.Row), types.DoubleValue(i.Value)))
}

func (a *Applier) SetString(i instr.SetString) error {
	return applyErr(a.group.Set(a.table, int(i.Column), int(i.Row), types.StringValue(i.Value)))
}

func (a *Applier) SetBinary(i instr.SetBinary) error {
	return applyErr(a.group.Set(a.table, int(i.Column), int(i.Row), types.BinaryValue(i.Value)))
}

func (a *Applier) SetTimestamp(i instr.SetTimestamp) error {
	return applyErr(a.group.Set(a.table, int(i.Column), int(i.Row), types.TimestampValue(i.Nanos)))
}

func (a *Applier) SetNull(i instr.SetNull) error {
	// Null carries no type on the wire; take it from the column.
	t, err := a.group.Table(a.table)
	if err != nil {
		return applyErr(err)
	}
	if int(i.Column) >= t.NumColumns() {
		return errors.Newf(errors.ErrCategoryCodec, errors.CodeBadTransactLog,
			"set_null col=%d out of range in table %q", i.Column, t.Name)
	}
	typ := t.Columns[i.Column].Type
	return applyErr(a.group.Set(a.table, int(i.Column), int(i.Row), types.NullValue(typ)))
}

func (a *Applier) SetLink(i instr.SetLink) error {
	return applyErr(a.group.Set(a.table, int(i.Column), int(i.Row), types.LinkValue(int64(i.TargetRow))))
}

func (a *Applier) NullifyLink(i instr.NullifyLink) error {
	return applyErr(a.group.Set(a.table, int(i.Column), int(i.Row), types.NullValue(types.TypeLink)))
}

func (a *Applier) InsertColumn(i instr.InsertColumn) error {
	return applyErr(a.group.InsertColumn(a.table, int(i.Column), i.Type, i.Name, i.Nullable))
}

func (a *Applier) InsertLinkColumn(i instr.InsertLinkColumn) error {
	return applyErr(a.group.InsertLinkColumn(a.table, int(i.Column), i.Type, i.Name, int(i.TargetTable)))
}

func (a *Applier) EraseColumn(i instr.EraseColumn) error {
	return applyErr(a.group.EraseColumn(a.table, int(i.Column)))
}

func (a *Applier) RenameColumn(i instr.RenameColumn) error {
	return applyErr(a.group.RenameColumn(a.table, int(i.Column), i.Name))
}

func (a *Applier) MoveColumn(i instr.MoveColumn) error {
	return applyErr(a.group.MoveColumn(a.table, int(i.From), int(i.To)))
}

func (a *Applier) AddSearchIndex(i instr.AddSearchIndex) error {
	return applyErr(a.group.SetSearchIndex(a.table, int(i.Column), true))
}

func (a *Applier) RemoveSearchIndex(i instr.RemoveSearchIndex) error {
	return applyErr(a.group.SetSearchIndex(a.table, int(i.Column), false))
}

func (a *Applier) ListSet(i instr.ListSet) error {
	return applyErr(a.group.ListSet(a.table, a.listCol, a.listRow, int(i.Index), i.TargetRow))
}

func (a *Applier) ListInsert(i instr.ListInsert) error {
	return applyErr(a.group.ListInsert(a.table, a.listCol, a.listRow, int(i.Index), i.TargetRow))
}

func (a *Applier) ListMove(i instr.ListMove) error {
	return applyErr(a.group.ListMove(a.table, a.listCol, a.listRow, int(i.From), int(i.To)))
}

func (a *Applier) ListSwap(i instr.ListSwap) error {
	return applyErr(a.group.ListSwap(a.table, a.listCol, a.listRow, int(i.IndexA), int(i.IndexB)))
}

func (a *Applier) ListErase(i instr.ListErase) error {
	return applyErr(a.group.ListErase(a.table, a.listCol, a.listRow, int(i.Index)))
}

func (a *Applier) ListClear(i instr.ListClear) error {
	return applyErr(a.group.ListClear(a.table, a.listCol, a.listRow))
}
