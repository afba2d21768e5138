package replay

import "github.com/meridiandb/meridian/internal/instr"

// ListChangeKind classifies the accumulated changes to one observed link
// list. A list touched by only one kind of mutation keeps precise indexes;
// once a second kind touches it the tracker degrades to a coarse
// replaced-wholesale signal.
type ListChangeKind int

const (
	ListChangeNone ListChangeKind = iota
	ListChangeInserts
	ListChangeRemoves
	ListChangeSets
	ListChangeReplaced
)

func (k ListChangeKind) String() string {
	switch k {
	case ListChangeNone:
		return "none"
	case ListChangeInserts:
		return "inserts"
	case ListChangeRemoves:
		return "removes"
	case ListChangeSets:
		return "sets"
	case ListChangeReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// ListChanges accumulates the changes to one observed link list within a
// transaction.
type ListChanges struct {
	Kind    ListChangeKind
	Indexes []uint64
}

func (lc *ListChanges) record(kind ListChangeKind, ndx uint64) {
	switch lc.Kind {
	case ListChangeNone:
		lc.Kind = kind
		lc.Indexes = append(lc.Indexes, ndx)
	case kind:
		lc.Indexes = append(lc.Indexes, ndx)
	case ListChangeReplaced:
	default:
		lc.replace()
	}
}

func (lc *ListChanges) replace() {
	lc.Kind = ListChangeReplaced
	lc.Indexes = nil
}

// ObservedRow is one row a listener watches. The tracker keeps Table and Row
// pointing at the same logical row as instructions shift indexes around, and
// marks the columns the transaction dirtied.
type ObservedRow struct {
	Table uint64
	Row   uint64

	// Invalidated is set when the row is erased, its table cleared, or its
	// table erased. An invalidated row no longer tracks index shifts.
	Invalidated bool

	DirtyColumns map[uint64]bool
	Lists        map[uint64]*ListChanges
}

// Dirty reports whether the transaction touched the row at all.
func (o *ObservedRow) Dirty() bool {
	return o.Invalidated || len(o.DirtyColumns) > 0 || len(o.Lists) > 0
}

func (o *ObservedRow) markColumn(col uint64) {
	if o.DirtyColumns == nil {
		o.DirtyColumns = make(map[uint64]bool)
	}
	o.DirtyColumns[col] = true
}

func (o *ObservedRow) list(col uint64) *ListChanges {
	if o.Lists == nil {
		o.Lists = make(map[uint64]*ListChanges)
	}
	lc := o.Lists[col]
	if lc == nil {
		lc = &ListChanges{}
		o.Lists[col] = lc
	}
	return lc
}

// ChangeTracker replays a transaction log against a set of observed rows,
// marking dirty columns and list changes and rewriting row, column and table
// indexes as the log moves things around. Sessions use it to carry listener
// registrations forward across commits.
type ChangeTracker struct {
	NullObserver

	rows []*ObservedRow

	table         uint64
	tableSelected bool
	listCol       uint64
	listRow       uint64
	listSelected  bool
}

var _ Observer = (*ChangeTracker)(nil)

// NewChangeTracker returns a tracker with no observed rows.
func NewChangeTracker() *ChangeTracker {
	return &ChangeTracker{}
}

// Observe registers a row to track and returns its handle. The handle's
// fields are updated in place as logs are replayed through the tracker.
func (ct *ChangeTracker) Observe(table, row uint64) *ObservedRow {
	o := &ObservedRow{Table: table, Row: row}
	ct.rows = append(ct.rows, o)
	return o
}

// Rows returns every registered observed row.
func (ct *ChangeTracker) Rows() []*ObservedRow {
	return ct.rows
}

// ResetDirty clears accumulated dirty state, keeping registrations and
// index positions. Called after listeners have been notified.
func (ct *ChangeTracker) ResetDirty() {
	kept := ct.rows[:0]
	for _, o := range ct.rows {
		if o.Invalidated {
			continue
		}
		o.DirtyColumns = nil
		o.Lists = nil
		kept = append(kept, o)
	}
	ct.rows = kept
}

// each visits the live observed rows of the selected table.
func (ct *ChangeTracker) each(fn func(*ObservedRow)) {
	if !ct.tableSelected {
		return
	}
	for _, o := range ct.rows {
		if !o.Invalidated && o.Table == ct.table {
			fn(o)
		}
	}
}

func (ct *ChangeTracker) markCell(col, row uint64) {
	ct.each(func(o *ObservedRow) {
		if o.Row == row {
			o.markColumn(col)
		}
	})
}

func (ct *ChangeTracker) SelectTable(i instr.SelectTable) error {
	ct.table = i.Table
	ct.tableSelected = true
	ct.listSelected = false
	return nil
}

func (ct *ChangeTracker) SelectLinkList(i instr.SelectLinkList) error {
	ct.listCol = i.Column
	ct.listRow = i.Row
	ct.listSelected = true
	return nil
}

func (ct *ChangeTracker) InsertTable(i instr.InsertTable) error {
	ct.tableSelected = false
	ct.listSelected = false
	for _, o := range ct.rows {
		if !o.Invalidated && o.Table >= i.Table {
			o.Table++
		}
	}
	return nil
}

func (ct *ChangeTracker) EraseTable(i instr.EraseTable) error {
	ct.tableSelected = false
	ct.listSelected = false
	for _, o := range ct.rows {
		if o.Invalidated {
			continue
		}
		switch {
		case o.Table == i.Table:
			o.Invalidated = true
		case o.Table > i.Table:
			o.Table--
		}
	}
	return nil
}

func (ct *ChangeTracker) MoveTable(i instr.MoveTable) error {
	ct.tableSelected = false
	ct.listSelected = false
	for _, o := range ct.rows {
		if o.Invalidated {
			continue
		}
		switch {
		case o.Table == i.From:
			o.Table = i.To
		case i.From < i.To && o.Table > i.From && o.Table <= i.To:
			o.Table--
		case i.To < i.From && o.Table >= i.To && o.Table < i.From:
			o.Table++
		}
	}
	return nil
}

func (ct *ChangeTracker) RenameTable(i instr.RenameTable) error {
	ct.tableSelected = false
	ct.listSelected = false
	return nil
}

func (ct *ChangeTracker) InsertEmptyRows(i instr.InsertEmptyRows) error {
	ct.each(func(o *ObservedRow) {
		if o.Row >= i.Row {
			o.Row += i.Count
		}
	})
	return nil
}

func (ct *ChangeTracker) EraseRows(i instr.EraseRows) error {
	if i.Unordered {
		// Move-last-over: the last row takes the erased slot.
		last := i.PriorSize - 1
		ct.each(func(o *ObservedRow) {
			switch {
			case o.Row == i.Row:
				o.Invalidated = true
			case o.Row == last:
				o.Row = i.Row
			}
		})
		return nil
	}
	ct.each(func(o *ObservedRow) {
		switch {
		case o.Row >= i.Row && o.Row < i.Row+i.Count:
			o.Invalidated = true
		case o.Row >= i.Row+i.Count:
			o.Row -= i.Count
		}
	})
	return nil
}

func (ct *ChangeTracker) SwapRows(i instr.SwapRows) error {
	ct.each(func(o *ObservedRow) {
		switch o.Row {
		case i.RowA:
			o.Row = i.RowB
		case i.RowB:
			o.Row = i.RowA
		}
	})
	return nil
}

func (ct *ChangeTracker) ClearTable(i instr.ClearTable) error {
	ct.each(func(o *ObservedRow) {
		o.Invalidated = true
	})
	return nil
}

func (ct *ChangeTracker) SetInt(i instr.SetInt) error { ct.markCell(i.Column, i.Row); return nil }
func (ct *ChangeTracker) AddInt(i instr.AddInt) error { ct.markCell(i.Column, i.Row); return nil }
func (ct *ChangeTracker) SetBool(i instr.SetBool) error {
	ct.markCell(i.Column, i.Row)
	return nil
}
func (ct *ChangeTracker) SetFloat(i instr.SetFloat) error {
	ct.markCell(i.Column, i.Row)
	return nil
}
func (ct *ChangeTracker) SetDouble(i instr.SetDouble) error {
	ct.markCell(i.Column, i.Row)
	return nil
}
func (ct *ChangeTracker) SetString(i instr.SetString) error {
	ct.markCell(i.Column, i.Row)
	return nil
}
func (ct *ChangeTracker) SetBinary(i instr.SetBinary) error {
	ct.markCell(i.Column, i.Row)
	return nil
}
func (ct *ChangeTracker) SetTimestamp(i instr.SetTimestamp) error {
	ct.markCell(i.Column, i.Row)
	return nil
}
func (ct *ChangeTracker) SetNull(i instr.SetNull) error {
	ct.markCell(i.Column, i.Row)
	return nil
}
func (ct *ChangeTracker) SetLink(i instr.SetLink) error {
	ct.markCell(i.Column, i.Row)
	return nil
}
func (ct *ChangeTracker) NullifyLink(i instr.NullifyLink) error {
	ct.markCell(i.Column, i.Row)
	return nil
}

func (ct *ChangeTracker) shiftColumns(shift func(uint64) (uint64, bool)) {
	ct.each(func(o *ObservedRow) {
		if o.DirtyColumns != nil {
			next := make(map[uint64]bool, len(o.DirtyColumns))
			for col := range o.DirtyColumns {
				if nc, ok := shift(col); ok {
					next[nc] = true
				}
			}
			o.DirtyColumns = next
		}
		if o.Lists != nil {
			next := make(map[uint64]*ListChanges, len(o.Lists))
			for col, lc := range o.Lists {
				if nc, ok := shift(col); ok {
					next[nc] = lc
				}
			}
			o.Lists = next
		}
	})
}

func (ct *ChangeTracker) InsertColumn(i instr.InsertColumn) error {
	ct.shiftColumns(func(col uint64) (uint64, bool) {
		if col >= i.Column {
			return col + 1, true
		}
		return col, true
	})
	return nil
}

func (ct *ChangeTracker) InsertLinkColumn(i instr.InsertLinkColumn) error {
	ct.shiftColumns(func(col uint64) (uint64, bool) {
		if col >= i.Column {
			return col + 1, true
		}
		return col, true
	})
	return nil
}

func (ct *ChangeTracker) EraseColumn(i instr.EraseColumn) error {
	ct.shiftColumns(func(col uint64) (uint64, bool) {
		switch {
		case col == i.Column:
			return 0, false
		case col > i.Column:
			return col - 1, true
		default:
			return col, true
		}
	})
	return nil
}

func (ct *ChangeTracker) MoveColumn(i instr.MoveColumn) error {
	ct.shiftColumns(func(col uint64) (uint64, bool) {
		switch {
		case col == i.From:
			return i.To, true
		case i.From < i.To && col > i.From && col <= i.To:
			return col - 1, true
		case i.To < i.From && col >= i.To && col < i.From:
			return col + 1, true
		default:
			return col, true
		}
	})
	return nil
}

// listChanges returns the change accumulator of every observed row holding
// the selected link list.
func (ct *ChangeTracker) eachList(fn func(*ListChanges)) {
	if !ct.listSelected {
		return
	}
	ct.each(func(o *ObservedRow) {
		if o.Row == ct.listRow {
			fn(o.list(ct.listCol))
		}
	})
}

func (ct *ChangeTracker) ListSet(i instr.ListSet) error {
	ct.eachList(func(lc *ListChanges) { lc.record(ListChangeSets, i.Index) })
	return nil
}

func (ct *ChangeTracker) ListInsert(i instr.ListInsert) error {
	ct.eachList(func(lc *ListChanges) { lc.record(ListChangeInserts, i.Index) })
	return nil
}

func (ct *ChangeTracker) ListErase(i instr.ListErase) error {
	ct.eachList(func(lc *ListChanges) { lc.record(ListChangeRemoves, i.Index) })
	return nil
}

func (ct *ChangeTracker) ListMove(i instr.ListMove) error {
	ct.eachList(func(lc *ListChanges) { lc.replace() })
	return nil
}

func (ct *ChangeTracker) ListSwap(i instr.ListSwap) error {
	ct.eachList(func(lc *ListChanges) { lc.replace() })
	return nil
}

func (ct *ChangeTracker) ListClear(i instr.ListClear) error {
	ct.eachList(func(lc *ListChanges) { lc.replace() })
	return nil
}
