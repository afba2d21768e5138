// Package store provides the in-memory columnar table store the transaction
// engine mutates: tables addressed by index, typed columns, link cells and
// link lists. It is the reference implementation of the storage collaborator;
// a page-backed implementation can replace it behind the same operations.
package store

import (
	"fmt"

	"github.com/meridiandb/meridian/pkg/types"
)

// Column holds one table column: its descriptor and the per-row cells.
// Link-list columns keep their row lists in lists; every other column keeps
// scalar cells in vals.
type Column struct {
	Name     string
	Type     types.DataType
	Nullable bool
	Indexed  bool
	// Target is the table index a link or link-list column points at;
	// -1 for non-link columns.
	Target int

	vals  []types.Value
	lists [][]uint64
}

func (c *Column) isList() bool {
	return c.Type == types.TypeLinkList
}

// Table is one table: named, with ordered columns and a row count shared by
// every column.
type Table struct {
	Name string
	// PrimaryKey names the primary-key column, or is empty. It is schema
	// metadata maintained by the schema applier, not by the instruction
	// stream.
	PrimaryKey string

	Columns []*Column
	rows    int
}

// NumRows returns the table's row count.
func (t *Table) NumRows() int {
	return t.rows
}

// NumColumns returns the number of columns.
func (t *Table) NumColumns() int {
	return len(t.Columns)
}

// ColumnByName returns the index of the named column, or -1.
func (t *Table) ColumnByName(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (t *Table) column(col int) (*Column, error) {
	if col < 0 || col >= len(t.Columns) {
		return nil, fmt.Errorf("store: column %d out of range in table %q (%d columns)", col, t.Name, len(t.Columns))
	}
	return t.Columns[col], nil
}

func (t *Table) checkRow(row int) error {
	if row < 0 || row >= t.rows {
		return fmt.Errorf("store: row %d out of range in table %q (%d rows)", row, t.Name, t.rows)
	}
	return nil
}

// defaultValue returns the cell value a freshly inserted row holds:
// null for nullable and link columns, the type's zero value otherwise.
func defaultValue(c *Column) types.Value {
	if c.Nullable || c.Type == types.TypeLink {
		return types.NullValue(c.Type)
	}
	switch c.Type {
	case types.TypeInt:
		return types.IntValue(0)
	case types.TypeBool:
		return types.BoolValue(false)
	case types.TypeFloat:
		return types.FloatValue(0)
	case types.TypeDouble:
		return types.DoubleValue(0)
	case types.TypeString:
		return types.StringValue("")
	case types.TypeBinary:
		return types.BinaryValue(nil)
	case types.TypeTimestamp:
		return types.TimestampValue(0)
	default:
		return types.NullValue(c.Type)
	}
}

// Group is a set of tables: one committed snapshot's worth of data, or the
// in-progress state of a write transaction.
type Group struct {
	Tables []*Table
}

// NewGroup returns an empty group.
func NewGroup() *Group {
	return &Group{}
}

// NumTables returns the number of tables.
func (g *Group) NumTables() int {
	return len(g.Tables)
}

// Table returns the table at the given index.
func (g *Group) Table(ndx int) (*Table, error) {
	if ndx < 0 || ndx >= len(g.Tables) {
		return nil, fmt.Errorf("store: table %d out of range (%d tables)", ndx, len(g.Tables))
	}
	return g.Tables[ndx], nil
}

// TableByName returns the index of the named table, or -1.
func (g *Group) TableByName(name string) int {
	for i, t := range g.Tables {
		if t.Name == name {
			return i
		}
	}
	return -1
}

// InsertTable creates an empty table at ndx, shifting later tables up and
// fixing link-column targets accordingly.
func (g *Group) InsertTable(ndx int, name string) error {
	if ndx < 0 || ndx > len(g.Tables) {
		return fmt.Errorf("store: table insert position %d out of range (%d tables)", ndx, len(g.Tables))
	}
	g.Tables = append(g.Tables, nil)
	copy(g.Tables[ndx+1:], g.Tables[ndx:])
	g.Tables[ndx] = &Table{Name: name}
	g.remapTargets(func(target int) int {
		if target >= ndx {
			return target + 1
		}
		return target
	})
	// The fresh table has no columns, so remapping cannot have touched it.
	return nil
}

// EraseTable removes the table at ndx. Tables referenced by link columns of
// other tables cannot be erased.
func (g *Group) EraseTable(ndx int) error {
	if _, err := g.Table(ndx); err != nil {
		return err
	}
	for ti, t := range g.Tables {
		if ti == ndx {
			continue
		}
		for _, c := range t.Columns {
			if c.Target == ndx {
				return fmt.Errorf("store: cannot erase table %q: column %q of %q links to it",
					g.Tables[ndx].Name, c.Name, t.Name)
			}
		}
	}
	g.Tables = append(g.Tables[:ndx], g.Tables[ndx+1:]...)
	g.remapTargets(func(target int) int {
		if target > ndx {
			return target - 1
		}
		return target
	})
	return nil
}

// RenameTable renames the table at ndx.
func (g *Group) RenameTable(ndx int, name string) error {
	t, err := g.Table(ndx)
	if err != nil {
		return err
	}
	t.Name = name
	return nil
}

// MoveTable moves a table between indexes, fixing link-column targets.
func (g *Group) MoveTable(from, to int) error {
	if _, err := g.Table(from); err != nil {
		return err
	}
	if _, err := g.Table(to); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	moved := g.Tables[from]
	if from < to {
		copy(g.Tables[from:], g.Tables[from+1:to+1])
	} else {
		copy(g.Tables[to+1:], g.Tables[to:from])
	}
	g.Tables[to] = moved
	g.remapTargets(func(target int) int {
		switch {
		case target == from:
			return to
		case from < to && target > from && target <= to:
			return target - 1
		case to < from && target >= to && target < from:
			return target + 1
		default:
			return target
		}
	})
	return nil
}

func (g *Group) remapTargets(remap func(int) int) {
	for _, t := range g.Tables {
		for _, c := range t.Columns {
			if c.Target >= 0 {
				c.Target = remap(c.Target)
			}
		}
	}
}

// InsertColumn adds a non-link column at col of the given table, filling
// existing rows with the default value.
func (g *Group) InsertColumn(table, col int, typ types.DataType, name string, nullable bool) error {
	t, err := g.Table(table)
	if err != nil {
		return err
	}
	if typ.IsLink() {
		return fmt.Errorf("store: column %q of table %q is a link type; use InsertLinkColumn", name, t.Name)
	}
	if col < 0 || col > len(t.Columns) {
		return fmt.Errorf("store: column insert position %d out of range in table %q", col, t.Name)
	}
	c := &Column{Name: name, Type: typ, Nullable: nullable, Target: -1}
	c.vals = make([]types.Value, t.rows)
	for i := range c.vals {
		c.vals[i] = defaultValue(c)
	}
	t.Columns = append(t.Columns, nil)
	copy(t.Columns[col+1:], t.Columns[col:])
	t.Columns[col] = c
	return nil
}

// InsertLinkColumn adds a link or link-list column targeting another table.
func (g *Group) InsertLinkColumn(table, col int, typ types.DataType, name string, target int) error {
	t, err := g.Table(table)
	if err != nil {
		return err
	}
	if !typ.IsLink() {
		return fmt.Errorf("store: column %q of table %q is not a link type", name, t.Name)
	}
	if _, err := g.Table(target); err != nil {
		return err
	}
	if col < 0 || col > len(t.Columns) {
		return fmt.Errorf("store: column insert position %d out of range in table %q", col, t.Name)
	}
	c := &Column{Name: name, Type: typ, Nullable: true, Target: target}
	if c.isList() {
		c.lists = make([][]uint64, t.rows)
	} else {
		c.vals = make([]types.Value, t.rows)
		for i := range c.vals {
			c.vals[i] = types.NullValue(typ)
		}
	}
	t.Columns = append(t.Columns, nil)
	copy(t.Columns[col+1:], t.Columns[col:])
	t.Columns[col] = c
	return nil
}

// EraseColumn removes the column at col of the given table.
func (g *Group) EraseColumn(table, col int) error {
	t, err := g.Table(table)
	if err != nil {
		return err
	}
	c, err := t.column(col)
	if err != nil {
		return err
	}
	if t.PrimaryKey == c.Name {
		t.PrimaryKey = ""
	}
	t.Columns = append(t.Columns[:col], t.Columns[col+1:]...)
	return nil
}

// RenameColumn renames the column at col of the given table.
func (g *Group) RenameColumn(table, col int, name string) error {
	t, err := g.Table(table)
	if err != nil {
		return err
	}
	c, err := t.column(col)
	if err != nil {
		return err
	}
	if t.PrimaryKey == c.Name {
		t.PrimaryKey = name
	}
	c.Name = name
	return nil
}

// MoveColumn moves a column of the given table between indexes.
func (g *Group) MoveColumn(table, from, to int) error {
	t, err := g.Table(table)
	if err != nil {
		return err
	}
	if _, err := t.column(from); err != nil {
		return err
	}
	if _, err := t.column(to); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	moved := t.Columns[from]
	if from < to {
		copy(t.Columns[from:], t.Columns[from+1:to+1])
	} else {
		copy(t.Columns[to+1:], t.Columns[to:from])
	}
	t.Columns[to] = moved
	return nil
}

// SetSearchIndex flags whether a search index is maintained on a column.
func (g *Group) SetSearchIndex(table, col int, indexed bool) error {
	t, err := g.Table(table)
	if err != nil {
		return err
	}
	c, err := t.column(col)
	if err != nil {
		return err
	}
	c.Indexed = indexed
	return nil
}

// SetPrimaryKey records the primary-key column name of a table (schema
// metadata; empty clears the key).
func (g *Group) SetPrimaryKey(table int, name string) error {
	t, err := g.Table(table)
	if err != nil {
		return err
	}
	if name != "" && t.ColumnByName(name) < 0 {
		return fmt.Errorf("store: primary key %q names no column of table %q", name, t.Name)
	}
	t.PrimaryKey = name
	return nil
}

// InsertEmptyRows inserts count default-initialized rows at row.
func (g *Group) InsertEmptyRows(table, row, count int) error {
	t, err := g.Table(table)
	if err != nil {
		return err
	}
	if row < 0 || row > t.rows {
		return fmt.Errorf("store: row insert position %d out of range in table %q (%d rows)", row, t.Name, t.rows)
	}
	if count < 0 {
		return fmt.Errorf("store: negative row count %d", count)
	}
	for _, c := range t.Columns {
		if c.isList() {
			c.lists = append(c.lists, make([][]uint64, count)...)
			copy(c.lists[row+count:], c.lists[row:])
			for i := 0; i < count; i++ {
				c.lists[row+i] = nil
			}
		} else {
			c.vals = append(c.vals, make([]types.Value, count)...)
			copy(c.vals[row+count:], c.vals[row:])
			for i := 0; i < count; i++ {
				c.vals[row+i] = defaultValue(c)
			}
		}
	}
	t.rows += count
	g.adjustLinksOnInsert(table, row, count)
	return nil
}

// EraseRows removes count rows starting at row. When unordered is set the
// erase is move-last-over and count must be 1: the last row moves into the
// erased slot.
func (g *Group) EraseRows(table, row, count int, unordered bool) error {
	t, err := g.Table(table)
	if err != nil {
		return err
	}
	if count < 0 || row < 0 || row+count > t.rows {
		return fmt.Errorf("store: rows [%d,%d) out of range in table %q (%d rows)", row, row+count, t.Name, t.rows)
	}
	if unordered {
		if count != 1 {
			return fmt.Errorf("store: unordered erase of %d rows in table %q; only single-row supported", count, t.Name)
		}
		last := t.rows - 1
		for _, c := range t.Columns {
			if c.isList() {
				c.lists[row] = c.lists[last]
				c.lists = c.lists[:last]
			} else {
				c.vals[row] = c.vals[last]
				c.vals = c.vals[:last]
			}
		}
		t.rows--
		g.adjustLinksOnMoveLastOver(table, row, last)
		return nil
	}
	for _, c := range t.Columns {
		if c.isList() {
			c.lists = append(c.lists[:row], c.lists[row+count:]...)
		} else {
			c.vals = append(c.vals[:row], c.vals[row+count:]...)
		}
	}
	t.rows -= count
	g.adjustLinksOnErase(table, row, count)
	return nil
}

// SwapRows exchanges two rows of a table.
func (g *Group) SwapRows(table, a, b int) error {
	t, err := g.Table(table)
	if err != nil {
		return err
	}
	if err := t.checkRow(a); err != nil {
		return err
	}
	if err := t.checkRow(b); err != nil {
		return err
	}
	for _, c := range t.Columns {
		if c.isList() {
			c.lists[a], c.lists[b] = c.lists[b], c.lists[a]
		} else {
			c.vals[a], c.vals[b] = c.vals[b], c.vals[a]
		}
	}
	g.adjustLinksOnSwap(table, a, b)
	return nil
}

// ClearTable removes every row of a table and nullifies inbound links.
func (g *Group) ClearTable(table int) error {
	t, err := g.Table(table)
	if err != nil {
		return err
	}
	for _, c := range t.Columns {
		if c.isList() {
			c.lists = c.lists[:0]
		} else {
			c.vals = c.vals[:0]
		}
	}
	t.rows = 0
	for _, other := range g.Tables {
		for _, c := range other.Columns {
			if c.Target != g.indexOf(t) {
				continue
			}
			if c.isList() {
				for i := range c.lists {
					c.lists[i] = nil
				}
			} else {
				for i := range c.vals {
					c.vals[i] = types.NullValue(c.Type)
				}
			}
		}
	}
	return nil
}

func (g *Group) indexOf(t *Table) int {
	for i, other := range g.Tables {
		if other == t {
			return i
		}
	}
	return -1
}

// Get returns a cell value.
func (g *Group) Get(table, col, row int) (types.Value, error) {
	t, err := g.Table(table)
	if err != nil {
		return types.Value{}, err
	}
	c, err := t.column(col)
	if err != nil {
		return types.Value{}, err
	}
	if err := t.checkRow(row); err != nil {
		return types.Value{}, err
	}
	if c.isList() {
		return types.Value{}, fmt.Errorf("store: column %q of table %q is a link list", c.Name, t.Name)
	}
	return c.vals[row], nil
}

// Set assigns a cell value, checking type and nullability.
func (g *Group) Set(table, col, row int, v types.Value) error {
	t, err := g.Table(table)
	if err != nil {
		return err
	}
	c, err := t.column(col)
	if err != nil {
		return err
	}
	if err := t.checkRow(row); err != nil {
		return err
	}
	if c.isList() {
		return fmt.Errorf("store: column %q of table %q is a link list", c.Name, t.Name)
	}
	if v.Type != c.Type {
		return fmt.Errorf("store: cannot store %s in %s column %q of table %q", v.Type, c.Type, c.Name, t.Name)
	}
	if v.Null && !c.Nullable && c.Type != types.TypeLink {
		return fmt.Errorf("store: null stored in non-nullable column %q of table %q", c.Name, t.Name)
	}
	if v.Type == types.TypeLink && !v.Null {
		target, err := g.Table(c.Target)
		if err != nil {
			return err
		}
		if err := target.checkRow(int(v.Int)); err != nil {
			return err
		}
	}
	c.vals[row] = v
	return nil
}

// AddInt adds a delta to an integer cell.
func (g *Group) AddInt(table, col, row int, delta int64) error {
	v, err := g.Get(table, col, row)
	if err != nil {
		return err
	}
	if v.Type != types.TypeInt {
		return fmt.Errorf("store: add_int on %s column", v.Type)
	}
	if v.Null {
		return fmt.Errorf("store: add_int on null cell")
	}
	v.Int += delta
	return g.Set(table, col, row, v)
}

// ListSize returns the length of a link list cell.
func (g *Group) ListSize(table, col, row int) (int, error) {
	list, err := g.list(table, col, row)
	if err != nil {
		return 0, err
	}
	return len(*list), nil
}

// ListGet returns the target row of one link list entry.
func (g *Group) ListGet(table, col, row, ndx int) (uint64, error) {
	list, err := g.list(table, col, row)
	if err != nil {
		return 0, err
	}
	if ndx < 0 || ndx >= len(*list) {
		return 0, fmt.Errorf("store: link list index %d out of range (%d entries)", ndx, len(*list))
	}
	return (*list)[ndx], nil
}

// ListSet repoints one link list entry.
func (g *Group) ListSet(table, col, row, ndx int, target uint64) error {
	list, err := g.list(table, col, row)
	if err != nil {
		return err
	}
	if ndx < 0 || ndx >= len(*list) {
		return fmt.Errorf("store: link list index %d out of range (%d entries)", ndx, len(*list))
	}
	(*list)[ndx] = target
	return nil
}

// ListInsert inserts a link list entry.
func (g *Group) ListInsert(table, col, row, ndx int, target uint64) error {
	list, err := g.list(table, col, row)
	if err != nil {
		return err
	}
	if ndx < 0 || ndx > len(*list) {
		return fmt.Errorf("store: link list insert position %d out of range (%d entries)", ndx, len(*list))
	}
	*list = append(*list, 0)
	copy((*list)[ndx+1:], (*list)[ndx:])
	(*list)[ndx] = target
	return nil
}

// ListErase removes a link list entry.
func (g *Group) ListErase(table, col, row, ndx int) error {
	list, err := g.list(table, col, row)
	if err != nil {
		return err
	}
	if ndx < 0 || ndx >= len(*list) {
		return fmt.Errorf("store: link list index %d out of range (%d entries)", ndx, len(*list))
	}
	*list = append((*list)[:ndx], (*list)[ndx+1:]...)
	return nil
}

// ListMove moves a link list entry between positions.
func (g *Group) ListMove(table, col, row, from, to int) error {
	list, err := g.list(table, col, row)
	if err != nil {
		return err
	}
	if from < 0 || from >= len(*list) || to < 0 || to >= len(*list) {
		return fmt.Errorf("store: link list move %d -> %d out of range (%d entries)", from, to, len(*list))
	}
	moved := (*list)[from]
	if from < to {
		copy((*list)[from:], (*list)[from+1:to+1])
	} else {
		copy((*list)[to+1:], (*list)[to:from])
	}
	(*list)[to] = moved
	return nil
}

// ListSwap exchanges two link list entries.
func (g *Group) ListSwap(table, col, row, a, b int) error {
	list, err := g.list(table, col, row)
	if err != nil {
		return err
	}
	if a < 0 || a >= len(*list) || b < 0 || b >= len(*list) {
		return fmt.Errorf("store: link list swap %d <-> %d out of range (%d entries)", a, b, len(*list))
	}
	(*list)[a], (*list)[b] = (*list)[b], (*list)[a]
	return nil
}

// ListClear removes every entry of a link list.
func (g *Group) ListClear(table, col, row int) error {
	list, err := g.list(table, col, row)
	if err != nil {
		return err
	}
	*list = nil
	return nil
}

func (g *Group) list(table, col, row int) (*[]uint64, error) {
	t, err := g.Table(table)
	if err != nil {
		return nil, err
	}
	c, err := t.column(col)
	if err != nil {
		return nil, err
	}
	if !c.isList() {
		return nil, fmt.Errorf("store: column %q of table %q is not a link list", c.Name, t.Name)
	}
	if err := t.checkRow(row); err != nil {
		return nil, err
	}
	return &c.lists[row], nil
}

// adjustLinksOnInsert shifts link targets pointing into the mutated table.
func (g *Group) adjustLinksOnInsert(table, row, count int) {
	g.eachInboundLink(table, func(target uint64) (uint64, bool) {
		if target >= uint64(row) {
			return target + uint64(count), true
		}
		return target, true
	})
}

// adjustLinksOnErase nullifies links to erased rows and shifts the rest.
func (g *Group) adjustLinksOnErase(table, row, count int) {
	g.eachInboundLink(table, func(target uint64) (uint64, bool) {
		switch {
		case target >= uint64(row) && target < uint64(row+count):
			return 0, false
		case target >= uint64(row+count):
			return target - uint64(count), true
		default:
			return target, true
		}
	})
}

// adjustLinksOnMoveLastOver nullifies links to the erased row and repoints
// links to the moved last row.
func (g *Group) adjustLinksOnMoveLastOver(table, erased, last int) {
	g.eachInboundLink(table, func(target uint64) (uint64, bool) {
		switch {
		case target == uint64(erased):
			return 0, false
		case target == uint64(last):
			return uint64(erased), true
		default:
			return target, true
		}
	})
}

func (g *Group) adjustLinksOnSwap(table, a, b int) {
	g.eachInboundLink(table, func(target uint64) (uint64, bool) {
		switch target {
		case uint64(a):
			return uint64(b), true
		case uint64(b):
			return uint64(a), true
		default:
			return target, true
		}
	})
}

// eachInboundLink rewrites every link cell and list entry pointing at the
// given table. The callback returns the new target and whether the link
// survives; a false return nullifies the cell or drops the list entry.
func (g *Group) eachInboundLink(table int, rewrite func(uint64) (uint64, bool)) {
	for _, t := range g.Tables {
		for _, c := range t.Columns {
			if c.Target != table {
				continue
			}
			if c.isList() {
				for i := range c.lists {
					kept := c.lists[i][:0]
					for _, target := range c.lists[i] {
						if nt, ok := rewrite(target); ok {
							kept = append(kept, nt)
						}
					}
					c.lists[i] = kept
				}
			} else {
				for i := range c.vals {
					if c.vals[i].Null {
						continue
					}
					if nt, ok := rewrite(uint64(c.vals[i].Int)); ok {
						c.vals[i].Int = int64(nt)
					} else {
						c.vals[i] = types.NullValue(c.Type)
					}
				}
			}
		}
	}
}

// Clone returns a deep copy of the group.
func (g *Group) Clone() *Group {
	out := &Group{Tables: make([]*Table, len(g.Tables))}
	for ti, t := range g.Tables {
		nt := &Table{Name: t.Name, PrimaryKey: t.PrimaryKey, rows: t.rows, Columns: make([]*Column, len(t.Columns))}
		for ci, c := range t.Columns {
			nc := &Column{Name: c.Name, Type: c.Type, Nullable: c.Nullable, Indexed: c.Indexed, Target: c.Target}
			if c.isList() {
				nc.lists = make([][]uint64, len(c.lists))
				for i, l := range c.lists {
					if l != nil {
						nc.lists[i] = append([]uint64(nil), l...)
					}
				}
			} else {
				nc.vals = make([]types.Value, len(c.vals))
				copy(nc.vals, c.vals)
				for i := range nc.vals {
					if nc.vals[i].Bytes != nil {
						nc.vals[i].Bytes = append([]byte(nil), nc.vals[i].Bytes...)
					}
				}
			}
			nt.Columns[ci] = nc
		}
		out.Tables[ti] = nt
	}
	return out
}

// Equal reports whether two groups hold identical tables, schema metadata
// and cell data.
func (g *Group) Equal(o *Group) bool {
	if len(g.Tables) != len(o.Tables) {
		return false
	}
	for ti, t := range g.Tables {
		ot := o.Tables[ti]
		if t.Name != ot.Name || t.PrimaryKey != ot.PrimaryKey || t.rows != ot.rows || len(t.Columns) != len(ot.Columns) {
			return false
		}
		for ci, c := range t.Columns {
			oc := ot.Columns[ci]
			if c.Name != oc.Name || c.Type != oc.Type || c.Nullable != oc.Nullable ||
				c.Indexed != oc.Indexed || c.Target != oc.Target {
				return false
			}
			if c.isList() {
				for i := range c.lists {
					if len(c.lists[i]) != len(oc.lists[i]) {
						return false
					}
					for j := range c.lists[i] {
						if c.lists[i][j] != oc.lists[i][j] {
							return false
						}
					}
				}
			} else {
				for i := range c.vals {
					if !c.vals[i].Equal(oc.vals[i]) {
						return false
					}
				}
			}
		}
	}
	return true
}
