// Package instr defines the transaction log instruction set and its binary
// codec. An encoded log is a sequence of instructions, each a tag byte
// followed by a fixed, tag-determined field sequence; there is no
// length-prefixed framing, so a decoder must know every instruction's shape.
//
// Selection instructions (SelectTable, SelectDescriptor, SelectLinkList)
// establish the context for the data instructions that follow them; order
// within a log is semantically significant.
//
// Null string and binary values are never encoded as zero-length payloads:
// writers emit a dedicated SetNull instruction instead, so round-tripping
// null can never surface as an empty string.
package instr

import (
	"fmt"

	"github.com/meridiandb/meridian/pkg/types"
)

// Instruction tag values. The byte layout of encoded instructions is the
// persisted history format: tags are never reused, and decoders observing
// an unknown tag fail closed.
const (
	tagSelectTable       byte = 0x01
	tagSelectDescriptor  byte = 0x02
	tagSelectLinkList    byte = 0x03
	tagInsertTable       byte = 0x04
	tagEraseTable        byte = 0x05
	tagRenameTable       byte = 0x06
	tagMoveTable         byte = 0x07
	tagInsertEmptyRows   byte = 0x08
	tagEraseRows         byte = 0x09
	tagSwapRows          byte = 0x0A
	tagClearTable        byte = 0x0B
	tagOptimizeTable     byte = 0x0C
	tagSetInt            byte = 0x10
	tagAddInt            byte = 0x11
	tagSetBool           byte = 0x12
	tagSetFloat          byte = 0x13
	tagSetDouble         byte = 0x14
	tagSetString         byte = 0x15
	tagSetBinary         byte = 0x16
	tagSetTimestamp      byte = 0x17
	tagSetNull           byte = 0x18
	tagSetLink           byte = 0x19
	tagNullifyLink       byte = 0x1A
	tagInsertColumn      byte = 0x20
	tagInsertLinkColumn  byte = 0x21
	tagEraseColumn       byte = 0x22
	tagRenameColumn      byte = 0x23
	tagMoveColumn        byte = 0x24
	tagAddSearchIndex    byte = 0x25
	tagRemoveSearchIndex byte = 0x26
	tagListSet           byte = 0x30
	tagListInsert        byte = 0x31
	tagListMove          byte = 0x32
	tagListSwap          byte = 0x33
	tagListErase         byte = 0x34
	tagListClear         byte = 0x35
)

// Instruction is one logged table mutation. It is a closed sum: the concrete
// types in this file are the only implementations, and every consumer
// (validator, tracker, reverser, applier) switches exhaustively over them.
type Instruction interface {
	instruction()
	fmt.Stringer
}

// SelectTable establishes the table context for subsequent instructions and
// clears any descriptor or link-list selection.
type SelectTable struct {
	Table uint64
}

// SelectDescriptor establishes the column-list context of the selected
// table, required by column-level instructions.
type SelectDescriptor struct{}

// SelectLinkList establishes the link-list context: the list held in the
// given cell of the selected table.
type SelectLinkList struct {
	Column uint64
	Row    uint64
}

// InsertTable creates a new table at the given index.
type InsertTable struct {
	Table uint64
	Name  string
}

// EraseTable removes the table at the given index.
type EraseTable struct {
	Table uint64
}

// RenameTable renames the table at the given index.
type RenameTable struct {
	Table uint64
	Name  string
}

// MoveTable moves a table from one index to another.
type MoveTable struct {
	From uint64
	To   uint64
}

// InsertEmptyRows inserts Count default-initialized rows at Row in the
// selected table. PriorSize is the table's row count before the insert.
type InsertEmptyRows struct {
	Row       uint64
	Count     uint64
	PriorSize uint64
}

// EraseRows removes Count rows starting at Row from the selected table.
// When Unordered is set the erase is move-last-over: the table's last row
// is moved into the erased slot instead of shifting the tail down.
type EraseRows struct {
	Row       uint64
	Count     uint64
	PriorSize uint64
	Unordered bool
}

// SwapRows exchanges two rows of the selected table.
type SwapRows struct {
	RowA uint64
	RowB uint64
}

// ClearTable removes every row of the selected table.
type ClearTable struct {
	PriorSize uint64
}

// OptimizeTable requests storage-level string enumeration of the selected
// table. It carries no operands and has no logical effect on the data.
type OptimizeTable struct{}

// SetInt assigns an integer cell of the selected table.
type SetInt struct {
	Column uint64
	Row    uint64
	Value  int64
}

// AddInt adds a delta to an integer cell of the selected table.
type AddInt struct {
	Column uint64
	Row    uint64
	Delta  int64
}

// SetBool assigns a boolean cell of the selected table.
type SetBool struct {
	Column uint64
	Row    uint64
	Value  bool
}

// SetFloat assigns a 32-bit float cell of the selected table.
type SetFloat struct {
	Column uint64
	Row    uint64
	Value  float32
}

// SetDouble assigns a 64-bit float cell of the selected table.
type SetDouble struct {
	Column uint64
	Row    uint64
	Value  float64
}

// SetString assigns a string cell of the selected table. Value is never a
// null marker; null assignments are logged as SetNull.
type SetString struct {
	Column uint64
	Row    uint64
	Value  string
}

// SetBinary assigns a binary cell of the selected table. Value is never a
// null marker; null assignments are logged as SetNull.
type SetBinary struct {
	Column uint64
	Row    uint64
	Value  []byte
}

// SetTimestamp assigns a timestamp cell (unix nanoseconds) of the selected
// table.
type SetTimestamp struct {
	Column uint64
	Row    uint64
	Nanos  int64
}

// SetNull assigns null to a cell of the selected table.
type SetNull struct {
	Column uint64
	Row    uint64
}

// SetLink points a link cell of the selected table at a target row.
type SetLink struct {
	Column    uint64
	Row       uint64
	TargetRow uint64
}

// NullifyLink clears a link cell of the selected table.
type NullifyLink struct {
	Column uint64
	Row    uint64
}

// InsertColumn adds a non-link column to the selected descriptor.
type InsertColumn struct {
	Column   uint64
	Type     types.DataType
	Name     string
	Nullable bool
}

// InsertLinkColumn adds a link or link-list column to the selected
// descriptor, targeting the given table.
type InsertLinkColumn struct {
	Column      uint64
	Type        types.DataType
	Name        string
	TargetTable uint64
}

// EraseColumn removes a column from the selected descriptor.
type EraseColumn struct {
	Column uint64
}

// RenameColumn renames a column of the selected descriptor.
type RenameColumn struct {
	Column uint64
	Name   string
}

// MoveColumn moves a column of the selected descriptor.
type MoveColumn struct {
	From uint64
	To   uint64
}

// AddSearchIndex adds a search index on a column of the selected descriptor.
type AddSearchIndex struct {
	Column uint64
}

// RemoveSearchIndex drops the search index on a column of the selected
// descriptor.
type RemoveSearchIndex struct {
	Column uint64
}

// ListSet repoints an entry of the selected link list.
type ListSet struct {
	Index     uint64
	TargetRow uint64
}

// ListInsert inserts an entry into the selected link list.
type ListInsert struct {
	Index     uint64
	TargetRow uint64
	PriorSize uint64
}

// ListMove moves an entry of the selected link list.
type ListMove struct {
	From uint64
	To   uint64
}

// ListSwap exchanges two entries of the selected link list.
type ListSwap struct {
	IndexA uint64
	IndexB uint64
}

// ListErase removes an entry of the selected link list.
type ListErase struct {
	Index     uint64
	PriorSize uint64
}

// ListClear removes every entry of the selected link list.
type ListClear struct {
	PriorSize uint64
}

func (SelectTable) instruction()       {}
func (SelectDescriptor) instruction()  {}
func (SelectLinkList) instruction()    {}
func (InsertTable) instruction()       {}
func (EraseTable) instruction()        {}
func (RenameTable) instruction()       {}
func (MoveTable) instruction()         {}
func (InsertEmptyRows) instruction()   {}
func (EraseRows) instruction()         {}
func (SwapRows) instruction()          {}
func (ClearTable) instruction()        {}
func (OptimizeTable) instruction()     {}
func (SetInt) instruction()            {}
func (AddInt) instruction()            {}
func (SetBool) instruction()           {}
func (SetFloat) instruction()          {}
func (SetDouble) instruction()         {}
func (SetString) instruction()         {}
func (SetBinary) instruction()         {}
func (SetTimestamp) instruction()      {}
func (SetNull) instruction()           {}
func (SetLink) instruction()           {}
func (NullifyLink) instruction()       {}
func (InsertColumn) instruction()      {}
func (InsertLinkColumn) instruction()  {}
func (EraseColumn) instruction()       {}
func (RenameColumn) instruction()      {}
func (MoveColumn) instruction()        {}
func (AddSearchIndex) instruction()    {}
func (RemoveSearchIndex) instruction() {}
func (ListSet) instruction()           {}
func (ListInsert) instruction()        {}
func (ListMove) instruction()          {}
func (ListSwap) instruction()          {}
func (ListErase) instruction()         {}
func (ListClear) instruction()         {}

func (i SelectTable) String() string { return fmt.Sprintf("select_table %d", i.Table) }

func (i SelectDescriptor) String() string { return "select_descriptor" }

func (i SelectLinkList) String() string {
	return fmt.Sprintf("select_link_list col=%d row=%d", i.Column, i.Row)
}

func (i InsertTable) String() string { return fmt.Sprintf("insert_table %d name=%q", i.Table, i.Name) }

func (i EraseTable) String() string { return fmt.Sprintf("erase_table %d", i.Table) }

func (i RenameTable) String() string { return fmt.Sprintf("rename_table %d name=%q", i.Table, i.Name) }

func (i MoveTable) String() string { return fmt.Sprintf("move_table %d -> %d", i.From, i.To) }

func (i InsertEmptyRows) String() string {
	return fmt.Sprintf("insert_empty_rows row=%d count=%d prior=%d", i.Row, i.Count, i.PriorSize)
}

func (i EraseRows) String() string {
	return fmt.Sprintf("erase_rows row=%d count=%d prior=%d unordered=%t", i.Row, i.Count, i.PriorSize, i.Unordered)
}

func (i SwapRows) String() string { return fmt.Sprintf("swap_rows %d <-> %d", i.RowA, i.RowB) }

func (i ClearTable) String() string { return fmt.Sprintf("clear_table prior=%d", i.PriorSize) }

func (i OptimizeTable) String() string { return "optimize_table" }

func (i SetInt) String() string {
	return fmt.Sprintf("set_int col=%d row=%d value=%d", i.Column, i.Row, i.Value)
}

func (i AddInt) String() string {
	return fmt.Sprintf("add_int col=%d row=%d delta=%d", i.Column, i.Row, i.Delta)
}

func (i SetBool) String() string {
	return fmt.Sprintf("set_bool col=%d row=%d value=%t", i.Column, i.Row, i.Value)
}

func (i SetFloat) String() string {
	return fmt.Sprintf("set_float col=%d row=%d value=%g", i.Column, i.Row, i.Value)
}

func (i SetDouble) String() string {
	return fmt.Sprintf("set_double col=%d row=%d value=%g", i.Column, i.Row, i.Value)
}

func (i SetString) String() string {
	return fmt.Sprintf("set_string col=%d row=%d value=%q", i.Column, i.Row, i.Value)
}

func (i SetBinary) String() string {
	return fmt.Sprintf("set_binary col=%d row=%d size=%d", i.Column, i.Row, len(i.Value))
}

func (i SetTimestamp) String() string {
	return fmt.Sprintf("set_timestamp col=%d row=%d nanos=%d", i.Column, i.Row, i.Nanos)
}

func (i SetNull) String() string { return fmt.Sprintf("set_null col=%d row=%d", i.Column, i.Row) }

func (i SetLink) String() string {
	return fmt.Sprintf("set_link col=%d row=%d target=%d", i.Column, i.Row, i.TargetRow)
}

func (i NullifyLink) String() string {
	return fmt.Sprintf("nullify_link col=%d row=%d", i.Column, i.Row)
}

func (i InsertColumn) String() string {
	return fmt.Sprintf("insert_column col=%d type=%s name=%q nullable=%t", i.Column, i.Type, i.Name, i.Nullable)
}

func (i InsertLinkColumn) String() string {
	return fmt.Sprintf("insert_link_column col=%d type=%s name=%q target=%d", i.Column, i.Type, i.Name, i.TargetTable)
}

func (i EraseColumn) String() string { return fmt.Sprintf("erase_column col=%d", i.Column) }

func (i RenameColumn) String() string {
	return fmt.Sprintf("rename_column col=%d name=%q", i.Column, i.Name)
}

func (i MoveColumn) String() string { return fmt.Sprintf("move_column %d -> %d", i.From, i.To) }

func (i AddSearchIndex) String() string { return fmt.Sprintf("add_search_index col=%d", i.Column) }

func (i RemoveSearchIndex) String() string {
	return fmt.Sprintf("remove_search_index col=%d", i.Column)
}

func (i ListSet) String() string {
	return fmt.Sprintf("list_set ndx=%d target=%d", i.Index, i.TargetRow)
}

func (i ListInsert) String() string {
	return fmt.Sprintf("list_insert ndx=%d target=%d prior=%d", i.Index, i.TargetRow, i.PriorSize)
}

func (i ListMove) String() string { return fmt.Sprintf("list_move %d -> %d", i.From, i.To) }

func (i ListSwap) String() string { return fmt.Sprintf("list_swap %d <-> %d", i.IndexA, i.IndexB) }

func (i ListErase) String() string {
	return fmt.Sprintf("list_erase ndx=%d prior=%d", i.Index, i.PriorSize)
}

func (i ListClear) String() string { return fmt.Sprintf("list_clear prior=%d", i.PriorSize) }
