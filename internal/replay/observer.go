// Package replay parses encoded transaction logs and dispatches each
// instruction to a pluggable observer. The package ships the four standard
// observers: the null observer (well-formedness checks), the schema
// validator, the change tracker and the log reverser, plus an applier that
// replays instructions into a store group.
package replay

import "github.com/meridiandb/meridian/internal/instr"

// Observer receives one callback per parsed instruction. Implementations
// that only care about a subset of instructions embed NullObserver to
// default the rest.
//
// Selection callbacks are delivered like any other instruction; the parser
// guarantees that data instructions are only delivered after the selection
// establishing their context.
type Observer interface {
	SelectTable(instr.SelectTable) error
	SelectDescriptor(instr.SelectDescriptor) error
	SelectLinkList(instr.SelectLinkList) error

	InsertTable(instr.InsertTable) error
	EraseTable(instr.EraseTable) error
	RenameTable(instr.RenameTable) error
	MoveTable(instr.MoveTable) error

	InsertEmptyRows(instr.InsertEmptyRows) error
	EraseRows(instr.EraseRows) error
	SwapRows(instr.SwapRows) error
	ClearTable(instr.ClearTable) error
	OptimizeTable(instr.OptimizeTable) error

	SetInt(instr.SetInt) error
	AddInt(instr.AddInt) error
	SetBool(instr.SetBool) error
	SetFloat(instr.SetFloat) error
	SetDouble(instr.SetDouble) error
	SetString(instr.SetString) error
	SetBinary(instr.SetBinary) error
	SetTimestamp(instr.SetTimestamp) error
	SetNull(instr.SetNull) error
	SetLink(instr.SetLink) error
	NullifyLink(instr.NullifyLink) error

	InsertColumn(instr.InsertColumn) error
	InsertLinkColumn(instr.InsertLinkColumn) error
	EraseColumn(instr.EraseColumn) error
	RenameColumn(instr.RenameColumn) error
	MoveColumn(instr.MoveColumn) error
	AddSearchIndex(instr.AddSearchIndex) error
	RemoveSearchIndex(instr.RemoveSearchIndex) error

	ListSet(instr.ListSet) error
	ListInsert(instr.ListInsert) error
	ListMove(instr.ListMove) error
	ListSwap(instr.ListSwap) error
	ListErase(instr.ListErase) error
	ListClear(instr.ListClear) error
}

// NullObserver accepts every instruction and does nothing. Replaying a log
// through it is a cheap well-formedness check.
type NullObserver struct{}

var _ Observer = NullObserver{}

func (NullObserver) SelectTable(instr.SelectTable) error           { return nil }
func (NullObserver) SelectDescriptor(instr.SelectDescriptor) error { return nil }
func (NullObserver) SelectLinkList(instr.SelectLinkList) error     { return nil }
func (NullObserver) InsertTable(instr.InsertTable) error           { return nil }
func (NullObserver) EraseTable(instr.EraseTable) error             { return nil }
func (NullObserver) RenameTable(instr.RenameTable) error           { return nil }
func (NullObserver) MoveTable(instr.MoveTable) error               { return nil }
func (NullObserver) InsertEmptyRows(instr.InsertEmptyRows) error   { return nil }
func (NullObserver) EraseRows(instr.EraseRows) error               { return nil }
func (NullObserver) SwapRows(instr.SwapRows) error                 { return nil }
func (NullObserver) ClearTable(instr.ClearTable) error             { return nil }
func (NullObserver) OptimizeTable(instr.OptimizeTable) error       { return nil }
func (NullObserver) SetInt(instr.SetInt) error                     { return nil }
func (NullObserver) AddInt(instr.AddInt) error                     { return nil }
func (NullObserver) SetBool(instr.SetBool) error                   { return nil }
func (NullObserver) SetFloat(instr.SetFloat) error                 { return nil }
func (NullObserver) SetDouble(instr.SetDouble) error               { return nil }
func (NullObserver) SetString(instr.SetString) error               { return nil }
func (NullObserver) SetBinary(instr.SetBinary) error               { return nil }
func (NullObserver) SetTimestamp(instr.SetTimestamp) error         { return nil }
func (NullObserver) SetNull(instr.SetNull) error                   { return nil }
func (NullObserver) SetLink(instr.SetLink) error                   { return nil }
func (NullObserver) NullifyLink(instr.NullifyLink) error           { return nil }
func (NullObserver) InsertColumn(instr.InsertColumn) error         { return nil }
func (NullObserver) InsertLinkColumn(instr.InsertLinkColumn) error { return nil }
func (NullObserver) EraseColumn(instr.EraseColumn) error           { return nil }
func (NullObserver) RenameColumn(instr.RenameColumn) error         { return nil }
func (NullObserver) MoveColumn(instr.MoveColumn) error             { return nil }
func (NullObserver) AddSearchIndex(instr.AddSearchIndex) error     { return nil }
func (NullObserver) RemoveSearchIndex(instr.RemoveSearchIndex) error {
	return nil
}
func (NullObserver) ListSet(instr.ListSet) error       { return nil }
func (NullObserver) ListInsert(instr.ListInsert) error { return nil }
func (NullObserver) ListMove(instr.ListMove) error     { return nil }
func (NullObserver) ListSwap(instr.ListSwap) error     { return nil }
func (NullObserver) ListErase(instr.ListErase) error   { return nil }
func (NullObserver) ListClear(instr.ListClear) error   { return nil }
