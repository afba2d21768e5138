package replay

import (
	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/instr"
	"github.com/meridiandb/meridian/internal/logbuf"
)

// parser is the single-pass state machine over the selection context:
// {no table} -> {table} -> {table+descriptor} or {table+link list}.
// Instructions requiring a context are rejected if issued before the
// matching select instruction.
type parser struct {
	obs      Observer
	hasTable bool
	hasDesc  bool
	hasList  bool
}

// Replay parses every changeset yielded by src and dispatches each
// instruction to obs. Selection context does not carry across changesets.
func Replay(src logbuf.BlockSource, obs Observer) error {
	for {
		block, err := src.NextBlock()
		if err != nil {
			return err
		}
		if block == nil {
			return nil
		}
		if err := ReplayOne(block, obs); err != nil {
			return err
		}
	}
}

// ReplayOne parses a single changeset.
func ReplayOne(changeset []byte, obs Observer) error {
	p := &parser{obs: obs}
	dec := instr.NewDecoder(changeset)
	for {
		in, err := dec.Next()
		if err != nil {
			return err
		}
		if in == nil {
			return nil
		}
		if err := p.dispatch(in); err != nil {
			return err
		}
	}
}

func badContext(in instr.Instruction, needed string) error {
	return errors.Newf(errors.ErrCategoryCodec, errors.CodeBadTransactLog,
		"instruction %q issued with no %s selected", in.String(), needed)
}

func (p *parser) needTable(in instr.Instruction) error {
	if !p.hasTable {
		return badContext(in, "table")
	}
	return nil
}

func (p *parser) needDescriptor(in instr.Instruction) error {
	if !p.hasDesc {
		return badContext(in, "descriptor")
	}
	return nil
}

func (p *parser) needList(in instr.Instruction) error {
	if !p.hasList {
		return badContext(in, "link list")
	}
	return nil
}

func (p *parser) dispatch(in instr.Instruction) error {
	switch i := in.(type) {
	case instr.SelectTable:
		p.hasTable = true
		p.hasDesc = false
		p.hasList = false
		return p.obs.SelectTable(i)
	case instr.SelectDescriptor:
		if err := p.needTable(in); err != nil {
			return err
		}
		p.hasDesc = true
		p.hasList = false
		return p.obs.SelectDescriptor(i)
	case instr.SelectLinkList:
		if err := p.needTable(in); err != nil {
			return err
		}
		p.hasList = true
		p.hasDesc = false
		return p.obs.SelectLinkList(i)

	case instr.InsertTable:
		p.hasTable, p.hasDesc, p.hasList = false, false, false
		return p.obs.InsertTable(i)
	case instr.EraseTable:
		p.hasTable, p.hasDesc, p.hasList = false, false, false
		return p.obs.EraseTable(i)
	case instr.RenameTable:
		p.hasTable, p.hasDesc, p.hasList = false, false, false
		return p.obs.RenameTable(i)
	case instr.MoveTable:
		p.hasTable, p.hasDesc, p.hasList = false, false, false
		return p.obs.MoveTable(i)

	case instr.InsertEmptyRows:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.InsertEmptyRows(i)
	case instr.EraseRows:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.EraseRows(i)
	case instr.SwapRows:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.SwapRows(i)
	case instr.ClearTable:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.ClearTable(i)
	case instr.OptimizeTable:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.OptimizeTable(i)

	case instr.SetInt:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.SetInt(i)
	case instr.AddInt:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.AddInt(i)
	case instr.SetBool:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.SetBool(i)
	case instr.SetFloat:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.SetFloat(i)
	case instr.SetDouble:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.SetDouble(i)
	case instr.SetString:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.SetString(i)
	case instr.SetBinary:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.SetBinary(i)
	case instr.SetTimestamp:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.SetTimestamp(i)
	case instr.SetNull:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.SetNull(i)
	case instr.SetLink:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.SetLink(i)
	case instr.NullifyLink:
		if err := p.needTable(in); err != nil {
			return err
		}
		return p.obs.NullifyLink(i)

	case instr.InsertColumn:
		if err := p.needDescriptor(in); err != nil {
			return err
		}
		return p.obs.InsertColumn(i)
	case instr.InsertLinkColumn:
		if err := p.needDescriptor(in); err != nil {
			return err
		}
		return p.obs.InsertLinkColumn(i)
	case instr.EraseColumn:
		if err := p.needDescriptor(in); err != nil {
			return err
		}
		return p.obs.EraseColumn(i)
	case instr.RenameColumn:
		if err := p.needDescriptor(in); err != nil {
			return err
		}
		return p.obs.RenameColumn(i)
	case instr.MoveColumn:
		if err := p.needDescriptor(in); err != nil {
			return err
		}
		return p.obs.MoveColumn(i)
	case instr.AddSearchIndex:
		if err := p.needDescriptor(in); err != nil {
			return err
		}
		return p.obs.AddSearchIndex(i)
	case instr.RemoveSearchIndex:
		if err := p.needDescriptor(in); err != nil {
			return err
		}
		return p.obs.RemoveSearchIndex(i)

	case instr.ListSet:
		if err := p.needList(in); err != nil {
			return err
		}
		return p.obs.ListSet(i)
	case instr.ListInsert:
		if err := p.needList(in); err != nil {
			return err
		}
		return p.obs.ListInsert(i)
	case instr.ListMove:
		if err := p.needList(in); err != nil {
			return err
		}
		return p.obs.ListMove(i)
	case instr.ListSwap:
		if err := p.needList(in); err != nil {
			return err
		}
		return p.obs.ListSwap(i)
	case instr.ListErase:
		if err := p.needList(in); err != nil {
			return err
		}
		return p.obs.ListErase(i)
	case instr.ListClear:
		if err := p.needList(in); err != nil {
			return err
		}
		return p.obs.ListClear(i)

	default:
		return errors.Newf(errors.ErrCategoryCodec, errors.CodeBadTransactLog,
			"unhandled instruction type %T", in)
	}
}
