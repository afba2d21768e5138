package replay

import (
	"strings"

	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/instr"
)

// SchemaValidator rejects structural schema changes recorded by an ordinary
// write transaction. Tables created within the same transaction are exempt:
// their columns may be edited freely. Index add/remove and all row and data
// mutations pass.
//
// The validator collects every offending instruction rather than failing on
// the first, so a commit rejection names the full set of schema edits the
// caller has to move into a schema update.
type SchemaValidator struct {
	NullObserver

	// newTables holds the indexes of tables created in this transaction,
	// kept current as table inserts, erases and moves shift indexes.
	newTables map[uint64]bool

	selected      uint64
	tableSelected bool

	violations []string
}

var _ Observer = (*SchemaValidator)(nil)

// NewSchemaValidator returns a validator with no recorded violations.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{newTables: make(map[uint64]bool)}
}

// Err returns nil if the log contained no structural changes to pre-existing
// tables, and a schema mismatch error naming every violation otherwise.
func (v *SchemaValidator) Err() error {
	if len(v.violations) == 0 {
		return nil
	}
	return errors.NewSchemaMismatch(
		"transaction contains schema changes: " + strings.Join(v.violations, "; "))
}

func (v *SchemaValidator) violate(in instr.Instruction) error {
	v.violations = append(v.violations, in.String())
	return nil
}

func (v *SchemaValidator) selectedIsNew() bool {
	return v.tableSelected && v.newTables[v.selected]
}

func (v *SchemaValidator) SelectTable(i instr.SelectTable) error {
	v.selected = i.Table
	v.tableSelected = true
	return nil
}

func (v *SchemaValidator) InsertTable(i instr.InsertTable) error {
	v.tableSelected = false
	shifted := make(map[uint64]bool, len(v.newTables)+1)
	for ndx := range v.newTables {
		if ndx >= i.Table {
			shifted[ndx+1] = true
		} else {
			shifted[ndx] = true
		}
	}
	shifted[i.Table] = true
	v.newTables = shifted
	return nil
}

func (v *SchemaValidator) EraseTable(i instr.EraseTable) error {
	v.tableSelected = false
	if !v.newTables[i.Table] {
		return v.violate(i)
	}
	shifted := make(map[uint64]bool, len(v.newTables))
	for ndx := range v.newTables {
		switch {
		case ndx == i.Table:
		case ndx > i.Table:
			shifted[ndx-1] = true
		default:
			shifted[ndx] = true
		}
	}
	v.newTables = shifted
	return nil
}

func (v *SchemaValidator) RenameTable(i instr.RenameTable) error {
	v.tableSelected = false
	if v.newTables[i.Table] {
		return nil
	}
	return v.violate(i)
}

func (v *SchemaValidator) MoveTable(i instr.MoveTable) error {
	v.tableSelected = false
	wasNew := v.newTables[i.From]
	shifted := make(map[uint64]bool, len(v.newTables))
	for ndx := range v.newTables {
		switch {
		case ndx == i.From:
		case i.From < i.To && ndx > i.From && ndx <= i.To:
			shifted[ndx-1] = true
		case i.To < i.From && ndx >= i.To && ndx < i.From:
			shifted[ndx+1] = true
		default:
			shifted[ndx] = true
		}
	}
	if wasNew {
		shifted[i.To] = true
	}
	v.newTables = shifted
	if wasNew {
		return nil
	}
	return v.violate(i)
}

func (v *SchemaValidator) InsertColumn(i instr.InsertColumn) error {
	if v.selectedIsNew() {
		return nil
	}
	return v.violate(i)
}

func (v *SchemaValidator) InsertLinkColumn(i instr.InsertLinkColumn) error {
	if v.selectedIsNew() {
		return nil
	}
	return v.violate(i)
}

func (v *SchemaValidator) EraseColumn(i instr.EraseColumn) error {
	if v.selectedIsNew() {
		return nil
	}
	return v.violate(i)
}

func (v *SchemaValidator) RenameColumn(i instr.RenameColumn) error {
	if v.selectedIsNew() {
		return nil
	}
	return v.violate(i)
}

func (v *SchemaValidator) MoveColumn(i instr.MoveColumn) error {
	if v.selectedIsNew() {
		return nil
	}
	return v.violate(i)
}
