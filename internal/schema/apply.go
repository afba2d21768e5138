package schema

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/store"
	"github.com/meridiandb/meridian/pkg/types"
)

// Migration is the user-supplied callback run while a schema update is in
// progress. It receives a read-only view of the pre-migration state and the
// writer of the in-progress transaction, and typically back-fills data for
// added or retyped properties.
type Migration func(old *store.Group, w *store.Writer) error

// Applier takes a live store toward a target schema under the policy of one
// schema mode. The caller owns transactional bracketing: it runs the applier
// inside a write transaction and discards the transaction on error, so a
// failed update never leaves a partially applied schema behind.
type Applier struct {
	Mode types.SchemaMode
}

// Apply diffs the live schema against target and applies the change list as
// the mode's policy allows. initialized is false on first-ever schema
// initialization, which always takes the create-from-scratch path.
//
// ResetFile is resolved by the caller (wipe state, reset history) before the
// applier runs; the applier only ever sees it uninitialized.
func (a *Applier) Apply(w *store.Writer, pre *store.Group, target types.Schema, targetVersion, currentVersion uint64, initialized bool, migrate Migration) error {
	if err := target.Validate(); err != nil {
		return errors.Wrap(errors.ErrCategorySchema, errors.CodeInvalidSchema,
			"target schema is invalid", err)
	}
	if !initialized {
		return a.createFromScratch(w, target)
	}

	current := store.ReadSchema(w.Group())
	changes := Compare(current, target)

	switch a.Mode {
	case types.SchemaModeAutomatic:
		return a.applyAutomatic(w, pre, target, changes, targetVersion, currentVersion, migrate)
	case types.SchemaModeReadOnly:
		return a.applyReadOnly(changes, targetVersion, currentVersion)
	case types.SchemaModeAdditive:
		return a.applyAdditive(w, target, changes, targetVersion, currentVersion)
	case types.SchemaModeManual:
		return a.applyManual(w, pre, target, changes, targetVersion, currentVersion, migrate)
	case types.SchemaModeResetFile:
		return errors.NewInternalError("reset-file mode reached the applier with state still initialized", nil)
	default:
		return errors.NewInternalError(fmt.Sprintf("unknown schema mode %d", a.Mode), nil)
	}
}

func changeList(changes []types.SchemaChange) string {
	parts := make([]string, len(changes))
	for i, c := range changes {
		parts[i] = c.String()
	}
	return strings.Join(parts, "; ")
}

func (a *Applier) applyAutomatic(w *store.Writer, pre *store.Group, target types.Schema, changes []types.SchemaChange, targetVersion, currentVersion uint64, migrate Migration) error {
	switch {
	case targetVersion < currentVersion:
		return errors.NewInvalidSchemaVersion(fmt.Sprintf(
			"provided schema version %d is older than last set version %d", targetVersion, currentVersion))
	case targetVersion == currentVersion:
		if NeedsMigration(changes) {
			return errors.NewSchemaMismatch(
				"schema requires migration but the version was not bumped: " + changeList(changes))
		}
		return a.applyChanges(w, target, changes, true)
	}

	// Version increased: apply everything except removals, let the
	// migration see old and new data side by side, then re-diff to finish
	// the removals the migration no longer needs.
	withoutRemovals := changes[:0:0]
	for _, c := range changes {
		if _, ok := c.(types.RemoveProperty); !ok {
			withoutRemovals = append(withoutRemovals, c)
		}
	}
	if err := a.applyChanges(w, target, withoutRemovals, true); err != nil {
		return err
	}
	if migrate != nil && len(changes) > 0 {
		if err := migrate(pre, w); err != nil {
			return err
		}
	}
	remaining := Compare(store.ReadSchema(w.Group()), target)
	if err := a.applyChanges(w, target, remaining, true); err != nil {
		return err
	}
	return a.verifyResult(w.Group(), target, changes, remaining)
}

func (a *Applier) applyReadOnly(changes []types.SchemaChange, targetVersion, currentVersion uint64) error {
	if targetVersion != currentVersion {
		return errors.NewInvalidSchemaVersion(fmt.Sprintf(
			"read-only session cannot change the schema version (%d -> %d)", currentVersion, targetVersion))
	}
	if len(changes) != 0 {
		return errors.NewSchemaMismatch(
			"schema of a read-only session does not match the file: " + changeList(changes))
	}
	return nil
}

func (a *Applier) applyAdditive(w *store.Writer, target types.Schema, changes []types.SchemaChange, targetVersion, currentVersion uint64) error {
	var additive []types.SchemaChange
	var rejected []types.SchemaChange
	applyIndexes := targetVersion > currentVersion
	for _, c := range changes {
		switch c.(type) {
		case types.AddTable, types.AddProperty:
			additive = append(additive, c)
		case types.AddIndex, types.RemoveIndex:
			if applyIndexes {
				additive = append(additive, c)
			}
		case types.RemoveProperty:
			// Extra columns are tolerated; the file may carry properties a
			// newer schema dropped.
		default:
			rejected = append(rejected, c)
		}
	}
	if len(rejected) != 0 {
		return errors.NewSchemaMismatch(
			"schema changes are not additive: " + changeList(rejected))
	}
	return a.applyChanges(w, target, additive, applyIndexes)
}

func (a *Applier) applyManual(w *store.Writer, pre *store.Group, target types.Schema, changes []types.SchemaChange, targetVersion, currentVersion uint64, migrate Migration) error {
	switch {
	case targetVersion < currentVersion:
		return errors.NewInvalidSchemaVersion(fmt.Sprintf(
			"provided schema version %d is older than last set version %d", targetVersion, currentVersion))
	case targetVersion == currentVersion:
		if len(changes) != 0 {
			return errors.NewSchemaMismatch(
				"manual mode requires the schema to match exactly: " + changeList(changes))
		}
		return nil
	}
	if migrate == nil {
		return errors.NewSchemaMismatch("manual schema update requires a migration callback")
	}
	if err := migrate(pre, w); err != nil {
		return err
	}
	live := store.ReadSchema(w.Group())
	if !live.StructurallyEqual(target) {
		return errors.NewSchemaMismatch(
			"schema after manual migration does not match the target: " +
				changeList(Compare(live, target)))
	}
	return a.verifyResult(w.Group(), target, changes, nil)
}

// createFromScratch builds every table of the target schema in two passes,
// so link columns can resolve targets regardless of declaration order.
func (a *Applier) createFromScratch(w *store.Writer, target types.Schema) error {
	for i := range target {
		if err := w.InsertTable(w.Group().NumTables(), target[i].Name); err != nil {
			return errors.NewInternalError("creating table for new schema", err)
		}
	}
	for i := range target {
		if err := a.materializeColumns(w, &target[i]); err != nil {
			return err
		}
	}
	return nil
}

// materializeColumns adds every property column of an object type to its
// (already created, column-less) table, plus primary key and indexes.
func (a *Applier) materializeColumns(w *store.Writer, obj *types.ObjectSchema) error {
	table := w.Group().TableByName(obj.Name)
	if table < 0 {
		return errors.NewInternalError(fmt.Sprintf("table %q missing during schema creation", obj.Name), nil)
	}
	for pi := range obj.Properties {
		if err := a.addColumn(w, table, pi, &obj.Properties[pi]); err != nil {
			return err
		}
	}
	if obj.PrimaryKey != "" {
		if err := w.SetPrimaryKey(table, obj.PrimaryKey); err != nil {
			return errors.NewInternalError("binding primary key", err)
		}
	}
	return nil
}

func (a *Applier) addColumn(w *store.Writer, table, col int, p *types.Property) error {
	if p.Type.IsLink() {
		target := w.Group().TableByName(p.ObjectType)
		if target < 0 {
			return errors.NewSchemaMismatch(fmt.Sprintf(
				"property %q links to unknown type %q", p.Name, p.ObjectType))
		}
		if err := w.InsertLinkColumn(table, col, p.Type, p.Name, target); err != nil {
			return errors.NewInternalError("adding link column", err)
		}
	} else {
		if err := w.InsertColumn(table, col, p.Type, p.Name, p.Nullable); err != nil {
			return errors.NewInternalError("adding column", err)
		}
	}
	if p.Indexed {
		if err := w.AddSearchIndex(table, col); err != nil {
			return errors.NewInternalError("adding search index", err)
		}
	}
	return nil
}

// applyChanges applies a change list in order. AddTable changes are applied
// in two passes (tables first, then their columns) so link targets between
// freshly added tables resolve.
func (a *Applier) applyChanges(w *store.Writer, target types.Schema, changes []types.SchemaChange, applyIndexes bool) error {
	for _, c := range changes {
		if at, ok := c.(types.AddTable); ok {
			if err := w.InsertTable(w.Group().NumTables(), at.Object.Name); err != nil {
				return errors.NewInternalError("creating table", err)
			}
		}
	}
	for _, c := range changes {
		if at, ok := c.(types.AddTable); ok {
			if err := a.materializeColumns(w, at.Object); err != nil {
				return err
			}
		}
	}
	for _, c := range changes {
		if err := a.applyChange(w, c, applyIndexes); err != nil {
			return err
		}
	}
	return nil
}

func (a *Applier) applyChange(w *store.Writer, c types.SchemaChange, applyIndexes bool) error {
	g := w.Group()
	switch ch := c.(type) {
	case types.AddTable:
		// Handled by the two-pass prologue of applyChanges.
		return nil

	case types.AddProperty:
		table := g.TableByName(ch.Object.Name)
		if table < 0 {
			return errors.NewInternalError(fmt.Sprintf("table %q missing for %s", ch.Object.Name, c), nil)
		}
		t, _ := g.Table(table)
		return a.addColumn(w, table, t.NumColumns(), ch.Property)

	case types.RemoveProperty:
		table := g.TableByName(ch.Object.Name)
		if table < 0 {
			return errors.NewInternalError(fmt.Sprintf("table %q missing for %s", ch.Object.Name, c), nil)
		}
		t, _ := g.Table(table)
		col := t.ColumnByName(ch.Property.Name)
		if col < 0 {
			return nil
		}
		if err := w.EraseColumn(table, col); err != nil {
			return errors.NewInternalError("removing column", err)
		}
		return nil

	case types.ChangePropertyType:
		table := g.TableByName(ch.Object.Name)
		if table < 0 {
			return errors.NewInternalError(fmt.Sprintf("table %q missing for %s", ch.Object.Name, c), nil)
		}
		t, _ := g.Table(table)
		col := t.ColumnByName(ch.OldProperty.Name)
		if col < 0 {
			return errors.NewInternalError(fmt.Sprintf("column %q missing for %s", ch.OldProperty.Name, c), nil)
		}
		// The old data is not convertible; the column is rebuilt empty and
		// the migration callback back-fills it.
		if err := w.EraseColumn(table, col); err != nil {
			return errors.NewInternalError("replacing column", err)
		}
		return a.addColumn(w, table, col, ch.NewProperty)

	case types.MakePropertyNullable:
		return a.rebuildNullability(w, ch.Object, ch.Property, true)

	case types.MakePropertyRequired:
		return a.rebuildNullability(w, ch.Object, ch.Property, false)

	case types.AddIndex:
		if !applyIndexes {
			return nil
		}
		table := g.TableByName(ch.Object.Name)
		t, _ := g.Table(table)
		if err := w.AddSearchIndex(table, t.ColumnByName(ch.Property.Name)); err != nil {
			return errors.NewInternalError("adding search index", err)
		}
		return nil

	case types.RemoveIndex:
		if !applyIndexes {
			return nil
		}
		table := g.TableByName(ch.Object.Name)
		t, _ := g.Table(table)
		if err := w.RemoveSearchIndex(table, t.ColumnByName(ch.Property.Name)); err != nil {
			return errors.NewInternalError("removing search index", err)
		}
		return nil

	case types.ChangePrimaryKey:
		table := g.TableByName(ch.Object.Name)
		if table < 0 {
			return errors.NewInternalError(fmt.Sprintf("table %q missing for %s", ch.Object.Name, c), nil)
		}
		name := ""
		if ch.Property != nil {
			name = ch.Property.Name
		}
		if err := w.SetPrimaryKey(table, name); err != nil {
			return errors.NewInternalError("changing primary key", err)
		}
		return nil

	default:
		return errors.NewInternalError(fmt.Sprintf("unhandled schema change %T", c), nil)
	}
}

// rebuildNullability replaces a column with one of flipped nullability,
// carrying the data over. Nulls flowing into a required column become the
// type's zero value; the migration callback is expected to fill real ones.
func (a *Applier) rebuildNullability(w *store.Writer, obj *types.ObjectSchema, p *types.Property, nullable bool) error {
	g := w.Group()
	table := g.TableByName(obj.Name)
	if table < 0 {
		return errors.NewInternalError(fmt.Sprintf("table %q missing while rebuilding %q", obj.Name, p.Name), nil)
	}
	t, _ := g.Table(table)
	col := t.ColumnByName(p.Name)
	if col < 0 {
		return errors.NewInternalError(fmt.Sprintf("column %q missing on %q", p.Name, obj.Name), nil)
	}
	if p.Type.IsLink() {
		// Link cells are always nullable and lists have no null notion.
		return nil
	}
	if err := w.InsertColumn(table, col+1, p.Type, p.Name, nullable); err != nil {
		return errors.NewInternalError("rebuilding column", err)
	}
	for row := 0; row < t.NumRows(); row++ {
		v, err := g.Get(table, col, row)
		if err != nil {
			return errors.NewInternalError("reading cell during rebuild", err)
		}
		if v.Null && !nullable {
			v = zeroValue(p.Type)
		}
		if err := w.Set(table, col+1, row, v); err != nil {
			return errors.NewInternalError("copying cell during rebuild", err)
		}
	}
	if err := w.EraseColumn(table, col); err != nil {
		return errors.NewInternalError("dropping old column during rebuild", err)
	}
	if p.Indexed {
		if err := w.AddSearchIndex(table, col); err != nil {
			return errors.NewInternalError("re-indexing rebuilt column", err)
		}
	}
	return nil
}

func zeroValue(t types.DataType) types.Value {
	switch t {
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
		return types.BinaryValue([]byte{})
	case types.TypeTimestamp:
		return types.TimestampValue(0)
	default:
		return types.NullValue(t)
	}
}

// verifyResult runs the post-application checks: the live schema must need
// no further migration, and every table whose primary key was touched must
// hold unique key values.
func (a *Applier) verifyResult(g *store.Group, target types.Schema, changes, remaining []types.SchemaChange) error {
	live := store.ReadSchema(g)
	if leftover := Compare(live, target); NeedsMigration(leftover) {
		return errors.NewSchemaMismatch(
			"schema still does not match the target after migration: " + changeList(leftover))
	}
	var keyed []string
	for _, c := range append(changes, remaining...) {
		if pk, ok := c.(types.ChangePrimaryKey); ok && pk.Property != nil {
			keyed = append(keyed, pk.Object.Name)
		}
	}
	return checkPrimaryKeys(g, keyed)
}

// keyString folds a primary-key cell into a comparable map key. Keys are
// restricted to int and string by schema validation.
func keyString(v types.Value) string {
	if v.Null {
		return "\x00null"
	}
	if v.Type == types.TypeString {
		return "s:" + v.Str
	}
	return "i:" + strconv.FormatInt(v.Int, 10)
}

// checkPrimaryKeys scans the named tables' key columns for duplicates.
func checkPrimaryKeys(g *store.Group, tables []string) error {
	for _, name := range tables {
		ndx := g.TableByName(name)
		if ndx < 0 {
			continue
		}
		t, _ := g.Table(ndx)
		if t.PrimaryKey == "" {
			continue
		}
		col := t.ColumnByName(t.PrimaryKey)
		if col < 0 {
			continue
		}
		seen := make(map[string]int, t.NumRows())
		for row := 0; row < t.NumRows(); row++ {
			v, err := g.Get(ndx, col, row)
			if err != nil {
				return errors.NewInternalError("scanning primary key column", err)
			}
			key := keyString(v)
			if prev, dup := seen[key]; dup {
				return errors.NewDuplicatePrimaryKey(fmt.Sprintf(
					"value %s of key %q on %q duplicated at rows %d and %d",
					v, t.PrimaryKey, name, prev, row))
			}
			seen[key] = row
		}
	}
	return nil
}
