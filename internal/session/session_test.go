package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/history"
	"github.com/meridiandb/meridian/internal/store"
	"github.com/meridiandb/meridian/pkg/types"
)

func personSchema() types.Schema {
	return types.NewSchema([]types.ObjectSchema{{
		Name: "person",
		Properties: []types.Property{
			{Name: "name", Type: types.TypeString},
			{Name: "score", Type: types.TypeInt},
		},
	}})
}

// openShared opens a session on a per-test in-memory database. Sessions of
// the same test share state through the name.
func openShared(t *testing.T, cfg Config) *Session {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = t.Name()
	}
	cfg.InMemory = true
	s, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func commitPerson(t *testing.T, s *Session, name string, score int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.Begin(ctx))
	w, err := s.Writer()
	require.NoError(t, err)
	g := s.Group()
	table := g.TableByName("person")
	tbl, err := g.Table(table)
	require.NoError(t, err)
	row := tbl.NumRows()
	require.NoError(t, w.InsertEmptyRows(table, row, 1))
	require.NoError(t, w.Set(table, 0, row, types.StringValue(name)))
	require.NoError(t, w.Set(table, 1, row, types.IntValue(score)))
	require.NoError(t, s.Commit(ctx))
}

func personName(t *testing.T, s *Session, row int) string {
	t.Helper()
	g := s.Group()
	v, err := g.Get(g.TableByName("person"), 0, row)
	require.NoError(t, err)
	return v.Str
}

func personCount(s *Session) int {
	g := s.Group()
	tbl, err := g.Table(g.TableByName("person"))
	if err != nil {
		return -1
	}
	return tbl.NumRows()
}

func TestSession_OpenInitializesSchema(t *testing.T) {
	s := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})

	assert.Equal(t, StateReading, s.State())
	assert.Equal(t, history.BaseVersion+1, s.Version())
	assert.True(t, s.Schema().StructurallyEqual(personSchema()))
}

func TestSession_CommitVisibleAfterRefresh(t *testing.T) {
	s1 := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	s2 := openShared(t, Config{})

	commitPerson(t, s1, "ada", 10)

	// The second session stays on its snapshot until it refreshes.
	assert.Equal(t, 0, personCount(s2))
	assert.True(t, s2.HasChanged())

	moved, err := s2.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, s1.Version(), s2.Version())
	assert.Equal(t, "ada", personName(t, s2, 0))

	moved, err = s2.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, moved)
}

func TestSession_CancelRestoresSnapshot(t *testing.T) {
	ctx := context.Background()
	s := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	commitPerson(t, s, "ada", 10)
	before := s.Version()

	require.NoError(t, s.Begin(ctx))
	w, err := s.Writer()
	require.NoError(t, err)
	table := s.Group().TableByName("person")
	require.NoError(t, w.Set(table, 0, 0, types.StringValue("mallory")))
	require.NoError(t, w.InsertEmptyRows(table, 1, 2))
	assert.Equal(t, 3, personCount(s))

	require.NoError(t, s.Cancel())
	assert.Equal(t, StateReading, s.State())
	assert.Equal(t, before, s.Version())
	assert.Equal(t, 1, personCount(s))
	assert.Equal(t, "ada", personName(t, s, 0))
}

func TestSession_CommitRejectsStructuralEdits(t *testing.T) {
	ctx := context.Background()
	s := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})

	require.NoError(t, s.Begin(ctx))
	w, err := s.Writer()
	require.NoError(t, err)
	table := s.Group().TableByName("person")
	require.NoError(t, w.InsertColumn(table, 2, types.TypeString, "rogue", false))

	err = s.Commit(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.CodeSchemaMismatch, errors.GetCode(err))

	// The transaction survives the failed commit and can be cancelled.
	assert.Equal(t, StateWriting, s.State())
	require.NoError(t, s.Cancel())
	tbl, err := s.Group().Table(table)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.NumColumns())
}

func TestSession_StateErrors(t *testing.T) {
	ctx := context.Background()
	s := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})

	_, err := s.Writer()
	assert.Equal(t, errors.CodeWrongTransactState, errors.GetCode(err))
	assert.Equal(t, errors.CodeWrongTransactState, errors.GetCode(s.Cancel()))
	assert.Equal(t, errors.CodeWrongTransactState, errors.GetCode(s.Commit(ctx)))

	require.NoError(t, s.Begin(ctx))
	assert.Equal(t, errors.CodeWrongTransactState, errors.GetCode(s.Begin(ctx)))
	_, err = s.Refresh(ctx)
	assert.Equal(t, errors.CodeWrongTransactState, errors.GetCode(err))
	require.NoError(t, s.Cancel())

	require.NoError(t, s.Close())
	assert.Equal(t, errors.CodeSessionClosed, errors.GetCode(s.Begin(ctx)))
	_, err = s.Refresh(ctx)
	assert.Equal(t, errors.CodeSessionClosed, errors.GetCode(err))
	require.NoError(t, s.Close())
}

func TestSession_ReadOnly(t *testing.T) {
	ctx := context.Background()
	s1 := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	commitPerson(t, s1, "ada", 10)

	ro := openShared(t, Config{ReadOnly: true})
	err := ro.Begin(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.CodeReadOnlySession, errors.GetCode(err))

	// Verification against a matching schema passes, a mismatch fails.
	require.NoError(t, ro.UpdateSchema(ctx, personSchema(), 1, nil))
	bad := personSchema()
	bad[0].Properties = append(bad[0].Properties,
		types.Property{Name: "email", Type: types.TypeString})
	err = ro.UpdateSchema(ctx, bad, 1, nil)
	assert.Equal(t, errors.CodeSchemaMismatch, errors.GetCode(err))

	assert.Equal(t, "ada", personName(t, ro, 0))
}

func TestSession_WriteLockTimesOut(t *testing.T) {
	ctx := context.Background()
	s1 := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	s2 := openShared(t, Config{})

	require.NoError(t, s1.Begin(ctx))
	defer s1.Cancel()

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := s2.Begin(short)
	require.Error(t, err)
	assert.Equal(t, errors.CodeWriteConflict, errors.GetCode(err))
	assert.True(t, errors.IsRetryable(err))
}

func TestSession_WaitForChange(t *testing.T) {
	ctx := context.Background()
	s1 := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	s2 := openShared(t, Config{})

	done := make(chan error, 1)
	go func() {
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		done <- s2.WaitForChange(wctx)
	}()

	time.Sleep(20 * time.Millisecond)
	commitPerson(t, s1, "ada", 10)

	require.NoError(t, <-done)
	assert.True(t, s2.HasChanged())
}

func TestSession_ObservedRowFollowsRefresh(t *testing.T) {
	ctx := context.Background()
	s1 := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	commitPerson(t, s1, "ada", 10)
	commitPerson(t, s1, "bob", 20)

	s2 := openShared(t, Config{})
	row, err := s2.Observe("person", 1)
	require.NoError(t, err)

	// Another transaction inserts above the observed row.
	require.NoError(t, s1.Begin(ctx))
	w, err := s1.Writer()
	require.NoError(t, err)
	table := s1.Group().TableByName("person")
	require.NoError(t, w.InsertEmptyRows(table, 0, 2))
	require.NoError(t, w.Set(table, 0, 0, types.StringValue("x")))
	require.NoError(t, w.Set(table, 0, 1, types.StringValue("y")))
	require.NoError(t, s1.Commit(ctx))

	_, err = s2.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), row.Row)
	assert.False(t, row.Invalidated)
	assert.Equal(t, "bob", personName(t, s2, 3))

	_, err = s2.Observe("no_such_table", 0)
	require.Error(t, err)
}

func TestSession_OwnCommitMovesObservedRows(t *testing.T) {
	ctx := context.Background()
	s := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	commitPerson(t, s, "ada", 10)

	row, err := s.Observe("person", 0)
	require.NoError(t, err)

	require.NoError(t, s.Begin(ctx))
	w, err := s.Writer()
	require.NoError(t, err)
	table := s.Group().TableByName("person")
	require.NoError(t, w.InsertEmptyRows(table, 0, 1))
	require.NoError(t, w.Set(table, 0, 0, types.StringValue("zed")))
	require.NoError(t, w.Set(table, 1, 1, types.IntValue(99)))
	require.NoError(t, s.Commit(ctx))

	assert.Equal(t, uint64(1), row.Row)
	assert.True(t, row.Dirty())
	assert.True(t, row.DirtyColumns[1])
	s.ResetDirty()
	assert.False(t, row.Dirty())
}

func TestSession_UpdateSchemaEvolution(t *testing.T) {
	ctx := context.Background()
	s := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	commitPerson(t, s, "ada", 10)

	target := personSchema()
	target[0].Properties = append(target[0].Properties,
		types.Property{Name: "email", Type: types.TypeString})

	err := s.UpdateSchema(ctx, target, 2, func(old *store.Group, w *store.Writer) error {
		table := w.Group().TableByName("person")
		tbl, err := w.Group().Table(table)
		if err != nil {
			return err
		}
		col := tbl.ColumnByName("email")
		for row := 0; row < tbl.NumRows(); row++ {
			if err := w.Set(table, col, row, types.StringValue("backfilled")); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	assert.True(t, s.Schema().StructurallyEqual(target))
	g := s.Group()
	table := g.TableByName("person")
	tbl, err := g.Table(table)
	require.NoError(t, err)
	v, err := g.Get(table, tbl.ColumnByName("email"), 0)
	require.NoError(t, err)
	assert.Equal(t, "backfilled", v.Str)

	// Another session sees the migrated state after refreshing.
	s2 := openShared(t, Config{})
	assert.True(t, s2.Schema().StructurallyEqual(target))
}

func TestSession_UpdateSchemaVersionDecreaseRejected(t *testing.T) {
	ctx := context.Background()
	s := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 3})
	err := s.UpdateSchema(ctx, personSchema(), 2, nil)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidSchemaVersion, errors.GetCode(err))
	assert.Equal(t, StateReading, s.State())
}

func TestSession_UpdateSchemaSameVersionIsNoOp(t *testing.T) {
	ctx := context.Background()
	s := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	before := s.Version()

	require.NoError(t, s.UpdateSchema(ctx, personSchema(), 1, nil))
	assert.Equal(t, before, s.Version())
}

func TestSession_ResetFileRequiresExclusiveAccess(t *testing.T) {
	s1 := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	commitPerson(t, s1, "ada", 10)

	incompatible := personSchema()
	incompatible[0].Properties[1] = types.Property{Name: "score", Type: types.TypeString}

	_, err := Open(context.Background(), Config{
		InMemory: true, Path: t.Name(),
		Mode: types.SchemaModeResetFile, Schema: incompatible, SchemaVersion: 1,
	})
	require.Error(t, err)
	assert.Equal(t, errors.CodeWrongTransactState, errors.GetCode(err))

	// The first session is untouched.
	assert.Equal(t, "ada", personName(t, s1, 0))
}

func TestSession_ResetFileWipesIncompatibleFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "people.db")

	s, err := Open(ctx, Config{Path: path, Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	require.NoError(t, err)
	commitPerson(t, s, "ada", 10)
	require.NoError(t, s.Close())

	incompatible := personSchema()
	incompatible[0].Properties[1] = types.Property{Name: "score", Type: types.TypeString}

	s, err = Open(ctx, Config{Path: path, Mode: types.SchemaModeResetFile, Schema: incompatible, SchemaVersion: 1})
	require.NoError(t, err)
	defer s.Close()

	assert.True(t, s.Schema().StructurallyEqual(incompatible))
	assert.Equal(t, 0, personCount(s))
	assert.Equal(t, history.BaseVersion+1, s.Version())
}

func TestSession_ResetFileCompatibleSchemaKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "people.db")

	s, err := Open(ctx, Config{Path: path, Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	require.NoError(t, err)
	commitPerson(t, s, "ada", 10)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Path: path, Mode: types.SchemaModeResetFile, Schema: personSchema(), SchemaVersion: 1})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "ada", personName(t, s, 0))
}

func TestSession_WriteGuard(t *testing.T) {
	ctx := context.Background()
	s := openShared(t, Config{Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})

	// Error path: the deferred rollback cancels the transaction.
	func() {
		g, err := s.BeginGuarded(ctx)
		require.NoError(t, err)
		defer g.Rollback()
		table := s.Group().TableByName("person")
		require.NoError(t, g.Writer().InsertEmptyRows(table, 0, 1))
	}()
	assert.Equal(t, StateReading, s.State())
	assert.Equal(t, 0, personCount(s))

	// Happy path: rollback after commit is a no-op.
	g, err := s.BeginGuarded(ctx)
	require.NoError(t, err)
	table := s.Group().TableByName("person")
	require.NoError(t, g.Writer().InsertEmptyRows(table, 0, 1))
	require.NoError(t, g.Writer().Set(table, 0, 0, types.StringValue("ada")))
	require.NoError(t, g.Commit(ctx))
	require.NoError(t, g.Rollback())
	assert.Equal(t, 1, personCount(s))
}

func TestSession_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "people.db")

	keyed := types.NewSchema([]types.ObjectSchema{{
		Name:       "person",
		PrimaryKey: "name",
		Properties: []types.Property{
			{Name: "name", Type: types.TypeString},
			{Name: "score", Type: types.TypeInt},
		},
	}})

	s, err := Open(ctx, Config{Path: path, Mode: types.SchemaModeAutomatic, Schema: keyed, SchemaVersion: 1})
	require.NoError(t, err)
	commitPerson(t, s, "ada", 10)
	commitPerson(t, s, "bob", 20)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 2, personCount(s))
	assert.Equal(t, "bob", personName(t, s, 1))
	// Primary-key metadata comes back through the schema stamp.
	assert.Equal(t, "name", s.Schema().Find("person").PrimaryKey)
}

func TestSession_TrimKeepsBootstrapWorking(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "people.db")

	s, err := Open(ctx, Config{Path: path, Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	require.NoError(t, err)
	commitPerson(t, s, "ada", 10)
	commitPerson(t, s, "bob", 20)
	commitPerson(t, s, "cleo", 30)

	floor, err := s.Trim(ctx)
	require.NoError(t, err)
	assert.Equal(t, s.Version(), floor)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 3, personCount(s))
	assert.Equal(t, "cleo", personName(t, s, 2))
}

func TestSession_TrimFromStaleSessionKeepsBootstrapWorking(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "people.db")

	s1, err := Open(ctx, Config{Path: path, Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	require.NoError(t, err)
	commitPerson(t, s1, "ada", 10)
	commitPerson(t, s1, "bob", 20)

	// s2 stays on its snapshot while s1 commits past it.
	s2, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	stale := s2.Version()
	commitPerson(t, s1, "cleo", 30)
	commitPerson(t, s1, "dan", 40)
	require.Less(t, stale, s1.Version())

	// The stale session's trim settles on its own version, and the
	// installed snapshot must describe the state as of that floor, not the
	// latest. Otherwise replaying the surviving changesets diverges.
	floor, err := s2.Trim(ctx)
	require.NoError(t, err)
	assert.Equal(t, stale, floor)

	require.NoError(t, s2.Close())
	require.NoError(t, s1.Close())

	s, err := Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 4, personCount(s))
	assert.Equal(t, "dan", personName(t, s, 3))
}

func TestSession_TrimToBelowRetainedSnapshotsRebuildsState(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "people.db")

	s, err := Open(ctx, Config{Path: path, Mode: types.SchemaModeAutomatic, Schema: personSchema(), SchemaVersion: 1})
	require.NoError(t, err)
	commitPerson(t, s, "ada", 10)
	commitPerson(t, s, "bob", 20)
	commitPerson(t, s, "cleo", 30)

	// Only the latest version is still held in memory; the snapshot for
	// this floor has to be rebuilt by replaying the stored changesets.
	floor, err := s.TrimTo(ctx, history.BaseVersion+2)
	require.NoError(t, err)
	assert.Equal(t, history.BaseVersion+2, floor)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Path: path})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, 3, personCount(s))
	assert.Equal(t, "ada", personName(t, s, 0))
	assert.Equal(t, "cleo", personName(t, s, 2))
}
