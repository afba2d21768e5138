package history

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/logbuf"
	"github.com/meridiandb/meridian/pkg/types"
)

func openTemp(t *testing.T) *SQLiteHistory {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { h.Close() })
	return h
}

// snapConst is a SnapshotFunc returning a fixed blob, for tests that only
// care about the trim arithmetic.
func snapConst(b []byte) SnapshotFunc {
	return func(types.Version, logbuf.BlockSource) ([]byte, error) { return b, nil }
}

func drain(t *testing.T, src logbuf.BlockSource) [][]byte {
	t.Helper()
	var blocks [][]byte
	for {
		b, err := src.NextBlock()
		require.NoError(t, err)
		if b == nil {
			return blocks
		}
		blocks = append(blocks, b)
	}
}

func TestSQLiteHistory_AppendAndLatest(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()

	latest, err := h.LatestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion, latest)

	v, err := h.Append(ctx, []byte("first"), 1)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+1, v)

	v, err = h.Append(ctx, []byte("second"), 1)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+2, v)

	latest, err = h.LatestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+2, latest)
}

func TestSQLiteHistory_ChangesetsBetween(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()

	for _, payload := range []string{"a", "b", "c"} {
		_, err := h.Append(ctx, []byte(payload), 1)
		require.NoError(t, err)
	}

	// The range is exclusive of from, inclusive of to.
	src, err := h.ChangesetsBetween(ctx, BaseVersion+1, BaseVersion+3)
	require.NoError(t, err)
	blocks := drain(t, src)
	require.Len(t, blocks, 2)
	assert.Equal(t, "b", string(blocks[0]))
	assert.Equal(t, "c", string(blocks[1]))

	// Empty range yields an immediately exhausted source.
	src, err = h.ChangesetsBetween(ctx, BaseVersion+2, BaseVersion+2)
	require.NoError(t, err)
	assert.Empty(t, drain(t, src))

	_, err = h.ChangesetsBetween(ctx, BaseVersion+3, BaseVersion+1)
	require.Error(t, err)
	assert.Equal(t, errors.CodeVersionNotFound, errors.GetCode(err))
}

func TestSQLiteHistory_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	ctx := context.Background()

	h, err := Open(path)
	require.NoError(t, err)
	_, err = h.Append(ctx, []byte("payload"), 3)
	require.NoError(t, err)
	require.NoError(t, h.StampSchema(ctx, 3, types.Schema{}))
	require.NoError(t, h.Close())

	h, err = Open(path)
	require.NoError(t, err)
	defer h.Close()

	latest, err := h.LatestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+1, latest)

	ver, ok, err := h.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint64(3), ver)

	src, _, err := h.Bootstrap(ctx)
	require.NoError(t, err)
	blocks := drain(t, src)
	require.Len(t, blocks, 1)
	assert.Equal(t, "payload", string(blocks[0]))
}

func TestSQLiteHistory_ChecksumDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	ctx := context.Background()

	h, err := Open(path)
	require.NoError(t, err)
	_, err = h.Append(ctx, []byte("intact changeset bytes"), 1)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	// Flip the stored checksum out from under the reader.
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = db.Exec("UPDATE commits SET checksum = checksum + 1")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	h, err = Open(path)
	require.NoError(t, err)
	defer h.Close()

	_, _, err = h.Bootstrap(ctx)
	require.Error(t, err)
	assert.Equal(t, errors.CodeCorruptionDetected, errors.GetCode(err))
}

func TestSQLiteHistory_TrimInstallsSnapshot(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()

	for _, payload := range []string{"a", "b", "c", "d"} {
		_, err := h.Append(ctx, []byte(payload), 2)
		require.NoError(t, err)
	}

	floor, err := h.Trim(ctx, BaseVersion+3, func(at types.Version, src logbuf.BlockSource) ([]byte, error) {
		// The callback sees the settled floor and the changesets below it.
		assert.Equal(t, BaseVersion+3, at)
		assert.Len(t, drain(t, src), 3)
		return []byte("snapshot@4"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+3, floor)

	// Bootstrap now starts from the snapshot and replays the tail.
	src, latest, err := h.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+4, latest)
	blocks := drain(t, src)
	require.Len(t, blocks, 2)
	assert.Equal(t, "snapshot@4", string(blocks[0]))
	assert.Equal(t, "d", string(blocks[1]))

	// Trimmed range is gone.
	_, err = h.ChangesetsBetween(ctx, BaseVersion, BaseVersion+2)
	require.Error(t, err)
	assert.Equal(t, errors.CodeVersionNotFound, errors.GetCode(err))

	// The tail after the floor is still reachable.
	src, err = h.ChangesetsBetween(ctx, BaseVersion+3, BaseVersion+4)
	require.NoError(t, err)
	blocks = drain(t, src)
	require.Len(t, blocks, 1)
	assert.Equal(t, "d", string(blocks[0]))
}

func TestSQLiteHistory_TrimHonorsPins(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()

	for _, payload := range []string{"a", "b", "c", "d"} {
		_, err := h.Append(ctx, []byte(payload), 1)
		require.NoError(t, err)
	}

	require.NoError(t, h.Pin(BaseVersion+2))
	var askedAt types.Version
	floor, err := h.Trim(ctx, BaseVersion+4, func(at types.Version, src logbuf.BlockSource) ([]byte, error) {
		askedAt = at
		return []byte("snap"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+2, floor)
	// The snapshot was requested at the pinned floor, not at upTo.
	assert.Equal(t, BaseVersion+2, askedAt)

	// After unpinning, the trim can advance to the requested version.
	require.NoError(t, h.Unpin(BaseVersion+2))
	floor, err = h.Trim(ctx, BaseVersion+4, snapConst([]byte("snap")))
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+4, floor)
}

func TestSQLiteHistory_TrimAtBaseIsNoOp(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()

	floor, err := h.Trim(ctx, BaseVersion+10, func(types.Version, logbuf.BlockSource) ([]byte, error) {
		t.Fatal("no snapshot should be taken when nothing can be trimmed")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, BaseVersion, floor)

	latest, err := h.LatestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion, latest)
}

func TestSQLiteHistory_PinUnpinBalance(t *testing.T) {
	h := openTemp(t)

	require.NoError(t, h.Pin(5))
	require.NoError(t, h.Pin(5))
	require.NoError(t, h.Unpin(5))
	require.NoError(t, h.Unpin(5))
	require.Error(t, h.Unpin(5))
}

func TestSQLiteHistory_StampedSchemaRoundTrip(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()

	_, _, ok, err := h.StampedSchema(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	stamped := types.NewSchema([]types.ObjectSchema{{
		Name:       "person",
		PrimaryKey: "id",
		Properties: []types.Property{
			{Name: "id", Type: types.TypeInt, IsPrimary: true},
			{Name: "name", Type: types.TypeString, Nullable: true, Indexed: true},
		},
	}})
	require.NoError(t, h.StampSchema(ctx, 7, stamped))

	got, ver, ok, err := h.StampedSchema(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(7), ver)
	assert.True(t, got.StructurallyEqual(stamped))
}

func TestSQLiteHistory_AppendWithStamp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "history.db")
	ctx := context.Background()

	stamped := types.NewSchema([]types.ObjectSchema{{
		Name:       "person",
		Properties: []types.Property{{Name: "name", Type: types.TypeString}},
	}})

	h, err := Open(path)
	require.NoError(t, err)
	v, err := h.AppendWithStamp(ctx, []byte("migration"), 2, stamped)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+1, v)
	require.NoError(t, h.Close())

	// Both halves survive a reopen together.
	h, err = Open(path)
	require.NoError(t, err)
	defer h.Close()

	latest, err := h.LatestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+1, latest)

	got, ver, ok, err := h.StampedSchema(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(2), ver)
	assert.True(t, got.StructurallyEqual(stamped))

	src, _, err := h.Bootstrap(ctx)
	require.NoError(t, err)
	blocks := drain(t, src)
	require.Len(t, blocks, 1)
	assert.Equal(t, "migration", string(blocks[0]))
}

func TestSQLiteHistory_Reset(t *testing.T) {
	h := openTemp(t)
	ctx := context.Background()

	_, err := h.Append(ctx, []byte("a"), 1)
	require.NoError(t, err)
	require.NoError(t, h.StampSchema(ctx, 1, types.Schema{}))

	require.NoError(t, h.Reset(ctx))

	latest, err := h.LatestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion, latest)
	_, ok, err := h.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryHistory_MatchesSQLiteArithmetic(t *testing.T) {
	h := NewMemoryHistory()
	ctx := context.Background()

	latest, err := h.LatestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion, latest)

	for _, payload := range []string{"a", "b", "c"} {
		_, err := h.Append(ctx, []byte(payload), 1)
		require.NoError(t, err)
	}
	latest, err = h.LatestVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+3, latest)

	src, err := h.ChangesetsBetween(ctx, BaseVersion+1, BaseVersion+3)
	require.NoError(t, err)
	blocks := drain(t, src)
	require.Len(t, blocks, 2)
	assert.Equal(t, "b", string(blocks[0]))

	_, err = h.ChangesetsBetween(ctx, BaseVersion, BaseVersion+9)
	require.Error(t, err)
	assert.Equal(t, errors.CodeVersionNotFound, errors.GetCode(err))
}

func TestMemoryHistory_TrimAndBootstrap(t *testing.T) {
	h := NewMemoryHistory()
	ctx := context.Background()

	for _, payload := range []string{"a", "b", "c", "d"} {
		_, err := h.Append(ctx, []byte(payload), 1)
		require.NoError(t, err)
	}

	h.Pin(BaseVersion + 3)
	floor, err := h.Trim(ctx, BaseVersion+4, func(at types.Version, src logbuf.BlockSource) ([]byte, error) {
		assert.Equal(t, BaseVersion+3, at)
		assert.Len(t, drain(t, src), 3)
		return []byte("snap"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+3, floor)

	src, latest, err := h.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+4, latest)
	blocks := drain(t, src)
	require.Len(t, blocks, 2)
	assert.Equal(t, "snap", string(blocks[0]))
	assert.Equal(t, "d", string(blocks[1]))

	// Reading below the trim floor fails, reading above it works.
	_, err = h.ChangesetsBetween(ctx, BaseVersion+1, BaseVersion+4)
	require.Error(t, err)
	src, err = h.ChangesetsBetween(ctx, BaseVersion+3, BaseVersion+4)
	require.NoError(t, err)
	assert.Len(t, drain(t, src), 1)
}

func TestMemoryHistory_AppendWithStamp(t *testing.T) {
	h := NewMemoryHistory()
	ctx := context.Background()

	stamped := types.NewSchema([]types.ObjectSchema{{
		Name:       "person",
		Properties: []types.Property{{Name: "name", Type: types.TypeString}},
	}})

	v, err := h.AppendWithStamp(ctx, []byte("migration"), 3, stamped)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+1, v)

	ver, ok, err := h.SchemaVersion(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(3), ver)

	src, latest, err := h.Bootstrap(ctx)
	require.NoError(t, err)
	assert.Equal(t, BaseVersion+1, latest)
	assert.Len(t, drain(t, src), 1)
}
