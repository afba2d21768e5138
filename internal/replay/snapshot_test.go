package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiandb/meridian/internal/store"
	"github.com/meridiandb/meridian/pkg/types"
)

// TestSnapshotLog_RoundTrip replays a full-state snapshot changeset into an
// empty group and expects a state equal to the source.
func TestSnapshotLog_RoundTrip(t *testing.T) {
	src := newPeopleGroup(t)

	snap, err := store.SnapshotLog(src)
	require.NoError(t, err)

	dst := store.NewGroup()
	require.NoError(t, NewApplier(dst).Apply(snap))
	assert.True(t, dst.Equal(src))
}

func TestSnapshotLog_EmptyGroup(t *testing.T) {
	snap, err := store.SnapshotLog(store.NewGroup())
	require.NoError(t, err)
	assert.Empty(t, snap)

	dst := store.NewGroup()
	require.NoError(t, NewApplier(dst).Apply(snap))
	assert.Equal(t, 0, dst.NumTables())
}

func TestSnapshotLog_PreservesNullsAndIndexes(t *testing.T) {
	req := require.New(t)
	src := newPeopleGroup(t)
	w := store.NewWriter(src)
	req.NoError(w.AddSearchIndex(0, 0))
	req.NoError(w.Set(0, 1, 2, types.NullValue(types.TypeInt)))

	snap, err := store.SnapshotLog(src)
	req.NoError(err)

	dst := store.NewGroup()
	req.NoError(NewApplier(dst).Apply(snap))
	assert.True(t, dst.Equal(src))

	v, err := dst.Get(0, 1, 2)
	req.NoError(err)
	assert.True(t, v.Null)
}
