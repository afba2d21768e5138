package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiandb/meridian/internal/store"
	"github.com/meridiandb/meridian/pkg/types"
)

// reverseAndCheck applies the writer's log to the reverser, replays the
// rollback script against the mutated group and expects the pre-state back.
func reverseAndCheck(t *testing.T, pre, mutated *store.Group, log []byte) {
	t.Helper()
	rev := NewReverser(pre)
	require.NoError(t, ReplayOne(log, rev))
	rlog, err := rev.ReversedLog()
	require.NoError(t, err)
	require.NoError(t, NewApplier(mutated).Apply(rlog))
	assert.True(t, mutated.Equal(pre), "rollback did not restore the pre-transaction state")
}

// mutate runs fn against a clone of pre and returns the clone plus the
// recorded log.
func mutate(t *testing.T, pre *store.Group, fn func(w *store.Writer)) (*store.Group, []byte) {
	t.Helper()
	work := pre.Clone()
	w := store.NewWriter(work)
	fn(w)
	return work, w.Log()
}

func TestReverser_ScalarSets(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		req.NoError(w.Set(0, 0, 0, types.StringValue("alice")))
		req.NoError(w.Set(0, 1, 1, types.NullValue(types.TypeInt)))
		req.NoError(w.AddInt(0, 1, 2, -5))
		req.NoError(w.Set(0, 2, 1, types.LinkValue(2)))
		req.NoError(w.Set(0, 2, 0, types.NullValue(types.TypeLink)))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_InsertRows(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		req.NoError(w.InsertEmptyRows(0, 2, 3))
		req.NoError(w.Set(0, 0, 2, types.StringValue("eve")))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_OrderedErase(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		// Row 1 carries a populated friends list and is a link target.
		req.NoError(w.EraseRows(0, 1, 1, false))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_OrderedEraseOfLinkTarget(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		// Row 3 is ada's spouse and a friends-list entry; erasing it
		// nullifies and drops those inbound links.
		req.NoError(w.EraseRows(0, 3, 1, false))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_UnorderedErase(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		// Move-last-over: row 3 moves into slot 1.
		req.NoError(w.EraseRows(0, 1, 1, true))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_UnorderedEraseOfLastRow(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		// Degenerate case: the erased row is the last row, nothing moves.
		req.NoError(w.EraseRows(0, 3, 1, true))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_SwapRows(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		req.NoError(w.SwapRows(0, 0, 2))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_ClearTable(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		req.NoError(w.ClearTable(1))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_ClearTableWithInboundLinks(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		req.NoError(w.ClearTable(0))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_ListOperations(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		req.NoError(w.ListInsert(0, 3, 1, 2, 0))
		req.NoError(w.ListSet(0, 3, 1, 0, 2))
		req.NoError(w.ListMove(0, 3, 1, 0, 2))
		req.NoError(w.ListSwap(0, 3, 1, 0, 1))
		req.NoError(w.ListErase(0, 3, 1, 1))
		req.NoError(w.ListClear(0, 3, 1))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_ColumnOperations(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		req.NoError(w.InsertColumn(0, 2, types.TypeBool, "active", false))
		req.NoError(w.Set(0, 2, 1, types.BoolValue(true)))
		req.NoError(w.RenameColumn(0, 0, "full_name"))
		req.NoError(w.MoveColumn(0, 0, 1))
		req.NoError(w.AddSearchIndex(0, 1))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_EraseColumnRestoresData(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		req.NoError(w.EraseColumn(0, 1))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_EraseLinkListColumnRestoresData(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		req.NoError(w.EraseColumn(0, 3))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_TableOperations(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		req.NoError(w.InsertTable(2, "country"))
		req.NoError(w.RenameTable(1, "town"))
		req.NoError(w.MoveTable(0, 1))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_EraseTableRecreatesEverything(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		req.NoError(w.EraseTable(1))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_MixedTransaction(t *testing.T) {
	req := require.New(t)
	pre := newPeopleGroup(t)
	work, log := mutate(t, pre, func(w *store.Writer) {
		req.NoError(w.InsertEmptyRows(0, 4, 1))
		req.NoError(w.Set(0, 0, 4, types.StringValue("eve")))
		req.NoError(w.Set(0, 2, 4, types.LinkValue(0)))
		req.NoError(w.ListInsert(0, 3, 4, 0, 1))
		req.NoError(w.EraseRows(0, 0, 1, true))
		req.NoError(w.Set(1, 0, 0, types.StringValue("berlin")))
		req.NoError(w.SwapRows(0, 0, 1))
		req.NoError(w.ListClear(0, 3, 1))
	})
	reverseAndCheck(t, pre, work, log)
}

func TestReverser_EmptyLogYieldsEmptyScript(t *testing.T) {
	pre := newPeopleGroup(t)
	rev := NewReverser(pre)
	rlog, err := rev.ReversedLog()
	require.NoError(t, err)
	assert.Empty(t, rlog)
}
