package replay

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridiandb/meridian/internal/instr"
	"github.com/meridiandb/meridian/internal/logbuf"
	"github.com/meridiandb/meridian/internal/store"
	"github.com/meridiandb/meridian/pkg/types"
)

// newPeopleGroup builds a two-table group with scalar, link and link-list
// columns plus a few rows of data, shared by the tests in this package.
//
//	person: name string, age int, spouse -> person, friends -> [person]
//	city:   name string
func newPeopleGroup(t *testing.T) *store.Group {
	t.Helper()
	req := require.New(t)

	g := store.NewGroup()
	w := store.NewWriter(g)
	req.NoError(w.InsertTable(0, "person"))
	req.NoError(w.InsertTable(1, "city"))
	req.NoError(w.InsertColumn(0, 0, types.TypeString, "name", false))
	req.NoError(w.InsertColumn(0, 1, types.TypeInt, "age", true))
	req.NoError(w.InsertLinkColumn(0, 2, types.TypeLink, "spouse", 0))
	req.NoError(w.InsertLinkColumn(0, 3, types.TypeLinkList, "friends", 0))
	req.NoError(w.InsertColumn(1, 0, types.TypeString, "name", false))

	req.NoError(w.InsertEmptyRows(0, 0, 4))
	req.NoError(w.InsertEmptyRows(1, 0, 2))

	for row, name := range []string{"ada", "bob", "cleo", "dan"} {
		req.NoError(w.Set(0, 0, row, types.StringValue(name)))
		req.NoError(w.Set(0, 1, row, types.IntValue(int64(30+row))))
	}
	req.NoError(w.Set(0, 2, 0, types.LinkValue(3)))
	req.NoError(w.Set(0, 2, 3, types.LinkValue(0)))
	req.NoError(w.ListInsert(0, 3, 1, 0, 3))
	req.NoError(w.ListInsert(0, 3, 1, 1, 2))
	req.NoError(w.Set(1, 0, 0, types.StringValue("paris")))
	req.NoError(w.Set(1, 0, 1, types.StringValue("tokyo")))
	return g
}

// encodeLog turns an instruction sequence into one changeset.
func encodeLog(t *testing.T, ins ...instr.Instruction) []byte {
	t.Helper()
	enc := instr.NewEncoder(logbuf.NewBuffer(128))
	require.NoError(t, enc.EncodeAll(ins))
	return enc.Buffer().Bytes()
}
