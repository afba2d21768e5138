package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/instr"
	"github.com/meridiandb/meridian/internal/logbuf"
)

func assertBadLog(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, errors.ErrCategoryCodec, errors.GetCategory(err))
	assert.Equal(t, errors.CodeBadTransactLog, errors.GetCode(err))
}

func TestParser_CellOpNeedsTableSelection(t *testing.T) {
	err := ReplayOne(encodeLog(t,
		instr.SetInt{Column: 0, Row: 0, Value: 1},
	), NullObserver{})
	assertBadLog(t, err)
}

func TestParser_ColumnOpNeedsDescriptorSelection(t *testing.T) {
	err := ReplayOne(encodeLog(t,
		instr.SelectTable{Table: 0},
		instr.InsertColumn{Column: 0, Type: 0, Name: "age"},
	), NullObserver{})
	assertBadLog(t, err)
}

func TestParser_ListOpNeedsListSelection(t *testing.T) {
	err := ReplayOne(encodeLog(t,
		instr.SelectTable{Table: 0},
		instr.ListInsert{Index: 0, TargetRow: 1},
	), NullObserver{})
	assertBadLog(t, err)
}

func TestParser_SelectTableClearsDescriptor(t *testing.T) {
	// Reselecting a table drops the descriptor selection.
	err := ReplayOne(encodeLog(t,
		instr.SelectTable{Table: 0},
		instr.SelectDescriptor{},
		instr.SelectTable{Table: 0},
		instr.EraseColumn{Column: 0},
	), NullObserver{})
	assertBadLog(t, err)
}

func TestParser_GroupLevelOpClearsSelection(t *testing.T) {
	err := ReplayOne(encodeLog(t,
		instr.SelectTable{Table: 0},
		instr.InsertTable{Table: 1, Name: "extra"},
		instr.SetInt{Column: 0, Row: 0, Value: 1},
	), NullObserver{})
	assertBadLog(t, err)
}

func TestParser_SelectLinkListNeedsTable(t *testing.T) {
	err := ReplayOne(encodeLog(t,
		instr.SelectLinkList{Column: 0, Row: 0},
	), NullObserver{})
	assertBadLog(t, err)
}

func TestParser_ValidSequenceAccepted(t *testing.T) {
	err := ReplayOne(encodeLog(t,
		instr.InsertTable{Table: 0, Name: "person"},
		instr.SelectTable{Table: 0},
		instr.SelectDescriptor{},
		instr.InsertColumn{Column: 0, Type: 0, Name: "age"},
		instr.InsertEmptyRows{Row: 0, Count: 1, PriorSize: 0},
		instr.SetInt{Column: 0, Row: 0, Value: 7},
	), NullObserver{})
	assert.NoError(t, err)
}

func TestParser_ContextResetsBetweenChangesets(t *testing.T) {
	// The second changeset cannot ride on the first one's table selection.
	first := encodeLog(t, instr.SelectTable{Table: 0})
	second := encodeLog(t, instr.SetInt{Column: 0, Row: 0, Value: 1})
	err := Replay(logbuf.NewMultiSource([][]byte{first, second}), NullObserver{})
	assertBadLog(t, err)
}

func TestParser_MalformedBytesRejected(t *testing.T) {
	err := ReplayOne([]byte{0xFE, 0x01}, NullObserver{})
	assertBadLog(t, err)
}
