package instr

import (
	"math"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridiandb/meridian/internal/errors"
	"github.com/meridiandb/meridian/internal/logbuf"
	"github.com/meridiandb/meridian/pkg/types"
)

func encodeAll(t *testing.T, ins ...Instruction) []byte {
	t.Helper()
	enc := NewEncoder(logbuf.NewBuffer(64))
	require.NoError(t, enc.EncodeAll(ins))
	return enc.Buffer().Bytes()
}

func roundTrip(t *testing.T, ins ...Instruction) []Instruction {
	t.Helper()
	out, err := DecodeAll(encodeAll(t, ins...))
	require.NoError(t, err)
	require.Len(t, out, len(ins))
	return out
}

func TestCodec_RoundTripAllInstructions(t *testing.T) {
	ins := []Instruction{
		SelectTable{Table: 3},
		SelectDescriptor{},
		SelectLinkList{Column: 2, Row: 7},
		InsertTable{Table: 0, Name: "person"},
		EraseTable{Table: 1},
		RenameTable{Table: 0, Name: "people"},
		MoveTable{From: 2, To: 0},
		InsertEmptyRows{Row: 4, Count: 10, PriorSize: 4},
		EraseRows{Row: 1, Count: 1, PriorSize: 14, Unordered: true},
		SwapRows{RowA: 0, RowB: 9},
		ClearTable{PriorSize: 13},
		OptimizeTable{},
		SetInt{Column: 0, Row: 1, Value: -42},
		AddInt{Column: 0, Row: 1, Delta: 17},
		SetBool{Column: 1, Row: 2, Value: true},
		SetFloat{Column: 2, Row: 3, Value: 1.5},
		SetDouble{Column: 3, Row: 4, Value: -2.25},
		SetString{Column: 4, Row: 5, Value: "héllo"},
		SetBinary{Column: 5, Row: 6, Value: []byte{0x00, 0xFF, 0x80}},
		SetTimestamp{Column: 6, Row: 7, Nanos: -1},
		SetNull{Column: 7, Row: 8},
		SetLink{Column: 8, Row: 9, TargetRow: 12},
		NullifyLink{Column: 8, Row: 10},
		InsertColumn{Column: 0, Type: types.TypeString, Name: "name", Nullable: true},
		InsertLinkColumn{Column: 1, Type: types.TypeLinkList, Name: "friends", TargetTable: 0},
		EraseColumn{Column: 2},
		RenameColumn{Column: 0, Name: "full_name"},
		MoveColumn{From: 1, To: 0},
		AddSearchIndex{Column: 0},
		RemoveSearchIndex{Column: 0},
		ListSet{Index: 0, TargetRow: 5},
		ListInsert{Index: 1, TargetRow: 6, PriorSize: 1},
		ListMove{From: 0, To: 1},
		ListSwap{IndexA: 0, IndexB: 1},
		ListErase{Index: 1, PriorSize: 2},
		ListClear{PriorSize: 1},
	}
	out := roundTrip(t, ins...)
	for i := range ins {
		assert.Equal(t, ins[i], out[i], "instruction %d", i)
	}
}

func TestCodec_IntBoundaries(t *testing.T) {
	for _, v := range []int64{
		0, 1, -1, 63, 64, -64, -65, 127, 128, -128,
		math.MaxInt32, math.MinInt32,
		math.MaxInt64, math.MinInt64,
	} {
		out := roundTrip(t, SetInt{Column: 0, Row: 0, Value: v})
		assert.Equal(t, v, out[0].(SetInt).Value, "value %d", v)
	}
}

func TestCodec_NullIsNotEmptyString(t *testing.T) {
	// An empty string and a null travel as different instructions.
	out := roundTrip(t,
		SetString{Column: 0, Row: 0, Value: ""},
		SetNull{Column: 0, Row: 0},
	)
	assert.Equal(t, SetString{Column: 0, Row: 0, Value: ""}, out[0])
	assert.Equal(t, SetNull{Column: 0, Row: 0}, out[1])
}

func TestCodec_EmptyAndUnicodeStrings(t *testing.T) {
	for _, s := range []string{"", "a", "日本語", strings.Repeat("x", 100000)} {
		out := roundTrip(t, SetString{Column: 1, Row: 2, Value: s})
		assert.Equal(t, s, out[0].(SetString).Value)
	}
}

func TestCodec_OversizedStringRejected(t *testing.T) {
	enc := NewEncoder(logbuf.NewBuffer(64))
	err := enc.Encode(SetString{Value: strings.Repeat("x", MaxStringSize+1)})
	require.Error(t, err)
	assert.Equal(t, errors.CodeBadTransactLog, errors.GetCode(err))
}

func TestCodec_TruncatedInputRejected(t *testing.T) {
	full := encodeAll(t, SetString{Column: 1, Row: 2, Value: "hello world"})
	for cut := 1; cut < len(full); cut++ {
		_, err := DecodeAll(full[:cut])
		require.Error(t, err, "cut at %d", cut)
		assert.Equal(t, errors.CodeBadTransactLog, errors.GetCode(err))
	}
}

func TestCodec_UnknownTagRejected(t *testing.T) {
	_, err := DecodeAll([]byte{0xFE})
	require.Error(t, err)
	assert.Equal(t, errors.CodeBadTransactLog, errors.GetCode(err))
	assert.Contains(t, err.Error(), "unknown instruction tag")
}

func TestCodec_DeclaredSizeBeyondInputRejected(t *testing.T) {
	enc := NewEncoder(logbuf.NewBuffer(16))
	enc.Buffer().AppendByte(tagSetString)
	enc.appendUint(0)
	enc.appendUint(0)
	enc.appendInt(1 << 20) // declares a megabyte, supplies nothing
	_, err := DecodeAll(enc.Buffer().Bytes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated string")
}

func TestProperty_VarintRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("every int64 survives a varint round trip", prop.ForAll(
		func(v int64) bool {
			enc := NewEncoder(logbuf.NewBuffer(16))
			enc.appendInt(v)
			dec := NewDecoder(enc.Buffer().Bytes())
			got, err := dec.readInt()
			return err == nil && got == v && !dec.Remaining()
		},
		gen.Int64(),
	))

	properties.Property("varint encodings never exceed ten bytes", prop.ForAll(
		func(v int64) bool {
			enc := NewEncoder(logbuf.NewBuffer(16))
			enc.appendInt(v)
			return enc.Buffer().Len() <= maxIntBytes
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestProperty_StringRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("strings survive a round trip", prop.ForAll(
		func(s string) bool {
			out, err := DecodeAll(func() []byte {
				enc := NewEncoder(logbuf.NewBuffer(64))
				if err := enc.Encode(SetString{Column: 1, Row: 2, Value: s}); err != nil {
					return nil
				}
				return enc.Buffer().Bytes()
			}())
			return err == nil && len(out) == 1 && out[0].(SetString).Value == s
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
