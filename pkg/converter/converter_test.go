package converter

import (
	"testing"
	"time"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

func TestToInt(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   any
		want int64
	}{
		{"42", 42},
		{" 7 ", 7},
		{"3.0", 3},
		{int32(-5), -5},
		{float64(9), 9},
		{[]byte("12"), 12},
	}
	for _, tc := range cases {
		got, err := ToInt(tc.in)
		require.NoError(t, err, "%v", tc.in)
		assert.Equal(t, tc.want, got)
	}

	for _, in := range []any{nil, "", "3.5", "abc", 2.5, true} {
		_, err := ToInt(in)
		assert.Error(t, err, "%v", in)
	}
}

func TestToFloat(t *testing.T) {
	t.Parallel()

	got, err := ToFloat("4,25")
	require.NoError(t, err)
	assert.InDelta(t, 4.25, got, 1e-9)

	got, err = ToFloat(int64(3))
	require.NoError(t, err)
	assert.InDelta(t, 3.0, got, 1e-9)

	_, err = ToFloat("1,000.5x")
	assert.Error(t, err)
	_, err = ToFloat("  ")
	assert.Error(t, err)
}

func TestToBool(t *testing.T) {
	t.Parallel()

	for _, in := range []any{"yes", "T", "1", true, 3} {
		got, err := ToBool(in)
		require.NoError(t, err, "%v", in)
		assert.True(t, got, "%v", in)
	}
	for _, in := range []any{"no", "F", "0", false, 0} {
		got, err := ToBool(in)
		require.NoError(t, err, "%v", in)
		assert.False(t, got, "%v", in)
	}

	_, err := ToBool("maybe")
	assert.Error(t, err)
}

func TestToString_IsBlank(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", ToString(nil))
	assert.Equal(t, "0.1", ToString(0.1))
	assert.Equal(t, "17", ToString(17))
	assert.Equal(t, "2023-01-02T00:00:00Z", ToString(time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)))

	assert.True(t, IsBlank(nil))
	assert.True(t, IsBlank("   "))
	assert.True(t, IsBlank([]byte{}))
	assert.False(t, IsBlank(0))
	assert.False(t, IsBlank("x"))
}

func TestArrowType(t *testing.T) {
	t.Parallel()

	cases := map[config.FieldType]arrow.DataType{
		config.TypeString: arrow.BinaryTypes.String,
		config.TypeStatus: arrow.BinaryTypes.String,
		config.TypeInt:    arrow.PrimitiveTypes.Int64,
		config.TypeFloat:  arrow.PrimitiveTypes.Float64,
		config.TypeBool:   arrow.FixedWidthTypes.Boolean,
		config.TypeDate:   arrow.FixedWidthTypes.Date32,
	}
	for ft, want := range cases {
		got, err := ArrowType(ft)
		require.NoError(t, err)
		assert.True(t, arrow.TypeEqual(want, got), ft)
	}

	got, err := ArrowType("uuid")
	require.Error(t, err)
	assert.True(t, arrow.TypeEqual(arrow.BinaryTypes.String, got))
}

func TestAppendValue_FromArrow(t *testing.T) {
	t.Parallel()
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	t.Run("Should round trip dates and keep absent values null", func(t *testing.T) {
		b := array.NewDate32Builder(mem)
		defer b.Release()

		day := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, AppendValue(b, model.DateValue(day)))
		require.NoError(t, AppendValue(b, model.Absent()))

		arr := b.NewArray()
		defer arr.Release()

		v, ok := FromArrow(arr, 0)
		require.True(t, ok)
		assert.Equal(t, "2023-06-01", v)

		_, ok = FromArrow(arr, 1)
		assert.False(t, ok)
	})

	t.Run("Should widen ints into float columns", func(t *testing.T) {
		b := array.NewFloat64Builder(mem)
		defer b.Release()

		require.NoError(t, AppendValue(b, model.IntValue(4)))
		arr := b.NewArray()
		defer arr.Release()

		v, ok := FromArrow(arr, 0)
		require.True(t, ok)
		assert.Equal(t, 4.0, v)
	})

	t.Run("Should refuse a mistyped value", func(t *testing.T) {
		b := array.NewInt64Builder(mem)
		defer b.Release()

		err := AppendValue(b, model.StringValue("seven"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "int64 column")
	})
}
