package dataset

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
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

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadRecords_CSV(t *testing.T) {
	t.Parallel()

	opts := ReaderOptions{Format: config.FormatCSV, Delimiter: ';', NullTokens: []string{"NA"}}

	t.Run("Should distinguish absent, null token and empty cells", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, "in.csv", "\ufeffID;Date_start;Lapse;Date_lapse\n"+
			"1;01/02/2019;0;\n"+
			"2;NA;1\n")

		rows, err := ReadRecords(t.Context(), path, opts)
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.Equal(t, 0, rows[0].Ordinal)
		assert.Equal(t, "1", rows[0].Values["ID"])
		assert.Equal(t, "", rows[0].Values["Date_lapse"])

		assert.Equal(t, 1, rows[1].Ordinal)
		v, ok := rows[1].Values["Date_start"]
		assert.True(t, ok)
		assert.Nil(t, v)
		_, ok = rows[1].Values["Date_lapse"]
		assert.False(t, ok)
	})

	t.Run("Should reject duplicate header names", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, "dup.csv", "a;a\n1;2\n")

		_, err := ReadRecords(t.Context(), path, opts)
		assert.ErrorIs(t, err, model.ErrInvalidSchema)
	})

	t.Run("Should stop when the callback fails", func(t *testing.T) {
		t.Parallel()
		path := writeFile(t, "in.csv", "a\n1\n2\n3\n")
		stop := errors.New("stop")

		n, err := ForEachRecord(t.Context(), path, opts, func(r model.RawRecord) error {
			if r.Ordinal == 1 {
				return stop
			}
			return nil
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, n)
	})
}

func buildRecord(t *testing.T) arrow.Record {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "policy_id", Type: arrow.BinaryTypes.String},
		{Name: "start", Type: arrow.FixedWidthTypes.Date32, Nullable: true},
		{Name: "premium", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	b.Field(0).(*array.StringBuilder).AppendValues([]string{"P1", "P2"}, nil)
	b.Field(1).(*array.Date32Builder).Append(arrow.Date32FromTime(mustDate(t, "2023-04-05")))
	b.Field(1).AppendNull()
	b.Field(2).(*array.Float64Builder).Append(12.5)
	b.Field(2).AppendNull()
	return b.NewRecord()
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(model.CanonicalDateLayout, s)
	require.NoError(t, err)
	return d
}

func TestParquetRoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("Should read back written rows with nulls as absent", func(t *testing.T) {
		t.Parallel()
		rec := buildRecord(t)
		defer rec.Release()

		var buf bytes.Buffer
		require.NoError(t, WriteParquet(&buf, rec))
		path := writeFile(t, "in.parquet", buf.String())

		rows, err := ReadRecords(t.Context(), path, ReaderOptions{Format: config.FormatParquet})
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.Equal(t, "P1", rows[0].Values["policy_id"])
		assert.Equal(t, "2023-04-05", rows[0].Values["start"])
		assert.Equal(t, 12.5, rows[0].Values["premium"])
		assert.Nil(t, rows[1].Values["start"])
		assert.Nil(t, rows[1].Values["premium"])
	})

	t.Run("Should write a schema-only file for an empty table", func(t *testing.T) {
		t.Parallel()
		schema := arrow.NewSchema([]arrow.Field{{Name: "row_id", Type: arrow.BinaryTypes.String}}, nil)
		b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
		defer b.Release()
		rec := b.NewRecord()
		defer rec.Release()

		var buf bytes.Buffer
		require.NoError(t, WriteParquet(&buf, rec))
		path := writeFile(t, "empty.parquet", buf.String())

		rows, err := ReadRecords(t.Context(), path, ReaderOptions{Format: config.FormatParquet})
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestWriteCSV(t *testing.T) {
	t.Parallel()
	rec := buildRecord(t)
	defer rec.Release()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rec))

	assert.Equal(t, "policy_id,start,premium\nP1,2023-04-05,12.5\nP2,,\n", buf.String())
}

func TestPublisher(t *testing.T) {
	t.Parallel()

	write := func(s string) func(io.Writer) error {
		return func(w io.Writer) error {
			_, err := io.WriteString(w, s)
			return err
		}
	}

	t.Run("Should only expose files after commit", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		p, err := NewPublisher(dir)
		require.NoError(t, err)

		require.NoError(t, p.Stage("cleaned.csv", write("a")))
		require.NoError(t, p.Stage("rejects.csv", write("b")))
		assert.NoFileExists(t, filepath.Join(dir, "cleaned.csv"))

		require.NoError(t, p.Commit())
		data, err := os.ReadFile(filepath.Join(dir, "rejects.csv"))
		require.NoError(t, err)
		assert.Equal(t, "b", string(data))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 2)
	})

	t.Run("Should restore earlier outputs when a rename fails", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		cleaned := filepath.Join(dir, "cleaned.csv")
		require.NoError(t, os.WriteFile(cleaned, []byte("old"), 0o644))

		p, err := NewPublisher(dir)
		require.NoError(t, err)
		require.NoError(t, p.Stage("cleaned.csv", write("new")))
		require.NoError(t, p.Stage("rejects.csv", write("b")))
		require.Len(t, p.staged, 2)
		require.NoError(t, os.Remove(p.staged[1].tmp))

		err = p.Commit()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rejects.csv")

		data, err := os.ReadFile(cleaned)
		require.NoError(t, err)
		assert.Equal(t, "old", string(data))
		assert.NoFileExists(t, filepath.Join(dir, "rejects.csv"))

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Should remove new outputs when a rename fails", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		p, err := NewPublisher(dir)
		require.NoError(t, err)
		require.NoError(t, p.Stage("cleaned.csv", write("a")))
		require.NoError(t, p.Stage("rejects.csv", write("b")))
		require.NoError(t, os.Remove(p.staged[1].tmp))

		require.Error(t, p.Commit())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("Should replace earlier outputs on commit", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		cleaned := filepath.Join(dir, "cleaned.csv")
		require.NoError(t, os.WriteFile(cleaned, []byte("old"), 0o644))

		p, err := NewPublisher(dir)
		require.NoError(t, err)
		require.NoError(t, p.Stage("cleaned.csv", write("new")))
		require.NoError(t, p.Commit())

		data, err := os.ReadFile(cleaned)
		require.NoError(t, err)
		assert.Equal(t, "new", string(data))
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("Should leave nothing behind on abort", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		p, err := NewPublisher(dir)
		require.NoError(t, err)

		require.NoError(t, p.Stage("cleaned.csv", write("a")))
		err = p.Stage("rejects.csv", func(io.Writer) error { return errors.New("boom") })
		require.Error(t, err)
		p.Abort()

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
