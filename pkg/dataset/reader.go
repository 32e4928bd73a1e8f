// Package dataset reads the staged input file and publishes the output tables
package dataset

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"

	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/converter"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// ReaderOptions controls how the input file is parsed
type ReaderOptions struct {
	Format     string // csv or parquet
	Delimiter  rune   // CSV field separator
	NullTokens []string
}

// RowFunc receives each input row in file order
type RowFunc func(model.RawRecord) error

// ForEachRecord streams the rows of the input file to fn and returns how many
// rows were read. Missing trailing CSV cells and null tokens become absent values.
func ForEachRecord(ctx context.Context, path string, opts ReaderOptions, fn RowFunc) (int, error) {
	switch opts.Format {
	case config.FormatCSV:
		return readCSV(ctx, path, opts, fn)
	case config.FormatParquet:
		return readParquet(ctx, path, fn)
	default:
		return 0, fmt.Errorf("unsupported input format: %s", opts.Format)
	}
}

// ReadRecords loads every row of the input file
func ReadRecords(ctx context.Context, path string, opts ReaderOptions) ([]model.RawRecord, error) {
	var rows []model.RawRecord
	_, err := ForEachRecord(ctx, path, opts, func(r model.RawRecord) error {
		rows = append(rows, r)
		return nil
	})
	return rows, err
}

func readCSV(ctx context.Context, path string, opts ReaderOptions, fn RowFunc) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	if opts.Delimiter != 0 {
		r.Comma = opts.Delimiter
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, fmt.Errorf("%w: input file has no header", model.ErrInvalidSchema)
		}
		return 0, fmt.Errorf("failed to read header: %w", err)
	}
	columns, err := headerColumns(header)
	if err != nil {
		return 0, err
	}

	nulls := make(map[string]bool, len(opts.NullTokens))
	for _, tok := range opts.NullTokens {
		nulls[tok] = true
	}

	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to read row %d: %w", count, err)
		}

		values := make(map[string]any, len(columns))
		for i, name := range columns {
			if i >= len(rec) {
				break
			}
			if nulls[strings.TrimSpace(rec[i])] {
				values[name] = nil
				continue
			}
			values[name] = rec[i]
		}

		if err := fn(model.RawRecord{Ordinal: count, Values: values}); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// headerColumns cleans the header row and rejects duplicate names
func headerColumns(header []string) ([]string, error) {
	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate column %q", model.ErrInvalidSchema, name)
		}
		seen[name] = true
		columns[i] = name
	}
	return columns, nil
}

func readParquet(ctx context.Context, path string, fn RowFunc) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	tbl, err := pqarrow.ReadTable(ctx, f, parquet.NewReaderProperties(memory.DefaultAllocator),
		pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return 0, fmt.Errorf("failed to read parquet file: %w", err)
	}
	defer tbl.Release()

	tr := array.NewTableReader(tbl, 4096)
	defer tr.Release()

	schema := tbl.Schema()
	count := 0
	for tr.Next() {
		rec := tr.Record()
		for i := 0; i < int(rec.NumRows()); i++ {
			if err := ctx.Err(); err != nil {
				return count, err
			}
			values := make(map[string]any, int(rec.NumCols()))
			for c := 0; c < int(rec.NumCols()); c++ {
				v, ok := converter.FromArrow(rec.Column(c), i)
				if !ok {
					values[schema.Field(c).Name] = nil
					continue
				}
				values[schema.Field(c).Name] = v
			}
			if err := fn(model.RawRecord{Ordinal: count, Values: values}); err != nil {
				return count, err
			}
			count++
		}
	}
	return count, nil
}
