package dataset

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v16/arrow"
	arrowcsv "github.com/apache/arrow/go/v16/arrow/csv"
	"github.com/apache/arrow/go/v16/parquet"
	"github.com/apache/arrow/go/v16/parquet/compress"
	"github.com/apache/arrow/go/v16/parquet/pqarrow"

	"github.com/David-Botos/policy-cleaner/pkg/config"
)

// Output table names
const (
	TableCleaned = "cleaned"
	TableRejects = "rejects"
	TableAudit   = "audit"
)

// WriteParquet writes a record as a Snappy compressed Parquet file
func WriteParquet(w io.Writer, rec arrow.Record) error {
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(rec.Schema(), w, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	if rec.NumRows() > 0 {
		if err := fw.Write(rec); err != nil {
			fw.Close()
			return fmt.Errorf("failed to write parquet rows: %w", err)
		}
	}

	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to finalize parquet file: %w", err)
	}
	return nil
}

// WriteCSV writes a record as comma separated text with a header. Nulls are empty cells.
func WriteCSV(w io.Writer, rec arrow.Record) error {
	cw := arrowcsv.NewWriter(w, rec.Schema(),
		arrowcsv.WithComma(','),
		arrowcsv.WithHeader(true),
		arrowcsv.WithNullWriter(""),
	)
	if err := cw.Write(rec); err != nil {
		return fmt.Errorf("failed to write csv rows: %w", err)
	}
	if err := cw.Flush(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// WriterFor returns the table writer and file extension of an output format
func WriterFor(format string) (func(io.Writer, arrow.Record) error, string, error) {
	switch format {
	case config.FormatParquet:
		return WriteParquet, ".parquet", nil
	case config.FormatCSV:
		return WriteCSV, ".csv", nil
	default:
		return nil, "", fmt.Errorf("unsupported output format: %s", format)
	}
}

type stagedFile struct {
	tmp   string
	final string
}

// Publisher stages output files next to their destinations and renames them
// into place together, so readers never observe a partial run
type Publisher struct {
	dir    string
	staged []stagedFile
}

// NewPublisher creates a publisher writing into dir
func NewPublisher(dir string) (*Publisher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	return &Publisher{dir: dir}, nil
}

// Stage writes one file to a temporary name in the output directory
func (p *Publisher) Stage(name string, write func(io.Writer) error) (err error) {
	final := filepath.Join(p.dir, name)
	tmp, err := os.CreateTemp(p.dir, "."+name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create staging file for %s: %w", name, err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = write(bw); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", name, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	p.staged = append(p.staged, stagedFile{tmp: tmp.Name(), final: final})
	return nil
}

// Commit renames every staged file to its final name. Files a previous run
// published are set aside first; when a rename fails the files already
// renamed are taken back and the previous outputs restored.
func (p *Publisher) Commit() error {
	type published struct {
		final  string
		backup string
	}
	var done []published

	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			os.Remove(done[i].final)
			if done[i].backup != "" {
				os.Rename(done[i].backup, done[i].final)
			}
		}
	}

	for i, s := range p.staged {
		pub := published{final: s.final}
		if _, err := os.Lstat(s.final); err == nil {
			pub.backup = s.tmp + ".prev"
			if err := os.Rename(s.final, pub.backup); err != nil {
				p.abortFrom(i)
				rollback()
				return fmt.Errorf("failed to set aside %s: %w", s.final, err)
			}
		}
		if err := os.Rename(s.tmp, s.final); err != nil {
			if pub.backup != "" {
				os.Rename(pub.backup, s.final)
			}
			p.abortFrom(i)
			rollback()
			return fmt.Errorf("failed to publish %s: %w", s.final, err)
		}
		done = append(done, pub)
	}

	for _, pub := range done {
		if pub.backup != "" {
			os.Remove(pub.backup)
		}
	}
	p.staged = nil
	return nil
}

// abortFrom drops the staged files that were not published yet
func (p *Publisher) abortFrom(i int) {
	for _, rest := range p.staged[i:] {
		os.Remove(rest.tmp)
	}
	p.staged = nil
}

// Abort removes every staged file
func (p *Publisher) Abort() {
	for _, s := range p.staged {
		os.Remove(s.tmp)
	}
	p.staged = nil
}

// Paths returns the final paths of the staged files
func (p *Publisher) Paths() []string {
	out := make([]string, len(p.staged))
	for i, s := range p.staged {
		out[i] = s.final
	}
	return out
}
