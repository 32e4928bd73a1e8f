// Package assembler collects routed records from the workers and builds the
// cleaned, rejects and audit tables in input order.
package assembler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/apache/arrow/go/v16/arrow"
	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"

	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/converter"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// Output column names that are not configured fields
const (
	ColRowID             = "row_id"
	ColFlags             = "flags"
	ColStartAfterRenewal = "flag_invalid_start_vs_last"
	ColOrdinal           = "ordinal"
	ColReason            = "reason"
	ColRejectReason      = "reject_reason"
	ColRejectCategory    = "reject_category"
	ColSeq               = "seq"
	ColField             = "field"
	ColOriginalValue     = "original_value"
	ColResolvedValue     = "resolved_value"
	ColRuleID            = "rule_id"
)

var (
	// ErrIncompleteBatch means not every input row reached an output
	ErrIncompleteBatch = errors.New("incomplete batch")
	// ErrDuplicateRow means a row was routed twice
	ErrDuplicateRow = errors.New("row routed twice")
)

// Tables holds the assembled outputs. Release must be called when done.
type Tables struct {
	Cleaned arrow.Record
	Rejects arrow.Record
	Audit   arrow.Record
}

// Release frees the arrow memory of every table
func (t *Tables) Release() {
	for _, r := range []arrow.Record{t.Cleaned, t.Rejects, t.Audit} {
		if r != nil {
			r.Release()
		}
	}
}

// Assembler gathers records from concurrent workers, keyed by input position
type Assembler struct {
	cfg *config.EngineConfig
	mem memory.Allocator

	mu       sync.Mutex
	cleaned  map[int]model.CleanedRecord
	rejected map[int]model.RejectedRecord
}

// New creates an assembler for the given engine config
func New(cfg *config.EngineConfig, mem memory.Allocator) *Assembler {
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &Assembler{
		cfg:      cfg,
		mem:      mem,
		cleaned:  make(map[int]model.CleanedRecord),
		rejected: make(map[int]model.RejectedRecord),
	}
}

// Add stores a cleaned record
func (a *Assembler) Add(rec model.CleanedRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen(rec.Ordinal) {
		return fmt.Errorf("%w: ordinal %d", ErrDuplicateRow, rec.Ordinal)
	}
	a.cleaned[rec.Ordinal] = rec
	return nil
}

// AddReject stores a rejected record
func (a *Assembler) AddReject(rec model.RejectedRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seen(rec.Ordinal) {
		return fmt.Errorf("%w: ordinal %d", ErrDuplicateRow, rec.Ordinal)
	}
	a.rejected[rec.Ordinal] = rec
	return nil
}

func (a *Assembler) seen(ordinal int) bool {
	_, c := a.cleaned[ordinal]
	_, r := a.rejected[ordinal]
	return c || r
}

// Counts returns how many rows have been routed to each output
func (a *Assembler) Counts() (cleaned, rejected int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.cleaned), len(a.rejected)
}

// Cleaned returns the cleaned records ordered by input position
func (a *Assembler) Cleaned() []model.CleanedRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.CleanedRecord, 0, len(a.cleaned))
	for _, r := range a.cleaned {
		out = append(out, r)
	}
	model.SortByOrdinal(out)
	return out
}

// Rejected returns the rejected records ordered by input position
func (a *Assembler) Rejected() []model.RejectedRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.RejectedRecord, 0, len(a.rejected))
	for _, r := range a.rejected {
		out = append(out, r)
	}
	model.SortByOrdinal(out)
	return out
}

// Build assembles the three tables. It refuses to build unless every one of the
// expected rows, ordinals 0..expected-1, has been routed exactly once.
func (a *Assembler) Build(expected int, entries []model.ResolutionEntry) (*Tables, error) {
	cleaned := a.Cleaned()
	rejected := a.Rejected()

	if got := len(cleaned) + len(rejected); got != expected {
		return nil, fmt.Errorf("%w: %d of %d rows routed", ErrIncompleteBatch, got, expected)
	}
	a.mu.Lock()
	for i := 0; i < expected; i++ {
		if !a.seen(i) {
			a.mu.Unlock()
			return nil, fmt.Errorf("%w: ordinal %d missing", ErrIncompleteBatch, i)
		}
	}
	a.mu.Unlock()

	sorted := append([]model.ResolutionEntry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Ordinal != sorted[j].Ordinal {
			return sorted[i].Ordinal < sorted[j].Ordinal
		}
		return sorted[i].Seq < sorted[j].Seq
	})

	tables := &Tables{}
	var err error
	if tables.Cleaned, err = a.buildCleaned(cleaned); err != nil {
		return nil, fmt.Errorf("failed to build cleaned table: %w", err)
	}
	if tables.Rejects, err = a.buildRejects(rejected); err != nil {
		tables.Release()
		return nil, fmt.Errorf("failed to build rejects table: %w", err)
	}
	if tables.Audit, err = a.buildAudit(sorted); err != nil {
		tables.Release()
		return nil, fmt.Errorf("failed to build audit table: %w", err)
	}
	return tables, nil
}

// CleanedSchema returns the schema of the cleaned output: row_id first, then
// the configured fields in declaration order, then flag columns
func CleanedSchema(cfg *config.EngineConfig) (*arrow.Schema, error) {
	fields := []arrow.Field{{Name: ColRowID, Type: arrow.BinaryTypes.String}}
	for _, f := range cfg.Fields {
		if f.Name == ColRowID {
			continue
		}
		dt, err := converter.ArrowType(f.Type)
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{Name: f.Name, Type: dt, Nullable: true})
	}
	if cfg.Policy.LastRenewalDate != "" {
		fields = append(fields, arrow.Field{Name: ColStartAfterRenewal, Type: arrow.FixedWidthTypes.Boolean})
	}
	fields = append(fields, arrow.Field{Name: ColFlags, Type: arrow.BinaryTypes.String})
	return arrow.NewSchema(fields, nil), nil
}

// RejectsSchema returns the schema of the rejects output. Field values are kept as text.
func RejectsSchema(cfg *config.EngineConfig) *arrow.Schema {
	fields := []arrow.Field{
		{Name: ColRowID, Type: arrow.BinaryTypes.String},
		{Name: ColOrdinal, Type: arrow.PrimitiveTypes.Int64},
		{Name: ColRejectReason, Type: arrow.BinaryTypes.String},
		{Name: ColRejectCategory, Type: arrow.BinaryTypes.String},
		{Name: ColFlags, Type: arrow.BinaryTypes.String},
	}
	reserved := map[string]bool{ColRowID: true, ColOrdinal: true, ColRejectReason: true, ColRejectCategory: true, ColFlags: true}
	for _, f := range cfg.Fields {
		if reserved[f.Name] {
			continue
		}
		fields = append(fields, arrow.Field{Name: f.Name, Type: arrow.BinaryTypes.String, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

// AuditSchema returns the schema of the audit output
func AuditSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: ColRowID, Type: arrow.BinaryTypes.String},
		{Name: ColOrdinal, Type: arrow.PrimitiveTypes.Int64},
		{Name: ColSeq, Type: arrow.PrimitiveTypes.Int64},
		{Name: ColField, Type: arrow.BinaryTypes.String},
		{Name: ColOriginalValue, Type: arrow.BinaryTypes.String},
		{Name: ColResolvedValue, Type: arrow.BinaryTypes.String},
		{Name: ColRuleID, Type: arrow.BinaryTypes.String},
		{Name: ColReason, Type: arrow.BinaryTypes.String},
	}, nil)
}

func (a *Assembler) buildCleaned(rows []model.CleanedRecord) (arrow.Record, error) {
	schema, err := CleanedSchema(a.cfg)
	if err != nil {
		return nil, err
	}
	b := array.NewRecordBuilder(a.mem, schema)
	defer b.Release()

	for _, rec := range rows {
		col := 0
		b.Field(col).(*array.StringBuilder).Append(rec.RowID)
		col++
		for _, f := range a.cfg.Fields {
			if f.Name == ColRowID {
				continue
			}
			if err := converter.AppendValue(b.Field(col), rec.Get(f.Name)); err != nil {
				return nil, fmt.Errorf("row %s column %s: %w", rec.RowID, f.Name, err)
			}
			col++
		}
		if a.cfg.Policy.LastRenewalDate != "" {
			b.Field(col).(*array.BooleanBuilder).Append(rec.HasFlag(a.cfg.Policy.StartDate, model.FlagStartAfterLastRenewal))
			col++
		}
		b.Field(col).(*array.StringBuilder).Append(flagCodes(rec.Flags))
	}
	return b.NewRecord(), nil
}

func (a *Assembler) buildRejects(rows []model.RejectedRecord) (arrow.Record, error) {
	schema := RejectsSchema(a.cfg)
	b := array.NewRecordBuilder(a.mem, schema)
	defer b.Release()

	for _, rec := range rows {
		b.Field(0).(*array.StringBuilder).Append(rec.RowID)
		b.Field(1).(*array.Int64Builder).Append(int64(rec.Ordinal))
		b.Field(2).(*array.StringBuilder).Append(rec.Reason)
		category := ""
		if rec.Category != nil {
			category = rec.Category.Error()
		}
		b.Field(3).(*array.StringBuilder).Append(category)
		b.Field(4).(*array.StringBuilder).Append(flagCodes(rec.Flags))
		for i := 5; i < schema.NumFields(); i++ {
			name := schema.Field(i).Name
			if err := converter.AppendValue(b.Field(i), rec.Get(name)); err != nil {
				return nil, fmt.Errorf("row %s column %s: %w", rec.RowID, name, err)
			}
		}
	}
	return b.NewRecord(), nil
}

func (a *Assembler) buildAudit(entries []model.ResolutionEntry) (arrow.Record, error) {
	b := array.NewRecordBuilder(a.mem, AuditSchema())
	defer b.Release()

	for _, e := range entries {
		b.Field(0).(*array.StringBuilder).Append(e.RowID)
		b.Field(1).(*array.Int64Builder).Append(int64(e.Ordinal))
		b.Field(2).(*array.Int64Builder).Append(int64(e.Seq))
		b.Field(3).(*array.StringBuilder).Append(e.Field)
		b.Field(4).(*array.StringBuilder).Append(e.OriginalValue)
		b.Field(5).(*array.StringBuilder).Append(e.ResolvedValue)
		b.Field(6).(*array.StringBuilder).Append(e.RuleID)
		b.Field(7).(*array.StringBuilder).Append(e.Reason)
	}
	return b.NewRecord(), nil
}

// flagCodes renders flags as field:CODE pairs separated by semicolons
func flagCodes(flags []model.Flag) string {
	parts := make([]string, len(flags))
	for i, f := range flags {
		parts[i] = f.Field + ":" + string(f.Code)
	}
	return strings.Join(parts, ";")
}
