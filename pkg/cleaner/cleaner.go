package cleaner

import (
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// DataCleaner runs the validation, normalization and resolution stages on single rows
type DataCleaner struct {
	validator  *FieldValidator
	normalizer *DateNormalizer
	resolver   *ContradictionResolver
	logger     *zap.Logger
}

// NewDataCleaner creates a new DataCleaner. Audit entries of every row are
// submitted to the recorder once the row is routed.
func NewDataCleaner(cfg *config.EngineConfig, recorder Recorder, logger *zap.Logger) (*DataCleaner, error) {
	if cfg == nil {
		return nil, errors.New("engine config cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	resolver, err := NewContradictionResolver(cfg, recorder)
	if err != nil {
		return nil, fmt.Errorf("failed to build resolver: %w", err)
	}

	return &DataCleaner{
		validator:  NewFieldValidator(cfg),
		normalizer: NewDateNormalizer(cfg),
		resolver:   resolver,
		logger:     logger,
	}, nil
}

// CleanRow takes one raw record through every stage. An error means the audit
// trail could not be recorded and the run must stop.
func (c *DataCleaner) CleanRow(raw model.RawRecord) (Outcome, error) {
	validated := c.validator.ValidateRow(raw)
	normalized := c.normalizer.NormalizeRow(validated)

	out, err := c.resolver.ResolveRow(normalized)
	if err != nil {
		return out, err
	}

	if out.Rejected != nil {
		c.logger.Debug("Row rejected",
			zap.String("rowId", out.Rejected.RowID),
			zap.Int("ordinal", out.Rejected.Ordinal),
			zap.String("reason", out.Rejected.Reason),
			zap.Error(out.Rejected.Category))
	}
	return out, nil
}

// Validate applies the field validator to every raw record, preserving order
func Validate(rows []model.RawRecord, cfg *config.EngineConfig) []model.ValidatedRecord {
	v := NewFieldValidator(cfg)
	out := make([]model.ValidatedRecord, len(rows))
	for i, row := range rows {
		out[i] = v.ValidateRow(row)
	}
	return out
}

// Normalize applies the date normalizer to every validated record, preserving order
func Normalize(rows []model.ValidatedRecord, cfg *config.EngineConfig) []model.NormalizedRecord {
	n := NewDateNormalizer(cfg)
	out := make([]model.NormalizedRecord, len(rows))
	for i, row := range rows {
		out[i] = n.NormalizeRow(row)
	}
	return out
}

// Resolve routes every normalized record to exactly one of the cleaned or rejected
// outputs. Both outputs are ordered by input position and the entries by
// (ordinal, seq); they cover every stage the records went through.
func Resolve(rows []model.NormalizedRecord, cfg *config.EngineConfig) ([]model.CleanedRecord, []model.RejectedRecord, []model.ResolutionEntry, error) {
	r, err := NewContradictionResolver(cfg, nil)
	if err != nil {
		return nil, nil, nil, err
	}

	var (
		cleaned  []model.CleanedRecord
		rejected []model.RejectedRecord
		entries  []model.ResolutionEntry
	)
	for _, row := range rows {
		out, err := r.ResolveRow(row)
		if err != nil {
			return nil, nil, nil, err
		}
		if out.Cleaned != nil {
			cleaned = append(cleaned, *out.Cleaned)
		} else {
			rejected = append(rejected, *out.Rejected)
		}
		entries = append(entries, out.Entries()...)
	}

	model.SortByOrdinal(cleaned)
	model.SortByOrdinal(rejected)
	SortEntries(entries)
	return cleaned, rejected, entries, nil
}

// SortEntries orders audit entries by row position, then submission sequence
func SortEntries(entries []model.ResolutionEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Ordinal != entries[j].Ordinal {
			return entries[i].Ordinal < entries[j].Ordinal
		}
		return entries[i].Seq < entries[j].Seq
	})
}
