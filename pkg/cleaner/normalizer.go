package cleaner

import (
	"fmt"
	"strings"
	"time"

	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// DateNormalizer converts date columns to canonical calendar dates
type DateNormalizer struct {
	cfg     *config.EngineConfig
	layouts []string
	minDate time.Time
	maxDate time.Time
}

// NewDateNormalizer creates a normalizer using the accepted formats of the engine config
func NewDateNormalizer(cfg *config.EngineConfig) *DateNormalizer {
	minDate, maxDate := cfg.DateBounds()
	return &DateNormalizer{
		cfg:     cfg,
		layouts: cfg.Layouts(),
		minDate: minDate,
		maxDate: maxDate,
	}
}

// dateParse is the outcome of matching a string against the accepted formats
type dateParse struct {
	date       time.Time
	candidates []time.Time
	outOfRange bool
}

// NormalizeRow parses every date column of a record. Canonical dates are left as
// they are, so running the normalizer twice is a no-op. INVALID records pass through.
func (n *DateNormalizer) NormalizeRow(in model.ValidatedRecord) model.NormalizedRecord {
	rec := in.Record.Clone()
	if rec.Status == model.StatusInvalid {
		return model.NormalizedRecord{Record: rec}
	}

	for _, field := range n.cfg.DateFields() {
		v := rec.Get(field)
		if v.IsMissing() || v.IsDate() {
			continue
		}
		if rec.HasFlag(field, model.FlagAmbiguousDate) || rec.HasFlag(field, model.FlagUnparseableDate) {
			continue
		}

		p := n.parse(v.Text)
		switch {
		case len(p.candidates) > 1:
			rec.AddFlag(field, model.FlagAmbiguousDate, describeCandidates(v.Text, p.candidates))
		case len(p.candidates) == 0 && p.outOfRange:
			rec.AddFlag(field, model.FlagUnparseableDate, fmt.Sprintf("%q is outside %s..%s",
				v.Text, n.minDate.Format(model.CanonicalDateLayout), n.maxDate.Format(model.CanonicalDateLayout)))
		case len(p.candidates) == 0:
			rec.AddFlag(field, model.FlagUnparseableDate, fmt.Sprintf("%q matches no accepted format", v.Text))
		default:
			normalized := model.DateValue(p.date)
			rec.Fields[field] = normalized
			if normalized.Text != v.Text {
				rec.Append(model.ResolutionEntry{
					Field:         field,
					OriginalValue: v.Text,
					ResolvedValue: normalized.Text,
					RuleID:        model.RuleDateNormalize,
					Reason:        "normalized to ISO-8601 date",
				})
			}
		}
	}

	return model.NormalizedRecord{Record: rec}
}

// parse tries every accepted layout. The string is ambiguous when two layouts
// produce different in-range dates.
func (n *DateNormalizer) parse(raw string) dateParse {
	s := strings.TrimSpace(raw)
	var p dateParse

	// Canonical form is a fixed point regardless of the configured formats
	if t, err := time.Parse(model.CanonicalDateLayout, s); err == nil {
		if n.inRange(t) {
			p.date = t
			p.candidates = []time.Time{t}
		} else {
			p.outOfRange = true
		}
		return p
	}

	for _, layout := range n.layouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		t = model.DateValue(t).Date
		if !n.inRange(t) {
			p.outOfRange = true
			continue
		}
		if !containsDate(p.candidates, t) {
			p.candidates = append(p.candidates, t)
		}
	}
	if len(p.candidates) > 0 {
		p.date = p.candidates[0]
	}
	return p
}

func (n *DateNormalizer) inRange(t time.Time) bool {
	return !t.Before(n.minDate) && !t.After(n.maxDate)
}

func containsDate(dates []time.Time, t time.Time) bool {
	for _, d := range dates {
		if d.Equal(t) {
			return true
		}
	}
	return false
}

func describeCandidates(raw string, dates []time.Time) string {
	parts := make([]string, len(dates))
	for i, d := range dates {
		parts[i] = d.Format(model.CanonicalDateLayout)
	}
	return fmt.Sprintf("%q could be %s", raw, strings.Join(parts, " or "))
}
