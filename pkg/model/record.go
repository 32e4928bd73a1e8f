package model

import (
	"sort"
	"strings"
)

// LapseStatus is the enumerated policy lapse state
type LapseStatus string

const (
	StatusActive    LapseStatus = "ACTIVE"
	StatusLapsed    LapseStatus = "LAPSED"
	StatusCancelled LapseStatus = "CANCELLED"
	StatusUnknown   LapseStatus = "UNKNOWN"
)

// ParseLapseStatus matches a canonical status name case-insensitively
func ParseLapseStatus(s string) (LapseStatus, bool) {
	switch LapseStatus(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, true
	case StatusLapsed:
		return StatusLapsed, true
	case StatusCancelled:
		return StatusCancelled, true
	case StatusUnknown:
		return StatusUnknown, true
	}
	return "", false
}

// FlagCode classifies a per-field condition attached to a record
type FlagCode string

const (
	FlagInvalid               FlagCode = "INVALID"
	FlagAmbiguousDate         FlagCode = "AMBIGUOUS_DATE"
	FlagUnparseableDate       FlagCode = "UNPARSEABLE_DATE"
	FlagStartAfterLastRenewal FlagCode = "START_AFTER_LAST_RENEWAL"
)

// Flag marks a field with a condition found by one of the stages
type Flag struct {
	Field  string   // Column the flag applies to
	Code   FlagCode // Condition found
	Detail string   // Human readable detail
}

// RecordStatus is the lifecycle state of a record
type RecordStatus string

const (
	StatusOK       RecordStatus = "OK"
	StatusInvalid  RecordStatus = "INVALID"
	StatusRejected RecordStatus = "REJECTED"
)

// RawRecord is one input row as read from the source file. A missing key means
// the column was absent.
type RawRecord struct {
	Ordinal int
	Values  map[string]any
}

// Record is the shape shared by every stage after validation
type Record struct {
	RowID   string
	Ordinal int
	Fields  map[string]Value
	Flags   []Flag
	Status  RecordStatus
	Reason  string
	Entries []ResolutionEntry
}

// Get returns the value of a field, Absent when the field is unknown
func (r *Record) Get(field string) Value {
	if v, ok := r.Fields[field]; ok {
		return v
	}
	return Absent()
}

// HasFlag reports whether the field carries the given flag code
func (r *Record) HasFlag(field string, code FlagCode) bool {
	for _, f := range r.Flags {
		if f.Field == field && f.Code == code {
			return true
		}
	}
	return false
}

// FlagFor returns the first flag attached to a field
func (r *Record) FlagFor(field string) (Flag, bool) {
	for _, f := range r.Flags {
		if f.Field == field {
			return f, true
		}
	}
	return Flag{}, false
}

// AddFlag attaches a flag to the record
func (r *Record) AddFlag(field string, code FlagCode, detail string) {
	r.Flags = append(r.Flags, Flag{Field: field, Code: code, Detail: detail})
}

// Append adds an audit entry, stamping row identity and per-row sequence
func (r *Record) Append(e ResolutionEntry) {
	e.RowID = r.RowID
	e.Ordinal = r.Ordinal
	e.Seq = len(r.Entries)
	r.Entries = append(r.Entries, e)
}

// Clone returns a deep copy so later stages never mutate their input
func (r Record) Clone() Record {
	out := r
	out.Fields = make(map[string]Value, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	out.Flags = append([]Flag(nil), r.Flags...)
	out.Entries = append([]ResolutionEntry(nil), r.Entries...)
	return out
}

// ValidatedRecord is the output of the field validator
type ValidatedRecord struct {
	Record
}

// NormalizedRecord is the output of the date normalizer
type NormalizedRecord struct {
	Record
}

// CleanedRecord satisfies every policy invariant
type CleanedRecord struct {
	Record
}

// RejectedRecord could not be validated or resolved
type RejectedRecord struct {
	Record
	Category error // One of the sentinel errors in this package
}

// SortByOrdinal orders any record slice by input position
func SortByOrdinal[T interface{ ordinal() int }](rows []T) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].ordinal() < rows[j].ordinal() })
}

func (r Record) ordinal() int { return r.Ordinal }
