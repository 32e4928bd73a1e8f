package model

import (
	"strconv"
	"time"
)

// NotProvided is the sentinel rendered for optional fields that were absent in the source
const NotProvided = "<not provided>"

// CanonicalDateLayout is the single date representation used in cleaned output
const CanonicalDateLayout = "2006-01-02"

// Kind identifies what a Value holds
type Kind int

const (
	// KindAbsent means the column was not present in the source row
	KindAbsent Kind = iota
	// KindNull means the column was present but empty, or cleared by a rule
	KindNull
	KindString
	KindInt
	KindFloat
	KindBool
	KindDate
	KindStatus
)

// String returns a string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindDate:
		return "date"
	case KindStatus:
		return "status"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a single typed field value. Only the member matching Kind is meaningful,
// except Text which always carries the textual form (the original string for
// date columns that could not be parsed).
type Value struct {
	Kind   Kind
	Text   string
	Int    int64
	Float  float64
	Bool   bool
	Date   time.Time
	Status LapseStatus
}

// Absent returns the sentinel value for a field that was not provided
func Absent() Value { return Value{Kind: KindAbsent} }

// Null returns a present-but-empty value
func Null() Value { return Value{Kind: KindNull} }

// StringValue wraps a string
func StringValue(s string) Value { return Value{Kind: KindString, Text: s} }

// IntValue wraps an integer
func IntValue(i int64) Value {
	return Value{Kind: KindInt, Int: i, Text: strconv.FormatInt(i, 10)}
}

// FloatValue wraps a float
func FloatValue(f float64) Value {
	return Value{Kind: KindFloat, Float: f, Text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// BoolValue wraps a boolean
func BoolValue(b bool) Value {
	return Value{Kind: KindBool, Bool: b, Text: strconv.FormatBool(b)}
}

// DateValue wraps a calendar date, dropping any time-of-day component
func DateValue(t time.Time) Value {
	d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Value{Kind: KindDate, Date: d, Text: d.Format(CanonicalDateLayout)}
}

// StatusValue wraps a lapse status
func StatusValue(s LapseStatus) Value {
	return Value{Kind: KindStatus, Status: s, Text: string(s)}
}

// IsMissing reports whether the value is absent or null
func (v Value) IsMissing() bool {
	return v.Kind == KindAbsent || v.Kind == KindNull
}

// IsDate reports whether the value holds a canonical date
func (v Value) IsDate() bool {
	return v.Kind == KindDate
}

// String renders the value the way it appears in the audit trail
func (v Value) String() string {
	switch v.Kind {
	case KindAbsent:
		return NotProvided
	case KindNull:
		return ""
	default:
		return v.Text
	}
}

// Equal reports whether two values are identical in kind and content
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindAbsent, KindNull:
		return true
	case KindDate:
		return v.Date.Equal(o.Date)
	default:
		return v.Text == o.Text
	}
}
