package model

import (
	"errors"
	"fmt"
)

// Rule identifiers recorded in the audit trail
const (
	RuleFillNotProvided     = "fill_not_provided"
	RuleFillDefault         = "fill_default"
	RuleReplaceValue        = "replace_value"
	RuleCoerceStatus        = "coerce_status"
	RuleRowIDGenerated      = "row_id_generated"
	RuleDateNormalize       = "date_normalize"
	RuleClearUnusableDate   = "clear_unusable_date"
	RuleSwapStartEnd        = "swap_start_end"
	RuleLapseRequiresDate   = "lapse_requires_date"
	RuleLapseDateOutOfRange = "lapse_date_out_of_range"
	RuleActiveHasLapseDate  = "active_has_lapse_date"
	RuleRenewalAfterLapse   = "renewal_after_lapse"
	RuleReject              = "reject"
)

// RowField is the pseudo column used by entries that concern the whole row
const RowField = "_row"

// ResolutionEntry is one immutable audit item describing a single field mutation
type ResolutionEntry struct {
	RowID         string `json:"row_id" db:"row_id"`                 // Identifier of the row the entry belongs to
	Ordinal       int    `json:"ordinal" db:"ordinal"`               // Input position of the row
	Seq           int    `json:"seq" db:"seq"`                       // Submission sequence within the row
	Field         string `json:"field" db:"field"`                   // Column(s) that changed, comma separated for swaps
	OriginalValue string `json:"original_value" db:"original_value"` // Value before the mutation
	ResolvedValue string `json:"resolved_value" db:"resolved_value"` // Value after the mutation
	RuleID        string `json:"rule_id" db:"rule_id"`               // Rule that produced the mutation
	Reason        string `json:"reason" db:"reason"`                 // Why the rule fired
}

// String returns a compact one-line rendering
func (e ResolutionEntry) String() string {
	return fmt.Sprintf("row=%s seq=%d field=%s %q -> %q [%s] %s",
		e.RowID, e.Seq, e.Field, e.OriginalValue, e.ResolvedValue, e.RuleID, e.Reason)
}

// Error taxonomy. Per-row errors isolate the row; ErrAuditSinkUnavailable aborts the run.
var (
	ErrInvalidSchema           = errors.New("invalid schema")
	ErrAmbiguousDate           = errors.New("ambiguous date")
	ErrUnparseableDate         = errors.New("unparseable date")
	ErrContradictionUnresolved = errors.New("contradiction unresolved")
	ErrAuditSinkUnavailable    = errors.New("audit sink unavailable")
)
