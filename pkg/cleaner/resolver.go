package cleaner

import (
	"fmt"

	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// Recorder receives the audit entries of each finished row
type Recorder interface {
	Submit(entries []model.ResolutionEntry) error
}

// Outcome is the routing decision for one record. Exactly one side is set.
type Outcome struct {
	Cleaned  *model.CleanedRecord
	Rejected *model.RejectedRecord
}

// Entries returns the audit trail of the routed record
func (o Outcome) Entries() []model.ResolutionEntry {
	if o.Cleaned != nil {
		return o.Cleaned.Entries
	}
	if o.Rejected != nil {
		return o.Rejected.Entries
	}
	return nil
}

// activeRule pairs a rule with its configuration
type activeRule struct {
	rule
	cfg config.RuleConfig
}

// ContradictionResolver enforces the policy invariants by applying the
// configured rules in priority order until the record is consistent or rejected
type ContradictionResolver struct {
	cfg      *config.EngineConfig
	rules    []activeRule
	recorder Recorder
}

// NewContradictionResolver builds a resolver from the enabled rules of the config.
// The recorder may be nil, in which case entries are only carried on the records.
func NewContradictionResolver(cfg *config.EngineConfig, recorder Recorder) (*ContradictionResolver, error) {
	r := &ContradictionResolver{cfg: cfg, recorder: recorder}
	for _, rc := range cfg.ActiveRules() {
		impl, ok := ruleTable[rc.ID]
		if !ok {
			return nil, fmt.Errorf("unknown resolution rule %q", rc.ID)
		}
		r.rules = append(r.rules, activeRule{rule: impl, cfg: rc})
	}
	return r, nil
}

// ResolveRow resolves a single record and submits its audit entries to the recorder.
// The only error is a recorder failure, which must abort the run.
func (r *ContradictionResolver) ResolveRow(in model.NormalizedRecord) (Outcome, error) {
	out := r.resolve(in.Record.Clone())
	if r.recorder != nil {
		if entries := out.Entries(); len(entries) > 0 {
			if err := r.recorder.Submit(entries); err != nil {
				return out, fmt.Errorf("failed to record audit entries for row %s: %w", in.RowID, err)
			}
		}
	}
	return out, nil
}

// resolve runs the fixpoint loop on a private copy of the record
func (r *ContradictionResolver) resolve(rec model.Record) Outcome {
	if rec.Status == model.StatusInvalid {
		return r.reject(rec, rec.Reason, "schema validation failed: "+rec.Reason, model.ErrInvalidSchema)
	}

	view := &policyView{rec: &rec, cfg: r.cfg}
	fired := make(map[string]bool)

	for {
		v, broken := view.firstViolation()
		if !broken {
			break
		}

		next, ok := r.nextRule(view, v, fired)
		if !ok {
			return r.reject(rec, v.invariant, "unresolved "+v.invariant+": "+v.detail, categoryFor(&rec, v))
		}

		fired[next.id+"|"+v.field] = true
		res := next.apply(view, v, next.cfg)
		rec.Append(res.entry)
		if res.reject {
			return r.reject(rec, next.id, res.entry.Reason, model.ErrContradictionUnresolved)
		}
	}

	r.flagStartAfterRenewal(view)
	return Outcome{Cleaned: &model.CleanedRecord{Record: rec}}
}

// nextRule picks the highest priority rule addressing the violation that has not
// fired for it yet and whose precondition holds
func (r *ContradictionResolver) nextRule(view *policyView, v violation, fired map[string]bool) (activeRule, bool) {
	for _, ar := range r.rules {
		if ar.invariant != v.invariant || fired[ar.id+"|"+v.field] {
			continue
		}
		if ar.applies(view, v) {
			return ar, true
		}
	}
	return activeRule{}, false
}

// reject marks the record REJECTED and appends the terminal row entry
func (r *ContradictionResolver) reject(rec model.Record, reason, detail string, category error) Outcome {
	rec.Status = model.StatusRejected
	rec.Reason = reason
	rec.Append(model.ResolutionEntry{
		Field:         model.RowField,
		OriginalValue: "",
		ResolvedValue: "",
		RuleID:        model.RuleReject,
		Reason:        detail,
	})
	return Outcome{Rejected: &model.RejectedRecord{Record: rec, Category: category}}
}

// flagStartAfterRenewal marks records whose contract starts after the last renewal.
// The condition is reported, not repaired.
func (r *ContradictionResolver) flagStartAfterRenewal(view *policyView) {
	start, hasStart := view.start()
	renewal, hasRenewal := view.renewal()
	if hasStart && hasRenewal && start.After(renewal) {
		view.rec.AddFlag(r.cfg.Policy.StartDate, model.FlagStartAfterLastRenewal,
			fmt.Sprintf("start %s after last renewal %s", isoDate(start), isoDate(renewal)))
	}
}

// categoryFor maps an unresolved violation to the error taxonomy
func categoryFor(rec *model.Record, v violation) error {
	if v.invariant != InvDatesUsable {
		return model.ErrContradictionUnresolved
	}
	if rec.HasFlag(v.field, model.FlagAmbiguousDate) {
		return model.ErrAmbiguousDate
	}
	return model.ErrUnparseableDate
}

// BrokenInvariant returns the first policy invariant the record violates, or
// an empty string when the record is consistent
func BrokenInvariant(rec model.Record, cfg *config.EngineConfig) string {
	view := &policyView{rec: &rec, cfg: cfg}
	if v, ok := view.firstViolation(); ok {
		return v.invariant
	}
	return ""
}
