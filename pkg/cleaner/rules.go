package cleaner

import (
	"fmt"
	"time"

	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// Invariant names, checked in this order
const (
	InvStartBeforeEnd          = "start_before_end"
	InvLapsedRequiresLapseDate = "lapsed_requires_lapse_date"
	InvLapseDateWithinContract = "lapse_date_within_contract"
	InvActiveExcludesLapseDate = "active_excludes_lapse_date"
	InvRenewalNotAfterLapse    = "renewal_not_after_lapse"
	InvDatesUsable             = "dates_usable"
)

// violation identifies a broken invariant, and the column when it is column specific
type violation struct {
	invariant string
	field     string
	detail    string
}

// outcome is the result of applying one rule
type outcome struct {
	entry  model.ResolutionEntry
	reject bool
}

// rule is one entry of the resolution table
type rule struct {
	id        string
	invariant string
	applies   func(p *policyView, v violation) bool
	apply     func(p *policyView, v violation, rc config.RuleConfig) outcome
}

// policyView gives the resolver typed access to the policy roles of a record
type policyView struct {
	rec *model.Record
	cfg *config.EngineConfig
}

func (p *policyView) date(field string) (time.Time, bool) {
	if field == "" {
		return time.Time{}, false
	}
	v := p.rec.Get(field)
	if !v.IsDate() {
		return time.Time{}, false
	}
	return v.Date, true
}

func (p *policyView) start() (time.Time, bool)   { return p.date(p.cfg.Policy.StartDate) }
func (p *policyView) end() (time.Time, bool)     { return p.date(p.cfg.Policy.EndDate) }
func (p *policyView) lapse() (time.Time, bool)   { return p.date(p.cfg.Policy.LapseDate) }
func (p *policyView) renewal() (time.Time, bool) { return p.date(p.cfg.Policy.LastRenewalDate) }

func (p *policyView) status() model.LapseStatus {
	v := p.rec.Get(p.cfg.Policy.Status)
	if v.Kind != model.KindStatus {
		return model.StatusUnknown
	}
	return v.Status
}

func (p *policyView) set(field string, v model.Value) {
	p.rec.Fields[field] = v
}

// firstViolation returns the first broken invariant in check order
func (p *policyView) firstViolation() (violation, bool) {
	start, hasStart := p.start()
	end, hasEnd := p.end()
	lapse, hasLapse := p.lapse()
	status := p.status()

	if hasStart && hasEnd && start.After(end) {
		return violation{
			invariant: InvStartBeforeEnd,
			field:     p.cfg.Policy.StartDate + "," + p.cfg.Policy.EndDate,
			detail:    fmt.Sprintf("start %s after end %s", isoDate(start), isoDate(end)),
		}, true
	}

	if status == model.StatusLapsed && p.rec.Get(p.cfg.Policy.LapseDate).IsMissing() {
		return violation{
			invariant: InvLapsedRequiresLapseDate,
			field:     p.cfg.Policy.Status,
			detail:    "status LAPSED without a lapse date",
		}, true
	}

	if status == model.StatusLapsed && hasLapse {
		if hasStart && lapse.Before(start) {
			return violation{
				invariant: InvLapseDateWithinContract,
				field:     p.cfg.Policy.LapseDate,
				detail:    fmt.Sprintf("lapse date %s before contract start %s", isoDate(lapse), isoDate(start)),
			}, true
		}
		if hasEnd && lapse.After(end) {
			return violation{
				invariant: InvLapseDateWithinContract,
				field:     p.cfg.Policy.LapseDate,
				detail:    fmt.Sprintf("lapse date %s after contract end %s", isoDate(lapse), isoDate(end)),
			}, true
		}
	}

	if status == model.StatusActive && !p.rec.Get(p.cfg.Policy.LapseDate).IsMissing() {
		return violation{
			invariant: InvActiveExcludesLapseDate,
			field:     p.cfg.Policy.LapseDate,
			detail:    "status ACTIVE with a lapse date",
		}, true
	}

	if renewal, ok := p.renewal(); ok && hasLapse &&
		(status == model.StatusLapsed || status == model.StatusCancelled) && renewal.After(lapse) {
		return violation{
			invariant: InvRenewalNotAfterLapse,
			field:     p.cfg.Policy.LastRenewalDate,
			detail:    fmt.Sprintf("last renewal %s after lapse %s", isoDate(renewal), isoDate(lapse)),
		}, true
	}

	// A date column still holding text after normalization is unusable
	for _, field := range p.cfg.DateFields() {
		v := p.rec.Get(field)
		if v.IsMissing() || v.IsDate() {
			continue
		}
		detail := fmt.Sprintf("%s: %q", field, v.Text)
		if flag, ok := p.rec.FlagFor(field); ok {
			detail = fmt.Sprintf("%s %s: %s", field, flag.Code, flag.Detail)
		}
		return violation{invariant: InvDatesUsable, field: field, detail: detail}, true
	}

	return violation{}, false
}

// neededBy reports whether an invariant cannot be decided without the value of
// a date column. Unusable columns that no invariant needs are cleared instead
// of rejecting the row.
func (p *policyView) neededBy(field string) bool {
	status := p.status()
	closed := status == model.StatusLapsed || status == model.StatusCancelled
	_, hasLapse := p.lapse()
	_, hasRenewal := p.renewal()

	switch field {
	case "":
		return false
	case p.cfg.Policy.StartDate, p.cfg.Policy.EndDate:
		return status == model.StatusLapsed && hasLapse
	case p.cfg.Policy.LapseDate:
		return status == model.StatusLapsed || (closed && hasRenewal)
	case p.cfg.Policy.LastRenewalDate:
		return closed && hasLapse
	}
	return false
}

// ruleTable lists every implemented rule. Firing order comes from the engine config.
var ruleTable = map[string]rule{
	model.RuleClearUnusableDate: {
		id:        model.RuleClearUnusableDate,
		invariant: InvDatesUsable,
		applies: func(p *policyView, v violation) bool {
			f, ok := p.cfg.Field(v.field)
			return ok && !f.Required && !p.neededBy(v.field)
		},
		apply: func(p *policyView, v violation, _ config.RuleConfig) outcome {
			before := p.rec.Get(v.field)
			p.set(v.field, model.Null())
			return outcome{entry: model.ResolutionEntry{
				Field:         v.field,
				OriginalValue: before.String(),
				ResolvedValue: "",
				RuleID:        model.RuleClearUnusableDate,
				Reason:        "unusable date cleared (" + v.detail + ")",
			}}
		},
	},

	model.RuleSwapStartEnd: {
		id:        model.RuleSwapStartEnd,
		invariant: InvStartBeforeEnd,
		applies: func(p *policyView, _ violation) bool {
			// Only swap when the swapped contract still holds a known lapse date
			start, _ := p.start()
			end, _ := p.end()
			lapse, hasLapse := p.lapse()
			if p.status() != model.StatusLapsed || !hasLapse {
				return true
			}
			return !lapse.Before(end) && !lapse.After(start)
		},
		apply: func(p *policyView, v violation, _ config.RuleConfig) outcome {
			start, _ := p.start()
			end, _ := p.end()
			p.set(p.cfg.Policy.StartDate, model.DateValue(end))
			p.set(p.cfg.Policy.EndDate, model.DateValue(start))
			return outcome{entry: model.ResolutionEntry{
				Field:         v.field,
				OriginalValue: isoDate(start) + "," + isoDate(end),
				ResolvedValue: isoDate(end) + "," + isoDate(start),
				RuleID:        model.RuleSwapStartEnd,
				Reason:        "start and end dates swapped: " + v.detail,
			}}
		},
	},

	model.RuleLapseRequiresDate: {
		id:        model.RuleLapseRequiresDate,
		invariant: InvLapsedRequiresLapseDate,
		applies:   func(*policyView, violation) bool { return true },
		apply: func(p *policyView, v violation, _ config.RuleConfig) outcome {
			before := p.rec.Get(p.cfg.Policy.Status)
			p.set(p.cfg.Policy.Status, model.StatusValue(model.StatusUnknown))
			return outcome{entry: model.ResolutionEntry{
				Field:         p.cfg.Policy.Status,
				OriginalValue: before.String(),
				ResolvedValue: string(model.StatusUnknown),
				RuleID:        model.RuleLapseRequiresDate,
				Reason:        "insufficient evidence: status LAPSED without a lapse date",
			}}
		},
	},

	model.RuleLapseDateOutOfRange: {
		id:        model.RuleLapseDateOutOfRange,
		invariant: InvLapseDateWithinContract,
		applies:   func(*policyView, violation) bool { return true },
		apply: func(p *policyView, v violation, rc config.RuleConfig) outcome {
			lapse, _ := p.lapse()
			bound := lapse
			if start, ok := p.start(); ok && lapse.Before(start) {
				bound = start
			} else if end, ok := p.end(); ok && lapse.After(end) {
				bound = end
			}

			distance := int(absDuration(lapse.Sub(bound)).Hours() / 24)
			if distance > rc.ToleranceDays {
				return outcome{
					entry: model.ResolutionEntry{
						Field:         v.field,
						OriginalValue: isoDate(lapse),
						ResolvedValue: isoDate(lapse),
						RuleID:        model.RuleLapseDateOutOfRange,
						Reason: fmt.Sprintf("%s by %d days exceeds tolerance of %d days",
							v.detail, distance, rc.ToleranceDays),
					},
					reject: true,
				}
			}

			p.set(v.field, model.DateValue(bound))
			return outcome{entry: model.ResolutionEntry{
				Field:         v.field,
				OriginalValue: isoDate(lapse),
				ResolvedValue: isoDate(bound),
				RuleID:        model.RuleLapseDateOutOfRange,
				Reason:        fmt.Sprintf("%s; clamped to contract bound (%d days)", v.detail, distance),
			}}
		},
	},

	model.RuleActiveHasLapseDate: {
		id:        model.RuleActiveHasLapseDate,
		invariant: InvActiveExcludesLapseDate,
		applies:   func(*policyView, violation) bool { return true },
		apply: func(p *policyView, v violation, _ config.RuleConfig) outcome {
			before := p.rec.Get(v.field)
			p.set(v.field, model.Null())
			return outcome{entry: model.ResolutionEntry{
				Field:         v.field,
				OriginalValue: before.String(),
				ResolvedValue: "",
				RuleID:        model.RuleActiveHasLapseDate,
				Reason:        "lapse date cleared: policy is ACTIVE",
			}}
		},
	},

	model.RuleRenewalAfterLapse: {
		id:        model.RuleRenewalAfterLapse,
		invariant: InvRenewalNotAfterLapse,
		applies:   func(*policyView, violation) bool { return true },
		apply: func(p *policyView, v violation, _ config.RuleConfig) outcome {
			before := p.rec.Get(v.field)
			p.set(v.field, model.Null())
			return outcome{entry: model.ResolutionEntry{
				Field:         v.field,
				OriginalValue: before.String(),
				ResolvedValue: "",
				RuleID:        model.RuleRenewalAfterLapse,
				Reason:        "last renewal cleared: " + v.detail,
			}}
		},
	},
}

func isoDate(t time.Time) string {
	return t.Format(model.CanonicalDateLayout)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
