package cleaner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/converter"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

// rowIDNamespace seeds the name-based UUIDs generated for rows without an identifier
var rowIDNamespace = uuid.MustParse("6f1d7c2e-4b8a-5e39-9c1f-3a7d2b8e5f40")

// FieldValidator applies the per-column missing-value policy and coerces values
// to their declared primitive types
type FieldValidator struct {
	cfg *config.EngineConfig
}

// NewFieldValidator creates a validator for the given engine config
func NewFieldValidator(cfg *config.EngineConfig) *FieldValidator {
	return &FieldValidator{cfg: cfg}
}

// ValidateRow validates a single raw record. Records failing a required or type
// check come back with status INVALID and a reason; they are never dropped.
func (v *FieldValidator) ValidateRow(raw model.RawRecord) model.ValidatedRecord {
	rec := model.Record{
		Ordinal: raw.Ordinal,
		Fields:  make(map[string]model.Value, len(v.cfg.Fields)),
		Status:  model.StatusOK,
	}

	// Row identity first, so every entry carries it
	rowID, generated := v.rowIdentifier(raw)
	rec.RowID = rowID

	for _, f := range v.cfg.Fields {
		if f.Name == v.cfg.RowIDField && v.cfg.RowIDField != "" {
			rec.Fields[f.Name] = model.StringValue(rowID)
			if generated {
				rec.Append(model.ResolutionEntry{
					Field:         f.Name,
					OriginalValue: originalText(raw.Values[f.Name], present(raw, f.Name)),
					ResolvedValue: rowID,
					RuleID:        model.RuleRowIDGenerated,
					Reason:        "missing row identifier",
				})
			}
			continue
		}
		v.validateField(&rec, raw, f)
	}

	return model.ValidatedRecord{Record: rec}
}

// validateField applies replacement, missing-value policy and coercion to one column
func (v *FieldValidator) validateField(rec *model.Record, raw model.RawRecord, f config.FieldConfig) {
	value, ok := raw.Values[f.Name]
	isPresent := ok && value != nil

	// Step 1: exact-match replacements
	if isPresent && len(f.Replace) > 0 {
		if repl, hit := f.Replace[converter.ToString(value)]; hit {
			rec.Append(model.ResolutionEntry{
				Field:         f.Name,
				OriginalValue: converter.ToString(value),
				ResolvedValue: repl,
				RuleID:        model.RuleReplaceValue,
				Reason:        "configured replacement",
			})
			value = repl
		}
	}

	// Step 2: missing-value policy
	if !isPresent || converter.IsBlank(value) {
		switch {
		case f.Default != nil:
			rec.Append(model.ResolutionEntry{
				Field:         f.Name,
				OriginalValue: originalText(value, isPresent),
				ResolvedValue: *f.Default,
				RuleID:        model.RuleFillDefault,
				Reason:        "missing value replaced by configured default",
			})
			value = *f.Default
		case f.Required:
			v.markInvalid(rec, f.Name, "missing_required_field:"+f.Name)
			rec.Fields[f.Name] = blankValue(isPresent)
			return
		case !isPresent:
			rec.Fields[f.Name] = model.Absent()
			rec.Append(model.ResolutionEntry{
				Field:         f.Name,
				OriginalValue: "",
				ResolvedValue: model.NotProvided,
				RuleID:        model.RuleFillNotProvided,
				Reason:        "optional field absent in source",
			})
			return
		default:
			rec.Fields[f.Name] = model.Null()
			return
		}
	}

	// Step 3: coercion to the declared primitive
	coerced, err := v.coerce(rec, f, value)
	if err != nil {
		v.markInvalid(rec, f.Name, "type_mismatch:"+f.Name)
		rec.Fields[f.Name] = model.StringValue(converter.ToString(value))
		return
	}
	rec.Fields[f.Name] = coerced
}

// coerce converts a non-blank raw value to the field's declared type
func (v *FieldValidator) coerce(rec *model.Record, f config.FieldConfig, value any) (model.Value, error) {
	switch f.Type {
	case config.TypeString:
		return model.StringValue(converter.ToString(value)), nil
	case config.TypeInt:
		i, err := converter.ToInt(value)
		if err != nil {
			return model.Value{}, err
		}
		return model.IntValue(i), nil
	case config.TypeFloat:
		fl, err := converter.ToFloat(value)
		if err != nil {
			return model.Value{}, err
		}
		return model.FloatValue(fl), nil
	case config.TypeBool:
		b, err := converter.ToBool(value)
		if err != nil {
			return model.Value{}, err
		}
		return model.BoolValue(b), nil
	case config.TypeDate:
		// Parsing is left to the date normalizer
		if t, ok := value.(time.Time); ok {
			return model.DateValue(t), nil
		}
		return model.StringValue(strings.TrimSpace(converter.ToString(value))), nil
	case config.TypeStatus:
		text := strings.TrimSpace(converter.ToString(value))
		status, ok := v.cfg.ResolveStatusAlias(text)
		if !ok {
			status = model.StatusUnknown
		}
		if string(status) != text {
			reason := "status alias resolved"
			if !ok {
				reason = "unrecognized status"
			}
			rec.Append(model.ResolutionEntry{
				Field:         f.Name,
				OriginalValue: text,
				ResolvedValue: string(status),
				RuleID:        model.RuleCoerceStatus,
				Reason:        reason,
			})
		}
		return model.StatusValue(status), nil
	default:
		return model.Value{}, fmt.Errorf("unknown field type %s", f.Type)
	}
}

// markInvalid tags the record INVALID; the first failure becomes the reason
func (v *FieldValidator) markInvalid(rec *model.Record, field, reason string) {
	rec.AddFlag(field, model.FlagInvalid, reason)
	if rec.Status != model.StatusInvalid {
		rec.Status = model.StatusInvalid
		rec.Reason = reason
	}
}

// rowIdentifier returns the configured row id, or a deterministic name-based UUID
// derived from the ordinal and row content when none is available
func (v *FieldValidator) rowIdentifier(raw model.RawRecord) (string, bool) {
	if v.cfg.RowIDField != "" {
		if value, ok := raw.Values[v.cfg.RowIDField]; ok && !converter.IsBlank(value) {
			return strings.TrimSpace(converter.ToString(value)), false
		}
	}

	keys := make([]string, 0, len(raw.Values))
	for k := range raw.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d", raw.Ordinal)
	for _, k := range keys {
		fmt.Fprintf(&sb, "|%s=%s", k, converter.ToString(raw.Values[k]))
	}
	return uuid.NewSHA1(rowIDNamespace, []byte(sb.String())).String(), true
}

func present(raw model.RawRecord, field string) bool {
	v, ok := raw.Values[field]
	return ok && v != nil
}

func originalText(value any, isPresent bool) string {
	if !isPresent {
		return model.NotProvided
	}
	return converter.ToString(value)
}

func blankValue(isPresent bool) model.Value {
	if isPresent {
		return model.Null()
	}
	return model.Absent()
}
