package cleaner

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

const renewalConfigYAML = `
row_id_field: policy_id
date_formats: ["YYYY-MM-DD", "DD/MM/YYYY", "MM/DD/YYYY"]
min_date: "1900-01-01"
fields:
  - {name: policy_id, type: string}
  - {name: contract_start_date, type: date, required: true}
  - {name: contract_end_date, type: date}
  - {name: lapse_status, type: status, required: true}
  - {name: lapse_date, type: date}
  - {name: last_renewal_date, type: date}
  - {name: birth_date, type: date}
  - {name: channel, type: int, replace: {"00/01/1900": "0"}}
  - {name: fuel, type: string, default: Unknown}
  - {name: premium, type: float}
policy:
  contract_start_date: contract_start_date
  contract_end_date: contract_end_date
  lapse_status: lapse_status
  lapse_date: lapse_date
  last_renewal_date: last_renewal_date
status_aliases: {"0": ACTIVE, "1": LAPSED, "2": CANCELLED}
`

// raw builds a raw record from alternating key/value pairs
func raw(ordinal int, kv ...string) model.RawRecord {
	values := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		values[kv[i]] = kv[i+1]
	}
	return model.RawRecord{Ordinal: ordinal, Values: values}
}

func renewalConfig(t *testing.T) *config.EngineConfig {
	t.Helper()
	cfg, err := config.ParseEngineConfig([]byte(renewalConfigYAML))
	require.NoError(t, err)
	return cfg
}

// withTolerance returns a copy of the default config with a lapse tolerance
func withTolerance(t *testing.T, days int) *config.EngineConfig {
	t.Helper()
	cfg := config.DefaultEngineConfig()
	for i := range cfg.Rules {
		if cfg.Rules[i].ID == model.RuleLapseDateOutOfRange {
			cfg.Rules[i].ToleranceDays = days
		}
	}
	require.NoError(t, cfg.Prepare())
	return cfg
}

// runAll takes raw rows through every stage
func runAll(t *testing.T, cfg *config.EngineConfig, rows ...model.RawRecord) ([]model.CleanedRecord, []model.RejectedRecord, []model.ResolutionEntry) {
	t.Helper()
	cleaned, rejected, entries, err := Resolve(Normalize(Validate(rows, cfg), cfg), cfg)
	require.NoError(t, err)
	return cleaned, rejected, entries
}

// entriesFor returns the entries produced by a rule
func entriesFor(entries []model.ResolutionEntry, ruleID string) []model.ResolutionEntry {
	var out []model.ResolutionEntry
	for _, e := range entries {
		if e.RuleID == ruleID {
			out = append(out, e)
		}
	}
	return out
}
