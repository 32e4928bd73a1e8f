package cleaner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

func TestFieldValidator_ValidateRow(t *testing.T) {
	t.Parallel()

	t.Run("Should fill absent optional fields with the sentinel", func(t *testing.T) {
		t.Parallel()
		cfg := config.DefaultEngineConfig()
		v := NewFieldValidator(cfg)

		out := v.ValidateRow(raw(0, "policy_id", "P1", "contract_start_date", "2023-01-01", "lapse_status", "ACTIVE"))

		require.Equal(t, model.StatusOK, out.Status)
		assert.Equal(t, model.KindAbsent, out.Get("lapse_date").Kind)
		assert.Equal(t, model.NotProvided, out.Get("lapse_date").String())
		fills := entriesFor(out.Entries, model.RuleFillNotProvided)
		require.Len(t, fills, 2)
		assert.Equal(t, "contract_end_date", fills[0].Field)
		assert.Equal(t, "lapse_date", fills[1].Field)
		assert.Equal(t, "P1", fills[0].RowID)
	})

	t.Run("Should keep present but empty optional fields as null", func(t *testing.T) {
		t.Parallel()
		cfg := config.DefaultEngineConfig()
		v := NewFieldValidator(cfg)

		out := v.ValidateRow(raw(0, "policy_id", "P1", "contract_start_date", "2023-01-01",
			"contract_end_date", "", "lapse_status", "ACTIVE", "lapse_date", "  "))

		assert.Equal(t, model.KindNull, out.Get("contract_end_date").Kind)
		assert.Equal(t, model.KindNull, out.Get("lapse_date").Kind)
		assert.Empty(t, entriesFor(out.Entries, model.RuleFillNotProvided))
	})

	t.Run("Should mark a missing required field invalid", func(t *testing.T) {
		t.Parallel()
		cfg := config.DefaultEngineConfig()
		v := NewFieldValidator(cfg)

		out := v.ValidateRow(raw(3, "policy_id", "P1", "lapse_status", "ACTIVE"))

		assert.Equal(t, model.StatusInvalid, out.Status)
		assert.Equal(t, "missing_required_field:contract_start_date", out.Reason)
		assert.True(t, out.HasFlag("contract_start_date", model.FlagInvalid))
	})

	t.Run("Should resolve status aliases and record the coercion", func(t *testing.T) {
		t.Parallel()
		cfg := config.DefaultEngineConfig()
		v := NewFieldValidator(cfg)

		out := v.ValidateRow(raw(0, "policy_id", "P1", "contract_start_date", "2023-01-01", "lapse_status", "1"))

		assert.Equal(t, model.StatusLapsed, out.Get("lapse_status").Status)
		coerced := entriesFor(out.Entries, model.RuleCoerceStatus)
		require.Len(t, coerced, 1)
		assert.Equal(t, "1", coerced[0].OriginalValue)
		assert.Equal(t, "LAPSED", coerced[0].ResolvedValue)
	})

	t.Run("Should map unrecognized status to UNKNOWN", func(t *testing.T) {
		t.Parallel()
		cfg := config.DefaultEngineConfig()
		v := NewFieldValidator(cfg)

		out := v.ValidateRow(raw(0, "policy_id", "P1", "contract_start_date", "2023-01-01", "lapse_status", "dormant"))

		assert.Equal(t, model.StatusOK, out.Status)
		assert.Equal(t, model.StatusUnknown, out.Get("lapse_status").Status)
	})

	t.Run("Should generate a deterministic row id when missing", func(t *testing.T) {
		t.Parallel()
		cfg := config.DefaultEngineConfig()
		v := NewFieldValidator(cfg)
		row := raw(7, "contract_start_date", "2023-01-01", "lapse_status", "ACTIVE")

		first := v.ValidateRow(row)
		second := v.ValidateRow(row)

		require.NotEmpty(t, first.RowID)
		assert.Equal(t, first.RowID, second.RowID)
		assert.Equal(t, first.RowID, first.Get("policy_id").Text)
		generated := entriesFor(first.Entries, model.RuleRowIDGenerated)
		require.Len(t, generated, 1)
		assert.Equal(t, model.NotProvided, generated[0].OriginalValue)

		other := v.ValidateRow(raw(8, "contract_start_date", "2023-01-01", "lapse_status", "ACTIVE"))
		assert.NotEqual(t, first.RowID, other.RowID)
	})

	t.Run("Should apply replacements, defaults and type coercion", func(t *testing.T) {
		t.Parallel()
		cfg := renewalConfig(t)
		v := NewFieldValidator(cfg)

		out := v.ValidateRow(raw(0, "policy_id", "P1", "contract_start_date", "2023-01-01",
			"lapse_status", "0", "channel", "00/01/1900", "premium", "12,5"))

		require.Equal(t, model.StatusOK, out.Status)
		assert.Equal(t, int64(0), out.Get("channel").Int)
		assert.Equal(t, 12.5, out.Get("premium").Float)
		assert.Equal(t, "Unknown", out.Get("fuel").Text)
		assert.Len(t, entriesFor(out.Entries, model.RuleReplaceValue), 1)
		assert.Len(t, entriesFor(out.Entries, model.RuleFillDefault), 1)
	})

	t.Run("Should mark a type mismatch invalid", func(t *testing.T) {
		t.Parallel()
		cfg := renewalConfig(t)
		v := NewFieldValidator(cfg)

		out := v.ValidateRow(raw(0, "policy_id", "P1", "contract_start_date", "2023-01-01",
			"lapse_status", "0", "channel", "web"))

		assert.Equal(t, model.StatusInvalid, out.Status)
		assert.Equal(t, "type_mismatch:channel", out.Reason)
	})

	t.Run("Should ignore columns that are not configured", func(t *testing.T) {
		t.Parallel()
		cfg := config.DefaultEngineConfig()
		v := NewFieldValidator(cfg)

		out := v.ValidateRow(raw(0, "policy_id", "P1", "contract_start_date", "2023-01-01",
			"lapse_status", "ACTIVE", "extra", "x"))

		_, ok := out.Fields["extra"]
		assert.False(t, ok)
	})
}
