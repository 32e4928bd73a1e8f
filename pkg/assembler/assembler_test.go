package assembler

import (
	"sync"
	"testing"

	"github.com/apache/arrow/go/v16/arrow/array"
	"github.com/apache/arrow/go/v16/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/policy-cleaner/pkg/cleaner"
	"github.com/David-Botos/policy-cleaner/pkg/config"
	"github.com/David-Botos/policy-cleaner/pkg/model"
)

func sampleRows() []model.RawRecord {
	return []model.RawRecord{
		{Ordinal: 0, Values: map[string]any{"policy_id": "P0", "contract_start_date": "2023-01-01",
			"contract_end_date": "2023-12-31", "lapse_status": "ACTIVE", "lapse_date": "2023-03-01"}},
		{Ordinal: 1, Values: map[string]any{"policy_id": "P1", "lapse_status": "ACTIVE"}},
		{Ordinal: 2, Values: map[string]any{"policy_id": "P2", "contract_start_date": "31/01/2023",
			"lapse_status": "LAPSED", "lapse_date": "2023-06-01"}},
	}
}

func routed(t *testing.T, cfg *config.EngineConfig) ([]model.CleanedRecord, []model.RejectedRecord, []model.ResolutionEntry) {
	t.Helper()
	cleaned, rejected, entries, err := cleaner.Resolve(cleaner.Normalize(cleaner.Validate(sampleRows(), cfg), cfg), cfg)
	require.NoError(t, err)
	return cleaned, rejected, entries
}

func TestAssembler_Build(t *testing.T) {
	t.Parallel()

	t.Run("Should build tables ordered by input position", func(t *testing.T) {
		t.Parallel()
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)
		cfg := config.DefaultEngineConfig()
		cleaned, rejected, entries := routed(t, cfg)
		a := New(cfg, mem)

		// Add concurrently and out of order
		var wg sync.WaitGroup
		for i := len(cleaned) - 1; i >= 0; i-- {
			wg.Add(1)
			go func(rec model.CleanedRecord) {
				defer wg.Done()
				assert.NoError(t, a.Add(rec))
			}(cleaned[i])
		}
		for _, rec := range rejected {
			require.NoError(t, a.AddReject(rec))
		}
		wg.Wait()

		tables, err := a.Build(3, entries)
		require.NoError(t, err)
		defer tables.Release()

		require.Equal(t, int64(2), tables.Cleaned.NumRows())
		assert.Equal(t, ColRowID, tables.Cleaned.Schema().Field(0).Name)
		ids := tables.Cleaned.Column(0).(*array.String)
		assert.Equal(t, "P0", ids.Value(0))
		assert.Equal(t, "P2", ids.Value(1))

		// lapse_date of the ACTIVE row was cleared
		lapseIdx := tables.Cleaned.Schema().FieldIndices("lapse_date")[0]
		assert.True(t, tables.Cleaned.Column(lapseIdx).IsNull(0))
		startIdx := tables.Cleaned.Schema().FieldIndices("contract_start_date")[0]
		assert.Equal(t, "2023-01-31", tables.Cleaned.Column(startIdx).(*array.Date32).Value(1).ToTime().Format("2006-01-02"))
		// contract_end_date of P2 was absent
		endIdx := tables.Cleaned.Schema().FieldIndices("contract_end_date")[0]
		assert.True(t, tables.Cleaned.Column(endIdx).IsNull(1))

		require.Equal(t, int64(1), tables.Rejects.NumRows())
		assert.Equal(t, "P1", tables.Rejects.Column(0).(*array.String).Value(0))
		assert.Equal(t, "missing_required_field:contract_start_date", tables.Rejects.Column(2).(*array.String).Value(0))
		assert.Equal(t, model.ErrInvalidSchema.Error(), tables.Rejects.Column(3).(*array.String).Value(0))

		assert.Equal(t, int64(len(entries)), tables.Audit.NumRows())
		ordinals := tables.Audit.Column(1).(*array.Int64)
		for i := 1; i < ordinals.Len(); i++ {
			assert.LessOrEqual(t, ordinals.Value(i-1), ordinals.Value(i))
		}
	})

	t.Run("Should write rejects with the values the row held when rejected", func(t *testing.T) {
		t.Parallel()
		cfg := config.DefaultEngineConfig()
		rows := []model.RawRecord{{Ordinal: 0, Values: map[string]any{"policy_id": "P7",
			"contract_start_date": "31/01/2023", "contract_end_date": "2023-06-30",
			"lapse_status": "1", "lapse_date": "2024-06-01"}}}
		cleaned, rejected, entries, err := cleaner.Resolve(cleaner.Normalize(cleaner.Validate(rows, cfg), cfg), cfg)
		require.NoError(t, err)
		require.Empty(t, cleaned)
		require.Len(t, rejected, 1)

		a := New(cfg, nil)
		require.NoError(t, a.AddReject(rejected[0]))
		tables, err := a.Build(1, entries)
		require.NoError(t, err)
		defer tables.Release()

		column := func(name string) string {
			idx := tables.Rejects.Schema().FieldIndices(name)
			require.Len(t, idx, 1)
			return tables.Rejects.Column(idx[0]).(*array.String).Value(0)
		}
		assert.Equal(t, model.RuleLapseDateOutOfRange, column(ColRejectReason))
		assert.Equal(t, "2023-01-31", column("contract_start_date"))
		assert.Equal(t, string(model.StatusLapsed), column("lapse_status"))
		assert.Equal(t, "2024-06-01", column("lapse_date"))
	})

	t.Run("Should refuse a partial batch", func(t *testing.T) {
		t.Parallel()
		cfg := config.DefaultEngineConfig()
		cleaned, _, entries := routed(t, cfg)
		a := New(cfg, nil)
		for _, rec := range cleaned {
			require.NoError(t, a.Add(rec))
		}

		_, err := a.Build(3, entries)
		assert.ErrorIs(t, err, ErrIncompleteBatch)
	})

	t.Run("Should refuse a row routed twice", func(t *testing.T) {
		t.Parallel()
		cfg := config.DefaultEngineConfig()
		cleaned, _, _ := routed(t, cfg)
		a := New(cfg, nil)
		require.NoError(t, a.Add(cleaned[0]))

		err := a.AddReject(model.RejectedRecord{Record: cleaned[0].Record})
		assert.ErrorIs(t, err, ErrDuplicateRow)
	})

	t.Run("Should include the renewal flag column when configured", func(t *testing.T) {
		t.Parallel()
		cfg := config.DefaultEngineConfig()
		cfg.Fields = append(cfg.Fields, config.FieldConfig{Name: "last_renewal_date", Type: config.TypeDate})
		cfg.Policy.LastRenewalDate = "last_renewal_date"
		require.NoError(t, cfg.Prepare())

		schema, err := CleanedSchema(cfg)
		require.NoError(t, err)

		assert.NotEmpty(t, schema.FieldIndices(ColStartAfterRenewal))
		assert.Equal(t, ColFlags, schema.Field(schema.NumFields()-1).Name)
	})
}
