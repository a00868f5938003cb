package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/model"
)

func contractWithRules(threshold float64, rules ...contract.QualityRule) *contract.Contract {
	return &contract.Contract{
		Name: "test",
		Schema: contract.Schema{
			Name:  "dwh",
			Table: "t",
			Columns: []contract.Column{
				{Name: "id", IsPrimaryKey: true},
				{Name: "name"},
				{Name: "amount"},
			},
		},
		Quality: rules,
		Write:   contract.WriteOptions{QualityThreshold: threshold},
	}
}

func rowsBatch(rows ...model.Row) *model.Batch {
	b := model.NewBatch([]string{"id", "name", "amount"})
	for _, r := range rows {
		b.Append(r)
	}
	return b
}

func TestNewEngine_UnknownRule(t *testing.T) {
	_, err := NewEngine(contractWithRules(0, contract.QualityRule{
		Type: "transformation", Rule: "sparkle", Columns: []string{"name"},
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sparkle")
}

func TestValidateRuleName(t *testing.T) {
	require.NoError(t, ValidateRuleName("transformation", "trim"))
	require.NoError(t, ValidateRuleName("validation", "not_null"))
	require.Error(t, ValidateRuleName("transformation", "nope"))
	require.Error(t, ValidateRuleName("validation", "nope"))
	require.Error(t, ValidateRuleName("other", "trim"))
}

func TestCleanse_AppliesRulesInOrder(t *testing.T) {
	e, err := NewEngine(contractWithRules(0,
		contract.QualityRule{Type: "transformation", Rule: "trim", Columns: []string{"name"}},
		contract.QualityRule{Type: "transformation", Rule: "collapse_whitespace", Columns: []string{"name"}},
		contract.QualityRule{Type: "transformation", Rule: "upper", Columns: []string{"name"}},
	))
	require.NoError(t, err)

	b := rowsBatch(model.Row{"id": "1", "name": "  alice   smith "})
	require.NoError(t, e.Cleanse(b))
	assert.Equal(t, "ALICE SMITH", b.Rows()[0]["name"])
}

func TestCleanse_FillNullAndNullify(t *testing.T) {
	e, err := NewEngine(contractWithRules(0,
		contract.QualityRule{Type: "transformation", Rule: "nullify_empty_strings", Columns: []string{"name"}},
		contract.QualityRule{Type: "transformation", Rule: "fill_null", Columns: []string{"name"}, Value: "unknown"},
	))
	require.NoError(t, err)

	b := rowsBatch(
		model.Row{"id": "1", "name": ""},
		model.Row{"id": "2", "name": "bob"},
	)
	require.NoError(t, e.Cleanse(b))
	assert.Equal(t, "unknown", b.Rows()[0]["name"])
	assert.Equal(t, "bob", b.Rows()[1]["name"])
}

func TestCleanse_RegexReplace(t *testing.T) {
	e, err := NewEngine(contractWithRules(0,
		contract.QualityRule{
			Type: "transformation", Rule: "regex_replace", Columns: []string{"id"},
			Pattern: `[^0-9]`, Replacement: "",
		},
	))
	require.NoError(t, err)

	b := rowsBatch(model.Row{"id": "A-12-B3"})
	require.NoError(t, e.Cleanse(b))
	assert.Equal(t, "123", b.Rows()[0]["id"])
}

func TestValidate_ScoresAndCounts(t *testing.T) {
	e, err := NewEngine(contractWithRules(0,
		contract.QualityRule{Type: "validation", Rule: "not_null", Columns: []string{"name"}, Severity: "error"},
	))
	require.NoError(t, err)

	b := rowsBatch(
		model.Row{"id": "1", "name": "alice"},
		model.Row{"id": "2", "name": nil},
	)
	summary, err := e.Validate(b)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalRows)
	assert.Equal(t, 1, summary.FailedRows)
	assert.Zero(t, summary.RejectedRows, "threshold zero keeps every row")
	assert.Equal(t, 2, b.Len())

	assert.Equal(t, float64(100), b.Rows()[0][ColScore])
	assert.Equal(t, float64(0), b.Rows()[1][ColScore])
}

func TestValidate_RejectsBelowThreshold(t *testing.T) {
	e, err := NewEngine(contractWithRules(80,
		contract.QualityRule{Type: "validation", Rule: "not_null", Columns: []string{"name"}, Severity: "error"},
		contract.QualityRule{Type: "validation", Rule: "range", Columns: []string{"amount"}, Severity: "warning", Min: f(0)},
	))
	require.NoError(t, err)

	b := rowsBatch(
		model.Row{"id": "1", "name": "alice", "amount": int64(5)},
		model.Row{"id": "2", "name": nil, "amount": int64(5)},
		model.Row{"id": "3", "name": "carol", "amount": int64(-1)},
	)
	summary, err := e.Validate(b)
	require.NoError(t, err)

	// Total weight 15. Row 2 fails the error rule (score 33.3), row 3 fails
	// the warning rule (score 66.7); both fall under the 80 threshold.
	assert.Equal(t, 2, summary.RejectedRows)
	require.Equal(t, 1, b.Len())
	assert.Equal(t, "1", b.Rows()[0]["id"])
}

func TestValidate_NoRules(t *testing.T) {
	e, err := NewEngine(contractWithRules(90))
	require.NoError(t, err)

	b := rowsBatch(model.Row{"id": "1"})
	summary, err := e.Validate(b)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalRows)
	assert.Equal(t, 1, b.Len())
	assert.False(t, b.HasColumn(ColScore), "no score column without rules")
}

func TestCheckRules(t *testing.T) {
	tests := []struct {
		name     string
		rule     string
		value    model.Value
		qr       contract.QualityRule
		violated bool
	}{
		{"not_empty blank", "not_empty", "   ", contract.QualityRule{}, true},
		{"not_empty ok", "not_empty", "x", contract.QualityRule{}, false},
		{"range below min", "range", int64(-3), contract.QualityRule{Min: f(0)}, true},
		{"range above max", "range", 7.5, contract.QualityRule{Max: f(5)}, true},
		{"range in bounds", "range", 3.0, contract.QualityRule{Min: f(0), Max: f(5)}, false},
		{"range null passes", "range", nil, contract.QualityRule{Min: f(0)}, false},
		{"pattern mismatch", "pattern", "abc", contract.QualityRule{Pattern: `^\d+$`}, true},
		{"pattern match", "pattern", "123", contract.QualityRule{Pattern: `^\d+$`}, false},
		{"date_format bad", "date_format", "03/01/2026", contract.QualityRule{}, true},
		{"date_format good", "date_format", "2026-03-01", contract.QualityRule{}, false},
		{"allowed_type wrong", "allowed_type", "x", contract.QualityRule{Value: "number"}, true},
		{"allowed_type right", "allowed_type", int64(1), contract.QualityRule{Value: "number"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, ok := validationRules[tt.rule]
			require.True(t, ok)
			violated, err := fn(tt.value, tt.qr)
			require.NoError(t, err)
			assert.Equal(t, tt.violated, violated)
		})
	}
}

func f(v float64) *float64 { return &v }
