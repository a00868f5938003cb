package quality

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lakeflow/internal/contract"
	"github.com/sells-group/lakeflow/internal/model"
)

// Summary reports the outcome of one validation pass over a batch.
type Summary struct {
	TotalRows    int     `json:"total_rows"`
	FailedRows   int     `json:"failed_rows"`
	RejectedRows int     `json:"rejected_rows"`
	FailedPct    float64 `json:"failed_pct"`
	RuleCount    int     `json:"rule_count"`
	TotalWeight  int     `json:"total_weight"`
}

// ColScore is the per-row quality score column added by Validate.
const ColScore = "dq_score"

// severityWeight maps rule severity to its contribution to the weighted
// score.
var severityWeight = map[string]int{
	"info":    1,
	"warning": 5,
	"error":   10,
}

// Engine applies a contract's cleansing and validation rules to batches. The
// rule handlers are resolved once at construction from the closed registries;
// construction fails on any unknown rule so row processing never dispatches
// by name.
type Engine struct {
	cleansing  []boundCleanse
	validation []boundCheck
	threshold  float64
}

type boundCleanse struct {
	rule contract.QualityRule
	fn   cleanseFunc
}

type boundCheck struct {
	rule   contract.QualityRule
	fn     checkFunc
	weight int
}

// NewEngine binds the contract's quality rules to their handlers.
func NewEngine(c *contract.Contract) (*Engine, error) {
	e := &Engine{threshold: c.Write.QualityThreshold}

	for _, rule := range c.Quality {
		switch rule.Type {
		case "transformation":
			fn, ok := cleansingRules[rule.Rule]
			if !ok {
				return nil, eris.Errorf("quality: unknown cleansing rule %q", rule.Rule)
			}
			e.cleansing = append(e.cleansing, boundCleanse{rule: rule, fn: fn})
		case "validation":
			fn, ok := validationRules[rule.Rule]
			if !ok {
				return nil, eris.Errorf("quality: unknown validation rule %q", rule.Rule)
			}
			weight, ok := severityWeight[rule.Severity]
			if !ok {
				weight = 1
			}
			e.validation = append(e.validation, boundCheck{rule: rule, fn: fn, weight: weight})
		default:
			return nil, eris.Errorf("quality: unknown rule type %q", rule.Type)
		}
	}
	return e, nil
}

// Cleanse applies the transformation rules in contract order, mutating the
// batch in place.
func (e *Engine) Cleanse(batch *model.Batch) error {
	for _, bound := range e.cleansing {
		for _, col := range bound.rule.Columns {
			for _, row := range batch.Rows() {
				v, err := bound.fn(row[col], bound.rule)
				if err != nil {
					return eris.Wrapf(err, "quality: cleanse %s on %s", bound.rule.Rule, col)
				}
				row[col] = v
			}
		}
	}
	return nil
}

// Validate scores every row against the validation rules, stamps dq_score,
// and drops rows scoring below the contract threshold. Returns the summary.
func (e *Engine) Validate(batch *model.Batch) (*Summary, error) {
	summary := &Summary{
		TotalRows: batch.Len(),
		RuleCount: len(e.validation),
	}
	if len(e.validation) == 0 {
		return summary, nil
	}

	totalWeight := 0
	for _, bound := range e.validation {
		totalWeight += bound.weight * max(len(bound.rule.Columns), 1)
	}
	summary.TotalWeight = totalWeight

	batch.AddColumn(ColScore)
	kept := make([]model.Row, 0, batch.Len())

	for _, row := range batch.Rows() {
		failWeight := 0
		for _, bound := range e.validation {
			for _, col := range bound.rule.Columns {
				violated, err := bound.fn(row[col], bound.rule)
				if err != nil {
					return nil, eris.Wrapf(err, "quality: validate %s on %s", bound.rule.Rule, col)
				}
				if violated {
					failWeight += bound.weight
				}
			}
		}

		score := float64(totalWeight-failWeight) / float64(totalWeight) * 100
		row[ColScore] = score

		if failWeight > 0 {
			summary.FailedRows++
		}
		if score < e.threshold {
			summary.RejectedRows++
			continue
		}
		kept = append(kept, row)
	}

	if summary.TotalRows > 0 {
		summary.FailedPct = float64(summary.FailedRows) / float64(summary.TotalRows)
	}
	if summary.RejectedRows > 0 {
		batch.SetRows(kept)
		zap.L().Warn("quality: rows rejected below threshold",
			zap.Int("rejected", summary.RejectedRows),
			zap.Float64("threshold", e.threshold),
		)
	}
	return summary, nil
}
