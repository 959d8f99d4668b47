package strategy

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"

	"github.com/ybi-research/scalp-backtest/internal/errs"
	"github.com/ybi-research/scalp-backtest/internal/features"
)

// levelPlaceholder matches named level references like {VWAP} or
// {PMH}, generalizing the teacher's {LEGn.STRIKE}/{LEGn.PREMIUM}
// leg-expression placeholders to the price levels a Snapshot exposes.
var levelPlaceholder = regexp.MustCompile(`\{(PMH|PML|PDH|PDL|VWAP|EMA8|EMA21|EMA34|EMA55|OPEN|HOD|LOD)\}`)

// levelValues maps each placeholder name to its value on snap.
func levelValues(snap features.Snapshot) map[string]float64 {
	return map[string]float64{
		"PMH": snap.PMH, "PML": snap.PML,
		"PDH": snap.PDH, "PDL": snap.PDL,
		"VWAP": snap.VWAPRTH,
		"EMA8": snap.EMA8, "EMA21": snap.EMA21, "EMA34": snap.EMA34, "EMA55": snap.EMA55,
		"OPEN": snap.OpenPx, "HOD": snap.HODSoFar, "LOD": snap.LODSoFar,
	}
}

// evaluateLevelExpression substitutes every {PLACEHOLDER} in expr with
// its numeric value from snap, then evaluates the resulting arithmetic
// expression with govaluate, exactly as the teacher's leg-expression
// evaluator substitutes {LEGn.STRIKE} before calling
// govaluate.NewEvaluableExpression(...).Evaluate(nil).
func evaluateLevelExpression(expr string, snap features.Snapshot) (float64, error) {
	values := levelValues(snap)
	evalStr := expr

	matches := levelPlaceholder.FindAllStringSubmatch(expr, -1)
	if matches == nil {
		return 0, fmt.Errorf("strategy: %w: no recognised level placeholder in %q", errs.ErrConfig, expr)
	}
	for _, match := range matches {
		v, ok := values[match[1]]
		if !ok {
			return 0, fmt.Errorf("strategy: %w: unknown level %q", errs.ErrConfig, match[1])
		}
		evalStr = strings.Replace(evalStr, match[0], fmt.Sprintf("%f", v), 1)
	}

	evalExpr, err := govaluate.NewEvaluableExpression(evalStr)
	if err != nil {
		return 0, fmt.Errorf("strategy: %w: parsing %q: %v", errs.ErrConfig, expr, err)
	}
	result, err := evalExpr.Evaluate(nil)
	if err != nil {
		return 0, fmt.Errorf("strategy: %w: evaluating %q: %v", errs.ErrConfig, expr, err)
	}
	f, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("strategy: %w: expression %q did not evaluate to a number", errs.ErrConfig, expr)
	}
	return f, nil
}
