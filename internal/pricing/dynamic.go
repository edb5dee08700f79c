package pricing

import (
	"context"
	"errors"
	"fmt"
)

var errNoEvaluator = errors.New("pricing: formula evaluator not configured")

// DynamicStage returns the stage that replaces the running unit price with the
// evaluated formula value.
func DynamicStage(eval FormulaEvaluator) StageFunc {
	return func(ctx context.Context, in Input, st State) (State, error) {
		if in.Snapshot.FormulaErr != nil {
			return st, fmt.Errorf("%w: formula lookup: %v", ErrRuleEvaluationDegraded, in.Snapshot.FormulaErr)
		}
		formula := in.Snapshot.Formula
		if formula == nil || !formula.Active || !formula.ValidAt(in.Now) {
			return st, nil
		}
		if eval == nil {
			return st, fmt.Errorf("%w: formula %s: %v", ErrRuleEvaluationDegraded, formula.ID, errNoEvaluator)
		}
		res, err := eval.Evaluate(ctx, formula.Expression, in.Request.FormulaVars())
		if err != nil {
			return st, fmt.Errorf("%w: formula %s: %v", ErrRuleEvaluationDegraded, formula.ID, err)
		}
		unit := Round2(res.RoundedValue)
		next := unit.Mul(in.Qty())
		basis := st.Total
		st.Total = next
		return st.with(Component{
			Type:           ComponentDynamic,
			Key:            "dynamic:" + formula.Scope,
			Description:    fmt.Sprintf("formula %s: %s per unit", formula.ID, unit),
			Value:          next.Sub(basis),
			Basis:          decimalPtr(basis),
			CalculatedFrom: formula.ID,
		}), nil
	}
}
