package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Input is the per-calculation data every stage reads.
type Input struct {
	Request   Request
	Now       time.Time
	OrderDate time.Time
	Snapshot  Snapshot
}

// Qty is shorthand for the requested quantity.
func (in Input) Qty() decimal.Decimal {
	return in.Request.Qty
}

// State is the running value folded through the stages.
type State struct {
	Total      decimal.Decimal
	Tax        decimal.Decimal
	Currency   string
	Components []Component
	Degraded   []string
}

func (s State) with(c Component) State {
	comps := make([]Component, len(s.Components), len(s.Components)+1)
	copy(comps, s.Components)
	s.Components = append(comps, c)
	return s
}

// StageFunc transforms the running state. Returning an error wrapping
// ErrRuleEvaluationDegraded leaves the state unchanged and continues.
type StageFunc func(ctx context.Context, in Input, st State) (State, error)

// Stage names a pipeline step.
type Stage struct {
	Name string
	Run  StageFunc
}

// DegradedFunc observes fail-open stages.
type DegradedFunc func(stage string, err error)

// Fold runs the stages in order.
func Fold(ctx context.Context, stages []Stage, in Input, onDegraded DegradedFunc) (State, error) {
	var st State
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return State{}, err
		}
		next, err := stage.Run(ctx, in, st)
		if err != nil {
			if errors.Is(err, ErrRuleEvaluationDegraded) {
				if onDegraded != nil {
					onDegraded(stage.Name, err)
				}
				st.Degraded = append(st.Degraded, stage.Name)
				continue
			}
			return State{}, err
		}
		st = next
	}
	return st, nil
}
