package derived

import (
	"errors"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var propertyOperators = []ComparisonOperator{
	OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpIsEmpty,
}

func buildConditions(ops []int, thresholds []float64) []Condition {
	conds := make([]Condition, 0, len(ops))
	for i := 0; i < len(ops) && i < len(thresholds); i++ {
		conds = append(conds, Condition{
			ID:       strconv.Itoa(i),
			FieldID:  "f" + strconv.Itoa(i%3),
			Operator: propertyOperators[ops[i]%len(propertyOperators)],
			Value:    strconv.FormatFloat(thresholds[i], 'f', -1, 64),
		})
	}
	return conds
}

// TestEvaluateDeterminism: Evaluate(cfg, v) == Evaluate(cfg, v)
func TestEvaluateDeterminism(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("repeated evaluation is identical", prop.ForAll(
		func(ops []int, thresholds []float64, a, b, c float64, useOr bool) bool {
			cfg := discountConfig()
			cfg.Conditions = buildConditions(ops, thresholds)
			if useOr {
				cfg.LogicalOperator = LogicalOr
			}
			values := FormValues{"f0": a, "f1": strconv.FormatFloat(b, 'f', -1, 64), "f2": c, "price": a}

			first := Evaluate(cfg, values)
			for i := 0; i < 3; i++ {
				if !cmp.Equal(first, Evaluate(cfg, values)) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.SliceOf(gen.Float64Range(-100, 100)),
		gen.Float64Range(-100, 100),
		gen.Float64Range(-100, 100),
		gen.Float64Range(-100, 100),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// TestEvalConditionsCombinators: AND == every, OR == some, empty == false
func TestEvalConditionsCombinators(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("AND and OR agree with every and some", prop.ForAll(
		func(ops []int, thresholds []float64, a, b, c float64) bool {
			conds := buildConditions(ops, thresholds)
			values := FormValues{"f0": a, "f1": b, "f2": c}

			every, some := true, false
			for _, cond := range conds {
				if EvalCondition(cond, values) {
					some = true
				} else {
					every = false
				}
			}
			if len(conds) == 0 {
				return !EvalConditions(conds, LogicalAnd, values) && !EvalConditions(conds, LogicalOr, values)
			}
			return EvalConditions(conds, LogicalAnd, values) == every &&
				EvalConditions(conds, LogicalOr, values) == some
		},
		gen.SliceOf(gen.IntRange(0, 5)),
		gen.SliceOf(gen.Float64Range(-50, 50)),
		gen.Float64Range(-50, 50),
		gen.Float64Range(-50, 50),
		gen.Float64Range(-50, 50),
	))

	properties.TestingRun(t)
}

// TestDivideByZeroProperty: divide(x, 0) always faults, x == 0 included
func TestDivideByZeroProperty(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("division by zero is a fault", prop.ForAll(
		func(x float64) bool {
			_, err := ApplyArithmetic(ArithDivide, x, 0)
			_, errZero := ApplyArithmetic(ArithDivide, 0, 0)
			return errors.Is(err, ErrDivisionByZero) && errors.Is(errZero, ErrDivisionByZero)
		},
		gen.Float64(),
	))

	properties.TestingRun(t)
}
