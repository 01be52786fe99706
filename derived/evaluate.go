package derived

import "fmt"

const (
	thenFailure = "Then action produced NaN"
	elseFailure = "Else action produced NaN"
)

// Evaluate decides whether cfg's condition set holds for values and computes
// the THEN or ELSE result. It never panics and never returns an error: any
// failure is reported in Result.Error with a nil Value.
func Evaluate(cfg Config, values FormValues) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Hit: false, Value: nil, Error: fmt.Sprint(r)}
		}
	}()

	if EvalConditions(cfg.Conditions, cfg.LogicalOperator, values) {
		v, err := EvalAction(cfg.Then, values)
		if err != nil {
			return Result{Hit: true, Error: thenFailure}
		}
		return Result{Hit: true, Value: &v}
	}

	// a constant else never fails, even without a value
	if cfg.Else.IsConstant() {
		if cfg.Else.Constant == nil {
			return Result{Hit: false}
		}
		v := *cfg.Else.Constant
		return Result{Hit: false, Value: &v}
	}

	v, err := EvalAction(*cfg.Else.Action, values)
	if err != nil {
		return Result{Hit: false, Error: elseFailure}
	}
	return Result{Hit: false, Value: &v}
}

// EvaluateWithTrace is Evaluate plus the per-condition outcomes.
func EvaluateWithTrace(cfg Config, values FormValues) (Result, []ConditionTrace) {
	return Evaluate(cfg, values), Trace(cfg, values)
}

// Cause explains why the selected branch of cfg failed, or returns nil when
// Evaluate would produce a value. Result.Error keeps a stable message; Cause
// exposes the underlying fault for logging.
func Cause(cfg Config, values FormValues) error {
	if EvalConditions(cfg.Conditions, cfg.LogicalOperator, values) {
		if _, err := EvalAction(cfg.Then, values); err != nil {
			return fmt.Errorf("then: %w", err)
		}
		return nil
	}
	if cfg.Else.IsConstant() {
		return nil
	}
	if _, err := EvalAction(*cfg.Else.Action, values); err != nil {
		return fmt.Errorf("else: %w", err)
	}
	return nil
}
