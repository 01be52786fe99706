package derived

import "strings"

// EvalCondition tests cond against the current form values. A missing field
// is treated as null. Unknown operators never match.
func EvalCondition(cond Condition, values FormValues) bool {
	return compareValues(values[cond.FieldID], cond.Operator, cond.Value)
}

// EvalConditions combines conds with op, in list order. An empty list never
// matches. Any operator other than AND requires at least one match.
func EvalConditions(conds []Condition, op LogicalOperator, values FormValues) bool {
	if len(conds) == 0 {
		return false
	}
	if op == LogicalAnd {
		for _, c := range conds {
			if !EvalCondition(c, values) {
				return false
			}
		}
		return true
	}
	for _, c := range conds {
		if EvalCondition(c, values) {
			return true
		}
	}
	return false
}

// Trace reports every condition's outcome in config order. Unlike
// EvalConditions it never stops early.
func Trace(cfg Config, values FormValues) []ConditionTrace {
	out := make([]ConditionTrace, 0, len(cfg.Conditions))
	for _, c := range cfg.Conditions {
		out = append(out, ConditionTrace{
			ConditionID: c.ID,
			FieldID:     c.FieldID,
			Operator:    c.Operator,
			Matched:     EvalCondition(c, values),
		})
	}
	return out
}

func compareValues(raw any, op ComparisonOperator, rightRaw string) bool {
	left := Coerce(raw)
	right := Coerce(rightRaw)

	switch op {
	case OpEquals:
		return looseEqual(left, right)
	case OpNotEquals:
		return !looseEqual(left, right)
	case OpGreaterThan:
		if left.Kind == KindNull {
			return false
		}
		if left.Kind == KindDate && right.Kind == KindDate {
			return left.Time.After(right.Time)
		}
		// NaN compares false either way
		return left.ordinal() > right.ordinal()
	case OpLessThan:
		if left.Kind == KindNull {
			return false
		}
		if left.Kind == KindDate && right.Kind == KindDate {
			return left.Time.Before(right.Time)
		}
		return left.ordinal() < right.ordinal()
	case OpContains:
		if left.Kind == KindNull {
			return false
		}
		return strings.Contains(strings.ToLower(left.Text), strings.ToLower(right.Text))
	case OpIsEmpty:
		return isEmpty(raw)
	default:
		return false
	}
}

// looseEqual compares coerced values: null only equals null, numbers
// compare numerically, dates by instant, and anything else by string form.
// "5" and 5 are therefore equal.
func looseEqual(left, right Value) bool {
	switch {
	case left.Kind == KindNull || right.Kind == KindNull:
		return left.Kind == right.Kind
	case left.Kind == KindNumber && right.Kind == KindNumber:
		return left.Number == right.Number
	case left.Kind == KindDate && right.Kind == KindDate:
		return left.Time.Equal(right.Time)
	default:
		return left.Text == right.Text
	}
}

// isEmpty is true only for a missing value or the empty string; 0 and false
// are values.
func isEmpty(raw any) bool {
	if raw == nil {
		return true
	}
	s, ok := raw.(string)
	return ok && s == ""
}
