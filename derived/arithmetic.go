package derived

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnresolvedOperand is returned when an operand has no numeric value:
	// a missing field, a date, non-blank text that is not a number, or a
	// constant without a value. Blank text resolves to 0.
	ErrUnresolvedOperand = errors.New("operand cannot be resolved to a number")
	// ErrDivisionByZero is returned instead of an infinite quotient.
	ErrDivisionByZero  = errors.New("division by zero")
	ErrUnknownOperator = errors.New("unknown arithmetic operator")
	// ErrNonFinite is returned when finite operands overflow. An overflow is
	// an error on purpose, not an Infinity result, since JSON cannot carry ±Inf.
	ErrNonFinite = errors.New("result is not a finite number")
)

// ResolveOperand turns op into a number using the current form values.
func ResolveOperand(op Operand, values FormValues) (float64, error) {
	switch op.Type {
	case OperandConstant:
		if op.Value == nil || !isFinite(*op.Value) {
			return 0, fmt.Errorf("constant: %w", ErrUnresolvedOperand)
		}
		return *op.Value, nil
	case OperandField:
		raw, ok := values[op.FieldID]
		if !ok || raw == nil {
			return 0, fmt.Errorf("field %q is empty: %w", op.FieldID, ErrUnresolvedOperand)
		}
		// dates are never arithmetic operands
		if _, isTime := raw.(time.Time); isTime {
			return 0, fmt.Errorf("field %q holds a date: %w", op.FieldID, ErrUnresolvedOperand)
		}
		v := Coerce(raw)
		if v.blank() {
			return 0, nil
		}
		if v.Kind != KindNumber {
			return 0, fmt.Errorf("field %q holds %s %q: %w", op.FieldID, v.Kind, v.Text, ErrUnresolvedOperand)
		}
		return v.Number, nil
	default:
		return 0, fmt.Errorf("operand type %q: %w", op.Type, ErrUnresolvedOperand)
	}
}

// ApplyArithmetic computes left <op> right.
func ApplyArithmetic(op ArithmeticOperator, left, right float64) (float64, error) {
	var out float64
	switch op {
	case ArithMultiply:
		out = left * right
	case ArithAdd:
		out = left + right
	case ArithSubtract:
		out = left - right
	case ArithDivide:
		if right == 0 {
			return 0, ErrDivisionByZero
		}
		out = left / right
	default:
		return 0, fmt.Errorf("%q: %w", op, ErrUnknownOperator)
	}
	if !isFinite(out) {
		return 0, fmt.Errorf("%s: %w", op, ErrNonFinite)
	}
	return out, nil
}

// EvalAction resolves both operands and applies the operator. An operand
// that cannot be resolved short-circuits before any arithmetic.
func EvalAction(action ThenAction, values FormValues) (float64, error) {
	left, err := ResolveOperand(action.Left, values)
	if err != nil {
		return 0, fmt.Errorf("left operand: %w", err)
	}
	right, err := ResolveOperand(action.Right, values)
	if err != nil {
		return 0, fmt.Errorf("right operand: %w", err)
	}
	return ApplyArithmetic(action.Operator, left, right)
}
