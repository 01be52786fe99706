package derived

import (
	"encoding/json"
	"fmt"
)

// FormValues maps a field id to the raw value currently held by the form input.
type FormValues map[string]any

// ComparisonOperator is the test a Condition applies to a field value.
type ComparisonOperator string

const (
	OpEquals      ComparisonOperator = "equals"
	OpNotEquals   ComparisonOperator = "not_equals"
	OpGreaterThan ComparisonOperator = "greater_than"
	OpLessThan    ComparisonOperator = "less_than"
	OpContains    ComparisonOperator = "contains"
	OpIsEmpty     ComparisonOperator = "is_empty"
)

// IsValid reports whether op is a known comparison operator.
func (op ComparisonOperator) IsValid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpContains, OpIsEmpty:
		return true
	}
	return false
}

// LogicalOperator combines every condition of a Config.
type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

func (op LogicalOperator) IsValid() bool {
	return op == LogicalAnd || op == LogicalOr
}

// ArithmeticOperator is applied between the two operands of a ThenAction.
type ArithmeticOperator string

const (
	ArithMultiply ArithmeticOperator = "multiply"
	ArithAdd      ArithmeticOperator = "add"
	ArithSubtract ArithmeticOperator = "subtract"
	ArithDivide   ArithmeticOperator = "divide"
)

func (op ArithmeticOperator) IsValid() bool {
	switch op {
	case ArithMultiply, ArithAdd, ArithSubtract, ArithDivide:
		return true
	}
	return false
}

// Condition compares one field's current value against a stored string.
// Value is always kept as text; it is coerced at evaluation time.
type Condition struct {
	ID       string             `json:"id"`
	FieldID  string             `json:"fieldId"`
	Operator ComparisonOperator `json:"operator"`
	Value    string             `json:"value"`
}

// OperandType tags an Operand.
type OperandType string

const (
	OperandField    OperandType = "field"
	OperandConstant OperandType = "constant"
)

// Operand is either a reference to a form field or a numeric literal.
// A constant with a nil Value cannot be resolved.
type Operand struct {
	Type    OperandType `json:"type"`
	FieldID string      `json:"fieldId,omitempty"`
	Value   *float64    `json:"value,omitempty"`
}

// FieldOperand references the value of fieldID.
func FieldOperand(fieldID string) Operand {
	return Operand{Type: OperandField, FieldID: fieldID}
}

// ConstantOperand is the literal v.
func ConstantOperand(v float64) Operand {
	return Operand{Type: OperandConstant, Value: &v}
}

// ThenAction sets TargetFieldID to Left <Operator> Right.
type ThenAction struct {
	TargetFieldID string             `json:"targetFieldId"`
	Operator      ArithmeticOperator `json:"operator"`
	Left          Operand            `json:"left"`
	Right         Operand            `json:"right"`
}

// ElseBranch is the outcome used when the condition set is not satisfied:
// either an arithmetic action or a constant. Action == nil marks the
// constant form; Constant may then still be nil.
type ElseBranch struct {
	Action   *ThenAction
	Constant *float64
}

// ElseConstant returns a constant else branch.
func ElseConstant(v float64) ElseBranch {
	return ElseBranch{Constant: &v}
}

// ElseAction returns an else branch computing action.
func ElseAction(action ThenAction) ElseBranch {
	return ElseBranch{Action: &action}
}

// IsConstant reports whether the branch is the constant form.
func (e ElseBranch) IsConstant() bool {
	return e.Action == nil
}

func (e ElseBranch) MarshalJSON() ([]byte, error) {
	if e.Action != nil {
		return json.Marshal(e.Action)
	}
	return json.Marshal(struct {
		Type  OperandType `json:"type"`
		Value *float64    `json:"value"`
	}{OperandConstant, e.Constant})
}

func (e *ElseBranch) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type  OperandType `json:"type"`
		Value *float64    `json:"value"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("else branch: %w", err)
	}
	if probe.Type == OperandConstant {
		*e = ElseBranch{Constant: probe.Value}
		return nil
	}

	var action ThenAction
	if err := json.Unmarshal(data, &action); err != nil {
		return fmt.Errorf("else branch: %w", err)
	}
	*e = ElseBranch{Action: &action}
	return nil
}

// Config is a complete conditional derivation: when Conditions combined by
// LogicalOperator hold, Then is computed, otherwise Else.
type Config struct {
	Conditions      []Condition     `json:"conditions"`
	LogicalOperator LogicalOperator `json:"logicalOperator"`
	Then            ThenAction      `json:"then"`
	Else            ElseBranch      `json:"else"`
}

// Result is the outcome of Evaluate. Value is nil when the selected branch
// could not be computed; Error then carries a diagnostic.
type Result struct {
	Hit   bool     `json:"hit"`
	Value *float64 `json:"value"`
	Error string   `json:"error,omitempty"`
}

// ConditionTrace is the outcome of a single condition, in config order.
type ConditionTrace struct {
	ConditionID string             `json:"conditionId"`
	FieldID     string             `json:"fieldId"`
	Operator    ComparisonOperator `json:"operator"`
	Matched     bool               `json:"matched"`
}
