package derived

import (
	"fmt"

	"github.com/google/uuid"
)

// NewCondition returns an empty equals-condition on fieldID with a fresh id.
func NewCondition(fieldID string) Condition {
	return Condition{
		ID:       uuid.NewString(),
		FieldID:  fieldID,
		Operator: OpEquals,
		Value:    "",
	}
}

// DefaultThenAction multiplies fieldID by 0.1 and writes it back to fieldID.
func DefaultThenAction(fieldID string) ThenAction {
	return ThenAction{
		TargetFieldID: fieldID,
		Operator:      ArithMultiply,
		Left:          FieldOperand(fieldID),
		Right:         ConstantOperand(0.1),
	}
}

// DefaultConfig is the starting point of a new conditional derivation.
func DefaultConfig(fieldID string) Config {
	return Config{
		Conditions:      []Condition{NewCondition(fieldID)},
		LogicalOperator: LogicalAnd,
		Then:            DefaultThenAction(fieldID),
		Else:            ElseConstant(0),
	}
}

// Validate checks that cfg is complete enough to be saved. Evaluate does not
// require it; an invalid config simply never produces a useful result.
func Validate(cfg Config) error {
	if len(cfg.Conditions) == 0 {
		return fmt.Errorf("add at least one condition")
	}
	if cfg.Then.TargetFieldID == "" {
		return fmt.Errorf("select a target field for THEN")
	}
	if !cfg.LogicalOperator.IsValid() {
		return fmt.Errorf("invalid logical operator %q (must be AND or OR)", cfg.LogicalOperator)
	}

	seen := make(map[string]bool, len(cfg.Conditions))
	for i, c := range cfg.Conditions {
		if c.FieldID == "" {
			return fmt.Errorf("condition %d has no field", i+1)
		}
		if !c.Operator.IsValid() {
			return fmt.Errorf("condition %d has invalid operator %q", i+1, c.Operator)
		}
		if c.ID != "" {
			if seen[c.ID] {
				return fmt.Errorf("duplicate condition id %q", c.ID)
			}
			seen[c.ID] = true
		}
	}

	if err := validateAction(cfg.Then); err != nil {
		return fmt.Errorf("then: %w", err)
	}
	if !cfg.Else.IsConstant() {
		if err := validateAction(*cfg.Else.Action); err != nil {
			return fmt.Errorf("else: %w", err)
		}
	}
	return nil
}

func validateAction(a ThenAction) error {
	if !a.Operator.IsValid() {
		return fmt.Errorf("invalid arithmetic operator %q", a.Operator)
	}
	if err := validateOperand(a.Left); err != nil {
		return fmt.Errorf("left operand: %w", err)
	}
	if err := validateOperand(a.Right); err != nil {
		return fmt.Errorf("right operand: %w", err)
	}
	return nil
}

func validateOperand(op Operand) error {
	switch op.Type {
	case OperandField:
		if op.FieldID == "" {
			return fmt.Errorf("field operand needs a field id")
		}
	case OperandConstant:
		if op.Value == nil {
			return fmt.Errorf("constant operand needs a value")
		}
	default:
		return fmt.Errorf("unknown operand type %q", op.Type)
	}
	return nil
}

// ReferencedFields lists the field ids cfg reads, in first-seen order.
func ReferencedFields(cfg Config) []string {
	var out []string
	seen := map[string]bool{}
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, c := range cfg.Conditions {
		add(c.FieldID)
	}
	addAction := func(a ThenAction) {
		if a.Left.Type == OperandField {
			add(a.Left.FieldID)
		}
		if a.Right.Type == OperandField {
			add(a.Right.FieldID)
		}
	}
	addAction(cfg.Then)
	if !cfg.Else.IsConstant() {
		addAction(*cfg.Else.Action)
	}
	return out
}
