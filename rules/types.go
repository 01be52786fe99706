package rules

import (
	"time"

	"github.com/liamcoop/formrules/derived"
)

// Rule is a stored derived-field rule: a conditional config attached to a form.
type Rule struct {
	ID        string         `json:"id"`
	FormID    string         `json:"formId"`
	Name      string         `json:"name"`
	Config    derived.Config `json:"config"`
	Active    bool           `json:"active"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// TargetFieldID is the field the rule writes.
func (r *Rule) TargetFieldID() string {
	return r.Config.Then.TargetFieldID
}

// EvaluationResult contains the outcome of evaluating one rule
type EvaluationResult struct {
	RuleID        string                   `json:"ruleId"`
	RuleName      string                   `json:"ruleName"`
	TargetFieldID string                   `json:"targetFieldId"`
	Hit           bool                     `json:"hit"`
	Value         *float64                 `json:"value"`
	Error         string                   `json:"error,omitempty"`
	Trace         []derived.ConditionTrace `json:"trace,omitempty"`
}
