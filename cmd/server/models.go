package main

import (
	"encoding/json"
	"time"

	"github.com/liamcoop/formrules/derived"
	"github.com/liamcoop/formrules/forms"
	"github.com/liamcoop/formrules/internal/logger"
	"github.com/liamcoop/formrules/rules"
)

// API Request and Response Models

// PreviewRequest evaluates a config that is not stored anywhere
type PreviewRequest struct {
	Config json.RawMessage    `json:"config"`
	Values derived.FormValues `json:"values"`
	Trace  bool               `json:"trace,omitempty"`
} // @name PreviewRequest

// PreviewResponse carries the evaluator outcome. Problem is set when the
// config would be rejected on save.
type PreviewResponse struct {
	Result  derived.Result           `json:"result"`
	Trace   []derived.ConditionTrace `json:"trace,omitempty"`
	Problem string                   `json:"problem,omitempty" example:"add at least one condition"`
} // @name PreviewResponse

// EvaluateRequest represents the request body for evaluating the rules of a form
type EvaluateRequest struct {
	FormID string             `json:"formId" example:"checkout" binding:"required"`
	Values derived.FormValues `json:"values" binding:"required"`
	Rules  []string           `json:"rules,omitempty" example:"field:discount"`
} // @name EvaluateRequest

// EvaluateResponse represents the response for rule evaluation
type EvaluateResponse struct {
	Results        []*rules.EvaluationResult `json:"results"`
	EvaluationTime string                    `json:"evaluationTime" example:"120µs"`
} // @name EvaluateResponse

// FormsListResponse represents the response for listing forms
type FormsListResponse struct {
	Forms []*forms.Form `json:"forms"`
} // @name FormsListResponse

// RuleRequest is the body of rule create and update. Active defaults to true.
type RuleRequest struct {
	Name   string          `json:"name" example:"Senior discount"`
	Config json.RawMessage `json:"config" binding:"required"`
	Active *bool           `json:"active,omitempty" example:"true"`
} // @name RuleRequest

// RulesListResponse represents the response for listing rules
type RulesListResponse struct {
	Rules []*rules.Rule `json:"rules"`
} // @name RulesListResponse

// SubmitRequest carries the raw values of a form submission
type SubmitRequest struct {
	Values derived.FormValues `json:"values"`
} // @name SubmitRequest

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error" example:"form not found"`
	Details string `json:"details,omitempty"`
} // @name ErrorResponse

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string       `json:"status" example:"healthy"`
	Store       string       `json:"store" example:"postgres"`
	Cache       string       `json:"cache" example:"redis"`
	FormsLoaded int          `json:"formsLoaded"`
	Stats       logger.Stats `json:"stats"`
	Error       string       `json:"error,omitempty"`
	CheckedAt   time.Time    `json:"checkedAt"`
} // @name HealthResponse
