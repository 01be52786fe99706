package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/liamcoop/formrules/derived"
	"github.com/liamcoop/formrules/forms"
	"github.com/liamcoop/formrules/internal/logger"
	"github.com/liamcoop/formrules/rules"
)

const maxBodyBytes = 1 << 20

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:      "healthy",
		Store:       "memory",
		Cache:       "memory",
		FormsLoaded: len(s.manager.ListForms()),
		CheckedAt:   time.Now().UTC(),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.db != nil {
		resp.Store = "postgres"
		if err := s.db.PingContext(ctx); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
		}
	}
	if s.redis != nil {
		resp.Cache = "redis"
		if err := s.redis.Ping(ctx).Err(); err != nil && resp.Error == "" {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
		}
	}

	resp.Stats = logger.Snapshot()
	if resp.Status != "healthy" {
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Preview evaluates an unsaved config against sample values
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Config) == 0 {
		respondError(w, http.StatusBadRequest, "config is required", nil)
		return
	}

	cfg, err := rules.DecodeConfig(req.Config)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid config", err)
		return
	}
	if req.Values == nil {
		req.Values = derived.FormValues{}
	}

	res, trace := derived.EvaluateWithTrace(cfg, req.Values)
	resp := PreviewResponse{Result: res}
	if req.Trace {
		resp.Trace = trace
	}
	if err := derived.Validate(cfg); err != nil {
		resp.Problem = err.Error()
	}

	respondJSON(w, http.StatusOK, resp)
}

// Evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.FormID == "" {
		respondError(w, http.StatusBadRequest, "formId is required", nil)
		return
	}
	if req.Values == nil {
		respondError(w, http.StatusBadRequest, "values are required", nil)
		return
	}

	engine, err := s.manager.GetEngine(req.FormID)
	if err != nil {
		respondManagerError(w, "form not found", err)
		return
	}

	startTime := time.Now()

	var results []*rules.EvaluationResult
	if len(req.Rules) > 0 {
		results = make([]*rules.EvaluationResult, 0, len(req.Rules))
		for _, ruleID := range req.Rules {
			result, err := engine.Evaluate(ruleID, req.Values)
			if err != nil {
				// unknown ids and invalid stored configs are skipped
				logger.Warn("rule evaluation skipped", "form_id", req.FormID, "rule_id", ruleID, "error", err)
				continue
			}
			results = append(results, result)
		}
	} else {
		results, err = engine.EvaluateAll(req.Values)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "evaluation failed", err)
			return
		}
	}

	respondJSON(w, http.StatusOK, EvaluateResponse{
		Results:        results,
		EvaluationTime: time.Since(startTime).String(),
	})
}

func (s *Server) handleListForms(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, FormsListResponse{Forms: s.manager.ListForms()})
}

func (s *Server) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	var form forms.Form
	if !decodeBody(w, r, &form) {
		return
	}

	if err := forms.ValidateForm(&form); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form", err)
		return
	}

	if err := s.manager.CreateForm(&form); err != nil {
		respondManagerError(w, "failed to create form", err)
		return
	}

	created, err := s.manager.GetForm(form.ID)
	if err != nil {
		respondManagerError(w, "failed to load form", err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	form, err := s.manager.GetForm(chi.URLParam(r, "formId"))
	if err != nil {
		respondManagerError(w, "form not found", err)
		return
	}
	respondJSON(w, http.StatusOK, form)
}

// Update form handler. The new version is compiled before it replaces the
// running one.
func (s *Server) handleUpdateForm(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formId")

	var form forms.Form
	if !decodeBody(w, r, &form) {
		return
	}
	if form.ID != "" && form.ID != formID {
		respondError(w, http.StatusBadRequest, "form id does not match the URL", nil)
		return
	}
	form.ID = formID

	if _, err := s.manager.GetForm(formID); err != nil {
		respondManagerError(w, "form not found", err)
		return
	}
	if err := forms.ValidateForm(&form); err != nil {
		respondError(w, http.StatusBadRequest, "invalid form", err)
		return
	}

	if err := s.manager.UpdateForm(&form); err != nil {
		respondManagerError(w, "failed to update form", err)
		return
	}

	updated, err := s.manager.GetForm(formID)
	if err != nil {
		respondManagerError(w, "failed to load form", err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteForm(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.DeleteForm(chi.URLParam(r, "formId")); err != nil {
		respondManagerError(w, "failed to delete form", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Submit handler. A submission that fails field validation is answered
// with 422 and still carries the computed values.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formId")

	var req SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Values == nil {
		req.Values = derived.FormValues{}
	}

	sub, err := s.manager.Submit(formID, req.Values)
	if err != nil {
		respondManagerError(w, "submission failed", err)
		return
	}

	if !sub.Valid {
		logger.WarnHttp4xx(http.StatusUnprocessableEntity)
		respondJSON(w, http.StatusUnprocessableEntity, sub)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formId")

	var req RuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cfg, ok := decodeRuleConfig(w, req)
	if !ok {
		return
	}

	engine, err := s.manager.GetEngine(formID)
	if err != nil {
		respondManagerError(w, "form not found", err)
		return
	}

	now := time.Now()
	rule := &rules.Rule{
		ID:        uuid.NewString(),
		FormID:    formID,
		Name:      req.Name,
		Config:    cfg,
		Active:    req.Active == nil || *req.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := engine.AddRule(rule); err != nil {
		respondManagerError(w, "failed to add rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	engine, err := s.manager.GetEngine(chi.URLParam(r, "formId"))
	if err != nil {
		respondManagerError(w, "form not found", err)
		return
	}

	list, err := engine.ListRules()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}
	if list == nil {
		list = []*rules.Rule{}
	}

	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	engine, err := s.manager.GetEngine(chi.URLParam(r, "formId"))
	if err != nil {
		respondManagerError(w, "form not found", err)
		return
	}

	rule, err := engine.GetRule(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondManagerError(w, "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	formID := chi.URLParam(r, "formId")
	ruleID := chi.URLParam(r, "ruleId")

	if strings.HasPrefix(ruleID, forms.FieldRulePrefix) {
		respondError(w, http.StatusBadRequest, "rule belongs to a derived field, update the form instead", nil)
		return
	}

	var req RuleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cfg, ok := decodeRuleConfig(w, req)
	if !ok {
		return
	}

	engine, err := s.manager.GetEngine(formID)
	if err != nil {
		respondManagerError(w, "form not found", err)
		return
	}

	existing, err := engine.GetRule(ruleID)
	if err != nil {
		respondManagerError(w, "rule not found", err)
		return
	}

	rule := &rules.Rule{
		ID:        ruleID,
		FormID:    formID,
		Name:      req.Name,
		Config:    cfg,
		Active:    existing.Active,
		CreatedAt: existing.CreatedAt,
		UpdatedAt: time.Now(),
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := engine.UpdateRule(rule); err != nil {
		respondManagerError(w, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")
	if strings.HasPrefix(ruleID, forms.FieldRulePrefix) {
		respondError(w, http.StatusBadRequest, "rule belongs to a derived field, update the form instead", nil)
		return
	}

	engine, err := s.manager.GetEngine(chi.URLParam(r, "formId"))
	if err != nil {
		respondManagerError(w, "form not found", err)
		return
	}

	if err := engine.DeleteRule(ruleID); err != nil {
		respondManagerError(w, "rule not found", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// decodeRuleConfig checks the config document against the schema and the
// save-time checks of the editor.
func decodeRuleConfig(w http.ResponseWriter, req RuleRequest) (derived.Config, bool) {
	if len(req.Config) == 0 {
		respondError(w, http.StatusBadRequest, "config is required", nil)
		return derived.Config{}, false
	}

	cfg, err := rules.DecodeConfig(req.Config)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid config", err)
		return derived.Config{}, false
	}
	if err := derived.Validate(cfg); err != nil {
		respondError(w, http.StatusBadRequest, "invalid config", err)
		return derived.Config{}, false
	}
	return cfg, true
}

// Helper functions
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

// respondManagerError maps store and engine sentinels to status codes
func respondManagerError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, forms.ErrNotFound), errors.Is(err, rules.ErrRuleNotFound):
		respondError(w, http.StatusNotFound, message, err)
	case errors.Is(err, forms.ErrAlreadyExists), errors.Is(err, rules.ErrRuleExists):
		respondError(w, http.StatusConflict, message, err)
	default:
		respondError(w, http.StatusInternalServerError, message, err)
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}

	if status >= 500 {
		logger.ErrorHttp5xx()
		logger.Logger.Error(message, "status", status, "error", err)
	} else {
		logger.WarnHttp4xx(status)
	}

	respondJSON(w, status, response)
}
