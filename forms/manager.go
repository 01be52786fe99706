package forms

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/liamcoop/formrules/derived"
	"github.com/liamcoop/formrules/internal/logger"
	"github.com/liamcoop/formrules/rules"
)

// FieldRulePrefix prefixes the rule id of a derived field declared inline on
// a form. Those rules are owned by the form definition.
const FieldRulePrefix = "field:"

// FieldRuleID returns the rule id registered for derived field fieldID
func FieldRuleID(fieldID string) string {
	return FieldRulePrefix + fieldID
}

// CacheFactory returns the rules cache of a form
type CacheFactory func(formID string) rules.RulesCache

// FormEngine is the compiled state of one form version
type FormEngine struct {
	Form      *Form
	Engine    *rules.Engine
	Validator *Validator
}

// Manager keeps one FormEngine per form, loaded from a Store
type Manager struct {
	engines  map[string]*FormEngine
	store    Store
	newCache CacheFactory
	mu       sync.RWMutex
	writeMu  sync.Mutex // serializes create, update and delete
}

// NewManager creates a manager whose engines use in-memory rule caches
func NewManager(store Store) *Manager {
	return NewManagerWithCache(store, func(string) rules.RulesCache {
		return rules.NewInMemoryRulesCache(rules.DefaultCacheConfig())
	})
}

// NewManagerWithCache creates a manager whose engines use caches from newCache
func NewManagerWithCache(store Store, newCache CacheFactory) *Manager {
	return &Manager{
		engines:  make(map[string]*FormEngine),
		store:    store,
		newCache: newCache,
	}
}

// LoadAllForms builds an engine for every stored form
func (m *Manager) LoadAllForms() error {
	forms, err := m.store.List()
	if err != nil {
		return fmt.Errorf("failed to fetch forms: %w", err)
	}

	loaded := make(map[string]*FormEngine, len(forms))
	for _, form := range forms {
		fe, err := m.build(form)
		if err != nil {
			return fmt.Errorf("failed to initialize form %s: %w", form.ID, err)
		}
		loaded[form.ID] = fe
	}

	m.mu.Lock()
	for id, fe := range loaded {
		m.engines[id] = fe
	}
	m.mu.Unlock()

	logger.Info("forms loaded", "count", len(loaded))
	return nil
}

// CreateForm validates and stores a new form, then builds its engine. An
// empty ID is replaced by a fresh UUID.
func (m *Manager) CreateForm(form *Form) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if form.ID == "" {
		form.ID = uuid.NewString()
	}
	if err := ValidateForm(form); err != nil {
		return err
	}

	if err := m.store.Create(form); err != nil {
		return err
	}

	fe, err := m.build(form)
	if err != nil {
		if delErr := m.store.Delete(form.ID); delErr != nil {
			logger.Error("failed to roll back form", "form_id", form.ID, "error", delErr)
		}
		return err
	}

	m.mu.Lock()
	m.engines[form.ID] = fe
	m.mu.Unlock()

	return nil
}

// GetForm returns the loaded version of a form
func (m *Manager) GetForm(formID string) (*Form, error) {
	fe, err := m.formEngine(formID)
	if err != nil {
		return nil, err
	}
	return cloneForm(fe.Form), nil
}

// GetEngine retrieves the rules engine of a form
func (m *Manager) GetEngine(formID string) (*rules.Engine, error) {
	fe, err := m.formEngine(formID)
	if err != nil {
		return nil, err
	}
	return fe.Engine, nil
}

// UpdateForm stores a new version of a form and atomically swaps its engine.
// Requests already holding the previous engine finish against it.
func (m *Manager) UpdateForm(form *Form) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if _, err := m.formEngine(form.ID); err != nil {
		return err
	}
	if err := ValidateForm(form); err != nil {
		return err
	}

	// compile before touching the store so a bad check never becomes active
	if _, err := NewValidator(form); err != nil {
		return err
	}

	if err := m.store.Update(form); err != nil {
		return err
	}

	fe, err := m.build(form)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.engines[form.ID] = fe
	m.mu.Unlock()

	logger.Info("form updated", "form_id", form.ID, "version", form.Version)
	return nil
}

// ListForms returns every loaded form, oldest first
func (m *Manager) ListForms() []*Form {
	m.mu.RLock()
	out := make([]*Form, 0, len(m.engines))
	for _, fe := range m.engines {
		out = append(out, cloneForm(fe.Form))
	}
	m.mu.RUnlock()

	sortForms(out)
	return out
}

// DeleteForm removes a form from the store and drops its engine
func (m *Manager) DeleteForm(formID string) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if err := m.store.Delete(formID); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.engines, formID)
	m.mu.Unlock()

	return nil
}

// Submission is the outcome of submitting values to a form
type Submission struct {
	FormID      string                    `json:"formId"`
	Version     int                       `json:"version"`
	Valid       bool                      `json:"valid"`
	Values      derived.FormValues        `json:"values"`
	FieldErrors []FieldError              `json:"fieldErrors,omitempty"`
	Derived     []*rules.EvaluationResult `json:"derived"`
}

// Submit validates values against the form's field checks and computes every
// derived field. Defaults fill absent inputs; values posted for derived
// fields are discarded. Validation failures are reported in the submission,
// not as an error.
func (m *Manager) Submit(formID string, values derived.FormValues) (*Submission, error) {
	fe, err := m.formEngine(formID)
	if err != nil {
		return nil, err
	}

	input := make(derived.FormValues, len(values))
	for k, v := range values {
		input[k] = v
	}
	for _, field := range fe.Form.Fields {
		if field.Type == FieldDerived {
			delete(input, field.ID)
			continue
		}
		if _, ok := input[field.ID]; !ok && field.DefaultValue != "" {
			input[field.ID] = field.DefaultValue
		}
	}

	fieldErrors := fe.Validator.Check(input)

	out, results, err := fe.Engine.Apply(input)
	if err != nil {
		return nil, fmt.Errorf("failed to compute derived fields: %w", err)
	}

	failures := 0
	for _, res := range results {
		if res.Error == "" {
			continue
		}
		failures++
		args := []any{"form_id", formID, "rule_id", res.RuleID, "error", res.Error}
		if rule, err := fe.Engine.GetRule(res.RuleID); err == nil {
			args = append(args, "cause", derived.Cause(rule.Config, input))
		}
		logger.Debug("derived field failed", args...)
	}
	logger.CountSubmission(failures)

	return &Submission{
		FormID:      formID,
		Version:     fe.Form.Version,
		Valid:       len(fieldErrors) == 0,
		Values:      out,
		FieldErrors: fieldErrors,
		Derived:     results,
	}, nil
}

func (m *Manager) formEngine(formID string) (*FormEngine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fe, exists := m.engines[formID]
	if !exists {
		return nil, fmt.Errorf("form %s: %w", formID, ErrNotFound)
	}
	return fe, nil
}

// build compiles the validator, registers inline derived fields as rules
// and creates the engine of form.
func (m *Manager) build(form *Form) (*FormEngine, error) {
	validator, err := NewValidator(form)
	if err != nil {
		return nil, fmt.Errorf("failed to compile validation: %w", err)
	}

	store := m.store.Rules(form.ID)
	if err := syncFieldRules(store, form); err != nil {
		return nil, err
	}

	engine, err := rules.NewEngineWithCache(store, m.newCache(form.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	return &FormEngine{
		Form:      cloneForm(form),
		Engine:    engine,
		Validator: validator,
	}, nil
}

// syncFieldRules makes the field-owned rules of store match the derived
// fields of form. Rules added through the rules API are left alone.
func syncFieldRules(store rules.RuleStore, form *Form) error {
	existing, err := store.List()
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	wanted := make(map[string]Field)
	for _, field := range form.DerivedFields() {
		wanted[FieldRuleID(field.ID)] = field
	}

	for _, r := range existing {
		if !strings.HasPrefix(r.ID, FieldRulePrefix) {
			continue
		}
		if _, keep := wanted[r.ID]; keep {
			continue
		}
		if err := store.Delete(r.ID); err != nil && !errors.Is(err, rules.ErrRuleNotFound) {
			return fmt.Errorf("failed to remove rule %s: %w", r.ID, err)
		}
	}

	for _, field := range form.DerivedFields() {
		id := FieldRuleID(field.ID)
		rule := &rules.Rule{
			ID:     id,
			Name:   field.Label,
			Config: *field.Derived,
			Active: true,
		}

		err := store.Update(rule)
		if errors.Is(err, rules.ErrRuleNotFound) {
			err = store.Add(rule)
		}
		if err != nil {
			return fmt.Errorf("failed to register derived field %s: %w", field.ID, err)
		}
	}

	return nil
}
