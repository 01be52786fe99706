package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/liamcoop/formrules/derived"
)

// preparedRule is a validated config and the UpdatedAt of the rule it came
// from. A stored rule with a different UpdatedAt is prepared again.
type preparedRule struct {
	config    derived.Config
	updatedAt time.Time
}

// Engine validates, stores and evaluates the derived rules of one form.
// Safe for concurrent use: prepared configs are guarded by an RWMutex.
type Engine struct {
	store    RuleStore
	cache    RulesCache              // active rules list
	prepared map[string]preparedRule // ruleID -> validated config
	mu       sync.RWMutex
}

// NewEngine creates an engine with an in-memory rules cache and prepares
// every active rule already in the store.
func NewEngine(store RuleStore) (*Engine, error) {
	return NewEngineWithCache(store, NewInMemoryRulesCache(DefaultCacheConfig()))
}

// NewEngineWithCache lets deployments share the rules cache (e.g. Redis)
func NewEngineWithCache(store RuleStore, cache RulesCache) (*Engine, error) {
	en := &Engine{
		store:    store,
		cache:    cache,
		prepared: make(map[string]preparedRule),
	}

	if err := en.PrepareAllRules(); err != nil {
		return nil, fmt.Errorf("failed to prepare rules: %w", err)
	}

	return en, nil
}

// PrepareRule validates cfg and keeps it for evaluation under ruleID
func (en *Engine) PrepareRule(ruleID string, cfg derived.Config) error {
	return en.prepare(ruleID, cfg, time.Time{})
}

func (en *Engine) prepare(ruleID string, cfg derived.Config, updatedAt time.Time) error {
	if err := derived.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	en.mu.Lock()
	en.prepared[ruleID] = preparedRule{config: cfg, updatedAt: updatedAt}
	en.mu.Unlock()

	return nil
}

// PrepareAllRules prepares all active rules from the store and refreshes the cache
func (en *Engine) PrepareAllRules() error {
	rules, err := en.store.ListActive()
	if err != nil {
		return err
	}

	for _, rule := range rules {
		if err := en.prepare(rule.ID, rule.Config, rule.UpdatedAt); err != nil {
			return fmt.Errorf("failed to prepare rule %s: %w", rule.ID, err)
		}
	}

	en.cache.Set(rules)

	return nil
}

// Evaluate evaluates the stored version of a single rule against the
// provided form values. Evaluation failures are reported inside the result;
// the error is only set when the rule cannot be found or its stored config
// is invalid.
func (en *Engine) Evaluate(ruleID string, values derived.FormValues) (*EvaluationResult, error) {
	rule, err := en.store.Get(ruleID)
	if err != nil {
		return nil, err
	}

	cfg, err := en.preparedConfig(rule)
	if err != nil {
		return nil, err
	}

	return evaluateRule(rule, cfg, values), nil
}

// EvaluateAll evaluates every active rule against the same values, in
// store order. A rule that cannot be prepared yields a result carrying the
// error; the remaining rules are still evaluated.
func (en *Engine) EvaluateAll(values derived.FormValues) ([]*EvaluationResult, error) {
	rules, err := en.activeRules()
	if err != nil {
		return nil, err
	}

	results := make([]*EvaluationResult, 0, len(rules))
	for _, rule := range rules {
		cfg, err := en.preparedConfig(rule)
		if err != nil {
			results = append(results, &EvaluationResult{
				RuleID:        rule.ID,
				RuleName:      rule.Name,
				TargetFieldID: rule.TargetFieldID(),
				Error:         err.Error(),
			})
			continue
		}
		results = append(results, evaluateRule(rule, cfg, values))
	}

	return results, nil
}

// Apply computes every active rule against values and returns a copy of
// values with each rule's target field set to its result (nil when the rule
// failed). Rules never see each other's output.
func (en *Engine) Apply(values derived.FormValues) (derived.FormValues, []*EvaluationResult, error) {
	results, err := en.EvaluateAll(values)
	if err != nil {
		return nil, nil, err
	}

	out := make(derived.FormValues, len(values)+len(results))
	for k, v := range values {
		out[k] = v
	}
	for _, res := range results {
		if res.TargetFieldID == "" {
			continue
		}
		if res.Value == nil {
			out[res.TargetFieldID] = nil
			continue
		}
		out[res.TargetFieldID] = *res.Value
	}

	return out, results, nil
}

// AddRule validates the config, then stores the rule. The prepared config
// is dropped again if the store rejects the rule.
func (en *Engine) AddRule(r *Rule) error {
	if _, err := en.store.Get(r.ID); err == nil {
		return fmt.Errorf("rule with ID %s: %w", r.ID, ErrRuleExists)
	}

	if err := en.prepare(r.ID, r.Config, r.UpdatedAt); err != nil {
		return fmt.Errorf("rule validation failed: %w", err)
	}

	if err := en.store.Add(r); err != nil {
		en.mu.Lock()
		delete(en.prepared, r.ID)
		en.mu.Unlock()
		return err
	}

	// the store stamps UpdatedAt
	en.mu.Lock()
	en.prepared[r.ID] = preparedRule{config: r.Config, updatedAt: r.UpdatedAt}
	en.mu.Unlock()

	en.cache.Invalidate()

	return nil
}

// UpdateRule validates the new config before replacing the stored rule
func (en *Engine) UpdateRule(r *Rule) error {
	if err := derived.Validate(r.Config); err != nil {
		return fmt.Errorf("rule validation failed: invalid config: %w", err)
	}

	if err := en.store.Update(r); err != nil {
		return err
	}

	en.mu.Lock()
	en.prepared[r.ID] = preparedRule{config: r.Config, updatedAt: r.UpdatedAt}
	en.mu.Unlock()

	en.cache.Invalidate()

	return nil
}

// DeleteRule removes a rule from the store and from the prepared set
func (en *Engine) DeleteRule(ruleID string) error {
	if err := en.store.Delete(ruleID); err != nil {
		return err
	}

	en.mu.Lock()
	delete(en.prepared, ruleID)
	en.mu.Unlock()

	en.cache.Invalidate()

	return nil
}

// GetRule returns the stored rule
func (en *Engine) GetRule(ruleID string) (*Rule, error) {
	return en.store.Get(ruleID)
}

// ListRules returns all stored rules, active or not
func (en *Engine) ListRules() ([]*Rule, error) {
	return en.store.List()
}

func (en *Engine) activeRules() ([]*Rule, error) {
	if rules := en.cache.Get(); rules != nil {
		return rules, nil
	}

	rules, err := en.store.ListActive()
	if err != nil {
		return nil, err
	}
	en.cache.Set(rules)
	return rules, nil
}

// preparedConfig returns the validated config of rule. The rule is prepared
// again when this engine has not seen its current version, which happens
// when another instance stores or updates it through a shared store or cache.
func (en *Engine) preparedConfig(rule *Rule) (derived.Config, error) {
	en.mu.RLock()
	p, exists := en.prepared[rule.ID]
	en.mu.RUnlock()
	if exists && p.updatedAt.Equal(rule.UpdatedAt) && !rule.UpdatedAt.IsZero() {
		return p.config, nil
	}

	if err := en.prepare(rule.ID, rule.Config, rule.UpdatedAt); err != nil {
		return derived.Config{}, fmt.Errorf("rule %s: %w", rule.ID, err)
	}
	return rule.Config, nil
}

func evaluateRule(rule *Rule, cfg derived.Config, values derived.FormValues) *EvaluationResult {
	res, trace := derived.EvaluateWithTrace(cfg, values)
	return &EvaluationResult{
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		TargetFieldID: cfg.Then.TargetFieldID,
		Hit:           res.Hit,
		Value:         res.Value,
		Error:         res.Error,
		Trace:         trace,
	}
}
