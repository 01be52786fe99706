package rules

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrRuleExists   = errors.New("rule already exists")
)

// RuleStore manages rule persistence and retrieval for one form
type RuleStore interface {
	// Add a new rule
	Add(rule *Rule) error

	// Get a rule by ID
	Get(id string) (*Rule, error)

	// List all rules, active or not
	List() ([]*Rule, error)

	// List all active rules
	ListActive() ([]*Rule, error)

	// Update an existing rule
	Update(rule *Rule) error

	// Delete a rule
	Delete(id string) error
}

// InMemoryRuleStore implements RuleStore using an in-memory map
// Thread-safe with RWMutex
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Add adds a new rule to the store and stamps CreatedAt and UpdatedAt
func (s *InMemoryRuleStore) Add(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleExists)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return nil
}

// Get retrieves a rule by ID
func (s *InMemoryRuleStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}
	return rule, nil
}

// List returns every rule, oldest first
func (s *InMemoryRuleStore) List() ([]*Rule, error) {
	return s.collect(func(*Rule) bool { return true }), nil
}

// ListActive returns all active rules, oldest first
func (s *InMemoryRuleStore) ListActive() ([]*Rule, error) {
	return s.collect(func(r *Rule) bool { return r.Active }), nil
}

func (s *InMemoryRuleStore) collect(keep func(*Rule) bool) []*Rule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, rule := range s.rules {
		if keep(rule) {
			out = append(out, rule)
		}
	}

	// creation order, same as the Postgres store
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Update updates an existing rule, preserving CreatedAt
func (s *InMemoryRuleStore) Update(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleNotFound)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule
	return nil
}

// Delete removes a rule from the store
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}

	delete(s.rules, id)
	return nil
}
