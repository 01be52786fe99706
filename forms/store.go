package forms

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/formrules/rules"
)

// Store persists versioned form definitions and hands out the rule store of
// each form.
type Store interface {
	// Create stores form as version 1
	Create(form *Form) error

	// Get returns the active version of a form
	Get(id string) (*Form, error)

	// List returns the active version of every form, oldest first
	List() ([]*Form, error)

	// Update stores form as a new active version and sets form.Version
	Update(form *Form) error

	// Delete removes a form, its versions and its rules
	Delete(id string) error

	// Rules returns the rule store of a form
	Rules(formID string) rules.RuleStore
}

// InMemoryStore implements Store with maps guarded by an RWMutex
type InMemoryStore struct {
	versions map[string][]*Form
	rules    map[string]*rules.InMemoryRuleStore
	mu       sync.RWMutex
}

// NewInMemoryStore creates an empty in-memory form store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		versions: make(map[string][]*Form),
		rules:    make(map[string]*rules.InMemoryRuleStore),
	}
}

func (s *InMemoryStore) Create(form *Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.versions[form.ID]; exists {
		return fmt.Errorf("form %s: %w", form.ID, ErrAlreadyExists)
	}

	now := time.Now()
	form.Version = 1
	form.CreatedAt = now
	form.UpdatedAt = now
	s.versions[form.ID] = []*Form{cloneForm(form)}
	return nil
}

func (s *InMemoryStore) Get(id string) (*Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions, exists := s.versions[id]
	if !exists {
		return nil, fmt.Errorf("form %s: %w", id, ErrNotFound)
	}
	return cloneForm(versions[len(versions)-1]), nil
}

func (s *InMemoryStore) List() ([]*Form, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Form, 0, len(s.versions))
	for _, versions := range s.versions {
		out = append(out, cloneForm(versions[len(versions)-1]))
	}
	sortForms(out)
	return out, nil
}

func (s *InMemoryStore) Update(form *Form) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, exists := s.versions[form.ID]
	if !exists {
		return fmt.Errorf("form %s: %w", form.ID, ErrNotFound)
	}

	latest := versions[len(versions)-1]
	form.Version = latest.Version + 1
	form.CreatedAt = latest.CreatedAt
	form.UpdatedAt = time.Now()
	s.versions[form.ID] = append(versions, cloneForm(form))
	return nil
}

func (s *InMemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.versions[id]; !exists {
		return fmt.Errorf("form %s: %w", id, ErrNotFound)
	}
	delete(s.versions, id)
	delete(s.rules, id)
	return nil
}

// Versions returns every stored version of a form, oldest first
func (s *InMemoryStore) Versions(id string) []*Form {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Form, 0, len(s.versions[id]))
	for _, f := range s.versions[id] {
		out = append(out, cloneForm(f))
	}
	return out
}

func (s *InMemoryStore) Rules(formID string) rules.RuleStore {
	s.mu.Lock()
	defer s.mu.Unlock()

	rs, exists := s.rules[formID]
	if !exists {
		rs = rules.NewInMemoryRuleStore()
		s.rules[formID] = rs
	}
	return rs
}

// cloneForm copies the field slice so stored versions never alias caller data
func cloneForm(f *Form) *Form {
	c := *f
	c.Fields = append([]Field(nil), f.Fields...)
	return &c
}

func sortForms(forms []*Form) {
	sort.Slice(forms, func(i, j int) bool {
		if forms[i].CreatedAt.Equal(forms[j].CreatedAt) {
			return forms[i].ID < forms[j].ID
		}
		return forms[i].CreatedAt.Before(forms[j].CreatedAt)
	})
}
