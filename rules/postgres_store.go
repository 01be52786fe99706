package rules

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL.
// Rule configs are kept in a JSONB column.
type PostgresRuleStore struct {
	db     *sql.DB
	formID string
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore for a specific form
func NewPostgresRuleStore(db *sql.DB, formID string) *PostgresRuleStore {
	return &PostgresRuleStore{
		db:     db,
		formID: formID,
	}
}

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(rule *Rule) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM derived_rules WHERE id = $1 AND form_id = $2)
	`, rule.ID, s.formID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleExists)
	}

	config, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("failed to encode rule config: %w", err)
	}

	now := time.Now()
	rule.FormID = s.formID
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO derived_rules (id, form_id, name, config, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rule.ID, s.formID, rule.Name, config, rule.Active,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT id, form_id, name, config, active, created_at, updated_at
		FROM derived_rules
		WHERE id = $1 AND form_id = $2
	`, id, s.formID)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	return rule, nil
}

// List returns all rules for the form
func (s *PostgresRuleStore) List() ([]*Rule, error) {
	return s.query(`
		SELECT id, form_id, name, config, active, created_at, updated_at
		FROM derived_rules
		WHERE form_id = $1
		ORDER BY created_at ASC
	`)
}

// ListActive returns all active rules for the form
func (s *PostgresRuleStore) ListActive() ([]*Rule, error) {
	return s.query(`
		SELECT id, form_id, name, config, active, created_at, updated_at
		FROM derived_rules
		WHERE form_id = $1 AND active = true
		ORDER BY created_at ASC
	`)
}

func (s *PostgresRuleStore) query(q string) ([]*Rule, error) {
	rows, err := s.db.Query(q, s.formID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rulesList []*Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// Update modifies an existing rule
func (s *PostgresRuleStore) Update(rule *Rule) error {
	existing, err := s.Get(rule.ID)
	if err != nil {
		return err
	}

	config, err := json.Marshal(rule.Config)
	if err != nil {
		return fmt.Errorf("failed to encode rule config: %w", err)
	}

	rule.FormID = s.formID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE derived_rules
		SET name = $1, config = $2, active = $3, updated_at = $4
		WHERE id = $5 AND form_id = $6
	`, rule.Name, config, rule.Active, rule.UpdatedAt, rule.ID, s.formID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrRuleNotFound)
	}

	return nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM derived_rules
		WHERE id = $1 AND form_id = $2
	`, id, s.formID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrRuleNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r      Rule
		config []byte
	)
	if err := row.Scan(&r.ID, &r.FormID, &r.Name, &config, &r.Active, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(config, &r.Config); err != nil {
		return nil, fmt.Errorf("rule %s has an unreadable config: %w", r.ID, err)
	}
	return &r, nil
}
