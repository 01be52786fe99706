package forms

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/liamcoop/formrules/rules"
)

// PostgresStore implements Store backed by PostgreSQL. Each update inserts
// a new row in form_versions and deactivates the previous one.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed form store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectActiveForms = `
	SELECT f.id, f.name, f.created_at, f.updated_at, v.version, v.definition
	FROM forms f
	JOIN form_versions v ON v.form_id = f.id AND v.active = true
`

func (s *PostgresStore) Create(form *Form) error {
	definition, err := json.Marshal(form.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode form definition: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	result, err := tx.Exec(`
		INSERT INTO forms (id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, form.ID, form.Name, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert form: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("form %s: %w", form.ID, ErrAlreadyExists)
	}

	_, err = tx.Exec(`
		INSERT INTO form_versions (form_id, version, definition, active, created_at)
		VALUES ($1, 1, $2, true, $3)
	`, form.ID, definition, now)
	if err != nil {
		return fmt.Errorf("failed to insert form version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit form: %w", err)
	}

	form.Version = 1
	form.CreatedAt = now
	form.UpdatedAt = now
	return nil
}

func (s *PostgresStore) Get(id string) (*Form, error) {
	row := s.db.QueryRow(selectActiveForms+` WHERE f.id = $1`, id)

	form, err := scanForm(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("form %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get form: %w", err)
	}
	return form, nil
}

func (s *PostgresStore) List() ([]*Form, error) {
	rows, err := s.db.Query(selectActiveForms + ` ORDER BY f.created_at ASC, f.id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list forms: %w", err)
	}
	defer rows.Close()

	var out []*Form
	for rows.Next() {
		form, err := scanForm(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan form: %w", err)
		}
		out = append(out, form)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating forms: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(form *Form) error {
	definition, err := json.Marshal(form.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode form definition: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	var createdAt time.Time
	err = tx.QueryRow(`
		UPDATE forms SET name = $1, updated_at = $2
		WHERE id = $3
		RETURNING created_at
	`, form.Name, now, form.ID).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("form %s: %w", form.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update form: %w", err)
	}

	if _, err := tx.Exec(`
		UPDATE form_versions SET active = false
		WHERE form_id = $1 AND active = true
	`, form.ID); err != nil {
		return fmt.Errorf("failed to deactivate old versions: %w", err)
	}

	var version int
	err = tx.QueryRow(`
		INSERT INTO form_versions (form_id, version, definition, active, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, true, $3
		FROM form_versions
		WHERE form_id = $1
		RETURNING version
	`, form.ID, definition, now).Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to save new version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit form version: %w", err)
	}

	form.Version = version
	form.CreatedAt = createdAt
	form.UpdatedAt = now
	return nil
}

// Delete removes the form row; versions and rules cascade
func (s *PostgresStore) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM forms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete form: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("form %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Rules(formID string) rules.RuleStore {
	return rules.NewPostgresRuleStore(s.db, formID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanForm(row rowScanner) (*Form, error) {
	var (
		f          Form
		definition []byte
	)
	if err := row.Scan(&f.ID, &f.Name, &f.CreatedAt, &f.UpdatedAt, &f.Version, &definition); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(definition, &f.Fields); err != nil {
		return nil, fmt.Errorf("form %s has an unreadable definition: %w", f.ID, err)
	}
	return &f, nil
}
