package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/user/pmb-go/internal/models"
)

// SQLTemplateRepository implements TemplateRepository using database/sql.
// Header maps are stored as a JSON text column; SQLite has no reason to
// index into them.
type SQLTemplateRepository struct {
	db *sql.DB
}

// NewTemplateRepository creates a new SQLTemplateRepository.
func NewTemplateRepository(db *sql.DB) *SQLTemplateRepository {
	return &SQLTemplateRepository{db: db}
}

// Save upserts a template by id. Created is preserved on updates;
// LastSaved always advances.
func (r *SQLTemplateRepository) Save(ctx context.Context, tpl *models.RequestTemplate) error {
	now := time.Now().UTC()
	if tpl.Created.IsZero() {
		tpl.Created = now
	}
	tpl.LastSaved = now

	headers, err := json.Marshal(tpl.Headers)
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	if tpl.Headers == nil {
		headers = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO request_templates (id, name, method, url, headers, body, created, last_saved)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			method = excluded.method,
			url = excluded.url,
			headers = excluded.headers,
			body = excluded.body,
			last_saved = excluded.last_saved`,
		tpl.ID, tpl.Name, tpl.Method, tpl.URL, string(headers), tpl.Body,
		tpl.Created, tpl.LastSaved)
	return err
}

func (r *SQLTemplateRepository) FindByID(ctx context.Context, id string) (*models.RequestTemplate, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, name, method, url, headers, body, created, last_saved
		 FROM request_templates WHERE id = ?`, id)
	return scanTemplate(row)
}

func (r *SQLTemplateRepository) FindAll(ctx context.Context) ([]*models.RequestTemplate, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, method, url, headers, body, created, last_saved
		 FROM request_templates ORDER BY last_saved DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []*models.RequestTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tpl)
	}
	return templates, rows.Err()
}

func (r *SQLTemplateRepository) ListSummaries(ctx context.Context) ([]TemplateSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, method, url, last_saved
		 FROM request_templates ORDER BY last_saved DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []TemplateSummary
	for rows.Next() {
		var s TemplateSummary
		var lastSaved time.Time
		if err := rows.Scan(&s.ID, &s.Name, &s.Method, &s.URL, &lastSaved); err != nil {
			return nil, err
		}
		s.LastSaved = lastSaved.UTC().Format(time.RFC3339)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *SQLTemplateRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM request_templates WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row rowScanner) (*models.RequestTemplate, error) {
	var tpl models.RequestTemplate
	var headers string

	err := row.Scan(
		&tpl.ID, &tpl.Name, &tpl.Method, &tpl.URL, &headers, &tpl.Body,
		&tpl.Created, &tpl.LastSaved,
	)
	if err != nil {
		return nil, err
	}

	if headers != "" {
		if err := json.Unmarshal([]byte(headers), &tpl.Headers); err != nil {
			return nil, fmt.Errorf("parse headers for %s: %w", tpl.ID, err)
		}
	}
	return &tpl, nil
}
