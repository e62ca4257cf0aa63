package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Page is an archived, content-extracted document
type Page struct {
	URL          string   `json:"url"`
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Content      string   `json:"content,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
}

// PageStore persists archived pages, one row per canonical URL
type PageStore struct {
	db *sql.DB
}

// NewPageStore creates a PostgreSQL page store
func NewPageStore(db *sql.DB) *PageStore {
	return &PageStore{db: db}
}

// UpsertPage writes page, overwriting any earlier archive of the same URL. Empty text fields
// are stored as NULL.
func (s *PageStore) UpsertPage(ctx context.Context, page *Page) error {
	technologies := page.Technologies
	if technologies == nil {
		technologies = []string{}
	}
	techJSON, err := json.Marshal(technologies)
	if err != nil {
		return fmt.Errorf("failed to serialise technologies: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pages (url, title, description, content, technologies)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), NULLIF($4, ''), $5::jsonb)
		ON CONFLICT (url) DO UPDATE
		SET title = EXCLUDED.title,
			description = EXCLUDED.description,
			content = EXCLUDED.content,
			technologies = EXCLUDED.technologies,
			updated_at = NOW()
	`, page.URL, page.Title, page.Description, page.Content, string(techJSON))
	if err != nil {
		return fmt.Errorf("failed to upsert page %s: %w", page.URL, err)
	}

	return nil
}

// CountPages returns the number of archived pages
func (s *PageStore) CountPages(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}
