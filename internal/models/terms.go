// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/innodigi/licenser/internal/dbinterface"
)

var ErrTermsNotFound = errors.New("terms of service not found")

// DefaultTermsSlug is used when no TERMS_SLUG setting is configured.
const DefaultTermsSlug = "license-terms"

// TermsOfService is one published (or draft) version of a terms document.
// Versions under a slug are append-only; publishing a change creates the next
// version rather than rewriting history.
type TermsOfService struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Version     int       `json:"version"`
	Title       string    `json:"title"`
	ContentHTML string    `json:"contentHtml"`
	IsPublished bool      `json:"isPublished"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type TermsStore struct {
	db dbinterface.Querier
}

func NewTermsStore(db dbinterface.Querier) *TermsStore {
	return &TermsStore{db: db}
}

const termsColumns = `id, slug, version, title, content_html, is_published, created_at, updated_at`

func scanTerms(row rowScanner) (*TermsOfService, error) {
	t := &TermsOfService{}
	err := row.Scan(&t.ID, &t.Slug, &t.Version, &t.Title, &t.ContentHTML, &t.IsPublished, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// Create inserts the next version for the slug. Version numbering is derived
// inside the write transaction so concurrent creates cannot collide.
func (s *TermsStore) Create(ctx context.Context, slug, title, contentHTML string, isPublished bool) (*TermsOfService, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(version) FROM terms_of_service WHERE slug = ?", slug).Scan(&latest); err != nil {
		return nil, err
	}

	t := &TermsOfService{
		ID:          uuid.NewString(),
		Slug:        slug,
		Version:     int(latest.Int64) + 1,
		Title:       title,
		ContentHTML: contentHTML,
		IsPublished: isPublished,
	}
	now := time.Now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO terms_of_service (id, slug, version, title, content_html, is_published, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Slug, t.Version, t.Title, t.ContentHTML, t.IsPublished, now, now)
	if err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	t.CreatedAt = now
	t.UpdatedAt = now
	return t, nil
}

func (s *TermsStore) List(ctx context.Context) ([]*TermsOfService, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+termsColumns+` FROM terms_of_service ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*TermsOfService
	for rows.Next() {
		t, err := scanTerms(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}

func (s *TermsStore) Update(ctx context.Context, id, title, contentHTML string, isPublished bool) (*TermsOfService, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE terms_of_service
		SET title = ?, content_html = ?, is_published = ?, updated_at = ?
		WHERE id = ?
	`, title, contentHTML, isPublished, time.Now(), id)
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrTermsNotFound
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	t, err := scanTerms(s.db.QueryRowContext(ctx, `SELECT `+termsColumns+` FROM terms_of_service WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTermsNotFound
	}
	return t, err
}

// LatestPublished returns the highest published version for the slug.
func (s *TermsStore) LatestPublished(ctx context.Context, slug string) (*TermsOfService, error) {
	t, err := scanTerms(s.db.QueryRowContext(ctx, `
		SELECT `+termsColumns+`
		FROM terms_of_service
		WHERE slug = ? AND is_published = 1
		ORDER BY version DESC
		LIMIT 1
	`, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTermsNotFound
	}
	return t, err
}

// PublishedVersion returns one specific published version for the slug.
func (s *TermsStore) PublishedVersion(ctx context.Context, slug string, version int) (*TermsOfService, error) {
	t, err := scanTerms(s.db.QueryRowContext(ctx, `
		SELECT `+termsColumns+`
		FROM terms_of_service
		WHERE slug = ? AND version = ? AND is_published = 1
	`, slug, version))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTermsNotFound
	}
	return t, err
}
