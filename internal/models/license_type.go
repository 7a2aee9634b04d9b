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
	"modernc.org/sqlite"
	lib "modernc.org/sqlite/lib"

	"github.com/innodigi/licenser/internal/dbinterface"
)

var (
	ErrLicenseTypeNotFound   = errors.New("license type not found")
	ErrLicenseTypeExists     = errors.New("license type already exists")
	ErrLicenseTypeReferenced = errors.New("license type is referenced by existing licenses")
)

// LicenseType groups licenses under a product name
type LicenseType struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LicenseCount int       `json:"licenseCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type LicenseTypeStore struct {
	db dbinterface.Querier
}

func NewLicenseTypeStore(db dbinterface.Querier) *LicenseTypeStore {
	return &LicenseTypeStore{db: db}
}

func (s *LicenseTypeStore) Create(ctx context.Context, name string) (*LicenseType, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	lt := &LicenseType{ID: uuid.NewString(), Name: name}
	now := time.Now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO license_types (id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`, lt.ID, lt.Name, now, now)
	if err != nil {
		var sqlErr *sqlite.Error
		if errors.As(err, &sqlErr) && sqlErr.Code() == lib.SQLITE_CONSTRAINT_UNIQUE {
			return nil, ErrLicenseTypeExists
		}
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	lt.CreatedAt = now
	lt.UpdatedAt = now
	return lt, nil
}

func (s *LicenseTypeStore) Get(ctx context.Context, id string) (*LicenseType, error) {
	lt := &LicenseType{}
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.name, COUNT(l.id), t.created_at, t.updated_at
		FROM license_types t
		LEFT JOIN licenses l ON l.type_id = t.id
		WHERE t.id = ?
		GROUP BY t.id
	`, id).Scan(&lt.ID, &lt.Name, &lt.LicenseCount, &lt.CreatedAt, &lt.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLicenseTypeNotFound
	}
	if err != nil {
		return nil, err
	}
	return lt, nil
}

// List returns all license types ordered by name, each with its license count.
func (s *LicenseTypeStore) List(ctx context.Context) ([]*LicenseType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, COUNT(l.id), t.created_at, t.updated_at
		FROM license_types t
		LEFT JOIN licenses l ON l.type_id = t.id
		GROUP BY t.id
		ORDER BY t.name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []*LicenseType
	for rows.Next() {
		lt := &LicenseType{}
		if err := rows.Scan(&lt.ID, &lt.Name, &lt.LicenseCount, &lt.CreatedAt, &lt.UpdatedAt); err != nil {
			return nil, err
		}
		types = append(types, lt)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return types, nil
}

func (s *LicenseTypeStore) Update(ctx context.Context, id, name string) (*LicenseType, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE license_types SET name = ?, updated_at = ? WHERE id = ?
	`, name, time.Now(), id)
	if err != nil {
		var sqlErr *sqlite.Error
		if errors.As(err, &sqlErr) && sqlErr.Code() == lib.SQLITE_CONSTRAINT_UNIQUE {
			return nil, ErrLicenseTypeExists
		}
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrLicenseTypeNotFound
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.Get(ctx, id)
}

// Delete removes a license type. Deletion is refused while licenses still
// reference the type.
func (s *LicenseTypeStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM licenses WHERE type_id = ?", id).Scan(&count); err != nil {
		return err
	}
	if count > 0 {
		return ErrLicenseTypeReferenced
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM license_types WHERE id = ?", id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLicenseTypeNotFound
	}

	return tx.Commit()
}
