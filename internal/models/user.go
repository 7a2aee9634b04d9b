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
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")
)

// Admin roles
const (
	RoleSuperAdmin = "SUPER_ADMIN"
	RoleSubAdmin   = "SUB_ADMIN"
	RoleReadOnly   = "READ_ONLY"
)

// ValidRole reports whether role names a known admin role.
func ValidRole(role string) bool {
	switch role {
	case RoleSuperAdmin, RoleSubAdmin, RoleReadOnly:
		return true
	}
	return false
}

type User struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	Role                string     `json:"role"`
	ResetToken          *string    `json:"-"`
	ResetTokenExpiresAt *time.Time `json:"-"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

type UserStore struct {
	db dbinterface.Querier
}

func NewUserStore(db dbinterface.Querier) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) Create(ctx context.Context, name, email, passwordHash, role string) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	user := &User{
		ID:    uuid.NewString(),
		Name:  name,
		Email: email,
		Role:  role,
	}
	now := time.Now()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO users (id, name, email, password_hash, role, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, user.ID, user.Name, user.Email, passwordHash, user.Role, now, now)
	if err != nil {
		var sqlErr *sqlite.Error
		if errors.As(err, &sqlErr) && sqlErr.Code() == lib.SQLITE_CONSTRAINT_UNIQUE {
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	user.PasswordHash = passwordHash
	user.CreatedAt = now
	user.UpdatedAt = now
	return user, nil
}

const userColumns = `id, name, email, password_hash, role, reset_token, reset_token_expires_at, created_at, updated_at`

func scanUser(row rowScanner) (*User, error) {
	user := &User{}
	var resetToken sql.NullString
	var resetExp sql.NullTime

	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Role,
		&resetToken,
		&resetExp,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if resetToken.Valid {
		user.ResetToken = &resetToken.String
	}
	if resetExp.Valid {
		user.ResetTokenExpiresAt = &resetExp.Time
	}

	return user, nil
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserStore) GetByResetToken(ctx context.Context, token string) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE reset_token = ?`, token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserStore) List(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

// Update rewrites name, email and role. The password hash is only replaced
// when non-empty.
func (s *UserStore) Update(ctx context.Context, user *User, passwordHash string) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var result sql.Result
	if passwordHash != "" {
		result, err = tx.ExecContext(ctx, `
			UPDATE users SET name = ?, email = ?, role = ?, password_hash = ?, updated_at = ? WHERE id = ?
		`, user.Name, user.Email, user.Role, passwordHash, time.Now(), user.ID)
	} else {
		result, err = tx.ExecContext(ctx, `
			UPDATE users SET name = ?, email = ?, role = ?, updated_at = ? WHERE id = ?
		`, user.Name, user.Email, user.Role, time.Now(), user.ID)
	}
	if err != nil {
		var sqlErr *sqlite.Error
		if errors.As(err, &sqlErr) && sqlErr.Code() == lib.SQLITE_CONSTRAINT_UNIQUE {
			return nil, ErrUserAlreadyExists
		}
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrUserNotFound
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetByID(ctx, user.ID)
}

func (s *UserStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}

	return tx.Commit()
}

// SetResetToken stores a password reset token with its expiry.
func (s *UserStore) SetResetToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET reset_token = ?, reset_token_expires_at = ?, updated_at = ? WHERE id = ?
	`, token, expiresAt, time.Now(), id)
	return err
}

// UpdatePassword replaces the password hash and clears any reset token.
func (s *UserStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE users
		SET password_hash = ?, reset_token = NULL, reset_token_expires_at = NULL, updated_at = ?
		WHERE id = ?
	`, passwordHash, time.Now(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}

	return tx.Commit()
}

// Count returns the number of admin users; zero means setup has not run.
func (s *UserStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}
