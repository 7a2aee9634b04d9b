// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package auth provides admin authentication: argon2id password hashing,
// login/setup, password reset tokens and API key validation.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/innodigi/licenser/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSetupAlreadyDone   = errors.New("setup already completed")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
)

const resetTokenValidity = 30 * time.Minute

// argon2id parameters
const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

type Service struct {
	users   *models.UserStore
	apiKeys *models.APIKeyStore
}

func NewService(users *models.UserStore, apiKeys *models.APIKeyStore) *Service {
	return &Service{users: users, apiKeys: apiKeys}
}

// HashPassword derives an argon2id hash in the standard encoded form.
func HashPassword(password string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword checks a password against an encoded argon2id hash.
func VerifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, timeCost uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &threads); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	hash := argon2.IDKey([]byte(password), salt, timeCost, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(hash, expected) == 1
}

// IsSetupComplete reports whether at least one admin user exists.
func (s *Service) IsSetupComplete(ctx context.Context) (bool, error) {
	count, err := s.users.Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetupUser creates the first admin account with the SUPER_ADMIN role.
func (s *Service) SetupUser(ctx context.Context, name, email, password string) (*models.User, error) {
	complete, err := s.IsSetupComplete(ctx)
	if err != nil {
		return nil, err
	}
	if complete {
		return nil, ErrSetupAlreadyDone
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	return s.users.Create(ctx, name, email, hash, models.RoleSuperAdmin)
}

// Login validates credentials and returns the user. Unknown email and wrong
// password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if !VerifyPassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

// CreateUser creates an additional admin account.
func (s *Service) CreateUser(ctx context.Context, name, email, password, role string) (*models.User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	return s.users.Create(ctx, name, email, hash, role)
}

// UpdateUser rewrites an account; the password is only replaced when non-empty.
func (s *Service) UpdateUser(ctx context.Context, user *models.User, password string) (*models.User, error) {
	hash := ""
	if password != "" {
		var err error
		hash, err = HashPassword(password)
		if err != nil {
			return nil, err
		}
	}
	return s.users.Update(ctx, user, hash)
}

// IssueResetToken mints a password reset token for the account with the given
// email. The user and token are returned for delivery; unknown emails yield
// nil and no error so the endpoint cannot be used to probe accounts.
func (s *Service) IssueResetToken(ctx context.Context, email string) (*models.User, string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, models.ErrUserNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", err
	}

	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return nil, "", fmt.Errorf("failed to generate reset token: %w", err)
	}
	token := hex.EncodeToString(bytes)

	if err := s.users.SetResetToken(ctx, user.ID, token, time.Now().Add(resetTokenValidity)); err != nil {
		return nil, "", err
	}

	return user, token, nil
}

// ResetPassword consumes a reset token and replaces the account password.
func (s *Service) ResetPassword(ctx context.Context, token, password string) error {
	user, err := s.users.GetByResetToken(ctx, token)
	if errors.Is(err, models.ErrUserNotFound) {
		return ErrInvalidResetToken
	}
	if err != nil {
		return err
	}

	if user.ResetTokenExpiresAt == nil || user.ResetTokenExpiresAt.Before(time.Now()) {
		return ErrInvalidResetToken
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	return s.users.UpdatePassword(ctx, user.ID, hash)
}

// ChangePassword verifies the current password before replacing it.
func (s *Service) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !VerifyPassword(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	return s.users.UpdatePassword(ctx, user.ID, hash)
}

// ValidateAPIKey checks a raw API key against the stored hashes and touches
// its last-used timestamp.
func (s *Service) ValidateAPIKey(ctx context.Context, rawKey string) (*models.APIKey, error) {
	if rawKey == "" {
		return nil, models.ErrInvalidAPIKey
	}

	apiKey, err := s.apiKeys.GetByHash(ctx, models.HashAPIKey(rawKey))
	if errors.Is(err, models.ErrAPIKeyNotFound) {
		return nil, models.ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}

	// Best effort; a failed touch must not fail authentication
	_ = s.apiKeys.TouchLastUsed(ctx, apiKey.ID)

	return apiKey, nil
}
