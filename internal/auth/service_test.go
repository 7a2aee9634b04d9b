// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package auth_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innodigi/licenser/internal/auth"
	"github.com/innodigi/licenser/internal/database"
	"github.com/innodigi/licenser/internal/models"
)

func newTestService(t *testing.T) (*auth.Service, *models.UserStore) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	users := models.NewUserStore(db)
	return auth.NewService(users, models.NewAPIKeyStore(db)), users
}

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := auth.HashPassword("s3cret-password")
	require.NoError(t, err)
	assert.NotContains(t, hash, "s3cret-password")

	assert.True(t, auth.VerifyPassword("s3cret-password", hash))
	assert.False(t, auth.VerifyPassword("wrong", hash))
	assert.False(t, auth.VerifyPassword("s3cret-password", "not-an-encoded-hash"))
}

func TestHashPasswordSaltsEveryHash(t *testing.T) {
	first, err := auth.HashPassword("same-password")
	require.NoError(t, err)
	second, err := auth.HashPassword("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestSetupUserRunsOnce(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	complete, err := service.IsSetupComplete(ctx)
	require.NoError(t, err)
	assert.False(t, complete)

	user, err := service.SetupUser(ctx, "Admin", "admin@example.com", "s3cret-password")
	require.NoError(t, err)
	assert.Equal(t, models.RoleSuperAdmin, user.Role)

	complete, err = service.IsSetupComplete(ctx)
	require.NoError(t, err)
	assert.True(t, complete)

	_, err = service.SetupUser(ctx, "Again", "again@example.com", "whatever")
	assert.ErrorIs(t, err, auth.ErrSetupAlreadyDone)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	_, err := service.SetupUser(ctx, "Admin", "admin@example.com", "s3cret-password")
	require.NoError(t, err)

	user, err := service.Login(ctx, "admin@example.com", "s3cret-password")
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", user.Email)

	_, wrongPassword := service.Login(ctx, "admin@example.com", "wrong")
	_, unknownEmail := service.Login(ctx, "nobody@example.com", "s3cret-password")

	assert.ErrorIs(t, wrongPassword, auth.ErrInvalidCredentials)
	assert.ErrorIs(t, unknownEmail, auth.ErrInvalidCredentials)
}

func TestIssueResetTokenHidesUnknownEmails(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	user, token, err := service.IssueResetToken(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.Empty(t, token)
}

func TestResetPasswordFlow(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	_, err := service.SetupUser(ctx, "Admin", "admin@example.com", "old-password")
	require.NoError(t, err)

	user, token, err := service.IssueResetToken(ctx, "admin@example.com")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.NotEmpty(t, token)

	require.NoError(t, service.ResetPassword(ctx, token, "new-password"))

	_, err = service.Login(ctx, "admin@example.com", "old-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	_, err = service.Login(ctx, "admin@example.com", "new-password")
	require.NoError(t, err)

	// Token is single use
	err = service.ResetPassword(ctx, token, "another-password")
	assert.ErrorIs(t, err, auth.ErrInvalidResetToken)
}

func TestChangePasswordChecksCurrent(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	user, err := service.SetupUser(ctx, "Admin", "admin@example.com", "old-password")
	require.NoError(t, err)

	err = service.ChangePassword(ctx, user.ID, "wrong", "new-password")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	require.NoError(t, service.ChangePassword(ctx, user.ID, "old-password", "new-password"))

	_, err = service.Login(ctx, "admin@example.com", "new-password")
	require.NoError(t, err)
}

func TestValidateAPIKey(t *testing.T) {
	ctx := context.Background()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	apiKeys := models.NewAPIKeyStore(db)
	service := auth.NewService(models.NewUserStore(db), apiKeys)

	rawKey, created, err := apiKeys.Create(ctx, "ci")
	require.NoError(t, err)

	validated, err := service.ValidateAPIKey(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, created.ID, validated.ID)

	_, err = service.ValidateAPIKey(ctx, "")
	assert.ErrorIs(t, err, models.ErrInvalidAPIKey)

	_, err = service.ValidateAPIKey(ctx, "deadbeef")
	assert.ErrorIs(t, err, models.ErrInvalidAPIKey)
}
