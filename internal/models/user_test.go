// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innodigi/licenser/internal/models"
)

func TestUserStoreCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := models.NewUserStore(db)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	user, err := store.Create(ctx, "Admin", "admin@example.com", "hash", models.RoleSuperAdmin)
	require.NoError(t, err)
	assert.NotEmpty(t, user.ID)

	_, err = store.Create(ctx, "Other", "admin@example.com", "hash", models.RoleSubAdmin)
	assert.ErrorIs(t, err, models.ErrUserAlreadyExists)

	byEmail, err := store.GetByEmail(ctx, "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, byEmail.ID)

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUserStoreUpdate(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := models.NewUserStore(db)

	user, err := store.Create(ctx, "Admin", "admin@example.com", "hash", models.RoleSuperAdmin)
	require.NoError(t, err)

	user.Name = "Renamed"
	user.Role = models.RoleSubAdmin
	updated, err := store.Update(ctx, user, "")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, models.RoleSubAdmin, updated.Role)
	assert.Equal(t, "hash", updated.PasswordHash)

	updated, err = store.Update(ctx, user, "newhash")
	require.NoError(t, err)
	assert.Equal(t, "newhash", updated.PasswordHash)
}

func TestUserStoreResetTokenFlow(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := models.NewUserStore(db)

	user, err := store.Create(ctx, "Admin", "admin@example.com", "hash", models.RoleSuperAdmin)
	require.NoError(t, err)

	require.NoError(t, store.SetResetToken(ctx, user.ID, "reset-tok", time.Now().Add(30*time.Minute)))

	found, err := store.GetByResetToken(ctx, "reset-tok")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	require.NoError(t, store.UpdatePassword(ctx, user.ID, "fresh-hash"))

	// UpdatePassword clears the token
	_, err = store.GetByResetToken(ctx, "reset-tok")
	assert.ErrorIs(t, err, models.ErrUserNotFound)

	after, err := store.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-hash", after.PasswordHash)
}

func TestUserStoreDelete(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	store := models.NewUserStore(db)

	user, err := store.Create(ctx, "Admin", "admin@example.com", "hash", models.RoleSuperAdmin)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, user.ID))
	assert.ErrorIs(t, store.Delete(ctx, user.ID), models.ErrUserNotFound)
}

func TestValidRole(t *testing.T) {
	assert.True(t, models.ValidRole(models.RoleSuperAdmin))
	assert.True(t, models.ValidRole(models.RoleSubAdmin))
	assert.True(t, models.ValidRole(models.RoleReadOnly))
	assert.False(t, models.ValidRole("OPERATOR"))
}
