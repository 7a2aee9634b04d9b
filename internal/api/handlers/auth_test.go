// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers_test

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innodigi/licenser/internal/api/handlers"
	"github.com/innodigi/licenser/internal/auth"
	"github.com/innodigi/licenser/internal/database"
	"github.com/innodigi/licenser/internal/models"
)

type authEnv struct {
	server *httptest.Server
	client *http.Client
}

func newAuthEnv(t *testing.T) *authEnv {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	authService := auth.NewService(models.NewUserStore(db), models.NewAPIKeyStore(db))

	sessionManager := scs.New()
	sessionManager.Lifetime = 24 * time.Hour
	sessionManager.Cookie.Name = "licenser_session"

	router := chi.NewRouter()
	router.Use(sessionManager.LoadAndSave)
	router.Route("/api/auth", handlers.NewAuthHandler(authService, sessionManager, nil).Routes)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	jar := newCookieJar(t)
	return &authEnv{
		server: server,
		client: &http.Client{Jar: jar},
	}
}

func (e *authEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := e.client.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func (e *authEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := e.client.Get(e.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = resp.Body.Close()
	})
	return resp
}

func TestSetupFlow(t *testing.T) {
	env := newAuthEnv(t)

	resp := env.get(t, "/api/auth/initialized")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"setupRequired":true`)

	resp = env.post(t, "/api/auth/setup", `{"name":"Admin","email":"admin@example.com","password":"s3cret-password"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.get(t, "/api/auth/initialized")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), `"setupRequired":false`)

	// Setup is a one-shot operation
	resp = env.post(t, "/api/auth/setup", `{"name":"Again","email":"again@example.com","password":"whatever"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Setup already completed")
}

func TestSetupRejectsIncompleteRequest(t *testing.T) {
	env := newAuthEnv(t)

	resp := env.post(t, "/api/auth/setup", `{"name":"Admin","email":"admin@example.com"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Name, email and password are required")
}

func TestLoginAndLogout(t *testing.T) {
	env := newAuthEnv(t)

	resp := env.post(t, "/api/auth/setup", `{"name":"Admin","email":"admin@example.com","password":"s3cret-password"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.post(t, "/api/auth/login", `{"email":"admin@example.com","password":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Invalid credentials")

	// Unknown email fails the same way as a wrong password
	resp = env.post(t, "/api/auth/login", `{"email":"nobody@example.com","password":"s3cret-password"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Invalid credentials")

	resp = env.post(t, "/api/auth/login", `{"email":"admin@example.com","password":"s3cret-password"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := readBody(t, resp)
	assert.Contains(t, body, "Login successful")
	assert.NotContains(t, body, "password_hash")

	resp = env.post(t, "/api/auth/logout", `{}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestForgotPasswordNeverRevealsAccounts(t *testing.T) {
	env := newAuthEnv(t)

	resp := env.post(t, "/api/auth/forgot-password", `{"email":"nobody@example.com"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "If the email is known, a reset link has been sent")
}

func TestResetPasswordRejectsBadToken(t *testing.T) {
	env := newAuthEnv(t)

	resp := env.post(t, "/api/auth/reset-password", `{"token":"bogus","password":"new-password"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "Invalid or expired reset token")
}
