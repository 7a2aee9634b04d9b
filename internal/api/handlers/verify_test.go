// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innodigi/licenser/internal/api/handlers"
	"github.com/innodigi/licenser/internal/database"
	"github.com/innodigi/licenser/internal/models"
	"github.com/innodigi/licenser/internal/ratelimit"
	"github.com/innodigi/licenser/internal/services/secrets"
	"github.com/innodigi/licenser/internal/services/verification"
)

type noopMailer struct{}

func (noopMailer) SendVerificationEmail(context.Context, *models.License, string) error {
	return nil
}

func (noopMailer) TermsURL(context.Context) string {
	return "https://licenser.example.com/terms"
}

type verifyEnv struct {
	router   chi.Router
	licenses *models.LicenseStore
	types    *models.LicenseTypeStore
}

func newVerifyEnv(t *testing.T) *verifyEnv {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	secretManager := secrets.NewManager(models.NewSettingStore(db))
	require.NoError(t, secretManager.Load(context.Background()))

	licenses := models.NewLicenseStore(db)
	service := verification.NewService(licenses, secretManager, noopMailer{}, nil)

	router := chi.NewRouter()
	router.Route("/api/licenses", handlers.NewVerifyHandler(service).Routes)

	return &verifyEnv{
		router:   router,
		licenses: licenses,
		types:    models.NewLicenseTypeStore(db),
	}
}

func (e *verifyEnv) createLicense(t *testing.T, code string, mutate func(*models.License)) *models.License {
	t.Helper()
	ctx := context.Background()

	licenseType, err := e.types.Create(ctx, "type-"+code)
	require.NoError(t, err)

	license := &models.License{
		Code:          code,
		CustomerName:  "Test Customer",
		CustomerEmail: "customer@example.com",
		Domain:        "example.com",
		TypeID:        licenseType.ID,
		Status:        models.LicenseStatusActive,
		PriceInterval: models.PriceIntervalYearly,
	}
	if mutate != nil {
		mutate(license)
	}

	created, err := e.licenses.Create(ctx, license)
	require.NoError(t, err)
	return created
}

// request performs a verification request from the given remote address, so
// each test controls which cooldown bucket it lands in.
func (e *verifyEnv) request(method, target, body, remoteAddr string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = remoteAddr
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestVerifyEndpointValidLicense(t *testing.T) {
	env := newVerifyEnv(t)
	env.createLicense(t, "innodigi-AAAAAAAA-00000001", nil)

	rec := env.request(http.MethodPost, "/api/licenses/verify",
		`{"licenseCode":"innodigi-AAAAAAAA-00000001"}`, "203.0.113.1:40000")

	require.Equal(t, http.StatusOK, rec.Code)

	var result verification.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Valid)
	require.NotNil(t, result.License)
	assert.Equal(t, "innodigi-AAAAAAAA-00000001", result.License.Code)
}

func TestVerifyEndpointUnknownCodeIsInvalidNotAnError(t *testing.T) {
	env := newVerifyEnv(t)

	rec := env.request(http.MethodPost, "/api/licenses/verify",
		`{"licenseCode":"innodigi-00000000-00000000"}`, "203.0.113.1:40000")

	require.Equal(t, http.StatusOK, rec.Code)

	var result verification.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Valid)
	assert.Equal(t, "not_found", result.Reason)
}

func TestVerifyEndpointRequiresCode(t *testing.T) {
	env := newVerifyEnv(t)

	rec := env.request(http.MethodPost, "/api/licenses/verify", `{}`, "203.0.113.1:40000")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.request(http.MethodPost, "/api/licenses/verify", `not json`, "203.0.113.2:40000")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyEndpointCooldown(t *testing.T) {
	env := newVerifyEnv(t)
	env.createLicense(t, "innodigi-AAAAAAAA-00000001", nil)

	body := `{"licenseCode":"innodigi-AAAAAAAA-00000001"}`

	rec := env.request(http.MethodPost, "/api/licenses/verify", body, "203.0.113.1:40000")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.request(http.MethodPost, "/api/licenses/verify", body, "203.0.113.1:40001")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "Rate limit exceeded")

	// A different caller address is not throttled
	rec = env.request(http.MethodPost, "/api/licenses/verify", body, "203.0.113.2:40000")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyEndpointCryptographicNeedsEmail(t *testing.T) {
	env := newVerifyEnv(t)
	env.createLicense(t, "innodigi-AAAAAAAA-00000001", func(l *models.License) {
		l.IsCryptographic = true
	})

	rec := env.request(http.MethodPost, "/api/licenses/verify",
		`{"licenseCode":"innodigi-AAAAAAAA-00000001"}`, "203.0.113.1:40000")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Customer email required")
}

func TestVerifyByCodeEndpoint(t *testing.T) {
	env := newVerifyEnv(t)
	env.createLicense(t, "innodigi-AAAAAAAA-00000001", nil)

	rec := env.request(http.MethodGet, "/api/licenses/verify/innodigi-AAAAAAAA-00000001", "", "203.0.113.1:40000")
	require.Equal(t, http.StatusOK, rec.Code)

	var info verification.PublicInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.True(t, info.Valid)
	assert.Equal(t, "https://licenser.example.com/terms", info.TermsURL)

	rec = env.request(http.MethodGet, "/api/licenses/verify/innodigi-00000000-00000000", "", "203.0.113.1:40000")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":false`)
}

func TestVerifyByCodeEndpointQuota(t *testing.T) {
	env := newVerifyEnv(t)
	env.createLicense(t, "innodigi-AAAAAAAA-00000001", nil)

	for i := 0; i < ratelimit.HourlyQuotaLimit; i++ {
		rec := env.request(http.MethodGet, "/api/licenses/verify/innodigi-AAAAAAAA-00000001", "",
			fmt.Sprintf("203.0.113.%d:40000", i+1))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// The quota is per license, not per caller
	rec := env.request(http.MethodGet, "/api/licenses/verify/innodigi-AAAAAAAA-00000001", "", "203.0.113.99:40000")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Rate limit exceeded")
}

func TestConfirmEmailEndpoint(t *testing.T) {
	env := newVerifyEnv(t)
	license := env.createLicense(t, "innodigi-AAAAAAAA-00000001", func(l *models.License) {
		l.RequiresEmailVerification = true
	})

	ctx := context.Background()
	require.NoError(t, env.licenses.SetVerificationToken(ctx, license.ID, "tok-good", time.Now().Add(5*time.Minute)))

	rec := env.request(http.MethodPost, "/api/licenses/verify-email/tok-good", "", "203.0.113.1:40000")
	require.Equal(t, http.StatusOK, rec.Code)

	var result verification.ConfirmResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)

	// The token was consumed
	rec = env.request(http.MethodPost, "/api/licenses/verify-email/tok-good", "", "203.0.113.2:40000")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid or expired verification token")
}
