// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package verification

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innodigi/licenser/internal/database"
	"github.com/innodigi/licenser/internal/licensecode"
	"github.com/innodigi/licenser/internal/models"
	"github.com/innodigi/licenser/internal/ratelimit"
	"github.com/innodigi/licenser/internal/services/secrets"
)

// captureMailer records challenge dispatches instead of sending mail.
type captureMailer struct {
	mu     sync.Mutex
	sent   []string
	sentCh chan string
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{sentCh: make(chan string, 8)}
}

func (m *captureMailer) SendVerificationEmail(_ context.Context, _ *models.License, token string) error {
	m.mu.Lock()
	m.sent = append(m.sent, token)
	m.mu.Unlock()
	m.sentCh <- token
	return nil
}

func (m *captureMailer) TermsURL(_ context.Context) string {
	return "https://licenser.example.com/terms"
}

func (m *captureMailer) waitForToken(t *testing.T) string {
	t.Helper()
	select {
	case token := <-m.sentCh:
		return token
	case <-time.After(5 * time.Second):
		t.Fatal("no verification email dispatched")
		return ""
	}
}

type fixture struct {
	service  *Service
	licenses *models.LicenseStore
	types    *models.LicenseTypeStore
	secrets  *secrets.Manager
	mailer   *captureMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	secretManager := secrets.NewManager(models.NewSettingStore(db))
	require.NoError(t, secretManager.Load(context.Background()))

	licenses := models.NewLicenseStore(db)
	mailer := newCaptureMailer()
	service := NewService(licenses, secretManager, mailer, nil)

	return &fixture{
		service:  service,
		licenses: licenses,
		types:    models.NewLicenseTypeStore(db),
		secrets:  secretManager,
		mailer:   mailer,
	}
}

// setNow pins the service clock.
func (f *fixture) setNow(now time.Time) {
	f.service.now = func() time.Time { return now }
}

var licenseSeq int

func (f *fixture) createLicense(t *testing.T, mutate func(*models.License)) *models.License {
	t.Helper()
	ctx := context.Background()

	licenseSeq++
	licenseType, err := f.types.Create(ctx, fmt.Sprintf("type-%d", licenseSeq))
	require.NoError(t, err)

	license := &models.License{
		Code:          fmt.Sprintf("innodigi-%08X-%08X", licenseSeq, licenseSeq),
		CustomerName:  "Test Customer",
		CustomerEmail: "customer@example.com",
		Domain:        "example.com",
		TypeID:        licenseType.ID,
		Status:        models.LicenseStatusActive,
		PriceCents:    9900,
		PriceInterval: models.PriceIntervalYearly,
	}
	if mutate != nil {
		mutate(license)
	}

	created, err := f.licenses.Create(ctx, license)
	require.NoError(t, err)
	return created
}

func TestVerifyValidLicense(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	license := f.createLicense(t, nil)

	result, err := f.service.Verify(ctx, license.Code, "", "203.0.113.1")
	require.NoError(t, err)

	assert.True(t, result.Valid)
	require.NotNil(t, result.License)
	assert.Equal(t, license.Code, result.License.Code)

	// A successful verification touches the last-access timestamp
	after, err := f.licenses.GetByID(ctx, license.ID)
	require.NoError(t, err)
	assert.NotNil(t, after.LastAPIAccessAt)
}

func TestVerifyUnknownCode(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	result, err := f.service.Verify(ctx, "innodigi-00000000-00000000", "", "203.0.113.1")
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, ReasonNotFound, result.Reason)
}

func TestVerifyCooldownPerCaller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	license := f.createLicense(t, nil)

	// Shorten the cooldown so the re-admission branch is testable
	f.service.cooldown = ratelimit.NewCooldownLimiter(50 * time.Millisecond)

	_, err := f.service.Verify(ctx, license.Code, "", "203.0.113.1")
	require.NoError(t, err)

	_, err = f.service.Verify(ctx, license.Code, "", "203.0.113.1")
	var cooldown *CooldownError
	require.ErrorAs(t, err, &cooldown)
	assert.Greater(t, cooldown.RetryAfter, time.Duration(0))

	// A different caller is not affected
	_, err = f.service.Verify(ctx, license.Code, "", "203.0.113.2")
	require.NoError(t, err)

	// The same caller is admitted again after the cooldown
	time.Sleep(60 * time.Millisecond)
	_, err = f.service.Verify(ctx, license.Code, "", "203.0.113.1")
	require.NoError(t, err)
}

func TestVerifyCryptographicLicense(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	createdAt := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	email := "crypto@example.com"
	code := licensecode.GenerateDeterministicCode(email, createdAt, f.secrets.Get())

	f.createLicense(t, func(l *models.License) {
		l.Code = code
		l.CustomerEmail = email
		l.IsCryptographic = true
		l.CreatedAt = createdAt
	})

	_, err := f.service.Verify(ctx, code, "", "203.0.113.1")
	assert.ErrorIs(t, err, ErrEmailRequired)

	result, err := f.service.Verify(ctx, code, "CRYPTO@example.com", "203.0.113.2")
	require.NoError(t, err)
	assert.True(t, result.Valid)

	// A wrong email yields the same generic mismatch as a wrong code
	result, err = f.service.Verify(ctx, code, "other@example.com", "203.0.113.3")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonMismatch, result.Reason)
}

func TestVerifyEmailGate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	license := f.createLicense(t, func(l *models.License) {
		l.RequiresEmailVerification = true
	})

	now := time.Now()
	f.setNow(now)

	result, err := f.service.Verify(ctx, license.Code, "", "203.0.113.1")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.True(t, result.RequiresVerification)
	assert.Equal(t, license.ID, result.LicenseID)
	assert.Equal(t, "Verification email sent", result.Message)

	token := f.mailer.waitForToken(t)
	require.NotEmpty(t, token)

	// While the challenge is outstanding no new email is dispatched
	result, err = f.service.Verify(ctx, license.Code, "", "203.0.113.2")
	require.NoError(t, err)
	assert.True(t, result.RequiresVerification)
	assert.Contains(t, result.Message, "already sent")

	confirm, err := f.service.ConfirmEmail(ctx, token)
	require.NoError(t, err)
	assert.True(t, confirm.Success)
	require.NotNil(t, confirm.License)
	assert.NotNil(t, confirm.License.EmailVerifiedAt)

	// The token is single use
	_, err = f.service.ConfirmEmail(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)

	// With the gate cleared the license verifies normally
	result, err = f.service.Verify(ctx, license.Code, "", "203.0.113.3")
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestConfirmEmailExpiredToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	license := f.createLicense(t, func(l *models.License) {
		l.RequiresEmailVerification = true
	})

	now := time.Now()
	f.setNow(now)

	_, err := f.service.Verify(ctx, license.Code, "", "203.0.113.1")
	require.NoError(t, err)
	token := f.mailer.waitForToken(t)

	f.setNow(now.Add(challengeValidity + time.Second))

	_, err = f.service.ConfirmEmail(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidOrExpiredToken)
}

func TestVerifyInactiveAndExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	inactive := f.createLicense(t, func(l *models.License) {
		l.Status = models.LicenseStatusInactive
	})
	past := time.Now().Add(-time.Hour)
	expired := f.createLicense(t, func(l *models.License) {
		l.ExpiresAt = &past
	})

	result, err := f.service.Verify(ctx, inactive.Code, "", "203.0.113.1")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "status is inactive", result.Reason)

	result, err = f.service.Verify(ctx, expired.Code, "", "203.0.113.2")
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, ReasonExpired, result.Reason)
}

func TestVerifyByCodeQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	license := f.createLicense(t, nil)

	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	f.setNow(now)

	for i := 0; i < ratelimit.HourlyQuotaLimit; i++ {
		info, err := f.service.VerifyByCode(ctx, license.Code)
		require.NoError(t, err)
		assert.True(t, info.Valid)
		assert.Equal(t, "https://licenser.example.com/terms", info.TermsURL)
	}

	_, err := f.service.VerifyByCode(ctx, license.Code)
	assert.ErrorIs(t, err, models.ErrAPIQuotaExceeded)

	// The next hour bucket resets the quota
	f.setNow(now.Add(time.Hour))
	_, err = f.service.VerifyByCode(ctx, license.Code)
	require.NoError(t, err)
}

func TestVerifyByCodeUnknown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.service.VerifyByCode(ctx, "innodigi-00000000-00000000")
	assert.ErrorIs(t, err, models.ErrLicenseNotFound)
}

func TestResendVerification(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	plain := f.createLicense(t, nil)
	assert.ErrorIs(t, f.service.ResendVerification(ctx, plain.ID), ErrVerificationNotApplicable)

	gated := f.createLicense(t, func(l *models.License) {
		l.RequiresEmailVerification = true
	})

	now := time.Now()
	f.setNow(now)

	require.NoError(t, f.service.ResendVerification(ctx, gated.ID))
	f.mailer.waitForToken(t)

	// Inside the suppression window a resend is rate limited
	err := f.service.ResendVerification(ctx, gated.ID)
	var cooldown *CooldownError
	require.ErrorAs(t, err, &cooldown)

	// After the window it goes through again
	f.setNow(now.Add(challengeValidity + time.Second))
	require.NoError(t, f.service.ResendVerification(ctx, gated.ID))
	f.mailer.waitForToken(t)

	// A verified email refuses further resends
	require.NoError(t, f.licenses.MarkEmailVerified(ctx, gated.ID, f.service.now()))
	assert.ErrorIs(t, f.service.ResendVerification(ctx, gated.ID), ErrEmailAlreadyVerified)
}
