// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package mail_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/innodigi/licenser/internal/database"
	"github.com/innodigi/licenser/internal/models"
	"github.com/innodigi/licenser/internal/services/mail"
)

type captureSender struct {
	to      string
	subject string
	body    string
}

func (s *captureSender) Send(_ context.Context, to, subject, htmlBody string) error {
	s.to = to
	s.subject = subject
	s.body = htmlBody
	return nil
}

func newTestComposer(t *testing.T) (*mail.Composer, *models.SettingStore, *captureSender) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	settings := models.NewSettingStore(db)
	sender := &captureSender{}
	return mail.NewComposer(settings, sender), settings, sender
}

func TestRenderTemplate(t *testing.T) {
	out := mail.RenderTemplate("Hello {{name}}, your code is {{code}}", map[string]string{
		"name": "Alice",
		"code": "innodigi-AAAAAAAA-00000001",
	})
	assert.Equal(t, "Hello Alice, your code is innodigi-AAAAAAAA-00000001", out)

	// Unknown placeholders are left untouched
	out = mail.RenderTemplate("Hello {{name}}", map[string]string{"other": "x"})
	assert.Equal(t, "Hello {{name}}", out)
}

func TestSendLicenseEmailDefaults(t *testing.T) {
	ctx := context.Background()
	composer, _, sender := newTestComposer(t)

	expires := time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC)
	err := composer.SendLicenseEmail(ctx, &models.License{
		Code:          "innodigi-AAAAAAAA-00000001",
		CustomerName:  "Alice",
		CustomerEmail: "alice@example.com",
		Domain:        "alice.example.com",
		TypeName:      "webshop-pro",
		Status:        models.LicenseStatusActive,
		ExpiresAt:     &expires,
	})
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", sender.to)
	assert.Contains(t, sender.subject, "license")
	assert.Contains(t, sender.body, "innodigi-AAAAAAAA-00000001")
	assert.Contains(t, sender.body, "Alice")
	assert.Contains(t, sender.body, "2027-06-01")
}

func TestSendLicenseEmailWithoutExpiry(t *testing.T) {
	ctx := context.Background()
	composer, _, sender := newTestComposer(t)

	err := composer.SendLicenseEmail(ctx, &models.License{
		Code:          "innodigi-AAAAAAAA-00000001",
		CustomerName:  "Alice",
		CustomerEmail: "alice@example.com",
		TypeName:      "webshop-pro",
		Status:        models.LicenseStatusActive,
	})
	require.NoError(t, err)
	assert.Contains(t, sender.body, "never")
}

func TestSendLicenseEmailUsesConfiguredTemplate(t *testing.T) {
	ctx := context.Background()
	composer, settings, sender := newTestComposer(t)

	require.NoError(t, settings.Set(ctx, models.SettingAppName, "Innodigi Licensing"))
	require.NoError(t, settings.Set(ctx, models.SettingEmailTemplateLicense, "Custom mail for {{customer_name}} by {{app_name}}"))

	err := composer.SendLicenseEmail(ctx, &models.License{
		Code:          "innodigi-AAAAAAAA-00000001",
		CustomerName:  "Alice",
		CustomerEmail: "alice@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "Custom mail for Alice by Innodigi Licensing", sender.body)
	assert.Contains(t, sender.subject, "Innodigi Licensing")
}

func TestSendVerificationEmailBuildsChallengeLink(t *testing.T) {
	ctx := context.Background()
	composer, settings, sender := newTestComposer(t)

	require.NoError(t, settings.Set(ctx, models.SettingFrontendURL, "https://licenses.example.com"))

	err := composer.SendVerificationEmail(ctx, &models.License{
		Code:          "innodigi-AAAAAAAA-00000001",
		CustomerName:  "Alice",
		CustomerEmail: "alice@example.com",
	}, "tok-challenge")
	require.NoError(t, err)

	assert.Equal(t, "alice@example.com", sender.to)
	assert.Contains(t, sender.body, "https://licenses.example.com/verify-license/tok-challenge")
}

func TestSendPasswordResetEmailBuildsResetLink(t *testing.T) {
	ctx := context.Background()
	composer, settings, sender := newTestComposer(t)

	require.NoError(t, settings.Set(ctx, models.SettingFrontendURL, "https://licenses.example.com"))

	err := composer.SendPasswordResetEmail(ctx, &models.User{
		Name:  "Admin",
		Email: "admin@example.com",
	}, "tok-reset")
	require.NoError(t, err)

	assert.Equal(t, "admin@example.com", sender.to)
	assert.Contains(t, sender.body, "https://licenses.example.com/reset-password/tok-reset")
}

func TestTermsURL(t *testing.T) {
	ctx := context.Background()
	composer, settings, _ := newTestComposer(t)

	assert.Equal(t, "http://localhost:5173/#/terms/latest", composer.TermsURL(ctx))

	require.NoError(t, settings.Set(ctx, models.SettingFrontendURL, "https://licenses.example.com"))
	assert.Equal(t, "https://licenses.example.com/#/terms/latest", composer.TermsURL(ctx))
}
