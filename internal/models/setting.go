// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/innodigi/licenser/internal/dbinterface"
)

// Well-known setting keys.
const (
	SettingAppName                   = "APP_NAME"
	SettingFrontendURL               = "FRONTEND_URL"
	SettingTermsSlug                 = "TERMS_SLUG"
	SettingEmailTemplateLicense      = "EMAIL_TEMPLATE_LICENSE"
	SettingEmailTemplateVerification = "EMAIL_TEMPLATE_VERIFICATION"
	SettingSMTPHost                  = "SMTP_HOST"
	SettingSMTPPort                  = "SMTP_PORT"
	SettingSMTPSecure                = "SMTP_SECURE"
	SettingSMTPUser                  = "SMTP_USER"
	SettingSMTPPass                  = "SMTP_PASS"
	SettingSMTPFrom                  = "SMTP_FROM"
	SettingSMTPTestTo                = "SMTP_TEST_TO"
	SettingSigningSecret             = "LICENSE_SIGNING_SECRET"
)

type SettingStore struct {
	db dbinterface.Querier
}

func NewSettingStore(db dbinterface.Querier) *SettingStore {
	return &SettingStore{db: db}
}

// Get returns the value for key, or "" when the key is unset.
func (s *SettingStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// GetDefault returns the value for key, or fallback when the key is unset or empty.
func (s *SettingStore) GetDefault(ctx context.Context, key, fallback string) (string, error) {
	value, err := s.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if value == "" {
		return fallback, nil
	}
	return value, nil
}

// Set upserts a key/value pair.
func (s *SettingStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now())
	return err
}

// All returns every stored setting keyed by name.
func (s *SettingStore) All(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		settings[key] = value
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return settings, nil
}
