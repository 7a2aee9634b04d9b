// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package secrets manages the process-wide license signing secret.
//
// The secret is the trust root for every deterministically derived license
// code. It is persisted in the settings store, cached in memory behind an
// RWMutex so readers always observe either the old or the new value, and
// swappable at runtime by administrators. Rotating it invalidates re-
// verification of codes issued under the previous secret, which is inherent
// to the design. The secret is never logged and is redacted from settings
// listings.
package secrets

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/innodigi/licenser/internal/models"
)

// Manager holds the current signing secret.
type Manager struct {
	settings *models.SettingStore

	mu     sync.RWMutex
	secret string
}

func NewManager(settings *models.SettingStore) *Manager {
	return &Manager{settings: settings}
}

// generate returns 64 random bytes hex encoded.
func generate() (string, error) {
	bytes := make([]byte, 64)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// Load reads the persisted secret into memory, generating and persisting one
// on first start. Called once during startup before the HTTP surface is up.
func (m *Manager) Load(ctx context.Context) error {
	stored, err := m.settings.Get(ctx, models.SettingSigningSecret)
	if err != nil {
		return fmt.Errorf("failed to load signing secret: %w", err)
	}

	if stored == "" {
		stored, err = generate()
		if err != nil {
			return fmt.Errorf("failed to generate signing secret: %w", err)
		}
		if err := m.settings.Set(ctx, models.SettingSigningSecret, stored); err != nil {
			return fmt.Errorf("failed to persist signing secret: %w", err)
		}
	}

	m.mu.Lock()
	m.secret = stored
	m.mu.Unlock()
	return nil
}

// Get returns the current signing secret. Every deterministic code
// computation reads the value at call time.
func (m *Manager) Get() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.secret
}

// Set replaces the signing secret with an administrator-supplied value.
func (m *Manager) Set(ctx context.Context, secret string) error {
	if secret == "" {
		return fmt.Errorf("signing secret must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.settings.Set(ctx, models.SettingSigningSecret, secret); err != nil {
		return fmt.Errorf("failed to persist signing secret: %w", err)
	}
	m.secret = secret
	return nil
}

// Regenerate replaces the secret with a fresh random one and returns the new
// value so the caller can show it once.
func (m *Manager) Regenerate(ctx context.Context) (string, error) {
	secret, err := generate()
	if err != nil {
		return "", fmt.Errorf("failed to generate signing secret: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.settings.Set(ctx, models.SettingSigningSecret, secret); err != nil {
		return "", fmt.Errorf("failed to persist signing secret: %w", err)
	}
	m.secret = secret
	return secret, nil
}
