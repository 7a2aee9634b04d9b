// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfigDir(t *testing.T) {
	t.Run("xdg config home", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/home/user/.config")
		assert.Equal(t, filepath.Join("/home/user/.config", "licenser"), GetDefaultConfigDir())
	})

	t.Run("container config dir", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/config")
		assert.Equal(t, "/config", GetDefaultConfigDir())
	})
}

func TestNewWritesDefaultConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := New(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	assert.Equal(t, "127.0.0.1", cfg.Config.Host)
	assert.Equal(t, 4000, cfg.Config.Port)
	assert.Equal(t, filepath.Join(dir, "licenser.db"), cfg.Config.DatabasePath)
	assert.True(t, cfg.Config.CheckForUpdates)
	assert.Equal(t, "info", cfg.Config.LogLevel)
	assert.False(t, cfg.Config.MetricsEnabled)

	// The second load reads the file written by the first
	again, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.Config.Port, again.Config.Port)
	assert.Equal(t, filepath.Join(dir, "config.toml"), again.ConfigFileUsed())
}

func TestNewReadsExistingConfig(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte("port = 9999\nlogLevel = \"debug\"\n"), 0o644))

	cfg, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Config.Port)
	assert.Equal(t, "debug", cfg.Config.LogLevel)
	// Unset keys keep their defaults
	assert.Equal(t, "127.0.0.1", cfg.Config.Host)
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("LICENSER__PORT", "8123")
	t.Setenv("LICENSER__LOGLEVEL", "trace")

	cfg, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Config.Port)
	assert.Equal(t, "trace", cfg.Config.LogLevel)
}
