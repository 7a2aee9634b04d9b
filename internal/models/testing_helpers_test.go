// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/innodigi/licenser/internal/database"
	"github.com/innodigi/licenser/internal/models"
)

func newTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return db
}

func createTestType(t *testing.T, db *database.DB, name string) *models.LicenseType {
	t.Helper()

	licenseType, err := models.NewLicenseTypeStore(db).Create(context.Background(), name)
	require.NoError(t, err)
	return licenseType
}

func createTestLicense(t *testing.T, db *database.DB, mutate func(*models.License)) *models.License {
	t.Helper()

	licenseType := createTestType(t, db, "standard-"+time.Now().Format("150405.000000000"))

	license := &models.License{
		Code:          "innodigi-1A2B3C4D-5E6F7A8B",
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

	created, err := models.NewLicenseStore(db).Create(context.Background(), license)
	require.NoError(t, err)
	return created
}
