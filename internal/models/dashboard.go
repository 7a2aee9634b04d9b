// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"time"
)

// DashboardStats aggregates license counts and revenue for the admin overview.
type DashboardStats struct {
	Active                    int        `json:"active"`
	Inactive                  int        `json:"inactive"`
	Expired                   int        `json:"expired"`
	Total                     int        `json:"total"`
	MonthlyRevenueCents       int64      `json:"monthlyRevenueCents"`
	YearlyRevenueCents        int64      `json:"yearlyRevenueCents"`
	OneTimeRevenueThisYearCts int64      `json:"oneTimeRevenueThisYearCents"`
	TotalYearRevenueCents     int64      `json:"totalYearRevenueCents"`
	RecentAPIAccess           []*License `json:"recentApi"`
}

// Stats computes the dashboard aggregates. Expired counts licenses that are
// still ACTIVE but past their expiry; projected yearly revenue is monthly
// recurring times twelve plus yearly recurring plus one-time sales booked in
// the current calendar year.
func (s *LicenseStore) Stats(ctx context.Context, now time.Time) (*DashboardStats, error) {
	stats := &DashboardStats{}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(CASE WHEN status = 'ACTIVE' THEN 1 END),
			COUNT(CASE WHEN status = 'INACTIVE' THEN 1 END),
			COUNT(CASE WHEN status = 'ACTIVE' AND expires_at IS NOT NULL AND expires_at < ? THEN 1 END),
			COUNT(*)
		FROM licenses
	`, now).Scan(&stats.Active, &stats.Inactive, &stats.Expired, &stats.Total)
	if err != nil {
		return nil, err
	}

	startOfYear := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'ACTIVE' AND price_interval = 'MONTHLY' THEN price_cents END), 0),
			COALESCE(SUM(CASE WHEN status = 'ACTIVE' AND price_interval = 'YEARLY' THEN price_cents END), 0),
			COALESCE(SUM(CASE WHEN price_interval = 'ONE_TIME' AND created_at >= ? THEN price_cents END), 0)
		FROM licenses
	`, startOfYear).Scan(&stats.MonthlyRevenueCents, &stats.YearlyRevenueCents, &stats.OneTimeRevenueThisYearCts)
	if err != nil {
		return nil, err
	}

	stats.TotalYearRevenueCents = stats.MonthlyRevenueCents*12 + stats.YearlyRevenueCents + stats.OneTimeRevenueThisYearCts

	recent, err := s.recentAPIAccess(ctx, 10)
	if err != nil {
		return nil, err
	}
	stats.RecentAPIAccess = recent

	return stats, nil
}

func (s *LicenseStore) recentAPIAccess(ctx context.Context, limit int) ([]*License, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+licenseColumns+`
		FROM licenses l
		JOIN license_types t ON t.id = l.type_id
		WHERE l.last_api_access_at IS NOT NULL
		ORDER BY l.last_api_access_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var licenses []*License
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, license)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	return licenses, nil
}
