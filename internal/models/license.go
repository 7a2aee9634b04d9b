// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	lib "modernc.org/sqlite/lib"

	"github.com/innodigi/licenser/internal/dbinterface"
	"github.com/innodigi/licenser/internal/ratelimit"
)

var (
	ErrLicenseNotFound   = errors.New("license not found")
	ErrLicenseCodeExists = errors.New("license code already exists")
	ErrAPIQuotaExceeded  = errors.New("hourly api quota exceeded")
)

// License status constants
const (
	LicenseStatusActive   = "ACTIVE"
	LicenseStatusInactive = "INACTIVE"
)

// Price interval constants
const (
	PriceIntervalOneTime = "ONE_TIME"
	PriceIntervalMonthly = "MONTHLY"
	PriceIntervalYearly  = "YEARLY"
)

// License represents a license record in the database
type License struct {
	ID                        string     `json:"id"`
	Code                      string     `json:"code"`
	CustomerName              string     `json:"customerName"`
	CustomerEmail             string     `json:"customerEmail"`
	CustomerNumber            *string    `json:"customerNumber,omitempty"`
	Domain                    string     `json:"domain"`
	TypeID                    string     `json:"typeId"`
	TypeName                  string     `json:"typeName"`
	Status                    string     `json:"status"`
	Notes                     *string    `json:"notes,omitempty"`
	PriceCents                int64      `json:"priceCents"`
	PriceInterval             string     `json:"priceInterval"`
	ExpiresAt                 *time.Time `json:"expiresAt,omitempty"`
	IsCryptographic           bool       `json:"isCryptographic"`
	RequiresEmailVerification bool       `json:"requiresEmailVerification"`
	EmailVerifiedAt           *time.Time `json:"emailVerifiedAt,omitempty"`
	VerificationToken         *string    `json:"-"`
	VerificationExpiresAt     *time.Time `json:"-"`
	LastAPIAccessAt           *time.Time `json:"lastApiAccessAt,omitempty"`
	APIAccessHourKey          *string    `json:"-"`
	APIAccessCountHour        int        `json:"-"`
	CreatedAt                 time.Time  `json:"createdAt"`
	UpdatedAt                 time.Time  `json:"updatedAt"`
}

// Expired reports whether the license has an expiry in the past relative to now.
func (l *License) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

type LicenseStore struct {
	db dbinterface.Querier
}

func NewLicenseStore(db dbinterface.Querier) *LicenseStore {
	return &LicenseStore{db: db}
}

const licenseColumns = `
	l.id, l.code, l.customer_name, l.customer_email, l.customer_number, l.domain,
	l.type_id, t.name, l.status, l.notes, l.price_cents, l.price_interval,
	l.expires_at, l.is_cryptographic, l.requires_email_verification,
	l.email_verified_at, l.verification_token, l.verification_expires_at,
	l.last_api_access_at, l.api_access_hour_key, l.api_access_count_hour,
	l.created_at, l.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*License, error) {
	l := &License{}
	var (
		customerNumber    sql.NullString
		notes             sql.NullString
		expiresAt         sql.NullTime
		emailVerifiedAt   sql.NullTime
		verificationToken sql.NullString
		verificationExp   sql.NullTime
		lastAPIAccessAt   sql.NullTime
		hourKey           sql.NullString
	)

	err := row.Scan(
		&l.ID,
		&l.Code,
		&l.CustomerName,
		&l.CustomerEmail,
		&customerNumber,
		&l.Domain,
		&l.TypeID,
		&l.TypeName,
		&l.Status,
		&notes,
		&l.PriceCents,
		&l.PriceInterval,
		&expiresAt,
		&l.IsCryptographic,
		&l.RequiresEmailVerification,
		&emailVerifiedAt,
		&verificationToken,
		&verificationExp,
		&lastAPIAccessAt,
		&hourKey,
		&l.APIAccessCountHour,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if customerNumber.Valid {
		l.CustomerNumber = &customerNumber.String
	}
	if notes.Valid {
		l.Notes = &notes.String
	}
	if expiresAt.Valid {
		l.ExpiresAt = &expiresAt.Time
	}
	if emailVerifiedAt.Valid {
		l.EmailVerifiedAt = &emailVerifiedAt.Time
	}
	if verificationToken.Valid {
		l.VerificationToken = &verificationToken.String
	}
	if verificationExp.Valid {
		l.VerificationExpiresAt = &verificationExp.Time
	}
	if lastAPIAccessAt.Valid {
		l.LastAPIAccessAt = &lastAPIAccessAt.Time
	}
	if hourKey.Valid {
		l.APIAccessHourKey = &hourKey.String
	}

	return l, nil
}

// Create inserts a new license. The code must already be assigned; a UNIQUE
// violation on it surfaces as ErrLicenseCodeExists so the caller can report
// "code already exists" instead of retrying.
func (s *LicenseStore) Create(ctx context.Context, license *License) (*License, error) {
	if license.ID == "" {
		license.ID = uuid.NewString()
	}
	// Cryptographic codes are derived from the creation timestamp, so a
	// caller-assigned CreatedAt must survive the insert.
	if license.CreatedAt.IsZero() {
		license.CreatedAt = time.Now()
	}
	license.UpdatedAt = license.CreatedAt

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO licenses (
			id, code, customer_name, customer_email, customer_number, domain,
			type_id, status, notes, price_cents, price_interval, expires_at,
			is_cryptographic, requires_email_verification, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		license.ID,
		license.Code,
		license.CustomerName,
		license.CustomerEmail,
		license.CustomerNumber,
		license.Domain,
		license.TypeID,
		license.Status,
		license.Notes,
		license.PriceCents,
		license.PriceInterval,
		timeToNullTime(license.ExpiresAt),
		license.IsCryptographic,
		license.RequiresEmailVerification,
		license.CreatedAt,
		license.UpdatedAt,
	)
	if err != nil {
		var sqlErr *sqlite.Error
		if errors.As(err, &sqlErr) && sqlErr.Code() == lib.SQLITE_CONSTRAINT_UNIQUE {
			return nil, ErrLicenseCodeExists
		}
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetByID(ctx, license.ID)
}

// GetByID retrieves a license by its id
func (s *LicenseStore) GetByID(ctx context.Context, id string) (*License, error) {
	query := `
		SELECT ` + licenseColumns + `
		FROM licenses l
		JOIN license_types t ON t.id = l.type_id
		WHERE l.id = ?
	`

	license, err := scanLicense(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}
	return license, nil
}

// GetByCode retrieves a license by its unique code
func (s *LicenseStore) GetByCode(ctx context.Context, code string) (*License, error) {
	query := `
		SELECT ` + licenseColumns + `
		FROM licenses l
		JOIN license_types t ON t.id = l.type_id
		WHERE l.code = ?
	`

	license, err := scanLicense(s.db.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}
	return license, nil
}

// GetByVerificationToken retrieves a license whose confirmation token matches
// and has not expired yet.
func (s *LicenseStore) GetByVerificationToken(ctx context.Context, token string, now time.Time) (*License, error) {
	query := `
		SELECT ` + licenseColumns + `
		FROM licenses l
		JOIN license_types t ON t.id = l.type_id
		WHERE l.verification_token = ? AND l.verification_expires_at > ?
	`

	license, err := scanLicense(s.db.QueryRowContext(ctx, query, token, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}
	return license, nil
}

// ListParams narrows and orders the license listing.
type ListParams struct {
	Query    string
	Status   string
	TypeID   string
	Sort     string
	Order    string
	Page     int
	PageSize int
}

// sortColumns whitelists sortable fields against their SQL columns.
var sortColumns = map[string]string{
	"createdAt":       "l.created_at",
	"updatedAt":       "l.updated_at",
	"code":            "l.code",
	"customerName":    "l.customer_name",
	"customerEmail":   "l.customer_email",
	"domain":          "l.domain",
	"status":          "l.status",
	"priceCents":      "l.price_cents",
	"expiresAt":       "l.expires_at",
	"lastApiAccessAt": "l.last_api_access_at",
}

// List returns a page of licenses plus the total match count.
func (s *LicenseStore) List(ctx context.Context, params ListParams) ([]*License, int, error) {
	var conditions []string
	var args []any

	if params.Status != "" {
		conditions = append(conditions, "l.status = ?")
		args = append(args, params.Status)
	}
	if params.TypeID != "" {
		conditions = append(conditions, "l.type_id = ?")
		args = append(args, params.TypeID)
	}
	if params.Query != "" {
		conditions = append(conditions, `(
			l.code LIKE ? OR l.customer_name LIKE ? OR l.customer_email LIKE ?
			OR l.customer_number LIKE ? OR l.domain LIKE ? OR l.notes LIKE ?
		)`)
		like := "%" + params.Query + "%"
		for range 6 {
			args = append(args, like)
		}
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM licenses l " + where
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortCol, ok := sortColumns[params.Sort]
	if !ok {
		sortCol = "l.created_at"
	}
	order := "DESC"
	if strings.EqualFold(params.Order, "asc") {
		order = "ASC"
	}

	query := `
		SELECT ` + licenseColumns + `
		FROM licenses l
		JOIN license_types t ON t.id = l.type_id
		` + where + `
		ORDER BY ` + sortCol + ` ` + order

	if params.PageSize > 0 {
		page := max(params.Page, 1)
		query += " LIMIT ? OFFSET ?"
		args = append(args, params.PageSize, (page-1)*params.PageSize)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var licenses []*License
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, 0, err
		}
		licenses = append(licenses, license)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, err
	}

	return licenses, total, nil
}

// Update rewrites the administrative fields of a license. The code and the
// verification state are deliberately not touched here; codes never mutate
// after creation and verification state moves through dedicated operations.
func (s *LicenseStore) Update(ctx context.Context, license *License) (*License, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE licenses
		SET customer_name = ?, customer_email = ?, customer_number = ?, domain = ?,
		    type_id = ?, status = ?, notes = ?, price_cents = ?, price_interval = ?,
		    expires_at = ?, requires_email_verification = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := tx.ExecContext(ctx, query,
		license.CustomerName,
		license.CustomerEmail,
		license.CustomerNumber,
		license.Domain,
		license.TypeID,
		license.Status,
		license.Notes,
		license.PriceCents,
		license.PriceInterval,
		timeToNullTime(license.ExpiresAt),
		license.RequiresEmailVerification,
		time.Now(),
		license.ID,
	)
	if err != nil {
		return nil, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrLicenseNotFound
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetByID(ctx, license.ID)
}

// Delete removes a license
func (s *LicenseStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM licenses WHERE id = ?", id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLicenseNotFound
	}

	return tx.Commit()
}

// SetVerificationToken stores a freshly minted email confirmation token and
// its expiry on the license.
func (s *LicenseStore) SetVerificationToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE licenses
		SET verification_token = ?, verification_expires_at = ?, updated_at = ?
		WHERE id = ?
	`, token, expiresAt, time.Now(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLicenseNotFound
	}

	return tx.Commit()
}

// MarkEmailVerified records the confirmed email and clears the single-use
// token. The license status is deliberately left alone.
func (s *LicenseStore) MarkEmailVerified(ctx context.Context, id string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE licenses
		SET email_verified_at = ?, verification_token = NULL, verification_expires_at = NULL, updated_at = ?
		WHERE id = ?
	`, now, now, id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLicenseNotFound
	}

	return tx.Commit()
}

// ClearEmailVerification drops the confirmed-email state and any outstanding
// token. Used when an admin re-enables the email gate on a license.
func (s *LicenseStore) ClearEmailVerification(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE licenses
		SET email_verified_at = NULL, verification_token = NULL, verification_expires_at = NULL, updated_at = ?
		WHERE id = ?
	`, time.Now(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrLicenseNotFound
	}

	return tx.Commit()
}

// TouchAPIAccess records a successful verification call.
func (s *LicenseStore) TouchAPIAccess(ctx context.Context, id string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE licenses SET last_api_access_at = ? WHERE id = ?
	`, now, id)
	return err
}

// RecordAPIAccess enforces the hourly quota for the public code lookup and, on
// admission, advances the counters and the last-access timestamp in the same
// write transaction. The stored count is logically zero whenever the stored
// hour bucket differs from the current one. Returns ErrAPIQuotaExceeded
// without mutating anything once the bucket's count reaches the limit.
func (s *LicenseStore) RecordAPIAccess(ctx context.Context, id string, now time.Time) error {
	bucket := ratelimit.HourBucket(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var storedBucket sql.NullString
	var count int
	err = tx.QueryRowContext(ctx, `
		SELECT api_access_hour_key, api_access_count_hour FROM licenses WHERE id = ?
	`, id).Scan(&storedBucket, &count)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrLicenseNotFound
	}
	if err != nil {
		return err
	}

	if !storedBucket.Valid || storedBucket.String != bucket {
		count = 0
	}
	if count >= ratelimit.HourlyQuotaLimit {
		return ErrAPIQuotaExceeded
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE licenses
		SET api_access_hour_key = ?, api_access_count_hour = ?, last_api_access_at = ?
		WHERE id = ?
	`, bucket, count+1, now, id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
