// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package verification implements the multi-stage license verification state
// machine: cooldown gate, code lookup, cryptographic recomputation, the
// email-confirmation gate and the final status and expiry checks. Every
// negative outcome is a structured result rather than an error; only
// infrastructure failures (store unreachable) escape as errors.
package verification

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/innodigi/licenser/internal/licensecode"
	"github.com/innodigi/licenser/internal/metrics"
	"github.com/innodigi/licenser/internal/models"
	"github.com/innodigi/licenser/internal/pkg/timeouts"
	"github.com/innodigi/licenser/internal/ratelimit"
	"github.com/innodigi/licenser/internal/services/secrets"
)

var (
	// ErrEmailRequired signals a cryptographic license verification attempted
	// without the customer email. A caller error, not an outcome.
	ErrEmailRequired = errors.New("customer email required for cryptographic license")

	// ErrVerificationNotApplicable signals a resend request for a license
	// that does not use the email gate.
	ErrVerificationNotApplicable = errors.New("license does not require email verification")

	// ErrEmailAlreadyVerified signals a resend request for an already
	// confirmed email.
	ErrEmailAlreadyVerified = errors.New("email already verified")

	// ErrInvalidOrExpiredToken signals an email confirmation attempt with a
	// token that does not exist, was already used, or has expired.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired verification token")
)

// CooldownError reports a rate limited request and how long to wait.
type CooldownError struct {
	RetryAfter time.Duration
}

func (e *CooldownError) Error() string {
	return "rate limit exceeded"
}

// Machine-readable reasons for negative verification outcomes. A wrong email
// for a real code and a wrong code both map to ReasonMismatch so callers
// cannot enumerate codes.
const (
	ReasonNotFound = "not_found"
	ReasonMismatch = "mismatch"
	ReasonExpired  = "expired"
)

const (
	verifyCooldown    = 10 * time.Second
	challengeValidity = 5 * time.Minute
)

// Result is the outcome of a Verify call.
type Result struct {
	Valid                bool               `json:"valid"`
	Reason               string             `json:"reason,omitempty"`
	RequiresVerification bool               `json:"requiresVerification,omitempty"`
	LicenseID            string             `json:"licenseId,omitempty"`
	Message              string             `json:"message,omitempty"`
	License              *LicenseProjection `json:"license,omitempty"`
}

// LicenseProjection is the public view of a license. Verification token state
// and access counters never leave the service.
type LicenseProjection struct {
	ID                        string     `json:"id"`
	Code                      string     `json:"code"`
	CustomerName              string     `json:"customerName"`
	CustomerEmail             string     `json:"customerEmail"`
	Domain                    string     `json:"domain"`
	Type                      string     `json:"type"`
	Status                    string     `json:"status"`
	ExpiresAt                 *time.Time `json:"expiresAt,omitempty"`
	IsCryptographic           bool       `json:"isCryptographic"`
	RequiresEmailVerification bool       `json:"requiresEmailVerification"`
	EmailVerifiedAt           *time.Time `json:"emailVerifiedAt,omitempty"`
}

func projectLicense(l *models.License) *LicenseProjection {
	return &LicenseProjection{
		ID:                        l.ID,
		Code:                      l.Code,
		CustomerName:              l.CustomerName,
		CustomerEmail:             l.CustomerEmail,
		Domain:                    l.Domain,
		Type:                      l.TypeName,
		Status:                    l.Status,
		ExpiresAt:                 l.ExpiresAt,
		IsCryptographic:           l.IsCryptographic,
		RequiresEmailVerification: l.RequiresEmailVerification,
		EmailVerifiedAt:           l.EmailVerifiedAt,
	}
}

// PublicInfo is the response of the path-based public lookup.
type PublicInfo struct {
	Valid           bool       `json:"valid"`
	Code            string     `json:"code"`
	CustomerName    string     `json:"customerName"`
	CustomerEmail   string     `json:"customerEmail"`
	Domain          string     `json:"domain"`
	Type            string     `json:"type"`
	Status          string     `json:"status"`
	ExpiresAt       *time.Time `json:"expiresAt,omitempty"`
	LastAPIAccessAt *time.Time `json:"lastApiAccessAt,omitempty"`
	TermsURL        string     `json:"termsUrl"`
}

// ConfirmResult is the outcome of a successful email confirmation. The caller
// must re-invoke Verify afterwards; confirming only clears the gate.
type ConfirmResult struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	License *LicenseProjection `json:"license"`
}

// Mailer dispatches the email-gate challenge. Implemented by mail.Composer.
type Mailer interface {
	SendVerificationEmail(ctx context.Context, license *models.License, token string) error
	TermsURL(ctx context.Context) string
}

// Service is the verification state machine.
type Service struct {
	licenses *models.LicenseStore
	secrets  *secrets.Manager
	mailer   Mailer
	cooldown *ratelimit.CooldownLimiter
	metrics  *metrics.Manager

	// now is swappable for tests.
	now func() time.Time
}

func NewService(licenses *models.LicenseStore, secretManager *secrets.Manager, mailer Mailer, metricsManager *metrics.Manager) *Service {
	return &Service{
		licenses: licenses,
		secrets:  secretManager,
		mailer:   mailer,
		cooldown: ratelimit.NewCooldownLimiter(verifyCooldown),
		metrics:  metricsManager,
		now:      time.Now,
	}
}

func (s *Service) countOutcome(endpoint, outcome string) {
	if s.metrics != nil {
		s.metrics.Verifications.WithLabelValues(endpoint, outcome).Inc()
	}
}

// Verify runs the full state machine for a submitted code. Branches
// short-circuit in order: cooldown, lookup, cryptographic check, email gate,
// status, expiry. callerIP keys the cooldown limiter.
func (s *Service) Verify(ctx context.Context, code, customerEmail, callerIP string) (*Result, error) {
	if ok, wait := s.cooldown.Allow("verify:" + callerIP); !ok {
		if s.metrics != nil {
			s.metrics.RateLimited.WithLabelValues("cooldown").Inc()
		}
		return nil, &CooldownError{RetryAfter: wait}
	}

	license, err := s.licenses.GetByCode(ctx, code)
	if errors.Is(err, models.ErrLicenseNotFound) {
		s.countOutcome("verify", "not_found")
		return &Result{Valid: false, Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up license")
	}

	if license.IsCryptographic {
		if customerEmail == "" {
			return nil, ErrEmailRequired
		}

		// A wrong email for a real code and a wrong code yield the same
		// generic outcome; never reveal which check failed.
		codeOK := licensecode.VerifyDeterministicCode(code, customerEmail, license.CreatedAt, s.secrets.Get())
		emailOK := strings.EqualFold(license.CustomerEmail, customerEmail)
		if !codeOK || !emailOK {
			s.countOutcome("verify", "mismatch")
			return &Result{Valid: false, Reason: ReasonMismatch}, nil
		}
	}

	if license.RequiresEmailVerification && license.EmailVerifiedAt == nil {
		return s.issueChallenge(ctx, license)
	}

	now := s.now()

	if license.Status != models.LicenseStatusActive {
		s.countOutcome("verify", "inactive")
		return &Result{Valid: false, Reason: "status is " + strings.ToLower(license.Status)}, nil
	}

	if license.Expired(now) {
		s.countOutcome("verify", "expired")
		return &Result{Valid: false, Reason: ReasonExpired}, nil
	}

	if err := s.licenses.TouchAPIAccess(ctx, license.ID, now); err != nil {
		return nil, errors.Wrap(err, "failed to record api access")
	}

	s.countOutcome("verify", "valid")
	return &Result{Valid: true, License: projectLicense(license)}, nil
}

// issueChallenge mints and dispatches an email-gate token, unless an
// unexpired challenge is already outstanding.
func (s *Service) issueChallenge(ctx context.Context, license *models.License) (*Result, error) {
	now := s.now()

	if license.VerificationExpiresAt != nil && license.VerificationExpiresAt.After(now) {
		s.countOutcome("verify", "pending")
		return &Result{
			Valid:                false,
			RequiresVerification: true,
			LicenseID:            license.ID,
			Message:              "Verification email already sent. Please check your inbox or wait 5 minutes before requesting a new one.",
		}, nil
	}

	token, err := licensecode.GenerateVerificationToken()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate verification token")
	}

	if err := s.licenses.SetVerificationToken(ctx, license.ID, token, now.Add(challengeValidity)); err != nil {
		return nil, errors.Wrap(err, "failed to store verification token")
	}

	if s.metrics != nil {
		s.metrics.EmailGateIssued.Inc()
	}

	s.dispatchChallenge(ctx, license, token)

	s.countOutcome("verify", "pending")
	return &Result{
		Valid:                false,
		RequiresVerification: true,
		LicenseID:            license.ID,
		Message:              "Verification email sent",
	}, nil
}

// dispatchChallenge sends the challenge email in the background. Failure to
// send never converts a pending outcome into an error; it is logged and
// counted for operational diagnosis.
func (s *Service) dispatchChallenge(ctx context.Context, license *models.License, token string) {
	sendCtx, cancel := timeouts.WithMailTimeout(context.WithoutCancel(ctx), 0)
	go func() {
		defer cancel()
		err := s.mailer.SendVerificationEmail(sendCtx, license, token)
		result := "ok"
		if err != nil {
			result = "error"
			log.Error().Err(err).
				Str("licenseID", license.ID).
				Msg("Failed to send verification email")
		} else {
			log.Info().
				Str("licenseID", license.ID).
				Msg("Verification email sent")
		}
		if s.metrics != nil {
			s.metrics.EmailDispatches.WithLabelValues("verification", result).Inc()
		}
	}()
}

// VerifyByCode is the simpler path-based public lookup. It enforces the
// hourly per-license quota instead of the cooldown and skips the email gate.
func (s *Service) VerifyByCode(ctx context.Context, code string) (*PublicInfo, error) {
	license, err := s.licenses.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			s.countOutcome("verify_by_code", "not_found")
		}
		return nil, err
	}

	now := s.now()

	if err := s.licenses.RecordAPIAccess(ctx, license.ID, now); err != nil {
		if errors.Is(err, models.ErrAPIQuotaExceeded) && s.metrics != nil {
			s.metrics.RateLimited.WithLabelValues("hourly_quota").Inc()
		}
		return nil, err
	}

	valid := license.Status == models.LicenseStatusActive && !license.Expired(now)
	if valid {
		s.countOutcome("verify_by_code", "valid")
	} else {
		s.countOutcome("verify_by_code", "invalid")
	}

	return &PublicInfo{
		Valid:           valid,
		Code:            license.Code,
		CustomerName:    license.CustomerName,
		CustomerEmail:   license.CustomerEmail,
		Domain:          license.Domain,
		Type:            license.TypeName,
		Status:          license.Status,
		ExpiresAt:       license.ExpiresAt,
		LastAPIAccessAt: license.LastAPIAccessAt,
		TermsURL:        s.mailer.TermsURL(ctx),
	}, nil
}

// ConfirmEmail finalizes the email gate. The token is single use: the lookup
// only matches unexpired tokens and confirmation clears the token fields, so
// a second attempt with the same token fails. License status is not touched;
// the caller must re-invoke Verify for a validity determination.
func (s *Service) ConfirmEmail(ctx context.Context, token string) (*ConfirmResult, error) {
	now := s.now()

	license, err := s.licenses.GetByVerificationToken(ctx, token, now)
	if errors.Is(err, models.ErrLicenseNotFound) {
		return nil, ErrInvalidOrExpiredToken
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up verification token")
	}

	if err := s.licenses.MarkEmailVerified(ctx, license.ID, now); err != nil {
		return nil, errors.Wrap(err, "failed to mark email verified")
	}

	if s.metrics != nil {
		s.metrics.EmailGateCleared.Inc()
	}

	verifiedAt := now
	projection := projectLicense(license)
	projection.EmailVerifiedAt = &verifiedAt

	return &ConfirmResult{
		Success: true,
		Message: "Email verified successfully. You can now verify your license.",
		License: projection,
	}, nil
}

// ResendVerification re-issues the email-gate challenge for a license. The
// same 5-minute suppression window applies so a customer address cannot be
// mail-bombed.
func (s *Service) ResendVerification(ctx context.Context, licenseID string) error {
	license, err := s.licenses.GetByID(ctx, licenseID)
	if err != nil {
		return err
	}

	if !license.RequiresEmailVerification {
		return ErrVerificationNotApplicable
	}
	if license.EmailVerifiedAt != nil {
		return ErrEmailAlreadyVerified
	}

	now := s.now()
	if license.VerificationExpiresAt != nil && license.VerificationExpiresAt.After(now) {
		return &CooldownError{RetryAfter: license.VerificationExpiresAt.Sub(now)}
	}

	token, err := licensecode.GenerateVerificationToken()
	if err != nil {
		return errors.Wrap(err, "failed to generate verification token")
	}

	if err := s.licenses.SetVerificationToken(ctx, license.ID, token, now.Add(challengeValidity)); err != nil {
		return errors.Wrap(err, "failed to store verification token")
	}

	if s.metrics != nil {
		s.metrics.EmailGateIssued.Inc()
	}

	s.dispatchChallenge(ctx, license, token)
	return nil
}
