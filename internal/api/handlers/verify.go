// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/innodigi/licenser/internal/models"
	"github.com/innodigi/licenser/internal/services/verification"
)

// VerifyHandler exposes the public, unauthenticated verification endpoints.
type VerifyHandler struct {
	verificationService *verification.Service
}

func NewVerifyHandler(verificationService *verification.Service) *VerifyHandler {
	return &VerifyHandler{verificationService: verificationService}
}

func (h *VerifyHandler) Routes(r chi.Router) {
	r.Post("/verify", h.Verify)
	r.Post("/verify-email/{token}", h.ConfirmEmail)
	r.Get("/verify/{code}", h.VerifyByCode)
}

// VerifyRequest is the body of POST /licenses/verify
type VerifyRequest struct {
	LicenseCode   string `json:"licenseCode"`
	CustomerEmail string `json:"customerEmail"`
}

// Verify handles POST /licenses/verify
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.LicenseCode == "" {
		RespondError(w, http.StatusBadRequest, "License code required")
		return
	}

	result, err := h.verificationService.Verify(r.Context(), req.LicenseCode, req.CustomerEmail, callerIP(r))
	if err != nil {
		var cooldown *verification.CooldownError
		switch {
		case errors.As(err, &cooldown):
			respondRateLimited(w, cooldown)
		case errors.Is(err, verification.ErrEmailRequired):
			RespondError(w, http.StatusBadRequest, "Customer email required for cryptographic license")
		default:
			log.Error().Err(err).
				Str("code", maskLicenseCode(req.LicenseCode)).
				Msg("License verification failed")
			RespondError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

// VerifyByCode handles GET /licenses/verify/{code}
func (h *VerifyHandler) VerifyByCode(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	info, err := h.verificationService.VerifyByCode(r.Context(), code)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrLicenseNotFound):
			RespondJSON(w, http.StatusNotFound, map[string]any{"valid": false})
		case errors.Is(err, models.ErrAPIQuotaExceeded):
			RespondJSON(w, http.StatusTooManyRequests, map[string]any{
				"valid": false,
				"error": "Rate limit exceeded",
			})
		default:
			log.Error().Err(err).
				Str("code", maskLicenseCode(code)).
				Msg("Public license lookup failed")
			RespondError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	RespondJSON(w, http.StatusOK, info)
}

// ConfirmEmail handles POST /licenses/verify-email/{token}
func (h *VerifyHandler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	result, err := h.verificationService.ConfirmEmail(r.Context(), token)
	if err != nil {
		if errors.Is(err, verification.ErrInvalidOrExpiredToken) {
			RespondError(w, http.StatusBadRequest, "Invalid or expired verification token")
			return
		}
		log.Error().Err(err).Msg("Email confirmation failed")
		RespondError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	RespondJSON(w, http.StatusOK, result)
}

func respondRateLimited(w http.ResponseWriter, cooldown *verification.CooldownError) {
	seconds := int(math.Ceil(cooldown.RetryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	RespondError(w, http.StatusTooManyRequests,
		fmt.Sprintf("Rate limit exceeded. Please wait %d seconds between requests.", seconds))
}

// callerIP keys the cooldown limiter. RealIP middleware has already resolved
// proxy headers into RemoteAddr.
func callerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
