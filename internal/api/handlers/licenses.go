// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/innodigi/licenser/internal/licensecode"
	"github.com/innodigi/licenser/internal/models"
	"github.com/innodigi/licenser/internal/pkg/timeouts"
	"github.com/innodigi/licenser/internal/services/mail"
	"github.com/innodigi/licenser/internal/services/secrets"
	"github.com/innodigi/licenser/internal/services/verification"
)

// LicensesHandler implements the admin license CRUD plus the email dispatch
// operations.
type LicensesHandler struct {
	licenseStore        *models.LicenseStore
	typeStore           *models.LicenseTypeStore
	secretManager       *secrets.Manager
	composer            *mail.Composer
	verificationService *verification.Service
}

func NewLicensesHandler(
	licenseStore *models.LicenseStore,
	typeStore *models.LicenseTypeStore,
	secretManager *secrets.Manager,
	composer *mail.Composer,
	verificationService *verification.Service,
) *LicensesHandler {
	return &LicensesHandler{
		licenseStore:        licenseStore,
		typeStore:           typeStore,
		secretManager:       secretManager,
		composer:            composer,
		verificationService: verificationService,
	}
}

// LicenseRequest carries the admin-editable license fields. Create and
// update share it; the code fields only matter on create.
type LicenseRequest struct {
	Code                      string  `json:"code"`
	CustomerName              string  `json:"customerName"`
	CustomerEmail             string  `json:"customerEmail"`
	CustomerNumber            *string `json:"customerNumber"`
	Domain                    string  `json:"domain"`
	TypeID                    string  `json:"typeId"`
	Status                    string  `json:"status"`
	Notes                     *string `json:"notes"`
	PriceCents                int64   `json:"priceCents"`
	PriceInterval             string  `json:"priceInterval"`
	ExpiresAt                 *string `json:"expiresAt"`
	IsCryptographic           bool    `json:"isCryptographic"`
	RequiresEmailVerification bool    `json:"requiresEmailVerification"`
	SendEmail                 bool    `json:"sendEmail"`
}

func (req *LicenseRequest) validate() string {
	if req.CustomerName == "" || req.CustomerEmail == "" {
		return "Customer name and email are required"
	}
	if req.Domain == "" {
		return "Domain is required"
	}
	if req.TypeID == "" {
		return "License type is required"
	}
	switch req.Status {
	case "", models.LicenseStatusActive, models.LicenseStatusInactive:
	default:
		return "Invalid status"
	}
	switch req.PriceInterval {
	case "", models.PriceIntervalOneTime, models.PriceIntervalMonthly, models.PriceIntervalYearly:
	default:
		return "Invalid price interval"
	}
	return ""
}

func (req *LicenseRequest) expiry() (*time.Time, error) {
	if req.ExpiresAt == nil || *req.ExpiresAt == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *LicensesHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	licenses, total, err := h.licenseStore.List(r.Context(), models.ListParams{
		Query:    q.Get("q"),
		Status:   q.Get("status"),
		TypeID:   q.Get("typeId"),
		Sort:     q.Get("sort"),
		Order:    q.Get("order"),
		Page:     page,
		PageSize: pageSize,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to list licenses")
		RespondError(w, http.StatusInternalServerError, "Failed to list licenses")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"licenses": licenses,
		"total":    total,
	})
}

func (h *LicensesHandler) Get(w http.ResponseWriter, r *http.Request) {
	license, err := h.licenseStore.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			RespondError(w, http.StatusNotFound, "License not found")
			return
		}
		log.Error().Err(err).Msg("Failed to load license")
		RespondError(w, http.StatusInternalServerError, "Failed to load license")
		return
	}

	RespondJSON(w, http.StatusOK, license)
}

// Create assigns the code according to the request: an explicit code is taken
// as is, cryptographic licenses derive it from the customer email and the
// creation timestamp, everything else gets a random one.
func (h *LicensesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req LicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if msg := req.validate(); msg != "" {
		RespondError(w, http.StatusBadRequest, msg)
		return
	}

	expiresAt, err := req.expiry()
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid expiry date")
		return
	}

	if _, err := h.typeStore.Get(r.Context(), req.TypeID); err != nil {
		if errors.Is(err, models.ErrLicenseTypeNotFound) {
			RespondError(w, http.StatusBadRequest, "Unknown license type")
			return
		}
		log.Error().Err(err).Msg("Failed to load license type")
		RespondError(w, http.StatusInternalServerError, "Failed to create license")
		return
	}

	license := &models.License{
		CustomerName:              req.CustomerName,
		CustomerEmail:             req.CustomerEmail,
		CustomerNumber:            req.CustomerNumber,
		Domain:                    req.Domain,
		TypeID:                    req.TypeID,
		Status:                    req.Status,
		Notes:                     req.Notes,
		PriceCents:                req.PriceCents,
		PriceInterval:             req.PriceInterval,
		ExpiresAt:                 expiresAt,
		IsCryptographic:           req.IsCryptographic,
		RequiresEmailVerification: req.RequiresEmailVerification,
	}
	if license.Status == "" {
		license.Status = models.LicenseStatusActive
	}
	if license.PriceInterval == "" {
		license.PriceInterval = models.PriceIntervalOneTime
	}

	switch {
	case req.Code != "":
		license.Code = req.Code
	case req.IsCryptographic:
		license.CreatedAt = time.Now()
		license.Code = licensecode.GenerateDeterministicCode(req.CustomerEmail, license.CreatedAt, h.secretManager.Get())
	default:
		license.Code = licensecode.GenerateCode()
	}

	created, err := h.licenseStore.Create(r.Context(), license)
	if err != nil {
		if errors.Is(err, models.ErrLicenseCodeExists) {
			RespondError(w, http.StatusConflict, "License code already exists")
			return
		}
		log.Error().Err(err).Msg("Failed to create license")
		RespondError(w, http.StatusInternalServerError, "Failed to create license")
		return
	}

	if req.SendEmail {
		h.dispatchLicenseEmail(r.Context(), created)
	}

	RespondJSON(w, http.StatusCreated, created)
}

// Update rewrites the admin fields. Enabling the email gate on a license
// resets its verification state and dispatches a fresh challenge.
func (h *LicensesHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req LicenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if msg := req.validate(); msg != "" {
		RespondError(w, http.StatusBadRequest, msg)
		return
	}

	expiresAt, err := req.expiry()
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid expiry date")
		return
	}

	existing, err := h.licenseStore.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			RespondError(w, http.StatusNotFound, "License not found")
			return
		}
		log.Error().Err(err).Msg("Failed to load license")
		RespondError(w, http.StatusInternalServerError, "Failed to update license")
		return
	}

	if _, err := h.typeStore.Get(r.Context(), req.TypeID); err != nil {
		if errors.Is(err, models.ErrLicenseTypeNotFound) {
			RespondError(w, http.StatusBadRequest, "Unknown license type")
			return
		}
		log.Error().Err(err).Msg("Failed to load license type")
		RespondError(w, http.StatusInternalServerError, "Failed to update license")
		return
	}

	gateEnabled := req.RequiresEmailVerification && !existing.RequiresEmailVerification

	existing.CustomerName = req.CustomerName
	existing.CustomerEmail = req.CustomerEmail
	existing.CustomerNumber = req.CustomerNumber
	existing.Domain = req.Domain
	existing.TypeID = req.TypeID
	existing.Notes = req.Notes
	existing.PriceCents = req.PriceCents
	existing.ExpiresAt = expiresAt
	existing.RequiresEmailVerification = req.RequiresEmailVerification
	if req.Status != "" {
		existing.Status = req.Status
	}
	if req.PriceInterval != "" {
		existing.PriceInterval = req.PriceInterval
	}

	updated, err := h.licenseStore.Update(r.Context(), existing)
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			RespondError(w, http.StatusNotFound, "License not found")
			return
		}
		log.Error().Err(err).Msg("Failed to update license")
		RespondError(w, http.StatusInternalServerError, "Failed to update license")
		return
	}

	if gateEnabled {
		if err := h.licenseStore.ClearEmailVerification(r.Context(), updated.ID); err != nil {
			log.Error().Err(err).Str("licenseId", updated.ID).Msg("Failed to reset verification state")
		} else if err := h.verificationService.ResendVerification(r.Context(), updated.ID); err != nil {
			log.Error().Err(err).Str("licenseId", updated.ID).Msg("Failed to dispatch verification challenge")
		}
		updated, err = h.licenseStore.GetByID(r.Context(), updated.ID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to reload license")
			RespondError(w, http.StatusInternalServerError, "Failed to update license")
			return
		}
	}

	RespondJSON(w, http.StatusOK, updated)
}

func (h *LicensesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.licenseStore.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			RespondError(w, http.StatusNotFound, "License not found")
			return
		}
		log.Error().Err(err).Msg("Failed to delete license")
		RespondError(w, http.StatusInternalServerError, "Failed to delete license")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "License deleted successfully",
	})
}

// ResendVerification re-issues the email-gate challenge on admin request.
func (h *LicensesHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	err := h.verificationService.ResendVerification(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		var cooldown *verification.CooldownError
		switch {
		case errors.Is(err, models.ErrLicenseNotFound):
			RespondError(w, http.StatusNotFound, "License not found")
		case errors.Is(err, verification.ErrVerificationNotApplicable):
			RespondError(w, http.StatusBadRequest, "License does not require email verification")
		case errors.Is(err, verification.ErrEmailAlreadyVerified):
			RespondError(w, http.StatusBadRequest, "Email already verified")
		case errors.As(err, &cooldown):
			respondRateLimited(w, cooldown)
		default:
			log.Error().Err(err).Msg("Failed to resend verification")
			RespondError(w, http.StatusInternalServerError, "Failed to resend verification")
		}
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Verification email sent",
	})
}

// ResendLicenseEmail mails the license details to the customer again.
func (h *LicensesHandler) ResendLicenseEmail(w http.ResponseWriter, r *http.Request) {
	license, err := h.licenseStore.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, models.ErrLicenseNotFound) {
			RespondError(w, http.StatusNotFound, "License not found")
			return
		}
		log.Error().Err(err).Msg("Failed to load license")
		RespondError(w, http.StatusInternalServerError, "Failed to send email")
		return
	}

	if err := h.composer.SendLicenseEmail(r.Context(), license); err != nil {
		log.Error().Err(err).Str("licenseId", license.ID).Msg("Failed to send license email")
		RespondError(w, http.StatusInternalServerError, "Failed to send email")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "License email sent",
	})
}

// dispatchLicenseEmail sends in the background; a mail failure never fails
// the create.
func (h *LicensesHandler) dispatchLicenseEmail(ctx context.Context, license *models.License) {
	sendCtx, cancel := timeouts.WithMailTimeout(context.WithoutCancel(ctx), 0)
	go func() {
		defer cancel()
		if err := h.composer.SendLicenseEmail(sendCtx, license); err != nil {
			log.Error().Err(err).Str("licenseId", license.ID).Msg("Failed to send license email")
		}
	}()
}
