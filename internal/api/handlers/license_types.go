// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/innodigi/licenser/internal/models"
)

type LicenseTypesHandler struct {
	typeStore *models.LicenseTypeStore
}

func NewLicenseTypesHandler(typeStore *models.LicenseTypeStore) *LicenseTypesHandler {
	return &LicenseTypesHandler{typeStore: typeStore}
}

type licenseTypeRequest struct {
	Name string `json:"name"`
}

func (h *LicenseTypesHandler) List(w http.ResponseWriter, r *http.Request) {
	types, err := h.typeStore.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list license types")
		RespondError(w, http.StatusInternalServerError, "Failed to list license types")
		return
	}

	RespondJSON(w, http.StatusOK, types)
}

func (h *LicenseTypesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req licenseTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		RespondError(w, http.StatusBadRequest, "Name is required")
		return
	}

	licenseType, err := h.typeStore.Create(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, models.ErrLicenseTypeExists) {
			RespondError(w, http.StatusConflict, "A license type with this name already exists")
			return
		}
		log.Error().Err(err).Msg("Failed to create license type")
		RespondError(w, http.StatusInternalServerError, "Failed to create license type")
		return
	}

	RespondJSON(w, http.StatusCreated, licenseType)
}

func (h *LicenseTypesHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req licenseTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" {
		RespondError(w, http.StatusBadRequest, "Name is required")
		return
	}

	licenseType, err := h.typeStore.Update(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrLicenseTypeNotFound):
			RespondError(w, http.StatusNotFound, "License type not found")
		case errors.Is(err, models.ErrLicenseTypeExists):
			RespondError(w, http.StatusConflict, "A license type with this name already exists")
		default:
			log.Error().Err(err).Msg("Failed to update license type")
			RespondError(w, http.StatusInternalServerError, "Failed to update license type")
		}
		return
	}

	RespondJSON(w, http.StatusOK, licenseType)
}

func (h *LicenseTypesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.typeStore.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		switch {
		case errors.Is(err, models.ErrLicenseTypeNotFound):
			RespondError(w, http.StatusNotFound, "License type not found")
		case errors.Is(err, models.ErrLicenseTypeReferenced):
			RespondError(w, http.StatusConflict, "License type is still referenced by licenses")
		default:
			log.Error().Err(err).Msg("Failed to delete license type")
			RespondError(w, http.StatusInternalServerError, "Failed to delete license type")
		}
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "License type deleted successfully",
	})
}
