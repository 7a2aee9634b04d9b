// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/innodigi/licenser/internal/models"
)

type DashboardHandler struct {
	licenseStore *models.LicenseStore
}

func NewDashboardHandler(licenseStore *models.LicenseStore) *DashboardHandler {
	return &DashboardHandler{licenseStore: licenseStore}
}

func (h *DashboardHandler) Routes(r chi.Router) {
	r.Get("/stats", h.Stats)
}

func (h *DashboardHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.licenseStore.Stats(r.Context(), time.Now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to compute dashboard stats")
		RespondError(w, http.StatusInternalServerError, "Failed to compute dashboard stats")
		return
	}

	RespondJSON(w, http.StatusOK, stats)
}
