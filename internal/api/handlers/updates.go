// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/innodigi/licenser/internal/update"
)

// UpdatesHandler exposes the cached release check for the admin UI banner.
type UpdatesHandler struct {
	updateService *update.Service
}

func NewUpdatesHandler(updateService *update.Service) *UpdatesHandler {
	return &UpdatesHandler{updateService: updateService}
}

func (h *UpdatesHandler) Routes(r chi.Router) {
	r.Get("/latest", h.Latest)
}

func (h *UpdatesHandler) Latest(w http.ResponseWriter, r *http.Request) {
	if h.updateService == nil {
		RespondJSON(w, http.StatusNoContent, nil)
		return
	}

	release := h.updateService.GetLatestRelease()
	if release == nil {
		RespondJSON(w, http.StatusNoContent, nil)
		return
	}

	RespondJSON(w, http.StatusOK, release)
}
