// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/innodigi/licenser/internal/models"
)

// TermsHandler serves the versioned terms-of-service documents: an admin CRUD
// surface plus public read endpoints for published versions.
type TermsHandler struct {
	termsStore   *models.TermsStore
	settingStore *models.SettingStore
}

func NewTermsHandler(termsStore *models.TermsStore, settingStore *models.SettingStore) *TermsHandler {
	return &TermsHandler{termsStore: termsStore, settingStore: settingStore}
}

func (h *TermsHandler) PublicRoutes(r chi.Router) {
	r.Get("/latest", h.Latest)
	r.Get("/{slug}/latest", h.LatestBySlug)
	r.Get("/{slug}/{version}", h.Version)
}

type termsRequest struct {
	Slug        string `json:"slug"`
	Title       string `json:"title"`
	ContentHTML string `json:"contentHtml"`
	IsPublished bool   `json:"isPublished"`
}

func (h *TermsHandler) List(w http.ResponseWriter, r *http.Request) {
	terms, err := h.termsStore.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list terms")
		RespondError(w, http.StatusInternalServerError, "Failed to list terms")
		return
	}

	RespondJSON(w, http.StatusOK, terms)
}

// Create stores a new version under the slug; the version number is assigned
// automatically.
func (h *TermsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req termsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Title == "" || req.ContentHTML == "" {
		RespondError(w, http.StatusBadRequest, "Title and content are required")
		return
	}
	if req.Slug == "" {
		req.Slug = models.DefaultTermsSlug
	}

	terms, err := h.termsStore.Create(r.Context(), req.Slug, req.Title, req.ContentHTML, req.IsPublished)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create terms")
		RespondError(w, http.StatusInternalServerError, "Failed to create terms")
		return
	}

	RespondJSON(w, http.StatusCreated, terms)
}

func (h *TermsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req termsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	terms, err := h.termsStore.Update(r.Context(), chi.URLParam(r, "id"), req.Title, req.ContentHTML, req.IsPublished)
	if err != nil {
		if errors.Is(err, models.ErrTermsNotFound) {
			RespondError(w, http.StatusNotFound, "Terms not found")
			return
		}
		log.Error().Err(err).Msg("Failed to update terms")
		RespondError(w, http.StatusInternalServerError, "Failed to update terms")
		return
	}

	RespondJSON(w, http.StatusOK, terms)
}

// Latest serves the newest published version of the default slug. The slug
// can be repointed through settings.
func (h *TermsHandler) Latest(w http.ResponseWriter, r *http.Request) {
	slug, err := h.settingStore.GetDefault(r.Context(), models.SettingTermsSlug, models.DefaultTermsSlug)
	if err != nil {
		slug = models.DefaultTermsSlug
	}
	h.respondPublished(w, r, slug, 0)
}

func (h *TermsHandler) LatestBySlug(w http.ResponseWriter, r *http.Request) {
	h.respondPublished(w, r, chi.URLParam(r, "slug"), 0)
}

func (h *TermsHandler) Version(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		RespondError(w, http.StatusBadRequest, "Invalid version")
		return
	}
	h.respondPublished(w, r, chi.URLParam(r, "slug"), version)
}

func (h *TermsHandler) respondPublished(w http.ResponseWriter, r *http.Request, slug string, version int) {
	var terms *models.TermsOfService
	var err error
	if version > 0 {
		terms, err = h.termsStore.PublishedVersion(r.Context(), slug, version)
	} else {
		terms, err = h.termsStore.LatestPublished(r.Context(), slug)
	}
	if err != nil {
		if errors.Is(err, models.ErrTermsNotFound) {
			RespondError(w, http.StatusNotFound, "Terms not found")
			return
		}
		log.Error().Err(err).Msg("Failed to load terms")
		RespondError(w, http.StatusInternalServerError, "Failed to load terms")
		return
	}

	RespondJSON(w, http.StatusOK, terms)
}
