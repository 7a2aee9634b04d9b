// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apimiddleware "github.com/innodigi/licenser/internal/api/middleware"
	"github.com/innodigi/licenser/internal/auth"
	"github.com/innodigi/licenser/internal/models"
)

// UsersHandler manages admin accounts. Routes are mounted behind a
// SUPER_ADMIN role check.
type UsersHandler struct {
	authService *auth.Service
	userStore   *models.UserStore
}

func NewUsersHandler(authService *auth.Service, userStore *models.UserStore) *UsersHandler {
	return &UsersHandler{authService: authService, userStore: userStore}
}

func (h *UsersHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
}

type userRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.userStore.List(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to list users")
		RespondError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}

	RespondJSON(w, http.StatusOK, users)
}

func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		RespondError(w, http.StatusBadRequest, "Name, email and password are required")
		return
	}
	if !models.ValidRole(req.Role) {
		RespondError(w, http.StatusBadRequest, "Invalid role")
		return
	}

	user, err := h.authService.CreateUser(r.Context(), req.Name, req.Email, req.Password, req.Role)
	if err != nil {
		if errors.Is(err, models.ErrUserAlreadyExists) {
			RespondError(w, http.StatusConflict, "A user with this email already exists")
			return
		}
		log.Error().Err(err).Msg("Failed to create user")
		RespondError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	RespondJSON(w, http.StatusCreated, user)
}

func (h *UsersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req userRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.userStore.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			RespondError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Error().Err(err).Msg("Failed to load user")
		RespondError(w, http.StatusInternalServerError, "Failed to update user")
		return
	}

	if req.Name != "" {
		user.Name = req.Name
	}
	if req.Email != "" {
		user.Email = req.Email
	}
	if req.Role != "" {
		if !models.ValidRole(req.Role) {
			RespondError(w, http.StatusBadRequest, "Invalid role")
			return
		}
		user.Role = req.Role
	}

	updated, err := h.authService.UpdateUser(r.Context(), user, req.Password)
	if err != nil {
		if errors.Is(err, models.ErrUserAlreadyExists) {
			RespondError(w, http.StatusConflict, "A user with this email already exists")
			return
		}
		log.Error().Err(err).Msg("Failed to update user")
		RespondError(w, http.StatusInternalServerError, "Failed to update user")
		return
	}

	RespondJSON(w, http.StatusOK, updated)
}

func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// An admin cannot remove their own account
	if id == apimiddleware.UserID(r.Context()) {
		RespondError(w, http.StatusBadRequest, "Cannot delete your own account")
		return
	}

	if err := h.userStore.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			RespondError(w, http.StatusNotFound, "User not found")
			return
		}
		log.Error().Err(err).Msg("Failed to delete user")
		RespondError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "User deleted successfully",
	})
}
