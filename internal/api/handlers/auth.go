// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apimiddleware "github.com/innodigi/licenser/internal/api/middleware"
	"github.com/innodigi/licenser/internal/auth"
	"github.com/innodigi/licenser/internal/models"
	"github.com/innodigi/licenser/internal/pkg/timeouts"
	"github.com/innodigi/licenser/internal/services/mail"
)

type AuthHandler struct {
	authService    *auth.Service
	sessionManager *scs.SessionManager
	composer       *mail.Composer
}

func NewAuthHandler(authService *auth.Service, sessionManager *scs.SessionManager, composer *mail.Composer) *AuthHandler {
	return &AuthHandler{
		authService:    authService,
		sessionManager: sessionManager,
		composer:       composer,
	}
}

func (h *AuthHandler) Routes(r chi.Router) {
	r.Get("/initialized", h.CheckSetupRequired)
	r.Post("/setup", h.Setup)
	r.Post("/login", h.Login)
	r.Post("/logout", h.Logout)
	r.Post("/forgot-password", h.ForgotPassword)
	r.Post("/reset-password", h.ResetPassword)
}

// SetupRequest represents the initial setup request
type SetupRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents a login request
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// ChangePasswordRequest represents a password change request
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// CheckSetupRequired reports whether the first admin account still has to be
// created.
func (h *AuthHandler) CheckSetupRequired(w http.ResponseWriter, r *http.Request) {
	complete, err := h.authService.IsSetupComplete(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to check setup status")
		RespondError(w, http.StatusInternalServerError, "Failed to check setup status")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]any{
		"setupRequired": !complete,
	})
}

// Setup creates the first admin account
func (h *AuthHandler) Setup(w http.ResponseWriter, r *http.Request) {
	var req SetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		RespondError(w, http.StatusBadRequest, "Name, email and password are required")
		return
	}

	user, err := h.authService.SetupUser(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrSetupAlreadyDone) {
			RespondError(w, http.StatusBadRequest, "Setup already completed")
			return
		}
		log.Error().Err(err).Msg("Failed to create user")
		RespondError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	h.createSession(r.Context(), user, false)

	RespondJSON(w, http.StatusCreated, map[string]any{
		"message": "Setup completed successfully",
		"user":    user,
	})
}

// Login handles admin login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			RespondError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		log.Error().Err(err).Msg("Login failed")
		RespondError(w, http.StatusInternalServerError, "Login failed")
		return
	}

	h.createSession(r.Context(), user, req.RememberMe)

	RespondJSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user":    user,
	})
}

// createSession renews the token to prevent session fixation, then stores the
// identity.
func (h *AuthHandler) createSession(ctx context.Context, user *models.User, rememberMe bool) {
	if err := h.sessionManager.RenewToken(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to renew session token")
	}

	h.sessionManager.Put(ctx, "authenticated", true)
	h.sessionManager.Put(ctx, "user_id", user.ID)
	h.sessionManager.Put(ctx, "user_role", user.Role)
	h.sessionManager.Put(ctx, "user_name", user.Name)
	h.sessionManager.RememberMe(ctx, rememberMe)
}

// Logout destroys the session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionManager.Destroy(r.Context()); err != nil {
		log.Error().Err(err).Msg("Failed to destroy session")
		RespondError(w, http.StatusInternalServerError, "Failed to logout")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

// GetCurrentUser returns the identity behind the session or API key.
func (h *AuthHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	if h.sessionManager.GetBool(r.Context(), "authenticated") {
		RespondJSON(w, http.StatusOK, map[string]any{
			"id":   h.sessionManager.GetString(r.Context(), "user_id"),
			"name": h.sessionManager.GetString(r.Context(), "user_name"),
			"role": h.sessionManager.GetString(r.Context(), "user_role"),
		})
		return
	}

	// API key requests reach here without a session
	RespondJSON(w, http.StatusOK, map[string]any{
		"name": "api-key",
		"role": models.RoleSuperAdmin,
	})
}

// ForgotPassword mints a reset token and mails it. The response is identical
// for known and unknown emails.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Email == "" {
		RespondError(w, http.StatusBadRequest, "Email is required")
		return
	}

	user, token, err := h.authService.IssueResetToken(r.Context(), req.Email)
	if err != nil {
		log.Error().Err(err).Msg("Failed to issue reset token")
		RespondError(w, http.StatusInternalServerError, "Failed to process request")
		return
	}

	if user != nil {
		sendCtx, cancel := timeouts.WithMailTimeout(context.WithoutCancel(r.Context()), 0)
		go func() {
			defer cancel()
			if err := h.composer.SendPasswordResetEmail(sendCtx, user, token); err != nil {
				log.Error().Err(err).Str("userId", user.ID).Msg("Failed to send password reset email")
			}
		}()
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "If the email is known, a reset link has been sent",
	})
}

// ResetPassword consumes a reset token
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Token == "" || req.Password == "" {
		RespondError(w, http.StatusBadRequest, "Token and password are required")
		return
	}

	if err := h.authService.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidResetToken) {
			RespondError(w, http.StatusBadRequest, "Invalid or expired reset token")
			return
		}
		log.Error().Err(err).Msg("Failed to reset password")
		RespondError(w, http.StatusInternalServerError, "Failed to reset password")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Password reset successfully",
	})
}

// ChangePassword verifies the current password before replacing it
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	userID := apimiddleware.UserID(r.Context())
	if userID == "" {
		RespondError(w, http.StatusBadRequest, "Password change requires a session login")
		return
	}

	if err := h.authService.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			RespondError(w, http.StatusUnauthorized, "Invalid current password")
			return
		}
		log.Error().Err(err).Msg("Failed to change password")
		RespondError(w, http.StatusInternalServerError, "Failed to change password")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Password changed successfully",
	})
}
