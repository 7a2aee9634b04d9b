// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/innodigi/licenser/internal/domain"
	"github.com/innodigi/licenser/internal/models"
	"github.com/innodigi/licenser/internal/services/mail"
	"github.com/innodigi/licenser/internal/services/secrets"
)

// Settings whose values never leave the server in clear text.
var sensitiveSettings = map[string]struct{}{
	models.SettingSMTPPass:      {},
	models.SettingSigningSecret: {},
}

type SettingsHandler struct {
	settingStore  *models.SettingStore
	secretManager *secrets.Manager
	sender        mail.Sender
}

func NewSettingsHandler(settingStore *models.SettingStore, secretManager *secrets.Manager, sender mail.Sender) *SettingsHandler {
	return &SettingsHandler{
		settingStore:  settingStore,
		secretManager: secretManager,
		sender:        sender,
	}
}

func (h *SettingsHandler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Put("/", h.Update)
	r.Post("/test-email", h.TestEmail)
	r.Post("/signing-secret/regenerate", h.RegenerateSigningSecret)
}

// List returns all settings with sensitive values redacted.
func (h *SettingsHandler) List(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settingStore.All(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to load settings")
		RespondError(w, http.StatusInternalServerError, "Failed to load settings")
		return
	}

	for key, value := range settings {
		if _, sensitive := sensitiveSettings[key]; sensitive {
			settings[key] = domain.RedactString(value)
		}
	}

	RespondJSON(w, http.StatusOK, settings)
}

// Update upserts the posted key/value pairs. Redacted placeholder values are
// skipped so a round-tripped settings form never overwrites a secret, and the
// signing secret is only writable through its dedicated endpoint.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	for key, value := range req {
		if key == models.SettingSigningSecret {
			continue
		}
		if domain.IsRedactedString(value) {
			continue
		}
		if err := h.settingStore.Set(r.Context(), key, value); err != nil {
			log.Error().Err(err).Str("key", key).Msg("Failed to store setting")
			RespondError(w, http.StatusInternalServerError, "Failed to store settings")
			return
		}
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Settings updated",
	})
}

// TestEmail sends a plain test message through the configured SMTP settings.
func (h *SettingsHandler) TestEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	to := req.To
	if to == "" {
		var err error
		to, err = h.settingStore.Get(r.Context(), models.SettingSMTPTestTo)
		if err != nil || to == "" {
			RespondError(w, http.StatusBadRequest, "Recipient address required")
			return
		}
	}

	appName, _ := h.settingStore.GetDefault(r.Context(), models.SettingAppName, "License Server")
	body := "<p>This is a test email from " + appName + ". Your SMTP settings work.</p>"

	if err := h.sender.Send(r.Context(), to, "Test email - "+appName, body); err != nil {
		log.Error().Err(err).Msg("Test email failed")
		RespondError(w, http.StatusBadGateway, "Failed to send test email: "+err.Error())
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"message": "Test email sent",
	})
}

// RegenerateSigningSecret replaces the license signing secret. The new value
// is returned once; cryptographic codes minted under the old secret stop
// verifying, so the response warns the caller.
func (h *SettingsHandler) RegenerateSigningSecret(w http.ResponseWriter, r *http.Request) {
	secret, err := h.secretManager.Regenerate(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("Failed to regenerate signing secret")
		RespondError(w, http.StatusInternalServerError, "Failed to regenerate signing secret")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]string{
		"secret":  secret,
		"message": "Signing secret regenerated. Cryptographic codes minted under the previous secret will no longer verify.",
	})
}
