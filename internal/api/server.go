// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/innodigi/licenser/internal/api/handlers"
	"github.com/innodigi/licenser/internal/api/middleware"
	"github.com/innodigi/licenser/internal/auth"
	"github.com/innodigi/licenser/internal/config"
	"github.com/innodigi/licenser/internal/dbinterface"
	"github.com/innodigi/licenser/internal/models"
	"github.com/innodigi/licenser/internal/services/mail"
	"github.com/innodigi/licenser/internal/services/secrets"
	"github.com/innodigi/licenser/internal/services/verification"
	"github.com/innodigi/licenser/internal/update"
	"github.com/innodigi/licenser/pkg/httphelpers"
)

// Deps bundles everything the HTTP layer needs.
type Deps struct {
	Config              *config.Config
	DB                  dbinterface.Querier
	SessionManager      *scs.SessionManager
	AuthService         *auth.Service
	UserStore           *models.UserStore
	APIKeyStore         *models.APIKeyStore
	LicenseStore        *models.LicenseStore
	LicenseTypeStore    *models.LicenseTypeStore
	SettingStore        *models.SettingStore
	TermsStore          *models.TermsStore
	SecretManager       *secrets.Manager
	Sender              mail.Sender
	Composer            *mail.Composer
	VerificationService *verification.Service
	UpdateService       *update.Service
}

type Server struct {
	deps Deps
	srv  *http.Server
}

func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.deps.Config.Host, s.deps.Config.Port)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
	}()

	log.Info().Str("addr", addr).Msg("Starting HTTP server")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler builds the full route tree.
func (s *Server) Handler() http.Handler {
	d := s.deps

	authHandler := handlers.NewAuthHandler(d.AuthService, d.SessionManager, d.Composer)
	usersHandler := handlers.NewUsersHandler(d.AuthService, d.UserStore)
	apiKeysHandler := handlers.NewAPIKeysHandler(d.APIKeyStore)
	licensesHandler := handlers.NewLicensesHandler(d.LicenseStore, d.LicenseTypeStore, d.SecretManager, d.Composer, d.VerificationService)
	typesHandler := handlers.NewLicenseTypesHandler(d.LicenseTypeStore)
	settingsHandler := handlers.NewSettingsHandler(d.SettingStore, d.SecretManager, d.Sender)
	termsHandler := handlers.NewTermsHandler(d.TermsStore, d.SettingStore)
	dashboardHandler := handlers.NewDashboardHandler(d.LicenseStore)
	verifyHandler := handlers.NewVerifyHandler(d.VerificationService)
	healthHandler := handlers.NewHealthHandler(d.DB)
	updatesHandler := handlers.NewUpdatesHandler(d.UpdateService)

	authenticated := middleware.IsAuthenticated(d.AuthService, d.SessionManager)
	anyAdmin := middleware.RequireRole(models.RoleSuperAdmin, models.RoleSubAdmin, models.RoleReadOnly)
	writeAdmin := middleware.RequireRole(models.RoleSuperAdmin, models.RoleSubAdmin)
	superAdmin := middleware.RequireRole(models.RoleSuperAdmin)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(middleware.Recoverer)

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
	})
	r.Use(c.Handler)

	r.Use(d.SessionManager.LoadAndSave)

	r.Route("/api", func(r chi.Router) {
		r.Route("/health", healthHandler.Routes)

		r.Route("/auth", func(r chi.Router) {
			authHandler.Routes(r)

			r.Group(func(r chi.Router) {
				r.Use(authenticated)
				r.Get("/me", authHandler.GetCurrentUser)
				r.Post("/change-password", authHandler.ChangePassword)
			})
		})

		r.Route("/terms/public", termsHandler.PublicRoutes)

		r.Route("/licenses", func(r chi.Router) {
			// Public verification endpoints; everything else needs auth
			verifyHandler.Routes(r)

			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireSetup(d.AuthService), authenticated)

				r.With(anyAdmin).Get("/", licensesHandler.List)
				r.With(anyAdmin).Get("/{id}", licensesHandler.Get)

				r.Group(func(r chi.Router) {
					r.Use(writeAdmin)
					r.Post("/", licensesHandler.Create)
					r.Put("/{id}", licensesHandler.Update)
					r.Post("/resend-verification/{id}", licensesHandler.ResendVerification)
					r.Post("/{id}/resend-email", licensesHandler.ResendLicenseEmail)
				})

				r.With(superAdmin).Delete("/{id}", licensesHandler.Delete)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSetup(d.AuthService), authenticated)

			r.Route("/license-types", func(r chi.Router) {
				r.With(anyAdmin).Get("/", typesHandler.List)
				r.With(writeAdmin).Post("/", typesHandler.Create)
				r.With(writeAdmin).Put("/{id}", typesHandler.Update)
				r.With(superAdmin).Delete("/{id}", typesHandler.Delete)
			})

			r.Route("/dashboard", func(r chi.Router) {
				r.Use(anyAdmin)
				dashboardHandler.Routes(r)
			})

			r.Route("/terms", func(r chi.Router) {
				r.With(anyAdmin).Get("/", termsHandler.List)
				r.With(writeAdmin).Post("/", termsHandler.Create)
				r.With(writeAdmin).Put("/{id}", termsHandler.Update)
			})

			r.Route("/users", func(r chi.Router) {
				r.Use(superAdmin)
				usersHandler.Routes(r)
			})

			r.Route("/api-keys", func(r chi.Router) {
				r.Use(superAdmin)
				apiKeysHandler.Routes(r)
			})

			r.Route("/settings", func(r chi.Router) {
				r.Use(superAdmin)
				settingsHandler.Routes(r)
			})

			r.Route("/updates", func(r chi.Router) {
				r.Use(anyAdmin)
				updatesHandler.Routes(r)
			})
		})
	})

	// Reverse proxy setups can mount the whole API under a prefix
	if basePath := httphelpers.NormalizeBasePath(s.deps.Config.BaseURL); basePath != "" {
		outer := chi.NewRouter()
		outer.Mount(basePath, r)
		return outer
	}

	return r
}
