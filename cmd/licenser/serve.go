// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/innodigi/licenser/internal/api"
	"github.com/innodigi/licenser/internal/auth"
	"github.com/innodigi/licenser/internal/buildinfo"
	"github.com/innodigi/licenser/internal/config"
	"github.com/innodigi/licenser/internal/database"
	"github.com/innodigi/licenser/internal/metrics"
	"github.com/innodigi/licenser/internal/models"
	"github.com/innodigi/licenser/internal/services/mail"
	"github.com/innodigi/licenser/internal/services/secrets"
	"github.com/innodigi/licenser/internal/services/verification"
	"github.com/innodigi/licenser/internal/update"
)

// RunServeCommand starts the HTTP API
func RunServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the license server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
	cmd.Flags().String("config-dir", "", "path to the configuration directory")
	return cmd
}

func runServe(cmd *cobra.Command) error {
	configDir, _ := cmd.Flags().GetString("config-dir")

	cfg, err := config.New(configDir)
	if err != nil {
		return err
	}
	if err := cfg.SetupLogging(buildinfo.Version); err != nil {
		return err
	}

	log.Info().
		Str("version", buildinfo.Version).
		Str("configFile", cfg.ConfigFileUsed()).
		Msg("Starting licenser")

	db, err := database.New(cfg.Config.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userStore := models.NewUserStore(db)
	apiKeyStore := models.NewAPIKeyStore(db)
	licenseStore := models.NewLicenseStore(db)
	typeStore := models.NewLicenseTypeStore(db)
	settingStore := models.NewSettingStore(db)
	termsStore := models.NewTermsStore(db)

	secretManager := secrets.NewManager(settingStore)
	if err := secretManager.Load(ctx); err != nil {
		return err
	}

	authService := auth.NewService(userStore, apiKeyStore)
	sender := mail.NewSMTPSender(settingStore)
	composer := mail.NewComposer(settingStore, sender)

	var metricsManager *metrics.Manager
	if cfg.Config.MetricsEnabled {
		metricsManager = metrics.NewManager()
	}

	verificationService := verification.NewService(licenseStore, secretManager, composer, metricsManager)

	updateService := update.NewService(log.Logger, cfg.Config.CheckForUpdates, buildinfo.Version, buildinfo.UserAgent)
	updateService.Start(ctx)

	sessionManager := scs.New()
	sessionManager.Lifetime = 24 * time.Hour
	sessionManager.Cookie.Name = "licenser_session"
	sessionManager.Cookie.HttpOnly = true

	server := api.NewServer(api.Deps{
		Config:              cfg.Config,
		DB:                  db,
		SessionManager:      sessionManager,
		AuthService:         authService,
		UserStore:           userStore,
		APIKeyStore:         apiKeyStore,
		LicenseStore:        licenseStore,
		LicenseTypeStore:    typeStore,
		SettingStore:        settingStore,
		TermsStore:          termsStore,
		SecretManager:       secretManager,
		Sender:              sender,
		Composer:            composer,
		VerificationService: verificationService,
		UpdateService:       updateService,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	if cfg.Config.MetricsEnabled {
		metricsServer := metrics.NewServer(metricsManager, cfg.Config.MetricsHost, cfg.Config.MetricsPort, cfg.Config.MetricsBasicAuthUsers)

		g.Go(func() error {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info().Msg("Shutdown complete")
	return nil
}
