// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/innodigi/licenser/internal/auth"
	"github.com/innodigi/licenser/internal/config"
	"github.com/innodigi/licenser/internal/database"
	"github.com/innodigi/licenser/internal/models"
)

// RunCreateUserCommand creates an admin account from the command line, for
// provisioning without the HTTP setup flow.
func RunCreateUserCommand() *cobra.Command {
	var name, email, password, role string

	cmd := &cobra.Command{
		Use:   "create-user",
		Short: "Create an admin user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || email == "" || password == "" {
				return errors.New("--name, --email and --password are required")
			}
			if !models.ValidRole(role) {
				return fmt.Errorf("invalid role %q", role)
			}

			configDir, _ := cmd.Flags().GetString("config-dir")
			db, err := openCommandDatabase(configDir)
			if err != nil {
				return err
			}
			defer db.Close()

			userStore := models.NewUserStore(db)
			authService := auth.NewService(userStore, models.NewAPIKeyStore(db))

			_, err = authService.CreateUser(cmd.Context(), name, email, password, role)
			if errors.Is(err, models.ErrUserAlreadyExists) {
				cmd.Println("User account already exists")
				return nil
			}
			if err != nil {
				return err
			}

			cmd.Printf("User '%s' created successfully\n", email)
			return nil
		},
	}

	cmd.Flags().String("config-dir", "", "path to the configuration directory")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&role, "role", models.RoleSuperAdmin, "role: SUPER_ADMIN, SUB_ADMIN or READ_ONLY")

	return cmd
}

// RunChangePasswordCommand resets an admin password without the current one,
// for recovering locked-out accounts.
func RunChangePasswordCommand() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "change-password",
		Short: "Change an admin user's password",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || password == "" {
				return errors.New("--email and --password are required")
			}

			configDir, _ := cmd.Flags().GetString("config-dir")
			db, err := openCommandDatabase(configDir)
			if err != nil {
				return err
			}
			defer db.Close()

			userStore := models.NewUserStore(db)

			user, err := userStore.GetByEmail(cmd.Context(), email)
			if errors.Is(err, models.ErrUserNotFound) {
				return fmt.Errorf("no user with email %q", email)
			}
			if err != nil {
				return err
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			if err := userStore.UpdatePassword(cmd.Context(), user.ID, hash); err != nil {
				return err
			}

			cmd.Printf("Password for '%s' changed successfully\n", email)
			return nil
		},
	}

	cmd.Flags().String("config-dir", "", "path to the configuration directory")
	cmd.Flags().StringVar(&email, "email", "", "login email")
	cmd.Flags().StringVar(&password, "password", "", "new password")

	return cmd
}

func openCommandDatabase(configDir string) (*database.DB, error) {
	cfg, err := config.New(configDir)
	if err != nil {
		return nil, err
	}
	return database.New(cfg.Config.DatabasePath)
}
