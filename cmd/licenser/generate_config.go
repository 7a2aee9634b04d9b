// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/innodigi/licenser/internal/config"
)

// RunGenerateConfigCommand writes the default config file without starting
// the server. Existing files are left untouched.
func RunGenerateConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate-config",
		Short: "Generate the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, _ := cmd.Flags().GetString("config-dir")

			cfg, err := config.New(configDir)
			if err != nil {
				return err
			}

			cmd.Printf("Config file: %s\n", cfg.ConfigFileUsed())
			return nil
		},
	}
	cmd.Flags().String("config-dir", "", "path to the configuration directory")
	return cmd
}
