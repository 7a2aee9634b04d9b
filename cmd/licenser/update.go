// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/innodigi/licenser/internal/buildinfo"
	"github.com/innodigi/licenser/internal/update"
)

// RunUpdateCommand replaces the running binary with the latest release.
func RunUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Update licenser to the latest version",
		RunE: func(cmd *cobra.Command, args []string) error {
			updater := update.NewUpdater(update.Config{
				Repository: "innodigi/licenser",
				Version:    buildinfo.Version,
			})
			return updater.Run(cmd.Context())
		},
	}
}
