// Copyright (c) 2025, the innodigi developers.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/innodigi/licenser/internal/buildinfo"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "licenser",
		Short: "License management back office and verification API",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Running without a subcommand starts the server
			return runServe(cmd)
		},
	}
	rootCmd.Flags().String("config-dir", "", "path to the configuration directory")

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunVersionCommand())
	rootCmd.AddCommand(RunGenerateConfigCommand())
	rootCmd.AddCommand(RunCreateUserCommand())
	rootCmd.AddCommand(RunChangePasswordCommand())
	rootCmd.AddCommand(RunUpdateCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// RunVersionCommand prints build information
func RunVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			buildinfo.Print()
		},
	}
}
