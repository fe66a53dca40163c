// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/granite/internal/auth"
)

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token [subject]",
	Short: "Issue an admin token for the control API",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		subject := "granited"
		if len(args) == 1 {
			subject = args[0]
		}
		jwtManager, err := auth.NewJWTManager(cfg.API.JWTSecret, tokenTTL)
		if err != nil {
			return err
		}
		token, err := jwtManager.GenerateToken(subject, auth.RoleAdmin)
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", auth.DefaultTokenTTL, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
