// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/granite/internal/andesite"
	"github.com/tomtom215/granite/internal/config"
)

var searchNode string

var searchCmd = &cobra.Command{
	Use:   "search <identifier>",
	Short: "Resolve an identifier or search query on a node and print the result",
	Long: `Resolve an identifier on one node over REST. Plain words are sent as a
YouTube search; URLs and prefixed queries (ytsearch:, scsearch:) are sent as is.
No websocket session is opened.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		node, err := searchTarget(cfg)
		if err != nil {
			return err
		}

		client := andesite.NewClient(andesite.ClientConfig{
			UserID: cfg.Discord.UserID,
			REST:   cfg.REST.Andesite(),
		})
		n, err := client.AddNode(node)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.REST.Timeout)
		defer cancel()
		res, err := n.LoadTracks(ctx, searchQuery(strings.Join(args, " ")))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

// searchTarget picks the --node entry, or the first configured node.
func searchTarget(cfg *config.Config) (andesite.NodeConfig, error) {
	if searchNode == "" {
		return cfg.Nodes[0], nil
	}
	for _, n := range cfg.Nodes {
		if n.Identifier == searchNode {
			return n, nil
		}
	}
	return andesite.NodeConfig{}, fmt.Errorf("node %q is not configured", searchNode)
}

// searchQuery prefixes plain text with ytsearch:.
func searchQuery(q string) string {
	if strings.Contains(q, "://") || strings.Contains(q, "search:") {
		return q
	}
	return "ytsearch:" + q
}

func init() {
	searchCmd.Flags().StringVar(&searchNode, "node", "", "node identifier (default: first configured node)")
	rootCmd.AddCommand(searchCmd)
}
