// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

/*
Package supervisor runs granited's long-lived services under suture v4.

The tree isolates failures by layer:

	RootSupervisor ("granite")
	├── NodeSupervisor ("node-layer")
	│   └── NodeService per configured Andesite node
	├── PlatformSupervisor ("platform-layer")
	│   ├── DiscordService (if DISCORD_TOKEN is set)
	│   └── SessionGCService
	└── APISupervisor ("api-layer")
	    └── HTTPServerService (if API_ENABLED)

A node that keeps failing only backs off its own NodeService; the API keeps
serving and the other nodes keep their players.

Events from suture (service start, failure, backoff) are logged through
sutureslog with the zerolog-backed slog logger from internal/logging:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddNodeService(services.NewNodeService(node, nodeCfg))
	errCh := tree.ServeBackground(ctx)
*/
package supervisor
