// Granite - Andesite audio node client for Discord bots
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/granite

/*
Package services provides suture.Service wrappers for granited components.

Each wrapper translates a component lifecycle (Connect/Done, ListenAndServe,
Open/Close) into suture's context-aware Serve pattern and implements
fmt.Stringer so suture can name it in log messages.

# Available Services

Node session (NodeService):
  - Connects one Andesite node and watches its session
  - Reconnects with exponential backoff, offering the stored resume id
  - Replays every player's voice handshake after a reconnect
  - Pings the node and requests stats on fixed intervals
  - Returns suture.ErrDoNotRestart when the node rejects the password

HTTP Server (HTTPServerService):
  - Wraps *http.Server with graceful shutdown

Discord gateway (DiscordService):
  - Routes voice dispatches to the client while running
  - Closes the gateway session on shutdown

Session store maintenance (SessionGCService):
  - Runs BadgerDB value log GC on an interval
*/
package services
