/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Kalynt contributors. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

/*
Package dap implements the client side of the Debug Adapter Protocol (DAP):
launching debug adapters, performing the session handshake, and driving
breakpoints, stepping, and inspection for live debug sessions.

# Key Components

  - Framer / Transport: Content-Length framed message I/O over stdio or TCP
  - Conn: request/response correlation by sequence number, plus event routing
  - EventRouter: fan-out of adapter events to typed subscription sets
  - Session: per-session state machine fed exclusively by adapter events
  - SessionRegistry: owns all live sessions, keyed by generated UUIDs

# Session Flow

 1. SessionRegistry.StartSession resolves the configuration and picks the
    adapter command for the configured debug type
 2. The adapter is launched (stdio, tcp-callback, or tcp-connect mode), or an
    already-listening adapter is dialed for socket attach
 3. The handshake runs strictly ordered: initialize, launch or attach,
    configurationDone; each response is awaited before the next request
 4. Adapter events move the session between running, stopped, and terminated;
    requests never change state on their own
 5. Stop tears the session down with best-effort terminate and disconnect
    requests before closing the transport and the adapter process

Sessions are safe for concurrent use. Event subscribers must keep their sinks
drained; a stalled sink stalls the connection's read pump.
*/
package dap
