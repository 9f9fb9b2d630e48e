// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

/*
Package websocket is the client transport: one socket per candidate connection.

Key Components:

  - Hub: owns live clients, maps sessions to their client and pushes status
    and flag frames (it implements notify.Pusher)
  - Client: one connection with a read pump and a write pump
  - Message: the JSON frame {type, data, timestamp, session_id, event_id}

Connection Lifecycle:

 1. The HTTP handler upgrades the request and calls NewClient, which
    registers a fresh connection id with the registry.
 2. The client sends an associate frame; the registry binds the connection
    to the session and the hub answers with ack.
 3. Every event frame goes through the ingest pipeline. The ack carries the
    assigned sequence number in event_id. Rejections come back as error
    frames and the connection stays open.
 4. Every inbound frame and pong touches the registry, so the idle sweeper
    only removes connections that have gone quiet.
 5. When the socket closes, the hub disconnects the registry entry, which
    fires the lost-connection handlers.

Frame Types:

	client -> server: associate, event, ping, analytics
	server -> client: ack, error, pong, status, flag, analytics

Flood Control:

Each client has a token bucket (golang.org/x/time/rate). Frames over the
limit get a rate_limited error frame and are not processed.

Thread Safety:

Hub state is guarded by a RWMutex. A client's send channel is only written
while the hub lock is held and only closed under the write lock, so late
replies after removal are dropped instead of panicking. A client whose send
buffer is full is dropped.
*/
package websocket
