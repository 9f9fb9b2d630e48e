// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

// Package notify delivers session side effects: status changes, flags and
// lost connections.
//
// Architecture:
//
//	session.Machine -> Bus.Publish -> gochannel topic
//	                                     |
//	         +---------------+-----------+-------------+
//	         v               v                         v
//	     HubSink         RedisSink                 KafkaSink
//	  (client frames)  (PUBLISH channel)       (topic, keyed by session)
//
// Every sink has its own watermill handler with Recoverer and Retry
// middleware. A delivery that keeps failing is moved to a dead-letter topic
// and logged. Delivery is at-least-once; every notification carries a stable
// id (transition id, flag id or a derived connection-lost id) so receivers can
// drop repeats. The hub sink does so itself.
package notify
