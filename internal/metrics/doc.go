// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

/*
Package metrics provides Prometheus metrics collection and export for observability.

Collectors are registered with the default registry through promauto at package
init and exposed by the API router at /metrics.

# Available Metrics

Ingest:
  - examguard_events_ingested_total{event_type}
  - examguard_events_rejected_total{reason}
  - examguard_events_deduplicated_total
  - examguard_ingest_duration_seconds

Evaluation and sessions:
  - examguard_evaluation_queue_depth
  - examguard_evaluation_duration_seconds, examguard_evaluation_errors_total
  - examguard_flags_raised_total{rule, severity}
  - examguard_session_transitions_total{from, to, trigger}
  - examguard_invalid_transitions_total{from, trigger}

Store:
  - examguard_store_operation_duration_seconds{operation}
  - examguard_store_operation_errors_total{operation, error_type}
  - examguard_store_retries_total{operation}
  - circuit_breaker_state{name}: 0=closed, 1=half-open, 2=open

Transport and delivery:
  - examguard_connections_active, examguard_connections_lost_total{reason}
  - examguard_websocket_clients, examguard_websocket_messages_total{direction, type}
  - examguard_notification_deliveries_total{sink, result}

Label values are drawn from closed sets (event types, rule ids, statuses,
triggers, ErrorType buckets) so series cardinality stays bounded regardless of
how many sessions are live.

# Example Alert

  - alert: StoreBreakerOpen
    expr: circuit_breaker_state{name="store"} > 0
    for: 1m
*/
package metrics
