// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

/*
Package cache provides a bounded, thread-safe LRU cache with optional TTL.

# Overview

LRUCache is generic over its value type and keyed by string. It backs:

  - Ingest dedup: "<session_id>\x00<client_event_id>" -> assigned sequence number.
    Capacity bounds memory; an evicted key simply stops being deduplicated.
  - Analytics memoization: session id -> summary stamped with the inputs it was
    computed from, so a stale entry is detected by the caller and recomputed.
  - Authorization decisions: "<role>:<object>:<action>" -> allow, with a TTL.
  - Hub notification dedup: notification id -> seen marker.

# Usage Example

	dedup := cache.NewLRUCache[uint64](100_000, 0)
	dedup.Add(key, seq)
	if seq, ok := dedup.Get(key); ok {
	    // duplicate submission; reply with the original sequence number
	}

# Performance Characteristics

  - Get, Add, Remove: O(1) hash lookup plus list splice
  - Eviction: O(1), least recently used first
  - RemoveFunc and CleanupExpired: O(n)

# Thread Safety

Every method takes the cache mutex. The OnEvict callback runs with the mutex
held and must not re-enter the cache.
*/
package cache
