// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// validateRedisURL validates that the Redis URL is properly formatted.
// Supports: redis:// and rediss:// with host, optional port and database path.
func validateRedisURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("REDIS_URL failed to parse URL: %w", err)
	}

	if parsedURL.Scheme != "redis" && parsedURL.Scheme != "rediss" {
		return fmt.Errorf("REDIS_URL scheme must be redis or rediss, got: %s", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("REDIS_URL host is required (e.g., redis://localhost:6379/0)")
	}

	return nil
}

// validateBrokerAddress validates a Kafka broker in host:port form.
func validateBrokerAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("KAFKA_BROKERS entry %q must be host:port: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("KAFKA_BROKERS entry %q has no host", addr)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("KAFKA_BROKERS entry %q has an invalid port", addr)
	}
	return nil
}
