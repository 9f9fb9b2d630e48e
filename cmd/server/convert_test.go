// Examguard - Real-time Exam Integrity Monitoring
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/examguard

package main

import (
	"testing"
	"time"

	"github.com/tomtom215/examguard/internal/config"
)

func TestResilienceConfig_CopiesStoreSettings(t *testing.T) {
	rc := resilienceConfig(&config.StoreConfig{
		CallTimeout:      2 * time.Second,
		MaxRetries:       4,
		InitialBackoff:   10 * time.Millisecond,
		MaxBackoff:       time.Second,
		BreakerTimeout:   20 * time.Second,
		FailureThreshold: 7,
	})

	if rc.CallTimeout != 2*time.Second || rc.MaxRetries != 4 || rc.FailureThreshold != 7 {
		t.Errorf("resilience config = %+v", rc)
	}
	if rc.InitialBackoff != 10*time.Millisecond || rc.MaxBackoff != time.Second || rc.BreakerTimeout != 20*time.Second {
		t.Errorf("backoff settings not copied: %+v", rc)
	}
}

func TestPipelineConfig(t *testing.T) {
	pc := pipelineConfig(&config.IngestConfig{
		MaxClockSkew:    30 * time.Second,
		MaxEventAge:     15 * time.Minute,
		MaxPayloadBytes: 4096,
		DedupCapacity:   500,
		DedupTTL:        time.Hour,
	})

	if pc.Limits.MaxClockSkew != 30*time.Second || pc.Limits.MaxEventAge != 15*time.Minute {
		t.Errorf("limits = %+v", pc.Limits)
	}
	if pc.Limits.MaxPayloadBytes != 4096 {
		t.Errorf("MaxPayloadBytes = %d", pc.Limits.MaxPayloadBytes)
	}
	if pc.DedupCapacity != 500 || pc.DedupTTL != time.Hour {
		t.Errorf("dedup = %d/%v", pc.DedupCapacity, pc.DedupTTL)
	}
}

func TestHubConfig_MapsHeartbeatToPongWait(t *testing.T) {
	hc := hubConfig(&config.WebSocketConfig{
		HeartbeatInterval: 45 * time.Second,
		WriteTimeout:      5 * time.Second,
		MaxMessageSize:    1024,
		SendBuffer:        8,
		RateLimit:         10,
		RateBurst:         20,
		OperationTimeout:  time.Second,
	})

	if hc.PongWait != 45*time.Second {
		t.Errorf("PongWait = %v, want heartbeat interval", hc.PongWait)
	}
	if hc.WriteWait != 5*time.Second {
		t.Errorf("WriteWait = %v", hc.WriteWait)
	}
	if hc.MaxMessageSize != 1024 || hc.SendBuffer != 8 || hc.RateBurst != 20 {
		t.Errorf("hub config = %+v", hc)
	}
}

func TestBusConfig_KeepsDefaultsForUnsetFields(t *testing.T) {
	bc := busConfig(&config.NotifyConfig{
		OutputBuffer:    32,
		RetryMaxRetries: 2,
	})

	if bc.OutputBuffer != 32 || bc.RetryMaxRetries != 2 {
		t.Errorf("bus config = %+v", bc)
	}
}

func TestEnforcerConfig_AutoReload(t *testing.T) {
	tests := []struct {
		name       string
		policyPath string
		interval   time.Duration
		want       bool
	}{
		{"embedded policy", "", time.Minute, false},
		{"file without interval", "/etc/examguard/policy.csv", 0, false},
		{"file with interval", "/etc/examguard/policy.csv", time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ec := enforcerConfig(&config.SecurityConfig{
				CasbinPolicyPath:     tt.policyPath,
				CasbinReloadInterval: tt.interval,
			})
			if ec.AutoReload != tt.want {
				t.Errorf("AutoReload = %v, want %v", ec.AutoReload, tt.want)
			}
			if ec.PolicyPath != tt.policyPath {
				t.Errorf("PolicyPath = %q", ec.PolicyPath)
			}
		})
	}
}

func TestSessionPolicyAndTreeConfig(t *testing.T) {
	p := sessionPolicy(&config.SessionConfig{SuspendThreshold: 3, SuspendOnDisconnect: true})
	if p.SuspendThreshold != 3 || !p.SuspendOnDisconnect {
		t.Errorf("policy = %+v", p)
	}

	tc := treeConfig(&config.SupervisorConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	})
	if tc.FailureThreshold != 5 || tc.FailureDecay != 30 || tc.FailureBackoff != 15*time.Second || tc.ShutdownTimeout != 10*time.Second {
		t.Errorf("tree config = %+v", tc)
	}
}

func TestKafkaAndBadgerConfig(t *testing.T) {
	kc := kafkaConfig(&config.NotifyConfig{
		KafkaBrokers: []string{"k1:9092", "k2:9092"},
		KafkaTopic:   "examguard.notifications",
	})
	if len(kc.Brokers) != 2 || kc.Topic != "examguard.notifications" {
		t.Errorf("kafka config = %+v", kc)
	}

	bc := badgerConfig(&config.StoreConfig{Path: "/data", InMemory: true, GCRatio: 0.5})
	if bc.Path != "/data" || !bc.InMemory || bc.GCRatio != 0.5 {
		t.Errorf("badger config = %+v", bc)
	}
}
