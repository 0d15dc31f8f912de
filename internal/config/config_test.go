package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("BILLINGAGENT_TEST_HOST", "broker.internal")

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"present var", "${BILLINGAGENT_TEST_HOST}", "broker.internal"},
		{"missing var with default", "${BILLINGAGENT_TEST_MISSING:-fallback}", "fallback"},
		{"missing var without default is left untouched", "${BILLINGAGENT_TEST_MISSING}", "${BILLINGAGENT_TEST_MISSING}"},
		{"no placeholder", "plain text", "plain text"},
		{"embedded in a larger string", "tls://${BILLINGAGENT_TEST_HOST}:8883", "tls://broker.internal:8883"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SubstituteEnvVars(tc.input); got != tc.want {
				t.Errorf("SubstituteEnvVars(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestLoadDecodesYAMLAndAppliesEnvSubstitution(t *testing.T) {
	t.Setenv("BILLINGAGENT_TEST_PORT", "8883")

	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	contents := `
broker:
  host: broker.example.com
  port: ${BILLINGAGENT_TEST_PORT}
  username: demo
  password: secret
  client_id: demo-client
tls:
  insecure_skip_verify: true
  server_name: broker.example.com
heartbeat:
  interval: 10s
  timeout: 30s
backoff:
  base_delay: 5s
  max_attempts: 3
  cooldown_multiplier: 2
queue:
  soft_cap: 1000
  poll_interval: 1s
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.BrokerHost != "broker.example.com" {
		t.Errorf("BrokerHost = %q, want broker.example.com", cfg.BrokerHost)
	}
	if cfg.BrokerPort != 8883 {
		t.Errorf("BrokerPort = %d, want 8883", cfg.BrokerPort)
	}
	if cfg.ClientID != "demo-client" {
		t.Errorf("ClientID = %q, want demo-client", cfg.ClientID)
	}
	if cfg.HeartbeatInterval != 10*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 10s", cfg.HeartbeatInterval)
	}
	if cfg.BackoffMaxAttempts != 3 {
		t.Errorf("BackoffMaxAttempts = %d, want 3", cfg.BackoffMaxAttempts)
	}
	if cfg.QueueSoftCap != 1000 {
		t.Errorf("QueueSoftCap = %d, want 1000", cfg.QueueSoftCap)
	}
	if cfg.TLSConfig == nil || !cfg.TLSConfig.InsecureSkipVerify || cfg.TLSConfig.ServerName != "broker.example.com" {
		t.Errorf("unexpected TLSConfig: %+v", cfg.TLSConfig)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadMalformedDurationReturnsError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	if err := os.WriteFile(path, []byte("heartbeat:\n  interval: not-a-duration\n"), 0o600); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a malformed duration")
	}
}
