package billingagent

import "testing"

func TestMaskAPIKey(t *testing.T) {
	cases := []struct {
		name string
		key  string
		want string
	}{
		{name: "short key fully masked", key: "abc", want: "***"},
		{name: "exactly 8 chars fully masked", key: "abcdefgh", want: "********"},
		{name: "long key keeps first 8", key: "abcdefghijkl", want: "abcdefgh****"},
		{name: "empty key", key: "", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MaskAPIKey(tc.key); got != tc.want {
				t.Errorf("MaskAPIKey(%q) = %q, want %q", tc.key, got, tc.want)
			}
		})
	}
}

func TestConfigWithDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{BrokerHost: "broker.example.com"}.WithDefaults()

	d := DefaultConfig()
	if cfg.BrokerPort != d.BrokerPort {
		t.Errorf("BrokerPort = %d, want default %d", cfg.BrokerPort, d.BrokerPort)
	}
	if cfg.HeartbeatInterval != d.HeartbeatInterval {
		t.Errorf("HeartbeatInterval = %v, want default %v", cfg.HeartbeatInterval, d.HeartbeatInterval)
	}
	if cfg.BackoffMaxAttempts != d.BackoffMaxAttempts {
		t.Errorf("BackoffMaxAttempts = %d, want default %d", cfg.BackoffMaxAttempts, d.BackoffMaxAttempts)
	}
	if cfg.BrokerHost != "broker.example.com" {
		t.Errorf("BrokerHost should be preserved, got %q", cfg.BrokerHost)
	}
}

func TestConfigWithDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{BrokerHost: "b", BrokerPort: 1883, BackoffMaxAttempts: 7}.WithDefaults()
	if cfg.BrokerPort != 1883 {
		t.Errorf("explicit BrokerPort overwritten: got %d", cfg.BrokerPort)
	}
	if cfg.BackoffMaxAttempts != 7 {
		t.Errorf("explicit BackoffMaxAttempts overwritten: got %d", cfg.BackoffMaxAttempts)
	}
}
