// Package config is a demo-only convenience loader that turns a small YAML
// file into a billingagent.Config. The core library never imports it: it
// exists for callers who would rather ship a config file than build a
// Config struct literal.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/billingagent"
)

// duration decodes a Go duration string ("10s", "1h30m") from YAML into a
// time.Duration; plain yaml.v3 only knows how to decode a time.Duration as
// a bare integer (nanoseconds), which is not how anyone hand-writes a demo
// config file.
type duration time.Duration

func (d *duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = duration(parsed)
	return nil
}

// File is the on-disk shape of a demo config file.
type File struct {
	Broker struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		ClientID string `yaml:"client_id"`
	} `yaml:"broker"`
	TLS struct {
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
		ServerName         string `yaml:"server_name"`
	} `yaml:"tls"`
	Heartbeat struct {
		Interval duration `yaml:"interval"`
		Timeout  duration `yaml:"timeout"`
	} `yaml:"heartbeat"`
	Backoff struct {
		BaseDelay          duration `yaml:"base_delay"`
		MaxAttempts        int      `yaml:"max_attempts"`
		CooldownMultiplier int      `yaml:"cooldown_multiplier"`
	} `yaml:"backoff"`
	Queue struct {
		SoftCap      int      `yaml:"soft_cap"`
		PollInterval duration `yaml:"poll_interval"`
	} `yaml:"queue"`
}

// Load reads path, substitutes ${VAR}/${VAR:-default} environment
// references, decodes it as YAML, and returns the equivalent
// billingagent.Config. Zero-valued fields are filled in by
// Config.WithDefaults at construction time.
func Load(path string) (billingagent.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return billingagent.Config{}, fmt.Errorf("billingagent/config: read %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal([]byte(SubstituteEnvVars(string(data))), &f); err != nil {
		return billingagent.Config{}, fmt.Errorf("billingagent/config: decode %s: %w", path, err)
	}

	cfg := billingagent.Config{
		BrokerHost: f.Broker.Host,
		BrokerPort: f.Broker.Port,
		Username:   f.Broker.Username,
		Password:   f.Broker.Password,
		ClientID:   f.Broker.ClientID,

		HeartbeatInterval: time.Duration(f.Heartbeat.Interval),
		HeartbeatTimeout:  time.Duration(f.Heartbeat.Timeout),

		BackoffBaseDelay:          time.Duration(f.Backoff.BaseDelay),
		BackoffMaxAttempts:        f.Backoff.MaxAttempts,
		BackoffCooldownMultiplier: f.Backoff.CooldownMultiplier,

		DrainPollInterval: time.Duration(f.Queue.PollInterval),
		QueueSoftCap:      f.Queue.SoftCap,
	}
	if f.TLS.InsecureSkipVerify || f.TLS.ServerName != "" {
		cfg.TLSConfig = &billingagent.TLSConfig{
			InsecureSkipVerify: f.TLS.InsecureSkipVerify,
			ServerName:         f.TLS.ServerName,
		}
	}
	return cfg, nil
}

var envRegex = regexp.MustCompile(`\${(\w+)(?::-([^}]*))?}`)

// SubstituteEnvVars replaces ${NAME} and ${NAME:-default} references in
// input with the named environment variable, or the default if unset.
func SubstituteEnvVars(input string) string {
	return envRegex.ReplaceAllStringFunc(input, func(m string) string {
		matches := envRegex.FindStringSubmatch(m)
		if len(matches) < 2 {
			return m
		}
		name := matches[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		if len(matches) > 2 && strings.Contains(m, ":-") {
			return matches[2]
		}
		return m
	})
}
