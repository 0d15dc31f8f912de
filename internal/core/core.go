// Package core holds the domain types shared between the public API
// (package billingagent) and its internal workers (transport, keystore,
// queue, session). It depends on nothing else in this module, which is
// what lets billingagent re-export these types by alias without creating
// an import cycle: billingagent -> internal/session -> internal/core,
// never the other way around.
package core

import (
	"errors"
	"strings"
	"time"
)

// KeyStatus is the access-control state of an API key.
type KeyStatus string

const (
	KeyValid   KeyStatus = "ok"
	KeyBlocked KeyStatus = "blocked"
)

// UsageRecord describes a single unit of billable consumption. It is
// immutable once handed to Report/Enqueue; the wire timestamp is stamped
// by the queue drainer at publish time, not at construction.
type UsageRecord struct {
	APIKey   string
	Module   string
	Model    string
	Usage    int64
	Metadata map[string]interface{}
}

// KeyEntry is a snapshot of a single key's status, returned by the
// key-state store's snapshot accessors.
type KeyEntry struct {
	Key    string
	Status KeyStatus
	Reason string
}

// KeyStatusCallback is invoked once per key update after the key-state
// store has already been mutated to reflect it (P9).
type KeyStatusCallback func(key string, status KeyStatus, reason string)

// Logger is the structured logging seam the agent calls into. Callers may
// supply their own implementation at construction (the "logger sink"
// configuration input); the library otherwise falls back to a private
// zerolog-backed default. This mirrors the out-of-scope logging sink
// collaborator named in the specification: the agent defines the
// interface, not the sink.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Config is the construction-time configuration for the agent.
type Config struct {
	BrokerHost string
	BrokerPort int // default 8883
	Username   string
	Password   string

	// ClientID is the MQTT client identifier. Left empty, the transport
	// generates a random one.
	ClientID string

	// TLSConfig lets a caller harden the default TLS posture (hostname
	// verification and peer validation are off by default, per §6).
	TLSConfig *TLSConfig

	Logger Logger

	// HeartbeatInterval is how often C7 pings the broker. Default 10s.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long a session may go without a successful
	// heartbeat before C7 requests a reconnect. Default 30s.
	HeartbeatTimeout time.Duration

	// BackoffBaseDelay is D in §4.4/§8 (default 5s).
	BackoffBaseDelay time.Duration
	// BackoffMaxAttempts is A (default 3).
	BackoffMaxAttempts int
	// BackoffCooldownMultiplier is M (default 2).
	BackoffCooldownMultiplier int

	// DrainPollInterval is how often the queue drainer polls for work
	// while idle (default 1s, §4.6 step 1).
	DrainPollInterval time.Duration

	// QueueSoftCap is an optional drop-oldest cap on the usage queue
	// (§9 recommendation). Zero means unbounded, matching the spec's
	// documented default.
	QueueSoftCap int
}

// TLSConfig lets a caller harden the default (insecure) TLS posture.
type TLSConfig struct {
	MinVersion         uint16
	InsecureSkipVerify bool
	ServerName         string
	RootCAs            []byte // PEM-encoded, optional
}

// DefaultConfig returns a Config populated with the literal constants from
// the specification (§4.4, §4.7, §4.6), leaving connection fields empty.
func DefaultConfig() Config {
	return Config{
		BrokerPort:                8883,
		HeartbeatInterval:         10 * time.Second,
		HeartbeatTimeout:          30 * time.Second,
		BackoffBaseDelay:          5 * time.Second,
		BackoffMaxAttempts:        3,
		BackoffCooldownMultiplier: 2,
		DrainPollInterval:         1 * time.Second,
	}
}

// WithDefaults fills any zero-valued field with DefaultConfig's value.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.BrokerPort == 0 {
		c.BrokerPort = d.BrokerPort
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.BackoffBaseDelay == 0 {
		c.BackoffBaseDelay = d.BackoffBaseDelay
	}
	if c.BackoffMaxAttempts == 0 {
		c.BackoffMaxAttempts = d.BackoffMaxAttempts
	}
	if c.BackoffCooldownMultiplier == 0 {
		c.BackoffCooldownMultiplier = d.BackoffCooldownMultiplier
	}
	if c.DrainPollInterval == 0 {
		c.DrainPollInterval = d.DrainPollInterval
	}
	return c
}

// Error kinds, per §7.
var (
	// ErrNotInitialized is returned when the facade is used before Init.
	ErrNotInitialized = errors.New("billingagent: not initialized")
	// ErrTransportClosed is returned by Publish/Subscribe calls made
	// against a dead or torn-down session.
	ErrTransportClosed = errors.New("billingagent: transport closed")
	// ErrTransportOpen wraps a TLS/connect failure surfaced from an
	// explicit Connect call.
	ErrTransportOpen = errors.New("billingagent: transport open failed")
	// ErrDecode wraps a malformed inbound payload; it never propagates
	// out of the dispatcher, only appears in logs and tests.
	ErrDecode = errors.New("billingagent: decode failed")
)

const maskChar = '*'

// MaskAPIKey renders a log-safe form of an API key (§4.8, P7): keys longer
// than 8 characters keep their first 8 characters and mask the rest; keys
// of length 8 or shorter are masked in full.
func MaskAPIKey(key string) string {
	if len(key) > 8 {
		return key[:8] + strings.Repeat(string(maskChar), len(key)-8)
	}
	return strings.Repeat(string(maskChar), len(key))
}
