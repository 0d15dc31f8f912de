// Package billingagent is a client-side billing and access-control agent
// embedded into processes that front third-party AI APIs. It maintains a
// single long-lived MQTT-over-TLS session with a central billing broker to
// report usage asynchronously and to keep a live view of which API keys
// are currently valid.
package billingagent

import (
	"github.com/user/billingagent/internal/core"
)

// KeyStatus is the access-control state of an API key.
type KeyStatus = core.KeyStatus

const (
	KeyValid   = core.KeyValid
	KeyBlocked = core.KeyBlocked
)

// UsageRecord describes a single unit of billable consumption. It is
// immutable once handed to Report/Enqueue; the wire timestamp is stamped
// by the queue drainer at publish time, not at construction.
type UsageRecord = core.UsageRecord

// KeyEntry is a snapshot of a single key's status, returned by the
// key-state store's snapshot accessors.
type KeyEntry = core.KeyEntry

// KeyStatusCallback is invoked once per key update after the key-state
// store has already been mutated to reflect it (P9).
type KeyStatusCallback = core.KeyStatusCallback

// Logger is the structured logging seam the agent calls into. Callers may
// supply their own implementation at construction (the "logger sink"
// configuration input); the library otherwise falls back to a private
// zerolog-backed default. This mirrors the out-of-scope logging sink
// collaborator named in the specification: the agent defines the
// interface, not the sink.
type Logger = core.Logger

// Config is the construction-time configuration for the agent.
type Config = core.Config

// TLSConfig lets a caller harden the default (insecure) TLS posture.
type TLSConfig = core.TLSConfig

// DefaultConfig returns a Config populated with the literal constants from
// the specification (§4.4, §4.7, §4.6), leaving connection fields empty.
func DefaultConfig() Config {
	return core.DefaultConfig()
}

// Error kinds, per §7.
var (
	// ErrNotInitialized is returned when the facade is used before Init.
	ErrNotInitialized = core.ErrNotInitialized
	// ErrTransportClosed is returned by Publish/Subscribe calls made
	// against a dead or torn-down session.
	ErrTransportClosed = core.ErrTransportClosed
	// ErrTransportOpen wraps a TLS/connect failure surfaced from an
	// explicit Connect call.
	ErrTransportOpen = core.ErrTransportOpen
	// ErrDecode wraps a malformed inbound payload; it never propagates
	// out of the dispatcher, only appears in logs and tests.
	ErrDecode = core.ErrDecode
)

// MaskAPIKey renders a log-safe form of an API key (§4.8, P7): keys longer
// than 8 characters keep their first 8 characters and mask the rest; keys
// of length 8 or shorter are masked in full.
func MaskAPIKey(key string) string {
	return core.MaskAPIKey(key)
}
