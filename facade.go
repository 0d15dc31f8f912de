package billingagent

import (
	"context"
	"sync"
	"time"

	"github.com/user/billingagent/internal/keystore"
	"github.com/user/billingagent/internal/logging"
	"github.com/user/billingagent/internal/queue"
	"github.com/user/billingagent/internal/session"
)

// Agent is the public facade (C8): a process-wide handle exposing usage
// reporting, key validity checks, and lifecycle control. Construct one via
// Init; the first construction wins (P1) — subsequent Init calls with
// different configuration return the existing instance unchanged.
type Agent struct {
	cfg      Config
	logger   Logger
	keystore *keystore.Store
	queue    *queue.Queue
	session  *session.Manager
}

var (
	facadeMu sync.Mutex
	instance *Agent
)

// Init constructs the shared Agent instance, or returns the existing one
// if already constructed (P1, §3 "Lifecycle", §4.8). It does not connect;
// call Start (background) or Connect (explicit, blocking) afterward.
func Init(cfg Config) *Agent {
	facadeMu.Lock()
	defer facadeMu.Unlock()
	if instance != nil {
		return instance
	}
	instance = newAgent(cfg)
	return instance
}

func newAgent(cfg Config) *Agent {
	cfg = cfg.WithDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewDefault()
	}
	ks := keystore.New()
	q := queue.New(cfg.QueueSoftCap)
	sm := session.New(cfg, logger, ks, q)
	return &Agent{cfg: cfg, logger: logger, keystore: ks, queue: q, session: sm}
}

// Instance returns the shared Agent, or ErrNotInitialized if Init has not
// been called yet.
func Instance() (*Agent, error) {
	facadeMu.Lock()
	defer facadeMu.Unlock()
	if instance == nil {
		return nil, ErrNotInitialized
	}
	return instance, nil
}

// IsInitialized reports whether Init has been called.
func IsInitialized() bool {
	facadeMu.Lock()
	defer facadeMu.Unlock()
	return instance != nil
}

// Start launches the initial connect in the background and returns
// immediately. Background connect failures are logged and swallowed
// (driven by the backoff machine); use Connect for a synchronous attempt
// that surfaces errors (§7, §9 "Singleton + auto-start").
func (a *Agent) Start(ctx context.Context) {
	go a.runInitialConnect(ctx)
}

func (a *Agent) runInitialConnect(ctx context.Context) {
	err := a.session.Connect()
	if err == nil {
		return
	}
	a.logger.Warn("agent: initial connect failed, retrying in background", "error", err)
	ticker := time.NewTicker(a.cfg.BackoffBaseDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.session.IsConnected() {
				return
			}
			if a.session.TriggerReconnect() {
				return
			}
		}
	}
}

// Connect performs a synchronous, explicit connect attempt and surfaces
// any transport error to the caller (§4.4, §7).
func (a *Agent) Connect() error {
	return a.session.Connect()
}

// Report builds a UsageRecord and enqueues it. It never blocks on network
// I/O and never fails once the Agent exists (§4.8, §7); disconnected
// periods are absorbed by the queue and flushed on reconnect.
func (a *Agent) Report(apiKey, module, model string, usage int64, metadata map[string]interface{}) error {
	a.queue.Enqueue(UsageRecord{
		APIKey:   apiKey,
		Module:   module,
		Model:    model,
		Usage:    usage,
		Metadata: metadata,
	})
	return nil
}

// IsKeyValid is a non-blocking, wait-free check against the key-state
// store (§5). Unknown keys are not valid (P8).
func (a *Agent) IsKeyValid(apiKey string) bool {
	return a.keystore.IsValid(apiKey)
}

// ValidKeys returns a snapshot of the currently valid keys.
func (a *Agent) ValidKeys() []string {
	return a.keystore.ValidKeys()
}

// BlockedKeys returns a snapshot of the currently blocked keys and their
// reasons.
func (a *Agent) BlockedKeys() []KeyEntry {
	return a.keystore.BlockedKeys()
}

// SetKeyStatusCallback registers a callback invoked once per key update,
// after the store has been updated to reflect it (P9).
func (a *Agent) SetKeyStatusCallback(cb KeyStatusCallback) {
	a.session.SetKeyStatusCallback(cb)
}

// RequestKeysList asks the broker to re-push the full key list.
func (a *Agent) RequestKeysList() error {
	return a.session.RequestKeysList()
}

// QueueStatus is a snapshot of the usage queue's current depth.
type QueueStatus struct {
	Size int
}

// QueueStatus returns a snapshot of the queue's current depth.
func (a *Agent) QueueStatus() QueueStatus {
	return QueueStatus{Size: a.queue.Size()}
}

// ClearQueue administratively discards all pending usage records and
// returns the number discarded.
func (a *Agent) ClearQueue() int {
	return a.queue.Drain()
}

// WaitQueueEmpty blocks until the queue drains or timeout elapses,
// returning whether it became empty. It never cancels drainer work.
func (a *Agent) WaitQueueEmpty(timeout time.Duration) bool {
	return a.queue.WaitEmpty(timeout)
}

// Disconnect cancels all background workers together, waits for them to
// exit, and closes the transport. In-flight records remaining in the queue are lost
// (documented, §3/§7).
func (a *Agent) Disconnect() {
	a.session.Disconnect()
	a.queue.Close()
}

// --- Package-level convenience wrappers around the shared instance ---
//
// These mirror the module-level `report_usage`/`get_billing_client`
// helpers of the originating SDK: ergonomic call-site access to the
// singleton without threading an *Agent through every caller.

// Report enqueues a usage record on the shared Agent. It returns
// ErrNotInitialized if Init has not been called.
func Report(apiKey, module, model string, usage int64, metadata map[string]interface{}) error {
	a, err := Instance()
	if err != nil {
		return err
	}
	return a.Report(apiKey, module, model, usage, metadata)
}

// IsKeyValid checks the shared Agent's key-state store. It never errors:
// an uninitialized agent reports every key as invalid, same as an
// unknown key would (P8, §7).
func IsKeyValid(apiKey string) bool {
	a, err := Instance()
	if err != nil {
		return false
	}
	return a.IsKeyValid(apiKey)
}

// ValidKeys returns the shared Agent's valid-key snapshot, or nil if
// uninitialized.
func ValidKeys() []string {
	a, err := Instance()
	if err != nil {
		return nil
	}
	return a.ValidKeys()
}

// BlockedKeys returns the shared Agent's blocked-key snapshot, or nil if
// uninitialized.
func BlockedKeys() []KeyEntry {
	a, err := Instance()
	if err != nil {
		return nil
	}
	return a.BlockedKeys()
}
