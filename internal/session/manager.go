// Package session implements the connection/session manager (C4) and the
// three background workers it owns: the inbound dispatcher (C5), the
// queue drainer (C6), and the heartbeat (C7). This is the core of the
// billing agent: a state machine over the transport adapter with a
// rate-limited, interlocked exponential-backoff reconnector.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/user/billingagent/internal/core"
	"github.com/user/billingagent/internal/keystore"
	"github.com/user/billingagent/internal/metrics"
	"github.com/user/billingagent/internal/queue"
	"github.com/user/billingagent/internal/transport"
)

// Topics, per §6.
const (
	TopicReport     = "billing/report"
	TopicKeysUpdate = "billing/keys/update"
	TopicKeysReq    = "billing/keys/request"
	TopicHeartbeat  = "billing/heartbeat"
	TopicPing       = "billing/ping"
)

// State is a position in the C4 state machine (§4.4).
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnect
	StateBackoff
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnect:
		return "reconnect"
	case StateBackoff:
		return "backoff"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// newTransport is overridable in tests so the manager can be driven
// against a fake transport instead of a real MQTT broker.
type transportFactory func(cfg core.Config, logger core.Logger) transportAdapter

// transportAdapter is the subset of *transport.Adapter the manager needs;
// extracted so tests can supply a fake.
type transportAdapter interface {
	Open() error
	Subscribe(topic string) error
	Publish(topic string, payload []byte) error
	IsOpen() bool
	Messages() <-chan transport.Message
	Lost() <-chan struct{}
	Close()
}

// backoffState tracks BackoffState (§3, §4.4). Its fields are mutated
// only while holding Manager.mu.
type backoffState struct {
	lastAttemptAt        time.Time
	attemptsSinceSuccess int
	inProgress           bool
}

// Manager is the session manager (C4). It owns the transport adapter, the
// backoff budget, and the last-good-heartbeat clock, and starts/stops the
// three background workers around each successful connect.
type Manager struct {
	cfg    core.Config
	logger core.Logger

	keystore *keystore.Store
	queue    *queue.Queue

	newTransport transportFactory

	mu      sync.Mutex // serializes Connect/Reconnect/Cleanup/Disconnect and guards the fields below
	state   State
	backoff backoffState
	tr      transportAdapter

	lastHeartbeatSuccess time.Time
	suspectBad           bool

	callbackMu sync.RWMutex
	callback   core.KeyStatusCallback

	workersCtx    context.Context
	workersCancel context.CancelFunc
	workersWg     sync.WaitGroup

	terminated bool
}

// New constructs a Manager. It does not connect; call Connect or Start.
func New(cfg core.Config, logger core.Logger, ks *keystore.Store, q *queue.Queue) *Manager {
	return &Manager{
		cfg:      cfg,
		logger:   logger,
		keystore: ks,
		queue:    q,
		state:    StateIdle,
		newTransport: func(cfg core.Config, logger core.Logger) transportAdapter {
			return transport.New(cfg, logger)
		},
	}
}

// SetKeyStatusCallback registers the optional user callback invoked after
// each key update is applied (§4.5, P9).
func (m *Manager) SetKeyStatusCallback(cb core.KeyStatusCallback) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.callback = cb
}

// State returns the current state machine position.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the session is in the Connected state.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

func (m *Manager) setState(s State) {
	m.state = s
	metrics.SessionState.Set(float64(s))
}

// nowMillis is the wire timestamp helper (§6: milliseconds since epoch).
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Connect performs the explicit connect procedure of §4.4. If already
// Connected, it probes the session with a ping publish; a successful probe
// is a no-op, a failed one falls through to a gated reconnect attempt.
// Unlike background-triggered reconnects, an explicit Connect surfaces
// transport errors to the caller (§7).
//
// The not-yet-connected branch shares TriggerReconnect's inProgress
// interlock (P4): without it, a caller invoking Connect while a
// background reconnect (from C5 or C7) is already mid-flight would race it
// into building a second transport and a second set of workers, and the
// loser's goroutines would leak with no cancel left reachable from
// stopWorkers.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return core.ErrTransportClosed
	}
	if m.state == StateConnected {
		probeErr := m.probeLocked()
		if probeErr == nil {
			m.mu.Unlock()
			return nil
		}
		m.setState(StateReconnect)
		m.mu.Unlock()
		if !m.TriggerReconnect() {
			return fmt.Errorf("billingagent: %w: reconnect after failed probe: %v", core.ErrTransportOpen, probeErr)
		}
		return nil
	}
	if m.backoff.inProgress {
		m.mu.Unlock()
		return core.ErrTransportClosed
	}
	m.backoff.inProgress = true
	m.setState(StateConnecting)
	m.mu.Unlock()

	err := m.doConnect()

	m.mu.Lock()
	if err == nil {
		m.backoff.attemptsSinceSuccess = 0
	} else {
		m.setState(StateBackoff)
		m.backoff.lastAttemptAt = time.Now()
		m.backoff.attemptsSinceSuccess++
	}
	m.backoff.inProgress = false
	m.mu.Unlock()
	return err
}

// probeLocked publishes a liveness probe to billing/ping. Callers must
// hold m.mu.
func (m *Manager) probeLocked() error {
	if m.tr == nil {
		return core.ErrTransportClosed
	}
	body, _ := json.Marshal(map[string]interface{}{"type": "ping", "timestamp": nowMillis()})
	return m.tr.Publish(TopicPing, body)
}

// doConnect runs steps 2-4 of the connect procedure (§4.4): build the
// transport, open it, subscribe to billing/keys/update, publish the
// initial key-list request, and start C5/C6/C7. It does not hold m.mu for
// its network operations, only to install the result.
func (m *Manager) doConnect() error {
	tr := m.newTransport(m.cfg, m.logger)
	if err := tr.Open(); err != nil {
		return err
	}
	if err := tr.Subscribe(TopicKeysUpdate); err != nil {
		tr.Close()
		return fmt.Errorf("billingagent: subscribe failed: %w", err)
	}

	reqBody, _ := json.Marshal(map[string]interface{}{"timestamp": nowMillis()})
	if err := tr.Publish(TopicKeysReq, reqBody); err != nil {
		m.logger.Warn("session: initial key-list request failed", "error", err)
	}

	m.mu.Lock()
	m.tr = tr
	m.setState(StateConnected)
	m.lastHeartbeatSuccess = time.Now()
	m.suspectBad = false
	m.mu.Unlock()

	m.startWorkers()
	m.logger.Info("session: connected", "broker", m.cfg.BrokerHost, "port", m.cfg.BrokerPort)
	return nil
}

// startWorkers launches C5, C6, C7 under a fresh cancellable context.
func (m *Manager) startWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.workersCtx = ctx
	m.workersCancel = cancel
	tr := m.tr
	m.mu.Unlock()

	m.workersWg.Add(3)
	go func() { defer m.workersWg.Done(); m.runDispatcher(ctx, tr) }()
	go func() { defer m.workersWg.Done(); m.runDrainer(ctx) }()
	go func() { defer m.workersWg.Done(); m.runHeartbeat(ctx) }()
}

// stopWorkers cancels and waits for C5/C6/C7 to observe shutdown.
func (m *Manager) stopWorkers() {
	m.mu.Lock()
	cancel := m.workersCancel
	m.workersCancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.workersWg.Wait()
}

// cleanup tears down the current transport (if any) before a reconnect
// attempt, per the "run cleanup + Open" step of the reconnect gate.
func (m *Manager) cleanup() {
	m.stopWorkers()
	m.mu.Lock()
	tr := m.tr
	m.tr = nil
	m.mu.Unlock()
	if tr != nil {
		tr.Close()
	}
}

// TriggerReconnect is the gated reconnect entrypoint used by C5 (stream
// termination) and C7 (heartbeat timeout, or a session that C6 marked
// suspect-bad after a failed publish). It
// implements the BackoffState gate of §4.4 and is the unit tested by P4
// and P5: under k concurrent triggers, at most one proceeds.
func (m *Manager) TriggerReconnect() bool {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return false
	}
	if m.backoff.inProgress {
		m.mu.Unlock()
		metrics.ReconnectRejected.Inc()
		return false
	}
	now := time.Now()
	if !m.backoff.lastAttemptAt.IsZero() && now.Sub(m.backoff.lastAttemptAt) < m.cfg.BackoffBaseDelay {
		m.mu.Unlock()
		metrics.ReconnectRejected.Inc()
		return false
	}
	if m.backoff.attemptsSinceSuccess >= m.cfg.BackoffMaxAttempts {
		cooldown := time.Duration(m.cfg.BackoffCooldownMultiplier) * m.cfg.BackoffBaseDelay
		if now.Sub(m.backoff.lastAttemptAt) <= cooldown {
			m.mu.Unlock()
			metrics.ReconnectRejected.Inc()
			return false
		}
		m.backoff.attemptsSinceSuccess = 0
	}

	m.backoff.inProgress = true
	m.backoff.attemptsSinceSuccess++
	m.backoff.lastAttemptAt = now
	m.setState(StateReconnect)
	m.mu.Unlock()

	metrics.ReconnectAttempts.Inc()
	m.cleanup()
	err := m.doConnect()

	m.mu.Lock()
	if err == nil {
		m.backoff.attemptsSinceSuccess = 0
	} else {
		m.setState(StateBackoff)
	}
	m.backoff.inProgress = false
	m.mu.Unlock()

	if err != nil {
		m.logger.Warn("session: reconnect attempt failed", "error", err)
		return false
	}
	return true
}

// MarkSuspectBad flags the current session as unreliable, giving C4/C7 a
// signal to prefer reconnecting even if the transport thinks it's open
// (§4.6 step 4, §4.7).
func (m *Manager) MarkSuspectBad() {
	m.mu.Lock()
	m.suspectBad = true
	m.mu.Unlock()
}

func (m *Manager) isSuspectBad() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.suspectBad
}

func (m *Manager) currentTransport() transportAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tr
}

func (m *Manager) recordHeartbeatSuccess() {
	m.mu.Lock()
	m.lastHeartbeatSuccess = time.Now()
	m.suspectBad = false
	m.mu.Unlock()
}

func (m *Manager) heartbeatAge() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastHeartbeatSuccess.IsZero() {
		return 0
	}
	return time.Since(m.lastHeartbeatSuccess)
}

// RequestKeysList publishes a fresh key-list request (§4.8). It is the
// manual counterpart to the automatic request doConnect issues after
// every successful connect.
func (m *Manager) RequestKeysList() error {
	tr := m.currentTransport()
	if tr == nil {
		return core.ErrTransportClosed
	}
	body, _ := json.Marshal(map[string]interface{}{"timestamp": nowMillis()})
	return tr.Publish(TopicKeysReq, body)
}

// Disconnect cancels all background workers through their shared context,
// waits for them to exit, and then closes the transport. It tolerates all
// errors (§7).
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.terminated {
		m.mu.Unlock()
		return
	}
	m.terminated = true
	m.setState(StateTerminated)
	m.mu.Unlock()

	m.stopWorkers()

	m.mu.Lock()
	tr := m.tr
	m.tr = nil
	m.mu.Unlock()
	if tr != nil {
		tr.Close()
	}
	m.logger.Info("session: disconnected")
}
