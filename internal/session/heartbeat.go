package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/user/billingagent/internal/metrics"
)

// runHeartbeat is the heartbeat/keepalive worker (C7, §4.7). Every
// HeartbeatInterval it either publishes a liveness probe or, if the
// session isn't connected or the liveness window has lapsed, requests a
// reconnect instead of publishing.
func (m *Manager) runHeartbeat(ctx context.Context) {
	interval := m.cfg.HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.heartbeatTick()
		}
	}
}

func (m *Manager) heartbeatTick() {
	connected := m.IsConnected() && !m.isSuspectBad()
	age := m.heartbeatAge()

	if connected && age <= m.cfg.HeartbeatTimeout {
		tr := m.currentTransport()
		if tr == nil {
			metrics.HeartbeatTimeouts.Inc()
			go m.TriggerReconnect()
			return
		}
		body, _ := json.Marshal(map[string]interface{}{"type": "heartbeat", "timestamp": nowMillis()})
		if err := tr.Publish(TopicHeartbeat, body); err != nil {
			m.logger.Warn("heartbeat: publish failed", "error", err)
			m.MarkSuspectBad()
			return
		}
		m.recordHeartbeatSuccess()
		metrics.HeartbeatSuccess.Inc()
		return
	}

	m.logger.Warn("heartbeat: liveness window exceeded or session not connected, requesting reconnect", "age", age)
	metrics.HeartbeatTimeouts.Inc()
	go m.TriggerReconnect()
}
