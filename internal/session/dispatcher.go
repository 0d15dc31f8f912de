package session

import (
	"context"
	"encoding/json"

	"github.com/user/billingagent/internal/core"
	"github.com/user/billingagent/internal/metrics"
)

// keyUpdate mirrors one entry of KeyUpdateMessage.updates (§6).
type keyUpdate struct {
	Key    string `json:"key"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// keyUpdateMessage mirrors the wire shape published to billing/keys/update
// (§6).
type keyUpdateMessage struct {
	Timestamp int64       `json:"timestamp"`
	Updates   []keyUpdate `json:"updates"`
}

// runDispatcher is the inbound dispatcher (C5). It reads the transport's
// message stream, decodes billing/keys/update payloads, applies each
// update to the key-state store, and invokes the optional user callback
// strictly after the store reflects that update and strictly before the
// next update is processed (P9). Stream termination (connection lost)
// triggers a gated reconnect.
func (m *Manager) runDispatcher(ctx context.Context, tr transportAdapter) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-tr.Lost():
			m.logger.Warn("dispatcher: transport connection lost, requesting reconnect")
			go m.TriggerReconnect()
			return
		case msg, ok := <-tr.Messages():
			if !ok {
				m.logger.Warn("dispatcher: message stream closed, requesting reconnect")
				go m.TriggerReconnect()
				return
			}
			if msg.Topic != TopicKeysUpdate {
				continue
			}
			m.handleKeyUpdateMessage(msg.Payload)
		}
	}
}

func (m *Manager) handleKeyUpdateMessage(payload []byte) {
	var decoded keyUpdateMessage
	if err := json.Unmarshal(payload, &decoded); err != nil {
		m.logger.Error("dispatcher: malformed key-update payload", "error", err)
		metrics.DecodeErrors.Inc()
		return
	}

	m.logger.Info("dispatcher: key status update received", "timestamp", decoded.Timestamp, "count", len(decoded.Updates))

	for _, u := range decoded.Updates {
		status := core.KeyStatus(u.Status)
		applied := m.keystore.ApplyUpdate(u.Key, status, u.Reason)
		if !applied {
			m.logger.Warn("dispatcher: unknown key status, ignoring", "key", core.MaskAPIKey(u.Key), "status", u.Status)
			continue
		}
		metrics.KeyUpdatesApplied.WithLabelValues(string(status)).Inc()

		switch status {
		case core.KeyBlocked:
			m.logger.Warn("dispatcher: api key blocked", "key", core.MaskAPIKey(u.Key), "reason", u.Reason)
		case core.KeyValid:
			m.logger.Info("dispatcher: api key valid", "key", core.MaskAPIKey(u.Key))
		}

		m.invokeCallback(u.Key, status, u.Reason)
	}
}

// invokeCallback calls the registered callback, if any, and swallows any
// panic it raises (CallbackError, §7) rather than letting it take down the
// dispatcher.
func (m *Manager) invokeCallback(key string, status core.KeyStatus, reason string) {
	m.callbackMu.RLock()
	cb := m.callback
	m.callbackMu.RUnlock()
	if cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("dispatcher: key status callback panicked", "recover", r)
		}
	}()
	cb(key, status, reason)
}
