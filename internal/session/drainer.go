package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/user/billingagent/internal/metrics"
)

// usageMessage mirrors the wire shape published to billing/report (§6).
// The drainer stamps Timestamp at publish time, never at enqueue time.
type usageMessage struct {
	APIKey    string                 `json:"api_key"`
	Module    string                 `json:"module"`
	Model     string                 `json:"model"`
	Usage     int64                  `json:"usage"`
	Timestamp int64                  `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// retryDelay is the "sleep briefly" interval of §4.6 steps 2 and 4,
// separate from the Dequeue poll timeout which exists only to let the
// drainer notice shutdown.
const retryDelay = 250 * time.Millisecond

// runDrainer is the queue drainer (C6). It pulls from the usage queue,
// publishes to billing/report, and re-enqueues on any transport failure,
// giving at-least-once delivery (§4.6, P3).
func (m *Manager) runDrainer(ctx context.Context) {
	pollTimeout := m.cfg.DrainPollInterval

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		record, ok := m.queue.Dequeue(pollTimeout)
		if !ok {
			continue
		}

		if !m.IsConnected() {
			m.queue.EnqueueFront(record)
			sleepOrDone(ctx, retryDelay)
			continue
		}

		tr := m.currentTransport()
		if tr == nil {
			m.queue.EnqueueFront(record)
			sleepOrDone(ctx, retryDelay)
			continue
		}

		body, err := json.Marshal(usageMessage{
			APIKey:    record.APIKey,
			Module:    record.Module,
			Model:     record.Model,
			Usage:     record.Usage,
			Timestamp: nowMillis(),
			Metadata:  record.Metadata,
		})
		if err != nil {
			// Not a wire failure; the record is unrecoverably malformed.
			m.logger.Error("drainer: failed to encode usage record", "error", err)
			continue
		}

		if err := tr.Publish(TopicReport, body); err != nil {
			m.logger.Warn("drainer: publish failed, re-enqueuing", "error", err)
			metrics.UsagePublishErrors.Inc()
			m.queue.EnqueueFront(record)
			m.MarkSuspectBad()
			sleepOrDone(ctx, retryDelay)
			continue
		}

		metrics.UsagePublished.Inc()
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
