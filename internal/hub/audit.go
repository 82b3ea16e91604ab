package hub

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// AuditEvent is the record shape handed to the external audit collaborator.
type AuditEvent struct {
	TaskID    string         `json:"taskId"`
	Event     string         `json:"event"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditSink receives task lifecycle events. Delivery is fire-and-forget: the
// hub ignores errors and a panicking sink never aborts task processing.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent) error
}

// NopAuditSink discards every event.
type NopAuditSink struct{}

func (NopAuditSink) Record(context.Context, AuditEvent) error { return nil }

// LogAuditSink writes audit events to the structured log, the default when
// no external sink is wired in.
type LogAuditSink struct {
	Log *zap.Logger
}

func (s LogAuditSink) Record(_ context.Context, ev AuditEvent) error {
	s.Log.Info("audit event",
		zap.String("task_id", ev.TaskID),
		zap.String("event", ev.Event),
		zap.Any("payload", ev.Payload),
		zap.Time("timestamp", ev.Timestamp),
	)
	return nil
}

// recordAudit delivers an event to the sink, shielding the hub from sink
// failures.
func (h *Hub) recordAudit(taskID, event string, payload map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Debug("audit sink panicked", zap.Any("panic", r))
		}
	}()
	ev := AuditEvent{
		TaskID:    taskID,
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	if err := h.audit.Record(context.Background(), ev); err != nil {
		h.log.Debug("audit sink rejected event", zap.String("event", event), zap.Error(err))
	}
}
