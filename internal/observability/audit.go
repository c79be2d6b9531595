package observability

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tyonishi/commanda-sub001/internal/tracing"
)

// LocalActor attributes audit events raised without a gateway client.
const LocalActor = "local"

// AuditEvent is one record in the append-only security log.
type AuditEvent struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Actor     string                 `json:"actor,omitempty"` // gateway client id, or "local"
	Action    string                 `json:"action"`          // e.g., "call:read_text_file", "process_terminated"
	Status    string                 `json:"status"`          // "success", "failure", "denied"
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	TraceID   string                 `json:"trace_id,omitempty"`
}

// AuditLogger appends events to the audit sink, one JSON line each.
type AuditLogger struct {
	mu     sync.Mutex
	logger zerolog.Logger
	file   *os.File
}

var (
	auditMu   sync.RWMutex
	auditInst = &AuditLogger{logger: zerolog.New(os.Stderr)}
)

// GetAuditLogger returns the process-wide audit logger. Until
// InitAuditLogger runs, events land on stderr.
func GetAuditLogger() *AuditLogger {
	auditMu.RLock()
	defer auditMu.RUnlock()
	return auditInst
}

// InitAuditLogger points the global audit logger at path. Audit records
// name actors and denied actions, so the file is created owner-only.
// Re-initializing closes the previous sink.
func InitAuditLogger(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}

	auditMu.Lock()
	prev := auditInst
	auditInst = &AuditLogger{logger: zerolog.New(file), file: file}
	auditMu.Unlock()

	_ = prev.Close()
	return nil
}

// Record stamps and appends one event. An event without an actor is
// attributed to the gateway client on the context, or to the local host.
// When the context carries an active span the event is mirrored onto it.
func (a *AuditLogger) Record(ctx context.Context, event AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Actor == "" {
		event.Actor = ActorFromContext(ctx)
	}

	span := trace.SpanFromContext(ctx)
	if sc := span.SpanContext(); sc.IsValid() {
		event.TraceID = sc.TraceID().String()
		span.AddEvent(event.Action, trace.WithAttributes(
			attribute.String("audit.type", event.Type),
			attribute.String("audit.status", event.Status),
			attribute.String("audit.actor", event.Actor),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Time("timestamp", event.Timestamp).
		Str("type", event.Type).
		Str("actor", event.Actor).
		Str("action", event.Action).
		Str("status", event.Status)
	if event.TraceID != "" {
		entry = entry.Str("trace_id", event.TraceID)
	}
	if len(event.Metadata) > 0 {
		entry = entry.Interface("metadata", event.Metadata)
	}
	entry.Send()
}

// Close releases the audit file. Safe to call twice; the stderr fallback
// has nothing to release.
func (a *AuditLogger) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// ActorFromContext names the audit actor for a request context: the
// gateway client id when one is attached, otherwise the local host.
func ActorFromContext(ctx context.Context) string {
	if id := tracing.GetClientID(ctx); id != "" {
		return id
	}
	return LocalActor
}

// Helpers for the event types the daemon emits.

func RecordCallAudit(ctx context.Context, toolName, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "call",
		Action:   "call:" + toolName,
		Status:   status,
		Metadata: metadata,
	})
}

func RecordProcessAudit(ctx context.Context, action, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "process",
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}

func RecordSecretAudit(ctx context.Context, action, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "secret",
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}

func RecordExtensionAudit(ctx context.Context, action, status string, metadata map[string]interface{}) {
	GetAuditLogger().Record(ctx, AuditEvent{
		Type:     "extension",
		Action:   action,
		Status:   status,
		Metadata: metadata,
	})
}
