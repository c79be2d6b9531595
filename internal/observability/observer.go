package observability

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tyonishi/commanda-sub001/internal/metrics"
	"github.com/tyonishi/commanda-sub001/pkg/dispatcher"
	"github.com/tyonishi/commanda-sub001/pkg/history"
)

// BroadcastFunc pushes a call lifecycle event to connected gateway clients.
type BroadcastFunc func(event string, payload map[string]interface{})

// toolResolver maps a tool name back to its definition so finished calls
// can be attributed to the extension that contributed the tool.
type toolResolver interface {
	GetTool(name string) *dispatcher.ToolDefinition
}

// CallObserver bridges dispatcher lifecycle notifications into metrics,
// the audit trail and the durable call history. It is the single Observer
// the daemon wires; fan-out to websocket clients goes through the optional
// broadcast hook.
type CallObserver struct {
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	history  *history.Store
	resolver toolResolver

	mu        sync.RWMutex
	broadcast BroadcastFunc
}

// NewCallObserver creates an observer. history and resolver may be nil;
// the corresponding sinks are skipped.
func NewCallObserver(logger zerolog.Logger, m *metrics.Metrics, h *history.Store, resolver toolResolver) *CallObserver {
	return &CallObserver{
		logger:   logger.With().Str("component", "call_observer").Logger(),
		metrics:  m,
		history:  h,
		resolver: resolver,
	}
}

// SetBroadcast wires the gateway event stream. Safe to call after calls
// are already flowing.
func (o *CallObserver) SetBroadcast(fn BroadcastFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.broadcast = fn
}

// CallTransition logs intermediate states and streams them to clients.
func (o *CallObserver) CallTransition(callID, tool string, state dispatcher.State) {
	o.logger.Debug().
		Str("call_id", callID).
		Str("tool", tool).
		Str("state", string(state)).
		Msg("Call state transition")

	o.emit("call.transition", map[string]interface{}{
		"call_id": callID,
		"tool":    tool,
		"state":   string(state),
	})
}

// CallFinished records the terminal result in every sink. The call
// context attributes the audit record to the originating client.
func (o *CallObserver) CallFinished(ctx context.Context, result dispatcher.Result) {
	durationMS := durationFrom(result)

	if o.metrics != nil {
		o.metrics.ToolCallsTotal.WithLabelValues(result.Tool, string(result.State)).Inc()
		o.metrics.ToolCallDuration.WithLabelValues(result.Tool).Observe(float64(durationMS) / 1000.0)
		if result.State == dispatcher.StateDenied {
			o.metrics.ToolDenialsTotal.WithLabelValues(result.Tool).Inc()
		}
	}

	status := "failure"
	if result.Success {
		status = "success"
	} else if result.State == dispatcher.StateDenied {
		status = "denied"
	}
	RecordCallAudit(ctx, result.Tool, status, map[string]interface{}{
		"call_id":     result.CallID,
		"state":       string(result.State),
		"duration_ms": durationMS,
		"error":       result.Error,
	})

	if o.history != nil {
		// History writes outlive the call context; a cancelled caller
		// still leaves a record.
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		rec := history.Record{
			CallID:     result.CallID,
			Tool:       result.Tool,
			Extension:  o.extensionOf(result.Tool),
			State:      string(result.State),
			Success:    result.Success,
			Error:      result.Error,
			DurationMS: durationMS,
		}
		if err := o.history.Record(writeCtx, rec); err != nil {
			o.logger.Warn().Err(err).Str("call_id", result.CallID).Msg("Failed to record call history")
		}
	}

	o.emit("call.finished", map[string]interface{}{
		"call_id":     result.CallID,
		"tool":        result.Tool,
		"state":       string(result.State),
		"success":     result.Success,
		"duration_ms": durationMS,
	})
}

func (o *CallObserver) emit(event string, payload map[string]interface{}) {
	o.mu.RLock()
	fn := o.broadcast
	o.mu.RUnlock()
	if fn != nil {
		fn(event, payload)
	}
}

func (o *CallObserver) extensionOf(tool string) string {
	if o.resolver == nil {
		return ""
	}
	if def := o.resolver.GetTool(tool); def != nil {
		return def.ExtensionID
	}
	return ""
}

func durationFrom(result dispatcher.Result) int64 {
	if result.Metadata == nil {
		return 0
	}
	if v, ok := result.Metadata["duration_ms"].(int64); ok {
		return v
	}
	if v, ok := result.Metadata["duration_ms"].(float64); ok {
		return int64(v)
	}
	return 0
}
