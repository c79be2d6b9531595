package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/tyonishi/commanda-sub001/pkg/dispatcher"
)

// registerBuiltinMethods registers all built-in RPC methods
func (s *Server) registerBuiltinMethods() {
	_ = s.RegisterMethod("status", s.handleStatus)
	_ = s.RegisterMethod("tools.list", s.handleToolsList)
	_ = s.RegisterMethod("tools.execute", s.handleToolsExecute)

	if s.processes != nil {
		_ = s.RegisterMethod("process.list", s.handleProcessList)
	}
	if s.extensions != nil {
		_ = s.RegisterMethod("extensions.list", s.handleExtensionsList)
		_ = s.RegisterMethod("extensions.reload", s.handleExtensionsReload)
		_ = s.RegisterMethod("extensions.enable", s.handleExtensionsEnable)
		_ = s.RegisterMethod("extensions.disable", s.handleExtensionsDisable)
	}
	if s.secrets != nil {
		_ = s.RegisterMethod("secrets.keys", s.handleSecretsKeys)
	}
	if s.history != nil {
		_ = s.RegisterMethod("calls.recent", s.handleCallsRecent)
	}
}

// handleToolsExecute handles the tools.execute RPC method. The request
// context carries the caller's cancellation, so a dropped connection
// cancels the call it started.
func (s *Server) handleToolsExecute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	tool, ok := params["tool"].(string)
	if !ok || tool == "" {
		return nil, fmt.Errorf("tool parameter is required and must be a string")
	}

	arguments := map[string]interface{}{}
	if args, ok := params["arguments"].(map[string]interface{}); ok {
		arguments = args
	}

	req := dispatcher.Request{
		Tool:      tool,
		Arguments: arguments,
	}
	if timeoutMS, ok := params["timeout_ms"].(float64); ok && timeoutMS > 0 {
		req.Timeout = time.Duration(timeoutMS) * time.Millisecond
	}

	result := s.dispatcher.Execute(ctx, req)

	// Denials surface as a distinguished RPC error so planners can tell
	// policy refusal apart from execution failure. The envelope rides
	// along in Data.
	if result.State == dispatcher.StateDenied {
		return nil, &RPCError{
			Code:    CallDenied,
			Message: result.Error,
			Data:    result,
		}
	}

	return result, nil
}

// handleToolsList handles the tools.list RPC method
func (s *Server) handleToolsList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	defs := s.dispatcher.Definitions()
	return map[string]interface{}{
		"tools": defs,
		"count": len(defs),
	}, nil
}

// handleProcessList handles the process.list RPC method
func (s *Server) handleProcessList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	infos, err := s.processes.ListRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	return map[string]interface{}{
		"processes": infos,
		"tracked":   s.processes.TrackedCount(),
	}, nil
}

// handleExtensionsList handles the extensions.list RPC method
func (s *Server) handleExtensionsList(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	descriptors := s.extensions.GetLoaded()
	return map[string]interface{}{
		"extensions": descriptors,
		"count":      len(descriptors),
	}, nil
}

// handleExtensionsReload handles the extensions.reload RPC method
func (s *Server) handleExtensionsReload(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	result, err := s.extensions.Reload(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reload extensions: %w", err)
	}

	errMessages := make(map[string]string, len(result.Errors))
	for name, loadErr := range result.Errors {
		errMessages[name] = loadErr.Error()
	}

	return map[string]interface{}{
		"loaded": result.Loaded,
		"failed": result.Failed,
		"errors": errMessages,
	}, nil
}

// handleExtensionsEnable handles the extensions.enable RPC method
func (s *Server) handleExtensionsEnable(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return s.setExtensionEnabled(ctx, params, true)
}

// handleExtensionsDisable handles the extensions.disable RPC method
func (s *Server) handleExtensionsDisable(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return s.setExtensionEnabled(ctx, params, false)
}

func (s *Server) setExtensionEnabled(ctx context.Context, params map[string]interface{}, enabled bool) (interface{}, error) {
	name, ok := params["name"].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("name parameter is required and must be a string")
	}

	if !s.extensions.SetEnabled(ctx, name, enabled) {
		return nil, fmt.Errorf("unknown extension: %s", name)
	}

	return map[string]interface{}{
		"name":    name,
		"enabled": enabled,
	}, nil
}

// handleSecretsKeys handles the secrets.keys RPC method. Only key names
// cross the wire; values never leave the store through the gateway.
func (s *Server) handleSecretsKeys(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	keys := s.secrets.ListKeys()
	return map[string]interface{}{
		"keys":  keys,
		"count": len(keys),
	}, nil
}

// handleCallsRecent handles the calls.recent RPC method
func (s *Server) handleCallsRecent(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	limit := 0
	if l, ok := params["limit"].(float64); ok {
		limit = int(l)
	}

	records, err := s.history.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load call history: %w", err)
	}

	return map[string]interface{}{
		"calls": records,
		"count": len(records),
	}, nil
}

// handleStatus handles the status RPC method
func (s *Server) handleStatus(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	status := map[string]interface{}{
		"clients": s.clients.Count(),
		"tools":   s.dispatcher.ToolCount(),
		"methods": s.router.MethodNames(),
	}
	if s.extensions != nil {
		status["extensions"] = s.extensions.Count()
	}
	if s.processes != nil {
		status["tracked_processes"] = s.processes.TrackedCount()
	}
	if s.status != nil {
		for k, v := range s.status() {
			status[k] = v
		}
	}

	return status, nil
}
