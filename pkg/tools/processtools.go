package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/tyonishi/commanda-sub001/internal/observability"
	"github.com/tyonishi/commanda-sub001/pkg/dispatcher"
	"github.com/tyonishi/commanda-sub001/pkg/process"
)

func launchApplicationTool(opts Options) dispatcher.ToolDefinition {
	return dispatcher.ToolDefinition{
		Name:        "launch_application",
		Description: "Launch an application by path or name with optional arguments.",
		Parameters: []dispatcher.ToolParameter{
			{Name: "path", Type: "string", Description: "Executable path or name", Required: true},
			{Name: "arguments", Type: "string", Description: "Argument string", Required: false},
			{Name: "working_directory", Type: "string", Description: "Working directory", Required: false},
		},
		// The gate screens the raw candidate, then the resolved binary:
		// "format" and the regedit.exe it resolves to are both caught.
		Precheck: func(ctx context.Context, params map[string]interface{}) error {
			pathValue, _ := params["path"].(string)
			arguments, _ := params["arguments"].(string)

			if decision := opts.Policy.Evaluate(pathValue, arguments); !decision.Allowed {
				return errors.New(decision.Reason)
			}
			if resolved, ok := process.ResolvePath(pathValue); ok && resolved != pathValue {
				if decision := opts.Policy.Evaluate(resolved, arguments); !decision.Allowed {
					return errors.New(decision.Reason)
				}
			}
			return nil
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pathValue, _ := params["path"].(string)
			arguments, _ := params["arguments"].(string)
			workingDir, _ := params["working_directory"].(string)

			pid, err := opts.Processes.Launch(ctx, pathValue, arguments, workingDir)
			if err != nil {
				return nil, fmt.Errorf("failed to launch application: %w", err)
			}

			if opts.Metrics != nil {
				opts.Metrics.ProcessLaunchesTotal.Inc()
			}
			observability.RecordProcessAudit(ctx, "process_launched", "success", map[string]interface{}{
				"pid":  pid,
				"path": pathValue,
			})

			return map[string]interface{}{
				"pid":  pid,
				"path": pathValue,
			}, nil
		},
	}
}

func terminateProcessTool(opts Options) dispatcher.ToolDefinition {
	return dispatcher.ToolDefinition{
		Name:        "terminate_process",
		Description: "Terminate a process by id, gracefully first, then forcibly.",
		Parameters: []dispatcher.ToolParameter{
			{Name: "pid", Type: "integer", Description: "Process id", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			pid, err := pidArgument(params["pid"])
			if err != nil {
				return nil, err
			}

			if err := opts.Processes.Terminate(ctx, pid); err != nil {
				if errors.Is(err, process.ErrProtected) {
					opts.countTermination("denied")
					observability.RecordProcessAudit(ctx, "process_terminated", "denied", map[string]interface{}{
						"pid":   pid,
						"error": err.Error(),
					})
					return nil, fmt.Errorf("%w: %v", dispatcher.ErrDenied, err)
				}
				if errors.Is(err, process.ErrNotFound) {
					opts.countTermination("not_found")
				} else {
					opts.countTermination("failed")
				}
				return nil, fmt.Errorf("failed to terminate process %d: %w", pid, err)
			}

			opts.countTermination("terminated")
			observability.RecordProcessAudit(ctx, "process_terminated", "success", map[string]interface{}{
				"pid": pid,
			})

			return map[string]interface{}{
				"pid":        pid,
				"terminated": true,
			}, nil
		},
	}
}

func listProcessesTool(opts Options) dispatcher.ToolDefinition {
	return dispatcher.ToolDefinition{
		Name:        "list_processes",
		Description: "List running processes with name and memory usage.",
		Parameters:  []dispatcher.ToolParameter{},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			infos, err := opts.Processes.ListRunning(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to list processes: %w", err)
			}

			processes := make([]map[string]interface{}, 0, len(infos))
			for _, info := range infos {
				entry := map[string]interface{}{
					"pid":       info.PID,
					"name":      info.Name,
					"memory_mb": info.MemoryMB,
				}
				if info.WindowTitle != "" {
					entry["window_title"] = info.WindowTitle
				}
				processes = append(processes, entry)
			}

			return map[string]interface{}{
				"processes": processes,
				"count":     len(processes),
			}, nil
		},
	}
}

// pidArgument accepts the numeric shapes JSON decoding produces
func pidArgument(value interface{}) (int32, error) {
	switch v := value.(type) {
	case float64:
		return int32(v), nil
	case int:
		return int32(v), nil
	case int32:
		return v, nil
	case int64:
		return int32(v), nil
	default:
		return 0, fmt.Errorf("pid must be a number, got %T", value)
	}
}
