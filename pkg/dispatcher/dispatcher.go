package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tyonishi/commanda-sub001/internal/tracing"
)

// DefaultTimeout applies to calls that do not carry their own
const DefaultTimeout = 30 * time.Second

// ErrToolExists is returned when a tool name is already taken
var ErrToolExists = errors.New("tool already registered")

// ErrDenied marks a handler error as a security denial. Handlers wrap it
// so the call lands in the Denied state instead of Faulted.
var ErrDenied = errors.New("denied")

// ToolHandler is the function signature for tool execution
type ToolHandler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// PrecheckFunc runs after argument validation and before execution. A
// non-nil error denies the call and the error text becomes the reason.
type PrecheckFunc func(ctx context.Context, args map[string]interface{}) error

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata, gate and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
	Precheck    PrecheckFunc    `json:"-"`
	ExtensionID string          `json:"extension_id,omitempty"`
}

// Request is one structured tool call
type Request struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
	Timeout   time.Duration          `json:"-"`
}

// Result is the envelope every call returns. Success implies Output is
// meaningful and Error empty; failure implies the reverse. State carries
// the terminal lifecycle position, so a cancelled call is distinguishable
// from a timed out or faulted one.
type Result struct {
	CallID   string                 `json:"call_id"`
	Tool     string                 `json:"tool"`
	State    State                  `json:"state"`
	Success  bool                   `json:"success"`
	Output   interface{}            `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Dispatcher manages the tool registry and executes calls
type Dispatcher struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex

	logger         zerolog.Logger
	defaultTimeout time.Duration
	observer       Observer
}

// New creates an empty dispatcher
func New(logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		tools:          make(map[string]*ToolDefinition),
		schemas:        make(map[string]*gojsonschema.Schema),
		logger:         logger.With().Str("component", "dispatcher").Logger(),
		defaultTimeout: DefaultTimeout,
	}

	d.logger.Info().Msg("Tool dispatcher initialized")

	return d
}

// SetDefaultTimeout overrides the timeout applied to calls without one
func (d *Dispatcher) SetDefaultTimeout(timeout time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if timeout > 0 {
		d.defaultTimeout = timeout
	}
}

// SetObserver wires lifecycle notifications to auditing and metrics
func (d *Dispatcher) SetObserver(obs Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = obs
}

// RegisterTool registers a built-in tool. Registering a name twice is an
// error; built-ins never silently shadow each other.
func (d *Dispatcher) RegisterTool(def ToolDefinition) error {
	if err := validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schema, err := generateJSONSchema(def)
	if err != nil {
		return fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.tools[def.Name]; exists {
		return fmt.Errorf("%w: %s", ErrToolExists, def.Name)
	}

	d.tools[def.Name] = &def
	d.schemas[def.Name] = schema

	d.logger.Info().Str("tool", def.Name).Msg("Tool registered")

	return nil
}

// RegisterExtensionTool registers a tool contributed by an extension. On a
// name collision the tool is re-registered under "<extension>_<name>" and
// a warning is logged. The final name is returned so the caller can track
// what to unregister later.
func (d *Dispatcher) RegisterExtensionTool(extensionID string, def ToolDefinition) (string, error) {
	if extensionID == "" {
		return "", fmt.Errorf("extension id cannot be empty")
	}
	def.ExtensionID = extensionID

	if err := validateToolDefinition(def); err != nil {
		return "", fmt.Errorf("invalid extension tool definition: %w", err)
	}

	schema, err := generateJSONSchema(def)
	if err != nil {
		return "", fmt.Errorf("failed to generate schema for %s: %w", def.Name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	name := def.Name
	if _, exists := d.tools[name]; exists {
		name = extensionID + "_" + def.Name
		d.logger.Warn().
			Str("original_name", def.Name).
			Str("prefixed_name", name).
			Str("extension", extensionID).
			Msg("Tool name conflict resolved by prefixing with extension name")
	}
	if _, exists := d.tools[name]; exists {
		return "", fmt.Errorf("%w: %s", ErrToolExists, name)
	}

	def.Name = name
	d.tools[name] = &def
	d.schemas[name] = schema

	d.logger.Info().
		Str("tool", name).
		Str("extension", extensionID).
		Msg("Extension tool registered")

	return name, nil
}

// UnregisterTool removes a tool by name
func (d *Dispatcher) UnregisterTool(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.tools, name)
	delete(d.schemas, name)

	d.logger.Info().Str("tool", name).Msg("Tool unregistered")
}

// UnregisterExtension removes every tool owned by the given extension and
// returns the removed names.
func (d *Dispatcher) UnregisterExtension(extensionID string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var removed []string
	for name, def := range d.tools {
		if def.ExtensionID == extensionID {
			delete(d.tools, name)
			delete(d.schemas, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)

	if len(removed) > 0 {
		d.logger.Info().
			Str("extension", extensionID).
			Strs("tools", removed).
			Msg("Extension tools unregistered")
	}

	return removed
}

// GetTool returns a tool definition by name, or nil
func (d *Dispatcher) GetTool(name string) *ToolDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tools[name]
}

// ListTools returns all registered tool names sorted
func (d *Dispatcher) ListTools() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.tools))
	for name := range d.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Definitions returns a snapshot of all registered tools sorted by name
func (d *Dispatcher) Definitions() []ToolDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()

	defs := make([]ToolDefinition, 0, len(d.tools))
	for _, def := range d.tools {
		defs = append(defs, *def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })

	return defs
}

// ToolCount returns the number of registered tools
func (d *Dispatcher) ToolCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.tools)
}

// Execute runs one tool call to a terminal state. The request context
// carries cancellation from the caller; the configured or requested
// timeout bounds the handler on top of it.
func (d *Dispatcher) Execute(ctx context.Context, req Request) (result Result) {
	start := time.Now()
	callID := uuid.NewString()

	ctx, span := tracing.StartSpan(
		ctx,
		"commanda.dispatcher",
		"dispatcher.execute",
		attribute.String("tool", req.Tool),
	)
	defer func() {
		if !result.Success {
			tracing.MarkSpanFailed(span, result.Error)
		}
		span.End()
	}()

	logger := tracing.LoggerFromContext(ctx, d.logger).With().Str("call_id", callID).Str("tool", req.Tool).Logger()
	ctx = tracing.WithCallID(ctx, callID)
	d.notify(callID, req.Tool, StateReceived)
	logger.Debug().Msg("Call received")

	d.mu.RLock()
	tool := d.tools[req.Tool]
	schema := d.schemas[req.Tool]
	timeout := d.defaultTimeout
	d.mu.RUnlock()

	if tool == nil {
		logger.Warn().Msg("Tool not found")
		return d.finish(ctx, Result{
			CallID: callID,
			Tool:   req.Tool,
			State:  StateDenied,
			Error:  fmt.Sprintf("tool not found: %s", req.Tool),
		}, start)
	}

	d.notify(callID, req.Tool, StateValidating)

	if err := validateArguments(schema, req.Arguments); err != nil {
		logger.Warn().Err(err).Msg("Argument validation failed")
		return d.finish(ctx, Result{
			CallID: callID,
			Tool:   req.Tool,
			State:  StateDenied,
			Error:  fmt.Sprintf("invalid arguments for %s: %v", req.Tool, err),
		}, start)
	}

	if tool.Precheck != nil {
		if err := tool.Precheck(ctx, req.Arguments); err != nil {
			logger.Warn().Str("reason", err.Error()).Msg("Call denied")
			return d.finish(ctx, Result{
				CallID: callID,
				Tool:   req.Tool,
				State:  StateDenied,
				Error:  err.Error(),
			}, start)
		}
	}

	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d.notify(callID, req.Tool, StateExecuting)
	logger.Debug().Dur("timeout", timeout).Msg("Executing tool")

	outputChan := make(chan interface{}, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errChan <- fmt.Errorf("tool panicked: %v", r)
			}
		}()
		output, err := tool.Handler(timeoutCtx, req.Arguments)
		if err != nil {
			errChan <- err
		} else {
			outputChan <- output
		}
	}()

	select {
	case output := <-outputChan:
		logger.Debug().Dur("duration", time.Since(start)).Msg("Call completed")
		return d.finish(ctx, Result{
			CallID:  callID,
			Tool:    req.Tool,
			State:   StateCompleted,
			Success: true,
			Output:  output,
		}, start)

	case err := <-errChan:
		result := d.resultFromHandlerError(callID, req.Tool, err)
		logger.Warn().Dur("duration", time.Since(start)).Str("state", string(result.State)).Err(err).Msg("Call failed")
		return d.finish(ctx, result, start)

	case <-timeoutCtx.Done():
		if errors.Is(timeoutCtx.Err(), context.Canceled) {
			logger.Warn().Dur("duration", time.Since(start)).Msg("Call cancelled")
			return d.finish(ctx, Result{
				CallID: callID,
				Tool:   req.Tool,
				State:  StateCancelled,
				Error:  "call cancelled by caller",
			}, start)
		}
		logger.Warn().Dur("duration", time.Since(start)).Msg("Call timed out")
		return d.finish(ctx, Result{
			CallID: callID,
			Tool:   req.Tool,
			State:  StateTimedOut,
			Error:  fmt.Sprintf("tool execution timed out after %v", timeout),
		}, start)
	}
}

// resultFromHandlerError classifies a handler error into a terminal state.
// Context errors keep their identity even when wrapped by the handler.
func (d *Dispatcher) resultFromHandlerError(callID, tool string, err error) Result {
	state := StateFaulted
	switch {
	case errors.Is(err, context.Canceled):
		state = StateCancelled
	case errors.Is(err, context.DeadlineExceeded):
		state = StateTimedOut
	case errors.Is(err, ErrDenied):
		state = StateDenied
	}
	return Result{
		CallID: callID,
		Tool:   tool,
		State:  state,
		Error:  err.Error(),
	}
}

// finish normalizes the envelope, stamps duration and notifies observers
func (d *Dispatcher) finish(ctx context.Context, result Result, start time.Time) Result {
	if result.Success {
		result.Error = ""
	} else {
		result.Output = nil
	}
	if result.Metadata == nil {
		result.Metadata = make(map[string]interface{})
	}
	result.Metadata["duration_ms"] = time.Since(start).Milliseconds()

	d.notify(result.CallID, result.Tool, result.State)

	d.mu.RLock()
	obs := d.observer
	d.mu.RUnlock()
	if obs != nil {
		obs.CallFinished(ctx, result)
	}

	return result
}

func (d *Dispatcher) notify(callID, tool string, state State) {
	d.mu.RLock()
	obs := d.observer
	d.mu.RUnlock()
	if obs != nil {
		obs.CallTransition(callID, tool, state)
	}
}

func validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// generateJSONSchema builds the argument schema from declared parameters
func generateJSONSchema(def ToolDefinition) (*gojsonschema.Schema, error) {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type": param.Type,
		}
		if param.Description != "" {
			paramSchema["description"] = param.Description
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
}

// validateArguments checks an argument map against the tool schema. The
// returned error names every violated constraint, including which required
// parameter is missing.
func validateArguments(schema *gojsonschema.Schema, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			details = append(details, verr.String())
		}
		return errors.New(strings.Join(details, "; "))
	}

	return nil
}
