// Package dispatcher registers structured tools and executes tool calls
// through a fixed lifecycle.
//
// Invariants:
// - Tool names are unique; extension tools are prefixed on collision.
// - Arguments are schema-validated before any handler runs.
// - Every call ends in exactly one terminal state: completed, denied,
//   timed out, cancelled or faulted. Cancellation is never folded into
//   generic failure.
//
// Usage:
//
//	d := dispatcher.New(logger)
//	_ = d.RegisterTool(dispatcher.ToolDefinition{
//		Name:        "echo",
//		Description: "Echo input",
//		Parameters:  []dispatcher.ToolParameter{{Name: "text", Type: "string", Description: "text to echo", Required: true}},
//		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
//			return args["text"], nil
//		},
//	})
//	result := d.Execute(ctx, dispatcher.Request{Tool: "echo", Arguments: map[string]interface{}{"text": "hi"}})
package dispatcher
