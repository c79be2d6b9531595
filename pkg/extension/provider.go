package extension

import (
	"context"

	goplugin "github.com/hashicorp/go-plugin"
)

// Provider is the contract an extension binary serves over RPC. The host
// calls Describe once after the handshake to learn the provider's tools,
// then Invoke for each dispatched call.
type Provider interface {
	// Describe returns the tools the provider serves
	Describe(ctx context.Context) ([]ToolSpec, error)

	// Invoke executes one of the described tools
	Invoke(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error)
}

// ToolSpec describes one tool a provider serves
type ToolSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ParameterSpec `json:"parameters,omitempty"`
}

// ParameterSpec describes one declared tool parameter
type ParameterSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
}

// Serve is the entry point an extension binary calls from its main. It
// blocks serving the provider until the host kills the process.
func Serve(impl Provider) {
	goplugin.Serve(&goplugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]goplugin.Plugin{
			"provider": &ProviderPlugin{Impl: impl},
		},
	})
}
