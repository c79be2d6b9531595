package extension

import (
	"context"
	"net/rpc"

	goplugin "github.com/hashicorp/go-plugin"
)

// Handshake verifies that an extension binary speaks this host's protocol
var Handshake = goplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "COMMANDA_EXTENSION",
	MagicCookieValue: "commanda-extension-protocol-v1",
}

// ProviderMap is the map of plugins the host can dispense
var ProviderMap = map[string]goplugin.Plugin{
	"provider": &ProviderPlugin{},
}

// ProviderPlugin is the go-plugin glue for the Provider interface
type ProviderPlugin struct {
	Impl Provider
}

func (p *ProviderPlugin) Server(*goplugin.MuxBroker) (interface{}, error) {
	return &ProviderRPCServer{Impl: p.Impl}, nil
}

func (p *ProviderPlugin) Client(b *goplugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &ProviderRPCClient{client: c}, nil
}

// ProviderRPCServer is the RPC server that ProviderRPCClient talks to
type ProviderRPCServer struct {
	Impl Provider
}

// DescribeResp is the response for Describe RPC call
type DescribeResp struct {
	Tools []ToolSpec
	Error *goplugin.BasicError
}

func (s *ProviderRPCServer) Describe(args interface{}, resp *DescribeResp) error {
	tools, err := s.Impl.Describe(context.Background())
	resp.Tools = tools
	resp.Error = goplugin.NewBasicError(err)
	return nil
}

// InvokeArgs are the arguments for Invoke RPC call
type InvokeArgs struct {
	Tool string
	Args map[string]interface{}
}

// InvokeResp is the response for Invoke RPC call
type InvokeResp struct {
	Output map[string]interface{}
	Error  *goplugin.BasicError
}

func (s *ProviderRPCServer) Invoke(args *InvokeArgs, resp *InvokeResp) error {
	output, err := s.Impl.Invoke(context.Background(), args.Tool, args.Args)
	resp.Output = output
	resp.Error = goplugin.NewBasicError(err)
	return nil
}

// ProviderRPCClient is the RPC client that talks to ProviderRPCServer
type ProviderRPCClient struct {
	client *rpc.Client
}

func (c *ProviderRPCClient) Describe(ctx context.Context) ([]ToolSpec, error) {
	var resp DescribeResp
	err := c.client.Call("Plugin.Describe", new(interface{}), &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Tools, nil
}

func (c *ProviderRPCClient) Invoke(ctx context.Context, tool string, args map[string]interface{}) (map[string]interface{}, error) {
	var resp InvokeResp
	err := c.client.Call("Plugin.Invoke", &InvokeArgs{Tool: tool, Args: args}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Output, nil
}
