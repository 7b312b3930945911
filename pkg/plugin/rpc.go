package plugin

import (
	"context"
	"encoding/gob"
	"errors"
	"net/rpc"
	"os"

	"github.com/hashicorp/go-plugin"
)

// PluginName is the key the plugin is dispensed under
const PluginName = "anuneko"

// Handshake is used to verify that the plugin and host are compatible
var Handshake = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "ANUNEKO_PLUGIN",
	MagicCookieValue: "anuneko-plugin-v1",
}

// PluginMap is the map of plugins the host can dispense
var PluginMap = map[string]plugin.Plugin{
	PluginName: &RPCPlugin{},
}

func init() {
	// tool schemas nest maps and lists inside map[string]any
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// IsPluginProcess reports whether the current process was started by a
// plugin host
func IsPluginProcess() bool {
	return os.Getenv(Handshake.MagicCookieKey) == Handshake.MagicCookieValue
}

// Serve runs impl as a plugin process. It blocks until the host disconnects.
func Serve(impl Plugin) {
	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			PluginName: &RPCPlugin{Impl: impl},
		},
	})
}

// RPCPlugin is the implementation of plugin.Plugin for net/rpc
type RPCPlugin struct {
	Impl Plugin
}

func (p *RPCPlugin) Server(*plugin.MuxBroker) (interface{}, error) {
	return &RPCServer{Impl: p.Impl}, nil
}

func (p *RPCPlugin) Client(b *plugin.MuxBroker, c *rpc.Client) (interface{}, error) {
	return &RPCClient{client: c}, nil
}

// Errors cross the wire as strings; gob cannot encode error values.

// ActivateArgs are the arguments for the Activate call
type ActivateArgs struct {
	Config map[string]any
}

// ErrorResp carries an error message, empty on success
type ErrorResp struct {
	Error string
}

// ExecuteToolArgs are the arguments for the ExecuteTool call
type ExecuteToolArgs struct {
	Name   string
	Params map[string]any
}

// ExecuteToolResp is the response for the ExecuteTool call
type ExecuteToolResp struct {
	Result map[string]any
	Error  string
}

// ToolsResp is the response for the Tools call
type ToolsResp struct {
	Tools []ToolDefinition
}

// RPCServer is the RPC server that RPCClient talks to
type RPCServer struct {
	Impl Plugin
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (s *RPCServer) Activate(args *ActivateArgs, resp *ErrorResp) error {
	resp.Error = errString(s.Impl.Activate(context.Background(), args.Config))
	return nil
}

func (s *RPCServer) Deactivate(args interface{}, resp *ErrorResp) error {
	resp.Error = errString(s.Impl.Deactivate(context.Background()))
	return nil
}

func (s *RPCServer) ExecuteTool(args *ExecuteToolArgs, resp *ExecuteToolResp) error {
	result, err := s.Impl.ExecuteTool(context.Background(), args.Name, args.Params)
	resp.Result = result
	resp.Error = errString(err)
	return nil
}

func (s *RPCServer) Tools(args interface{}, resp *ToolsResp) error {
	resp.Tools = s.Impl.Tools()
	return nil
}

// RPCClient is the host side of a plugin process. It implements Plugin.
type RPCClient struct {
	client *rpc.Client
}

func remoteError(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}

func (c *RPCClient) Activate(ctx context.Context, config map[string]any) error {
	var resp ErrorResp
	if err := c.client.Call("Plugin.Activate", &ActivateArgs{Config: config}, &resp); err != nil {
		return err
	}
	return remoteError(resp.Error)
}

func (c *RPCClient) Deactivate(ctx context.Context) error {
	var resp ErrorResp
	if err := c.client.Call("Plugin.Deactivate", new(interface{}), &resp); err != nil {
		return err
	}
	return remoteError(resp.Error)
}

func (c *RPCClient) ExecuteTool(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	var resp ExecuteToolResp
	if err := c.client.Call("Plugin.ExecuteTool", &ExecuteToolArgs{Name: name, Params: params}, &resp); err != nil {
		return nil, err
	}
	if err := remoteError(resp.Error); err != nil {
		return nil, err
	}
	return resp.Result, nil
}

// Tools returns nil when the plugin process cannot be reached
func (c *RPCClient) Tools() []ToolDefinition {
	var resp ToolsResp
	if err := c.client.Call("Plugin.Tools", new(interface{}), &resp); err != nil {
		return nil
	}
	return resp.Tools
}
