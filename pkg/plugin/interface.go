package plugin

import (
	"context"
)

// Plugin is the interface plugins implement
type Plugin interface {
	// Activate is called when the plugin is loaded
	Activate(ctx context.Context, config map[string]any) error

	// Deactivate is called when the plugin is unloaded. Calling it twice is
	// harmless.
	Deactivate(ctx context.Context) error

	// ExecuteTool runs one of the tools listed by Tools
	ExecuteTool(ctx context.Context, name string, params map[string]any) (map[string]any, error)

	// Tools lists the tools the plugin exposes
	Tools() []ToolDefinition
}
