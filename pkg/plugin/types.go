package plugin

// ToolDefinition describes a tool the plugin exposes to its host
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON Schema
}

// Manifest represents the plugin.json file structure
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	Main        string `json:"main"`
	// Host is a semver constraint on the host protocol version, e.g. "^1.0.0"
	Host    string   `json:"host,omitempty"`
	Exports *Exports `json:"exports,omitempty"`
}

// Exports declares what the plugin exports
type Exports struct {
	Tools []string `json:"tools,omitempty"`
}

// Tool names
const (
	ToolSwitchModel = "switch_model"
	ToolNewSession  = "new_session"
	ToolChat        = "chat"
)

// ReplyKey is the result key every tool answers under
const ReplyKey = "reply"
