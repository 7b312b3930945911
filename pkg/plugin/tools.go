package plugin

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrUnknownTool is returned for a tool name the plugin does not export
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidParams is returned when tool parameters fail schema validation
	ErrInvalidParams = errors.New("invalid tool parameters")
)

func stringProp(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
	}
}

var userIDProp = map[string]any{
	"type":        "string",
	"minLength":   1,
	"description": "Caller identity the session is keyed by",
}

// NekoTools returns the tool definitions of the anuneko plugin
func NekoTools() []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        ToolSwitchModel,
			Description: "Switch the caller's session to the model named by target (橘猫/orange or 黑猫/exotic)",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_id": userIDProp,
					"target":  stringProp("Model keyword"),
				},
				"required": []any{"user_id", "target"},
			},
		},
		{
			Name:        ToolNewSession,
			Description: "Start a fresh conversation on the caller's current model",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_id": userIDProp,
				},
				"required": []any{"user_id"},
			},
		},
		{
			Name:        ToolChat,
			Description: "Send a chat command message and return the reply; non-command messages get an empty reply",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"user_id": userIDProp,
					"text":    stringProp("Raw message text including the command prefix"),
				},
				"required": []any{"user_id", "text"},
			},
		},
	}
}

// toolSchemas holds compiled parameter schemas keyed by tool name
type toolSchemas map[string]*gojsonschema.Schema

func compileToolSchemas(defs []ToolDefinition) (toolSchemas, error) {
	schemas := make(toolSchemas, len(defs))
	for _, def := range defs {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.Parameters))
		if err != nil {
			return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", def.Name, err)
		}
		schemas[def.Name] = schema
	}
	return schemas, nil
}

func (s toolSchemas) validate(name string, params map[string]any) error {
	schema, ok := s[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if params == nil {
		params = map[string]any{}
	}
	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if !result.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidParams, joinResultErrors(result))
	}
	return nil
}
