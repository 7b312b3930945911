package plugin

// ManifestSchema is the JSON Schema for plugin manifest validation
const ManifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["id", "name", "version", "main"],
  "properties": {
    "id": {
      "type": "string",
      "pattern": "^[a-z0-9-]+$",
      "description": "Unique plugin identifier"
    },
    "name": {
      "type": "string",
      "minLength": 1
    },
    "version": {
      "type": "string",
      "minLength": 1,
      "description": "Semver version"
    },
    "description": { "type": "string" },
    "author": { "type": "string" },
    "main": {
      "type": "string",
      "minLength": 1,
      "description": "Entry point executable"
    },
    "host": {
      "type": "string",
      "description": "Semver constraint on the host protocol version"
    },
    "exports": {
      "type": "object",
      "properties": {
        "tools": {
          "type": "array",
          "items": { "type": "string" }
        }
      }
    }
  }
}`
