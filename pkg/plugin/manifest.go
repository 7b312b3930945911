package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// HostVersion is the plugin protocol version this host speaks
const HostVersion = "1.0.0"

// pluginIDRegex validates plugin ID format (lowercase alphanumeric with hyphens)
var pluginIDRegex = regexp.MustCompile(`^[a-z0-9-]+$`)

// ManifestLoader loads and validates plugin manifests
type ManifestLoader struct {
	logger       zerolog.Logger
	schemaLoader gojsonschema.JSONLoader
}

// NewManifestLoader creates a new manifest loader
func NewManifestLoader(logger zerolog.Logger) *ManifestLoader {
	return &ManifestLoader{
		logger:       logger.With().Str("component", "manifest-loader").Logger(),
		schemaLoader: gojsonschema.NewStringLoader(ManifestSchema),
	}
}

// LoadManifest loads and validates a plugin manifest from a file
func (m *ManifestLoader) LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	manifest, err := m.ParseManifest(data)
	if err != nil {
		return nil, err
	}

	m.logger.Debug().
		Str("id", manifest.ID).
		Str("version", manifest.Version).
		Msg("Loaded manifest")

	return manifest, nil
}

// ParseManifest parses and validates a manifest from JSON bytes
func (m *ManifestLoader) ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
	}

	if err := m.validateSchema(data); err != nil {
		return nil, fmt.Errorf("manifest schema validation failed: %w", err)
	}

	if err := ValidateManifest(&manifest); err != nil {
		return nil, fmt.Errorf("manifest validation failed: %w", err)
	}

	return &manifest, nil
}

func (m *ManifestLoader) validateSchema(data []byte) error {
	result, err := gojsonschema.Validate(m.schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("schema validation errors: %s", joinResultErrors(result))
	}
	return nil
}

// ValidateManifest performs the checks JSON Schema cannot express
func ValidateManifest(manifest *Manifest) error {
	if !pluginIDRegex.MatchString(manifest.ID) {
		return fmt.Errorf("invalid plugin ID format: %s (must be lowercase alphanumeric with hyphens)", manifest.ID)
	}

	if _, err := semver.StrictNewVersion(manifest.Version); err != nil {
		return fmt.Errorf("invalid version %q: %w", manifest.Version, err)
	}

	if manifest.Main == "" {
		return fmt.Errorf("main entry point cannot be empty")
	}

	if manifest.Host != "" {
		if _, err := semver.NewConstraint(manifest.Host); err != nil {
			return fmt.Errorf("invalid host constraint %q: %w", manifest.Host, err)
		}
	}

	return nil
}

// CheckHost reports whether the manifest accepts the given host version.
// A manifest without a host constraint accepts any host.
func CheckHost(manifest *Manifest, hostVersion string) error {
	if manifest.Host == "" {
		return nil
	}

	v, err := semver.NewVersion(hostVersion)
	if err != nil {
		return fmt.Errorf("invalid host version %s: %w", hostVersion, err)
	}
	c, err := semver.NewConstraint(manifest.Host)
	if err != nil {
		return fmt.Errorf("invalid host constraint %s: %w", manifest.Host, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("host version %s does not satisfy constraint %s", hostVersion, manifest.Host)
	}
	return nil
}

// NekoManifest describes the built-in anuneko plugin
func NekoManifest(version string) *Manifest {
	return &Manifest{
		ID:          "anuneko",
		Name:        "Anuneko Chat",
		Version:     version,
		Description: "Chat with the anuneko backend",
		Main:        "anuneko",
		Host:        "^1.0.0",
		Exports: &Exports{
			Tools: []string{ToolSwitchModel, ToolNewSession, ToolChat},
		},
	}
}

func joinResultErrors(result *gojsonschema.Result) string {
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}
