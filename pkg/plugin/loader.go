package plugin

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/hashicorp/go-plugin"
	"github.com/rs/zerolog"
)

// ManifestFile is the manifest file name inside a plugin directory
const ManifestFile = "plugin.json"

// Loader starts plugin processes and connects to them
type Loader struct {
	logger         zerolog.Logger
	manifestLoader *ManifestLoader
}

// NewLoader creates a new plugin loader
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:         logger.With().Str("component", "plugin-loader").Logger(),
		manifestLoader: NewManifestLoader(logger),
	}
}

// Loaded is a running, activated plugin process
type Loaded struct {
	Manifest Manifest
	Plugin   Plugin
	client   *plugin.Client
}

// Load reads dir/plugin.json, starts its executable and activates it
func (l *Loader) Load(ctx context.Context, dir string, config map[string]any) (*Loaded, error) {
	manifest, err := l.manifestLoader.LoadManifest(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}

	if err := CheckHost(manifest, HostVersion); err != nil {
		return nil, fmt.Errorf("plugin %s is incompatible: %w", manifest.ID, err)
	}

	pluginPath := filepath.Join(dir, manifest.Main)
	if _, err := os.Stat(pluginPath); err != nil {
		return nil, fmt.Errorf("plugin executable not found: %s", pluginPath)
	}

	client := plugin.NewClient(&plugin.ClientConfig{
		HandshakeConfig:  Handshake,
		Plugins:          PluginMap,
		Cmd:              exec.Command(pluginPath),
		AllowedProtocols: []plugin.Protocol{plugin.ProtocolNetRPC},
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to connect to plugin: %w", err)
	}

	raw, err := rpcClient.Dispense(PluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense plugin: %w", err)
	}

	impl, ok := raw.(Plugin)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("unexpected plugin type %T", raw)
	}

	if err := impl.Activate(ctx, config); err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to activate plugin: %w", err)
	}

	l.logger.Info().
		Str("id", manifest.ID).
		Str("version", manifest.Version).
		Msg("Plugin loaded successfully")

	return &Loaded{Manifest: *manifest, Plugin: impl, client: client}, nil
}

// Unload deactivates the plugin and stops its process
func (l *Loader) Unload(ctx context.Context, loaded *Loaded) {
	if err := loaded.Plugin.Deactivate(ctx); err != nil {
		l.logger.Warn().Err(err).Str("plugin", loaded.Manifest.ID).Msg("Failed to deactivate plugin")
	}
	loaded.client.Kill()
	l.logger.Info().Str("id", loaded.Manifest.ID).Msg("Plugin unloaded")
}
