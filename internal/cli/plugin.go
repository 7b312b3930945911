package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/anuneko/internal/config"
	"github.com/harun/anuneko/pkg/plugin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var manifestOut string

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Run or inspect anuneko as a plugin",
	Long: `Anuneko can run as a go-plugin process exposing the chat, new_session and
switch_model tools. A host starts the binary with its handshake cookie set.`,
}

var pluginServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the plugin over go-plugin RPC",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !plugin.IsPluginProcess() {
			return fmt.Errorf("plugin serve must be started by a plugin host (%s is not set)", plugin.Handshake.MagicCookieKey)
		}
		servePlugin()
		return nil
	},
}

var pluginManifestCmd = &cobra.Command{
	Use:   "manifest",
	Short: "Print the plugin manifest",
	Long: `Print the plugin.json manifest. With --out the manifest is written into
that directory next to where the anuneko binary should be placed.`,
	Args: cobra.NoArgs,
	RunE: runPluginManifest,
}

var pluginCallCmd = &cobra.Command{
	Use:   "call <plugin-dir> <tool> [key=value...]",
	Short: "Load a plugin and execute one of its tools",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runPluginCall,
}

func init() {
	pluginManifestCmd.Flags().StringVar(&manifestOut, "out", "", "directory to write plugin.json into")
	pluginCmd.AddCommand(pluginServeCmd, pluginManifestCmd, pluginCallCmd)
	rootCmd.AddCommand(pluginCmd)
}

// servePlugin blocks serving the chat tools to the host process
func servePlugin() {
	plugin.Serve(plugin.NewNekoPlugin())
}

func runPluginManifest(cmd *cobra.Command, args []string) error {
	data, err := json.MarshalIndent(plugin.NekoManifest(version), "", "  ")
	if err != nil {
		return err
	}

	if manifestOut == "" {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}

	if err := os.MkdirAll(manifestOut, 0755); err != nil {
		return fmt.Errorf("failed to create plugin directory: %w", err)
	}
	path := filepath.Join(manifestOut, plugin.ManifestFile)
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Manifest written to %s\n", path)
	return nil
}

func runPluginCall(cmd *cobra.Command, args []string) error {
	dir, tool := args[0], args[1]
	params, err := parseParams(args[2:])
	if err != nil {
		return err
	}

	loader := plugin.NewLoader(log.Logger)
	activation := map[string]any{
		plugin.ConfigPathKey: config.NewLoader(cfgFile).GetConfigPath(),
	}
	loaded, err := loader.Load(cmd.Context(), dir, activation)
	if err != nil {
		return err
	}
	defer loader.Unload(cmd.Context(), loaded)

	result, err := loaded.Plugin.ExecuteTool(cmd.Context(), tool, params)
	if err != nil {
		return fmt.Errorf("tool %s failed: %w", tool, err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), result[plugin.ReplyKey])
	return nil
}

// parseParams turns key=value arguments into tool parameters
func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid parameter %q, expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}
