package cli

import (
	"github.com/harun/anuneko/pkg/plugin"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "anuneko",
	Short: "Anuneko - chat session adapter for the anuneko backend",
	Long: `Anuneko keeps one chat session per user on the anuneko streaming backend.
It switches between the Orange Cat and Black Cat models, folds streamed replies
into text and exposes the chat actions on the command line, over a JSON-RPC
gateway and as a plugin.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
// A process started by a plugin host serves the plugin instead.
func Execute() error {
	if plugin.IsPluginProcess() {
		servePlugin()
		return nil
	}
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.anuneko/anuneko.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
