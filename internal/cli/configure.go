package cli

import (
	"fmt"

	"github.com/harun/anuneko/internal/config"
	"github.com/spf13/cobra"
)

var configureOpts struct {
	token  string
	cookie string
	prefix string
	host   string
	port   int
	secret string
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write the configuration file",
	Long: `Write the configuration file, starting from the existing file or the
defaults. Only the flags that are given are changed.`,
	Args: cobra.NoArgs,
	RunE: runConfigure,
}

func init() {
	flags := configureCmd.Flags()
	flags.StringVar(&configureOpts.token, "token", "", "backend bearer token")
	flags.StringVar(&configureOpts.cookie, "cookie", "", "backend session cookie")
	flags.StringVar(&configureOpts.prefix, "prefix", "", "chat command prefix")
	flags.StringVar(&configureOpts.host, "host", "", "gateway listen host")
	flags.IntVar(&configureOpts.port, "port", 0, "gateway listen port")
	flags.StringVar(&configureOpts.secret, "secret", "", "gateway shared secret")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("token") {
		cfg.Backend.DefaultToken = configureOpts.token
	}
	if flags.Changed("cookie") {
		cfg.Backend.Cookie = configureOpts.cookie
	}
	if flags.Changed("prefix") {
		cfg.Chat.CommandPrefix = configureOpts.prefix
	}
	if flags.Changed("host") {
		cfg.Gateway.Host = configureOpts.host
	}
	if flags.Changed("port") {
		cfg.Gateway.Port = configureOpts.port
	}
	if flags.Changed("secret") {
		cfg.Gateway.SharedSecret = configureOpts.secret
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(cmd.OutOrStdout(), "Start the gateway with: anuneko serve")
	return nil
}
