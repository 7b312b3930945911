package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/harun/anuneko/internal/config"
	"github.com/harun/anuneko/internal/observability"
	"github.com/harun/anuneko/pkg/cron"
	"github.com/harun/anuneko/pkg/gateway"
	"github.com/spf13/cobra"
)

const reloadDebounce = 500 * time.Millisecond

var shutdownTimeout int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the JSON-RPC gateway",
	Long: `Run the gateway in the foreground. Chat actions are served over HTTP
JSON-RPC at /rpc and over WebSocket at /ws. The config file is watched and
changes to backend endpoints, credentials, chat settings and the cleanup
schedule apply without a restart.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&shutdownTimeout, "shutdown-timeout", 30, "seconds to wait for in-flight requests on shutdown")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg := rt.live.Current()
	pidFile := pidFilePath(cfg.DataDir)
	if isRunning(pidFile) {
		return fmt.Errorf("gateway is already running (PID file: %s)", pidFile)
	}

	server, err := gateway.NewServer(gateway.ConfigFrom(cfg.Gateway, rt.orch, rt.logger.Component("gateway")))
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	scheduler := cron.NewService(cron.WithLogger(rt.logger.Component("cron")))
	defer scheduler.Stop()
	cleanup := newCleanupJob(scheduler, server)
	if err := cleanup.apply(cfg.Gateway.CleanupSchedule); err != nil {
		return err
	}
	if err := registerJobMethods(server, scheduler); err != nil {
		return err
	}

	if err := server.Start(); err != nil {
		return err
	}

	if err := writePIDFile(pidFile); err != nil {
		rt.logger.Warn().Err(err).Msg("PID file not written")
	}
	defer os.Remove(pidFile)

	loader := config.NewLoader(cfgFile)
	watcher, err := config.NewWatcher(config.WatcherConfig{
		Loader:   loader,
		Live:     rt.live,
		Debounce: reloadDebounce,
		OnReload: func(next *config.Config) {
			observability.RecordConfigAudit(context.Background(), "config_reloaded", "watcher", map[string]interface{}{
				"path": loader.GetConfigPath(),
			})
			if err := cleanup.apply(next.Gateway.CleanupSchedule); err != nil {
				rt.logger.Error().Err(err).Msg("Cleanup schedule not updated")
			}
		},
	})
	if err == nil {
		defer watcher.Stop()
		err = watcher.Start()
	}
	if err != nil {
		rt.logger.Warn().Err(err).Msg("Config hot reload disabled")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Gateway listening on %s\n", server.Addr())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), "Gateway stopped")
	return nil
}
