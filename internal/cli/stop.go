package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	stopTimeout int
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running gateway",
	Long: `Stop the gateway started by "anuneko serve".
Sends SIGTERM and waits for it to shut down, then falls back to SIGKILL.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().IntVar(&stopTimeout, "timeout", 30, "timeout in seconds to wait for the gateway to stop")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	pidFile := pidFilePath(cfg.DataDir)
	if !isRunning(pidFile) {
		return fmt.Errorf("gateway is not running (PID file: %s)", pidFile)
	}

	if err := signalServer(pidFile, syscall.SIGTERM); err != nil {
		return err
	}

	deadline := time.Now().Add(time.Duration(stopTimeout) * time.Second)
	for time.Now().Before(deadline) {
		if !isRunning(pidFile) {
			fmt.Fprintln(out, "Gateway stopped successfully")
			os.Remove(pidFile)
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(out, "Timeout reached, sending SIGKILL...")
	if err := signalServer(pidFile, syscall.SIGKILL); err != nil {
		return err
	}

	os.Remove(pidFile)
	fmt.Fprintln(out, "Gateway killed")
	return nil
}
