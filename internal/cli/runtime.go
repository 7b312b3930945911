package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/anuneko/internal/config"
	"github.com/harun/anuneko/internal/logger"
	"github.com/harun/anuneko/internal/observability"
	"github.com/harun/anuneko/internal/tracing"
	"github.com/harun/anuneko/pkg/orchestrator"
	"github.com/harun/anuneko/pkg/transport"
	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "anuneko"

// runtime bundles everything a command needs to talk to the backend
type runtime struct {
	live   *config.Live
	logger *logger.Logger
	orch   *orchestrator.Orchestrator
	spans  io.Closer
}

// bootstrap loads the config and wires logging, tracing, audit and the
// orchestrator. console controls whether logs are also written to stderr.
func bootstrap(cmd *cobra.Command, console bool) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	rotation := logger.Rotation{
		MaxSize:  cfg.Logging.MaxSize,
		MaxAge:   cfg.Logging.MaxAge,
		Compress: cfg.Logging.Compress,
	}
	logCfg := logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Pretty:    true,
		Redaction: cfg.Logging.Redaction,
		Rotation:  rotation,
		// patterns were checked by Validate
		RedactPatterns: cfg.Logging.RedactPatterns,
	}
	if console {
		logCfg.Console = os.Stderr
	}
	log, err := logger.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	rt := &runtime{logger: log}

	var traceOpts []sdktrace.TracerProviderOption
	if cfg.Logging.TraceFile != "" {
		opt, err := rt.spanExport(cfg.Logging.TraceFile, rotation)
		if err != nil {
			log.Warn().Err(err).Msg("Span export disabled")
		} else {
			traceOpts = append(traceOpts, opt)
		}
	}
	if err := tracing.InitOpenTelemetry(serviceName, traceOpts...); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		log.Warn().Err(err).Msg("Audit log disabled")
	}

	rt.live = config.NewLive(cfg)
	backend := transport.New(rt.live, transport.WithLogger(log.Component("transport")))
	rt.orch = orchestrator.New(backend, rt.live, orchestrator.WithLogger(log.Component("orchestrator")))
	return rt, nil
}

// spanExport opens the rotated span file and returns the exporter option
func (r *runtime) spanExport(path string, rotation logger.Rotation) (sdktrace.TracerProviderOption, error) {
	f, err := logger.RotatingFile(path, rotation)
	if err != nil {
		return nil, err
	}
	opt, err := tracing.WithWriterExporter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.spans = f
	return opt, nil
}

// loadConfig reads the --config file and applies the --log-level flag
// when it was given explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if flag := cmd.Flag("log-level"); flag != nil && flag.Changed {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Close drains the orchestrator and flushes tracing, audit and log files
func (r *runtime) Close() {
	if err := r.orch.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("Orchestrator close failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Tracing shutdown failed")
	}

	if r.spans != nil {
		_ = r.spans.Close()
	}
	_ = observability.GetAuditLogger().Close()
	_ = r.logger.Close()
}
