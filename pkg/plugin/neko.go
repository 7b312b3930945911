package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/harun/anuneko/internal/config"
	"github.com/harun/anuneko/internal/observability"
	"github.com/harun/anuneko/pkg/orchestrator"
	"github.com/harun/anuneko/pkg/transport"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotActive is returned when a tool runs before Activate
	ErrNotActive = errors.New("plugin not active")
	// ErrAlreadyActive is returned by a second Activate without Deactivate
	ErrAlreadyActive = errors.New("plugin already active")
)

// ConfigPathKey names an activation config entry pointing at a config file.
// Without it the activation map itself is read as configuration.
const ConfigPathKey = "config_path"

// NekoPlugin exposes the chat actions as plugin tools
type NekoPlugin struct {
	mu         sync.Mutex
	logger     zerolog.Logger
	schemas    toolSchemas
	transports []transport.Option
	orch       *orchestrator.Orchestrator
	live       *config.Live
	watcher    *config.Watcher
}

// NekoOption configures a NekoPlugin
type NekoOption func(*NekoPlugin)

// WithTransportOptions passes options to the backend client built on Activate
func WithTransportOptions(opts ...transport.Option) NekoOption {
	return func(p *NekoPlugin) {
		p.transports = append(p.transports, opts...)
	}
}

// WithPluginLogger sets the plugin logger
func WithPluginLogger(logger zerolog.Logger) NekoOption {
	return func(p *NekoPlugin) {
		p.logger = logger
	}
}

// NewNekoPlugin creates an inactive plugin
func NewNekoPlugin(opts ...NekoOption) *NekoPlugin {
	p := &NekoPlugin{
		logger: log.Logger.With().Str("component", "neko-plugin").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}

	schemas, err := compileToolSchemas(NekoTools())
	if err != nil {
		// the schemas are literals in this package
		panic(err)
	}
	p.schemas = schemas
	return p
}

// Activate builds the backend client and the orchestrator from config.
// A config file named by ConfigPathKey is watched and reapplied through
// Reconfigure while the plugin is active.
func (p *NekoPlugin) Activate(ctx context.Context, values map[string]any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.orch != nil {
		return ErrAlreadyActive
	}

	path, _ := values[ConfigPathKey].(string)
	cfg, err := activationConfig(path, values)
	if err != nil {
		return fmt.Errorf("failed to load plugin config: %w", err)
	}

	p.live = config.NewLive(cfg)
	client := transport.New(p.live, append([]transport.Option{transport.WithLogger(p.logger)}, p.transports...)...)
	p.orch = orchestrator.New(client, p.live, orchestrator.WithLogger(p.logger))

	if path != "" {
		p.watcher = p.watch(path)
	}

	observability.RecordConfigAudit(ctx, "plugin_activated", "plugin", map[string]interface{}{
		"command_prefix": cfg.Chat.CommandPrefix,
	})
	p.logger.Info().Str("command_prefix", cfg.Chat.CommandPrefix).Msg("Plugin activated")
	return nil
}

// watch reapplies the config file on change. Hot reload is best effort,
// a watcher that cannot start only costs a restart.
func (p *NekoPlugin) watch(path string) *config.Watcher {
	w, err := config.NewWatcher(config.WatcherConfig{
		Loader: config.NewLoader(path),
		OnReload: func(cfg *config.Config) {
			if err := p.Reconfigure(cfg); err != nil {
				p.logger.Warn().Err(err).Msg("Reloaded config not applied")
				return
			}
			observability.RecordConfigAudit(context.Background(), "plugin_reconfigured", "watcher", map[string]interface{}{
				"path": path,
			})
		},
	})
	if err == nil {
		if err = w.Start(); err != nil {
			_ = w.Stop()
		}
	}
	if err != nil {
		p.logger.Warn().Err(err).Msg("Config hot reload disabled")
		return nil
	}
	return w
}

func activationConfig(path string, values map[string]any) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.FromMap(values)
}

// Deactivate clears every session and stops background work
func (p *NekoPlugin) Deactivate(ctx context.Context) error {
	p.mu.Lock()
	orch, watcher := p.orch, p.watcher
	p.orch, p.watcher = nil, nil
	p.mu.Unlock()

	if watcher != nil {
		_ = watcher.Stop()
	}
	if orch == nil {
		return nil
	}

	err := orch.Close()
	observability.RecordConfigAudit(ctx, "plugin_deactivated", "plugin", nil)
	p.logger.Info().Msg("Plugin deactivated")
	return err
}

// Tools lists the exported tools
func (p *NekoPlugin) Tools() []ToolDefinition {
	return NekoTools()
}

// ExecuteTool validates params against the tool schema and runs the action
func (p *NekoPlugin) ExecuteTool(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	if err := p.schemas.validate(name, params); err != nil {
		return nil, err
	}

	p.mu.Lock()
	orch := p.orch
	p.mu.Unlock()
	if orch == nil {
		return nil, ErrNotActive
	}

	userID, _ := params["user_id"].(string)

	var reply string
	switch name {
	case ToolSwitchModel:
		target, _ := params["target"].(string)
		reply = orch.SwitchModel(ctx, userID, target)
	case ToolNewSession:
		reply = orch.NewSession(ctx, userID)
	case ToolChat:
		text, _ := params["text"].(string)
		reply = orch.Chat(ctx, userID, text)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	return map[string]any{ReplyKey: reply}, nil
}

// Orchestrator returns the active orchestrator, or nil when inactive
func (p *NekoPlugin) Orchestrator() *orchestrator.Orchestrator {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.orch
}

// Reconfigure swaps the configuration of an active plugin in place.
// Sessions survive the swap.
func (p *NekoPlugin) Reconfigure(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.orch == nil {
		return ErrNotActive
	}
	p.live.Swap(cfg)
	return nil
}
