// Package bridge assembles a running clawdeck instance from a Config: the
// agent transport, the panel control channel, the deck session and the
// optional journal and status API.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/highclaw/clawdeck/internal/config"
	"github.com/highclaw/clawdeck/internal/deck"
	"github.com/highclaw/clawdeck/internal/gateway"
	"github.com/highclaw/clawdeck/internal/gateway/invoke"
	"github.com/highclaw/clawdeck/internal/gateway/local"
	"github.com/highclaw/clawdeck/internal/gateway/rpc"
	httpapi "github.com/highclaw/clawdeck/internal/interfaces/http"
	"github.com/highclaw/clawdeck/internal/panel"
	"github.com/highclaw/clawdeck/internal/system/journal"
)

// Hooks receive transport events that happen outside a request.
type Hooks struct {
	OnStatus    func(gateway.Snapshot)
	OnReconnect func()
}

// SettingsFrom seeds the runtime settings from the agent config section.
func SettingsFrom(cfg config.AgentConfig) *gateway.SettingsStore {
	return gateway.NewSettingsStore(gateway.Settings{
		Endpoint:       cfg.URL,
		Token:          cfg.Token,
		ExecutablePath: cfg.ExecutablePath,
		WorkspaceDir:   cfg.Workspace,
	})
}

// NewTransport builds the agent transport selected by cfg.Mode. An RPC
// transport is returned unstarted.
func NewTransport(cfg config.AgentConfig, settings *gateway.SettingsStore, logger *slog.Logger, hooks Hooks) (gateway.Transport, error) {
	switch cfg.Mode {
	case config.ModeRPC:
		return rpc.New(rpc.Options{
			Settings:       settings,
			Channel:        cfg.Channel,
			HeartbeatFile:  cfg.HeartbeatFile,
			ReconnectDelay: cfg.ReconnectDelay(),
			Logger:         logger,
			OnStatus:       hooks.OnStatus,
			OnReconnect:    hooks.OnReconnect,
		}), nil
	case config.ModeHTTP, "":
		return invoke.New(invoke.Options{
			Settings:      settings,
			SessionKey:    cfg.SessionKey,
			Channel:       cfg.Channel,
			HeartbeatFile: cfg.HeartbeatFile,
			Timeout:       cfg.Timeout(),
			Logger:        logger,
		}), nil
	case config.ModeLocal:
		return local.New(local.Options{
			Settings:      settings,
			Channel:       cfg.Channel,
			HeartbeatFile: cfg.HeartbeatFile,
			Timeout:       cfg.Timeout(),
			Logger:        logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown agent mode %q", cfg.Mode)
	}
}

// Options configures a Bridge.
type Options struct {
	Config    *config.Config
	Version   string
	Logger    *slog.Logger
	LogBuffer *httpapi.LogBuffer
	Debug     bool
}

// Bridge is one bridge process.
type Bridge struct {
	opts    Options
	logger  *slog.Logger
	metrics *httpapi.Metrics

	mu      sync.Mutex
	session *deck.Session
}

// New validates the configuration and builds an idle bridge.
func New(opts Options) (*Bridge, error) {
	if opts.Config == nil {
		return nil, errors.New("bridge: config is required")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{
		opts:    opts,
		logger:  opts.Logger.With("component", "bridge"),
		metrics: httpapi.NewMetrics(),
	}, nil
}

// Metrics returns the bridge's collectors.
func (b *Bridge) Metrics() *httpapi.Metrics {
	return b.metrics
}

// Session returns the live session, or nil before the panel is connected.
func (b *Bridge) Session() *deck.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.session
}

// Run connects to the panel and the agent and serves until ctx is cancelled
// or the panel connection ends. A lost panel connection is returned as
// panel.ErrConnectionLost.
func (b *Bridge) Run(ctx context.Context) error {
	cfg := b.opts.Config
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var store *journal.Store
	if cfg.Journal.Enabled {
		s, err := journal.Open(journal.FromConfig(cfg.Journal))
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer s.Close()
		if n, err := s.Cleanup(ctx, cfg.Journal.MaxAgeDays, cfg.Journal.MaxRecords); err != nil {
			b.logger.Warn("journal cleanup failed", "error", err)
		} else if n > 0 {
			b.logger.Info("journal cleanup", "removed", n)
		}
		store = s
		b.logger.Info("journal enabled", "path", s.Path(), "run_id", s.RunID())
	}

	settings := SettingsFrom(cfg.Agent)
	transport, err := NewTransport(cfg.Agent, settings, b.opts.Logger, Hooks{
		OnStatus: func(snap gateway.Snapshot) {
			if s := b.Session(); s != nil {
				s.ApplySnapshot(snap)
			}
		},
		OnReconnect: b.metrics.Reconnected,
	})
	if err != nil {
		return err
	}
	defer transport.Close()

	client, err := panel.Dial(ctx, panel.OptionsFromConfig(cfg.Panel), b.opts.Logger)
	if err != nil {
		return err
	}
	defer client.Close()

	sessOpts := deck.Options{
		Publisher:    client,
		Transport:    transport,
		Settings:     settings,
		Metrics:      b.metrics,
		Logger:       b.opts.Logger,
		PollInterval: cfg.Poll.Interval(),
		SettleDelay:  cfg.Poll.Settle(),
		CallTimeout:  cfg.Agent.Timeout(),
	}
	if store != nil {
		sessOpts.Journal = store
	}
	session, err := deck.NewSession(sessOpts)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.session = session
	b.mu.Unlock()
	defer session.Close()

	if rc, ok := transport.(*rpc.Client); ok {
		rc.Start(ctx)
	}

	var apiWG sync.WaitGroup
	apiErr := make(chan error, 1)
	if cfg.Status.Enabled {
		srv := httpapi.NewServer(httpapi.Options{
			Addr:      cfg.Status.ListenAddr(),
			Version:   b.opts.Version,
			Deck:      session,
			Metrics:   b.metrics,
			LogBuffer: b.opts.LogBuffer,
			Logger:    b.opts.Logger,
			Debug:     b.opts.Debug,

			TriggerLimit: cfg.Status.TriggerLimit,
		})
		apiWG.Add(1)
		go func() {
			defer apiWG.Done()
			if err := srv.Start(ctx); err != nil {
				apiErr <- err
				cancel()
			}
		}()
	}

	b.logger.Info("bridge running",
		"panel", cfg.Panel.Addr(),
		"transport", transport.Name(),
		"plugin_id", client.PluginID(),
	)
	runErr := client.Run(ctx, session)
	cancel()
	apiWG.Wait()

	select {
	case err := <-apiErr:
		return err
	default:
	}
	return runErr
}
