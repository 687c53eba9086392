package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/highclaw/clawdeck/internal/application/bridge"
	"github.com/highclaw/clawdeck/internal/config"
	"github.com/highclaw/clawdeck/internal/infra"
	httpapi "github.com/highclaw/clawdeck/internal/interfaces/http"
	"github.com/highclaw/clawdeck/internal/panel"
	syslogger "github.com/highclaw/clawdeck/internal/system/logger"
	"github.com/spf13/cobra"
)

const logBufferSize = 1000

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the panel bridge",
	Long: `Connect to the panel host as a plugin and bridge button presses to the
OpenClaw agent.

The bridge pairs with the panel host on 127.0.0.1:$TP_PLUGIN_PORT (default
12136), reaches the agent over the configured transport (rpc, http or local)
and polls agent status every 30 seconds. It exits when the panel host sends
closePlugin, the connection drops, or on SIGINT/SIGTERM.`,
	RunE: runBridge,
}

var (
	runPort       int
	runMode       string
	runGatewayURL string
	runToken      string
	runStatus     bool
	runStatusPort int
	runJournal    bool
	runVerbose    bool
)

func init() {
	runCmd.Flags().IntVarP(&runPort, "port", "p", config.DefaultPanelPort, "Panel host plugin port")
	runCmd.Flags().StringVarP(&runMode, "mode", "m", config.ModeHTTP, "Agent transport: rpc, http or local")
	runCmd.Flags().StringVar(&runGatewayURL, "gateway-url", "", "Agent gateway base URL")
	runCmd.Flags().StringVar(&runToken, "token", "", "Agent gateway token")
	runCmd.Flags().BoolVar(&runStatus, "status", false, "Serve the local status API")
	runCmd.Flags().IntVar(&runStatusPort, "status-port", 12137, "Status API port")
	runCmd.Flags().BoolVar(&runJournal, "journal", false, "Record dispatched actions in the journal")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Enable verbose logging")
}

// applyRunFlags overrides config values with flags the user set explicitly.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("port") {
		cfg.Panel.Port = runPort
	}
	if cmd.Flags().Changed("mode") {
		cfg.Agent.Mode = runMode
	}
	if cmd.Flags().Changed("gateway-url") {
		cfg.Agent.URL = runGatewayURL
	}
	if cmd.Flags().Changed("token") {
		cfg.Agent.Token = runToken
	}
	if cmd.Flags().Changed("status") {
		cfg.Status.Enabled = runStatus
	}
	if cmd.Flags().Changed("status-port") {
		cfg.Status.Port = runStatusPort
	}
	if cmd.Flags().Changed("journal") {
		cfg.Journal.Enabled = runJournal
	}
	if runVerbose {
		cfg.Log.Level = "debug"
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	applyRunFlags(cmd, cfg)

	logCfg := syslogger.FromConfig(cfg.Log)
	mgr, err := syslogger.New(logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer mgr.Close()

	buffer := httpapi.NewLogBuffer(logBufferSize)
	logger := mgr.NewLogger(httpapi.NewLogBufferHandler(buffer, logCfg.Level))
	slog.SetDefault(logger)

	if removed, err := mgr.Cleanup(); err != nil {
		logger.Warn("log cleanup failed", "error", err)
	} else if removed > 0 {
		logger.Info("removed expired log files", "count", removed)
	}

	infra.PrintBanner(os.Stderr, version, cfg.Agent.Mode, cfg.Panel.Addr())

	b, err := bridge.New(bridge.Options{
		Config:    cfg,
		Version:   version,
		Logger:    logger,
		LogBuffer: buffer,
		Debug:     infra.IsTruthyEnv("CLAWDECK_DEBUG"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting clawdeck",
		"version", version,
		"panel", cfg.Panel.Addr(),
		"mode", cfg.Agent.Mode,
		"status_api", cfg.Status.Enabled,
		"journal", cfg.Journal.Enabled,
		"log_file", mgr.CurrentFile(),
	)

	err = b.Run(ctx)
	switch {
	case errors.Is(err, panel.ErrConnectionLost):
		logger.Error("panel host went away, shutting down", "error", err)
		return err
	case err != nil:
		logger.Error("bridge stopped", "error", err)
		return err
	}
	logger.Info("clawdeck stopped")
	return nil
}
