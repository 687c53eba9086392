package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/highclaw/clawdeck/internal/application/bridge"
	"github.com/highclaw/clawdeck/internal/config"
	"github.com/highclaw/clawdeck/internal/deck"
	"github.com/highclaw/clawdeck/internal/gateway"
	"github.com/highclaw/clawdeck/internal/gateway/rpc"
	"github.com/highclaw/clawdeck/internal/panel/host"
	"github.com/highclaw/clawdeck/internal/panel/protocol"
	syslogger "github.com/highclaw/clawdeck/internal/system/logger"
	"github.com/highclaw/clawdeck/internal/tui"
	"github.com/spf13/cobra"
)

var (
	useAPI       bool
	configFormat string
	panelListen  string
	panelWS      bool
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent model, status and uptime",
	Long: `Query the agent once over the configured transport and print the
scraped model, status and uptime. With --api, ask a running bridge's status
API for the snapshot it last published instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if useAPI {
			return printAPIStatus(cmd.OutOrStdout(), cfg)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Agent.Timeout()+5*time.Second)
		defer cancel()
		transport, err := connectTransport(ctx, cfg)
		if err != nil {
			return err
		}
		defer transport.Close()

		snap, err := transport.Status(ctx)
		if err != nil {
			if errors.Is(err, gateway.ErrNotConnected) {
				return fmt.Errorf("agent is offline: %w", err)
			}
			return fmt.Errorf("query status: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Agent Status:")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  Transport:  %s\n", transport.Name())
		fmt.Fprintf(out, "  Model:      %s\n", orDash(snap.Model))
		fmt.Fprintf(out, "  Status:     %s\n", orDash(snap.Status))
		fmt.Fprintf(out, "  Uptime:     %s\n", orDash(snap.Uptime))
		return nil
	},
}

func printAPIStatus(w io.Writer, cfg *config.Config) error {
	var body struct {
		Model     string `json:"model"`
		Status    string `json:"status"`
		Uptime    string `json:"uptime"`
		Transport string `json:"transport"`
		Error     string `json:"error"`
		Bridge    struct {
			Version string `json:"version"`
			Uptime  string `json:"uptime"`
		} `json:"bridge"`
	}
	code, err := apiRequest(http.MethodGet, apiURL(cfg, "/api/status"), nil, &body)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("status API: %d %s", code, body.Error)
	}
	fmt.Fprintln(w, "Bridge Status:")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:    %s (up %s)\n", body.Bridge.Version, body.Bridge.Uptime)
	fmt.Fprintf(w, "  Transport:  %s\n", body.Transport)
	fmt.Fprintf(w, "  Model:      %s\n", orDash(body.Model))
	fmt.Fprintf(w, "  Status:     %s\n", orDash(body.Status))
	fmt.Fprintf(w, "  Uptime:     %s\n", orDash(body.Uptime))
	return nil
}

// --- invoke ---

var invokeCmd = &cobra.Command{
	Use:   "invoke <actionId> [id=value ...]",
	Short: "Dispatch one panel action without a panel",
	Long: `Run a single action through the dispatcher, printing the states and
toasts the panel would receive. With --api, the action is sent to a running
bridge's status API (localhost only).

Examples:
  clawdeck invoke openclaw_switch_model_claude
  clawdeck invoke openclaw_switch_model model=openai/o3-mini
  clawdeck invoke --api openclaw_trigger_heartbeat`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		data, err := parseData(args[1:])
		if err != nil {
			return err
		}
		if useAPI {
			return invokeViaAPI(cmd.OutOrStdout(), cfg, args[0], data)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Agent.Timeout()+5*time.Second)
		defer cancel()
		transport, err := connectTransport(ctx, cfg)
		if err != nil {
			return err
		}
		defer transport.Close()

		session, err := deck.NewSession(deck.Options{
			Publisher:   &printPublisher{w: cmd.OutOrStdout()},
			Transport:   transport,
			Settings:    bridge.SettingsFrom(cfg.Agent),
			Logger:      slog.Default(),
			CallTimeout: cfg.Agent.Timeout(),
		})
		if err != nil {
			return err
		}
		defer session.Close()

		res := session.Dispatch(ctx, args[0], data)
		if res.Err != nil {
			return res.Err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok  %s (%dms)\n", res.ActionID, res.Duration.Milliseconds())
		return nil
	},
}

func invokeViaAPI(w io.Writer, cfg *config.Config, actionID string, data map[string]string) error {
	payload, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return err
	}
	var body struct {
		Message    string `json:"message"`
		OK         bool   `json:"ok"`
		Error      string `json:"error"`
		DurationMs int64  `json:"durationMs"`
	}
	code, err := apiRequest(http.MethodPost, apiURL(cfg, "/api/actions/"+actionID), payload, &body)
	if err != nil {
		return err
	}
	if body.Message != "" {
		fmt.Fprintf(w, "toast  %s\n", body.Message)
	}
	if code != http.StatusOK || !body.OK {
		return fmt.Errorf("action %s failed (%d): %s", actionID, code, body.Error)
	}
	fmt.Fprintf(w, "ok  %s (%dms)\n", actionID, body.DurationMs)
	return nil
}

// printPublisher writes what a panel would receive.
type printPublisher struct {
	w io.Writer
}

func (p *printPublisher) UpdateStates(states ...protocol.State) error {
	for _, s := range states {
		fmt.Fprintf(p.w, "state  %s = %s\n", s.ID, s.Value)
	}
	return nil
}

func (p *printPublisher) Notify(message string) error {
	fmt.Fprintf(p.w, "toast  %s\n", message)
	return nil
}

// parseData turns id=value arguments into action data.
func parseData(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid action data %q, expected id=value", a)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

// connectTransport builds the configured transport. An RPC transport is
// started and given until ctx ends to connect.
func connectTransport(ctx context.Context, cfg *config.Config) (gateway.Transport, error) {
	transport, err := bridge.NewTransport(cfg.Agent, bridge.SettingsFrom(cfg.Agent), slog.Default(), bridge.Hooks{})
	if err != nil {
		return nil, err
	}
	rc, ok := transport.(*rpc.Client)
	if !ok {
		return transport, nil
	}
	rc.Start(ctx)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !rc.Connected() {
		select {
		case <-ctx.Done():
			rc.Close()
			return nil, fmt.Errorf("connect to %s: %w", cfg.Agent.URL, gateway.ErrNotConnected)
		case <-ticker.C:
		}
	}
	return rc, nil
}

func apiURL(cfg *config.Config, path string) string {
	port := cfg.Status.Port
	if port == 0 {
		port = 12137
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", port, path)
}

func apiRequest(method, url string, payload []byte, into any) (int, error) {
	var body io.Reader
	if payload != nil {
		body = strings.NewReader(string(payload))
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("status API unreachable (is `clawdeck run --status` running?): %w", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return resp.StatusCode, fmt.Errorf("decode status API response: %w", err)
	}
	return resp.StatusCode, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// --- panel ---

var panelCmd = &cobra.Command{
	Use:   "panel",
	Short: "Run a mock panel host with a terminal UI",
	Long: `Listen like the panel host does and drive a paired bridge from the
terminal: press buttons, push settings and watch the states and toasts the
plugin sends back. Start it first, then run "clawdeck run" against its port.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		logCfg := syslogger.FromConfig(cfg.Log)
		logCfg.StderrEnabled = false
		mgr, err := syslogger.New(logCfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer mgr.Close()

		transport := config.PanelTCP
		if panelWS {
			transport = config.PanelWS
		}
		addr := panelListen
		if addr == "" {
			addr = cfg.Panel.Addr()
		}
		h, err := host.Listen(addr, host.Options{
			Transport: transport,
			Path:      cfg.Panel.Path,
			Settings:  panelSettings(cfg.Agent),
			Version:   version,
			Logger:    mgr.NewLogger(),
		})
		if err != nil {
			return err
		}
		defer h.Close()

		return tui.Run(tui.Options{Panel: h, Version: version})
	},
}

// panelSettings is the settings block the mock host sends on pair.
func panelSettings(a config.AgentConfig) map[string]string {
	s := map[string]string{
		gateway.SettingGatewayURL: a.URL,
		gateway.SettingPath:       a.ExecutablePath,
		gateway.SettingWorkspace:  a.Workspace,
	}
	if a.Token != "" {
		s[gateway.SettingGatewayToken] = a.Token
	}
	return s
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (token redacted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if cfg.Agent.Token != "" {
			cfg.Agent.Token = "********"
		}
		ext := "." + strings.TrimPrefix(configFormat, ".")
		if configFormat == "" {
			ext = filepath.Ext(configPath())
		}
		data, err := config.Marshal(cfg, ext)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(string(data), "\n"))
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Run: func(cmd *cobra.Command, args []string) {
		p := configPath()
		if _, err := os.Stat(p); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (not created yet, run \"clawdeck onboard\")\n", p)
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), p)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configPath())
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Config OK.")
		return nil
	},
}

// sortedKeys returns m's keys in order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	statusCmd.Flags().BoolVar(&useAPI, "api", false, "Ask a running bridge's status API")
	invokeCmd.Flags().BoolVar(&useAPI, "api", false, "Send the action to a running bridge's status API")

	panelCmd.Flags().StringVar(&panelListen, "listen", "", "Listen address (default the configured panel address)")
	panelCmd.Flags().BoolVar(&panelWS, "ws", false, "Accept WebSocket plugins instead of TCP")

	configShowCmd.Flags().StringVar(&configFormat, "format", "", "Output format: yaml, json or toml")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configValidateCmd)
}
