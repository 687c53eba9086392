// Package config handles loading and validating the clawdeck configuration.
// Config is stored at ~/.clawdeck/clawdeck.yaml; JSON (with comments) and TOML
// files are accepted as well, selected by file extension.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	toml "github.com/pelletier/go-toml/v2"
)

// Agent transport modes.
const (
	ModeRPC   = "rpc"
	ModeHTTP  = "http"
	ModeLocal = "local"
)

// Panel transports.
const (
	PanelTCP = "tcp"
	PanelWS  = "ws"
)

// DefaultPanelPort is the panel host's plugin port when TP_PLUGIN_PORT is unset.
const DefaultPanelPort = 12136

// Config is the top-level clawdeck configuration.
type Config struct {
	Panel   PanelConfig   `json:"panel" yaml:"panel" toml:"panel"`
	Agent   AgentConfig   `json:"agent" yaml:"agent" toml:"agent"`
	Poll    PollConfig    `json:"poll" yaml:"poll" toml:"poll"`
	Status  StatusConfig  `json:"status" yaml:"status" toml:"status"`
	Log     LogConfig     `json:"log" yaml:"log" toml:"log"`
	Journal JournalConfig `json:"journal" yaml:"journal" toml:"journal"`
}

// PanelConfig configures the control channel to the panel host.
type PanelConfig struct {
	Host      string `json:"host" yaml:"host" toml:"host"`
	Port      int    `json:"port" yaml:"port" toml:"port"`
	PluginID  string `json:"pluginId" yaml:"pluginId" toml:"pluginId"`
	Transport string `json:"transport" yaml:"transport" toml:"transport"` // "tcp" or "ws"
	Path      string `json:"path" yaml:"path" toml:"path"`                // websocket path, ws transport only
}

// AgentConfig configures the agent gateway transport.
type AgentConfig struct {
	Mode             string `json:"mode" yaml:"mode" toml:"mode"` // "rpc", "http", "local"
	URL              string `json:"url" yaml:"url" toml:"url"`
	Token            string `json:"token" yaml:"token" toml:"token"`
	SessionKey       string `json:"sessionKey" yaml:"sessionKey" toml:"sessionKey"`
	Channel          string `json:"channel" yaml:"channel" toml:"channel"`
	ExecutablePath   string `json:"executablePath" yaml:"executablePath" toml:"executablePath"`
	Workspace        string `json:"workspace" yaml:"workspace" toml:"workspace"`
	HeartbeatFile    string `json:"heartbeatFile" yaml:"heartbeatFile" toml:"heartbeatFile"`
	TimeoutSeconds   int    `json:"timeoutSeconds" yaml:"timeoutSeconds" toml:"timeoutSeconds"`
	ReconnectSeconds int    `json:"reconnectSeconds" yaml:"reconnectSeconds" toml:"reconnectSeconds"`
}

// PollConfig configures the status poller.
type PollConfig struct {
	IntervalSeconds int `json:"intervalSeconds" yaml:"intervalSeconds" toml:"intervalSeconds"`
	SettleMillis    int `json:"settleMillis" yaml:"settleMillis" toml:"settleMillis"`
}

// StatusConfig configures the local status API.
type StatusConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Port    int    `json:"port" yaml:"port" toml:"port"`
	Bind    string `json:"bind" yaml:"bind" toml:"bind"` // "loopback" or "all"

	// TriggerLimit caps manual action triggers per client per minute; 0 uses the default, negative disables.
	TriggerLimit int `json:"triggerLimit,omitempty" yaml:"triggerLimit,omitempty" toml:"triggerLimit,omitempty"`
}

// LogConfig configures file logging.
type LogConfig struct {
	Level         string `json:"level" yaml:"level" toml:"level"`
	Dir           string `json:"dir" yaml:"dir" toml:"dir"`
	MaxAgeDays    int    `json:"maxAgeDays" yaml:"maxAgeDays" toml:"maxAgeDays"`
	MaxSizeMB     int    `json:"maxSizeMB" yaml:"maxSizeMB" toml:"maxSizeMB"`
	StderrEnabled *bool  `json:"stderrEnabled,omitempty" yaml:"stderrEnabled,omitempty" toml:"stderrEnabled,omitempty"`
}

// JournalConfig configures the action journal.
type JournalConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Dir        string `json:"dir" yaml:"dir" toml:"dir"`
	MaxAgeDays int    `json:"maxAgeDays" yaml:"maxAgeDays" toml:"maxAgeDays"`
	MaxRecords int    `json:"maxRecords" yaml:"maxRecords" toml:"maxRecords"`
}

// Default returns a Config with the hard-coded fallback values.
func Default() *Config {
	return &Config{
		Panel: PanelConfig{
			Host:      "127.0.0.1",
			Port:      DefaultPanelPort,
			PluginID:  "openclaw.deckard",
			Transport: PanelTCP,
			Path:      "/",
		},
		Agent: AgentConfig{
			Mode:             ModeHTTP,
			URL:              "http://127.0.0.1:18789",
			SessionKey:       "main",
			Channel:          "main",
			ExecutablePath:   "/usr/local/bin/openclaw",
			Workspace:        defaultWorkspaceDir(),
			HeartbeatFile:    "HEARTBEAT.md",
			TimeoutSeconds:   10,
			ReconnectSeconds: 5,
		},
		Poll: PollConfig{
			IntervalSeconds: 30,
			SettleMillis:    1500,
		},
		Status: StatusConfig{
			Enabled: false,
			Port:    12137,
			Bind:    "loopback",
		},
		Log: LogConfig{
			Level:      "info",
			MaxAgeDays: 14,
			MaxSizeMB:  20,
		},
		Journal: JournalConfig{
			Enabled:    false,
			MaxAgeDays: 30,
			MaxRecords: 10000,
		},
	}
}

// Timeout returns the per-request agent timeout.
func (a AgentConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// ReconnectDelay returns the fixed delay between RPC reconnect attempts.
func (a AgentConfig) ReconnectDelay() time.Duration {
	if a.ReconnectSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(a.ReconnectSeconds) * time.Second
}

// Interval returns the status poll period.
func (p PollConfig) Interval() time.Duration {
	if p.IntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(p.IntervalSeconds) * time.Second
}

// Settle returns the delay between a successful action and its status refresh.
func (p PollConfig) Settle() time.Duration {
	if p.SettleMillis <= 0 {
		return 1500 * time.Millisecond
	}
	return time.Duration(p.SettleMillis) * time.Millisecond
}

// Addr returns host:port of the panel host.
func (p PanelConfig) Addr() string {
	host := p.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := p.Port
	if port == 0 {
		port = DefaultPanelPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// ListenAddr returns the status API listen address.
func (s StatusConfig) ListenAddr() string {
	port := s.Port
	if port == 0 {
		port = 12137
	}
	if s.Bind == "all" {
		return fmt.Sprintf("0.0.0.0:%d", port)
	}
	return fmt.Sprintf("127.0.0.1:%d", port)
}

// Validate reports configuration values the bridge cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Panel.Transport {
	case PanelTCP, PanelWS:
	default:
		errs = append(errs, fmt.Errorf("panel.transport: unsupported value %q", c.Panel.Transport))
	}
	if c.Panel.Port < 0 || c.Panel.Port > 65535 {
		errs = append(errs, fmt.Errorf("panel.port: %d out of range", c.Panel.Port))
	}
	if strings.TrimSpace(c.Panel.PluginID) == "" {
		errs = append(errs, errors.New("panel.pluginId is required"))
	}
	switch c.Agent.Mode {
	case ModeRPC, ModeHTTP:
		if strings.TrimSpace(c.Agent.URL) == "" {
			errs = append(errs, fmt.Errorf("agent.url is required in %s mode", c.Agent.Mode))
		}
	case ModeLocal:
		if strings.TrimSpace(c.Agent.ExecutablePath) == "" {
			errs = append(errs, errors.New("agent.executablePath is required in local mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("agent.mode: unsupported value %q", c.Agent.Mode))
	}
	return errors.Join(errs...)
}

// ConfigDir returns the clawdeck config directory (~/.clawdeck).
func ConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".clawdeck"
	}
	return filepath.Join(home, ".clawdeck")
}

// ConfigPath returns the path of the config file that Load reads.
// CLAWDECK_CONFIG wins; otherwise the first existing clawdeck.{yaml,yml,json,toml}.
func ConfigPath() string {
	if envPath := os.Getenv("CLAWDECK_CONFIG"); envPath != "" {
		return envPath
	}
	dir := ConfigDir()
	for _, name := range []string{"clawdeck.yaml", "clawdeck.yml", "clawdeck.json", "clawdeck.toml"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return filepath.Join(dir, "clawdeck.yaml")
}

func defaultWorkspaceDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".openclaw", "workspace")
	}
	return filepath.Join(home, ".openclaw", "workspace")
}

// Load reads the config from ConfigPath.
// A missing file is not an error: defaults plus environment overrides are returned.
func Load() (*Config, error) {
	return LoadFile(ConfigPath())
}

// LoadFile reads the config from path, decoding by extension.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := decode(path, data, cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", "":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal([]byte(preprocessJSONLike(string(data))), cfg)
	case ".toml":
		return toml.Unmarshal(data, cfg)
	default:
		return fmt.Errorf("unsupported config extension: %s", ext)
	}
}

// Save writes cfg to path, encoding by extension. An empty path means ConfigPath().
func Save(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := Marshal(cfg, filepath.Ext(path))
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// The file may carry the gateway token.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Marshal encodes cfg in the format named by ext (".yaml", ".json", ".toml").
func Marshal(cfg *Config, ext string) ([]byte, error) {
	switch strings.ToLower(ext) {
	case ".json":
		return json.MarshalIndent(cfg, "", "  ")
	case ".toml":
		return toml.Marshal(cfg)
	default:
		return yaml.Marshal(cfg)
	}
}

// applyEnvOverrides merges environment variables into configuration.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("TP_PLUGIN_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Panel.Port = port
		}
	}
	if v := os.Getenv("CLAWDECK_GATEWAY_URL"); v != "" {
		cfg.Agent.URL = v
	}
	if v := os.Getenv("CLAWDECK_GATEWAY_TOKEN"); v != "" {
		cfg.Agent.Token = v
	}
	if v := os.Getenv("CLAWDECK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// preprocessJSONLike strips comments and trailing commas from JSON5-ish input.
func preprocessJSONLike(input string) string {
	s := input
	for {
		start := strings.Index(s, "/*")
		if start < 0 {
			break
		}
		end := strings.Index(s[start+2:], "*/")
		if end < 0 {
			s = s[:start]
			break
		}
		end += start + 2
		s = s[:start] + s[end+2:]
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		inString := false
		escape := false
		for j := 0; j < len(line)-1; j++ {
			ch := line[j]
			if ch == '\\' && inString {
				escape = !escape
				continue
			}
			if ch == '"' && !escape {
				inString = !inString
			}
			escape = false
			if !inString && ch == '/' && line[j+1] == '/' {
				line = line[:j]
				break
			}
		}
		lines[i] = strings.TrimRight(line, " \t")
	}
	s = strings.Join(lines, "\n")
	s = strings.ReplaceAll(s, ",}", "}")
	s = strings.ReplaceAll(s, ",]", "]")
	return s
}
