// Package gateway defines the contract between the deck and the agent
// gateway. Concrete transports live in the rpc, invoke and local
// subpackages; all of them translate the same logical commands.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Agent status values published to the panel.
const (
	StatusOnline     = "online"
	StatusOffline    = "offline"
	StatusError      = "error"
	StatusRestarting = "restarting"
	StatusConnecting = "connecting"
)

// DefaultSessionKey is the agent session commands are sent to.
const DefaultSessionKey = "main"

// HeartbeatFile is the marker the agent checks on its heartbeat, relative to
// the agent workspace.
const HeartbeatFile = "HEARTBEAT.md"

// HeartbeatContent is what gets written to the heartbeat marker.
func HeartbeatContent(now time.Time) string {
	return fmt.Sprintf("# Heartbeat\n\nTriggered from the panel at %s.\n", now.UTC().Format(time.RFC3339))
}

var (
	// ErrNotConnected means the transport has no usable link to the agent.
	ErrNotConnected = errors.New("gateway not connected")
	// ErrTimeout means the agent did not answer within the call deadline.
	ErrTimeout = errors.New("gateway request timed out")
)

// Snapshot is the last known agent state. Empty fields are unknown.
type Snapshot struct {
	Model  string `json:"model"`
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// Transport carries logical commands to the agent.
type Transport interface {
	// Name identifies the transport in logs ("rpc", "http", "local").
	Name() string
	SwitchModel(ctx context.Context, model string) error
	Restart(ctx context.Context) error
	KillSubagents(ctx context.Context, target string) error
	ToggleReasoning(ctx context.Context) error
	Heartbeat(ctx context.Context) error
	Status(ctx context.Context) (Snapshot, error)
	Close() error
}

// Settings is the runtime connection configuration. Remote transports use
// Endpoint and Token; the local transport uses ExecutablePath and WorkspaceDir.
type Settings struct {
	Endpoint       string
	Token          string
	ExecutablePath string
	WorkspaceDir   string
}

// Panel setting names.
const (
	SettingGatewayURL   = "openclaw_gateway_url"
	SettingGatewayToken = "openclaw_gateway_token"
	SettingPath         = "openclaw_path"
	SettingWorkspace    = "openclaw_workspace"
)

// SettingsStore holds the current Settings. Safe for concurrent use.
type SettingsStore struct {
	mu sync.RWMutex
	s  Settings
}

// NewSettingsStore returns a store seeded with initial.
func NewSettingsStore(initial Settings) *SettingsStore {
	return &SettingsStore{s: initial}
}

// Get returns a copy of the current settings.
func (st *SettingsStore) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// Apply merges panel settings by name. Empty values keep the current value.
// It reports whether anything changed.
func (st *SettingsStore) Apply(values map[string]string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	before := st.s
	set := func(dst *string, key string) {
		if v, ok := values[key]; ok && v != "" {
			*dst = v
		}
	}
	set(&st.s.Endpoint, SettingGatewayURL)
	set(&st.s.Token, SettingGatewayToken)
	set(&st.s.ExecutablePath, SettingPath)
	set(&st.s.WorkspaceDir, SettingWorkspace)
	return before != st.s
}
