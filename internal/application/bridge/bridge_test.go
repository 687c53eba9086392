package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/highclaw/clawdeck/internal/config"
	"github.com/highclaw/clawdeck/internal/gateway"
	"github.com/highclaw/clawdeck/internal/panel"
	"github.com/highclaw/clawdeck/internal/panel/host"
	"github.com/highclaw/clawdeck/internal/panel/protocol"
	"github.com/highclaw/clawdeck/internal/system/journal"
)

const actionGPT = "openclaw_switch_model_gpt"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewTransportByMode(t *testing.T) {
	cases := []struct {
		mode string
		name string
	}{
		{config.ModeRPC, "rpc"},
		{config.ModeHTTP, "http"},
		{"", "http"},
		{config.ModeLocal, "local"},
	}
	for _, tc := range cases {
		cfg := config.Default().Agent
		cfg.Mode = tc.mode
		tr, err := NewTransport(cfg, SettingsFrom(cfg), quietLogger(), Hooks{})
		if err != nil {
			t.Fatalf("mode %q: %v", tc.mode, err)
		}
		if tr.Name() != tc.name {
			t.Fatalf("mode %q: transport = %s; want %s", tc.mode, tr.Name(), tc.name)
		}
		tr.Close()
	}

	cfg := config.Default().Agent
	cfg.Mode = "carrier-pigeon"
	if _, err := NewTransport(cfg, SettingsFrom(cfg), quietLogger(), Hooks{}); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}

func TestSettingsFrom(t *testing.T) {
	cfg := config.AgentConfig{URL: "http://gw:18789", Token: "tok", ExecutablePath: "/bin/openclaw", Workspace: "/ws"}
	got := SettingsFrom(cfg).Get()
	want := gateway.Settings{Endpoint: "http://gw:18789", Token: "tok", ExecutablePath: "/bin/openclaw", WorkspaceDir: "/ws"}
	if got != want {
		t.Fatalf("settings = %+v; want %+v", got, want)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error without config")
	}
	cfg := config.Default()
	cfg.Agent.Mode = "nope"
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestRunFailsWithoutPanelHost(t *testing.T) {
	h, err := host.Listen("127.0.0.1:0", host.Options{Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	port := h.Port()
	h.Close()

	cfg := config.Default()
	cfg.Panel.Port = port
	b, err := New(Options{Config: cfg, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Run(ctx); err == nil {
		t.Fatal("expected dial error")
	}
	if b.Session() != nil {
		t.Fatal("session built without a panel connection")
	}
}

type invokeGateway struct{}

func (invokeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Args map[string]any `json:"args"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	cmd, _ := req.Args["command"].(string)
	w.Header().Set("Content-Type", "application/json")
	if strings.HasSuffix(cmd, "' status") {
		w.Write([]byte(`{"ok":true,"result":{"stdout":"Model: openai/gpt-4o\nUptime: 5m\n"}}`))
		return
	}
	w.Write([]byte(`{"ok":true,"result":"done"}`))
}

func TestRunJournalsActions(t *testing.T) {
	gw := httptest.NewServer(invokeGateway{})
	defer gw.Close()

	h, err := host.Listen("127.0.0.1:0", host.Options{Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	cfg := config.Default()
	cfg.Panel.Port = h.Port()
	cfg.Agent.URL = gw.URL
	cfg.Poll.IntervalSeconds = 3600
	cfg.Poll.SettleMillis = 10
	cfg.Journal.Enabled = true
	cfg.Journal.Dir = t.TempDir()

	b, err := New(Options{Config: cfg, Logger: quietLogger(), Version: "test"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	if _, err := h.WaitPaired(ctx); err != nil {
		t.Fatalf("wait paired: %v", err)
	}
	waitMessage(t, h, func(m host.Message) bool { return m.Type == protocol.TypeStateUpdate })

	if err := h.SendAction(actionGPT); err != nil {
		t.Fatal(err)
	}
	waitMessage(t, h, func(m host.Message) bool {
		n, err := m.Notification()
		return m.Type == protocol.TypeShowNotification && err == nil && strings.Contains(n.Message, "openai/gpt-4o")
	})

	if err := h.ClosePlugin(); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("bridge did not stop on closePlugin")
	}

	store, err := journal.Open(journal.Config{Dir: cfg.Journal.Dir})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	entries, total, err := store.List(context.Background(), journal.Query{ActionID: actionGPT})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || entries[0].Status != journal.StatusSuccess || entries[0].Transport != "http" {
		t.Fatalf("entries = %+v (total %d)", entries, total)
	}

	families, err := b.Metrics().Registry().Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "clawdeck_actions_total" {
			found = true
		}
	}
	if !found {
		t.Fatal("clawdeck_actions_total not gathered")
	}
}

func TestRunReportsLostPanel(t *testing.T) {
	h, err := host.Listen("127.0.0.1:0", host.Options{Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Panel.Port = h.Port()
	cfg.Poll.IntervalSeconds = 3600
	b, err := New(Options{Config: cfg, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	if _, err := h.WaitPaired(ctx); err != nil {
		t.Fatalf("wait paired: %v", err)
	}
	h.Close()

	select {
	case err := <-done:
		if !errors.Is(err, panel.ErrConnectionLost) {
			t.Fatalf("run error = %v; want ErrConnectionLost", err)
		}
	case <-ctx.Done():
		t.Fatal("bridge did not notice the lost panel")
	}
}

func waitMessage(t *testing.T, h *host.Host, match func(host.Message) bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case m := <-h.Messages():
			if match(m) {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for panel message")
		}
	}
}
