package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/highclaw/clawdeck/internal/config"
	"github.com/highclaw/clawdeck/internal/gateway"
	"github.com/highclaw/clawdeck/internal/panel/protocol"
	"github.com/highclaw/clawdeck/internal/system/journal"
)

func TestParseData(t *testing.T) {
	got, err := parseData([]string{"model=openai/o3-mini", " target =all", "empty="})
	if err != nil {
		t.Fatal(err)
	}
	if got["model"] != "openai/o3-mini" || got["target"] != "all" || got["empty"] != "" {
		t.Fatalf("data = %v", got)
	}
	if got, err := parseData(nil); err != nil || got != nil {
		t.Fatalf("parseData(nil) = %v, %v", got, err)
	}
	for _, bad := range []string{"model", "=x"} {
		if _, err := parseData([]string{bad}); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestParseSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("24h", now)
	if err != nil {
		t.Fatal(err)
	}
	if want := now.Add(-24 * time.Hour).Format(journal.TimeLayout); got != want {
		t.Fatalf("since 24h = %q; want %q", got, want)
	}

	got, err = parseSince("2026-01-02", now)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "2026-01-0") {
		t.Fatalf("since date = %q", got)
	}

	if got, err := parseSince("", now); err != nil || got != "" {
		t.Fatalf("empty since = %q, %v", got, err)
	}
	if _, err := parseSince("last tuesday", now); err == nil {
		t.Fatal("expected error")
	}
}

func TestApplyOnboard(t *testing.T) {
	cfg := config.Default()
	err := applyOnboard(cfg, onboardAnswers{
		Mode:       config.ModeRPC,
		GatewayURL: " http://gw:18789 ",
		Token:      "tok",
		PanelPort:  "13000",
		StatusAPI:  true,
		Journal:    true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Mode != config.ModeRPC || cfg.Agent.URL != "http://gw:18789" || cfg.Agent.Token != "tok" {
		t.Fatalf("agent = %+v", cfg.Agent)
	}
	if cfg.Panel.Port != 13000 || !cfg.Status.Enabled || !cfg.Journal.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	if err := applyOnboard(config.Default(), onboardAnswers{Mode: config.ModeHTTP, PanelPort: "70000"}); err == nil {
		t.Fatal("expected port error")
	}
}

func TestParsePort(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"12136", 12136, true},
		{" 80 ", 80, true},
		{"0", 0, false},
		{"65536", 0, false},
		{"abc", 0, false},
	}
	for _, tc := range cases {
		got, err := parsePort(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Fatalf("parsePort(%q) = %d, %v", tc.in, got, err)
		}
	}
}

func TestPanelSettings(t *testing.T) {
	a := config.Default().Agent
	s := panelSettings(a)
	if _, ok := s[gateway.SettingGatewayToken]; ok {
		t.Fatal("empty token should not be sent")
	}
	if s[gateway.SettingGatewayURL] != a.URL || s[gateway.SettingPath] != a.ExecutablePath {
		t.Fatalf("settings = %v", s)
	}
	a.Token = "tok"
	if panelSettings(a)[gateway.SettingGatewayToken] != "tok" {
		t.Fatal("token not sent")
	}
}

func TestPrintPublisher(t *testing.T) {
	var buf bytes.Buffer
	p := &printPublisher{w: &buf}
	p.UpdateStates(protocol.State{ID: "openclaw_current_model", Value: "openai/gpt-4o"})
	p.Notify("Switched model to openai/gpt-4o")
	want := "state  openclaw_current_model = openai/gpt-4o\ntoast  Switched model to openai/gpt-4o\n"
	if buf.String() != want {
		t.Fatalf("output = %q", buf.String())
	}
}

func statusAPIConfig(t *testing.T, srv *httptest.Server) *config.Config {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Status.Port = port
	return cfg
}

func TestInvokeViaAPI(t *testing.T) {
	var gotPath string
	var gotBody map[string]map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/bogus") {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"ok":false,"error":"unknown action"}`))
			return
		}
		w.Write([]byte(`{"ok":true,"message":"Switched model to openai/o3-mini","durationMs":12}`))
	}))
	defer srv.Close()
	cfg := statusAPIConfig(t, srv)

	var buf bytes.Buffer
	err := invokeViaAPI(&buf, cfg, "openclaw_switch_model", map[string]string{"model": "openai/o3-mini"})
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/actions/openclaw_switch_model" || gotBody["data"]["model"] != "openai/o3-mini" {
		t.Fatalf("request = %s %v", gotPath, gotBody)
	}
	if !strings.Contains(buf.String(), "toast  Switched model to openai/o3-mini") || !strings.Contains(buf.String(), "(12ms)") {
		t.Fatalf("output = %q", buf.String())
	}

	if err := invokeViaAPI(&buf, cfg, "bogus", nil); err == nil || !strings.Contains(err.Error(), "unknown action") {
		t.Fatalf("err = %v", err)
	}
}

func TestPrintAPIStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"model":"anthropic/claude-opus-4-6","status":"online","uptime":"","transport":"rpc","bridge":{"version":"1.0.0","uptime":"5m"}}`))
	}))
	defer srv.Close()

	var buf bytes.Buffer
	if err := printAPIStatus(&buf, statusAPIConfig(t, srv)); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"anthropic/claude-opus-4-6", "online", "rpc", "1.0.0 (up 5m)", "Uptime:     -"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func writeTestConfig(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Log.Dir = filepath.Join(dir, "logs")
	cfg.Journal.Dir = filepath.Join(dir, "state")
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "clawdeck.yaml")
	if err := config.Save(cfg, path); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("clawdeck %s: %v\n%s", strings.Join(args, " "), err, buf.String())
	}
	return buf.String()
}

func TestConfigShowRedactsToken(t *testing.T) {
	t.Setenv("CLAWDECK_GATEWAY_TOKEN", "")
	path := writeTestConfig(t, func(c *config.Config) { c.Agent.Token = "super-secret" })

	out := execute(t, "--config", path, "config", "show", "--format", "json")
	if strings.Contains(out, "super-secret") {
		t.Fatalf("token leaked:\n%s", out)
	}
	var shown config.Config
	if err := json.Unmarshal([]byte(out), &shown); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if shown.Agent.Token != "********" {
		t.Fatalf("token = %q", shown.Agent.Token)
	}

	if out := execute(t, "--config", path, "config", "path"); strings.TrimSpace(out) != path {
		t.Fatalf("config path = %q", out)
	}
	if out := execute(t, "--config", path, "config", "validate"); !strings.Contains(out, "Config OK") {
		t.Fatalf("validate = %q", out)
	}
}

func TestJournalCommands(t *testing.T) {
	path := writeTestConfig(t, nil)
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	store, err := journal.Open(journal.FromConfig(cfg.Journal))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for _, e := range []*journal.Entry{
		{ActionID: "openclaw_switch_model_gpt", Command: "switch_model", Model: "openai/gpt-4o", Transport: "http", Status: journal.StatusSuccess, DurationMs: 40},
		{ActionID: "openclaw_reset_gateway", Command: "restart", Transport: "http", Status: journal.StatusError, ErrorMessage: "gateway returned 502", DurationMs: 10},
	} {
		if err := store.Record(ctx, e); err != nil {
			t.Fatal(err)
		}
	}
	store.Close()

	out := execute(t, "--config", path, "journal", "list")
	if !strings.Contains(out, "Journal entries (2/2)") || !strings.Contains(out, "model: openai/gpt-4o") || !strings.Contains(out, "error: gateway returned 502") {
		t.Fatalf("journal list:\n%s", out)
	}

	out = execute(t, "--config", path, "journal", "stats")
	if !strings.Contains(out, "Total:         2") || !strings.Contains(out, "openclaw_reset_gateway") {
		t.Fatalf("journal stats:\n%s", out)
	}

	out = execute(t, "--config", path, "journal", "get", "1")
	if !strings.Contains(out, `"actionId": "openclaw_switch_model_gpt"`) {
		t.Fatalf("journal get:\n%s", out)
	}

	out = execute(t, "--config", path, "journal", "clean", "--max-records", "1")
	if !strings.Contains(out, "Removed 1 journal entries") {
		t.Fatalf("journal clean:\n%s", out)
	}
}

func TestLogsList(t *testing.T) {
	path := writeTestConfig(t, nil)
	out := execute(t, "--config", path, "logs", "list")
	if !strings.Contains(out, "No log files found") {
		t.Fatalf("logs list:\n%s", out)
	}
}
