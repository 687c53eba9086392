package local

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/highclaw/clawdeck/internal/gateway"
	"github.com/highclaw/clawdeck/internal/gateway/statusparse"
)

const fakeAgent = `#!/bin/sh
case "$1" in
  status) echo "Model: anthropic/claude-sonnet-4"; echo "Uptime: 3m" ;;
  gateway) if [ "$2" = "restart" ]; then echo "restarting"; else echo "Gateway running"; fi ;;
  message|subagents) echo "$@" > last-call ;;
  slow) exec sleep 5 ;;
  fail) echo "bad thing" >&2; exit 3 ;;
esac
`

func newTestClient(t *testing.T, script string, timeout time.Duration) (*Client, string) {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "openclaw")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	ws := filepath.Join(dir, "workspace")
	if err := os.Mkdir(ws, 0o755); err != nil {
		t.Fatal(err)
	}
	c := New(Options{
		Settings: gateway.NewSettingsStore(gateway.Settings{ExecutablePath: bin, WorkspaceDir: ws}),
		Timeout:  timeout,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return c, ws
}

func readLastCall(t *testing.T, ws string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(ws, "last-call"))
	if err != nil {
		t.Fatalf("read last call: %v", err)
	}
	return strings.TrimSpace(string(data))
}

func TestCommandsRunInWorkspace(t *testing.T) {
	c, ws := newTestClient(t, fakeAgent, 5*time.Second)
	ctx := context.Background()

	if err := c.SwitchModel(ctx, "openai/gpt-4o"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if got := readLastCall(t, ws); got != "message send --session main /model openai/gpt-4o" {
		t.Fatalf("switch args = %q", got)
	}

	if err := c.ToggleReasoning(ctx); err != nil {
		t.Fatalf("reasoning: %v", err)
	}
	if got := readLastCall(t, ws); got != "message send --session main /reasoning" {
		t.Fatalf("reasoning args = %q", got)
	}

	if err := c.KillSubagents(ctx, "all"); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if got := readLastCall(t, ws); got != "subagents kill --target all" {
		t.Fatalf("kill args = %q", got)
	}

	if err := c.Restart(ctx); err != nil {
		t.Fatalf("restart: %v", err)
	}
}

func TestStatus(t *testing.T) {
	c, _ := newTestClient(t, fakeAgent, 5*time.Second)
	snap, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	want := gateway.Snapshot{Model: "anthropic/claude-sonnet-4", Status: "online", Uptime: "3m"}
	if snap != want {
		t.Fatalf("snapshot = %+v; want %+v", snap, want)
	}
}

func TestStatusFallsBackToGateway(t *testing.T) {
	script := "#!/bin/sh\nif [ \"$1\" = gateway ]; then echo 'gateway: running'; else echo 'no sessions'; fi\n"
	c, _ := newTestClient(t, script, 5*time.Second)
	snap, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.Status != gateway.StatusOnline || snap.Model != statusparse.UnknownModel {
		t.Fatalf("snapshot = %+v", snap)
	}

	c, _ = newTestClient(t, "#!/bin/sh\nexit 1\n", 5*time.Second)
	snap, err = c.Status(context.Background())
	if err != nil || snap != statusparse.Fallback {
		t.Fatalf("snapshot = %+v, %v; want fallback", snap, err)
	}
}

func TestRunFailureModes(t *testing.T) {
	c, _ := newTestClient(t, fakeAgent, 200*time.Millisecond)
	ctx := context.Background()

	out, _ := c.run(ctx, "fail")
	if out.Code != 3 || out.Stderr != "bad thing" {
		t.Fatalf("fail output = %+v", out)
	}

	start := time.Now()
	out, _ = c.run(ctx, "slow")
	if out.Code != -1 || out.Stdout != "" || out.Stderr != "command timed out" {
		t.Fatalf("slow output = %+v", out)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("timeout not enforced: %v", time.Since(start))
	}

	missing := New(Options{
		Settings: gateway.NewSettingsStore(gateway.Settings{ExecutablePath: "/nonexistent/openclaw"}),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	out, _ = missing.run(ctx, "status")
	if out.Code != -1 || out.Stderr != "openclaw not found at /nonexistent/openclaw" {
		t.Fatalf("missing output = %+v", out)
	}
	if _, err := missing.Status(ctx); !errors.Is(err, gateway.ErrNotConnected) {
		t.Fatalf("missing status err = %v; want ErrNotConnected", err)
	}
}

func TestExitErrorWrapsTimeout(t *testing.T) {
	c, _ := newTestClient(t, fakeAgent, 200*time.Millisecond)
	_, err := c.command(context.Background(), "slow")
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || !errors.Is(err, gateway.ErrTimeout) {
		t.Fatalf("err = %v; want ExitError wrapping ErrTimeout", err)
	}
	if exitErr.Code != -1 {
		t.Fatalf("code = %d", exitErr.Code)
	}
}

func TestHeartbeatWritesMarker(t *testing.T) {
	c, ws := newTestClient(t, fakeAgent, time.Second)
	if err := c.Heartbeat(context.Background()); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(ws, "HEARTBEAT.md"))
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Heartbeat") {
		t.Fatalf("marker = %q", data)
	}

	empty := New(Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err := empty.Heartbeat(context.Background()); err == nil {
		t.Fatal("heartbeat without workspace should fail")
	}
}
