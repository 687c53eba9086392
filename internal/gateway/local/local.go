// Package local drives the agent by running its executable on this machine.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/highclaw/clawdeck/internal/gateway"
	"github.com/highclaw/clawdeck/internal/gateway/statusparse"
)

const defaultTimeout = 10 * time.Second

// Output is the result of one command run. Code is -1 when the command could
// not run to completion.
type Output struct {
	Code   int
	Stdout string
	Stderr string
}

// ExitError reports a failed command.
type ExitError struct {
	Args   []string
	Code   int
	Detail string
	cause  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited %d: %s", strings.Join(e.Args, " "), e.Code, e.Detail)
}

// Unwrap exposes gateway.ErrTimeout and gateway.ErrNotConnected.
func (e *ExitError) Unwrap() error { return e.cause }

// Options configures a Client.
type Options struct {
	Settings      *gateway.SettingsStore
	Channel       string
	HeartbeatFile string
	Timeout       time.Duration
	Logger        *slog.Logger
}

// Client implements gateway.Transport by running the agent executable.
type Client struct {
	opts   Options
	logger *slog.Logger
}

// New builds a client.
func New(opts Options) *Client {
	if opts.Settings == nil {
		opts.Settings = gateway.NewSettingsStore(gateway.Settings{})
	}
	if opts.Channel == "" {
		opts.Channel = gateway.DefaultSessionKey
	}
	if opts.HeartbeatFile == "" {
		opts.HeartbeatFile = gateway.HeartbeatFile
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{opts: opts, logger: opts.Logger.With("component", "local")}
}

// Name implements gateway.Transport.
func (c *Client) Name() string { return "local" }

// Close implements gateway.Transport.
func (c *Client) Close() error { return nil }

// run executes the agent with args in the workspace directory. A -1 code
// comes with the sentinel behind it.
func (c *Client) run(ctx context.Context, args ...string) (Output, error) {
	settings := c.opts.Settings.Get()
	path := settings.ExecutablePath

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = settings.WorkspaceDir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	c.logger.Debug("agent command", "args", args, "duration", time.Since(start), "error", err)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Output{Code: -1, Stderr: "command timed out"}, gateway.ErrTimeout
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Output{
				Code:   exitErr.ExitCode(),
				Stdout: strings.TrimSpace(stdout.String()),
				Stderr: strings.TrimSpace(stderr.String()),
			}, nil
		}
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return Output{Code: -1, Stderr: fmt.Sprintf("openclaw not found at %s", path)}, gateway.ErrNotConnected
		}
		return Output{Code: -1, Stderr: err.Error()}, nil
	}
	return Output{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}, nil
}

func (c *Client) command(ctx context.Context, args ...string) (string, error) {
	out, cause := c.run(ctx, args...)
	if out.Code == 0 {
		return out.Stdout, nil
	}
	detail := out.Stderr
	if detail == "" {
		detail = out.Stdout
	}
	return "", &ExitError{Args: args, Code: out.Code, Detail: detail, cause: cause}
}

// SwitchModel sends "/model <name>" to the chat session.
func (c *Client) SwitchModel(ctx context.Context, model string) error {
	_, err := c.command(ctx, "message", "send", "--session", c.opts.Channel, "/model "+model)
	return err
}

// ToggleReasoning sends "/reasoning" to the chat session.
func (c *Client) ToggleReasoning(ctx context.Context) error {
	_, err := c.command(ctx, "message", "send", "--session", c.opts.Channel, "/reasoning")
	return err
}

// Restart restarts the gateway service.
func (c *Client) Restart(ctx context.Context) error {
	_, err := c.command(ctx, "gateway", "restart")
	return err
}

// KillSubagents terminates sub-agents matching target.
func (c *Client) KillSubagents(ctx context.Context, target string) error {
	_, err := c.command(ctx, "subagents", "kill", "--target", target)
	return err
}

// Heartbeat writes the marker file into the workspace.
func (c *Client) Heartbeat(ctx context.Context) error {
	dir := c.opts.Settings.Get().WorkspaceDir
	if dir == "" {
		return errors.New("workspace directory is not set")
	}
	path := filepath.Join(dir, c.opts.HeartbeatFile)
	if err := os.WriteFile(path, []byte(gateway.HeartbeatContent(time.Now())), 0o644); err != nil {
		return fmt.Errorf("write heartbeat: %w", err)
	}
	return nil
}

// Status runs `status`, falling back to `gateway status`. Unrecognized
// output yields the offline fallback without an error.
func (c *Client) Status(ctx context.Context) (gateway.Snapshot, error) {
	out, err := c.command(ctx, "status")
	if errors.Is(err, gateway.ErrNotConnected) {
		return gateway.Snapshot{}, err
	}
	if err == nil {
		if snap, ok := statusparse.Status(out); ok {
			return snap, nil
		}
	}

	out, err = c.command(ctx, "gateway", "status")
	if err != nil {
		if errors.Is(err, gateway.ErrNotConnected) {
			return gateway.Snapshot{}, err
		}
		return statusparse.Fallback, nil
	}
	return statusparse.Gateway(out), nil
}

var _ gateway.Transport = (*Client)(nil)
