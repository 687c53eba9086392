// Package invoke is the HTTP transport to the agent gateway. Every command is
// a POST to <base>/tools/invoke naming a gateway tool and its arguments.
package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/highclaw/clawdeck/internal/gateway"
	"github.com/highclaw/clawdeck/internal/gateway/statusparse"
)

const (
	invokePath       = "/tools/invoke"
	defaultTimeout   = 10 * time.Second
	defaultCommand   = "openclaw"
	maxResponseBytes = 1 << 20
)

// Gateway tools.
const (
	ToolExec      = "exec"
	ToolSubagents = "subagents"
)

// Options configures a Client.
type Options struct {
	Settings      *gateway.SettingsStore
	SessionKey    string
	Channel       string
	Command       string // agent executable name on the gateway host
	HeartbeatFile string
	Timeout       time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client implements gateway.Transport over HTTP.
type Client struct {
	opts   Options
	http   *http.Client
	logger *slog.Logger
}

// Result is a decoded invoke response. Body holds JSON responses; anything
// else is passed through in Text.
type Result struct {
	Status int
	Body   json.RawMessage
	Text   string
}

type invokeRequest struct {
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
	SessionKey string         `json:"sessionKey"`
}

// New builds a client.
func New(opts Options) *Client {
	if opts.Settings == nil {
		opts.Settings = gateway.NewSettingsStore(gateway.Settings{})
	}
	if opts.SessionKey == "" {
		opts.SessionKey = gateway.DefaultSessionKey
	}
	if opts.Channel == "" {
		opts.Channel = gateway.DefaultSessionKey
	}
	if opts.Command == "" {
		opts.Command = defaultCommand
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
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		opts:   opts,
		http:   hc,
		logger: opts.Logger.With("component", "invoke"),
	}
}

// Name implements gateway.Transport.
func (c *Client) Name() string { return "http" }

// Close implements gateway.Transport.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// Invoke calls one gateway tool. An empty sessionKey uses the configured
// default. The call is aborted after the configured timeout.
func (c *Client) Invoke(ctx context.Context, tool string, args map[string]any, sessionKey string) (*Result, error) {
	if sessionKey == "" {
		sessionKey = c.opts.SessionKey
	}
	settings := c.opts.Settings.Get()
	base := strings.TrimRight(strings.TrimSpace(settings.Endpoint), "/")
	if base == "" {
		return nil, fmt.Errorf("invoke %s: %w", tool, gateway.ErrNotConnected)
	}
	if args == nil {
		args = map[string]any{}
	}

	payload, err := json.Marshal(invokeRequest{Tool: tool, Args: args, SessionKey: sessionKey})
	if err != nil {
		return nil, fmt.Errorf("marshal invoke %s: %w", tool, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+invokePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if settings.Token != "" {
		req.Header.Set("Authorization", "Bearer "+settings.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("invoke %s after %s: %w", tool, c.opts.Timeout, gateway.ErrTimeout)
		}
		return nil, fmt.Errorf("invoke %s: %w", tool, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("invoke %s after %s: %w", tool, c.opts.Timeout, gateway.ErrTimeout)
		}
		return nil, fmt.Errorf("read invoke response: %w", err)
	}
	c.logger.Debug("tool invoked", "tool", tool, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp.StatusCode, string(data), settings.Token)
	}

	result := &Result{Status: resp.StatusCode}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || !json.Valid(trimmed) {
		result.Text = string(data)
		return result, nil
	}
	result.Body = json.RawMessage(trimmed)
	if msg, failed := reportedFailure(trimmed); failed {
		return nil, newAPIError(resp.StatusCode, msg, settings.Token)
	}
	return result, nil
}

// reportedFailure detects {"ok":false} or a non-empty "error" field.
func reportedFailure(body []byte) (string, bool) {
	var env struct {
		OK    *bool           `json:"ok"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return "", false
	}
	hasError := len(env.Error) > 0 && string(env.Error) != "null"
	if !hasError && (env.OK == nil || *env.OK) {
		return "", false
	}
	if !hasError {
		return "tool reported failure", true
	}
	var s string
	if json.Unmarshal(env.Error, &s) == nil {
		return s, true
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(env.Error, &obj) == nil && obj.Message != "" {
		return obj.Message, true
	}
	return string(env.Error), true
}

// Output extracts the textual output of a tool call. It understands plain
// text, {"result":"..."}, {"result":{"stdout":"..."}} and content blocks.
func (r *Result) Output() string {
	if r == nil {
		return ""
	}
	if len(r.Body) == 0 {
		return r.Text
	}
	var env struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(r.Body, &env); err != nil || len(env.Result) == 0 {
		return string(r.Body)
	}
	var s string
	if json.Unmarshal(env.Result, &s) == nil {
		return s
	}
	var out struct {
		Stdout  string `json:"stdout"`
		Output  string `json:"output"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	}
	if json.Unmarshal(env.Result, &out) == nil {
		switch {
		case out.Stdout != "":
			return out.Stdout
		case out.Output != "":
			return out.Output
		case len(out.Content) > 0:
			parts := make([]string, 0, len(out.Content))
			for _, block := range out.Content {
				parts = append(parts, block.Text)
			}
			return strings.Join(parts, "\n")
		}
	}
	return string(env.Result)
}

// Exec runs a shell command through the exec tool.
func (c *Client) Exec(ctx context.Context, command string) (*Result, error) {
	return c.Invoke(ctx, ToolExec, map[string]any{"command": command}, "")
}

// SwitchModel sends "/model <name>" to the chat channel.
func (c *Client) SwitchModel(ctx context.Context, model string) error {
	_, err := c.Exec(ctx, MessageCommand(c.opts.Command, c.opts.Channel, "/model "+model))
	return err
}

// ToggleReasoning sends "/reasoning" to the chat channel.
func (c *Client) ToggleReasoning(ctx context.Context) error {
	_, err := c.Exec(ctx, MessageCommand(c.opts.Command, c.opts.Channel, "/reasoning"))
	return err
}

// Restart restarts the gateway service.
func (c *Client) Restart(ctx context.Context) error {
	_, err := c.Exec(ctx, Quote(c.opts.Command)+" gateway restart")
	return err
}

// KillSubagents terminates sub-agents matching target.
func (c *Client) KillSubagents(ctx context.Context, target string) error {
	_, err := c.Invoke(ctx, ToolSubagents, map[string]any{"action": "kill", "target": target}, "")
	return err
}

// Heartbeat writes the heartbeat marker on the gateway host.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.Exec(ctx, WriteFileCommand(c.opts.HeartbeatFile, gateway.HeartbeatContent(time.Now())))
	return err
}

// Status runs the agent's status command and scrapes the output, falling
// back to `gateway status` when that fails or says nothing useful.
func (c *Client) Status(ctx context.Context) (gateway.Snapshot, error) {
	res, err := c.Exec(ctx, Quote(c.opts.Command)+" status")
	if errors.Is(err, gateway.ErrNotConnected) {
		return gateway.Snapshot{}, err
	}
	if err == nil {
		if snap, ok := statusparse.Status(res.Output()); ok {
			return snap, nil
		}
	} else {
		c.logger.Debug("status command failed, trying gateway status", "error", err)
	}
	res, err = c.Exec(ctx, Quote(c.opts.Command)+" gateway status")
	if err != nil {
		return gateway.Snapshot{}, err
	}
	return statusparse.Gateway(res.Output()), nil
}

var _ gateway.Transport = (*Client)(nil)
