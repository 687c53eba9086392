// Package rpc is the WebSocket JSON-RPC transport to the agent gateway.
//
// The client keeps one socket open while its context lives. When the socket
// closes it waits a fixed delay and dials again, forever. Calls are matched to
// responses through a pending table keyed by request id; responses with an
// unknown id are dropped.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/highclaw/clawdeck/internal/gateway"
	"github.com/highclaw/clawdeck/internal/gateway/protocol"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultPingInterval   = 30 * time.Second
	readTimeout           = 60 * time.Second
	writeTimeout          = 10 * time.Second
	maxMessageBytes       = 1 << 20
)

// DialFunc opens a websocket to url.
type DialFunc func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)

// Options configures a Client.
type Options struct {
	Settings       *gateway.SettingsStore
	Channel        string
	HeartbeatFile  string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	Logger         *slog.Logger

	// Dial and After default to gorilla's dialer and time.After.
	Dial  DialFunc
	After func(d time.Duration) <-chan time.Time

	// OnStatus receives status pushed by the gateway without a request.
	OnStatus func(gateway.Snapshot)
	// OnReconnect is called before every redial.
	OnReconnect func()
}

// Client is a reconnecting JSON-RPC client. It implements gateway.Transport.
type Client struct {
	opts   Options
	logger *slog.Logger
	nextID atomic.Int64

	mu      sync.Mutex
	conn    *connection
	pending map[int64]chan *protocol.Response

	startOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc
}

type connection struct {
	ws     *websocket.Conn
	sendCh chan []byte
	closed chan struct{}
}

// New builds a client. Call Start to connect.
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
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dial == nil {
		opts.Dial = func(ctx context.Context, u string, h http.Header) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, h)
			return conn, err
		}
	}
	if opts.After == nil {
		opts.After = time.After
	}
	return &Client{
		opts:    opts,
		logger:  opts.Logger.With("component", "rpc"),
		pending: make(map[int64]chan *protocol.Response),
		done:    make(chan struct{}),
	}
}

// Name implements gateway.Transport.
func (c *Client) Name() string { return "rpc" }

// Start runs the connect loop in the background until ctx ends or Close.
func (c *Client) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		c.cancel = cancel
		go func() {
			defer close(c.done)
			c.run(ctx)
		}()
	})
}

// Close stops the connect loop and drops the socket.
func (c *Client) Close() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	<-c.done
	return nil
}

// Connected reports whether a socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) run(ctx context.Context) {
	for {
		ws, err := c.dial(ctx)
		if err == nil {
			c.serve(ctx, ws)
		} else if ctx.Err() == nil {
			c.logger.Warn("gateway dial failed", "error", err)
		}

		if ctx.Err() != nil {
			return
		}
		c.logger.Info("reconnecting to gateway", "delay", c.opts.ReconnectDelay)
		select {
		case <-c.opts.After(c.opts.ReconnectDelay):
		case <-ctx.Done():
			return
		}
		if c.opts.OnReconnect != nil {
			c.opts.OnReconnect()
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := WebSocketURL(c.opts.Settings.Get().Endpoint)
	if err != nil {
		return nil, err
	}
	dialCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	ws, err := c.opts.Dial(dialCtx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	c.logger.Info("connected to gateway", "url", u)
	return ws, nil
}

// serve pumps one socket until it closes.
func (c *Client) serve(ctx context.Context, ws *websocket.Conn) {
	conn := &connection{
		ws:     ws,
		sendCh: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	go c.writePump(ctx, conn)
	c.readPump(conn)

	c.mu.Lock()
	c.conn = nil
	pending := c.pending
	c.pending = make(map[int64]chan *protocol.Response)
	c.mu.Unlock()

	close(conn.closed)
	ws.Close()
	for _, ch := range pending {
		close(ch)
	}
	c.logger.Info("gateway connection closed", "failedCalls", len(pending))
}

func (c *Client) readPump(conn *connection) {
	conn.ws.SetReadLimit(maxMessageBytes)
	conn.ws.SetReadDeadline(time.Now().Add(readTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("gateway read error", "error", err)
			}
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(readTimeout))
		c.handleMessage(data)
	}
}

func (c *Client) writePump(ctx context.Context, conn *connection) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-conn.sendCh:
			conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("gateway write error", "error", err)
				conn.ws.Close()
				return
			}
		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.ws.Close()
				return
			}
		case <-conn.closed:
			return
		case <-ctx.Done():
			conn.ws.SetWriteDeadline(time.Now().Add(time.Second))
			conn.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.ws.Close()
			return
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	var msg protocol.Response
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("invalid gateway message", "error", err)
		return
	}

	if msg.IsNotification() {
		c.handleNotification(&msg)
		return
	}
	if msg.ID == nil {
		c.logger.Debug("gateway message without id dropped")
		return
	}

	c.mu.Lock()
	ch, ok := c.pending[*msg.ID]
	delete(c.pending, *msg.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("response for unknown request dropped", "id", *msg.ID)
		return
	}
	ch <- &msg
}

func (c *Client) handleNotification(msg *protocol.Response) {
	if c.opts.OnStatus == nil || len(msg.Params) == 0 {
		return
	}
	var res protocol.StatusResult
	if err := json.Unmarshal(msg.Params, &res); err != nil || res.Status.Model == "" {
		return
	}
	c.opts.OnStatus(snapshotOf(res.Status))
}

// Send writes a request without waiting for the reply. When no socket is
// open it logs and returns ok=false.
func (c *Client) Send(method string, params map[string]any) (id int64, ok bool) {
	id, err := c.send(method, params, nil)
	if err != nil {
		c.logger.Warn("rpc send skipped", "method", method, "error", err)
		return 0, false
	}
	return id, true
}

func (c *Client) send(method string, params map[string]any, reply chan *protocol.Response) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return 0, gateway.ErrNotConnected
	}

	req := protocol.Request{
		JSONRPC: protocol.Version,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  withToken(params, c.opts.Settings.Get().Token),
	}
	data, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("marshal %s: %w", method, err)
	}

	select {
	case c.conn.sendCh <- data:
	default:
		return 0, errors.New("send buffer full")
	}
	if reply != nil {
		c.pending[req.ID] = reply
	}
	c.logger.Debug("rpc request", "method", method, "id", req.ID)
	return req.ID, nil
}

// Call sends a request and waits for the response with the same id.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	reply := make(chan *protocol.Response, 1)
	id, err := c.send(method, params, reply)
	if err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return nil, fmt.Errorf("%s: %w", method, gateway.ErrNotConnected)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %w", method, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", method, gateway.ErrTimeout)
		}
		return nil, ctx.Err()
	}
}

func withToken(params map[string]any, token string) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	if token != "" {
		out["token"] = token
	}
	return out
}

// SwitchModel sends "/model <name>" to the chat channel.
func (c *Client) SwitchModel(ctx context.Context, model string) error {
	return c.message(ctx, "/model "+model)
}

// ToggleReasoning sends "/reasoning" to the chat channel.
func (c *Client) ToggleReasoning(ctx context.Context) error {
	return c.message(ctx, "/reasoning")
}

func (c *Client) message(ctx context.Context, text string) error {
	_, err := c.Call(ctx, protocol.MethodMessageSend, map[string]any{
		"channel": c.opts.Channel,
		"message": text,
	})
	return err
}

// Restart asks the gateway to restart itself.
func (c *Client) Restart(ctx context.Context) error {
	_, err := c.Call(ctx, protocol.MethodGatewayRestart, nil)
	return err
}

// KillSubagents terminates sub-agents matching target.
func (c *Client) KillSubagents(ctx context.Context, target string) error {
	_, err := c.Call(ctx, protocol.MethodSubagentsKill, map[string]any{"target": target})
	return err
}

// Heartbeat writes the heartbeat marker file in the agent workspace.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.Call(ctx, protocol.MethodFileWrite, map[string]any{
		"path":    c.opts.HeartbeatFile,
		"content": gateway.HeartbeatContent(time.Now()),
	})
	return err
}

// Status queries status.get.
func (c *Client) Status(ctx context.Context) (gateway.Snapshot, error) {
	raw, err := c.Call(ctx, protocol.MethodStatusGet, nil)
	if err != nil {
		return gateway.Snapshot{}, err
	}
	var res protocol.StatusResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return gateway.Snapshot{}, fmt.Errorf("decode status: %w", err)
	}
	return snapshotOf(res.Status), nil
}

func snapshotOf(info protocol.StatusInfo) gateway.Snapshot {
	status := info.State
	if status == "" {
		status = gateway.StatusOnline
	}
	return gateway.Snapshot{Model: info.Model, Status: status, Uptime: info.Uptime}
}

// WebSocketURL turns a gateway endpoint into a websocket URL. http and https
// map to ws and wss; a bare host:port gets ws://.
func WebSocketURL(endpoint string) (string, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return "", errors.New("gateway endpoint is empty")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "ws://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse gateway endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported gateway scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("gateway endpoint %q has no host", endpoint)
	}
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String(), nil
}

var _ gateway.Transport = (*Client)(nil)
