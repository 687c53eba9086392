// Package panel implements the plugin side of the panel host control channel.
//
// A Client holds the single persistent connection to the panel host. It
// identifies the plugin with a pair message, decodes inbound info, action,
// settings and closePlugin messages for a Handler, and publishes stateUpdate
// and showNotification messages. Frames that fail to decode are logged and
// dropped; they never tear the connection down.
package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/highclaw/clawdeck/internal/config"
	"github.com/highclaw/clawdeck/internal/panel/protocol"
)

// ErrConnectionLost is returned by Run when the panel host goes away.
var ErrConnectionLost = errors.New("panel connection lost")

// Handler receives decoded inbound messages. Calls are made from the read
// loop, one at a time; implementations must not block.
type Handler interface {
	HandleInfo(ctx context.Context, info protocol.Info, settings map[string]string)
	HandleAction(ctx context.Context, action protocol.Action)
	HandleSettings(ctx context.Context, settings map[string]string)
}

// Options configures a Client.
type Options struct {
	Addr        string // host:port
	Transport   string // "tcp" or "ws"
	Path        string // websocket path
	PluginID    string
	DialTimeout time.Duration
}

// OptionsFromConfig derives client options from the panel config section.
func OptionsFromConfig(cfg config.PanelConfig) Options {
	return Options{
		Addr:      cfg.Addr(),
		Transport: cfg.Transport,
		Path:      cfg.Path,
		PluginID:  cfg.PluginID,
	}
}

// Client is a connected panel control channel.
type Client struct {
	opts   Options
	conn   FrameConn
	logger *slog.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	closing   bool
}

// Dial connects to the panel host and sends the pair message.
func Dial(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	if opts.PluginID == "" {
		return nil, errors.New("panel: plugin id is required")
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := dialFrameConn(ctx, opts)
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts:   opts,
		conn:   conn,
		logger: logger.With("component", "panel"),
	}
	if err := c.send(protocol.NewPair(opts.PluginID)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send pair: %w", err)
	}
	c.logger.Info("paired with panel host", "addr", opts.Addr, "transport", opts.Transport, "plugin", opts.PluginID)
	return c, nil
}

func dialFrameConn(ctx context.Context, opts Options) (FrameConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	switch opts.Transport {
	case "", config.PanelTCP:
		var d net.Dialer
		conn, err := d.DialContext(dialCtx, "tcp", opts.Addr)
		if err != nil {
			return nil, fmt.Errorf("dial panel host %s: %w", opts.Addr, err)
		}
		return NewLineConn(conn), nil
	case config.PanelWS:
		path := opts.Path
		if path == "" {
			path = "/"
		}
		u := url.URL{Scheme: "ws", Host: opts.Addr, Path: path}
		conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("dial panel host %s: %w", u.String(), err)
		}
		return NewWSConn(conn), nil
	default:
		return nil, fmt.Errorf("panel: unsupported transport %q", opts.Transport)
	}
}

// PluginID returns the id the client paired with.
func (c *Client) PluginID() string {
	return c.opts.PluginID
}

// Run reads messages until the host sends closePlugin, the connection drops,
// or ctx is cancelled. closePlugin and cancellation return nil; a dropped
// connection returns an error wrapping ErrConnectionLost.
func (c *Client) Run(ctx context.Context, h Handler) error {
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		frame, err := c.conn.ReadFrame()
		if err != nil {
			if ctx.Err() != nil || c.isClosing() {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}
		if done := c.dispatch(ctx, frame, h); done {
			c.logger.Info("panel host requested plugin close")
			c.Close()
			return nil
		}
	}
}

// dispatch decodes one frame. It reports true when the host asked the plugin to close.
func (c *Client) dispatch(ctx context.Context, frame []byte, h Handler) bool {
	var env protocol.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		c.logger.Warn("discarding malformed frame", "error", err, "bytes", len(frame))
		return false
	}

	switch env.Type {
	case protocol.TypeInfo:
		var info protocol.Info
		if err := json.Unmarshal(frame, &info); err != nil {
			c.logger.Warn("discarding malformed info", "error", err)
			return false
		}
		settings, err := protocol.NormalizeSettings(info.Settings)
		if err != nil {
			c.logger.Warn("ignoring malformed info settings", "error", err)
			settings = map[string]string{}
		}
		h.HandleInfo(ctx, info, settings)
	case protocol.TypeAction:
		var action protocol.Action
		if err := json.Unmarshal(frame, &action); err != nil {
			c.logger.Warn("discarding malformed action", "error", err)
			return false
		}
		c.logger.Debug("action received", "actionId", action.ActionID)
		h.HandleAction(ctx, action)
	case protocol.TypeSettings:
		var msg protocol.Settings
		if err := json.Unmarshal(frame, &msg); err != nil {
			c.logger.Warn("discarding malformed settings", "error", err)
			return false
		}
		settings, err := protocol.NormalizeSettings(msg.Values)
		if err != nil {
			c.logger.Warn("discarding malformed settings", "error", err)
			return false
		}
		h.HandleSettings(ctx, settings)
	case protocol.TypeClosePlugin:
		return true
	default:
		c.logger.Debug("ignoring message", "type", env.Type)
	}
	return false
}

// UpdateStates publishes one stateUpdate carrying all states.
func (c *Client) UpdateStates(states ...protocol.State) error {
	if len(states) == 0 {
		return nil
	}
	return c.send(protocol.NewStateUpdate(states...))
}

// Notify shows a toast on the panel host.
func (c *Client) Notify(message string) error {
	return c.send(protocol.NewShowNotification(c.opts.PluginID, message))
}

func (c *Client) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal panel message: %w", err)
	}
	if err := c.conn.WriteFrame(data); err != nil {
		return fmt.Errorf("write panel message: %w", err)
	}
	return nil
}

func (c *Client) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}

// Close closes the connection. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closing = true
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}
