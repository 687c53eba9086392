// Package host is a minimal stand-in for the panel host. It accepts plugin
// connections, answers pair with info, and lets the caller push actions,
// settings and closePlugin while observing what the plugin publishes.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/highclaw/clawdeck/internal/config"
	"github.com/highclaw/clawdeck/internal/panel"
	"github.com/highclaw/clawdeck/internal/panel/protocol"
)

// ErrNoPlugin is returned when no plugin has paired yet.
var ErrNoPlugin = errors.New("no plugin connected")

// Message is one frame received from the plugin.
type Message struct {
	Type string
	Raw  json.RawMessage
	At   time.Time
}

// States decodes a stateUpdate message.
func (m Message) States() ([]protocol.State, error) {
	var su protocol.StateUpdate
	if err := json.Unmarshal(m.Raw, &su); err != nil {
		return nil, err
	}
	return su.States, nil
}

// Notification decodes a showNotification message.
func (m Message) Notification() (protocol.Notification, error) {
	var sn protocol.ShowNotification
	if err := json.Unmarshal(m.Raw, &sn); err != nil {
		return protocol.Notification{}, err
	}
	return sn.Notification, nil
}

// Options configures a Host.
type Options struct {
	Transport string            // "tcp" or "ws"
	Path      string            // websocket path
	Settings  map[string]string // sent with info on pair, array form
	Version   string
	Logger    *slog.Logger
}

// Host is a listening mock panel host.
type Host struct {
	opts     Options
	ln       net.Listener
	httpSrv  *http.Server
	logger   *slog.Logger
	messages chan Message
	paired   chan string
	done     chan struct{}

	mu       sync.Mutex
	conn     panel.FrameConn
	pluginID string
	closed   bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Listen starts a host on addr. Use "127.0.0.1:0" for an ephemeral port.
func Listen(addr string, opts Options) (*Host, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Version == "" {
		opts.Version = "mock"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	h := &Host{
		opts:     opts,
		ln:       ln,
		logger:   opts.Logger.With("component", "panel-host"),
		messages: make(chan Message, 256),
		paired:   make(chan string, 8),
		done:     make(chan struct{}),
	}

	switch opts.Transport {
	case "", config.PanelTCP:
		go h.acceptLoop()
	case config.PanelWS:
		path := opts.Path
		if path == "" {
			path = "/"
		}
		mux := http.NewServeMux()
		mux.HandleFunc(path, h.handleWS)
		h.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := h.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.logger.Error("websocket host stopped", "error", err)
			}
		}()
	default:
		ln.Close()
		return nil, fmt.Errorf("unsupported transport %q", opts.Transport)
	}
	return h, nil
}

// Addr returns the listening address.
func (h *Host) Addr() string {
	return h.ln.Addr().String()
}

// Port returns the listening port.
func (h *Host) Port() int {
	if tcp, ok := h.ln.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Messages delivers every frame the plugin sends after pairing.
func (h *Host) Messages() <-chan Message {
	return h.messages
}

// Paired delivers the plugin id each time a plugin pairs.
func (h *Host) Paired() <-chan string {
	return h.paired
}

// PluginID returns the id of the currently paired plugin.
func (h *Host) PluginID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pluginID
}

func (h *Host) acceptLoop() {
	for {
		conn, err := h.ln.Accept()
		if err != nil {
			select {
			case <-h.done:
			default:
				h.logger.Error("accept failed", "error", err)
			}
			return
		}
		go h.serve(panel.NewLineConn(conn))
	}
}

func (h *Host) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	h.serve(panel.NewWSConn(conn))
}

func (h *Host) serve(conn panel.FrameConn) {
	defer conn.Close()
	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			h.detach(conn)
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(frame, &env); err != nil {
			h.logger.Warn("plugin sent malformed frame", "error", err)
			continue
		}
		if env.Type == protocol.TypePair {
			var p protocol.Pair
			_ = json.Unmarshal(frame, &p)
			if err := h.attach(conn, p.ID); err != nil {
				h.logger.Error("reply info failed", "error", err)
				return
			}
			continue
		}
		select {
		case h.messages <- Message{Type: env.Type, Raw: json.RawMessage(frame), At: time.Now()}:
		case <-h.done:
			return
		}
	}
}

func (h *Host) attach(conn panel.FrameConn, pluginID string) error {
	h.mu.Lock()
	h.conn = conn
	h.pluginID = pluginID
	h.mu.Unlock()

	info := protocol.Info{
		Type:            protocol.TypeInfo,
		TPVersionString: h.opts.Version,
		Settings:        settingsArray(h.opts.Settings),
	}
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(data); err != nil {
		return err
	}
	h.logger.Info("plugin paired", "plugin", pluginID)
	select {
	case h.paired <- pluginID:
	default:
	}
	return nil
}

func (h *Host) detach(conn panel.FrameConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conn == conn {
		h.conn = nil
	}
}

func settingsArray(values map[string]string) json.RawMessage {
	if len(values) == 0 {
		return nil
	}
	seq := make([]map[string]string, 0, len(values))
	for k, v := range values {
		seq = append(seq, map[string]string{k: v})
	}
	data, _ := json.Marshal(seq)
	return data
}

// Send writes a raw message to the paired plugin.
func (h *Host) Send(msg any) error {
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn == nil {
		return ErrNoPlugin
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteFrame(data)
}

// SendAction presses a button.
func (h *Host) SendAction(actionID string, data ...protocol.ActionData) error {
	return h.Send(protocol.Action{
		Type:     protocol.TypeAction,
		PluginID: h.PluginID(),
		ActionID: actionID,
		Data:     data,
	})
}

// SendSettings pushes changed settings as a flat mapping.
func (h *Host) SendSettings(values map[string]string) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return h.Send(protocol.Settings{Type: protocol.TypeSettings, Values: raw})
}

// ClosePlugin asks the plugin to shut down.
func (h *Host) ClosePlugin() error {
	return h.Send(protocol.Envelope{Type: protocol.TypeClosePlugin})
}

// WaitPaired blocks until a plugin pairs or ctx ends.
func (h *Host) WaitPaired(ctx context.Context) (string, error) {
	select {
	case id := <-h.paired:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops listening and drops the plugin connection.
func (h *Host) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()

	close(h.done)
	if conn != nil {
		conn.Close()
	}
	if h.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return h.httpSrv.Shutdown(ctx)
	}
	return h.ln.Close()
}
