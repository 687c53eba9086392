package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/highclaw/clawdeck/internal/gateway"
	"github.com/highclaw/clawdeck/internal/gateway/protocol"
)

type fakeGateway struct {
	srv   *httptest.Server
	conns atomic.Int32
}

// newFakeGateway serves handle on every accepted socket.
func newFakeGateway(t *testing.T, handle func(ws *websocket.Conn)) *fakeGateway {
	t.Helper()
	g := &fakeGateway{}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	g.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		g.conns.Add(1)
		defer ws.Close()
		handle(ws)
	}))
	t.Cleanup(g.srv.Close)
	return g
}

func readRequest(ws *websocket.Conn) (protocol.Request, error) {
	var req protocol.Request
	_, data, err := ws.ReadMessage()
	if err != nil {
		return req, err
	}
	err = json.Unmarshal(data, &req)
	return req, err
}

func reply(ws *websocket.Conn, id int64, result any) error {
	raw, _ := json.Marshal(result)
	return ws.WriteJSON(protocol.Response{JSONRPC: protocol.Version, ID: &id, Result: raw})
}

func newTestClient(t *testing.T, g *fakeGateway, mutate func(*Options)) *Client {
	t.Helper()
	opts := Options{
		Settings: gateway.NewSettingsStore(gateway.Settings{Endpoint: g.srv.URL, Token: "secret"}),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if mutate != nil {
		mutate(&opts)
	}
	c := New(opts)
	c.Start(context.Background())
	t.Cleanup(func() { c.Close() })
	return c
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !c.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("client never connected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCallResolvesByMatchingID(t *testing.T) {
	g := newFakeGateway(t, func(ws *websocket.Conn) {
		first, err := readRequest(ws)
		if err != nil {
			return
		}
		second, err := readRequest(ws)
		if err != nil {
			return
		}
		// Unknown id first, then answers in reverse order.
		_ = reply(ws, 999, map[string]string{"who": "nobody"})
		_ = reply(ws, second.ID, map[string]string{"who": second.Method})
		_ = reply(ws, first.ID, map[string]string{"who": first.Method})
		_, _, _ = ws.ReadMessage()
	})
	c := newTestClient(t, g, nil)
	waitConnected(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	type result struct {
		raw json.RawMessage
		err error
	}
	restart := make(chan result, 1)
	go func() {
		raw, err := c.Call(ctx, protocol.MethodGatewayRestart, nil)
		restart <- result{raw, err}
	}()
	// Give the first call a head start so request order is fixed.
	time.Sleep(50 * time.Millisecond)
	raw, err := c.Call(ctx, protocol.MethodStatusGet, nil)
	if err != nil {
		t.Fatalf("status call: %v", err)
	}
	if string(raw) != `{"who":"status.get"}` {
		t.Fatalf("status result = %s", raw)
	}
	r := <-restart
	if r.err != nil || string(r.raw) != `{"who":"gateway.restart"}` {
		t.Fatalf("restart result = %s, %v", r.raw, r.err)
	}
}

func TestCallInjectsToken(t *testing.T) {
	got := make(chan protocol.Request, 1)
	g := newFakeGateway(t, func(ws *websocket.Conn) {
		req, err := readRequest(ws)
		if err != nil {
			return
		}
		got <- req
		_ = reply(ws, req.ID, map[string]bool{"ok": true})
		_, _, _ = ws.ReadMessage()
	})
	c := newTestClient(t, g, func(o *Options) { o.Channel = "desk" })
	waitConnected(t, c)

	if err := c.SwitchModel(context.Background(), "openai/gpt-4o"); err != nil {
		t.Fatalf("switch model: %v", err)
	}
	req := <-got
	if req.JSONRPC != "2.0" || req.Method != protocol.MethodMessageSend {
		t.Fatalf("envelope = %+v", req)
	}
	if req.Params["token"] != "secret" {
		t.Fatalf("token = %v", req.Params["token"])
	}
	if req.Params["channel"] != "desk" || req.Params["message"] != "/model openai/gpt-4o" {
		t.Fatalf("params = %v", req.Params)
	}
}

func TestSendWhenDisconnectedIsNoop(t *testing.T) {
	c := New(Options{
		Settings: gateway.NewSettingsStore(gateway.Settings{Endpoint: "ws://127.0.0.1:1"}),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if id, ok := c.Send(protocol.MethodStatusGet, nil); ok || id != 0 {
		t.Fatalf("Send = (%d, %v); want (0, false)", id, ok)
	}
	if _, err := c.Status(context.Background()); !errors.Is(err, gateway.ErrNotConnected) {
		t.Fatalf("Status err = %v; want ErrNotConnected", err)
	}
}

func TestCallTimeout(t *testing.T) {
	g := newFakeGateway(t, func(ws *websocket.Conn) {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	c := newTestClient(t, g, nil)
	waitConnected(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Call(ctx, protocol.MethodStatusGet, nil); !errors.Is(err, gateway.ErrTimeout) {
		t.Fatalf("err = %v; want ErrTimeout", err)
	}
	c.mu.Lock()
	n := len(c.pending)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("pending table not cleaned: %d entries", n)
	}
}

func TestPendingCallsFailOnDisconnect(t *testing.T) {
	g := newFakeGateway(t, func(ws *websocket.Conn) {
		_, _ = readRequest(ws)
	})
	c := newTestClient(t, g, func(o *Options) {
		o.After = func(time.Duration) <-chan time.Time { return make(chan time.Time) }
	})
	waitConnected(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := c.Call(ctx, protocol.MethodStatusGet, nil); !errors.Is(err, gateway.ErrNotConnected) {
		t.Fatalf("err = %v; want ErrNotConnected", err)
	}
}

func TestReconnectWaitsFixedDelay(t *testing.T) {
	g := newFakeGateway(t, func(ws *websocket.Conn) {
		// Drop the link right away.
	})

	delays := make(chan time.Duration, 4)
	fire := make(chan time.Time)
	var reconnects atomic.Int32
	newTestClient(t, g, func(o *Options) {
		o.ReconnectDelay = 5 * time.Second
		o.After = func(d time.Duration) <-chan time.Time {
			delays <- d
			return fire
		}
		o.OnReconnect = func() { reconnects.Add(1) }
	})

	select {
	case d := <-delays:
		if d != 5*time.Second {
			t.Fatalf("reconnect delay = %v; want 5s", d)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("client never scheduled a reconnect")
	}

	time.Sleep(100 * time.Millisecond)
	if n := g.conns.Load(); n != 1 {
		t.Fatalf("connections before delay elapsed = %d; want 1", n)
	}

	fire <- time.Now()
	select {
	case d := <-delays:
		if d != 5*time.Second {
			t.Fatalf("second delay = %v; want 5s", d)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("client did not redial after the delay")
	}
	if n := g.conns.Load(); n != 2 {
		t.Fatalf("connections after delay = %d; want 2", n)
	}
	if n := reconnects.Load(); n != 1 {
		t.Fatalf("reconnect hook calls = %d; want 1", n)
	}
}

func TestStatusAndNotifications(t *testing.T) {
	pushed := make(chan gateway.Snapshot, 1)
	g := newFakeGateway(t, func(ws *websocket.Conn) {
		_ = ws.WriteJSON(map[string]any{
			"jsonrpc": "2.0",
			"method":  "status.changed",
			"params":  map[string]any{"status": map[string]string{"model": "openai/o3-mini"}},
		})
		req, err := readRequest(ws)
		if err != nil {
			return
		}
		_ = reply(ws, req.ID, protocol.StatusResult{Status: protocol.StatusInfo{Model: "anthropic/claude-sonnet-4", Uptime: "2h"}})
		_, _, _ = ws.ReadMessage()
	})
	c := newTestClient(t, g, func(o *Options) {
		o.OnStatus = func(s gateway.Snapshot) { pushed <- s }
	})
	waitConnected(t, c)

	select {
	case s := <-pushed:
		if s.Model != "openai/o3-mini" || s.Status != gateway.StatusOnline {
			t.Fatalf("pushed snapshot = %+v", s)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("notification not forwarded")
	}

	snap, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	want := gateway.Snapshot{Model: "anthropic/claude-sonnet-4", Status: gateway.StatusOnline, Uptime: "2h"}
	if snap != want {
		t.Fatalf("snapshot = %+v; want %+v", snap, want)
	}
}

func TestWebSocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"http://127.0.0.1:18789", "ws://127.0.0.1:18789/", false},
		{"https://gw.example.com/rpc", "wss://gw.example.com/rpc", false},
		{"ws://gw:1/x", "ws://gw:1/x", false},
		{"gw:18789", "ws://gw:18789/", false},
		{"", "", true},
		{"ftp://gw", "", true},
	}
	for _, tc := range tests {
		got, err := WebSocketURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("WebSocketURL(%q) = %q; want error", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("WebSocketURL(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}
