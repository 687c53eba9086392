package panel_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/highclaw/clawdeck/internal/config"
	"github.com/highclaw/clawdeck/internal/panel"
	"github.com/highclaw/clawdeck/internal/panel/host"
	"github.com/highclaw/clawdeck/internal/panel/protocol"
)

type recordingHandler struct {
	mu       sync.Mutex
	infos    []map[string]string
	actions  []protocol.Action
	settings []map[string]string
	events   chan string
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{events: make(chan string, 16)}
}

func (r *recordingHandler) HandleInfo(_ context.Context, _ protocol.Info, settings map[string]string) {
	r.mu.Lock()
	r.infos = append(r.infos, settings)
	r.mu.Unlock()
	r.events <- protocol.TypeInfo
}

func (r *recordingHandler) HandleAction(_ context.Context, action protocol.Action) {
	r.mu.Lock()
	r.actions = append(r.actions, action)
	r.mu.Unlock()
	r.events <- protocol.TypeAction
}

func (r *recordingHandler) HandleSettings(_ context.Context, settings map[string]string) {
	r.mu.Lock()
	r.settings = append(r.settings, settings)
	r.mu.Unlock()
	r.events <- protocol.TypeSettings
}

func (r *recordingHandler) wait(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.events:
		if got != want {
			t.Fatalf("event = %s; want %s", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startPair(t *testing.T, ctx context.Context, transport string) (*host.Host, *panel.Client, *recordingHandler, chan error) {
	t.Helper()
	h, err := host.Listen("127.0.0.1:0", host.Options{
		Transport: transport,
		Path:      "/plugin",
		Settings:  map[string]string{"openclaw_gateway_url": "http://gw:18789"},
		Logger:    quietLogger(),
	})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { h.Close() })

	c, err := panel.Dial(ctx, panel.Options{
		Addr:      h.Addr(),
		Transport: transport,
		Path:      "/plugin",
		PluginID:  "openclaw.deckard",
	}, quietLogger())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	rec := newRecordingHandler()
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx, rec) }()

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	id, err := h.WaitPaired(waitCtx)
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	if id != "openclaw.deckard" {
		t.Fatalf("paired id = %q", id)
	}
	rec.wait(t, protocol.TypeInfo)
	return h, c, rec, runErr
}

func TestClientRoundTrip(t *testing.T) {
	for _, transport := range []string{config.PanelTCP, config.PanelWS} {
		t.Run(transport, func(t *testing.T) {
			h, c, rec, runErr := startPair(t, context.Background(), transport)

			rec.mu.Lock()
			if rec.infos[0]["openclaw_gateway_url"] != "http://gw:18789" {
				t.Fatalf("info settings = %v", rec.infos[0])
			}
			rec.mu.Unlock()

			if err := h.SendAction("openclaw_switch_model_gpt", protocol.ActionData{ID: "x", Value: "1"}); err != nil {
				t.Fatalf("send action: %v", err)
			}
			rec.wait(t, protocol.TypeAction)

			if err := h.SendSettings(map[string]string{"openclaw_gateway_token": "abc"}); err != nil {
				t.Fatalf("send settings: %v", err)
			}
			rec.wait(t, protocol.TypeSettings)

			rec.mu.Lock()
			if rec.actions[0].ActionID != "openclaw_switch_model_gpt" || rec.actions[0].Values()["x"] != "1" {
				t.Fatalf("action = %+v", rec.actions[0])
			}
			if rec.settings[0]["openclaw_gateway_token"] != "abc" {
				t.Fatalf("settings = %v", rec.settings[0])
			}
			rec.mu.Unlock()

			if err := c.UpdateStates(protocol.State{ID: "openclaw_agent_status", Value: "online"}); err != nil {
				t.Fatalf("update states: %v", err)
			}
			msg := <-h.Messages()
			states, err := msg.States()
			if err != nil || len(states) != 1 || states[0].Value != "online" {
				t.Fatalf("state update = %+v, %v", states, err)
			}

			if err := c.Notify("hello"); err != nil {
				t.Fatalf("notify: %v", err)
			}
			msg = <-h.Messages()
			n, err := msg.Notification()
			if err != nil || n.ID != "openclaw.deckard" || n.Message != "hello" {
				t.Fatalf("notification = %+v, %v", n, err)
			}

			if err := h.ClosePlugin(); err != nil {
				t.Fatalf("close plugin: %v", err)
			}
			select {
			case err := <-runErr:
				if err != nil {
					t.Fatalf("Run after closePlugin = %v; want nil", err)
				}
			case <-time.After(3 * time.Second):
				t.Fatal("Run did not return after closePlugin")
			}
		})
	}
}

func TestClientDiscardsMalformedFrames(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	c, err := panel.Dial(context.Background(), panel.Options{Addr: ln.Addr().String(), PluginID: "p"}, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	server := <-accepted
	defer server.Close()

	rec := newRecordingHandler()
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(context.Background(), rec) }()

	frames := "not json\n{\"type\":\"settings\",\"values\":42}\n{\"type\":\"mystery\"}\n\n" +
		`{"type":"settings","values":[{"a":"1"},{"b":2}]}` + "\n"
	if _, err := server.Write([]byte(frames)); err != nil {
		t.Fatal(err)
	}
	rec.wait(t, protocol.TypeSettings)

	rec.mu.Lock()
	got := rec.settings
	rec.mu.Unlock()
	if len(got) != 1 || got[0]["a"] != "1" || got[0]["b"] != "2" {
		t.Fatalf("settings = %v", got)
	}

	server.Close()
	select {
	case err := <-runErr:
		if !errors.Is(err, panel.ErrConnectionLost) {
			t.Fatalf("Run = %v; want ErrConnectionLost", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after host closed")
	}
}

func TestClientRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, _, _, runErr := startPair(t, ctx, config.PanelTCP)

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("Run after cancel = %v; want nil", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestDialRequiresPluginID(t *testing.T) {
	if _, err := panel.Dial(context.Background(), panel.Options{Addr: "127.0.0.1:1"}, nil); err == nil {
		t.Fatal("expected error for empty plugin id")
	}
}
