package gateway

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestSettingsStoreApply(t *testing.T) {
	st := NewSettingsStore(Settings{Endpoint: "http://127.0.0.1:18789", ExecutablePath: "/usr/local/bin/openclaw"})

	changed := st.Apply(map[string]string{
		SettingGatewayToken: "abc",
		SettingGatewayURL:   "",
		"unrelated":         "x",
	})
	if !changed {
		t.Fatal("Apply reported no change")
	}
	got := st.Get()
	if got.Token != "abc" {
		t.Fatalf("token = %q", got.Token)
	}
	if got.Endpoint != "http://127.0.0.1:18789" {
		t.Fatalf("empty value overwrote endpoint: %q", got.Endpoint)
	}

	if st.Apply(map[string]string{SettingGatewayToken: "abc"}) {
		t.Fatal("Apply reported change for identical value")
	}

	st.Apply(map[string]string{SettingPath: "/opt/openclaw", SettingWorkspace: "/tmp/ws"})
	got = st.Get()
	if got.ExecutablePath != "/opt/openclaw" || got.WorkspaceDir != "/tmp/ws" {
		t.Fatalf("local settings = %+v", got)
	}
}

func TestSettingsStoreConcurrent(t *testing.T) {
	st := NewSettingsStore(Settings{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.Apply(map[string]string{SettingGatewayToken: "t"})
		}()
		go func() {
			defer wg.Done()
			_ = st.Get()
		}()
	}
	wg.Wait()
	if st.Get().Token != "t" {
		t.Fatalf("token = %q", st.Get().Token)
	}
}

func TestHeartbeatContent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	got := HeartbeatContent(ts)
	if !strings.HasPrefix(got, "# Heartbeat") || !strings.Contains(got, "2026-03-01T12:00:00Z") {
		t.Fatalf("content = %q", got)
	}
}
