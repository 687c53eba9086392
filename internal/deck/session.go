// Package deck turns panel button presses into agent commands and keeps the
// panel's status states current.
//
// A Session owns everything one bridge process needs: the panel publisher,
// the agent transport, the settings store and the optional journal and
// metrics sinks. Handlers are methods on the session; there is no package
// state.
package deck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/highclaw/clawdeck/internal/gateway"
	"github.com/highclaw/clawdeck/internal/gateway/statusparse"
	"github.com/highclaw/clawdeck/internal/panel/protocol"
	"github.com/highclaw/clawdeck/internal/system/journal"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultSettleDelay  = 1500 * time.Millisecond
	defaultCallTimeout  = 10 * time.Second
)

// Publisher sends states and toasts to the panel host.
type Publisher interface {
	UpdateStates(states ...protocol.State) error
	Notify(message string) error
}

// Journal records dispatched actions.
type Journal interface {
	Record(ctx context.Context, e *journal.Entry) error
}

// Metrics observes session activity.
type Metrics interface {
	ActionDispatched(actionID, outcome string, d time.Duration)
	StatusPolled(status string, err error)
}

// Options configures a Session.
type Options struct {
	Publisher Publisher
	Transport gateway.Transport
	Settings  *gateway.SettingsStore
	Journal   Journal
	Metrics   Metrics
	Logger    *slog.Logger

	PollInterval time.Duration
	SettleDelay  time.Duration
	CallTimeout  time.Duration

	// Now and AfterFunc default to the time package.
	Now       func() time.Time
	AfterFunc func(d time.Duration, f func()) *time.Timer
}

// Session is the explicit context shared by all handlers.
type Session struct {
	publisher Publisher
	transport gateway.Transport
	settings  *gateway.SettingsStore
	journal   Journal
	metrics   Metrics
	logger    *slog.Logger

	pollInterval time.Duration
	settleDelay  time.Duration
	callTimeout  time.Duration
	now          func() time.Time
	afterFunc    func(d time.Duration, f func()) *time.Timer

	startedAt time.Time

	mu       sync.Mutex
	last     gateway.Snapshot
	timers   map[*time.Timer]struct{}
	closed   bool
	pollOnce sync.Once
	stopPoll context.CancelFunc
	wg       sync.WaitGroup
}

// NewSession builds a session. Publisher and Transport are required.
func NewSession(opts Options) (*Session, error) {
	if opts.Publisher == nil {
		return nil, errors.New("deck: publisher is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("deck: transport is required")
	}
	if opts.Settings == nil {
		opts.Settings = gateway.NewSettingsStore(gateway.Settings{})
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = defaultCallTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = time.AfterFunc
	}
	s := &Session{
		publisher:    opts.Publisher,
		transport:    opts.Transport,
		settings:     opts.Settings,
		journal:      opts.Journal,
		metrics:      opts.Metrics,
		logger:       opts.Logger.With("component", "deck"),
		pollInterval: opts.PollInterval,
		settleDelay:  opts.SettleDelay,
		callTimeout:  opts.CallTimeout,
		now:          opts.Now,
		afterFunc:    opts.AfterFunc,
		timers:       make(map[*time.Timer]struct{}),
	}
	s.startedAt = s.now()
	return s, nil
}

// HandleInfo applies the pairing settings, publishes "connecting" and starts
// the poller.
func (s *Session) HandleInfo(ctx context.Context, info protocol.Info, settings map[string]string) {
	s.logger.Info("panel host connected", "version", info.TPVersionString)
	s.applySettings(settings)
	s.setStatus(gateway.StatusConnecting)
	s.publish(protocol.State{ID: StateStatus, Value: gateway.StatusConnecting})
	s.StartPoller(ctx)
}

// HandleSettings applies changed settings.
func (s *Session) HandleSettings(_ context.Context, settings map[string]string) {
	s.applySettings(settings)
}

// HandleAction dispatches a button press in its own goroutine so the panel
// read loop never blocks on the agent.
func (s *Session) HandleAction(ctx context.Context, action protocol.Action) {
	if !s.track() {
		return
	}
	go func() {
		defer s.wg.Done()
		s.Dispatch(ctx, action.ActionID, action.Values())
	}()
}

func (s *Session) applySettings(values map[string]string) {
	if len(values) == 0 {
		return
	}
	if s.settings.Apply(values) {
		st := s.settings.Get()
		s.logger.Info("settings updated", "endpoint", st.Endpoint, "executable", st.ExecutablePath, "workspace", st.WorkspaceDir)
	}
}

// track registers a background task unless the session is closed.
func (s *Session) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

// StartPoller starts the periodic status poll. The first poll runs at once.
// Later calls are no-ops.
func (s *Session) StartPoller(ctx context.Context) {
	s.pollOnce.Do(func() {
		if !s.track() {
			return
		}
		ctx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.stopPoll = cancel
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			s.poll(ctx)
		}()
	})
}

func (s *Session) poll(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.Refresh(ctx)
	for {
		select {
		case <-ticker.C:
			s.Refresh(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Refresh queries the transport and publishes model, status and uptime.
func (s *Session) Refresh(ctx context.Context) gateway.Snapshot {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	snap, err := s.transport.Status(callCtx)
	cancel()
	if ctx.Err() != nil {
		return s.Snapshot()
	}

	if err != nil {
		status := gateway.StatusError
		if errors.Is(err, gateway.ErrNotConnected) {
			status = gateway.StatusOffline
		}
		s.logger.Debug("status poll failed", "status", status, "error", err)
		if s.metrics != nil {
			s.metrics.StatusPolled(status, err)
		}
		snap = gateway.Snapshot{Status: status}
	} else if s.metrics != nil {
		s.metrics.StatusPolled(snap.Status, nil)
	}
	return s.ApplySnapshot(snap)
}

// ApplySnapshot merges a snapshot into the last known state and publishes
// it. An empty model keeps the previous one; an empty uptime falls back to
// the bridge's own uptime.
func (s *Session) ApplySnapshot(snap gateway.Snapshot) gateway.Snapshot {
	s.mu.Lock()
	if snap.Model == "" {
		snap.Model = s.last.Model
	}
	if snap.Model == "" {
		snap.Model = statusparse.UnknownModel
	}
	if snap.Status == "" {
		snap.Status = gateway.StatusOnline
	}
	if snap.Uptime == "" {
		snap.Uptime = fmt.Sprintf("%ds", int(s.now().Sub(s.startedAt).Seconds()))
	}
	s.last = snap
	s.mu.Unlock()

	s.publish(
		protocol.State{ID: StateModel, Value: snap.Model},
		protocol.State{ID: StateStatus, Value: snap.Status},
		protocol.State{ID: StateUptime, Value: snap.Uptime},
	)
	return snap
}

// Snapshot returns the last published state.
func (s *Session) Snapshot() gateway.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// TransportName reports which transport the session drives.
func (s *Session) TransportName() string {
	return s.transport.Name()
}

func (s *Session) setModel(model string) {
	s.mu.Lock()
	s.last.Model = model
	s.mu.Unlock()
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	s.last.Status = status
	s.mu.Unlock()
}

// scheduleRefresh polls once after the settle delay. The refresh outlives
// the caller's context; Close stops it.
func (s *Session) scheduleRefresh(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	var t *time.Timer
	s.wg.Add(1)
	t = s.afterFunc(s.settleDelay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		_, live := s.timers[t]
		delete(s.timers, t)
		s.mu.Unlock()
		if live {
			s.Refresh(ctx)
		}
	})
	s.timers[t] = struct{}{}
}

func (s *Session) publish(states ...protocol.State) {
	if err := s.publisher.UpdateStates(states...); err != nil {
		s.logger.Warn("state update failed", "error", err)
	}
}

func (s *Session) notify(message string) {
	if err := s.publisher.Notify(message); err != nil {
		s.logger.Warn("notification failed", "error", err)
	}
}

// Close stops the poller and pending refreshes and waits for in-flight work.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stop := s.stopPoll
	for t := range s.timers {
		if t.Stop() {
			s.wg.Done()
		}
		delete(s.timers, t)
	}
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.wg.Wait()
	return nil
}
