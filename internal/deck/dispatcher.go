package deck

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/highclaw/clawdeck/internal/gateway"
	"github.com/highclaw/clawdeck/internal/panel/protocol"
	"github.com/highclaw/clawdeck/internal/system/journal"
)

// Command kinds.
const (
	CommandSwitchModel     = "switch_model"
	CommandRestart         = "restart"
	CommandHeartbeat       = "heartbeat"
	CommandKillSubagents   = "kill_subagents"
	CommandToggleReasoning = "toggle_reasoning"
)

// maxToastDetail caps the error detail carried by failure toasts.
const maxToastDetail = 50

// ErrUnknownAction is returned by Dispatch for identifiers it does not handle.
var ErrUnknownAction = errors.New("unknown action")

// ErrMissingModel is returned when a generic switch carries no model name.
var ErrMissingModel = errors.New("no model specified")

// Command is a resolved logical command.
type Command struct {
	Kind  string
	Model string
}

// Resolve maps an action identifier and its data to a command.
func Resolve(actionID string, data map[string]string) (Command, error) {
	if model, ok := ModelFor(actionID); ok {
		return Command{Kind: CommandSwitchModel, Model: model}, nil
	}
	switch actionID {
	case ActionSwitchModel:
		for _, id := range modelDataIDs {
			if v := strings.TrimSpace(data[id]); v != "" {
				return Command{Kind: CommandSwitchModel, Model: v}, nil
			}
		}
		return Command{Kind: CommandSwitchModel}, ErrMissingModel
	case ActionResetGateway:
		return Command{Kind: CommandRestart}, nil
	case ActionTriggerHeartbeat:
		return Command{Kind: CommandHeartbeat}, nil
	case ActionKillSubagents:
		return Command{Kind: CommandKillSubagents}, nil
	case ActionToggleThinking:
		return Command{Kind: CommandToggleReasoning}, nil
	}
	return Command{}, ErrUnknownAction
}

// Result describes one dispatched action.
type Result struct {
	ActionID string        `json:"actionId"`
	Command  string        `json:"command,omitempty"`
	Model    string        `json:"model,omitempty"`
	Message  string        `json:"message,omitempty"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether the command succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Dispatch runs one action to completion and publishes its toast and state.
// Unknown identifiers send nothing and return ErrUnknownAction.
func (s *Session) Dispatch(ctx context.Context, actionID string, data map[string]string) Result {
	start := s.now()
	res := Result{ActionID: actionID}

	cmd, err := Resolve(actionID, data)
	res.Command = cmd.Kind
	res.Model = cmd.Model
	switch {
	case errors.Is(err, ErrUnknownAction):
		s.logger.Debug("ignoring unknown action", "actionId", actionID)
		res.Err = err
		s.finish(ctx, &res, start)
		return res
	case errors.Is(err, ErrMissingModel):
		res.Err = err
		res.Message = "Model switch failed: no model specified"
		s.notify(res.Message)
		s.finish(ctx, &res, start)
		return res
	}

	s.logger.Info("dispatching action", "actionId", actionID, "command", cmd.Kind, "transport", s.transport.Name())
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	switch cmd.Kind {
	case CommandSwitchModel:
		res.Err = s.transport.SwitchModel(callCtx, cmd.Model)
		if res.Err == nil {
			res.Message = "Switched model to " + cmd.Model
			s.notify(res.Message)
			s.setModel(cmd.Model)
			s.publish(protocol.State{ID: StateModel, Value: cmd.Model})
		} else {
			s.reportFailure(&res, "Model switch failed")
		}

	case CommandRestart:
		res.Message = "Gateway restart initiated"
		s.notify(res.Message)
		s.setStatus(gateway.StatusRestarting)
		s.publish(protocol.State{ID: StateStatus, Value: gateway.StatusRestarting})
		// The gateway may drop the link while restarting; errors only get logged.
		if err := s.transport.Restart(callCtx); err != nil {
			s.logger.Warn("gateway restart reported an error", "error", err)
		}

	case CommandHeartbeat:
		s.complete(&res, s.transport.Heartbeat(callCtx), "Heartbeat triggered", "Heartbeat failed")

	case CommandKillSubagents:
		s.complete(&res, s.transport.KillSubagents(callCtx, "all"), "Sub-agents killed", "Kill sub-agents failed")

	case CommandToggleReasoning:
		s.complete(&res, s.transport.ToggleReasoning(callCtx), "Reasoning toggled", "Toggle reasoning failed")
	}

	if res.Err == nil {
		s.scheduleRefresh(ctx)
	} else {
		s.logger.Warn("action failed", "actionId", actionID, "error", res.Err)
	}
	s.finish(ctx, &res, start)
	return res
}

// finish records the outcome in the journal and metrics.
func (s *Session) finish(ctx context.Context, res *Result, start time.Time) {
	res.Duration = s.now().Sub(start)

	outcome := journal.StatusSuccess
	switch {
	case errors.Is(res.Err, ErrUnknownAction):
		outcome = journal.StatusIgnored
	case res.Err != nil:
		outcome = journal.StatusError
	}
	if s.metrics != nil {
		s.metrics.ActionDispatched(res.ActionID, outcome, res.Duration)
	}
	if s.journal == nil {
		return
	}
	entry := &journal.Entry{
		ActionID:   res.ActionID,
		Command:    res.Command,
		Model:      res.Model,
		Transport:  s.transport.Name(),
		Status:     outcome,
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		entry.ErrorMessage = res.Err.Error()
	}
	if err := s.journal.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("journal write failed", "error", err)
	}
}

// complete toasts the outcome of a command that only reports success or failure.
func (s *Session) complete(res *Result, err error, done, prefix string) {
	res.Err = err
	if err != nil {
		s.reportFailure(res, prefix)
		return
	}
	res.Message = done
	s.notify(res.Message)
}

// reportFailure toasts a remote failure. A transport that is not connected
// gets no toast; the panel shows offline instead.
func (s *Session) reportFailure(res *Result, prefix string) {
	if errors.Is(res.Err, gateway.ErrNotConnected) {
		res.Message = prefix + ": agent offline"
		s.setStatus(gateway.StatusOffline)
		s.publish(protocol.State{ID: StateStatus, Value: gateway.StatusOffline})
		return
	}
	res.Message = failure(prefix, res.Err)
	s.notify(res.Message)
}

// failure builds a toast with at most maxToastDetail runes of error detail.
func failure(prefix string, err error) string {
	return fmt.Sprintf("%s: %s", prefix, truncate(err.Error(), maxToastDetail))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
