package deck

import "sort"

// Action identifiers understood by the deck.
const (
	ActionSwitchModel      = "openclaw_switch_model"
	ActionResetGateway     = "openclaw_reset_gateway"
	ActionTriggerHeartbeat = "openclaw_trigger_heartbeat"
	ActionKillSubagents    = "openclaw_kill_subagents"
	ActionToggleThinking   = "openclaw_toggle_thinking"
)

// State identifiers published to the panel.
const (
	StateModel  = "openclaw_current_model"
	StateStatus = "openclaw_agent_status"
	StateUptime = "openclaw_uptime"
)

// Data ids that carry a model name for ActionSwitchModel.
var modelDataIDs = []string{"model", "openclaw_model"}

var modelMap = map[string]string{
	"openclaw_switch_model_claude":   "anthropic/claude-opus-4-6",
	"openclaw_switch_model_sonnet":   "anthropic/claude-sonnet-4",
	"openclaw_switch_model_haiku":    "anthropic/claude-haiku-4",
	"openclaw_switch_model_gpt":      "openai/gpt-4o",
	"openclaw_switch_model_o3":       "openai/o3-mini",
	"openclaw_switch_model_gemini":   "google/gemini-2.0-flash-exp",
	"openclaw_switch_model_deepseek": "deepseek/deepseek-reasoner",
}

// ModelFor returns the model a preset switch action selects.
func ModelFor(actionID string) (string, bool) {
	m, ok := modelMap[actionID]
	return m, ok
}

// ModelActions lists the preset switch actions, sorted.
func ModelActions() []string {
	out := make([]string, 0, len(modelMap))
	for id := range modelMap {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// KnownActions lists every action identifier the dispatcher handles.
func KnownActions() []string {
	return append(ModelActions(),
		ActionSwitchModel,
		ActionResetGateway,
		ActionTriggerHeartbeat,
		ActionKillSubagents,
		ActionToggleThinking,
	)
}
