// Package protocol defines the JSON messages exchanged with the panel host
// over the plugin control channel. Each message is one JSON object, sent as
// one line (TCP) or one text frame (WebSocket).
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message types.
const (
	TypePair             = "pair"
	TypeInfo             = "info"
	TypeAction           = "action"
	TypeSettings         = "settings"
	TypeClosePlugin      = "closePlugin"
	TypeStateUpdate      = "stateUpdate"
	TypeShowNotification = "showNotification"
)

// Envelope is the common header of every inbound message.
type Envelope struct {
	Type string `json:"type"`
}

// Pair identifies the plugin to the panel host right after connecting.
type Pair struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// NewPair builds the identification message for pluginID.
func NewPair(pluginID string) Pair {
	return Pair{Type: TypePair, ID: pluginID}
}

// Info is the panel host's reply to Pair. It may carry the current settings.
type Info struct {
	Type            string          `json:"type"`
	TPVersionString string          `json:"tpVersionString,omitempty"`
	PluginVersion   int             `json:"pluginVersion,omitempty"`
	Settings        json.RawMessage `json:"settings,omitempty"`
}

// Action is a button press on the panel.
type Action struct {
	Type     string       `json:"type"`
	PluginID string       `json:"pluginId,omitempty"`
	ActionID string       `json:"actionId"`
	Data     []ActionData `json:"data,omitempty"`
}

// ActionData is one user-supplied value attached to an action.
type ActionData struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Values flattens the action data into id → value.
func (a Action) Values() map[string]string {
	out := make(map[string]string, len(a.Data))
	for _, d := range a.Data {
		out[d.ID] = d.Value
	}
	return out
}

// Settings carries changed plugin settings.
type Settings struct {
	Type   string          `json:"type"`
	Values json.RawMessage `json:"values"`
}

// State is one published state value.
type State struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// StateUpdate publishes one or more states.
type StateUpdate struct {
	Type   string  `json:"type"`
	States []State `json:"states"`
}

// NewStateUpdate builds a stateUpdate message.
func NewStateUpdate(states ...State) StateUpdate {
	return StateUpdate{Type: TypeStateUpdate, States: states}
}

// Notification is a toast shown by the panel host.
type Notification struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// ShowNotification asks the panel host to display a toast.
type ShowNotification struct {
	Type         string       `json:"type"`
	Notification Notification `json:"notification"`
}

// NewShowNotification builds a showNotification message.
func NewShowNotification(id, message string) ShowNotification {
	return ShowNotification{
		Type:         TypeShowNotification,
		Notification: Notification{ID: id, Message: message},
	}
}

// StringValue coerces a decoded JSON scalar to the string form used for states
// and settings. Objects and arrays are re-encoded as JSON.
func StringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return fmt.Sprintf("%v", t)
	case json.Number:
		return t.String()
	case fmt.Stringer:
		return t.String()
	default:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	}
}
