// Package statusparse scrapes agent status out of free-text command output.
//
// This is best-effort text matching, not a grammar. Anything it does not
// recognize yields Fallback, so callers always get a publishable snapshot.
package statusparse

import (
	"strings"

	"github.com/highclaw/clawdeck/internal/gateway"
)

// UnknownModel is published when the model cannot be determined.
const UnknownModel = "unknown"

// Fallback is the snapshot for unrecognized output.
var Fallback = gateway.Snapshot{Model: UnknownModel, Status: gateway.StatusOffline}

// Status scrapes `status` output. It reports false when no model line is
// present, in which case the caller should try Gateway.
func Status(out string) (gateway.Snapshot, bool) {
	modelLine, ok := findLine(out, "model")
	if !ok {
		return Fallback, false
	}
	snap := gateway.Snapshot{
		Model:  UnknownModel,
		Status: gateway.StatusOnline,
	}
	if v, ok := valueAfterColon(modelLine); ok && v != "" {
		snap.Model = v
	}
	if line, ok := findLine(out, "uptime"); ok {
		if _, v, ok := strings.Cut(line, ":"); ok {
			snap.Uptime = strings.TrimSpace(v)
		}
	}
	return snap, true
}

// Gateway scrapes `gateway status` output: "running" anywhere means online.
func Gateway(out string) gateway.Snapshot {
	if strings.Contains(strings.ToLower(out), "running") {
		return gateway.Snapshot{Model: UnknownModel, Status: gateway.StatusOnline}
	}
	return Fallback
}

// Parse tries Status, then Gateway on the same text.
func Parse(out string) gateway.Snapshot {
	if snap, ok := Status(out); ok {
		return snap
	}
	return Gateway(out)
}

func findLine(out, needle string) (string, bool) {
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(strings.ToLower(line), needle) {
			return line, true
		}
	}
	return "", false
}

// valueAfterColon returns the text after the last colon, trimmed.
func valueAfterColon(line string) (string, bool) {
	i := strings.LastIndex(line, ":")
	if i < 0 {
		return "", false
	}
	return strings.TrimSpace(line[i+1:]), true
}
