// Package tui implements the mock panel terminal UI.
package tui

import "github.com/charmbracelet/lipgloss"

// Theme 定义 TUI 的颜色主题
type Theme struct {
	text      lipgloss.Color
	textMuted lipgloss.Color
	primary   lipgloss.Color
	success   lipgloss.Color
	warning   lipgloss.Color
	error     lipgloss.Color
	border    lipgloss.Color
}

// 默认主题（暗色）
func getTheme() Theme {
	return Theme{
		text:      lipgloss.Color("#e0e0e0"),
		textMuted: lipgloss.Color("#666666"),
		primary:   lipgloss.Color("#22c55e"), // 绿色
		success:   lipgloss.Color("#22c55e"),
		warning:   lipgloss.Color("#eab308"),
		error:     lipgloss.Color("#ef4444"),
		border:    lipgloss.Color("#333333"),
	}
}

// statusColor 按 agent 状态选择颜色
func (t Theme) statusColor(status string) lipgloss.Color {
	switch status {
	case "online":
		return t.success
	case "restarting", "connecting":
		return t.warning
	case "offline", "error":
		return t.error
	default:
		return t.textMuted
	}
}
