package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// ClawDeck Logo 像素字
var logoLeft = []string{
	"█▀▀▀ █   █▀▀█ █   █",
	"█    █   █▀▀█ █ █ █",
	"▀▀▀▀ ▀▀▀ ▀  ▀ ▀▀▀▀▀",
}

var logoRight = []string{
	" █▀▀▄ █▀▀▀ █▀▀▀ █ ▄▀",
	" █  █ █▀▀  █    █▀▄ ",
	" ▀▀▀  ▀▀▀▀ ▀▀▀▀ ▀  ▀",
}

// 渲染 Logo
func renderLogo(width int) string {
	theme := getTheme()
	var b strings.Builder

	for i := range logoLeft {
		left := lipgloss.NewStyle().Foreground(theme.textMuted).Render(logoLeft[i])
		right := lipgloss.NewStyle().Foreground(theme.text).Bold(true).Render(logoRight[i])
		line := left + right
		// 居中
		padding := (width - lipgloss.Width(line)) / 2
		if padding > 0 {
			line = lipgloss.NewStyle().PaddingLeft(padding).Render(line)
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

// 小型 Logo（用于 header）
func renderMiniLogo() string {
	theme := getTheme()
	return lipgloss.NewStyle().Foreground(theme.textMuted).Render("claw") +
		lipgloss.NewStyle().Foreground(theme.text).Bold(true).Render("deck")
}
