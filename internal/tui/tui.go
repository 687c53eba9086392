package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/highclaw/clawdeck/internal/deck"
	"github.com/highclaw/clawdeck/internal/panel/host"
	"github.com/highclaw/clawdeck/internal/panel/protocol"
)

// Panel 是 TUI 驱动的 mock panel host
type Panel interface {
	Addr() string
	Messages() <-chan host.Message
	Paired() <-chan string
	SendAction(actionID string, data ...protocol.ActionData) error
	SendSettings(values map[string]string) error
	ClosePlugin() error
}

// Options 配置 TUI 启动参数
type Options struct {
	Panel   Panel
	Version string
}

type logLine struct {
	Kind    string // "sent", "state", "toast", "system", "error"
	Content string
	At      time.Time
}

type hostMsg host.Message

type pairedMsg string

// button 是面板上的一个按钮
type button struct {
	Label    string
	ActionID string
}

// Model 表示 TUI 状态
type Model struct {
	opts Options

	viewport viewport.Model
	textarea textarea.Model

	buttons []button
	cursor  int

	states   map[string]string
	lastNote string
	plugin   string
	lines    []logLine

	width  int
	height int
	ready  bool
	now    func() time.Time
}

// NewModel 创建新的 TUI Model
func NewModel(opts Options) Model {
	ta := textarea.New()
	ta.Placeholder = "/help for commands, enter on empty input presses the selected button"
	ta.Focus()
	ta.CharLimit = 500
	ta.SetHeight(1)
	ta.ShowLineNumbers = false
	ta.Prompt = ""

	vp := viewport.New(80, 20)
	vp.SetContent("")

	return Model{
		opts:     opts,
		textarea: ta,
		viewport: vp,
		buttons:  defaultButtons(),
		states:   make(map[string]string),
		now:      time.Now,
	}
}

func defaultButtons() []button {
	buttons := make([]button, 0, len(deck.KnownActions()))
	for _, id := range deck.ModelActions() {
		model, _ := deck.ModelFor(id)
		buttons = append(buttons, button{Label: "Model: " + model, ActionID: id})
	}
	return append(buttons,
		button{Label: "Restart gateway", ActionID: deck.ActionResetGateway},
		button{Label: "Trigger heartbeat", ActionID: deck.ActionTriggerHeartbeat},
		button{Label: "Kill sub-agents", ActionID: deck.ActionKillSubagents},
		button{Label: "Toggle reasoning", ActionID: deck.ActionToggleThinking},
	)
}

// Init 初始化 TUI
func (m Model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, waitForMessage(m.opts.Panel), waitForPair(m.opts.Panel))
}

func waitForMessage(p Panel) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-p.Messages()
		if !ok {
			return nil
		}
		return hostMsg(msg)
	}
}

func waitForPair(p Panel) tea.Cmd {
	return func() tea.Msg {
		id, ok := <-p.Paired()
		if !ok {
			return nil
		}
		return pairedMsg(id)
	}
}

// Update 处理消息
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resize()
		return m, nil

	case pairedMsg:
		m.plugin = string(msg)
		m.appendLine("system", "plugin paired: "+m.plugin)
		m.updateViewport()
		return m, waitForPair(m.opts.Panel)

	case hostMsg:
		m.applyHostMessage(host.Message(msg))
		m.updateViewport()
		return m, waitForMessage(m.opts.Panel)

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit

		case tea.KeyUp:
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil

		case tea.KeyDown:
			if m.cursor < len(m.buttons)-1 {
				m.cursor++
			}
			return m, nil

		case tea.KeyEnter:
			text := strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
			m.textarea.SetHeight(1)

			if text == "" {
				m.press(m.buttons[m.cursor].ActionID)
				m.updateViewport()
				return m, nil
			}

			// 命令处理
			cmdName, args := parseCommand(text)
			if cmd := findCommand(cmdName); cmd != nil {
				result, err := cmd.Handler(&m, args)
				if err != nil {
					m.appendLine("error", err.Error())
				} else if result == "__QUIT__" {
					return m, tea.Quit
				} else if result != "" {
					m.appendLine("system", result)
				}
			} else {
				m.appendLine("error", "Unknown command: "+text)
			}
			m.updateViewport()
			return m, nil
		}
	}

	// 更新组件
	var tiCmd, vpCmd tea.Cmd
	m.textarea, tiCmd = m.textarea.Update(msg)
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, tiCmd, vpCmd)
	return m, tea.Batch(cmds...)
}

// press 发送一个 action
func (m *Model) press(actionID string, data ...protocol.ActionData) {
	if err := m.opts.Panel.SendAction(actionID, data...); err != nil {
		m.appendLine("error", fmt.Sprintf("%s: %v", actionID, err))
		return
	}
	m.appendLine("sent", actionID)
}

// applyHostMessage 记录插件发来的 stateUpdate / showNotification
func (m *Model) applyHostMessage(msg host.Message) {
	switch msg.Type {
	case protocol.TypeStateUpdate:
		states, err := msg.States()
		if err != nil {
			m.appendLine("error", "bad stateUpdate: "+err.Error())
			return
		}
		parts := make([]string, 0, len(states))
		for _, s := range states {
			m.states[s.ID] = s.Value
			parts = append(parts, s.ID+"="+s.Value)
		}
		m.appendLine("state", strings.Join(parts, "  "))
	case protocol.TypeShowNotification:
		n, err := msg.Notification()
		if err != nil {
			m.appendLine("error", "bad notification: "+err.Error())
			return
		}
		m.lastNote = n.Message
		m.appendLine("toast", n.Message)
	default:
		m.appendLine("system", "recv "+msg.Type)
	}
}

// View 渲染界面
func (m Model) View() string {
	if !m.ready {
		return "\n  Loading..."
	}
	theme := getTheme()
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	if m.plugin == "" {
		b.WriteString(renderLogo(m.width))
		b.WriteString("\n")
	}

	left := m.renderButtons()
	right := m.renderStates()
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, "    ", right))
	b.WriteString("\n\n")

	b.WriteString(lipgloss.NewStyle().PaddingLeft(2).Render(m.viewport.View()))
	b.WriteString("\n")

	leftBorder := lipgloss.NewStyle().Foreground(theme.primary).Render("┃ ")
	b.WriteString("  " + leftBorder + m.textarea.View() + "\n")
	b.WriteString("  " + lipgloss.NewStyle().Foreground(theme.primary).Render("╹") + "\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m *Model) renderHeader() string {
	theme := getTheme()
	plugin := "waiting for plugin"
	if m.plugin != "" {
		plugin = "plugin " + m.plugin
	}
	right := lipgloss.NewStyle().Foreground(theme.textMuted).Render(
		fmt.Sprintf("listening on %s  %s", m.opts.Panel.Addr(), plugin))
	gap := m.width - lipgloss.Width(renderMiniLogo()) - lipgloss.Width(right) - 4
	if gap < 1 {
		gap = 1
	}
	return "  " + renderMiniLogo() + strings.Repeat(" ", gap) + right
}

func (m *Model) renderButtons() string {
	theme := getTheme()
	var b strings.Builder
	for i, btn := range m.buttons {
		style := lipgloss.NewStyle().Foreground(theme.textMuted)
		marker := "  "
		if i == m.cursor {
			style = lipgloss.NewStyle().Foreground(theme.primary).Bold(true)
			marker = "▶ "
		}
		b.WriteString("  " + style.Render(marker+btn.Label) + "\n")
	}
	return b.String()
}

func (m *Model) renderStates() string {
	theme := getTheme()
	label := lipgloss.NewStyle().Foreground(theme.textMuted)
	value := lipgloss.NewStyle().Foreground(theme.text).Bold(true)

	status := m.states[deck.StateStatus]
	rows := []string{
		label.Render("model   ") + value.Render(orDash(m.states[deck.StateModel])),
		label.Render("status  ") + lipgloss.NewStyle().Foreground(theme.statusColor(status)).Bold(true).Render(orDash(status)),
		label.Render("uptime  ") + value.Render(orDash(m.states[deck.StateUptime])),
	}
	if m.lastNote != "" {
		rows = append(rows, "", label.Render("last toast"), value.Render(m.lastNote))
	}
	return strings.Join(rows, "\n")
}

func (m *Model) renderFooter() string {
	theme := getTheme()
	hints := lipgloss.NewStyle().Foreground(theme.textMuted).Render("↑/↓ select  enter press  /help commands  esc quit")
	version := lipgloss.NewStyle().Foreground(theme.textMuted).Render(m.opts.Version)
	gap := m.width - lipgloss.Width(hints) - lipgloss.Width(version) - 4
	if gap < 1 {
		gap = 1
	}
	return "  " + hints + strings.Repeat(" ", gap) + version
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (m *Model) resize() {
	m.viewport.Width = m.width - 4
	m.viewport.Height = max(5, m.height-len(m.buttons)-10)
	m.textarea.SetWidth(min(70, m.width-10))
}

func (m *Model) appendLine(kind, content string) {
	m.lines = append(m.lines, logLine{
		Kind:    kind,
		Content: strings.TrimSpace(content),
		At:      m.now(),
	})
}

func (m *Model) updateViewport() {
	theme := getTheme()
	var b strings.Builder

	for i, line := range m.lines {
		ts := lipgloss.NewStyle().Foreground(theme.textMuted).Render(line.At.Format("15:04:05"))
		var content string
		switch line.Kind {
		case "sent":
			content = lipgloss.NewStyle().Foreground(theme.primary).Render("→ " + line.Content)
		case "state":
			content = lipgloss.NewStyle().Foreground(theme.text).Render("← " + line.Content)
		case "toast":
			content = lipgloss.NewStyle().Foreground(theme.warning).Render("🔔 " + line.Content)
		case "error":
			content = lipgloss.NewStyle().Foreground(theme.error).Render("✗ " + line.Content)
		default:
			content = lipgloss.NewStyle().Foreground(theme.textMuted).Italic(true).Render(line.Content)
		}
		b.WriteString(ts + " " + content)
		if i < len(m.lines)-1 {
			b.WriteString("\n")
		}
	}

	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

// Run 启动 TUI
func Run(opts Options) error {
	p := tea.NewProgram(NewModel(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
