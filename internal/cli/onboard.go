package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/highclaw/clawdeck/internal/config"
	"github.com/spf13/cobra"
)

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Interactive setup wizard",
	Long: `Walk through the bridge settings (agent transport, gateway URL and
token, panel port, status API and journal) and write the config file.`,
	RunE: runOnboard,
}

var (
	onboardDefaults bool
	onboardForce    bool
)

// Color palette
var (
	colorAccent  = lipgloss.Color("#FF5A2D")
	colorSuccess = lipgloss.Color("#2FBF71")
	colorWarn    = lipgloss.Color("#FFB020")
	colorMuted   = lipgloss.Color("#8B7F77")
	colorInfo    = lipgloss.Color("#FF8A5B")
)

// Styles
var (
	styleBanner = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorAccent).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorAccent).
			Padding(0, 2)

	styleSuccess = lipgloss.NewStyle().
			Foreground(colorSuccess).
			Bold(true)

	styleWarn = lipgloss.NewStyle().
			Foreground(colorWarn)

	styleMuted = lipgloss.NewStyle().
			Foreground(colorMuted)

	styleInfo = lipgloss.NewStyle().
			Foreground(colorInfo)
)

func init() {
	onboardCmd.Flags().BoolVar(&onboardDefaults, "defaults", false, "Write the default config without prompting")
	onboardCmd.Flags().BoolVarP(&onboardForce, "force", "f", false, "Overwrite an existing config file")
}

// onboardAnswers is what the wizard collects.
type onboardAnswers struct {
	Mode           string
	GatewayURL     string
	Token          string
	ExecutablePath string
	Workspace      string
	PanelPort      string
	StatusAPI      bool
	Journal        bool
}

func runOnboard(cmd *cobra.Command, args []string) error {
	path := configPath()
	cfg := loadConfig()

	if _, err := os.Stat(path); err == nil && !onboardForce {
		if onboardDefaults {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		var overwrite bool
		err := huh.NewConfirm().
			Title(fmt.Sprintf("%s already exists. Update it?", path)).
			Value(&overwrite).
			Run()
		if err != nil || !overwrite {
			printNote("Keeping the existing config.", "Onboard")
			return nil
		}
	}

	fmt.Println(styleBanner.Render("🦞 clawdeck setup"))

	if !onboardDefaults {
		answers, err := promptOnboard(cfg)
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				fmt.Println(styleWarn.Render("Setup cancelled."))
				return nil
			}
			return err
		}
		if err := applyOnboard(cfg, answers); err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if err := config.Save(cfg, path); err != nil {
		return err
	}
	printSuccess("Config written to " + path)
	printNote("Start the bridge with:  clawdeck run\nTry a button with:     clawdeck invoke openclaw_trigger_heartbeat", "Next steps")
	return nil
}

// promptOnboard asks for each setting, seeded from cfg.
func promptOnboard(cfg *config.Config) (onboardAnswers, error) {
	a := onboardAnswers{
		Mode:           cfg.Agent.Mode,
		GatewayURL:     cfg.Agent.URL,
		Token:          cfg.Agent.Token,
		ExecutablePath: cfg.Agent.ExecutablePath,
		Workspace:      cfg.Agent.Workspace,
		PanelPort:      strconv.Itoa(cfg.Panel.Port),
		StatusAPI:      cfg.Status.Enabled,
		Journal:        cfg.Journal.Enabled,
	}

	err := huh.NewSelect[string]().
		Title("Agent transport").
		Description("How the bridge reaches the OpenClaw agent").
		Options(
			huh.NewOption("HTTP invoke (gateway /tools/invoke, recommended)", config.ModeHTTP),
			huh.NewOption("WebSocket JSON-RPC (persistent, push status)", config.ModeRPC),
			huh.NewOption("Local executable (agent on this machine)", config.ModeLocal),
		).
		Value(&a.Mode).
		Run()
	if err != nil {
		return a, err
	}

	if a.Mode == config.ModeLocal {
		err = huh.NewInput().
			Title("OpenClaw executable").
			Value(&a.ExecutablePath).
			Placeholder("/usr/local/bin/openclaw").
			Run()
		if err != nil {
			return a, err
		}
		err = huh.NewInput().
			Title("Agent workspace").
			Description("Directory holding HEARTBEAT.md").
			Value(&a.Workspace).
			Run()
		if err != nil {
			return a, err
		}
	} else {
		err = huh.NewInput().
			Title("Gateway URL").
			Value(&a.GatewayURL).
			Placeholder("http://127.0.0.1:18789").
			Validate(func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("gateway URL is required")
				}
				return nil
			}).
			Run()
		if err != nil {
			return a, err
		}
		err = huh.NewInput().
			Title("Gateway token").
			Description("Leave empty if the gateway does not require one").
			Value(&a.Token).
			EchoMode(huh.EchoModePassword).
			Run()
		if err != nil {
			return a, err
		}
	}

	err = huh.NewInput().
		Title("Panel plugin port").
		Description("TP_PLUGIN_PORT still overrides this at runtime").
		Value(&a.PanelPort).
		Validate(func(s string) error {
			_, err := parsePort(s)
			return err
		}).
		Run()
	if err != nil {
		return a, err
	}

	err = huh.NewConfirm().
		Title("Serve the local status API?").
		Description("Health, status, logs and /metrics on 127.0.0.1").
		Value(&a.StatusAPI).
		Run()
	if err != nil {
		return a, err
	}

	err = huh.NewConfirm().
		Title("Record actions in the journal?").
		Value(&a.Journal).
		Run()
	return a, err
}

// applyOnboard copies wizard answers into cfg.
func applyOnboard(cfg *config.Config, a onboardAnswers) error {
	port, err := parsePort(a.PanelPort)
	if err != nil {
		return err
	}
	cfg.Agent.Mode = a.Mode
	cfg.Agent.URL = strings.TrimSpace(a.GatewayURL)
	cfg.Agent.Token = strings.TrimSpace(a.Token)
	cfg.Agent.ExecutablePath = strings.TrimSpace(a.ExecutablePath)
	cfg.Agent.Workspace = strings.TrimSpace(a.Workspace)
	cfg.Panel.Port = port
	cfg.Status.Enabled = a.StatusAPI
	cfg.Journal.Enabled = a.Journal
	return nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", s)
	}
	return port, nil
}

// printNote prints an informational note
func printNote(message, title string) {
	fmt.Println()
	if title != "" {
		fmt.Println(styleInfo.Render("ℹ️  " + title))
	}
	fmt.Println(styleMuted.Render(message))
	fmt.Println()
}

// printSuccess prints a success message
func printSuccess(message string) {
	fmt.Println(styleSuccess.Render("✅ " + message))
}
