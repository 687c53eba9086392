package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/highclaw/clawdeck/internal/config"
	"github.com/highclaw/clawdeck/internal/infra"
	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	buildDate = "unknown"
	gitCommit = "unknown"
)

// SetBuildInfo sets version info injected at build time.
func SetBuildInfo(v, date, commit string) {
	version = v
	buildDate = date
	gitCommit = commit
}

var configFile string

var rootCmd = &cobra.Command{
	Use:   "clawdeck",
	Short: "clawdeck — panel bridge for the OpenClaw agent",
	Long: `🦞 clawdeck — panel bridge for the OpenClaw agent

Pairs with a macro-deck panel host as a plugin, turns button presses into
agent commands (model switch, restart, heartbeat, kill sub-agents, reasoning
toggle) and keeps the panel's model, status and uptime states current.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		rt := infra.GetRuntimeInfo()
		fmt.Printf("clawdeck %s\n", version)
		fmt.Printf("  build:   %s\n", buildDate)
		fmt.Printf("  commit:  %s\n", gitCommit)
		fmt.Printf("  runtime: %s %s/%s\n", rt.GoVersion, rt.OS, rt.Arch)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file (default $CLAWDECK_CONFIG or ~/.clawdeck/clawdeck.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(invokeCmd)
	rootCmd.AddCommand(panelCmd)
	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(logsCmd)
}

// Execute runs the root cobra command.
func Execute() error {
	return rootCmd.Execute()
}

// configPath returns the file the --config flag or the environment selects.
func configPath() string {
	if strings.TrimSpace(configFile) != "" {
		return configFile
	}
	return config.ConfigPath()
}

// loadConfig reads the selected config file. Read or parse failures fall back
// to defaults with a warning, the way a fresh install behaves.
func loadConfig() *config.Config {
	cfg, err := config.LoadFile(configPath())
	if err != nil {
		slog.Warn("config load warning, using defaults", "error", err)
	}
	return cfg
}
