package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	syslogger "github.com/highclaw/clawdeck/internal/system/logger"
	"github.com/spf13/cobra"
)

var (
	logsLines  int
	logsFollow bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect bridge log files",
	Long: `View and manage the bridge's log files.
The panel host usually swallows plugin output, so the bridge also writes
dated files under ~/.clawdeck/logs.`,
}

// logsListCmd 列出所有日志文件
var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all log files",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		dir := resolveLogDir()
		files, err := syslogger.ListFiles(dir)
		if err != nil {
			return fmt.Errorf("list log files: %w", err)
		}
		if len(files) == 0 {
			fmt.Fprintf(out, "No log files found in %s\n", dir)
			return nil
		}

		total, _ := syslogger.TotalSize(dir)
		fmt.Fprintf(out, "Log files (%d, total %.1f MB):\n\n", len(files), float64(total)/1024/1024)
		for _, f := range files {
			sizeMB := float64(f.Size) / 1024 / 1024
			fmt.Fprintf(out, "  %-32s  %8.2f MB  %s\n", f.Name, sizeMB, f.ModTime.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintf(out, "\nLog directory: %s\n", dir)
		return nil
	},
}

// logsTailCmd 输出最新日志文件的末尾
var logsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the end of the newest log file",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		dir := resolveLogDir()
		files, err := syslogger.ListFiles(dir)
		if err != nil {
			return fmt.Errorf("list log files: %w", err)
		}
		if len(files) == 0 {
			return fmt.Errorf("no log files in %s", dir)
		}

		latest := files[0].Path
		lines, err := syslogger.Tail(latest, logsLines)
		if err != nil {
			return err
		}
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
		if !logsFollow {
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return syslogger.Follow(ctx, latest, out)
	},
}

// logsCleanCmd 清理过期日志
var logsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean up old log files",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()

		logCfg := syslogger.FromConfig(cfg.Log)
		if logCfg.MaxAgeDays <= 0 {
			logCfg.MaxAgeDays = 30
		}
		logCfg.StderrEnabled = false

		mgr, err := syslogger.New(logCfg)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		defer mgr.Close()

		removed, err := mgr.Cleanup()
		if err != nil {
			return fmt.Errorf("cleanup logs: %w", err)
		}
		if removed == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No expired log files to clean.")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired log files (older than %d days)\n", removed, logCfg.MaxAgeDays)
		}
		return nil
	},
}

func init() {
	logsTailCmd.Flags().IntVarP(&logsLines, "lines", "n", 100, "Number of lines to show")
	logsTailCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Keep printing new lines")

	logsCmd.AddCommand(logsListCmd)
	logsCmd.AddCommand(logsTailCmd)
	logsCmd.AddCommand(logsCleanCmd)
}

func resolveLogDir() string {
	cfg := loadConfig()
	if strings.TrimSpace(cfg.Log.Dir) != "" {
		return cfg.Log.Dir
	}
	return syslogger.DefaultDir()
}
