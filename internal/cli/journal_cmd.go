package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/highclaw/clawdeck/internal/system/journal"
	"github.com/spf13/cobra"
)

var (
	journalLimit   int
	journalOffset  int
	journalAction  string
	journalStatus  string
	journalRun     string
	journalSearch  string
	journalSince   string
	journalMaxAge  int
	journalMaxRecs int
)

// --- Journal 命令组 ---

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the action journal",
	Long: `View and manage the action journal.
Every dispatched panel action is recorded here when journal.enabled is set
(or "clawdeck run --journal").`,
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openJournal()
		if err != nil {
			return err
		}
		defer store.Close()

		since, err := parseSince(journalSince, time.Now())
		if err != nil {
			return err
		}
		entries, total, err := store.List(cmd.Context(), journal.Query{
			ActionID: journalAction,
			Status:   journalStatus,
			RunID:    journalRun,
			Search:   journalSearch,
			Since:    since,
			Limit:    journalLimit,
			Offset:   journalOffset,
		})
		if err != nil {
			return fmt.Errorf("query journal: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "No journal entries found.")
			return nil
		}

		fmt.Fprintf(out, "Journal entries (%d/%d):\n\n", len(entries), total)
		for _, e := range entries {
			fmt.Fprintf(out, "  #%-6d [%s] %-34s %-7s %-6s %dms\n",
				e.ID, formatJournalTime(e.CreatedAt), e.ActionID, e.Status, e.Transport, e.DurationMs)
			if e.Model != "" {
				fmt.Fprintf(out, "          model: %s\n", e.Model)
			}
			if e.ErrorMessage != "" {
				fmt.Fprintf(out, "          error: %s\n", truncateString(e.ErrorMessage, 80))
			}
		}

		if total > journalOffset+journalLimit {
			fmt.Fprintf(out, "\n  ... %d more entries. Use --offset %d to see next page.\n",
				total-journalOffset-journalLimit, journalOffset+journalLimit)
		}
		return nil
	},
}

var journalGetCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Show one journal entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid entry ID: %s", args[0])
		}
		store, err := openJournal()
		if err != nil {
			return err
		}
		defer store.Close()

		e, err := store.Get(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("get entry: %w", err)
		}
		if e == nil {
			return fmt.Errorf("entry #%d not found", id)
		}
		data, _ := json.MarshalIndent(e, "", "  ")
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var journalStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show journal statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openJournal()
		if err != nil {
			return err
		}
		defer store.Close()

		st, err := store.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("journal stats: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Journal Statistics:")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "  Database:      %s\n", store.Path())
		fmt.Fprintf(out, "  Total:         %d\n", st.Total)
		fmt.Fprintf(out, "  Avg duration:  %.0fms\n", st.AvgDurationMs)
		if st.Total > 0 {
			fmt.Fprintf(out, "  Range:         %s .. %s\n", formatJournalTime(st.Earliest), formatJournalTime(st.Latest))
		}
		if len(st.ByStatus) > 0 {
			fmt.Fprintln(out, "\n  By status:")
			for _, k := range sortedKeys(st.ByStatus) {
				fmt.Fprintf(out, "    %-10s %d\n", k, st.ByStatus[k])
			}
		}
		if len(st.ByAction) > 0 {
			fmt.Fprintln(out, "\n  By action:")
			for _, k := range sortedKeys(st.ByAction) {
				fmt.Fprintf(out, "    %-34s %d\n", k, st.ByAction[k])
			}
		}
		return nil
	},
}

var journalCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old journal entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openJournal()
		if err != nil {
			return err
		}
		defer store.Close()

		removed, err := store.Cleanup(cmd.Context(), journalMaxAge, journalMaxRecs)
		if err != nil {
			return fmt.Errorf("clean journal: %w", err)
		}
		if removed == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No journal entries to clean.")
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d journal entries.\n", removed)
		}
		return nil
	},
}

func init() {
	journalListCmd.Flags().IntVarP(&journalLimit, "limit", "n", 20, "Max entries to show")
	journalListCmd.Flags().IntVar(&journalOffset, "offset", 0, "Offset for pagination")
	journalListCmd.Flags().StringVar(&journalAction, "action", "", "Filter by action id")
	journalListCmd.Flags().StringVar(&journalStatus, "status", "", "Filter by status: success, error, ignored")
	journalListCmd.Flags().StringVar(&journalRun, "run", "", "Filter by bridge run id")
	journalListCmd.Flags().StringVarP(&journalSearch, "search", "s", "", "Full-text search in models and errors")
	journalListCmd.Flags().StringVar(&journalSince, "since", "", "Only entries since a duration ago (24h) or a date (2026-01-02)")

	journalCleanCmd.Flags().IntVar(&journalMaxAge, "max-age", 0, "Remove entries older than N days (default from config)")
	journalCleanCmd.Flags().IntVar(&journalMaxRecs, "max-records", 0, "Keep at most N entries (default from config)")

	journalCmd.AddCommand(journalListCmd)
	journalCmd.AddCommand(journalGetCmd)
	journalCmd.AddCommand(journalStatsCmd)
	journalCmd.AddCommand(journalCleanCmd)
}

func openJournal() (*journal.Store, error) {
	cfg := loadConfig()
	store, err := journal.Open(journal.FromConfig(cfg.Journal))
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return store, nil
}

// parseSince converts "24h" or "2026-01-02" into a journal timestamp bound.
func parseSince(s string, now time.Time) (string, error) {
	if s == "" {
		return "", nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d).UTC().Format(journal.TimeLayout), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, time.Local); err == nil {
		return t.UTC().Format(journal.TimeLayout), nil
	}
	return "", fmt.Errorf("invalid --since %q: use a duration like 24h or a date like 2026-01-02", s)
}

func formatJournalTime(ts string) string {
	t, err := time.Parse(journal.TimeLayout, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("01-02 15:04:05")
}

func truncateString(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
