package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/virtutil/virtutil/pkg/virtutil/config"
	"github.com/virtutil/virtutil/pkg/virtutil/history"
	"github.com/virtutil/virtutil/pkg/virtutil/types"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View run history",
	Long: `View the history of launch, load, dump and rebuild-index runs.

Each run is stored as a JSON file under $XDG_DATA_HOME/virtutil/history
unless history.enabled is false.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show details of a run",
	Long:  `Display a run by its ID or an unambiguous ID prefix.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove old history entries",
	Long:  `Remove history entries older than history.retention_days.`,
	Args:  cobra.NoArgs,
	RunE:  runHistoryClean,
}

var (
	historyLimit     int
	historyOperation string
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 20, "maximum number of entries to show")
	historyCmd.Flags().StringVar(&historyOperation, "operation", "", "only show launch, load, load-parallel, dump or reindex runs")

	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyCleanCmd)
	rootCmd.AddCommand(historyCmd)
}

// openHistory opens the configured history directory.
func openHistory() (*history.History, error) {
	h, err := history.New(cfg.HistoryDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return h, nil
}

// runHistory lists recent runs.
func runHistory(cmd *cobra.Command, args []string) error {
	h, err := openHistory()
	if err != nil {
		return err
	}

	entries, err := h.List(history.Operation(historyOperation), historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list history: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		printInfo(out, "No history entries found.")
		return nil
	}
	printHistoryTable(out, entries)
	fmt.Fprintln(out, "Use 'virtutil history show <id>' for details on a specific entry.")
	return nil
}

func printHistoryTable(w io.Writer, entries []history.Entry) {
	fmt.Fprintf(w, "\n%-8s  %-19s  %-13s  %-6s  %-13s  %s\n", "ID", "TIME", "OPERATION", "STATUS", "FILES", "TARGET")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	for _, e := range entries {
		files := "-"
		if e.Summary.Files > 0 {
			files = fmt.Sprintf("%d/%d", e.Summary.Loaded, e.Summary.Files)
		}
		fmt.Fprintf(w, "%-8s  %-19s  %-13s  %-6s  %-13s  %s\n",
			truncateString(e.ID, 8),
			e.Timestamp.Local().Format("2006-01-02 15:04:05"),
			e.Operation,
			e.Status,
			files,
			e.Target,
		)
	}
	fmt.Fprintln(w, strings.Repeat("-", 80))
}

// runHistoryShow displays one run.
func runHistoryShow(cmd *cobra.Command, args []string) error {
	h, err := openHistory()
	if err != nil {
		return err
	}
	e, err := h.Get(args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "\nRun Details")
	fmt.Fprintln(w, strings.Repeat("=", 60))
	fmt.Fprintf(w, "ID:         %s\n", e.ID)
	fmt.Fprintf(w, "Timestamp:  %s\n", e.Timestamp.Local().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Operation:  %s\n", e.Operation)
	fmt.Fprintf(w, "Status:     %s\n", e.Status)
	fmt.Fprintf(w, "Target:     %s\n", e.Target)
	if e.Dir != "" {
		fmt.Fprintf(w, "Directory:  %s\n", e.Dir)
	}
	s := e.Summary
	if s.Files > 0 {
		fmt.Fprintf(w, "Files:      %d found, %d loaded, %d failed, %d skipped\n", s.Files, s.Loaded, s.Failed, s.Skipped)
		fmt.Fprintf(w, "Size:       %s\n", types.FormatSize(s.Bytes))
	}
	if s.Workers > 0 {
		fmt.Fprintf(w, "Workers:    %d\n", s.Workers)
	}
	if s.Duration > 0 {
		fmt.Fprintf(w, "Duration:   %s\n", s.Duration.Round(time.Millisecond))
	}
	if e.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", e.Error)
	}
	return nil
}

// runHistoryClean removes entries past the retention period.
func runHistoryClean(cmd *cobra.Command, args []string) error {
	h, err := openHistory()
	if err != nil {
		return err
	}

	days := cfg.History.RetentionDays
	if days <= 0 {
		days = config.DefaultRetentionDays
	}

	out := cmd.OutOrStdout()
	printInfo(out, "Cleaning history entries older than %d days...", days)
	n, err := h.Cleanup(days)
	if err != nil {
		return fmt.Errorf("failed to clean history: %w", err)
	}
	printInfo(out, "Removed %d entries.", n)
	return nil
}

// truncateString truncates a string to maxLen.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
