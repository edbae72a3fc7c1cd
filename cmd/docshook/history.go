package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"docshook/internal/config"
	"docshook/internal/history"
	"docshook/pkg/fileutil"

	"github.com/spf13/cobra"
)

var (
	historyDBPath string
	historyLimit  int
	historyJSON   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent deployment attempts",
	Long: `Print the most recent deployment attempts from the SQLite history index,
newest first. The full output of each attempt is in the deployment log.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDBPath, "db", getEnvOrDefault("DOCSHOOK_DB_PATH", config.DefaultDBPath), "Path to SQLite database")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 10, "Number of attempts to show")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Print JSON instead of a table")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyLimit < 1 {
		return fmt.Errorf("--limit must be positive, got %d", historyLimit)
	}
	// Opening would create an empty database
	if !fileutil.FileExists(historyDBPath) {
		return fmt.Errorf("history database not found: %s", historyDBPath)
	}

	hist, err := history.NewHistory(historyDBPath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	defer hist.Close()

	records, err := hist.GetDeploymentHistory(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if historyJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	if len(records) == 0 {
		fmt.Fprintln(out, "No deployments recorded")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tDURATION\tREF\tCOMMIT\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Status,
			(time.Duration(r.DurationSeconds * float64(time.Second))).Round(time.Millisecond),
			deref(r.Ref),
			shortCommit(deref(r.CommitHash)),
			deref(r.ErrorMessage))
	}
	return tw.Flush()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func shortCommit(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
