package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/ruletick/internal/history"
)

var (
	historyLimit  int
	historyOffset int
)

var historyCmd = &cobra.Command{
	Use:   "history <schedule>",
	Short: "Show execution history of a schedule",
	Long: `Show execution history of a schedule, newest first.

The schedule may be given by ID or by name.

Examples:
  ruletick history hourly-errors
  ruletick history hourly-errors --limit 20 --offset 20`,
	Args: cobra.ExactArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "Entries per page (default: history.page_size)")
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "Entries to skip")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := context.Background()
	sched, err := a.service.Lookup(ctx, args[0])
	if err != nil {
		return err
	}

	page, err := a.service.History(ctx, sched.ID, history.PageRequest{Offset: historyOffset, Limit: historyLimit})
	if err != nil {
		return err
	}

	fmt.Printf("History of %s (%s)\n\n", sched.Name, sched.ID)
	renderHistory(os.Stdout, page)
	return nil
}

func renderHistory(w io.Writer, page *history.Page) {
	if len(page.Entries) == 0 {
		fmt.Fprintln(w, "No executions recorded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "EXECUTED\tSTATUS\tWINDOW FROM\tWINDOW TO\tDURATION\tMESSAGE")
	for _, e := range page.Entries {
		from := "-"
		if e.WindowFromMs != nil {
			from = formatMs(*e.WindowFromMs)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			formatMs(e.ExecutionTimeMs),
			e.Status,
			from,
			formatMs(e.EffectiveExecutionTimeMs),
			(time.Duration(e.DurationMs) * time.Millisecond).String(),
			oneLine(e.Message, 80),
		)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\nShowing %d-%d of %d", page.Offset+1, page.Offset+len(page.Entries), page.Total)
	if page.HasMore() {
		fmt.Fprintf(w, " (next: --offset %d)", page.Next().Offset)
	}
	fmt.Fprintln(w)
}

func oneLine(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxLen {
		return s[:maxLen-3] + "..."
	}
	return s
}
