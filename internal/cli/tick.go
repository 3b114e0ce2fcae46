package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/ruletick/internal/config"
	"github.com/watzon/ruletick/internal/executor"
	"github.com/watzon/ruletick/internal/scheduler"
)

var (
	tickAt     string
	tickDryRun bool
)

var tickCmd = &cobra.Command{
	Use:   "tick",
	Short: "Run a single scheduling cycle",
	Long: `Run one scheduling cycle and print the outcome for every schedule.

Use --at to evaluate schedules as of a different instant (RFC 3339),
for example to see what a catch-up after downtime would execute.`,
	RunE: runTick,
}

func init() {
	tickCmd.Flags().StringVar(&tickAt, "at", "", "Evaluate schedules as of this time (RFC 3339, default now)")
	tickCmd.Flags().BoolVar(&tickDryRun, "dry-run", false, "Log executions instead of running rules")

	rootCmd.AddCommand(tickCmd)
}

func runTick(cmd *cobra.Command, args []string) error {
	now, err := parseAt(tickAt, time.Now())
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if tickDryRun {
		cfg.Executor.Kind = config.ExecutorLog
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	exec, err := executor.New(&cfg.Executor)
	if err != nil {
		return err
	}

	ctx := context.Background()
	sched, err := a.newScheduler(ctx, exec)
	if err != nil {
		return err
	}

	report := sched.RunOnce(ctx, now.UnixMilli())
	renderReport(os.Stdout, report)

	return report.Err
}

func parseAt(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return now, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at value %q: %w", value, err)
	}
	return t, nil
}

func renderReport(w io.Writer, report *scheduler.Report) {
	fmt.Fprintf(w, "Cycle at %s (%s)\n\n", formatMs(report.NowMs), report.Duration.Round(time.Millisecond))

	if len(report.Results) == 0 {
		fmt.Fprintln(w, "No schedules for this node.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCHEDULE\tOUTCOME\tWINDOWS\tDETAIL")
	for _, res := range report.Results {
		detail := ""
		switch {
		case res.Err != nil:
			detail = res.Err.Error()
		case len(res.Windows) > 0:
			first, last := res.Windows[0], res.Windows[len(res.Windows)-1]
			detail = fmt.Sprintf("[%s, %s)", formatMs(first.From), formatMs(last.To))
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", res.ScheduleName, res.Outcome, len(res.Windows), detail)
	}
	_ = tw.Flush()

	fmt.Fprintf(w, "\n%d windows executed, %d failed, %d claimed elsewhere\n",
		report.Windows(), report.Count(scheduler.OutcomeFailed), report.Count(scheduler.OutcomeClaimConflict))
}

func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
