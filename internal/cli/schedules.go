package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/watzon/ruletick/internal/scheduler"
)

var schedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "List schedules with their watermarks",
	Long: `List every stored schedule with its watermark, next boundary and
current claim holder.`,
	RunE: runSchedules,
}

func init() {
	rootCmd.AddCommand(schedulesCmd)
}

func runSchedules(cmd *cobra.Command, args []string) error {
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
	list, err := a.service.List(ctx)
	if err != nil {
		return err
	}

	statuses := make([]*scheduler.Status, 0, len(list))
	for _, sched := range list {
		status, err := a.service.Status(ctx, sched.ID)
		if err != nil {
			return err
		}
		statuses = append(statuses, status)
	}

	renderSchedules(os.Stdout, statuses)
	return nil
}

func renderSchedules(w io.Writer, statuses []*scheduler.Status) {
	if len(statuses) == 0 {
		fmt.Fprintln(w, "No schedules.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tENABLED\tTYPE\tEXPRESSION\tNODE\tWATERMARK\tNEXT\tCLAIMED BY")
	for _, st := range statuses {
		s := st.Schedule

		watermark, next := "-", "-"
		if st.Tracker != nil {
			watermark = formatMs(st.Tracker.LastEffectiveExecutionTimeMs)
			if st.Tracker.NextEffectiveExecutionTimeMs != nil {
				next = formatMs(*st.Tracker.NextEffectiveExecutionTimeMs)
			}
		}

		holder := "-"
		if st.Claim != nil {
			holder = st.Claim.Holder
		}

		node := s.NodeName
		if s.AnyNode() {
			node = "*"
		}

		fmt.Fprintf(tw, "%s\t%t\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Name, s.Enabled, s.Type, s.Expression, node, watermark, next, holder)
	}
	_ = tw.Flush()
}
