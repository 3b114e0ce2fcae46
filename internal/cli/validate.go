package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/ruletick/internal/config"
	"github.com/watzon/ruletick/internal/manifest"
	"github.com/watzon/ruletick/internal/schedule"
)

var validateCmd = &cobra.Command{
	Use:   "validate [manifest]",
	Short: "Validate configuration and a schedule manifest",
	Long: `Validate the configuration and a schedule manifest without touching
the database. For every valid schedule the next fire time is printed.

The manifest defaults to manifest.path from the configuration.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			fmt.Println("Configuration is invalid:")
			for _, e := range verrs {
				fmt.Printf("  ✗ %s\n", e)
			}
		}
		return err
	}
	fmt.Println("✓ Configuration is valid")

	path := cfg.Manifest.Path
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		return nil
	}

	m, err := manifest.Load(path)
	if err != nil {
		fmt.Printf("✗ %s\n", path)
		return err
	}

	fmt.Printf("✓ %s: %d schedules\n\n", path, len(m.Schedules))
	renderNextFires(os.Stdout, m, time.Now())
	return nil
}

func renderNextFires(w io.Writer, m *manifest.Manifest, now time.Time) {
	if len(m.Schedules) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tEXPRESSION\tTIMEZONE\tNEXT FIRE")
	for i := range m.Schedules {
		sched, err := m.Schedules[i].Schedule()
		if err != nil {
			continue
		}

		next := "never"
		if trigger, err := sched.Trigger(); err == nil {
			if ms := trigger.NextFireAfter(now.UnixMilli()); ms != schedule.Never {
				next = formatMs(ms)
			}
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", sched.Name, sched.Type, sched.Expression, sched.Timezone, next)
	}
	_ = tw.Flush()
}
