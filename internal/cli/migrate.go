package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/watzon/ruletick/internal/database/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration commands",
	Long: `Database migration commands for ruletick.

Migrations are embedded in the binary and applied automatically whenever
the database is opened.

Examples:
  ruletick migrate status    Show applied migrations`,
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	Long:  `Apply any pending migrations and list each one with its checksum.`,
	RunE:  runMigrateStatus,
}

func init() {
	migrateCmd.AddCommand(migrateStatusCmd)

	rootCmd.AddCommand(migrateCmd)
}

func runMigrateStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	status, err := migrations.GetStatus(context.Background(), a.db.DB)
	if err != nil {
		return fmt.Errorf("getting migration status: %w", err)
	}

	fmt.Printf("Database: %s\n\n", cfg.Database.Path)
	renderMigrations(os.Stdout, status)
	return nil
}

func renderMigrations(w io.Writer, status *migrations.Status) {
	if len(status.Applied) == 0 && len(status.Pending) == 0 {
		fmt.Fprintln(w, "No migrations.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MIGRATION\tSTATE\tAPPLIED\tCHECKSUM")
	for _, m := range status.Applied {
		applied := "-"
		if !m.AppliedAt.IsZero() {
			applied = m.AppliedAt.Format(time.RFC3339)
		}
		sum := m.Checksum
		if len(sum) > 12 {
			sum = sum[:12]
		}
		fmt.Fprintf(tw, "%s\tapplied\t%s\t%s\n", m.ID, applied, sum)
	}
	for _, id := range status.Pending {
		fmt.Fprintf(tw, "%s\tpending\t-\t-\n", id)
	}
	_ = tw.Flush()
}
