// Package status implements the status command, which reports ledger
// contents and the most recent run.
package status

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/recipeharvest/cmd/common"
	"github.com/jonesrussell/recipeharvest/internal/ledger"
)

const defaultFailureLimit = 10

// Command returns the status command.
func Command(cfgFile *string) *cobra.Command {
	var showFailures bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show import state and recent run results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, err := common.NewCommandDeps(*cfgFile)
			if err != nil {
				return err
			}

			store, err := ledger.Open(deps.Config.LedgerPath)
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			render(stats)

			if showFailures {
				failures, failErr := store.RecentFailures(cmd.Context(), defaultFailureLimit)
				if failErr != nil {
					return failErr
				}
				renderFailures(failures)
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&showFailures, "failures", false, "include recent failed URLs")

	return cmd
}

func render(stats *ledger.Stats) {
	fmt.Printf("Tracked URLs: %d\n\n", stats.TotalURLs)

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Status", "Count"})
	for _, row := range stats.ByStatus {
		t.AppendRow(table.Row{row.Status, row.Count})
	}
	t.Render()

	if len(stats.TopDomains) > 0 {
		t = table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Domain", "Imported"})
		for _, row := range stats.TopDomains {
			t.AppendRow(table.Row{row.Domain, row.Count})
		}
		t.Render()
	}

	if stats.LastRun != nil {
		run := stats.LastRun
		fmt.Printf("\nLast run: #%d (%s) started %s\n",
			run.ID, run.Mode, run.StartedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  discovered=%d imported=%d skipped=%d failed=%d\n",
			run.DiscoveredCount, run.ImportedCount, run.SkippedCount, run.FailedCount)
		if run.ErrorMessage.Valid {
			fmt.Printf("  error: %s\n", run.ErrorMessage.String)
		}
	}
}

func renderFailures(failures []ledger.URLRecord) {
	if len(failures) == 0 {
		fmt.Println("\nNo recent failures.")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"URL", "Error"})
	for i := range failures {
		t.AppendRow(table.Row{failures[i].URL, failures[i].LastError.String})
	}
	t.Render()
}
