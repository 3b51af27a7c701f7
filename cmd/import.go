package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/funnel-cli/internal/ingest"
)

var (
	importFormat          string
	importTenant          string
	importDryRun          bool
	importFailOnDuplicate bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import historical payments from a Stripe or Denefits export",
	Long: "Reads a CSV or XLSX export and records each row through the payment writer. " +
		"Rows already on file, including Stripe payments the webhook recorded under its event id, " +
		"are counted as duplicates. Unmatched payers become orphans.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if importFormat != ingest.FormatStripe && importFormat != ingest.FormatDenefits {
			return eris.Errorf("--format must be %q or %q", ingest.FormatStripe, ingest.FormatDenefits)
		}

		env, err := initEnv(ctx, "job")
		if err != nil {
			return err
		}
		defer env.Close()

		t, err := env.activeTenant(ctx, importTenant)
		if err != nil {
			return err
		}

		tbl, err := ingest.ReadFile(ctx, args[0])
		if err != nil {
			return err
		}
		m, err := ingest.Map(tbl, importFormat, t.ID, time.Now())
		if err != nil {
			return err
		}

		rep, err := ingest.NewImporter(env.BatchWriter, ingest.WithTwinFinder(env.Payments)).Import(ctx, m, ingest.Options{
			DryRun:          importDryRun,
			FailOnDuplicate: importFailOnDuplicate,
		})
		if rep != nil {
			writeImportReport(cmd.OutOrStdout(), rep, importDryRun, len(m.Inputs))
		}
		return err
	},
}

func writeImportReport(w io.Writer, rep *ingest.Report, dryRun bool, mapped int) {
	if dryRun {
		fmt.Fprintf(w, "dry run: %d rows, %d would be recorded, %d skipped\n", rep.Rows, mapped, len(rep.Skips))
	} else {
		fmt.Fprintf(w, "%d rows: imported %d (linked %d, orphaned %d), duplicates %d, skipped %d, errors %d\n",
			rep.Rows, rep.Imported, rep.Linked, rep.Orphans, rep.Duplicates, len(rep.Skips), rep.Errors)
	}
	for _, s := range rep.Skips {
		fmt.Fprintf(w, "  line %d: %s\n", s.Line, s.Reason)
	}
}

func init() {
	importCmd.Flags().StringVar(&importFormat, "format", "stripe", "export format: stripe or denefits")
	importCmd.Flags().StringVar(&importTenant, "tenant", "", "tenant slug (default server.default_tenant)")
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "parse and validate without writing")
	importCmd.Flags().BoolVar(&importFailOnDuplicate, "fail-on-duplicate", false, "stop at the first payment already on file")
	rootCmd.AddCommand(importCmd)
}
