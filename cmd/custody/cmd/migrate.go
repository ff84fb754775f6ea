package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Move the legacy single table into daily partitions",
	Long: `Migrate copies every row of the legacy holdings table into the daily
partition for its record date. The legacy table is left in place and the
migration can be repeated safely.`,
	RunE: runMigrate,
}

var (
	exportDate   string
	exportOutput string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write one daily partition as CSV",
	Long: `Export writes the rows of one daily partition as CSV, to stdout unless
an output file is given.

Example:
  custody export --date 2025-06-25 -o holdings.csv`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportDate, "date", "d", "", "record date (YYYY-MM-DD, required)")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
	exportCmd.MarkFlagRequired("date")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	res, err := st.MigrateLegacy(ctx)
	fmt.Printf("✓ Migrated %d rows in %d groups\n", res.Rows, res.Groups)
	fmt.Printf("  inserted %d, replaced %d, failed %d across %d dates\n",
		res.Inserted, res.Deleted, res.Failed, len(res.Dates))
	for _, e := range res.RowErrors {
		fmt.Printf("  ! %s\n", e)
	}
	return err
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	date, err := time.Parse(time.DateOnly, exportDate)
	if err != nil {
		return fmt.Errorf("invalid --date %q: %w", exportDate, err)
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	w := os.Stdout
	if exportOutput != "" {
		f, err := os.Create(exportOutput)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}

	n, err := st.ExportCSV(ctx, date, w)
	if err != nil {
		return err
	}
	if exportOutput != "" {
		fmt.Printf("✓ Exported %d rows to %s\n", n, exportOutput)
	}
	return nil
}
