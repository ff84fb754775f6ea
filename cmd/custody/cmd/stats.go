package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rustyeddy/custody/custody"
	"github.com/rustyeddy/custody/store"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show partition statistics",
	Long: `Stats summarises one daily partition, or every partition when no date
is given: row and distinct counts, non-zero quantities, formula compliance
and the rows contributed by each source.

Examples:
  custody stats
  custody stats --date 2025-06-25 --json`,
	RunE: runStats,
}

var partitionsCmd = &cobra.Command{
	Use:   "partitions",
	Short: "List the daily partitions",
	RunE:  runPartitions,
}

var (
	statsDate string
	statsJSON bool
)

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(partitionsCmd)

	statsCmd.Flags().StringVarP(&statsDate, "date", "d", "", "record date (YYYY-MM-DD); all partitions when empty")
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "print JSON instead of a report")
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	if statsDate != "" {
		date, err := time.Parse(time.DateOnly, statsDate)
		if err != nil {
			return fmt.Errorf("invalid --date %q: %w", statsDate, err)
		}
		s, err := st.DailyStats(ctx, date)
		if err != nil {
			return err
		}
		if statsJSON {
			return writeJSON(os.Stdout, s)
		}
		printStats(os.Stdout, s)
		return nil
	}

	o, err := st.OverallStats(ctx)
	if err != nil {
		return err
	}
	if statsJSON {
		return writeJSON(os.Stdout, o)
	}
	printStats(os.Stdout, o.Stats)
	if o.Partitions > 0 {
		fmt.Printf("Range:              %s .. %s (%d days)\n",
			custody.FormatDate(o.First), custody.FormatDate(o.Last), len(o.Days))
		fmt.Println()
		for _, d := range o.Days {
			fmt.Printf("  %s  %8d rows  %6.2f%% compliant\n", d.Date, d.TotalRows, d.ComplianceRate)
		}
	}
	return nil
}

func printStats(w io.Writer, s store.Stats) {
	title := "All Partitions"
	if s.Date != "" {
		title = "Partition " + s.Date
	}
	fmt.Fprintln(w, "=====", title, "=====")
	fmt.Fprintf(w, "Rows:               %d\n", s.TotalRows)
	fmt.Fprintf(w, "Unique Clients:     %d\n", s.UniqueClients)
	fmt.Fprintf(w, "Unique Instruments: %d\n", s.UniqueInstruments)
	fmt.Fprintf(w, "Non-zero:           blocked %d, pending buy %d, pending sell %d, total %d, saleable %d\n",
		s.NonZero.Blocked, s.NonZero.PendingBuy, s.NonZero.PendingSell, s.NonZero.Total, s.NonZero.Saleable)
	fmt.Fprintf(w, "Formula:            %d/%d compliant (%.2f%%), avg deviation %.4f\n",
		s.FormulaCompliant, s.FormulaChecked, s.ComplianceRate, s.AverageDeviation)
	for _, name := range store.SourceNames(s.Sources) {
		fmt.Fprintf(w, "  %-16s %d rows\n", name, s.Sources[name])
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runPartitions(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	parts, err := st.ListPartitions(ctx)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		fmt.Println("no partitions")
		return nil
	}
	for _, p := range parts {
		fmt.Printf("%s  %s\n", custody.FormatDate(p.Date), p.Table)
	}
	return nil
}
