package cmd

import (
	"fmt"
	"os"

	"github.com/rustyeddy/custody/internal/metrics"
	"github.com/rustyeddy/custody/normalize"
	"github.com/rustyeddy/custody/runner"
	"github.com/rustyeddy/custody/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Load every non-empty collection of every configured source",
	Long: `Run discovers the collections of each configured source, detects the
custodian and record date from each collection name and streams them
through the pipeline in parallel.

A failed collection does not stop the others. Loads replace earlier rows
for the same source and file, so a run can always be repeated.

Example:
  custody run --config custody.yaml`,
	RunE: runRun,
}

var (
	loadSource     string
	loadCollection string
)

var loadCmd = &cobra.Command{
	Use:   "load",
	Short: "Load a single collection",
	Long: `Load streams one collection of one configured source through the pipeline.

Example:
  custody load --source primary --collection kotak_25062025`,
	RunE: runLoad,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(loadCmd)

	loadCmd.Flags().StringVarP(&loadSource, "source", "s", "", "configured source name (required)")
	loadCmd.Flags().StringVar(&loadCollection, "collection", "", "collection to load (required)")
	loadCmd.MarkFlagRequired("source")
	loadCmd.MarkFlagRequired("collection")
}

func newRunner(st *store.Store, collector *metrics.Collector) (*runner.Runner, error) {
	reg, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	mopts, err := cfg.MapperOptions()
	if err != nil {
		return nil, err
	}
	nopts, err := cfg.NormalizeOptions()
	if err != nil {
		return nil, err
	}
	return runner.New(runner.Options{
		Config:     cfg.Runner,
		Sources:    cfg.Sources,
		Registry:   reg,
		Store:      st,
		Normalizer: normalize.New(reg, nopts),
		Mapper:     mopts,
		Logger:     logger,
		Metrics:    collector,
	})
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var collector *metrics.Collector
	if cfg.Metrics.Addr != "" {
		collector = metrics.New()
		go func() {
			if err := collector.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	r, err := newRunner(st, collector)
	if err != nil {
		return err
	}
	sum, err := r.RunAll(ctx)
	if sum != nil {
		runner.PrintSummary(os.Stdout, sum)
	}
	if err != nil {
		return err
	}
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d units failed", sum.Failed, len(sum.Units))
	}
	return nil
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	src, ok := cfg.Source(loadSource)
	if !ok {
		return fmt.Errorf("source %q is not configured", loadSource)
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	r, err := newRunner(st, nil)
	if err != nil {
		return err
	}
	u, err := r.LoadFile(ctx, src.Key(), loadCollection)
	if u != nil {
		runner.PrintUnit(os.Stdout, u)
		fmt.Printf("  inserted %d rows in %s\n", u.Inserted, u.Duration)
	}
	return err
}
