// Package runner streams source collections through mapping,
// normalization and the partitioned store on a bounded worker pool.
//
// Each collection is one WorkUnit. Workers report to a single coordinator
// over a channel of Progress, Completed and Failed messages; a failing
// unit never stops its siblings. Loads are idempotent, so a failed run is
// fixed by running again.
package runner

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/rustyeddy/custody/custody"
	"github.com/rustyeddy/custody/internal/metrics"
	"github.com/rustyeddy/custody/mapper"
	"github.com/rustyeddy/custody/normalize"
	"github.com/rustyeddy/custody/profile"
	"github.com/rustyeddy/custody/source"
	"github.com/rustyeddy/custody/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultWorkers          = 8
	DefaultBatchSize        = 1000
	MaxBatchSize            = 5000
	DefaultUnitTimeout      = 30 * time.Minute
	DefaultMaxSampledIssues = 20
)

// Config tunes the pool.
type Config struct {
	Workers          int           `mapstructure:"workers" yaml:"workers" json:"workers"`
	BatchSize        int           `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
	UnitTimeout      time.Duration `mapstructure:"unit_timeout" yaml:"unit_timeout" json:"unit_timeout"`
	MaxSampledIssues int           `mapstructure:"max_sampled_issues" yaml:"max_sampled_issues" json:"max_sampled_issues"`
	BatchesPerSecond float64       `mapstructure:"batches_per_second" yaml:"batches_per_second" json:"batches_per_second"`
}

// DefaultConfig returns the stock pool settings.
func DefaultConfig() Config {
	return Config{
		Workers:          DefaultWorkers,
		BatchSize:        DefaultBatchSize,
		UnitTimeout:      DefaultUnitTimeout,
		MaxSampledIssues: DefaultMaxSampledIssues,
	}
}

// Validate checks ranges.
func (c Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("runner.workers must not be negative")
	}
	if c.BatchSize < 1 || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("runner.batch_size must be between 1 and %d", MaxBatchSize)
	}
	if c.UnitTimeout < 0 {
		return fmt.Errorf("runner.unit_timeout must not be negative")
	}
	if c.MaxSampledIssues < 0 {
		return fmt.Errorf("runner.max_sampled_issues must not be negative")
	}
	if c.BatchesPerSecond < 0 {
		return fmt.Errorf("runner.batches_per_second must not be negative")
	}
	return nil
}

// PoolSize is min(NumCPU, Workers), at least one.
func (c Config) PoolSize() int {
	limit := c.Workers
	if limit <= 0 {
		limit = DefaultWorkers
	}
	return max(1, min(runtime.NumCPU(), limit))
}

func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.UnitTimeout == 0 {
		c.UnitTimeout = DefaultUnitTimeout
	}
	if c.MaxSampledIssues == 0 {
		c.MaxSampledIssues = DefaultMaxSampledIssues
	}
	return c
}

// Opener connects one configured source.
type Opener func(ctx context.Context, cfg source.Config) (source.Source, error)

// Options wire a Runner. Store is required; the rest default.
type Options struct {
	Config     Config
	Sources    []source.Config
	Opener     Opener
	Registry   *profile.Registry
	Store      *store.Store
	Normalizer *normalize.Normalizer
	Mapper     mapper.Options
	Logger     *zap.Logger
	Metrics    *metrics.Collector
	OnProgress func(Progress)
}

// Runner executes loads.
type Runner struct {
	cfg        Config
	sources    []source.Config
	opener     Opener
	registry   *profile.Registry
	store      *store.Store
	normalizer *normalize.Normalizer
	mapper     mapper.Options
	logger     *zap.Logger
	metrics    *metrics.Collector
	onProgress func(Progress)
	limiter    *rate.Limiter
}

// New validates opts and fills in defaults.
func New(opts Options) (*Runner, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: runner needs a store", custody.ErrConfiguration)
	}
	cfg := opts.Config.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", custody.ErrConfiguration, err)
	}

	r := &Runner{
		cfg:        cfg,
		sources:    opts.Sources,
		opener:     opts.Opener,
		registry:   opts.Registry,
		store:      opts.Store,
		normalizer: opts.Normalizer,
		mapper:     opts.Mapper,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		onProgress: opts.OnProgress,
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.registry == nil {
		r.registry = profile.Default()
	}
	if r.normalizer == nil {
		r.normalizer = normalize.New(r.registry, normalize.Options{Parentheses: r.mapper.Parentheses})
	}
	if r.opener == nil {
		logger := r.logger
		r.opener = func(ctx context.Context, cfg source.Config) (source.Source, error) {
			return source.Dial(ctx, cfg, logger)
		}
	}
	if cfg.BatchesPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.BatchesPerSecond), 1)
	}
	return r, nil
}

type conn struct {
	name string
	key  source.Key
	src  source.Source
}

type job struct {
	src  source.Source
	unit *WorkUnit
}

// RunAll opens every configured source, discovers its non-empty
// collections and loads them. Unit failures are reported in the summary,
// not as the returned error, which is only set when ctx ends the run early
// or nothing is configured.
func (r *Runner) RunAll(ctx context.Context) (*RunSummary, error) {
	if len(r.sources) == 0 {
		return nil, fmt.Errorf("%w: no sources configured", custody.ErrConfiguration)
	}
	sum := newSummary(time.Now())
	logger := r.logger.With(zap.String("run", sum.RunID))
	logger.Info("run started", zap.Int("sources", len(r.sources)), zap.Int("workers", r.cfg.PoolSize()))

	conns := r.openSources(ctx, sum)
	defer r.closeSources(conns)

	jobs := r.discover(ctx, conns, sum)
	logger.Info("discovered work units", zap.Int("units", len(jobs)))

	r.execute(ctx, jobs, sum)
	sum.finish(time.Now())

	logger.Info("run finished",
		zap.Int("completed", sum.Completed),
		zap.Int("failed", sum.Failed),
		zap.Int("processed", sum.Processed),
		zap.Int("valid", sum.Valid),
		zap.Int("errors", sum.Errors),
		zap.Int("rejected", sum.Rejected),
		zap.Duration("elapsed", sum.Elapsed))
	return sum, ctx.Err()
}

// LoadFile loads a single collection from the source with key.
func (r *Runner) LoadFile(ctx context.Context, key source.Key, collection string) (*WorkUnit, error) {
	var cfg *source.Config
	for i := range r.sources {
		if r.sources[i].Key() == key {
			cfg = &r.sources[i]
			break
		}
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: source %s not configured", custody.ErrConfiguration, key)
	}
	src, err := r.opener(ctx, *cfg)
	if err != nil {
		return nil, err
	}
	defer src.Close(context.Background())

	total, err := src.CountDocuments(ctx, collection)
	if err != nil {
		return nil, err
	}
	u := r.unitFor(sourceName(*cfg, src), collection, total)

	msgs := make(chan Message, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for m := range msgs {
			r.handle(nil, m)
		}
	}()
	r.process(ctx, src, u, msgs)
	close(msgs)
	<-done
	return u, u.Err
}

func sourceName(cfg source.Config, src source.Source) string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return src.Name()
}

func (r *Runner) unitFor(sourceName, collection string, total int64) *WorkUnit {
	date, _ := custody.DateFromName(collection)
	return newUnit(
		UnitKey{Source: sourceName, Collection: collection},
		r.registry.Detect(collection),
		date,
		total,
		r.cfg.MaxSampledIssues,
	)
}

// failedUnit records a failure that happened before any unit could run.
func (r *Runner) failedUnit(sum *RunSummary, key UnitKey, err error) {
	u := newUnit(key, "", time.Time{}, 0, r.cfg.MaxSampledIssues)
	u.State = StateFailed
	u.Err = err
	r.handle(sum, Failed{Unit: u, Err: err})
}

func (r *Runner) openSources(ctx context.Context, sum *RunSummary) []conn {
	seen := make(map[source.Key]bool)
	var out []conn
	for _, cfg := range r.sources {
		key := cfg.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		src, err := r.opener(ctx, cfg)
		if err != nil {
			r.failedUnit(sum, UnitKey{Source: cfg.Name}, err)
			continue
		}
		out = append(out, conn{name: sourceName(cfg, src), key: key, src: src})
	}
	return out
}

func (r *Runner) closeSources(conns []conn) {
	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := c.src.Close(ctx); err != nil {
			r.logger.Warn("close source", zap.String("source", c.name), zap.Error(err))
		}
		cancel()
	}
}

func (r *Runner) discover(ctx context.Context, conns []conn, sum *RunSummary) []job {
	var jobs []job
	for _, c := range conns {
		names, err := c.src.ListCollections(ctx)
		if err != nil {
			r.failedUnit(sum, UnitKey{Source: c.name}, err)
			continue
		}
		for _, name := range names {
			n, err := c.src.CountDocuments(ctx, name)
			if err != nil {
				r.failedUnit(sum, UnitKey{Source: c.name, Collection: name}, err)
				continue
			}
			if n == 0 {
				continue
			}
			jobs = append(jobs, job{src: c.src, unit: r.unitFor(c.name, name, n)})
		}
	}
	return jobs
}

func (r *Runner) execute(ctx context.Context, jobs []job, sum *RunSummary) {
	size := r.cfg.PoolSize()
	msgs := make(chan Message, size*4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for m := range msgs {
			r.handle(sum, m)
		}
	}()

	var g errgroup.Group
	g.SetLimit(size)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			r.process(ctx, j.src, j.unit, msgs)
			return nil
		})
	}
	_ = g.Wait()
	close(msgs)
	<-done
}

// handle is never called concurrently: before execute starts it runs on
// the caller, afterwards only on the coordinator. sum is nil for LoadFile.
func (r *Runner) handle(sum *RunSummary, m Message) {
	switch m := m.(type) {
	case Progress:
		r.logger.Debug("progress",
			zap.String("unit", m.Key.String()),
			zap.Int("processed", m.Processed),
			zap.Int64("total", m.Total),
			zap.Int("valid", m.Valid),
			zap.Int("errors", m.Errors),
			zap.Float64("percent", m.Percent))
		if r.onProgress != nil {
			r.onProgress(m)
		}
	case Completed:
		u := m.Unit
		r.logger.Info("unit completed",
			zap.String("unit", u.Key.String()),
			zap.String("custody_type", u.CustodyType),
			zap.Int("processed", u.Processed),
			zap.Int("valid", u.Valid),
			zap.Int("errors", u.Errors),
			zap.Int("rejected", u.Rejected),
			zap.Int("inserted", u.Inserted),
			zap.Duration("elapsed", u.Duration))
		r.finished(sum, u)
	case Failed:
		u := m.Unit
		r.logger.Warn("unit failed",
			zap.String("unit", u.Key.String()),
			zap.String("custody_type", u.CustodyType),
			zap.Int("processed", u.Processed),
			zap.Error(m.Err))
		r.finished(sum, u)
	}
}

func (r *Runner) finished(sum *RunSummary, u *WorkUnit) {
	if !u.Started.IsZero() {
		r.metrics.UnitFinished(u.CustodyType, u.State.String(), metrics.Counts{
			Processed: u.Processed,
			Valid:     u.Valid,
			Errors:    u.Errors,
			Rejected:  u.Rejected,
			Warnings:  u.Warnings,
			Inserted:  u.Inserted,
		}, u.Duration)
	}
	if sum != nil {
		sum.add(u)
	}
}

// process runs one unit on the calling goroutine and always reports it.
func (r *Runner) process(ctx context.Context, src source.Source, u *WorkUnit, msgs chan<- Message) {
	u.State = StateRunning
	u.Started = time.Now()
	r.metrics.UnitStarted()

	uctx, cancel := context.WithTimeout(ctx, r.cfg.UnitTimeout)
	defer cancel()

	err := r.stream(uctx, src, u, msgs)
	u.Duration = time.Since(u.Started)
	if err != nil {
		if errors.Is(uctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after %s: %w", ErrTimeout, r.cfg.UnitTimeout, err)
		}
		u.State = StateFailed
		u.Err = err
		msgs <- Failed{Unit: u, Err: err}
		return
	}
	u.State = StateCompleted
	msgs <- Completed{Unit: u}
}
