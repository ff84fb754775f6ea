// Package store keeps canonical custody records in one table per record
// date. Reloading a (source system, file name) pair replaces its earlier
// rows, so any load can be re-run safely.
package store

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rustyeddy/custody/custody"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultPrefix      = "custody_holdings"
	defaultInsertChunk = 500
	tableDateLayout    = "2006_01_02"
)

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,40}$`)

// Config selects the database and table naming.
type Config struct {
	Driver          string        `mapstructure:"driver" yaml:"driver" json:"driver"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn" json:"dsn"`
	TablePrefix     string        `mapstructure:"table_prefix" yaml:"table_prefix" json:"table_prefix"`
	LegacyTable     string        `mapstructure:"legacy_table" yaml:"legacy_table" json:"legacy_table"`
	InsertChunk     int           `mapstructure:"insert_chunk" yaml:"insert_chunk" json:"insert_chunk"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// Partition is one daily table.
type Partition struct {
	Date   time.Time
	Table  string
	Exists bool
}

// Store manages the daily partitions.
type Store struct {
	db      *sqlx.DB
	dialect dialect
	cfg     Config
	logger  *zap.Logger

	tables   sync.Map
	creating singleflight.Group
}

// Open connects to the configured database and checks it is reachable.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", custody.ErrConnectivity, cfg.Driver, err)
	}
	s, err := New(db, cfg, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database. The dialect follows db.DriverName().
func New(db *sqlx.DB, cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d, err := dialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}
	if cfg.TablePrefix == "" {
		cfg.TablePrefix = defaultPrefix
	}
	if cfg.LegacyTable == "" {
		cfg.LegacyTable = defaultPrefix
	}
	if cfg.InsertChunk <= 0 {
		cfg.InsertChunk = defaultInsertChunk
	}
	if !identPattern.MatchString(cfg.TablePrefix) {
		return nil, fmt.Errorf("invalid table prefix %q", cfg.TablePrefix)
	}
	if !identPattern.MatchString(cfg.LegacyTable) {
		return nil, fmt.Errorf("invalid legacy table %q", cfg.LegacyTable)
	}
	return &Store{
		db:      db,
		dialect: d,
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "store"), zap.String("driver", d.name)),
	}, nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// TableName is the partition table for date: prefix_YYYY_MM_DD.
func (s *Store) TableName(date time.Time) string {
	return s.cfg.TablePrefix + "_" + date.Format(tableDateLayout)
}

// EnsureTable creates the partition for date if it does not exist and
// returns its name. Racing creators, in this process or another, all
// succeed and exactly one table results.
func (s *Store) EnsureTable(ctx context.Context, date time.Time) (string, error) {
	table := s.TableName(date)
	if _, ok := s.tables.Load(table); ok {
		return table, nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: ensure %s: %w", custody.ErrStorage, table, err)
	}
	// Callers share one creation; a waiter must not fail because the
	// caller that started it went away.
	shared := context.WithoutCancel(ctx)
	_, err, _ := s.creating.Do(table, func() (any, error) {
		exists, err := s.tableExists(shared, table)
		if err != nil {
			return nil, err
		}
		if !exists {
			if err := s.createTable(shared, table); err != nil {
				return nil, err
			}
			s.logger.Info("created partition", zap.String("table", table))
		}
		s.tables.Store(table, struct{}{})
		return nil, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: ensure %s: %w", custody.ErrStorage, table, err)
	}
	return table, nil
}

// Partition reports whether the table for date exists, without creating it.
func (s *Store) Partition(ctx context.Context, date time.Time) (Partition, error) {
	p := Partition{Date: date, Table: s.TableName(date)}
	if _, ok := s.tables.Load(p.Table); ok {
		p.Exists = true
		return p, nil
	}
	exists, err := s.tableExists(ctx, p.Table)
	if err != nil {
		return p, fmt.Errorf("%w: check %s: %w", custody.ErrStorage, p.Table, err)
	}
	p.Exists = exists
	return p, nil
}

// ListPartitions returns the existing daily tables ordered by date.
func (s *Store) ListPartitions(ctx context.Context) ([]Partition, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, s.db.Rebind(s.dialect.listTables), s.cfg.TablePrefix+"_%"); err != nil {
		return nil, fmt.Errorf("%w: list partitions: %w", custody.ErrStorage, err)
	}
	var out []Partition
	for _, name := range names {
		suffix, ok := strings.CutPrefix(name, s.cfg.TablePrefix+"_")
		if !ok {
			continue
		}
		date, err := time.Parse(tableDateLayout, suffix)
		if err != nil {
			continue
		}
		out = append(out, Partition{Date: date, Table: name, Exists: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) tableExists(ctx context.Context, table string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(s.dialect.tableExists), table); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) createTable(ctx context.Context, table string) error {
	stmts := []string{
		fmt.Sprintf(partitionSchema, table, s.dialect.idColumn),
		fmt.Sprintf(partitionIndex, table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil && !isDuplicate(err) {
			return err
		}
	}
	return nil
}

// Records returns every row of the partition for date in insertion order.
func (s *Store) Records(ctx context.Context, date time.Time) ([]custody.CanonicalRecord, error) {
	p, err := s.Partition(ctx, date)
	if err != nil || !p.Exists {
		return nil, err
	}
	var out []custody.CanonicalRecord
	q := "SELECT " + strings.Join(recordColumns, ", ") + " FROM " + p.Table + " ORDER BY id"
	if err := s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", custody.ErrStorage, p.Table, err)
	}
	return out, nil
}
