// Package source reads raw custody rows from the document stores an
// ingestion process has already filled, one collection per input file.
package source

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rustyeddy/custody/custody"
	"go.uber.org/zap"
)

// Source is one connected document database.
type Source interface {
	Name() string
	ListCollections(ctx context.Context) ([]string, error)
	CountDocuments(ctx context.Context, collection string) (int64, error)
	Open(ctx context.Context, collection string, batchSize int) (Cursor, error)
	Close(ctx context.Context) error
}

// Cursor streams the rows of one collection in stored order. Next returns
// false once the collection is exhausted.
type Cursor interface {
	Next(ctx context.Context) (*custody.RawRecord, bool, error)
	Close(ctx context.Context) error
}

// Key identifies a source connection.
type Key struct {
	URI      string
	Database string
}

// String is the key with any password removed.
func (k Key) String() string {
	return redact(k.URI) + "/" + k.Database
}

func redact(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.User == nil {
		return uri
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}

// BreakerConfig tunes the circuit breaker guarding a source.
type BreakerConfig struct {
	MaxRequests      uint32        `mapstructure:"max_requests" yaml:"max_requests" json:"max_requests"`
	Interval         time.Duration `mapstructure:"interval" yaml:"interval" json:"interval"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	FailureThreshold uint32        `mapstructure:"failure_threshold" yaml:"failure_threshold" json:"failure_threshold"`
}

// Config describes one source database.
type Config struct {
	Name           string        `mapstructure:"name" yaml:"name" json:"name"`
	URI            string        `mapstructure:"uri" yaml:"uri" json:"uri"`
	Database       string        `mapstructure:"database" yaml:"database" json:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" json:"connect_timeout"`
	Breaker        BreakerConfig `mapstructure:"breaker" yaml:"breaker" json:"breaker"`
}

// Key returns the connection key for c.
func (c Config) Key() Key { return Key{URI: c.URI, Database: c.Database} }

// Validate checks the fields needed to connect.
func (c Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("uri is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if !strings.HasPrefix(c.URI, "mongodb://") && !strings.HasPrefix(c.URI, "mongodb+srv://") {
		return fmt.Errorf("unsupported uri scheme in %q", redact(c.URI))
	}
	return nil
}

// Dial connects to the source described by cfg.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: source %s: %w", custody.ErrConfiguration, cfg.Name, err)
	}
	return OpenMongo(ctx, cfg, logger)
}
