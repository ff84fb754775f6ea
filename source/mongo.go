package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rustyeddy/custody/custody"
	"github.com/sony/gobreaker"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const defaultConnectTimeout = 10 * time.Second

// Mongo reads collections from one MongoDB database. Calls that reach the
// server go through a circuit breaker so a dead database fails fast.
type Mongo struct {
	name    string
	key     Key
	client  *mongo.Client
	db      *mongo.Database
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// OpenMongo connects and pings the database named in cfg.
func OpenMongo(ctx context.Context, cfg Config, logger *zap.Logger) (*Mongo, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	name := cfg.Name
	if name == "" {
		name = cfg.Database
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	logger = logger.With(zap.String("source", name), zap.String("key", cfg.Key().String()))

	opts := options.Client().ApplyURI(cfg.URI)
	opts.SetConnectTimeout(timeout)
	opts.SetServerSelectionTimeout(timeout)

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(cctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", custody.ErrConnectivity, cfg.Key(), err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: ping %s: %w", custody.ErrConnectivity, cfg.Key(), err)
	}

	m := &Mongo{
		name:   name,
		key:    cfg.Key(),
		client: client,
		db:     client.Database(cfg.Database),
		logger: logger,
	}
	m.breaker = newBreaker(name, cfg.Breaker, logger)
	logger.Info("source connected")
	return m, nil
}

func newBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("source breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// Name is the configured source name.
func (m *Mongo) Name() string { return m.name }

// ListCollections returns every collection name in the database.
func (m *Mongo) ListCollections(ctx context.Context) ([]string, error) {
	out, err := m.breaker.Execute(func() (interface{}, error) {
		return m.db.ListCollectionNames(ctx, bson.D{})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list collections %s: %w", custody.ErrConnectivity, m.key, err)
	}
	return out.([]string), nil
}

// CountDocuments counts the documents in collection.
func (m *Mongo) CountDocuments(ctx context.Context, collection string) (int64, error) {
	out, err := m.breaker.Execute(func() (interface{}, error) {
		return m.db.Collection(collection).CountDocuments(ctx, bson.D{})
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count %s: %w", custody.ErrConnectivity, collection, err)
	}
	return out.(int64), nil
}

// Open starts a cursor over collection in natural order.
func (m *Mongo) Open(ctx context.Context, collection string, batchSize int) (Cursor, error) {
	opts := options.Find()
	if batchSize > 0 {
		opts.SetBatchSize(int32(batchSize))
	}
	out, err := m.breaker.Execute(func() (interface{}, error) {
		return m.db.Collection(collection).Find(ctx, bson.D{}, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: find %s: %w", custody.ErrConnectivity, collection, err)
	}
	return &mongoCursor{collection: collection, cur: out.(*mongo.Cursor)}, nil
}

// Close disconnects the client.
func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type mongoCursor struct {
	collection string
	cur        *mongo.Cursor
}

func (c *mongoCursor) Next(ctx context.Context) (*custody.RawRecord, bool, error) {
	if !c.cur.Next(ctx) {
		if err := c.cur.Err(); err != nil {
			return nil, false, fmt.Errorf("%w: read %s: %w", custody.ErrConnectivity, c.collection, err)
		}
		return nil, false, nil
	}
	var doc bson.D
	if err := c.cur.Decode(&doc); err != nil {
		return nil, false, fmt.Errorf("%w: decode %s: %w", custody.ErrFormat, c.collection, err)
	}
	return recordFromDoc(c.collection, doc), true, nil
}

func (c *mongoCursor) Close(ctx context.Context) error { return c.cur.Close(ctx) }

// recordFromDoc turns one document into a raw row. File name and record
// date fields set by the ingestion side become metadata, not columns.
func recordFromDoc(collection string, doc bson.D) *custody.RawRecord {
	rec := custody.NewRawRecord(custody.Metadata{Collection: collection})
	for _, e := range doc {
		switch e.Key {
		case "_id":
			continue
		case "fileName", "file_name":
			rec.Meta.FileName = stringify(e.Value)
			continue
		case "recordDate", "record_date":
			rec.Meta.RecordDate = stringify(e.Value)
			continue
		}
		rec.Set(e.Key, stringify(e.Value))
	}
	return rec
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case primitive.Decimal128:
		return x.String()
	case primitive.DateTime:
		return x.Time().UTC().Format("2006-01-02")
	case primitive.ObjectID:
		return x.Hex()
	case primitive.Null, primitive.Undefined:
		return ""
	}
	return fmt.Sprint(v)
}
