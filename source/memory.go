package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rustyeddy/custody/custody"
)

// Memory is an in-process source, used for tests and dry runs.
type Memory struct {
	name string

	mu          sync.RWMutex
	collections map[string][]*custody.RawRecord
	closed      bool
}

// NewMemory returns an empty source called name.
func NewMemory(name string) *Memory {
	return &Memory{name: name, collections: make(map[string][]*custody.RawRecord)}
}

// Rows builds raw records from a header and string rows. Short rows leave
// their trailing columns unset.
func Rows(header []string, rows ...[]string) []*custody.RawRecord {
	out := make([]*custody.RawRecord, 0, len(rows))
	for _, row := range rows {
		rec := custody.NewRawRecord(custody.Metadata{})
		for i, v := range row {
			if i < len(header) {
				rec.Set(header[i], v)
			}
		}
		out = append(out, rec)
	}
	return out
}

// Add appends records to collection, creating it if needed.
func (m *Memory) Add(collection string, recs ...*custody.RawRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = []*custody.RawRecord{}
	}
	for _, r := range recs {
		r.Meta.Collection = collection
		m.collections[collection] = append(m.collections[collection], r)
	}
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) ListCollections(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("%w: source %s closed", custody.ErrConnectivity, m.name)
	}
	names := make([]string, 0, len(m.collections))
	for k := range m.collections {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) CountDocuments(ctx context.Context, collection string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, fmt.Errorf("%w: source %s closed", custody.ErrConnectivity, m.name)
	}
	return int64(len(m.collections[collection])), nil
}

func (m *Memory) Open(ctx context.Context, collection string, batchSize int) (Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, fmt.Errorf("%w: source %s closed", custody.ErrConnectivity, m.name)
	}
	recs, ok := m.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: collection %q not found", custody.ErrConnectivity, collection)
	}
	snapshot := make([]*custody.RawRecord, len(recs))
	copy(snapshot, recs)
	return &memoryCursor{recs: snapshot}, nil
}

func (m *Memory) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memoryCursor struct {
	recs []*custody.RawRecord
	pos  int
}

func (c *memoryCursor) Next(ctx context.Context) (*custody.RawRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if c.pos >= len(c.recs) {
		return nil, false, nil
	}
	r := c.recs[c.pos]
	c.pos++
	return r, true, nil
}

func (c *memoryCursor) Close(ctx context.Context) error { return nil }
