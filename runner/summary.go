package runner

import (
	"sort"
	"time"

	"github.com/rustyeddy/custody/pkg/id"
)

// DateTotals is the per-record-date slice of a run.
type DateTotals struct {
	Inserted int
	Units    int
}

// RunSummary aggregates every unit of a run.
type RunSummary struct {
	RunID   string
	Start   time.Time
	Elapsed time.Duration
	Units   []*WorkUnit
	Counters
	Completed int
	Failed    int
	Dates     map[string]*DateTotals

	// Records processed per second of wall time.
	Throughput float64
}

func newSummary(start time.Time) *RunSummary {
	return &RunSummary{
		RunID: id.At(start),
		Start: start,
		Dates: make(map[string]*DateTotals),
	}
}

func (s *RunSummary) add(u *WorkUnit) {
	s.Units = append(s.Units, u)
	s.Counters.add(u.Counters)
	switch u.State {
	case StateCompleted:
		s.Completed++
	case StateFailed:
		s.Failed++
	}
	for date, n := range u.Dates {
		dt, ok := s.Dates[date]
		if !ok {
			dt = &DateTotals{}
			s.Dates[date] = dt
		}
		dt.Inserted += n
		dt.Units++
	}
}

func (s *RunSummary) finish(end time.Time) {
	s.Elapsed = end.Sub(s.Start)
	if secs := s.Elapsed.Seconds(); secs > 0 {
		s.Throughput = float64(s.Processed) / secs
	}
	sort.Slice(s.Units, func(i, j int) bool {
		a, b := s.Units[i].Key, s.Units[j].Key
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Collection < b.Collection
	})
}

// DateKeys returns the record dates touched, oldest first.
func (s *RunSummary) DateKeys() []string {
	keys := make([]string, 0, len(s.Dates))
	for k := range s.Dates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Unit finds a unit by source and collection.
func (s *RunSummary) Unit(sourceName, collection string) *WorkUnit {
	for _, u := range s.Units {
		if u.Key.Source == sourceName && u.Key.Collection == collection {
			return u
		}
	}
	return nil
}
