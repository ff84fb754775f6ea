package runner

import (
	"errors"
	"time"
)

// ErrTimeout marks a unit that ran past its wall-clock ceiling.
var ErrTimeout = errors.New("work unit timed out")

// State is a work unit's lifecycle position.
type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// UnitKey names one collection of one source.
type UnitKey struct {
	Source     string
	Collection string
}

func (k UnitKey) String() string { return k.Source + "/" + k.Collection }

// Counters accumulate per record. Valid and Errors split Processed
// between records that passed mapping and normalization and those that
// did not. Rejected counts valid records the store then failed to write.
type Counters struct {
	Processed int
	Valid     int
	Errors    int
	Rejected  int
	Warnings  int
	Inserted  int
}

func (c *Counters) add(o Counters) {
	c.Processed += o.Processed
	c.Valid += o.Valid
	c.Errors += o.Errors
	c.Rejected += o.Rejected
	c.Warnings += o.Warnings
	c.Inserted += o.Inserted
}

// WorkUnit is one collection flowing through the pipeline. It is owned by
// its worker until the worker reports it finished.
type WorkUnit struct {
	Key         UnitKey
	CustodyType string
	RecordDate  time.Time
	Total       int64
	State       State
	Counters

	// Inserted rows per record date.
	Dates map[string]int

	SampledErrors   []string
	SampledWarnings []string

	Err      error
	Started  time.Time
	Duration time.Duration

	maxSamples int
}

func newUnit(key UnitKey, custodyType string, date time.Time, total int64, maxSamples int) *WorkUnit {
	return &WorkUnit{
		Key:         key,
		CustodyType: custodyType,
		RecordDate:  date,
		Total:       total,
		State:       StatePending,
		Dates:       make(map[string]int),
		maxSamples:  maxSamples,
	}
}

func (u *WorkUnit) sampleError(s string) {
	if len(u.SampledErrors) < u.maxSamples {
		u.SampledErrors = append(u.SampledErrors, s)
	}
}

func (u *WorkUnit) sampleWarning(s string) {
	if len(u.SampledWarnings) < u.maxSamples {
		u.SampledWarnings = append(u.SampledWarnings, s)
	}
}

// Percent is processed over total, capped at 100.
func (u *WorkUnit) Percent() float64 {
	if u.Total <= 0 {
		return 100
	}
	p := float64(u.Processed) / float64(u.Total) * 100
	return min(p, 100)
}
