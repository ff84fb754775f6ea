package runner

// Message is what workers send the coordinator: a Progress, Completed or
// Failed value.
type Message interface {
	unitKey() UnitKey
}

// Progress follows every batch.
type Progress struct {
	Key       UnitKey
	Processed int
	Total     int64
	Valid     int
	Errors    int
	Percent   float64
}

// Completed carries a unit that streamed to the end.
type Completed struct {
	Unit *WorkUnit
}

// Failed carries a unit stopped by a connectivity, configuration or
// timeout failure.
type Failed struct {
	Unit *WorkUnit
	Err  error
}

func (m Progress) unitKey() UnitKey  { return m.Key }
func (m Completed) unitKey() UnitKey { return m.Unit.Key }
func (m Failed) unitKey() UnitKey    { return m.Unit.Key }

func progressOf(u *WorkUnit) Progress {
	return Progress{
		Key:       u.Key,
		Processed: u.Processed,
		Total:     u.Total,
		Valid:     u.Valid,
		Errors:    u.Errors,
		Percent:   u.Percent(),
	}
}
