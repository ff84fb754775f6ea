package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rustyeddy/custody/custody"
	"go.uber.org/zap"
)

const maxRowErrors = 20

// DateResult is the outcome of writing one record date.
type DateResult struct {
	Date     string
	Table    string
	Deleted  int64
	Inserted int
	Failed   int
	Err      error
}

// LoadResult sums the date groups of one or more writes.
type LoadResult struct {
	Inserted  int
	Deleted   int64
	Failed    int
	Dates     []DateResult
	RowErrors []string
}

func (r *LoadResult) merge(o LoadResult) {
	r.Inserted += o.Inserted
	r.Deleted += o.Deleted
	r.Failed += o.Failed
	r.Dates = append(r.Dates, o.Dates...)
	for _, e := range o.RowErrors {
		if len(r.RowErrors) >= maxRowErrors {
			break
		}
		r.RowErrors = append(r.RowErrors, e)
	}
}

// Session loads one (source system, file name) pair in several writes. The
// pair's earlier rows in a partition are deleted the first time the session
// touches that partition, so later writes append instead of replacing.
// A Session is not safe for concurrent use.
type Session struct {
	store   *Store
	source  string
	file    string
	cleared map[string]bool
}

// NewSession starts a load of fileName from sourceSystem.
func (s *Store) NewSession(sourceSystem, fileName string) *Session {
	return &Session{
		store:   s,
		source:  sourceSystem,
		file:    fileName,
		cleared: make(map[string]bool),
	}
}

// Load replaces every row for (sourceSystem, fileName) on the record dates
// present in records.
func (s *Store) Load(ctx context.Context, records []custody.CanonicalRecord, sourceSystem, fileName string) (LoadResult, error) {
	return s.NewSession(sourceSystem, fileName).Write(ctx, records)
}

// Write groups records by record date and commits each group in its own
// transaction. A failed group rolls back alone; its error is joined into
// the returned error and the other groups still commit.
func (ss *Session) Write(ctx context.Context, records []custody.CanonicalRecord) (LoadResult, error) {
	var (
		res  LoadResult
		errs []error
	)
	for _, g := range groupByDate(records) {
		dr, rowErrs := ss.writeDate(ctx, g.date, g.records)
		res.merge(LoadResult{
			Inserted:  dr.Inserted,
			Deleted:   dr.Deleted,
			Failed:    dr.Failed,
			Dates:     []DateResult{dr},
			RowErrors: rowErrs,
		})
		if dr.Err != nil {
			errs = append(errs, dr.Err)
		}
	}
	return res, errors.Join(errs...)
}

type dateGroup struct {
	date    time.Time
	records []custody.CanonicalRecord
}

func groupByDate(records []custody.CanonicalRecord) []dateGroup {
	idx := make(map[string]int)
	var groups []dateGroup
	for _, rec := range records {
		key := rec.DateKey()
		i, ok := idx[key]
		if !ok {
			i = len(groups)
			idx[key] = i
			groups = append(groups, dateGroup{date: rec.RecordDate})
		}
		groups[i].records = append(groups[i].records, rec)
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].date.Before(groups[j].date) })
	return groups
}

func (ss *Session) writeDate(ctx context.Context, date time.Time, recs []custody.CanonicalRecord) (dr DateResult, rowErrs []string) {
	s := ss.store
	key := custody.FormatDate(date)
	dr.Date = key

	fail := func(step string, err error) (DateResult, []string) {
		dr.Deleted, dr.Inserted = 0, 0
		dr.Failed = len(recs)
		dr.Err = fmt.Errorf("%w: %s %s: %w", custody.ErrStorage, step, key, err)
		s.logger.Warn("date group failed",
			zap.String("date", key),
			zap.String("source", ss.source),
			zap.String("file", ss.file),
			zap.Error(err))
		return dr, nil
	}

	table, err := s.EnsureTable(ctx, date)
	if err != nil {
		return fail("ensure table", err)
	}
	dr.Table = table

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fail("begin", err)
	}
	defer tx.Rollback()

	if !ss.cleared[key] {
		q := tx.Rebind("DELETE FROM " + table + " WHERE source_system = ? AND file_name = ?")
		r, err := tx.ExecContext(ctx, q, ss.source, ss.file)
		if err != nil {
			return fail("delete", err)
		}
		dr.Deleted, _ = r.RowsAffected()
	}

	inserted, failed, rowErrs, err := ss.insertRows(ctx, tx, table, recs)
	if err != nil {
		return fail("insert", err)
	}
	if err := tx.Commit(); err != nil {
		return fail("commit", err)
	}
	ss.cleared[key] = true
	dr.Inserted, dr.Failed = inserted, failed
	return dr, rowErrs
}

// insertRows writes recs in multi-row chunks. A chunk that fails is rolled
// back to its savepoint and retried one row at a time so a single bad row
// only loses itself. The returned error is reserved for failures that
// poison the transaction.
func (ss *Session) insertRows(ctx context.Context, tx *sqlx.Tx, table string, recs []custody.CanonicalRecord) (inserted, failed int, rowErrs []string, err error) {
	chunk := ss.store.cfg.InsertChunk
	for start := 0; start < len(recs); start += chunk {
		end := min(start+chunk, len(recs))
		part := recs[start:end]

		if _, err := tx.ExecContext(ctx, "SAVEPOINT chunk"); err != nil {
			return 0, 0, nil, err
		}
		q, args := ss.insertStatement(table, part)
		if _, err := tx.ExecContext(ctx, tx.Rebind(q), args...); err == nil {
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT chunk"); err != nil {
				return 0, 0, nil, err
			}
			inserted += len(part)
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, 0, nil, err
		}
		if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT chunk"); err != nil {
			return 0, 0, nil, err
		}

		for i := range part {
			if _, err := tx.ExecContext(ctx, "SAVEPOINT row"); err != nil {
				return 0, 0, nil, err
			}
			q, args := ss.insertStatement(table, part[i:i+1])
			if _, rowErr := tx.ExecContext(ctx, tx.Rebind(q), args...); rowErr != nil {
				if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT row"); err != nil {
					return 0, 0, nil, err
				}
				failed++
				if len(rowErrs) < maxRowErrors {
					rowErrs = append(rowErrs, fmt.Sprintf("%s/%s: %v", part[i].ClientReference, part[i].InstrumentISIN, rowErr))
				}
				ss.store.logger.Debug("row rejected",
					zap.String("table", table),
					zap.String("client", part[i].ClientReference),
					zap.String("isin", part[i].InstrumentISIN),
					zap.Error(rowErr))
			} else {
				inserted++
			}
			if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT row"); err != nil {
				return 0, 0, nil, err
			}
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT chunk"); err != nil {
			return 0, 0, nil, err
		}
	}
	return inserted, failed, rowErrs, nil
}

func (ss *Session) insertStatement(table string, recs []custody.CanonicalRecord) (string, []any) {
	row := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(recordColumns)), ", ") + ")"
	values := make([]string, len(recs))
	args := make([]any, 0, len(recs)*len(recordColumns))
	for i, r := range recs {
		values[i] = row
		args = append(args,
			r.ClientReference,
			r.ClientName,
			r.InstrumentISIN,
			r.InstrumentName,
			r.InstrumentCode,
			r.BlockedQuantity,
			r.PendingBuyQuantity,
			r.PendingSellQuantity,
			r.TotalPosition,
			r.SaleableQuantity,
			ss.source,
			ss.file,
			custody.FormatDate(r.RecordDate),
		)
	}
	q := "INSERT INTO " + table + " (" + strings.Join(recordColumns, ", ") + ") VALUES " + strings.Join(values, ", ")
	return q, args
}
