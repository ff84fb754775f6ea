package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rustyeddy/custody/custody"
	"go.uber.org/zap"
)

const migrateBatch = 1000

// MigrationResult reports a legacy table migration.
type MigrationResult struct {
	Rows   int
	Groups int
	LoadResult
}

// MigrateLegacy copies the single legacy table into daily partitions. Rows
// are streamed ordered by (record_date, source_system, file_name) and each
// (source, file) pair is loaded through one Session, so running the
// migration again replaces rather than duplicates. A missing legacy table is
// not an error.
func (s *Store) MigrateLegacy(ctx context.Context) (MigrationResult, error) {
	var res MigrationResult
	exists, err := s.tableExists(ctx, s.cfg.LegacyTable)
	if err != nil {
		return res, fmt.Errorf("%w: check %s: %w", custody.ErrStorage, s.cfg.LegacyTable, err)
	}
	if !exists {
		s.logger.Info("no legacy table", zap.String("table", s.cfg.LegacyTable))
		return res, nil
	}

	q := "SELECT " + strings.Join(recordColumns, ", ") + " FROM " + s.cfg.LegacyTable +
		" ORDER BY record_date, source_system, file_name"
	rows, err := s.db.QueryxContext(ctx, q)
	if err != nil {
		return res, fmt.Errorf("%w: read %s: %w", custody.ErrStorage, s.cfg.LegacyTable, err)
	}
	defer rows.Close()

	var (
		sessions = map[[2]string]*Session{}
		buf      []custody.CanonicalRecord
		bufKey   [3]string
		errs     []error
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		k := [2]string{bufKey[0], bufKey[1]}
		sess, ok := sessions[k]
		if !ok {
			sess = s.NewSession(k[0], k[1])
			sessions[k] = sess
			res.Groups++
		}
		lr, err := sess.Write(ctx, buf)
		res.merge(lr)
		if err != nil {
			errs = append(errs, err)
		}
		buf = buf[:0]
	}

	for rows.Next() {
		var rec custody.CanonicalRecord
		if err := rows.StructScan(&rec); err != nil {
			errs = append(errs, fmt.Errorf("%w: scan %s: %w", custody.ErrStorage, s.cfg.LegacyTable, err))
			break
		}
		res.Rows++
		key := [3]string{rec.SourceSystem, rec.FileName, rec.DateKey()}
		if key != bufKey || len(buf) >= migrateBatch {
			flush()
			bufKey = key
		}
		buf = append(buf, rec)
	}
	flush()
	if err := rows.Err(); err != nil {
		errs = append(errs, fmt.Errorf("%w: read %s: %w", custody.ErrStorage, s.cfg.LegacyTable, err))
	}

	s.logger.Info("legacy migration finished",
		zap.Int("rows", res.Rows),
		zap.Int("groups", res.Groups),
		zap.Int("inserted", res.Inserted),
		zap.Int("failed", res.Failed))
	return res, errors.Join(errs...)
}
