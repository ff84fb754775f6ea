package runner

import (
	"context"
	"fmt"

	"github.com/rustyeddy/custody/custody"
	"github.com/rustyeddy/custody/profile"
	"github.com/rustyeddy/custody/source"
	"github.com/rustyeddy/custody/store"
	"go.uber.org/zap"
)

func (r *Runner) stream(ctx context.Context, src source.Source, u *WorkUnit, msgs chan<- Message) error {
	prof, err := r.registry.Lookup(u.CustodyType)
	if err != nil {
		return fmt.Errorf("collection %s: %w", u.Key.Collection, err)
	}
	cur, err := src.Open(ctx, u.Key.Collection, r.cfg.BatchSize)
	if err != nil {
		return err
	}
	defer cur.Close(context.Background())

	sessions := make(map[string]*store.Session)
	for {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		batch, more, err := readBatch(ctx, cur, r.cfg.BatchSize)
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			r.processBatch(ctx, u, prof, batch, sessions)
			msgs <- progressOf(u)
		}
		if !more {
			return nil
		}
	}
}

// readBatch pulls up to n records. A cursor error discards the partial
// batch.
func readBatch(ctx context.Context, cur source.Cursor, n int) ([]*custody.RawRecord, bool, error) {
	batch := make([]*custody.RawRecord, 0, n)
	for len(batch) < n {
		rec, ok, err := cur.Next(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return batch, false, nil
		}
		batch = append(batch, rec)
	}
	return batch, true, nil
}

func (r *Runner) processBatch(ctx context.Context, u *WorkUnit, prof *profile.Profile, batch []*custody.RawRecord, sessions map[string]*store.Session) {
	var (
		files  []string
		byFile = make(map[string][]custody.CanonicalRecord)
	)
	for _, raw := range batch {
		u.Processed++
		row := u.Processed

		meta := custody.Metadata{Collection: u.Key.Collection}
		if raw.Meta.RecordDate == "" && !u.RecordDate.IsZero() {
			meta.RecordDate = custody.FormatDate(u.RecordDate)
		}

		partial, issues := r.mapper.Map(raw, prof, meta)
		if custody.HasBlocking(issues) {
			u.Errors++
			for _, is := range issues {
				if is.Blocking {
					u.sampleError(fmt.Sprintf("row %d: %s", row, is))
				}
			}
			continue
		}

		out := r.normalizer.Normalize(partial)
		if !out.Success {
			u.Errors++
			for _, is := range out.Errors {
				u.sampleError(fmt.Sprintf("row %d: %s", row, is))
			}
			continue
		}

		u.Valid++
		warnings := append(issues, out.Warnings...)
		u.Warnings += len(warnings)
		for _, is := range warnings {
			u.sampleWarning(fmt.Sprintf("row %d: %s", row, is))
		}

		file := out.Record.FileName
		if _, ok := byFile[file]; !ok {
			files = append(files, file)
		}
		byFile[file] = append(byFile[file], *out.Record)
	}

	for _, file := range files {
		sess, ok := sessions[file]
		if !ok {
			sess = r.store.NewSession(prof.ID, file)
			sessions[file] = sess
		}
		res, err := sess.Write(ctx, byFile[file])
		u.Inserted += res.Inserted
		u.Rejected += res.Failed
		for _, d := range res.Dates {
			if d.Inserted > 0 {
				u.Dates[d.Date] += d.Inserted
			}
		}
		for _, e := range res.RowErrors {
			u.sampleError("store: " + e)
		}
		if err != nil {
			u.sampleError(err.Error())
			r.logger.Warn("batch write failed",
				zap.String("unit", u.Key.String()),
				zap.String("file", file),
				zap.Error(err))
		}
	}
}
