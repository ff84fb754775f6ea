package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rustyeddy/custody/custody"
)

// ExportCSV writes the partition for date to w with a header row and
// returns the number of data rows written.
func (s *Store) ExportCSV(ctx context.Context, date time.Time, w io.Writer) (int, error) {
	p, err := s.Partition(ctx, date)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(recordColumns); err != nil {
		return 0, err
	}
	n := 0
	if p.Exists {
		q := "SELECT " + strings.Join(recordColumns, ", ") + " FROM " + p.Table + " ORDER BY id"
		rows, err := s.db.QueryxContext(ctx, q)
		if err != nil {
			return 0, fmt.Errorf("%w: read %s: %w", custody.ErrStorage, p.Table, err)
		}
		defer rows.Close()
		for rows.Next() {
			var rec custody.CanonicalRecord
			if err := rows.StructScan(&rec); err != nil {
				return n, fmt.Errorf("%w: scan %s: %w", custody.ErrStorage, p.Table, err)
			}
			if err := cw.Write(csvRow(rec)); err != nil {
				return n, err
			}
			n++
		}
		if err := rows.Err(); err != nil {
			return n, err
		}
	}
	cw.Flush()
	return n, cw.Error()
}

func csvRow(r custody.CanonicalRecord) []string {
	total := ""
	if r.TotalPosition.Valid {
		total = r.TotalPosition.Decimal.String()
	}
	return []string{
		r.ClientReference,
		str(r.ClientName),
		r.InstrumentISIN,
		str(r.InstrumentName),
		str(r.InstrumentCode),
		r.BlockedQuantity.String(),
		r.PendingBuyQuantity.String(),
		r.PendingSellQuantity.String(),
		total,
		r.SaleableQuantity.String(),
		r.SourceSystem,
		r.FileName,
		r.DateKey(),
	}
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
