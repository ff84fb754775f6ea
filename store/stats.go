package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rustyeddy/custody/custody"
)

// NonZeroCounts counts rows whose quantity column is above zero.
type NonZeroCounts struct {
	Blocked     int64 `json:"blocked"`
	PendingBuy  int64 `json:"pending_buy"`
	PendingSell int64 `json:"pending_sell"`
	Total       int64 `json:"total"`
	Saleable    int64 `json:"saleable"`
}

// Stats summarises one or more partitions. Formula compliance is measured
// against a flat 1% tolerance on rows with a positive total position.
type Stats struct {
	Date              string           `json:"date,omitempty"`
	Partitions        int              `json:"partitions"`
	TotalRows         int64            `json:"total_rows"`
	UniqueClients     int64            `json:"unique_clients"`
	UniqueInstruments int64            `json:"unique_instruments"`
	NonZero           NonZeroCounts    `json:"non_zero"`
	FormulaChecked    int64            `json:"formula_checked"`
	FormulaCompliant  int64            `json:"formula_compliant"`
	ComplianceRate    float64          `json:"compliance_rate"`
	AverageDeviation  float64          `json:"average_deviation"`
	Sources           map[string]int64 `json:"sources"`
}

// OverallStats covers every partition plus a per-day breakdown.
type OverallStats struct {
	Stats
	First time.Time `json:"first"`
	Last  time.Time `json:"last"`
	Days  []Stats   `json:"days"`
}

const statsQuery = `
SELECT
	COUNT(*),
	COUNT(DISTINCT client_reference),
	COUNT(DISTINCT instrument_isin),
	COALESCE(SUM(CASE WHEN blocked_quantity > 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN pending_buy_quantity > 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN pending_sell_quantity > 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN total_position > 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN saleable_quantity > 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN total_position > 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN total_position > 0
		AND ABS(saleable_quantity - (total_position - blocked_quantity)) <=
			CASE WHEN total_position * 0.01 > 0.0001 THEN total_position * 0.01 ELSE 0.0001 END
		THEN 1 ELSE 0 END), 0),
	COALESCE(AVG(CASE WHEN total_position > 0
		THEN ABS(saleable_quantity - (total_position - blocked_quantity)) END), 0)
FROM %s`

const sourcesQuery = `SELECT source_system, COUNT(*) FROM %s GROUP BY source_system`

// DailyStats summarises the partition for date. A missing partition yields
// empty stats.
func (s *Store) DailyStats(ctx context.Context, date time.Time) (Stats, error) {
	p, err := s.Partition(ctx, date)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Date: custody.FormatDate(date), Sources: map[string]int64{}}
	if !p.Exists {
		return st, nil
	}
	if err := s.aggregate(ctx, p.Table, &st); err != nil {
		return st, fmt.Errorf("%w: stats %s: %w", custody.ErrStorage, p.Table, err)
	}
	st.Partitions = 1
	return st, nil
}

// OverallStats summarises every partition.
func (s *Store) OverallStats(ctx context.Context) (OverallStats, error) {
	parts, err := s.ListPartitions(ctx)
	if err != nil {
		return OverallStats{}, err
	}
	out := OverallStats{Stats: Stats{Sources: map[string]int64{}}}
	if len(parts) == 0 {
		return out, nil
	}

	cols := strings.Join([]string{
		"client_reference", "instrument_isin", "blocked_quantity", "pending_buy_quantity",
		"pending_sell_quantity", "total_position", "saleable_quantity", "source_system",
	}, ", ")
	selects := make([]string, len(parts))
	for i, p := range parts {
		selects[i] = "SELECT " + cols + " FROM " + p.Table
	}
	union := "(" + strings.Join(selects, " UNION ALL ") + ") AS all_partitions"
	if err := s.aggregate(ctx, union, &out.Stats); err != nil {
		return out, fmt.Errorf("%w: overall stats: %w", custody.ErrStorage, err)
	}
	out.Partitions = len(parts)
	out.First = parts[0].Date
	out.Last = parts[len(parts)-1].Date

	for _, p := range parts {
		day, err := s.DailyStats(ctx, p.Date)
		if err != nil {
			return out, err
		}
		out.Days = append(out.Days, day)
	}
	return out, nil
}

func (s *Store) aggregate(ctx context.Context, from string, st *Stats) error {
	row := s.db.QueryRowxContext(ctx, fmt.Sprintf(statsQuery, from))
	if err := row.Scan(
		&st.TotalRows,
		&st.UniqueClients,
		&st.UniqueInstruments,
		&st.NonZero.Blocked,
		&st.NonZero.PendingBuy,
		&st.NonZero.PendingSell,
		&st.NonZero.Total,
		&st.NonZero.Saleable,
		&st.FormulaChecked,
		&st.FormulaCompliant,
		&st.AverageDeviation,
	); err != nil {
		return err
	}
	if st.FormulaChecked > 0 {
		st.ComplianceRate = float64(st.FormulaCompliant) / float64(st.FormulaChecked) * 100
	}

	rows, err := s.db.QueryxContext(ctx, fmt.Sprintf(sourcesQuery, from))
	if err != nil {
		return err
	}
	defer rows.Close()
	if st.Sources == nil {
		st.Sources = map[string]int64{}
	}
	for rows.Next() {
		var (
			src string
			n   int64
		)
		if err := rows.Scan(&src, &n); err != nil {
			return err
		}
		st.Sources[src] = n
	}
	return rows.Err()
}

// SourceNames returns the keys of m in order.
func SourceNames(m map[string]int64) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
