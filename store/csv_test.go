package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"

	"github.com/rustyeddy/custody/custody"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportCSV(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	r := holding("C001", "INE002A01018", "2025-06-25", 10, 1000, 990)
	r.ClientName = custody.StringPtr("ASHA RAO")
	_, err := s.Load(ctx, []custody.CanonicalRecord{
		r,
		holding("C002", "INE467B01029", "2025-06-25", 0, -1, 50),
	}, "axis", "axis_25062025")
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := s.ExportCSV(ctx, day("2025-06-25"), &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, recordColumns, rows[0])
	assert.Equal(t, []string{
		"C001", "ASHA RAO", "INE002A01018", "", "",
		"10", "0", "0", "1000", "990",
		"axis", "axis_25062025", "2025-06-25",
	}, rows[1])
	assert.Equal(t, "", rows[2][8])
}

func TestExportCSVMissingPartition(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	var buf bytes.Buffer
	n, err := s.ExportCSV(context.Background(), day("2030-01-01"), &buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 1)
}
