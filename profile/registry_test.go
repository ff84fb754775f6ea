package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rustyeddy/custody/custody"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	reg := Default()

	tests := []struct {
		name string
		want string
	}{
		{"axis_eod_custody_2025-06-25.xlsx", "axis"},
		{"AXIS_EOD_CUSTODY_2025-06-25", "axis"},
		{"orbisCustody25_06_2025.xlsx", "orbis"},
		{"Deutsche_Bank_Holdings_25062025.xls", "deutsche"},
		{"db_custody_2025_06_25", "deutsche"},
		{"hdfc_custody_20250625.csv", "hdfc"},
		{"Kotak_Holding_Statement_2025-06-25.xlsx", "kotak"},
		{"icici_demat_2025-06-25", "icici"},
		{"mystery_feed_2025-06-25.xlsx", Unrecognized},
		{"", Unrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reg.Detect(tt.name))
		})
	}
}

func TestDetectPriority(t *testing.T) {
	// Orbis is checked first, so a file mentioning both goes to orbis.
	assert.Equal(t, "orbis", Default().Detect("orbis_axis_mirror_2025-06-25"))
}

func TestLookup(t *testing.T) {
	reg := Default()

	p, err := reg.Lookup("AXIS")
	require.NoError(t, err)
	assert.Equal(t, "axis", p.ID)
	assert.Equal(t, []string{"PurchaseOutstanding"}, p.Candidates(custody.FieldPendingBuyQuantity))
	assert.True(t, p.IsRequired(custody.FieldInstrumentISIN))
	assert.False(t, p.IsRequired(custody.FieldClientName))

	_, err = reg.Lookup(Unrecognized)
	assert.ErrorIs(t, err, custody.ErrConfiguration)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrbisPolicy(t *testing.T) {
	p, err := Default().Lookup("orbis")
	require.NoError(t, err)

	v, ok := p.Policy.Override(custody.FieldClientName)
	require.True(t, ok)
	require.NotNil(t, v)
	assert.Equal(t, "N/A", *v)

	v, ok = p.Policy.Override(custody.FieldInstrumentName)
	assert.True(t, ok)
	assert.Nil(t, v)

	assert.True(t, p.IsSummed(custody.FieldBlockedQuantity))
	assert.True(t, p.Policy.ExpectsEmpty(custody.FieldPendingBuyQuantity))
	assert.Equal(t, 2, p.HeaderRowOffset)
}

func TestTolerance(t *testing.T) {
	reg := Default()

	axis, _ := reg.Lookup("axis")
	assert.Equal(t, "0.01", axis.Policy.Tolerance().String())

	deutsche, _ := reg.Lookup("deutsche")
	assert.Equal(t, "0.005", deutsche.Policy.Tolerance().String())
}

func TestHDFCHasNoTotalPosition(t *testing.T) {
	p, err := Default().Lookup("hdfc")
	require.NoError(t, err)
	assert.False(t, p.Maps(custody.FieldTotalPosition))
	assert.True(t, p.Maps(custody.FieldSaleableQuantity))
}

func TestAcceptsFile(t *testing.T) {
	p, _ := Default().Lookup("deutsche")
	assert.True(t, p.AcceptsFile("deutsche_2025.XLSX"))
	assert.False(t, p.AcceptsFile("deutsche_2025.csv"))
	assert.True(t, p.AcceptsFile("deutsche_custody_2025_06_25"))
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		errMsg string
	}{
		{
			name:   "empty",
			doc:    "profiles: []",
			errMsg: "no profiles defined",
		},
		{
			name:   "bad pattern",
			doc:    "profiles:\n  - id: x\n    detect: '('\n    fields: {client_reference: [A], instrument_isin: [B]}",
			errMsg: "detect pattern",
		},
		{
			name:   "unknown field",
			doc:    "profiles:\n  - id: x\n    detect: x\n    fields: {client_ref: [A]}",
			errMsg: `unknown field "client_ref"`,
		},
		{
			name:   "required not mapped",
			doc:    "profiles:\n  - id: x\n    detect: x\n    fields: {client_reference: [A]}",
			errMsg: "required field instrument_isin is not mapped",
		},
		{
			name:   "summed text field",
			doc:    "profiles:\n  - id: x\n    detect: x\n    fields: {client_reference: [A], instrument_isin: [B]}\n    summed: [client_name]",
			errMsg: "not a quantity",
		},
		{
			name:   "duplicate",
			doc:    "profiles:\n  - id: x\n    detect: x\n    fields: {client_reference: [A], instrument_isin: [B]}\n  - id: X\n    detect: y\n    fields: {client_reference: [A], instrument_isin: [B]}",
			errMsg: "duplicate profile",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	doc := `profiles:
  - id: custom
    detect: 'cust(om)?'
    fields:
      client_reference: [Acct]
      instrument_isin: [Isin]
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	reg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "custom", reg.Detect("CUST_2025-01-01"))
	assert.Len(t, reg.Profiles(), 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
