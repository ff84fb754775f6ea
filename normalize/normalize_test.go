package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/rustyeddy/custody/custody"
	"github.com/rustyeddy/custody/profile"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)

func newNormalizer() *Normalizer {
	return New(profile.Default(), Options{Now: func() time.Time { return fixedNow }})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func axisPartial() custody.Partial {
	return custody.Partial{
		ClientReference:     " ax-001 ",
		ClientName:          custody.StringPtr("  asha   rao "),
		InstrumentISIN:      "ine002a01018",
		InstrumentName:      custody.StringPtr("Reliance  Industries"),
		BlockedQuantity:     dec("10"),
		PendingBuyQuantity:  dec("5"),
		PendingSellQuantity: dec("0"),
		TotalPosition:       decimal.NewNullDecimal(dec("1000")),
		SaleableQuantity:    dec("990"),
		SourceSystem:        "axis",
		FileName:            "axis_eod_custody_2025-06-25.xlsx",
		RecordDate:          "2025-06-25",
	}
}

func warnings(o custody.Outcome) string {
	var parts []string
	for _, w := range o.Warnings {
		parts = append(parts, w.String())
	}
	return strings.Join(parts, "\n")
}

func TestNormalizeValidRecord(t *testing.T) {
	out := newNormalizer().Normalize(axisPartial())

	require.True(t, out.Success, "errors: %v", out.Errors)
	assert.Empty(t, out.Warnings)
	require.NotNil(t, out.Record)

	rec := out.Record
	assert.Regexp(t, `^[A-Z]{2}[A-Z0-9]{9}[0-9]$`, rec.InstrumentISIN)
	assert.Equal(t, "INE002A01018", rec.InstrumentISIN)
	assert.Equal(t, "AX-001", rec.ClientReference)
	assert.Equal(t, "ASHA RAO", *rec.ClientName)
	assert.Equal(t, "Reliance Industries", *rec.InstrumentName)
	assert.Equal(t, "2025-06-25", rec.DateKey())
	assert.Equal(t, "axis", rec.SourceSystem)
	assert.True(t, rec.SaleableQuantity.Equal(dec("990")))
}

func TestNormalizeBlockingFormats(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*custody.Partial)
		field  custody.Field
		errMsg string
	}{
		{"short isin", func(p *custody.Partial) { p.InstrumentISIN = "INE002A0101" }, custody.FieldInstrumentISIN, "invalid ISIN"},
		{"empty isin", func(p *custody.Partial) { p.InstrumentISIN = "" }, custody.FieldInstrumentISIN, "empty ISIN"},
		{"isin letter check digit", func(p *custody.Partial) { p.InstrumentISIN = "INE002A0101X" }, custody.FieldInstrumentISIN, "invalid ISIN"},
		{"bad date", func(p *custody.Partial) { p.RecordDate = "someday" }, custody.FieldRecordDate, "unrecognized date"},
		{"missing date", func(p *custody.Partial) { p.RecordDate = "" }, custody.FieldRecordDate, "empty date"},
		{"far future", func(p *custody.Partial) { p.RecordDate = "2026-07-02" }, custody.FieldRecordDate, "more than one year ahead"},
		{"reference cleans to nothing", func(p *custody.Partial) { p.ClientReference = " -- " }, custody.FieldClientReference, "empty after cleaning"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := axisPartial()
			tt.mutate(&p)
			out := newNormalizer().Normalize(p)

			assert.False(t, out.Success)
			assert.Nil(t, out.Record)
			require.NotEmpty(t, out.Errors)
			assert.Equal(t, tt.field, out.Errors[0].Field)
			assert.Contains(t, out.Errors[0].Message, tt.errMsg)
			assert.ErrorIs(t, out.Errors[0].Err(), custody.ErrFormat)
		})
	}
}

func TestNormalizeDateWithinAYear(t *testing.T) {
	p := axisPartial()
	p.RecordDate = "2026-06-30"
	assert.True(t, newNormalizer().Normalize(p).Success)
}

func TestNormalizeUnknownSource(t *testing.T) {
	p := axisPartial()
	p.SourceSystem = profile.Unrecognized

	out := newNormalizer().Normalize(p)
	assert.False(t, out.Success)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, custody.KindConfiguration, out.Errors[0].Kind)
	assert.ErrorIs(t, out.Errors[0].Err(), custody.ErrConfiguration)
}

func TestNormalizeCheckDigitWarning(t *testing.T) {
	p := axisPartial()
	p.InstrumentISIN = "INE002A01019"

	out := newNormalizer().Normalize(p)
	assert.True(t, out.Success)
	assert.Contains(t, warnings(out), "check digit mismatch for INE002A01019")
}

func TestNormalizeOrbisInvariant(t *testing.T) {
	inputs := []custody.Partial{
		{ClientName: custody.StringPtr("Real Person"), InstrumentName: custody.StringPtr("INFOSYS"), InstrumentCode: custody.StringPtr("INFY")},
		{ClientName: nil, InstrumentName: nil, InstrumentCode: nil},
		{ClientName: custody.StringPtr(""), InstrumentName: custody.StringPtr(" "), InstrumentCode: custody.StringPtr("x")},
	}

	for i, p := range inputs {
		p.ClientReference = "OB7"
		p.InstrumentISIN = "INE009A01021"
		p.SourceSystem = "orbis"
		p.RecordDate = "25-06-2025"
		p.TotalPosition = decimal.NewNullDecimal(dec("10"))
		p.SaleableQuantity = dec("10")

		out := newNormalizer().Normalize(p)
		require.True(t, out.Success, "input %d: %v", i, out.Errors)
		require.NotNil(t, out.Record.ClientName)
		assert.Equal(t, "N/A", *out.Record.ClientName)
		assert.Nil(t, out.Record.InstrumentName)
		assert.Nil(t, out.Record.InstrumentCode)
	}
}

func TestFormulaCheck(t *testing.T) {
	tests := []struct {
		name     string
		total    string
		blocked  string
		saleable string
		want     string
	}{
		{"exact", "1000", "10", "990", ""},
		{"within one percent", "1000", "0", "991", ""},
		{"deviation ten percent", "1000", "0", "900", "(10.00%)"},
		{"deviation with blocked", "200", "50", "100", "(25.00%)"},
		{"tiny total uses floor", "0.001", "0", "0.0008", "(20.00%)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := axisPartial()
			p.TotalPosition = decimal.NewNullDecimal(dec(tt.total))
			p.BlockedQuantity = dec(tt.blocked)
			p.SaleableQuantity = dec(tt.saleable)

			out := newNormalizer().Normalize(p)
			require.True(t, out.Success)
			w := warnings(out)
			if tt.want == "" {
				assert.NotContains(t, w, "formula mismatch")
				return
			}
			assert.Contains(t, w, "formula mismatch")
			assert.Contains(t, w, tt.want)
		})
	}
}

func TestFormulaPercentMatchesDeviation(t *testing.T) {
	total, expected := dec("750"), dec("700")
	saleable := dec("640")
	deviation := expected.Sub(saleable).Abs()

	p := axisPartial()
	p.TotalPosition = decimal.NewNullDecimal(total)
	p.BlockedQuantity = dec("50")
	p.SaleableQuantity = saleable

	out := newNormalizer().Normalize(p)
	pct := deviation.Div(total).Mul(decimal.NewFromInt(100)).StringFixed(2)
	assert.Contains(t, warnings(out), "deviation 60 ("+pct+"%)")
	assert.Equal(t, "8.00", pct)
}

func TestPerSourceTolerance(t *testing.T) {
	// icici allows 2%, axis 1%.
	p := axisPartial()
	p.TotalPosition = decimal.NewNullDecimal(dec("1000"))
	p.BlockedQuantity = dec("0")
	p.SaleableQuantity = dec("985")
	assert.Contains(t, warnings(newNormalizer().Normalize(p)), "formula mismatch")

	p.SourceSystem = "icici"
	assert.NotContains(t, warnings(newNormalizer().Normalize(p)), "formula mismatch")
}

func TestBoundChecks(t *testing.T) {
	p := axisPartial()
	p.TotalPosition = decimal.NewNullDecimal(dec("100"))
	p.BlockedQuantity = dec("110")
	p.SaleableQuantity = dec("120")

	out := newNormalizer().Normalize(p)
	require.True(t, out.Success)
	w := warnings(out)
	assert.Contains(t, w, "saleable 120 exceeds total position 100")
	assert.Contains(t, w, "blocked 110 exceeds total position 100 by more than 5%")

	p.BlockedQuantity = dec("100")
	p.SaleableQuantity = dec("1")
	w = warnings(newNormalizer().Normalize(p))
	assert.Contains(t, w, "total position equals blocked 100 but saleable is 1")

	for _, i := range out.Warnings {
		assert.False(t, i.Blocking)
	}
}

func TestNoBoundChecksWithoutTotal(t *testing.T) {
	p := axisPartial()
	p.SourceSystem = "hdfc"
	p.TotalPosition = decimal.NullDecimal{}
	p.SaleableQuantity = dec("5000")

	out := newNormalizer().Normalize(p)
	require.True(t, out.Success)
	assert.False(t, out.Record.TotalPosition.Valid)
	assert.Empty(t, out.Warnings)
}

func TestExpectEmptyHeuristic(t *testing.T) {
	p := custody.Partial{
		ClientReference:    "OB1",
		InstrumentISIN:     "INE009A01021",
		SourceSystem:       "orbis",
		RecordDate:         "2025-06-25",
		PendingBuyQuantity: dec("3"),
	}
	out := newNormalizer().Normalize(p)
	require.True(t, out.Success)
	assert.Contains(t, warnings(out), "pending_buy_quantity: source orbis does not normally populate this field")
}

func TestAmount(t *testing.T) {
	tests := []struct {
		name    string
		in      any
		want    string
		warn    string
		wantErr bool
	}{
		{"parenthesized string", "(1,234.50)", "1234.50", "", false},
		{"grouped string", "12,34,567.891234", "1234567.8912", "", false},
		{"float", 12.5, "12.5", "", false},
		{"int", 7, "7", "", false},
		{"decimal", dec("0.00005"), "0.0001", "", false},
		{"negative", "-5", "0", "negative amount -5 clamped to 0", false},
		{"ceiling", "20000000000", "20000000000", "exceeds ceiling", false},
		{"nil", nil, "0", "", false},
		{"garbage", "abc", "0", "", true},
		{"unsupported", struct{}{}, "0", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, warns, err := Amount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, custody.ErrFormat)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(dec(tt.want)), "got %s want %s", got, tt.want)
			if tt.warn == "" {
				assert.Empty(t, warns)
			} else {
				require.Len(t, warns, 1)
				assert.Contains(t, warns[0], tt.warn)
			}
		})
	}
}

func TestAmountNegateParentheses(t *testing.T) {
	n := New(nil, Options{Parentheses: custody.ParenNegate})
	got, warns, err := n.Amount("(1,234.50)")
	require.NoError(t, err)
	assert.True(t, got.IsZero())
	assert.Equal(t, []string{"negative amount -1234.5 clamped to 0"}, warns)
}

func TestClientReference(t *testing.T) {
	tests := map[string]string{
		" ax-001 ":    "AX-001",
		"ab 12/34":    "AB1234",
		"a--b__c":     "A-B_C",
		"a-_b":        "A-B",
		"--x--":       "X",
		"ĀB#9":        "B9",
		"":            "",
		"client_ref_": "CLIENT_REF",
	}
	for in, want := range tests {
		assert.Equal(t, want, ClientReference(in), in)
	}
}

func TestISIN(t *testing.T) {
	got, err := ISIN(" ine-002a.01018 ")
	require.NoError(t, err)
	assert.Equal(t, "INE002A01018", got)

	for _, valid := range []string{"INE002A01018", "INE467B01029", "INE009A01021", "US0378331005", "DE0005140008"} {
		assert.True(t, ValidCheckDigit(valid), valid)
	}
	assert.False(t, ValidCheckDigit("INE002A01019"))
	assert.False(t, ValidCheckDigit("short"))
}
