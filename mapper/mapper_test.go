package mapper

import (
	"strings"
	"testing"

	"github.com/rustyeddy/custody/custody"
	"github.com/rustyeddy/custody/profile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func raw(cells ...string) *custody.RawRecord {
	r := custody.NewRawRecord(custody.Metadata{})
	for i := 0; i+1 < len(cells); i += 2 {
		r.Set(cells[i], cells[i+1])
	}
	return r
}

func lookup(t *testing.T, id string) *profile.Profile {
	t.Helper()
	p, err := profile.Default().Lookup(id)
	require.NoError(t, err)
	return p
}

func messages(issues []custody.Issue) string {
	var parts []string
	for _, i := range issues {
		parts = append(parts, i.String())
	}
	return strings.Join(parts, "\n")
}

func TestMapAxis(t *testing.T) {
	r := raw(
		"ClientCode", "ax001",
		"ClientName", "Asha Rao",
		"ISIN", "INE002A01018",
		"SecurityName", "RELIANCE INDUSTRIES",
		"SecurityCode", "500325",
		"BlockedQty", "10",
		"PurchaseOutstanding", "5",
		"SaleOutstanding", "0",
		"TotalHolding", "1,000",
		"FreeBalance", "990",
	)
	meta := custody.Metadata{FileName: "axis_eod_custody_2025-06-25.xlsx", RecordDate: "2025-06-25"}

	got, issues := Map(r, lookup(t, "axis"), meta)
	assert.Empty(t, issues)

	assert.Equal(t, "ax001", got.ClientReference)
	require.NotNil(t, got.ClientName)
	assert.Equal(t, "Asha Rao", *got.ClientName)
	assert.Equal(t, "INE002A01018", got.InstrumentISIN)
	assert.Equal(t, "500325", *got.InstrumentCode)
	assert.Equal(t, "10", got.BlockedQuantity.String())
	assert.Equal(t, "5", got.PendingBuyQuantity.String())
	assert.True(t, got.TotalPosition.Valid)
	assert.Equal(t, "1000", got.TotalPosition.Decimal.String())
	assert.Equal(t, "990", got.SaleableQuantity.String())
	assert.Equal(t, "axis", got.SourceSystem)
	assert.Equal(t, "axis_eod_custody_2025-06-25.xlsx", got.FileName)
	assert.Equal(t, "2025-06-25", got.RecordDate)
}

func TestMapCandidatePriority(t *testing.T) {
	p := lookup(t, "axis")

	got, _ := Map(raw("UCC", "second", "ClientCode", "first", "ISIN", "X"), p, custody.Metadata{})
	assert.Equal(t, "first", got.ClientReference)

	// An empty first candidate falls through to the next one.
	got, _ = Map(raw("ClientCode", "  ", "UCC", "second", "ISIN", "X"), p, custody.Metadata{})
	assert.Equal(t, "second", got.ClientReference)
}

func TestMapMissingFields(t *testing.T) {
	p := lookup(t, "axis")

	got, issues := Map(raw("ClientName", "x"), p, custody.Metadata{})
	require.True(t, custody.HasBlocking(issues))

	text := messages(issues)
	assert.Contains(t, text, "client_reference: required field missing; tried [ClientCode, UCC]")
	assert.Contains(t, text, "instrument_isin: required field missing; tried [ISIN]")
	assert.Contains(t, text, "pending_buy_quantity: optional field missing; tried [PurchaseOutstanding]")

	assert.True(t, got.PendingBuyQuantity.IsZero())
	assert.Nil(t, got.InstrumentName)
	assert.True(t, got.TotalPosition.Valid)

	for _, i := range issues {
		if i.Field == custody.FieldPendingBuyQuantity {
			assert.False(t, i.Blocking)
			assert.Equal(t, custody.KindFieldExtraction, i.Kind)
		}
	}
}

func TestMapUnparseableAndNegative(t *testing.T) {
	p := lookup(t, "axis")
	r := raw("ClientCode", "A1", "ISIN", "INE002A01018",
		"PurchaseOutstanding", "abc", "SaleOutstanding", "-3", "FreeBalance", "(1,234.50)")

	got, issues := Map(r, p, custody.Metadata{})
	assert.False(t, custody.HasBlocking(issues))
	assert.True(t, got.PendingBuyQuantity.IsZero())
	assert.True(t, got.PendingSellQuantity.IsZero())
	assert.Equal(t, "1234.5", got.SaleableQuantity.String())

	text := messages(issues)
	assert.Contains(t, text, `unparseable number "abc" in column "PurchaseOutstanding"`)
	assert.Contains(t, text, `negative value -3 in column "SaleOutstanding" clamped to 0`)
}

func TestMapParenthesesNegate(t *testing.T) {
	p := lookup(t, "axis")
	r := raw("ClientCode", "A1", "ISIN", "INE002A01018", "FreeBalance", "(1,234.50)")

	got, issues := Options{Parentheses: custody.ParenNegate}.Map(r, p, custody.Metadata{})
	assert.True(t, got.SaleableQuantity.IsZero())
	assert.Contains(t, messages(issues), "negative value -1234.5")
}

func TestMapSummation(t *testing.T) {
	p := lookup(t, "kotak")

	got, issues := Map(raw("Client Code", "K1", "ISIN No", "INE467B01029",
		"Lock In Qty", "1,500", "Pledge Qty", "250.25"), p, custody.Metadata{})
	assert.Equal(t, "1750.25", got.BlockedQuantity.String())
	assert.NotContains(t, messages(issues), "blocked_quantity")

	got, issues = Map(raw("Client Code", "K1", "ISIN No", "INE467B01029",
		"Lock In Qty", "n/a", "Pledge Qty", "40"), p, custody.Metadata{})
	assert.Equal(t, "40", got.BlockedQuantity.String())
	assert.Contains(t, messages(issues), `unparseable number "n/a" in column "Lock In Qty"`)

	got, issues = Map(raw("Client Code", "K1", "ISIN No", "INE467B01029"), p, custody.Metadata{})
	assert.True(t, got.BlockedQuantity.IsZero())
	assert.Contains(t, messages(issues), "blocked_quantity: optional field missing; tried [Lock In Qty, Pledge Qty]")
}

func TestMapOrbisOverrides(t *testing.T) {
	p := lookup(t, "orbis")
	r := raw("Client Id", "OB-7", "ISIN", "INE009A01021",
		"Client Name", "Somebody Real", "Security Name", "INFOSYS", "Total Qty", "10", "Free Qty", "10")

	got, issues := Map(r, p, custody.Metadata{Collection: "orbisCustody25_06_2025"})
	assert.False(t, custody.HasBlocking(issues))
	require.NotNil(t, got.ClientName)
	assert.Equal(t, "N/A", *got.ClientName)
	assert.Nil(t, got.InstrumentName)
	assert.Nil(t, got.InstrumentCode)
	assert.Equal(t, "orbisCustody25_06_2025", got.FileName)
	assert.NotContains(t, messages(issues), "client_name")
}

func TestMapStructurallyAbsentTotal(t *testing.T) {
	p := lookup(t, "hdfc")

	got, issues := Map(raw("Client ID", "H1", "ISIN", "INE040A01034", "Saleable Qty", "7"), p, custody.Metadata{})
	assert.False(t, got.TotalPosition.Valid)
	assert.NotContains(t, messages(issues), "total_position")
}

func TestMapHeaderFolding(t *testing.T) {
	p := lookup(t, "axis")

	got, issues := Map(raw("client_code", "A1", "isin", "INE002A01018", "Free Balance", "3"), p, custody.Metadata{})
	assert.False(t, custody.HasBlocking(issues))
	assert.Equal(t, "A1", got.ClientReference)
	assert.Equal(t, "3", got.SaleableQuantity.String())
}
