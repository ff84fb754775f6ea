// Package custody holds the data model shared by every stage of the
// normalization pipeline: raw source rows, the partially mapped record, the
// canonical record written to storage and the issues raised along the way.
package custody

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field names a canonical column.
type Field string

const (
	FieldClientReference     Field = "client_reference"
	FieldClientName          Field = "client_name"
	FieldInstrumentISIN      Field = "instrument_isin"
	FieldInstrumentName      Field = "instrument_name"
	FieldInstrumentCode      Field = "instrument_code"
	FieldBlockedQuantity     Field = "blocked_quantity"
	FieldPendingBuyQuantity  Field = "pending_buy_quantity"
	FieldPendingSellQuantity Field = "pending_sell_quantity"
	FieldTotalPosition       Field = "total_position"
	FieldSaleableQuantity    Field = "saleable_quantity"
	FieldRecordDate          Field = "record_date"
)

// Fields lists the mappable canonical fields in schema order.
var Fields = []Field{
	FieldClientReference,
	FieldClientName,
	FieldInstrumentISIN,
	FieldInstrumentName,
	FieldInstrumentCode,
	FieldBlockedQuantity,
	FieldPendingBuyQuantity,
	FieldPendingSellQuantity,
	FieldTotalPosition,
	FieldSaleableQuantity,
}

// IsQuantity reports whether f holds a decimal quantity.
func (f Field) IsQuantity() bool {
	switch f {
	case FieldBlockedQuantity, FieldPendingBuyQuantity, FieldPendingSellQuantity,
		FieldTotalPosition, FieldSaleableQuantity:
		return true
	}
	return false
}

// Valid reports whether f is one of the mappable canonical fields.
func (f Field) Valid() bool {
	for _, k := range Fields {
		if k == f {
			return true
		}
	}
	return false
}

// Metadata is what the ingestion side knows about a row besides its cells.
type Metadata struct {
	Collection string
	FileName   string
	RecordDate string
}

// RawRecord is one source row: column name to raw cell text, in source
// column order. Cells are read only through Lookup.
type RawRecord struct {
	Meta Metadata

	keys   []string
	values map[string]string
	folded map[string]string
}

// NewRawRecord returns an empty record carrying meta.
func NewRawRecord(meta Metadata) *RawRecord {
	return &RawRecord{
		Meta:   meta,
		values: make(map[string]string),
		folded: make(map[string]string),
	}
}

// Set stores a cell. Setting an existing column keeps its position.
func (r *RawRecord) Set(column, value string) {
	if _, ok := r.values[column]; !ok {
		r.keys = append(r.keys, column)
		fk := foldHeader(column)
		if _, taken := r.folded[fk]; !taken {
			r.folded[fk] = column
		}
	}
	r.values[column] = value
}

// Keys returns the column names in source order.
func (r *RawRecord) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len is the number of columns.
func (r *RawRecord) Len() int { return len(r.keys) }

// Lookup finds a column by exact name first, then by its folded header form
// (case, spaces, underscores, dots, dashes and slashes ignored), so that
// "Client Code", "client_code" and "ClientCode" are the same candidate.
func (r *RawRecord) Lookup(name string) (string, bool) {
	if v, ok := r.values[name]; ok {
		return v, true
	}
	if col, ok := r.folded[foldHeader(name)]; ok {
		return r.values[col], true
	}
	return "", false
}

func foldHeader(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range strings.ToLower(s) {
		switch c {
		case ' ', '_', '.', '-', '/', '\t', '\u00a0':
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// Partial is a record after field mapping and before normalization. Values
// are mapped but not yet validated.
type Partial struct {
	ClientReference string
	ClientName      *string
	InstrumentISIN  string
	InstrumentName  *string
	InstrumentCode  *string

	BlockedQuantity     decimal.Decimal
	PendingBuyQuantity  decimal.Decimal
	PendingSellQuantity decimal.Decimal
	TotalPosition       decimal.NullDecimal
	SaleableQuantity    decimal.Decimal

	SourceSystem string
	FileName     string
	RecordDate   string
}

// CanonicalRecord is one validated custody holding line.
type CanonicalRecord struct {
	ClientReference string  `db:"client_reference"`
	ClientName      *string `db:"client_name"`
	InstrumentISIN  string  `db:"instrument_isin"`
	InstrumentName  *string `db:"instrument_name"`
	InstrumentCode  *string `db:"instrument_code"`

	BlockedQuantity     decimal.Decimal     `db:"blocked_quantity"`
	PendingBuyQuantity  decimal.Decimal     `db:"pending_buy_quantity"`
	PendingSellQuantity decimal.Decimal     `db:"pending_sell_quantity"`
	TotalPosition       decimal.NullDecimal `db:"total_position"`
	SaleableQuantity    decimal.Decimal     `db:"saleable_quantity"`

	SourceSystem string    `db:"source_system"`
	FileName     string    `db:"file_name"`
	RecordDate   time.Time `db:"record_date"`
}

// DateKey is the record date as YYYY-MM-DD.
func (c CanonicalRecord) DateKey() string { return FormatDate(c.RecordDate) }

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }
