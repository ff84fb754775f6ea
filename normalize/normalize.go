// Package normalize turns mapped custody records into canonical ones.
//
// Format problems (ISIN, dates, unknown sources, missing references) block a
// record. Business plausibility checks only ever warn: reconciliation needs
// to see anomalous rows, not lose them.
package normalize

import (
	"strings"
	"time"

	"github.com/rustyeddy/custody/custody"
	"github.com/rustyeddy/custody/profile"
	"github.com/shopspring/decimal"
)

// DefaultMaxAmount is the magnitude above which an amount is flagged.
var DefaultMaxAmount = decimal.New(1, 10)

// Options configure a Normalizer. Zero values select defaults.
type Options struct {
	Parentheses custody.ParenPolicy
	MaxAmount   decimal.Decimal
	Now         func() time.Time
}

// Normalizer validates Partials against their source's profile.
type Normalizer struct {
	registry *profile.Registry
	opts     Options
}

func New(registry *profile.Registry, opts Options) *Normalizer {
	if opts.MaxAmount.IsZero() {
		opts.MaxAmount = DefaultMaxAmount
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Normalizer{registry: registry, opts: opts}
}

// Normalize validates p and, when nothing blocking is found, returns the
// canonical record in the outcome.
func (n *Normalizer) Normalize(p custody.Partial) custody.Outcome {
	var out custody.Outcome

	prof, err := n.registry.Lookup(p.SourceSystem)
	if err != nil {
		out.Add(custody.Errorf(custody.KindConfiguration, "", "unknown source system %q", p.SourceSystem))
		return out
	}

	rec := custody.CanonicalRecord{
		SourceSystem: prof.ID,
		FileName:     strings.TrimSpace(p.FileName),
	}

	rec.ClientReference = ClientReference(p.ClientReference)
	if rec.ClientReference == "" {
		out.Add(custody.Errorf(custody.KindFormat, custody.FieldClientReference,
			"empty after cleaning %q", p.ClientReference))
	}
	rec.ClientName = text(p.ClientName, prof.Policy.UppercaseClientName)
	rec.InstrumentName = text(p.InstrumentName, false)
	rec.InstrumentCode = text(p.InstrumentCode, false)

	isin, err := ISIN(p.InstrumentISIN)
	if err != nil {
		out.Add(custody.Errorf(custody.KindFormat, custody.FieldInstrumentISIN, "%v", err))
	} else {
		rec.InstrumentISIN = isin
		if !ValidCheckDigit(isin) {
			out.Add(custody.Warnf(custody.KindFormat, custody.FieldInstrumentISIN,
				"check digit mismatch for %s", isin))
		}
	}

	date, err := n.recordDate(p.RecordDate)
	if err != nil {
		out.Add(custody.Errorf(custody.KindFormat, custody.FieldRecordDate, "%v", err))
	}
	rec.RecordDate = date

	rec.BlockedQuantity = n.amount(&out, custody.FieldBlockedQuantity, p.BlockedQuantity)
	rec.PendingBuyQuantity = n.amount(&out, custody.FieldPendingBuyQuantity, p.PendingBuyQuantity)
	rec.PendingSellQuantity = n.amount(&out, custody.FieldPendingSellQuantity, p.PendingSellQuantity)
	rec.SaleableQuantity = n.amount(&out, custody.FieldSaleableQuantity, p.SaleableQuantity)
	if p.TotalPosition.Valid {
		rec.TotalPosition = decimal.NewNullDecimal(n.amount(&out, custody.FieldTotalPosition, p.TotalPosition.Decimal))
	}

	applyOverrides(&rec, prof.Policy)

	out.Add(BusinessRules(rec, prof.Policy)...)

	out.Success = len(out.Errors) == 0
	if out.Success {
		out.Record = &rec
	}
	return out
}

func (n *Normalizer) recordDate(raw string) (time.Time, error) {
	d, err := custody.ParseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	limit := n.opts.Now().AddDate(1, 0, 0)
	if d.After(limit) {
		return time.Time{}, errFuture(d, limit)
	}
	return d, nil
}

func (n *Normalizer) amount(out *custody.Outcome, f custody.Field, v decimal.Decimal) decimal.Decimal {
	d, warnings, err := n.Amount(v)
	if err != nil {
		out.Add(custody.Warnf(custody.KindFormat, f, "%v, using 0", err))
		return decimal.Zero
	}
	for _, w := range warnings {
		out.Add(custody.Warnf(custody.KindFormat, f, "%s", w))
	}
	return d
}

// text trims and collapses whitespace. Empty values become nil.
func text(v *string, upper bool) *string {
	if v == nil {
		return nil
	}
	s := strings.Join(strings.Fields(*v), " ")
	if s == "" {
		return nil
	}
	if upper {
		s = strings.ToUpper(s)
	}
	return &s
}

func applyOverrides(rec *custody.CanonicalRecord, policy profile.SourcePolicy) {
	for f, v := range policy.Overrides {
		var val *string
		if v != nil {
			val = custody.StringPtr(*v)
		}
		switch f {
		case custody.FieldClientName:
			rec.ClientName = val
		case custody.FieldInstrumentName:
			rec.InstrumentName = val
		case custody.FieldInstrumentCode:
			rec.InstrumentCode = val
		}
	}
}

// ClientReference upper-cases s, keeps only A-Z, 0-9, '-' and '_', collapses
// runs of separators to their first character and trims separators from
// both ends.
func ClientReference(s string) string {
	var b strings.Builder
	sep := true
	for _, c := range strings.ToUpper(strings.TrimSpace(s)) {
		switch {
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
			sep = false
		case c == '-' || c == '_':
			if !sep {
				b.WriteRune(c)
				sep = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-_")
}
