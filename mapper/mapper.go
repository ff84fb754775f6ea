// Package mapper resolves a raw source row into a partially canonical record
// using a custody profile. Mapping is pure: every problem comes back as an
// issue for the caller to count or report.
package mapper

import (
	"strings"

	"github.com/rustyeddy/custody/custody"
	"github.com/rustyeddy/custody/profile"
	"github.com/shopspring/decimal"
)

// Options tune numeric cleaning.
type Options struct {
	Parentheses custody.ParenPolicy
}

// Map resolves raw into a Partial. Source system, file name and record date
// come from meta, falling back to the raw record's own metadata.
func Map(raw *custody.RawRecord, p *profile.Profile, meta custody.Metadata) (custody.Partial, []custody.Issue) {
	return Options{}.Map(raw, p, meta)
}

// Map is Map with explicit options.
func (o Options) Map(raw *custody.RawRecord, p *profile.Profile, meta custody.Metadata) (custody.Partial, []custody.Issue) {
	m := &mapping{raw: raw, profile: p, paren: o.Parentheses}

	out := custody.Partial{
		SourceSystem: p.ID,
		FileName:     firstNonEmpty(meta.FileName, raw.Meta.FileName, meta.Collection, raw.Meta.Collection),
		RecordDate:   firstNonEmpty(meta.RecordDate, raw.Meta.RecordDate),
	}

	if v, ok := m.text(custody.FieldClientReference); ok {
		out.ClientReference = v
	}
	out.ClientName = m.optionalText(custody.FieldClientName)
	if v, ok := m.text(custody.FieldInstrumentISIN); ok {
		out.InstrumentISIN = v
	}
	out.InstrumentName = m.optionalText(custody.FieldInstrumentName)
	out.InstrumentCode = m.optionalText(custody.FieldInstrumentCode)

	out.BlockedQuantity = m.quantity(custody.FieldBlockedQuantity)
	out.PendingBuyQuantity = m.quantity(custody.FieldPendingBuyQuantity)
	out.PendingSellQuantity = m.quantity(custody.FieldPendingSellQuantity)
	out.SaleableQuantity = m.quantity(custody.FieldSaleableQuantity)
	if p.Maps(custody.FieldTotalPosition) {
		out.TotalPosition = decimal.NewNullDecimal(m.quantity(custody.FieldTotalPosition))
	}

	ApplyOverrides(&out, p.Policy)
	return out, m.issues
}

// ApplyOverrides writes the policy's fixed values over whatever was mapped.
func ApplyOverrides(out *custody.Partial, policy profile.SourcePolicy) {
	for f, v := range policy.Overrides {
		switch f {
		case custody.FieldClientName:
			out.ClientName = clone(v)
		case custody.FieldInstrumentName:
			out.InstrumentName = clone(v)
		case custody.FieldInstrumentCode:
			out.InstrumentCode = clone(v)
		case custody.FieldClientReference:
			out.ClientReference = deref(v)
		case custody.FieldInstrumentISIN:
			out.InstrumentISIN = deref(v)
		}
	}
}

type mapping struct {
	raw     *custody.RawRecord
	profile *profile.Profile
	paren   custody.ParenPolicy
	issues  []custody.Issue
}

// lookup returns the first candidate column that is present and non-empty.
func (m *mapping) lookup(f custody.Field) (string, string, bool) {
	for _, name := range m.profile.Candidates(f) {
		if v, ok := m.raw.Lookup(name); ok && strings.TrimSpace(v) != "" {
			return name, v, true
		}
	}
	return "", "", false
}

func (m *mapping) overridden(f custody.Field) bool {
	_, ok := m.profile.Policy.Override(f)
	return ok
}

func (m *mapping) missing(f custody.Field) {
	if m.overridden(f) || !m.profile.Maps(f) {
		return
	}
	tried := strings.Join(m.profile.Candidates(f), ", ")
	if m.profile.IsRequired(f) {
		m.issues = append(m.issues, custody.Errorf(custody.KindFieldExtraction, f,
			"required field missing; tried [%s]", tried))
		return
	}
	m.issues = append(m.issues, custody.Warnf(custody.KindFieldExtraction, f,
		"optional field missing; tried [%s]", tried))
}

func (m *mapping) text(f custody.Field) (string, bool) {
	_, v, ok := m.lookup(f)
	if !ok {
		m.missing(f)
		return "", false
	}
	return v, true
}

func (m *mapping) optionalText(f custody.Field) *string {
	if v, ok := m.text(f); ok {
		return &v
	}
	return nil
}

func (m *mapping) quantity(f custody.Field) decimal.Decimal {
	if m.profile.IsSummed(f) {
		return m.sum(f)
	}
	col, v, ok := m.lookup(f)
	if !ok {
		m.missing(f)
		return decimal.Zero
	}
	return m.parse(f, col, v)
}

// sum adds every candidate column. The field is missing only when none of
// the candidates is present.
func (m *mapping) sum(f custody.Field) decimal.Decimal {
	total := decimal.Zero
	found := false
	for _, name := range m.profile.Candidates(f) {
		v, ok := m.raw.Lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		found = true
		total = total.Add(m.parse(f, name, v))
	}
	if !found {
		m.missing(f)
	}
	return total
}

func (m *mapping) parse(f custody.Field, column, v string) decimal.Decimal {
	d, ok := custody.ParseQuantity(v, m.paren)
	if !ok {
		m.issues = append(m.issues, custody.Warnf(custody.KindFormat, f,
			"unparseable number %q in column %q, using 0", v, column))
		return decimal.Zero
	}
	if d.IsNegative() {
		m.issues = append(m.issues, custody.Warnf(custody.KindFormat, f,
			"negative value %s in column %q clamped to 0", d, column))
		return decimal.Zero
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func clone(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
