package normalize

import (
	"github.com/rustyeddy/custody/custody"
	"github.com/rustyeddy/custody/profile"
	"github.com/shopspring/decimal"
)

var (
	minTolerance   = decimal.New(1, -4)
	blockedCeiling = decimal.RequireFromString("1.05")
	hundred        = decimal.NewFromInt(100)
)

// BusinessRules runs the advisory checks on a canonical record. None of the
// returned issues is blocking.
func BusinessRules(rec custody.CanonicalRecord, policy profile.SourcePolicy) []custody.Issue {
	var issues []custody.Issue
	warn := func(f custody.Field, format string, args ...any) {
		issues = append(issues, custody.Warnf(custody.KindBusinessRule, f, format, args...))
	}

	if rec.TotalPosition.Valid {
		total := rec.TotalPosition.Decimal
		blocked := rec.BlockedQuantity
		saleable := rec.SaleableQuantity

		if total.IsPositive() {
			expected := total.Sub(blocked)
			deviation := expected.Sub(saleable).Abs()
			tolerance := decimal.Max(total.Mul(policy.Tolerance()), minTolerance)
			if deviation.GreaterThan(tolerance) {
				warn(custody.FieldSaleableQuantity,
					"formula mismatch: expected %s (total %s - blocked %s), got %s; deviation %s (%s%%)",
					expected, total, blocked, saleable, deviation,
					DeviationPercent(deviation, total).StringFixed(2))
			}
		}

		if saleable.GreaterThan(total) {
			warn(custody.FieldSaleableQuantity, "saleable %s exceeds total position %s", saleable, total)
		}
		if blocked.GreaterThan(total.Mul(blockedCeiling)) {
			warn(custody.FieldBlockedQuantity, "blocked %s exceeds total position %s by more than 5%%", blocked, total)
		}
		if total.Equal(blocked) && !saleable.IsZero() {
			warn(custody.FieldSaleableQuantity, "total position equals blocked %s but saleable is %s", blocked, saleable)
		}
	}

	for _, f := range policy.ExpectEmpty {
		if populated(rec, f) {
			warn(f, "source %s does not normally populate this field", rec.SourceSystem)
		}
	}
	return issues
}

// DeviationPercent is deviation as a percentage of total.
func DeviationPercent(deviation, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return deviation.Div(total).Mul(hundred)
}

func populated(rec custody.CanonicalRecord, f custody.Field) bool {
	switch f {
	case custody.FieldBlockedQuantity:
		return !rec.BlockedQuantity.IsZero()
	case custody.FieldPendingBuyQuantity:
		return !rec.PendingBuyQuantity.IsZero()
	case custody.FieldPendingSellQuantity:
		return !rec.PendingSellQuantity.IsZero()
	case custody.FieldSaleableQuantity:
		return !rec.SaleableQuantity.IsZero()
	case custody.FieldTotalPosition:
		return rec.TotalPosition.Valid && !rec.TotalPosition.Decimal.IsZero()
	case custody.FieldClientName:
		return rec.ClientName != nil
	case custody.FieldInstrumentName:
		return rec.InstrumentName != nil
	case custody.FieldInstrumentCode:
		return rec.InstrumentCode != nil
	}
	return false
}
