package normalize

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/rustyeddy/custody/custody"
	"github.com/shopspring/decimal"
)

var isinPattern = regexp.MustCompile(`^[A-Z]{2}[A-Z0-9]{9}[0-9]$`)

// ISIN upper-cases s and drops everything but letters and digits. The result
// must be a 12 character ISIN.
func ISIN(s string) (string, error) {
	var b strings.Builder
	for _, c := range strings.ToUpper(s) {
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			b.WriteRune(c)
		}
	}
	isin := b.String()
	if isin == "" {
		return "", fmt.Errorf("empty ISIN")
	}
	if !isinPattern.MatchString(isin) {
		return "", fmt.Errorf("invalid ISIN %q", isin)
	}
	return isin, nil
}

// ValidCheckDigit verifies the ISO 6166 check digit of a well-formed ISIN.
func ValidCheckDigit(isin string) bool {
	if len(isin) != 12 {
		return false
	}
	var digits []int
	for _, c := range isin[:11] {
		switch {
		case c >= '0' && c <= '9':
			digits = append(digits, int(c-'0'))
		case c >= 'A' && c <= 'Z':
			v := int(c-'A') + 10
			digits = append(digits, v/10, v%10)
		default:
			return false
		}
	}
	sum := 0
	for i := len(digits) - 1; i >= 0; i-- {
		d := digits[i]
		if (len(digits)-1-i)%2 == 0 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return (10-sum%10)%10 == int(isin[11]-'0')
}

// Amount normalizes a financial amount with default options.
func Amount(v any) (decimal.Decimal, []string, error) {
	return New(nil, Options{}).Amount(v)
}

// Amount accepts strings, integers, floats and decimals. Strings are cleaned
// of grouping separators and parentheses first. Negative amounts are clamped
// to zero and amounts above the ceiling are kept; both produce a warning.
// Results are rounded to 4 decimal places.
func (n *Normalizer) Amount(v any) (decimal.Decimal, []string, error) {
	d, err := n.toDecimal(v)
	if err != nil {
		return decimal.Zero, nil, err
	}
	var warnings []string
	if d.IsNegative() {
		warnings = append(warnings, fmt.Sprintf("negative amount %s clamped to 0", d))
		d = decimal.Zero
	}
	if d.GreaterThan(n.opts.MaxAmount) {
		warnings = append(warnings, fmt.Sprintf("amount %s exceeds ceiling %s", d, n.opts.MaxAmount))
	}
	return d.Round(4), warnings, nil
}

func (n *Normalizer) toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return x, nil
	case decimal.NullDecimal:
		if !x.Valid {
			return decimal.Zero, nil
		}
		return x.Decimal, nil
	case string:
		d, ok := custody.ParseQuantity(x, n.opts.Parentheses)
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: unparseable amount %q", custody.ErrFormat, x)
		}
		return d, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return decimal.Zero, fmt.Errorf("%w: non-finite amount %v", custody.ErrFormat, x)
		}
		return decimal.NewFromFloat(x), nil
	case float32:
		return n.toDecimal(float64(x))
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case uint32:
		return decimal.NewFromInt(int64(x)), nil
	case uint64:
		return decimal.NewFromUint64(x), nil
	}
	return decimal.Zero, fmt.Errorf("%w: unsupported amount type %T", custody.ErrFormat, v)
}

func errFuture(d, limit time.Time) error {
	return fmt.Errorf("record date %s is more than one year ahead (limit %s)",
		custody.FormatDate(d), custody.FormatDate(limit))
}
