package custody

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ParenPolicy decides what a parenthesized number such as "(1,234.50)" means.
type ParenPolicy int

const (
	// ParenStrip drops the parentheses and keeps the magnitude. Lossy, but it
	// is what existing loads were produced with.
	ParenStrip ParenPolicy = iota
	// ParenNegate reads the value as negative accounting notation.
	ParenNegate
)

func (p ParenPolicy) String() string {
	if p == ParenNegate {
		return "negate"
	}
	return "strip"
}

// ParseParenPolicy accepts "strip" (or empty) and "negate".
func ParseParenPolicy(s string) (ParenPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strip":
		return ParenStrip, nil
	case "negate":
		return ParenNegate, nil
	}
	return ParenStrip, fmt.Errorf("unknown parentheses policy %q", s)
}

var placeholders = map[string]bool{
	"":    true,
	"-":   true,
	"--":  true,
	"—":   true,
	"nil": true,
}

var numberCleaner = strings.NewReplacer(
	",", "",
	" ", "",
	"\u00a0", "",
	"'", "",
	"_", "",
	"(", "",
	")", "",
)

// ParseQuantity parses a raw numeric cell after removing grouping separators
// and parentheses. Empty cells and dash placeholders are zero. ok is false
// when the cell is not a number; the returned value is then zero.
func ParseQuantity(raw string, paren ParenPolicy) (d decimal.Decimal, ok bool) {
	s := strings.TrimSpace(raw)
	if placeholders[strings.ToLower(s)] {
		return decimal.Zero, true
	}
	negate := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") && paren == ParenNegate {
		negate = true
	}
	s = numberCleaner.Replace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	if negate {
		d = d.Neg()
	}
	return d, true
}
