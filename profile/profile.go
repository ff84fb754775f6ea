// Package profile describes how each custodian lays out its export files and
// how their columns map onto the canonical custody record.
package profile

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rustyeddy/custody/custody"
	"github.com/shopspring/decimal"
)

var defaultTolerance = decimal.NewFromFloat(0.01)

// Profile is the static configuration for one custodian. Profiles are built
// once by a Registry and are read-only afterwards.
type Profile struct {
	ID              string
	Pattern         *regexp.Regexp
	FileExtensions  []string
	// HeaderRowOffset is the row holding the column names in the
	// custodian's original export. Rows arrive here already keyed by
	// header, so the loader does not read it; it is kept for tools that
	// parse the raw files and is shown by the profiles command.
	HeaderRowOffset int
	FieldMappings   map[custody.Field][]string
	Required        []custody.Field
	Summed          []custody.Field
	Policy          SourcePolicy
}

// SourcePolicy carries the per-source special rules.
type SourcePolicy struct {
	// Overrides replace mapped values unconditionally. A nil value forces
	// the field to null.
	Overrides map[custody.Field]*string

	UppercaseClientName bool

	// TolerancePct is the formula tolerance in percent of total position.
	// Zero means the 1% default.
	TolerancePct float64

	// ExpectEmpty lists fields this source does not normally populate.
	ExpectEmpty []custody.Field
}

// Candidates returns the source column names tried for f, in priority order.
func (p *Profile) Candidates(f custody.Field) []string {
	return p.FieldMappings[f]
}

// Maps reports whether the source has any column for f.
func (p *Profile) Maps(f custody.Field) bool {
	return len(p.FieldMappings[f]) > 0
}

func (p *Profile) IsRequired(f custody.Field) bool { return contains(p.Required, f) }

func (p *Profile) IsSummed(f custody.Field) bool { return contains(p.Summed, f) }

// Matches reports whether a file or collection name belongs to this source.
func (p *Profile) Matches(name string) bool {
	return p.Pattern != nil && p.Pattern.MatchString(name)
}

// AcceptsFile reports whether name has one of the profile's extensions.
// Names without an extension, such as collection names, are accepted.
// The loader works on collections and does not call it; it serves tools
// that pick up the custodian's raw export files.
func (p *Profile) AcceptsFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" || len(p.FileExtensions) == 0 {
		return true
	}
	for _, e := range p.FileExtensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// Override returns the fixed value for f, if the policy has one.
func (sp SourcePolicy) Override(f custody.Field) (value *string, ok bool) {
	value, ok = sp.Overrides[f]
	return value, ok
}

// Tolerance returns the formula tolerance as a fraction of total position.
func (sp SourcePolicy) Tolerance() decimal.Decimal {
	if sp.TolerancePct <= 0 {
		return defaultTolerance
	}
	return decimal.NewFromFloat(sp.TolerancePct).Div(decimal.NewFromInt(100))
}

func (sp SourcePolicy) ExpectsEmpty(f custody.Field) bool { return contains(sp.ExpectEmpty, f) }

func contains(fields []custody.Field, f custody.Field) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}
