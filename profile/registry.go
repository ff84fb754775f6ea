package profile

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/rustyeddy/custody/custody"
	"gopkg.in/yaml.v3"
)

// Unrecognized is what Detect returns when no profile matches. It never
// resolves to a profile, so unknown sources fail closed.
const Unrecognized = "unrecognized"

var ErrNotFound = errors.New("profile not found")

var defaultRequired = []custody.Field{custody.FieldClientReference, custody.FieldInstrumentISIN}

//go:embed profiles.yaml
var defaultProfiles []byte

// Registry holds the profiles in detection priority order.
type Registry struct {
	order []*Profile
	byID  map[string]*Profile
}

type fileSpec struct {
	Profiles []profileSpec `yaml:"profiles"`
}

type profileSpec struct {
	ID              string              `yaml:"id"`
	Detect          string              `yaml:"detect"`
	Extensions      []string            `yaml:"extensions"`
	HeaderRowOffset int                 `yaml:"header_row_offset"`
	Required        []string            `yaml:"required"`
	Fields          map[string][]string `yaml:"fields"`
	Summed          []string            `yaml:"summed"`
	Policy          struct {
		Overrides           map[string]*string `yaml:"overrides"`
		UppercaseClientName bool               `yaml:"uppercase_client_name"`
		TolerancePct        float64            `yaml:"tolerance_pct"`
		ExpectEmpty         []string           `yaml:"expect_empty"`
	} `yaml:"policy"`
}

var loadDefault = sync.OnceValue(func() *Registry {
	r, err := Parse(bytes.NewReader(defaultProfiles))
	if err != nil {
		panic(fmt.Sprintf("profile: embedded profiles: %v", err))
	}
	return r
})

// Default returns the built-in registry.
func Default() *Registry { return loadDefault() }

// LoadFile reads a registry from a YAML file.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profiles: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a registry from YAML.
func Parse(r io.Reader) (*Registry, error) {
	var spec fileSpec
	if err := yaml.NewDecoder(r).Decode(&spec); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	profiles := make([]*Profile, 0, len(spec.Profiles))
	for _, ps := range spec.Profiles {
		p, err := ps.build()
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return New(profiles...)
}

// New builds a registry. Detection priority follows argument order.
func New(profiles ...*Profile) (*Registry, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("no profiles defined")
	}
	r := &Registry{byID: make(map[string]*Profile, len(profiles))}
	for _, p := range profiles {
		id := strings.ToLower(p.ID)
		if id == "" || id == Unrecognized {
			return nil, fmt.Errorf("invalid profile id %q", p.ID)
		}
		if _, dup := r.byID[id]; dup {
			return nil, fmt.Errorf("duplicate profile %q", p.ID)
		}
		r.byID[id] = p
		r.order = append(r.order, p)
	}
	return r, nil
}

// Lookup returns the profile for a custody type.
func (r *Registry) Lookup(custodyType string) (*Profile, error) {
	p, ok := r.byID[strings.ToLower(strings.TrimSpace(custodyType))]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", custody.ErrConfiguration, ErrNotFound, custodyType)
	}
	return p, nil
}

// Detect returns the custody type whose pattern matches name, checking
// profiles in priority order, or Unrecognized.
func (r *Registry) Detect(name string) string {
	for _, p := range r.order {
		if p.Matches(name) {
			return p.ID
		}
	}
	return Unrecognized
}

// Profiles returns the profiles in priority order.
func (r *Registry) Profiles() []*Profile {
	out := make([]*Profile, len(r.order))
	copy(out, r.order)
	return out
}

func (ps profileSpec) build() (*Profile, error) {
	if ps.ID == "" {
		return nil, fmt.Errorf("profile without id")
	}
	if ps.Detect == "" {
		return nil, fmt.Errorf("profile %s: detect pattern is required", ps.ID)
	}
	re, err := regexp.Compile("(?i)" + ps.Detect)
	if err != nil {
		return nil, fmt.Errorf("profile %s: detect pattern: %w", ps.ID, err)
	}
	if ps.HeaderRowOffset < 0 {
		return nil, fmt.Errorf("profile %s: header_row_offset must not be negative", ps.ID)
	}

	p := &Profile{
		ID:              strings.ToLower(ps.ID),
		Pattern:         re,
		FileExtensions:  ps.Extensions,
		HeaderRowOffset: ps.HeaderRowOffset,
		FieldMappings:   make(map[custody.Field][]string, len(ps.Fields)),
		Policy: SourcePolicy{
			Overrides:           make(map[custody.Field]*string, len(ps.Policy.Overrides)),
			UppercaseClientName: ps.Policy.UppercaseClientName,
			TolerancePct:        ps.Policy.TolerancePct,
		},
	}

	for name, candidates := range ps.Fields {
		f, err := field(ps.ID, name)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("profile %s: field %s has no candidates", ps.ID, name)
		}
		p.FieldMappings[f] = candidates
	}
	for name, v := range ps.Policy.Overrides {
		f, err := field(ps.ID, name)
		if err != nil {
			return nil, err
		}
		p.Policy.Overrides[f] = v
	}
	if p.Summed, err = fields(ps.ID, ps.Summed); err != nil {
		return nil, err
	}
	for _, f := range p.Summed {
		if !f.IsQuantity() {
			return nil, fmt.Errorf("profile %s: summed field %s is not a quantity", ps.ID, f)
		}
	}
	if p.Policy.ExpectEmpty, err = fields(ps.ID, ps.Policy.ExpectEmpty); err != nil {
		return nil, err
	}

	p.Required = defaultRequired
	if len(ps.Required) > 0 {
		if p.Required, err = fields(ps.ID, ps.Required); err != nil {
			return nil, err
		}
	}
	for _, f := range p.Required {
		if _, fixed := p.Policy.Overrides[f]; !p.Maps(f) && !fixed {
			return nil, fmt.Errorf("profile %s: required field %s is not mapped", ps.ID, f)
		}
	}
	return p, nil
}

func field(profileID, name string) (custody.Field, error) {
	f := custody.Field(name)
	if !f.Valid() {
		return "", fmt.Errorf("profile %s: unknown field %q", profileID, name)
	}
	return f, nil
}

func fields(profileID string, names []string) ([]custody.Field, error) {
	out := make([]custody.Field, 0, len(names))
	for _, n := range names {
		f, err := field(profileID, n)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}
