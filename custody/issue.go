package custody

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration   = errors.New("configuration error")
	ErrFieldExtraction = errors.New("field extraction error")
	ErrFormat          = errors.New("format error")
	ErrStorage         = errors.New("storage error")
	ErrConnectivity    = errors.New("connectivity error")
)

// Kind classifies an Issue.
type Kind int

const (
	KindConfiguration Kind = iota + 1
	KindFieldExtraction
	KindFormat
	KindBusinessRule
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindFieldExtraction:
		return "field_extraction"
	case KindFormat:
		return "format"
	case KindBusinessRule:
		return "business_rule"
	}
	return "unknown"
}

// Issue is a problem found while mapping or normalizing one record.
// Blocking issues keep the record out of storage.
type Issue struct {
	Kind     Kind
	Field    Field
	Message  string
	Blocking bool
}

// Errorf builds a blocking issue.
func Errorf(kind Kind, field Field, format string, args ...any) Issue {
	return Issue{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...), Blocking: true}
}

// Warnf builds an advisory issue.
func Warnf(kind Kind, field Field, format string, args ...any) Issue {
	return Issue{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

func (i Issue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return string(i.Field) + ": " + i.Message
}

// Err wraps the issue in the sentinel matching its kind. Business rule
// issues have no sentinel and wrap nothing.
func (i Issue) Err() error {
	switch i.Kind {
	case KindConfiguration:
		return fmt.Errorf("%w: %s", ErrConfiguration, i)
	case KindFieldExtraction:
		return fmt.Errorf("%w: %s", ErrFieldExtraction, i)
	case KindFormat:
		return fmt.Errorf("%w: %s", ErrFormat, i)
	}
	return errors.New(i.String())
}

// Outcome is the result of normalizing one record.
type Outcome struct {
	Success  bool
	Errors   []Issue
	Warnings []Issue
	Record   *CanonicalRecord
}

// Add files an issue under Errors or Warnings.
func (o *Outcome) Add(issues ...Issue) {
	for _, i := range issues {
		if i.Blocking {
			o.Errors = append(o.Errors, i)
		} else {
			o.Warnings = append(o.Warnings, i)
		}
	}
}

// HasBlocking reports whether any issue in the slice is blocking.
func HasBlocking(issues []Issue) bool {
	for _, i := range issues {
		if i.Blocking {
			return true
		}
	}
	return false
}
