package parser

import "fmt"

// ParseError reports a catalog entry missing a field the markup must carry.
type ParseError struct {
	PageURL string
	Index   int
	Field   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s entry %d: missing %s", e.PageURL, e.Index, e.Field)
}

// NormalizationError reports a raw field that cannot become a typed value.
type NormalizationError struct {
	Title string
	Field string
	Value string
	Err   error
}

func (e *NormalizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize %s of %q: invalid value %q: %v", e.Field, e.Title, e.Value, e.Err)
	}
	return fmt.Sprintf("normalize %s of %q: invalid value %q", e.Field, e.Title, e.Value)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}
