package fanfox

import "fmt"

// ParseError reports a page or script that lacks an expected value.
type ParseError struct {
	URL   string
	Field string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.URL, e.Field, e.Err)
	}

	return fmt.Sprintf("parse %s: %s not found", e.URL, e.Field)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
