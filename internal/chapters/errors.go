package chapters

import "fmt"

// InputError reports a malformed range, sort order or chapter reference.
type InputError struct {
	Value  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid input %q: %s", e.Value, e.Reason)
}
