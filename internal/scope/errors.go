package scope

import "fmt"

// ParseError marks document text that is not well-formed JSON. While set,
// table views, finalize, and exports are disabled; the raw text stays editable.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("scope document is not well-formed: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError rejects a finalize attempt on an invalid or empty document.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scope validation failed: %s", e.Reason)
}
