package dispatch

import "fmt"

// MalformedArgumentsError reports tool-call arguments that arrived as text but
// did not decode to a JSON object.
type MalformedArgumentsError struct {
	Tool string
	Raw  string
	Err  error
}

func (e *MalformedArgumentsError) Error() string {
	return fmt.Sprintf("malformed arguments for tool %s: %q: %v", e.Tool, e.Raw, e.Err)
}

func (e *MalformedArgumentsError) Unwrap() error { return e.Err }

// UnsupportedArgumentShapeError reports tool-call arguments that are neither
// text nor a mapping.
type UnsupportedArgumentShapeError struct {
	Tool  string
	Value any
}

func (e *UnsupportedArgumentShapeError) Error() string {
	return fmt.Sprintf("unsupported argument shape %T for tool %s", e.Value, e.Tool)
}
