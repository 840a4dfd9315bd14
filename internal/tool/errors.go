package tool

import "fmt"

// DiscoveryError reports that the session could not list its tools,
// or listed something unusable.
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string { return fmt.Sprintf("tool discovery failed: %v", e.Err) }
func (e *DiscoveryError) Unwrap() error { return e.Err }

// UnknownToolError reports a call to a tool that was not in the last discovery.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string { return fmt.Sprintf("unknown tool %q", e.Name) }

// InvocationError wraps any failure raised by the session or the tool itself.
type InvocationError struct {
	Tool string
	Err  error
}

func (e *InvocationError) Error() string { return fmt.Sprintf("tool %s: %v", e.Tool, e.Err) }
func (e *InvocationError) Unwrap() error { return e.Err }
