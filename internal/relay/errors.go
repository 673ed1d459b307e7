package relay

import "fmt"

// BadRequestError reports a client payload the relay refuses to forward.
// Field names the offending input field for the client-facing message.
type BadRequestError struct {
	Field string
	Msg   string
}

func (e *BadRequestError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// UnreachableError wraps a transport-level failure reaching the upstream
// provider: connection refused, DNS failure, timeout. The wrapped error
// text is already credential-redacted.
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string { return "upstream unreachable: " + e.Err.Error() }
func (e *UnreachableError) Unwrap() error { return e.Err }
