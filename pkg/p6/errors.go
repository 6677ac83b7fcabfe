package p6

import "fmt"

// detailLimit caps how much upstream body is echoed into error details.
// Enough to diagnose, short enough to keep credential-bearing payloads
// out of logs and error responses.
const detailLimit = 500

// AuthError reports an upstream login rejection.
type AuthError struct {
	// Status is the upstream HTTP status code.
	Status int

	// Detail is a truncated excerpt of the upstream response body.
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("upstream login rejected (status %d): %s", e.Status, e.Detail)
}

// UnreachableError reports a transport-level failure reaching the
// upstream: timeout, connection refused, TLS failure. It is distinct from
// any status the upstream itself returned.
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("upstream unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// truncateDetail clips s to the detail limit.
func truncateDetail(s string) string {
	if len(s) > detailLimit {
		return s[:detailLimit]
	}
	return s
}
