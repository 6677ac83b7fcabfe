package relay

import "fmt"

// Kind classifies relay failures. Anything the upstream itself answered
// is not an error here; it is relayed verbatim.
type Kind string

const (
	// KindAuth means the caller is unauthenticated: no resolvable
	// session, a vanished session, or an upstream login rejection during
	// caller-initiated login.
	KindAuth Kind = "auth"

	// KindPolicy means the request violated a local rule, such as the
	// upstream host allowlist. Never sent upstream.
	KindPolicy Kind = "policy"

	// KindUnreachable means the upstream could not be reached at the
	// transport level.
	KindUnreachable Kind = "upstream_unreachable"
)

// Error is the tagged failure type returned by the engine. Handlers
// switch on Kind and use Status as the suggested response code.
type Error struct {
	Kind   Kind
	Status int
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func authErr(detail string) *Error {
	return &Error{Kind: KindAuth, Status: 401, Detail: detail}
}

func policyErr(status int, detail string) *Error {
	return &Error{Kind: KindPolicy, Status: status, Detail: detail}
}

func unreachableErr(detail string) *Error {
	return &Error{Kind: KindUnreachable, Status: 502, Detail: detail}
}
