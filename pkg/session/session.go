// Package session provides session management for the P6 bridge.
// It defines the Store interface for session persistence and the Session
// type that binds an opaque identifier to upstream authentication material.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no session exists for a given id.
var ErrNotFound = errors.New("session not found")

// Credentials is a remembered login bundle enabling unattended
// re-authentication. It is stored, in memory and in the snapshot, only
// when the caller opts in at login time.
type Credentials struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	DatabaseName string `json:"database_name"`
}

// Session represents an authenticated upstream session.
type Session struct {
	// ID is the unique session identifier, immutable once issued.
	ID string `json:"-"`

	// Cookies is the upstream cookie material in the exact
	// "name=value; name2=value2" encoding the upstream expects back.
	Cookies string `json:"cookies"`

	// AuthToken is the optional bearer token returned by login.
	AuthToken string `json:"auth_token,omitempty"`

	// CreatedAt is when the session was established.
	CreatedAt time.Time `json:"created_at"`

	// Seq is the store's monotonic insertion sequence. It breaks
	// CreatedAt ties in Latest: last inserted wins.
	Seq uint64 `json:"seq"`

	// DatabaseName is the upstream database the session was opened against.
	DatabaseName string `json:"database_name,omitempty"`

	// Creds holds the remembered credentials when the caller opted in.
	Creds *Credentials `json:"creds,omitempty"`
}

// AutoLogin reports whether the session can re-authenticate unattended.
func (s *Session) AutoLogin() bool {
	return s.Creds != nil
}

// Clone returns a deep copy. Stores hand out clones so that the canonical
// record is only ever mutated through the Store itself.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Creds != nil {
		creds := *s.Creds
		out.Creds = &creds
	}
	return &out
}

// FormatCreatedAt renders the creation time in the wire format used by
// the session listings ("2006-01-02 15:04:05 UTC").
func (s *Session) FormatCreatedAt() string {
	return s.CreatedAt.UTC().Format("2006-01-02 15:04:05") + " UTC"
}

// NewID derives a session identifier from a creation time and a
// disambiguating sequence number. Identifiers sort roughly by creation
// time; the sequence suffix keeps them unique under same-millisecond
// concurrent creation.
func NewID(now time.Time, seq uint64) string {
	return fmt.Sprintf("%d-%d", now.UnixMilli(), seq)
}

// Store defines the interface for session persistence.
//
// Implementations must serialize mutations of a single session so that a
// cookie/token pair written by one re-authentication is never observed
// half-applied, and reads must return consistent (not torn) records.
type Store interface {
	// Create inserts the session under a fresh unique id and returns it.
	// A zero CreatedAt is set to the current time.
	Create(ctx context.Context, s *Session) (string, error)

	// Get retrieves a session by id. Returns ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Session, error)

	// Latest returns the session with the newest CreatedAt. Ties are
	// broken by insertion order, last inserted wins. Returns ErrNotFound
	// when the store is empty.
	Latest(ctx context.Context) (*Session, error)

	// UpdateAuth atomically replaces a session's cookie and token.
	// Returns ErrNotFound when the session no longer exists.
	UpdateAuth(ctx context.Context, id, cookies, authToken string) error

	// Delete removes a session. Deleting an absent id is not an error;
	// the returned bool reports whether a record was removed.
	Delete(ctx context.Context, id string) (bool, error)

	// DeleteAll removes every session and returns how many were removed.
	DeleteAll(ctx context.Context) (int, error)

	// List returns all sessions in insertion order.
	List(ctx context.Context) ([]*Session, error)

	// Close releases resources held by the store.
	Close() error
}
