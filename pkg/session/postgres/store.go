// Package postgres provides PostgreSQL storage for sessions, for
// deployments that want the snapshot in a database instead of a local
// file.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/p6tools/p6-bridge/pkg/session"
)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// sessionColumns lists columns returned by session SELECT queries.
var sessionColumns = []string{
	"id", "cookies", "auth_token", "created_at", "seq", "database_name", "creds",
}

// idSeq disambiguates ids created within the same millisecond.
var idSeq atomic.Uint64

// Store implements session.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a Postgres-backed session store. The schema is managed by
// pkg/database/migrate.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts the session under a fresh unique id and returns it.
func (s *Store) Create(ctx context.Context, sess *session.Session) (string, error) {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	id := session.NewID(sess.CreatedAt, idSeq.Add(1))

	credsJSON, err := marshalCreds(sess.Creds)
	if err != nil {
		return "", fmt.Errorf("encoding credentials: %w", err)
	}

	query, args, err := psq.Insert("sessions").
		Columns("id", "cookies", "auth_token", "created_at", "database_name", "creds").
		Values(id, sess.Cookies, sess.AuthToken, sess.CreatedAt, sess.DatabaseName, credsJSON).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("building insert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}

	slog.Info("session created", "session_id", id, "auto_login", sess.Creds != nil)
	return id, nil
}

// Get retrieves a session by id.
func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("sessions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	return s.scanSession(s.db.QueryRowContext(ctx, query, args...))
}

// Latest returns the most recently created session; creation-time ties
// go to the highest insertion sequence.
func (s *Store) Latest(ctx context.Context) (*session.Session, error) {
	query, args, err := psq.Select(sessionColumns...).
		From("sessions").
		OrderBy("created_at DESC", "seq DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	return s.scanSession(s.db.QueryRowContext(ctx, query, args...))
}

// UpdateAuth atomically replaces a session's cookie and token. The
// single UPDATE keeps the pair from ever being observed half-applied.
func (s *Store) UpdateAuth(ctx context.Context, id, cookies, authToken string) error {
	query, args, err := psq.Update("sessions").
		Set("cookies", cookies).
		Set("auth_token", authToken).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return session.ErrNotFound
	}
	return nil
}

// Delete removes a session. Absent ids are not an error.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	query, args, err := psq.Delete("sessions").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("building delete: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("deleting session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking delete result: %w", err)
	}
	return affected > 0, nil
}

// DeleteAll removes every session.
func (s *Store) DeleteAll(ctx context.Context) (int, error) {
	query, _, err := psq.Delete("sessions").ToSql()
	if err != nil {
		return 0, fmt.Errorf("building delete: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("clearing sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking delete result: %w", err)
	}
	return int(affected), nil
}

// List returns all sessions in insertion order.
func (s *Store) List(ctx context.Context) ([]*session.Session, error) {
	query, _, err := psq.Select(sessionColumns...).
		From("sessions").
		OrderBy("seq ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*session.Session
	for rows.Next() {
		sess, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSession(row *sql.Row) (*session.Session, error) {
	sess, err := scanRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

func scanRow(sc scanner) (*session.Session, error) {
	var (
		sess      session.Session
		credsJSON []byte
	)
	if err := sc.Scan(&sess.ID, &sess.Cookies, &sess.AuthToken,
		&sess.CreatedAt, &sess.Seq, &sess.DatabaseName, &credsJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	if len(credsJSON) > 0 {
		var creds session.Credentials
		if err := json.Unmarshal(credsJSON, &creds); err != nil {
			return nil, fmt.Errorf("decoding credentials: %w", err)
		}
		sess.Creds = &creds
	}
	return &sess, nil
}

// marshalCreds encodes remembered credentials; nil stays NULL.
func marshalCreds(creds *session.Credentials) (any, error) {
	if creds == nil {
		return nil, nil
	}
	b, err := json.Marshal(creds)
	if err != nil {
		return nil, err
	}
	return b, nil
}

var _ session.Store = (*Store)(nil)
