package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileStore implements Store using an in-memory map snapshotted to a JSON
// file on every mutation. The snapshot is reloaded at construction, so
// sessions survive process restarts. Snapshot failures are logged and
// never fail the mutation that triggered them.
type FileStore struct {
	mu       sync.RWMutex
	path     string
	sessions map[string]*Session
	seq      uint64
}

// NewFileStore creates a store backed by the snapshot file at path.
// A missing file starts the store empty; an unreadable or corrupt file is
// logged and likewise treated as empty.
func NewFileStore(path string) *FileStore {
	s := &FileStore{
		path:     path,
		sessions: make(map[string]*Session),
	}
	s.load()
	return s
}

// Create inserts the session under a fresh unique id and returns it.
func (s *FileStore) Create(_ context.Context, sess *Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	s.seq++
	stored := sess.Clone()
	stored.Seq = s.seq
	stored.ID = NewID(stored.CreatedAt, stored.Seq)

	s.sessions[stored.ID] = stored
	s.persistLocked()

	slog.Info("session created",
		"session_id", stored.ID,
		"auto_login", stored.AutoLogin(),
	)
	return stored.ID, nil
}

// Get retrieves a session by id.
func (s *FileStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// Latest returns the most recently created session.
func (s *FileStore) Latest(_ context.Context) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *Session
	for _, sess := range s.sessions {
		if latest == nil || newer(sess, latest) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest.Clone(), nil
}

// newer reports whether a should win over b as the latest session.
func newer(a, b *Session) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.Seq > b.Seq
}

// UpdateAuth atomically replaces a session's cookie and token.
func (s *FileStore) UpdateAuth(_ context.Context, id, cookies, authToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.Cookies = cookies
	sess.AuthToken = authToken
	s.persistLocked()

	slog.Info("session credentials refreshed", "session_id", id)
	return nil
}

// Delete removes a session. Absent ids are not an error.
func (s *FileStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	s.persistLocked()

	slog.Info("session removed", "session_id", id)
	return true, nil
}

// DeleteAll removes every session.
func (s *FileStore) DeleteAll(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.sessions)
	s.sessions = make(map[string]*Session)
	s.persistLocked()

	slog.Info("all sessions cleared", "count", n)
	return n, nil
}

// List returns all sessions in insertion order.
func (s *FileStore) List(_ context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Close is a no-op; the snapshot is already durable after every mutation.
func (s *FileStore) Close() error {
	return nil
}

// load replaces the in-memory state with the snapshot contents. Any
// failure degrades to an empty store.
func (s *FileStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("session snapshot unreadable, starting empty",
				"path", s.path, "error", err)
		}
		return
	}

	snapshot := make(map[string]*Session)
	if err := json.Unmarshal(data, &snapshot); err != nil {
		slog.Warn("session snapshot corrupt, starting empty",
			"path", s.path, "error", err)
		return
	}

	for id, sess := range snapshot {
		sess.ID = id
		s.sessions[id] = sess
		if sess.Seq > s.seq {
			s.seq = sess.Seq
		}
	}
	slog.Info("sessions loaded from snapshot",
		"path", s.path, "count", len(s.sessions))
}

// persistLocked rewrites the snapshot from the current state. The caller
// must hold the write lock. Failures are logged, never returned: a failed
// write leaves the in-memory state authoritative and the snapshot stale.
func (s *FileStore) persistLocked() {
	data, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		slog.Error("session snapshot encode failed", "error", err)
		return
	}

	// Write-then-rename so a failure mid-write cannot leave a truncated
	// snapshot behind.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		slog.Error("session snapshot write failed",
			"path", s.path, "error", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		slog.Error("session snapshot rename failed",
			"path", s.path, "error", err)
		return
	}
	slog.Debug("session snapshot written",
		"path", s.path, "count", len(s.sessions))
}

// SnapshotPath returns the absolute path of the snapshot file.
func (s *FileStore) SnapshotPath() string {
	abs, err := filepath.Abs(s.path)
	if err != nil {
		return s.path
	}
	return abs
}

var _ Store = (*FileStore)(nil)
