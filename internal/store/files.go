// ABOUTME: File-per-session document store with atomic write-temp-then-rename
// ABOUTME: A missing state directory is not an error; it yields empty results

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/2389/parley/internal/collab"
)

// ErrNotFound is returned when a requested session document does not exist
var ErrNotFound = errors.New("not found")

// FileStore persists collaboration sessions as one JSON document per
// session under a state directory. It holds no business rules.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

// NewFileStore creates a store rooted at dir. The directory is created
// lazily on first save.
func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		dir:    dir,
		logger: logger.With("component", "store"),
	}
}

// Save writes the session document atomically: the document lands in a
// temp file first and is renamed into place, so a crash mid-write never
// yields a half-written document.
func (s *FileStore) Save(ctx context.Context, session *collab.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session %q: %w", session.SessionKey, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing session %q: %w", session.SessionKey, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}

	final := s.path(session.SessionKey)
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming session %q into place: %w", session.SessionKey, err)
	}

	s.logger.Debug("session saved", "session_key", session.SessionKey, "path", final)
	return nil
}

// Load reads one session document. Returns ErrNotFound if absent.
func (s *FileStore) Load(ctx context.Context, sessionKey string) (*collab.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(sessionKey))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session %q: %w", sessionKey, err)
	}

	var session collab.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("decoding session %q: %w", sessionKey, err)
	}
	return &session, nil
}

// LoadAll reads every session document in the state directory. A missing
// directory yields an empty map. A corrupt document is skipped and
// logged rather than aborting the whole load.
func (s *FileStore) LoadAll(ctx context.Context) (map[string]*collab.Session, error) {
	sessions := make(map[string]*collab.Session)

	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return sessions, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			s.logger.Warn("skipping unreadable session document", "file", name, "error", err)
			continue
		}
		var session collab.Session
		if err := json.Unmarshal(data, &session); err != nil {
			s.logger.Warn("skipping corrupt session document", "file", name, "error", err)
			continue
		}
		if session.SessionKey == "" {
			s.logger.Warn("skipping session document without a key", "file", name)
			continue
		}
		sessions[session.SessionKey] = &session
	}

	return sessions, nil
}

// Delete removes a session document. Deleting an absent document is not
// an error.
func (s *FileStore) Delete(ctx context.Context, sessionKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.path(sessionKey))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting session %q: %w", sessionKey, err)
	}
	return nil
}

// path maps a session key to its document path. Keys are query-escaped
// so arbitrary keys ("collab:Cache Strategy:...") become filesystem-safe
// names without collisions.
func (s *FileStore) path(sessionKey string) string {
	return filepath.Join(s.dir, url.QueryEscape(sessionKey)+".json")
}
