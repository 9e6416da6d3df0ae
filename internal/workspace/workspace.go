// Package workspace owns the per-guest scratch directories under a single
// root. Each session gets a directory named by a token that sorts by
// creation time; every file inside is namespaced by the same token.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	lockFile       = ".batch.lock"
	lockRetryDelay = 500 * time.Millisecond
)

// ErrBusy is returned by Lock when another batch holds the root.
var ErrBusy = errors.New("another batch is running in this workspace")

// Manager creates sessions under a root directory.
type Manager struct {
	root string
	keep bool
	now  func() time.Time
}

// New creates a Manager. keepArtifacts disables cleanup on Release.
func New(root string, keepArtifacts bool) *Manager {
	return &Manager{root: root, keep: keepArtifacts, now: time.Now}
}

// Root returns the workspace root.
func (m *Manager) Root() string {
	return m.root
}

// Lock takes an exclusive file lock on the root, waiting until ctx is done.
// The returned func releases it.
func (m *Manager) Lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	fl := flock.New(filepath.Join(m.root, lockFile))
	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
		}
		return nil, fmt.Errorf("lock workspace: %w", err)
	}
	if !locked {
		return nil, ErrBusy
	}
	log.Debug().Str("root", m.root).Msg("Workspace lock acquired")
	return func() {
		if err := fl.Unlock(); err != nil {
			log.Warn().Err(err).Msg("Failed to release workspace lock")
		}
	}, nil
}

// Acquire creates a new session directory.
func (m *Manager) Acquire() (*Session, error) {
	token := m.now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]
	dir := filepath.Join(m.root, token)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	log.Debug().Str("session", token).Str("dir", dir).Msg("Session acquired")
	return &Session{Token: token, Dir: dir, keep: m.keep}, nil
}

// Session is one guest's processing attempt.
type Session struct {
	Token string
	Dir   string

	keep     bool
	retained bool
	released bool
}

// PhotoPath is where the normalized photo is written.
func (s *Session) PhotoPath() string {
	return s.path("photo_", ".jpg")
}

// AudioPath is where the resolved audio is written.
func (s *Session) AudioPath(ext string) string {
	return s.path("audio_", ext)
}

// VideoPath is where the synthesizer writes its output.
func (s *Session) VideoPath() string {
	return s.path("video_", ".mp4")
}

// Base returns the session-namespaced file name without directory, for use
// as a prefix with FetchTo.
func (s *Session) Base(prefix string) string {
	return prefix + s.Token
}

func (s *Session) path(prefix, ext string) string {
	return filepath.Join(s.Dir, prefix+s.Token+ext)
}

// Retain marks the session as holding the only copy of a result, so
// Release leaves it on disk.
func (s *Session) Retain() {
	s.retained = true
}

// Kept reports whether Release will leave the directory in place.
func (s *Session) Kept() bool {
	return s.keep || s.retained
}

// Release removes the session directory unless it is kept. It is safe to
// call more than once.
func (s *Session) Release() error {
	if s.released {
		return nil
	}
	s.released = true
	if s.Kept() {
		log.Debug().Str("session", s.Token).Bool("retained", s.retained).Msg("Session kept on disk")
		return nil
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		return fmt.Errorf("remove session dir: %w", err)
	}
	log.Debug().Str("session", s.Token).Msg("Session released")
	return nil
}
