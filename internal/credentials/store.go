// Package credentials persists the signed-in user's token and role between
// CLI invocations.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/abyssinia-assembly/attendance/internal/domain"
	"github.com/abyssinia-assembly/attendance/internal/sync"
)

// DefaultFileName is the credentials file inside the config directory.
const DefaultFileName = "session.yaml"

// watchDebounce coalesces the burst of events a single save produces.
const watchDebounce = 100 * time.Millisecond

// Credentials is what the backend handed out at sign-in.
type Credentials struct {
	Token    string `yaml:"token"`
	UserRole string `yaml:"user_role"`
}

// Store reads and writes credentials in a YAML file. Every read goes to disk,
// so edits by other processes are seen on the next call.
type Store struct {
	path string
}

// NewStore creates a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// DefaultPath returns ~/.attendance/session.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".attendance", DefaultFileName)
	}
	return filepath.Join(home, ".attendance", DefaultFileName)
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the credentials. A missing file yields domain.ErrNoCredentials.
func (s *Store) Load() (Credentials, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Credentials{}, domain.ErrNoCredentials
		}
		return Credentials{}, fmt.Errorf("failed to read credentials: %w", err)
	}

	var c Credentials
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Credentials{}, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return c, nil
}

// Token returns the stored token, or "" when none is available.
func (s *Store) Token() string {
	c, err := s.Load()
	if err != nil {
		if !errors.Is(err, domain.ErrNoCredentials) {
			log.Warn().Err(err).Str("path", s.path).Msg("ignoring unreadable credentials")
		}
		return ""
	}
	return c.Token
}

// Role returns the stored role, or "" when none is available.
func (s *Store) Role() string {
	c, err := s.Load()
	if err != nil {
		return ""
	}
	return c.UserRole
}

// Save writes c, replacing the file atomically.
func (s *Store) Save(c Credentials) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to set credentials permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace credentials: %w", err)
	}
	return nil
}

// Clear removes the stored credentials. Clearing an empty store is not an
// error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	return nil
}

// Watch calls fn with the current credentials whenever the file is written,
// replaced or removed, until ctx is done. After a removal fn receives the
// zero Credentials.
func (s *Store) Watch(ctx context.Context, fn func(Credentials)) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create credentials directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// The directory is watched so the file may come and go.
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	d := newDebouncer(watchDebounce, func() {
		c, err := s.Load()
		if err != nil && !errors.Is(err, domain.ErrNoCredentials) {
			log.Warn().Err(err).Str("path", s.path).Msg("credentials changed but could not be read")
			return
		}
		fn(c)
	})

	target := filepath.Clean(s.path)
	go func() {
		defer func() {
			d.stop()
			_ = watcher.Close()
		}()

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || event.Op == fsnotify.Chmod {
					continue
				}
				log.Debug().Str("op", event.Op.String()).Str("path", event.Name).Msg("credentials file changed")
				d.trigger()

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("credentials watcher error")
			}
		}
	}()

	log.Debug().Str("path", s.path).Msg("watching credentials")
	return nil
}

// debouncer runs fn once after a quiet period following the last trigger.
type debouncer struct {
	window time.Duration
	fn     func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration, fn func()) *debouncer {
	return &debouncer{window: window, fn: fn}
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fire)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	stopped := d.stopped
	d.timer = nil
	d.mu.Unlock()

	if !stopped {
		d.fn()
	}
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
