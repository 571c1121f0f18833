// Package lock provides the reader/writer lock guarding one logical index
// namespace.
//
// Writes (build, update) take the exclusive lock; reads (search, traversal)
// take the shared lock. Writer preference: a pending exclusive request
// blocks new shared acquisitions, so a steady stream of readers cannot
// starve a writer. Acquisition returns a Release closure so the unlock
// cannot be skipped on any exit path.
//
// The lock is process-wide per manager. With WithFileLock it is additionally
// backed by a filesystem lock keyed by namespace, coordinating processes
// that share a storage directory.
package lock

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/corpusmcp/corpusmcp/internal/errors"
)

// Release releases a held lock. Calling it more than once is a no-op.
type Release func()

// Manager enforces writer-exclusive, reader-shared access to one index
// namespace.
type Manager struct {
	namespace string

	mu             sync.Mutex
	cond           *sync.Cond
	readers        int
	writerActive   bool
	writersWaiting int

	// fileLock is non-nil in cross-process mode. The OS-level lock is held
	// by the first reader in and released by the last reader out; writers
	// hold it for the duration of the exclusive section.
	fileLock   *flock.Flock
	retryDelay time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithFileLock backs the manager with a filesystem lock in dir, keyed by
// the namespace. Processes sharing dir then exclude each other.
func WithFileLock(dir string) Option {
	return func(m *Manager) {
		m.fileLock = flock.New(filepath.Join(dir, m.namespace+".lock"))
	}
}

// WithRetryDelay sets the polling interval for file lock acquisition.
func WithRetryDelay(d time.Duration) Option {
	return func(m *Manager) {
		m.retryDelay = d
	}
}

// NewManager creates a lock manager for the given namespace.
func NewManager(namespace string, opts ...Option) *Manager {
	m := &Manager{
		namespace:  namespace,
		retryDelay: 50 * time.Millisecond,
	}
	m.cond = sync.NewCond(&m.mu)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Namespace returns the logical namespace this manager guards.
func (m *Manager) Namespace() string {
	return m.namespace
}

// Exclusive acquires the writer lock. It blocks until no reader or writer
// remains, then excludes all other acquisitions until released. The context
// is checked before waiting and governs file-lock acquisition; an in-process
// wait that has begun runs to completion.
func (m *Manager) Exclusive(ctx context.Context) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.LockError(fmt.Sprintf("exclusive lock on %q: context done", m.namespace), err)
	}

	m.mu.Lock()
	m.writersWaiting++
	for m.writerActive || m.readers > 0 {
		m.cond.Wait()
	}
	m.writersWaiting--
	m.writerActive = true

	if m.fileLock != nil {
		// Held m.mu throughout: no other goroutine holds the lock right
		// now, so nothing can deadlock waiting for us to release m.mu.
		locked, err := m.fileLock.TryLockContext(ctx, m.retryDelay)
		if err != nil || !locked {
			m.writerActive = false
			m.cond.Broadcast()
			m.mu.Unlock()
			if err == nil {
				err = fmt.Errorf("file lock not granted")
			}
			return nil, errors.LockError(fmt.Sprintf("exclusive file lock on %q", m.namespace), err)
		}
	}
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			if m.fileLock != nil {
				_ = m.fileLock.Unlock()
			}
			m.writerActive = false
			m.cond.Broadcast()
			m.mu.Unlock()
		})
	}
	return release, nil
}

// Shared acquires a reader lock. Any number of readers may coexist; a
// reader blocks while a writer is active or pending (writer preference).
func (m *Manager) Shared(ctx context.Context) (Release, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.LockError(fmt.Sprintf("shared lock on %q: context done", m.namespace), err)
	}

	m.mu.Lock()
	for m.writerActive || m.writersWaiting > 0 {
		m.cond.Wait()
	}
	m.readers++

	if m.fileLock != nil && m.readers == 1 {
		locked, err := m.fileLock.TryRLockContext(ctx, m.retryDelay)
		if err != nil || !locked {
			m.readers--
			m.cond.Broadcast()
			m.mu.Unlock()
			if err == nil {
				err = fmt.Errorf("file lock not granted")
			}
			return nil, errors.LockError(fmt.Sprintf("shared file lock on %q", m.namespace), err)
		}
	}
	m.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			m.readers--
			if m.fileLock != nil && m.readers == 0 {
				_ = m.fileLock.Unlock()
			}
			if m.readers == 0 {
				m.cond.Broadcast()
			}
			m.mu.Unlock()
		})
	}
	return release, nil
}

// State is a point-in-time snapshot of lock occupancy, for diagnostics.
type State struct {
	Readers        int  `json:"readers"`
	WriterActive   bool `json:"writer_active"`
	WritersWaiting int  `json:"writers_waiting"`
}

// Snapshot returns the current lock state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Readers:        m.readers,
		WriterActive:   m.writerActive,
		WritersWaiting: m.writersWaiting,
	}
}
