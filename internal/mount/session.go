// Package mount owns the lifetime of one FUSE mount point: a private
// temporary directory, the serving goroutine, readiness, and teardown.
package mount

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"appack/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	logger = logging.GetLogger().WithPrefix("mount")

	// ErrMountTimeout indicates the filesystem service did not become
	// ready within the bounded wait.
	ErrMountTimeout = errors.New("mount did not become ready in time")
)

// State tracks a session through its lifecycle.
type State int

const (
	// Created means the temporary mount directory exists but nothing is
	// mounted yet.
	Created State = iota
	// Mounting means the kernel mount is being established.
	Mounting
	// Ready means the filesystem service is answering queries.
	Ready
	// Unmounting means teardown has begun.
	Unmounting
	// Closed means the mount is gone and the directory removed.
	Closed
	// Errored is the terminal state for a session that failed before or
	// during Ready.
	Errored
)

var stateNames = map[State]string{
	Created:    "created",
	Mounting:   "mounting",
	Ready:      "ready",
	Unmounting: "unmounting",
	Closed:     "closed",
	Errored:    "errored",
}

func (s State) String() string { return stateNames[s] }

const (
	// readyTimeout bounds the wait for the mount point to come up.
	readyTimeout = 3 * time.Second
	readyPoll    = 100 * time.Millisecond

	// serveDrainTimeout bounds how long Close waits for the serve loop
	// after unmounting; teardown must never hang on a stuck mount.
	serveDrainTimeout = 2 * time.Second
)

// Session is one exclusive mount. It is an explicit owned value, not
// process-global state, so several sessions can coexist in one process
// (as tests do). The temporary directory belongs to the session alone.
type Session struct {
	dir    string
	conn   *fuse.Conn
	served chan struct{} // closed when the serve loop returns

	mu    sync.Mutex
	state State
}

// NewSession allocates the private temporary mount directory.
func NewSession() (*Session, error) {
	dir, err := os.MkdirTemp("", "appack-mount-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create mount directory: %w", err)
	}

	logger.Debug("Created mount directory %s", dir)
	return &Session{
		dir:    dir,
		served: make(chan struct{}),
		state:  Created,
	}, nil
}

// Dir returns the mount path.
func (s *Session) Dir() string {
	return s.dir
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	logger.Debug("Session %s: %v -> %v", s.dir, s.state, state)
	s.state = state
	s.mu.Unlock()
}

// Done is closed when the serve loop ends, which also happens when the
// filesystem is unmounted externally.
func (s *Session) Done() <-chan struct{} {
	return s.served
}

// Mount starts serving filesys at the session directory and blocks until
// the mount answers queries or the bounded wait elapses. On any failure
// the session moves to Errored and its directory is removed; a session
// never leaks its temporary directory.
func (s *Session) Mount(filesys fusefs.FS) error {
	s.setState(Mounting)

	conn, err := fuse.Mount(s.dir,
		fuse.FSName("appack"),
		fuse.Subtype("appackfs"),
		fuse.ReadOnly(),
	)
	if err != nil {
		s.fail()
		return fmt.Errorf("mount failed: %w", err)
	}
	s.conn = conn

	go func() {
		defer close(s.served)
		logger.Debug("Serving filesystem at %s", s.dir)
		if err := fusefs.Serve(conn, filesys); err != nil {
			logger.Error("FUSE server error: %v", err)
		}
		logger.Debug("FUSE server stopped")
	}()

	if err := s.waitReady(); err != nil {
		logger.Error("Mount point not ready: %v", err)
		s.Close()
		s.setState(Errored)
		return err
	}

	s.setState(Ready)
	logger.Info("Filesystem mounted at %s", s.dir)
	return nil
}

// waitReady polls the mount point until it answers a stat, bounded by
// readyTimeout.
func (s *Session) waitReady() error {
	deadline := time.Now().Add(readyTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-s.served:
			// Serve loop already exited; the mount will never be ready.
			return ErrMountTimeout
		default:
		}

		info, err := os.Stat(s.dir)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(readyPoll)
	}
	return ErrMountTimeout
}

// fail removes the directory for a session that never mounted.
func (s *Session) fail() {
	s.setState(Errored)
	if err := os.Remove(s.dir); err != nil {
		logger.Warn("Failed to remove mount directory: %v", err)
	}
}

// Close unmounts and removes the temporary directory. Both steps are
// best-effort: errors are logged and never returned, because teardown
// runs after the child has exited and must not mask its exit status.
// Close is idempotent and safe on sessions that never reached Ready.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == Closed || s.state == Unmounting {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = Unmounting
	s.mu.Unlock()

	logger.Debug("Closing session at %s (was %v)", s.dir, prev)

	if s.conn != nil {
		if err := fuse.Unmount(s.dir); err != nil {
			logger.Warn("Unmount error: %v", err)
		}
		if err := s.conn.Close(); err != nil {
			logger.Warn("Connection close error: %v", err)
		}

		// Give the serve loop a bounded chance to drain.
		select {
		case <-s.served:
		case <-time.After(serveDrainTimeout):
			logger.Warn("Serve loop still running after unmount")
		}
	}

	if err := os.Remove(s.dir); err != nil && !os.IsNotExist(err) {
		logger.Warn("Failed to remove mount directory: %v", err)
	}

	s.setState(Closed)
	logger.Info("Session closed")
}
