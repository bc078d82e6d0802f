// Package launch runs an image's entry-point program against its mounted
// contents and propagates its exit status.
package launch

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"appack/internal/logging"
	"appack/internal/manifest"
)

var (
	logger = logging.GetLogger().WithPrefix("launch")

	// ErrEntryPoint indicates the mounted image has no executable
	// entry-point program. There is no mount-less retry; the image is
	// simply broken.
	ErrEntryPoint = errors.New("entry point missing or not executable")
)

// killGrace bounds how long a forwarded termination signal may go
// unhonored before the child is killed, so teardown never waits on the
// child indefinitely.
const killGrace = 10 * time.Second

// Mount is the slice of a mount session the controller needs: where the
// image contents live, and how to tear the mount down once the child is
// gone.
type Mount interface {
	Dir() string
	Close()
}

// Controller launches the entry point of a mounted image.
type Controller struct {
	mount     Mount
	imagePath string
	entry     string
}

// New creates a controller for a mounted session. imagePath is exported
// to the child as APPIMAGE so it can locate the file it was launched from.
func New(m Mount, imagePath string) *Controller {
	return &Controller{
		mount:     m,
		imagePath: imagePath,
		entry:     manifest.DefaultEntryPoint,
	}
}

// Run executes the entry point with the mount as its working directory
// and waits for it to finish. Termination signals received while the
// child runs are forwarded to it; a child that ignores them is killed
// after a bounded grace period. The mount is torn down on every return
// path, and teardown errors never mask the child's exit status.
//
// The returned int is the process exit code to propagate. A non-nil
// error means the child never ran.
func (c *Controller) Run() (int, error) {
	defer c.mount.Close()

	entryPath := filepath.Join(c.mount.Dir(), c.entry)
	info, err := os.Stat(entryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s", ErrEntryPoint, entryPath)
		}
		return 0, fmt.Errorf("failed to stat entry point %s: %w", entryPath, err)
	}
	if info.IsDir() || info.Mode()&0111 == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEntryPoint, entryPath)
	}

	cmd := exec.Command(entryPath)
	cmd.Dir = c.mount.Dir()
	cmd.Env = append(os.Environ(),
		"APPDIR="+c.mount.Dir(),
		"APPIMAGE="+c.imagePath,
	)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	logger.Info("Launching %s", entryPath)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start entry point: %w", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)

	forwardDone := make(chan struct{})
	go c.forwardSignals(cmd.Process, sigc, forwardDone)

	waitErr := cmd.Wait()
	close(forwardDone)

	return exitCode(waitErr), nil
}

// forwardSignals relays termination signals to the child. The first
// forwarded signal arms a kill timer; if the child has not exited when
// it fires, it is killed so unmounting can proceed.
func (c *Controller) forwardSignals(proc *os.Process, sigc <-chan os.Signal, done <-chan struct{}) {
	var killTimer *time.Timer
	for {
		select {
		case sig := <-sigc:
			logger.Info("Forwarding signal %v to child", sig)
			if err := proc.Signal(sig); err != nil {
				logger.Warn("Failed to forward signal: %v", err)
			}
			if killTimer == nil {
				killTimer = time.AfterFunc(killGrace, func() {
					logger.Warn("Child ignored signal for %v, killing", killGrace)
					if err := proc.Kill(); err != nil {
						logger.Warn("Failed to kill child: %v", err)
					}
				})
			}
		case <-done:
			if killTimer != nil {
				killTimer.Stop()
			}
			return
		}
	}
}

// exitCode maps the child's wait result to the code this process should
// exit with. A child ended by a signal reports the conventional 128+N.
func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}

	logger.Error("Wait failed: %v", waitErr)
	return 1
}
