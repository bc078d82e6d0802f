// Command appack-bootstrap is the stub prepended to every image. When the
// image is executed this program runs, mounts the archive appended to its
// own file, launches the entry point inside the mount, and exits with the
// entry point's status.
package main

import (
	"archive/zip"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"appack/internal/fs"
	"appack/internal/launch"
	"appack/internal/logging"
	"appack/internal/manifest"
	"appack/internal/mount"
	"appack/internal/zipmeta"
)

var logger = logging.GetLogger().WithPrefix("bootstrap")

// bootstrapFailure is the exit code reserved for failures inside the
// bootstrap itself, as opposed to the application's own exit status.
const bootstrapFailure = 130

func main() {
	os.Exit(run())
}

func run() int {
	imagePath, err := selfPath()
	if err != nil {
		return fatal("cannot locate own image: %v", err)
	}
	logger.Debug("Running image %s", imagePath)

	f, err := os.Open(imagePath)
	if err != nil {
		return fatal("cannot open image: %v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fatal("cannot stat image: %v", err)
	}

	payload, err := zipmeta.Locate(f, info.Size())
	if err != nil {
		if errors.Is(err, zipmeta.ErrNotAPolyglot) {
			return fatal("%s carries no application payload; was it built with appack pack?", imagePath)
		}
		return fatal("cannot locate payload: %v", err)
	}
	logger.Debug("Payload at offset %d, %d bytes, %d entries",
		payload.Start, payload.Length, payload.EntryCount)

	// The archive's rebased offsets are absolute within the image, so the
	// reader spans the whole file.
	zr, err := zip.NewReader(f, info.Size())
	if err != nil {
		return fatal("cannot read payload: %v", err)
	}

	tree, err := fs.BuildTree(zr.File)
	if err != nil {
		return fatal("cannot index payload: %v", err)
	}
	if _, err := tree.Lookup(manifest.DefaultEntryPoint); err != nil {
		return fatal("image has no %s entry point", manifest.DefaultEntryPoint)
	}

	session, err := mount.NewSession()
	if err != nil {
		return fatal("cannot prepare mount: %v", err)
	}

	if err := session.Mount(fs.NewImageFS(f, tree)); err != nil {
		session.Close()
		return fatal("cannot mount image: %v", err)
	}

	code, err := launch.New(session, imagePath).Run()
	if err != nil {
		return fatal("cannot launch application: %v", err)
	}
	return code
}

// selfPath resolves the image file this process was started from,
// following any symlink the launcher used.
func selfPath() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(self)
}

// fatal reports a bootstrap-level failure and yields the reserved exit
// code. Application exit codes pass through run untouched.
func fatal(format string, args ...interface{}) int {
	fmt.Fprintf(os.Stderr, "appack-bootstrap: "+format+"\n", args...)
	return bootstrapFailure
}
