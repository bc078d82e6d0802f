// Package image constructs self-mounting application images: a bootstrap
// stub followed by a Zip archive of the AppDir whose internal offsets are
// rebased past the stub, so the output is simultaneously a valid
// executable and a valid archive.
package image

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"appack/internal/logging"
	"appack/internal/manifest"
	"appack/internal/zipmeta"

	"github.com/klauspost/compress/flate"
)

var (
	logger = logging.GetLogger().WithPrefix("image")

	// ErrEmptyAppDir indicates the AppDir is missing its entry-point
	// program, so the resulting image could never launch anything.
	ErrEmptyAppDir = errors.New("AppDir has no executable entry point")

	// ErrStubTooSmall indicates the stub cannot hold the identification
	// marker.
	ErrStubTooSmall = errors.New("stub too small to carry marker")
)

// The identification marker: three bytes at a fixed offset inside the
// stub region, in the padding area of the ELF identity so external
// tooling can recognize appack images. Stable across builds.
const (
	MarkerOffset = 8
	markerLen    = 3
)

// Marker returns the fixed 3-byte marker value.
func Marker() []byte {
	return []byte{'A', 'I', 0x02}
}

// Assemble builds an image from stub bytes and an AppDir and writes it to
// outputPath with executable permissions. The archive is written to a
// temporary file first and renamed only on full success, so a failed
// build never leaves a partial image in place.
func Assemble(stub []byte, appDir, outputPath string) error {
	man, err := manifest.Load(appDir)
	if err != nil {
		return err
	}

	if err := checkEntryPoint(appDir, man.EntryPoint); err != nil {
		return err
	}

	archive, err := buildArchive(appDir, man)
	if err != nil {
		return err
	}

	stamped, err := stampMarker(stub)
	if err != nil {
		return err
	}

	if err := zipmeta.Rebase(archive, int64(len(stamped))); err != nil {
		return err
	}

	return writeImage(stamped, archive, outputPath)
}

// checkEntryPoint verifies the AppDir carries an executable launcher.
func checkEntryPoint(appDir, entryPoint string) error {
	path := filepath.Join(appDir, entryPoint)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrEmptyAppDir, path)
		}
		return fmt.Errorf("failed to stat entry point %s: %w", path, err)
	}
	if info.IsDir() || info.Mode()&0111 == 0 {
		return fmt.Errorf("%w: %s is not an executable file", ErrEmptyAppDir, path)
	}
	return nil
}

// buildArchive zips the AppDir contents, preserving per-entry permissions
// and modification times. Directories get explicit records; the manifest
// controls compression and exclusions. An entry point with a custom name
// is stored under the conventional launcher name the bootstrap expects.
func buildArchive(appDir string, man *manifest.Manifest) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	method := uint16(zip.Deflate)
	if man.Compression == manifest.CompressionStore {
		method = zip.Store
	}

	err := filepath.WalkDir(appDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == appDir {
			return nil
		}

		rel, err := filepath.Rel(appDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if man.Excluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}

		name := rel
		if !d.IsDir() && rel == man.EntryPoint {
			name = manifest.DefaultEntryPoint
		}
		hdr.Name = name
		if d.IsDir() {
			hdr.Name += "/"
			hdr.Method = zip.Store
		} else {
			hdr.Method = method
		}

		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		logger.Info("copy: %s", rel)
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		_, err = io.Copy(w, f)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to archive %s: %w", appDir, err)
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish archive: %w", err)
	}
	return buf.Bytes(), nil
}

// stampMarker returns a copy of the stub with the identification marker
// written into its reserved header bytes. A stub that already carries the
// marker passes through unchanged.
func stampMarker(stub []byte) ([]byte, error) {
	if len(stub) < MarkerOffset+markerLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrStubTooSmall, len(stub))
	}

	stamped := make([]byte, len(stub))
	copy(stamped, stub)
	if bytes.Equal(stamped[MarkerOffset:MarkerOffset+markerLen], Marker()) {
		return stamped, nil
	}
	copy(stamped[MarkerOffset:], Marker())
	return stamped, nil
}

// writeImage writes stub + archive to a temporary file next to the
// target and renames it into place, leaving no partial output behind on
// failure.
func writeImage(stub, archive []byte, outputPath string) error {
	dir := filepath.Dir(outputPath)
	tmp, err := os.CreateTemp(dir, ".appack-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary image: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(stub); err != nil {
		cleanup()
		return fmt.Errorf("failed to write stub: %w", err)
	}
	if _, err := tmp.Write(archive); err != nil {
		cleanup()
		return fmt.Errorf("failed to write archive: %w", err)
	}

	// Mark the image executable before it becomes visible.
	if err := tmp.Chmod(0755); err != nil {
		cleanup()
		return fmt.Errorf("failed to mark image executable: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close image: %w", err)
	}

	if err := os.Rename(tmpPath, outputPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move image into place: %w", err)
	}

	logger.Info("Wrote image %s (%d stub + %d archive bytes)",
		outputPath, len(stub), len(archive))
	return nil
}
