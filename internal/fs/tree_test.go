package fs

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"
	"time"
)

// buildTestArchive writes a small archive and returns its bytes.
func buildTestArchive(t *testing.T, entries map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for name, body := range entries {
		hdr := &zip.FileHeader{
			Name:     name,
			Method:   zip.Deflate,
			Modified: time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC),
		}
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			t.Fatalf("Failed to create entry %q: %v", name, err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("Failed to write entry %q: %v", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to finish archive: %v", err)
	}
	return buf.Bytes()
}

func openTestArchive(t *testing.T, data []byte) *zip.Reader {
	t.Helper()

	// The standard reader flags traversal names with ErrInsecurePath but
	// still returns a usable reader; rejecting such entries is exactly
	// what BuildTree is tested for here.
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		t.Fatalf("Failed to open archive: %v", err)
	}
	return zr
}

func TestBuildTree(t *testing.T) {
	data := buildTestArchive(t, map[string]string{
		"AppRun":              "#!/bin/sh\necho hello\n",
		"data.txt":            "world",
		"usr/bin/tool":        "binary bits",
		"usr/share/doc/notes": "docs",
	})

	tree, err := BuildTree(openTestArchive(t, data).File)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}

	t.Run("FilesReproduced", func(t *testing.T) {
		tests := []struct {
			path string
			size uint64
		}{
			{"AppRun", 21},
			{"data.txt", 5},
			{"usr/bin/tool", 11},
			{"usr/share/doc/notes", 4},
		}

		for _, tt := range tests {
			node, err := tree.Lookup(tt.path)
			if err != nil {
				t.Errorf("Lookup(%q) failed: %v", tt.path, err)
				continue
			}
			file, ok := node.(*FileNode)
			if !ok {
				t.Errorf("Expected %q to be a file", tt.path)
				continue
			}
			if file.Size() != tt.size {
				t.Errorf("Expected %q size %d, got %d", tt.path, tt.size, file.Size())
			}
		}
	})

	t.Run("SynthesizedDirectories", func(t *testing.T) {
		for _, path := range []string{"usr", "usr/bin", "usr/share", "usr/share/doc"} {
			node, err := tree.Lookup(path)
			if err != nil {
				t.Errorf("Lookup(%q) failed: %v", path, err)
				continue
			}
			if _, ok := node.(*DirNode); !ok {
				t.Errorf("Expected %q to be a directory", path)
			}
		}
	})

	t.Run("LookupMissing", func(t *testing.T) {
		_, err := tree.Lookup("no/such/file")
		if !errors.Is(err, ErrPathNotFound) {
			t.Errorf("Expected ErrPathNotFound, got %v", err)
		}
	})

	t.Run("StableListingOrder", func(t *testing.T) {
		first := tree.Root().Entries()
		second := tree.Root().Entries()

		if len(first) != len(second) {
			t.Fatalf("Listing length changed: %d vs %d", len(first), len(second))
		}
		for i := range first {
			if first[i].Name() != second[i].Name() {
				t.Errorf("Listing order changed at %d: %q vs %q",
					i, first[i].Name(), second[i].Name())
			}
		}
	})
}

func TestBuildTreeUnsafePaths(t *testing.T) {
	tests := []struct {
		name  string
		entry string
	}{
		{"parent reference", "../escape"},
		{"nested parent reference", "usr/../../escape"},
		{"leading separator", "/etc/passwd"},
		{"dot segment", "./hidden"},
		{"empty segment", "usr//tool"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := buildTestArchive(t, map[string]string{tt.entry: "x"})

			_, err := BuildTree(openTestArchive(t, data).File)
			if !errors.Is(err, ErrUnsafePath) {
				t.Errorf("Expected ErrUnsafePath for %q, got %v", tt.entry, err)
			}
		})
	}
}

func TestBuildTreeExplicitDirectoryRecord(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	dirTime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	if _, err := zw.CreateHeader(&zip.FileHeader{Name: "lib/", Modified: dirTime}); err != nil {
		t.Fatalf("Failed to create directory entry: %v", err)
	}
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "lib/libfoo.so", Method: zip.Store})
	if err != nil {
		t.Fatalf("Failed to create file entry: %v", err)
	}
	if _, err := w.Write([]byte("elf")); err != nil {
		t.Fatalf("Failed to write file entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to finish archive: %v", err)
	}

	tree, err := BuildTree(openTestArchive(t, buf.Bytes()).File)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}

	node, err := tree.Lookup("lib")
	if err != nil {
		t.Fatalf("Lookup(lib) failed: %v", err)
	}
	dir, ok := node.(*DirNode)
	if !ok {
		t.Fatal("Expected lib to be a directory")
	}
	if !dir.ModTime().Equal(dirTime) {
		t.Errorf("Expected directory mtime %v, got %v", dirTime, dir.ModTime())
	}
	if _, err := tree.Lookup("lib/libfoo.so"); err != nil {
		t.Errorf("Lookup(lib/libfoo.so) failed: %v", err)
	}
}

func TestBuildTreeEpochFallback(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "stale", Method: zip.Store})
	if err != nil {
		t.Fatalf("Failed to create entry: %v", err)
	}
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatalf("Failed to write entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Failed to finish archive: %v", err)
	}

	tree, err := BuildTree(openTestArchive(t, buf.Bytes()).File)
	if err != nil {
		t.Fatalf("BuildTree failed: %v", err)
	}

	node, err := tree.Lookup("stale")
	if err != nil {
		t.Fatalf("Lookup(stale) failed: %v", err)
	}
	// MS-DOS timestamps bottom out well after the epoch, so just require
	// a deterministic non-zero time.
	if node.ModTime().IsZero() {
		t.Error("Expected a non-zero fallback mtime")
	}
}
