package image

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"appack/internal/zipmeta"
)

// setupAppDir creates an AppDir with an entry point and a data file.
func setupAppDir(t *testing.T) string {
	t.Helper()

	appDir := t.TempDir()
	files := map[string]struct {
		content string
		mode    os.FileMode
	}{
		"AppRun":            {"#!/bin/sh\necho hello\n", 0755},
		"data.txt":          {"world", 0644},
		"usr/share/doc/ref": {"reference text", 0644},
	}

	for name, f := range files {
		path := filepath.Join(appDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, []byte(f.content), f.mode); err != nil {
			t.Fatalf("Failed to create file %s: %v", name, err)
		}
	}
	return appDir
}

func fakeStub() []byte {
	// Looks enough like an executable header to carry the marker.
	stub := bytes.Repeat([]byte{0x00}, 1024)
	copy(stub, []byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0})
	return stub
}

func TestAssemble(t *testing.T) {
	appDir := setupAppDir(t)
	outPath := filepath.Join(t.TempDir(), "app.AppImage")
	stub := fakeStub()

	if err := Assemble(stub, appDir, outPath); err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	image, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("Failed to read image: %v", err)
	}

	t.Run("Layout", func(t *testing.T) {
		if !bytes.Equal(image[:MarkerOffset], stub[:MarkerOffset]) {
			t.Error("Stub bytes not at start of image")
		}
		if !bytes.Equal(image[MarkerOffset:MarkerOffset+3], Marker()) {
			t.Errorf("Marker missing at offset %d", MarkerOffset)
		}
	})

	t.Run("Executable", func(t *testing.T) {
		info, err := os.Stat(outPath)
		if err != nil {
			t.Fatalf("Failed to stat image: %v", err)
		}
		if info.Mode()&0111 == 0 {
			t.Errorf("Image not executable: %v", info.Mode())
		}
	})

	t.Run("PayloadLocatable", func(t *testing.T) {
		payload, err := zipmeta.Locate(bytes.NewReader(image), int64(len(image)))
		if err != nil {
			t.Fatalf("Locate failed: %v", err)
		}
		// Rebased offsets are absolute within the image.
		if payload.Start != 0 {
			t.Errorf("Expected payload start 0, got %d", payload.Start)
		}
	})

	t.Run("ContentsRoundTrip", func(t *testing.T) {
		zr, err := zip.NewReader(bytes.NewReader(image), int64(len(image)))
		if err != nil {
			t.Fatalf("Failed to open image as archive: %v", err)
		}

		want := map[string]string{
			"AppRun":            "#!/bin/sh\necho hello\n",
			"data.txt":          "world",
			"usr/share/doc/ref": "reference text",
		}
		got := make(map[string]string)
		for _, f := range zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				t.Fatalf("Failed to open entry %q: %v", f.Name, err)
			}
			body, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				t.Fatalf("Failed to read entry %q: %v", f.Name, err)
			}
			got[f.Name] = string(body)
		}

		for name, body := range want {
			if got[name] != body {
				t.Errorf("Entry %q: expected %q, got %q", name, body, got[name])
			}
		}
	})

	t.Run("EntryPointModePreserved", func(t *testing.T) {
		zr, _ := zip.NewReader(bytes.NewReader(image), int64(len(image)))
		for _, f := range zr.File {
			if f.Name == "AppRun" && f.Mode()&0111 == 0 {
				t.Errorf("AppRun lost execute bits: %v", f.Mode())
			}
		}
	})
}

func TestAssembleMissingEntryPoint(t *testing.T) {
	appDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(appDir, "data.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	outPath := filepath.Join(t.TempDir(), "app.AppImage")
	err := Assemble(fakeStub(), appDir, outPath)
	if !errors.Is(err, ErrEmptyAppDir) {
		t.Fatalf("Expected ErrEmptyAppDir, got %v", err)
	}

	// No partial output may be left behind.
	if _, err := os.Stat(outPath); !os.IsNotExist(err) {
		t.Error("Expected no output file after failed build")
	}
}

func TestAssembleNonExecutableEntryPoint(t *testing.T) {
	appDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(appDir, "AppRun"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	err := Assemble(fakeStub(), appDir, filepath.Join(t.TempDir(), "out"))
	if !errors.Is(err, ErrEmptyAppDir) {
		t.Errorf("Expected ErrEmptyAppDir, got %v", err)
	}
}

func TestAssembleManifestControls(t *testing.T) {
	appDir := setupAppDir(t)
	manifestYAML := "compression: store\nexclude:\n  - \"*.txt\"\n"
	if err := os.WriteFile(filepath.Join(appDir, "appack.yaml"), []byte(manifestYAML), 0644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}

	outPath := filepath.Join(t.TempDir(), "app.AppImage")
	if err := Assemble(fakeStub(), appDir, outPath); err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	image, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("Failed to read image: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(image), int64(len(image)))
	if err != nil {
		t.Fatalf("Failed to open image as archive: %v", err)
	}

	for _, f := range zr.File {
		switch f.Name {
		case "data.txt":
			t.Error("Excluded entry data.txt present in image")
		case "appack.yaml":
			t.Error("Manifest itself present in image")
		case "AppRun":
			if f.Method != zip.Store {
				t.Errorf("Expected store method, got %d", f.Method)
			}
		}
	}
}

func TestStampMarker(t *testing.T) {
	t.Run("TooSmall", func(t *testing.T) {
		if _, err := stampMarker([]byte{1, 2, 3}); !errors.Is(err, ErrStubTooSmall) {
			t.Errorf("Expected ErrStubTooSmall, got %v", err)
		}
	})

	t.Run("AlreadyStamped", func(t *testing.T) {
		stub := fakeStub()
		copy(stub[MarkerOffset:], Marker())

		stamped, err := stampMarker(stub)
		if err != nil {
			t.Fatalf("stampMarker failed: %v", err)
		}
		if !bytes.Equal(stamped, stub) {
			t.Error("Pre-stamped stub was modified")
		}
	})

	t.Run("OriginalUntouched", func(t *testing.T) {
		stub := fakeStub()
		before := make([]byte, len(stub))
		copy(before, stub)

		if _, err := stampMarker(stub); err != nil {
			t.Fatalf("stampMarker failed: %v", err)
		}
		if !bytes.Equal(stub, before) {
			t.Error("stampMarker mutated its input")
		}
	})
}
