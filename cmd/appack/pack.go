package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"appack/internal/image"
	"appack/internal/manifest"

	"github.com/spf13/cobra"
)

var (
	packOutput string
	packStub   string
)

var packCmd = &cobra.Command{
	Use:   "pack <appdir>",
	Short: "Build a self-mounting image from an AppDir",
	Long: `Build a self-mounting image from an AppDir.

The AppDir must contain an executable AppRun entry point (or name an
alternative in its appack.yaml manifest). The bootstrap stub is taken
from next to the appack executable unless --stub points elsewhere.

Examples:
  # Package ./MyApp.AppDir into ./MyApp.AppImage
  appack pack ./MyApp.AppDir

  # Custom output and stub
  appack pack ./MyApp.AppDir -o dist/myapp --stub ./appack-bootstrap`,
	Args: cobra.ExactArgs(1),
	RunE: runPack,
}

func init() {
	rootCmd.AddCommand(packCmd)

	packCmd.Flags().StringVarP(&packOutput, "output", "o", "", "Output image path (default: derived from the AppDir name)")
	packCmd.Flags().StringVar(&packStub, "stub", "", "Bootstrap stub executable (default: appack-bootstrap beside this binary)")
}

func runPack(cmd *cobra.Command, args []string) error {
	appDir := filepath.Clean(args[0])
	info, err := os.Stat(appDir)
	if err != nil {
		return fmt.Errorf("cannot access AppDir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", appDir)
	}

	stubPath := packStub
	if stubPath == "" {
		stubPath, err = defaultStubPath()
		if err != nil {
			return err
		}
	}
	stub, err := os.ReadFile(stubPath)
	if err != nil {
		return fmt.Errorf("cannot read bootstrap stub: %w", err)
	}

	outPath := packOutput
	if outPath == "" {
		outPath, err = defaultOutputPath(appDir)
		if err != nil {
			return err
		}
	}

	logger.Debug("Packing %s -> %s (stub %s)", appDir, outPath, stubPath)
	if err := image.Assemble(stub, appDir, outPath); err != nil {
		return err
	}

	fmt.Printf("Built %s\n", outPath)
	return nil
}

// defaultStubPath resolves the bootstrap stub shipped alongside the
// appack binary itself.
func defaultStubPath() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("cannot locate own executable: %w", err)
	}
	return filepath.Join(filepath.Dir(self), "appack-bootstrap"), nil
}

// defaultOutputPath derives the image name from the manifest's
// application name when present, otherwise from the AppDir's base name
// with any ".AppDir" suffix replaced.
func defaultOutputPath(appDir string) (string, error) {
	man, err := manifest.Load(appDir)
	if err != nil {
		return "", err
	}

	name := man.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(appDir), ".AppDir")
	}
	return name + ".AppImage", nil
}
