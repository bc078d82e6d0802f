package main

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"appack/internal/zipmeta"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <image>",
	Short: "Show the archive payload carried by an image",
	Long: `Locate the archive payload inside an image and list its entries.

Works on appack images and on any file with a trailing Zip archive.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("cannot open image: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("cannot stat image: %w", err)
	}

	payload, err := zipmeta.Locate(f, info.Size())
	if err != nil {
		return err
	}

	fmt.Printf("Image:   %s (%d bytes)\n", args[0], info.Size())
	fmt.Printf("Payload: offset %d, %d bytes, %d entries\n\n",
		payload.Start, payload.Length, payload.EntryCount)

	section := io.NewSectionReader(f, payload.Start, payload.Length)
	zr, err := zip.NewReader(section, payload.Length)
	if err != nil {
		return fmt.Errorf("cannot read archive payload: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "MODE\tMETHOD\tSIZE\tPACKED\tNAME")
	for _, entry := range zr.File {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n",
			entry.Mode(), methodName(entry.Method),
			entry.UncompressedSize64, entry.CompressedSize64, entry.Name)
	}
	return tw.Flush()
}

func methodName(m uint16) string {
	switch m {
	case zip.Store:
		return "store"
	case zip.Deflate:
		return "deflate"
	default:
		return fmt.Sprintf("method(%d)", m)
	}
}
