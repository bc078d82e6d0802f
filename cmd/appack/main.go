// Command appack packages an AppDir into a self-mounting application
// image and inspects existing images.
package main

import (
	"fmt"
	"os"

	"appack/internal/logging"

	"github.com/spf13/cobra"
)

var logger = logging.GetLogger().WithPrefix("cli")

var rootCmd = &cobra.Command{
	Use:   "appack",
	Short: "Package application directories into self-mounting images",
	Long: `appack turns an AppDir (a directory with an executable AppRun entry
point) into a single executable image: a bootstrap stub followed by a
Zip archive whose offsets are rebased past the stub. The result runs
directly and still opens with ordinary archive tools.`,
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logging.GetLogger().SetLevel(logging.LevelDebug)
		}
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
