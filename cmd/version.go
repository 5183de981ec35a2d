package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("CampusMind %s\n", AppVersion)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		fmt.Println()

		// Report key presence without printing the keys themselves.
		reportKey("GEMINI_API_KEY")
		reportKey("OPENAI_API_KEY")
	},
}

func reportKey(name string) {
	if os.Getenv(name) != "" {
		fmt.Printf("  %s: configured\n", name)
	} else {
		fmt.Printf("  %s: not set\n", name)
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
