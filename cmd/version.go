package cmd

import (
	"fmt"

	"github.com/crytic/warden/version"
	"github.com/spf13/cobra"
)

// versionCmd represents the version command that displays build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and build information",
	Long:  `Print the semantic version, git commit and Go version of the warden binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(version.GetInfo().String())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
