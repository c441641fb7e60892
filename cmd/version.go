package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/mdxflow/internal/version"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for mdxflow: the version, git commit,
build time, Go version and platform.

Examples:
  mdxflow version              # Show version and commit
  mdxflow version --detailed   # Show every build field
  mdxflow version -o json      # Output as JSON`,
	Args: cobra.NoArgs,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().Bool("short", false, "Show the version only")
	versionCmd.Flags().Bool("detailed", false, "Show detailed version information")
	addOutputFlag(versionCmd)
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	info := version.GetBuildInfo()
	short, _ := cmd.Flags().GetBool("short")
	detailed, _ := cmd.Flags().GetBool("detailed")

	return writeOutput(cmd, info, func(w io.Writer) error {
		var err error
		switch {
		case short:
			_, err = fmt.Fprintln(w, info.Short())
		case detailed:
			_, err = fmt.Fprintln(w, info.String())
		default:
			line := "mdxflow " + version.GetShortVersion()
			if info.Dirty {
				line += " (dirty)"
			}
			_, err = fmt.Fprintf(w, "%s %s\n", line, info.Platform)
		}
		return err
	})
}
