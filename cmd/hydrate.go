package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/conneroisu/mdxflow/internal/hydrate"
	"github.com/conneroisu/mdxflow/internal/mdx"
)

var hydrateCmd = &cobra.Command{
	Use:   "hydrate [page.html]",
	Short: "Hydrate a rendered page from its embedded state",
	Long: `Parse a rendered page, graft any streamed boundaries into place, and
re-render the MDX root from the source and props embedded in its hydration
state. The resulting document is written to stdout.

A page without hydration state, or whose state cannot be used, is written
back unchanged apart from the grafting.

Examples:
  mdxflow hydrate page.html
  curl -s localhost:8080/docs/ID | mdxflow hydrate`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHydrate,
}

func init() {
	rootCmd.AddCommand(hydrateCmd)

	hydrateCmd.Flags().String("root", mdx.RootID, "Id of the root container")
}

func runHydrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	reg, err := newRegistry(cfg, logger)
	if err != nil {
		return err
	}
	h, err := hydrate.New(reg, cfg.Compiler, logger)
	if err != nil {
		return err
	}

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	rootID, _ := cmd.Flags().GetString("root")
	hydrated, err := h.Process(cmd.Context(), in, cmd.OutOrStdout(), rootID)
	if err != nil {
		return err
	}
	if !hydrated {
		logger.Info(cmd.Context(), "Page was not hydrated", "root", rootID)
	}
	return nil
}
