package cmd

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var componentsCmd = &cobra.Command{
	Use:     "components",
	Aliases: []string{"c", "list"},
	Short:   "List the components documents can use",
	Long: `List the built-in components and the MDX components found in the
configured component directories.

Examples:
  mdxflow components
  mdxflow components -o yaml`,
	Args: cobra.NoArgs,
	RunE: runComponents,
}

func init() {
	rootCmd.AddCommand(componentsCmd)
	addOutputFlag(componentsCmd)
}

// componentEntry is one line of the components listing.
type componentEntry struct {
	Name    string    `json:"name" yaml:"name"`
	Source  string    `json:"source" yaml:"source"`
	LastMod time.Time `json:"lastModified" yaml:"lastModified"`
}

func runComponents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg, err := newRegistry(cfg, newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	all := reg.GetAll()
	entries := make([]componentEntry, 0, len(all))
	for _, info := range all {
		entries = append(entries, componentEntry{Name: info.Name, Source: info.Source, LastMod: info.LastMod})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return writeOutput(cmd, entries, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tSOURCE")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\n", e.Name, e.Source)
		}
		return tw.Flush()
	})
}
