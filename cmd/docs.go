package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/mdxflow/internal/compress"
	"github.com/conneroisu/mdxflow/internal/config"
	"github.com/conneroisu/mdxflow/internal/logging"
	"github.com/conneroisu/mdxflow/internal/store"
)

var docsCmd = &cobra.Command{
	Use:     "docs",
	Aliases: []string{"d"},
	Short:   "Manage stored documents",
	Long: `Create, read, update, delete and list the documents served under
/docs/{id}. The store is selected by the storage section of the config;
only the file driver keeps documents between runs.

Examples:
  mdxflow docs create --title Intro --file intro.mdx
  mdxflow docs list --limit 10 -o yaml
  mdxflow docs update ID --title "New title"
  mdxflow docs delete ID`,
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List documents, newest first",
	Args:  cobra.NoArgs,
	RunE:  runDocsList,
}

var docsGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsGet,
}

var docsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a document",
	Args:  cobra.NoArgs,
	RunE:  runDocsCreate,
}

var docsUpdateCmd = &cobra.Command{
	Use:   "update ID",
	Short: "Update a document's title, content or metadata",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsUpdate,
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsDelete,
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.AddCommand(docsListCmd, docsGetCmd, docsCreateCmd, docsUpdateCmd, docsDeleteCmd)

	docsListCmd.Flags().Int("limit", store.DefaultLimit, "Maximum number of documents")
	docsListCmd.Flags().Int("offset", 0, "Number of documents to skip")

	for _, c := range []*cobra.Command{docsCreateCmd, docsUpdateCmd} {
		c.Flags().String("title", "", "Document title")
		c.Flags().String("file", "", "Read the content from a file (- for stdin)")
		c.Flags().String("metadata", "", "Metadata as a YAML or JSON mapping")
	}

	for _, c := range []*cobra.Command{docsListCmd, docsGetCmd, docsCreateCmd, docsUpdateCmd} {
		addOutputFlag(c)
	}
}

// openStore opens the configured document store.
func openStore(cfg *config.Config, logger logging.Logger) (store.Store, error) {
	alg, err := compress.Parse(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Storage.Driver, cfg.Storage.Path, alg, logger)
}

func withStore(cmd *cobra.Command, fn func(store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg, newLogger(cfg, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		_ = st.Close()
		return err
	}
	return st.Close()
}

func printDocument(cmd *cobra.Command, doc *store.Document) error {
	return writeOutput(cmd, doc, func(w io.Writer) error {
		fmt.Fprintf(w, "ID:      %s\n", doc.ID)
		fmt.Fprintf(w, "Title:   %s\n", doc.Title)
		fmt.Fprintf(w, "Created: %s\n", doc.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "Updated: %s\n", doc.UpdatedAt.Format(time.RFC3339))
		_, err := fmt.Fprintf(w, "\n%s\n", doc.Content)
		return err
	})
}

func runDocsList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")
	return withStore(cmd, func(st store.Store) error {
		docs, err := st.List(cmd.Context(), store.ListOptions{Limit: limit, Offset: offset})
		if err != nil {
			return err
		}
		return writeOutput(cmd, docs, func(w io.Writer) error {
			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tUPDATED")
			for _, doc := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", doc.ID, doc.Title, doc.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		})
	})
}

func runDocsGet(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(st store.Store) error {
		doc, err := st.Read(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printDocument(cmd, doc)
	})
}

// readContent returns the --file content, or nil when the flag is unset.
func readContent(cmd *cobra.Command) (*string, error) {
	path, _ := cmd.Flags().GetString("file")
	if path == "" {
		return nil, nil
	}
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	content := string(data)
	return &content, nil
}

func readMetadata(cmd *cobra.Command) (map[string]any, error) {
	raw, _ := cmd.Flags().GetString("metadata")
	if raw == "" {
		return nil, nil
	}
	return parseProps([]byte(raw))
}

func runDocsCreate(cmd *cobra.Command, args []string) error {
	title, _ := cmd.Flags().GetString("title")
	content, err := readContent(cmd)
	if err != nil {
		return err
	}
	if title == "" || content == nil || *content == "" {
		return fmt.Errorf("title and content are required")
	}
	metadata, err := readMetadata(cmd)
	if err != nil {
		return err
	}

	return withStore(cmd, func(st store.Store) error {
		doc, err := st.Create(cmd.Context(), store.NewDocument{Title: title, Content: *content, Metadata: metadata})
		if err != nil {
			return err
		}
		return printDocument(cmd, doc)
	})
}

func runDocsUpdate(cmd *cobra.Command, args []string) error {
	var patch store.Patch
	if cmd.Flags().Changed("title") {
		title, _ := cmd.Flags().GetString("title")
		patch.Title = &title
	}
	content, err := readContent(cmd)
	if err != nil {
		return err
	}
	patch.Content = content
	if patch.Metadata, err = readMetadata(cmd); err != nil {
		return err
	}

	return withStore(cmd, func(st store.Store) error {
		doc, err := st.Update(cmd.Context(), args[0], patch)
		if err != nil {
			return err
		}
		return printDocument(cmd, doc)
	})
}

func runDocsDelete(cmd *cobra.Command, args []string) error {
	return withStore(cmd, func(st store.Store) error {
		if err := st.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return err
	})
}
