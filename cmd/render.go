package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/mdxflow/internal/compiler"
	"github.com/conneroisu/mdxflow/internal/components"
	"github.com/conneroisu/mdxflow/internal/config"
	"github.com/conneroisu/mdxflow/internal/logging"
	"github.com/conneroisu/mdxflow/internal/mdx"
	"github.com/conneroisu/mdxflow/internal/node"
	"github.com/conneroisu/mdxflow/internal/registry"
	"github.com/conneroisu/mdxflow/internal/stream"
)

var renderCmd = &cobra.Command{
	Use:     "render [file]",
	Aliases: []string{"r"},
	Short:   "Render an MDX document to HTML",
	Long: `Render an MDX document to HTML on stdout. Without a file, or with "-",
the document is read from stdin.

With --stream the markup is written as suspense boundaries resolve: the
fallbacks first, then a template and swap script per boundary. A document
read from stdin while streaming is itself a boundary, so its fallback is
written before the input is read.

Examples:
  mdxflow render page.mdx
  mdxflow render page.mdx --props '{name: Ada}' --hydrate
  cat page.mdx | mdxflow render --stream`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)

	renderCmd.Flags().Bool("hydrate", false, "Embed hydration state (default from render.hydrate)")
	renderCmd.Flags().String("props", "", "Props as a YAML or JSON mapping")
	renderCmd.Flags().String("props-file", "", "Read props from a YAML or JSON file")
	renderCmd.Flags().Bool("stream", false, "Stream boundaries as they resolve")
	renderCmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")
}

// newRegistry returns a registry with the configured builtins and
// component directories.
func newRegistry(cfg *config.Config, logger logging.Logger) (*registry.ComponentRegistry, error) {
	reg := registry.NewComponentRegistry()
	if cfg.Components.Builtins {
		components.RegisterBuiltins(reg)
	}
	if _, err := components.LoadDirs(reg, cfg.Components.Dirs, logger); err != nil {
		return nil, err
	}
	return reg, nil
}

func newEngine(cfg *config.Config, reg *registry.ComponentRegistry, logger logging.Logger) (*mdx.Engine, error) {
	options := []mdx.Option{
		mdx.WithRegistry(reg),
		mdx.WithLogger(logger),
		mdx.WithStrict(cfg.Render.Strict),
		mdx.WithStreamOptions(stream.Options{BoundaryTimeout: cfg.Render.BoundaryTimeout}),
	}
	if cfg.Render.CacheSize > 0 {
		options = append(options, mdx.WithCache(compiler.NewCache(cfg.Render.CacheSize, cfg.Render.CacheTTL)))
	}
	return mdx.New(cfg.Compiler, options...)
}

// parseProps decodes a YAML (or JSON) mapping.
func parseProps(data []byte) (node.Props, error) {
	var props map[string]any
	if err := yaml.Unmarshal(data, &props); err != nil {
		return nil, fmt.Errorf("parsing props: %w", err)
	}
	return node.Props(props), nil
}

func renderProps(cmd *cobra.Command) (node.Props, error) {
	if path, _ := cmd.Flags().GetString("props-file"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return parseProps(data)
	}
	if inline, _ := cmd.Flags().GetString("props"); inline != "" {
		return parseProps([]byte(inline))
	}
	return nil, nil
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	reg, err := newRegistry(cfg, logger)
	if err != nil {
		return err
	}
	engine, err := newEngine(cfg, reg, logger)
	if err != nil {
		return err
	}

	props, err := renderProps(cmd)
	if err != nil {
		return err
	}
	hydrate := cfg.Render.Hydrate
	if cmd.Flags().Changed("hydrate") {
		hydrate, _ = cmd.Flags().GetBool("hydrate")
	}
	streaming, _ := cmd.Flags().GetBool("stream")

	fromStdin := len(args) == 0 || args[0] == "-"
	var source mdx.Source
	switch {
	case fromStdin && streaming:
		in := cmd.InOrStdin()
		source = mdx.Deferred(func(context.Context) (string, error) {
			data, err := io.ReadAll(in)
			return string(data), err
		})
	case fromStdin:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		source = mdx.Text(string(data))
	default:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		source = mdx.Text(string(data))
	}

	out := cmd.OutOrStdout()
	if path, _ := cmd.Flags().GetString("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	req := mdx.Request{Source: source, Props: props, Hydrate: hydrate}
	if streaming {
		return engine.Stream(cmd.Context(), out, req)
	}
	_, err = io.WriteString(out, engine.Render(cmd.Context(), req)+"\n")
	return err
}
