package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/mdxflow/internal/store"
)

// resetFlags restores every flag to its default so commands can run more
// than once in a process.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// project writes a config and a component directory into a temp dir and
// returns the config path.
func project(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	components := filepath.Join(dir, "components")
	require.NoError(t, os.MkdirAll(components, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(components, "card.mdx"), []byte("card body\n"), 0o644))

	cfg := map[string]any{
		"components": map[string]any{"dirs": []string{components}, "watch": false},
		"storage": map[string]any{
			"driver":      "file",
			"path":        filepath.Join(dir, "data", "documents.db"),
			"compression": "zstd",
		},
		"logging": map[string]any{"level": "error"},
	}
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "mdxflow.yml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRenderCommand(t *testing.T) {
	cfg := project(t)
	page := writeFile(t, "page.mdx", "# Hello\n\n<Callout>\nNote\n</Callout>\n\n<Card />\n")

	out, err := execute(t, "", "render", page, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, `data-hydrate="true"`)
	assert.Contains(t, out, `<h1 id="hello">Hello</h1>`)
	assert.Contains(t, out, `<aside class="callout callout-info" role="note"><p>Note</p></aside>`)
	assert.Contains(t, out, `<p>card body</p>`)

	out, err = execute(t, "", "render", page, "--config", cfg, "--hydrate=false")
	require.NoError(t, err)
	assert.Contains(t, out, `data-hydrate="false"`)
	assert.NotContains(t, out, `data-state=`)
}

func TestRenderCommandProps(t *testing.T) {
	cfg := project(t)

	out, err := execute(t, "Hi {props.name}", "render", "--config", cfg, "--props", "{name: Ada}")
	require.NoError(t, err)
	assert.Contains(t, out, "<p>Hi Ada</p>")

	props := writeFile(t, "props.json", `{"name": "Grace"}`)
	out, err = execute(t, "Hi {props.name}", "render", "-", "--config", cfg, "--props-file", props)
	require.NoError(t, err)
	assert.Contains(t, out, "<p>Hi Grace</p>")

	_, err = execute(t, "x", "render", "--config", cfg, "--props", "[not, a, mapping]")
	assert.ErrorContains(t, err, "parsing props")
}

func TestRenderCommandStreamsDeferredStdin(t *testing.T) {
	cfg := project(t)

	out, err := execute(t, "# Later\n", "render", "--config", cfg, "--stream")
	require.NoError(t, err)
	fallback := strings.Index(out, "Loading MDX content...")
	resolved := strings.Index(out, `<h1 id="later">Later</h1>`)
	require.GreaterOrEqual(t, fallback, 0)
	require.GreaterOrEqual(t, resolved, 0)
	assert.Less(t, fallback, resolved)
}

func TestHydrateCommand(t *testing.T) {
	cfg := project(t)
	page := writeFile(t, "page.mdx", "Hi {props.name}\n")
	rendered := filepath.Join(t.TempDir(), "page.html")

	_, err := execute(t, "", "render", page, "--config", cfg, "--props", "{name: Ada}", "--hydrate", "-o", rendered)
	require.NoError(t, err)

	out, err := execute(t, "", "hydrate", rendered, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, `data-hydrated="true"`)
	assert.Contains(t, out, "<p>Hi Ada</p>")

	out, err = execute(t, `<div id="mdx-root">plain</div>`, "hydrate", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "plain")
	assert.NotContains(t, out, "data-hydrated")
}

func TestDocsCommands(t *testing.T) {
	cfg := project(t)
	content := writeFile(t, "intro.mdx", "# Intro\n")

	out, err := execute(t, "", "docs", "create", "--config", cfg, "--title", "Intro", "--file", content,
		"--metadata", "{tag: guide}", "-o", "json")
	require.NoError(t, err)
	var created store.Document
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "guide", created.Metadata["tag"])

	out, err = execute(t, "", "docs", "list", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, created.ID)
	assert.Contains(t, out, "Intro")

	out, err = execute(t, "# Replaced\n", "docs", "update", created.ID, "--config", cfg,
		"--title", "Intro 2", "--file", "-", "-o", "yaml")
	require.NoError(t, err)
	var updated map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &updated))
	assert.Equal(t, "Intro 2", updated["title"])
	assert.Equal(t, "# Replaced\n", updated["content"])

	out, err = execute(t, "", "docs", "get", created.ID, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Title:   Intro 2")

	_, err = execute(t, "", "docs", "delete", created.ID, "--config", cfg)
	require.NoError(t, err)
	_, err = execute(t, "", "docs", "get", created.ID, "--config", cfg)
	assert.ErrorContains(t, err, "not found")

	_, err = execute(t, "", "docs", "create", "--config", cfg, "--title", "Empty")
	assert.ErrorContains(t, err, "title and content are required")
}

func TestComponentsCommand(t *testing.T) {
	cfg := project(t)

	out, err := execute(t, "", "components", "--config", cfg, "-o", "yaml")
	require.NoError(t, err)
	var entries []componentEntry
	require.NoError(t, yaml.Unmarshal([]byte(out), &entries))

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"Callout", "Card", "Counter", "Delay"}, names)

	out, err = execute(t, "", "components", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "card.mdx")

	_, err = execute(t, "", "components", "--config", cfg, "-o", "xml")
	assert.ErrorContains(t, err, "unsupported format")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "", "version", "-o", "json")
	require.NoError(t, err)
	var info map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info["version"])
	assert.NotEmpty(t, info["go_version"])

	out, err = execute(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "mdxflow "))
}

func TestInvalidConfig(t *testing.T) {
	cfg := writeFile(t, "bad.yml", "server:\n  port: 70000\n")
	_, err := execute(t, "", "components", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed to load configuration")
}
