package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/mdxflow/internal/compiler"
	"github.com/conneroisu/mdxflow/internal/node"
	"github.com/conneroisu/mdxflow/internal/registry"
)

func testRegistry() *registry.ComponentRegistry {
	reg := registry.NewComponentRegistry()
	reg.Register("Callout", registry.ComponentFunc(func(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
		return node.El("aside", []node.Attr{node.A("class", "callout-"+props.String("type", "info"))}, children...), nil
	}))
	reg.Register("Broken", registry.ComponentFunc(func(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
		return nil, errors.New("chart data missing")
	}))
	reg.Register("Panics", registry.ComponentFunc(func(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
		var m map[string]int
		m["boom"]++
		return nil, nil
	}))
	reg.Register("Count", registry.ComponentFunc(func(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
		return node.Textf("%d items", props.Int("n", 0)), nil
	}))
	reg.Register("Which", registry.ComponentFunc(func(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
		_, ok := registry.FromContext(ctx).Get("Callout")
		return node.Textf("nested lookup: %v", ok), nil
	}))
	return reg
}

func render(t *testing.T, source string, rt Runtime) string {
	t.Helper()
	tpl, err := compiler.Compile(source, compiler.Options{Remark: []string{compiler.RemarkGFM, compiler.RemarkFrontmatter}})
	require.NoError(t, err)
	return node.String(Instantiate(context.Background(), tpl, rt))
}

func TestInstantiate(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		props    node.Props
		strict   bool
		expected string
	}{
		{
			name:     "plain markdown",
			source:   "# Title\n\nHello *there*",
			expected: `<h1 id="title">Title</h1><p>Hello <em>there</em></p>`,
		},
		{
			name:     "component with children and props",
			source:   "<Callout type=\"warning\">\nCareful\n</Callout>\n",
			expected: `<aside class="callout-warning"><p>Careful</p></aside>`,
		},
		{
			name:     "expressions read props",
			source:   "Hello {props.name}, you are {age}.",
			props:    node.Props{"name": "Ada <Lovelace>", "age": float64(36)},
			expected: `<p>Hello Ada &lt;Lovelace&gt;, you are 36.</p>`,
		},
		{
			name:     "missing reference renders nothing",
			source:   "[{props.missing.deep}]",
			expected: `<p>[]</p>`,
		},
		{
			name:     "frontmatter in scope",
			source:   "---\ntitle: Guide\n---\n{frontmatter.title} / {title}",
			expected: `<p>Guide / Guide</p>`,
		},
		{
			name:     "expression props reach components",
			source:   "<Count n={props.items.length} />\n\n<Count n={2} />\n",
			props:    node.Props{"items": map[string]any{"length": float64(5)}},
			expected: `5 items2 items`,
		},
		{
			name:     "unknown component is left out",
			source:   "before\n\n<Chart />\n\nafter",
			expected: `<p>before</p><p>after</p>`,
		},
		{
			name:     "unknown component in strict mode",
			source:   "<Chart />\n",
			strict:   true,
			expected: `<div class="mdx-error" data-mdx-error="true" data-component="Chart" role="alert">Error rendering Chart: component is not registered</div>`,
		},
		{
			name:     "failing component is isolated",
			source:   "one\n\n<Broken />\n\ntwo",
			expected: `<p>one</p><div class="mdx-error" data-mdx-error="true" data-component="Broken" role="alert">Error rendering Broken: chart data missing</div><p>two</p>`,
		},
		{
			name:     "failing inline component keeps the paragraph",
			source:   "two <Broken /> three\n",
			expected: `<p>two <span class="mdx-error" data-mdx-error="true" data-component="Broken" role="alert">Error rendering Broken: chart data missing</span> three</p>`,
		},
		{
			name:     "unknown inline component in strict mode",
			source:   "see <Chart /> here\n",
			strict:   true,
			expected: `<p>see <span class="mdx-error" data-mdx-error="true" data-component="Chart" role="alert">Error rendering Chart: component is not registered</span> here</p>`,
		},
		{
			name:     "registry is available to components",
			source:   "<Which />\n",
			expected: `nested lookup: true`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := render(t, tt.source, Runtime{Registry: testRegistry(), Props: tt.props, Strict: tt.strict})
			assert.Equal(t, tt.expected, out)
		})
	}
}

func TestPanickingComponent(t *testing.T) {
	out := render(t, "<Panics />\n\nstill here", Runtime{Registry: testRegistry()})
	assert.Contains(t, out, `data-mdx-error="true"`)
	assert.Contains(t, out, "Error rendering Panics: panic:")
	assert.Contains(t, out, "<p>still here</p>")
}

func TestScopePrecedence(t *testing.T) {
	tpl, err := compiler.Compile("{who}", compiler.Options{Scope: map[string]any{"who": "compile"}})
	require.NoError(t, err)

	out := node.String(Instantiate(context.Background(), tpl, Runtime{Registry: testRegistry()}))
	assert.Equal(t, "compile", out)

	out = node.String(Instantiate(context.Background(), tpl, Runtime{
		Registry: testRegistry(),
		Scope:    map[string]any{"who": "runtime"},
	}))
	assert.Equal(t, "runtime", out)

	out = node.String(Instantiate(context.Background(), tpl, Runtime{
		Registry: testRegistry(),
		Scope:    map[string]any{"who": "runtime"},
		Props:    node.Props{"who": "props"},
	}))
	assert.Equal(t, "props", out)
}

func TestElementAttributes(t *testing.T) {
	out := render(t, "- [x] done\n- [ ] todo\n", Runtime{Registry: testRegistry()})
	assert.Equal(t, `<ul><li><input checked disabled type="checkbox"> done</li><li><input disabled type="checkbox"> todo</li></ul>`, out)
}

func TestResolve(t *testing.T) {
	root := map[string]any{
		"list":  []any{"a", map[string]any{"b": "deep"}},
		"props": map[string]any(node.Props{"x": 1}),
		"yaml":  map[interface{}]interface{}{"k": "v"},
	}

	assert.Equal(t, "a", Resolve(root, []string{"list", "0"}))
	assert.Equal(t, "deep", Resolve(root, []string{"list", "1", "b"}))
	assert.Nil(t, Resolve(root, []string{"list", "9"}))
	assert.Equal(t, 1, Resolve(root, []string{"props", "x"}))
	assert.Equal(t, "v", Resolve(root, []string{"yaml", "k"}))
	assert.Nil(t, Resolve(root, []string{"missing", "x"}))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "3.5", Stringify(3.5))
	assert.Equal(t, "10", Stringify(float64(10)))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, `["a",1]`, Stringify([]any{"a", 1}))
	assert.Equal(t, "", Stringify(nil))
}
