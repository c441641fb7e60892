package mdx

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/mdxflow/internal/compiler"
	"github.com/conneroisu/mdxflow/internal/hydration"
	"github.com/conneroisu/mdxflow/internal/node"
	"github.com/conneroisu/mdxflow/internal/registry"
	"github.com/conneroisu/mdxflow/internal/stream"
)

func Callout(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
	return node.El("aside", []node.Attr{node.A("class", "callout")}, children...), nil
}

func delayed(name string, d time.Duration) registry.Component {
	return registry.ComponentFunc(func(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
		return node.Suspense(ctx, node.Textf("loading %s", name), func(ctx context.Context) (node.Node, error) {
			time.Sleep(d)
			return node.Textf("%s ready", name), nil
		}), nil
	})
}

func newEngine(t *testing.T, options ...Option) *Engine {
	t.Helper()
	reg := registry.NewComponentRegistry()
	reg.Register("Callout", registry.ComponentFunc(Callout))
	reg.Register("Broken", registry.ComponentFunc(func(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
		return nil, errors.New("no data")
	}))
	e, err := New(compiler.DefaultOptions(), append([]Option{WithRegistry(reg)}, options...)...)
	require.NoError(t, err)
	return e
}

func rootAttr(t *testing.T, tree node.Node, name string) (string, bool) {
	t.Helper()
	root, ok := tree.(*node.Element)
	require.True(t, ok, "root is %T", tree)
	return root.Attr(name)
}

func TestRenderDocument(t *testing.T) {
	out := newEngine(t).Render(context.Background(), Request{Source: Text("# Hello\n\nWorld")})
	assert.Equal(t,
		`<div id="mdx-root" data-mdx="true" data-hydrate="false" data-source="# Hello`+"\n\n"+`World" class="prose"><h1 id="hello">Hello</h1><p>World</p></div>`,
		out)
}

func TestRenderHydrationState(t *testing.T) {
	e := newEngine(t)
	source := "Hi {props.name}\n\n<Callout>\nNote\n</Callout>\n"
	extra := map[string]registry.Component{"Badge": registry.ComponentFunc(Callout)}

	tree, err := e.Tree(context.Background(), Request{
		Source:     Text(source),
		Props:      node.Props{"name": "Ada"},
		Components: extra,
		Hydrate:    true,
	})
	require.NoError(t, err)

	hydrate, _ := rootAttr(t, tree, AttrHydrate)
	assert.Equal(t, "true", hydrate)
	raw, ok := rootAttr(t, tree, AttrState)
	require.True(t, ok)
	require.NotEmpty(t, raw)

	state := hydration.Deserialize(raw)
	assert.Equal(t, source, state.Source)
	assert.Equal(t, "Ada", state.Props["name"])
	assert.Equal(t, []string{"Badge", "Callout"}, state.ComponentNames())

	out := node.String(tree)
	assert.Contains(t, out, `<p>Hi Ada</p><aside class="callout"><p>Note</p></aside>`)
}

func TestRenderWithoutHydrationHasNoState(t *testing.T) {
	tree, err := newEngine(t).Tree(context.Background(), Request{Source: Text("x")})
	require.NoError(t, err)
	_, ok := rootAttr(t, tree, AttrState)
	assert.False(t, ok)
}

func TestRenderContainsFailures(t *testing.T) {
	e := newEngine(t)

	t.Run("unknown component", func(t *testing.T) {
		out := e.Render(context.Background(), Request{Source: Text("before\n\n<Missing/>\n\nafter")})
		assert.Contains(t, out, "<p>before</p>")
		assert.Contains(t, out, "<p>after</p>")
		assert.NotContains(t, out, `data-error="true"`)
	})

	t.Run("unknown component in strict mode", func(t *testing.T) {
		out := newEngine(t, WithStrict(true)).Render(context.Background(), Request{Source: Text("<Missing/>\n")})
		assert.Contains(t, out, `data-component="Missing"`)
	})

	t.Run("failing component", func(t *testing.T) {
		out := e.Render(context.Background(), Request{Source: Text("one\n\n<Broken />\n\n<Callout>\ntwo\n</Callout>\n")})
		assert.Equal(t, 1, strings.Count(out, `data-mdx-error="true"`))
		assert.Contains(t, out, "<p>one</p>")
		assert.Contains(t, out, `<aside class="callout"><p>two</p></aside>`)
	})

	t.Run("compilation error", func(t *testing.T) {
		out := e.Render(context.Background(), Request{Source: Text("<Callout>\nnever closed\n")})
		assert.True(t, strings.HasPrefix(out, `<div id="mdx-root" data-mdx="true" data-error="true" class="prose error">`))
		assert.Contains(t, out, "Error rendering MDX: ")
		assert.Contains(t, out, "unclosed tag")
	})
}

func TestRenderDeferredSource(t *testing.T) {
	e := newEngine(t)

	out := e.Render(context.Background(), Request{
		Source:  Deferred(func(ctx context.Context) (string, error) { return "# Later", nil }),
		Hydrate: true,
	})
	assert.Contains(t, out, `<h1 id="later">Later</h1>`)
	assert.NotContains(t, out, AttrSource+"=")

	out = e.Render(context.Background(), Request{
		Source: Deferred(func(ctx context.Context) (string, error) { return "", errors.New("upstream down") }),
	})
	assert.Contains(t, out, `data-error="true"`)
	assert.Contains(t, out, "upstream down")
}

func TestStreamDeferredSource(t *testing.T) {
	release := make(chan struct{})
	var buf bytes.Buffer
	e := newEngine(t)

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(release)
	}()
	err := e.Stream(context.Background(), &buf, Request{
		Source: Deferred(func(ctx context.Context) (string, error) {
			<-release
			return "Ready *now*", nil
		}),
	})
	require.NoError(t, err)

	out := buf.String()
	fallback := strings.Index(out, `<div class="loading">Loading MDX content...</div>`)
	resolved := strings.Index(out, "<p>Ready <em>now</em></p>")
	require.GreaterOrEqual(t, fallback, 0)
	require.GreaterOrEqual(t, resolved, 0)
	assert.Less(t, fallback, resolved)
	assert.NotContains(t, out, AttrSource+"=")
}

func TestStreamCompilationError(t *testing.T) {
	var buf bytes.Buffer
	err := newEngine(t).Stream(context.Background(), &buf, Request{Source: Text("{1 +}")})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `data-error="true"`)
}

func TestChunksCompletionOrder(t *testing.T) {
	e := newEngine(t)
	req := Request{
		Source: Text("<Slow />\n\n<Fast />\n"),
		Components: map[string]registry.Component{
			"Slow": delayed("slow", 100*time.Millisecond),
			"Fast": delayed("fast", 10*time.Millisecond),
		},
	}

	var chunks []stream.Chunk
	err := e.Chunks(context.Background(), req, func(c stream.Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	first := string(chunks[0].HTML)
	assert.Less(t, strings.Index(first, "loading slow"), strings.Index(first, "loading fast"))
	assert.NotContains(t, first, "ready")
	assert.Contains(t, string(chunks[1].HTML), "fast ready")
	assert.Contains(t, string(chunks[2].HTML), "slow ready")
}

func TestNewRejectsUnknownExtension(t *testing.T) {
	_, err := New(compiler.Options{Remark: []string{"emoji"}})
	assert.Error(t, err)
}
