package compiler

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
	"github.com/conneroisu/mdxflow/internal/ir"
)

// dump prints a template body as HTML-like text. Components keep their
// names, expressions print as {path}.
func dump(nodes []ir.Node) string {
	var b strings.Builder
	for _, n := range nodes {
		dumpNode(&b, n)
	}
	return b.String()
}

func dumpNode(b *strings.Builder, n ir.Node) {
	switch v := n.(type) {
	case *ir.Text:
		b.WriteString(v.Value)
	case *ir.Raw:
		b.WriteString(v.HTML)
	case *ir.Expression:
		b.WriteString("{" + dumpExpr(v.Expr) + "}")
	case *ir.Fragment:
		b.WriteString(dump(v.Children))
	case *ir.Element:
		dumpTag(b, v.Tag, v.Attrs, v.Children)
	case *ir.Component:
		dumpTag(b, v.Name, v.Attrs, v.Children)
	}
}

func dumpTag(b *strings.Builder, name string, attrs []ir.Attr, children []ir.Node) {
	b.WriteString("<" + name)
	for _, a := range attrs {
		b.WriteString(" " + a.Name + "=")
		if lit, ok := a.Value.(*ir.Literal); ok {
			if s, ok := lit.Value.(string); ok {
				b.WriteString(`"` + s + `"`)
				continue
			}
		}
		b.WriteString("{" + dumpExpr(a.Value) + "}")
	}
	b.WriteString(">")
	b.WriteString(dump(children))
	b.WriteString("</" + name + ">")
}

func dumpExpr(e ir.Expr) string {
	switch v := e.(type) {
	case *ir.Ref:
		return v.String()
	case *ir.Literal:
		data, _ := json.Marshal(v.Value)
		return string(data)
	}
	return "?"
}

func mustCompile(t *testing.T, source string, opts Options) *ir.Template {
	t.Helper()
	tpl, err := Compile(source, opts)
	require.NoError(t, err)
	return tpl
}

func TestCompileMarkdown(t *testing.T) {
	tests := []struct {
		name     string
		source   string
		opts     Options
		expected string
	}{
		{
			name:     "heading and emphasis",
			source:   "# Hello World\n\nSome *text* here.",
			expected: `<h1 id="hello-world">Hello World</h1><p>Some <em>text</em> here.</p>`,
		},
		{
			name:     "duplicate headings get unique slugs",
			source:   "# Intro\n\n## Intro\n",
			expected: `<h1 id="intro">Intro</h1><h2 id="intro-1">Intro</h2>`,
		},
		{
			name:     "slug disabled",
			source:   "# Intro\n",
			opts:     Options{Rehype: []string{}},
			expected: `<h1>Intro</h1>`,
		},
		{
			name:     "escapes and entities",
			source:   "a \\* b &amp; c",
			expected: `<p>a * b & c</p>`,
		},
		{
			name:     "soft line break",
			source:   "one\ntwo",
			expected: "<p>one\ntwo</p>",
		},
		{
			name:     "lists",
			source:   "- a\n- b\n\n3. x\n",
			expected: `<ul><li>a</li><li>b</li></ul><ol start="3"><li>x</li></ol>`,
		},
		{
			name:     "fenced code",
			source:   "```go\nx := 1\n```\n",
			expected: `<pre><code class="language-go">x := 1` + "\n" + `</code></pre>`,
		},
		{
			name:     "gfm table",
			source:   "| a | b |\n|---|:-:|\n| 1 | 2 |\n",
			expected: `<table><thead><tr><th>a</th><th style="text-align:center">b</th></tr></thead>` +
				`<tbody><tr><td>1</td><td style="text-align:center">2</td></tr></tbody></table>`,
		},
		{
			name:     "strikethrough",
			source:   "~~gone~~",
			expected: `<p><del>gone</del></p>`,
		},
		{
			name:     "external links",
			source:   "[x](https://example.com) [y](/local)",
			opts:     Options{Rehype: []string{RehypeExternalLinks}},
			expected: `<p><a href="https://example.com" target="_blank" rel="noopener noreferrer">x</a> <a href="/local">y</a></p>`,
		},
		{
			name:     "dangerous link drops href",
			source:   "[x](javascript:alert(1))",
			expected: `<p><a>x</a></p>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := mustCompile(t, tt.source, tt.opts)
			assert.Equal(t, tt.expected, dump(tpl.Body))
		})
	}
}

func TestCompileComponents(t *testing.T) {
	tests := []struct {
		name       string
		source     string
		expected   string
		components []string
	}{
		{
			name:       "block component with children",
			source:     "<Callout type=\"warning\" title={props.title}>\nBe **careful**.\n</Callout>\n",
			expected:   `<Callout type="warning" title={props.title}><p>Be <strong>careful</strong>.</p></Callout>`,
			components: []string{"Callout"},
		},
		{
			name:       "self-closing block component",
			source:     "<Chart data={[1, 2, 3]} />\n",
			expected:   `<Chart data={[1,2,3]}></Chart>`,
			components: []string{"Chart"},
		},
		{
			name:       "multi-line opening tag",
			source:     "<Chart\n  kind=\"bar\"\n  stacked\n/>\n",
			expected:   `<Chart kind="bar" stacked={true}></Chart>`,
			components: []string{"Chart"},
		},
		{
			name:       "single-line content",
			source:     "<Callout>**bold**</Callout>\n",
			expected:   `<Callout><strong>bold</strong></Callout>`,
			components: []string{"Callout"},
		},
		{
			name:       "inline components and expressions",
			source:     "Hello <Badge color=\"red\">new</Badge> world {props.name}!",
			expected:   `<p>Hello <Badge color="red">new</Badge> world {props.name}!</p>`,
			components: []string{"Badge"},
		},
		{
			name:       "nested components of the same name",
			source:     "<Box>\n<Box>\ninner\n</Box>\n</Box>\n",
			expected:   `<Box><Box><p>inner</p></Box></Box>`,
			components: []string{"Box"},
		},
		{
			name:       "nested different components",
			source:     "<Tabs>\n<Tab label=\"One\">\nfirst\n</Tab>\n</Tabs>\n",
			expected:   `<Tabs><Tab label="One"><p>first</p></Tab></Tabs>`,
			components: []string{"Tab", "Tabs"},
		},
		{
			name:       "expression paths and literals",
			source:     "{props.items[0].name} {\"text\"} {/* note */}",
			expected:   `<p>{props.items.0.name} {"text"} </p>`,
			components: []string{},
		},
		{
			name:       "flow expression",
			source:     "{children}\n\nafter",
			expected:   `{children}<p>after</p>`,
			components: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := mustCompile(t, tt.source, Options{})
			assert.Equal(t, tt.expected, dump(tpl.Body))
			assert.Equal(t, tt.components, tpl.Components)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		code    string
		message string
		line    int
	}{
		{"unclosed block", "<Callout>\nunclosed\n", mdxerrors.ErrCodeSyntax, "unclosed tag <Callout>", 1},
		{"unclosed inline", "Hello <Badge>unclosed\n", mdxerrors.ErrCodeSyntax, "unclosed tag <Badge>", 1},
		{"stray closing tag", "text </Badge> more", mdxerrors.ErrCodeSyntax, "unexpected closing tag </Badge>", 1},
		{"mismatched tags", "Hi <A>x</B> y", mdxerrors.ErrCodeSyntax, "expected closing tag </A>, found </B>", 1},
		{"import", "import x from 'y'\n\n# Hi", mdxerrors.ErrCodeDisallowed, "import statements are not supported", 1},
		{"export", "# Hi\n\nexport const a = 1\n", mdxerrors.ErrCodeDisallowed, "export statements are not supported", 3},
		{"arbitrary javascript", "{1 + 2}", mdxerrors.ErrCodeDisallowed, "unsupported expression", 1},
		{"unquoted attribute", "<Bad attr=unquoted />\n", mdxerrors.ErrCodeSyntax, "must be a quoted string", 1},
		{"unclosed expression", "Hello {unclosed", mdxerrors.ErrCodeSyntax, "unclosed expression", 1},
		{"empty attribute expression", "<Chart data={} />\n", mdxerrors.ErrCodeSyntax, "empty attribute expression", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.source, Options{})
			require.Error(t, err)

			var mdxErr *mdxerrors.MDXError
			require.ErrorAs(t, err, &mdxErr)
			assert.Equal(t, mdxerrors.ErrorTypeCompilation, mdxErr.Type)
			assert.Equal(t, tt.code, mdxErr.Code)
			assert.Contains(t, mdxErr.Message, tt.message)
			assert.Equal(t, tt.line, mdxErr.Line)
			assert.Equal(t, tt.source, mdxerrors.SourceOf(err))
		})
	}
}

func TestRawHTML(t *testing.T) {
	source := "<div>hi</div>\n\ntext <span>x</span>"

	t.Run("dropped by default", func(t *testing.T) {
		tpl := mustCompile(t, source, Options{Development: true})
		assert.Equal(t, `<p>text x</p>`, dump(tpl.Body))
		require.NotEmpty(t, tpl.Diagnostics)
		assert.Equal(t, mdxerrors.ErrorSeverityWarning, tpl.Diagnostics[0].Severity)
	})

	t.Run("kept with raw", func(t *testing.T) {
		tpl := mustCompile(t, source, Options{Rehype: []string{RehypeRaw}})
		assert.Equal(t, "<div>hi</div>\n<p>text <span>x</span></p>", dump(tpl.Body))
		assert.Empty(t, tpl.Diagnostics)
	})
}

func TestFrontmatter(t *testing.T) {
	source := "---\ntitle: Hello\ntags: [a, b]\nmeta:\n  draft: true\n---\n# Body\n"
	opts := Options{
		Remark:     []string{RemarkGFM, RemarkFrontmatter},
		OutputMode: ir.OutputModuleBody,
	}

	tpl := mustCompile(t, source, opts)
	assert.Equal(t, `<h1 id="body">Body</h1>`, dump(tpl.Body))
	assert.Equal(t, map[string]any{
		"title": "Hello",
		"tags":  []any{"a", "b"},
		"meta":  map[string]any{"draft": true},
	}, tpl.Frontmatter)
	assert.Equal(t, []string{"default", "frontmatter"}, tpl.Exports)
	assert.Equal(t, []string{"meta", "tags", "title"}, FrontmatterKeys(tpl))

	immediate := mustCompile(t, source, Options{Remark: []string{RemarkFrontmatter}})
	assert.Empty(t, immediate.Exports)
	assert.Equal(t, ir.OutputImmediate, immediate.OutputMode)
}

func TestHighlight(t *testing.T) {
	tpl := mustCompile(t, "```go\nfunc main() {}\n```\n", Options{Rehype: []string{RehypeHighlight}})
	require.Len(t, tpl.Body, 1)
	raw, ok := tpl.Body[0].(*ir.Raw)
	require.True(t, ok)
	assert.Contains(t, raw.HTML, `class="chroma"`)
	assert.False(t, raw.Unsafe)

	unknown := mustCompile(t, "```nosuchlang\nx\n```\n", Options{Rehype: []string{RehypeHighlight}})
	assert.Equal(t, `<pre><code class="language-nosuchlang">x`+"\n"+`</code></pre>`, dump(unknown.Body))
}

func TestCompileIsDeterministic(t *testing.T) {
	source := "---\ntitle: T\n---\n# A\n\n<Callout kind=\"info\">\nHello {props.name}\n</Callout>\n\n| x |\n|---|\n| 1 |\n"
	opts := Options{Remark: []string{RemarkGFM, RemarkFrontmatter, RemarkFootnote}, Rehype: []string{RehypeSlug, RehypeHighlight}}

	first := mustCompile(t, source, opts)
	second := mustCompile(t, source, opts)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("templates differ (-first +second):\n%s", diff)
	}
	assert.Equal(t, Fingerprint(source, opts), first.Fingerprint)
	assert.NotEqual(t, first.Fingerprint, Fingerprint(source, Options{}))
	assert.NotEqual(t, first.Fingerprint, Fingerprint(source+" ", opts))
}

func TestOptionsValidation(t *testing.T) {
	_, err := Compile("# hi", Options{Remark: []string{"nope"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown remark extension "nope"`)

	_, err = Compile("# hi", Options{Rehype: []string{"sanitize"}})
	assert.Contains(t, err.Error(), `unknown rehype extension "sanitize"`)

	_, err = Compile("# hi", Options{OutputMode: "program"})
	assert.Contains(t, err.Error(), `unknown output mode "program"`)

	normalized := Options{}.Normalize()
	assert.Equal(t, []string{RemarkGFM}, normalized.Remark)
	assert.Equal(t, []string{RehypeSlug}, normalized.Rehype)
	assert.Equal(t, ir.OutputImmediate, normalized.OutputMode)
	assert.True(t, normalized.Has(RehypeSlug))
	assert.False(t, normalized.Has(RehypeRaw))
}

func TestCompileDeferred(t *testing.T) {
	tpl, err := CompileDeferred(context.Background(), func(ctx context.Context) (string, error) {
		return "# Later", nil
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, `<h1 id="later">Later</h1>`, dump(tpl.Body))

	cause := errors.New("fetch failed")
	_, err = CompileDeferred(context.Background(), func(ctx context.Context) (string, error) {
		return "", cause
	}, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, mdxerrors.IsCompilationError(err))
	assert.Equal(t, mdxerrors.DeferredSourcePlaceholder, mdxerrors.SourceOf(err))
}

func TestCompilerCache(t *testing.T) {
	cache := NewCache(1024, time.Minute)
	c, err := New(Options{}, WithCache(cache))
	require.NoError(t, err)

	first, err := c.Compile("# Cached")
	require.NoError(t, err)
	second, err := c.Compile("# Cached")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), cache.GetHits())
	assert.Equal(t, int64(1), cache.GetMisses())
	assert.Equal(t, 0.5, cache.GetHitRate())
}

func TestCacheEviction(t *testing.T) {
	cache := NewCache(10, 0)
	cache.Set(&ir.Template{Fingerprint: "a"}, 6)
	cache.Set(&ir.Template{Fingerprint: "b"}, 6)

	_, ok := cache.Get("a")
	assert.False(t, ok)
	_, ok = cache.Get("b")
	assert.True(t, ok)
	assert.Equal(t, int64(1), cache.GetEvictions())
	assert.Equal(t, 1, cache.Len())

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
	assert.Equal(t, int64(0), cache.GetHits())
}

func TestParseExpr(t *testing.T) {
	tests := []struct {
		code     string
		expected ir.Expr
		wantErr  bool
	}{
		{"props.title", &ir.Ref{Path: []string{"props", "title"}}, false},
		{" items[2] ", &ir.Ref{Path: []string{"items", "2"}}, false},
		{"42", &ir.Literal{Value: float64(42)}, false},
		{"true", &ir.Literal{Value: true}, false},
		{"null", &ir.Literal{Value: nil}, false},
		{"undefined", &ir.Literal{Value: nil}, false},
		{"'single'", &ir.Literal{Value: "single"}, false},
		{`{"a": 1}`, &ir.Literal{Value: map[string]any{"a": float64(1)}}, false},
		{"/* comment */", nil, false},
		{"", nil, false},
		{"a + b", nil, true},
		{"fn()", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			expr, err := ParseExpr(tt.code)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, expr)
		})
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "hello-world", Slug("Hello World"))
	assert.Equal(t, "whats-new-in-v2", Slug("What's new in v2?"))
	assert.Equal(t, "", Slug("!!!"))
}
