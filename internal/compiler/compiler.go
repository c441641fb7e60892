// Package compiler turns MDX source into an ir.Template.
//
// Markdown is parsed with goldmark plus an extension that understands
// component tags (<Name prop="v">…</Name>) and {expression} placeholders.
// The goldmark AST is lowered into the ir package's node tree and then
// passed through the enabled tree-level transforms. Compilation is
// deterministic: equal source and options yield equal templates.
package compiler

import (
	"context"
	"fmt"
	"sort"

	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
	"github.com/conneroisu/mdxflow/internal/ir"
	"github.com/conneroisu/mdxflow/internal/logging"
)

// SourceFunc produces source text that is not available up front.
type SourceFunc func(ctx context.Context) (string, error)

// Compiler compiles sources with a fixed set of options.
type Compiler struct {
	opts   Options
	md     goldmark.Markdown
	cache  *Cache
	logger logging.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithCache enables template caching.
func WithCache(cache *Cache) Option {
	return func(c *Compiler) { c.cache = cache }
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Compiler) { c.logger = logger }
}

// New validates opts and builds a Compiler.
func New(opts Options, options ...Option) (*Compiler, error) {
	opts = opts.Normalize()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	c := &Compiler{opts: opts}
	for _, o := range options {
		o(c)
	}
	c.logger = logging.OrNop(c.logger).WithComponent("compiler")

	extensions := []goldmark.Extender{&mdxExtension{}}
	for _, name := range opts.Remark {
		switch name {
		case RemarkGFM:
			extensions = append(extensions, extension.GFM)
		case RemarkFootnote:
			extensions = append(extensions, extension.Footnote)
		case RemarkTypographer:
			extensions = append(extensions, extension.Typographer)
		case RemarkDefinitionList:
			extensions = append(extensions, extension.DefinitionList)
		case RemarkFrontmatter:
			extensions = append(extensions, meta.Meta)
		}
	}
	c.md = goldmark.New(goldmark.WithExtensions(extensions...))
	return c, nil
}

// Options returns the normalized options.
func (c *Compiler) Options() Options {
	return c.opts
}

// Compile compiles source with opts.
func Compile(source string, opts Options) (*ir.Template, error) {
	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	return c.Compile(source)
}

// CompileDeferred resolves src and compiles the result with opts.
func CompileDeferred(ctx context.Context, src SourceFunc, opts Options) (*ir.Template, error) {
	c, err := New(opts)
	if err != nil {
		return nil, err
	}
	return c.CompileDeferred(ctx, src)
}

// CompileDeferred resolves src and compiles the result. A failure to
// produce the source is a compilation error whose source is the deferred
// placeholder.
func (c *Compiler) CompileDeferred(ctx context.Context, src SourceFunc) (*ir.Template, error) {
	source, err := src(ctx)
	if err != nil {
		return nil, &mdxerrors.MDXError{
			Type:        mdxerrors.ErrorTypeCompilation,
			Code:        mdxerrors.ErrCodeDeferredSource,
			Message:     "failed to resolve deferred source",
			Cause:       err,
			Source:      mdxerrors.DeferredSourcePlaceholder,
			Recoverable: true,
		}
	}
	return c.Compile(source)
}

// Compile parses source and produces a template.
func (c *Compiler) Compile(source string) (*ir.Template, error) {
	fingerprint := Fingerprint(source, c.opts)
	if c.cache != nil {
		if tpl, ok := c.cache.Get(fingerprint); ok {
			return tpl, nil
		}
	}

	src := []byte(source)
	pc := parser.NewContext()
	doc := c.md.Parser().Parse(text.NewReader(src), parser.WithContext(pc))

	if errs := parseErrors(pc); len(errs) > 0 {
		first := errs[0]
		code := mdxerrors.ErrCodeSyntax
		if first.Code == "disallowed" {
			code = mdxerrors.ErrCodeDisallowed
		}
		line, col := position(src, first.Offset)
		return nil, mdxerrors.NewCompilationError(code, first.Msg, source).WithLocation(line, col)
	}

	var frontmatter map[string]any
	if c.opts.Has(RemarkFrontmatter) {
		raw, err := meta.TryGet(pc)
		if err != nil {
			return nil, mdxerrors.NewCompilationError(mdxerrors.ErrCodeSyntax,
				fmt.Sprintf("invalid frontmatter: %v", err), source).WithLocation(1, 1)
		}
		if len(raw) > 0 {
			frontmatter = normalizeMap(raw)
		}
	}

	var diags *mdxerrors.DiagnosticCollector
	if c.opts.Development {
		diags = mdxerrors.NewDiagnosticCollector()
	}

	l := &lowerer{source: src, diags: diags}
	body := l.node(doc)
	if l.err != nil {
		return nil, l.err
	}

	for _, t := range c.transforms(diags) {
		body = t(body)
	}
	body = mergeText(body)

	tpl := &ir.Template{
		Body:        body,
		Frontmatter: frontmatter,
		Scope:       c.opts.Scope,
		Components:  ir.ComponentNames(body),
		OutputMode:  c.opts.OutputMode,
		Fingerprint: fingerprint,
	}
	if c.opts.OutputMode == ir.OutputModuleBody {
		tpl.Exports = exports(frontmatter)
	}
	if diags != nil {
		tpl.Diagnostics = diags.Diagnostics()
		for _, d := range tpl.Diagnostics {
			c.logger.Debug(context.Background(), "compile diagnostic", "diagnostic", d.String())
		}
	}

	if c.cache != nil {
		c.cache.Set(tpl, len(source))
	}
	return tpl, nil
}

func (c *Compiler) transforms(diags *mdxerrors.DiagnosticCollector) []transform {
	var ts []transform
	if !c.opts.Has(RehypeRaw) {
		ts = append(ts, dropRaw(diags))
	}
	for _, name := range c.opts.Rehype {
		switch name {
		case RehypeSlug:
			ts = append(ts, slugTransform)
		case RehypeHighlight:
			ts = append(ts, highlightTransform(c.opts.HighlightStyle, diags))
		case RehypeExternalLinks:
			ts = append(ts, externalLinksTransform)
		}
	}
	return ts
}

// exports lists what a module-body template makes available.
func exports(frontmatter map[string]any) []string {
	names := []string{"default"}
	if len(frontmatter) > 0 {
		names = append(names, "frontmatter")
	}
	return names
}

// FrontmatterKeys returns the sorted top-level frontmatter keys.
func FrontmatterKeys(tpl *ir.Template) []string {
	keys := make([]string, 0, len(tpl.Frontmatter))
	for k := range tpl.Frontmatter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizeMap converts YAML-decoded maps with interface keys into
// map[string]any so frontmatter can be encoded as JSON.
func normalizeMap(in map[string]interface{}) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch v := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]any, len(v))
		for k, val := range v {
			out[fmt.Sprint(k)] = normalizeValue(val)
		}
		return out
	case map[string]interface{}:
		return normalizeMap(v)
	case []interface{}:
		out := make([]any, len(v))
		for i, val := range v {
			out[i] = normalizeValue(val)
		}
		return out
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	default:
		return v
	}
}
