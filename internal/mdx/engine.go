// Package mdx is the render entry point. It compiles a source, executes
// it against a component registry, and wraps the result in the root
// container the hydrator looks for.
package mdx

import (
	"context"
	"io"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/conneroisu/mdxflow/internal/compiler"
	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
	"github.com/conneroisu/mdxflow/internal/hydration"
	"github.com/conneroisu/mdxflow/internal/ir"
	"github.com/conneroisu/mdxflow/internal/logging"
	"github.com/conneroisu/mdxflow/internal/node"
	"github.com/conneroisu/mdxflow/internal/registry"
	"github.com/conneroisu/mdxflow/internal/sandbox"
	"github.com/conneroisu/mdxflow/internal/stream"
	"github.com/conneroisu/mdxflow/internal/tracing"
)

// Root container markup.
const (
	RootID       = "mdx-root"
	AttrMDX      = "data-mdx"
	AttrHydrate  = "data-hydrate"
	AttrHydrated = "data-hydrated"
	AttrSource   = "data-source"
	AttrState    = "data-state"
	AttrError    = "data-error"
	RootClass    = "prose"
)

// DefaultFallback is shown while a deferred source is resolved.
func DefaultFallback() node.Node {
	return node.El("div", []node.Attr{node.A("class", "loading")}, node.NewText("Loading MDX content..."))
}

// Source is MDX text that is either known up front or produced later.
type Source struct {
	text     string
	deferred compiler.SourceFunc
}

// Text returns a source holding s.
func Text(s string) Source {
	return Source{text: s}
}

// Deferred returns a source produced by fn when rendering starts. The
// text never reaches the persisted markup.
func Deferred(fn compiler.SourceFunc) Source {
	return Source{deferred: fn}
}

// IsDeferred reports whether the source is produced later.
func (s Source) IsDeferred() bool {
	return s.deferred != nil
}

// String returns the source text, or empty for deferred sources.
func (s Source) String() string {
	return s.text
}

// Request is one render call.
type Request struct {
	Source Source
	// Components are visible to this render only, on top of the engine
	// registry.
	Components map[string]registry.Component
	Props      node.Props
	Hydrate    bool
	// Fallback replaces DefaultFallback while a deferred source resolves.
	Fallback node.Node
}

// Engine renders MDX requests.
type Engine struct {
	compiler *compiler.Compiler
	registry *registry.ComponentRegistry
	stream   *stream.Renderer
	logger   logging.Logger
	strict   bool
}

// Option configures an Engine.
type Option func(*engineConfig)

type engineConfig struct {
	registry      *registry.ComponentRegistry
	logger        logging.Logger
	cache         *compiler.Cache
	streamOptions stream.Options
	strict        bool
}

// WithRegistry sets the registry components are resolved from. The
// default is registry.Default.
func WithRegistry(r *registry.ComponentRegistry) Option {
	return func(c *engineConfig) { c.registry = r }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *engineConfig) { c.logger = l }
}

// WithCache memoizes compiled templates.
func WithCache(cache *compiler.Cache) Option {
	return func(c *engineConfig) { c.cache = cache }
}

// WithStreamOptions configures streaming.
func WithStreamOptions(opts stream.Options) Option {
	return func(c *engineConfig) { c.streamOptions = opts }
}

// WithStrict renders error markup for unregistered components.
func WithStrict(strict bool) Option {
	return func(c *engineConfig) { c.strict = strict }
}

// New creates an Engine compiling with opts.
func New(opts compiler.Options, options ...Option) (*Engine, error) {
	cfg := &engineConfig{registry: registry.Default}
	for _, o := range options {
		o(cfg)
	}
	logger := logging.OrNop(cfg.logger)

	compilerOptions := []compiler.Option{compiler.WithLogger(logger)}
	if cfg.cache != nil {
		compilerOptions = append(compilerOptions, compiler.WithCache(cfg.cache))
	}
	c, err := compiler.New(opts, compilerOptions...)
	if err != nil {
		return nil, err
	}

	if cfg.streamOptions.Logger == nil {
		cfg.streamOptions.Logger = logger
	}
	return &Engine{
		compiler: c,
		registry: cfg.registry,
		stream:   stream.New(cfg.streamOptions),
		logger:   logger.WithComponent("mdx"),
		strict:   cfg.strict,
	}, nil
}

// Registry returns the engine registry.
func (e *Engine) Registry() *registry.ComponentRegistry {
	return e.registry
}

// Compiler returns the engine compiler.
func (e *Engine) Compiler() *compiler.Compiler {
	return e.compiler
}

// Tree builds the root container for req. The body of a deferred source
// is a suspense boundary. Only compilation of a plain source can fail.
func (e *Engine) Tree(ctx context.Context, req Request) (node.Node, error) {
	if req.Source.IsDeferred() {
		reg, props := e.scope(req)
		fallback := req.Fallback
		if fallback == nil {
			fallback = DefaultFallback()
		}
		body := node.Suspense(ctx, fallback, func(ctx context.Context) (node.Node, error) {
			tpl, err := e.compile(ctx, req.Source)
			if err != nil {
				return nil, err
			}
			return e.instantiate(ctx, tpl, reg, props), nil
		})
		return e.root(req, props, req.Components, body), nil
	}

	tpl, err := e.compile(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	return e.build(ctx, req, tpl), nil
}

// Render returns the complete markup for req, waiting for every pending
// part. Failures produce an error-marked root instead of an error.
func (e *Engine) Render(ctx context.Context, req Request) string {
	perf := logging.StartOperation(e.logger, "render")

	// Non-streaming callers wait for a deferred source up front, so its
	// failure is reported like any other compilation failure.
	tpl, err := e.compile(ctx, req.Source)
	if err != nil {
		perf.EndWithError(ctx, err)
		return node.String(ErrorRoot(err))
	}

	out, err := e.stream.RenderToString(ctx, e.build(ctx, req, tpl))
	if err != nil {
		perf.EndWithError(ctx, err)
		return node.String(ErrorRoot(err))
	}
	perf.End(ctx)
	return out
}

func (e *Engine) scope(req Request) (*registry.ComponentRegistry, node.Props) {
	reg := e.registry
	if len(req.Components) > 0 {
		reg = reg.Overlay(req.Components)
	}
	return reg, req.Props.Clone()
}

func (e *Engine) build(ctx context.Context, req Request, tpl *ir.Template) node.Node {
	reg, props := e.scope(req)
	body := e.instantiate(ctx, tpl, reg, props)
	return e.root(req, props, e.referenced(tpl, reg, req.Components), body)
}

// Stream writes req to w chunk by chunk. Compilation failures are written
// as an error-marked root; only transport failures and ctx cancellation
// are returned.
func (e *Engine) Stream(ctx context.Context, w io.Writer, req Request) (err error) {
	ctx, span := tracing.Start(ctx, "mdx.stream",
		attribute.Bool("mdx.deferred", req.Source.IsDeferred()),
		attribute.Bool("mdx.hydrate", req.Hydrate))
	defer func() { tracing.End(span, err) }()

	tree, terr := e.Tree(ctx, req)
	if terr != nil {
		_, err = io.WriteString(w, node.String(ErrorRoot(terr)))
		return err
	}
	return e.stream.WriteTo(ctx, w, tree)
}

// Chunks streams req through emit.
func (e *Engine) Chunks(ctx context.Context, req Request, emit func(stream.Chunk) error) error {
	tree, err := e.Tree(ctx, req)
	if err != nil {
		return emit(stream.Chunk{State: stream.StateFailed, HTML: []byte(node.String(ErrorRoot(err)))})
	}
	return e.stream.Stream(ctx, tree, emit)
}

func (e *Engine) compile(ctx context.Context, src Source) (tpl *ir.Template, err error) {
	_, span := tracing.Start(ctx, "mdx.compile",
		attribute.Int("mdx.source.bytes", len(src.text)),
		attribute.Bool("mdx.deferred", src.IsDeferred()))
	defer func() { tracing.End(span, err) }()

	if src.IsDeferred() {
		tpl, err = e.compiler.CompileDeferred(ctx, src.deferred)
	} else {
		tpl, err = e.compiler.Compile(src.text)
	}
	if err != nil {
		if mdxerrors.IsRecoverable(err) {
			e.logger.Warn(ctx, err, "Compilation failed")
		} else {
			e.logger.Error(ctx, err, "Compilation failed")
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("mdx.fingerprint", tpl.Fingerprint))
	return tpl, nil
}

func (e *Engine) instantiate(ctx context.Context, tpl *ir.Template, reg *registry.ComponentRegistry, props node.Props) node.Node {
	ctx, span := tracing.Start(ctx, "mdx.instantiate",
		attribute.Int("mdx.components", len(tpl.Components)))
	defer span.End()

	// Components the registry only knows through its loader are
	// registered before execution.
	for _, name := range tpl.Components {
		if _, err := reg.Resolve(ctx, name); err != nil {
			e.logger.Debug(ctx, "Component unavailable", "name", name, "error", err.Error())
		}
	}

	return sandbox.Instantiate(ctx, tpl, sandbox.Runtime{
		Registry: reg,
		Props:    props,
		Strict:   e.strict,
		Logger:   e.logger,
	})
}

// referenced returns the request components plus every component the
// template uses that reg can provide.
func (e *Engine) referenced(tpl *ir.Template, reg *registry.ComponentRegistry, extra map[string]registry.Component) map[string]registry.Component {
	out := make(map[string]registry.Component, len(extra)+len(tpl.Components))
	for name, c := range extra {
		out[name] = c
	}
	for _, name := range tpl.Components {
		if c, ok := reg.Get(name); ok {
			out[name] = c
		}
	}
	return out
}

func (e *Engine) root(req Request, props node.Props, components map[string]registry.Component, body node.Node) *node.Element {
	attrs := []node.Attr{
		node.A("id", RootID),
		node.A(AttrMDX, "true"),
		node.A(AttrHydrate, strconv.FormatBool(req.Hydrate)),
	}
	if !req.Source.IsDeferred() {
		attrs = append(attrs, node.A(AttrSource, req.Source.text))
	}
	if req.Hydrate {
		stateProps := props.Clone()
		if !req.Source.IsDeferred() {
			stateProps[hydration.SourceProp] = req.Source.text
		}
		attrs = append(attrs, node.A(AttrState, hydration.Serialize(stateProps, components)))
	}
	attrs = append(attrs, node.A("class", RootClass))
	return node.El("div", attrs, body)
}

// ErrorRoot is the root container shown when a document cannot render.
func ErrorRoot(err error) *node.Element {
	return node.El("div", []node.Attr{
		node.A("id", RootID),
		node.A(AttrMDX, "true"),
		node.A(AttrError, "true"),
		node.A("class", RootClass+" error"),
	}, node.El("div", []node.Attr{
		node.A("class", "mdx-error"),
		node.A("data-mdx-error", "true"),
		node.A("role", "alert"),
	}, node.NewText("Error rendering MDX: "+err.Error())))
}

// Render renders req with a default engine over registry.Default.
func Render(ctx context.Context, req Request) string {
	e, err := New(compiler.DefaultOptions())
	if err != nil {
		return node.String(ErrorRoot(err))
	}
	return e.Render(ctx, req)
}
