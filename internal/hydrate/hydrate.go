// Package hydrate re-runs the render pipeline against server markup.
//
// The hydrator works on a parsed document. It finds the MDX root, loads
// the components named in its hydration state, renders the source again
// and replaces the root content. Any failure leaves the document as it
// was and reports false.
package hydrate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/mdxflow/internal/compiler"
	"github.com/conneroisu/mdxflow/internal/hydration"
	"github.com/conneroisu/mdxflow/internal/logging"
	"github.com/conneroisu/mdxflow/internal/mdx"
	"github.com/conneroisu/mdxflow/internal/node"
	"github.com/conneroisu/mdxflow/internal/registry"
	"github.com/conneroisu/mdxflow/internal/sandbox"
	"github.com/conneroisu/mdxflow/internal/stream"
)

// Hydrator hydrates MDX roots.
type Hydrator struct {
	registry *registry.ComponentRegistry
	compiler *compiler.Compiler
	stream   *stream.Renderer
	logger   logging.Logger
}

// New creates a Hydrator resolving components from reg and compiling
// with opts. A nil reg uses registry.Default.
func New(reg *registry.ComponentRegistry, opts compiler.Options, logger logging.Logger) (*Hydrator, error) {
	if reg == nil {
		reg = registry.Default
	}
	logger = logging.OrNop(logger).WithComponent("hydrate")
	c, err := compiler.New(opts, compiler.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &Hydrator{
		registry: reg,
		compiler: c,
		stream:   stream.New(stream.Options{Logger: logger}),
		logger:   logger,
	}, nil
}

// Hydrate hydrates the root with id rootID, or mdx.RootID when empty. It
// reports whether hydration happened.
func (h *Hydrator) Hydrate(ctx context.Context, doc *html.Node, rootID string) (hydrated bool) {
	if rootID == "" {
		rootID = mdx.RootID
	}

	root := FindByID(doc, rootID)
	if root == nil || attr(root, mdx.AttrMDX) != "true" {
		h.logger.Debug(ctx, "No MDX root", "id", rootID)
		return false
	}
	if attr(root, mdx.AttrHydrate) != "true" {
		h.logger.Debug(ctx, "Hydration not enabled", "id", rootID)
		return false
	}
	state := hydration.Deserialize(attr(root, mdx.AttrState))
	source, ok := lookupAttr(root, mdx.AttrSource)
	if !ok {
		source = state.Source
	}
	if strings.TrimSpace(source) == "" {
		h.logger.Debug(ctx, "No source to hydrate", "id", rootID)
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn(ctx, fmt.Errorf("panic: %v", r), "Hydration failed", "id", rootID)
			hydrated = false
		}
	}()

	content, err := h.render(ctx, source, state)
	if err != nil {
		h.logger.Warn(ctx, err, "Hydration failed", "id", rootID)
		return false
	}

	if renderChildren(root) != renderNodes(content) {
		for c := root.FirstChild; c != nil; {
			next := c.NextSibling
			root.RemoveChild(c)
			c = next
		}
		for _, n := range content {
			root.AppendChild(n)
		}
	} else {
		h.logger.Debug(ctx, "Server markup already current", "id", rootID)
	}

	setAttr(root, mdx.AttrHydrate, "false")
	setAttr(root, mdx.AttrHydrated, "true")
	h.logger.Info(ctx, "Hydrated", "id", rootID, "components", len(state.Components))
	return true
}

// render compiles and executes source and parses the result in the
// context of a div.
func (h *Hydrator) render(ctx context.Context, source string, state hydration.State) ([]*html.Node, error) {
	for _, name := range state.ComponentNames() {
		if _, err := h.registry.Resolve(ctx, name); err != nil {
			h.logger.Warn(ctx, err, "Component unavailable, hydrating without it", "name", name)
		}
	}

	tpl, err := h.compiler.Compile(source)
	if err != nil {
		return nil, err
	}

	tree := sandbox.Instantiate(ctx, tpl, sandbox.Runtime{
		Registry: h.registry,
		Props:    node.Props(state.Props),
		Logger:   h.logger,
	})
	out, err := h.stream.RenderToString(ctx, tree)
	if err != nil {
		return nil, err
	}

	return html.ParseFragment(strings.NewReader(out), &html.Node{
		Type:     html.ElementNode,
		Data:     "div",
		DataAtom: atom.Div,
	})
}

// Process parses a page from r, grafts any streamed chunks, hydrates the
// root and writes the document to w.
func (h *Hydrator) Process(ctx context.Context, r io.Reader, w io.Writer, rootID string) (bool, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return false, err
	}
	if _, err := ApplyStreamed(doc); err != nil {
		return false, err
	}
	hydrated := h.Hydrate(ctx, doc, rootID)
	return hydrated, html.Render(w, doc)
}

// FindByID returns the first element under n with the given id.
func FindByID(n *html.Node, id string) *html.Node {
	return find(n, func(c *html.Node) bool {
		return c.Type == html.ElementNode && attr(c, "id") == id
	})
}

func find(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n == nil {
		return nil
	}
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, match); found != nil {
			return found
		}
	}
	return nil
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func renderNodes(nodes []*html.Node) string {
	var buf bytes.Buffer
	for _, n := range nodes {
		_ = html.Render(&buf, n)
	}
	return buf.String()
}

func renderChildren(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		_ = html.Render(&buf, c)
	}
	return buf.String()
}
