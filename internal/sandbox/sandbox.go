// Package sandbox executes compiled templates.
//
// Instantiate interprets an ir.Template against a component registry and
// a set of props. It never fails as a whole: a component that errors or
// panics is replaced by an error node, and the rest of the document
// renders normally.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
	"github.com/conneroisu/mdxflow/internal/ir"
	"github.com/conneroisu/mdxflow/internal/logging"
	"github.com/conneroisu/mdxflow/internal/node"
	"github.com/conneroisu/mdxflow/internal/registry"
)

// Runtime is everything a template can see while it executes.
type Runtime struct {
	Registry *registry.ComponentRegistry
	Props    node.Props
	// Scope adds names visible to expressions on top of the template's
	// compile-time scope.
	Scope map[string]any
	// Strict renders an error node for components missing from the
	// registry instead of leaving them out.
	Strict bool
	Logger logging.Logger
}

type instance struct {
	rt     Runtime
	env    map[string]any
	logger logging.Logger
}

// Instantiate executes tpl and returns its render tree.
func Instantiate(ctx context.Context, tpl *ir.Template, rt Runtime) node.Node {
	if rt.Registry == nil {
		rt.Registry = registry.Default
	}
	if rt.Props == nil {
		rt.Props = node.Props{}
	}

	in := &instance{
		rt:     rt,
		env:    environment(tpl, rt),
		logger: logging.OrNop(rt.Logger).WithComponent("sandbox"),
	}
	ctx = registry.WithRegistry(ctx, rt.Registry)
	return node.Frag(in.nodes(ctx, tpl.Body)...)
}

// environment builds the root expression scope. Later sources win:
// frontmatter keys, compile scope, runtime scope, props, then the
// reserved names props and frontmatter.
func environment(tpl *ir.Template, rt Runtime) map[string]any {
	env := make(map[string]any)
	for k, v := range tpl.Frontmatter {
		env[k] = v
	}
	for k, v := range tpl.Scope {
		env[k] = v
	}
	for k, v := range rt.Scope {
		env[k] = v
	}
	for k, v := range rt.Props {
		env[k] = v
	}
	env["props"] = map[string]any(rt.Props)
	frontmatter := tpl.Frontmatter
	if frontmatter == nil {
		frontmatter = map[string]any{}
	}
	env["frontmatter"] = frontmatter
	return env
}

func (in *instance) nodes(ctx context.Context, nodes []ir.Node) []node.Node {
	out := make([]node.Node, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, in.node(ctx, n))
	}
	return out
}

func (in *instance) node(ctx context.Context, n ir.Node) node.Node {
	switch v := n.(type) {
	case *ir.Text:
		return node.NewText(v.Value)
	case *ir.Raw:
		return &node.Raw{HTML: v.HTML}
	case *ir.Fragment:
		return node.Frag(in.nodes(ctx, v.Children)...)
	case *ir.Expression:
		return ValueNode(in.eval(v.Expr))
	case *ir.Element:
		return &node.Element{
			Tag:      v.Tag,
			Attrs:    in.attrs(v.Attrs),
			Children: in.nodes(ctx, v.Children),
		}
	case *ir.Component:
		return in.component(ctx, v)
	default:
		return node.Empty()
	}
}

func (in *instance) attrs(attrs []ir.Attr) []node.Attr {
	out := make([]node.Attr, 0, len(attrs))
	for _, a := range attrs {
		switch v := in.eval(a.Value).(type) {
		case nil:
		case bool:
			if v {
				out = append(out, node.Attr{Name: a.Name, Bare: true})
			}
		default:
			out = append(out, node.Attr{Name: a.Name, Value: Stringify(v)})
		}
	}
	return out
}

func (in *instance) component(ctx context.Context, c *ir.Component) node.Node {
	impl, ok := in.rt.Registry.Get(c.Name)
	if !ok {
		if in.rt.Strict {
			err := mdxerrors.NewRenderError(mdxerrors.ErrCodeComponentNotFound,
				"component is not registered", nil).WithComponent(c.Name)
			in.logger.Warn(ctx, err, "Unknown component", "name", c.Name, "line", c.Line)
			return &node.Error{Component: c.Name, Message: "component is not registered", Inline: c.Inline}
		}
		in.logger.Debug(ctx, "Unknown component left out", "name", c.Name, "line", c.Line)
		return node.Empty()
	}

	props := make(node.Props, len(c.Attrs))
	for _, a := range c.Attrs {
		props[a.Name] = in.eval(a.Value)
	}
	children := in.nodes(ctx, c.Children)

	out := Invoke(ctx, c.Name, impl, props, children, in.logger)
	if e, ok := out.(*node.Error); ok {
		e.Inline = c.Inline
	}
	return out
}

// Invoke renders one component, converting errors and panics into an
// error node.
func Invoke(ctx context.Context, name string, c registry.Component, props node.Props, children []node.Node, logger logging.Logger) (out node.Node) {
	logger = logging.OrNop(logger)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			logger.Error(ctx, err, "Component panicked", "name", name)
			out = &node.Error{Component: name, Message: err.Error()}
		}
	}()

	rendered, err := c.Render(ctx, props, children)
	if err != nil {
		logger.Warn(ctx, err, "Component failed", "name", name)
		return node.NewError(name, err)
	}
	if rendered == nil {
		rendered = node.Empty()
	}
	return &node.Component{Name: name, Props: props, Output: rendered}
}

func (in *instance) eval(e ir.Expr) any {
	switch v := e.(type) {
	case *ir.Literal:
		return v.Value
	case *ir.Ref:
		return Resolve(in.env, v.Path)
	default:
		return nil
	}
}

// Resolve walks path through nested maps and slices. Missing segments
// yield nil.
func Resolve(root map[string]any, path []string) any {
	var cur any = root
	for _, seg := range path {
		switch v := cur.(type) {
		case map[string]any:
			cur = v[seg]
		case node.Props:
			cur = v[seg]
		case map[interface{}]interface{}:
			cur = v[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			cur = v[i]
		case []string:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			cur = v[i]
		case []node.Node:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil
			}
			cur = v[i]
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}

// ValueNode converts an expression result into a render node.
func ValueNode(v any) node.Node {
	switch v := v.(type) {
	case nil, bool:
		return node.Empty()
	case node.Node:
		return v
	case []node.Node:
		return node.Frag(v...)
	default:
		return node.NewText(Stringify(v))
	}
}

// Stringify formats a value the way it appears in text and attributes.
func Stringify(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}
