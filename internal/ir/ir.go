// Package ir defines the compiled form of an MDX document.
//
// The compiler produces a Template: an inspectable tree of Nodes rather
// than generated source text. The execution sandbox interprets this tree
// against a component registry. Every Node kind is a concrete type and
// consumers switch over them exhaustively.
package ir

import (
	"sort"
	"strings"

	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
)

// OutputMode controls what a Template exposes besides its body.
type OutputMode string

const (
	// OutputImmediate yields only the document body.
	OutputImmediate OutputMode = "immediately-invoked"
	// OutputModuleBody also records the names the document exports.
	OutputModuleBody OutputMode = "module-body"
)

// Kind identifies the concrete type of a Node.
type Kind int

const (
	KindText Kind = iota
	KindRaw
	KindElement
	KindComponent
	KindExpression
	KindFragment
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindRaw:
		return "raw"
	case KindElement:
		return "element"
	case KindComponent:
		return "component"
	case KindExpression:
		return "expression"
	case KindFragment:
		return "fragment"
	default:
		return "unknown"
	}
}

// Node is one node of a compiled template. The interface is sealed.
type Node interface {
	Kind() Kind
	irNode()
}

// Text is literal character data. It is escaped when rendered.
type Text struct {
	Value string
}

// Raw is trusted markup emitted by the compiler itself (for example
// highlighted code) or raw HTML kept by the "raw" extension.
type Raw struct {
	HTML string
	// Unsafe marks markup that came from the author rather than the compiler.
	Unsafe bool
	Line   int
}

// Element is a plain HTML element.
type Element struct {
	Tag      string
	Attrs    []Attr
	Children []Node
}

// Component is a reference to a registry entry by name.
type Component struct {
	Name     string
	Attrs    []Attr
	Children []Node
	Inline   bool
	Line     int
}

// Expression is a {…} placeholder evaluated at execution time.
type Expression struct {
	Expr Expr
	Line int
}

// Fragment groups nodes without a wrapping element.
type Fragment struct {
	Children []Node
}

func (*Text) Kind() Kind       { return KindText }
func (*Raw) Kind() Kind        { return KindRaw }
func (*Element) Kind() Kind    { return KindElement }
func (*Component) Kind() Kind  { return KindComponent }
func (*Expression) Kind() Kind { return KindExpression }
func (*Fragment) Kind() Kind   { return KindFragment }

func (*Text) irNode()       {}
func (*Raw) irNode()        {}
func (*Element) irNode()    {}
func (*Component) irNode()  {}
func (*Expression) irNode() {}
func (*Fragment) irNode()   {}

// Attr is a named attribute whose value is an expression.
type Attr struct {
	Name  string
	Value Expr
}

// Attr returns the attribute with the given name.
func (e *Element) Attr(name string) (Attr, bool) {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a, true
		}
	}
	return Attr{}, false
}

// SetAttr replaces or appends a literal attribute.
func (e *Element) SetAttr(name string, value any) {
	for i, a := range e.Attrs {
		if a.Name == name {
			e.Attrs[i].Value = &Literal{Value: value}
			return
		}
	}
	e.Attrs = append(e.Attrs, Attr{Name: name, Value: &Literal{Value: value}})
}

// Expr is the value side of an attribute or an expression node.
type Expr interface {
	exprNode()
	String() string
}

// Literal is a constant value: string, float64, bool, nil, []any or
// map[string]any.
type Literal struct {
	Value any
}

// Ref is a dotted reference such as props.title or items[0].
type Ref struct {
	Path []string
}

func (*Literal) exprNode() {}
func (*Ref) exprNode()     {}

// String returns a debug form of the literal.
func (l *Literal) String() string {
	if s, ok := l.Value.(string); ok {
		return `"` + s + `"`
	}
	return "literal"
}

// String returns the dotted path.
func (r *Ref) String() string {
	return strings.Join(r.Path, ".")
}

// Template is the compiled form of one source document.
type Template struct {
	Body        []Node
	Frontmatter map[string]any
	// Scope holds compile-time values visible to expressions.
	Scope       map[string]any
	Exports     []string
	Components  []string
	Diagnostics []mdxerrors.Diagnostic
	OutputMode  OutputMode
	Fingerprint string
}

// Walk visits nodes depth first in document order. Returning false from
// fn skips the children of that node.
func Walk(nodes []Node, fn func(Node) bool) {
	for _, n := range nodes {
		if !fn(n) {
			continue
		}
		switch v := n.(type) {
		case *Element:
			Walk(v.Children, fn)
		case *Component:
			Walk(v.Children, fn)
		case *Fragment:
			Walk(v.Children, fn)
		case *Text, *Raw, *Expression:
		}
	}
}

// ComponentNames returns the sorted, de-duplicated component names
// referenced by nodes.
func ComponentNames(nodes []Node) []string {
	seen := make(map[string]struct{})
	Walk(nodes, func(n Node) bool {
		if c, ok := n.(*Component); ok {
			seen[c.Name] = struct{}{}
		}
		return true
	})

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TextContent concatenates the literal text below nodes.
func TextContent(nodes []Node) string {
	var b strings.Builder
	Walk(nodes, func(n Node) bool {
		if t, ok := n.(*Text); ok {
			b.WriteString(t.Value)
		}
		return true
	})
	return b.String()
}
