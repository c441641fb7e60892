// Package node defines the render tree produced by executing a template.
//
// A render tree is made of plain values plus Pending nodes: placeholders
// for content that is still being computed. Pending nodes carry a fallback
// that can be rendered immediately and a Deferred handle that settles to
// the final subtree.
package node

import (
	"fmt"
	"strconv"
)

// Kind identifies the concrete type of a Node.
type Kind int

const (
	KindText Kind = iota
	KindRaw
	KindElement
	KindFragment
	KindComponent
	KindPending
	KindError
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
	case KindFragment:
		return "fragment"
	case KindComponent:
		return "component"
	case KindPending:
		return "pending"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Node is one node of a render tree.
type Node interface {
	Kind() Kind
	renderNode()
}

// Props are the named inputs of a component.
type Props map[string]any

// String returns the prop as a string, or def when it is absent or not a
// string.
func (p Props) String(name, def string) string {
	if v, ok := p[name].(string); ok {
		return v
	}
	return def
}

// Int returns the prop as an int. Numbers decoded from JSON arrive as
// float64 and are truncated; numeric strings are parsed.
func (p Props) Int(name string, def int) int {
	switch v := p[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		return def
	default:
		return def
	}
}

// Bool returns the prop as a bool.
func (p Props) Bool(name string, def bool) bool {
	if v, ok := p[name].(bool); ok {
		return v
	}
	return def
}

// Clone returns a shallow copy of p.
func (p Props) Clone() Props {
	out := make(Props, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Text is character data. It is escaped when serialized.
type Text struct {
	Value string
}

// Raw is markup written verbatim.
type Raw struct {
	HTML string
}

// Attr is a serialized attribute. Bare attributes render without a value.
type Attr struct {
	Name  string
	Value string
	Bare  bool
}

// Element is an HTML element.
type Element struct {
	Tag      string
	Attrs    []Attr
	Children []Node
}

// Fragment groups children without a wrapper.
type Fragment struct {
	Children []Node
}

// Component records that Output was produced by the named component.
type Component struct {
	Name   string
	Props  Props
	Output Node
}

// Pending is a suspense boundary. Fallback must not itself contain
// Pending nodes.
type Pending struct {
	Handle   *Deferred
	Fallback Node
}

// Error is the error-marked output that replaces a failed component.
// Inline errors sit in phrasing content and render as a span.
type Error struct {
	Component string
	Message   string
	Inline    bool
}

func (*Text) Kind() Kind      { return KindText }
func (*Raw) Kind() Kind       { return KindRaw }
func (*Element) Kind() Kind   { return KindElement }
func (*Fragment) Kind() Kind  { return KindFragment }
func (*Component) Kind() Kind { return KindComponent }
func (*Pending) Kind() Kind   { return KindPending }
func (*Error) Kind() Kind     { return KindError }

func (*Text) renderNode()      {}
func (*Raw) renderNode()       {}
func (*Element) renderNode()   {}
func (*Fragment) renderNode()  {}
func (*Component) renderNode() {}
func (*Pending) renderNode()   {}
func (*Error) renderNode()     {}

// NewText returns a text node.
func NewText(value string) *Text {
	return &Text{Value: value}
}

// Textf returns a formatted text node.
func Textf(format string, args ...any) *Text {
	return &Text{Value: fmt.Sprintf(format, args...)}
}

// El builds an element from a tag, attributes and children.
func El(tag string, attrs []Attr, children ...Node) *Element {
	return &Element{Tag: tag, Attrs: attrs, Children: children}
}

// A is shorthand for a valued attribute.
func A(name, value string) Attr {
	return Attr{Name: name, Value: value}
}

// Frag returns a fragment of children.
func Frag(children ...Node) *Fragment {
	return &Fragment{Children: children}
}

// Empty returns an empty fragment.
func Empty() *Fragment {
	return &Fragment{}
}

// NewError returns the error node for a failed component.
func NewError(component string, err error) *Error {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return &Error{Component: component, Message: msg}
}

// Attr returns the value of the named attribute.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// SetAttr replaces or appends an attribute.
func (e *Element) SetAttr(name, value string) {
	for i, a := range e.Attrs {
		if a.Name == name {
			e.Attrs[i] = Attr{Name: name, Value: value}
			return
		}
	}
	e.Attrs = append(e.Attrs, Attr{Name: name, Value: value})
}

// HasPending reports whether any Pending node is reachable from n.
func HasPending(n Node) bool {
	found := false
	Walk(n, func(n Node) bool {
		if _, ok := n.(*Pending); ok {
			found = true
		}
		return !found
	})
	return found
}

// Walk visits n and its descendants depth first. The fallback of a
// Pending node is visited; its eventual result is not.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch v := n.(type) {
	case *Element:
		for _, c := range v.Children {
			Walk(c, fn)
		}
	case *Fragment:
		for _, c := range v.Children {
			Walk(c, fn)
		}
	case *Component:
		Walk(v.Output, fn)
	case *Pending:
		Walk(v.Fallback, fn)
	case *Text, *Raw, *Error:
	}
}

// settle replaces every Pending below n with its fallback. It keeps
// fallbacks renderable without waiting.
func settle(n Node) Node {
	switch v := n.(type) {
	case nil:
		return Empty()
	case *Pending:
		return settle(v.Fallback)
	case *Element:
		children := make([]Node, len(v.Children))
		for i, c := range v.Children {
			children[i] = settle(c)
		}
		return &Element{Tag: v.Tag, Attrs: v.Attrs, Children: children}
	case *Fragment:
		children := make([]Node, len(v.Children))
		for i, c := range v.Children {
			children[i] = settle(c)
		}
		return &Fragment{Children: children}
	case *Component:
		return &Component{Name: v.Name, Props: v.Props, Output: settle(v.Output)}
	default:
		return n
	}
}
