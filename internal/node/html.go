package node

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// voidElements never have children or a closing tag.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// PendingFunc writes the markup for a Pending node. It may register the
// boundary for later resolution.
type PendingFunc func(w io.Writer, p *Pending) error

// WriteFallback is the PendingFunc that writes only the fallback.
func WriteFallback(w io.Writer, p *Pending) error {
	return WriteHTML(w, p.Fallback, WriteFallback)
}

// WriteHTML serializes n to w. Pending nodes are delegated to pending; a
// nil pending writes fallbacks.
func WriteHTML(w io.Writer, n Node, pending PendingFunc) error {
	if pending == nil {
		pending = WriteFallback
	}
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	s := &serializer{w: bw, pending: pending}
	if err := s.write(n); err != nil {
		return err
	}
	return bw.Flush()
}

// String serializes n with fallbacks in place of pending content.
func String(n Node) string {
	var buf bytes.Buffer
	_ = WriteHTML(&buf, n, nil)
	return buf.String()
}

type serializer struct {
	w       *bufio.Writer
	pending PendingFunc
}

func (s *serializer) write(n Node) error {
	switch v := n.(type) {
	case nil:
		return nil
	case *Text:
		_, err := s.w.WriteString(html.EscapeString(v.Value))
		return err
	case *Raw:
		_, err := s.w.WriteString(v.HTML)
		return err
	case *Fragment:
		return s.children(v.Children)
	case *Component:
		return s.write(v.Output)
	case *Error:
		_, err := s.w.WriteString(errorHTML(v.tag(), v.Component, v.Message))
		return err
	case *Pending:
		if err := s.w.Flush(); err != nil {
			return err
		}
		return s.pending(s.w, v)
	case *Element:
		return s.element(v)
	default:
		return nil
	}
}

func (s *serializer) element(e *Element) error {
	tag := strings.ToLower(e.Tag)
	s.w.WriteByte('<')
	s.w.WriteString(tag)
	for _, a := range e.Attrs {
		s.w.WriteByte(' ')
		s.w.WriteString(a.Name)
		if a.Bare {
			continue
		}
		s.w.WriteString(`="`)
		s.w.WriteString(html.EscapeString(a.Value))
		s.w.WriteByte('"')
	}
	s.w.WriteByte('>')
	if voidElements[tag] {
		return nil
	}
	if err := s.children(e.Children); err != nil {
		return err
	}
	s.w.WriteString("</")
	s.w.WriteString(tag)
	_, err := s.w.WriteString(">")
	return err
}

func (s *serializer) children(children []Node) error {
	for _, c := range children {
		if err := s.write(c); err != nil {
			return err
		}
	}
	return nil
}

// ErrorHTML is the error-marked markup shown in place of failed content.
func ErrorHTML(component, message string) string {
	return errorHTML("div", component, message)
}

func (e *Error) tag() string {
	if e.Inline {
		return "span"
	}
	return "div"
}

func errorHTML(tag, component, message string) string {
	var b strings.Builder
	b.WriteByte('<')
	b.WriteString(tag)
	b.WriteString(` class="mdx-error" data-mdx-error="true"`)
	if component != "" {
		b.WriteString(` data-component="`)
		b.WriteString(html.EscapeString(component))
		b.WriteByte('"')
	}
	b.WriteString(` role="alert">`)
	if component != "" {
		b.WriteString("Error rendering ")
		b.WriteString(html.EscapeString(component))
		b.WriteString(": ")
	} else {
		b.WriteString("Error: ")
	}
	b.WriteString(html.EscapeString(message))
	b.WriteString("</")
	b.WriteString(tag)
	b.WriteByte('>')
	return b.String()
}
