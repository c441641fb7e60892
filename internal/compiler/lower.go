package compiler

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/yuin/goldmark/ast"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"

	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
	"github.com/conneroisu/mdxflow/internal/ir"
)

// lowerer converts a goldmark document into template nodes. It stops at
// the first error.
type lowerer struct {
	source []byte
	diags  *mdxerrors.DiagnosticCollector
	err    *mdxerrors.MDXError
}

func (l *lowerer) fail(offset int, code, msg string) {
	if l.err != nil {
		return
	}
	line, col := position(l.source, offset)
	l.err = mdxerrors.NewCompilationError(code, msg, string(l.source)).WithLocation(line, col)
}

// position converts a byte offset into a 1-based line and column.
func position(source []byte, offset int) (int, int) {
	if offset > len(source) {
		offset = len(source)
	}
	if offset < 0 {
		offset = 0
	}
	prefix := source[:offset]
	line := bytes.Count(prefix, []byte{'\n'}) + 1
	col := offset - bytes.LastIndexByte(prefix, '\n')
	return line, col
}

type frame struct {
	tag      *JSXTag
	children []ir.Node
}

// children lowers the children of parent, pairing inline opening and
// closing component tags found among them.
func (l *lowerer) children(parent ast.Node) []ir.Node {
	stack := []*frame{{}}
	for c := parent.FirstChild(); c != nil; c = c.NextSibling() {
		top := stack[len(stack)-1]

		tag, ok := c.(*JSXTag)
		if !ok {
			top.children = append(top.children, l.node(c)...)
			continue
		}

		switch {
		case tag.Tag.SelfClosing:
			top.children = append(top.children, l.component(tag.Tag, tag.Offset, nil, true))
		case !tag.Tag.Closing:
			stack = append(stack, &frame{tag: tag})
		default:
			if top.tag == nil {
				l.fail(tag.Offset, mdxerrors.ErrCodeSyntax, fmt.Sprintf("unexpected closing tag </%s>", tag.Tag.Name))
				return nil
			}
			if top.tag.Tag.Name != tag.Tag.Name {
				l.fail(tag.Offset, mdxerrors.ErrCodeSyntax,
					fmt.Sprintf("expected closing tag </%s>, found </%s>", top.tag.Tag.Name, tag.Tag.Name))
				return nil
			}
			stack = stack[:len(stack)-1]
			parentFrame := stack[len(stack)-1]
			parentFrame.children = append(parentFrame.children,
				l.component(top.tag.Tag, top.tag.Offset, top.children, true))
		}
	}

	if len(stack) > 1 {
		open := stack[len(stack)-1].tag
		l.fail(open.Offset, mdxerrors.ErrCodeSyntax, fmt.Sprintf("unclosed tag <%s>", open.Tag.Name))
		return nil
	}
	return stack[0].children
}

func (l *lowerer) component(tag *jsxTag, offset int, children []ir.Node, inline bool) ir.Node {
	line, _ := position(l.source, offset)
	c := &ir.Component{Name: tag.Name, Children: children, Inline: inline, Line: line}
	for _, a := range tag.Attrs {
		attr := ir.Attr{Name: a.Name}
		switch a.Kind {
		case 0:
			attr.Value = &ir.Literal{Value: true}
		case '"':
			attr.Value = &ir.Literal{Value: a.Value}
		default:
			expr, err := ParseExpr(a.Value)
			if err != nil {
				l.fail(offset, mdxerrors.ErrCodeDisallowed, fmt.Sprintf("<%s %s>: %v", tag.Name, a.Name, err))
				return c
			}
			if expr == nil {
				l.fail(offset, mdxerrors.ErrCodeSyntax, fmt.Sprintf("<%s %s>: empty attribute expression", tag.Name, a.Name))
				return c
			}
			attr.Value = expr
		}
		c.Attrs = append(c.Attrs, attr)
	}
	return c
}

func el(tag string, children []ir.Node, attrs ...ir.Attr) *ir.Element {
	return &ir.Element{Tag: tag, Attrs: attrs, Children: children}
}

func lit(name string, value any) ir.Attr {
	return ir.Attr{Name: name, Value: &ir.Literal{Value: value}}
}

func textNode(value string) *ir.Text {
	return &ir.Text{Value: value}
}

func one(n ir.Node) []ir.Node {
	return []ir.Node{n}
}

func (l *lowerer) node(n ast.Node) []ir.Node {
	if l.err != nil {
		return nil
	}

	switch n := n.(type) {
	case *ast.Document:
		return l.children(n)
	case *ast.Paragraph:
		children := l.children(n)
		// A paragraph holding only an expression is a flow expression.
		if len(children) == 1 && children[0].Kind() == ir.KindExpression {
			return children
		}
		return one(el("p", children))
	case *ast.TextBlock:
		return l.children(n)
	case *ast.Heading:
		return one(el("h"+strconv.Itoa(n.Level), l.children(n)))
	case *ast.ThematicBreak:
		return one(el("hr", nil))
	case *ast.CodeBlock:
		return one(l.codeBlock(n, ""))
	case *ast.FencedCodeBlock:
		return one(l.codeBlock(n, string(n.Language(l.source))))
	case *ast.Blockquote:
		return one(el("blockquote", l.children(n)))
	case *ast.List:
		if n.IsOrdered() {
			list := el("ol", l.children(n))
			if n.Start != 1 {
				list.Attrs = append(list.Attrs, lit("start", strconv.Itoa(n.Start)))
			}
			return one(list)
		}
		return one(el("ul", l.children(n)))
	case *ast.ListItem:
		return one(el("li", l.children(n)))
	case *ast.HTMLBlock:
		var buf bytes.Buffer
		l.writeLines(&buf, n)
		if n.HasClosure() {
			buf.Write(n.ClosureLine.Value(l.source))
		}
		line, _ := position(l.source, firstOffset(n))
		return one(&ir.Raw{HTML: buf.String(), Unsafe: true, Line: line})
	case *ast.Text:
		return l.text(n)
	case *ast.String:
		return one(textNode(string(n.Value)))
	case *ast.CodeSpan:
		var buf bytes.Buffer
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t, ok := c.(*ast.Text); ok {
				buf.Write(t.Segment.Value(l.source))
			} else if s, ok := c.(*ast.String); ok {
				buf.Write(s.Value)
			}
		}
		return one(el("code", one(textNode(buf.String()))))
	case *ast.Emphasis:
		tag := "em"
		if n.Level == 2 {
			tag = "strong"
		}
		return one(el(tag, l.children(n)))
	case *ast.Link:
		link := el("a", l.children(n))
		if !html.IsDangerousURL(n.Destination) {
			link.Attrs = append(link.Attrs, lit("href", string(n.Destination)))
		}
		if len(n.Title) > 0 {
			link.Attrs = append(link.Attrs, lit("title", string(n.Title)))
		}
		return one(link)
	case *ast.Image:
		img := el("img", nil)
		if !html.IsDangerousURL(n.Destination) {
			img.Attrs = append(img.Attrs, lit("src", string(n.Destination)))
		}
		img.Attrs = append(img.Attrs, lit("alt", ir.TextContent(l.children(n))))
		if len(n.Title) > 0 {
			img.Attrs = append(img.Attrs, lit("title", string(n.Title)))
		}
		return one(img)
	case *ast.AutoLink:
		url := string(n.URL(l.source))
		label := string(n.Label(l.source))
		if n.AutoLinkType == ast.AutoLinkEmail && !bytes.HasPrefix(bytes.ToLower([]byte(url)), []byte("mailto:")) {
			url = "mailto:" + url
		}
		link := el("a", one(textNode(label)))
		if !html.IsDangerousURL([]byte(url)) {
			link.Attrs = append(link.Attrs, lit("href", url))
		}
		return one(link)
	case *ast.RawHTML:
		var buf bytes.Buffer
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			buf.Write(seg.Value(l.source))
		}
		return one(&ir.Raw{HTML: buf.String(), Unsafe: true})
	case *JSXFlow:
		var children []ir.Node
		if n.inline || n.HasChildren() {
			children = l.children(n)
		}
		return one(l.component(n.Tag, n.Offset, children, false))
	case *JSXExpression:
		expr, err := ParseExpr(n.Code)
		if err != nil {
			l.fail(n.Offset, mdxerrors.ErrCodeDisallowed, err.Error())
			return nil
		}
		if expr == nil {
			return nil
		}
		line, _ := position(l.source, n.Offset)
		return one(&ir.Expression{Expr: expr, Line: line})
	case *JSXTag:
		// Paired in children; a stray tag here means a bug in the caller.
		l.fail(n.Offset, mdxerrors.ErrCodeSyntax, fmt.Sprintf("unpaired tag <%s>", n.Tag.Name))
		return nil
	}

	return l.extension(n)
}

// extension lowers nodes contributed by goldmark extensions.
func (l *lowerer) extension(n ast.Node) []ir.Node {
	switch n := n.(type) {
	case *east.Table:
		var head, body []ir.Node
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch row := c.(type) {
			case *east.TableHeader:
				head = append(head, el("tr", l.cells(row, "th")))
			case *east.TableRow:
				body = append(body, el("tr", l.cells(row, "td")))
			}
		}
		children := []ir.Node{el("thead", head)}
		if len(body) > 0 {
			children = append(children, el("tbody", body))
		}
		return one(el("table", children))
	case *east.Strikethrough:
		return one(el("del", l.children(n)))
	case *east.TaskCheckBox:
		box := el("input", nil, lit("disabled", true), lit("type", "checkbox"))
		if n.IsChecked {
			box.Attrs = append([]ir.Attr{lit("checked", true)}, box.Attrs...)
		}
		return []ir.Node{box, textNode(" ")}
	case *east.FootnoteLink:
		index := strconv.Itoa(n.Index)
		return one(el("sup", one(el("a", one(textNode(index)),
			lit("href", "#fn:"+index), lit("class", "footnote-ref"), lit("role", "doc-noteref"))),
			lit("id", "fnref:"+index)))
	case *east.FootnoteBacklink:
		index := strconv.Itoa(n.Index)
		return one(el("a", one(textNode("↩︎")),
			lit("href", "#fnref:"+index), lit("class", "footnote-backref"), lit("role", "doc-backlink")))
	case *east.FootnoteList:
		return one(el("div", []ir.Node{el("hr", nil), el("ol", l.children(n))},
			lit("class", "footnotes"), lit("role", "doc-endnotes")))
	case *east.Footnote:
		return one(el("li", l.children(n), lit("id", "fn:"+strconv.Itoa(n.Index))))
	case *east.DefinitionList:
		return one(el("dl", l.children(n)))
	case *east.DefinitionTerm:
		return one(el("dt", l.children(n)))
	case *east.DefinitionDescription:
		return one(el("dd", l.children(n)))
	}

	if l.diags != nil {
		l.diags.Warnf(0, 0, "unsupported markdown node %s rendered as its children", n.Kind().String())
	}
	return l.children(n)
}

func (l *lowerer) cells(row ast.Node, tag string) []ir.Node {
	var cells []ir.Node
	for c := row.FirstChild(); c != nil; c = c.NextSibling() {
		cell, ok := c.(*east.TableCell)
		if !ok {
			continue
		}
		e := el(tag, l.children(cell))
		if cell.Alignment != east.AlignNone {
			e.Attrs = append(e.Attrs, lit("style", "text-align:"+cell.Alignment.String()))
		}
		cells = append(cells, e)
	}
	return cells
}

func (l *lowerer) text(n *ast.Text) []ir.Node {
	value := n.Segment.Value(l.source)
	if !n.IsRaw() {
		value = util.UnescapePunctuations(value)
		value = util.ResolveNumericReferences(value)
		value = util.ResolveEntityNames(value)
	}

	out := []ir.Node{textNode(string(value))}
	switch {
	case n.HardLineBreak():
		out = append(out, el("br", nil), textNode("\n"))
	case n.SoftLineBreak():
		out = append(out, textNode("\n"))
	}
	return out
}

func (l *lowerer) codeBlock(n ast.Node, language string) ir.Node {
	var buf bytes.Buffer
	l.writeLines(&buf, n)
	code := el("code", one(textNode(buf.String())))
	if language != "" {
		code.Attrs = append(code.Attrs, lit("class", "language-"+language))
	}
	return el("pre", one(code))
}

func (l *lowerer) writeLines(buf *bytes.Buffer, n ast.Node) {
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		line := lines.At(i)
		buf.Write(line.Value(l.source))
	}
}

func firstOffset(n ast.Node) int {
	if n.Lines().Len() > 0 {
		return n.Lines().At(0).Start
	}
	return 0
}

// mergeText joins adjacent text nodes so equal sources always produce
// equal trees regardless of how the parser split the text.
func mergeText(nodes []ir.Node) []ir.Node {
	out := nodes[:0:0]
	for _, n := range nodes {
		switch v := n.(type) {
		case *ir.Text:
			if v.Value == "" {
				continue
			}
			if len(out) > 0 {
				if prev, ok := out[len(out)-1].(*ir.Text); ok {
					out[len(out)-1] = &ir.Text{Value: prev.Value + v.Value}
					continue
				}
			}
		case *ir.Element:
			v.Children = mergeText(v.Children)
		case *ir.Component:
			v.Children = mergeText(v.Children)
		case *ir.Fragment:
			v.Children = mergeText(v.Children)
		}
		out = append(out, n)
	}
	return out
}
