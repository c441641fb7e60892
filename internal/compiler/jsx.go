package compiler

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// KindJSXFlow is a component occupying its own block.
var KindJSXFlow = ast.NewNodeKind("JSXFlow")

// KindJSXTag is a component tag inside a paragraph. Opening and closing
// tags are separate nodes paired during lowering.
var KindJSXTag = ast.NewNodeKind("JSXTag")

// KindJSXExpression is a {…} group inside a paragraph.
var KindJSXExpression = ast.NewNodeKind("JSXExpression")

// JSXFlow is a block-level component. When the opening and closing tags
// share a line, the content between them is kept in Lines and parsed as
// inline content.
type JSXFlow struct {
	ast.BaseBlock
	Tag    *jsxTag
	Offset int
	depth  int
	closed bool
	inline bool
}

// Kind implements ast.Node.
func (n *JSXFlow) Kind() ast.NodeKind { return KindJSXFlow }

// Dump implements ast.Node.
func (n *JSXFlow) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Name": n.Tag.Name}, nil)
}

// JSXTag is an inline opening, closing or self-closing tag.
type JSXTag struct {
	ast.BaseInline
	Tag    *jsxTag
	Offset int
}

// Kind implements ast.Node.
func (n *JSXTag) Kind() ast.NodeKind { return KindJSXTag }

// Dump implements ast.Node.
func (n *JSXTag) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"Name":    n.Tag.Name,
		"Closing": fmt.Sprint(n.Tag.Closing),
	}, nil)
}

// JSXExpression is an inline {…} group.
type JSXExpression struct {
	ast.BaseInline
	Code   string
	Offset int
}

// Kind implements ast.Node.
func (n *JSXExpression) Kind() ast.NodeKind { return KindJSXExpression }

// Dump implements ast.Node.
func (n *JSXExpression) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Code": n.Code}, nil)
}

// parseError is a problem found while parsing, reported after the parse
// completes.
type parseError struct {
	Offset int
	Code   string
	Msg    string
}

var parseErrorsKey = parser.NewContextKey()

func addParseError(pc parser.Context, offset int, code, msg string) {
	errs, _ := pc.Get(parseErrorsKey).([]parseError)
	pc.Set(parseErrorsKey, append(errs, parseError{Offset: offset, Code: code, Msg: msg}))
}

func parseErrors(pc parser.Context) []parseError {
	errs, _ := pc.Get(parseErrorsKey).([]parseError)
	return errs
}

type jsxBlockParser struct{}

func (b *jsxBlockParser) Trigger() []byte {
	return []byte{'<'}
}

func (b *jsxBlockParser) Open(parent ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	line, segment := reader.PeekLine()
	pos := pc.BlockOffset()
	if pos < 0 || !isComponentStart(line[pos:]) {
		return nil, parser.NoChildren
	}

	source := reader.Source()
	start := segment.Start + pos
	tag, err := lexTag(source[start:])
	if err != nil {
		te := err.(*tagError)
		addParseError(pc, start+te.Offset, "syntax", te.Msg)
		return nil, parser.NoChildren
	}
	if tag.Closing {
		addParseError(pc, start, "syntax", fmt.Sprintf("unexpected closing tag </%s>", tag.Name))
		reader.Advance(pos + tag.Len)
		return nil, parser.NoChildren
	}

	end := start + tag.Len
	rest := restOfLine(source, end)
	node := &JSXFlow{Tag: tag, Offset: start, depth: 1}

	switch {
	case tag.SelfClosing:
		if !util.IsBlank(rest) {
			return nil, parser.NoChildren
		}
		node.closed = true
	case util.IsBlank(rest):
		reader.Advance(end - segment.Start)
		return node, parser.HasChildren
	default:
		closing := []byte("</" + tag.Name + ">")
		trimmed := util.TrimRightSpace(rest)
		if !bytes.HasSuffix(trimmed, closing) {
			return nil, parser.NoChildren
		}
		contentStart := end
		contentStop := end + len(trimmed) - len(closing)
		node.Lines().Append(text.NewSegment(contentStart, contentStop))
		node.inline = true
		node.closed = true
		end = end + len(trimmed)
	}

	reader.Advance(end - segment.Start)
	return node, parser.NoChildren
}

func (b *jsxBlockParser) Continue(n ast.Node, reader text.Reader, pc parser.Context) parser.State {
	flow := n.(*JSXFlow)
	if flow.closed {
		return parser.Close
	}

	line, segment := reader.PeekLine()
	if line == nil {
		return parser.Close
	}
	trimmed := util.TrimLeftSpace(line)
	indent := len(line) - len(trimmed)
	if !isComponentStart(trimmed) {
		return parser.Continue | parser.HasChildren
	}

	tag, err := lexTag(reader.Source()[segment.Start+indent:])
	if err != nil || tag.Name != flow.Tag.Name {
		return parser.Continue | parser.HasChildren
	}

	switch {
	case tag.Closing:
		flow.depth--
		if flow.depth == 0 {
			flow.closed = true
			reader.Advance(indent + tag.Len)
			return parser.Close
		}
	case !tag.SelfClosing && util.IsBlank(restOfLine(reader.Source(), segment.Start+indent+tag.Len)):
		flow.depth++
	}
	return parser.Continue | parser.HasChildren
}

func (b *jsxBlockParser) Close(n ast.Node, reader text.Reader, pc parser.Context) {
	flow := n.(*JSXFlow)
	if !flow.closed {
		addParseError(pc, flow.Offset, "syntax", fmt.Sprintf("unclosed tag <%s>", flow.Tag.Name))
	}
}

func (b *jsxBlockParser) CanInterruptParagraph() bool {
	return true
}

func (b *jsxBlockParser) CanAcceptIndentedLine() bool {
	return false
}

// esmBlockParser rejects import and export statements at the top level.
type esmBlockParser struct{}

func (b *esmBlockParser) Trigger() []byte {
	return []byte{'i', 'e'}
}

func (b *esmBlockParser) Open(parent ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	if parent.Kind() != ast.KindDocument {
		return nil, parser.NoChildren
	}
	line, segment := reader.PeekLine()
	if pc.BlockOffset() != 0 {
		return nil, parser.NoChildren
	}
	for _, keyword := range []string{"import ", "export "} {
		if bytes.HasPrefix(line, []byte(keyword)) {
			addParseError(pc, segment.Start, "disallowed",
				fmt.Sprintf("%sstatements are not supported", keyword))
			break
		}
	}
	return nil, parser.NoChildren
}

func (b *esmBlockParser) Continue(n ast.Node, reader text.Reader, pc parser.Context) parser.State {
	return parser.Close
}

func (b *esmBlockParser) Close(n ast.Node, reader text.Reader, pc parser.Context) {}

func (b *esmBlockParser) CanInterruptParagraph() bool {
	return false
}

func (b *esmBlockParser) CanAcceptIndentedLine() bool {
	return false
}

type jsxInlineParser struct{}

func (p *jsxInlineParser) Trigger() []byte {
	return []byte{'<', '{'}
}

func (p *jsxInlineParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, segment := block.PeekLine()
	if len(line) == 0 {
		return nil
	}

	if line[0] == '{' {
		n, err := matchBrace(line)
		if err != nil {
			addParseError(pc, segment.Start, "syntax", "unclosed expression")
			return nil
		}
		block.Advance(n)
		return &JSXExpression{Code: string(line[1 : n-1]), Offset: segment.Start}
	}

	tag, err := lexTag(line)
	if tag == nil && err == nil {
		return nil
	}
	if err != nil {
		te := err.(*tagError)
		addParseError(pc, segment.Start+te.Offset, "syntax", te.Msg)
		return nil
	}
	block.Advance(tag.Len)
	return &JSXTag{Tag: tag, Offset: segment.Start}
}

func restOfLine(source []byte, from int) []byte {
	if from >= len(source) {
		return nil
	}
	if i := bytes.IndexByte(source[from:], '\n'); i >= 0 {
		return source[from : from+i]
	}
	return source[from:]
}

// mdxExtension adds component tags, expressions and ESM rejection to a
// goldmark parser.
type mdxExtension struct{}

// Extend implements goldmark.Extender.
func (e *mdxExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithBlockParsers(
			util.Prioritized(&esmBlockParser{}, 90),
			util.Prioritized(&jsxBlockParser{}, 850),
		),
		parser.WithInlineParsers(
			util.Prioritized(&jsxInlineParser{}, 350),
		),
	)
}
