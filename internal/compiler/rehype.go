package compiler

import (
	"bytes"
	"strconv"
	"strings"
	"unicode"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"

	mdxerrors "github.com/conneroisu/mdxflow/internal/errors"
	"github.com/conneroisu/mdxflow/internal/ir"
)

// transform rewrites a list of sibling nodes.
type transform func(nodes []ir.Node) []ir.Node

// rewrite applies fn bottom-up to every node. fn returns the nodes that
// replace its argument.
func rewrite(nodes []ir.Node, fn func(ir.Node) []ir.Node) []ir.Node {
	out := make([]ir.Node, 0, len(nodes))
	for _, n := range nodes {
		switch v := n.(type) {
		case *ir.Element:
			v.Children = rewrite(v.Children, fn)
		case *ir.Component:
			v.Children = rewrite(v.Children, fn)
		case *ir.Fragment:
			v.Children = rewrite(v.Children, fn)
		}
		out = append(out, fn(n)...)
	}
	return out
}

// dropRaw removes author-supplied raw HTML. It runs unless the raw
// extension is enabled.
func dropRaw(diags *mdxerrors.DiagnosticCollector) transform {
	return func(nodes []ir.Node) []ir.Node {
		return rewrite(nodes, func(n ir.Node) []ir.Node {
			raw, ok := n.(*ir.Raw)
			if !ok || !raw.Unsafe {
				return one(n)
			}
			if diags != nil {
				diags.Warnf(raw.Line, 0, "raw HTML removed; enable the %q extension to keep it", RehypeRaw)
			}
			return nil
		})
	}
}

// slugTransform gives every heading without an id a unique slug of its
// text content.
func slugTransform(nodes []ir.Node) []ir.Node {
	seen := make(map[string]int)
	ir.Walk(nodes, func(n ir.Node) bool {
		e, ok := n.(*ir.Element)
		if !ok || !isHeading(e.Tag) {
			return true
		}
		if _, has := e.Attr("id"); has {
			return false
		}
		base := Slug(ir.TextContent(e.Children))
		slug := base
		if count := seen[base]; count > 0 {
			slug = base + "-" + strconv.Itoa(count)
		}
		seen[base]++
		e.SetAttr("id", slug)
		return false
	})
	return nodes
}

func isHeading(tag string) bool {
	return len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6'
}

// Slug lower-cases s, drops punctuation and joins words with hyphens.
func Slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte('-')
		}
	}
	return b.String()
}

// highlightTransform replaces fenced code that names a language with
// chroma markup using CSS classes.
func highlightTransform(style string, diags *mdxerrors.DiagnosticCollector) transform {
	chromaStyle := styles.Get(style)
	formatter := chromahtml.New(chromahtml.WithClasses(true))

	return func(nodes []ir.Node) []ir.Node {
		return rewrite(nodes, func(n ir.Node) []ir.Node {
			pre, ok := n.(*ir.Element)
			if !ok || pre.Tag != "pre" || len(pre.Children) != 1 {
				return one(n)
			}
			code, ok := pre.Children[0].(*ir.Element)
			if !ok || code.Tag != "code" {
				return one(n)
			}
			class, ok := code.Attr("class")
			if !ok {
				return one(n)
			}
			classLit, ok := class.Value.(*ir.Literal)
			if !ok {
				return one(n)
			}
			classValue, _ := classLit.Value.(string)
			lang := strings.TrimPrefix(classValue, "language-")

			lexer := lexers.Get(lang)
			if lexer == nil {
				return one(n)
			}
			lexer = chroma.Coalesce(lexer)

			iterator, err := lexer.Tokenise(nil, ir.TextContent(code.Children))
			if err != nil {
				if diags != nil {
					diags.Warnf(0, 0, "highlighting %s failed: %v", lang, err)
				}
				return one(n)
			}

			var buf bytes.Buffer
			if err := formatter.Format(&buf, chromaStyle, iterator); err != nil {
				return one(n)
			}
			return one(&ir.Raw{HTML: buf.String()})
		})
	}
}

// externalLinksTransform opens absolute http(s) links in a new tab.
func externalLinksTransform(nodes []ir.Node) []ir.Node {
	ir.Walk(nodes, func(n ir.Node) bool {
		e, ok := n.(*ir.Element)
		if !ok || e.Tag != "a" {
			return true
		}
		href, ok := e.Attr("href")
		if !ok {
			return true
		}
		lit, ok := href.Value.(*ir.Literal)
		if !ok {
			return true
		}
		url, _ := lit.Value.(string)
		if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
			e.SetAttr("target", "_blank")
			e.SetAttr("rel", "noopener noreferrer")
		}
		return true
	})
	return nodes
}
