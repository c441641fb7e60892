package hydrate

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/mdxflow/internal/stream"
)

// targetAttr marks a template holding resolved boundary content.
const targetAttr = "data-mdx-target"

// Graft applies a streamed chunk to doc: every resolved template in the
// chunk replaces its placeholder and fallback. It returns the number of
// boundaries replaced.
func Graft(doc *html.Node, chunk string) (int, error) {
	nodes, err := html.ParseFragment(strings.NewReader(chunk), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return 0, err
	}

	var targets []*html.Node
	for _, n := range nodes {
		targets = append(targets, collectTargets(n)...)
	}
	for i, t := range targets {
		if err := swap(doc, t); err != nil {
			return i, err
		}
	}
	return len(targets), nil
}

// ApplyStreamed grafts every resolved template already present in doc,
// as in a page saved after the stream finished, and removes the swap
// scripts.
func ApplyStreamed(doc *html.Node) (int, error) {
	targets := collectTargets(doc)
	for i, t := range targets {
		if script := nextElement(t); script != nil && isSwapCall(script) {
			script.Parent.RemoveChild(script)
		}
		t.Parent.RemoveChild(t)
		if err := swap(doc, t); err != nil {
			return i, err
		}
	}
	for _, s := range collect(doc, isSwapDefinition) {
		s.Parent.RemoveChild(s)
	}
	return len(targets), nil
}

// swap moves the content of the resolved template t in place of the
// placeholder with the same id, dropping the fallback up to the end
// marker.
func swap(doc *html.Node, t *html.Node) error {
	id := attr(t, targetAttr)
	placeholder := find(doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Template && attr(n, "id") == id
	})
	if placeholder == nil {
		return fmt.Errorf("no placeholder for boundary %q", id)
	}

	parent := placeholder.Parent
	end := "/" + id
	for c := placeholder.NextSibling; c != nil; {
		next := c.NextSibling
		parent.RemoveChild(c)
		if c.Type == html.CommentNode && c.Data == end {
			break
		}
		c = next
	}

	for c := t.FirstChild; c != nil; {
		next := c.NextSibling
		t.RemoveChild(c)
		parent.InsertBefore(c, placeholder)
		c = next
	}
	parent.RemoveChild(placeholder)
	return nil
}

func collectTargets(n *html.Node) []*html.Node {
	return collect(n, func(c *html.Node) bool {
		return c.DataAtom == atom.Template && attr(c, targetAttr) != ""
	})
}

func collect(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.ElementNode && match(c) {
			out = append(out, c)
			return
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return out
}

func nextElement(n *html.Node) *html.Node {
	for c := n.NextSibling; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			return c
		}
	}
	return nil
}

func scriptText(n *html.Node) string {
	if n.DataAtom != atom.Script || n.FirstChild == nil {
		return ""
	}
	return n.FirstChild.Data
}

func isSwapCall(n *html.Node) bool {
	return strings.HasPrefix(scriptText(n), stream.SwapFunction+"(")
}

func isSwapDefinition(n *html.Node) bool {
	return strings.HasPrefix(scriptText(n), "function "+stream.SwapFunction+"(")
}
