// Package components provides the built-in MDX components and a loader
// that turns a directory of .mdx files into components.
package components

import (
	"context"
	"strconv"
	"time"

	"github.com/conneroisu/mdxflow/internal/node"
	"github.com/conneroisu/mdxflow/internal/registry"
)

// Callout renders an aside. Props: type (info, warning, danger, tip) and
// an optional title.
func Callout(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
	kind := props.String("type", "info")
	switch kind {
	case "info", "warning", "danger", "tip":
	default:
		kind = "info"
	}

	body := make([]node.Node, 0, len(children)+1)
	if title := props.String("title", ""); title != "" {
		body = append(body, node.El("p", []node.Attr{node.A("class", "callout-title")}, node.NewText(title)))
	}
	body = append(body, children...)

	return node.El("aside", []node.Attr{
		node.A("class", "callout callout-"+kind),
		node.A("role", "note"),
	}, body...), nil
}

// Counter renders the server side of an interactive counter. The client
// script binds to data-counter.
func Counter(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
	count := strconv.Itoa(props.Int("initialCount", 0))
	return node.El("div", []node.Attr{
		node.A("class", "counter"),
		node.A("data-counter", count),
	},
		node.El("span", []node.Attr{node.A("class", "counter-value")}, node.NewText(count)),
		node.El("button", []node.Attr{node.A("type", "button"), node.A("data-action", "increment")}, node.NewText("Increment")),
	), nil
}

// MaxDelay bounds the Delay component.
const MaxDelay = 10 * time.Second

// Delay shows a fallback and resolves its children after ms milliseconds.
// It exists to exercise suspense boundaries.
func Delay(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
	d := time.Duration(props.Int("ms", 100)) * time.Millisecond
	if d < 0 {
		d = 0
	}
	if d > MaxDelay {
		d = MaxDelay
	}
	fallback := node.El("span", []node.Attr{node.A("class", "loading")},
		node.NewText(props.String("fallback", "Loading...")))

	return node.Suspense(ctx, fallback, func(ctx context.Context) (node.Node, error) {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return node.Frag(children...), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}), nil
}

// Builtins returns the built-in components by name.
func Builtins() map[string]registry.Component {
	return map[string]registry.Component{
		"Callout": registry.ComponentFunc(Callout),
		"Counter": registry.ComponentFunc(Counter),
		"Delay":   registry.ComponentFunc(Delay),
	}
}

// RegisterBuiltins registers the built-in components on reg.
func RegisterBuiltins(reg *registry.ComponentRegistry) {
	for name, c := range Builtins() {
		reg.Register(name, c)
	}
}
