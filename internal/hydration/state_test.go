package hydration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/mdxflow/internal/node"
	"github.com/conneroisu/mdxflow/internal/registry"
)

type namedCallout struct{}

func (namedCallout) DisplayName() string { return "Callout" }

func (namedCallout) Render(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
	return node.Frag(children...), nil
}

func Counter(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
	return node.NewText("0"), nil
}

func TestSerializeRoundTrip(t *testing.T) {
	components := map[string]registry.Component{
		"Callout": namedCallout{},
		"Counter": registry.ComponentFunc(Counter),
		"Anon": registry.ComponentFunc(func(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
			return nil, nil
		}),
	}
	props := node.Props{
		"source": "# Hello",
		"title":  "Guide",
		"count":  3,
		"nested": map[string]any{"ok": true, "fn": func() {}},
	}

	state := Deserialize(Serialize(props, components))

	assert.Equal(t, []string{"Anon", "Callout", "Counter"}, state.ComponentNames())
	assert.Equal(t, "Callout", state.Components["Callout"])
	assert.Equal(t, "Counter", state.Components["Counter"])
	assert.Equal(t, registry.AnonymousComponent, state.Components["Anon"])
	assert.Equal(t, "# Hello", state.Source)
	assert.Equal(t, "Guide", state.Props["title"])
	assert.Equal(t, float64(3), state.Props["count"])
	assert.Equal(t, map[string]any{"ok": true}, state.Props["nested"])
}

func TestSerializeDropsUnportableProps(t *testing.T) {
	props := node.Props{
		"children": []node.Node{node.NewText("x")},
		"render":   node.NewText("y"),
		"ch":       make(chan int),
		"onClick":  func() {},
		"keep":     []any{"a", func() {}, 2},
	}

	state := Deserialize(Serialize(props, nil))
	assert.Equal(t, map[string]any{"keep": []any{"a", float64(2)}}, state.Props)
	assert.Empty(t, state.Source)
	assert.NotNil(t, state.Components)
}

func TestSerializeWithoutSource(t *testing.T) {
	state := Deserialize(Serialize(node.Props{"source": 42}, nil))
	assert.Equal(t, "", state.Source)
	assert.Equal(t, float64(42), state.Props["source"])
}

func TestDeserializeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: "not json"},
		{name: "empty", input: ""},
		{name: "truncated", input: `{"props":{"a":1},"compo`},
		{name: "wrong shape", input: `{"props":[1,2],"components":"x"}`},
		{name: "array", input: `[1,2,3]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := Deserialize(tt.input)
			assert.Equal(t, Empty(), state)
		})
	}
}

func TestDeserializeEscapedAttribute(t *testing.T) {
	encoded := Serialize(node.Props{"source": `He said "hi" & <left>`}, nil)
	escaped := `{&#34;props&#34;:{&#34;source&#34;:&#34;He said \&#34;hi\&#34; &amp; <left>&#34;},&#34;components&#34;:{},&#34;source&#34;:&#34;He said \&#34;hi\&#34; &amp; <left>&#34;}`

	direct := Deserialize(encoded)
	fromAttr := Deserialize(escaped)
	require.Equal(t, `He said "hi" & <left>`, direct.Source)
	assert.Equal(t, direct, fromAttr)
}

func TestDeserializeFillsMissingMaps(t *testing.T) {
	state := Deserialize(`{"source":"x"}`)
	assert.Equal(t, "x", state.Source)
	assert.NotNil(t, state.Props)
	assert.NotNil(t, state.Components)
}
