// Package hydration captures what a client needs to reproduce a server
// render: the source text, the props, and the names of the components
// the document was rendered with.
package hydration

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/conneroisu/mdxflow/internal/node"
	"github.com/conneroisu/mdxflow/internal/registry"
)

// SourceProp is the prop that carries the document source.
const SourceProp = "source"

// State is the serialized hydration payload. Components maps the
// registration name to the display name of the implementation.
type State struct {
	Props      map[string]any    `json:"props"`
	Components map[string]string `json:"components"`
	Source     string            `json:"source"`
}

// Empty returns a valid state with nothing in it.
func Empty() State {
	return State{
		Props:      map[string]any{},
		Components: map[string]string{},
	}
}

// ComponentNames returns the registration names in sorted order.
func (s State) ComponentNames() []string {
	names := make([]string, 0, len(s.Components))
	for name := range s.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capture builds the state for props and components without encoding it.
// Props that cannot be represented as JSON are left out.
func Capture(props node.Props, components map[string]registry.Component) State {
	state := Empty()
	for k, v := range props {
		if clean, ok := portable(v); ok {
			state.Props[k] = clean
		}
	}
	if source, ok := props[SourceProp].(string); ok {
		state.Source = source
	}
	for name, c := range components {
		if c == nil {
			continue
		}
		state.Components[name] = registry.DisplayName(c)
	}
	return state
}

// Serialize encodes the hydration state for props and components.
func Serialize(props node.Props, components map[string]registry.Component) string {
	return Capture(props, components).Encode()
}

// Encode returns the JSON form of s.
func (s State) Encode() string {
	if s.Props == nil {
		s.Props = map[string]any{}
	}
	if s.Components == nil {
		s.Components = map[string]string{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		// Capture only keeps values that already marshalled.
		data, _ = json.Marshal(Empty())
	}
	return string(data)
}

// Deserialize decodes a state produced by Serialize. Malformed or
// truncated input yields Empty.
func Deserialize(data string) State {
	data = strings.TrimSpace(data)
	if data == "" {
		return Empty()
	}

	state, ok := decode(data)
	if !ok && strings.Contains(data, "&") {
		state, ok = decode(html.UnescapeString(data))
	}
	if !ok {
		return Empty()
	}
	if state.Props == nil {
		state.Props = map[string]any{}
	}
	if state.Components == nil {
		state.Components = map[string]string{}
	}
	return state
}

func decode(data string) (State, bool) {
	var state State
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return State{}, false
	}
	return state, true
}

// portable reports whether v survives a trip through JSON and returns the
// value with unportable members removed.
func portable(v any) (any, bool) {
	switch val := v.(type) {
	case nil, string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return val, true
	case node.Node, []node.Node, registry.Component:
		return nil, false
	case node.Props:
		return portableMap(val), true
	case map[string]any:
		return portableMap(val), true
	case []any:
		out := make([]any, 0, len(val))
		for _, item := range val {
			if clean, ok := portable(item); ok {
				out = append(out, clean)
			}
		}
		return out, true
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, false
	}
	if _, err := json.Marshal(v); err != nil {
		return nil, false
	}
	return v, true
}

func portableMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if clean, ok := portable(v); ok {
			out[k] = clean
		}
	}
	return out
}
