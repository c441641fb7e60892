package registry

import (
	"context"
	"reflect"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/conneroisu/mdxflow/internal/node"
)

// Component renders props and already-instantiated children into a node.
// Returning a *node.Pending makes the component asynchronous.
type Component interface {
	Render(ctx context.Context, props node.Props, children []node.Node) (node.Node, error)
}

// ComponentFunc adapts a function to the Component interface.
type ComponentFunc func(ctx context.Context, props node.Props, children []node.Node) (node.Node, error)

// Render calls f.
func (f ComponentFunc) Render(ctx context.Context, props node.Props, children []node.Node) (node.Node, error) {
	return f(ctx, props, children)
}

// Named is implemented by components that report their own display name.
type Named interface {
	DisplayName() string
}

// AnonymousComponent is the display name of components without one.
const AnonymousComponent = "AnonymousComponent"

// DisplayName returns the name a component reports about itself: its
// DisplayName method, else the declared function or type name.
func DisplayName(c Component) string {
	if c == nil {
		return AnonymousComponent
	}
	if n, ok := c.(Named); ok && n.DisplayName() != "" {
		return n.DisplayName()
	}

	if f, ok := c.(ComponentFunc); ok {
		fn := runtime.FuncForPC(reflect.ValueOf(f).Pointer())
		if fn == nil {
			return AnonymousComponent
		}
		name := fn.Name()
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		if name == "" || isClosureName(name) {
			return AnonymousComponent
		}
		return name
	}

	t := reflect.TypeOf(c)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return AnonymousComponent
	}
	return t.Name()
}

// isClosureName matches the compiler's names for function literals,
// such as func1 or glob..func2.
func isClosureName(name string) bool {
	if !strings.HasPrefix(name, "func") {
		return false
	}
	for _, r := range name[len("func"):] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(name) > len("func")
}

// ComponentInfo is a registry entry.
type ComponentInfo struct {
	Name      string
	Component Component
	// Source describes where the entry came from: "builtin", "request",
	// "loader" or a file path.
	Source  string
	LastMod time.Time
}

// ComponentEvent represents a change in the component registry
type ComponentEvent struct {
	Type      EventType
	Component *ComponentInfo
	Timestamp time.Time
}

// EventType represents the type of component event
type EventType int

const (
	EventTypeAdded EventType = iota
	EventTypeUpdated
	EventTypeRemoved
)

// String returns the event name used in live-reload messages.
func (e EventType) String() string {
	switch e {
	case EventTypeAdded:
		return "added"
	case EventTypeUpdated:
		return "updated"
	case EventTypeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Loader resolves components the registry does not hold yet.
type Loader interface {
	Load(ctx context.Context, name string) (Component, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, name string) (Component, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, name string) (Component, error) {
	return f(ctx, name)
}

// ComponentRegistry maps names to components. Registering a name twice
// replaces the earlier entry. A registry may have a parent that is
// consulted for names it does not hold itself.
type ComponentRegistry struct {
	components map[string]*ComponentInfo
	mutex      sync.RWMutex
	watchers   []chan ComponentEvent
	parent     *ComponentRegistry
	loader     Loader
}

// NewComponentRegistry creates a new component registry
func NewComponentRegistry() *ComponentRegistry {
	return &ComponentRegistry{
		components: make(map[string]*ComponentInfo),
		watchers:   make([]chan ComponentEvent, 0),
	}
}

// Default is the process-wide registry used when none is injected.
var Default = NewComponentRegistry()

// Register adds or replaces a component under name.
func Register(name string, c Component) {
	Default.Register(name, c)
}

// Overlay returns a child registry holding components on top of r.
// Lookups fall through to r; registrations on the child do not touch r.
func (r *ComponentRegistry) Overlay(components map[string]Component) *ComponentRegistry {
	child := NewComponentRegistry()
	child.parent = r
	for name, c := range components {
		child.components[name] = &ComponentInfo{
			Name:      name,
			Component: c,
			Source:    "request",
			LastMod:   time.Now(),
		}
	}
	return child
}

// SetLoader installs the loader used by Resolve.
func (r *ComponentRegistry) SetLoader(l Loader) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.loader = l
}

// Register adds or updates a component in the registry
func (r *ComponentRegistry) Register(name string, c Component) {
	r.RegisterInfo(&ComponentInfo{Name: name, Component: c, Source: "builtin", LastMod: time.Now()})
}

// RegisterInfo adds or updates an entry with its metadata.
func (r *ComponentRegistry) RegisterInfo(component *ComponentInfo) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	eventType := EventTypeAdded
	if _, exists := r.components[component.Name]; exists {
		eventType = EventTypeUpdated
	}

	r.components[component.Name] = component

	r.notify(ComponentEvent{
		Type:      eventType,
		Component: component,
		Timestamp: time.Now(),
	})
}

// notify must be called with the write lock held.
func (r *ComponentRegistry) notify(event ComponentEvent) {
	for _, watcher := range r.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}

// Get retrieves a component by name, consulting parents.
func (r *ComponentRegistry) Get(name string) (Component, bool) {
	info, ok := r.Lookup(name)
	if !ok {
		return nil, false
	}
	return info.Component, true
}

// Lookup retrieves the entry for name, consulting parents.
func (r *ComponentRegistry) Lookup(name string) (*ComponentInfo, bool) {
	for reg := r; reg != nil; reg = reg.parent {
		reg.mutex.RLock()
		info, exists := reg.components[name]
		reg.mutex.RUnlock()
		if exists {
			return info, true
		}
	}
	return nil, false
}

// Resolve returns the component for name, asking the loader when no
// registry in the chain holds it. Loaded components are registered.
func (r *ComponentRegistry) Resolve(ctx context.Context, name string) (Component, error) {
	if c, ok := r.Get(name); ok {
		return c, nil
	}

	var loader Loader
	for reg := r; reg != nil && loader == nil; reg = reg.parent {
		reg.mutex.RLock()
		loader = reg.loader
		reg.mutex.RUnlock()
	}
	if loader == nil {
		return nil, &NotFoundError{Name: name}
	}

	c, err := loader.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, &NotFoundError{Name: name}
	}
	r.RegisterInfo(&ComponentInfo{Name: name, Component: c, Source: "loader", LastMod: time.Now()})
	return c, nil
}

// GetAll returns all registered components, parents included. Entries in
// r shadow those of its parents.
func (r *ComponentRegistry) GetAll() map[string]*ComponentInfo {
	result := make(map[string]*ComponentInfo)
	if r.parent != nil {
		for name, info := range r.parent.GetAll() {
			result[name] = info
		}
	}

	r.mutex.RLock()
	defer r.mutex.RUnlock()
	for name, component := range r.components {
		result[name] = component
	}
	return result
}

// Components returns name to component for every visible entry.
func (r *ComponentRegistry) Components() map[string]Component {
	all := r.GetAll()
	out := make(map[string]Component, len(all))
	for name, info := range all {
		out[name] = info.Component
	}
	return out
}

// Names returns the sorted names of every visible entry.
func (r *ComponentRegistry) Names() []string {
	all := r.GetAll()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove removes a component from the registry
func (r *ComponentRegistry) Remove(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	component, exists := r.components[name]
	if !exists {
		return
	}

	delete(r.components, name)

	r.notify(ComponentEvent{
		Type:      EventTypeRemoved,
		Component: component,
		Timestamp: time.Now(),
	})
}

// Watch returns a channel that receives component events
func (r *ComponentRegistry) Watch() <-chan ComponentEvent {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ch := make(chan ComponentEvent, 100)
	r.watchers = append(r.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it
func (r *ComponentRegistry) UnWatch(ch <-chan ComponentEvent) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, watcher := range r.watchers {
		if watcher == ch {
			close(watcher)
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			break
		}
	}
}

// Count returns the number of components registered directly on r.
func (r *ComponentRegistry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.components)
}

// NotFoundError reports a name no registry or loader could resolve.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return "component not found: " + e.Name
}

type contextKey struct{}

// WithRegistry returns a context carrying r. Components that render
// nested MDX use it to resolve their own children.
func WithRegistry(ctx context.Context, r *ComponentRegistry) context.Context {
	return context.WithValue(ctx, contextKey{}, r)
}

// FromContext returns the registry carried by ctx, or Default.
func FromContext(ctx context.Context) *ComponentRegistry {
	if r, ok := ctx.Value(contextKey{}).(*ComponentRegistry); ok && r != nil {
		return r
	}
	return Default
}
