// Package registry holds the capability surface of a server: named
// tools, URI-addressed resources, and prompt templates, each paired
// with its handler. Listings preserve registration order so discovery
// output is stable across runs.
package registry

import (
	"context"
	"strings"
	"sync"

	cwerrors "github.com/capwire/capwire-go/pkg/errors"
	"github.com/capwire/capwire-go/pkg/protocol"
)

// Handler executes one capability invocation. Arguments arrive as
// decoded JSON; for templated resources the bound URI parameters are
// merged in under their template names.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

type entry struct {
	descriptor protocol.CapabilityDescriptor
	handler    Handler
}

// Registry is a thread-safe capability table. The zero value is not
// usable; call New.
type Registry struct {
	mu      sync.RWMutex
	entries map[protocol.CapabilityKind][]*entry
	byName  map[protocol.CapabilityKind]map[string]*entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[protocol.CapabilityKind][]*entry),
		byName:  make(map[protocol.CapabilityKind]map[string]*entry),
	}
}

// Register adds a capability. Registering the same (kind, name) twice
// fails with a duplicate capability error; the first registration is
// kept.
func (r *Registry) Register(desc protocol.CapabilityDescriptor, handler Handler) error {
	if desc.Name == "" {
		return cwerrors.InvalidParams("name", "capability name must not be empty")
	}
	if handler == nil {
		return cwerrors.InvalidParams("handler", "capability handler must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	names := r.byName[desc.Kind]
	if names == nil {
		names = make(map[string]*entry)
		r.byName[desc.Kind] = names
	}
	if _, exists := names[desc.Name]; exists {
		return cwerrors.DuplicateCapability(string(desc.Kind), desc.Name)
	}

	e := &entry{descriptor: desc, handler: handler}
	names[desc.Name] = e
	r.entries[desc.Kind] = append(r.entries[desc.Kind], e)
	return nil
}

// RegisterTool is a convenience wrapper for tool capabilities.
func (r *Registry) RegisterTool(name, description string, schema *protocol.Schema, handler Handler) error {
	return r.Register(protocol.CapabilityDescriptor{
		Kind:        protocol.KindTool,
		Name:        name,
		Description: description,
		Schema:      schema,
	}, handler)
}

// RegisterResource registers a resource by URI. The URI may contain
// {param} template segments that are bound at read time.
func (r *Registry) RegisterResource(uri, description string, handler Handler) error {
	return r.Register(protocol.CapabilityDescriptor{
		Kind:        protocol.KindResource,
		Name:        uri,
		Description: description,
	}, handler)
}

// RegisterPrompt is a convenience wrapper for prompt capabilities.
func (r *Registry) RegisterPrompt(name, description string, schema *protocol.Schema, handler Handler) error {
	return r.Register(protocol.CapabilityDescriptor{
		Kind:        protocol.KindPrompt,
		Name:        name,
		Description: description,
		Schema:      schema,
	}, handler)
}

// Resolve looks up a capability by exact name.
func (r *Registry) Resolve(kind protocol.CapabilityKind, name string) (protocol.CapabilityDescriptor, Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.byName[kind][name]; ok {
		return e.descriptor, e.handler, nil
	}
	return protocol.CapabilityDescriptor{}, nil, cwerrors.CapabilityNotFound(string(kind), name)
}

// ResolveResource looks up a resource by URI. Exact matches win;
// otherwise registered URI templates are tried in registration order
// and the first match binds its {param} segments into the returned
// map.
func (r *Registry) ResolveResource(uri string) (protocol.CapabilityDescriptor, Handler, map[string]interface{}, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.byName[protocol.KindResource][uri]; ok {
		return e.descriptor, e.handler, nil, nil
	}

	for _, e := range r.entries[protocol.KindResource] {
		if params, ok := matchTemplate(e.descriptor.Name, uri); ok {
			return e.descriptor, e.handler, params, nil
		}
	}
	return protocol.CapabilityDescriptor{}, nil, nil, cwerrors.CapabilityNotFound(string(protocol.KindResource), uri)
}

// List returns descriptors of a kind in registration order.
func (r *Registry) List(kind protocol.CapabilityKind) []protocol.CapabilityDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.CapabilityDescriptor, 0, len(r.entries[kind]))
	for _, e := range r.entries[kind] {
		out = append(out, e.descriptor)
	}
	return out
}

// Capabilities summarizes which kinds have at least one registration,
// for the handshake response.
func (r *Registry) Capabilities() map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make(map[string]bool, 3)
	caps["tools"] = len(r.entries[protocol.KindTool]) > 0
	caps["resources"] = len(r.entries[protocol.KindResource]) > 0
	caps["prompts"] = len(r.entries[protocol.KindPrompt]) > 0
	return caps
}

// matchTemplate matches a concrete URI against a template URI where
// path segments of the form {param} bind the corresponding concrete
// segment. Scheme and literal segments must match exactly.
func matchTemplate(template, uri string) (map[string]interface{}, bool) {
	if !strings.Contains(template, "{") {
		return nil, false
	}

	tmplScheme, tmplRest, ok1 := strings.Cut(template, "://")
	uriScheme, uriRest, ok2 := strings.Cut(uri, "://")
	if !ok1 || !ok2 || tmplScheme != uriScheme {
		return nil, false
	}

	tmplSegs := strings.Split(tmplRest, "/")
	uriSegs := strings.Split(uriRest, "/")
	if len(tmplSegs) != len(uriSegs) {
		return nil, false
	}

	params := make(map[string]interface{})
	for i, seg := range tmplSegs {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			name := seg[1 : len(seg)-1]
			if name == "" || uriSegs[i] == "" {
				return nil, false
			}
			params[name] = uriSegs[i]
			continue
		}
		if seg != uriSegs[i] {
			return nil, false
		}
	}
	return params, true
}
