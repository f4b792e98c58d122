package module

import (
	"fmt"
	"sort"
)

// Registry is the immutable set of runnable modules, fixed at startup.
type Registry struct {
	byKey map[string]Descriptor
	keys  []string
}

// NewRegistry builds a registry from descriptors. Duplicate keys and
// incomplete descriptors are rejected.
func NewRegistry(descs []Descriptor) (*Registry, error) {
	r := &Registry{byKey: make(map[string]Descriptor, len(descs))}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.byKey[d.Key]; exists {
			return nil, fmt.Errorf("module %q registered twice", d.Key)
		}
		r.byKey[d.Key] = d
		r.keys = append(r.keys, d.Key)
	}
	sort.Strings(r.keys)
	return r, nil
}

// Get retrieves a descriptor by key.
func (r *Registry) Get(key string) (Descriptor, bool) {
	d, ok := r.byKey[key]
	return d, ok
}

// Keys returns module keys in sorted order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// All returns descriptors in key order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.byKey[k])
	}
	return out
}

// Len reports the number of registered modules.
func (r *Registry) Len() int { return len(r.keys) }
