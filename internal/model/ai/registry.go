package ai

// Registry exposes model catalog lookups for handlers and the pipeline.
type Registry interface {
	List() []Descriptor
	Lookup(key string) (Descriptor, bool)
	Supports(key string, cap Capability) bool
}

// StaticRegistry implements Registry over an immutable descriptor list,
// safe for concurrent reads from any number of in-flight turns.
type StaticRegistry struct {
	order []Descriptor
	byKey map[string]Descriptor
}

// NewStaticRegistry returns a StaticRegistry preloaded with the supplied descriptors.
func NewStaticRegistry(items []Descriptor) *StaticRegistry {
	byKey := make(map[string]Descriptor, len(items))
	for _, item := range items {
		byKey[item.Key] = item
	}
	return &StaticRegistry{
		order: append([]Descriptor(nil), items...),
		byKey: byKey,
	}
}

// List returns the catalog in declaration order.
func (r *StaticRegistry) List() []Descriptor {
	return append([]Descriptor(nil), r.order...)
}

// Lookup finds a descriptor by client-facing key.
func (r *StaticRegistry) Lookup(key string) (Descriptor, bool) {
	d, ok := r.byKey[key]
	return d, ok
}

// Supports reports whether the keyed model advertises the capability.
// Unknown keys report false rather than an error.
func (r *StaticRegistry) Supports(key string, cap Capability) bool {
	d, ok := r.byKey[key]
	if !ok {
		return false
	}
	return d.Supports(cap)
}
