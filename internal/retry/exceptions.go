package retry

import "sync"

// TypeRegistry answers assignability questions for the retry policy's
// OnlyOn/ExceptOn lists (§4.5, §9 "Exception-type allow/deny lists").
//
// Go has no runtime class hierarchy to query the way the source CLR does,
// so assignability is modeled explicitly: a type is assignable to a target
// if the names match, or if the target was registered as one of the
// type's ancestors. An unregistered type name is never assignable to
// anything but itself (§9: "treat unknown type names as never-matching").
type TypeRegistry struct {
	mu      sync.RWMutex
	parents map[string][]string
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{parents: make(map[string][]string)}
}

// Register records that typeName's ancestor chain includes parents,
// directly. Call it once at startup per exception type that needs to
// match a broader allow/deny entry (e.g. Register("*net.OpError",
// "TransientError")).
func (r *TypeRegistry) Register(typeName string, parents ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parents[typeName] = append(r.parents[typeName], parents...)
}

// IsAssignable reports whether typeName is, or descends from, target.
func (r *TypeRegistry) IsAssignable(typeName, target string) bool {
	if typeName == target {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ancestorMatches(typeName, target, make(map[string]bool))
}

func (r *TypeRegistry) ancestorMatches(typeName, target string, seen map[string]bool) bool {
	if seen[typeName] {
		return false // guard against a misconfigured cycle
	}
	seen[typeName] = true
	for _, parent := range r.parents[typeName] {
		if parent == target {
			return true
		}
		if r.ancestorMatches(parent, target, seen) {
			return true
		}
	}
	return false
}

// anyAssignable reports whether typeName is assignable to any entry in
// list. An empty list matches nothing -- callers treat "empty list" as
// "rule does not apply" before calling this, per §4.5.
func anyAssignable(reg *TypeRegistry, typeName string, list []string) bool {
	for _, target := range list {
		if reg.IsAssignable(typeName, target) {
			return true
		}
	}
	return false
}
