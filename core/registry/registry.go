// Package registry keeps named entries and detects conflicting claims.
// A connection registers its record kinds here so that references between
// kinds can be resolved by name and no two kinds share a collection.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Entry is something that can be registered.
type Entry interface {
	// Name identifies the entry. Names are unique.
	Name() string

	// Claims are resources the entry owns exclusively (e.g., collections).
	Claims() []string
}

// Registry holds entries by name and tracks which entry owns each claim.
type Registry[T Entry] struct {
	mu sync.RWMutex

	// entries by name
	entries map[string]T

	// claims to entry names
	claims map[string]string
}

// New creates an empty registry.
func New[T Entry]() *Registry[T] {
	return &Registry[T]{
		entries: make(map[string]T),
		claims:  make(map[string]string),
	}
}

// Register adds an entry. It fails if the name is taken or any claim is
// already owned by another entry.
func (r *Registry[T]) Register(e T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := e.Name()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%q already registered", name)
	}

	var conflicts []Conflict
	for _, claim := range e.Claims() {
		if owner, taken := r.claims[claim]; taken {
			conflicts = append(conflicts, Conflict{Claim: claim, Owner: owner, Entry: name})
		}
	}
	if len(conflicts) > 0 {
		return &ConflictError{Conflicts: conflicts}
	}

	r.entries[name] = e
	for _, claim := range e.Claims() {
		r.claims[claim] = name
	}
	return nil
}

// Unregister removes an entry and releases its claims.
func (r *Registry[T]) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[name]
	if !exists {
		return fmt.Errorf("%q not registered", name)
	}
	for _, claim := range e.Claims() {
		delete(r.claims, claim)
	}
	delete(r.entries, name)
	return nil
}

// Get returns an entry by name.
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	return e, ok
}

// Owner returns the name of the entry owning claim.
func (r *Registry[T]) Owner(claim string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.claims[claim]
	return name, ok
}

// List returns all entries sorted by name.
func (r *Registry[T]) List() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Names returns all entry names sorted.
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Conflict is a claim requested by an entry but owned by another.
type Conflict struct {
	Claim string
	Owner string
	Entry string
}

func (c Conflict) Error() string {
	return fmt.Sprintf("%q already claimed by %q (requested by %q)", c.Claim, c.Owner, c.Entry)
}

// ConflictError represents one or more claim conflicts.
type ConflictError struct {
	Conflicts []Conflict
}

// Error returns the conflict error message.
func (e *ConflictError) Error() string {
	msgs := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		msgs = append(msgs, c.Error())
	}
	return fmt.Sprintf("conflicts detected:\n  - %s", strings.Join(msgs, "\n  - "))
}
