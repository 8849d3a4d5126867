// Package registry holds the archivers available to the orchestrator.
//
// A Registry is built by the composition root and passed by reference.
// Archivers add and remove themselves through their own Register and
// Unregister routines; the orchestrator only reads.
package registry

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/mattjoyce/archivist/internal/failure"
	"github.com/mattjoyce/archivist/internal/log"
)

// Registry maps tool ids to archivers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	archivers map[string]Archiver
	logger    *slog.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		archivers: make(map[string]Archiver),
		logger:    log.WithComponent("registry"),
	}
}

// Register adds a under id. An id already in use keeps its first archiver.
func (r *Registry) Register(id string, a Archiver) error {
	if id == "" || a == nil {
		return failure.New(failure.KindInvalidArgument, "register archiver", "id and archiver are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.archivers[id]; exists {
		r.logger.Warn("duplicate archiver ignored (keeping first registered)", "archiver", id)
		return failure.New(failure.KindDuplicateArchiver, "register archiver", "archiver %q already registered", id)
	}
	r.archivers[id] = a
	r.logger.Info("registered archiver", "archiver", id)
	return nil
}

// Unregister removes id. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.archivers[id]; ok {
		delete(r.archivers, id)
		r.logger.Info("unregistered archiver", "archiver", id)
	}
}

// Get retrieves an archiver by id.
func (r *Registry) Get(id string) (Archiver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.archivers[id]
	return a, ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.archivers))
	for id := range r.archivers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered archivers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.archivers)
}

// Descriptors describes every registered archiver, sorted by id.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.archivers))
	for id, a := range r.archivers {
		out = append(out, Describe(id, a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
