// Package registry holds the set of generators known to the pipeline. Reads
// go through an immutable snapshot so selection never blocks on registration.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/phrazzld/quill/internal/generation"
)

var (
	// ErrDuplicateID is returned when registering a generator whose ID is taken.
	ErrDuplicateID = errors.New("generator already registered")

	// ErrNotRegistered is returned for operations on an unknown generator ID.
	ErrNotRegistered = errors.New("generator not registered")

	// ErrNilGenerator is returned when registering a nil generator.
	ErrNilGenerator = errors.New("generator cannot be nil")

	// ErrEmptyID is returned when a generator describes itself without an ID.
	ErrEmptyID = errors.New("generator ID cannot be empty")
)

// Registration is a registered generator plus the mutable state the registry
// tracks for it.
type Registration struct {
	Generator generation.Generator
	ID        string
	Priority  int
	Enabled   bool
	Types     []generation.ContentType
	Method    generation.Method

	// Sequence is the registration order, used to break priority ties.
	Sequence uint64
}

// Supports reports whether the registration lists contentType.
func (r Registration) Supports(contentType generation.ContentType) bool {
	for _, t := range r.Types {
		if t == contentType {
			return true
		}
	}
	return false
}

// snapshot is never mutated after it is published.
type snapshot struct {
	byID  map[string]Registration
	order []string
}

// Registry is a concurrency-safe generator registry.
type Registry struct {
	mu      sync.Mutex
	current atomic.Pointer[snapshot]
	seq     uint64
	logger  *slog.Logger
}

// New creates an empty Registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger.With("component", "registry")}
	r.current.Store(&snapshot{byID: map[string]Registration{}})
	return r
}

// Register adds gen. Its enabled state starts from its descriptor.
func (r *Registry) Register(gen generation.Generator) error {
	if gen == nil {
		return ErrNilGenerator
	}
	desc := gen.Describe()
	if desc.ID == "" {
		return ErrEmptyID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	if _, exists := old.byID[desc.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateID, desc.ID)
	}

	r.seq++
	reg := Registration{
		Generator: gen,
		ID:        desc.ID,
		Priority:  desc.Priority,
		Enabled:   desc.Enabled,
		Types:     append([]generation.ContentType(nil), desc.SupportedTypes...),
		Method:    desc.Method,
		Sequence:  r.seq,
	}

	next := old.clone()
	next.byID[reg.ID] = reg
	next.order = append(next.order, reg.ID)
	r.current.Store(next)

	r.logger.Info("generator registered",
		"generator_id", reg.ID,
		"priority", reg.Priority,
		"enabled", reg.Enabled)
	return nil
}

// Unregister asks the generator with the given id to shut down, then removes
// it. Shutdown errors are logged and do not prevent removal. Writers are held
// off until removal completes, so a generator is shut down at most once.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, exists := r.current.Load().byID[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}

	if err := shutdown(ctx, reg.Generator); err != nil {
		r.logger.Warn("generator shutdown failed during unregister",
			"generator_id", id,
			"error", err)
	}

	next := r.current.Load().clone()
	delete(next.byID, id)
	next.order = removeID(next.order, id)
	r.current.Store(next)

	r.logger.Info("generator unregistered", "generator_id", id)
	return nil
}

func shutdown(ctx context.Context, gen generation.Generator) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("shutdown panicked: %v", r)
		}
	}()
	return gen.Shutdown(ctx)
}

// SetEnabled toggles whether a generator is offered during selection.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.current.Load()
	reg, exists := old.byID[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotRegistered, id)
	}
	if reg.Enabled == enabled {
		return nil
	}

	reg.Enabled = enabled
	next := old.clone()
	next.byID[id] = reg
	r.current.Store(next)

	r.logger.Info("generator enabled state changed", "generator_id", id, "enabled", enabled)
	return nil
}

// Get returns the registration for id.
func (r *Registry) Get(id string) (Registration, bool) {
	reg, ok := r.current.Load().byID[id]
	return reg, ok
}

// All returns every registration in registration order, enabled or not.
func (r *Registry) All() []Registration {
	snap := r.current.Load()
	out := make([]Registration, 0, len(snap.order))
	for _, id := range snap.order {
		out = append(out, snap.byID[id])
	}
	return out
}

// Supports reports whether any registered generator, enabled or not,
// declares contentType.
func (r *Registry) Supports(contentType generation.ContentType) bool {
	for _, reg := range r.current.Load().byID {
		if reg.Supports(contentType) {
			return true
		}
	}
	return false
}

// Len returns the number of registered generators.
func (r *Registry) Len() int {
	return len(r.current.Load().order)
}

// Query returns the enabled generators that support contentType, ordered by
// priority descending with ties broken by registration order.
func (r *Registry) Query(contentType generation.ContentType) []Registration {
	snap := r.current.Load()
	out := make([]Registration, 0, len(snap.order))
	for _, id := range snap.order {
		reg := snap.byID[id]
		if reg.Enabled && reg.Supports(contentType) {
			out = append(out, reg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		byID:  make(map[string]Registration, len(s.byID)+1),
		order: make([]string, len(s.order), len(s.order)+1),
	}
	for id, reg := range s.byID {
		next.byID[id] = reg
	}
	copy(next.order, s.order)
	return next
}

func removeID(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
