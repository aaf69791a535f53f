// Package store provides storage for cohort definitions.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lemonberrylabs/cohort-reporting/pkg/definition"
)

// Registry stores cohort definitions by unique name. Every registry is also
// a definition.Resolver, so it can back the expression parser directly.
//
// Definitions passed in and returned are copies; mutating them never changes
// stored state.
type Registry interface {
	definition.Resolver

	// Create stores a new definition, assigning its UUID and timestamps.
	// It returns definition.ErrAlreadyExists if the name or UUID is taken.
	Create(ctx context.Context, def *definition.Definition) (*definition.Definition, error)
	// Save creates the definition or replaces the one with the same name,
	// keeping the existing UUID and creation time.
	Save(ctx context.Context, def *definition.Definition) (*definition.Definition, error)
	Get(ctx context.Context, name string) (*definition.Definition, error)
	GetByUUID(ctx context.Context, id string) (*definition.Definition, error)
	// List returns all definitions ordered by name.
	List(ctx context.Context) ([]*definition.Definition, error)
	// Update replaces the definition stored under name. A rename is allowed
	// as long as the new name is free.
	Update(ctx context.Context, name string, def *definition.Definition) (*definition.Definition, error)
	Delete(ctx context.Context, name string) error
}

// Clock returns the current time. Tests replace it for stable timestamps.
type Clock func() time.Time

// Store is a thread-safe in-memory Registry.
type Store struct {
	mu     sync.RWMutex
	byName map[string]*definition.Definition
	byUUID map[string]*definition.Definition
	now    Clock
}

var _ Registry = (*Store)(nil)

// New creates a new empty store.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates an empty store that timestamps with clock.
func NewWithClock(clock Clock) *Store {
	return &Store{
		byName: make(map[string]*definition.Definition),
		byUUID: make(map[string]*definition.Definition),
		now:    clock,
	}
}

// Prepare normalizes and validates def and returns a copy ready to store.
// A missing UUID is generated.
func Prepare(def *definition.Definition) (*definition.Definition, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: definition is required", definition.ErrInvalid)
	}
	c := def.Clone()
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", definition.ErrInvalid, err)
	}
	if c.UUID == "" {
		c.UUID = uuid.NewString()
	} else if _, err := uuid.Parse(c.UUID); err != nil {
		return nil, fmt.Errorf("%w: definition %q: uuid %q is malformed", definition.ErrInvalid, c.Name, c.UUID)
	}
	return c, nil
}

// Create stores a new definition.
func (s *Store) Create(_ context.Context, def *definition.Definition) (*definition.Definition, error) {
	d, err := Prepare(def)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[d.Name]; exists {
		return nil, fmt.Errorf("%w: %q", definition.ErrAlreadyExists, d.Name)
	}
	if _, exists := s.byUUID[d.UUID]; exists {
		return nil, fmt.Errorf("%w: uuid %s", definition.ErrAlreadyExists, d.UUID)
	}

	now := s.now()
	d.CreatedAt = now
	d.UpdatedAt = now
	s.put(d)
	return d.Clone(), nil
}

// Save creates or replaces the definition with def's name.
func (s *Store) Save(_ context.Context, def *definition.Definition) (*definition.Definition, error) {
	d, err := Prepare(def)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.byName[d.Name]; ok {
		delete(s.byUUID, existing.UUID)
		d.UUID = existing.UUID
		d.CreatedAt = existing.CreatedAt
	} else {
		if _, taken := s.byUUID[d.UUID]; taken {
			return nil, fmt.Errorf("%w: uuid %s", definition.ErrAlreadyExists, d.UUID)
		}
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	s.put(d)
	return d.Clone(), nil
}

// Get retrieves a definition by its exact name.
func (s *Store) Get(_ context.Context, name string) (*definition.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", definition.ErrNotFound, name)
	}
	return d.Clone(), nil
}

// GetByUUID retrieves a definition by its UUID.
func (s *Store) GetByUUID(_ context.Context, id string) (*definition.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.byUUID[id]
	if !ok {
		return nil, fmt.Errorf("%w: uuid %s", definition.ErrNotFound, id)
	}
	return d.Clone(), nil
}

// Resolve implements definition.Resolver.
func (s *Store) Resolve(ctx context.Context, name string) (*definition.Definition, error) {
	return s.Get(ctx, name)
}

// List returns all definitions ordered by name.
func (s *Store) List(_ context.Context) ([]*definition.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*definition.Definition, 0, len(s.byName))
	for _, d := range s.byName {
		result = append(result, d.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Update replaces the definition stored under name.
func (s *Store) Update(_ context.Context, name string, def *definition.Definition) (*definition.Definition, error) {
	d, err := Prepare(def)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", definition.ErrNotFound, name)
	}
	if d.Name != name {
		if _, taken := s.byName[d.Name]; taken {
			return nil, fmt.Errorf("%w: %q", definition.ErrAlreadyExists, d.Name)
		}
	}

	s.remove(existing)
	d.UUID = existing.UUID
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = s.now()
	s.put(d)
	return d.Clone(), nil
}

// Delete removes a definition.
func (s *Store) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.byName[name]
	if !ok {
		return fmt.Errorf("%w: %q", definition.ErrNotFound, name)
	}
	s.remove(d)
	return nil
}

// Names lists the names stored in r, ordered.
func Names(ctx context.Context, r Registry) ([]string, error) {
	defs, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names, nil
}

func (s *Store) put(d *definition.Definition) {
	s.byName[d.Name] = d
	s.byUUID[d.UUID] = d
}

func (s *Store) remove(d *definition.Definition) {
	delete(s.byName, d.Name)
	delete(s.byUUID, d.UUID)
}
