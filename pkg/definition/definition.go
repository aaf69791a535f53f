// Package definition defines cohort definitions and their declared parameters.
// A definition is a named, saved patient filter; the expression parser
// only ever looks at its name and its parameter list.
package definition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned by resolvers and registries when no definition
// exists under the requested name.
var ErrNotFound = errors.New("definition not found")

// ErrAlreadyExists is returned when saving a definition whose name is taken.
var ErrAlreadyExists = errors.New("definition already exists")

// ErrInvalid is matched by errors for definitions that fail validation.
var ErrInvalid = errors.New("invalid definition")

// Resolver maps a definition name to its Definition.
// Implementations return ErrNotFound (possibly wrapped) for unknown names;
// any other error is treated as a failure of the resolver itself.
type Resolver interface {
	Resolve(ctx context.Context, name string) (*Definition, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, name string) (*Definition, error)

// Resolve calls f(ctx, name).
func (f ResolverFunc) Resolve(ctx context.Context, name string) (*Definition, error) {
	return f(ctx, name)
}

// Kind identifies the filter variant a definition represents.
type Kind string

const (
	KindGender       Kind = "gender"
	KindPatientState Kind = "patient-state"
	KindAge          Kind = "age"
	KindEncounter    Kind = "encounter"
	KindComposition  Kind = "composition"
	KindSQL          Kind = "sql"
)

var kinds = map[Kind]bool{
	KindGender:       true,
	KindPatientState: true,
	KindAge:          true,
	KindEncounter:    true,
	KindComposition:  true,
	KindSQL:          true,
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	return kinds[k]
}

// Definition is a named cohort filter with zero or more declared parameters.
type Definition struct {
	UUID        string            `json:"uuid" yaml:"uuid,omitempty"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        Kind              `json:"kind" yaml:"kind"`
	Parameters  []Parameter       `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Properties  map[string]string `json:"properties,omitempty" yaml:"properties,omitempty"`
	CreatedAt   time.Time         `json:"createTime" yaml:"-"`
	UpdatedAt   time.Time         `json:"updateTime" yaml:"-"`
}

// Parameter returns the declared parameter with the given name.
// Matching is exact and case-sensitive.
func (d *Definition) Parameter(name string) (Parameter, bool) {
	for _, p := range d.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// AddParameter declares a parameter, replacing any existing one with the same name.
func (d *Definition) AddParameter(p Parameter) {
	for i, existing := range d.Parameters {
		if existing.Name == p.Name {
			d.Parameters[i] = p
			return
		}
	}
	d.Parameters = append(d.Parameters, p)
}

// Clone returns a deep copy of the definition.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	if d.Parameters != nil {
		c.Parameters = make([]Parameter, len(d.Parameters))
		copy(c.Parameters, d.Parameters)
	}
	if d.Properties != nil {
		c.Properties = make(map[string]string, len(d.Properties))
		for k, v := range d.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}

// Validate checks the definition's name, kind and parameter declarations.
func (d *Definition) Validate() error {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return fmt.Errorf("definition name is required")
	}
	if name != d.Name {
		return fmt.Errorf("definition name %q has surrounding whitespace", d.Name)
	}
	if strings.ContainsAny(name, "[]|") {
		return fmt.Errorf("definition name %q must not contain '[', ']' or '|'", name)
	}
	if d.Kind != "" && !d.Kind.Valid() {
		return fmt.Errorf("definition %q: unknown kind %q", name, d.Kind)
	}

	seen := make(map[string]bool, len(d.Parameters))
	for _, p := range d.Parameters {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("definition %q: %w", name, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("definition %q: duplicate parameter %q", name, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// Normalize canonicalizes parameter types in place, so "date" becomes Date
// and an undeclared type becomes Text. Call it before Validate when the
// definition comes from user input.
func (d *Definition) Normalize() {
	for i := range d.Parameters {
		d.Parameters[i].normalize()
	}
}
