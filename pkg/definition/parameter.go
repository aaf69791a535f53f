package definition

import (
	"fmt"
	"strings"
)

// ParameterType is the declared value type of a parameter.
type ParameterType string

const (
	TypeDate     ParameterType = "Date"
	TypeNumber   ParameterType = "Number"
	TypeText     ParameterType = "Text"
	TypeCohort   ParameterType = "Cohort"
	TypeBoolean  ParameterType = "Boolean"
	TypeLocation ParameterType = "Location"
	TypeConcept  ParameterType = "Concept"
)

var parameterTypes = []ParameterType{
	TypeDate, TypeNumber, TypeText, TypeCohort, TypeBoolean, TypeLocation, TypeConcept,
}

// ParseParameterType matches s case-insensitively against the known types.
func ParseParameterType(s string) (ParameterType, error) {
	for _, t := range parameterTypes {
		if strings.EqualFold(string(t), s) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown parameter type %q", s)
}

// Parameter is a named, typed input slot declared by a definition.
type Parameter struct {
	Name          string        `json:"name" yaml:"name"`
	Label         string        `json:"label,omitempty" yaml:"label,omitempty"`
	Type          ParameterType `json:"type" yaml:"type"`
	DefaultValue  string        `json:"defaultValue,omitempty" yaml:"default,omitempty"`
	AllowMultiple bool          `json:"allowMultiple,omitempty" yaml:"allowMultiple,omitempty"`
}

// NewParameter creates a parameter declaration.
func NewParameter(name, label string, typ ParameterType, defaultValue string) Parameter {
	return Parameter{Name: name, Label: label, Type: typ, DefaultValue: defaultValue}
}

// Validate checks that the parameter has a usable name and a known type.
func (p Parameter) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("parameter name is required")
	}
	if strings.ContainsAny(p.Name, "=,|[] \t") {
		return fmt.Errorf("parameter name %q contains a reserved character", p.Name)
	}
	if _, err := ParseParameterType(string(p.Type)); err != nil {
		return fmt.Errorf("parameter %q: %w", p.Name, err)
	}
	return nil
}

// normalize canonicalizes the parameter's type; an empty type becomes Text.
func (p *Parameter) normalize() {
	if p.Type == "" {
		p.Type = TypeText
		return
	}
	if t, err := ParseParameterType(string(p.Type)); err == nil {
		p.Type = t
	}
}
