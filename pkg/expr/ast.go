package expr

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/lemonberrylabs/cohort-reporting/pkg/definition"
)

// BooleanOperator joins two terms of an expression.
type BooleanOperator int

const (
	And BooleanOperator = iota + 1
	Or
	Not // reserved; rejected by the parser
)

// String returns the upper-case operator name.
func (op BooleanOperator) String() string {
	switch op {
	case And:
		return "AND"
	case Or:
		return "OR"
	case Not:
		return "NOT"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (op BooleanOperator) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

// TokenKind distinguishes the two token variants.
type TokenKind int

const (
	TokenReference TokenKind = iota + 1
	TokenOperator
)

// Token is one element of a parsed expression: either a definition
// reference or a boolean operator.
type Token struct {
	Kind      TokenKind
	Reference *Reference      // set when Kind == TokenReference
	Operator  BooleanOperator // set when Kind == TokenOperator
}

// RefToken creates a reference token.
func RefToken(ref *Reference) Token {
	return Token{Kind: TokenReference, Reference: ref}
}

// OpToken creates an operator token.
func OpToken(op BooleanOperator) Token {
	return Token{Kind: TokenOperator, Operator: op}
}

// IsReference reports whether the token is a definition reference.
func (t Token) IsReference() bool { return t.Kind == TokenReference }

// IsOperator reports whether the token is a boolean operator.
func (t Token) IsOperator() bool { return t.Kind == TokenOperator }

// String renders the token in expression syntax.
func (t Token) String() string {
	if t.Kind == TokenOperator {
		return t.Operator.String()
	}
	if t.Reference == nil {
		return "[]"
	}
	return t.Reference.String()
}

// MarshalJSON renders the token as a tagged object.
func (t Token) MarshalJSON() ([]byte, error) {
	switch t.Kind {
	case TokenOperator:
		return json.Marshal(struct {
			Type     string          `json:"type"`
			Operator BooleanOperator `json:"operator"`
		}{"operator", t.Operator})
	case TokenReference:
		ref := t.Reference
		bindings := ref.Bindings
		if bindings == nil {
			bindings = map[string]string{}
		}
		return json.Marshal(struct {
			Type       string            `json:"type"`
			Definition string            `json:"definition"`
			UUID       string            `json:"uuid,omitempty"`
			Kind       definition.Kind   `json:"kind,omitempty"`
			Bindings   map[string]string `json:"bindings"`
			Pos        int               `json:"pos"`
		}{"reference", ref.Definition.Name, ref.Definition.UUID, ref.Definition.Kind, bindings, ref.Pos})
	default:
		return nil, fmt.Errorf("cannot marshal token of kind %d", t.Kind)
	}
}

// Reference is a resolved term: a borrowed definition plus the values bound
// to its parameters in this one term.
type Reference struct {
	// Definition is owned by the resolver and must be treated as read-only.
	Definition *definition.Definition
	// Bindings maps declared parameter names to their raw bound values.
	Bindings map[string]string
	// Pos is the byte offset of the term's '['.
	Pos int
}

// BoundParameter is a declared parameter paired with the value bound to it.
type BoundParameter struct {
	definition.Parameter
	Value string
	Bound bool
}

// Name returns the referenced definition's name.
func (r *Reference) Name() string {
	return r.Definition.Name
}

// Value returns the value bound to the named parameter.
func (r *Reference) Value(param string) (string, bool) {
	v, ok := r.Bindings[param]
	return v, ok
}

// Parameters returns a copy of the definition's declared parameters in
// declaration order, each paired with its bound value if any.
func (r *Reference) Parameters() []BoundParameter {
	out := make([]BoundParameter, len(r.Definition.Parameters))
	for i, p := range r.Definition.Parameters {
		v, ok := r.Bindings[p.Name]
		out[i] = BoundParameter{Parameter: p, Value: v, Bound: ok}
	}
	return out
}

// String renders the reference in expression syntax with bindings sorted by key.
func (r *Reference) String() string {
	if len(r.Bindings) == 0 {
		return "[" + r.Definition.Name + "]"
	}
	keys := make([]string, 0, len(r.Bindings))
	for k := range r.Bindings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('[')
	sb.WriteString(r.Definition.Name)
	sb.WriteByte('|')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(r.Bindings[k])
	}
	sb.WriteByte(']')
	return sb.String()
}

// TokenSequence is the parser's output, in left-to-right source order.
type TokenSequence []Token

// References returns the reference tokens' payloads in order.
func (s TokenSequence) References() []*Reference {
	var refs []*Reference
	for _, t := range s {
		if t.Kind == TokenReference {
			refs = append(refs, t.Reference)
		}
	}
	return refs
}

// Operators returns the operators in order.
func (s TokenSequence) Operators() []BooleanOperator {
	var ops []BooleanOperator
	for _, t := range s {
		if t.Kind == TokenOperator {
			ops = append(ops, t.Operator)
		}
	}
	return ops
}

// String renders the sequence as a canonical expression.
func (s TokenSequence) String() string {
	parts := make([]string, len(s))
	for i, t := range s {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}
