// Package bind evaluates the values bound to parameters in a parsed cohort
// expression. The parser keeps bound values as opaque text; bind turns them
// into typed values, evaluating ${...} placeholders against a caller-supplied
// context and applying declared defaults to parameters left unbound.
package bind

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	exprlang "github.com/expr-lang/expr"

	"github.com/lemonberrylabs/cohort-reporting/pkg/definition"
	"github.com/lemonberrylabs/cohort-reporting/pkg/expr"
)

// Context holds the variables placeholders may reference, e.g.
//
//	bind.Context{"report": map[string]any{"startDate": start}}
//
// makes ${report.startDate} available.
type Context map[string]any

// Source records where a parameter's value came from.
type Source string

const (
	SourceBound   Source = "bound"
	SourceDefault Source = "default"
	SourceUnset   Source = "unset"
)

// Value is one evaluated parameter of a reference.
type Value struct {
	Parameter definition.Parameter `json:"parameter"`
	Raw       string               `json:"raw,omitempty"`
	Value     any                  `json:"value"`
	Source    Source               `json:"source"`
	// Deferred is set by Preview for values holding ${...} placeholders,
	// which are left unevaluated.
	Deferred bool `json:"deferred,omitempty"`
}

// Binding holds the evaluated parameters of one reference, in declaration order.
type Binding struct {
	Definition string  `json:"definition"`
	Pos        int     `json:"pos"`
	Values     []Value `json:"values"`
}

// Lookup returns the evaluated value of the named parameter.
func (b Binding) Lookup(name string) (Value, bool) {
	for _, v := range b.Values {
		if v.Parameter.Name == name {
			return v, true
		}
	}
	return Value{}, false
}

// ErrEvaluation is matched by every error Resolve returns.
var ErrEvaluation = errors.New("parameter evaluation failed")

// Error reports a parameter value that could not be evaluated or converted.
type Error struct {
	Definition string
	Parameter  string
	Raw        string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s.%s = %q: %v", e.Definition, e.Parameter, e.Raw, e.Err)
}

func (e *Error) Unwrap() []error { return []error{ErrEvaluation, e.Err} }

// Resolve evaluates the bound parameters of every reference in seq, in
// sequence order. Operators are skipped.
func Resolve(seq expr.TokenSequence, ctx Context) ([]Binding, error) {
	return resolve(seq, ctx, false)
}

// Preview is Resolve without a context: literal values and defaults are
// evaluated, values holding ${...} placeholders are marked Deferred.
func Preview(seq expr.TokenSequence) ([]Binding, error) {
	return resolve(seq, nil, true)
}

func resolve(seq expr.TokenSequence, ctx Context, deferPlaceholders bool) ([]Binding, error) {
	refs := seq.References()
	out := make([]Binding, 0, len(refs))
	for _, ref := range refs {
		b, err := resolveReference(ref, ctx, deferPlaceholders)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ResolveReference evaluates every declared parameter of ref.
func ResolveReference(ref *expr.Reference, ctx Context) (Binding, error) {
	return resolveReference(ref, ctx, false)
}

func resolveReference(ref *expr.Reference, ctx Context, deferPlaceholders bool) (Binding, error) {
	b := Binding{Definition: ref.Name(), Pos: ref.Pos}
	for _, bp := range ref.Parameters() {
		v := Value{Parameter: bp.Parameter}
		switch {
		case bp.Bound:
			v.Raw, v.Source = bp.Value, SourceBound
		case bp.Parameter.DefaultValue != "":
			v.Raw, v.Source = bp.Parameter.DefaultValue, SourceDefault
		default:
			v.Source = SourceUnset
			b.Values = append(b.Values, v)
			continue
		}
		if deferPlaceholders && strings.Contains(v.Raw, "${") {
			v.Deferred = true
			b.Values = append(b.Values, v)
			continue
		}

		val, err := Evaluate(v.Raw, bp.Parameter.Type, ctx)
		if err != nil {
			return Binding{}, &Error{
				Definition: b.Definition,
				Parameter:  bp.Parameter.Name,
				Raw:        v.Raw,
				Err:        err,
			}
		}
		v.Value = val
		b.Values = append(b.Values, v)
	}
	return b, nil
}

// Evaluate converts raw to typ. A raw value that is exactly one ${...}
// placeholder takes the placeholder's result; placeholders embedded in other
// text are substituted as strings first.
func Evaluate(raw string, typ definition.ParameterType, ctx Context) (any, error) {
	if src, ok := wholePlaceholder(raw); ok {
		result, err := run(src, ctx)
		if err != nil {
			return nil, err
		}
		return Coerce(result, typ)
	}

	text, err := Interpolate(raw, ctx)
	if err != nil {
		return nil, err
	}
	return Coerce(text, typ)
}

// Interpolate replaces every ${...} in s with its evaluated result.
func Interpolate(s string, ctx Context) (string, error) {
	var sb strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			sb.WriteString(s)
			return sb.String(), nil
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			return "", fmt.Errorf("unterminated placeholder in %q", s)
		}
		end += start

		result, err := run(s[start+2:end], ctx)
		if err != nil {
			return "", err
		}
		sb.WriteString(s[:start])
		sb.WriteString(format(result))
		s = s[end+1:]
	}
}

func wholePlaceholder(raw string) (string, bool) {
	if !strings.HasPrefix(raw, "${") || !strings.HasSuffix(raw, "}") {
		return "", false
	}
	inner := raw[2 : len(raw)-1]
	if strings.Contains(inner, "${") || strings.Contains(inner, "}") {
		return "", false
	}
	return inner, true
}

func run(source string, ctx Context) (any, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("empty placeholder")
	}
	env := map[string]any(ctx)
	if env == nil {
		env = map[string]any{}
	}
	program, err := exprlang.Compile(source, exprlang.Env(env))
	if err != nil {
		return nil, fmt.Errorf("compile ${%s}: %w", source, err)
	}
	result, err := exprlang.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("evaluate ${%s}: %w", source, err)
	}
	return result, nil
}

func format(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return fmt.Sprint(t)
	}
}

// Date layouts accepted for Date parameters, tried in order.
var dateLayouts = []string{time.RFC3339Nano, time.DateTime, time.DateOnly}

// Coerce converts v to the Go representation of typ: time.Time for Date,
// float64 for Number, bool for Boolean and string for everything else.
func Coerce(v any, typ definition.ParameterType) (any, error) {
	switch typ {
	case definition.TypeDate:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			s := strings.TrimSpace(t)
			for _, layout := range dateLayouts {
				if d, err := time.Parse(layout, s); err == nil {
					return d, nil
				}
			}
			return nil, fmt.Errorf("%q is not a date", s)
		}
	case definition.TypeNumber:
		switch t := v.(type) {
		case int:
			return float64(t), nil
		case int64:
			return float64(t), nil
		case float64:
			return t, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", t)
			}
			return f, nil
		}
	case definition.TypeBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("%q is not a boolean", t)
			}
			return b, nil
		}
	default:
		return format(v), nil
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, typ)
}
