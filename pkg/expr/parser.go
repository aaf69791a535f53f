package expr

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/lemonberrylabs/cohort-reporting/pkg/definition"
	"github.com/lemonberrylabs/cohort-reporting/pkg/types"
)

// DefaultMaxLength is the default maximum length of a single expression.
const DefaultMaxLength = 4000

// Parser parses cohort expressions against a definition resolver.
// A Parser holds no per-call state and is safe for concurrent use as long
// as its resolver is.
type Parser struct {
	resolver  definition.Resolver
	maxLength int
	logger    *slog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithMaxLength limits the expression length in bytes. Zero or less disables the limit.
func WithMaxLength(n int) Option {
	return func(p *Parser) { p.maxLength = n }
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parser) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New creates a parser that resolves names through resolver.
func New(resolver definition.Resolver, opts ...Option) *Parser {
	p := &Parser{
		resolver:  resolver,
		maxLength: DefaultMaxLength,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse parses expression with a default parser around resolver.
func Parse(ctx context.Context, expression string, resolver definition.Resolver) (TokenSequence, error) {
	return New(resolver).Parse(ctx, expression)
}

// term is a decomposed bracket before name resolution.
type term struct {
	name        string
	assignments []assignment
	pos         int
}

type assignment struct {
	key   string
	value string
}

// Parse converts expression into a token sequence. Syntax is validated in
// full before the resolver is consulted, so a malformed expression never
// triggers a lookup. Any error aborts the parse with a nil sequence.
func (p *Parser) Parse(ctx context.Context, expression string) (TokenSequence, error) {
	if p.maxLength > 0 && len(expression) > p.maxLength {
		return nil, types.NewSyntaxError(p.maxLength,
			"expression exceeds maximum length of %d characters", p.maxLength)
	}

	lexemes, err := NewLexer(expression).Tokenize()
	if err != nil {
		return nil, err
	}

	if err := checkAlternation(lexemes); err != nil {
		return nil, err
	}

	// Decompose every term up front so assignment errors surface before
	// any resolver call.
	terms := make([]term, 0, (len(lexemes)+1)/2)
	for _, lx := range lexemes {
		if lx.Kind != LexTerm {
			continue
		}
		t, err := decomposeTerm(lx)
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}

	seq := make(TokenSequence, 0, len(lexemes)-1)
	next := 0
	for _, lx := range lexemes {
		switch lx.Kind {
		case LexTerm:
			ref, err := p.resolveTerm(ctx, terms[next])
			if err != nil {
				return nil, err
			}
			next++
			seq = append(seq, RefToken(ref))
		case LexAnd:
			seq = append(seq, OpToken(And))
		case LexOr:
			seq = append(seq, OpToken(Or))
		}
	}

	p.logger.Debug("parsed cohort expression",
		slog.Int("terms", len(terms)),
		slog.Int("tokens", len(seq)))
	return seq, nil
}

// checkAlternation enforces term (operator term)* over the lexemes, ignoring
// the trailing EOF. An empty expression is valid.
func checkAlternation(lexemes []Lexeme) error {
	wantTerm := true
	for _, lx := range lexemes {
		switch {
		case lx.Kind == LexEOF:
			if len(lexemes) > 1 && wantTerm {
				return types.NewSyntaxError(lx.Pos, "expression ends with an operator")
			}
			return nil
		case lx.Kind == LexNot:
			return types.NewSyntaxError(lx.Pos, "operator %q is reserved and not supported", lx.Text)
		case lx.Kind.isOperator():
			if wantTerm {
				return types.NewSyntaxError(lx.Pos, "operator %q must follow a term", lx.Text)
			}
			wantTerm = true
		case lx.Kind == LexTerm:
			if !wantTerm {
				return types.NewSyntaxError(lx.Pos, "missing operator before term [%s]", lx.Text)
			}
			wantTerm = false
		}
	}
	return nil
}

// decomposeTerm splits "Name|k=v,k2=v2" into its name and assignments.
func decomposeTerm(lx Lexeme) (term, error) {
	content := lx.Text
	t := term{pos: lx.Pos}

	name, params, hasParams := strings.Cut(content, "|")
	t.name = strings.TrimSpace(name)
	if t.name == "" {
		return term{}, types.NewSyntaxError(lx.Pos, "empty definition name in [%s]", content)
	}
	if !hasParams {
		return t, nil
	}

	seen := make(map[string]bool)
	for _, piece := range strings.Split(params, ",") {
		key, value, ok := strings.Cut(piece, "=")
		if !ok {
			return term{}, types.NewSyntaxError(lx.Pos,
				"malformed assignment %q in [%s]: expected key=value", strings.TrimSpace(piece), content)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return term{}, types.NewSyntaxError(lx.Pos, "assignment with empty key in [%s]", content)
		}
		if seen[key] {
			return term{}, types.NewSyntaxError(lx.Pos, "parameter %q assigned more than once in [%s]", key, content)
		}
		seen[key] = true
		t.assignments = append(t.assignments, assignment{key: key, value: strings.TrimSpace(value)})
	}
	return t, nil
}

// resolveTerm looks up the term's definition and binds its assignments.
func (p *Parser) resolveTerm(ctx context.Context, t term) (*Reference, error) {
	def, err := p.resolver.Resolve(ctx, t.name)
	if err != nil {
		if errors.Is(err, definition.ErrNotFound) {
			return nil, types.NewUnresolvedReferenceError(t.pos, t.name)
		}
		return nil, types.NewResolverError(t.pos, t.name, err)
	}
	if def == nil {
		return nil, types.NewUnresolvedReferenceError(t.pos, t.name)
	}

	ref := &Reference{
		Definition: def,
		Bindings:   make(map[string]string, len(t.assignments)),
		Pos:        t.pos,
	}
	for _, a := range t.assignments {
		if _, ok := def.Parameter(a.key); !ok {
			return nil, types.NewUnknownParameterError(t.pos, def.Name, a.key)
		}
		ref.Bindings[a.key] = a.value
	}
	return ref, nil
}
