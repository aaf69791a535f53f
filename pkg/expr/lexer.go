package expr

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lemonberrylabs/cohort-reporting/pkg/types"
)

// Lexer tokenizes a cohort expression string.
type Lexer struct {
	input   string
	pos     int
	lexemes []Lexeme
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input}
}

// Tokenize scans the entire input and returns all lexemes, ending with LexEOF.
func (l *Lexer) Tokenize() ([]Lexeme, error) {
	for {
		lx, err := l.next()
		if err != nil {
			return nil, err
		}
		l.lexemes = append(l.lexemes, lx)
		if lx.Kind == LexEOF {
			break
		}
	}
	return l.lexemes, nil
}

// next returns the next lexeme from the input.
func (l *Lexer) next() (Lexeme, error) {
	l.skipWhitespace()

	if l.pos >= len(l.input) {
		return Lexeme{Kind: LexEOF, Pos: l.pos}, nil
	}

	switch ch := l.input[l.pos]; ch {
	case '[':
		return l.readTerm()
	case ']':
		return Lexeme{}, types.NewSyntaxError(l.pos, "unexpected ']' without matching '['")
	case '(', ')':
		return Lexeme{}, types.NewSyntaxError(l.pos, "grouping with %q is not supported", string(ch))
	}

	return l.readWord()
}

// readTerm captures everything between '[' and the next ']' verbatim.
// Brackets do not nest, so a '[' before that ']' leaves the first one open.
func (l *Lexer) readTerm() (Lexeme, error) {
	start := l.pos
	end := strings.IndexByte(l.input[start+1:], ']')
	if end == -1 {
		return Lexeme{}, types.NewSyntaxError(start, "unterminated '['")
	}
	content := l.input[start+1 : start+1+end]
	if strings.IndexByte(content, '[') != -1 {
		return Lexeme{}, types.NewSyntaxError(start, "unterminated '['")
	}
	l.pos = start + end + 2
	return Lexeme{Kind: LexTerm, Text: content, Pos: start}, nil
}

// readWord reads a bare word and classifies it as an operator keyword.
func (l *Lexer) readWord() (Lexeme, error) {
	start := l.pos
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if unicode.IsSpace(r) || r == '[' || r == ']' || r == '(' || r == ')' {
			break
		}
		l.pos += size
	}

	word := l.input[start:l.pos]
	switch strings.ToLower(word) {
	case "and":
		return Lexeme{Kind: LexAnd, Text: word, Pos: start}, nil
	case "or":
		return Lexeme{Kind: LexOr, Text: word, Pos: start}, nil
	case "not":
		return Lexeme{Kind: LexNot, Text: word, Pos: start}, nil
	default:
		return Lexeme{}, types.NewSyntaxError(start, "unexpected word %q outside brackets", word)
	}
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		r, size := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += size
	}
}
