// Package expr implements the cohort expression parser. It handles
// expressions such as
//
//	[Male] and [EnrolledOnDate|untilDate=${report.startDate}]
//
// where each bracketed term names a stored cohort definition, optionally
// binding values to its declared parameters, and terms are joined by
// boolean operator keywords.
package expr

// LexemeKind represents the type of a lexical unit.
type LexemeKind int

const (
	LexTerm LexemeKind = iota // [...] with the brackets stripped
	LexAnd                    // and
	LexOr                     // or
	LexNot                    // not
	LexEOF                    // end of expression
)

// Lexeme is a single lexical unit of an expression.
type Lexeme struct {
	Kind LexemeKind
	Text string // bracket content for LexTerm, the keyword as written otherwise
	Pos  int    // byte offset in source
}

// String returns a debug-friendly representation of the lexeme kind.
func (k LexemeKind) String() string {
	switch k {
	case LexTerm:
		return "TERM"
	case LexAnd:
		return "AND"
	case LexOr:
		return "OR"
	case LexNot:
		return "NOT"
	case LexEOF:
		return "EOF"
	default:
		return "UNKNOWN"
	}
}

// isOperator reports whether the lexeme is a boolean operator keyword.
func (k LexemeKind) isOperator() bool {
	return k == LexAnd || k == LexOr || k == LexNot
}
