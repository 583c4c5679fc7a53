package instruction

import "strings"

// TokenKind classifies a token of an instruction line.
type TokenKind int

const (
	// TokenWord is any word without special meaning.
	TokenWord TokenKind = iota

	// TokenWhere is the standalone word "where" in any case.
	TokenWhere

	// TokenAnd is the standalone word "and" in any case.
	TokenAnd

	// TokenVerb is one of the assignment verbs: "is", "equals" or "=".
	TokenVerb
)

// String returns a short name for the token kind.
func (k TokenKind) String() string {
	switch k {
	case TokenWhere:
		return "where"
	case TokenAnd:
		return "and"
	case TokenVerb:
		return "verb"
	default:
		return "word"
	}
}

// Token is a lexical unit of a collapsed instruction line. Start and End are
// byte offsets into the scanned text so callers can slice the original text
// back out with its spacing and case intact.
type Token struct {
	Kind  TokenKind
	Text  string
	Start int
	End   int
}

// verbCandidates lists the verbs in matching priority order.
var verbCandidates = []string{"is", "equals", "="}

// collapse trims the line and reduces every whitespace run to one space.
func collapse(line string) string {
	return strings.Join(strings.Fields(line), " ")
}

// Scan splits a collapsed line into tokens. Words are separated by single
// spaces and "=" always forms a token of its own, even inside a word.
func Scan(text string) []Token {
	var tokens []Token
	start := -1

	flush := func(end int) {
		if start < 0 {
			return
		}
		tokens = append(tokens, classify(text[start:end], start, end))
		start = -1
	}

	for i := 0; i < len(text); i++ {
		switch text[i] {
		case ' ':
			flush(i)
		case '=':
			flush(i)
			tokens = append(tokens, Token{Kind: TokenVerb, Text: "=", Start: i, End: i + 1})
		default:
			if start < 0 {
				start = i
			}
		}
	}
	flush(len(text))

	return tokens
}

func classify(word string, start, end int) Token {
	kind := TokenWord
	switch strings.ToLower(word) {
	case "where":
		kind = TokenWhere
	case "and":
		kind = TokenAnd
	case "is", "equals":
		kind = TokenVerb
	}
	return Token{Kind: kind, Text: word, Start: start, End: end}
}
