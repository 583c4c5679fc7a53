package instruction

import "strings"

// Parse turns one trimmed, non-comment line into its action and clauses.
//
// The first standalone "where" is always the boundary between action and
// clauses, even when the action itself was meant to contain that word. A
// clause in which no verb splits a subject from an object is dropped without
// an error; its text is kept in Parsed.Dropped.
func Parse(line string) Parsed {
	text := collapse(line)
	tokens := Scan(text)

	parsed := Parsed{Source: line, Clauses: []RawClause{}}

	where := -1
	for i, tok := range tokens {
		if tok.Kind == TokenWhere {
			where = i
			break
		}
	}

	if where < 0 {
		parsed.Action = strings.ToLower(text)
		return parsed
	}

	parsed.Action = strings.ToLower(strings.TrimSpace(text[:tokens[where].Start]))

	segStart := tokens[where].End
	var segment []Token
	for _, tok := range tokens[where+1:] {
		if tok.Kind == TokenAnd {
			parsed.addClause(text, segment, segStart, tok.Start)
			segStart = tok.End
			segment = nil
			continue
		}
		segment = append(segment, tok)
	}
	parsed.addClause(text, segment, segStart, len(text))

	return parsed
}

func (p *Parsed) addClause(text string, tokens []Token, start, end int) {
	raw := strings.TrimSpace(text[start:end])
	if raw == "" {
		return
	}

	clause, ok := splitClause(text, tokens, start, end)
	if !ok {
		p.Dropped = append(p.Dropped, raw)
		return
	}
	p.Clauses = append(p.Clauses, clause)
}

// splitClause tries the verb candidates in priority order. For each candidate
// the occurrences are tried left to right and the first one with text on both
// sides wins.
func splitClause(text string, tokens []Token, start, end int) (RawClause, bool) {
	for _, verb := range verbCandidates {
		for _, tok := range tokens {
			if tok.Kind != TokenVerb || !strings.EqualFold(tok.Text, verb) {
				continue
			}

			subject := strings.TrimSpace(text[start:tok.Start])
			object := strings.TrimSpace(text[tok.End:end])
			if subject == "" || object == "" {
				continue
			}

			return RawClause{
				Subject: strings.ToLower(subject),
				Verb:    verb,
				Object:  object,
			}, true
		}
	}
	return RawClause{}, false
}
