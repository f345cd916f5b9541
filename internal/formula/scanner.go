package formula

import (
	"strings"
)

// scanner tracks parenthesis depth and quoted-string state one byte at a
// time. All syntax characters are ASCII, so byte-wise scanning is safe for
// UTF-8 text inside string literals.
type scanner struct {
	depth   int
	quote   byte
	escaped bool
}

func (s *scanner) inString() bool {
	return s.quote != 0
}

// step consumes c and reports whether it is structural, i.e. outside any
// string literal and not a quote character itself.
func (s *scanner) step(c byte) bool {
	if s.quote != 0 {
		switch {
		case s.escaped:
			s.escaped = false
		case c == '\\':
			s.escaped = true
		case c == s.quote:
			s.quote = 0
		}
		return false
	}

	switch c {
	case '"', '\'':
		s.quote = c
		return false
	case '(':
		s.depth++
	case ')':
		s.depth--
	}
	return true
}

// span is an argument substring and its offset in the whole condition.
type span struct {
	text   string
	offset int
}

// splitArgs splits the inside of a call's parentheses on top-level commas.
// Commas nested in calls or inside string literals never split.
func splitArgs(condition string, inner string, offset int) ([]span, error) {
	if strings.TrimSpace(inner) == "" {
		return nil, nil
	}

	var (
		sc    scanner
		args  []span
		start int
	)

	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if !sc.step(c) {
			continue
		}
		if sc.depth < 0 {
			return nil, newCompileError(condition, offset+i, "unexpected ')'")
		}
		if c == ',' && sc.depth == 0 {
			arg, err := argSpan(condition, inner[start:i], offset+start)
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			start = i + 1
		}
	}

	if sc.inString() {
		return nil, newCompileError(condition, offset+len(inner), "unterminated string literal")
	}
	if sc.depth != 0 {
		return nil, newCompileError(condition, offset+len(inner), "unbalanced parentheses")
	}

	arg, err := argSpan(condition, inner[start:], offset+start)
	if err != nil {
		return nil, err
	}
	return append(args, arg), nil
}

func argSpan(condition, text string, offset int) (span, error) {
	if strings.TrimSpace(text) == "" {
		return span{}, newCompileError(condition, offset, "empty argument")
	}
	return span{text: text, offset: offset}, nil
}

// matchingParen returns the index in s of the ')' closing the '(' at open.
func matchingParen(condition, s string, open, offset int) (int, error) {
	var sc scanner
	for i := open; i < len(s); i++ {
		if !sc.step(s[i]) {
			continue
		}
		if sc.depth == 0 {
			return i, nil
		}
	}
	if sc.inString() {
		return -1, newCompileError(condition, offset+len(s), "unterminated string literal")
	}
	return -1, newCompileError(condition, offset+open, "unbalanced parentheses")
}

// unquote reads a quoted literal starting at s[0] and returns its value and
// the index just past the closing quote.
func unquote(condition, s string, offset int) (string, int, error) {
	quote := s[0]
	var b strings.Builder
	escaped := false

	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			b.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", -1, newCompileError(condition, offset+len(s), "unterminated string literal")
}
