package formula

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"bank-statement-classifier/internal/models"
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
	numberPattern     = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)
)

// CompileError reports a condition that cannot be turned into a predicate.
type CompileError struct {
	Condition string
	Offset    int
	Reason    string
}

func newCompileError(condition string, offset int, reason string) *CompileError {
	return &CompileError{Condition: condition, Offset: offset, Reason: reason}
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("cannot compile condition %q: %s at offset %d", e.Condition, e.Reason, e.Offset)
}

// Parse turns a condition into its syntax tree.
func Parse(condition string) (Node, error) {
	if strings.TrimSpace(condition) == "" {
		return nil, newCompileError(condition, 0, "empty condition")
	}
	return parseExpr(condition, condition, 0)
}

func parseExpr(condition, text string, offset int) (Node, error) {
	lead := len(text) - len(strings.TrimLeft(text, " \t\r\n"))
	t := strings.TrimSpace(text)
	offset += lead

	if t == "" {
		return nil, newCompileError(condition, offset, "empty expression")
	}

	if t[0] == '"' || t[0] == '\'' {
		value, end, err := unquote(condition, t, offset)
		if err != nil {
			return nil, err
		}
		if end != len(t) {
			return nil, newCompileError(condition, offset+end, "unexpected text after string literal")
		}
		return &StringLit{Value: value}, nil
	}

	if open := strings.IndexByte(t, '('); open >= 0 {
		return parseCall(condition, t, open, offset)
	}

	if strings.ContainsAny(t, ")\"'") {
		return nil, newCompileError(condition, offset, fmt.Sprintf("invalid token %q", t))
	}

	if numberPattern.MatchString(t) {
		d, err := decimal.NewFromString(t)
		if err != nil {
			return nil, newCompileError(condition, offset, fmt.Sprintf("invalid number %q", t))
		}
		return &NumberLit{Value: d}, nil
	}

	switch strings.ToUpper(t) {
	case "TRUE":
		return &BoolLit{Value: true}, nil
	case "FALSE":
		return &BoolLit{Value: false}, nil
	case "NULL":
		return &NullLit{}, nil
	}

	if identifierPattern.MatchString(t) {
		return &FieldRef{Name: models.NormalizeKey(t)}, nil
	}

	return nil, newCompileError(condition, offset, fmt.Sprintf("invalid token %q", t))
}

func parseCall(condition, t string, open, offset int) (Node, error) {
	name := strings.TrimSpace(t[:open])
	if !identifierPattern.MatchString(name) {
		return nil, newCompileError(condition, offset, fmt.Sprintf("invalid function name %q", name))
	}

	closeIdx, err := matchingParen(condition, t, open, offset)
	if err != nil {
		return nil, err
	}
	if closeIdx != len(t)-1 {
		return nil, newCompileError(condition, offset+closeIdx+1, "unexpected text after ')'")
	}

	spans, err := splitArgs(condition, t[open+1:closeIdx], offset+open+1)
	if err != nil {
		return nil, err
	}

	call := &Call{Name: normalizeFuncName(name), Args: make([]Node, 0, len(spans))}
	for _, sp := range spans {
		arg, err := parseExpr(condition, sp.text, sp.offset)
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
	}
	return call, nil
}
