// Package formula compiles human-authored rule conditions into predicates
// over a raw bank-statement row.
//
// A condition is a nested function call:
//
//	AND(EQ(DocProdGroup, "COM"), NOT(CONTAINS(DocNomination, 'refund, partial')))
//
// Arguments are nested calls, quoted strings (single or double quotes with
// backslash escapes), numbers, TRUE/FALSE/NULL, or bare identifiers which
// are resolved as case-insensitive field references.
//
// Compilation produces closures; nothing is ever evaluated as source text.
// Structural problems (unbalanced parentheses, unterminated strings, wrong
// arity of a known function) are reported as *CompileError. Function names
// outside the catalog compile to an always-false node so one bad rule
// cannot abort a batch.
package formula

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Node is an element of a parsed condition.
type Node interface {
	node()
}

// Call is a function application.
type Call struct {
	Name string
	Args []Node
}

// StringLit is a quoted string literal with escapes resolved.
type StringLit struct {
	Value string
}

// NumberLit is a numeric literal.
type NumberLit struct {
	Value decimal.Decimal
}

// BoolLit is TRUE or FALSE.
type BoolLit struct {
	Value bool
}

// NullLit is NULL.
type NullLit struct{}

// FieldRef names a row column; Name is already normalized.
type FieldRef struct {
	Name string
}

func (*Call) node()      {}
func (*StringLit) node() {}
func (*NumberLit) node() {}
func (*BoolLit) node()   {}
func (*NullLit) node()   {}
func (*FieldRef) node()  {}

// UnknownFunctions returns the sorted, de-duplicated function names in n
// that are not part of the catalog.
func UnknownFunctions(n Node) []string {
	seen := make(map[string]bool)
	var walk func(Node)
	walk = func(n Node) {
		call, ok := n.(*Call)
		if !ok {
			return
		}
		if _, known := catalog[call.Name]; !known {
			seen[call.Name] = true
		}
		for _, arg := range call.Args {
			walk(arg)
		}
	}
	walk(n)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Fields returns the sorted, de-duplicated field names referenced by n.
func Fields(n Node) []string {
	seen := make(map[string]bool)
	var walk func(Node)
	walk = func(n Node) {
		switch v := n.(type) {
		case *FieldRef:
			seen[v.Name] = true
		case *Call:
			for _, arg := range v.Args {
				walk(arg)
			}
		}
	}
	walk(n)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeFuncName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
