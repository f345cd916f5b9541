package formula

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"bank-statement-classifier/internal/models"
)

type function struct {
	minArgs int
	maxArgs int // -1 means variadic
	build   func(args []evaluator) evaluator
}

func (f function) arity() string {
	switch {
	case f.maxArgs < 0:
		return fmt.Sprintf("at least %d arguments", f.minArgs)
	case f.minArgs == f.maxArgs:
		return fmt.Sprintf("%d arguments", f.minArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", f.minArgs, f.maxArgs)
	}
}

var catalog = map[string]function{
	"AND": {minArgs: 1, maxArgs: -1, build: buildAnd},
	"OR":  {minArgs: 1, maxArgs: -1, build: buildOr},
	"NOT": {minArgs: 1, maxArgs: 1, build: buildNot},

	"EQ":         {minArgs: 2, maxArgs: 2, build: buildEq},
	"EQUALS":     {minArgs: 2, maxArgs: 2, build: buildEq},
	"NE":         {minArgs: 2, maxArgs: 2, build: negate(buildEq)},
	"NEQ":        {minArgs: 2, maxArgs: 2, build: negate(buildEq)},
	"NOT_EQUALS": {minArgs: 2, maxArgs: 2, build: negate(buildEq)},
	"IN":         {minArgs: 2, maxArgs: -1, build: buildIn},

	"CONTAINS":     {minArgs: 2, maxArgs: 2, build: textMatch(strings.Contains)},
	"NOT_CONTAINS": {minArgs: 2, maxArgs: 2, build: negate(textMatch(strings.Contains))},
	"STARTS_WITH":  {minArgs: 2, maxArgs: 2, build: textMatch(strings.HasPrefix)},
	"ENDS_WITH":    {minArgs: 2, maxArgs: 2, build: textMatch(strings.HasSuffix)},

	"GT":  {minArgs: 2, maxArgs: 2, build: compare(func(c int) bool { return c > 0 })},
	"GTE": {minArgs: 2, maxArgs: 2, build: compare(func(c int) bool { return c >= 0 })},
	"LT":  {minArgs: 2, maxArgs: 2, build: compare(func(c int) bool { return c < 0 })},
	"LTE": {minArgs: 2, maxArgs: 2, build: compare(func(c int) bool { return c <= 0 })},

	"ISBLANK":    {minArgs: 1, maxArgs: 1, build: buildBlank},
	"BLANK":      {minArgs: 1, maxArgs: 1, build: buildBlank},
	"NOTBLANK":   {minArgs: 1, maxArgs: 1, build: negate(buildBlank)},
	"ISNOTBLANK": {minArgs: 1, maxArgs: 1, build: negate(buildBlank)},
}

// Functions returns the supported function names.
func Functions() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func buildAnd(args []evaluator) evaluator {
	return func(row models.FieldMap) (interface{}, error) {
		for _, arg := range args {
			v, err := arg(row)
			if err != nil {
				return false, err
			}
			if !truthy(v) {
				return false, nil
			}
		}
		return true, nil
	}
}

func buildOr(args []evaluator) evaluator {
	return func(row models.FieldMap) (interface{}, error) {
		var firstErr error
		for _, arg := range args {
			v, err := arg(row)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			if truthy(v) {
				return true, nil
			}
		}
		return false, firstErr
	}
}

func buildNot(args []evaluator) evaluator {
	return func(row models.FieldMap) (interface{}, error) {
		v, err := args[0](row)
		if err != nil {
			return false, err
		}
		return !truthy(v), nil
	}
}

func negate(build func([]evaluator) evaluator) func([]evaluator) evaluator {
	return func(args []evaluator) evaluator {
		inner := build(args)
		return func(row models.FieldMap) (interface{}, error) {
			v, err := inner(row)
			if err != nil {
				return false, err
			}
			return !truthy(v), nil
		}
	}
}

func buildEq(args []evaluator) evaluator {
	return func(row models.FieldMap) (interface{}, error) {
		a, err := args[0](row)
		if err != nil {
			return false, err
		}
		b, err := args[1](row)
		if err != nil {
			return false, err
		}
		return equal(a, b), nil
	}
}

func buildIn(args []evaluator) evaluator {
	return func(row models.FieldMap) (interface{}, error) {
		needle, err := args[0](row)
		if err != nil {
			return false, err
		}
		for _, arg := range args[1:] {
			v, err := arg(row)
			if err != nil {
				return false, err
			}
			if equal(needle, v) {
				return true, nil
			}
		}
		return false, nil
	}
}

// textMatch builds a case-insensitive string test. A null subject never
// matches.
func textMatch(test func(s, substr string) bool) func([]evaluator) evaluator {
	return func(args []evaluator) evaluator {
		return func(row models.FieldMap) (interface{}, error) {
			subject, err := args[0](row)
			if err != nil {
				return false, err
			}
			pattern, err := args[1](row)
			if err != nil {
				return false, err
			}
			if subject == nil || pattern == nil {
				return false, nil
			}
			s, err := toText(subject)
			if err != nil {
				return false, err
			}
			p, err := toText(pattern)
			if err != nil {
				return false, err
			}
			return test(strings.ToLower(s), strings.ToLower(p)), nil
		}
	}
}

// compare builds a numeric comparison. Non-numeric operands are a runtime
// type mismatch.
func compare(accept func(int) bool) func([]evaluator) evaluator {
	return func(args []evaluator) evaluator {
		return func(row models.FieldMap) (interface{}, error) {
			a, err := args[0](row)
			if err != nil {
				return false, err
			}
			b, err := args[1](row)
			if err != nil {
				return false, err
			}
			if a == nil || b == nil {
				return false, nil
			}
			da, err := toNumber(a)
			if err != nil {
				return false, err
			}
			db, err := toNumber(b)
			if err != nil {
				return false, err
			}
			return accept(da.Cmp(db)), nil
		}
	}
}

func buildBlank(args []evaluator) evaluator {
	return func(row models.FieldMap) (interface{}, error) {
		v, err := args[0](row)
		if err != nil {
			return false, err
		}
		if v == nil {
			return true, nil
		}
		s, err := toText(v)
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(s) == "", nil
	}
}

// equal compares numerically when either side is a typed number and both
// sides parse as numbers; otherwise it compares trimmed text ignoring case.
// NULL equals only NULL.
func equal(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if isNumeric(a) || isNumeric(b) {
		da, errA := toNumber(a)
		db, errB := toNumber(b)
		if errA == nil && errB == nil {
			return da.Equal(db)
		}
	}

	sa, errA := toText(a)
	sb, errB := toText(b)
	if errA != nil || errB != nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(sa), strings.TrimSpace(sb))
}

func isNumeric(v interface{}) bool {
	switch v.(type) {
	case decimal.Decimal, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

func toNumber(v interface{}) (decimal.Decimal, error) {
	switch n := v.(type) {
	case decimal.Decimal:
		return n, nil
	case float64:
		return decimal.NewFromFloat(n), nil
	case float32:
		return decimal.NewFromFloat32(n), nil
	case bool:
		return decimal.Zero, fmt.Errorf("cannot compare boolean %v as a number", n)
	case string:
		return models.ParseDecimalFromString(n)
	}
	i, err := cast.ToInt64E(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("cannot compare %T as a number: %w", v, err)
	}
	return decimal.NewFromInt(i), nil
}

func toText(v interface{}) (string, error) {
	if d, ok := v.(decimal.Decimal); ok {
		return d.String(), nil
	}
	return cast.ToStringE(v)
}
