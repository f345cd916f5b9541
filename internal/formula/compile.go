package formula

import (
	"fmt"

	"github.com/spf13/cast"
	"go.uber.org/multierr"

	"bank-statement-classifier/internal/models"
)

// Predicate is a compiled condition.
type Predicate = models.Predicate

// evaluator computes the value of a node for one row.
type evaluator func(row models.FieldMap) (interface{}, error)

// Never is the predicate used for rules that failed to compile.
func Never(models.FieldMap) bool { return false }

// Compile parses and compiles a condition.
func Compile(condition string) (Predicate, error) {
	root, err := Parse(condition)
	if err != nil {
		return nil, err
	}
	return CompileNode(condition, root)
}

// CompileNode compiles an already parsed tree. condition is only used for
// error reporting. A tree that calls an unknown function anywhere compiles to
// Never, whatever negations enclose the call.
func CompileNode(condition string, root Node) (Predicate, error) {
	eval, err := compileNode(condition, root)
	if err != nil {
		return nil, err
	}
	if len(UnknownFunctions(root)) > 0 {
		return Never, nil
	}
	return func(row models.FieldMap) (matched bool) {
		defer func() {
			if recover() != nil {
				matched = false
			}
		}()
		v, err := eval(row)
		if err != nil {
			return false
		}
		return truthy(v)
	}, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// fixed conditions known at build time.
func MustCompile(condition string) Predicate {
	p, err := Compile(condition)
	if err != nil {
		panic(err)
	}
	return p
}

// CompileRules compiles every rule condition in place. Rules that fail get
// the Never predicate; the returned error combines every *CompileError.
func CompileRules(rules []*models.ParsingRule) error {
	var errs error
	for _, rule := range rules {
		p, err := Compile(rule.Condition)
		if err != nil {
			rule.Predicate = Never
			errs = multierr.Append(errs, &RuleCompileError{RuleID: rule.ID, Err: err})
			continue
		}
		rule.Predicate = p
	}
	return errs
}

// RuleCompileError ties a compile failure to the rule that owns it.
type RuleCompileError struct {
	RuleID int64
	Err    error
}

func (e *RuleCompileError) Error() string {
	return fmt.Sprintf("rule %d: %v", e.RuleID, e.Err)
}

func (e *RuleCompileError) Unwrap() error {
	return e.Err
}

func compileNode(condition string, n Node) (evaluator, error) {
	switch v := n.(type) {
	case *StringLit:
		value := v.Value
		return func(models.FieldMap) (interface{}, error) { return value, nil }, nil
	case *NumberLit:
		value := v.Value
		return func(models.FieldMap) (interface{}, error) { return value, nil }, nil
	case *BoolLit:
		value := v.Value
		return func(models.FieldMap) (interface{}, error) { return value, nil }, nil
	case *NullLit:
		return func(models.FieldMap) (interface{}, error) { return nil, nil }, nil
	case *FieldRef:
		name := v.Name
		return func(row models.FieldMap) (interface{}, error) {
			value, _ := row.Get(name)
			return value, nil
		}, nil
	case *Call:
		return compileCall(condition, v)
	default:
		return nil, newCompileError(condition, 0, fmt.Sprintf("unsupported node %T", n))
	}
}

func compileCall(condition string, call *Call) (evaluator, error) {
	fn, known := catalog[call.Name]
	if !known {
		// Arguments are still compiled so nested syntax errors surface.
		for _, arg := range call.Args {
			if _, err := compileNode(condition, arg); err != nil {
				return nil, err
			}
		}
		return func(models.FieldMap) (interface{}, error) { return false, nil }, nil
	}

	if len(call.Args) < fn.minArgs || (fn.maxArgs >= 0 && len(call.Args) > fn.maxArgs) {
		return nil, newCompileError(condition, 0, fmt.Sprintf("%s expects %s, got %d", call.Name, fn.arity(), len(call.Args)))
	}

	args := make([]evaluator, 0, len(call.Args))
	for _, arg := range call.Args {
		eval, err := compileNode(condition, arg)
		if err != nil {
			return nil, err
		}
		args = append(args, eval)
	}
	return fn.build(args), nil
}

func truthy(v interface{}) bool {
	switch b := v.(type) {
	case nil:
		return false
	case bool:
		return b
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false
	}
	return b
}
