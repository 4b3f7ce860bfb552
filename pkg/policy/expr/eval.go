package expr

import "fmt"

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	default:
		return true
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// compare implements the six relational operators plus equality/inequality
// across numbers, strings, and booleans. Mismatched, non-comparable types
// make == / != report false/true respectively and ordered comparisons
// report false rather than erroring — a malformed field value should make
// a policy rule quietly not match, not crash the playbook engine.
func compare(op string, l, r any) (any, error) {
	switch op {
	case "==":
		return equal(l, r), nil
	case "!=":
		return !equal(l, r), nil
	}

	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if lok && rok {
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}

	ls, lsok := l.(string)
	rs, rsok := r.(string)
	if lsok && rsok {
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}

	return false, fmt.Errorf("expr: cannot compare %v %s %v", l, op, r)
}

func equal(l, r any) bool {
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if lok && rok {
		return lf == rf
	}
	return l == r
}

// Eval parses and evaluates expression `src` against ctx, returning its
// truthiness. This is the entry point the policy and playbook matchers
// call; a parse error is a config-authoring bug, surfaced to the caller
// as classify.ConfigMissing territory rather than retried.
func Eval(src string, ctx Context) (bool, error) {
	node, err := Parse(src)
	if err != nil {
		return false, err
	}
	v, err := node.Eval(ctx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}
