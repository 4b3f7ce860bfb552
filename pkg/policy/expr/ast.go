package expr

// Node is an expression AST node. Every Node implementation is pure and
// total: Eval never panics and always returns for any well-typed context.
type Node interface {
	Eval(ctx Context) (any, error)
}

// Context resolves a dotted field path (e.g. "exception.severity") to a
// value, or reports it absent. Implementations decide how paths map onto
// the underlying data (struct, map, Exception aggregate, ...).
type Context interface {
	Lookup(path string) (any, bool)
}

// MapContext is the simplest Context: a flat or nested map[string]any,
// traversed by splitting the path on '.'.
type MapContext map[string]any

// Lookup implements Context over nested maps.
func (m MapContext) Lookup(path string) (any, bool) {
	cur := any(map[string]any(m))
	for _, part := range splitPath(path) {
		asMap, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, ok := asMap[part]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i, c := range path {
		if c == '.' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

type identNode struct{ path string }

func (n identNode) Eval(ctx Context) (any, error) {
	v, ok := ctx.Lookup(n.path)
	if !ok {
		return nil, nil
	}
	return v, nil
}

type literalNode struct{ value any }

func (n literalNode) Eval(Context) (any, error) { return n.value, nil }

type listNode struct{ items []Node }

func (n listNode) Eval(ctx Context) (any, error) {
	out := make([]any, len(n.items))
	for i, it := range n.items {
		v, err := it.Eval(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type notNode struct{ inner Node }

func (n notNode) Eval(ctx Context) (any, error) {
	v, err := n.inner.Eval(ctx)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type boolOpNode struct {
	op          tokenKind // tokAnd or tokOr
	left, right Node
}

func (n boolOpNode) Eval(ctx Context) (any, error) {
	lv, err := n.left.Eval(ctx)
	if err != nil {
		return nil, err
	}
	if n.op == tokAnd && !truthy(lv) {
		return false, nil
	}
	if n.op == tokOr && truthy(lv) {
		return true, nil
	}
	rv, err := n.right.Eval(ctx)
	if err != nil {
		return nil, err
	}
	return truthy(rv), nil
}

type compareNode struct {
	op          string
	left, right Node
}

func (n compareNode) Eval(ctx Context) (any, error) {
	lv, err := n.left.Eval(ctx)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.Eval(ctx)
	if err != nil {
		return nil, err
	}
	return compare(n.op, lv, rv)
}

type inNode struct {
	left, right Node
}

func (n inNode) Eval(ctx Context) (any, error) {
	lv, err := n.left.Eval(ctx)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.Eval(ctx)
	if err != nil {
		return nil, err
	}
	items, ok := rv.([]any)
	if !ok {
		return false, nil
	}
	for _, item := range items {
		eq, _ := compare("==", lv, item)
		if b, ok := eq.(bool); ok && b {
			return true, nil
		}
	}
	return false, nil
}
