package mapping

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kranthikarthan/PE-sub004/internal/core"
)

// evalContext carries everything an expression may touch during one Apply.
// Time and identity come through the context so evaluation stays
// deterministic under test.
type evalContext struct {
	source  core.Message
	now     time.Time
	newUUID func() string
}

// timestampLayout matches the creation timestamps stamped onto group headers
// so generated and derived times render identically.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// ============================================================================
// AST nodes
// ============================================================================

type litNode struct{ value interface{} }

func (n *litNode) eval(_ *evalContext) (interface{}, error) { return n.value, nil }

// sourceNode resolves a field from the inbound payload. A path that does not
// resolve yields null rather than an error: expressions are total over the
// source document.
type sourceNode struct{ path core.Path }

func (n *sourceNode) eval(ec *evalContext) (interface{}, error) {
	v, ok := ec.source.Get(n.path)
	if !ok {
		return nil, nil
	}
	return v, nil
}

type negateNode struct{ operand exprNode }

func (n *negateNode) eval(ec *evalContext) (interface{}, error) {
	v, err := n.operand.eval(ec)
	if err != nil {
		return nil, err
	}
	f, ok := toNumber(v)
	if !ok {
		return nil, fmt.Errorf("cannot negate %s", describe(v))
	}
	return -f, nil
}

type binaryNode struct {
	op    string
	left  exprNode
	right exprNode
}

func (n *binaryNode) eval(ec *evalContext) (interface{}, error) {
	lv, err := n.left.eval(ec)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(ec)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "+":
		return evalAdd(lv, rv)
	case "-", "*", "/":
		return evalArithmetic(n.op, lv, rv)
	case "==":
		return looseEqual(lv, rv), nil
	case "!=":
		return !looseEqual(lv, rv), nil
	case ">", ">=", "<", "<=":
		return evalOrdering(n.op, lv, rv)
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

type callNode struct {
	name string
	args []exprNode
}

func (n *callNode) eval(ec *evalContext) (interface{}, error) {
	vals := make([]interface{}, len(n.args))
	for i, arg := range n.args {
		v, err := arg.eval(ec)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	switch n.name {
	case "uuid":
		return ec.newUUID(), nil
	case "timestamp":
		return ec.now.UTC().Format(timestampLayout), nil
	case "upper":
		return strings.ToUpper(core.Stringify(vals[0])), nil
	case "lower":
		return strings.ToLower(core.Stringify(vals[0])), nil
	case "substring":
		return evalSubstring(vals[0], vals[1], vals[2])
	}
	return nil, fmt.Errorf("unknown function %q", n.name)
}

func evalSubstring(sv, fromV, toV interface{}) (interface{}, error) {
	s := core.Stringify(sv)
	from, ok := toInt(fromV)
	if !ok {
		return nil, fmt.Errorf("substring: from index is %s, want number", describe(fromV))
	}
	to, ok := toInt(toV)
	if !ok {
		return nil, fmt.Errorf("substring: to index is %s, want number", describe(toV))
	}
	if from < 0 || to < from || to > len(s) {
		return nil, fmt.Errorf("substring: range [%d,%d) out of bounds for %d-char string", from, to, len(s))
	}
	return s[from:to], nil
}

// Eval evaluates a parsed expression against the source payload.
func (e Expr) Eval(ec *evalContext) (interface{}, error) {
	if e.root == nil {
		return nil, fmt.Errorf("expression not compiled")
	}
	v, err := e.root.eval(ec)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", e.raw, err)
	}
	return v, nil
}

// ============================================================================
// Coercion
// ============================================================================

// evalAdd concatenates when both operands are strings; everything else is
// numeric addition. Mixed string/number coerces the string, so "10" + 5 is
// 15 while "10" + "5" is "105".
func evalAdd(lv, rv interface{}) (interface{}, error) {
	ls, lok := lv.(string)
	rs, rok := rv.(string)
	if lok && rok {
		return ls + rs, nil
	}
	return evalArithmetic("+", lv, rv)
}

func evalArithmetic(op string, lv, rv interface{}) (interface{}, error) {
	lf, ok := toNumber(lv)
	if !ok {
		return nil, fmt.Errorf("operator %s: left operand is %s, want number", op, describe(lv))
	}
	rf, ok := toNumber(rv)
	if !ok {
		return nil, fmt.Errorf("operator %s: right operand is %s, want number", op, describe(rv))
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return lf / rf, nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

func evalOrdering(op string, lv, rv interface{}) (interface{}, error) {
	lf, lok := toNumber(lv)
	rf, rok := toNumber(rv)
	var cmp int
	switch {
	case lok && rok:
		switch {
		case lf < rf:
			cmp = -1
		case lf > rf:
			cmp = 1
		}
	default:
		ls, lsok := lv.(string)
		rs, rsok := rv.(string)
		if !lsok || !rsok {
			return nil, fmt.Errorf("operator %s: cannot order %s against %s", op, describe(lv), describe(rv))
		}
		cmp = strings.Compare(ls, rs)
	}
	switch op {
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	}
	return nil, fmt.Errorf("unknown operator %q", op)
}

// looseEqual compares numerically when both sides coerce to numbers, so
// "100" == 100 holds, and falls back to rendered-string equality otherwise.
func looseEqual(lv, rv interface{}) bool {
	if lv == nil || rv == nil {
		return lv == nil && rv == nil
	}
	lf, lok := toNumber(lv)
	rf, rok := toNumber(rv)
	if lok && rok {
		return lf == rf
	}
	lb, lbok := lv.(bool)
	rb, rbok := rv.(bool)
	if lbok && rbok {
		return lb == rb
	}
	return core.Stringify(lv) == core.Stringify(rv)
}

// toNumber coerces leaf values to float64. Strings that parse as numbers
// coerce; booleans and containers do not.
func toNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func toInt(v interface{}) (int, bool) {
	f, ok := toNumber(v)
	if !ok || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// truthy interprets a conditional predicate result. Only boolean true, the
// literal string "true" and non-zero numbers pass.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true"
	case float64:
		return t != 0
	case nil:
		return false
	}
	return false
}

func describe(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case float64, float32, int, int64:
		return "a number"
	case bool:
		return "a boolean"
	case []interface{}:
		return "a list"
	case map[string]interface{}, core.Message:
		return "an object"
	}
	return fmt.Sprintf("%T", v)
}

// ============================================================================
// Templates
// ============================================================================

// templatePart is one run of a compiled template: literal text or a source
// path reference.
type templatePart struct {
	literal string
	path    core.Path
	isRef   bool
}

// Template is a compiled `literal ${source.path} literal` string. A template
// consisting of exactly one placeholder preserves the referenced value's
// type; anything else renders to a string.
type Template struct {
	raw   string
	parts []templatePart
}

// ParseTemplate compiles a value string that may embed ${source.<path>}
// placeholders. Plain strings compile to a single literal part.
func ParseTemplate(raw string) (Template, error) {
	t := Template{raw: raw}
	rest := raw
	for {
		idx := strings.Index(rest, "${")
		if idx < 0 {
			if rest != "" {
				t.parts = append(t.parts, templatePart{literal: rest})
			}
			return t, nil
		}
		if idx > 0 {
			t.parts = append(t.parts, templatePart{literal: rest[:idx]})
		}
		rest = rest[idx:]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			return Template{}, fmt.Errorf("template %q: unterminated placeholder", raw)
		}
		inner := rest[2:end]
		const prefix = "source."
		if !strings.HasPrefix(inner, prefix) {
			return Template{}, fmt.Errorf("template %q: placeholder %q must start with %q", raw, inner, prefix)
		}
		path, err := core.ParsePath(strings.TrimPrefix(inner, prefix))
		if err != nil {
			return Template{}, fmt.Errorf("template %q: %w", raw, err)
		}
		if path.HasEach() {
			return Template{}, fmt.Errorf("template %q: [] markers are not allowed in placeholders", raw)
		}
		t.parts = append(t.parts, templatePart{path: path, isRef: true})
		rest = rest[end+1:]
	}
}

// HasRefs reports whether the template references the source payload.
func (t Template) HasRefs() bool {
	for _, p := range t.parts {
		if p.isRef {
			return true
		}
	}
	return false
}

// Render resolves the template against the source payload. A bare
// single-placeholder template returns the referenced value unchanged (nil
// when absent); mixed templates render unresolved references as "".
func (t Template) Render(source core.Message) interface{} {
	if len(t.parts) == 1 && t.parts[0].isRef {
		v, ok := source.Get(t.parts[0].path)
		if !ok {
			return nil
		}
		return v
	}
	var b strings.Builder
	for _, p := range t.parts {
		if !p.isRef {
			b.WriteString(p.literal)
			continue
		}
		if v, ok := source.Get(p.path); ok {
			b.WriteString(core.Stringify(v))
		}
	}
	return b.String()
}
