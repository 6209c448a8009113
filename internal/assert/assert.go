// Package assert implements the assertion engine: a JQ subset (via
// itchyny/gojq) extended with grpctestify's own `@`-prefixed predicate
// functions, plus `{{ name }}` variable substitution.
package assert

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itchyny/gojq"
	"google.golang.org/grpc/metadata"
)

// UndefinedVariableError is returned by Substitute when an assertion or
// request body references a `{{ name }}` that no preceding EXTRACT defined.
type UndefinedVariableError struct {
	Name string
}

func (e *UndefinedVariableError) Error() string {
	return fmt.Sprintf("undefined variable: %s", e.Name)
}

var varRefRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Substitute replaces every `{{ name }}` in text with the JSON encoding of
// bindings[name] (strings are quoted, numbers/bools/objects render as their
// JSON form). An unresolved name fails the whole substitution with
// UndefinedVariableError before any RPC is issued.
func Substitute(text string, bindings map[string]any) (string, error) {
	var firstErr error
	out := varRefRe.ReplaceAllStringFunc(text, func(m string) string {
		if firstErr != nil {
			return m
		}
		name := varRefRe.FindStringSubmatch(m)[1]
		val, ok := bindings[name]
		if !ok {
			firstErr = &UndefinedVariableError{Name: name}
			return m
		}
		b, err := json.Marshal(val)
		if err != nil {
			firstErr = fmt.Errorf("encoding bound variable %q: %w", name, err)
			return m
		}
		return string(b)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

// Context carries the data an assertion may reference beyond the decoded
// response message: received headers/trailers.
type Context struct {
	Headers  metadata.MD
	Trailers metadata.MD
}

// Evaluate runs one assertion expression against a decoded response message,
// returning its boolean result.
func Evaluate(expr string, message any, ctx Context) (bool, error) {
	a, err := parseAssertion(expr)
	if err != nil {
		return false, err
	}
	if a.Func == "" {
		// gojq has no regex-match operator, so `lhs =~ pattern` is split here
		// and evaluated through the same comparison path as @-functions.
		if i := strings.Index(a.JQExpr, "=~"); i >= 0 {
			lhs, err := runJQ(strings.TrimSpace(a.JQExpr[:i]), message)
			if err != nil {
				return false, err
			}
			rhs, err := evalOperand(a.JQExpr[i+2:], message)
			if err != nil {
				return false, err
			}
			return compareValues(lhs, "=~", rhs)
		}
		v, err := runJQ(a.JQExpr, message)
		if err != nil {
			return false, err
		}
		b, ok := v.(bool)
		if !ok {
			return false, fmt.Errorf("assertion %q did not evaluate to a boolean (got %T)", expr, v)
		}
		return b, nil
	}

	lhs, err := evalFunc(a.Func, a.FuncArgs, message, ctx)
	if err != nil {
		return false, err
	}
	if a.Op == "" {
		b, ok := lhs.(bool)
		if !ok {
			return false, fmt.Errorf("@%s(...) does not return a boolean; comparison operator required", a.Func)
		}
		return b, nil
	}

	rhs, err := evalOperand(a.RHS, message)
	if err != nil {
		return false, err
	}
	return compareValues(lhs, a.Op, rhs)
}

// assertion is the parsed form of one `@func(args) op rhs` or bare jq_expr
// assertion.
type assertion struct {
	Func     string // "" if this is a bare jq expression
	FuncArgs string
	Op       string
	RHS      string
	JQExpr   string
}

var ops = []string{"==", "!=", "<=", ">=", "=~", "<", ">"}

func parseAssertion(expr string) (assertion, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "@") {
		return assertion{JQExpr: expr}, nil
	}
	open := strings.IndexByte(expr, '(')
	if open < 0 {
		return assertion{}, fmt.Errorf("malformed @-function call: %q", expr)
	}
	name := expr[1:open]
	close := matchingParen(expr, open)
	if close < 0 {
		return assertion{}, fmt.Errorf("unbalanced parentheses in %q", expr)
	}
	args := expr[open+1 : close]
	rest := strings.TrimSpace(expr[close+1:])
	if rest == "" {
		return assertion{Func: name, FuncArgs: args}, nil
	}
	for _, op := range ops {
		if strings.HasPrefix(rest, op) {
			return assertion{Func: name, FuncArgs: args, Op: op, RHS: strings.TrimSpace(rest[len(op):])}, nil
		}
	}
	return assertion{}, fmt.Errorf("expected a comparison operator after @%s(...), got %q", name, rest)
}

func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func evalFunc(name, args string, message any, ctx Context) (any, error) {
	switch name {
	case "header", "trailer":
		key := strings.Trim(strings.TrimSpace(args), `"'`)
		md := ctx.Headers
		if name == "trailer" {
			md = ctx.Trailers
		}
		vals := md.Get(strings.ToLower(key))
		if len(vals) == 0 {
			return "", nil
		}
		return vals[0], nil
	}

	v, err := runJQ(strings.TrimSpace(args), message)
	if err != nil {
		return nil, fmt.Errorf("@%s(%s): %w", name, args, err)
	}
	switch name {
	case "uuid":
		s, ok := v.(string)
		if !ok {
			return false, nil
		}
		_, err := uuid.Parse(s)
		return err == nil, nil
	case "email":
		s, ok := v.(string)
		if !ok {
			return false, nil
		}
		return emailRe.MatchString(s), nil
	case "ip":
		s, ok := v.(string)
		if !ok {
			return false, nil
		}
		return net.ParseIP(s) != nil, nil
	case "url":
		s, ok := v.(string)
		if !ok {
			return false, nil
		}
		if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
			return false, nil
		}
		u, err := url.Parse(s)
		return err == nil && u.Host != "", nil
	case "len":
		switch vv := v.(type) {
		case []any:
			return float64(len(vv)), nil
		case string:
			return float64(len(vv)), nil
		case map[string]any:
			return float64(len(vv)), nil
		case nil:
			return float64(0), nil
		default:
			return nil, fmt.Errorf("@len: value at %q has no length (%T)", args, v)
		}
	case "timestamp":
		s, ok := v.(string)
		if ok {
			if _, err := time.Parse(time.RFC3339, s); err == nil {
				return true, nil
			}
		}
		switch vv := v.(type) {
		case float64:
			return true, nil
		case string:
			if _, err := strconv.ParseInt(vv, 10, 64); err == nil {
				return true, nil
			}
		}
		return false, nil
	default:
		return nil, fmt.Errorf("unknown assertion function @%s", name)
	}
}

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// evalOperand resolves a comparison's right-hand side: a JSON literal if it
// parses as one, otherwise a jq expression evaluated against message.
func evalOperand(text string, message any) (any, error) {
	text = strings.TrimSpace(text)
	var lit any
	if err := json.Unmarshal([]byte(text), &lit); err == nil {
		return lit, nil
	}
	return runJQ(text, message)
}

func compareValues(lhs any, op string, rhs any) (bool, error) {
	if op == "=~" {
		ls, lok := lhs.(string)
		rs, rok := rhs.(string)
		if !lok || !rok {
			return false, fmt.Errorf("=~ requires string operands, got %T and %T", lhs, rhs)
		}
		re, err := regexp.Compile(rs)
		if err != nil {
			return false, fmt.Errorf("invalid =~ pattern %q: %w", rs, err)
		}
		return re.MatchString(ls), nil
	}

	if lf, lok := toFloat(lhs); lok {
		if rf, rok := toFloat(rhs); rok {
			return compareOrdered(op, lf, rf)
		}
	}
	if ls, lok := lhs.(string); lok {
		if rs, rok := rhs.(string); rok {
			return compareOrdered(op, ls, rs)
		}
	}
	switch op {
	case "==":
		return lhs == rhs, nil
	case "!=":
		return lhs != rhs, nil
	default:
		return false, fmt.Errorf("operator %s requires comparable numeric or string operands, got %T and %T", op, lhs, rhs)
	}
}

func toFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

type ordered interface{ ~float64 | ~string }

func compareOrdered[T ordered](op string, a, b T) (bool, error) {
	switch op {
	case "==":
		return a == b, nil
	case "!=":
		return a != b, nil
	case "<":
		return a < b, nil
	case "<=":
		return a <= b, nil
	case ">":
		return a > b, nil
	case ">=":
		return a >= b, nil
	default:
		return false, fmt.Errorf("unsupported operator %q", op)
	}
}

// RunJQ compiles and evaluates a JQ-subset expression against input,
// returning its first emitted value. Exported for callers outside the
// assertion engine proper (the EXTRACT binding evaluator) that need the same
// JQ pipeline support without going through a full `@func op rhs` assertion.
func RunJQ(expr string, input any) (any, error) {
	return runJQ(expr, input)
}

// runJQ compiles and evaluates a JQ-subset expression against input,
// returning its first emitted value.
func runJQ(expr string, input any) (any, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid jq expression %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("compiling jq expression %q: %w", expr, err)
	}
	iter := code.Run(input)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("jq expression %q produced no output", expr)
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("evaluating jq expression %q: %w", expr, err)
	}
	return v, nil
}
