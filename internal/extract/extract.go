// Package extract implements the extract-expression AST: `name = <expr>`
// bindings with ternary, JQ-pipeline, and metadata-call variants, as used by
// EXTRACT sections and, for the ternary/JQ families, by ASSERTS lines.
package extract

import (
	"fmt"
	"strings"
)

// Kind discriminates the ExtractValue variant.
type Kind int

const (
	KindSimple Kind = iota
	KindJqExpr
	KindTernary
	KindMetadataCall
)

// MetadataKind is the kind of metadata a MetadataCall reads from.
type MetadataKind int

const (
	MetadataHeader MetadataKind = iota
	MetadataTrailer
)

// Value is the parsed right-hand side of a `name = <expr>` extract binding.
type Value struct {
	Kind Kind

	// KindSimple / KindJqExpr
	Pipeline string

	// KindTernary
	Cond, Then, Else string

	// KindMetadataCall
	MetaKind MetadataKind
	MetaName string
}

// Lower renders the Value to its JQ-pipeline surface form. Ternary syntax
// sugar is lowered to `if cond then t else f end`. Metadata calls are left
// as opaque `@header(name)` /
// `@trailer(name)` nodes; they are resolved against live header/trailer data
// at evaluation time, not lowered to JQ text.
func (v Value) Lower() string {
	switch v.Kind {
	case KindTernary:
		return fmt.Sprintf("if %s then %s else %s end", v.Cond, v.Then, v.Else)
	case KindMetadataCall:
		kind := "header"
		if v.MetaKind == MetadataTrailer {
			kind = "trailer"
		}
		return fmt.Sprintf("@%s(%s)", kind, v.MetaName)
	default:
		return v.Pipeline
	}
}

// Binding is a parsed `name = <expr>` line.
type Binding struct {
	Name  string
	Value Value
}

// ParseBinding parses one EXTRACT line of the form `name = <expr>`.
func ParseBinding(line string) (Binding, error) {
	eq := topLevelIndex(line, '=')
	if eq < 0 {
		return Binding{}, fmt.Errorf("extract line missing '=': %q", line)
	}
	name := strings.TrimSpace(line[:eq])
	if name == "" {
		return Binding{}, fmt.Errorf("extract line missing variable name: %q", line)
	}
	exprStr := strings.TrimSpace(line[eq+1:])
	val, err := ParseValue(exprStr)
	if err != nil {
		return Binding{}, fmt.Errorf("extract %q: %w", name, err)
	}
	return Binding{Name: name, Value: val}, nil
}

// ParseValue parses the right-hand side of an extract binding: a ternary, a
// metadata call, or a bare JQ/path pipeline.
func ParseValue(expr string) (Value, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Value{}, fmt.Errorf("empty expression")
	}
	if mk, name, ok := parseMetadataCall(expr); ok {
		return Value{Kind: KindMetadataCall, MetaKind: mk, MetaName: name}, nil
	}
	if cond, thenExpr, elseExpr, ok := splitTernary(expr); ok {
		return Value{Kind: KindTernary, Cond: cond, Then: thenExpr, Else: elseExpr}, nil
	}
	if strings.HasPrefix(expr, ".") || strings.Contains(expr, "|") {
		return Value{Kind: KindJqExpr, Pipeline: expr}, nil
	}
	return Value{Kind: KindSimple, Pipeline: expr}, nil
}

func parseMetadataCall(expr string) (MetadataKind, string, bool) {
	for _, prefix := range []struct {
		s string
		k MetadataKind
	}{
		{"@header(", MetadataHeader},
		{"@trailer(", MetadataTrailer},
	} {
		if strings.HasPrefix(expr, prefix.s) && strings.HasSuffix(expr, ")") {
			name := expr[len(prefix.s) : len(expr)-1]
			return prefix.k, strings.Trim(strings.TrimSpace(name), `"'`), true
		}
	}
	return 0, "", false
}

// splitTernary splits `cond ? then : else` at their top-level `?` and `:`,
// ignoring any `?`/`:` nested inside quotes or brackets. This is the
// "top-level character" rule shared by the ternary and assignment splitters.
func splitTernary(expr string) (cond, thenExpr, elseExpr string, ok bool) {
	q := topLevelIndex(expr, '?')
	if q < 0 {
		return "", "", "", false
	}
	c := topLevelIndexFrom(expr, ':', q+1)
	if c < 0 {
		return "", "", "", false
	}
	cond = strings.TrimSpace(expr[:q])
	thenExpr = strings.TrimSpace(expr[q+1 : c])
	elseExpr = strings.TrimSpace(expr[c+1:])
	if cond == "" || thenExpr == "" || elseExpr == "" {
		return "", "", "", false
	}
	return cond, thenExpr, elseExpr, true
}

// topLevelIndex finds the first occurrence of target outside any quotes or
// (){}[] nesting.
func topLevelIndex(s string, target byte) int {
	return topLevelIndexFrom(s, target, 0)
}

func topLevelIndexFrom(s string, target byte, from int) int {
	depth := 0
	var quote byte
	for i := from; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '(', '{', '[':
			depth++
		case ')', '}', ']':
			depth--
		default:
			if depth == 0 && c == target {
				return i
			}
		}
	}
	return -1
}
