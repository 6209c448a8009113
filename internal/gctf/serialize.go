package gctf

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Serialize renders a Document back to .gctf text. It is an inverse of Parse
// modulo insignificant whitespace: Parse(Serialize(d)) reproduces the same
// sections, and Serialize is idempotent once round-tripped through Parse.
func Serialize(doc *Document) string {
	var sb strings.Builder
	for i, s := range doc.Sections {
		if i > 0 {
			sb.WriteString("\n")
		}
		name := string(s.Type)
		if s.Type == SectionOther {
			name = s.RawTypeName
		}
		sb.WriteString("--- ")
		sb.WriteString(name)
		sb.WriteString(" ---")
		if opts := formatInlineOptions(s.InlineOptions); opts != "" {
			sb.WriteString(" ")
			sb.WriteString(opts)
		}
		sb.WriteString("\n")

		switch s.Type {
		case SectionRequest, SectionResponse, SectionError:
			if s.JSON != nil {
				sb.WriteString(prettyJSON(s.JSON, 0))
				sb.WriteString("\n")
			}
		case SectionExtract:
			for _, e := range s.Extracts {
				sb.WriteString(e.Name)
				sb.WriteString(" = ")
				sb.WriteString(e.Value.Lower())
				sb.WriteString("\n")
			}
		case SectionAsserts:
			for _, a := range s.AssertLines {
				sb.WriteString(a.Expr)
				sb.WriteString("\n")
			}
		case SectionRequestHeaders, SectionTLS, SectionOptions:
			if s.Headers != nil {
				for _, k := range s.Headers.Keys() {
					v, _ := s.Headers.Get(k)
					sb.WriteString(k)
					sb.WriteString(": ")
					sb.WriteString(v)
					sb.WriteString("\n")
				}
			}
		default:
			for _, ln := range s.TextLines {
				if strings.TrimSpace(ln) == "" {
					continue
				}
				sb.WriteString(ln)
				sb.WriteString("\n")
			}
		}
	}
	return sb.String()
}

func formatInlineOptions(o InlineOptions) string {
	var parts []string
	if o.Partial {
		parts = append(parts, "partial")
	}
	if o.HasTolerance {
		parts = append(parts, "tolerance="+strconv.FormatFloat(o.Tolerance, 'g', -1, 64))
	}
	if o.UnorderedArrays {
		parts = append(parts, "unordered_arrays")
	}
	if o.WithAsserts {
		parts = append(parts, "with_asserts")
	}
	if o.StrictCount {
		parts = append(parts, "strict_count")
	}
	// redact consumes the rest of the option text when parsed, so it is
	// always written last.
	if len(o.Redact) > 0 {
		parts = append(parts, "redact="+strings.Join(o.Redact, ","))
	}
	return strings.Join(parts, ", ")
}

func prettyJSON(v any, indent int) string {
	pad := strings.Repeat("  ", indent)
	childPad := strings.Repeat("  ", indent+1)
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return "{}"
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		sb.WriteString("{\n")
		for i, k := range keys {
			sb.WriteString(childPad)
			sb.WriteString(strconv.Quote(k))
			sb.WriteString(": ")
			sb.WriteString(prettyJSON(t[k], indent+1))
			if i < len(keys)-1 {
				sb.WriteString(",")
			}
			sb.WriteString("\n")
		}
		sb.WriteString(pad)
		sb.WriteString("}")
		return sb.String()
	case []any:
		if len(t) == 0 {
			return "[]"
		}
		var sb strings.Builder
		sb.WriteString("[\n")
		for i, e := range t {
			sb.WriteString(childPad)
			sb.WriteString(prettyJSON(e, indent+1))
			if i < len(t)-1 {
				sb.WriteString(",")
			}
			sb.WriteString("\n")
		}
		sb.WriteString(pad)
		sb.WriteString("]")
		return sb.String()
	case string:
		return strconv.Quote(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%v", t)
	}
}
