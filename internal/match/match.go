// Package match implements the response matcher: structural comparison of
// expected RESPONSE/ERROR JSON against actual decoded gRPC messages, honoring
// the per-section inline options.
package match

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"google.golang.org/grpc/codes"

	"github.com/grpctestify/grpctestify/internal/gctf"
)

// Options mirrors a RESPONSE section's inline options that affect structural
// comparison.
type Options struct {
	Partial         bool
	UnorderedArrays bool
	HasTolerance    bool
	Tolerance       float64
	Redact          []string
}

// FromInline converts a parsed section's InlineOptions to match.Options.
func FromInline(o gctf.InlineOptions) Options {
	return Options{
		Partial:         o.Partial,
		UnorderedArrays: o.UnorderedArrays,
		HasTolerance:    o.HasTolerance,
		Tolerance:       o.Tolerance,
		Redact:          o.Redact,
	}
}

// Mismatch is one structural difference found by Compare, anchored to the
// JSON path where it occurred.
type Mismatch struct {
	Path    string
	Message string
}

func (m Mismatch) String() string {
	if m.Path == "" {
		return m.Message
	}
	return fmt.Sprintf("%s: %s", m.Path, m.Message)
}

// Compare structurally compares expected against actual per opts, returning
// every mismatch found (empty means a pass). Both values are first redacted
// at the configured paths.
func Compare(expected, actual any, opts Options) []Mismatch {
	expected = Redact(expected, opts.Redact)
	actual = Redact(actual, opts.Redact)
	return compareAt("$", expected, actual, opts)
}

func compareAt(path string, expected, actual any, opts Options) []Mismatch {
	switch ev := expected.(type) {
	case map[string]any:
		av, ok := actual.(map[string]any)
		if !ok {
			return []Mismatch{{Path: path, Message: fmt.Sprintf("expected object, got %T", actual)}}
		}
		return compareObject(path, ev, av, opts)
	case []any:
		av, ok := actual.([]any)
		if !ok {
			return []Mismatch{{Path: path, Message: fmt.Sprintf("expected array, got %T", actual)}}
		}
		if opts.UnorderedArrays {
			return compareArrayUnordered(path, ev, av, opts)
		}
		return compareArrayOrdered(path, ev, av, opts)
	case float64:
		av, ok := actual.(float64)
		if !ok {
			return []Mismatch{{Path: path, Message: fmt.Sprintf("expected number %v, got %T", ev, actual)}}
		}
		if opts.HasTolerance {
			if math.Abs(av-ev) > opts.Tolerance {
				return []Mismatch{{Path: path, Message: fmt.Sprintf("expected %v ± %v, got %v", ev, opts.Tolerance, av)}}
			}
			return nil
		}
		if av != ev {
			return []Mismatch{{Path: path, Message: fmt.Sprintf("expected %v, got %v", ev, av)}}
		}
		return nil
	case nil:
		if actual != nil {
			return []Mismatch{{Path: path, Message: fmt.Sprintf("expected null, got %v", actual)}}
		}
		return nil
	default:
		if expected != actual {
			return []Mismatch{{Path: path, Message: fmt.Sprintf("expected %v, got %v", expected, actual)}}
		}
		return nil
	}
}

func compareObject(path string, expected, actual map[string]any, opts Options) []Mismatch {
	var mismatches []Mismatch
	for k, ev := range expected {
		av, present := actual[k]
		childPath := path + "." + k
		if !present {
			mismatches = append(mismatches, Mismatch{Path: childPath, Message: "missing key"})
			continue
		}
		mismatches = append(mismatches, compareAt(childPath, ev, av, opts)...)
	}
	if !opts.Partial {
		for k := range actual {
			if _, expectedHas := expected[k]; !expectedHas {
				mismatches = append(mismatches, Mismatch{Path: path + "." + k, Message: fmt.Sprintf("unexpected key: %s", path+"."+k)})
			}
		}
	}
	return mismatches
}

func compareArrayOrdered(path string, expected, actual []any, opts Options) []Mismatch {
	var mismatches []Mismatch
	if len(actual) < len(expected) {
		mismatches = append(mismatches, Mismatch{Path: path, Message: fmt.Sprintf("expected %d elements, got %d", len(expected), len(actual))})
	}
	for i, ev := range expected {
		if i >= len(actual) {
			break
		}
		mismatches = append(mismatches, compareAt(fmt.Sprintf("%s[%d]", path, i), ev, actual[i], opts)...)
	}
	if !opts.Partial && len(actual) > len(expected) {
		mismatches = append(mismatches, Mismatch{Path: path, Message: fmt.Sprintf("unexpected trailing elements: got %d, expected %d", len(actual), len(expected))})
	}
	return mismatches
}

// compareArrayUnordered treats both arrays as multisets, greedily pairing
// each expected element with the first remaining actual element that
// compares equal (no mismatches). Unmatched expected elements are reported;
// unmatched actual elements are reported unless Partial is set.
func compareArrayUnordered(path string, expected, actual []any, opts Options) []Mismatch {
	used := make([]bool, len(actual))
	var mismatches []Mismatch
	for i, ev := range expected {
		matched := false
		for j, av := range actual {
			if used[j] {
				continue
			}
			if len(compareAt("", ev, av, opts)) == 0 {
				used[j] = true
				matched = true
				break
			}
		}
		if !matched {
			mismatches = append(mismatches, Mismatch{Path: fmt.Sprintf("%s[%d]", path, i), Message: "no matching element found in actual array"})
		}
	}
	if !opts.Partial {
		for j, u := range used {
			if !u {
				mismatches = append(mismatches, Mismatch{Path: fmt.Sprintf("%s[%d]", path, j), Message: "unexpected element in actual array"})
			}
		}
	}
	return mismatches
}

// Redact returns a deep copy of value with each dotted path removed. Paths
// use "." for object field access; array indices are not addressable by a
// redact path (entire sub-objects are targeted).
func Redact(value any, paths []string) any {
	if len(paths) == 0 {
		return value
	}
	cloned := deepClone(value)
	for _, p := range paths {
		removePath(cloned, strings.Split(p, "."))
	}
	return cloned
}

func deepClone(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = deepClone(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = deepClone(child)
		}
		return out
	default:
		return v
	}
}

func removePath(value any, segs []string) {
	if len(segs) == 0 {
		return
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return
	}
	if len(segs) == 1 {
		delete(obj, segs[0])
		return
	}
	if child, ok := obj[segs[0]]; ok {
		removePath(child, segs[1:])
	}
}

// ErrorExpectation is the decoded content of an ERROR section.
type ErrorExpectation struct {
	Code    *codes.Code
	Message string
}

// ParseErrorExpectation decodes an ERROR section's JSON5 value ({"code":
// 5, "message": "not found"}) into an ErrorExpectation. Either field may be
// absent; an absent code matches any status, an absent message matches any.
func ParseErrorExpectation(value any) ErrorExpectation {
	var exp ErrorExpectation
	obj, ok := value.(map[string]any)
	if !ok {
		return exp
	}
	if raw, ok := obj["code"]; ok {
		switch c := raw.(type) {
		case float64:
			code := codes.Code(uint32(c))
			exp.Code = &code
		case string:
			if code, ok := codeByName(c); ok {
				exp.Code = &code
			}
		}
	}
	if msg, ok := obj["message"].(string); ok {
		exp.Message = msg
	}
	return exp
}

// MatchError reports whether actualCode/actualMessage satisfy exp: both the
// numeric code (if specified) and the message substring (if specified) must
// match.
func MatchError(exp ErrorExpectation, actualCode codes.Code, actualMessage string) (bool, string) {
	if exp.Code != nil && *exp.Code != actualCode {
		return false, fmt.Sprintf("expected status %s, got %s", *exp.Code, actualCode)
	}
	if exp.Message != "" && !strings.Contains(actualMessage, exp.Message) {
		return false, fmt.Sprintf("expected error message to contain %q, got %q", exp.Message, actualMessage)
	}
	return true, ""
}

func codeByName(name string) (codes.Code, bool) {
	for c := codes.Code(0); c <= codes.Unauthenticated; c++ {
		if strings.EqualFold(c.String(), name) {
			return c, true
		}
	}
	return 0, false
}

// CheckCount applies the response-count rule: fewer actual messages than
// expected RESPONSE sections always fails (naming the line of
// the first missing one); more actual messages than expected is permitted
// unless strictCount is set.
func CheckCount(expectedLines []int, actualCount int, strictCount bool) []Mismatch {
	var mismatches []Mismatch
	if actualCount < len(expectedLines) {
		line := expectedLines[actualCount]
		mismatches = append(mismatches, Mismatch{
			Message: fmt.Sprintf("expected message for RESPONSE section at line %d but no more messages received", line),
		})
	}
	if strictCount && actualCount > len(expectedLines) {
		mismatches = append(mismatches, Mismatch{
			Message: fmt.Sprintf("strict_count: expected %d messages, got %d", len(expectedLines), actualCount),
		})
	}
	return mismatches
}

// SortedKeys returns m's keys in sorted order, for callers that want
// deterministic output when walking a map.
func SortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
