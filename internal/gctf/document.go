// Package gctf implements the lexer, parser, document model, and serializer
// for the .gctf test file format: a line-oriented sectioned format with
// JSON5 payloads, inline options on section headers, and cross-section
// variable references.
package gctf

import (
	"time"

	"github.com/grpctestify/grpctestify/internal/diagnostics"
	"github.com/grpctestify/grpctestify/internal/extract"
)

// SectionType identifies the kind of a Section.
type SectionType string

const (
	SectionAddress        SectionType = "ADDRESS"
	SectionEndpoint        SectionType = "ENDPOINT"
	SectionRequest         SectionType = "REQUEST"
	SectionResponse        SectionType = "RESPONSE"
	SectionError           SectionType = "ERROR"
	SectionExtract         SectionType = "EXTRACT"
	SectionAsserts         SectionType = "ASSERTS"
	SectionRequestHeaders  SectionType = "REQUEST_HEADERS"
	SectionTLS             SectionType = "TLS"
	SectionProto           SectionType = "PROTO"
	SectionOptions         SectionType = "OPTIONS"
	SectionOther           SectionType = "OTHER"
)

// InlineOptions are per-section modifiers written on a section header line.
type InlineOptions struct {
	Partial         bool
	HasTolerance    bool
	Tolerance       float64
	UnorderedArrays bool
	Redact          []string
	WithAsserts     bool
	StrictCount     bool
}

// HeaderMap is a case-insensitive header/option mapping that preserves
// first-seen key casing for display while looking up case-insensitively.
type HeaderMap struct {
	order []string
	keys  map[string]string // lower -> original casing
	vals  map[string]string // lower -> value
}

// NewHeaderMap returns an empty HeaderMap.
func NewHeaderMap() *HeaderMap {
	return &HeaderMap{keys: map[string]string{}, vals: map[string]string{}}
}

// Set assigns value for key, lowercased for lookup purposes.
func (h *HeaderMap) Set(key, value string) {
	lk := lower(key)
	if _, ok := h.keys[lk]; !ok {
		h.order = append(h.order, lk)
	}
	h.keys[lk] = key
	h.vals[lk] = value
}

// Get looks up a value case-insensitively.
func (h *HeaderMap) Get(key string) (string, bool) {
	v, ok := h.vals[lower(key)]
	return v, ok
}

// Keys returns keys in insertion order, using their original casing.
func (h *HeaderMap) Keys() []string {
	out := make([]string, len(h.order))
	for i, lk := range h.order {
		out[i] = h.keys[lk]
	}
	return out
}

// Len reports the number of entries.
func (h *HeaderMap) Len() int { return len(h.order) }

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// ExtractBinding is one `name = <expr>` line from an EXTRACT section.
type ExtractBinding struct {
	Name  string
	Value extract.Value
	Line  int
}

// LineRange is the 1-based, inclusive line span a section occupies in the
// source file.
type LineRange struct {
	Start, End int
}

// Section is one delimited block of a .gctf document.
type Section struct {
	Type          SectionType
	RawTypeName   string // original header text, used when Type == SectionOther
	InlineOptions InlineOptions
	RawText       string
	LineRange     LineRange

	// Exactly one of the following is populated, selected by Type.
	JSON          any               // REQUEST / RESPONSE / ERROR
	Headers       *HeaderMap        // REQUEST_HEADERS / TLS / OPTIONS
	Extracts      []ExtractBinding  // EXTRACT
	AssertLines   []AssertLine      // ASSERTS
	TextLines     []string          // ADDRESS / ENDPOINT / PROTO / OTHER
}

// AssertLine is one non-empty, non-comment line of an ASSERTS section.
type AssertLine struct {
	Expr string
	Line int
}

// Metadata carries source provenance for a parsed document.
type Metadata struct {
	SourcePath string
	ModTime    time.Time
	ParsedAt   time.Time
}

// Document is the parsed, immutable representation of a .gctf file.
type Document struct {
	Sections []Section
	Metadata Metadata
}

// Endpoint returns the parsed ENDPOINT section's value, if any.
func (d *Document) Endpoint() (Endpoint, bool) {
	for _, s := range d.Sections {
		if s.Type == SectionEndpoint {
			if txt, ok := firstLine(s.RawText); ok {
				return ParseEndpoint(txt)
			}
		}
	}
	return Endpoint{}, false
}

// Address returns the ADDRESS section's value, if any.
func (d *Document) Address() (string, bool) {
	for _, s := range d.Sections {
		if s.Type == SectionAddress {
			if txt, ok := firstLine(s.RawText); ok {
				return txt, true
			}
		}
	}
	return "", false
}

func firstLine(s string) (string, bool) {
	for _, ln := range splitLines(s) {
		t := trimSpace(ln)
		if t == "" || isComment(t) {
			continue
		}
		return t, true
	}
	return "", false
}

// BySectionType returns all sections matching the given type, in document order.
func (d *Document) BySectionType(t SectionType) []Section {
	var out []Section
	for _, s := range d.Sections {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// Endpoint is the canonical parsed form of a gRPC target: package.Service/Method.
type Endpoint struct {
	Package string
	Service string
	Method  string
	Raw     string
}

// FullService returns "package.Service" (or just "Service" if package is empty).
func (e Endpoint) FullService() string {
	if e.Package == "" {
		return e.Service
	}
	return e.Package + "." + e.Service
}

// ParseEndpoint parses "package.Service/Method" into its parts.
func ParseEndpoint(raw string) (Endpoint, bool) {
	slash := indexByte(raw, '/')
	if slash < 0 {
		return Endpoint{}, false
	}
	svcFull := raw[:slash]
	method := raw[slash+1:]
	if svcFull == "" || method == "" {
		return Endpoint{}, false
	}
	pkg, svc := "", svcFull
	if dot := lastIndexByte(svcFull, '.'); dot >= 0 {
		pkg = svcFull[:dot]
		svc = svcFull[dot+1:]
	}
	return Endpoint{Package: pkg, Service: svc, Method: method, Raw: raw}, true
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func lastIndexByte(s string, c byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// ValidateInvariants checks the structural invariants from the data model
// that are not already enforced at parse time, appending to diags.
func (d *Document) ValidateInvariants(diags *diagnostics.Collection) {
	sawEndpoint := false
	errCount := 0
	for i, s := range d.Sections {
		switch s.Type {
		case SectionAddress:
			if sawEndpoint {
				diags.AddBuilder(diagnostics.Warnf(diagnostics.CodeMissingEndpoint,
					"ADDRESS section should precede ENDPOINT").AtLine(s.LineRange.Start))
			}
		case SectionEndpoint:
			sawEndpoint = true
		case SectionError:
			errCount++
		case SectionResponse:
			if s.InlineOptions.WithAsserts {
				nextIdx := i + 1
				for nextIdx < len(d.Sections) && d.Sections[nextIdx].Type == SectionOther {
					nextIdx++
				}
				if nextIdx >= len(d.Sections) || d.Sections[nextIdx].Type != SectionAsserts {
					diags.AddBuilder(diagnostics.Errorf(diagnostics.CodeMisplacedAsserts,
						"RESPONSE has with_asserts but is not followed by an ASSERTS section").
						AtLine(s.LineRange.Start))
				}
			}
		}
	}
	if !sawEndpoint {
		diags.AddBuilder(diagnostics.Errorf(diagnostics.CodeMissingEndpoint,
			"document is missing an ENDPOINT section").AtLine(1))
	}
	if errCount > 1 {
		diags.AddBuilder(diagnostics.Errorf(diagnostics.CodeDuplicateError,
			"document contains more than one ERROR section").AtLine(1))
	}
	hasResponse := len(d.BySectionType(SectionResponse)) > 0
	hasError := len(d.BySectionType(SectionError)) > 0
	if hasResponse && hasError {
		diags.AddBuilder(diagnostics.Warnf(diagnostics.CodeConflictingResponse,
			"document has both RESPONSE and ERROR sections; ERROR implies the call fails").AtLine(1))
	}
	if len(d.BySectionType(SectionRequest)) == 0 && !hasError {
		diags.AddBuilder(diagnostics.Errorf(diagnostics.CodeMissingRequest,
			"document has no REQUEST and no ERROR section").AtLine(1))
	}
}
