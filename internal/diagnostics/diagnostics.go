// Package diagnostics defines the severity/code/range/suggestion records
// shared by the .gctf parser, the validator, and (eventually) an LSP façade.
package diagnostics

import "fmt"

// Severity classifies how serious a Diagnostic is.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityInfo
	SeverityHint
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	case SeverityHint:
		return "hint"
	default:
		return "unknown"
	}
}

// Code identifies the kind of diagnostic, independent of its message text.
type Code string

const (
	CodeUnknownSectionType   Code = "UnknownSectionType"
	CodeUnknownSectionOption Code = "UnknownSectionOption"
	CodeJson5ParseError      Code = "Json5ParseError"
	CodeMissingEndpoint      Code = "MissingEndpoint"
	CodeMissingRequest       Code = "MissingRequest"
	CodeDanglingVariable     Code = "DanglingVariable"
	CodeMisplacedAsserts     Code = "MisplacedAsserts"
	CodeDuplicateError       Code = "DuplicateErrorSection"
	CodeConflictingResponse  Code = "ConflictingResponseError"
)

// Position is a 1-based line/column location in a source file.
type Position struct {
	Line   int
	Column int
}

// Range is a half-open span of positions within a source file.
type Range struct {
	Start Position
	End   Position
}

// Diagnostic is a single reportable problem, with enough context for a
// human-facing report or an LSP client to render it.
type Diagnostic struct {
	Severity   Severity
	Code       Code
	Message    string
	Range      Range
	Suggestion string
}

func (d Diagnostic) String() string {
	if d.Suggestion == "" {
		return fmt.Sprintf("%s:%d:%d: [%s] %s", d.Severity, d.Range.Start.Line, d.Range.Start.Column, d.Code, d.Message)
	}
	return fmt.Sprintf("%s:%d:%d: [%s] %s (suggestion: %s)", d.Severity, d.Range.Start.Line, d.Range.Start.Column, d.Code, d.Message, d.Suggestion)
}

// Builder assembles a Diagnostic fluently rather than via a bare struct
// literal.
type Builder struct {
	d Diagnostic
}

// New starts a Builder for the given severity and code.
func New(severity Severity, code Code) *Builder {
	return &Builder{d: Diagnostic{Severity: severity, Code: code}}
}

// Errorf starts a Builder for an error-severity diagnostic with a formatted message.
func Errorf(code Code, format string, args ...any) *Builder {
	return New(SeverityError, code).Messagef(format, args...)
}

// Warnf starts a Builder for a warning-severity diagnostic with a formatted message.
func Warnf(code Code, format string, args ...any) *Builder {
	return New(SeverityWarning, code).Messagef(format, args...)
}

// Message sets the diagnostic's message.
func (b *Builder) Message(msg string) *Builder {
	b.d.Message = msg
	return b
}

// Messagef sets the diagnostic's message using fmt.Sprintf.
func (b *Builder) Messagef(format string, args ...any) *Builder {
	b.d.Message = fmt.Sprintf(format, args...)
	return b
}

// At sets the diagnostic's range to a single line, with the given columns.
func (b *Builder) At(line, startCol, endCol int) *Builder {
	b.d.Range = Range{
		Start: Position{Line: line, Column: startCol},
		End:   Position{Line: line, Column: endCol},
	}
	return b
}

// AtLine sets the diagnostic's range to the full given line, column unknown.
func (b *Builder) AtLine(line int) *Builder {
	return b.At(line, 1, 1)
}

// Suggest attaches a one-line fix suggestion.
func (b *Builder) Suggest(s string) *Builder {
	b.d.Suggestion = s
	return b
}

// Build returns the assembled Diagnostic.
func (b *Builder) Build() Diagnostic {
	return b.d
}

// Collection is an ordered, append-only set of diagnostics gathered during
// parsing or validation.
type Collection struct {
	items []Diagnostic
}

// Add appends a diagnostic to the collection.
func (c *Collection) Add(d Diagnostic) {
	c.items = append(c.items, d)
}

// AddBuilder appends the diagnostic produced by a Builder.
func (c *Collection) AddBuilder(b *Builder) {
	c.Add(b.Build())
}

// All returns every diagnostic added so far, in insertion order.
func (c *Collection) All() []Diagnostic {
	return c.items
}

// HasErrors reports whether any error-severity diagnostic was recorded.
func (c *Collection) HasErrors() bool {
	for _, d := range c.items {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Len returns the number of diagnostics recorded.
func (c *Collection) Len() int {
	return len(c.items)
}
