// Package workflow lowers a parsed .gctf document into the ordered event
// stream the runner drives: TestLoaded, Connect, SendRequest,
// ResponseReceived/Error, Extract/Extracted, Assert, Complete.
package workflow

import (
	"github.com/grpctestify/grpctestify/internal/gctf"
)

// EventKind is one letter of the workflow event alphabet.
type EventKind string

const (
	EventTestLoaded      EventKind = "TestLoaded"
	EventConnect         EventKind = "Connect"
	EventSendRequest     EventKind = "SendRequest"
	EventResponseReceived EventKind = "ResponseReceived"
	EventExtract         EventKind = "Extract"
	EventExtracted       EventKind = "Extracted"
	EventAssert          EventKind = "Assert"
	EventError           EventKind = "Error"
	EventComplete        EventKind = "Complete"
)

// Event is one step of a lowered workflow. Fields outside the active Kind's
// payload are left zero.
type Event struct {
	Kind EventKind
	Line int

	// EventTestLoaded
	Path string

	// EventConnect
	Backend     string
	Address     string
	TLS         bool
	Compression string

	// EventSendRequest
	ContentType string

	// EventResponseReceived / EventError
	ExpectIndex int // which RESPONSE/ERROR section this corresponds to, 0-based

	// EventExtract / EventExtracted
	Bindings []gctf.ExtractBinding
	Values   map[string]any

	// EventAssert
	AssertExpr string

	// EventComplete
	Summary Summary
}

// TestLoaded returns a TestLoaded event for path.
func TestLoaded(path string) Event {
	return Event{Kind: EventTestLoaded, Path: path}
}

// Connect returns a Connect event describing the endpoint a group of calls
// will be dispatched against.
func Connect(backend, address string, tls bool, compression string) Event {
	return Event{Kind: EventConnect, Backend: backend, Address: address, TLS: tls, Compression: compression}
}

// Complete returns the terminal Complete event carrying the derived summary.
func Complete(s Summary) Event {
	return Event{Kind: EventComplete, Summary: s}
}
