package workflow

import (
	"fmt"
	"regexp"

	"github.com/grpctestify/grpctestify/internal/gctf"
)

// Group is one (REQUEST_HEADERS?, REQUEST*, RESPONSE*|ERROR*, EXTRACT?,
// ASSERTS*) run of sections. Exported so the runner can walk the same
// grouping Lower used when it actually dispatches each group.
type Group struct {
	Headers   *gctf.Section
	Requests  []gctf.Section
	Responses []gctf.Section
	Errors    []gctf.Section
	Extract   *gctf.Section
	Asserts   []gctf.Section
}

// GroupSections folds a document's sections into call groups. A group closes
// the moment it has seen a RESPONSE or ERROR section; the next REQUEST or
// REQUEST_HEADERS then starts a fresh group. Config sections (ADDRESS,
// ENDPOINT, TLS, OPTIONS, PROTO) sit outside any group.
func GroupSections(sections []gctf.Section) []Group {
	var groups []Group
	var cur *Group
	closed := true

	open := func() {
		groups = append(groups, Group{})
		cur = &groups[len(groups)-1]
		closed = false
	}

	for _, s := range sections {
		sCopy := s
		switch s.Type {
		case gctf.SectionRequestHeaders:
			if cur == nil || closed {
				open()
			}
			cur.Headers = &sCopy
		case gctf.SectionRequest:
			if cur == nil || closed {
				open()
			}
			cur.Requests = append(cur.Requests, sCopy)
		case gctf.SectionResponse:
			if cur == nil {
				open()
			}
			cur.Responses = append(cur.Responses, sCopy)
			closed = true
		case gctf.SectionError:
			if cur == nil {
				open()
			}
			cur.Errors = append(cur.Errors, sCopy)
			closed = true
		case gctf.SectionExtract:
			if cur == nil {
				open()
			}
			cur.Extract = &sCopy
		case gctf.SectionAsserts:
			if cur == nil {
				open()
			}
			cur.Asserts = append(cur.Asserts, sCopy)
		default:
			// ADDRESS / ENDPOINT / TLS / OPTIONS / PROTO / OTHER sit outside groups.
		}
	}
	return groups
}

// Lower folds a parsed document into the ordered, statically-known portion of
// its workflow event stream. Extracted events are emitted
// immediately after their Extract with a nil Values map. The runner keeps
// evaluated bindings in its own variable map and does not fill in Values.
func Lower(doc *gctf.Document, path string) []Event {
	var events []Event
	events = append(events, TestLoaded(path))

	addr, _ := doc.Address()
	ep, hasEndpoint := doc.Endpoint()
	backend := ""
	if hasEndpoint {
		backend = ep.FullService()
	}
	hasTLS := len(doc.BySectionType(gctf.SectionTLS)) > 0
	events = append(events, Connect(backend, addr, hasTLS, ""))

	groups := GroupSections(doc.Sections)
	var totalRequests, totalResponses int
	var backends []string
	if backend != "" {
		backends = []string{backend}
	}

	for _, g := range groups {
		for _, r := range g.Requests {
			events = append(events, Event{Kind: EventSendRequest, Line: r.LineRange.Start, ContentType: "json5"})
			totalRequests++
		}
		idx := 0
		for _, r := range g.Responses {
			events = append(events, Event{Kind: EventResponseReceived, Line: r.LineRange.Start, ExpectIndex: idx})
			idx++
			totalResponses++
		}
		for _, e := range g.Errors {
			events = append(events, Event{Kind: EventError, Line: e.LineRange.Start, ExpectIndex: idx})
			idx++
		}
		if g.Extract != nil {
			events = append(events, Event{Kind: EventExtract, Line: g.Extract.LineRange.Start, Bindings: g.Extract.Extracts})
			events = append(events, Event{Kind: EventExtracted, Line: g.Extract.LineRange.Start, Values: nil})
		}
		for _, a := range g.Asserts {
			for _, line := range a.AssertLines {
				events = append(events, Event{Kind: EventAssert, Line: line.Line, AssertExpr: line.Expr})
			}
		}
	}

	summary := summarize(events, max(totalRequests, 1), totalResponses, backends)
	events = append(events, Complete(summary))
	return events
}

var varRefRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Validate checks the event stream's structural invariants: it begins with
// TestLoaded, ends with
// Complete, a Connect precedes any SendRequest, every Extract has a matching
// Extracted, and every `{{ name }}` reference (in SendRequest/Assert bodies
// given via refs) resolves to a prior Extracted binding.
func Validate(events []Event, refs map[int][]string) []string {
	var problems []string
	if len(events) == 0 {
		return []string{"workflow has no events"}
	}
	if events[0].Kind != EventTestLoaded {
		problems = append(problems, "workflow must begin with TestLoaded")
	}
	if events[len(events)-1].Kind != EventComplete {
		problems = append(problems, "workflow must end with Complete")
	}

	seenConnect := false
	extractPending := 0
	known := map[string]bool{}
	for i, e := range events {
		switch e.Kind {
		case EventConnect:
			seenConnect = true
		case EventSendRequest:
			if !seenConnect {
				problems = append(problems, fmt.Sprintf("SendRequest at line %d precedes any Connect", e.Line))
			}
		case EventExtract:
			extractPending++
			for _, b := range e.Bindings {
				known[b.Name] = true
			}
		case EventExtracted:
			extractPending--
		}
		for _, name := range refs[i] {
			if !known[name] {
				problems = append(problems, fmt.Sprintf("line %d references undefined variable %q", e.Line, name))
			}
		}
	}
	if extractPending != 0 {
		problems = append(problems, "an Extract event has no matching Extracted event")
	}
	return problems
}

// ExtractRefs scans text for `{{ name }}` references, returning the bare
// names in order of appearance.
func ExtractRefs(text string) []string {
	matches := varRefRe.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
