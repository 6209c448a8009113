package gctf_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/grpctestify/grpctestify/internal/diagnostics"
	"github.com/grpctestify/grpctestify/internal/gctf"
)

// runParseWithTimeout calls gctf.Parse on its own goroutine and fails the
// test if it panics or doesn't return within the deadline, without letting
// a runaway parse hang the test binary.
func runParseWithTimeout(t *testing.T, src string, deadline time.Duration) (*gctf.Document, *diagnostics.Collection) {
	t.Helper()
	type result struct {
		doc   *gctf.Document
		diags *diagnostics.Collection
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("parser panicked on adversarial input: %v", r)
				done <- result{}
			}
		}()
		doc, diags := gctf.Parse([]byte(src), "adversarial.gctf")
		done <- result{doc, diags}
	}()
	select {
	case res := <-done:
		return res.doc, res.diags
	case <-time.After(deadline):
		t.Fatal("parser did not return within deadline, likely hanging on adversarial input")
		return nil, nil
	}
}

func wrapRequest(body string) string {
	return fmt.Sprintf("--- ENDPOINT ---\npkg.Svc/Method\n\n--- REQUEST ---\n%s\n", body)
}

func TestParserDoesNotPanicOnDeeplyNestedBrackets(t *testing.T) {
	const depth = 5000
	body := strings.Repeat("[", depth) + strings.Repeat("]", depth)
	_, diags := runParseWithTimeout(t, wrapRequest(body), 5*time.Second)
	if diags == nil {
		return
	}
	_ = diags.HasErrors() // balanced brackets may legitimately parse clean; only panicking/hanging is a failure
}

func TestParserDoesNotPanicOnDeeplyNestedUnterminatedBrackets(t *testing.T) {
	const depth = 5000
	body := strings.Repeat("[", depth)
	_, diags := runParseWithTimeout(t, wrapRequest(body), 5*time.Second)
	if diags == nil {
		return
	}
	if !diags.HasErrors() {
		t.Fatal("expected a parse error for unterminated nested arrays")
	}
}

func TestParserDoesNotHangOnUnterminatedString(t *testing.T) {
	body := `{"key": "this string never closes, it just keeps going and going`
	_, diags := runParseWithTimeout(t, wrapRequest(body), 5*time.Second)
	if diags == nil {
		return
	}
	if !diags.HasErrors() {
		t.Fatal("expected a parse error for an unterminated string literal")
	}
}

func TestParserDoesNotHangOnUnterminatedEscapeAtEOF(t *testing.T) {
	body := `{"key": "trailing backslash at end of input\`
	_, diags := runParseWithTimeout(t, wrapRequest(body), 5*time.Second)
	if diags == nil {
		return
	}
	if !diags.HasErrors() {
		t.Fatal("expected a parse error for a string cut off mid-escape")
	}
}

func TestParserDoesNotPanicOnHugeNumericLiteral(t *testing.T) {
	body := fmt.Sprintf(`{"count": %s}`, strings.Repeat("9", 400))
	_, diags := runParseWithTimeout(t, wrapRequest(body), 5*time.Second)
	if diags == nil {
		return
	}
	_ = diags.HasErrors() // overflow to +Inf is acceptable; panicking or hanging is not
}

func TestParserDoesNotHangOnHugeFlatArray(t *testing.T) {
	const n = 50000
	elems := make([]string, n)
	for i := range elems {
		elems[i] = "1"
	}
	body := "[" + strings.Join(elems, ",") + "]"
	_, diags := runParseWithTimeout(t, wrapRequest(body), 5*time.Second)
	if diags == nil {
		return
	}
	if diags.HasErrors() {
		t.Fatalf("unexpected errors on a large but well-formed array: %v", diags.All())
	}
}
