package gctf_test

import (
	"strings"
	"testing"

	"github.com/grpctestify/grpctestify/internal/gctf"
)

func TestParseUnaryHello(t *testing.T) {
	src := `--- ENDPOINT ---
helloworld.Greeter/SayHello

--- REQUEST ---
{"name":"World"}

--- RESPONSE ---
{"message":"Hello World!"}
`
	doc, diags := gctf.Parse([]byte(src), "hello.gctf")
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags.All())
	}
	ep, ok := doc.Endpoint()
	if !ok {
		t.Fatal("expected endpoint")
	}
	if ep.FullService() != "helloworld.Greeter" || ep.Method != "SayHello" {
		t.Fatalf("unexpected endpoint: %+v", ep)
	}
	reqs := doc.BySectionType(gctf.SectionRequest)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 request, got %d", len(reqs))
	}
	m, ok := reqs[0].JSON.(map[string]any)
	if !ok || m["name"] != "World" {
		t.Fatalf("unexpected request JSON: %#v", reqs[0].JSON)
	}
}

func TestParseInlineOptions(t *testing.T) {
	src := `--- ENDPOINT ---
pkg.Svc/Method

--- REQUEST ---
{}

--- RESPONSE --- partial, tolerance=0.01, unordered_arrays, redact=a.b,c
{"id":1}
`
	doc, diags := gctf.Parse([]byte(src), "t.gctf")
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags.All())
	}
	resp := doc.BySectionType(gctf.SectionResponse)[0]
	if !resp.InlineOptions.Partial {
		t.Error("expected partial=true")
	}
	if !resp.InlineOptions.HasTolerance || resp.InlineOptions.Tolerance != 0.01 {
		t.Errorf("unexpected tolerance: %+v", resp.InlineOptions)
	}
	if !resp.InlineOptions.UnorderedArrays {
		t.Error("expected unordered_arrays=true")
	}
	if len(resp.InlineOptions.Redact) != 2 {
		t.Errorf("unexpected redact list: %v", resp.InlineOptions.Redact)
	}
}

func TestJson5Superset(t *testing.T) {
	src := `--- ENDPOINT ---
pkg.Svc/Method

--- REQUEST ---
{
  // a comment
  name: 'World', // trailing comma below
  count: 0x1F,
}
`
	doc, diags := gctf.Parse([]byte(src), "t.gctf")
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags.All())
	}
	req := doc.BySectionType(gctf.SectionRequest)[0]
	m := req.JSON.(map[string]any)
	if m["name"] != "World" {
		t.Errorf("expected name=World, got %#v", m["name"])
	}
	if m["count"] != float64(31) {
		t.Errorf("expected count=31, got %#v", m["count"])
	}
}

func TestMissingEndpointDiagnostic(t *testing.T) {
	src := `--- REQUEST ---
{}
`
	_, diags := gctf.Parse([]byte(src), "t.gctf")
	if !diags.HasErrors() {
		t.Fatal("expected missing-endpoint error")
	}
	found := false
	for _, d := range diags.All() {
		if d.Code == "MissingEndpoint" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected MissingEndpoint diagnostic, got %v", diags.All())
	}
}

func TestSerializeIdempotent(t *testing.T) {
	src := `--- ENDPOINT ---
pkg.Svc/Method

--- REQUEST ---
{"a":1}

--- RESPONSE --- partial
{"b":2}
`
	doc1, _ := gctf.Parse([]byte(src), "t.gctf")
	out1 := gctf.Serialize(doc1)
	doc2, _ := gctf.Parse([]byte(out1), "t.gctf")
	out2 := gctf.Serialize(doc2)
	if out1 != out2 {
		t.Fatalf("serialize not idempotent:\n--- first ---\n%s\n--- second ---\n%s", out1, out2)
	}
	if !strings.Contains(out1, "pkg.Svc/Method") {
		t.Fatalf("missing endpoint in serialized output: %s", out1)
	}
}

func TestExtractTernaryLowering(t *testing.T) {
	src := `--- ENDPOINT ---
pkg.Svc/Method

--- REQUEST ---
{}

--- RESPONSE ---
{}

--- EXTRACT ---
flag = .ok ? "yes" : "no"
`
	doc, diags := gctf.Parse([]byte(src), "t.gctf")
	if diags.HasErrors() {
		t.Fatalf("unexpected errors: %v", diags.All())
	}
	ex := doc.BySectionType(gctf.SectionExtract)[0]
	if len(ex.Extracts) != 1 {
		t.Fatalf("expected 1 binding, got %d", len(ex.Extracts))
	}
	got := ex.Extracts[0].Value.Lower()
	want := `if .ok then "yes" else "no" end`
	if got != want {
		t.Errorf("lowering mismatch: got %q want %q", got, want)
	}
}
