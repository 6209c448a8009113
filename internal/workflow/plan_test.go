package workflow

import (
	"testing"

	"github.com/grpctestify/grpctestify/internal/gctf"
)

const unaryDoc = `--- ENDPOINT ---
helloworld.Greeter/SayHello

--- REQUEST ---
{"name": "world"}

--- RESPONSE ---
{"message": "hello world"}
`

func mustParse(t *testing.T, src string) *gctf.Document {
	t.Helper()
	doc, diags := gctf.Parse([]byte(src), "test.gctf")
	if diags.HasErrors() {
		t.Fatalf("unexpected parse errors: %v", diags.All())
	}
	return doc
}

func TestLowerUnaryShape(t *testing.T) {
	doc := mustParse(t, unaryDoc)
	events := Lower(doc, "test.gctf")

	if events[0].Kind != EventTestLoaded {
		t.Fatalf("first event = %v, want TestLoaded", events[0].Kind)
	}
	if events[len(events)-1].Kind != EventComplete {
		t.Fatalf("last event = %v, want Complete", events[len(events)-1].Kind)
	}

	var kinds []EventKind
	for _, e := range events {
		kinds = append(kinds, e.Kind)
	}
	wantSeq := []EventKind{EventTestLoaded, EventConnect, EventSendRequest, EventResponseReceived, EventComplete}
	if len(kinds) != len(wantSeq) {
		t.Fatalf("event kinds = %v, want %v", kinds, wantSeq)
	}
	for i, k := range wantSeq {
		if kinds[i] != k {
			t.Fatalf("event[%d] = %v, want %v", i, kinds[i], k)
		}
	}

	last := events[len(events)-1]
	if last.Summary.Mode != RPCUnary {
		t.Errorf("rpc_mode = %v, want Unary", last.Summary.Mode)
	}
	if last.Summary.HasStreaming {
		t.Errorf("has_streaming = true, want false for a unary call")
	}
}

func TestInferRPCMode(t *testing.T) {
	cases := []struct {
		reqs, resps int
		want        RPCMode
	}{
		{1, 1, RPCUnary},
		{1, 3, RPCServerStreaming},
		{3, 1, RPCClientStreaming},
		{2, 2, RPCBidiStreaming},
	}
	for _, c := range cases {
		if got := InferRPCMode(c.reqs, c.resps); got != c.want {
			t.Errorf("InferRPCMode(%d, %d) = %v, want %v", c.reqs, c.resps, got, c.want)
		}
	}
}

func TestValidateDetectsMissingConnect(t *testing.T) {
	events := []Event{
		TestLoaded("x.gctf"),
		{Kind: EventSendRequest, Line: 3},
		Complete(Summary{}),
	}
	problems := Validate(events, nil)
	if len(problems) == 0 {
		t.Fatal("expected a validation problem for SendRequest before Connect")
	}
}

func TestValidateDetectsUndefinedVariable(t *testing.T) {
	events := []Event{
		TestLoaded("x.gctf"),
		Connect("svc", "localhost:1", false, ""),
		{Kind: EventAssert, Line: 5, AssertExpr: "{{ token }} != null"},
		Complete(Summary{}),
	}
	refs := map[int][]string{2: {"token"}}
	problems := Validate(events, refs)
	if len(problems) == 0 {
		t.Fatal("expected a validation problem for an undefined {{ token }} reference")
	}
}

func TestExtractRefs(t *testing.T) {
	refs := ExtractRefs(`{"id": "{{ user_id }}", "parent": "{{parent}}"}`)
	if len(refs) != 2 || refs[0] != "user_id" || refs[1] != "parent" {
		t.Fatalf("ExtractRefs = %v", refs)
	}
}
