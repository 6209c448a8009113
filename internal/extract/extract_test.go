package extract

import "testing"

func TestParseValueSimplePath(t *testing.T) {
	v, err := ParseValue(".payload.body")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Kind != KindJqExpr {
		t.Fatalf("kind = %v, want KindJqExpr", v.Kind)
	}
	if got := v.Lower(); got != ".payload.body" {
		t.Fatalf("Lower() = %q", got)
	}
}

func TestParseValueBareIdentifierIsSimple(t *testing.T) {
	v, err := ParseValue("count")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Kind != KindSimple {
		t.Fatalf("kind = %v, want KindSimple", v.Kind)
	}
}

func TestParseValueTernary(t *testing.T) {
	v, err := ParseValue(`.code == 0 ? "ok" : "fail"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Kind != KindTernary {
		t.Fatalf("kind = %v, want KindTernary", v.Kind)
	}
	want := `if .code == 0 then "ok" else "fail" end`
	if got := v.Lower(); got != want {
		t.Fatalf("Lower() = %q, want %q", got, want)
	}
}

func TestParseValueTernaryIgnoresNestedColons(t *testing.T) {
	v, err := ParseValue(`.ok ? {"a": 1} : {"b": 2}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Kind != KindTernary {
		t.Fatalf("kind = %v, want KindTernary", v.Kind)
	}
	if v.Then != `{"a": 1}` || v.Else != `{"b": 2}` {
		t.Fatalf("then/else = %q / %q", v.Then, v.Else)
	}
}

func TestParseValueHeaderCall(t *testing.T) {
	v, err := ParseValue(`@header(x-request-id)`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Kind != KindMetadataCall || v.MetaKind != MetadataHeader || v.MetaName != "x-request-id" {
		t.Fatalf("unexpected value: %+v", v)
	}
	if got := v.Lower(); got != "@header(x-request-id)" {
		t.Fatalf("Lower() = %q", got)
	}
}

func TestParseValueTrailerCallQuotedName(t *testing.T) {
	v, err := ParseValue(`@trailer("grpc-status")`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Kind != KindMetadataCall || v.MetaKind != MetadataTrailer || v.MetaName != "grpc-status" {
		t.Fatalf("unexpected value: %+v", v)
	}
}

func TestParseValueEmptyExpressionErrors(t *testing.T) {
	if _, err := ParseValue("   "); err == nil {
		t.Fatal("expected an error for an empty expression")
	}
}

func TestParseBinding(t *testing.T) {
	b, err := ParseBinding("request_id = .headers.x_request_id")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Name != "request_id" {
		t.Fatalf("name = %q", b.Name)
	}
	if b.Value.Pipeline != ".headers.x_request_id" {
		t.Fatalf("pipeline = %q", b.Value.Pipeline)
	}
}

func TestParseBindingMissingEquals(t *testing.T) {
	if _, err := ParseBinding("just_a_name"); err == nil {
		t.Fatal("expected an error for a line with no '='")
	}
}

func TestParseBindingIgnoresEqualsInsideQuotes(t *testing.T) {
	b, err := ParseBinding(`label = .a == "x=y" ? "yes" : "no"`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.Name != "label" {
		t.Fatalf("name = %q, want label", b.Name)
	}
	if b.Value.Kind != KindTernary {
		t.Fatalf("kind = %v, want KindTernary", b.Value.Kind)
	}
}
