package match

import (
	"testing"

	"google.golang.org/grpc/codes"
)

func TestCompareExactMatch(t *testing.T) {
	expected := map[string]any{"message": "hello world"}
	actual := map[string]any{"message": "hello world"}
	if m := Compare(expected, actual, Options{}); len(m) != 0 {
		t.Fatalf("unexpected mismatches: %v", m)
	}
}

func TestCompareUnexpectedKeyFailsByDefault(t *testing.T) {
	expected := map[string]any{"message": "hi"}
	actual := map[string]any{"message": "hi", "extra": true}
	m := Compare(expected, actual, Options{})
	if len(m) == 0 {
		t.Fatal("expected a mismatch for an unexpected key")
	}
}

func TestComparePartialAllowsExtraKeys(t *testing.T) {
	expected := map[string]any{"message": "hi"}
	actual := map[string]any{"message": "hi", "extra": true}
	m := Compare(expected, actual, Options{Partial: true})
	if len(m) != 0 {
		t.Fatalf("unexpected mismatches under partial: %v", m)
	}
}

func TestCompareTolerance(t *testing.T) {
	expected := map[string]any{"value": 1.0}
	actual := map[string]any{"value": 1.0005}
	if m := Compare(expected, actual, Options{}); len(m) == 0 {
		t.Fatal("expected strict comparison to fail without tolerance")
	}
	if m := Compare(expected, actual, Options{HasTolerance: true, Tolerance: 0.01}); len(m) != 0 {
		t.Fatalf("expected tolerance to absorb small delta, got %v", m)
	}
}

func TestCompareUnorderedArrays(t *testing.T) {
	expected := map[string]any{"items": []any{float64(1), float64(2), float64(3)}}
	actual := map[string]any{"items": []any{float64(3), float64(1), float64(2)}}
	if m := Compare(expected, actual, Options{}); len(m) == 0 {
		t.Fatal("expected ordered comparison to fail on reordered array")
	}
	if m := Compare(expected, actual, Options{UnorderedArrays: true}); len(m) != 0 {
		t.Fatalf("expected unordered comparison to pass, got %v", m)
	}
}

func TestRedactRemovesPath(t *testing.T) {
	value := map[string]any{"token": "secret", "name": "world"}
	redacted := Redact(value, []string{"token"})
	m, ok := redacted.(map[string]any)
	if !ok {
		t.Fatalf("redacted value is not a map: %T", redacted)
	}
	if _, present := m["token"]; present {
		t.Error("expected token to be redacted")
	}
	if m["name"] != "world" {
		t.Error("redact must not disturb unrelated keys")
	}
	if _, present := value["token"]; !present {
		t.Error("Redact must not mutate its input")
	}
}

func TestCheckCountMissingMessage(t *testing.T) {
	m := CheckCount([]int{10, 20}, 1, false)
	if len(m) != 1 {
		t.Fatalf("expected one mismatch for a missing message, got %v", m)
	}
}

func TestCheckCountExtraAllowedByDefault(t *testing.T) {
	m := CheckCount([]int{10}, 3, false)
	if len(m) != 0 {
		t.Fatalf("extra messages should be permitted by default, got %v", m)
	}
}

func TestCheckCountStrict(t *testing.T) {
	m := CheckCount([]int{10}, 3, true)
	if len(m) != 1 {
		t.Fatalf("expected strict_count to flag extra messages, got %v", m)
	}
}

func TestMatchErrorByCodeAndMessage(t *testing.T) {
	exp := ParseErrorExpectation(map[string]any{"code": float64(5), "message": "not found"})
	ok, _ := MatchError(exp, codes.NotFound, "widget not found")
	if !ok {
		t.Fatal("expected error match on code+message substring")
	}
	ok, _ = MatchError(exp, codes.OK, "")
	if ok {
		t.Fatal("expected mismatch against a successful call")
	}
}
