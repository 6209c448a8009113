package codec

import (
	"testing"

	"github.com/jhump/protoreflect/desc"
	"google.golang.org/grpc/interop/grpc_testing"
	"google.golang.org/protobuf/types/known/fieldmaskpb"
)

func TestDecodeRequestRoundTrip(t *testing.T) {
	md, err := desc.LoadMessageDescriptorForMessage((*grpc_testing.SimpleRequest)(nil))
	if err != nil {
		t.Fatalf("load descriptor: %v", err)
	}
	c := New(md, md)

	msg, err := c.DecodeRequest(map[string]any{
		"payload": map[string]any{"body": "aGVsbG8="},
	})
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}

	out, err := EncodeMessageJSON(msg)
	if err != nil {
		t.Fatalf("EncodeMessageJSON: %v", err)
	}
	obj, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("encoded message is not an object: %T", out)
	}
	payload, ok := obj["payload"].(map[string]any)
	if !ok {
		t.Fatalf("missing payload field: %v", obj)
	}
	if payload["body"] != "aGVsbG8=" {
		t.Fatalf("body = %v, want aGVsbG8=", payload["body"])
	}
}

func TestDecodeRequestNilValueIsEmptyMessage(t *testing.T) {
	md, err := desc.LoadMessageDescriptorForMessage((*grpc_testing.SimpleRequest)(nil))
	if err != nil {
		t.Fatalf("load descriptor: %v", err)
	}
	c := New(md, md)

	msg, err := c.DecodeRequest(nil)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	out, err := EncodeMessageJSON(msg)
	if err != nil {
		t.Fatalf("EncodeMessageJSON: %v", err)
	}
	if obj, ok := out.(map[string]any); !ok || len(obj) != 0 {
		t.Fatalf("expected an empty object, got %v", out)
	}
}

func TestNewResponseAllocatesEmptyMessage(t *testing.T) {
	md, err := desc.LoadMessageDescriptorForMessage((*grpc_testing.SimpleResponse)(nil))
	if err != nil {
		t.Fatalf("load descriptor: %v", err)
	}
	c := New(md, md)
	if resp := c.NewResponse(); resp == nil {
		t.Fatal("NewResponse returned nil")
	}
}

func TestNormalizeWellKnownTypesFieldMask(t *testing.T) {
	md, err := desc.LoadMessageDescriptorForMessage((*fieldmaskpb.FieldMask)(nil))
	if err != nil {
		t.Fatalf("load descriptor: %v", err)
	}
	c := New(md, md)

	msg, err := c.DecodeRequest(map[string]any{"paths": []any{"a.b", "c"}})
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	out, err := EncodeMessageJSON(msg)
	if err != nil {
		t.Fatalf("EncodeMessageJSON: %v", err)
	}
	if out != "a.b,c" {
		t.Fatalf("encoded field mask = %v, want \"a.b,c\"", out)
	}
}
