package descriptor

import (
	"testing"

	"google.golang.org/protobuf/types/descriptorpb"
)

func TestSanitizeDropsOutOfRangeDependencyIndices(t *testing.T) {
	fd := &descriptorpb.FileDescriptorProto{
		Name:             strPtr("a.proto"),
		Dependency:       []string{"b.proto"},
		PublicDependency: []int32{0, 5, -1},
		WeakDependency:   []int32{3},
	}
	res := sanitize(fd)
	if got := fd.GetPublicDependency(); len(got) != 1 || got[0] != 0 {
		t.Fatalf("public_dependency = %v, want [0]", got)
	}
	if got := fd.GetWeakDependency(); len(got) != 0 {
		t.Fatalf("weak_dependency = %v, want empty", got)
	}
	if len(res.warnings) != 2 {
		t.Fatalf("warnings = %v, want 2", res.warnings)
	}
}

func TestSanitizeClearsOutOfRangeOneofIndex(t *testing.T) {
	fd := &descriptorpb.FileDescriptorProto{
		Name: strPtr("a.proto"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: strPtr("M"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{Name: strPtr("f"), OneofIndex: int32Ptr(2)},
				},
				OneofDecl: []*descriptorpb.OneofDescriptorProto{{Name: strPtr("o")}},
			},
		},
	}
	res := sanitize(fd)
	if fd.MessageType[0].Field[0].OneofIndex != nil {
		t.Fatal("expected out-of-range oneof_index to be cleared")
	}
	if len(res.warnings) != 1 {
		t.Fatalf("warnings = %v, want 1", res.warnings)
	}
}

func TestSanitizeRewritesEditionsSyntax(t *testing.T) {
	fd := &descriptorpb.FileDescriptorProto{Name: strPtr("a.proto"), Syntax: strPtr("editions")}
	sanitize(fd)
	if fd.GetSyntax() != "proto3" {
		t.Fatalf("syntax = %q, want proto3", fd.GetSyntax())
	}
}

func TestSanitizeRewritesUnknownSyntaxWithWarning(t *testing.T) {
	fd := &descriptorpb.FileDescriptorProto{Name: strPtr("a.proto"), Syntax: strPtr("bogus")}
	res := sanitize(fd)
	if fd.GetSyntax() != "proto3" {
		t.Fatalf("syntax = %q, want proto3", fd.GetSyntax())
	}
	if len(res.warnings) != 1 {
		t.Fatalf("warnings = %v, want 1", res.warnings)
	}
}

func TestSanitizeClearsSourceCodeInfo(t *testing.T) {
	fd := &descriptorpb.FileDescriptorProto{
		Name:           strPtr("a.proto"),
		SourceCodeInfo: &descriptorpb.SourceCodeInfo{},
	}
	sanitize(fd)
	if fd.SourceCodeInfo != nil {
		t.Fatal("expected source_code_info to be cleared")
	}
}

func int32Ptr(i int32) *int32 { return &i }
