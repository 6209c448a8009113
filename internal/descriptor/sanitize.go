package descriptor

import (
	"google.golang.org/protobuf/types/descriptorpb"
)

// sanitizeResult records the warnings produced while rewriting a
// FileDescriptorProto to tolerate malformed reflection payloads.
type sanitizeResult struct {
	warnings []string
}

// sanitize rewrites fd in place:
//   - out-of-range public_dependency / weak_dependency indices are dropped
//   - out-of-range oneof_index values on message fields are cleared
//   - syntax "editions" is rewritten to "proto3"; unknown non-empty syntaxes
//     are rewritten to "proto3" with a warning
//   - source_code_info is cleared unconditionally
func sanitize(fd *descriptorpb.FileDescriptorProto) sanitizeResult {
	var res sanitizeResult
	depCount := len(fd.GetDependency())

	fd.PublicDependency = filterInRange(fd.GetPublicDependency(), depCount, &res, "public_dependency")
	fd.WeakDependency = filterInRange(fd.GetWeakDependency(), depCount, &res, "weak_dependency")

	for _, msg := range fd.GetMessageType() {
		sanitizeMessage(msg, &res)
	}

	switch fd.GetSyntax() {
	case "", "proto2", "proto3":
		// fine as-is
	case "editions":
		fd.Syntax = strPtr("proto3")
	default:
		res.warnings = append(res.warnings, "unknown syntax "+fd.GetSyntax()+" rewritten to proto3")
		fd.Syntax = strPtr("proto3")
	}

	fd.SourceCodeInfo = nil

	return res
}

func sanitizeMessage(msg *descriptorpb.DescriptorProto, res *sanitizeResult) {
	oneofCount := len(msg.GetOneofDecl())
	for _, f := range msg.GetField() {
		if f.OneofIndex != nil {
			idx := int(f.GetOneofIndex())
			if idx < 0 || idx >= oneofCount {
				res.warnings = append(res.warnings, "field "+f.GetName()+" has out-of-range oneof_index")
				f.OneofIndex = nil
			}
		}
	}
	for _, nested := range msg.GetNestedType() {
		sanitizeMessage(nested, res)
	}
}

func filterInRange(indices []int32, limit int, res *sanitizeResult, field string) []int32 {
	var out []int32
	for _, idx := range indices {
		if idx < 0 || int(idx) >= limit {
			res.warnings = append(res.warnings, field+" index out of range, dropped")
			continue
		}
		out = append(out, idx)
	}
	return out
}

func strPtr(s string) *string { return &s }
