package descriptor

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	reflectpb "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

// reflectionWalker drives the gRPC Server Reflection v1alpha protocol over a
// single channel to build the merged FileDescriptorProto graph for a target
// service (or, absent a target, every service the server exposes).
//
// Works directly against the raw ServerReflectionRequest/Response protocol
// so every FileDescriptorProto can be sanitized (see sanitize.go) before it
// is handed to the descriptor builder.
type reflectionWalker struct {
	mu     sync.Mutex
	stream reflectpb.ServerReflection_ServerReflectionInfoClient
}

func newReflectionWalker(ctx context.Context, cc grpc.ClientConnInterface) (*reflectionWalker, error) {
	client := reflectpb.NewServerReflectionClient(cc)
	stream, err := client.ServerReflectionInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return &reflectionWalker{stream: stream}, nil
}

func (w *reflectionWalker) request(req *reflectpb.ServerReflectionRequest) (*reflectpb.ServerReflectionResponse, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.stream.Send(req); err != nil {
		return nil, err
	}
	resp, err := w.stream.Recv()
	if err != nil {
		return nil, err
	}
	if errResp := resp.GetErrorResponse(); errResp != nil {
		return nil, status.Error(codes.Code(errResp.GetErrorCode()), errResp.GetErrorMessage())
	}
	return resp, nil
}

// listServices returns every service name the server exposes, excluding the
// reflection service itself (both v1 and v1alpha names).
func (w *reflectionWalker) listServices() ([]string, error) {
	resp, err := w.request(&reflectpb.ServerReflectionRequest{
		MessageRequest: &reflectpb.ServerReflectionRequest_ListServices{ListServices: "*"},
	})
	if err != nil {
		return nil, err
	}
	lsr := resp.GetListServicesResponse()
	if lsr == nil {
		return nil, ErrNoDescriptorsReturned
	}
	var out []string
	for _, s := range lsr.GetService() {
		name := s.GetName()
		if isReflectionService(name) {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func isReflectionService(name string) bool {
	return name == "grpc.reflection.v1alpha.ServerReflection" ||
		name == "grpc.reflection.v1.ServerReflection"
}

func (w *reflectionWalker) fileContainingSymbol(symbol string) ([]*descriptorpb.FileDescriptorProto, error) {
	resp, err := w.request(&reflectpb.ServerReflectionRequest{
		MessageRequest: &reflectpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: symbol},
	})
	if err != nil {
		return nil, err
	}
	return decodeFileDescriptorResponse(resp)
}

func (w *reflectionWalker) fileByFilename(name string) ([]*descriptorpb.FileDescriptorProto, error) {
	resp, err := w.request(&reflectpb.ServerReflectionRequest{
		MessageRequest: &reflectpb.ServerReflectionRequest_FileByFilename{FileByFilename: name},
	})
	if err != nil {
		return nil, err
	}
	return decodeFileDescriptorResponse(resp)
}

func decodeFileDescriptorResponse(resp *reflectpb.ServerReflectionResponse) ([]*descriptorpb.FileDescriptorProto, error) {
	fdr := resp.GetFileDescriptorResponse()
	if fdr == nil {
		return nil, ErrNoDescriptorsReturned
	}
	out := make([]*descriptorpb.FileDescriptorProto, 0, len(fdr.GetFileDescriptorProto()))
	for _, raw := range fdr.GetFileDescriptorProto() {
		var fd descriptorpb.FileDescriptorProto
		if err := proto.Unmarshal(raw, &fd); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDescriptorBuildFailed, err)
		}
		out = append(out, &fd)
	}
	return out, nil
}

// walk runs a worklist traversal: seed with either the target service
// symbol or every service the reflection ListServices call returns, then
// repeatedly fetch file-containing-symbol / file-by-filename until the
// worklist is empty, filtering duplicates by file name.
func (w *reflectionWalker) walk(targetService string) ([]*descriptorpb.FileDescriptorProto, []string, error) {
	var worklist []string
	var warnings []string
	if targetService != "" {
		worklist = []string{targetService}
	} else {
		svcs, err := w.listServices()
		if err != nil {
			return nil, nil, err
		}
		worklist = svcs
	}

	processed := map[string]bool{}
	var files []*descriptorpb.FileDescriptorProto

	for len(worklist) > 0 {
		item := worklist[0]
		worklist = worklist[1:]

		var fds []*descriptorpb.FileDescriptorProto
		var err error
		if isProtoFilename(item) {
			fds, err = w.fileByFilename(item)
		} else {
			fds, err = w.fileContainingSymbol(item)
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("could not fetch descriptors for %q: %v", item, err))
			continue
		}
		for _, fd := range fds {
			name := fd.GetName()
			if processed[name] {
				continue
			}
			processed[name] = true
			files = append(files, fd)
			for _, dep := range fd.GetDependency() {
				if !processed[dep] {
					worklist = append(worklist, dep)
				}
			}
		}
	}
	if len(files) == 0 {
		return nil, warnings, ErrNoDescriptorsReturned
	}
	return files, warnings, nil
}

func isProtoFilename(s string) bool {
	return len(s) > 6 && s[len(s)-6:] == ".proto"
}
