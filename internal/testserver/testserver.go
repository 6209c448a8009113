// Package testserver adapts the gRPC interop test service into a reference
// server for exercising grpctestify's dispatcher and runner against all
// four RPC shapes, with reflection registered so the descriptor layer can
// resolve it exactly like a real target.
package testserver

import (
	"context"
	"io"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/interop/grpc_testing"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// Metadata keys a test can set on REQUEST_HEADERS to script the server's
// behavior: reply with extra headers/trailers, or fail early/late with a
// given status code.
const (
	MetadataReplyHeaders  = "reply-with-headers"
	MetadataReplyTrailers = "reply-with-trailers"
	MetadataFailEarly     = "fail-early"
	MetadataFailLate      = "fail-late"
)

// Server implements grpc_testing.TestServiceServer, covering unary,
// server-streaming, client-streaming, and bidi-streaming calls.
type Server struct {
	grpc_testing.UnimplementedTestServiceServer
}

// Register builds a *grpc.Server with Server and gRPC reflection wired in,
// the shape dispatch.Invoke and internal/descriptor expect to find on the
// other end of a dialed channel.
func Register() *grpc.Server {
	s := grpc.NewServer()
	grpc_testing.RegisterTestServiceServer(s, &Server{})
	reflection.Register(s)
	return s
}

func (Server) EmptyCall(ctx context.Context, req *grpc_testing.Empty) (*grpc_testing.Empty, error) {
	headers, trailers, failEarly, failLate := processMetadata(ctx)
	grpc.SetHeader(ctx, headers)
	grpc.SetTrailer(ctx, trailers)
	if failEarly != codes.OK {
		return nil, status.Error(failEarly, "fail")
	}
	if failLate != codes.OK {
		return nil, status.Error(failLate, "fail")
	}
	return req, nil
}

// UnaryCall echoes the request payload back, scripted by metadata
// (fail-early/fail-late/reply-with-*).
func (Server) UnaryCall(ctx context.Context, req *grpc_testing.SimpleRequest) (*grpc_testing.SimpleResponse, error) {
	headers, trailers, failEarly, failLate := processMetadata(ctx)
	grpc.SetHeader(ctx, headers)
	grpc.SetTrailer(ctx, trailers)
	if failEarly != codes.OK {
		return nil, status.Error(failEarly, "fail")
	}
	if failLate != codes.OK {
		return nil, status.Error(failLate, "fail")
	}
	return &grpc_testing.SimpleResponse{Payload: req.Payload}, nil
}

// StreamingOutputCall emits one response per ResponseParameters entry, with
// an optional per-entry delay, to exercise server-streaming dispatch and
// RESPONSE-count matching.
func (Server) StreamingOutputCall(req *grpc_testing.StreamingOutputCallRequest, str grpc_testing.TestService_StreamingOutputCallServer) error {
	headers, trailers, failEarly, failLate := processMetadata(str.Context())
	str.SetHeader(headers)
	str.SetTrailer(trailers)
	if failEarly != codes.OK {
		return status.Error(failEarly, "fail")
	}

	for _, param := range req.GetResponseParameters() {
		if str.Context().Err() != nil {
			return str.Context().Err()
		}
		if delay := time.Duration(param.GetIntervalUs()) * time.Microsecond; delay > 0 {
			time.Sleep(delay)
		}
		rsp := &grpc_testing.StreamingOutputCallResponse{
			Payload: &grpc_testing.Payload{Type: req.GetResponseType(), Body: make([]byte, param.GetSize())},
		}
		if err := str.Send(rsp); err != nil {
			return err
		}
	}

	if failLate != codes.OK {
		return status.Error(failLate, "fail")
	}
	return nil
}

// StreamingInputCall aggregates the size of every request payload received,
// exercising client-streaming dispatch.
func (Server) StreamingInputCall(str grpc_testing.TestService_StreamingInputCallServer) error {
	headers, trailers, failEarly, failLate := processMetadata(str.Context())
	str.SetHeader(headers)
	str.SetTrailer(trailers)
	if failEarly != codes.OK {
		return status.Error(failEarly, "fail")
	}

	sz := 0
	for {
		if str.Context().Err() != nil {
			return str.Context().Err()
		}
		req, err := str.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		sz += len(req.GetPayload().GetBody())
	}
	if err := str.SendAndClose(&grpc_testing.StreamingInputCallResponse{AggregatedPayloadSize: int32(sz)}); err != nil {
		return err
	}

	if failLate != codes.OK {
		return status.Error(failLate, "fail")
	}
	return nil
}

// FullDuplexCall echoes each request's payload back as soon as it arrives,
// exercising bidi dispatch.
func (Server) FullDuplexCall(str grpc_testing.TestService_FullDuplexCallServer) error {
	headers, trailers, failEarly, failLate := processMetadata(str.Context())
	str.SetHeader(headers)
	str.SetTrailer(trailers)
	if failEarly != codes.OK {
		return status.Error(failEarly, "fail")
	}

	for {
		if str.Context().Err() != nil {
			return str.Context().Err()
		}
		req, err := str.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		for _, param := range req.GetResponseParameters() {
			rsp := &grpc_testing.StreamingOutputCallResponse{
				Payload: &grpc_testing.Payload{Type: req.GetResponseType(), Body: make([]byte, param.GetSize())},
			}
			if err := str.Send(rsp); err != nil {
				return err
			}
		}
	}

	if failLate != codes.OK {
		return status.Error(failLate, "fail")
	}
	return nil
}

func processMetadata(ctx context.Context) (headers, trailers metadata.MD, failEarly, failLate codes.Code) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil, nil, codes.OK, codes.OK
	}
	return metadataFromValues(md[MetadataReplyHeaders]), metadataFromValues(md[MetadataReplyTrailers]),
		toCode(md[MetadataFailEarly]), toCode(md[MetadataFailLate])
}

// metadataFromValues parses "key=value" entries into metadata.MD.
func metadataFromValues(vals []string) metadata.MD {
	if len(vals) == 0 {
		return nil
	}
	md := metadata.MD{}
	for _, v := range vals {
		if eq := indexByte(v, '='); eq >= 0 {
			md.Append(v[:eq], v[eq+1:])
		}
	}
	return md
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

func toCode(vals []string) codes.Code {
	if len(vals) == 0 {
		return codes.OK
	}
	n, err := strconv.Atoi(vals[len(vals)-1])
	if err != nil {
		return codes.OK
	}
	return codes.Code(n)
}
