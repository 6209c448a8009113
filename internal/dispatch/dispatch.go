// Package dispatch implements the gRPC call dispatcher: selecting the
// unary/server-streaming/client-streaming/bidi path for a method and
// exposing all four through one uniform Stream[StreamItem] interface.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"github.com/jhump/protoreflect/dynamic/grpcdynamic"
	"google.golang.org/grpc"
	_ "google.golang.org/grpc/encoding/gzip" // registers the "gzip" compressor
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/grpctestify/grpctestify/internal/codec"
)

// ErrServiceNotFound and ErrMethodNotFound are returned when the resolved
// descriptor pool does not expose the named service/method.
var (
	ErrServiceNotFound = fmt.Errorf("service not found")
	ErrMethodNotFound  = fmt.Errorf("method not found")
)

const defaultUserAgent = "grpctestify/1.0"

// StreamItem is one element of a dispatched call's uniform response stream:
// a decoded response message (as JSON), the received headers, or the final
// trailers plus terminal status. Unary and
// client-streaming calls are wrapped as a headers item, at most one message
// item, and one trailers item. Err is the call's terminal status error (nil on
// OK), carried on the trailers item so the matcher can evaluate a
// document's ERROR section against the real gRPC status rather than only
// its absence of a message.
type StreamItem struct {
	Message    any // non-nil for a message item
	Headers    metadata.MD
	IsHeaders  bool
	Trailers   metadata.MD
	IsTrailers bool
	Err        error
}

// Options configures one dispatched call.
type Options struct {
	Metadata    metadata.MD
	UserAgent   string
	Compression string // "gzip" or ""
}

// ResolveMethod looks up method `name` ("Method") on service descriptor sd,
// returning ErrMethodNotFound if absent.
func ResolveMethod(sd *desc.ServiceDescriptor, name string) (*desc.MethodDescriptor, error) {
	md := sd.FindMethodByName(name)
	if md == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrMethodNotFound, sd.GetFullyQualifiedName(), name)
	}
	return md, nil
}

// BuildMetadata attaches request metadata from REQUEST_HEADERS and test
// options. A custom "user-agent" header, if present, overrides the default
// "grpctestify/<version>" user agent. Invalid keys (empty, or containing
// characters outside gRPC's permitted header-key charset) are dropped with
// a warning rather than propagated as an error.
func BuildMetadata(headers map[string]string, optUserAgent string) (metadata.MD, string, []string) {
	md := metadata.MD{}
	userAgent := defaultUserAgent
	if optUserAgent != "" {
		userAgent = optUserAgent
	}
	var warnings []string
	for k, v := range headers {
		lk := strings.ToLower(strings.TrimSpace(k))
		if lk == "" || !validHeaderKey(lk) {
			warnings = append(warnings, fmt.Sprintf("dropping invalid metadata key %q", k))
			continue
		}
		if lk == "user-agent" {
			userAgent = v
			continue
		}
		md.Append(lk, v)
	}
	return md, userAgent, warnings
}

func validHeaderKey(k string) bool {
	for _, c := range k {
		ok := (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.'
		if !ok {
			return false
		}
	}
	return true
}

// CompressionFromEnv returns the compression algorithm to use, honoring the
// GRPCTESTIFY_COMPRESSION environment variable as a default when optValue is
// empty.
func CompressionFromEnv(optValue string) string {
	if optValue != "" {
		return optValue
	}
	return os.Getenv("GRPCTESTIFY_COMPRESSION")
}

// Invoke dispatches one call of method md over cc, feeding consecutive
// request values from reqs (already decoded into DynamicMessages by the
// codec) and returning a channel of StreamItems. The returned channel is
// closed after the final trailers item.
func Invoke(ctx context.Context, cc grpcdynamic.Channel, md *desc.MethodDescriptor, cdc *codec.Codec, reqs []*dynamic.Message, opts Options) <-chan StreamItem {
	out := make(chan StreamItem, 4)

	go func() {
		defer close(out)

		callOpts := []grpc.CallOption{}
		if opts.Compression == "gzip" {
			callOpts = append(callOpts, grpc.UseCompressor("gzip"))
		}

		ctx := metadata.NewOutgoingContext(ctx, opts.Metadata)
		stub := grpcdynamic.NewStub(cc)

		switch {
		case md.IsClientStreaming() && md.IsServerStreaming():
			invokeBidi(ctx, stub, md, reqs, out, callOpts)
		case md.IsClientStreaming():
			invokeClientStream(ctx, stub, md, reqs, out, callOpts)
		case md.IsServerStreaming():
			invokeServerStream(ctx, stub, md, reqs, out, callOpts)
		default:
			invokeUnary(ctx, stub, md, reqs, out, callOpts)
		}
	}()

	return out
}

func singleRequest(reqs []*dynamic.Message) (*dynamic.Message, error) {
	if len(reqs) != 1 {
		return nil, fmt.Errorf("expected exactly one request message, got %d", len(reqs))
	}
	return reqs[0], nil
}

func invokeUnary(ctx context.Context, stub grpcdynamic.Stub, md *desc.MethodDescriptor, reqs []*dynamic.Message, out chan<- StreamItem, callOpts []grpc.CallOption) {
	req, err := singleRequest(reqs)
	if err != nil {
		sendError(out, err)
		return
	}
	var headers, trailers metadata.MD
	callOpts = append(callOpts, grpc.Header(&headers), grpc.Trailer(&trailers))
	resp, err := stub.InvokeRpc(ctx, md, req, callOpts...)
	out <- StreamItem{Headers: headers, IsHeaders: true}
	if err == nil {
		if jsonVal, jerr := encodeResponse(resp); jerr == nil {
			out <- StreamItem{Message: jsonVal}
		}
	}
	out <- StreamItem{Trailers: trailers, IsTrailers: true, Err: statusErr(err)}
}

func invokeServerStream(ctx context.Context, stub grpcdynamic.Stub, md *desc.MethodDescriptor, reqs []*dynamic.Message, out chan<- StreamItem, callOpts []grpc.CallOption) {
	req, err := singleRequest(reqs)
	if err != nil {
		sendError(out, err)
		return
	}
	str, err := stub.InvokeRpcServerStream(ctx, md, req, callOpts...)
	if err != nil {
		sendError(out, err)
		return
	}
	if headers, herr := str.Header(); herr == nil {
		out <- StreamItem{Headers: headers, IsHeaders: true}
	}
	var recvErr error
	for {
		resp, err := str.RecvMsg()
		if err == io.EOF {
			break
		}
		if err != nil {
			recvErr = err
			break
		}
		if jsonVal, jerr := encodeResponse(resp); jerr == nil {
			out <- StreamItem{Message: jsonVal}
		}
	}
	out <- StreamItem{Trailers: str.Trailer(), IsTrailers: true, Err: statusErr(recvErr)}
}

func invokeClientStream(ctx context.Context, stub grpcdynamic.Stub, md *desc.MethodDescriptor, reqs []*dynamic.Message, out chan<- StreamItem, callOpts []grpc.CallOption) {
	str, err := stub.InvokeRpcClientStream(ctx, md, callOpts...)
	if err != nil {
		sendError(out, err)
		return
	}
	for _, req := range reqs {
		if err := str.SendMsg(req); err != nil {
			break
		}
	}
	resp, err := str.CloseAndReceive()
	if headers, herr := str.Header(); herr == nil {
		out <- StreamItem{Headers: headers, IsHeaders: true}
	}
	if err == nil {
		if jsonVal, jerr := encodeResponse(resp); jerr == nil {
			out <- StreamItem{Message: jsonVal}
		}
	}
	out <- StreamItem{Trailers: str.Trailer(), IsTrailers: true, Err: statusErr(err)}
}

func invokeBidi(ctx context.Context, stub grpcdynamic.Stub, md *desc.MethodDescriptor, reqs []*dynamic.Message, out chan<- StreamItem, callOpts []grpc.CallOption) {
	str, err := stub.InvokeRpcBidiStream(ctx, md, callOpts...)
	if err != nil {
		sendError(out, err)
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, req := range reqs {
			if err := str.SendMsg(req); err != nil {
				break
			}
		}
		_ = str.CloseSend()
	}()

	if headers, herr := str.Header(); herr == nil {
		out <- StreamItem{Headers: headers, IsHeaders: true}
	}
	var recvErr error
	for {
		resp, err := str.RecvMsg()
		if err == io.EOF {
			break
		}
		if err != nil {
			recvErr = err
			break
		}
		if jsonVal, jerr := encodeResponse(resp); jerr == nil {
			out <- StreamItem{Message: jsonVal}
		}
	}
	<-done
	out <- StreamItem{Trailers: str.Trailer(), IsTrailers: true, Err: statusErr(recvErr)}
}

// statusErr normalizes a nil or OK-status error to nil, so callers can treat
// Err == nil as "the call succeeded" uniformly.
func statusErr(err error) error {
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); ok && st.Code() == 0 {
		return nil
	}
	return err
}

func sendError(out chan<- StreamItem, err error) {
	out <- StreamItem{IsTrailers: true, Err: err}
}

// encodeResponse renders a dynamic stub response as a JSON value. grpcdynamic
// always constructs its responses through a dynamic.MessageFactory, so resp
// is already a *dynamic.Message bound to the method's output descriptor.
func encodeResponse(resp proto.Message) (any, error) {
	dm, ok := resp.(*dynamic.Message)
	if !ok {
		return nil, fmt.Errorf("unexpected response type %T", resp)
	}
	return codec.EncodeMessageJSON(dm)
}
