package runner

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/grpctestify/grpctestify/internal/testserver"
)

// startServer boots the reference test service on an ephemeral local port
// and returns its address plus a cleanup func.
func startServer(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := testserver.Register()
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func writeGctf(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := dir + "/test.gctf"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestRunFileUnaryPass(t *testing.T) {
	addr := startServer(t)
	src := `
--- ADDRESS ---
` + addr + `
--- ENDPOINT ---
grpc.testing.TestService/UnaryCall
--- REQUEST ---
{"payload": {"body": "aGVsbG8="}}
--- RESPONSE ---
{"payload": {"body": "aGVsbG8="}}
`
	path := writeGctf(t, src)

	r := New(Options{Timeout: 5 * time.Second})
	res := r.RunFile(context.Background(), path)
	if res.Status != StatusPass {
		t.Fatalf("status = %v, reason = %s, failures = %v", res.Status, res.Reason, res.Failures)
	}
}

func TestRunFileUnaryMismatch(t *testing.T) {
	addr := startServer(t)
	src := `
--- ADDRESS ---
` + addr + `
--- ENDPOINT ---
grpc.testing.TestService/UnaryCall
--- REQUEST ---
{"payload": {"body": "aGVsbG8="}}
--- RESPONSE ---
{"payload": {"body": "d3Jvbmc="}}
`
	path := writeGctf(t, src)

	r := New(Options{Timeout: 5 * time.Second})
	res := r.RunFile(context.Background(), path)
	if res.Status != StatusFail {
		t.Fatalf("status = %v, want Fail", res.Status)
	}
	if len(res.Failures) == 0 {
		t.Fatalf("expected mismatch failures, got none")
	}
}

func TestRunFileExpectedError(t *testing.T) {
	addr := startServer(t)
	src := `
--- ADDRESS ---
` + addr + `
--- ENDPOINT ---
grpc.testing.TestService/UnaryCall
--- REQUEST_HEADERS ---
fail-early: 5
--- REQUEST ---
{}
--- ERROR ---
{"code": 5}
`
	path := writeGctf(t, src)

	r := New(Options{Timeout: 5 * time.Second})
	res := r.RunFile(context.Background(), path)
	if res.Status != StatusPass {
		t.Fatalf("status = %v, reason = %s, failures = %v", res.Status, res.Reason, res.Failures)
	}
}

func TestRunFileServerStreaming(t *testing.T) {
	addr := startServer(t)
	src := `
--- ADDRESS ---
` + addr + `
--- ENDPOINT ---
grpc.testing.TestService/StreamingOutputCall
--- REQUEST ---
{"response_parameters": [{"size": 1}, {"size": 2}]}
--- RESPONSE ---
{"payload": {"body": "AA=="}}
--- RESPONSE ---
{"payload": {"body": "AAA="}}
--- EXTRACT ---
count = .payload.body | length
--- ASSERTS ---
@len(.payload.body) >= 1
`
	path := writeGctf(t, src)

	r := New(Options{Timeout: 5 * time.Second})
	res := r.RunFile(context.Background(), path)
	if res.Status != StatusPass {
		t.Fatalf("status = %v, reason = %s, failures = %v", res.Status, res.Reason, res.Failures)
	}
}

func TestRunFileDryRun(t *testing.T) {
	src := `
--- ADDRESS ---
localhost:4770
--- ENDPOINT ---
grpc.testing.TestService/UnaryCall
--- REQUEST ---
{}
--- RESPONSE ---
{}
`
	path := writeGctf(t, src)

	r := New(Options{DryRun: true})
	res := r.RunFile(context.Background(), path)
	if res.Status != StatusSkip {
		t.Fatalf("status = %v, want Skip", res.Status)
	}
	if res.Summary.RequestCount == 0 {
		t.Errorf("dry-run should still produce a workflow summary")
	}
}

func TestRunFileMissingEndpoint(t *testing.T) {
	src := `
--- REQUEST ---
{}
--- RESPONSE ---
{}
`
	path := writeGctf(t, src)

	r := New(Options{Timeout: time.Second})
	res := r.RunFile(context.Background(), path)
	if res.Status != StatusFail {
		t.Fatalf("status = %v, want Fail for a missing ENDPOINT", res.Status)
	}
}

func TestRunFileUndefinedVariable(t *testing.T) {
	src := `
--- ADDRESS ---
localhost:4770
--- ENDPOINT ---
grpc.testing.TestService/UnaryCall
--- REQUEST ---
{"payload": {"body": "{{ missing }}"}}
--- RESPONSE ---
{}
`
	path := writeGctf(t, src)

	r := New(Options{Timeout: time.Second})
	res := r.RunFile(context.Background(), path)
	if res.Status != StatusFail {
		t.Fatalf("status = %v, want Fail for an undefined variable reference", res.Status)
	}
}
