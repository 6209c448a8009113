// Package runner drives a .gctf file's per-file lifecycle: load, validate,
// lower to a workflow, dispatch each group, match responses, evaluate
// assertions, and propagate extracted variables forward.
package runner

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/dynamic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/grpctestify/grpctestify/internal/assert"
	"github.com/grpctestify/grpctestify/internal/channel"
	"github.com/grpctestify/grpctestify/internal/codec"
	"github.com/grpctestify/grpctestify/internal/descriptor"
	"github.com/grpctestify/grpctestify/internal/diagnostics"
	"github.com/grpctestify/grpctestify/internal/dispatch"
	"github.com/grpctestify/grpctestify/internal/extract"
	"github.com/grpctestify/grpctestify/internal/gctf"
	"github.com/grpctestify/grpctestify/internal/match"
	"github.com/grpctestify/grpctestify/internal/workflow"
)

// Status is a test file's terminal outcome.
type Status string

const (
	StatusPass Status = "Pass"
	StatusFail Status = "Fail"
	StatusSkip Status = "Skip"
)

// Options configures one Runner's execution policy.
type Options struct {
	Timeout        time.Duration
	Retries        int
	RetryDelay     time.Duration
	DryRun         bool
	DefaultAddress string
	Compression    string
}

// DefaultOptions returns the environment-driven defaults (GRPCTESTIFY_ADDRESS,
// GRPCTESTIFY_COMPRESSION) used when a CLI flag isn't set.
func DefaultOptions() Options {
	addr := os.Getenv("GRPCTESTIFY_ADDRESS")
	if addr == "" {
		addr = "localhost:4770"
	}
	return Options{
		Timeout:        30 * time.Second,
		Retries:        0,
		RetryDelay:     time.Second,
		DefaultAddress: addr,
		Compression:    os.Getenv("GRPCTESTIFY_COMPRESSION"),
	}
}

// Result is one .gctf file's outcome.
type Result struct {
	Path     string
	Status   Status
	Reason   string
	Failures []string
	Summary  workflow.Summary
	Events   []workflow.Event
	Duration time.Duration
}

// Runner executes .gctf files against shared descriptor/channel caches.
// Callers own the Registry values and may scope them per-suite or
// per-process as they see fit.
type Runner struct {
	Descriptors *descriptor.Registry
	Channels    *channel.Registry
	Options     Options
}

// New returns a Runner with fresh, private caches.
func New(opts Options) *Runner {
	return &Runner{Descriptors: descriptor.NewRegistry(), Channels: channel.NewRegistry(), Options: opts}
}

// RunFile executes one .gctf file's full lifecycle.
func (r *Runner) RunFile(ctx context.Context, path string) *Result {
	start := time.Now()
	data, err := os.ReadFile(path)
	if err != nil {
		return &Result{Path: path, Status: StatusFail, Reason: fmt.Sprintf("cannot read file: %v", err), Duration: time.Since(start)}
	}

	doc, diags := gctf.Parse(data, path)
	if diags.HasErrors() {
		return &Result{Path: path, Status: StatusFail, Reason: "parse error", Failures: diagMessages(diags), Duration: time.Since(start)}
	}

	events := workflow.Lower(doc, path)
	if problems := workflow.Validate(events, collectRefs(doc, events)); len(problems) > 0 {
		return &Result{Path: path, Status: StatusFail, Reason: "validation error", Failures: problems, Events: events, Duration: time.Since(start)}
	}
	summary := events[len(events)-1].Summary

	if r.Options.DryRun {
		return &Result{Path: path, Status: StatusSkip, Reason: "dry-run", Events: events, Summary: summary, Duration: time.Since(start)}
	}

	runCtx, cancel := context.WithTimeout(ctx, effectiveTimeout(r.Options.Timeout))
	defer cancel()

	res := r.execute(runCtx, doc, events, summary)
	res.Path = path
	res.Duration = time.Since(start)
	if runCtx.Err() == context.DeadlineExceeded && res.Status != StatusPass {
		res.Status = StatusFail
		res.Reason = fmt.Sprintf("deadline exceeded after %ds", int(r.Options.Timeout.Seconds()))
	}
	return res
}

func effectiveTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

func diagMessages(diags *diagnostics.Collection) []string {
	var out []string
	for _, d := range diags.All() {
		out = append(out, d.String())
	}
	return out
}

func (r *Runner) execute(ctx context.Context, doc *gctf.Document, events []workflow.Event, summary workflow.Summary) *Result {
	ep, ok := doc.Endpoint()
	if !ok {
		return &Result{Status: StatusFail, Reason: "document is missing an ENDPOINT section", Events: events, Summary: summary}
	}
	address, ok := doc.Address()
	if !ok {
		address = r.Options.DefaultAddress
	}

	tlsConf, tlsErr := r.buildTLS(doc)
	if tlsErr != nil {
		return &Result{Status: StatusFail, Reason: fmt.Sprintf("tls: %v", tlsErr), Events: events, Summary: summary}
	}

	dial := func(ctx context.Context, addr string) (grpc.ClientConnInterface, error) {
		return r.Channels.Dial(ctx, channel.Config{Address: addr, Timeout: effectiveTimeout(r.Options.Timeout), TLS: tlsConf})
	}

	pool, err := r.Descriptors.Acquire(ctx, dial, address, ep.FullService())
	if err != nil {
		return &Result{Status: StatusFail, Reason: fmt.Sprintf("descriptor: %v", err), Events: events, Summary: summary}
	}
	sd, err := pool.FindService(ep.FullService())
	if err != nil {
		return &Result{Status: StatusFail, Reason: err.Error(), Events: events, Summary: summary}
	}
	methodDesc, err := dispatch.ResolveMethod(sd, ep.Method)
	if err != nil {
		return &Result{Status: StatusFail, Reason: err.Error(), Events: events, Summary: summary}
	}

	cc, err := r.Channels.Dial(ctx, channel.Config{Address: address, Timeout: effectiveTimeout(r.Options.Timeout), TLS: tlsConf})
	if err != nil {
		return &Result{Status: StatusFail, Reason: fmt.Sprintf("transport: %v", err), Events: events, Summary: summary}
	}

	cdc := codec.New(methodDesc.GetInputType(), methodDesc.GetOutputType())
	bindings := map[string]any{}
	var failures []string

	for _, g := range workflow.GroupSections(doc.Sections) {
		groupFailures, lastMsg, headers, trailers := r.executeGroup(ctx, g, cc, methodDesc, cdc, bindings)
		failures = append(failures, groupFailures...)
		if len(failures) > 0 {
			break
		}
		if g.Extract != nil {
			for _, b := range g.Extract.Extracts {
				v, err := evaluateExtract(b.Value, lastMsg, headers, trailers)
				if err != nil {
					failures = append(failures, fmt.Sprintf("line %d: extract %q: %v", b.Line, b.Name, err))
					continue
				}
				bindings[b.Name] = v
			}
		}
		if len(failures) > 0 {
			break
		}
		for _, a := range g.Asserts {
			for _, line := range a.AssertLines {
				expr, err := assert.Substitute(line.Expr, bindings)
				if err != nil {
					failures = append(failures, fmt.Sprintf("line %d: %v", line.Line, err))
					continue
				}
				ok, err := assert.Evaluate(expr, lastMsg, assert.Context{Headers: headers, Trailers: trailers})
				if err != nil {
					failures = append(failures, fmt.Sprintf("line %d: %v", line.Line, err))
				} else if !ok {
					failures = append(failures, fmt.Sprintf("line %d: assertion failed: %s", line.Line, line.Expr))
				}
			}
		}
		if len(failures) > 0 {
			break
		}
	}

	if len(failures) > 0 {
		return &Result{Status: StatusFail, Failures: failures, Events: events, Summary: summary}
	}
	return &Result{Status: StatusPass, Events: events, Summary: summary}
}

// executeGroup substitutes variables, dispatches the group's requests, and
// matches the resulting stream against the group's RESPONSE/ERROR sections,
// retrying transport-layer failures.
func (r *Runner) executeGroup(ctx context.Context, g workflow.Group, cc *grpc.ClientConn, md *desc.MethodDescriptor, cdc *codec.Codec, bindings map[string]any) (failures []string, lastMessage any, headers, trailers metadata.MD) {
	headerValues := map[string]string{}
	if g.Headers != nil && g.Headers.Headers != nil {
		for _, k := range g.Headers.Headers.Keys() {
			v, _ := g.Headers.Headers.Get(k)
			sv, err := assert.Substitute(v, bindings)
			if err != nil {
				return []string{err.Error()}, nil, nil, nil
			}
			headerValues[k] = sv
		}
	}
	mdOut, userAgent, _ := dispatch.BuildMetadata(headerValues, "")

	var reqMsgs []*dynamic.Message
	for _, reqSection := range g.Requests {
		substituted, err := assert.Substitute(reqSection.RawText, bindings)
		if err != nil {
			return []string{fmt.Sprintf("line %d: %v", reqSection.LineRange.Start, err)}, nil, nil, nil
		}
		val, err := gctf.ParseJSON5(substituted)
		if err != nil {
			return []string{fmt.Sprintf("line %d: %v", reqSection.LineRange.Start, err)}, nil, nil, nil
		}
		dm, err := cdc.DecodeRequest(val)
		if err != nil {
			return []string{fmt.Sprintf("line %d: %v", reqSection.LineRange.Start, err)}, nil, nil, nil
		}
		reqMsgs = append(reqMsgs, dm)
	}

	opts := dispatch.Options{
		Metadata:    mdOut,
		UserAgent:   userAgent,
		Compression: dispatch.CompressionFromEnv(r.Options.Compression),
	}

	messages, hdrs, trl, callErr := r.dispatchWithRetry(ctx, cc, md, reqMsgs, opts)
	if len(messages) > 0 {
		lastMessage = messages[len(messages)-1]
	}

	if len(g.Errors) > 0 {
		if callErr == nil {
			return []string{"expected error, got success"}, lastMessage, hdrs, trl
		}
		st, _ := status.FromError(callErr)
		errSection := g.Errors[0]
		exp := match.ParseErrorExpectation(errSection.JSON)
		if ok, reason := match.MatchError(exp, st.Code(), st.Message()); !ok {
			return []string{fmt.Sprintf("line %d: %s", errSection.LineRange.Start, reason)}, lastMessage, hdrs, trl
		}
		return nil, lastMessage, hdrs, trl
	}

	if callErr != nil {
		return []string{fmt.Sprintf("transport error: %v", callErr)}, lastMessage, hdrs, trl
	}

	var expectedLines []int
	for _, resp := range g.Responses {
		expectedLines = append(expectedLines, resp.LineRange.Start)
	}
	for _, m := range match.CheckCount(expectedLines, len(messages), anyStrictCount(g.Responses)) {
		failures = append(failures, m.String())
	}
	for i, respSection := range g.Responses {
		if i >= len(messages) {
			break
		}
		opts := match.FromInline(respSection.InlineOptions)
		for _, m := range match.Compare(respSection.JSON, messages[i], opts) {
			failures = append(failures, fmt.Sprintf("line %d: %s", respSection.LineRange.Start, m.String()))
		}
	}
	return failures, lastMessage, hdrs, trl
}

func anyStrictCount(sections []gctf.Section) bool {
	for _, s := range sections {
		if s.InlineOptions.StrictCount {
			return true
		}
	}
	return false
}

// dispatchWithRetry dispatches one group's call, retrying only on
// transport-layer failures (Unavailable, DeadlineExceeded, or a raw
// connection error) up to Options.Retries times with a linear backoff.
// Assertion/match failures are never retried: they never surface through
// callErr, which only ever carries the call's terminal gRPC status.
func (r *Runner) dispatchWithRetry(ctx context.Context, cc *grpc.ClientConn, md *desc.MethodDescriptor, reqs []*dynamic.Message, opts dispatch.Options) (messages []any, headers, trailers metadata.MD, callErr error) {
	attempts := r.Options.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		messages, headers, trailers, callErr = r.dispatchOnce(ctx, cc, md, reqs, opts)
		if callErr == nil || !isTransportError(callErr) || attempt == attempts-1 {
			return messages, headers, trailers, callErr
		}
		delay := time.Duration(attempt+1) * r.Options.RetryDelay
		select {
		case <-ctx.Done():
			return messages, headers, trailers, callErr
		case <-time.After(delay):
		}
	}
	return messages, headers, trailers, callErr
}

func (r *Runner) dispatchOnce(ctx context.Context, cc *grpc.ClientConn, md *desc.MethodDescriptor, reqs []*dynamic.Message, opts dispatch.Options) (messages []any, headers, trailers metadata.MD, callErr error) {
	cdc := codec.New(md.GetInputType(), md.GetOutputType())
	stream := dispatch.Invoke(ctx, cc, md, cdc, reqs, opts)
	for item := range stream {
		if item.IsHeaders {
			headers = item.Headers
		}
		if item.Message != nil {
			messages = append(messages, item.Message)
		}
		if item.IsTrailers {
			trailers = item.Trailers
			callErr = item.Err
		}
	}
	return messages, headers, trailers, callErr
}

func isTransportError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return true // raw connection error, not a gRPC status
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

func (r *Runner) buildTLS(doc *gctf.Document) (*tls.Config, error) {
	sections := doc.BySectionType(gctf.SectionTLS)
	if len(sections) == 0 {
		return nil, nil
	}
	hm := sections[0].Headers
	get := func(key string) string {
		if hm == nil {
			return ""
		}
		v, _ := hm.Get(key)
		return v
	}
	opts := channel.TLSOptions{
		InsecureSkipVerify: get("insecure") == "true",
		CACertFile:         get("ca_cert"),
		CACertFormat:       get("ca_cert_format"),
		ClientCertFile:     get("client_cert"),
		ClientCertFormat:   get("client_cert_format"),
		ClientKeyFile:      get("client_key"),
		ClientKeyFormat:    get("client_key_format"),
		ClientKeyPassword:  get("client_key_password"),
		ServerNameOverride: get("server_name"),
	}
	return channel.BuildClientTLSConfig(opts)
}

// evaluateExtract resolves one EXTRACT binding's right-hand side against the
// last received message and the call's headers/trailers. Metadata-call
// bindings read straight from the call's headers/trailers; every other kind
// is lowered to its JQ surface form and run through the same JQ engine the
// assertion language uses.
func evaluateExtract(v extract.Value, message any, headers, trailers metadata.MD) (any, error) {
	if v.Kind == extract.KindMetadataCall {
		md := headers
		if v.MetaKind == extract.MetadataTrailer {
			md = trailers
		}
		vals := md.Get(strings.ToLower(v.MetaName))
		if len(vals) == 0 {
			return "", nil
		}
		return vals[0], nil
	}
	return assert.RunJQ(v.Lower(), message)
}

// collectRefs finds every `{{ name }}` reference in the document's
// SendRequest (REQUEST body) and Assert events so workflow.Validate can
// check they all resolve to a prior EXTRACT binding.
func collectRefs(doc *gctf.Document, events []workflow.Event) map[int][]string {
	refs := map[int][]string{}
	for i, e := range events {
		switch e.Kind {
		case workflow.EventAssert:
			if rs := workflow.ExtractRefs(e.AssertExpr); len(rs) > 0 {
				refs[i] = rs
			}
		case workflow.EventSendRequest:
			for _, s := range doc.Sections {
				if s.Type == gctf.SectionRequest && s.LineRange.Start == e.Line {
					if rs := workflow.ExtractRefs(s.RawText); len(rs) > 0 {
						refs[i] = rs
					}
					break
				}
			}
		}
	}
	return refs
}
