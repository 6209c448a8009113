// Package descriptor implements descriptor acquisition and caching: the
// reflection-driven FileDescriptorProto traversal, sanitization of malformed
// inputs, and a deduplicated DescriptorPool cache keyed by (endpoint, target
// service).
package descriptor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoprint"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/descriptorpb"
)

// Sentinel error kinds returned while resolving an endpoint's descriptors.
var (
	ErrConnectionFailed      = errors.New("connection failed")
	ErrNoDescriptorsReturned = errors.New("no descriptors returned")
	ErrDescriptorBuildFailed = errors.New("descriptor build failed")
	ErrPoolPanicked          = errors.New("pool construction panicked")
	ErrLocalProtoUnsupported = errors.New("local .proto sources are not supported; use reflection or a precompiled FileDescriptorSet")
)

// Pool is an immutable handle over a merged set of file descriptors,
// sufficient to resolve any service/method/message reachable from the
// endpoint it was built for. It is safe to share by reference across
// concurrent callers.
type Pool struct {
	files    map[string]*desc.FileDescriptor
	warnings []string
}

// FindService resolves a fully-qualified service name.
func (p *Pool) FindService(name string) (*desc.ServiceDescriptor, error) {
	for _, fd := range p.files {
		if d := fd.FindSymbol(name); d != nil {
			if sd, ok := d.(*desc.ServiceDescriptor); ok {
				return sd, nil
			}
		}
	}
	return nil, fmt.Errorf("service not found: %s", name)
}

// FindSymbol resolves any fully-qualified symbol (service, method, message,
// enum) within the pool.
func (p *Pool) FindSymbol(name string) (desc.Descriptor, bool) {
	for _, fd := range p.files {
		if d := fd.FindSymbol(name); d != nil {
			return d, true
		}
	}
	return nil, false
}

// ListServices returns every service fully-qualified name in the pool, sorted.
func (p *Pool) ListServices() []string {
	var out []string
	for _, fd := range p.files {
		for _, svc := range fd.GetServices() {
			out = append(out, svc.GetFullyQualifiedName())
		}
	}
	sort.Strings(out)
	return out
}

// Warnings returns non-fatal issues found while sanitizing descriptors.
func (p *Pool) Warnings() []string { return p.warnings }

// Describe renders a human-readable definition of the named symbol (or, if
// symbol is empty, every file in the pool), using protoprint.
func (p *Pool) Describe(symbol string) (string, error) {
	printer := protoprint.Printer{}
	if symbol == "" {
		var sb []byte
		for _, fd := range p.files {
			txt, err := printer.PrintProtoToString(fd)
			if err != nil {
				return "", err
			}
			sb = append(sb, []byte(txt)...)
		}
		return string(sb), nil
	}
	d, ok := p.FindSymbol(symbol)
	if !ok {
		return "", fmt.Errorf("symbol not found: %s", symbol)
	}
	return printer.PrintProtoToString(d)
}

// cacheKey identifies a cached Pool by the endpoint it was built from and the
// optional target service that scoped the reflection traversal.
type cacheKey struct {
	address       string
	targetService string
}

type cacheEntry struct {
	once sync.Once
	pool *Pool
	err  error
}

// Registry is the process-wide descriptor cache: callers carry an explicit
// Registry value rather than relying on package-level state, so tests can
// construct private registries for isolation.
type Registry struct {
	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
}

// NewRegistry returns an empty descriptor registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[cacheKey]*cacheEntry{}}
}

// Dialer resolves an address to a live gRPC connection, so the registry does
// not need to own channel-cache concerns itself (those belong to the
// channel package).
type Dialer func(ctx context.Context, address string) (grpc.ClientConnInterface, error)

// Acquire returns the cached Pool for (address, targetService), building it
// on first use. Concurrent callers for the same key block on the same
// traversal+build (one `sync.Once` per key) rather than racing duplicate
// reflection calls; a negative result (a DescriptorError) is cached too, so
// repeated failures for the same endpoint do not re-traverse.
func (r *Registry) Acquire(ctx context.Context, dial Dialer, address, targetService string) (*Pool, error) {
	key := cacheKey{address: address, targetService: targetService}

	r.mu.Lock()
	entry, ok := r.entries[key]
	if !ok {
		entry = &cacheEntry{}
		r.entries[key] = entry
	}
	r.mu.Unlock()

	entry.once.Do(func() {
		entry.pool, entry.err = buildPool(ctx, dial, address, targetService)
	})
	return entry.pool, entry.err
}

func buildPool(ctx context.Context, dial Dialer, address, targetService string) (pool *Pool, err error) {
	cc, err := dial(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	walker, err := newReflectionWalker(ctx, cc)
	if err != nil {
		return nil, err
	}

	rawFiles, _, err := walker.walk(targetService)
	if err != nil {
		return nil, err
	}

	var warnings []string
	for _, fd := range rawFiles {
		res := sanitize(fd)
		warnings = append(warnings, res.warnings...)
	}

	pool, err = buildPoolSafely(rawFiles, warnings)
	return pool, err
}

// buildPoolSafely wraps descriptor-set construction in a panic barrier: the
// underlying builder can panic on sufficiently exotic malformed input, and
// that should surface as ErrPoolPanicked rather than crash the runner.
func buildPoolSafely(rawFiles []*descriptorpb.FileDescriptorProto, warnings []string) (pool *Pool, err error) {
	defer func() {
		if r := recover(); r != nil {
			pool = nil
			err = fmt.Errorf("%w: %v", ErrPoolPanicked, r)
		}
	}()
	return buildFromRaw(rawFiles, warnings)
}

// FromFileDescriptorSet builds a Pool from a precompiled FileDescriptorSet
// blob (e.g. produced by `protoc --descriptor_set_out`), applying the same
// sanitization pass as the reflection path. This is the only supported
// offline alternative to reflection.
func FromFileDescriptorSet(fds *descriptorpb.FileDescriptorSet) (*Pool, error) {
	var warnings []string
	for _, fd := range fds.GetFile() {
		res := sanitize(fd)
		warnings = append(warnings, res.warnings...)
	}
	return buildPoolSafely(fds.GetFile(), warnings)
}

// RejectLocalProtoSource reports the standard error for attempts to acquire
// a pool from local .proto source files: only reflection and precompiled
// FileDescriptorSet blobs are supported.
func RejectLocalProtoSource(path string) error {
	return fmt.Errorf("%w: %s", ErrLocalProtoUnsupported, path)
}

// buildFromRaw resolves a flat list of (possibly interdependent, possibly
// diamond-shaped) FileDescriptorProtos into a Pool, by recursively resolving
// each file's dependencies before the file itself — diamond-safe, each file
// built exactly once.
func buildFromRaw(rawFiles []*descriptorpb.FileDescriptorProto, warnings []string) (*Pool, error) {
	unresolved := make(map[string]*descriptorpb.FileDescriptorProto, len(rawFiles))
	for _, fd := range rawFiles {
		unresolved[fd.GetName()] = fd
	}
	resolved := make(map[string]*desc.FileDescriptor, len(rawFiles))
	for _, fd := range rawFiles {
		if _, err := resolveFileDescriptor(unresolved, resolved, fd.GetName()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDescriptorBuildFailed, err)
		}
	}
	return &Pool{files: resolved, warnings: warnings}, nil
}

func resolveFileDescriptor(unresolved map[string]*descriptorpb.FileDescriptorProto, resolved map[string]*desc.FileDescriptor, filename string) (*desc.FileDescriptor, error) {
	if r, ok := resolved[filename]; ok {
		return r, nil
	}
	fd, ok := unresolved[filename]
	if !ok {
		// Referenced but not returned by the server: fatal, buildFromRaw
		// reports it as ErrDescriptorBuildFailed.
		return nil, fmt.Errorf("no descriptor found for %q", filename)
	}
	deps := make([]*desc.FileDescriptor, 0, len(fd.GetDependency()))
	for _, dep := range fd.GetDependency() {
		depFd, err := resolveFileDescriptor(unresolved, resolved, dep)
		if err != nil {
			return nil, err
		}
		deps = append(deps, depFd)
	}
	result, err := desc.CreateFileDescriptor(fd, deps...)
	if err != nil {
		return nil, err
	}
	resolved[filename] = result
	return result, nil
}
