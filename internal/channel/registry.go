// Package channel implements the lazy gRPC transport cache keyed by
// (address, timeout, tls, user_agent).
package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Config identifies one cacheable channel. TLS is compared by reference
// identity of the resolved *tls.Config (nil means plaintext).
type Config struct {
	Address   string
	Timeout   time.Duration
	TLS       *tls.Config
	UserAgent string
}

func (c Config) key() string {
	scheme := "http"
	if c.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s|%s|%s|%p", scheme, c.Address, c.Timeout, c.UserAgent, c.TLS)
}

type entry struct {
	once sync.Once
	conn *grpc.ClientConn
	err  error
}

// Registry is the process-wide channel cache. Channels are dialed lazily —
// grpc.NewClient (no grpc.WithBlock) defers the actual handshake to the
// first RPC, so a connection is only opened once a call actually needs it.
//
// The registry's own mutex is held only long enough to look up or insert an
// entry — independent of, and non-blocking with respect to, the descriptor
// registry's per-key traversal lock.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry returns an empty channel registry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// Dial returns the cached *grpc.ClientConn for cfg, creating it if absent.
// Addresses without a scheme default to plaintext ("http://" implied);
// a non-nil TLS config implies "https://".
func (r *Registry) Dial(ctx context.Context, cfg Config) (*grpc.ClientConn, error) {
	key := cfg.key()

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	r.mu.Unlock()

	e.once.Do(func() {
		e.conn, e.err = dial(cfg)
	})
	return e.conn, e.err
}

func dial(cfg Config) (*grpc.ClientConn, error) {
	addr := stripScheme(cfg.Address)

	var creds credentials.TransportCredentials
	if cfg.TLS != nil {
		creds = credentials.NewTLS(cfg.TLS)
	} else {
		creds = insecure.NewCredentials()
	}

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, grpc.WithUserAgent(cfg.UserAgent))
	}

	// NewClient does not dial eagerly; the connection is established lazily
	// on the first RPC, and is idempotent to call repeatedly.
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel for %q: %w", cfg.Address, err)
	}
	return conn, nil
}

func stripScheme(addr string) string {
	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasPrefix(addr, scheme) {
			return strings.TrimPrefix(addr, scheme)
		}
	}
	return addr
}

// defaultTimeout is the connect timeout applied when a test file or CLI
// caller does not specify one.
const defaultTimeout = 10 * time.Second

// WithTimeout returns a context with cfg.Timeout applied (or defaultTimeout
// if unset), plus its cancel func.
func WithTimeout(ctx context.Context, cfg Config) (context.Context, context.CancelFunc) {
	d := cfg.Timeout
	if d <= 0 {
		d = defaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
