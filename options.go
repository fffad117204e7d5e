// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/luxfi/jsonrpc/codec"
	"github.com/luxfi/jsonrpc/xsrf"
)

const (
	// DefaultMaxRequestSize bounds POST bodies.
	DefaultMaxRequestSize = 1 << 20

	// DefaultGzipMinSize is the smallest response body worth compressing.
	DefaultGzipMinSize = 256

	tokenKeyInfo = "jsonrpc xsrf"
)

// Authenticator returns the authenticated user name behind a request, or ""
// for an anonymous caller. ctx carries the request headers as incoming gRPC
// metadata as well.
type Authenticator func(ctx context.Context, header http.Header) string

// PreInvokeFunc runs after a call passed token validation and before the
// method. Completing the call skips the method.
type PreInvokeFunc func(ctx context.Context, call *ActiveCall)

// ServerOption configures a Dispatcher.
type ServerOption func(*serverOptions)

type serverOptions struct {
	log            *zap.Logger
	registry       *codec.Registry
	tokens         *xsrf.Service
	secret         []byte
	tokenOpts      []xsrf.Option
	authenticate   Authenticator
	tokenHeader    string
	maxRequestSize int64
	gzipMinSize    int
	preInvoke      PreInvokeFunc
	path           string
}

func newServerOptions(opts []ServerOption) *serverOptions {
	o := &serverOptions{
		log:            zap.NewNop(),
		registry:       codec.Default(),
		maxRequestSize: DefaultMaxRequestSize,
		gzipMinSize:    DefaultGzipMinSize,
		path:           "/",
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// tokenService builds the token service from the configured key material.
// Without a secret the key is random and tokens die with the process.
func (o *serverOptions) tokenService() (*xsrf.Service, error) {
	if o.tokens != nil {
		return o.tokens, nil
	}
	if len(o.secret) == 0 {
		return xsrf.NewRandom(o.tokenOpts...)
	}
	key, err := xsrf.DeriveKey(o.secret, tokenKeyInfo)
	if err != nil {
		return nil, err
	}
	return xsrf.New(key, o.tokenOpts...)
}

// WithLogger sets the server logger.
func WithLogger(l *zap.Logger) ServerOption {
	return func(o *serverOptions) { o.log = l }
}

// WithRegistry sets the registry method signatures are derived in.
func WithRegistry(r *codec.Registry) ServerOption {
	return func(o *serverOptions) { o.registry = r }
}

// WithTokenService sets a ready made token service. It takes precedence
// over WithSecret and WithTokenWindow.
func WithTokenService(s *xsrf.Service) ServerOption {
	return func(o *serverOptions) { o.tokens = s }
}

// WithSecret derives the token key from a configured secret so tokens
// survive restarts and are shared between replicas.
func WithSecret(secret []byte) ServerOption {
	return func(o *serverOptions) { o.secret = secret }
}

// WithTokenWindow sets how long issued tokens stay valid.
func WithTokenWindow(d time.Duration) ServerOption {
	return func(o *serverOptions) { o.tokenOpts = append(o.tokenOpts, xsrf.WithWindow(d)) }
}

// WithAuthenticator sets how the caller's identity is found.
func WithAuthenticator(a Authenticator) ServerOption {
	return func(o *serverOptions) { o.authenticate = a }
}

// WithTokenHeader also accepts the token from the named header and mirrors
// refreshed tokens into it.
func WithTokenHeader(name string) ServerOption {
	return func(o *serverOptions) { o.tokenHeader = name }
}

// WithMaxRequestSize bounds POST bodies.
func WithMaxRequestSize(n int64) ServerOption {
	return func(o *serverOptions) { o.maxRequestSize = n }
}

// WithGzipMinSize sets the smallest response compressed for clients that
// accept gzip. Zero disables compression.
func WithGzipMinSize(n int) ServerOption {
	return func(o *serverOptions) { o.gzipMinSize = n }
}

// WithPreInvoke sets a hook run before every method.
func WithPreInvoke(f PreInvokeFunc) ServerOption {
	return func(o *serverOptions) { o.preInvoke = f }
}

// WithPath sets the path a Server mounts the dispatcher on.
func WithPath(p string) ServerOption {
	return func(o *serverOptions) { o.path = p }
}

// DialOption configures a Proxy.
type DialOption func(*dialOptions)

type dialOptions struct {
	transport   Transport
	log         *zap.Logger
	registry    *codec.Registry
	httpClient  *http.Client
	tokenHeader string
	version     string
}

func newDialOptions(opts []DialOption) *dialOptions {
	o := &dialOptions{
		log:      zap.NewNop(),
		registry: codec.Default(),
		version:  Version11,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithTransport sets the transport explicitly instead of picking one by URL
// scheme.
func WithTransport(t Transport) DialOption {
	return func(o *dialOptions) { o.transport = t }
}

// WithClientLogger sets the client logger.
func WithClientLogger(l *zap.Logger) DialOption {
	return func(o *dialOptions) { o.log = l }
}

// WithClientRegistry sets the registry method stubs are derived in.
func WithClientRegistry(r *codec.Registry) DialOption {
	return func(o *dialOptions) { o.registry = r }
}

// WithHTTPClient sets the client used by the HTTP transport.
func WithHTTPClient(c *http.Client) DialOption {
	return func(o *dialOptions) { o.httpClient = c }
}

// WithClientTokenHeader sends the cached token in the named header as well
// as in the envelope, and accepts refreshed tokens from it.
func WithClientTokenHeader(name string) DialOption {
	return func(o *dialOptions) { o.tokenHeader = name }
}

// WithVersion selects the envelope version, Version11 or Version20.
func WithVersion(v string) DialOption {
	return func(o *dialOptions) { o.version = v }
}
