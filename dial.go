// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Dial returns a proxy for the endpoint at rawURL. The transport is picked
// by URL scheme unless WithTransport is given.
func Dial(rawURL string, opts ...DialOption) (*Proxy, error) {
	o := newDialOptions(opts)
	if o.transport != nil {
		return newProxy(o.transport, o), nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	factory, ok := lookupTransport(u.Scheme)
	if !ok {
		return nil, fmt.Errorf("unknown transport: %s", u.Scheme)
	}
	t, err := factory(u, o.httpClient)
	if err != nil {
		return nil, fmt.Errorf("%s transport: %w", u.Scheme, err)
	}
	return newProxy(t, o), nil
}

// Server is a dispatcher bound to a TCP listener.
type Server struct {
	listener   net.Listener
	srv        *http.Server
	dispatcher *Dispatcher
	path       string
}

// Listen creates a dispatcher and binds it to addr. Requests are served
// once Serve is called.
func Listen(addr string, opts ...ServerOption) (*Server, error) {
	d, err := NewDispatcher(opts...)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle(d.path, d)
	return &Server{
		listener: listener,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ErrorLog:          zap.NewStdLog(d.log),
		},
		dispatcher: d,
		path:       d.path,
	}, nil
}

// Register adds methods to the server's dispatcher.
func (s *Server) Register(descs ...MethodDescriptor) error {
	return s.dispatcher.Register(descs...)
}

// Dispatcher returns the server's dispatcher.
func (s *Server) Dispatcher() *Dispatcher { return s.dispatcher }

// Serve serves requests until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- s.srv.Serve(s.listener) }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

// Close stops the server immediately.
func (s *Server) Close() error {
	if err := s.srv.Close(); err != nil {
		return err
	}
	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// URL returns the endpoint URL clients should dial.
func (s *Server) URL() string {
	return "http://" + s.Addr() + s.path
}
