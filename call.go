// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/rs/xid"
)

// ActiveCall is one in-flight server side invocation. It lives for a single
// request and is never shared with another.
type ActiveCall struct {
	// ID is the request id, echoed verbatim. Nil when the request had none.
	ID jsontext.Value

	Method *MethodDescriptor

	// Params holds the decoded parameters.
	Params []any

	// XSRFKeyIn is the token the client sent.
	XSRFKeyIn string

	// XSRFKeyOut is a freshly issued token to hand back, if any.
	XSRFKeyOut string

	// Callback is the JSONP function name requested by the client.
	Callback string

	// Subject is the token subject derived from the caller's identity.
	Subject string

	// Path is the endpoint path, the token resource.
	Path string

	Header http.Header

	// TraceID identifies the call in server logs.
	TraceID xid.ID

	version string
	impl    *method

	mu        sync.Mutex
	completed bool
	result    any
	err       *Error
	done      chan struct{}
	closeOnce sync.Once
}

func newActiveCall(path string, header http.Header) *ActiveCall {
	return &ActiveCall{
		Path:    path,
		Header:  header,
		TraceID: xid.New(),
		version: Version11,
		done:    make(chan struct{}),
	}
}

// Version returns the protocol version the call arrived with.
func (c *ActiveCall) Version() string { return c.version }

// Success implements Completion.
func (c *ActiveCall) Success(result any) {
	c.complete(result, nil)
}

// Failure implements Completion.
func (c *ActiveCall) Failure(err error) {
	if err == nil {
		err = Errorf("call failed")
	}
	c.complete(nil, asFailure(err))
}

// InternalFailure implements Completion.
func (c *ActiveCall) InternalFailure(err error) {
	c.complete(nil, WrapError(KindInternal, InternalErrorMessage, err))
}

// fail completes the call with a dispatch error.
func (c *ActiveCall) fail(e *Error) {
	c.complete(nil, e)
}

func (c *ActiveCall) complete(result any, err *Error) {
	c.mu.Lock()
	c.completed = true
	c.result = result
	c.err = err
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.done) })
}

// IsComplete reports whether an outcome has been signaled.
func (c *ActiveCall) IsComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completed
}

// Done is closed once the first outcome is signaled.
func (c *ActiveCall) Done() <-chan struct{} { return c.done }

// outcome returns the last signaled outcome.
func (c *ActiveCall) outcome() (any, *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.err
}

type callKey struct{}

func withCall(ctx context.Context, c *ActiveCall) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

// CallFromContext returns the call being served by ctx, or nil.
func CallFromContext(ctx context.Context) *ActiveCall {
	c, _ := ctx.Value(callKey{}).(*ActiveCall)
	return c
}
