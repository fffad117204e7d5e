// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"context"
	"fmt"

	"github.com/luxfi/jsonrpc/codec"
)

// Completion receives the outcome of one call. A method must signal it
// exactly once; if it signals more than once the last outcome wins.
type Completion interface {
	// Success completes the call with result, which must fit the declared
	// result type.
	Success(result any)

	// Failure completes the call with an error meant for the caller. An
	// *Error keeps its kind; any other error becomes a remote error.
	Failure(err error)

	// InternalFailure completes the call with an unexpected error. The
	// caller only sees a generic message.
	InternalFailure(err error)
}

// Handler runs a method. It may return before signaling done and complete
// the call later from another goroutine.
type Handler func(ctx context.Context, params []any, done Completion)

// Sync adapts a blocking function to a Handler.
func Sync(fn func(ctx context.Context, params []any) (any, error)) Handler {
	return func(ctx context.Context, params []any, done Completion) {
		result, err := fn(ctx, params)
		if err != nil {
			done.Failure(err)
			return
		}
		done.Success(result)
	}
}

// MethodDescriptor describes one invocable method.
type MethodDescriptor struct {
	Name string

	// Params lists the parameter types in call order.
	Params []*codec.Type

	// Result is the result type. Nil or codec.Void means the method has no
	// result and answers null.
	Result *codec.Type

	// AllowCrossSiteRequest exempts the method from XSRF validation and
	// lets it be called with GET.
	AllowCrossSiteRequest bool

	Handler Handler
}

// method is a registered descriptor with its serializers derived.
type method struct {
	desc   MethodDescriptor
	params []codec.Serializer
	result codec.Serializer
}

func newMethod(r *codec.Registry, desc MethodDescriptor) (*method, error) {
	if desc.Name == "" {
		return nil, fmt.Errorf("method has no name")
	}
	if desc.Handler == nil {
		return nil, fmt.Errorf("method %s has no handler", desc.Name)
	}
	m := &method{
		desc:   desc,
		params: make([]codec.Serializer, len(desc.Params)),
	}
	for i, t := range desc.Params {
		s, err := r.Derive(t)
		if err != nil {
			return nil, fmt.Errorf("method %s param %d: %w", desc.Name, i, err)
		}
		m.params[i] = s
	}
	if desc.Result != nil && desc.Result.Kind != codec.KindVoid {
		s, err := r.Derive(desc.Result)
		if err != nil {
			return nil, fmt.Errorf("method %s result: %w", desc.Name, err)
		}
		m.result = s
	}
	return m, nil
}

// invoke runs the handler, turning a panic into an internal failure.
func (m *method) invoke(ctx context.Context, call *ActiveCall) {
	defer func() {
		if r := recover(); r != nil {
			call.InternalFailure(fmt.Errorf("panic in %s: %v", m.desc.Name, r))
		}
	}()
	m.desc.Handler(ctx, call.Params, call)
}
