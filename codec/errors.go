// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import "fmt"

// DecodeError reports a JSON value that does not match the expected type.
type DecodeError struct {
	Type   *Type
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("codec: cannot decode %s: %s: %v", e.Type, e.Reason, e.Err)
	}
	return fmt.Sprintf("codec: cannot decode %s: %s", e.Type, e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func decodeErrorf(t *Type, format string, a ...any) *DecodeError {
	return &DecodeError{Type: t, Reason: fmt.Sprintf(format, a...)}
}

// EncodeError reports a Go value that cannot be written as the expected type.
type EncodeError struct {
	Type   *Type
	Reason string
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("codec: cannot encode %s: %s", e.Type, e.Reason)
}

func encodeErrorf(t *Type, format string, a ...any) *EncodeError {
	return &EncodeError{Type: t, Reason: fmt.Sprintf(format, a...)}
}

// DerivationError reports a type graph that cannot be serialized at all.
// It is a configuration error, raised once when a method is registered.
type DerivationError struct {
	Type   *Type
	Reason string
}

func (e *DerivationError) Error() string {
	return fmt.Sprintf("codec: %s not supported in JSON encoding: %s", e.Type, e.Reason)
}
