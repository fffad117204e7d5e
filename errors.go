// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/gorilla/rpc/v2/json2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// ErrorName is the name member of every 1.1 error object.
	ErrorName = "JSONRPCError"

	// CodeApplication is the 1.1 error code used when a failure carries no
	// code of its own.
	CodeApplication = 999

	// InvalidTokenMessage is the fixed message of a rejected XSRF token.
	// Clients compare against it to decide on a retry.
	InvalidTokenMessage = "Invalid xsrfKey in request"

	// InternalErrorMessage replaces the detail of unexpected server failures.
	InternalErrorMessage = "Internal Server Error"
)

var (
	// ErrParse marks an envelope that is not well formed JSON.
	ErrParse = errors.New("jsonrpc: malformed envelope")

	// ErrParams marks parameters that do not fit the method signature.
	ErrParams = errors.New("jsonrpc: bad parameters")
)

// Kind classifies a failed call.
type Kind uint8

const (
	KindUnknown Kind = iota
	// KindProtocol is a malformed request: bad envelope, wrong arity,
	// undecodable parameters or an unsafe callback name.
	KindProtocol
	// KindMethodNotFound is a request naming no registered method.
	KindMethodNotFound
	// KindInvalidToken is a missing, stale or forged XSRF token.
	KindInvalidToken
	// KindRemote is a failure the method reported on purpose.
	KindRemote
	// KindInternal is an unexpected failure inside the server.
	KindInternal
	// KindBadResponse is a reply the client could not understand.
	KindBadResponse
	// KindUnavailable is a call that never got a reply.
	KindUnavailable
)

var kindNames = [...]string{
	KindUnknown:        "unknown",
	KindProtocol:       "protocol error",
	KindMethodNotFound: "method not found",
	KindInvalidToken:   "invalid token",
	KindRemote:         "remote error",
	KindInternal:       "internal error",
	KindBadResponse:    "bad response",
	KindUnavailable:    "server unavailable",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// HTTPStatus returns the status a server answers with for k.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindProtocol:
		return http.StatusBadRequest
	case KindMethodNotFound:
		return http.StatusNotFound
	case KindInvalidToken:
		return http.StatusForbidden
	case KindInternal:
		return http.StatusInternalServerError
	case KindBadResponse:
		return http.StatusBadGateway
	case KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

// GRPCCode returns the gRPC code equivalent to k.
func (k Kind) GRPCCode() codes.Code {
	switch k {
	case KindProtocol:
		return codes.InvalidArgument
	case KindMethodNotFound:
		return codes.Unimplemented
	case KindInvalidToken:
		return codes.PermissionDenied
	case KindRemote:
		return codes.Unknown
	case KindInternal, KindBadResponse:
		return codes.Internal
	case KindUnavailable:
		return codes.Unavailable
	}
	return codes.Unknown
}

// kindForStatus guesses the kind of an error envelope from the HTTP status
// it arrived with. A 403 alone is not a rejected token; that takes
// InvalidTokenMessage as well.
func kindForStatus(code int) Kind {
	switch code {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return KindProtocol
	case http.StatusNotFound:
		return KindMethodNotFound
	case http.StatusInternalServerError:
		return KindInternal
	}
	return KindRemote
}

// Error is a failed call. Message, Code and Payload travel on the wire; Err
// never does.
type Error struct {
	Kind Kind

	// Code is the error object's code. Zero selects the default for the
	// envelope version.
	Code int

	Message string

	// Payload is an opaque JSON value attached by the method.
	Payload jsontext.Value

	// Status overrides the HTTP status on the server and records the
	// received status on the client.
	Status int

	// Err is the underlying cause.
	Err error
}

func (e *Error) Error() string {
	msg := "jsonrpc: " + e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// GRPCStatus lets status.Code and status.FromError classify e.
func (e *Error) GRPCStatus() *status.Status {
	return status.New(e.Kind.GRPCCode(), e.Message)
}

// HTTPStatus returns the status the server answers e with.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Kind.HTTPStatus()
}

// code11 is the code written in a 1.1 error object.
func (e *Error) code11() int {
	if e.Code != 0 {
		return e.Code
	}
	return CodeApplication
}

// code20 is the code written in a 2.0 error object.
func (e *Error) code20() int {
	if e.Code != 0 {
		return e.Code
	}
	var de *json2.Error
	if errors.As(e.Err, &de) {
		return int(de.Code)
	}
	switch {
	case errors.Is(e.Err, ErrParse):
		return int(json2.E_PARSE)
	case errors.Is(e.Err, ErrParams):
		return int(json2.E_BAD_PARAMS)
	}
	switch e.Kind {
	case KindProtocol:
		return int(json2.E_INVALID_REQ)
	case KindMethodNotFound:
		return int(json2.E_NO_METHOD)
	case KindInternal:
		return int(json2.E_INTERNAL)
	}
	return int(json2.E_SERVER)
}

// NewError returns an error of the given kind carrying message.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WrapError returns an error of the given kind carrying message, caused by
// err.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Errorf returns a remote error with a formatted message. It is the usual
// way for a method to fail on purpose.
func Errorf(format string, args ...any) *Error {
	return &Error{Kind: KindRemote, Message: fmt.Sprintf(format, args...)}
}

// NewRemoteError returns a remote error with an explicit code and payload.
func NewRemoteError(code int, message string, payload jsontext.Value) *Error {
	return &Error{Kind: KindRemote, Code: code, Message: message, Payload: payload}
}

// KindOf returns the kind of err, or KindUnknown when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsInvalidToken reports whether err is a rejected XSRF token.
func IsInvalidToken(err error) bool {
	return KindOf(err) == KindInvalidToken
}

// asFailure converts an error reported by a method into the error sent back.
// Errors of our own type keep their kind; anything else is a remote error
// carrying its text.
func asFailure(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindRemote, Message: err.Error(), Err: err}
}

func invalidToken() *Error {
	return &Error{Kind: KindInvalidToken, Message: InvalidTokenMessage}
}
