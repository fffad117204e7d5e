// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-json-experiment/json/jsontext"
)

// Protocol versions. A request carries exactly one marker: "version":"1.1"
// or "jsonrpc":"2.0". The response echoes the one it received.
const (
	Version11 = "1.1"
	Version20 = "2.0"
)

// Request is a decoded request envelope. Params and ID stay raw until the
// method they belong to is known.
type Request struct {
	Version  string
	ID       jsontext.Value
	Method   string
	Params   []jsontext.Value
	XSRFKey  string
	Callback string
}

// Response is a response envelope. Exactly one of Result and Error is used;
// a nil Result on success is written as null.
type Response struct {
	Version string
	ID      jsontext.Value
	XSRFKey string
	Result  jsontext.Value
	Error   *Error
}

func cloneValue(v jsontext.Value) jsontext.Value {
	return append(jsontext.Value(nil), v...)
}

// ParseRequest decodes a request envelope. Errors wrap ErrParse.
func ParseRequest(data []byte) (*Request, error) {
	dec := jsontext.NewDecoder(bytes.NewReader(data))
	if err := expectObject(dec); err != nil {
		return nil, err
	}

	var (
		req       Request
		v11, v20  bool
		hasMethod bool
	)
	for dec.PeekKind() != '}' {
		name, err := dec.ReadToken()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		switch name.String() {
		case "version":
			s, err := readString(dec, "version")
			if err != nil {
				return nil, err
			}
			if s != Version11 {
				return nil, fmt.Errorf("%w: unsupported version %q", ErrParse, s)
			}
			v11 = true
		case "jsonrpc":
			s, err := readString(dec, "jsonrpc")
			if err != nil {
				return nil, err
			}
			if s != Version20 {
				return nil, fmt.Errorf("%w: unsupported jsonrpc %q", ErrParse, s)
			}
			v20 = true
		case "id":
			v, err := dec.ReadValue()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
			req.ID = cloneValue(v)
		case "method":
			if req.Method, err = readString(dec, "method"); err != nil {
				return nil, err
			}
			hasMethod = true
		case "params":
			if req.Params, err = readParams(dec); err != nil {
				return nil, err
			}
		case "xsrfKey":
			if req.XSRFKey, err = readOptionalString(dec, "xsrfKey"); err != nil {
				return nil, err
			}
		case "callback":
			if req.Callback, err = readOptionalString(dec, "callback"); err != nil {
				return nil, err
			}
		default:
			if err := dec.SkipValue(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
		}
	}
	if err := expectEnd(dec); err != nil {
		return nil, err
	}

	switch {
	case v11 && v20:
		return nil, fmt.Errorf("%w: both version and jsonrpc present", ErrParse)
	case v11:
		req.Version = Version11
	case v20:
		req.Version = Version20
	default:
		return nil, fmt.Errorf("%w: missing version", ErrParse)
	}
	if !hasMethod || req.Method == "" {
		return nil, fmt.Errorf("%w: missing method", ErrParse)
	}
	return &req, nil
}

// Encode writes the request envelope.
func (r *Request) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := jsontext.NewEncoder(&buf)
	w := tokenWriter{enc: enc}
	w.token(jsontext.ObjectStart)
	w.marker(r.Version)
	if len(r.ID) > 0 {
		w.token(jsontext.String("id"))
		w.value(r.ID)
	}
	w.token(jsontext.String("method"))
	w.token(jsontext.String(r.Method))
	w.token(jsontext.String("params"))
	w.token(jsontext.ArrayStart)
	for _, p := range r.Params {
		if len(p) == 0 {
			w.token(jsontext.Null)
			continue
		}
		w.value(p)
	}
	w.token(jsontext.ArrayEnd)
	if r.XSRFKey != "" {
		w.token(jsontext.String("xsrfKey"))
		w.token(jsontext.String(r.XSRFKey))
	}
	if r.Callback != "" {
		w.token(jsontext.String("callback"))
		w.token(jsontext.String(r.Callback))
	}
	w.token(jsontext.ObjectEnd)
	if w.err != nil {
		return nil, w.err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Encode writes the response envelope. Members are written in the order
// version, id, xsrfKey, then result or error.
func (r *Response) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := jsontext.NewEncoder(&buf)
	w := tokenWriter{enc: enc}
	w.token(jsontext.ObjectStart)
	w.marker(r.Version)
	if len(r.ID) > 0 {
		w.token(jsontext.String("id"))
		w.value(r.ID)
	}
	if r.XSRFKey != "" {
		w.token(jsontext.String("xsrfKey"))
		w.token(jsontext.String(r.XSRFKey))
	}
	if r.Error != nil {
		w.token(jsontext.String("error"))
		w.errorObject(r.Version, r.Error)
	} else {
		w.token(jsontext.String("result"))
		if len(r.Result) == 0 {
			w.token(jsontext.Null)
		} else {
			w.value(r.Result)
		}
	}
	w.token(jsontext.ObjectEnd)
	if w.err != nil {
		return nil, w.err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ParseResponse decodes a response envelope. The returned Error, if any,
// has KindRemote; callers refine the kind from transport information.
func ParseResponse(data []byte) (*Response, error) {
	dec := jsontext.NewDecoder(bytes.NewReader(data))
	if err := expectObject(dec); err != nil {
		return nil, err
	}

	var (
		resp      Response
		hasResult bool
	)
	for dec.PeekKind() != '}' {
		name, err := dec.ReadToken()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		switch name.String() {
		case "version":
			if resp.Version, err = readString(dec, "version"); err != nil {
				return nil, err
			}
		case "jsonrpc":
			if _, err = readString(dec, "jsonrpc"); err != nil {
				return nil, err
			}
			resp.Version = Version20
		case "id":
			v, err := dec.ReadValue()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
			resp.ID = cloneValue(v)
		case "xsrfKey":
			if resp.XSRFKey, err = readOptionalString(dec, "xsrfKey"); err != nil {
				return nil, err
			}
		case "result":
			v, err := dec.ReadValue()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
			resp.Result = cloneValue(v)
			hasResult = true
		case "error":
			if dec.PeekKind() == 'n' {
				if _, err := dec.ReadToken(); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrParse, err)
				}
				continue
			}
			if resp.Error, err = readErrorObject(dec); err != nil {
				return nil, err
			}
		default:
			if err := dec.SkipValue(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
		}
	}
	if err := expectEnd(dec); err != nil {
		return nil, err
	}
	if resp.Error == nil && !hasResult {
		return nil, fmt.Errorf("%w: neither result nor error present", ErrParse)
	}
	return &resp, nil
}

func readErrorObject(dec *jsontext.Decoder) (*Error, error) {
	if err := expectObject(dec); err != nil {
		return nil, err
	}
	e := &Error{Kind: KindRemote}
	for dec.PeekKind() != '}' {
		name, err := dec.ReadToken()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		switch name.String() {
		case "code":
			tok, err := dec.ReadToken()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
			if tok.Kind() != '0' {
				return nil, fmt.Errorf("%w: error code is not a number", ErrParse)
			}
			e.Code = int(tok.Int())
		case "message":
			if e.Message, err = readOptionalString(dec, "message"); err != nil {
				return nil, err
			}
		case "error", "data":
			v, err := dec.ReadValue()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
			if v.Kind() != 'n' {
				e.Payload = cloneValue(v)
			}
		default:
			if err := dec.SkipValue(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrParse, err)
			}
		}
	}
	if _, err := dec.ReadToken(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return e, nil
}

func readParams(dec *jsontext.Decoder) ([]jsontext.Value, error) {
	tok, err := dec.ReadToken()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	switch tok.Kind() {
	case 'n':
		return nil, nil
	case '[':
	default:
		return nil, fmt.Errorf("%w: params is not an array", ErrParse)
	}
	params := make([]jsontext.Value, 0)
	for dec.PeekKind() != ']' {
		v, err := dec.ReadValue()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		params = append(params, cloneValue(v))
	}
	if _, err := dec.ReadToken(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return params, nil
}

func readString(dec *jsontext.Decoder, member string) (string, error) {
	tok, err := dec.ReadToken()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}
	if tok.Kind() != '"' {
		return "", fmt.Errorf("%w: %s is not a string", ErrParse, member)
	}
	return tok.String(), nil
}

func readOptionalString(dec *jsontext.Decoder, member string) (string, error) {
	if dec.PeekKind() == 'n' {
		if _, err := dec.ReadToken(); err != nil {
			return "", fmt.Errorf("%w: %v", ErrParse, err)
		}
		return "", nil
	}
	return readString(dec, member)
}

func expectObject(dec *jsontext.Decoder) error {
	tok, err := dec.ReadToken()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	if tok.Kind() != '{' {
		return fmt.Errorf("%w: envelope is not an object", ErrParse)
	}
	return nil
}

// expectEnd consumes the closing brace and rejects anything after it.
func expectEnd(dec *jsontext.Decoder) error {
	if _, err := dec.ReadToken(); err != nil {
		return fmt.Errorf("%w: %v", ErrParse, err)
	}
	if _, err := dec.ReadToken(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: trailing data", ErrParse)
	}
	return nil
}

// tokenWriter keeps the first encoding error so envelope writers read
// straight through.
type tokenWriter struct {
	enc *jsontext.Encoder
	err error
}

func (w *tokenWriter) token(t jsontext.Token) {
	if w.err == nil {
		w.err = w.enc.WriteToken(t)
	}
}

func (w *tokenWriter) value(v jsontext.Value) {
	if w.err == nil {
		w.err = w.enc.WriteValue(v)
	}
}

func (w *tokenWriter) marker(version string) {
	if version == Version20 {
		w.token(jsontext.String("jsonrpc"))
		w.token(jsontext.String(Version20))
		return
	}
	w.token(jsontext.String("version"))
	w.token(jsontext.String(Version11))
}

func (w *tokenWriter) errorObject(version string, e *Error) {
	w.token(jsontext.ObjectStart)
	if version == Version20 {
		w.token(jsontext.String("code"))
		w.token(jsontext.Int(int64(e.code20())))
		w.token(jsontext.String("message"))
		w.token(jsontext.String(e.Message))
		if len(e.Payload) > 0 {
			w.token(jsontext.String("data"))
			w.value(e.Payload)
		}
	} else {
		w.token(jsontext.String("name"))
		w.token(jsontext.String(ErrorName))
		w.token(jsontext.String("code"))
		w.token(jsontext.Int(int64(e.code11())))
		w.token(jsontext.String("message"))
		w.token(jsontext.String(e.Message))
		if len(e.Payload) > 0 {
			w.token(jsontext.String("error"))
			w.value(e.Payload)
		}
	}
	w.token(jsontext.ObjectEnd)
}
