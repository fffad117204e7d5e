// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luxfi/jsonrpc/codec"
)

// maxAttempts bounds the sends of one call: the first, and one retry after
// the server rejected the token.
const maxAttempts = 2

// Proxy calls methods on one endpoint. It caches the token the server hands
// out and sends it with every call. A Proxy is safe for concurrent use; each
// call runs its own attempts.
type Proxy struct {
	transport   Transport
	log         *zap.Logger
	registry    *codec.Registry
	tokenHeader string
	version     string

	mu    sync.Mutex
	token string
}

// NewProxy returns a proxy sending over t.
func NewProxy(t Transport, opts ...DialOption) *Proxy {
	o := newDialOptions(opts)
	return newProxy(t, o)
}

func newProxy(t Transport, o *dialOptions) *Proxy {
	return &Proxy{
		transport:   t,
		log:         o.log,
		registry:    o.registry,
		tokenHeader: o.tokenHeader,
		version:     o.version,
	}
}

// Token returns the cached token.
func (p *Proxy) Token() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.token
}

// SetToken replaces the cached token.
func (p *Proxy) SetToken(token string) {
	p.mu.Lock()
	p.token = token
	p.mu.Unlock()
}

// Close closes the transport.
func (p *Proxy) Close() error {
	return p.transport.Close()
}

// CallRaw calls method with encoded params and returns the encoded result.
// A rejected token is retried once with the token the rejection carried.
func (p *Proxy) CallRaw(ctx context.Context, method string, params []jsontext.Value) (jsontext.Value, error) {
	for attempt := 1; ; attempt++ {
		result, err := p.send(ctx, method, params)
		if err == nil {
			return result, nil
		}
		if IsInvalidToken(err) && attempt < maxAttempts {
			p.log.Debug("token rejected, retrying",
				zap.String("method", method),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		return nil, err
	}
}

// Invoke runs CallRaw in the background and reports the outcome to exactly
// one of the continuations.
func (p *Proxy) Invoke(ctx context.Context, method string, params []jsontext.Value, onSuccess func(jsontext.Value), onFailure func(error)) {
	go func() {
		result, err := p.CallRaw(ctx, method, params)
		if err != nil {
			if onFailure != nil {
				onFailure(err)
			}
			return
		}
		if onSuccess != nil {
			onSuccess(result)
		}
	}()
}

// send makes one attempt.
func (p *Proxy) send(ctx context.Context, method string, params []jsontext.Value) (jsontext.Value, error) {
	req := &Request{
		Version: p.version,
		Method:  method,
		Params:  params,
		XSRFKey: p.Token(),
	}
	if p.version == Version20 {
		req.ID = jsontext.Value(`"` + uuid.NewString() + `"`)
	}
	body, err := req.Encode()
	if err != nil {
		return nil, WrapError(KindProtocol, "cannot encode request", err)
	}
	out := &Outbound{Body: body}
	if p.tokenHeader != "" && req.XSRFKey != "" {
		out.Header = http.Header{}
		out.Header.Set(p.tokenHeader, req.XSRFKey)
	}

	reply, err := p.transport.RoundTrip(ctx, out)
	if err != nil {
		return nil, WrapError(KindUnavailable, "server unavailable", err)
	}
	if ct := reply.Header.Get("Content-Type"); !isJSON(ct) {
		return nil, &Error{
			Kind:    KindBadResponse,
			Message: fmt.Sprintf("unexpected content type %q", ct),
			Status:  reply.Status,
		}
	}
	resp, err := ParseResponse(reply.Body)
	if err != nil {
		return nil, &Error{Kind: KindBadResponse, Message: "malformed response", Status: reply.Status, Err: err}
	}

	token := resp.XSRFKey
	if token == "" && p.tokenHeader != "" {
		token = reply.Header.Get(p.tokenHeader)
	}
	if token != "" {
		p.SetToken(token)
	}

	if resp.Error != nil {
		e := resp.Error
		e.Status = reply.Status
		if reply.Status == http.StatusForbidden && e.Message == InvalidTokenMessage {
			e.Kind = KindInvalidToken
		} else {
			e.Kind = kindForStatus(reply.Status)
		}
		return nil, e
	}
	if req.ID != nil && !bytes.Equal(req.ID, resp.ID) {
		return nil, &Error{Kind: KindBadResponse, Message: "response id does not match request", Status: reply.Status}
	}
	return resp.Result, nil
}

// Method is a typed stub for one remote method.
type Method struct {
	proxy  *Proxy
	name   string
	params []codec.Serializer
	result codec.Serializer
}

// Method returns a stub for name. A nil or void result type means the
// method answers null.
func (p *Proxy) Method(name string, result *codec.Type, params ...*codec.Type) (*Method, error) {
	m := &Method{
		proxy:  p,
		name:   name,
		params: make([]codec.Serializer, len(params)),
	}
	for i, t := range params {
		s, err := p.registry.Derive(t)
		if err != nil {
			return nil, fmt.Errorf("method %s param %d: %w", name, i, err)
		}
		m.params[i] = s
	}
	if result != nil && result.Kind != codec.KindVoid {
		s, err := p.registry.Derive(result)
		if err != nil {
			return nil, fmt.Errorf("method %s result: %w", name, err)
		}
		m.result = s
	}
	return m, nil
}

// MustMethod is like Method but panics on error.
func (p *Proxy) MustMethod(name string, result *codec.Type, params ...*codec.Type) *Method {
	m, err := p.Method(name, result, params...)
	if err != nil {
		panic(err)
	}
	return m
}

// Name returns the remote method name.
func (m *Method) Name() string { return m.name }

// Call encodes params, calls the method and decodes its result.
func (m *Method) Call(ctx context.Context, params ...any) (any, error) {
	encoded, err := m.encode(params)
	if err != nil {
		return nil, err
	}
	raw, err := m.proxy.CallRaw(ctx, m.name, encoded)
	if err != nil {
		return nil, err
	}
	return m.decode(raw)
}

// Invoke is the asynchronous form of Call. Exactly one continuation runs.
func (m *Method) Invoke(ctx context.Context, params []any, onSuccess func(any), onFailure func(error)) {
	fail := func(err error) {
		if onFailure != nil {
			onFailure(err)
		}
	}
	encoded, err := m.encode(params)
	if err != nil {
		go fail(err)
		return
	}
	m.proxy.Invoke(ctx, m.name, encoded, func(raw jsontext.Value) {
		v, err := m.decode(raw)
		if err != nil {
			fail(err)
			return
		}
		if onSuccess != nil {
			onSuccess(v)
		}
	}, fail)
}

func (m *Method) encode(params []any) ([]jsontext.Value, error) {
	if len(params) != len(m.params) {
		return nil, fmt.Errorf("%s takes %d parameters, got %d", m.name, len(m.params), len(params))
	}
	encoded := make([]jsontext.Value, len(params))
	for i, v := range params {
		raw, err := codec.Marshal(m.params[i], v)
		if err != nil {
			return nil, fmt.Errorf("%s param %d: %w", m.name, i, err)
		}
		encoded[i] = raw
	}
	return encoded, nil
}

func (m *Method) decode(raw jsontext.Value) (any, error) {
	if m.result == nil {
		return nil, nil
	}
	v, err := codec.Unmarshal(m.result, raw)
	if err != nil {
		return nil, WrapError(KindBadResponse, "cannot decode result", err)
	}
	return v, nil
}
