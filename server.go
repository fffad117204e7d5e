// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/klauspost/compress/gzhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc/metadata"

	"github.com/luxfi/jsonrpc/codec"
	"github.com/luxfi/jsonrpc/xsrf"
)

const (
	contentTypeJSON = "application/json"
	responseJSON    = "application/json; charset=utf-8"
	responseJS      = "text/javascript; charset=utf-8"
)

var safeCallback = regexp.MustCompile(`^[A-Za-z0-9_$.\[\]]+$`)

// ValidCallback reports whether name may be used as a JSONP callback.
func ValidCallback(name string) bool {
	return safeCallback.MatchString(name)
}

// Dispatcher serves calls to a table of registered methods. Methods are
// registered at startup; the table and the token key are only read while
// serving.
type Dispatcher struct {
	log            *zap.Logger
	registry       *codec.Registry
	tokens         *xsrf.Service
	authenticate   Authenticator
	tokenHeader    string
	maxRequestSize int64
	preInvoke      PreInvokeFunc
	path           string
	str            codec.Serializer

	mu      sync.RWMutex
	methods map[string]*method

	handler http.Handler
}

// NewDispatcher returns a dispatcher with no methods. It fails when the
// token service cannot be set up.
func NewDispatcher(opts ...ServerOption) (*Dispatcher, error) {
	o := newServerOptions(opts)
	tokens, err := o.tokenService()
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}
	str, err := o.registry.Derive(codec.String)
	if err != nil {
		return nil, err
	}
	d := &Dispatcher{
		log:            o.log,
		registry:       o.registry,
		tokens:         tokens,
		authenticate:   o.authenticate,
		tokenHeader:    o.tokenHeader,
		maxRequestSize: o.maxRequestSize,
		preInvoke:      o.preInvoke,
		path:           o.path,
		str:            str,
		methods:        make(map[string]*method),
	}
	d.handler = http.HandlerFunc(d.serveHTTP)
	if o.gzipMinSize > 0 {
		wrap, err := gzhttp.NewWrapper(gzhttp.MinSize(o.gzipMinSize))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		d.handler = wrap(d.handler)
	}
	d.log.Debug("dispatcher ready",
		zap.String("path", d.path),
		zap.Duration("tokenWindow", tokens.Window()),
		zap.Bool("tokenHeader", d.tokenHeader != ""),
	)
	return d, nil
}

// Register adds methods to the table. Names must be unique and every
// signature must be derivable; on error nothing is registered.
func (d *Dispatcher) Register(descs ...MethodDescriptor) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	added := make(map[string]*method, len(descs))
	for _, desc := range descs {
		if _, dup := d.methods[desc.Name]; dup {
			return fmt.Errorf("register %s: duplicate method", desc.Name)
		}
		if _, dup := added[desc.Name]; dup {
			return fmt.Errorf("register %s: duplicate method", desc.Name)
		}
		m, err := newMethod(d.registry, desc)
		if err != nil {
			return fmt.Errorf("register: %w", err)
		}
		added[desc.Name] = m
	}
	for name, m := range added {
		d.methods[name] = m
		d.log.Debug("registered method",
			zap.String("method", name),
			zap.Int("params", len(m.params)),
			zap.Bool("crossSite", m.desc.AllowCrossSiteRequest),
		)
	}
	return nil
}

// MustRegister is like Register but panics on error.
func (d *Dispatcher) MustRegister(descs ...MethodDescriptor) {
	if err := d.Register(descs...); err != nil {
		panic(err)
	}
}

// Methods returns the registered method names in sorted order.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.methods))
	for name := range d.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TokenService returns the service signing this dispatcher's tokens.
func (d *Dispatcher) TokenService() *xsrf.Service { return d.tokens }

func (d *Dispatcher) lookup(name string) *method {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.methods[name]
}

// Dispatch serves one POST style request body for the endpoint at path. It
// returns nil when the method never completed before ctx ended.
func (d *Dispatcher) Dispatch(ctx context.Context, path string, header http.Header, body []byte) *Response {
	ctx = withHeaderMetadata(ctx, header, d.tokenHeader)
	call := d.newCall(ctx, path, header)
	d.decodePost(call, body)
	return d.run(ctx, call)
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.handler.ServeHTTP(w, r)
}

func (d *Dispatcher) serveHTTP(w http.ResponseWriter, r *http.Request) {
	noCache(w.Header())
	if !acceptsJSON(r.Header.Values("Accept")) {
		textError(w, http.StatusBadRequest, "Must Accept "+contentTypeJSON)
		return
	}

	ctx := withHeaderMetadata(r.Context(), r.Header, d.tokenHeader)
	call := d.newCall(ctx, r.URL.Path, r.Header)
	switch r.Method {
	case http.MethodGet:
		d.decodeGet(call, r.URL.Query())
	case http.MethodPost:
		body, e := d.readBody(w, r)
		if e != nil {
			call.fail(e)
			break
		}
		d.decodePost(call, body)
	default:
		call.fail(NewError(KindProtocol, "Unsupported HTTP method"))
	}

	resp := d.run(ctx, call)
	if resp == nil {
		return
	}
	d.write(w, call, resp)
}

func (d *Dispatcher) newCall(ctx context.Context, path string, header http.Header) *ActiveCall {
	call := newActiveCall(path, header)
	var user string
	if d.authenticate != nil {
		user = d.authenticate(ctx, header)
	}
	call.Subject = xsrf.Subject(user)
	return call
}

func (d *Dispatcher) readBody(w http.ResponseWriter, r *http.Request) ([]byte, *Error) {
	mt, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mt != contentTypeJSON {
		return nil, NewError(KindProtocol, "Invalid request Content-Type")
	}
	if cs, ok := params["charset"]; ok && !strings.EqualFold(cs, "utf-8") {
		return nil, NewError(KindProtocol, "Request charset must be UTF-8")
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, d.maxRequestSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			e := WrapError(KindProtocol, "Request too large", err)
			e.Status = http.StatusRequestEntityTooLarge
			return nil, e
		}
		return nil, WrapError(KindProtocol, "Error reading request", err)
	}
	if len(body) == 0 {
		return nil, NewError(KindProtocol, "Empty request body")
	}
	return body, nil
}

func parseError(err error) *Error {
	return WrapError(KindProtocol, "Error parsing request", err)
}

// decodePost fills call from a request envelope, failing it on any
// protocol violation.
func (d *Dispatcher) decodePost(call *ActiveCall, body []byte) {
	req, err := ParseRequest(body)
	if err != nil {
		call.fail(parseError(err))
		return
	}
	call.version = req.Version
	call.ID = req.ID
	call.Callback = req.Callback
	call.XSRFKeyIn = req.XSRFKey

	m := d.lookup(req.Method)
	if m == nil {
		call.fail(NewError(KindMethodNotFound, "No such service method"))
		return
	}
	call.Method = &m.desc
	call.impl = m

	if len(req.Params) != len(m.params) {
		call.fail(parseError(fmt.Errorf("%w: %s takes %d parameters, got %d",
			ErrParams, req.Method, len(m.params), len(req.Params))))
		return
	}
	params := make([]any, len(m.params))
	for i, raw := range req.Params {
		v, err := codec.Unmarshal(m.params[i], raw)
		if err != nil {
			call.fail(parseError(fmt.Errorf("%w: param %d: %w", ErrParams, i, err)))
			return
		}
		params[i] = v
	}
	call.Params = params
}

// decodeGet fills call from the query form. Only cross site methods are
// served this way.
func (d *Dispatcher) decodeGet(call *ActiveCall, q url.Values) {
	call.Callback = q.Get("callback")

	m := d.lookup(q.Get("method"))
	if m == nil {
		call.fail(NewError(KindMethodNotFound, "No such service method"))
		return
	}
	call.Method = &m.desc
	call.impl = m

	params := make([]any, len(m.params))
	for i, s := range m.params {
		vs, ok := q["param"+strconv.Itoa(i)]
		if !ok || len(vs) == 0 {
			continue
		}
		raw := []byte(vs[0])
		if s.Type().IsStringLike() {
			quoted, err := codec.Marshal(d.str, vs[0])
			if err != nil {
				call.fail(parseError(fmt.Errorf("%w: param %d: %w", ErrParams, i, err)))
				return
			}
			raw = quoted
		}
		v, err := codec.Unmarshal(s, raw)
		if err != nil {
			call.fail(parseError(fmt.Errorf("%w: param %d: %w", ErrParams, i, err)))
			return
		}
		params[i] = v
	}
	call.Params = params

	if !m.desc.AllowCrossSiteRequest {
		call.fail(invalidToken())
	}
}

// run takes a decoded call through token validation and invocation, then
// waits for its outcome.
func (d *Dispatcher) run(ctx context.Context, call *ActiveCall) *Response {
	if !call.IsComplete() {
		d.execute(ctx, call)
	}
	select {
	case <-call.Done():
	case <-ctx.Done():
		d.log.DPanic("method never completed its call",
			zap.String("method", methodName(call)),
			zap.Stringer("trace", call.TraceID),
			zap.Error(ctx.Err()),
		)
		return nil
	}
	return d.respond(call)
}

func (d *Dispatcher) execute(ctx context.Context, call *ActiveCall) {
	if call.Callback != "" && !ValidCallback(call.Callback) {
		call.fail(NewError(KindProtocol, "Unsafe name in 'callback' property"))
		return
	}

	if !call.Method.AllowCrossSiteRequest {
		if call.XSRFKeyIn == "" && d.tokenHeader != "" {
			call.XSRFKeyIn = call.Header.Get(d.tokenHeader)
		}
		v := d.tokens.Validate(call.XSRFKeyIn, call.Subject, call.Path)
		if v.NeedsRefresh {
			call.XSRFKeyOut = d.tokens.Issue(call.Subject, call.Path)
			d.log.Debug("issued token",
				zap.String("subject", call.Subject),
				zap.String("path", call.Path),
				zap.Bool("valid", v.Valid),
			)
		}
		if !v.Valid {
			call.fail(invalidToken())
			return
		}
	}

	ctx = withCall(ctx, call)
	if d.preInvoke != nil {
		d.preInvoke(ctx, call)
		if call.IsComplete() {
			return
		}
	}
	call.impl.invoke(ctx, call)
}

// respond builds the envelope for a completed call. Internal failures are
// logged here and leave with a generic message only.
func (d *Dispatcher) respond(call *ActiveCall) *Response {
	result, e := call.outcome()
	resp := &Response{
		Version: call.version,
		ID:      call.ID,
		XSRFKey: call.XSRFKeyOut,
	}
	if e != nil {
		if e.Kind == KindInternal {
			d.logInternal(call, e)
			e = NewError(KindInternal, InternalErrorMessage)
		}
		resp.Error = e
		return resp
	}
	if call.impl.result == nil {
		return resp
	}

	var opts []jsontext.Options
	if call.Callback != "" {
		opts = append(opts, jsontext.EscapeForJS(true), jsontext.EscapeForHTML(true))
	}
	raw, err := codec.Marshal(call.impl.result, result, opts...)
	if err != nil {
		d.logInternal(call, fmt.Errorf("encode result: %w", err))
		resp.Error = NewError(KindInternal, InternalErrorMessage)
		return resp
	}
	resp.Result = raw
	return resp
}

func (d *Dispatcher) logInternal(call *ActiveCall, err error) {
	var e *Error
	if errors.As(err, &e) && e.Err != nil {
		err = e.Err
	}
	d.log.Error("error in "+methodName(call),
		zap.String("method", methodName(call)),
		zap.Stringer("trace", call.TraceID),
		zap.Error(err),
	)
}

func (d *Dispatcher) write(w http.ResponseWriter, call *ActiveCall, resp *Response) {
	h := w.Header()
	if d.tokenHeader != "" && resp.XSRFKey != "" {
		h.Set(d.tokenHeader, resp.XSRFKey)
	}
	status := http.StatusOK
	if resp.Error != nil {
		status = resp.Error.HTTPStatus()
	}

	if call.Callback != "" && ValidCallback(call.Callback) {
		var b bytes.Buffer
		b.WriteString(call.Callback)
		b.WriteByte('(')
		if resp.Error == nil && len(resp.Result) > 0 {
			b.Write(resp.Result)
		} else {
			b.WriteString("null")
		}
		b.WriteString(");")
		h.Set("Content-Type", responseJS)
		w.WriteHeader(status)
		_, _ = w.Write(b.Bytes())
		return
	}

	body, err := resp.Encode()
	if err != nil {
		d.logInternal(call, fmt.Errorf("encode response: %w", err))
		textError(w, http.StatusInternalServerError, InternalErrorMessage)
		return
	}
	h.Set("Content-Type", responseJSON)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func methodName(call *ActiveCall) string {
	if call.Method == nil {
		return "<unknown>"
	}
	return call.Method.Name
}

// acceptsJSON reports whether any Accept value lists application/json.
func acceptsJSON(values []string) bool {
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			mt, _, _ := strings.Cut(part, ";")
			if strings.EqualFold(strings.TrimSpace(mt), contentTypeJSON) {
				return true
			}
		}
	}
	return false
}

func noCache(h http.Header) {
	h.Set("Expires", "Fri, 01 Jan 1980 00:00:00 GMT")
	h.Set("Pragma", "no-cache")
	h.Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	h.Set("X-Content-Type-Options", "nosniff")
}

func textError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

// reservedHeaders are transport headers kept out of call metadata.
var reservedHeaders = map[string]bool{
	"Accept":            true,
	"Accept-Encoding":   true,
	"Connection":        true,
	"Content-Encoding":  true,
	"Content-Length":    true,
	"Content-Type":      true,
	"Te":                true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
}

// withHeaderMetadata exposes request headers to methods as incoming gRPC
// metadata, merged with any metadata ctx already has. The token header is
// left out.
func withHeaderMetadata(ctx context.Context, header http.Header, tokenHeader string) context.Context {
	md := metadata.MD{}
	for k, vs := range header {
		if reservedHeaders[http.CanonicalHeaderKey(k)] || (tokenHeader != "" && strings.EqualFold(k, tokenHeader)) {
			continue
		}
		md.Append(k, vs...)
	}
	if md.Len() == 0 {
		return ctx
	}
	existing, _ := metadata.FromIncomingContext(ctx)
	return metadata.NewIncomingContext(ctx, metadata.Join(existing, md))
}
