// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-json-experiment/json/jsontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/luxfi/jsonrpc/codec"
)

const invalidTokenReply = `{"version":"1.1","xsrfKey":"tok1","error":{"name":"JSONRPCError","code":999,"message":"Invalid xsrfKey in request"}}`

// scriptedTransport answers the n-th attempt with the n-th reply and records
// what was sent.
type scriptedTransport struct {
	replies []func(req *Request) (*Reply, error)

	mu      sync.Mutex
	sent    []*Request
	headers []http.Header
}

func (t *scriptedTransport) RoundTrip(_ context.Context, out *Outbound) (*Reply, error) {
	req, err := ParseRequest(out.Body)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	n := len(t.sent)
	t.sent = append(t.sent, req)
	t.headers = append(t.headers, out.Header)
	t.mu.Unlock()
	if n >= len(t.replies) {
		return nil, fmt.Errorf("unexpected attempt %d", n+1)
	}
	return t.replies[n](req)
}

func (*scriptedTransport) Close() error { return nil }

func (t *scriptedTransport) attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

func reply(status int, body string) func(*Request) (*Reply, error) {
	return func(*Request) (*Reply, error) {
		return &Reply{
			Status: status,
			Header: http.Header{"Content-Type": {responseJSON}},
			Body:   []byte(body),
		}, nil
	}
}

func TestRetryAfterInvalidToken(t *testing.T) {
	tr := &scriptedTransport{replies: []func(*Request) (*Reply, error){
		reply(http.StatusForbidden, invalidTokenReply),
		reply(http.StatusOK, `{"version":"1.1","result":"ok"}`),
	}}
	p := NewProxy(tr)

	result, err := p.CallRaw(context.Background(), "secure", nil)
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(result))

	require.Equal(t, 2, tr.attempts())
	assert.Empty(t, tr.sent[0].XSRFKey)
	assert.Equal(t, "tok1", tr.sent[1].XSRFKey)
	assert.Equal(t, "tok1", p.Token())
}

func TestInvalidTokenTwiceFails(t *testing.T) {
	tr := &scriptedTransport{replies: []func(*Request) (*Reply, error){
		reply(http.StatusForbidden, invalidTokenReply),
		reply(http.StatusForbidden, invalidTokenReply),
	}}
	p := NewProxy(tr)

	_, err := p.CallRaw(context.Background(), "secure", nil)
	require.Error(t, err)
	assert.True(t, IsInvalidToken(err))
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Equal(t, 2, tr.attempts())
}

func TestBadResponse(t *testing.T) {
	for name, r := range map[string]func(*Request) (*Reply, error){
		"html": func(*Request) (*Reply, error) {
			return &Reply{
				Status: http.StatusBadGateway,
				Header: http.Header{"Content-Type": {"text/html"}},
				Body:   []byte("<html>proxy error</html>"),
			}, nil
		},
		"truncated": reply(http.StatusOK, `{"version":"1.1","result":`),
		"empty":     reply(http.StatusOK, `{"version":"1.1"}`),
	} {
		t.Run(name, func(t *testing.T) {
			tr := &scriptedTransport{replies: []func(*Request) (*Reply, error){r}}
			_, err := NewProxy(tr).CallRaw(context.Background(), "m", nil)
			assert.Equal(t, KindBadResponse, KindOf(err))
			assert.Equal(t, 1, tr.attempts())
		})
	}
}

func TestUnavailable(t *testing.T) {
	tr := &scriptedTransport{replies: []func(*Request) (*Reply, error){
		func(*Request) (*Reply, error) { return nil, errors.New("connection refused") },
	}}
	_, err := NewProxy(tr).CallRaw(context.Background(), "m", nil)
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Equal(t, codes.Unavailable, status.Code(err))
	assert.ErrorContains(t, err, "connection refused")
}

func TestRemoteErrorKeepsDetail(t *testing.T) {
	tr := &scriptedTransport{replies: []func(*Request) (*Reply, error){
		reply(http.StatusOK, `{"version":"1.1","error":{"name":"JSONRPCError","code":42,"message":"nope","error":{"field":"x"}}}`),
	}}
	_, err := NewProxy(tr).CallRaw(context.Background(), "m", nil)

	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindRemote, e.Kind)
	assert.Equal(t, 42, e.Code)
	assert.Equal(t, "nope", e.Message)
	assert.Equal(t, `{"field":"x"}`, string(e.Payload))
	assert.Equal(t, http.StatusOK, e.Status)
}

func TestErrorKindFromStatus(t *testing.T) {
	for _, tc := range []struct {
		status int
		kind   Kind
	}{
		{http.StatusBadRequest, KindProtocol},
		{http.StatusRequestEntityTooLarge, KindProtocol},
		{http.StatusNotFound, KindMethodNotFound},
		{http.StatusForbidden, KindRemote},
		{http.StatusInternalServerError, KindInternal},
		{http.StatusOK, KindRemote},
	} {
		tr := &scriptedTransport{replies: []func(*Request) (*Reply, error){
			reply(tc.status, `{"version":"1.1","error":{"name":"JSONRPCError","code":999,"message":"x"}}`),
		}}
		_, err := NewProxy(tr).CallRaw(context.Background(), "m", nil)
		assert.Equal(t, tc.kind, KindOf(err), "status %d", tc.status)
		assert.Equal(t, 1, tr.attempts())
	}
}

func TestForbiddenWithoutSentinelIsNotRetried(t *testing.T) {
	locked := reply(http.StatusForbidden, `{"version":"1.1","error":{"name":"JSONRPCError","code":999,"message":"account locked"}}`)
	tr := &scriptedTransport{replies: []func(*Request) (*Reply, error){locked, locked}}

	_, err := NewProxy(tr).CallRaw(context.Background(), "m", nil)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, KindRemote, e.Kind)
	assert.Equal(t, "account locked", e.Message)
	assert.Equal(t, http.StatusForbidden, e.Status)
	assert.Equal(t, 1, tr.attempts())
}

func TestSentinelWithoutForbiddenIsNotRetried(t *testing.T) {
	tr := &scriptedTransport{replies: []func(*Request) (*Reply, error){
		reply(http.StatusOK, invalidTokenReply),
		reply(http.StatusOK, invalidTokenReply),
	}}
	_, err := NewProxy(tr).CallRaw(context.Background(), "m", nil)
	assert.Equal(t, KindRemote, KindOf(err))
	assert.Equal(t, 1, tr.attempts())
}

func TestVersion20IDs(t *testing.T) {
	echoID := func(req *Request) (*Reply, error) {
		return reply(http.StatusOK, `{"jsonrpc":"2.0","id":`+string(req.ID)+`,"result":1}`)(req)
	}
	tr := &scriptedTransport{replies: []func(*Request) (*Reply, error){
		echoID,
		echoID,
		reply(http.StatusOK, `{"jsonrpc":"2.0","id":"other","result":1}`),
	}}
	p := NewProxy(tr, WithVersion(Version20))

	_, err := p.CallRaw(context.Background(), "m", nil)
	require.NoError(t, err)
	_, err = p.CallRaw(context.Background(), "m", nil)
	require.NoError(t, err)
	assert.Equal(t, Version20, tr.sent[0].Version)
	assert.NotEmpty(t, tr.sent[0].ID)
	assert.NotEqual(t, string(tr.sent[0].ID), string(tr.sent[1].ID))

	_, err = p.CallRaw(context.Background(), "m", nil)
	assert.Equal(t, KindBadResponse, KindOf(err))
}

func TestClientTokenHeader(t *testing.T) {
	tr := &scriptedTransport{replies: []func(*Request) (*Reply, error){
		func(*Request) (*Reply, error) {
			return &Reply{
				Status: http.StatusForbidden,
				Header: http.Header{
					"Content-Type": {responseJSON},
					"X-Xsrf-Token": {"fromHeader"},
				},
				Body: []byte(`{"version":"1.1","error":{"name":"JSONRPCError","code":999,"message":"Invalid xsrfKey in request"}}`),
			}, nil
		},
		reply(http.StatusOK, `{"version":"1.1","result":null}`),
	}}
	p := NewProxy(tr, WithClientTokenHeader("X-Xsrf-Token"))

	_, err := p.CallRaw(context.Background(), "m", nil)
	require.NoError(t, err)
	assert.Empty(t, tr.headers[0].Get("X-Xsrf-Token"))
	assert.Equal(t, "fromHeader", tr.headers[1].Get("X-Xsrf-Token"))
	assert.Equal(t, "fromHeader", tr.sent[1].XSRFKey)
}

func TestMethodStub(t *testing.T) {
	tr := &scriptedTransport{replies: []func(*Request) (*Reply, error){
		reply(http.StatusOK, `{"version":"1.1","result":5}`),
		reply(http.StatusOK, `{"version":"1.1","result":"five"}`),
	}}
	p := NewProxy(tr)
	add := p.MustMethod("add", codec.Int, codec.Int, codec.Int)
	assert.Equal(t, "add", add.Name())

	_, err := add.Call(context.Background(), int32(1))
	assert.ErrorContains(t, err, "takes 2 parameters")
	assert.Zero(t, tr.attempts())

	v, err := add.Call(context.Background(), int32(2), int32(3))
	require.NoError(t, err)
	assert.Equal(t, int32(5), v)
	assert.Equal(t, []jsontext.Value{jsontext.Value("2"), jsontext.Value("3")}, tr.sent[0].Params)

	_, err = add.Call(context.Background(), int32(2), int32(3))
	assert.Equal(t, KindBadResponse, KindOf(err))

	assert.Panics(t, func() { p.MustMethod("wide", codec.Long) })
}

func TestInvokeContinuations(t *testing.T) {
	tr := &scriptedTransport{replies: []func(*Request) (*Reply, error){
		reply(http.StatusOK, `{"version":"1.1","result":"hi"}`),
		reply(http.StatusOK, `{"version":"1.1","error":{"name":"JSONRPCError","code":999,"message":"no"}}`),
	}}
	echo := NewProxy(tr).MustMethod("echo", codec.String, codec.String)

	results := make(chan any, 1)
	failures := make(chan error, 1)
	onSuccess := func(v any) { results <- v }
	onFailure := func(err error) { failures <- err }

	echo.Invoke(context.Background(), []any{"hi"}, onSuccess, onFailure)
	select {
	case v := <-results:
		assert.Equal(t, "hi", v)
	case err := <-failures:
		t.Fatalf("unexpected failure: %v", err)
	case <-time.After(time.Second):
		t.Fatal("no continuation ran")
	}

	echo.Invoke(context.Background(), []any{"hi"}, onSuccess, onFailure)
	select {
	case v := <-results:
		t.Fatalf("unexpected success: %v", v)
	case err := <-failures:
		assert.Equal(t, KindRemote, KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("no continuation ran")
	}

	// Arity errors are reported through onFailure as well.
	echo.Invoke(context.Background(), nil, onSuccess, onFailure)
	select {
	case err := <-failures:
		assert.ErrorContains(t, err, "takes 1 parameters")
	case <-time.After(time.Second):
		t.Fatal("no continuation ran")
	}
	assert.Equal(t, 2, tr.attempts())
}

func TestProxyAgainstDispatcher(t *testing.T) {
	d, s := newTestDispatcher(t)
	srv := httptest.NewServer(d)
	defer srv.Close()

	p, err := Dial(srv.URL + testPath)
	require.NoError(t, err)
	defer p.Close()

	secure := p.MustMethod("secureEcho", codec.String, codec.String)
	v, err := secure.Call(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
	assert.NotEmpty(t, p.Token())
	assert.Equal(t, int32(1), s.calls.Load())

	// The cached token is good for later calls.
	v, err = secure.Call(context.Background(), "again")
	require.NoError(t, err)
	assert.Equal(t, "again", v)

	_, err = p.MustMethod("nope", codec.String).Call(context.Background())
	assert.Equal(t, KindMethodNotFound, KindOf(err))

	_, err = p.MustMethod("boom", nil).Call(context.Background())
	assert.Equal(t, KindInternal, KindOf(err))
	assert.ErrorContains(t, err, InternalErrorMessage)
}

func TestConcurrentCalls(t *testing.T) {
	d, s := newTestDispatcher(t)
	srv := httptest.NewServer(d)
	defer srv.Close()

	p, err := Dial(srv.URL+testPath, WithVersion(Version20))
	require.NoError(t, err)
	defer p.Close()
	echo := p.MustMethod("secureEcho", codec.String, codec.String)

	const n = 20
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			want := fmt.Sprintf("msg-%d", i)
			got, err := echo.Call(ctx, want)
			if err != nil {
				return err
			}
			if got != want {
				return fmt.Errorf("got %v, want %s", got, want)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(n), s.calls.Load())
}
