// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/jsonrpc/codec"
)

func TestListenDialRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server, err := Listen("127.0.0.1:0", WithPath(testPath), WithRegistry(codec.NewRegistry()))
	require.NoError(t, err)
	defer server.Close()

	s := &testService{}
	require.NoError(t, server.Register(s.methods()...))
	assert.Contains(t, server.Dispatcher().Methods(), "echo")

	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx) }()

	client, err := Dial(server.URL())
	require.NoError(t, err)
	defer client.Close()

	echo := client.MustMethod("echo", codec.String, codec.String)
	v, err := echo.Call(ctx, "hello world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", v)

	add := client.MustMethod("add", codec.Int, codec.Int, codec.Int)
	v, err = add.Call(ctx, int32(2), int32(40))
	require.NoError(t, err)
	assert.Equal(t, int32(42), v)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestDialUnknownScheme(t *testing.T) {
	_, err := Dial("carrier-pigeon://example")
	assert.ErrorContains(t, err, "unknown transport")

	_, err = Dial("://bad")
	assert.Error(t, err)
}

// memTransport serves envelopes straight from a dispatcher without a
// network.
type memTransport struct {
	path    string
	handler http.Handler
}

func (m *memTransport) RoundTrip(_ context.Context, out *Outbound) (*Reply, error) {
	req := httptest.NewRequest(http.MethodPost, m.path, bytes.NewReader(out.Body))
	for k, vs := range out.Header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", responseJSON)
	req.Header.Set("Accept", contentTypeJSON)
	rec := httptest.NewRecorder()
	m.handler.ServeHTTP(rec, req)
	res := rec.Result()
	defer CleanlyCloseBody(res.Body)
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return &Reply{Status: res.StatusCode, Header: res.Header, Body: body}, nil
}

func (*memTransport) Close() error { return nil }

func TestRegisterTransport(t *testing.T) {
	d, s := newTestDispatcher(t)
	RegisterTransport("mem", func(u *url.URL, _ *http.Client) (Transport, error) {
		return &memTransport{path: u.Path, handler: d}, nil
	})

	assert.True(t, HasTransport("mem"))
	assert.True(t, HasTransport("https"))
	assert.False(t, HasTransport("carrier-pigeon"))
	assert.Contains(t, AvailableTransports(), "mem")

	p, err := Dial("mem://local" + testPath)
	require.NoError(t, err)
	v, err := p.MustMethod("secureEcho", codec.String, codec.String).Call(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "x", v)
	assert.Equal(t, int32(1), s.calls.Load())
}

func TestDialWithTransport(t *testing.T) {
	d, _ := newTestDispatcher(t)
	// The URL is ignored when a transport is given.
	p, err := Dial("", WithTransport(&memTransport{path: testPath, handler: d}))
	require.NoError(t, err)
	v, err := p.MustMethod("echo", codec.String, codec.String).Call(context.Background(), "direct")
	require.NoError(t, err)
	assert.Equal(t, "direct", v)
}

func BenchmarkEcho(b *testing.B) {
	d, err := NewDispatcher(WithRegistry(codec.NewRegistry()))
	if err != nil {
		b.Fatal(err)
	}
	s := &testService{}
	d.MustRegister(s.methods()...)
	srv := httptest.NewServer(d)
	defer srv.Close()

	p, err := Dial(srv.URL + testPath)
	if err != nil {
		b.Fatal(err)
	}
	defer p.Close()
	echo := p.MustMethod("echo", codec.String, codec.String)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := echo.Call(ctx, "hello world"); err != nil {
			b.Fatal(err)
		}
	}
}
