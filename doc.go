// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package jsonrpc is a JSON RPC layer between a browser client and an
// application server, with XSRF protection built into the call protocol.
//
// # Wire format
//
// A request is a single JSON object posted to the endpoint:
//
//	{"version":"1.1","method":"echo","params":["hi"],"xsrfKey":"..."}
//
// and the server answers with either a result or an error:
//
//	{"version":"1.1","result":"hi"}
//	{"version":"1.1","xsrfKey":"...","error":{"name":"JSONRPCError","code":999,"message":"..."}}
//
// Envelopes carrying "jsonrpc":"2.0" instead of "version":"1.1" are accepted
// as well and answered in the 2.0 form. Cross site methods may also be
// called with GET as ?method=m&param0=...&callback=fn, in which case the
// answer is the JSONP body fn(result);.
//
// # Tokens
//
// Unless a method allows cross site requests, every call must carry a token
// issued by the server for the caller's identity and the endpoint path (see
// package xsrf). A call with a missing or stale token fails with
// InvalidTokenMessage and the response carries a fresh token; Proxy caches
// it and retries the call once.
//
// # Usage
//
// Server usage:
//
//	server, err := jsonrpc.Listen("127.0.0.1:9000", jsonrpc.WithLogger(log))
//	if err != nil {
//	    return err
//	}
//	server.Register(jsonrpc.MethodDescriptor{
//	    Name:    "echo",
//	    Params:  []*codec.Type{codec.String},
//	    Result:  codec.String,
//	    Handler: jsonrpc.Sync(func(ctx context.Context, params []any) (any, error) {
//	        return params[0], nil
//	    }),
//	})
//	server.Serve(ctx)
//
// Client usage:
//
//	proxy, err := jsonrpc.Dial("http://127.0.0.1:9000/")
//	if err != nil {
//	    return err
//	}
//	echo := proxy.MustMethod("echo", codec.String, codec.String)
//	out, err := echo.Call(ctx, "hi")
//
// # Architecture
//
//   - codec: type descriptors and the serializers derived from them
//   - xsrf: signed, expiring tokens
//   - codec.go: request and response envelopes
//   - server.go: the Dispatcher and its HTTP handler
//   - client.go: the Proxy and typed Method stubs
//   - transport.go, json.go: the Transport registry and the HTTP transport
//   - dial.go: Listen and Dial
package jsonrpc
