// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
)

// Transport carries one request envelope to the server and returns the
// reply. A transport error means no reply was received.
type Transport interface {
	io.Closer
	RoundTrip(ctx context.Context, req *Outbound) (*Reply, error)
}

// Outbound is an encoded request and any extra headers to send with it.
type Outbound struct {
	Header http.Header
	Body   []byte
}

// Reply is what came back for an Outbound.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// TransportFactory builds a transport for an endpoint. client is nil unless
// the caller supplied one.
type TransportFactory func(u *url.URL, client *http.Client) (Transport, error)

var (
	transportsMu sync.RWMutex
	transports   = map[string]TransportFactory{
		"http":  newHTTPTransport,
		"https": newHTTPTransport,
	}
)

// RegisterTransport makes Dial use f for URLs with the given scheme.
func RegisterTransport(scheme string, f TransportFactory) {
	transportsMu.Lock()
	defer transportsMu.Unlock()
	transports[scheme] = f
}

// AvailableTransports returns the registered schemes in sorted order.
func AvailableTransports() []string {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	result := make([]string, 0, len(transports))
	for scheme := range transports {
		result = append(result, scheme)
	}
	sort.Strings(result)
	return result
}

// HasTransport checks if a scheme has a transport.
func HasTransport(scheme string) bool {
	_, ok := lookupTransport(scheme)
	return ok
}

func lookupTransport(scheme string) (TransportFactory, bool) {
	transportsMu.RLock()
	defer transportsMu.RUnlock()
	f, ok := transports[scheme]
	return f, ok
}
