// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jsonrpc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"
)

const defaultHTTPTimeout = 30 * time.Second

// newHTTPClient returns the client used when the caller supplies none.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultHTTPTimeout}
}

// CleanlyCloseBody drains and closes an HTTP response body to prevent
// HTTP/2 GOAWAY errors caused by closing bodies with unread data.
// See: https://github.com/golang/go/issues/46071
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// HTTPTransport posts envelopes to one endpoint. It makes a single attempt
// per RoundTrip; retrying is the proxy's business.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTPTransport returns a transport posting to endpoint. A nil client
// selects one with a 30 second timeout.
func NewHTTPTransport(endpoint string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = newHTTPClient()
	}
	return &HTTPTransport{endpoint: endpoint, client: client}
}

func newHTTPTransport(u *url.URL, client *http.Client) (Transport, error) {
	return NewHTTPTransport(u.String(), client), nil
}

// RoundTrip implements Transport. Any status is a reply; only a failure to
// get one is an error.
func (t *HTTPTransport) RoundTrip(ctx context.Context, out *Outbound) (*Reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(out.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, vs := range out.Header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", responseJSON)
	req.Header.Set("Accept", contentTypeJSON)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to issue request: %w", err)
	}
	defer CleanlyCloseBody(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Reply{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Close releases idle connections.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

// isJSON reports whether a Content-Type names JSON.
func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == contentTypeJSON
}
