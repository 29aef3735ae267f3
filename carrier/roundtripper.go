// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package carrier

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
)

// RoundTripper captures exchanges made through Go's net/http. It is the
// interception shim for Go clients: it drives a Carrier through the
// same four callbacks a native HTTP hook would.
//
//	client := &http.Client{Transport: &carrier.RoundTripper{Registry: registry}}
type RoundTripper struct {
	Registry *Registry

	// Next performs the request. Nil selects http.DefaultTransport.
	Next http.RoundTripper
}

func (t *RoundTripper) RoundTrip(request *http.Request) (*http.Response, error) {
	next := t.Next
	if next == nil {
		next = http.DefaultTransport
	}

	body, err := t.captureRequestBody(request)
	if err != nil {
		return nil, err
	}

	c := t.Registry.Start(Request{
		URL:     request.URL.String(),
		Method:  request.Method,
		Headers: flattenHeader(request.Header),
	})
	c.SetRequestBody(body)

	response, err := next.RoundTrip(request)
	if err != nil {
		c.Finish(err)
		return nil, err
	}
	c.ReceiveResponse(response.StatusCode, flattenHeader(response.Header))
	if response.Body == nil || response.Body == http.NoBody {
		c.Finish(nil)
		return response, nil
	}
	response.Body = &bodyTap{body: response.Body, carrier: c}
	return response, nil
}

// captureRequestBody copies the request body without consuming the
// one the next round tripper reads.
func (t *RoundTripper) captureRequestBody(request *http.Request) ([]byte, error) {
	if request.Body == nil || request.Body == http.NoBody {
		return nil, nil
	}
	if request.GetBody != nil {
		reader, err := request.GetBody()
		if err != nil {
			return nil, err
		}
		defer reader.Close()
		return io.ReadAll(io.LimitReader(reader, int64(t.Registry.maxBody)))
	}
	data, err := io.ReadAll(request.Body)
	request.Body.Close()
	if err != nil {
		return nil, err
	}
	request.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// bodyTap feeds response bytes to the carrier as the caller reads them
// and finishes it at EOF, on a read error, or on Close.
type bodyTap struct {
	body    io.ReadCloser
	carrier *Carrier
	once    sync.Once
}

func (b *bodyTap) Read(p []byte) (int, error) {
	n, err := b.body.Read(p)
	if n > 0 {
		b.carrier.ReceiveData(p[:n])
	}
	switch {
	case errors.Is(err, io.EOF):
		b.finish(nil)
	case err != nil:
		b.finish(err)
	}
	return n, err
}

func (b *bodyTap) Close() error {
	err := b.body.Close()
	b.finish(nil)
	return err
}

func (b *bodyTap) finish(err error) {
	b.once.Do(func() { b.carrier.Finish(err) })
}

func flattenHeader(header http.Header) map[string]string {
	if len(header) == 0 {
		return nil
	}
	flat := make(map[string]string, len(header))
	for name, values := range header {
		flat[name] = strings.Join(values, ", ")
	}
	return flat
}
