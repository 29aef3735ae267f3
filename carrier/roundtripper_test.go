// Copyright 2026 The Snag Authors
// SPDX-License-Identifier: Apache-2.0

package carrier

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/thanhcuong1990/Snag-sub000/protocol"
)

func TestRoundTripperCapturesExchange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Echo-Length", "5")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte("echo:" + string(body)))
	}))
	defer server.Close()

	sink := &recordingSink{}
	// The test server listens on loopback, which the default policy
	// would flag skip-body.
	registry := NewRegistry(Config{Sink: sink, SkipBody: func(*url.URL) bool { return false }})
	client := &http.Client{Transport: &RoundTripper{Registry: registry}}

	response, err := client.Post(server.URL+"/items", "text/plain", strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	data, err := io.ReadAll(response.Body)
	response.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(data) != "echo:hello" {
		t.Fatalf("caller saw body %q; the tap must not alter it", data)
	}

	snapshots := sink.snapshots()
	if len(snapshots) != 3 {
		t.Fatalf("got %d snapshots, want 3", len(snapshots))
	}
	last := snapshots[2].RequestInfo
	if last.StatusCode != "202" || last.Method != "POST" {
		t.Errorf("terminal = %+v", last)
	}
	if string(last.RequestBody) != "hello" || string(last.ResponseData) != "echo:hello" {
		t.Errorf("bodies = %q / %q", last.RequestBody, last.ResponseData)
	}
	if last.ResponseHeaders["X-Echo-Length"] != "5" {
		t.Errorf("response headers = %v", last.ResponseHeaders)
	}
	if registry.Active() != 0 {
		t.Errorf("active = %d", registry.Active())
	}
}

func TestRoundTripperTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	address := server.URL
	server.Close()

	sink := &recordingSink{}
	registry := NewRegistry(Config{Sink: sink})
	client := &http.Client{Transport: &RoundTripper{Registry: registry}}
	if _, err := client.Get(address); err == nil {
		t.Fatal("expected error from closed server")
	}
	snapshots := sink.snapshots()
	if len(snapshots) != 2 || snapshots[1].RequestInfo.StatusCode != protocol.StatusError {
		t.Fatalf("snapshots = %+v", snapshots)
	}
}
