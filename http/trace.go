// SPDX-License-Identifier: Apache-2.0

package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptrace"
	"net/http/httputil"
	"strings"
)

// HttpTrace records what the transport did for one request.  Attach it to
// the request context with [WithHttpTrace] before calling the client.
type HttpTrace struct {
	Requests      int    // requests sent to the server, including retries
	Authenticated bool   // a security context was established
	Package       string // package of the established context

	WaitedFor100Continue bool
	Seen100Continue      bool
}

type traceContextKey struct{}

func WithHttpTrace(ctx context.Context, trace *HttpTrace) context.Context {
	return context.WithValue(ctx, traceContextKey{}, trace)
}

func GetHttpTrace(ctx context.Context) *HttpTrace {
	trace, _ := ctx.Value(traceContextKey{}).(*HttpTrace)
	return trace
}

// instrument adds client trace hooks that fill in the request's HttpTrace
// and, with HTTP logging on, report connection events
func (t *NegotiateTransport) instrument(req *http.Request) *http.Request {
	trace := GetHttpTrace(req.Context())
	if trace == nil && !t.httpLogging {
		return req
	}

	wire := func(format string, args ...interface{}) {
		if t.httpLogging {
			t.logf("<> "+format, args...)
		}
	}

	ct := &httptrace.ClientTrace{
		Wait100Continue: func() {
			if trace != nil {
				trace.WaitedFor100Continue = true
			}
			wire("waiting for 100-continue")
		},
		Got100Continue: func() {
			if trace != nil {
				trace.Seen100Continue = true
			}
			wire("got 100-continue")
		},
	}

	if t.httpLogging {
		ct.GotConn = func(info httptrace.GotConnInfo) {
			wire("connection %v -> %v (reused: %t)", info.Conn.LocalAddr(), info.Conn.RemoteAddr(), info.Reused)
		}
		ct.WroteRequest = func(info httptrace.WroteRequestInfo) {
			if info.Err != nil {
				wire("writing request: %v", info.Err)
			}
		}
	}

	// hooks already in the context still run
	return req.WithContext(httptrace.WithClientTrace(req.Context(), ct))
}

// dumpRequest logs the request headers;  the body is not read
func (t *NegotiateTransport) dumpRequest(req *http.Request) error {
	b, err := httputil.DumpRequestOut(req, false)
	if err != nil {
		return fmt.Errorf("negotiate: dumping request: %w", err)
	}

	t.dumpLines(">", b)
	return nil
}

// dumpResponse logs the response including its body, which is buffered so
// the caller can still read it
func (t *NegotiateTransport) dumpResponse(resp *http.Response) error {
	b, err := httputil.DumpResponse(resp, true)
	if err != nil {
		return fmt.Errorf("negotiate: dumping response: %w", err)
	}

	t.dumpLines("<", b)
	return nil
}

func (t *NegotiateTransport) dumpLines(prefix string, b []byte) {
	for _, line := range strings.Split(strings.TrimRight(string(b), "\r\n"), "\n") {
		t.logf("%s %s", prefix, strings.TrimSuffix(line, "\r"))
	}
}
