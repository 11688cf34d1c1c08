package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/signflow/pkg/logger"
)

// TraceHeader carries the request trace id.
const TraceHeader = "X-Trace-ID"

// TracingMiddleware assigns a trace id, records the client address and logs
// every request.
type TracingMiddleware struct {
	logger         *logger.Logger
	trustForwarded bool
}

// NewTracingMiddleware creates the tracing middleware. When trustForwarded is
// set the client address is taken from X-Forwarded-For.
func NewTracingMiddleware(log *logger.Logger, trustForwarded bool) *TracingMiddleware {
	if log == nil {
		log = logger.NewDefault("http")
	}
	return &TracingMiddleware{logger: log, trustForwarded: trustForwarded}
}

// Handler returns the tracing middleware handler.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" || len(traceID) > 128 {
			traceID = logger.NewTraceID()
		}
		ctx := logger.WithTraceID(r.Context(), traceID)
		ctx = logger.WithClientIP(ctx, m.clientIP(r))
		w.Header().Set(TraceHeader, traceID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		r = r.WithContext(ctx)
		next.ServeHTTP(rw, r)

		// The auth middleware enriches the request further down; log with
		// what this layer knows.
		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}

func (m *TracingMiddleware) clientIP(r *http.Request) string {
	if m.trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			return strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades through.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	rw.written = true
	return h.Hijack()
}

// Flush supports streaming downloads.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
