package metrics

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "signflow",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signflow",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "signflow",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	requestTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signflow",
			Subsystem: "signatures",
			Name:      "transitions_total",
			Help:      "Signature request status transitions.",
		},
		[]string{"from", "to"},
	)

	participantActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signflow",
			Subsystem: "signatures",
			Name:      "participant_actions_total",
			Help:      "Participant actions (viewed, signed, approved, declined).",
		},
		[]string{"action"},
	)

	stampDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "signflow",
			Subsystem: "signatures",
			Name:      "stamp_duration_seconds",
			Help:      "Time spent stamping completed documents.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "signflow",
			Subsystem: "notifications",
			Name:      "deliveries_total",
			Help:      "Outbox delivery attempts by result (sent, retried, failed, bounced).",
		},
		[]string{"kind", "result"},
	)

	uploadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "signflow",
			Subsystem: "documents",
			Name:      "upload_bytes",
			Help:      "Size of uploaded documents.",
			Buckets:   prometheus.ExponentialBuckets(16*1024, 4, 8), // 16KiB to ~256MiB
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		requestTransitions,
		participantActions,
		stampDuration,
		deliveries,
		uploadBytes,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

// RecordTransition counts a signature request status change.
func RecordTransition(from, to string) {
	requestTransitions.WithLabelValues(from, to).Inc()
}

// RecordParticipantAction counts a participant action.
func RecordParticipantAction(action string) {
	participantActions.WithLabelValues(action).Inc()
}

// ObserveStamp records how long stamping a completed document took.
func ObserveStamp(duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	stampDuration.Observe(duration.Seconds())
}

// RecordDelivery counts one outbox delivery outcome.
func RecordDelivery(kind, result string) {
	if kind == "" {
		kind = "unknown"
	}
	deliveries.WithLabelValues(kind, result).Inc()
}

// ObserveUpload records an uploaded document size.
func ObserveUpload(size int64) {
	uploadBytes.Observe(float64(size))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

// canonicalPath collapses ids so label cardinality stays bounded:
// /api/v1/orgs/<id>/documents/<id>/download becomes
// /api/v1/orgs/:org/documents/:id/download and signing links lose their token.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) < 3 || parts[0] != "api" {
		return "/" + parts[0]
	}

	out := []string{parts[0], parts[1]}
	rest := parts[2:]
	switch rest[0] {
	case "orgs":
		out = append(out, "orgs")
		if len(rest) > 1 {
			out = append(out, ":org")
		}
		if len(rest) > 2 {
			out = append(out, rest[2])
		}
		if len(rest) > 3 {
			out = append(out, ":id")
		}
		if len(rest) > 4 {
			out = append(out, rest[4])
		}
	case "sign":
		out = append(out, "sign")
		if len(rest) > 1 {
			out = append(out, ":token")
		}
		if len(rest) > 2 {
			out = append(out, rest[2])
		}
	default:
		out = append(out, rest...)
	}
	return "/" + strings.Join(out, "/")
}
