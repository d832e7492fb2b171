package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets, // [0.005..10]
		},
		[]string{"method", "path", "status"},
	)
)

// Chain metrics
var (
	txTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_transactions_total",
			Help: "Executed transactions by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	txDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "access_transaction_duration_seconds",
			Help:    "Transaction execution latency including commit.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method"},
	)

	blockHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "access_block_height",
		Help: "Height of the block currently being produced.",
	})

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_events_total",
			Help: "Committed module events by name.",
		},
		[]string{"event"},
	)

	ready = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "access_ready",
		Help: "1 when the last readiness probe succeeded.",
	})
)

var initOnce sync.Once

// Init registers every metric in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			txTotal, txDuration, blockHeight, eventsTotal, ready,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTx records one executed transaction. outcome is "ok" or an error kind.
func ObserveTx(method, outcome string, d time.Duration) {
	txTotal.WithLabelValues(method, outcome).Inc()
	txDuration.WithLabelValues(method).Observe(d.Seconds())
}

// SetBlockHeight publishes the current block number.
func SetBlockHeight(n uint64) {
	blockHeight.Set(float64(n))
}

// SetReady records the outcome of a readiness probe.
func SetReady(ok bool) {
	if ok {
		ready.Set(1)
		return
	}
	ready.Set(0)
}

// CountEvent increments the committed-event counter.
func CountEvent(name string) {
	eventsTotal.WithLabelValues(name).Inc()
}

// Instrument measures RPS, latency and in-flight requests.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath collapses path parameters so label cardinality stays bounded:
// hex addresses and hashes become :hex, numeric ids become :id.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	segs := strings.Split(strings.Trim(p, "/"), "/")
	for i, s := range segs {
		switch {
		case strings.HasPrefix(s, "0x") && len(s) > 2:
			segs[i] = ":hex"
		case isDigits(s):
			segs[i] = ":id"
		}
	}
	return "/" + strings.Join(segs, "/")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
