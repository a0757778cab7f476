package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus collectors for the realtime and HTTP surfaces. Everything is
// registered on the default registry and exposed via /metrics.
var (
	ConnectionsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ethiogram_connections_opened_total",
		Help: "Websocket connections accepted.",
	})
	ConnectionsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ethiogram_connections_closed_total",
		Help: "Websocket connections closed.",
	})
	OpenConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ethiogram_open_connections",
		Help: "Websocket connections currently open.",
	})
	CommandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ethiogram_commands_total",
		Help: "Commands processed, by command type.",
	}, []string{"type"})
	CommandErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ethiogram_command_errors_total",
		Help: "Commands rejected, by error code.",
	}, []string{"code"})
	EventsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ethiogram_events_delivered_total",
		Help: "Event frames handed to connection write queues.",
	})
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ethiogram_events_dropped_total",
		Help: "Event frames dropped on saturated connections.",
	})
	MessagesStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ethiogram_messages_stored_total",
		Help: "Messages appended to the store.",
	})
	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ethiogram_http_request_duration_seconds",
		Help:    "HTTP request latency by path and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path", "status"})
)

// ConnOpened records a new websocket connection.
func ConnOpened() {
	ConnectionsOpened.Inc()
	OpenConnections.Inc()
}

// ConnClosed records a websocket connection teardown.
func ConnClosed() {
	ConnectionsClosed.Inc()
	OpenConnections.Dec()
}

// Command records a processed command.
func Command(cmdType string) { CommandsProcessed.WithLabelValues(cmdType).Inc() }

// CommandError records a rejected command by wire error code.
func CommandError(code string) { CommandErrors.WithLabelValues(code).Inc() }

// Middleware records HTTP latency for the read surface.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)
		httpDuration.WithLabelValues(r.URL.Path, strconv.Itoa(srw.status)).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
