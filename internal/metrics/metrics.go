// Package metrics exposes the gateway's Prometheus collectors on a dedicated listener, kept off the client-facing
// port so load balancers and scrapers never touch the WebSocket surface.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's collectors.
type Metrics struct {
	registry *prometheus.Registry

	Connections     prometheus.Gauge
	Delivered       prometheus.Counter
	DroppedSends    prometheus.Counter
	RateLimited     *prometheus.CounterVec
	BusPublished    prometheus.Counter
	BusReceived     prometheus.Counter
	HandlerFailures *prometheus.CounterVec
}

// New registers all gateway collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_open_connections",
			Help: "Number of WebSocket connections currently owned by this instance.",
		}),
		Delivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_messages_delivered_total",
			Help: "Messages delivered to local sockets.",
		}),
		DroppedSends: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_sends_dropped_total",
			Help: "Local sends dropped because the socket buffer was full or the socket was gone.",
		}),
		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Client calls denied by the rate limiter.",
		}, []string{"kind"}),
		BusPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_bus_published_total",
			Help: "Messages published to the shared pub/sub topic.",
		}),
		BusReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_bus_received_total",
			Help: "Messages received from the shared pub/sub topic, own echoes excluded.",
		}),
		HandlerFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_handler_failures_total",
			Help: "Hub handler invocations that ended in a logged failure.",
		}, []string{"hub"}),
	}
}

// Serve runs the metrics listener until the context is cancelled. A port of 0 disables the listener.
func (m *Metrics) Serve(ctx context.Context, port int) error {
	if port == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}
