// Package metrics exports Prometheus metrics for browser sessions and
// agent runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/entrhq/browseruse/pkg/eventbus"
	"github.com/entrhq/browseruse/pkg/events"
	"github.com/entrhq/browseruse/pkg/llm"
	"github.com/entrhq/browseruse/pkg/logging"
)

// Collector records bus dispatches and agent runs.
type Collector struct {
	dispatchesTotal  *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	handlerResults   *prometheus.CounterVec
	browserErrors    *prometheus.CounterVec
	openTabs         prometheus.Gauge
	activeClaims     prometheus.Gauge
	agentRunsTotal   *prometheus.CounterVec
	agentSteps       prometheus.Histogram
	agentRunDuration prometheus.Histogram
	llmTokensUsed    *prometheus.CounterVec

	gatherer prometheus.Gatherer
	logger   *logging.Logger
}

// NewCollector registers the collector's metrics with reg. A nil reg uses
// a fresh registry, which keeps tests independent of the global one.
func NewCollector(namespace string, reg *prometheus.Registry, logger *logging.Logger) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if logger == nil {
		logger = logging.Nop()
	}
	factory := promauto.With(reg)

	return &Collector{
		gatherer: reg,
		logger:   logger,

		dispatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_dispatches_total",
				Help:      "Total number of event bus dispatches",
			},
			[]string{"event_type", "status"},
		),
		dispatchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "event_dispatch_duration_seconds",
				Help:      "Time from dispatch until every handler settled",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"event_type"},
		),
		handlerResults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_handler_results_total",
				Help:      "Handler executions by outcome",
			},
			[]string{"event_type", "status"},
		),
		browserErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "browser_errors_total",
				Help:      "Classified browser errors reported on the bus",
			},
			[]string{"error_type"},
		),
		openTabs: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_open_tabs",
			Help:      "Tabs currently tracked by observed sessions",
		}),
		activeClaims: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_active_claims",
			Help:      "Agents currently holding a session claim",
		}),
		agentRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_runs_total",
				Help:      "Finished agent runs by stop reason",
			},
			[]string{"stop_reason"},
		),
		agentSteps: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_steps",
			Help:      "Steps taken per agent run",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		}),
		agentRunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_duration_seconds",
			Help:      "Agent run duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		llmTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_tokens_used_total",
				Help:      "Tokens used by agent runs",
			},
			[]string{"kind"},
		),
	}
}

// Observe records one finished dispatch. It has the shape of an
// eventbus.Observer, so it can be passed to eventbus.WithObserver.
func (c *Collector) Observe(r *eventbus.DispatchResult) {
	if r == nil || r.Event == nil {
		return
	}
	eventType := r.Event.Type

	c.dispatchesTotal.WithLabelValues(eventType, string(r.Status)).Inc()
	c.dispatchDuration.WithLabelValues(eventType).Observe(r.Duration.Seconds())
	for _, hr := range r.HandlerResults {
		c.handlerResults.WithLabelValues(eventType, string(hr.Status)).Inc()
	}

	switch eventType {
	case events.TypeBrowserError:
		if payload, ok := eventbus.PayloadAs[events.BrowserErrorEvent](r.Event); ok {
			c.browserErrors.WithLabelValues(string(payload.ErrorType)).Inc()
		}
	case events.TypeTabCreated:
		c.openTabs.Inc()
	case events.TypeTabClosed:
		c.openTabs.Dec()
	case events.TypeAgentClaimed:
		c.activeClaims.Inc()
	case events.TypeAgentReleased:
		c.activeClaims.Dec()
	case events.TypeBrowserStopped:
		c.openTabs.Set(0)
	}
}

// RecordRun records a finished agent run.
func (c *Collector) RecordRun(stopReason string, steps int, duration time.Duration, usage llm.Usage) {
	c.agentRunsTotal.WithLabelValues(stopReason).Inc()
	c.agentSteps.Observe(float64(steps))
	c.agentRunDuration.Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues("prompt").Add(float64(usage.PromptTokens))
	c.llmTokensUsed.WithLabelValues("completion").Add(float64(usage.CompletionTokens))
	c.llmTokensUsed.WithLabelValues("cached").Add(float64(usage.CachedTokens))
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		c.logger.Infof("Metrics server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			c.logger.Warnf("Metrics server shutdown: %v", err)
			return err
		}
		return nil
	}
}
