// Package metrics exposes Prometheus instrumentation for the helpdesk service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"helpdesk/pkg/logx"
)

//nolint:gochecknoglobals // Prometheus collectors are package-level by convention
var (
	TurnsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_turns_processed_total",
		Help: "Conversation turns processed, by outcome.",
	}, []string{"outcome"})

	TurnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "helpdesk_turn_duration_seconds",
		Help:    "End-to-end latency of a conversation turn.",
		Buckets: prometheus.DefBuckets,
	})

	IncidentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "helpdesk_incidents_created_total",
		Help: "Incident records created.",
	})

	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_status_transitions_total",
		Help: "Incident status transitions, by from/to status and actor.",
	}, []string{"from", "to", "actor"})

	RetrievalResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_retrieval_results_total",
		Help: "KB retrievals, by result (match, no_match, error).",
	}, []string{"result"})

	ReindexTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_kb_reindex_total",
		Help: "KB reindex operations, by result.",
	}, []string{"result"})

	KBEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helpdesk_kb_entries",
		Help: "Entries in the live KB index snapshot.",
	})

	LLMCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "helpdesk_llm_calls_total",
		Help: "LLM completion calls, by result.",
	}, []string{"result"})

	LLMCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "helpdesk_llm_call_duration_seconds",
		Help:    "Latency of LLM completion calls, including internal retries.",
		Buckets: prometheus.DefBuckets,
	})

	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "helpdesk_active_sessions",
		Help: "Live conversation sessions.",
	})
)

// Serve starts the metrics HTTP endpoint on addr in a background goroutine.
func Serve(addr string) {
	logger := logx.NewLogger("metrics")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("📈 Metrics listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed: %v", err)
		}
	}()
}

// ObserveTurn records one processed turn with its outcome and duration.
func ObserveTurn(outcome string, start time.Time) {
	TurnsProcessed.WithLabelValues(outcome).Inc()
	TurnDuration.Observe(time.Since(start).Seconds())
}
