// Copyright (c) 2025-present Marginalia Contributors. All Rights Reserved.
// See LICENSE.txt for license information.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	MetricsNamespace            = "marginalia"
	MetricsSubsystemSystem      = "system"
	MetricsSubsystemHTTP        = "http"
	MetricsSubsystemAPI         = "api"
	MetricsSubsystemLLM         = "llm"
	MetricsSubsystemAnnotations = "annotations"

	MetricsVersionLabel = "version"
)

type Metrics interface {
	GetRegistry() *prometheus.Registry

	ObserveAPIEndpointDuration(handler, method, statusCode string, elapsed float64)

	IncrementHTTPRequests()
	IncrementHTTPErrors()

	IncrementAnnotationCreates()
	IncrementAnnotationUpdates()
	IncrementAnnotationDeletes()
	IncrementSelectionResolutions(outcome string)
	IncrementSessionTransitions(state string)

	ObserveTokenUsage(assistantName, conversationID string, inputTokens, outputTokens int)
}

type InstanceInfo struct {
	Version string
}

// metrics used to instrumentate metrics in prometheus.
type metrics struct {
	registry *prometheus.Registry

	serverStartTime prometheus.Gauge
	serverInfo      prometheus.Gauge

	apiTime *prometheus.HistogramVec

	httpRequestsTotal prometheus.Counter
	httpErrorsTotal   prometheus.Counter

	annotationCreatesTotal prometheus.Counter
	annotationUpdatesTotal prometheus.Counter
	annotationDeletesTotal prometheus.Counter

	selectionResolutionsTotal *prometheus.CounterVec
	sessionTransitionsTotal   *prometheus.CounterVec

	llmInputTokensTotal  *prometheus.CounterVec
	llmOutputTokensTotal *prometheus.CounterVec
}

// NewMetrics Factory method to create a new metrics collector.
func NewMetrics(info InstanceInfo) Metrics {
	m := &metrics{}

	m.registry = prometheus.NewRegistry()
	options := collectors.ProcessCollectorOpts{
		Namespace: MetricsNamespace,
	}
	m.registry.MustRegister(collectors.NewProcessCollector(options))
	m.registry.MustRegister(collectors.NewGoCollector())

	m.serverStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "server_start_timestamp_seconds",
		Help:      "The time the server started.",
	})
	m.serverStartTime.SetToCurrentTime()
	m.registry.MustRegister(m.serverStartTime)

	m.serverInfo = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "server_info",
		Help:      "The server version.",
		ConstLabels: map[string]string{
			MetricsVersionLabel: info.Version,
		},
	})
	m.serverInfo.Set(1)
	m.registry.MustRegister(m.serverInfo)

	m.apiTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystemAPI,
			Name:      "time_seconds",
			Help:      "Time to execute the api handler",
		},
		[]string{"handler", "method", "status_code"},
	)
	m.registry.MustRegister(m.apiTime)

	m.httpRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemHTTP,
		Name:      "requests_total",
		Help:      "The total number of http API requests.",
	})
	m.registry.MustRegister(m.httpRequestsTotal)

	m.httpErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemHTTP,
		Name:      "errors_total",
		Help:      "The total number of http API errors.",
	})
	m.registry.MustRegister(m.httpErrorsTotal)

	m.annotationCreatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemAnnotations,
		Name:      "creates_total",
		Help:      "The total number of annotations created.",
	})
	m.registry.MustRegister(m.annotationCreatesTotal)

	m.annotationUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemAnnotations,
		Name:      "updates_total",
		Help:      "The total number of annotation note updates.",
	})
	m.registry.MustRegister(m.annotationUpdatesTotal)

	m.annotationDeletesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemAnnotations,
		Name:      "deletes_total",
		Help:      "The total number of annotations deleted.",
	})
	m.registry.MustRegister(m.annotationDeletesTotal)

	m.selectionResolutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemAnnotations,
		Name:      "selection_resolutions_total",
		Help:      "The total number of selection snapshot resolutions by outcome.",
	}, []string{"outcome"})
	m.registry.MustRegister(m.selectionResolutionsTotal)

	m.sessionTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemAnnotations,
		Name:      "session_transitions_total",
		Help:      "The total number of selection session transitions by resulting state.",
	}, []string{"state"})
	m.registry.MustRegister(m.sessionTransitionsTotal)

	m.llmInputTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemLLM,
		Name:      "input_tokens_total",
		Help:      "The total number of input tokens consumed by LLM requests.",
	}, []string{"assistant_name"})
	m.registry.MustRegister(m.llmInputTokensTotal)

	m.llmOutputTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemLLM,
		Name:      "output_tokens_total",
		Help:      "The total number of output tokens consumed by LLM requests.",
	}, []string{"assistant_name"})
	m.registry.MustRegister(m.llmOutputTokensTotal)

	return m
}

func (m *metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *metrics) ObserveAPIEndpointDuration(handler, method, statusCode string, elapsed float64) {
	if m != nil {
		m.apiTime.With(prometheus.Labels{"handler": handler, "method": method, "status_code": statusCode}).Observe(elapsed)
	}
}

func (m *metrics) IncrementHTTPRequests() {
	if m != nil {
		m.httpRequestsTotal.Inc()
	}
}

func (m *metrics) IncrementHTTPErrors() {
	if m != nil {
		m.httpErrorsTotal.Inc()
	}
}

func (m *metrics) IncrementAnnotationCreates() {
	if m != nil {
		m.annotationCreatesTotal.Inc()
	}
}

func (m *metrics) IncrementAnnotationUpdates() {
	if m != nil {
		m.annotationUpdatesTotal.Inc()
	}
}

func (m *metrics) IncrementAnnotationDeletes() {
	if m != nil {
		m.annotationDeletesTotal.Inc()
	}
}

func (m *metrics) IncrementSelectionResolutions(outcome string) {
	if m != nil {
		m.selectionResolutionsTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
	}
}

func (m *metrics) IncrementSessionTransitions(state string) {
	if m != nil {
		m.sessionTransitionsTotal.With(prometheus.Labels{"state": state}).Inc()
	}
}

func (m *metrics) ObserveTokenUsage(assistantName, conversationID string, inputTokens, outputTokens int) {
	if m == nil {
		return
	}

	// conversationID is ignored as a label to keep cardinality bounded; it is
	// kept in the signature for interface compatibility with logging.
	if assistantName == "" {
		assistantName = "unknown"
	}

	labels := prometheus.Labels{
		"assistant_name": assistantName,
	}

	if inputTokens > 0 {
		m.llmInputTokensTotal.With(labels).Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.llmOutputTokensTotal.With(labels).Add(float64(outputTokens))
	}
}
